package vision

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"time"

	"go.uber.org/zap"
)

// WarmUp sends a small blank image so the service loads its models before
// the first real parse. Failures are logged and never returned.
func (p *Parser) WarmUp(ctx context.Context) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	start := time.Now()
	if _, err := p.ParseImage(ctx, img); err != nil {
		p.logger.Warn("vision warm-up failed", zap.Error(err))
		return
	}
	p.logger.Info("vision warm-up complete", zap.Duration("elapsed", time.Since(start)))
}
