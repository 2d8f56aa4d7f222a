// Package capture samples the remote-desktop framebuffer, optionally
// restricted to regions of interest and enhanced for small text.
package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/mj1618/portal-pilot/internal/model"
	"github.com/mj1618/portal-pilot/internal/platform"
)

// ErrEmptyRegion is returned when a region lies entirely off screen.
var ErrEmptyRegion = errors.New("region of interest is empty after clamping to the screen")

// Options control one capture.
type Options struct {
	// Region restricts the capture; nil means full screen.
	Region *platform.Bounds
	// Upscale enlarges the image before it is sent for parsing (1 = off).
	Upscale float64
	// Contrast stretches pixel values around mid-grey (1 = off).
	Contrast float64
}

// Frame is one sampled image. Size and Origin are in screen pixels; Image may
// be larger than Size when upscaled.
type Frame struct {
	Image      image.Image
	Origin     image.Point
	Size       model.Size
	ScreenSize model.Size
	CapturedAt time.Time
}

// PNG encodes the frame image.
func (f Frame) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, f.Image); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURL encodes the frame as a base64 PNG data URL.
func (f Frame) DataURL() (string, error) {
	data, err := f.PNG()
	if err != nil {
		return "", err
	}
	return EncodeDataURL(data), nil
}

// EncodeDataURL wraps PNG bytes in a data URL.
func EncodeDataURL(pngData []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData)
}

// Sampler captures frames through a platform screenshotter.
type Sampler struct {
	shooter  platform.Screenshotter
	defaults Options
}

// NewSampler returns a sampler whose captures start from defaults.
func NewSampler(shooter platform.Screenshotter, defaults Options) *Sampler {
	return &Sampler{shooter: shooter, defaults: defaults}
}

// Capture samples one frame. Zero enhancement values in opts fall back to
// the sampler defaults.
func (s *Sampler) Capture(ctx context.Context, opts Options) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if opts.Upscale == 0 {
		opts.Upscale = s.defaults.Upscale
	}
	if opts.Contrast == 0 {
		opts.Contrast = s.defaults.Contrast
	}
	if opts.Region == nil {
		opts.Region = s.defaults.Region
	}

	screen, err := s.shooter.ScreenSize()
	if err != nil {
		return Frame{}, fmt.Errorf("screen size: %w", err)
	}

	var region *platform.Bounds
	origin := image.Point{}
	size := screen
	if opts.Region != nil {
		clamped, err := ClampRegion(*opts.Region, screen)
		if err != nil {
			return Frame{}, err
		}
		region = &clamped
		origin = image.Pt(clamped.X, clamped.Y)
		size = model.Size{Width: clamped.Width, Height: clamped.Height}
	}

	img, err := s.shooter.Capture(region)
	if err != nil {
		return Frame{}, fmt.Errorf("capture: %w", err)
	}
	img = Enhance(img, opts.Upscale, opts.Contrast)

	return Frame{
		Image:      img,
		Origin:     origin,
		Size:       size,
		ScreenSize: screen,
		CapturedAt: time.Now(),
	}, nil
}

// CaptureRegions samples each region in turn.
func (s *Sampler) CaptureRegions(ctx context.Context, regions []platform.Bounds, opts Options) ([]Frame, error) {
	frames := make([]Frame, 0, len(regions))
	for i := range regions {
		o := opts
		o.Region = &regions[i]
		f, err := s.Capture(ctx, o)
		if err != nil {
			return nil, fmt.Errorf("region %d (%s): %w", i, regions[i], err)
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// ClampRegion intersects r with the screen.
func ClampRegion(r platform.Bounds, screen model.Size) (platform.Bounds, error) {
	clamped := r.Rect().Intersect(image.Rect(0, 0, screen.Width, screen.Height))
	if clamped.Empty() {
		return platform.Bounds{}, fmt.Errorf("%w: %s", ErrEmptyRegion, r)
	}
	return platform.BoundsFromRect(clamped), nil
}
