package capture

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/mj1618/portal-pilot/internal/model"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	boxColor     = color.RGBA{R: 230, G: 20, B: 20, A: 255}
	labelColor   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	labelOutline = color.RGBA{R: 0, G: 0, B: 0, A: 220}
)

// Annotate draws each element's box and "[id]" label onto a copy of the
// frame image. Element boxes are in screen pixels; they are shifted by the
// frame origin and scaled to the (possibly upscaled) image.
func Annotate(f Frame, elements []model.UIElement) *image.RGBA {
	dst := toRGBA(f.Image)
	b := dst.Bounds()
	sx, sy := 1.0, 1.0
	if f.Size.Width > 0 {
		sx = float64(b.Dx()) / float64(f.Size.Width)
	}
	if f.Size.Height > 0 {
		sy = float64(b.Dy()) / float64(f.Size.Height)
	}

	for _, el := range elements {
		box := el.BBox.Offset(-f.Origin.X, -f.Origin.Y)
		r := image.Rect(
			int(float64(box[0])*sx), int(float64(box[1])*sy),
			int(float64(box[2])*sx), int(float64(box[3])*sy),
		).Add(b.Min)
		strokeRect(dst, r, boxColor)
		label(dst, fmt.Sprintf("[%d]", el.ID), r.Min.X+2, r.Min.Y+12)
	}
	return dst
}

func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	rgba := image.NewRGBA(b)
	draw.Draw(rgba, b, img, b.Min, draw.Src)
	return rgba
}

// strokeRect draws a one-pixel outline clipped to the image.
func strokeRect(img *image.RGBA, r image.Rectangle, c color.Color) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		img.Set(x, r.Min.Y, c)
		img.Set(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.Set(r.Min.X, y, c)
		img.Set(r.Max.X-1, y, c)
	}
}

// label draws text with a one-pixel outline; (x, y) is the baseline start.
func label(img *image.RGBA, text string, x, y int) {
	draw1 := func(dx, dy int, c color.Color) {
		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(c),
			Face: basicfont.Face7x13,
			Dot:  fixed.P(x+dx, y+dy),
		}
		d.DrawString(text)
	}
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			if dx != 0 || dy != 0 {
				draw1(dx, dy, labelOutline)
			}
		}
	}
	draw1(0, 0, labelColor)
}
