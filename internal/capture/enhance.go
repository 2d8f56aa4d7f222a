package capture

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// Enhance upscales img by factor (CatmullRom) and applies a linear contrast
// stretch. Factors <= 1 leave the respective step out.
func Enhance(img image.Image, upscale, contrast float64) image.Image {
	if upscale > 1 {
		img = Upscale(img, upscale)
	}
	if contrast > 1 {
		img = Contrast(img, contrast)
	}
	return img
}

// Upscale returns img enlarged by factor.
func Upscale(img image.Image, factor float64) image.Image {
	b := img.Bounds()
	w := int(math.Round(float64(b.Dx()) * factor))
	h := int(math.Round(float64(b.Dy()) * factor))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Contrast stretches each channel away from mid-grey by factor.
func Contrast(img image.Image, factor float64) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	var lut [256]uint8
	for i := range lut {
		v := (float64(i)-128)*factor + 128
		lut[i] = uint8(math.Max(0, math.Min(255, math.Round(v))))
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			dst.SetRGBA(x-b.Min.X, y-b.Min.Y, color.RGBA{R: lut[c.R], G: lut[c.G], B: lut[c.B], A: c.A})
		}
	}
	return dst
}
