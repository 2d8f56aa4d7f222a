package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/mj1618/portal-pilot/internal/model"
	"github.com/mj1618/portal-pilot/internal/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeShooter struct {
	size    model.Size
	regions []*platform.Bounds
	err     error
}

func (f *fakeShooter) ScreenSize() (model.Size, error) { return f.size, nil }

func (f *fakeShooter) Capture(region *platform.Bounds) (image.Image, error) {
	f.regions = append(f.regions, region)
	if f.err != nil {
		return nil, f.err
	}
	w, h := f.size.Width, f.size.Height
	if region != nil {
		w, h = region.Width, region.Height
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 100, G: 150, B: 200, A: 255})
		}
	}
	return img, nil
}

func TestCapture_FullScreen(t *testing.T) {
	sh := &fakeShooter{size: model.Size{Width: 40, Height: 30}}
	s := NewSampler(sh, Options{})

	f, err := s.Capture(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, model.Size{Width: 40, Height: 30}, f.Size)
	assert.Equal(t, f.Size, f.ScreenSize)
	assert.Equal(t, image.Point{}, f.Origin)
	assert.Nil(t, sh.regions[0])
}

func TestCapture_RegionClampedAndUpscaled(t *testing.T) {
	sh := &fakeShooter{size: model.Size{Width: 40, Height: 30}}
	s := NewSampler(sh, Options{Upscale: 2})

	f, err := s.Capture(context.Background(), Options{Region: &platform.Bounds{X: 30, Y: 20, Width: 50, Height: 50}})
	require.NoError(t, err)
	assert.Equal(t, image.Pt(30, 20), f.Origin)
	assert.Equal(t, model.Size{Width: 10, Height: 10}, f.Size, "logical size stays in screen pixels")
	assert.Equal(t, 20, f.Image.Bounds().Dx(), "image is upscaled")
	require.NotNil(t, sh.regions[0])
	assert.Equal(t, platform.Bounds{X: 30, Y: 20, Width: 10, Height: 10}, *sh.regions[0])
}

func TestCapture_RegionOffScreen(t *testing.T) {
	s := NewSampler(&fakeShooter{size: model.Size{Width: 40, Height: 30}}, Options{})
	_, err := s.Capture(context.Background(), Options{Region: &platform.Bounds{X: 100, Y: 100, Width: 5, Height: 5}})
	assert.ErrorIs(t, err, ErrEmptyRegion)
}

func TestCapture_BackendError(t *testing.T) {
	boom := errors.New("no display")
	s := NewSampler(&fakeShooter{size: model.Size{Width: 4, Height: 4}, err: boom}, Options{})
	_, err := s.Capture(context.Background(), Options{})
	assert.ErrorIs(t, err, boom)
}

func TestCaptureRegions(t *testing.T) {
	s := NewSampler(&fakeShooter{size: model.Size{Width: 40, Height: 30}}, Options{})
	frames, err := s.CaptureRegions(context.Background(), []platform.Bounds{
		{X: 0, Y: 0, Width: 10, Height: 10},
		{X: 20, Y: 10, Width: 5, Height: 5},
	}, Options{})
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, image.Pt(20, 10), frames[1].Origin)
}

func TestDataURL(t *testing.T) {
	s := NewSampler(&fakeShooter{size: model.Size{Width: 4, Height: 4}}, Options{})
	f, err := s.Capture(context.Background(), Options{})
	require.NoError(t, err)
	url, err := f.DataURL()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
}

func TestContrastStretchesAroundMidGrey(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 100, G: 128, B: 200, A: 255})
	out := Contrast(img, 2).(*image.RGBA)
	c := out.RGBAAt(0, 0)
	assert.Equal(t, uint8(72), c.R)
	assert.Equal(t, uint8(128), c.G)
	assert.Equal(t, uint8(255), c.B, "clamped")
}

func TestEnhanceNoop(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	assert.Same(t, img, Enhance(img, 1, 1))
}

func TestAnnotateDrawsBoxes(t *testing.T) {
	sh := &fakeShooter{size: model.Size{Width: 40, Height: 30}}
	f, err := NewSampler(sh, Options{}).Capture(context.Background(), Options{})
	require.NoError(t, err)

	el := model.NewUIElement(3, "button", "OK", model.BBox{5, 5, 35, 25}, 1, true)
	out := Annotate(f, []model.UIElement{el})
	assert.Equal(t, boxColor, out.RGBAAt(5, 10))
	assert.Equal(t, boxColor, out.RGBAAt(34, 10))
}
