//go:build darwin && cgo

package darwin

/*
#cgo LDFLAGS: -framework CoreGraphics
#include <CoreGraphics/CoreGraphics.h>

static void cg_main_display_size(double *w, double *h) {
    CGRect r = CGDisplayBounds(CGMainDisplayID());
    *w = r.size.width;
    *h = r.size.height;
}
*/
import "C"

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"

	"github.com/mj1618/portal-pilot/internal/model"
	"github.com/mj1618/portal-pilot/internal/platform"
	"golang.org/x/image/draw"
)

// DarwinScreenshotter captures the main display with screencapture(1) and
// normalizes Retina captures back to point space so pixels line up with
// CGEvent coordinates.
type DarwinScreenshotter struct{}

// NewScreenshotter creates a new macOS screenshotter.
func NewScreenshotter() *DarwinScreenshotter {
	return &DarwinScreenshotter{}
}

// ScreenSize returns the main display size in points.
func (s *DarwinScreenshotter) ScreenSize() (model.Size, error) {
	var w, h C.double
	C.cg_main_display_size(&w, &h)
	size := model.Size{Width: int(w), Height: int(h)}
	if !size.Valid() {
		return size, fmt.Errorf("could not determine main display size")
	}
	return size, nil
}

// Capture grabs the whole display or one region of it.
func (s *DarwinScreenshotter) Capture(region *platform.Bounds) (image.Image, error) {
	f, err := os.CreateTemp("", "portal-pilot-*.png")
	if err != nil {
		return nil, fmt.Errorf("screenshot temp file: %w", err)
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	args := []string{"-x", "-t", "png"}
	if region != nil {
		args = append(args, "-R", region.String())
	}
	args = append(args, path)
	if out, err := exec.Command("screencapture", args...).CombinedOutput(); err != nil {
		return nil, fmt.Errorf("screencapture: %w: %s", err, out)
	}

	img, err := decodePNG(path)
	if err != nil {
		return nil, err
	}

	want := image.Rectangle{}
	if region != nil {
		want = image.Rect(0, 0, region.Width, region.Height)
	} else {
		size, err := s.ScreenSize()
		if err != nil {
			return nil, err
		}
		want = image.Rect(0, 0, size.Width, size.Height)
	}
	if img.Bounds().Size() == want.Size() {
		return img, nil
	}
	// Retina displays capture at 2x; scale down to points.
	dst := image.NewRGBA(want)
	draw.ApproxBiLinear.Scale(dst, want, img, img.Bounds(), draw.Src, nil)
	return dst, nil
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open screenshot: %w", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}
