package platform

import (
	"image"

	"github.com/mj1618/portal-pilot/internal/model"
)

// Inputter simulates mouse and keyboard input on the local display that
// hosts the remote desktop client.
type Inputter interface {
	MoveMouse(x, y int) error
	Click(x, y int, button MouseButton, count int) error
	MouseDown(x, y int, button MouseButton) error
	MouseUp(x, y int, button MouseButton) error
	Scroll(x, y int, dx, dy int) error
	TypeText(text string, delayMs int) error
	// KeyPress taps a single named key (enter, tab, f5, a, ...).
	KeyPress(key string) error
	// KeyCombo presses modifiers plus one key, e.g. ["ctrl", "v"].
	KeyCombo(keys []string) error
}

// Screenshotter captures the framebuffer.
type Screenshotter interface {
	// ScreenSize returns the main display size in the same pixel space that
	// Inputter coordinates use.
	ScreenSize() (model.Size, error)

	// Capture grabs the full screen, or only region when non-nil. The image
	// is in Inputter pixel space with bounds starting at (0,0).
	Capture(region *Bounds) (image.Image, error)
}

// ClipboardManager reads and writes the system clipboard.
type ClipboardManager interface {
	GetText() (string, error)
	SetText(text string) error
	Clear() error
}
