package model

import (
	"math"
	"strings"
)

// Size is a width/height pair in screen pixels.
type Size struct {
	Width  int `yaml:"width"  json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// Point is a pixel position in screen coordinates.
type Point struct {
	X int `yaml:"x" json:"x"`
	Y int `yaml:"y" json:"y"`
}

// BBox is a pixel rectangle [x1, y1, x2, y2] in screen coordinates.
type BBox [4]int

// Center returns the integer midpoint of the box.
func (b BBox) Center() Point {
	return Point{X: (b[0] + b[2]) / 2, Y: (b[1] + b[3]) / 2}
}

// Width returns x2-x1.
func (b BBox) Width() int { return b[2] - b[0] }

// Height returns y2-y1.
func (b BBox) Height() int { return b[3] - b[1] }

// Offset translates the box by (dx, dy).
func (b BBox) Offset(dx, dy int) BBox {
	return BBox{b[0] + dx, b[1] + dy, b[2] + dx, b[3] + dy}
}

// Within reports whether the box lies entirely inside [0,w]x[0,h].
func (b BBox) Within(s Size) bool {
	return b[0] >= 0 && b[1] >= 0 && b[2] <= s.Width && b[3] <= s.Height &&
		b[0] <= b[2] && b[1] <= b[3]
}

// ScaleBBox converts a normalized [0,1] box into pixels for a screen of the
// given size. Values above 1 are treated as already being pixels. The result
// is clamped to the screen and ordered so x1<=x2, y1<=y2.
func ScaleBBox(norm [4]float64, s Size) BBox {
	normalized := true
	for _, v := range norm {
		if v > 1 {
			normalized = false
			break
		}
	}
	var out BBox
	for i, v := range norm {
		limit := s.Width
		if i%2 == 1 {
			limit = s.Height
		}
		px := v
		if normalized {
			px = v * float64(limit)
		}
		out[i] = clamp(int(math.Round(px)), 0, limit)
	}
	if out[0] > out[2] {
		out[0], out[2] = out[2], out[0]
	}
	if out[1] > out[3] {
		out[1], out[3] = out[3], out[1]
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// UIElement is one detected element of a parsed screen. IDs are only
// meaningful within the ParsedScreen that produced them.
type UIElement struct {
	ID           int     `yaml:"id"                    json:"id"`
	Type         string  `yaml:"type"                  json:"type"`
	Content      string  `yaml:"content,omitempty"     json:"content,omitempty"`
	BBox         BBox    `yaml:"bbox,flow"             json:"bbox"`
	Center       Point   `yaml:"center"                json:"center"`
	Confidence   float64 `yaml:"confidence,omitempty"  json:"confidence,omitempty"`
	Interactable bool    `yaml:"interactable"          json:"interactable"`
}

// NewUIElement builds an element whose center is derived from bbox.
func NewUIElement(id int, kind, content string, bbox BBox, confidence float64, interactable bool) UIElement {
	return UIElement{
		ID:           id,
		Type:         kind,
		Content:      content,
		BBox:         bbox,
		Center:       bbox.Center(),
		Confidence:   confidence,
		Interactable: interactable,
	}
}

// MatchesText reports whether the element content matches text. Matching is
// case-insensitive; exact requires equality after trimming, otherwise a
// substring match is enough.
func (e UIElement) MatchesText(text string, exact bool) bool {
	want := strings.ToLower(strings.TrimSpace(text))
	got := strings.ToLower(strings.TrimSpace(e.Content))
	if want == "" {
		return true
	}
	if exact {
		return got == want
	}
	return strings.Contains(got, want)
}
