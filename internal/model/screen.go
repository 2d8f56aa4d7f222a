package model

import (
	"time"

	"github.com/google/uuid"
)

// ParsedScreen is an immutable snapshot of one vision parse.
type ParsedScreen struct {
	ID                string      `yaml:"id"                            json:"id"`
	Elements          []UIElement `yaml:"elements"                      json:"elements"`
	ScreenSize        Size        `yaml:"screen_size"                   json:"screen_size"`
	Timestamp         time.Time   `yaml:"timestamp"                     json:"timestamp"`
	Raw               string      `yaml:"raw,omitempty"                 json:"raw,omitempty"`
	AnnotatedImageRef string      `yaml:"annotated_image_ref,omitempty" json:"annotated_image_ref,omitempty"`
}

// NewParsedScreen stamps a fresh screen id and timestamp.
func NewParsedScreen(elements []UIElement, size Size, raw, annotated string) *ParsedScreen {
	return &ParsedScreen{
		ID:                uuid.NewString(),
		Elements:          elements,
		ScreenSize:        size,
		Timestamp:         time.Now(),
		Raw:               raw,
		AnnotatedImageRef: annotated,
	}
}

// Element looks up an element by id.
func (s *ParsedScreen) Element(id int) (UIElement, bool) {
	if s == nil {
		return UIElement{}, false
	}
	// ids are assigned sequentially, so try the direct index first
	if id >= 0 && id < len(s.Elements) && s.Elements[id].ID == id {
		return s.Elements[id], true
	}
	for _, el := range s.Elements {
		if el.ID == id {
			return el, true
		}
	}
	return UIElement{}, false
}

// Resolve looks up a reference, failing when it was produced by another
// screen.
func (s *ParsedScreen) Resolve(ref ElementRef) (UIElement, bool) {
	if s == nil || ref.ScreenID != s.ID {
		return UIElement{}, false
	}
	return s.Element(ref.ElementID)
}

// Ref returns a reference to element id bound to this screen.
func (s *ParsedScreen) Ref(id int) ElementRef {
	return ElementRef{ScreenID: s.ID, ElementID: id}
}

// Find returns the first element accepted by match.
func (s *ParsedScreen) Find(match func(UIElement) bool) (UIElement, bool) {
	if s == nil {
		return UIElement{}, false
	}
	for _, el := range s.Elements {
		if match(el) {
			return el, true
		}
	}
	return UIElement{}, false
}

// ElementRef names an element together with the screen that produced it.
type ElementRef struct {
	ScreenID  string `yaml:"screen_id"  json:"screen_id"`
	ElementID int    `yaml:"element_id" json:"element_id"`
}
