// Package wait blocks until a visual signature appears or disappears,
// dismissing registered obstacles such as unexpected modals on the way.
package wait

import (
	"context"
	"fmt"
	"strings"

	"github.com/mj1618/portal-pilot/internal/capture"
	"github.com/mj1618/portal-pilot/internal/model"
	"github.com/mj1618/portal-pilot/internal/platform"
)

// Signature describes what an element looks like in a parsed screen.
type Signature struct {
	Name   string           `yaml:"name"             json:"name"             mapstructure:"name"`
	Text   string           `yaml:"text,omitempty"   json:"text,omitempty"   mapstructure:"text"`
	Type   string           `yaml:"type,omitempty"   json:"type,omitempty"   mapstructure:"type"`
	Exact  bool             `yaml:"exact,omitempty"  json:"exact,omitempty"  mapstructure:"exact"`
	Region *platform.Bounds `yaml:"region,omitempty" json:"region,omitempty" mapstructure:"region"`
}

// Matches reports whether el satisfies every set field of s.
func (s Signature) Matches(el model.UIElement) bool {
	if s.Type != "" && !strings.EqualFold(s.Type, el.Type) {
		return false
	}
	return el.MatchesText(s.Text, s.Exact)
}

// String describes the signature for logs.
func (s Signature) String() string {
	if s.Name != "" {
		return s.Name
	}
	var parts []string
	if s.Type != "" {
		parts = append(parts, "type="+s.Type)
	}
	if s.Text != "" {
		parts = append(parts, fmt.Sprintf("text=%q", s.Text))
	}
	if s.Region != nil {
		parts = append(parts, "region="+s.Region.String())
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, " ")
}

// Locator finds signatures on the live screen.
type Locator interface {
	// LocateAll returns one entry per signature, nil where it was not found.
	LocateAll(ctx context.Context, sigs []Signature) ([]*model.Point, error)
}

// Perceiver captures and parses the screen.
type Perceiver interface {
	Perceive(ctx context.Context, opts capture.Options) (*model.ParsedScreen, capture.Frame, error)
}

// VisionLocator locates signatures through a vision parse. Signatures that
// share a region share one parse.
type VisionLocator struct {
	p Perceiver
}

// NewVisionLocator returns a locator backed by p.
func NewVisionLocator(p Perceiver) *VisionLocator {
	return &VisionLocator{p: p}
}

// LocateAll implements Locator.
func (l *VisionLocator) LocateAll(ctx context.Context, sigs []Signature) ([]*model.Point, error) {
	out := make([]*model.Point, len(sigs))
	screens := make(map[string]*model.ParsedScreen)
	for i, sig := range sigs {
		key := ""
		if sig.Region != nil {
			key = sig.Region.String()
		}
		screen, ok := screens[key]
		if !ok {
			var err error
			screen, _, err = l.p.Perceive(ctx, capture.Options{Region: sig.Region})
			if err != nil {
				return nil, fmt.Errorf("locate %s: %w", sig, err)
			}
			screens[key] = screen
		}
		if el, found := screen.Find(sig.Matches); found {
			pt := el.Center
			out[i] = &pt
		}
	}
	return out, nil
}
