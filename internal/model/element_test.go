package model

import (
	"encoding/json"
	"testing"
)

func TestUIElement_JSONKeys(t *testing.T) {
	el := NewUIElement(1, "button", "OK", BBox{10, 20, 110, 50}, 0.9, true)
	data, err := json.Marshal(el)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"id", "type", "content", "bbox", "center", "interactable"} {
		if _, ok := m[key]; !ok {
			t.Errorf("expected key %q in JSON output", key)
		}
	}
}

func TestUIElement_CenterIsBBoxMidpoint(t *testing.T) {
	el := NewUIElement(0, "text", "Patient", BBox{100, 40, 201, 61}, 0, false)
	if el.Center != (Point{X: 150, Y: 50}) {
		t.Errorf("center = %+v, want {150 50}", el.Center)
	}
}

func TestScaleBBox(t *testing.T) {
	size := Size{Width: 1920, Height: 1080}
	tests := []struct {
		name string
		in   [4]float64
		want BBox
	}{
		{"normalized", [4]float64{0.5, 0.5, 1, 1}, BBox{960, 540, 1920, 1080}},
		{"origin", [4]float64{0, 0, 0.1, 0.1}, BBox{0, 0, 192, 108}},
		{"negative clamps", [4]float64{-0.1, -0.2, 0.2, 0.2}, BBox{0, 0, 384, 216}},
		{"swapped corners", [4]float64{0.2, 0.2, 0.1, 0.1}, BBox{192, 108, 384, 216}},
		{"pixel space", [4]float64{100, 200, 2500, 300}, BBox{100, 200, 1920, 300}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScaleBBox(tt.in, size)
			if got != tt.want {
				t.Errorf("ScaleBBox(%v) = %v, want %v", tt.in, got, tt.want)
			}
			if !got.Within(size) {
				t.Errorf("ScaleBBox(%v) = %v is outside %v", tt.in, got, size)
			}
		})
	}
}

func TestScaleBBox_AlwaysWithinScreen(t *testing.T) {
	size := Size{Width: 800, Height: 600}
	vals := []float64{-1, 0, 0.001, 0.25, 0.5, 0.999, 1}
	for _, a := range vals {
		for _, b := range vals {
			box := ScaleBBox([4]float64{a, b, 1 - a, 1 - b}, size)
			if !box.Within(size) {
				t.Fatalf("box %v outside %v", box, size)
			}
			el := NewUIElement(0, "icon", "", box, 0, true)
			if el.Center != box.Center() {
				t.Fatalf("center %v != midpoint %v", el.Center, box.Center())
			}
		}
	}
}

func TestUIElement_MatchesText(t *testing.T) {
	el := UIElement{Content: "  Patient Search "}
	tests := []struct {
		text  string
		exact bool
		want  bool
	}{
		{"patient", false, true},
		{"patient", true, false},
		{"patient search", true, true},
		{"chart", false, false},
		{"", false, true},
	}
	for _, tt := range tests {
		if got := el.MatchesText(tt.text, tt.exact); got != tt.want {
			t.Errorf("MatchesText(%q, %v) = %v, want %v", tt.text, tt.exact, got, tt.want)
		}
	}
}

func TestParsedScreen_Resolve(t *testing.T) {
	first := NewParsedScreen([]UIElement{
		NewUIElement(0, "button", "OK", BBox{0, 0, 10, 10}, 1, true),
		NewUIElement(1, "button", "Cancel", BBox{20, 0, 30, 10}, 1, true),
	}, Size{Width: 100, Height: 100}, "", "")
	second := NewParsedScreen(first.Elements, first.ScreenSize, "", "")

	if first.ID == second.ID {
		t.Fatal("screens must get distinct ids")
	}
	if el, ok := first.Resolve(first.Ref(1)); !ok || el.Content != "Cancel" {
		t.Errorf("Resolve on own screen = %+v, %v", el, ok)
	}
	if _, ok := second.Resolve(first.Ref(1)); ok {
		t.Error("a reference from another screen must not resolve")
	}
	if _, ok := first.Resolve(first.Ref(7)); ok {
		t.Error("a missing id must not resolve")
	}
}

func TestParsedScreen_ElementNonSequential(t *testing.T) {
	s := &ParsedScreen{Elements: []UIElement{{ID: 5}, {ID: 9, Content: "x"}}}
	if el, ok := s.Element(9); !ok || el.Content != "x" {
		t.Errorf("Element(9) = %+v, %v", el, ok)
	}
	var nilScreen *ParsedScreen
	if _, ok := nilScreen.Element(0); ok {
		t.Error("nil screen must not resolve")
	}
}
