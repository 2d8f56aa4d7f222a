package model

import (
	"encoding/json"
	"testing"
	"time"
)

func decodePayload(t *testing.T, s string) ActionPayload {
	t.Helper()
	var p ActionPayload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		t.Fatalf("unmarshal %s: %v", s, err)
	}
	return p
}

func TestParseActionKind(t *testing.T) {
	tests := []struct {
		in   string
		want ActionKind
		ok   bool
	}{
		{"click", ActionClick, true},
		{"Double-Click", ActionDoubleClick, true},
		{"key press", ActionKey, true},
		{"press", ActionKey, true},
		{"key_combo", ActionHotkey, true},
		{"type_text", ActionType, true},
		{"finish", ActionFinish, true},
		{"teleport", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseActionKind(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseActionKind(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestToAction_BindsTargetToScreen(t *testing.T) {
	p := decodePayload(t, `{"action":"click","target_id":"4","reasoning":"open chart"}`)
	a, err := p.ToAction("screen-1")
	if err != nil {
		t.Fatal(err)
	}
	if a.Kind != ActionClick {
		t.Errorf("kind = %q", a.Kind)
	}
	if a.Target == nil || a.Target.ScreenID != "screen-1" || a.Target.ElementID != 4 {
		t.Errorf("target = %+v", a.Target)
	}
	if id := a.TargetID(); id == nil || *id != 4 {
		t.Errorf("TargetID() = %v", id)
	}
}

func TestToAction_CoordsForms(t *testing.T) {
	for _, s := range []string{
		`{"action":"drag","coords":[10,20],"end_coords":{"x":30,"y":40}}`,
		`{"action":"drag","coords":{"x":10,"y":20},"end_coords":[30,40]}`,
	} {
		a, err := decodePayload(t, s).ToAction("s")
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		if *a.Coords != (Point{10, 20}) || *a.EndCoords != (Point{30, 40}) {
			t.Errorf("%s: coords = %v -> %v", s, *a.Coords, *a.EndCoords)
		}
	}
}

func TestToAction_Degrades(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"unknown action", `{"action":"teleport","reasoning":"?"}`},
		{"click without target", `{"action":"click"}`},
		{"type without text", `{"action":"type"}`},
		{"drag without end", `{"action":"drag","coords":[1,2]}`},
		{"scroll bad direction", `{"action":"scroll","direction":"sideways"}`},
		{"hotkey without keys", `{"action":"hotkey"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := decodePayload(t, tt.payload).ToAction("s")
			if err == nil {
				t.Fatal("expected a degradation error")
			}
			if a.Kind != ActionWait || a.Duration != DefaultWait {
				t.Errorf("degraded action = %+v, want default wait", a)
			}
		})
	}
}

func TestToAction_KeyForms(t *testing.T) {
	a, err := decodePayload(t, `{"action":"key","key":"ctrl+a"}`).ToAction("s")
	if err != nil {
		t.Fatal(err)
	}
	if a.Kind != ActionHotkey || len(a.Keys) != 2 || a.Keys[0] != "ctrl" || a.Keys[1] != "a" {
		t.Errorf("ctrl+a key = %+v", a)
	}

	a, err = decodePayload(t, `{"action":"hotkey","key":"alt + f4"}`).ToAction("s")
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Keys) != 2 || a.Keys[1] != "f4" {
		t.Errorf("hotkey from key = %+v", a.Keys)
	}

	a, err = decodePayload(t, `{"action":"press","keys":["enter"]}`).ToAction("s")
	if err != nil {
		t.Fatal(err)
	}
	if a.Kind != ActionKey || a.Key != "enter" {
		t.Errorf("single key list = %+v", a)
	}
}

func TestToAction_ScrollAndWaitDefaults(t *testing.T) {
	a, err := decodePayload(t, `{"action":"scroll","direction":"DOWN"}`).ToAction("s")
	if err != nil {
		t.Fatal(err)
	}
	if a.Direction != ScrollDown || a.ScrollAmount != DefaultScrollAmount {
		t.Errorf("scroll = %+v", a)
	}

	a, err = decodePayload(t, `{"action":"wait","duration":2.5}`).ToAction("s")
	if err != nil {
		t.Fatal(err)
	}
	if a.Duration != 2500*time.Millisecond {
		t.Errorf("wait duration = %v", a.Duration)
	}
}

func TestFlexInt_Rejects(t *testing.T) {
	var f FlexInt
	if err := json.Unmarshal([]byte(`"abc"`), &f); err == nil {
		t.Error("expected error for non-numeric string")
	}
	if err := json.Unmarshal([]byte(`"[12]"`), &f); err != nil || f != 12 {
		t.Errorf("bracketed id = %d, %v", f, err)
	}
}
