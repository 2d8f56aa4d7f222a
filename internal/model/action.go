package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ActionKind tags an AgentAction.
type ActionKind string

const (
	ActionClick       ActionKind = "click"
	ActionDoubleClick ActionKind = "double_click"
	ActionDrag        ActionKind = "drag"
	ActionType        ActionKind = "type"
	ActionKey         ActionKind = "key"
	ActionHotkey      ActionKind = "hotkey"
	ActionScroll      ActionKind = "scroll"
	ActionWait        ActionKind = "wait"
	ActionScreenshot  ActionKind = "screenshot"
	ActionFinish      ActionKind = "finish"
)

// DefaultWait is used for wait actions without a duration.
const DefaultWait = time.Second

// DefaultScrollAmount is used for scroll actions without an amount.
const DefaultScrollAmount = 3

var actionAliases = map[string]ActionKind{
	"click":        ActionClick,
	"left_click":   ActionClick,
	"tap":          ActionClick,
	"double_click": ActionDoubleClick,
	"doubleclick":  ActionDoubleClick,
	"dblclick":     ActionDoubleClick,
	"drag":         ActionDrag,
	"type":         ActionType,
	"type_text":    ActionType,
	"input":        ActionType,
	"write":        ActionType,
	"key":          ActionKey,
	"key_press":    ActionKey,
	"keypress":     ActionKey,
	"press":        ActionKey,
	"press_key":    ActionKey,
	"hotkey":       ActionHotkey,
	"key_combo":    ActionHotkey,
	"shortcut":     ActionHotkey,
	"scroll":       ActionScroll,
	"wait":         ActionWait,
	"sleep":        ActionWait,
	"screenshot":   ActionScreenshot,
	"finish":       ActionFinish,
	"done":         ActionFinish,
}

// ParseActionKind normalizes an action name. Dashes, spaces and case are
// ignored.
func ParseActionKind(s string) (ActionKind, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	k, ok := actionAliases[key]
	return k, ok
}

// ScrollDirection is one of up, down, left, right.
type ScrollDirection string

const (
	ScrollUp    ScrollDirection = "up"
	ScrollDown  ScrollDirection = "down"
	ScrollLeft  ScrollDirection = "left"
	ScrollRight ScrollDirection = "right"
)

// ParseScrollDirection validates a direction string.
func ParseScrollDirection(s string) (ScrollDirection, error) {
	switch d := ScrollDirection(strings.ToLower(strings.TrimSpace(s))); d {
	case ScrollUp, ScrollDown, ScrollLeft, ScrollRight:
		return d, nil
	default:
		return "", fmt.Errorf("unknown scroll direction %q (expected up, down, left, or right)", s)
	}
}

// AgentAction is a validated action. Which fields are meaningful depends on
// Kind; see Validate.
type AgentAction struct {
	Kind         ActionKind      `yaml:"kind"                    json:"kind"`
	Target       *ElementRef     `yaml:"target,omitempty"        json:"target,omitempty"`
	Coords       *Point          `yaml:"coords,omitempty"        json:"coords,omitempty"`
	EndCoords    *Point          `yaml:"end_coords,omitempty"    json:"end_coords,omitempty"`
	Text         string          `yaml:"text,omitempty"          json:"text,omitempty"`
	Key          string          `yaml:"key,omitempty"           json:"key,omitempty"`
	Keys         []string        `yaml:"keys,omitempty,flow"     json:"keys,omitempty"`
	Direction    ScrollDirection `yaml:"direction,omitempty"     json:"direction,omitempty"`
	ScrollAmount int             `yaml:"scroll_amount,omitempty" json:"scroll_amount,omitempty"`
	Duration     time.Duration   `yaml:"duration,omitempty"      json:"duration,omitempty"`
	Reasoning    string          `yaml:"reasoning,omitempty"     json:"reasoning,omitempty"`
}

// Wait returns a wait action carrying reasoning.
func Wait(reasoning string) AgentAction {
	return AgentAction{Kind: ActionWait, Duration: DefaultWait, Reasoning: reasoning}
}

var (
	ErrMissingTarget = errors.New("action requires a target_id or coords")
	ErrMissingEnd    = errors.New("drag requires end_coords")
	ErrMissingText   = errors.New("type requires text")
	ErrMissingKey    = errors.New("key requires a key name")
	ErrMissingKeys   = errors.New("hotkey requires at least one key")
)

// Validate checks that the payload required by Kind is present.
func (a AgentAction) Validate() error {
	switch a.Kind {
	case ActionClick, ActionDoubleClick:
		if a.Target == nil && a.Coords == nil {
			return fmt.Errorf("%s: %w", a.Kind, ErrMissingTarget)
		}
	case ActionDrag:
		if a.Target == nil && a.Coords == nil {
			return fmt.Errorf("%s: %w", a.Kind, ErrMissingTarget)
		}
		if a.EndCoords == nil {
			return ErrMissingEnd
		}
	case ActionType:
		if a.Text == "" {
			return ErrMissingText
		}
	case ActionKey:
		if strings.TrimSpace(a.Key) == "" {
			return ErrMissingKey
		}
	case ActionHotkey:
		if len(a.Keys) == 0 {
			return ErrMissingKeys
		}
	case ActionScroll:
		if _, err := ParseScrollDirection(string(a.Direction)); err != nil {
			return err
		}
		if a.ScrollAmount < 1 {
			return fmt.Errorf("scroll amount must be >= 1, got %d", a.ScrollAmount)
		}
	case ActionWait:
		if a.Duration < 0 {
			return fmt.Errorf("wait duration must not be negative")
		}
	case ActionScreenshot, ActionFinish:
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}

// TargetID returns the referenced element id, if any.
func (a AgentAction) TargetID() *int {
	if a.Target == nil {
		return nil
	}
	id := a.Target.ElementID
	return &id
}

// ActionPayload is the loosely typed wire form of an action, as produced by
// the decision service and by batch files.
type ActionPayload struct {
	Action       string     `yaml:"action"                  json:"action"`
	TargetID     *FlexInt   `yaml:"target_id,omitempty"     json:"target_id,omitempty"`
	Coords       *WirePoint `yaml:"coords,omitempty"        json:"coords,omitempty"`
	EndCoords    *WirePoint `yaml:"end_coords,omitempty"    json:"end_coords,omitempty"`
	Text         string     `yaml:"text,omitempty"          json:"text,omitempty"`
	Key          string     `yaml:"key,omitempty"           json:"key,omitempty"`
	Keys         []string   `yaml:"keys,omitempty"          json:"keys,omitempty"`
	Direction    string     `yaml:"direction,omitempty"     json:"direction,omitempty"`
	ScrollAmount *FlexInt   `yaml:"scroll_amount,omitempty" json:"scroll_amount,omitempty"`
	Duration     *float64   `yaml:"duration,omitempty"      json:"duration,omitempty"`
	Reasoning    string     `yaml:"reasoning,omitempty"     json:"reasoning,omitempty"`
}

// ToAction converts the payload into a validated AgentAction whose element
// reference is bound to screenID. The returned action is always usable:
// unknown kinds and invalid payloads degrade to a wait, and the returned
// error describes why.
func (p ActionPayload) ToAction(screenID string) (AgentAction, error) {
	kind, ok := ParseActionKind(p.Action)
	if !ok {
		return Wait(p.Reasoning), fmt.Errorf("unrecognized action %q", p.Action)
	}

	a := AgentAction{
		Kind:      kind,
		Text:      p.Text,
		Key:       p.Key,
		Reasoning: p.Reasoning,
	}
	if p.TargetID != nil {
		a.Target = &ElementRef{ScreenID: screenID, ElementID: int(*p.TargetID)}
	}
	if p.Coords != nil {
		pt := Point(*p.Coords)
		a.Coords = &pt
	}
	if p.EndCoords != nil {
		pt := Point(*p.EndCoords)
		a.EndCoords = &pt
	}
	for _, k := range p.Keys {
		if k = strings.TrimSpace(k); k != "" {
			a.Keys = append(a.Keys, k)
		}
	}
	// "hotkey" with a single "ctrl+c" style key string
	if kind == ActionHotkey && len(a.Keys) == 0 && p.Key != "" {
		a.Keys = splitChord(p.Key)
	}
	// "key" carrying a chord is really a hotkey
	if kind == ActionKey && p.Key == "" && len(a.Keys) > 0 {
		if len(a.Keys) == 1 {
			a.Key = a.Keys[0]
		} else {
			a.Kind = ActionHotkey
		}
	}
	if kind == ActionKey && strings.Contains(a.Key, "+") && len(a.Key) > 1 {
		a.Kind = ActionHotkey
		a.Keys = splitChord(a.Key)
	}
	if kind == ActionScroll {
		a.Direction = ScrollDirection(strings.ToLower(strings.TrimSpace(p.Direction)))
		a.ScrollAmount = DefaultScrollAmount
		if p.ScrollAmount != nil {
			a.ScrollAmount = int(*p.ScrollAmount)
			if a.ScrollAmount < 0 {
				a.ScrollAmount = -a.ScrollAmount
			}
		}
	}
	if kind == ActionWait {
		a.Duration = DefaultWait
		if p.Duration != nil {
			a.Duration = time.Duration(*p.Duration * float64(time.Second))
		}
	}

	if err := a.Validate(); err != nil {
		return Wait(p.Reasoning), fmt.Errorf("invalid %s payload: %w", kind, err)
	}
	return a, nil
}

func splitChord(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, "+") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// FlexInt decodes a JSON number or a numeric string.
type FlexInt int

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.Trim(strings.TrimSpace(s), "[]#")
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("not an integer: %q", s)
		}
		*f = FlexInt(n)
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexInt(int(n))
	return nil
}

// WirePoint decodes either [x, y] or {"x": x, "y": y}.
type WirePoint Point

// UnmarshalJSON implements json.Unmarshaler.
func (p *WirePoint) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var xy []float64
		if err := json.Unmarshal(b, &xy); err != nil {
			return err
		}
		if len(xy) != 2 {
			return fmt.Errorf("coords must have 2 values, got %d", len(xy))
		}
		*p = WirePoint{X: int(xy[0]), Y: int(xy[1])}
		return nil
	}
	var obj struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*p = WirePoint{X: int(obj.X), Y: int(obj.Y)}
	return nil
}

// MarshalJSON writes the [x, y] form.
func (p WirePoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.X, p.Y})
}
