package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mj1618/portal-pilot/internal/model"
)

// HistoryEntry is the compact step form sent to the decision service.
type HistoryEntry struct {
	Step      int    `json:"step"`
	Action    string `json:"action"`
	Reasoning string `json:"reasoning,omitempty"`
	Success   bool   `json:"success"`
}

// ElementPayload is the compact element form sent to the decision service.
type ElementPayload struct {
	ID      int         `json:"id"`
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Center  model.Point `json:"center"`
	BBox    model.BBox  `json:"bbox"`
}

// ScreenPayload describes the parsed screen.
type ScreenPayload struct {
	Elements          []ElementPayload `json:"elements"`
	ElementCount      int              `json:"element_count"`
	ScreenSize        model.Size       `json:"screen_size"`
	AnnotatedImageRef string           `json:"annotated_image_ref,omitempty"`
}

// DecisionRequest is posted to the decision service once per step.
type DecisionRequest struct {
	ExecutionID   string         `json:"execution_id"`
	Goal          string         `json:"goal"`
	StepNumber    int            `json:"step_number"`
	History       []HistoryEntry `json:"history"`
	Screen        ScreenPayload  `json:"screen"`
	ScreenshotURL string         `json:"screenshot_url,omitempty"`
	// Context carries auxiliary state of narrowed loops.
	Context map[string]any `json:"context,omitempty"`
	// AllowedActions narrows the action vocabulary when set.
	AllowedActions []string `json:"allowed_actions,omitempty"`
}

// Decision is the decision service answer: one action payload, a status
// hint and optionally a batch of further payloads.
type Decision struct {
	model.ActionPayload
	Status string                `json:"status,omitempty"`
	Output json.RawMessage       `json:"output,omitempty"`
	Batch  []model.ActionPayload `json:"batch,omitempty"`
}

// OutputText renders Output as text: strings verbatim, anything else as
// compact JSON.
func (d *Decision) OutputText() string {
	raw := bytes.TrimSpace(d.Output)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// Decider picks the next action for a screen.
type Decider interface {
	Decide(ctx context.Context, req DecisionRequest) (*Decision, error)
}

// DecisionError is a hard failure of one decision round trip. Body holds
// the raw response for diagnosis.
type DecisionError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *DecisionError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("decision service (HTTP %d): %v", e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("decision service: %v", e.Err)
	default:
		return fmt.Sprintf("decision service returned HTTP %d", e.StatusCode)
	}
}

func (e *DecisionError) Unwrap() error { return e.Err }

// HTTPDecider posts DecisionRequests as JSON.
type HTTPDecider struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPDecider returns a decider for url. timeout bounds each round trip.
func NewHTTPDecider(url string, timeout time.Duration) *HTTPDecider {
	return &HTTPDecider{url: url, timeout: timeout, client: &http.Client{}}
}

// Decide implements Decider.
func (d *HTTPDecider) Decide(ctx context.Context, req DecisionRequest) (*Decision, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode decision request: %w", err)
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build decision request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, &DecisionError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &DecisionError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &DecisionError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	dec, err := DecodeDecision(data)
	if err != nil {
		return nil, &DecisionError{StatusCode: resp.StatusCode, Body: string(data), Err: err}
	}
	return dec, nil
}

// DecodeDecision parses a decision body, unwrapping one level of "output"
// nesting when the top level carries neither action nor status.
func DecodeDecision(data []byte) (*Decision, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty response body")
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("invalid decision JSON: %w", err)
	}
	_, hasAction := top["action"]
	_, hasStatus := top["status"]
	if inner, ok := top["output"]; ok && !hasAction && !hasStatus {
		inner = bytes.TrimSpace(inner)
		if len(inner) > 0 && inner[0] == '{' {
			data = inner
		}
	}
	var dec Decision
	if err := json.Unmarshal(data, &dec); err != nil {
		return nil, fmt.Errorf("invalid decision JSON: %w", err)
	}
	if dec.Action == "" && dec.Status == "" && len(dec.Batch) == 0 {
		return nil, fmt.Errorf("decision has no action, status or batch")
	}
	return &dec, nil
}

func newDecisionRequest(exec *ExecutionContext, step, window int, screen *model.ParsedScreen, shotURL string) DecisionRequest {
	recent := exec.recent(window)
	history := make([]HistoryEntry, 0, len(recent))
	for _, s := range recent {
		history = append(history, HistoryEntry{
			Step:      s.Step,
			Action:    string(s.Action),
			Reasoning: s.Reasoning,
			Success:   s.Success,
		})
	}
	return DecisionRequest{
		ExecutionID:   exec.ID(),
		Goal:          exec.Goal(),
		StepNumber:    step,
		History:       history,
		Screen:        screenPayload(screen),
		ScreenshotURL: shotURL,
	}
}

func screenPayload(screen *model.ParsedScreen) ScreenPayload {
	els := make([]ElementPayload, 0, len(screen.Elements))
	for _, el := range screen.Elements {
		els = append(els, ElementPayload{ID: el.ID, Type: el.Type, Content: el.Content, Center: el.Center, BBox: el.BBox})
	}
	return ScreenPayload{
		Elements:          els,
		ElementCount:      len(els),
		ScreenSize:        screen.ScreenSize,
		AnnotatedImageRef: screen.AnnotatedImageRef,
	}
}
