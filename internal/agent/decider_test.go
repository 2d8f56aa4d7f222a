package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mj1618/portal-pilot/internal/model"
)

func TestDecodeDecision(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantAction string
		wantStatus string
		wantErr    bool
	}{
		{"flat", `{"action":"click","target_id":3,"status":"running"}`, "click", "running", false},
		{"nested under output", `{"output":{"action":"type","text":"x","status":"running"}}`, "type", "running", false},
		{"output string is final text", `{"status":"finished","output":"ok"}`, "", "finished", false},
		{"empty", ``, "", "", true},
		{"not json", `<html>`, "", "", true},
		{"no fields", `{"foo":1}`, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := DecodeDecision([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAction, d.Action)
			assert.Equal(t, tt.wantStatus, d.Status)
		})
	}
}

func TestHTTPDecider(t *testing.T) {
	var gotReq DecisionRequest
	mode := "ok"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)
		switch mode {
		case "fail":
			http.Error(w, "model overloaded", http.StatusServiceUnavailable)
		case "empty":
			w.WriteHeader(http.StatusOK)
		default:
			_, _ = w.Write([]byte(`{"action":"scroll","direction":"down","status":"running","reasoning":"look further"}`))
		}
	}))
	defer srv.Close()

	d := NewHTTPDecider(srv.URL, time.Second)
	screen := model.NewParsedScreen([]model.UIElement{
		model.NewUIElement(0, "text", "MRN", model.BBox{0, 0, 10, 10}, 1, false),
	}, model.Size{Width: 50, Height: 50}, "", "ann")
	exec := NewExecution("find MRN", "")
	req := newDecisionRequest(exec, 1, 10, screen, "file:///tmp/a.png")

	dec, err := d.Decide(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "scroll", dec.Action)
	assert.Equal(t, exec.ID(), gotReq.ExecutionID)
	assert.Equal(t, 1, gotReq.Screen.ElementCount)
	assert.Equal(t, "ann", gotReq.Screen.AnnotatedImageRef)
	assert.Equal(t, "file:///tmp/a.png", gotReq.ScreenshotURL)

	mode = "fail"
	_, err = d.Decide(context.Background(), req)
	var de *DecisionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusServiceUnavailable, de.StatusCode)
	assert.Contains(t, de.Body, "model overloaded")

	mode = "empty"
	_, err = d.Decide(context.Background(), req)
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusOK, de.StatusCode)
}

func TestExecutionContext_TerminalIsFinal(t *testing.T) {
	e := NewExecution("g", "")
	assert.Equal(t, model.StatusIdle, e.Status())
	assert.True(t, e.setStatus(model.StatusRunning))
	assert.True(t, e.finish(model.StatusStopped, "", "stopped"))
	assert.False(t, e.finish(model.StatusFinished, "late", ""))
	snap := e.Snapshot()
	assert.Equal(t, model.StatusStopped, snap.Status)
	assert.Empty(t, snap.Output)
	assert.NotNil(t, snap.CompletedAt)
}
