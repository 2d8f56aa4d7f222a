package cmd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mj1618/portal-pilot/internal/queue"
)

func TestAPIClient(t *testing.T) {
	var stopped bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/queue":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"pending":2,"current_status":"running","queue":["a","b"],"processing":true}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/stop":
			stopped = true
			w.WriteHeader(http.StatusAccepted)
		case r.URL.Path == "/v1/execution":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"no execution has run yet"}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"bad request"}`))
		}
	}))
	defer ts.Close()

	// addresses without a scheme get http://
	c := newAPIClient(strings.TrimPrefix(ts.URL, "http://"))
	ctx := context.Background()

	var st queue.Status
	if err := c.getJSON(ctx, "/v1/queue", &st); err != nil {
		t.Fatal(err)
	}
	if st.Pending != 2 || st.CurrentStatus != "running" || !st.Processing {
		t.Errorf("status = %+v", st)
	}

	if err := c.post(ctx, "/v1/stop"); err != nil || !stopped {
		t.Errorf("stop: err=%v stopped=%v", err, stopped)
	}

	var v map[string]any
	if err := c.getJSON(ctx, "/v1/execution", &v); !errors.Is(err, errNotFound) {
		t.Errorf("execution err = %v, want errNotFound", err)
	}
	err := c.getJSON(ctx, "/v1/other", &v)
	if err == nil || !strings.Contains(err.Error(), "bad request") {
		t.Errorf("error body not surfaced: %v", err)
	}
}
