package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DetectRequest is the body sent to the vision service.
type DetectRequest struct {
	Image        string  `json:"image"`
	Model        string  `json:"model,omitempty"`
	ImageSize    int     `json:"imgsz,omitempty"`
	BoxThreshold float64 `json:"box_threshold"`
	IoUThreshold float64 `json:"iou_threshold"`
}

// RawResponse is the vision service answer: a semi-structured element blob
// and a reference to an annotated image.
type RawResponse struct {
	Elements string          `json:"elements"`
	Img      json.RawMessage `json:"img,omitempty"`
}

// Detector submits one detection request.
type Detector interface {
	Detect(ctx context.Context, req DetectRequest) (*RawResponse, error)
}

// HTTPClient talks to the vision service over HTTP JSON.
type HTTPClient struct {
	url     string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

// NewHTTPClient returns a detector posting to url. timeout bounds each call.
func NewHTTPClient(url, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{url: url, apiKey: apiKey, timeout: timeout, http: &http.Client{}}
}

// Detect posts req and classifies failures into TimeoutError,
// RateLimitError and StatusError.
func (c *HTTPClient) Detect(ctx context.Context, req DetectRequest) (*RawResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode detect request: %w", err)
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")), Body: string(data)}
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return nil, &TimeoutError{Err: &StatusError{Code: resp.StatusCode, Body: string(data)}}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{Code: resp.StatusCode, Body: string(data)}
	}

	var out RawResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode vision response: %w (body: %s)", err, truncate(string(data), 200))
	}
	return &out, nil
}

// classifyTransport turns per-call deadline and net timeouts into
// TimeoutError. Cancellation of the parent context is passed through.
func classifyTransport(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &TimeoutError{Err: err}
	}
	return err
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// annotatedRef extracts the annotated image reference: either a string or
// an object with a "url" field. ok is false for anything else.
func annotatedRef(raw json.RawMessage) (ref string, ok bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var obj struct {
		URL *string `json:"url"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.URL != nil {
		return *obj.URL, true
	}
	return "", false
}
