package vision

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mj1618/portal-pilot/internal/capture"
	"github.com/mj1618/portal-pilot/internal/model"
)

type scriptedDetector struct {
	calls atomic.Int32
	errs  []error
	resp  *RawResponse
}

func (d *scriptedDetector) Detect(ctx context.Context, _ DetectRequest) (*RawResponse, error) {
	n := int(d.calls.Add(1)) - 1
	if n < len(d.errs) && d.errs[n] != nil {
		return nil, d.errs[n]
	}
	if d.resp == nil {
		return &RawResponse{}, nil
	}
	return d.resp, nil
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.RateLimitBase = time.Millisecond
	cfg.RequestsPerSecond = 0
	return cfg
}

func timeouts(n int) []error {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = &TimeoutError{Err: context.DeadlineExceeded}
	}
	return errs
}

func TestParser_ExhaustsRetriesOnTimeout(t *testing.T) {
	det := &scriptedDetector{errs: timeouts(10)}
	p := NewParser(det, fastConfig(), nil, nil)

	_, err := p.Parse(context.Background(), []byte("png"), model.Size{Width: 100, Height: 100})
	require.Error(t, err)

	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 3, se.Attempts)
	var te *TimeoutError
	assert.ErrorAs(t, err, &te)
	assert.Equal(t, int32(3), det.calls.Load())
}

func TestParser_RecoversAfterRateLimit(t *testing.T) {
	det := &scriptedDetector{
		errs: []error{&RateLimitError{}},
		resp: &RawResponse{Elements: "text 0: {'type': 'text', 'bbox': [0.1, 0.1, 0.2, 0.2], 'content': 'OK'}"},
	}
	p := NewParser(det, fastConfig(), nil, nil)

	screen, err := p.Parse(context.Background(), []byte("png"), model.Size{Width: 1000, Height: 500})
	require.NoError(t, err)
	assert.Equal(t, int32(2), det.calls.Load())
	require.Len(t, screen.Elements, 1)
	assert.Equal(t, model.BBox{100, 50, 200, 100}, screen.Elements[0].BBox)
	assert.Equal(t, model.Point{X: 150, Y: 75}, screen.Elements[0].Center)
}

func TestParser_DoesNotRetryOtherErrors(t *testing.T) {
	det := &scriptedDetector{errs: []error{&StatusError{Code: 500, Body: "boom"}}}
	p := NewParser(det, fastConfig(), nil, nil)

	_, err := p.Parse(context.Background(), []byte("png"), model.Size{Width: 10, Height: 10})
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, int32(1), det.calls.Load())
	var st *StatusError
	assert.ErrorAs(t, err, &st)
}

func TestParser_RetryDelay(t *testing.T) {
	cfg := DefaultConfig()
	p := NewParser(&scriptedDetector{}, cfg, nil, nil)

	rl := &RateLimitError{}
	assert.Equal(t, 5*time.Second, p.retryDelay(1, rl))
	assert.Equal(t, 10*time.Second, p.retryDelay(2, rl))
	assert.Equal(t, 20*time.Second, p.retryDelay(3, rl))
	assert.Equal(t, 5*time.Second, p.retryDelay(0, rl))
	assert.Equal(t, time.Minute, p.retryDelay(1, &RateLimitError{RetryAfter: time.Minute}))
	assert.Equal(t, 2*time.Second, p.retryDelay(1, &TimeoutError{Err: errors.New("x")}))
	assert.Equal(t, 2*time.Second, p.retryDelay(3, &TimeoutError{Err: errors.New("x")}))
}

type stampingDetector struct {
	mu    sync.Mutex
	stamp []time.Time
}

func (d *stampingDetector) Detect(context.Context, DetectRequest) (*RawResponse, error) {
	d.mu.Lock()
	d.stamp = append(d.stamp, time.Now())
	d.mu.Unlock()
	return nil, &RateLimitError{}
}

func TestParser_RateLimitBackoffStartsAtBase(t *testing.T) {
	const base = 40 * time.Millisecond
	cfg := fastConfig()
	cfg.MaxRetries = 4
	cfg.RateLimitBase = base
	det := &stampingDetector{}
	p := NewParser(det, cfg, nil, nil)

	_, err := p.Parse(context.Background(), []byte("png"), model.Size{Width: 10, Height: 10})
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)

	det.mu.Lock()
	defer det.mu.Unlock()
	require.Len(t, det.stamp, 4)
	for i, want := range []time.Duration{base, 2 * base, 4 * base} {
		gap := det.stamp[i+1].Sub(det.stamp[i])
		assert.GreaterOrEqual(t, gap, want, "gap %d", i)
		assert.Less(t, gap, want+want*3/4, "gap %d", i)
	}
}

func TestParser_BreakerOpens(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 1
	cfg.Breaker.ConsecutiveFailures = 2
	cfg.Breaker.Timeout = time.Hour
	fail := &StatusError{Code: 502}
	det := &scriptedDetector{errs: []error{fail, fail, fail}}
	p := NewParser(det, cfg, nil, nil)

	size := model.Size{Width: 10, Height: 10}
	for i := 0; i < 2; i++ {
		_, err := p.Parse(context.Background(), []byte("png"), size)
		require.Error(t, err)
	}
	_, err := p.Parse(context.Background(), []byte("png"), size)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), det.calls.Load())
}

func TestParser_CancelledContext(t *testing.T) {
	det := &scriptedDetector{errs: timeouts(10)}
	p := NewParser(det, fastConfig(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Parse(ctx, []byte("png"), model.Size{Width: 10, Height: 10})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParser_ParseFrameOffsetsByOrigin(t *testing.T) {
	det := &scriptedDetector{resp: &RawResponse{
		Elements: "icon 0: {'type': 'icon', 'bbox': [0.0, 0.0, 0.5, 0.5], 'interactivity': True}",
		Img:      json.RawMessage(`{"url": "http://vision/annotated/1.png"}`),
	}}
	p := NewParser(det, fastConfig(), nil, nil)

	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	img.Set(0, 0, color.Black)
	f := capture.Frame{
		Image:      img,
		Origin:     image.Pt(300, 400),
		Size:       model.Size{Width: 200, Height: 100},
		ScreenSize: model.Size{Width: 1920, Height: 1080},
	}
	screen, err := p.ParseFrame(context.Background(), f)
	require.NoError(t, err)
	require.Len(t, screen.Elements, 1)
	assert.Equal(t, model.BBox{300, 400, 400, 450}, screen.Elements[0].BBox)
	assert.Equal(t, model.Size{Width: 1920, Height: 1080}, screen.ScreenSize)
	assert.Equal(t, "http://vision/annotated/1.png", screen.AnnotatedImageRef)
}

func TestNormalize_PixelSpaceUsesImageSize(t *testing.T) {
	got := normalize([4]float64{100, 50, 200, 100}, model.Size{Width: 400, Height: 200})
	assert.Equal(t, [4]float64{0.25, 0.25, 0.5, 0.5}, got)
	same := [4]float64{0.1, 0.2, 0.3, 0.4}
	assert.Equal(t, same, normalize(same, model.Size{Width: 400, Height: 200}))
}

func TestAnnotatedRef(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{`"http://x/a.png"`, "http://x/a.png", true},
		{`{"url": "http://x/b.png"}`, "http://x/b.png", true},
		{`null`, "", true},
		{``, "", true},
		{`42`, "", false},
		{`{"path": "nope"}`, "", false},
	}
	for _, tt := range tests {
		got, ok := annotatedRef(json.RawMessage(tt.raw))
		assert.Equal(t, tt.want, got, tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
	}
}

func TestHTTPClient_Classification(t *testing.T) {
	var mode atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch mode.Load().(string) {
		case "ratelimit":
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		case "slow":
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		case "bad":
			http.Error(w, "nope", http.StatusBadRequest)
		default:
			var req DetectRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"elements": "text 0: {'type': 'text', 'bbox': [0, 0, 1, 1], 'content': '" + req.Model + "'}",
				"img":      "ref",
			})
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 50*time.Millisecond)
	ctx := context.Background()

	mode.Store("ok")
	resp, err := c.Detect(ctx, DetectRequest{Model: "omni"})
	require.NoError(t, err)
	assert.Contains(t, resp.Elements, "omni")

	mode.Store("ratelimit")
	_, err = c.Detect(ctx, DetectRequest{})
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 7*time.Second, rl.RetryAfter)

	mode.Store("slow")
	_, err = c.Detect(ctx, DetectRequest{})
	var te *TimeoutError
	assert.ErrorAs(t, err, &te)

	mode.Store("bad")
	_, err = c.Detect(ctx, DetectRequest{})
	var st *StatusError
	require.ErrorAs(t, err, &st)
	assert.Equal(t, http.StatusBadRequest, st.Code)
	assert.False(t, retryable(err))
}
