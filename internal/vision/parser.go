package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mj1618/portal-pilot/internal/capture"
	"github.com/mj1618/portal-pilot/internal/metrics"
	"github.com/mj1618/portal-pilot/internal/model"
)

// BreakerConfig tunes the circuit breaker around the vision service.
type BreakerConfig struct {
	MaxRequests         uint32        `mapstructure:"max_requests"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
}

// Config controls retries and detection parameters.
type Config struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	RateLimitBase     time.Duration `mapstructure:"rate_limit_base"`
	Model             string        `mapstructure:"model"`
	ImageSize         int           `mapstructure:"image_size"`
	BoxThreshold      float64       `mapstructure:"box_threshold"`
	IoUThreshold      float64       `mapstructure:"iou_threshold"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Breaker           BreakerConfig `mapstructure:"breaker"`
}

// DefaultConfig returns the defaults used when no configuration is loaded.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		RetryDelay:        2 * time.Second,
		RateLimitBase:     5 * time.Second,
		Model:             "omniparser",
		ImageSize:         1920,
		BoxThreshold:      0.05,
		IoUThreshold:      0.1,
		RequestsPerSecond: 2,
		Breaker: BreakerConfig{
			MaxRequests:         1,
			Interval:            time.Minute,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
		},
	}
}

// Parser turns screenshots into ParsedScreens using a Detector.
type Parser struct {
	det     Detector
	cfg     Config
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewParser wraps det with retries, a circuit breaker and a rate limiter.
func NewParser(det Detector, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	p := &Parser{det: det, cfg: cfg, logger: logger.Named("vision"), metrics: m}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	p.limiter = rate.NewLimiter(limit, 1)

	trip := cfg.Breaker.ConsecutiveFailures
	if trip == 0 {
		trip = 5
	}
	p.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "vision",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			p.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return p
}

// Parse sends a PNG screenshot of a full screen of the given size.
func (p *Parser) Parse(ctx context.Context, img []byte, size model.Size) (*model.ParsedScreen, error) {
	return p.parse(ctx, img, size, size, image.Point{}, size)
}

// ParseFrame parses a captured frame. Boxes are scaled to the frame and
// offset by its origin, so they come back in full screen coordinates.
func (p *Parser) ParseFrame(ctx context.Context, f capture.Frame) (*model.ParsedScreen, error) {
	data, err := f.PNG()
	if err != nil {
		return nil, err
	}
	screen := f.ScreenSize
	if !screen.Valid() {
		screen = f.Size
	}
	b := f.Image.Bounds()
	return p.parse(ctx, data, model.Size{Width: b.Dx(), Height: b.Dy()}, f.Size, f.Origin, screen)
}

// ParseImage encodes img and parses it as a full screen.
func (p *Parser) ParseImage(ctx context.Context, img image.Image) (*model.ParsedScreen, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode screenshot: %w", err)
	}
	b := img.Bounds()
	return p.Parse(ctx, buf.Bytes(), model.Size{Width: b.Dx(), Height: b.Dy()})
}

// parse sends img (imgSize pixels, possibly upscaled) and maps the boxes
// onto a frame of the given size placed at origin on screen.
func (p *Parser) parse(ctx context.Context, img []byte, imgSize, frame model.Size, origin image.Point, screen model.Size) (*model.ParsedScreen, error) {
	if !frame.Valid() {
		return nil, fmt.Errorf("invalid image size %dx%d", frame.Width, frame.Height)
	}
	start := time.Now()
	req := DetectRequest{
		Image:        capture.EncodeDataURL(img),
		Model:        p.cfg.Model,
		ImageSize:    p.cfg.ImageSize,
		BoxThreshold: p.cfg.BoxThreshold,
		IoUThreshold: p.cfg.IoUThreshold,
	}

	resp, err := p.call(ctx, req)
	if err != nil {
		p.metrics.ParseDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, err
	}

	raw, skipped := ParseBlob(resp.Elements)
	if skipped > 0 {
		p.logger.Debug("skipped unparseable element entries", zap.Int("skipped", skipped))
	}
	elements := make([]model.UIElement, 0, len(raw))
	for _, r := range raw {
		box := model.ScaleBBox(normalize(r.BBox, imgSize), frame).Offset(origin.X, origin.Y)
		elements = append(elements, model.NewUIElement(len(elements), r.Type, r.Content, box, r.Confidence, r.Interactable))
	}

	ref, ok := annotatedRef(resp.Img)
	if !ok {
		p.logger.Debug("ignoring unrecognized annotated image reference")
	}

	screenOut := model.NewParsedScreen(elements, screen, resp.Elements, ref)
	p.metrics.ParseDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	p.logger.Debug("parsed screen",
		zap.String("screen_id", screenOut.ID),
		zap.Int("elements", len(elements)),
		zap.Duration("elapsed", time.Since(start)))
	return screenOut, nil
}

// call runs the detector under the breaker, retrying timeouts and rate
// limits.
func (p *Parser) call(ctx context.Context, req DetectRequest) (*RawResponse, error) {
	var (
		resp     *RawResponse
		lastErr  error
		attempts int
	)
	_, cbErr := p.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(uint(p.cfg.MaxRetries)),
			retry.RetryIf(retryable),
			retry.DelayType(func(n uint, err error, _ retry.DelayContext) time.Duration {
				return p.retryDelay(n, err)
			}),
		)
		err := r.Do(func() error {
			attempts++
			if err := p.limiter.Wait(ctx); err != nil {
				lastErr = err
				return err
			}
			out, callErr := p.det.Detect(ctx, req)
			if callErr != nil {
				lastErr = callErr
				p.metrics.ParseAttempts.WithLabelValues(attemptResult(callErr)).Inc()
				p.logger.Warn("vision call failed",
					zap.Int("attempt", attempts),
					zap.Int("max_attempts", p.cfg.MaxRetries),
					zap.Error(callErr))
				return callErr
			}
			p.metrics.ParseAttempts.WithLabelValues("ok").Inc()
			resp = out
			return nil
		})
		if err != nil && lastErr != nil {
			err = lastErr
		}
		return resp, err
	})

	if cbErr == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(cbErr, gobreaker.ErrOpenState) || errors.Is(cbErr, gobreaker.ErrTooManyRequests) {
		p.metrics.ParseAttempts.WithLabelValues("rejected").Inc()
		return nil, &ServiceError{Attempts: 0, Err: fmt.Errorf("%w: %v", ErrCircuitOpen, cbErr)}
	}
	return nil, &ServiceError{Attempts: attempts, Err: cbErr}
}

// retryDelay is the wait after failed attempt n (one based, as retry-go
// counts). Rate limits back off as RateLimitBase * 2^(n-1), honouring a
// larger Retry-After hint. Timeouts wait a fixed RetryDelay.
func (p *Parser) retryDelay(n uint, err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		if n < 1 {
			n = 1
		}
		d := p.cfg.RateLimitBase << (n - 1)
		if rl.RetryAfter > d {
			d = rl.RetryAfter
		}
		return d
	}
	return p.cfg.RetryDelay
}

// normalize converts a pixel-space box in image coordinates into [0,1].
// Boxes that are already normalized pass through.
func normalize(b [4]float64, imgSize model.Size) [4]float64 {
	pixel := false
	for _, v := range b {
		if v > 1 {
			pixel = true
			break
		}
	}
	if !pixel || !imgSize.Valid() {
		return b
	}
	w, h := float64(imgSize.Width), float64(imgSize.Height)
	return [4]float64{b[0] / w, b[1] / h, b[2] / w, b[3] / h}
}

func attemptResult(err error) string {
	switch {
	case isTimeout(err):
		return "timeout"
	case isRateLimit(err):
		return "rate_limited"
	default:
		return "error"
	}
}
