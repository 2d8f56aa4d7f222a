package cmd

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mj1618/portal-pilot/internal/agent"
	"github.com/mj1618/portal-pilot/internal/capture"
	"github.com/mj1618/portal-pilot/internal/config"
	"github.com/mj1618/portal-pilot/internal/dispatch"
	"github.com/mj1618/portal-pilot/internal/halt"
	"github.com/mj1618/portal-pilot/internal/metrics"
	"github.com/mj1618/portal-pilot/internal/platform"
	"github.com/mj1618/portal-pilot/internal/vision"
	"github.com/mj1618/portal-pilot/internal/wait"
)

// runtime wires the components every command shares.
type runtime struct {
	cfg       *config.Config
	logger    *zap.Logger
	provider  *platform.Provider
	flag      *halt.Flag
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	sampler   *capture.Sampler
	parser    *vision.Parser
	perceiver *vision.Perceiver
	disp      *dispatch.Dispatcher
	waiter    *wait.Waiter
	obstacles []wait.Obstacle
}

func newRuntime(cfg *config.Config, logger *zap.Logger) (*runtime, error) {
	provider, err := platform.NewProvider()
	if err != nil {
		return nil, err
	}
	if provider.Screenshotter == nil || provider.Inputter == nil {
		return nil, fmt.Errorf("screen capture and input simulation are required")
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	flag := halt.New(cfg.Halt.Slice)

	sampler := capture.NewSampler(provider.Screenshotter, capture.Options{
		Region:   cfg.Capture.Region,
		Upscale:  cfg.Capture.Upscale,
		Contrast: cfg.Capture.Contrast,
	})
	client := vision.NewHTTPClient(cfg.Vision.URL, cfg.Vision.APIKey, cfg.Vision.Timeout)
	parser := vision.NewParser(client, cfg.Vision.Config, logger, m)
	perceiver := vision.NewPerceiver(sampler, parser)

	var clip platform.ClipboardManager
	if cfg.Dispatch.ClipboardTyping {
		clip = provider.Clipboard
	}
	disp := dispatch.New(provider.Inputter, clip, flag, cfg.Dispatch, logger, m)
	waiter := wait.NewWaiter(wait.NewVisionLocator(perceiver), provider.Inputter, flag, logger, m)

	obstacles, err := buildObstacles(cfg.Watch.Obstacles, provider.Inputter)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		provider:  provider,
		flag:      flag,
		registry:  reg,
		metrics:   m,
		sampler:   sampler,
		parser:    parser,
		perceiver: perceiver,
		disp:      disp,
		waiter:    waiter,
		obstacles: obstacles,
	}, nil
}

// newLoop builds a control loop; extra options are appended to the
// configured ones.
func (rt *runtime) newLoop(opts ...agent.Option) *agent.Loop {
	decider := agent.NewHTTPDecider(rt.cfg.Decision.URL, rt.cfg.Decision.Timeout)
	all := []agent.Option{agent.WithMetrics(rt.metrics), agent.WithLogger(rt.logger)}
	if rt.cfg.Audit.Dir != "" {
		all = append(all, agent.WithAuditor(agent.NewDirAuditor(rt.cfg.Audit.Dir)))
	}
	all = append(all, opts...)
	return agent.NewLoop(rt.perceiver, decider, rt.disp, rt.flag, rt.cfg.Loop, all...)
}

// captureOptions applies a --region override to the configured defaults.
func (rt *runtime) captureOptions(region string) (capture.Options, error) {
	opts := capture.Options{
		Region:   rt.cfg.Capture.Region,
		Upscale:  rt.cfg.Capture.Upscale,
		Contrast: rt.cfg.Capture.Contrast,
	}
	if region != "" {
		b, err := platform.ParseBBox(region)
		if err != nil {
			return capture.Options{}, err
		}
		opts.Region = b
	}
	return opts, nil
}

func buildObstacles(list []config.ObstacleConfig, in platform.Inputter) ([]wait.Obstacle, error) {
	obstacles := make([]wait.Obstacle, 0, len(list))
	for i, o := range list {
		switch o.Action {
		case "", "click":
			obstacles = append(obstacles, wait.ClickObstacle(o.Signature, in))
		case "key":
			obstacles = append(obstacles, wait.KeyObstacle(o.Signature, in, o.Key))
		default:
			return nil, fmt.Errorf("watch.obstacles[%d]: unknown action %q", i, o.Action)
		}
	}
	return obstacles, nil
}
