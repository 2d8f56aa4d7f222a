package wait

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mj1618/portal-pilot/internal/halt"
	"github.com/mj1618/portal-pilot/internal/metrics"
	"github.com/mj1618/portal-pilot/internal/model"
	"github.com/mj1618/portal-pilot/internal/platform"
)

// Options bound one wait.
type Options struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ConfirmDelay time.Duration `mapstructure:"confirm_delay"`
	// Click clicks the confirmed target before returning.
	Click bool `mapstructure:"-"`
}

// DefaultOptions returns the wait defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:      30 * time.Second,
		PollInterval: 500 * time.Millisecond,
		ConfirmDelay: 300 * time.Millisecond,
	}
}

// Waiter polls a Locator. All sleeps go through the stop flag.
type Waiter struct {
	loc     Locator
	input   platform.Inputter
	flag    *halt.Flag
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewWaiter returns a waiter. input is only needed for Options.Click.
func NewWaiter(loc Locator, input platform.Inputter, flag *halt.Flag, logger *zap.Logger, m *metrics.Metrics) *Waiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if flag == nil {
		flag = halt.New(0)
	}
	return &Waiter{loc: loc, input: input, flag: flag, logger: logger.Named("wait"), metrics: m}
}

// WaitFor blocks until target is found and confirmed, handling obstacles in
// priority order while it is absent. It returns the target location, or
// nil when opts.Timeout elapses. The deadline is fixed on entry, so time
// spent on obstacles counts against it. The error is non-nil only for
// cancellation.
func (w *Waiter) WaitFor(ctx context.Context, target Signature, obstacles []Obstacle, opts Options) (*model.Point, error) {
	opts = withDefaults(opts)
	log := w.logger.With(zap.Stringer("target", target))
	deadline := time.Now().Add(opts.Timeout)
	sigs := signatures(&target, obstacles)

	for time.Now().Before(deadline) {
		if err := w.checkStop(ctx); err != nil {
			w.metrics.Waits.WithLabelValues("stopped").Inc()
			return nil, err
		}

		found, err := w.locate(ctx, sigs)
		if err != nil {
			if stopErr := w.checkStop(ctx); stopErr != nil {
				w.metrics.Waits.WithLabelValues("stopped").Inc()
				return nil, stopErr
			}
			log.Warn("locate failed, treating as not found", zap.Error(err))
			found = make([]*model.Point, len(sigs))
		}

		if found[0] != nil {
			pt, err := w.confirm(ctx, target, opts)
			if err != nil {
				w.metrics.Waits.WithLabelValues("stopped").Inc()
				return nil, err
			}
			if pt != nil {
				if opts.Click && w.input != nil {
					if err := w.input.Click(pt.X, pt.Y, platform.MouseLeft, 1); err != nil {
						log.Warn("click on confirmed target failed", zap.Error(err))
					}
				}
				w.metrics.Waits.WithLabelValues("found").Inc()
				log.Debug("target found", zap.Int("x", pt.X), zap.Int("y", pt.Y))
				return pt, nil
			}
			log.Debug("target vanished during confirmation")
			continue
		}

		if w.handleFirst(ctx, obstacles, found[1:]) {
			continue
		}

		if err := w.flag.Sleep(ctx, minDuration(opts.PollInterval, time.Until(deadline))); err != nil {
			w.metrics.Waits.WithLabelValues("stopped").Inc()
			return nil, err
		}
	}

	w.metrics.Waits.WithLabelValues("timeout").Inc()
	log.Info("wait timed out", zap.Duration("timeout", opts.Timeout))
	return nil, nil
}

// WaitForDisappear blocks until target is no longer found. It returns
// false when opts.Timeout elapses first. Locate errors count as "still
// present".
func (w *Waiter) WaitForDisappear(ctx context.Context, target Signature, opts Options) (bool, error) {
	opts = withDefaults(opts)
	log := w.logger.With(zap.Stringer("target", target))
	deadline := time.Now().Add(opts.Timeout)

	for time.Now().Before(deadline) {
		if err := w.checkStop(ctx); err != nil {
			w.metrics.Waits.WithLabelValues("stopped").Inc()
			return false, err
		}
		found, err := w.locate(ctx, []Signature{target})
		switch {
		case err != nil:
			if stopErr := w.checkStop(ctx); stopErr != nil {
				w.metrics.Waits.WithLabelValues("stopped").Inc()
				return false, stopErr
			}
			log.Warn("locate failed while waiting for disappearance", zap.Error(err))
		case found[0] == nil:
			w.metrics.Waits.WithLabelValues("gone").Inc()
			return true, nil
		}
		if err := w.flag.Sleep(ctx, minDuration(opts.PollInterval, time.Until(deadline))); err != nil {
			w.metrics.Waits.WithLabelValues("stopped").Inc()
			return false, err
		}
	}
	w.metrics.Waits.WithLabelValues("timeout").Inc()
	return false, nil
}

// confirm waits the confirmation interval and locates target again. A nil
// point means it was mid-transition.
func (w *Waiter) confirm(ctx context.Context, target Signature, opts Options) (*model.Point, error) {
	if err := w.flag.Sleep(ctx, opts.ConfirmDelay); err != nil {
		return nil, err
	}
	found, err := w.locate(ctx, []Signature{target})
	if err != nil {
		if stopErr := w.checkStop(ctx); stopErr != nil {
			return nil, stopErr
		}
		return nil, nil
	}
	return found[0], nil
}

// handleFirst runs the handler of the first obstacle that was found.
func (w *Waiter) handleFirst(ctx context.Context, obstacles []Obstacle, found []*model.Point) bool {
	for i, o := range obstacles {
		if i >= len(found) || found[i] == nil {
			continue
		}
		name := o.Signature.String()
		w.metrics.Obstacles.WithLabelValues(name).Inc()
		if err := o.Handle(ctx, *found[i]); err != nil {
			w.logger.Warn("obstacle handler failed", zap.String("obstacle", name), zap.Error(err))
		} else {
			w.logger.Info("dismissed obstacle", zap.String("obstacle", name))
		}
		return true
	}
	return false
}

// locate pads short locator answers so every signature has an entry.
func (w *Waiter) locate(ctx context.Context, sigs []Signature) ([]*model.Point, error) {
	found, err := w.loc.LocateAll(ctx, sigs)
	if err != nil {
		return nil, err
	}
	if len(found) < len(sigs) {
		found = append(found, make([]*model.Point, len(sigs)-len(found))...)
	}
	return found, nil
}

func (w *Waiter) checkStop(ctx context.Context) error {
	if err := w.flag.Check(); err != nil {
		return err
	}
	return ctx.Err()
}

func withDefaults(o Options) Options {
	d := DefaultOptions()
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.ConfirmDelay < 0 {
		o.ConfirmDelay = 0
	}
	return o
}

func minDuration(a, b time.Duration) time.Duration {
	if b < a {
		return b
	}
	return a
}
