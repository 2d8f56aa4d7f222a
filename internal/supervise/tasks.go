package supervise

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mj1618/portal-pilot/internal/metrics"
	"github.com/mj1618/portal-pilot/internal/wait"
)

// Busy reports whether a job currently owns the screen.
type Busy func() bool

// WarmUpper primes the vision service.
type WarmUpper interface {
	WarmUp(ctx context.Context)
}

// WarmUp runs w once.
func WarmUp(w WarmUpper) Task {
	return func(ctx context.Context) error {
		w.WarmUp(ctx)
		return nil
	}
}

// ModalWatcher dismisses known obstacles every interval while no job is
// running. A failing pass is logged and does not stop the watcher.
func ModalWatcher(d *wait.Dismisser, obstacles []wait.Obstacle, interval time.Duration, busy Busy, logger *zap.Logger) Task {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) error {
		if len(obstacles) == 0 || interval <= 0 {
			return nil
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			if busy != nil && busy() {
				continue
			}
			if _, err := d.DismissOnce(ctx, obstacles); err != nil && ctx.Err() == nil {
				logger.Debug("modal watcher pass failed", zap.Error(err))
			}
		}
	}
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts five-field cron expressions and descriptors such as
// "@every 1m" or "@hourly".
func ParseSchedule(expr string) (cron.Schedule, error) {
	s, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return s, nil
}

// IdleVerifier checks on schedule that the idle screen is showing sig and
// publishes the result on the IdleScreen gauge. Checks are skipped while a
// job is running.
func IdleVerifier(loc wait.Locator, sig wait.Signature, schedule cron.Schedule, busy Busy, m *metrics.Metrics, logger *zap.Logger) Task {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return func(ctx context.Context) error {
		for {
			now := time.Now()
			t := time.NewTimer(schedule.Next(now).Sub(now))
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
			if busy != nil && busy() {
				continue
			}
			found, err := loc.LocateAll(ctx, []wait.Signature{sig})
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("idle check: %w", err)
			}
			if len(found) > 0 && found[0] != nil {
				m.IdleScreen.Set(1)
				continue
			}
			m.IdleScreen.Set(0)
			logger.Warn("idle screen not showing", zap.Stringer("expected", sig))
		}
	}
}
