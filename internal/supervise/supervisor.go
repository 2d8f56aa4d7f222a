// Package supervise runs background tasks that must never take the
// process or the control loop down with them.
package supervise

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mj1618/portal-pilot/internal/metrics"
)

// Task is a unit of background work. Returning nil ends it for good; an
// error or a panic schedules a restart.
type Task func(ctx context.Context) error

// Supervisor restarts failed tasks with exponential backoff until the
// context passed to Go is cancelled.
type Supervisor struct {
	logger     *zap.Logger
	metrics    *metrics.Metrics
	minBackoff time.Duration
	maxBackoff time.Duration
	wg         sync.WaitGroup
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithBackoff sets the first and the largest restart delay.
func WithBackoff(minDelay, maxDelay time.Duration) Option {
	return func(s *Supervisor) {
		s.minBackoff = minDelay
		s.maxBackoff = maxDelay
	}
}

// New returns a supervisor with a 1s..1m restart backoff.
func New(logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	s := &Supervisor{
		logger:     logger.Named("supervisor"),
		metrics:    m,
		minBackoff: time.Second,
		maxBackoff: time.Minute,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Go starts task in its own goroutine.
func (s *Supervisor) Go(ctx context.Context, name string, task Task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.supervise(ctx, name, task)
	}()
}

// Wait blocks until every task has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, name string, task Task) {
	log := s.logger.With(zap.String("task", name))
	delay := s.minBackoff
	for {
		started := time.Now()
		err := s.runOnce(ctx, task)
		if err == nil || ctx.Err() != nil {
			log.Debug("task finished", zap.Error(err))
			return
		}

		// a task that ran for a while before failing starts over from the
		// smallest delay
		if time.Since(started) > s.maxBackoff {
			delay = s.minBackoff
		}
		s.metrics.TaskRestarts.WithLabelValues(name).Inc()
		log.Warn("task failed, restarting", zap.Error(err), zap.Duration("backoff", delay))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		delay *= 2
		if delay > s.maxBackoff {
			delay = s.maxBackoff
		}
	}
}

// ErrPanic wraps a recovered task panic.
var ErrPanic = errors.New("task panicked")

func (s *Supervisor) runOnce(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("recovered task panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return task(ctx)
}
