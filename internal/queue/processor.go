package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/mj1618/portal-pilot/internal/metrics"
	"go.uber.org/zap"
)

// Handler runs one job. It is called from the single processor goroutine.
type Handler func(ctx context.Context, job Job) error

// ErrScreenBusy is returned by HoldScreen while a job owns the screen.
var ErrScreenBusy = errors.New("screen is in use by a running job")

// Processor drains a Queue with at most one worker goroutine.
type Processor struct {
	q       *Queue
	handle  Handler
	logger  *zap.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup

	// screen is held by a running job or by a direct HoldScreen caller
	screen sync.Mutex
}

// NewProcessor wires a queue to a job handler.
func NewProcessor(q *Queue, handle Handler, logger *zap.Logger, m *metrics.Metrics) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Processor{q: q, handle: handle, logger: logger.Named("queue"), metrics: m}
}

// Queue exposes the underlying queue for status queries.
func (p *Processor) Queue() *Queue {
	return p.q
}

// Submit enqueues job and starts the processor goroutine if the caller was
// chosen to process. ctx bounds the processor's lifetime, not the
// submission.
func (p *Processor) Submit(ctx context.Context, job Job) (position int, started bool) {
	position, started = p.q.EnqueueAndMaybeBecomeProcessor(job)
	p.metrics.QueueDepth.Set(float64(p.q.Status().Pending))
	p.logger.Info("job queued",
		zap.String("job_id", job.ID),
		zap.String("tag", job.Tag),
		zap.Int("position", position),
		zap.Bool("processor", started))

	if started {
		p.wg.Add(1)
		go p.drain(ctx)
	}
	return position, started
}

// HoldScreen takes the screen for a direct interaction outside the queue.
// It fails with ErrScreenBusy while a job runs; a job that becomes due
// while the screen is held starts once release is called.
func (p *Processor) HoldScreen() (release func(), err error) {
	if !p.screen.TryLock() {
		return nil, ErrScreenBusy
	}
	return p.screen.Unlock, nil
}

// Wait blocks until the current processor, if any, has exited.
func (p *Processor) Wait() {
	p.wg.Wait()
}

func (p *Processor) drain(ctx context.Context) {
	defer p.wg.Done()
	for {
		if ctx.Err() != nil {
			p.q.MarkProcessorFinished()
			return
		}
		job, ok := p.q.next()
		p.metrics.QueueDepth.Set(float64(p.q.Status().Pending))
		if !ok {
			p.logger.Debug("queue drained, processor exiting")
			return
		}
		p.run(ctx, job)
	}
}

func (p *Processor) run(ctx context.Context, job Job) {
	logger := p.logger.With(zap.String("job_id", job.ID), zap.String("tag", job.Tag))
	defer func() {
		if r := recover(); r != nil {
			p.metrics.Jobs.WithLabelValues("panic").Inc()
			logger.Error("job panicked",
				zap.String("panic", fmt.Sprint(r)),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	p.screen.Lock()
	defer p.screen.Unlock()

	logger.Info("job started")
	if err := p.handle(ctx, job); err != nil {
		p.metrics.Jobs.WithLabelValues("error").Inc()
		logger.Error("job failed", zap.Error(err))
		return
	}
	p.metrics.Jobs.WithLabelValues("ok").Inc()
	logger.Info("job finished")
}
