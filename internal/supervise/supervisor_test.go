package supervise

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mj1618/portal-pilot/internal/metrics"
	"github.com/mj1618/portal-pilot/internal/model"
	"github.com/mj1618/portal-pilot/internal/wait"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastSupervisor(m *metrics.Metrics) *Supervisor {
	return New(nil, m, WithBackoff(time.Millisecond, 5*time.Millisecond))
}

func TestSupervisor_RestartsFailingTask(t *testing.T) {
	m := metrics.New(nil)
	s := fastSupervisor(m)

	var runs atomic.Int32
	s.Go(context.Background(), "flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("boom")
		}
		return nil
	})
	s.Wait()

	assert.EqualValues(t, 3, runs.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TaskRestarts.WithLabelValues("flaky")))
}

func TestSupervisor_RecoversPanics(t *testing.T) {
	m := metrics.New(nil)
	s := fastSupervisor(m)

	var runs atomic.Int32
	s.Go(context.Background(), "panicky", func(context.Context) error {
		if runs.Add(1) == 1 {
			panic("nil map")
		}
		return nil
	})
	s.Wait()

	assert.EqualValues(t, 2, runs.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TaskRestarts.WithLabelValues("panicky")))
}

func TestSupervisor_StopsOnCancel(t *testing.T) {
	s := New(nil, nil, WithBackoff(time.Hour, time.Hour))
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	s.Go(ctx, "failing", func(context.Context) error {
		select {
		case <-started:
		default:
			close(started)
		}
		return errors.New("always")
	})
	<-started
	cancel()

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop while backing off")
	}
}

func TestRunOnce_WrapsPanic(t *testing.T) {
	s := New(nil, nil)
	err := s.runOnce(context.Background(), func(context.Context) error { panic("x") })
	assert.ErrorIs(t, err, ErrPanic)
}

type warmer struct{ calls atomic.Int32 }

func (w *warmer) WarmUp(context.Context) { w.calls.Add(1) }

func TestWarmUp_RunsOnce(t *testing.T) {
	s := fastSupervisor(nil)
	w := &warmer{}
	s.Go(context.Background(), "warmup", WarmUp(w))
	s.Wait()
	assert.EqualValues(t, 1, w.calls.Load())
}

type alwaysFound struct{ calls atomic.Int32 }

func (l *alwaysFound) LocateAll(_ context.Context, sigs []wait.Signature) ([]*model.Point, error) {
	l.calls.Add(1)
	out := make([]*model.Point, len(sigs))
	for i := range sigs {
		out[i] = &model.Point{X: 1, Y: 2}
	}
	return out, nil
}

type neverFound struct{}

func (neverFound) LocateAll(_ context.Context, sigs []wait.Signature) ([]*model.Point, error) {
	return make([]*model.Point, len(sigs)), nil
}

func TestModalWatcher_DismissesWhenIdle(t *testing.T) {
	loc := &alwaysFound{}
	d := wait.NewDismisser(wait.NewWaiter(loc, nil, nil, nil, nil))

	var handled atomic.Int32
	obstacles := []wait.Obstacle{{
		Signature: wait.Signature{Name: "session-expired", Text: "Session expired"},
		Handle: func(context.Context, model.Point) error {
			handled.Add(1)
			return nil
		},
	}}

	var busy atomic.Bool
	busy.Store(true)
	ctx, cancel := context.WithCancel(context.Background())
	task := ModalWatcher(d, obstacles, 2*time.Millisecond, busy.Load, nil)

	done := make(chan error, 1)
	go func() { done <- task(ctx) }()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, loc.calls.Load(), "must not look at the screen while a job runs")

	busy.Store(false)
	require.Eventually(t, func() bool { return handled.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestModalWatcher_NothingToWatch(t *testing.T) {
	task := ModalWatcher(nil, nil, time.Millisecond, nil, nil)
	assert.NoError(t, task(context.Background()))
}

type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func TestIdleVerifier_SetsGauge(t *testing.T) {
	m := metrics.New(nil)
	sig := wait.Signature{Text: "Search patients"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- IdleVerifier(&alwaysFound{}, sig, every(time.Millisecond), nil, m, nil)(ctx) }()
	require.Eventually(t, func() bool { return testutil.ToFloat64(m.IdleScreen) == 1 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	ctx, cancel = context.WithCancel(context.Background())
	go func() { done <- IdleVerifier(neverFound{}, sig, every(time.Millisecond), nil, m, nil)(ctx) }()
	require.Eventually(t, func() bool { return testutil.ToFloat64(m.IdleScreen) == 0 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestParseSchedule(t *testing.T) {
	for _, expr := range []string{"@every 1m", "*/5 * * * *", "@hourly"} {
		_, err := ParseSchedule(expr)
		assert.NoError(t, err, expr)
	}
	_, err := ParseSchedule("every minute")
	assert.Error(t, err)
}
