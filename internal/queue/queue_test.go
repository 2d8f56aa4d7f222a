package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mj1618/portal-pilot/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEnqueue_SequentialPositions(t *testing.T) {
	q := New()
	for i := 1; i <= 5; i++ {
		pos, should := q.EnqueueAndMaybeBecomeProcessor(NewJob(fmt.Sprintf("h%d", i), nil))
		assert.Equal(t, i, pos)
		assert.Equal(t, i == 1, should, "only the first submission becomes the processor")
	}
	st := q.Status()
	assert.Equal(t, 5, st.Pending)
	assert.Equal(t, []string{"h1", "h2", "h3", "h4", "h5"}, st.Queue)
	assert.Equal(t, model.StatusIdle, st.CurrentStatus)
}

func TestEnqueue_ConcurrentSingleProcessor(t *testing.T) {
	q := New()
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		positions []int
		winners   int32
	)
	start := make(chan struct{})
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			pos, should := q.EnqueueAndMaybeBecomeProcessor(NewJob(fmt.Sprintf("job-%d", i), nil))
			if should {
				atomic.AddInt32(&winners, 1)
			}
			mu.Lock()
			positions = append(positions, pos)
			mu.Unlock()
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners)
	sort.Ints(positions)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, positions)

	assert.Len(t, q.Status().Queue, 5)

	q.MarkProcessorFinished()
	_, should := q.EnqueueAndMaybeBecomeProcessor(NewJob("late", nil))
	assert.True(t, should, "a submission after MarkProcessorFinished must start a processor")
}

func TestDequeue_FIFO(t *testing.T) {
	q := New()
	_, ok := q.Dequeue()
	assert.False(t, ok)

	q.EnqueueAndMaybeBecomeProcessor(NewJob("a", nil))
	q.EnqueueAndMaybeBecomeProcessor(NewJob("b", nil))

	j, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "a", j.Tag)
	j, ok = q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "b", j.Tag)
	assert.Equal(t, 0, q.Status().Pending)
	assert.True(t, q.Processing(), "dequeue alone does not finish the processor")
}

func TestNextClearsProcessingWhenEmpty(t *testing.T) {
	q := New()
	q.EnqueueAndMaybeBecomeProcessor(NewJob("a", nil))
	_, ok := q.next()
	require.True(t, ok)
	assert.True(t, q.Processing())
	_, ok = q.next()
	assert.False(t, ok)
	assert.False(t, q.Processing())
}

func TestSetCurrentStatus(t *testing.T) {
	q := New()
	q.SetCurrentStatus(model.StatusRunning)
	assert.Equal(t, model.StatusRunning, q.Status().CurrentStatus)
}

func TestProcessor_RunsJobsInOrderOneAtATime(t *testing.T) {
	var (
		mu      sync.Mutex
		order   []string
		active  int32
		maxSeen int32
	)
	release := make(chan struct{})
	handler := func(ctx context.Context, job Job) error {
		n := atomic.AddInt32(&active, 1)
		defer atomic.AddInt32(&active, -1)
		for {
			m := atomic.LoadInt32(&maxSeen)
			if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
				break
			}
		}
		if job.Tag == "first" {
			<-release
		}
		mu.Lock()
		order = append(order, job.Tag)
		mu.Unlock()
		switch job.Tag {
		case "boom":
			panic("handler panic")
		case "fail":
			return errors.New("flow failed")
		}
		return nil
	}

	p := NewProcessor(New(), handler, nil, nil)
	ctx := context.Background()

	_, started := p.Submit(ctx, NewJob("first", nil))
	assert.True(t, started)
	for _, tag := range []string{"boom", "fail", "last"} {
		pos, started := p.Submit(ctx, NewJob(tag, nil))
		assert.False(t, started)
		assert.Greater(t, pos, 0)
	}
	close(release)
	p.Wait()

	assert.Equal(t, []string{"first", "boom", "fail", "last"}, order)
	assert.Equal(t, int32(1), maxSeen)
	assert.False(t, p.Queue().Processing())

	_, started = p.Submit(ctx, NewJob("again", nil))
	assert.True(t, started)
	p.Wait()
}

func TestProcessor_StopsOnCancelledContext(t *testing.T) {
	ran := make(chan string, 4)
	p := NewProcessor(New(), func(ctx context.Context, job Job) error {
		ran <- job.Tag
		return nil
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Submit(ctx, NewJob("never", nil))
	p.Wait()

	select {
	case tag := <-ran:
		t.Fatalf("job %q ran after cancellation", tag)
	case <-time.After(20 * time.Millisecond):
	}
	assert.False(t, p.Queue().Processing())
	assert.Equal(t, 1, p.Queue().Status().Pending)
}

func TestProcessor_HoldScreen(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	p := NewProcessor(New(), func(ctx context.Context, job Job) error {
		close(started)
		<-release
		return nil
	}, nil, nil)

	p.Submit(context.Background(), NewJob("busy", nil))
	<-started

	_, err := p.HoldScreen()
	require.ErrorIs(t, err, ErrScreenBusy)

	close(release)
	p.Wait()

	done, err := p.HoldScreen()
	require.NoError(t, err)
	_, err = p.HoldScreen()
	assert.ErrorIs(t, err, ErrScreenBusy, "a second direct holder is refused")
	done()
}

func TestProcessor_JobWaitsForScreenHolder(t *testing.T) {
	ran := make(chan struct{})
	p := NewProcessor(New(), func(ctx context.Context, job Job) error {
		close(ran)
		return nil
	}, nil, nil)

	done, err := p.HoldScreen()
	require.NoError(t, err)
	p.Submit(context.Background(), NewJob("queued", nil))

	select {
	case <-ran:
		t.Fatal("job ran while the screen was held")
	case <-time.After(30 * time.Millisecond):
	}
	done()
	<-ran
	p.Wait()
}
