package halt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCheckClearsRequest(t *testing.T) {
	f := New(10 * time.Millisecond)
	assert.NoError(t, f.Check())

	f.Request()
	assert.True(t, f.Requested())
	assert.ErrorIs(t, f.Check(), ErrStopped)
	assert.False(t, f.Requested(), "check must clear the flag")
	assert.NoError(t, f.Check())
}

func TestSleepCompletes(t *testing.T) {
	f := New(10 * time.Millisecond)
	start := time.Now()
	require.NoError(t, f.Sleep(context.Background(), 35*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestSleepInterruptedWithinOneSlice(t *testing.T) {
	f := New(50 * time.Millisecond)
	go func() {
		time.Sleep(100 * time.Millisecond)
		f.Request()
	}()

	start := time.Now()
	err := f.Sleep(context.Background(), 10*time.Second)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrStopped)
	assert.Less(t, elapsed, 300*time.Millisecond, "stop must be observed within one slice")
	assert.False(t, f.Requested())
}

func TestSleepPendingRequestReturnsImmediately(t *testing.T) {
	f := New(0)
	assert.Equal(t, DefaultSlice, f.Slice())
	f.Request()
	start := time.Now()
	assert.ErrorIs(t, f.Sleep(context.Background(), time.Second), ErrStopped)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestSleepHonoursContext(t *testing.T) {
	f := New(20 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := f.Sleep(ctx, time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, IsStop(err))
	assert.True(t, IsStop(ErrStopped))
}
