// Package halt implements cooperative cancellation: a shared stop flag that
// long-running automation checks at every sleep and wait boundary.
package halt

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrStopped is returned once a stop request has been observed.
var ErrStopped = errors.New("stop requested")

// DefaultSlice bounds how long a Sleep can go without checking the flag.
const DefaultSlice = 100 * time.Millisecond

// Flag is a stop flag settable from any goroutine.
type Flag struct {
	stop  atomic.Bool
	slice time.Duration
}

// New returns a flag whose sleeps check for a stop request every slice.
func New(slice time.Duration) *Flag {
	if slice <= 0 {
		slice = DefaultSlice
	}
	return &Flag{slice: slice}
}

// Request asks the running automation to stop at its next check.
func (f *Flag) Request() {
	f.stop.Store(true)
}

// Requested reports whether a stop is pending without clearing it.
func (f *Flag) Requested() bool {
	return f.stop.Load()
}

// Reset clears a pending request.
func (f *Flag) Reset() {
	f.stop.Store(false)
}

// Check clears a pending request and reports it as ErrStopped, so the next
// run starts clean.
func (f *Flag) Check() error {
	if f.stop.CompareAndSwap(true, false) {
		return ErrStopped
	}
	return nil
}

// Sleep waits for d in slices, returning ErrStopped as soon as a stop is
// observed or ctx.Err() if the context ends first.
func (f *Flag) Sleep(ctx context.Context, d time.Duration) error {
	if err := f.Check(); err != nil {
		return err
	}
	deadline := time.Now().Add(d)
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		step := f.slice
		if remaining < step {
			step = remaining
		}
		timer.Reset(step)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		if err := f.Check(); err != nil {
			return err
		}
	}
}

// Slice returns the polling granularity.
func (f *Flag) Slice() time.Duration {
	return f.slice
}

// IsStop reports whether err is a cancellation signal: a stop request or an
// ended context.
func IsStop(err error) bool {
	return errors.Is(err, ErrStopped) || errors.Is(err, context.Canceled)
}
