package playback

import (
	"context"
	"time"
)

// Scheduler runs a callback once after a delay. The returned function cancels
// the callback if it has not fired yet; calling it more than once is safe.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) (cancel func())
}

// DefaultTickResolution is the polling interval of WallClock.
const DefaultTickResolution = 5 * time.Millisecond

// WallClock is a Scheduler that measures delays against the wall clock,
// polling at a fixed resolution.
type WallClock struct {
	Resolution time.Duration
}

// NewWallClock creates a wall-clock scheduler. A non-positive resolution
// falls back to DefaultTickResolution.
func NewWallClock(resolution time.Duration) *WallClock {
	if resolution <= 0 {
		resolution = DefaultTickResolution
	}
	return &WallClock{Resolution: resolution}
}

// AfterFunc implements Scheduler.
func (w *WallClock) AfterFunc(d time.Duration, fn func()) func() {
	ctx, cancel := context.WithCancel(context.Background())
	resolution := w.Resolution
	if resolution <= 0 {
		resolution = DefaultTickResolution
	}

	go func() {
		endTime := toWallTime(time.Now()).Add(d)
		ticker := time.NewTicker(resolution)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !toWallTime(time.Now()).Before(endTime) {
					fn()
					return
				}
			}
		}
	}()

	return cancel
}

// toWallTime returns the time with monotonic clock stripped, so that
// differences follow the wall clock.
func toWallTime(t time.Time) time.Time {
	return time.Unix(t.Unix(), int64(t.Nanosecond()))
}
