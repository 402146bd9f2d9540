// Package timectrl steps frame time for periodic geolocation work.
package timectrl

import (
	"context"
	"sync"
	"time"
)

// Mode describes how a FrameClock advances.
type Mode int

const (
	// RealTime waits one Tick of wall-clock time between frames.
	RealTime Mode = iota
	// Accelerated emits frames back to back, still stepping by Tick.
	Accelerated
)

// FrameClock advances frame time by Tick and notifies listeners on every
// frame.
type FrameClock struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	current   time.Time
	listeners []func(context.Context, time.Time)
}

func NewFrameClock(start time.Time, tick time.Duration, mode Mode) *FrameClock {
	return &FrameClock{
		StartTime: start,
		Tick:      tick,
		Mode:      mode,
		current:   start,
	}
}

// Now returns the time of the last emitted frame, or StartTime before the
// first one.
func (fc *FrameClock) Now() time.Time {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return fc.current
}

// SetTime moves the clock without notifying listeners.
func (fc *FrameClock) SetTime(t time.Time) {
	fc.mu.Lock()
	fc.current = t
	fc.mu.Unlock()
}

// AddListener registers a callback invoked on every frame. Register
// listeners before Run.
func (fc *FrameClock) AddListener(fn func(context.Context, time.Time)) {
	fc.listeners = append(fc.listeners, fn)
}

// Run emits frames in a separate goroutine, the first at StartTime, until
// ctx is done or, when frames > 0, that many frames were emitted. The
// returned channel is closed when it stops.
func (fc *FrameClock) Run(ctx context.Context, frames int) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		var ticker *time.Ticker
		if fc.Mode == RealTime {
			ticker = time.NewTicker(fc.Tick)
			defer ticker.Stop()
		}

		frameTime := fc.StartTime
		for n := 0; frames <= 0 || n < frames; n++ {
			if n > 0 {
				frameTime = frameTime.Add(fc.Tick)
				if ticker != nil {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
					}
				}
			}
			if ctx.Err() != nil {
				return
			}
			fc.SetTime(frameTime)
			for _, fn := range fc.listeners {
				fn(ctx, frameTime)
			}
		}
	}()
	return done
}
