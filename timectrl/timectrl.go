// Package timectrl paces simulation steps against a wall clock for a render
// loop. The simulation core never reads wall time; only this driver does.
package timectrl

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// SimClock is an interface for accessing simulation time.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances one Tick of simulated time per Tick of wall time.
	RealTime Mode = iota
	// Accelerated advances one Tick of simulated time every Tick/Speed of
	// wall time.
	Accelerated
)

// TimeController drives simulation time and notifies registered listeners.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode
	// Speed is the acceleration factor used in Accelerated mode.
	Speed float64

	clock       clock.Clock
	currentTime time.Time
	listeners   []func(time.Time)
}

// Option customises a TimeController.
type Option func(*TimeController)

// WithClock replaces the wall clock, typically with clock.NewMock in tests.
func WithClock(c clock.Clock) Option {
	return func(tc *TimeController) {
		if c != nil {
			tc.clock = c
		}
	}
}

// WithSpeed sets the acceleration factor for Accelerated mode.
func WithSpeed(speed float64) Option {
	return func(tc *TimeController) {
		if speed > 0 {
			tc.Speed = speed
		}
	}
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode, opts ...Option) *TimeController {
	tc := &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		Speed:       1,
		clock:       clock.New(),
		currentTime: start,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(tc)
		}
	}
	return tc
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// Elapsed returns simulated time since StartTime.
func (tc *TimeController) Elapsed() time.Duration {
	return tc.Now().Sub(tc.StartTime)
}

// SetTime jumps the simulation clock.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.mu.Unlock()
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// WallInterval returns the wall-clock time between ticks.
func (tc *TimeController) WallInterval() time.Duration {
	if tc.Mode == Accelerated && tc.Speed > 0 {
		if d := time.Duration(float64(tc.Tick) / tc.Speed); d > 0 {
			return d
		}
		return time.Nanosecond
	}
	return tc.Tick
}

// Start runs the controller for the specified simulated duration (forever
// when zero) in a separate goroutine. It returns a channel that is closed
// when the controller finishes.
func (tc *TimeController) Start(duration time.Duration) <-chan struct{} {
	return tc.StartContext(context.Background(), duration)
}

// StartContext is Start with cancellation.
func (tc *TimeController) StartContext(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})

	tc.mu.Lock()
	simTime := tc.StartTime
	tc.currentTime = simTime
	tc.mu.Unlock()

	// Created before the goroutine so a mock clock advanced right after
	// Start still fires it.
	ticker := tc.clock.Ticker(tc.WallInterval())

	go func() {
		defer close(done)
		defer ticker.Stop()

		elapsed := time.Duration(0)
		for {
			if duration > 0 && elapsed >= duration {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			simTime = simTime.Add(tc.Tick)
			elapsed += tc.Tick

			tc.mu.Lock()
			tc.currentTime = simTime
			listeners := append([]func(time.Time){}, tc.listeners...)
			tc.mu.Unlock()

			for _, fn := range listeners {
				fn(simTime)
			}
		}
	}()
	return done
}
