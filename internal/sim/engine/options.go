package engine

import (
	"time"

	"github.com/signalsfoundry/custody-relay-sim/internal/sim/contact"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/eventq"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/metrics"
)

// StepObserver receives the wall-clock cost of each Step.
type StepObserver interface {
	ObserveStep(d time.Duration)
}

// Option customises a Simulation.
type Option func(*Simulation)

// WithRecorder mirrors metrics records to r, e.g. a Prometheus collector.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Simulation) { s.recorder = r }
}

// WithQueueObserver attaches an observer to every event queue the
// simulation builds.
func WithQueueObserver(o eventq.Observer) Option {
	return func(s *Simulation) { s.queueObserver = o }
}

// WithStepObserver reports Step durations to o.
func WithStepObserver(o StepObserver) Option {
	return func(s *Simulation) { s.stepObserver = o }
}

// WithContactModel replaces the contact model built from the options. The
// model must be deterministic for a given seed to keep replays identical.
func WithContactModel(build func(seed uint64) (contact.Model, error)) Option {
	return func(s *Simulation) { s.contactFactory = build }
}

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id string) Option {
	return func(s *Simulation) {
		if id != "" {
			s.runID = id
		}
	}
}
