package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvariantViolation is matched by every InvariantViolation.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrHalted is returned by Step after an invariant violation halted the
	// run. The last valid snapshot stays available.
	ErrHalted = errors.New("simulation halted")
	// ErrNegativeStep rejects Step calls with a negative delta.
	ErrNegativeStep = errors.New("step delta must be >= 0")
	// ErrStopped is returned by Runner.Tick after Stop.
	ErrStopped = errors.New("simulation stopped")
)

// InvariantViolation reports an engine defect. It is fatal for the run.
type InvariantViolation struct {
	At     time.Duration
	Reason string
	Err    error
}

func (e *InvariantViolation) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s at %s: %s: %v", ErrInvariantViolation, e.At, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s at %s: %s", ErrInvariantViolation, e.At, e.Reason)
}

// Is makes errors.Is(err, ErrInvariantViolation) hold.
func (e *InvariantViolation) Is(target error) bool { return target == ErrInvariantViolation }

// Unwrap returns the underlying cause, if any.
func (e *InvariantViolation) Unwrap() error { return e.Err }

func violation(at time.Duration, err error, format string, args ...any) *InvariantViolation {
	return &InvariantViolation{At: at, Reason: fmt.Sprintf(format, args...), Err: err}
}
