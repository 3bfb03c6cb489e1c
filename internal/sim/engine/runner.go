package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/custody-relay-sim/internal/logging"
	"github.com/signalsfoundry/custody-relay-sim/kb"
	"github.com/signalsfoundry/custody-relay-sim/timectrl"
)

// Runner shares a Simulation between a render loop and a control surface.
// Every call is serialised, so parameter changes and stop requests only
// take effect between steps.
type Runner struct {
	mu      sync.Mutex
	sim     *Simulation
	kb      *kb.KnowledgeBase
	log     logging.Logger
	stopped bool
}

// RunnerOption customises a Runner.
type RunnerOption func(*Runner)

// WithKnowledgeBase publishes node status to k after every tick.
func WithKnowledgeBase(k *kb.KnowledgeBase) RunnerOption {
	return func(r *Runner) { r.kb = k }
}

// WithRunnerLogger sets the logger used for tick failures.
func WithRunnerLogger(log logging.Logger) RunnerOption {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRunner wraps sim. Nodes are registered in the knowledge base, if one is
// configured.
func NewRunner(sim *Simulation, opts ...RunnerOption) (*Runner, error) {
	r := &Runner{sim: sim, log: logging.Noop()}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.kb != nil {
		for _, n := range sim.Nodes() {
			if _, ok := r.kb.GetNode(n.ID); ok {
				continue
			}
			if err := r.kb.AddNode(n); err != nil {
				return nil, fmt.Errorf("register node %s: %w", n.ID, err)
			}
		}
		r.publish(sim.LastSnapshot())
	}
	return r, nil
}

// Stage queues a parameter change for the next tick.
func (r *Runner) Stage(u ParamUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sim.StageUpdate(u)
}

// Stop asks the runner to stop at the next tick boundary. The last snapshot
// stays valid.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
}

// Stopped reports whether Stop was called.
func (r *Runner) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Snapshot returns the state after the last completed tick.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sim.LastSnapshot()
}

// Reset restarts the wrapped simulation with seed and clears a stop request.
func (r *Runner) Reset(seed uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.sim.Reset(seed); err != nil {
		return err
	}
	r.stopped = false
	r.publish(r.sim.LastSnapshot())
	return nil
}

// Tick advances the simulation by delta.
func (r *Runner) Tick(ctx context.Context, delta time.Duration) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return r.sim.LastSnapshot(), ErrStopped
	}
	snap, err := r.sim.StepContext(ctx, delta)
	if err == nil {
		r.publish(snap)
	}
	return snap, err
}

// Run drives the simulation from tc: every controller tick advances the
// simulation by tc.Tick. Ticks that arrive while a step is still running are
// coalesced. Run returns nil when the run reaches its end time or Stop is
// called, and ctx.Err() on cancellation.
func (r *Runner) Run(ctx context.Context, tc *timectrl.TimeController) error {
	ctx, cancel := context.WithCancel(ctx)

	ticks := make(chan struct{}, 1)
	tc.AddListener(func(time.Time) {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})
	finished := tc.StartContext(ctx, 0)
	defer func() {
		cancel()
		<-finished
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticks:
		}
		snap, err := r.Tick(ctx, tc.Tick)
		switch {
		case errors.Is(err, ErrStopped):
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case err != nil:
			r.log.Error(ctx, "tick failed", logging.Err(err))
			return err
		case snap.Done:
			return nil
		}
	}
}

func (r *Runner) publish(snap Snapshot) {
	if r.kb == nil {
		return
	}
	for _, n := range snap.Nodes {
		ns := n
		err := r.kb.Update(ns.ID, func(st *kb.NodeStatus) {
			st.Position = ns.Position
			st.HasPosition = ns.HasPosition
			st.StoredBundles = len(ns.Bundles)
			st.UsedBytes = ns.UsedBytes
			st.UpdatedAt = snap.Time
		})
		if err != nil {
			r.log.Warn(context.Background(), "publish node status", logging.String("node", string(ns.ID)), logging.Err(err))
		}
	}
}
