package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/signalsfoundry/custody-relay-sim/internal/logging"
	"github.com/signalsfoundry/custody-relay-sim/internal/observability"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/eventq"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/game"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/metrics"
	"github.com/signalsfoundry/custody-relay-sim/model"
)

// Step advances the clock by at most delta, capped at the end time, and
// processes every event in the interval. A staged ParamUpdate is applied
// first.
//
// If an invariant breaks, the run halts: Step returns the last valid
// snapshot with the *InvariantViolation, and every later call returns
// ErrHalted.
func (s *Simulation) Step(delta time.Duration) (Snapshot, error) {
	if s.halted != nil {
		return s.last, fmt.Errorf("%w: %w", ErrHalted, s.halted)
	}
	if delta < 0 {
		return s.last, fmt.Errorf("%w: %s", ErrNegativeStep, delta)
	}
	if s.stepObserver != nil {
		start := time.Now()
		defer func() { s.stepObserver.ObserveStep(time.Since(start)) }()
	}

	s.applyStaged()

	now := s.queue.Now()
	target := now + delta
	if target > s.opts.EndTime {
		target = s.opts.EndTime
	}
	if target < now {
		target = now
	}

	s.run(target)
	if s.violation == nil {
		s.sweep(target)
		s.queue.AdvanceTo(target)
		if err := s.CheckInvariants(); err != nil {
			s.violation = err
		}
	}
	if s.violation != nil {
		s.halted = s.violation
		s.log.Error(context.Background(), "simulation halted",
			logging.Duration("at", s.queue.Now()),
			logging.Err(s.violation),
		)
		return s.last, s.violation
	}

	s.done = s.queue.Now() >= s.opts.EndTime
	s.last = s.snapshot()
	return s.last, nil
}

// StepContext is Step inside a trace span. Cancellation is checked before
// the step starts; a step in progress always completes.
func (s *Simulation) StepContext(ctx context.Context, delta time.Duration) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return s.last, err
	}
	_, span := observability.Tracer().Start(ctx, "simulation.step")
	defer span.End()
	span.SetAttributes(
		attribute.String("sim.run_id", s.runID),
		attribute.Int64("sim.from_ns", int64(s.queue.Now())),
		attribute.Int64("sim.delta_ns", int64(delta)),
	)

	snap, err := s.Step(delta)
	span.SetAttributes(
		attribute.Int64("sim.to_ns", int64(snap.Time)),
		attribute.Int("sim.pending_events", snap.PendingEvents),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return snap, err
}

// RunToEnd steps until the end time or a halt.
func (s *Simulation) RunToEnd() (Snapshot, error) {
	for !s.done {
		if _, err := s.Step(s.opts.EndTime); err != nil {
			return s.last, err
		}
	}
	return s.last, nil
}

func (s *Simulation) run(target time.Duration) {
	for s.violation == nil {
		at, ok := s.queue.PeekTime()
		if !ok || at > target {
			return
		}
		// Expiry takes precedence over anything else at the same instant.
		s.sweep(at)
		ev := s.queue.PopDue(target)
		if ev == nil {
			return
		}
		s.dispatch(ev)
		if err := s.queue.Complete(ev); err != nil {
			s.fail(err, "complete %s event %d", ev.Kind, ev.ID)
		}
	}
}

func (s *Simulation) dispatch(ev *eventq.Event) {
	switch ev.Kind {
	case eventq.KindExpiry:
		// The sweep at this instant already removed the bundle.
	case eventq.KindContactEnd:
		if ac, ok := s.active[ev.Contact.Pair]; ok && ac.window.Start == ev.Contact.Start {
			delete(s.active, ev.Contact.Pair)
		}
	case eventq.KindInjection:
		s.inject(ev)
	case eventq.KindContactStart:
		s.startContact(ev)
	case eventq.KindExchange:
		s.exchange(ev)
	default:
		s.fail(nil, "unknown event kind %s", ev.Kind)
	}
}

func (s *Simulation) inject(ev *eventq.Event) {
	defer s.scheduleNextInjection()

	now := s.queue.Now()
	inj := ev.Injection
	src, ok := s.nodes[inj.Source]
	if !ok {
		s.fail(nil, "injection from unknown node %s", inj.Source)
		return
	}
	s.nextBundle++
	b := &model.Bundle{
		ID:          s.nextBundle,
		Source:      inj.Source,
		Destination: inj.Destination,
		CreatedAt:   now,
		ExpiresAt:   now + inj.TTL,
		SizeBytes:   inj.SizeBytes,
		Custodian:   inj.Source,
		Replicas:    1,
	}
	s.collector.Injected()

	res := src.store.Admit(b)
	if !res.Accepted {
		s.log.Debug(context.Background(), "injection rejected",
			logging.Uint64("bundle", uint64(b.ID)),
			logging.String("node", string(inj.Source)),
			logging.String("reason", res.Reason.String()),
		)
		s.finish(metrics.Outcome{Bundle: b.ID, Kind: metrics.DroppedAtCapacity, At: now})
		return
	}
	s.holders[b.ID] = map[model.NodeID]struct{}{inj.Source: {}}
	s.evicted(inj.Source, res.Evicted, now)

	id, err := s.queue.Schedule(eventq.Event{At: b.ExpiresAt, Kind: eventq.KindExpiry, Bundle: b.ID})
	if err != nil {
		s.fail(err, "schedule expiry of bundle %d", b.ID)
		return
	}
	s.expiries[b.ID] = id
	s.scheduleExchanges(inj.Source, model.Pair{})
}

func (s *Simulation) startContact(ev *eventq.Event) {
	w := ev.Contact
	now := s.queue.Now()
	defer func() {
		if cs := s.streams[ev.Stream]; cs != nil {
			s.pullContact(cs)
		}
	}()

	s.collector.ContactStarted()
	s.nodes[w.Pair.A].ledger.Encounter(w.Pair.B, now)
	s.nodes[w.Pair.B].ledger.Encounter(w.Pair.A, now)
	ac := &activeContact{window: w, budget: game.NewBudget(w.CapacityBytes)}
	s.active[w.Pair] = ac

	if _, err := s.queue.Schedule(eventq.Event{At: w.End, Kind: eventq.KindContactEnd, Contact: w}); err != nil {
		s.fail(err, "schedule contact end for %s", w.Pair)
		return
	}
	s.scheduleExchange(ac)
}

func (s *Simulation) scheduleExchange(ac *activeContact) {
	if ac.exchangePending {
		return
	}
	if _, err := s.queue.Schedule(eventq.Event{At: s.queue.Now(), Kind: eventq.KindExchange, Contact: ac.window}); err != nil {
		s.fail(err, "schedule exchange for %s", ac.window.Pair)
		return
	}
	ac.exchangePending = true
}

// scheduleExchanges queues a round on every active contact of node other
// than skip, after node received a bundle.
func (s *Simulation) scheduleExchanges(node model.NodeID, skip model.Pair) {
	var pairs []model.Pair
	for p := range s.active {
		if p.Has(node) && p != skip {
			pairs = append(pairs, p)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	for _, p := range pairs {
		s.scheduleExchange(s.active[p])
	}
}

func (s *Simulation) exchange(ev *eventq.Event) {
	ac, ok := s.active[ev.Contact.Pair]
	if !ok || ac.window.Start != ev.Contact.Start {
		return
	}
	ac.exchangePending = false
	now := s.queue.Now()

	pair := ac.window.Pair
	out, played := s.game.Play(game.Round{
		Number: s.rounds + 1,
		At:     now,
		Pair:   pair,
		A:      s.player(pair.A),
		B:      s.player(pair.B),
		Budget: ac.budget,
	}, s)
	if !played {
		return
	}
	s.rounds++
	s.outcomes = append(s.outcomes, out)
	s.collector.Round(out)

	s.log.Debug(context.Background(), "round resolved",
		logging.Int("round", out.Round),
		logging.String("pair", pair.String()),
		logging.String("strategy_a", out.StrategyA.String()),
		logging.String("strategy_b", out.StrategyB.String()),
		logging.String("direction", out.Direction.String()),
		logging.Int("transfers", len(out.Transfers)),
	)

	var received []model.NodeID
	for _, t := range out.Transfers {
		if t.Result == model.TransferMoved || t.Result == model.TransferCopied {
			received = append(received, t.To)
		}
	}
	seen := make(map[model.NodeID]bool, 2)
	for _, n := range received {
		if !seen[n] {
			seen[n] = true
			s.scheduleExchanges(n, pair)
		}
	}
}

func (s *Simulation) player(id model.NodeID) game.Player {
	n := s.nodes[id]
	return game.Player{
		ID:             id,
		Selector:       n.selector,
		Ledger:         n.ledger,
		Store:          n.store,
		EnergyFraction: s.energyFraction(),
	}
}

// fail records an invariant violation; the step loop stops at the next
// event boundary.
func (s *Simulation) fail(err error, format string, args ...any) {
	if s.violation != nil {
		return
	}
	var iv *InvariantViolation
	if errors.As(err, &iv) {
		s.violation = iv
		return
	}
	s.violation = violation(s.queue.Now(), err, format, args...)
}
