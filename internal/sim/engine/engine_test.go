package engine

import (
	"errors"
	"iter"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/custody-relay-sim/internal/config"
	"github.com/signalsfoundry/custody-relay-sim/internal/logging"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/contact"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/metrics"
	"github.com/signalsfoundry/custody-relay-sim/model"
)

func window(a, b string, start, end time.Duration) config.WindowOptions {
	return config.WindowOptions{A: a, B: b, Start: start, End: end}
}

func inject(at time.Duration, src, dst string, ttl time.Duration) config.InjectionOptions {
	return config.InjectionOptions{At: at, Source: src, Destination: dst, SizeBytes: 100, TTL: ttl}
}

// tableScenario builds a scripted scenario with no generated traffic.
func tableScenario(nodes []config.NodeOptions, windows []config.WindowOptions, scripted []config.InjectionOptions) config.Options {
	o := config.Default()
	o.EndTime = 30 * time.Second
	o.Nodes = nodes
	o.Storage = config.StorageOptions{CapacityBundles: 4, Eviction: "soonest-expiry"}
	o.Traffic = config.TrafficOptions{Scripted: scripted}
	o.Contacts = config.ContactOptions{Model: config.ContactModelTable, Table: windows}
	return o
}

func twoNodes() []config.NodeOptions {
	return []config.NodeOptions{{ID: "a"}, {ID: "b"}}
}

func newSim(t *testing.T, o config.Options, opts ...Option) *Simulation {
	t.Helper()
	sim, err := New(o, logging.Noop(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sim
}

func step(t *testing.T, sim *Simulation, d time.Duration) Snapshot {
	t.Helper()
	snap, err := sim.Step(d)
	if err != nil {
		t.Fatalf("Step(%s): %v", d, err)
	}
	return snap
}

func TestScenarioDirectDelivery(t *testing.T) {
	o := tableScenario(twoNodes(),
		[]config.WindowOptions{window("a", "b", 0, 10*time.Second)},
		[]config.InjectionOptions{inject(0, "a", "b", 20*time.Second)},
	)
	sim := newSim(t, o)
	snap := step(t, sim, 5*time.Second)

	if kind, ok := sim.Terminal(1); !ok || kind != metrics.Delivered {
		t.Fatalf("Terminal(1) = %v,%v want delivered", kind, ok)
	}
	if snap.Metrics.Delivered != 1 || snap.Metrics.DeliveryRatio != 1 {
		t.Fatalf("metrics = %+v, want one delivery", snap.Metrics)
	}
	if snap.Metrics.MeanHops != 1 {
		t.Fatalf("mean hops = %v, want 1", snap.Metrics.MeanHops)
	}
	if snap.Metrics.MeanLatency > 10*time.Second {
		t.Fatalf("latency = %s, want <= 10s", snap.Metrics.MeanLatency)
	}
	outs := sim.Outcomes()
	if len(outs) != 1 {
		t.Fatalf("expected one round, got %d", len(outs))
	}
	if outs[0].Direction != model.DirectionAToB {
		t.Fatalf("direction = %s, want a->b", outs[0].Direction)
	}
	if len(outs[0].Transfers) != 1 || outs[0].Transfers[0].Result != model.TransferDelivered {
		t.Fatalf("transfers = %+v", outs[0].Transfers)
	}
	if got := sim.Holders(1); len(got) != 0 {
		t.Fatalf("delivered bundle still held by %v", got)
	}
	if snap.PendingEvents != 1 {
		// Only the contact end remains; the expiry was superseded.
		t.Fatalf("pending events = %d, want 1", snap.PendingEvents)
	}
}

func TestScenarioExpiresBeforeContact(t *testing.T) {
	o := tableScenario(twoNodes(),
		[]config.WindowOptions{window("a", "b", 10*time.Second, 20*time.Second)},
		[]config.InjectionOptions{inject(0, "a", "b", 5*time.Second)},
	)
	sim := newSim(t, o)

	step(t, sim, 4*time.Second)
	if _, ok := sim.Terminal(1); ok {
		t.Fatalf("bundle terminal before its expiry")
	}
	snap := step(t, sim, time.Second)
	if kind, ok := sim.Terminal(1); !ok || kind != metrics.ExpiredUndelivered {
		t.Fatalf("Terminal(1) = %v,%v want expired", kind, ok)
	}
	if snap.Time != 5*time.Second || snap.Metrics.Expired != 1 {
		t.Fatalf("snapshot at %s with metrics %+v", snap.Time, snap.Metrics)
	}

	step(t, sim, 20*time.Second)
	if n := sim.Metrics().TransferCount(model.TransferDelivered) + sim.Metrics().TransferCount(model.TransferMoved); n != 0 {
		t.Fatalf("expired bundle was transferred %d times", n)
	}
	if len(sim.Outcomes()) != 0 {
		t.Fatalf("no round should be played without eligible bundles")
	}
}

func TestScenarioDefectorBlocksTransfer(t *testing.T) {
	nodes := []config.NodeOptions{{ID: "a", Strategy: "cooperate"}, {ID: "b", Strategy: "defect"}}
	o := tableScenario(nodes,
		[]config.WindowOptions{window("a", "b", 0, 10*time.Second)},
		[]config.InjectionOptions{inject(0, "a", "b", 20*time.Second)},
	)
	sim := newSim(t, o)
	snap := step(t, sim, 10*time.Second)

	outs := sim.Outcomes()
	if len(outs) != 1 {
		t.Fatalf("expected one round, got %d", len(outs))
	}
	if outs[0].ActionB != model.ActionDefect || outs[0].Transfers[0].Result != model.TransferDeclined {
		t.Fatalf("unexpected outcome %+v", outs[0])
	}
	if holders := sim.Holders(1); len(holders) != 1 || holders[0] != "a" {
		t.Fatalf("holders = %v, want [a]", holders)
	}

	var rep float64 = -1
	for _, ps := range snap.Nodes[0].Reputations {
		if ps.Peer == "b" {
			rep = ps.Score
		}
	}
	if rep < 0 || rep >= o.Reputation.Initial {
		t.Fatalf("a's reputation of b = %v, want below %v", rep, o.Reputation.Initial)
	}

	step(t, sim, 20*time.Second)
	if kind, ok := sim.Terminal(1); !ok || kind != metrics.ExpiredUndelivered {
		t.Fatalf("Terminal(1) = %v,%v want expired", kind, ok)
	}
}

// capacityScenario relays bundle 1 from a towards c through b, which is
// already full with bundle 2 when the a-b window opens.
func capacityScenario(eviction string) config.Options {
	nodes := []config.NodeOptions{{ID: "a"}, {ID: "b", CapacityBundles: 1}, {ID: "c"}}
	o := tableScenario(nodes,
		[]config.WindowOptions{
			window("b", "c", 0, time.Second),
			window("a", "b", 3*time.Second, 10*time.Second),
		},
		[]config.InjectionOptions{
			inject(0, "a", "c", 20*time.Second),
			inject(2*time.Second, "b", "c", 15*time.Second),
		},
	)
	o.Storage.Eviction = eviction
	return o
}

func TestScenarioFullRecipientEvicts(t *testing.T) {
	sim := newSim(t, capacityScenario("soonest-expiry"))
	step(t, sim, 10*time.Second)

	if kind, ok := sim.Terminal(2); !ok || kind != metrics.DroppedAtCapacity {
		t.Fatalf("Terminal(2) = %v,%v want dropped_at_capacity", kind, ok)
	}
	if holders := sim.Holders(1); len(holders) != 1 || holders[0] != "b" {
		t.Fatalf("holders of relayed bundle = %v, want [b]", holders)
	}
	if got := sim.Metrics().TransferCount(model.TransferMoved); got != 1 {
		t.Fatalf("moved transfers = %d, want 1", got)
	}
	if err := sim.CheckInvariants(); err != nil {
		t.Fatalf("CheckInvariants: %v", err)
	}
}

func TestScenarioFullRecipientRejects(t *testing.T) {
	sim := newSim(t, capacityScenario("drop-tail"))
	step(t, sim, 10*time.Second)

	if got := sim.Metrics().TransferCount(model.TransferRejectedAtCapacity); got != 1 {
		t.Fatalf("rejected transfers = %d, want 1", got)
	}
	if holders := sim.Holders(1); len(holders) != 1 || holders[0] != "a" {
		t.Fatalf("holders of rejected bundle = %v, want [a]", holders)
	}
	if _, ok := sim.Terminal(2); ok {
		t.Fatalf("resident bundle must survive a rejected admission")
	}
	if sim.Halted() != nil {
		t.Fatalf("unexpected halt: %v", sim.Halted())
	}
}

func TestDeliveryToFullDestination(t *testing.T) {
	nodes := []config.NodeOptions{{ID: "a"}, {ID: "b", CapacityBundles: 1}, {ID: "c"}}
	o := tableScenario(nodes,
		[]config.WindowOptions{window("a", "b", time.Second, 10*time.Second)},
		[]config.InjectionOptions{
			inject(0, "b", "c", 15*time.Second),
			inject(0, "a", "b", 20*time.Second),
		},
	)
	o.Storage.Eviction = "drop-tail"
	sim := newSim(t, o)
	step(t, sim, 10*time.Second)

	if kind, ok := sim.Terminal(2); !ok || kind != metrics.Delivered {
		t.Fatalf("Terminal(2) = %v,%v want delivered", kind, ok)
	}
	if _, ok := sim.Terminal(1); ok {
		t.Fatalf("bundle resident at the destination must not be displaced")
	}
	if holders := sim.Holders(1); len(holders) != 1 || holders[0] != "b" {
		t.Fatalf("holders of resident bundle = %v, want [b]", holders)
	}
	if got := sim.Metrics().TransferCount(model.TransferRejectedAtCapacity); got != 0 {
		t.Fatalf("rejected transfers = %d, want 0", got)
	}
}

func TestDirectDeliveryPayoffs(t *testing.T) {
	for _, tc := range []struct {
		name   string
		energy config.EnergyOptions
		want   float64
	}{
		{name: "energy off", want: 1},
		{
			name:   "energy on",
			energy: config.EnergyOptions{Enabled: true, MaxEnergy: 100, Initial: 100, CommsCost: 1},
			// 1 - 0.1*(1/100)
			want: 0.999,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			o := tableScenario(twoNodes(),
				[]config.WindowOptions{window("a", "b", 0, 10*time.Second)},
				[]config.InjectionOptions{inject(0, "a", "b", 20*time.Second)},
			)
			o.Energy = tc.energy
			sim := newSim(t, o)
			step(t, sim, 5*time.Second)

			outs := sim.Outcomes()
			if len(outs) != 1 {
				t.Fatalf("expected one round, got %d", len(outs))
			}
			if got := outs[0].PayoffA; math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("PayoffA = %v, want %v", got, tc.want)
			}
			if got := outs[0].PayoffB; math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("PayoffB = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNewReturnsForPoissonScenario(t *testing.T) {
	o := config.Default()
	o.EndTime = 10 * time.Minute
	o.Contacts.Poisson.MeanGap = time.Second

	done := make(chan error, 1)
	go func() {
		sim, err := New(o, logging.Noop())
		if err == nil {
			_, err = sim.RunToEnd()
		}
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatalf("Poisson scenario did not finish")
	}
}

func TestRelayMovesCustody(t *testing.T) {
	nodes := []config.NodeOptions{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	o := tableScenario(nodes,
		[]config.WindowOptions{
			window("b", "c", 0, time.Second),
			window("a", "b", 2*time.Second, 5*time.Second),
			window("b", "c", 10*time.Second, 15*time.Second),
		},
		[]config.InjectionOptions{inject(1500*time.Millisecond, "a", "c", 25*time.Second)},
	)
	sim := newSim(t, o)

	step(t, sim, 5*time.Second)
	if holders := sim.Holders(1); len(holders) != 1 || holders[0] != "b" {
		t.Fatalf("holders after relay = %v, want [b]", holders)
	}
	step(t, sim, 10*time.Second)
	if kind, ok := sim.Terminal(1); !ok || kind != metrics.Delivered {
		t.Fatalf("Terminal(1) = %v,%v want delivered", kind, ok)
	}
	if got := sim.Metrics().MeanHops(); got != 2 {
		t.Fatalf("mean hops = %v, want 2", got)
	}
}

func TestReplicationKeepsCopiesAndPurgesOnDelivery(t *testing.T) {
	nodes := []config.NodeOptions{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	o := tableScenario(nodes,
		[]config.WindowOptions{
			window("b", "c", 0, time.Second),
			window("a", "b", 2*time.Second, 5*time.Second),
			window("b", "c", 10*time.Second, 15*time.Second),
		},
		[]config.InjectionOptions{inject(1500*time.Millisecond, "a", "c", 25*time.Second)},
	)
	o.Replication = config.ReplicationOptions{Policy: config.ReplicationReplicate, MaxReplicas: 2}
	sim := newSim(t, o)

	step(t, sim, 5*time.Second)
	holders := sim.Holders(1)
	if len(holders) != 2 {
		t.Fatalf("holders after copy = %v, want a and b", holders)
	}
	if got := sim.Replicas(1); got != 2 {
		t.Fatalf("Replicas = %d, want 2", got)
	}
	if b, ok := sim.nodes["a"].store.Get(1); !ok || b.Replicas != 2 {
		t.Fatalf("stored replica count not updated: %+v", b)
	}

	step(t, sim, 10*time.Second)
	if kind, ok := sim.Terminal(1); !ok || kind != metrics.Delivered {
		t.Fatalf("Terminal(1) = %v,%v want delivered", kind, ok)
	}
	if got := sim.Holders(1); len(got) != 0 {
		t.Fatalf("replicas not purged: %v", got)
	}
}

func TestEnergyExhaustionBlocksTransfer(t *testing.T) {
	o := tableScenario(twoNodes(),
		[]config.WindowOptions{window("a", "b", 0, 10*time.Second)},
		[]config.InjectionOptions{inject(0, "a", "b", 20*time.Second)},
	)
	o.Energy = config.EnergyOptions{Enabled: true, MaxEnergy: 10, Initial: 0, CommsCost: 1}
	sim := newSim(t, o)
	step(t, sim, 10*time.Second)

	if got := sim.Metrics().TransferCount(model.TransferEnergyExhausted); got != 1 {
		t.Fatalf("energy-exhausted transfers = %d, want 1", got)
	}
	if holders := sim.Holders(1); len(holders) != 1 || holders[0] != "a" {
		t.Fatalf("holders = %v, want [a]", holders)
	}
}

func TestInjectionRejectedAtSource(t *testing.T) {
	nodes := []config.NodeOptions{{ID: "a", CapacityBundles: 1}, {ID: "b"}}
	o := tableScenario(nodes, nil, []config.InjectionOptions{
		inject(0, "a", "b", 20*time.Second),
		inject(time.Second, "a", "b", 10*time.Second),
	})
	sim := newSim(t, o)
	snap := step(t, sim, 2*time.Second)

	if kind, ok := sim.Terminal(2); !ok || kind != metrics.DroppedAtCapacity {
		t.Fatalf("Terminal(2) = %v,%v want dropped_at_capacity", kind, ok)
	}
	if snap.Metrics.Injected != 2 || snap.Metrics.DroppedAtCapacity != 1 {
		t.Fatalf("metrics = %+v", snap.Metrics)
	}
}

func TestConfigureRejectsInvalidOptions(t *testing.T) {
	o := config.Default()
	o.NodeCount = 1
	o.Traffic.Rate = -1
	_, err := New(o, logging.Noop())
	var cfgErr *config.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *config.ConfigError, got %v", err)
	}
	if len(cfgErr.Fields()) < 2 {
		t.Fatalf("expected every invalid field, got %v", cfgErr.Fields())
	}

	sim := newSim(t, config.Default())
	before := sim.RunID()
	if err := sim.Configure(o); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("Configure(invalid) = %v", err)
	}
	if sim.RunID() != before || sim.Options().NodeCount != config.Default().NodeCount {
		t.Fatalf("invalid Configure must leave the run untouched")
	}
}

func TestStepCapsAtEndTime(t *testing.T) {
	o := tableScenario(twoNodes(), nil, nil)
	sim := newSim(t, o)
	snap := step(t, sim, time.Hour)
	if snap.Time != o.EndTime || !snap.Done {
		t.Fatalf("snapshot time %s done %v, want %s done", snap.Time, snap.Done, o.EndTime)
	}
	snap = step(t, sim, time.Second)
	if snap.Time != o.EndTime {
		t.Fatalf("clock moved past end time: %s", snap.Time)
	}
	if _, err := sim.Step(-time.Second); !errors.Is(err, ErrNegativeStep) {
		t.Fatalf("negative step = %v", err)
	}
}

func TestStagedUpdateAppliesAtNextStep(t *testing.T) {
	o := tableScenario(twoNodes(), nil, []config.InjectionOptions{inject(15*time.Second, "a", "b", 5*time.Second)})
	o.EndTime = 10 * time.Second
	sim := newSim(t, o)

	snap := step(t, sim, 20*time.Second)
	if !snap.Done || snap.Metrics.Injected != 0 {
		t.Fatalf("first leg: done=%v injected=%d", snap.Done, snap.Metrics.Injected)
	}

	end := 30 * time.Second
	threshold := 0.9
	if err := sim.StageUpdate(ParamUpdate{EndTime: &end, Threshold: &threshold}); err != nil {
		t.Fatalf("StageUpdate: %v", err)
	}
	if sim.game.Config().Threshold == threshold {
		t.Fatalf("staged threshold applied before the next step")
	}
	snap = step(t, sim, 20*time.Second)
	if snap.Time != end || !snap.Done {
		t.Fatalf("second leg ended at %s done=%v", snap.Time, snap.Done)
	}
	if snap.Metrics.Injected != 1 || snap.Metrics.Expired != 1 {
		t.Fatalf("parked injection not resumed: %+v", snap.Metrics)
	}
	if sim.game.Config().Threshold != threshold {
		t.Fatalf("threshold = %v, want %v", sim.game.Config().Threshold, threshold)
	}

	bad := 1.5
	if err := sim.StageUpdate(ParamUpdate{Threshold: &bad}); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("StageUpdate(invalid) = %v", err)
	}
}

func TestInvariantViolationHalts(t *testing.T) {
	o := tableScenario(twoNodes(), nil, nil)
	sim := newSim(t, o)
	first := step(t, sim, time.Second)

	// A bundle placed behind the engine's back has no tracked custodian.
	sim.nodes["a"].store.Admit(&model.Bundle{ID: 99, Source: "a", Destination: "b", ExpiresAt: time.Minute, SizeBytes: 1})

	snap, err := sim.Step(time.Second)
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("Step = %v, want invariant violation", err)
	}
	var iv *InvariantViolation
	if !errors.As(err, &iv) {
		t.Fatalf("expected *InvariantViolation, got %T", err)
	}
	if snap.Time != first.Time {
		t.Fatalf("halted step returned snapshot at %s, want last valid %s", snap.Time, first.Time)
	}
	if _, err := sim.Step(time.Second); !errors.Is(err, ErrHalted) || !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("Step after halt = %v", err)
	}

	if err := sim.Reset(o.Seed); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if sim.Halted() != nil || sim.Now() != 0 {
		t.Fatalf("Reset did not clear the halt")
	}
	step(t, sim, time.Second)
}

// scriptedModel yields fixed windows without any validation.
type scriptedModel []model.ContactWindow

func (m scriptedModel) NextContacts(node model.NodeID, from time.Duration) iter.Seq[model.ContactWindow] {
	return func(yield func(model.ContactWindow) bool) {
		for _, w := range m {
			if w.Pair.Has(node) && w.Start >= from {
				if !yield(w) {
					return
				}
			}
		}
	}
}

func TestMalformedWindowsBecomeAnomalies(t *testing.T) {
	windows := scriptedModel{
		{Pair: model.MakePair("a", "b"), Start: 0, End: 10 * time.Second},
		{Pair: model.MakePair("a", "b"), Start: 5 * time.Second, End: 15 * time.Second},
		{Pair: model.MakePair("a", "b"), Start: 16 * time.Second, End: 16 * time.Second},
		{Pair: model.MakePair("a", "b"), Start: 20 * time.Second, End: 25 * time.Second},
	}
	o := tableScenario(twoNodes(), nil, nil)
	sim := newSim(t, o, WithContactModel(func(uint64) (contact.Model, error) { return windows, nil }))

	snap := step(t, sim, 30*time.Second)
	if snap.Anomalies != 2 {
		t.Fatalf("anomalies = %d, want 2", snap.Anomalies)
	}
	if snap.Metrics.Contacts != 2 {
		t.Fatalf("contacts started = %d, want 2", snap.Metrics.Contacts)
	}
	for _, a := range sim.Anomalies() {
		if a.Reason == "" {
			t.Fatalf("anomaly without reason: %+v", a)
		}
	}
}

func TestActiveContactsInSnapshot(t *testing.T) {
	o := tableScenario(twoNodes(), []config.WindowOptions{window("b", "a", 5*time.Second, 10*time.Second)}, nil)
	sim := newSim(t, o)

	if snap := step(t, sim, 6*time.Second); len(snap.ActiveContacts) != 1 || snap.ActiveContacts[0].Pair != model.MakePair("a", "b") {
		t.Fatalf("active contacts = %+v", snap.ActiveContacts)
	}
	if snap := step(t, sim, 4*time.Second); len(snap.ActiveContacts) != 0 {
		t.Fatalf("contact still active at its end: %+v", snap.ActiveContacts)
	}
}
