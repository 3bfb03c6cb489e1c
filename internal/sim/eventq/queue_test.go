package eventq

import (
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/custody-relay-sim/model"
)

type countingObserver struct {
	dispatched map[string]int
	superseded map[string]int
	depth      int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{dispatched: map[string]int{}, superseded: map[string]int{}}
}

func (o *countingObserver) EventDispatched(kind string) { o.dispatched[kind]++ }
func (o *countingObserver) EventSuperseded(kind string) { o.superseded[kind]++ }
func (o *countingObserver) QueueDepth(n int)            { o.depth = n }

func TestQueue_SingleEvent(t *testing.T) {
	q := New()
	id, err := q.Schedule(Event{At: 10 * time.Second, Kind: KindInjection})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if id == 0 {
		t.Fatalf("Schedule returned zero ID")
	}

	if ev := q.PopDue(5 * time.Second); ev != nil {
		t.Fatalf("event popped before its time: %+v", ev)
	}
	ev := q.PopDue(10 * time.Second)
	if ev == nil || ev.ID != id {
		t.Fatalf("expected event %d, got %+v", id, ev)
	}
	if ev.State != StateProcessing {
		t.Fatalf("popped event state = %s, want processing", ev.State)
	}
	if q.Now() != 10*time.Second {
		t.Fatalf("clock = %s, want 10s", q.Now())
	}
	if err := q.Complete(ev); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if ev.State != StateCompleted {
		t.Fatalf("state after Complete = %s", ev.State)
	}
	if err := q.Complete(ev); !errors.Is(err, ErrNotProcessing) {
		t.Fatalf("second Complete should fail, got %v", err)
	}
	if q.PopDue(time.Hour) != nil {
		t.Fatalf("event must not be dispatched twice")
	}
}

func TestQueue_TieBreakKindThenSequence(t *testing.T) {
	q := New()
	at := 5 * time.Second
	mustSchedule(t, q, Event{At: at, Kind: KindContactStart})
	mustSchedule(t, q, Event{At: at, Kind: KindInjection, Injection: Injection{Source: "b"}})
	mustSchedule(t, q, Event{At: at, Kind: KindExpiry, Bundle: 7})
	mustSchedule(t, q, Event{At: at, Kind: KindInjection, Injection: Injection{Source: "a"}})
	mustSchedule(t, q, Event{At: at - time.Second, Kind: KindExchange})

	var got []string
	for ev := q.PopDue(at); ev != nil; ev = q.PopDue(at) {
		label := ev.Kind.String()
		if ev.Kind == KindInjection {
			label += ":" + string(ev.Injection.Source)
		}
		got = append(got, label)
	}
	want := []string{"exchange", "expiry", "injection:b", "injection:a", "contact_start"}
	if len(got) != len(want) {
		t.Fatalf("dispatch order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order = %v, want %v", got, want)
		}
	}
}

func TestQueue_SupersededEventsAreSkipped(t *testing.T) {
	obs := newCountingObserver()
	q := New(WithObserver(obs))
	expiry := mustSchedule(t, q, Event{At: 20 * time.Second, Kind: KindExpiry, Bundle: 1})
	end := mustSchedule(t, q, Event{At: 30 * time.Second, Kind: KindContactEnd, Contact: model.NewContactWindow("a", "b", 0, 30*time.Second, 0)})

	q.Supersede(expiry)
	q.Supersede(expiry) // idempotent
	q.Supersede(999)    // unknown

	if q.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", q.Pending())
	}
	ev := q.PopDue(time.Minute)
	if ev == nil || ev.ID != end {
		t.Fatalf("expected contact end, got %+v", ev)
	}
	if q.SupersededSkipped() != 1 {
		t.Fatalf("SupersededSkipped = %d, want 1", q.SupersededSkipped())
	}
	if obs.superseded["expiry"] != 1 || obs.dispatched["contact_end"] != 1 {
		t.Fatalf("observer counts: dispatched=%v superseded=%v", obs.dispatched, obs.superseded)
	}
	if obs.depth != 0 {
		t.Fatalf("observer depth = %d, want 0", obs.depth)
	}
}

func TestQueue_ScheduleInPastFails(t *testing.T) {
	q := New()
	q.AdvanceTo(10 * time.Second)
	_, err := q.Schedule(Event{At: 9 * time.Second, Kind: KindInjection})
	if !errors.Is(err, ErrEventInPast) {
		t.Fatalf("expected ErrEventInPast, got %v", err)
	}
	if _, err := q.Schedule(Event{At: 10 * time.Second, Kind: KindExchange}); err != nil {
		t.Fatalf("scheduling at the current time must be allowed: %v", err)
	}
}

func TestQueue_ClockIsMonotonic(t *testing.T) {
	q := New()
	q.AdvanceTo(10 * time.Second)
	q.AdvanceTo(5 * time.Second)
	if q.Now() != 10*time.Second {
		t.Fatalf("clock moved backwards to %s", q.Now())
	}
	at, ok := q.PeekTime()
	if ok {
		t.Fatalf("PeekTime on empty queue returned %s", at)
	}
}

func mustSchedule(t *testing.T, q *Queue, ev Event) ID {
	t.Helper()
	id, err := q.Schedule(ev)
	if err != nil {
		t.Fatalf("Schedule(%s): %v", ev.Kind, err)
	}
	return id
}
