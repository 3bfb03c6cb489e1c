package eventq

import (
	"container/heap"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEventInPast indicates an event was scheduled before the current
	// clock. This is a programming error in the caller.
	ErrEventInPast = errors.New("event scheduled before current time")
	// ErrNotProcessing indicates Complete was called for an event that was
	// not handed out by PopDue.
	ErrNotProcessing = errors.New("event is not processing")
)

// Observer receives queue activity, typically a metrics collector.
type Observer interface {
	EventDispatched(kind string)
	EventSuperseded(kind string)
	QueueDepth(n int)
}

// Queue is a single logical clock plus a min-ordered event queue. It is not
// safe for concurrent use; the simulation core is single-threaded.
type Queue struct {
	now     time.Duration
	counter uint64
	events  eventHeap
	index   map[ID]*Event

	superseded uint64
	dispatched uint64
	observer   Observer
}

// Option customises a Queue.
type Option func(*Queue)

// WithObserver attaches an observer for dispatch and supersede counts.
func WithObserver(o Observer) Option {
	return func(q *Queue) {
		q.observer = o
	}
}

// New returns an empty queue with the clock at zero.
func New(opts ...Option) *Queue {
	q := &Queue{index: make(map[ID]*Event)}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q
}

// Now returns the current logical time.
func (q *Queue) Now() time.Duration { return q.now }

// Len returns the number of queued entries, including superseded ones that
// have not been popped yet.
func (q *Queue) Len() int { return q.events.Len() }

// Pending returns the number of live (not superseded) queued events.
func (q *Queue) Pending() int { return len(q.index) }

// Dispatched returns how many events have been handed out by PopDue.
func (q *Queue) Dispatched() uint64 { return q.dispatched }

// SupersededSkipped returns how many superseded events were discarded at
// dispatch time.
func (q *Queue) SupersededSkipped() uint64 { return q.superseded }

// Schedule inserts ev (ID and State are assigned here) and returns its ID.
func (q *Queue) Schedule(ev Event) (ID, error) {
	if ev.At < q.now {
		return 0, fmt.Errorf("%w: %s event at %s, clock at %s", ErrEventInPast, ev.Kind, ev.At, q.now)
	}
	q.counter++
	ev.ID = ID(q.counter)
	ev.State = StatePending
	stored := &ev
	heap.Push(&q.events, stored)
	q.index[stored.ID] = stored
	q.reportDepth()
	return stored.ID, nil
}

// Supersede marks an event as no longer relevant. The entry stays in the
// heap and is skipped when popped. Unknown or already dispatched IDs are a
// no-op.
func (q *Queue) Supersede(id ID) {
	ev, ok := q.index[id]
	if !ok {
		return
	}
	ev.State = StateSuperseded
	delete(q.index, id)
}

// State reports the lifecycle state of a still-indexed event.
func (q *Queue) State(id ID) (State, bool) {
	ev, ok := q.index[id]
	if !ok {
		return 0, false
	}
	return ev.State, true
}

// PeekTime returns the timestamp of the next live event.
func (q *Queue) PeekTime() (time.Duration, bool) {
	q.dropSuperseded()
	if q.events.Len() == 0 {
		return 0, false
	}
	return q.events[0].At, true
}

// PopDue removes and returns the next live event with At <= until, moving
// the clock to its timestamp and marking it Processing. It returns nil when
// no such event exists.
func (q *Queue) PopDue(until time.Duration) *Event {
	q.dropSuperseded()
	if q.events.Len() == 0 || q.events[0].At > until {
		return nil
	}
	ev := heap.Pop(&q.events).(*Event)
	delete(q.index, ev.ID)
	if ev.At > q.now {
		q.now = ev.At
	}
	ev.State = StateProcessing
	q.dispatched++
	if q.observer != nil {
		q.observer.EventDispatched(ev.Kind.String())
	}
	q.reportDepth()
	return ev
}

// Complete marks a processing event as completed.
func (q *Queue) Complete(ev *Event) error {
	if ev == nil || ev.State != StateProcessing {
		return ErrNotProcessing
	}
	ev.State = StateCompleted
	return nil
}

// AdvanceTo moves the clock forward to t. Moving backwards is ignored.
func (q *Queue) AdvanceTo(t time.Duration) {
	if t > q.now {
		q.now = t
	}
}

func (q *Queue) dropSuperseded() {
	for q.events.Len() > 0 && q.events[0].State == StateSuperseded {
		ev := heap.Pop(&q.events).(*Event)
		q.superseded++
		if q.observer != nil {
			q.observer.EventSuperseded(ev.Kind.String())
		}
	}
}

func (q *Queue) reportDepth() {
	if q.observer != nil {
		q.observer.QueueDepth(len(q.index))
	}
}

type eventHeap []*Event

func (h eventHeap) Len() int           { return len(h) }
func (h eventHeap) Less(i, j int) bool { return h[i].less(h[j]) }
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(*Event)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ev
}
