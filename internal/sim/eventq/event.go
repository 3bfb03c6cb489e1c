package eventq

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/custody-relay-sim/model"
)

// Kind identifies what an event does. The numeric order is the tie-break
// priority for events sharing a timestamp: expiry first so that a bundle
// whose time-to-live ends at t is never transferred at t.
type Kind int

const (
	KindExpiry Kind = iota
	KindContactEnd
	KindInjection
	KindContactStart
	KindExchange
)

func (k Kind) String() string {
	switch k {
	case KindExpiry:
		return "expiry"
	case KindContactEnd:
		return "contact_end"
	case KindInjection:
		return "injection"
	case KindContactStart:
		return "contact_start"
	case KindExchange:
		return "exchange"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// State is the lifecycle of an event.
type State int

const (
	StatePending State = iota
	StateProcessing
	StateCompleted
	StateSuperseded
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateProcessing:
		return "processing"
	case StateCompleted:
		return "completed"
	case StateSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// ID is the insertion sequence number of an event; it doubles as the final
// tie-break so replays are reproducible.
type ID uint64

// Injection describes a bundle to create when the event fires.
type Injection struct {
	Source      model.NodeID
	Destination model.NodeID
	SizeBytes   int64
	TTL         time.Duration
}

// Event is one entry in the queue. Exactly one payload field is meaningful
// for a given Kind.
type Event struct {
	ID    ID
	At    time.Duration
	Kind  Kind
	State State

	Contact   model.ContactWindow // KindContactStart, KindContactEnd, KindExchange
	Bundle    model.BundleID      // KindExpiry
	Injection Injection           // KindInjection
	Stream    model.NodeID        // contact stream that produced a KindContactStart
	Scripted  bool                // KindInjection from a scripted trace
}

func (e *Event) less(o *Event) bool {
	if e.At != o.At {
		return e.At < o.At
	}
	if e.Kind != o.Kind {
		return e.Kind < o.Kind
	}
	return e.ID < o.ID
}
