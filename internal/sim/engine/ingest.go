package engine

import (
	"context"
	"fmt"
	"iter"

	"github.com/signalsfoundry/custody-relay-sim/internal/logging"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/contact"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/eventq"
	"github.com/signalsfoundry/custody-relay-sim/model"
)

// contactStream pulls one node's windows lazily. Only windows the node
// leads (Pair.A) are scheduled from its stream so each window enters the
// queue once.
type contactStream struct {
	node   model.NodeID
	next   func() (model.ContactWindow, bool)
	stop   func()
	parked *model.ContactWindow
	done   bool
}

func (s *Simulation) openStream(node model.NodeID) {
	next, stop := iter.Pull(s.contacts.NextContacts(node, 0))
	cs := &contactStream{node: node, next: next, stop: stop}
	s.streams[node] = cs
	s.pullContact(cs)
}

func (s *Simulation) closeStreams() {
	for _, cs := range s.streams {
		if !cs.done {
			cs.stop()
			cs.done = true
		}
	}
}

// pullContact schedules the next window led by cs.node. Windows at or past
// the end time are parked so a later end time can resume the stream.
func (s *Simulation) pullContact(cs *contactStream) {
	for !cs.done {
		var w model.ContactWindow
		if cs.parked != nil {
			w, cs.parked = *cs.parked, nil
		} else {
			var ok bool
			if w, ok = cs.next(); !ok {
				cs.done = true
				cs.stop()
				return
			}
		}
		// Park on the first window past the end, led or not, so an endless
		// stream stops being pulled.
		if w.Start >= s.opts.EndTime {
			cs.parked = &w
			return
		}
		if w.Pair.A != cs.node {
			continue
		}
		if err := s.admitWindow(w); err != nil {
			s.recordAnomaly(w, err)
			continue
		}
		if _, err := s.queue.Schedule(eventq.Event{At: w.Start, Kind: eventq.KindContactStart, Contact: w, Stream: cs.node}); err != nil {
			s.fail(err, "schedule contact start for %s", w.Pair)
		}
		return
	}
}

// admitWindow rejects windows that are malformed, start before the clock or
// overlap the previous window of the same pair.
func (s *Simulation) admitWindow(w model.ContactWindow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if _, ok := s.nodes[w.Pair.A]; !ok {
		return fmt.Errorf("%w: unknown node %s", model.ErrMalformedContact, w.Pair.A)
	}
	if _, ok := s.nodes[w.Pair.B]; !ok {
		return fmt.Errorf("%w: unknown node %s", model.ErrMalformedContact, w.Pair.B)
	}
	if now := s.queue.Now(); w.Start < now {
		return fmt.Errorf("%w: %s starts at %s before clock %s", model.ErrMalformedContact, w.Pair, w.Start, now)
	}
	if prev, ok := s.lastWindow[w.Pair]; ok && w.Start < prev.End {
		return fmt.Errorf("%w: %s [%s,%s] overlaps [%s,%s]", model.ErrMalformedContact, w.Pair, w.Start, w.End, prev.Start, prev.End)
	}
	s.lastWindow[w.Pair] = w
	return nil
}

func (s *Simulation) recordAnomaly(w model.ContactWindow, err error) {
	s.anomalies = append(s.anomalies, model.Anomaly{Window: w, Reason: err.Error()})
	s.log.Warn(context.Background(), "contact window dropped",
		logging.String("pair", w.Pair.String()),
		logging.Duration("start", w.Start),
		logging.Duration("end", w.End),
		logging.Err(err),
	)
}

func (s *Simulation) scheduleNextInjection() {
	var inj contact.Injection
	if s.parkedInj != nil {
		inj, s.parkedInj = *s.parkedInj, nil
	} else {
		var ok bool
		if inj, ok = s.traffic.Next(); !ok {
			return
		}
	}
	if inj.At >= s.opts.EndTime {
		s.parkedInj = &inj
		return
	}
	ev := eventq.Event{
		At:   inj.At,
		Kind: eventq.KindInjection,
		Injection: eventq.Injection{
			Source:      inj.Source,
			Destination: inj.Destination,
			SizeBytes:   inj.SizeBytes,
			TTL:         inj.TTL,
		},
		Scripted: inj.Scripted,
	}
	if _, err := s.queue.Schedule(ev); err != nil {
		s.fail(err, "schedule injection %s -> %s", inj.Source, inj.Destination)
	}
}

// resume continues streams parked by an earlier end time.
func (s *Simulation) resume() {
	for _, id := range s.order {
		if cs := s.streams[id]; cs != nil && cs.parked != nil && cs.parked.Start < s.opts.EndTime {
			s.pullContact(cs)
		}
	}
	if s.parkedInj != nil && s.parkedInj.At < s.opts.EndTime {
		s.scheduleNextInjection()
	}
}
