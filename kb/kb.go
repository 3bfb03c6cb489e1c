// Package kb holds the node registry shared with rendering collaborators:
// static node definitions plus the last published position and status.
package kb

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/custody-relay-sim/core"
	"github.com/signalsfoundry/custody-relay-sim/model"
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventNodeAdded EventType = iota
	EventNodeUpdated
)

// NodeStatus is the published state of one node.
type NodeStatus struct {
	Node          model.Node
	Position      core.Vec3
	HasPosition   bool
	StoredBundles int
	UsedBytes     int64
	UpdatedAt     time.Duration
}

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type   EventType
	Status NodeStatus
}

// KnowledgeBase is an in-memory, thread-safe node registry. The simulation
// writes to it at tick boundaries; readers never touch simulation state.
type KnowledgeBase struct {
	mu sync.RWMutex

	nodes map[model.NodeID]*NodeStatus

	subs   map[int]func(Event)
	nextID int
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		nodes: make(map[model.NodeID]*NodeStatus),
		subs:  make(map[int]func(Event)),
	}
}

// AddNode registers a node. It returns an error if the ID already exists.
func (kb *KnowledgeBase) AddNode(n model.Node) error {
	if n.ID == "" {
		return fmt.Errorf("node ID must not be empty")
	}
	kb.mu.Lock()
	if _, exists := kb.nodes[n.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("node with ID %q already exists", n.ID)
	}
	st := &NodeStatus{Node: n}
	kb.nodes[n.ID] = st
	event := Event{Type: EventNodeAdded, Status: *st}
	subs := kb.subscribers()
	kb.mu.Unlock()

	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// GetNode returns a copy of the node's status.
func (kb *KnowledgeBase) GetNode(id model.NodeID) (NodeStatus, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	st, ok := kb.nodes[id]
	if !ok {
		return NodeStatus{}, false
	}
	return *st, true
}

// ListNodes returns a snapshot of all nodes sorted by ID.
func (kb *KnowledgeBase) ListNodes() []NodeStatus {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]NodeStatus, 0, len(kb.nodes))
	for _, st := range kb.nodes {
		res = append(res, *st)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Node.ID < res[j].Node.ID })
	return res
}

// Update replaces the dynamic part of a node's status and notifies
// subscribers.
func (kb *KnowledgeBase) Update(id model.NodeID, update func(*NodeStatus)) error {
	kb.mu.Lock()
	st, ok := kb.nodes[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("node with ID %q not found", id)
	}
	def := st.Node
	update(st)
	st.Node = def
	event := Event{Type: EventNodeUpdated, Status: *st}
	subs := kb.subscribers()
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextID
	kb.nextID++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

// subscribers returns the callbacks in registration order. Callers hold mu.
func (kb *KnowledgeBase) subscribers() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, kb.subs[id])
	}
	return out
}
