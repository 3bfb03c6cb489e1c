package kb

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/custody-relay-sim/core"
	"github.com/signalsfoundry/custody-relay-sim/model"
)

func TestAddAndGetNode(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddNode(model.Node{ID: "n1", Name: "Relay1"}); err != nil {
		t.Fatalf("AddNode error: %v", err)
	}
	got, ok := store.GetNode("n1")
	if !ok || got.Node.Name != "Relay1" {
		t.Fatalf("GetNode returned %#v, want name Relay1", got)
	}
	if _, ok := store.GetNode("missing"); ok {
		t.Fatalf("expected missing node lookup to fail")
	}
}

func TestAddNodeDuplicate(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddNode(model.Node{ID: "n1"}); err != nil {
		t.Fatalf("first AddNode error: %v", err)
	}
	if err := store.AddNode(model.Node{ID: "n1"}); err == nil {
		t.Fatalf("expected duplicate AddNode to fail")
	}
	if err := store.AddNode(model.Node{}); err == nil {
		t.Fatalf("expected empty ID to fail")
	}
}

func TestListNodesSorted(t *testing.T) {
	store := NewKnowledgeBase()
	for _, id := range []string{"c", "a", "b"} {
		if err := store.AddNode(model.Node{ID: model.NodeID(id)}); err != nil {
			t.Fatalf("AddNode(%s): %v", id, err)
		}
	}
	nodes := store.ListNodes()
	if len(nodes) != 3 || nodes[0].Node.ID != "a" || nodes[2].Node.ID != "c" {
		t.Fatalf("ListNodes = %+v", nodes)
	}
}

func TestUpdateNotifiesSubscribers(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddNode(model.Node{ID: "n1", Name: "keep"}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	var got []Event
	unsubscribe := store.Subscribe(func(e Event) { got = append(got, e) })

	err := store.Update("n1", func(st *NodeStatus) {
		st.Position = core.Vec3{X: 7000}
		st.HasPosition = true
		st.StoredBundles = 2
		st.UpdatedAt = time.Minute
		st.Node.Name = "overwritten"
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(got) != 1 || got[0].Type != EventNodeUpdated || got[0].Status.Position.X != 7000 {
		t.Fatalf("events = %+v", got)
	}
	if got[0].Status.Node.Name != "keep" {
		t.Fatalf("node definition must not change through Update")
	}

	unsubscribe()
	_ = store.Update("n1", func(st *NodeStatus) { st.StoredBundles = 3 })
	if len(got) != 1 {
		t.Fatalf("unsubscribed callback still invoked")
	}
	if err := store.Update("missing", func(*NodeStatus) {}); err == nil {
		t.Fatalf("expected error for unknown node")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	store := NewKnowledgeBase()
	for i := range 4 {
		if err := store.AddNode(model.Node{ID: model.NodeID(fmt.Sprintf("n-%d", i))}); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := model.NodeID(fmt.Sprintf("n-%d", i))
			for j := range 100 {
				_ = store.Update(id, func(st *NodeStatus) { st.StoredBundles = j })
				_ = store.ListNodes()
			}
		}(i)
	}
	wg.Wait()

	for _, st := range store.ListNodes() {
		if st.StoredBundles != 99 {
			t.Fatalf("node %s stored = %d, want 99", st.Node.ID, st.StoredBundles)
		}
	}
}
