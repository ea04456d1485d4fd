package engine

import (
	"testing"
	"time"

	"github.com/mcastellin/gossipmesh/ballot"
)

func newTestEngine(t *testing.T, port int) *Engine {
	t.Helper()
	e := New(Config{
		Address:           "127.0.0.1",
		Port:              port,
		Timeout:           200 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		ListInterval:      20 * time.Millisecond,
		HashInterval:      20 * time.Millisecond,
	}, nil, nil)
	t.Cleanup(func() { e.Close() })
	return e
}

func waitForEvent(t *testing.T, e *Engine, kind Kind, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case evt := <-e.Events():
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %s", kind)
		}
	}
}

func TestJoinMergesIntoSeedTable(t *testing.T) {
	a := newTestEngine(t, 19201)
	b := newTestEngine(t, 19202)

	if err := a.Listen(""); err != nil {
		t.Fatal(err)
	}
	if err := b.Listen(""); err != nil {
		t.Fatal(err)
	}

	a.Join(19202, "127.0.0.1")
	waitForEvent(t, b, KindList, 2*time.Second)

	if _, ok := b.Peers()[a.Self().ID]; !ok {
		t.Fatal("b never learned about a after join")
	}
}

func TestSetThenHashGossipReachesPeer(t *testing.T) {
	a := newTestEngine(t, 19203)
	b := newTestEngine(t, 19204)

	if err := a.Listen(""); err != nil {
		t.Fatal(err)
	}
	if err := b.Listen(""); err != nil {
		t.Fatal(err)
	}

	a.Join(19204, "127.0.0.1")
	waitForEvent(t, b, KindList, 2*time.Second)
	b.Join(19203, "127.0.0.1")
	waitForEvent(t, a, KindList, 2*time.Second)

	a.Set("color", []byte("blue"))

	deadline := time.After(3 * time.Second)
	for {
		if v, ok := b.Get("color"); ok && string(v) == "blue" {
			return
		}
		select {
		case <-deadline:
			t.Fatal("value never disseminated from a to b")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestVoteClosesByQuorum(t *testing.T) {
	e := newTestEngine(t, 19205)
	e.Election(ballot.Options{Topic: "leader", Quorum: ballot.Quorum{Count: 1}})

	election := e.Vote("leader", "node-a")
	if !election.Closed {
		t.Fatal("expected single-vote quorum of 1 to close the election")
	}
	if election.Expired {
		t.Fatal("expected a quorum close, not a deadline close")
	}
}

func TestVoteClosesByDeadline(t *testing.T) {
	e := newTestEngine(t, 19206)
	e.Election(ballot.Options{
		Topic:   "slot",
		Quorum:  ballot.Quorum{Count: 100},
		Expires: time.Now().Add(20 * time.Millisecond),
	})

	time.Sleep(40 * time.Millisecond)
	election := e.Vote("slot", "node-a")
	if !election.Closed || !election.Expired {
		t.Fatal("expected the election to have closed by deadline")
	}
}

func TestSelfIsAlwaysAliveInOwnTable(t *testing.T) {
	e := newTestEngine(t, 19207)
	self := e.Self()
	if !self.Alive {
		t.Fatal("self must always report alive")
	}
	if _, ok := e.Peers()[self.ID]; !ok {
		t.Fatal("self must be present in its own peer table")
	}
}
