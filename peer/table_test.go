package peer

import (
	"testing"
	"time"

	"github.com/mcastellin/gossipmesh/clock"
)

func newTestTable(selfID ID) *Table {
	timers := clock.New(nil)
	self := Descriptor{ID: selfID, Address: "127.0.0.1", Port: 9001}
	return New(self, 50*time.Millisecond, timers, nil)
}

func TestSelfAlwaysAlive(t *testing.T) {
	selfID := ID{1}
	tbl := newTestTable(selfID)

	self := tbl.Self()
	if !self.Alive {
		t.Fatal("self descriptor must always be alive")
	}
}

func TestAddOrMergeInsertsUnknownPeer(t *testing.T) {
	tbl := newTestTable(ID{1})
	remote := Descriptor{ID: ID{2}, Lifetime: 1, Alive: true}

	if changed := tbl.AddOrMerge(remote); !changed {
		t.Fatal("expected AddOrMerge to report a change for an unknown peer")
	}

	d, ok := tbl.Get(ID{2})
	if !ok || !d.Alive {
		t.Fatal("expected new peer to be present and alive")
	}
}

func TestAddOrMergeIgnoresLowerLifetime(t *testing.T) {
	tbl := newTestTable(ID{1})
	tbl.AddOrMerge(Descriptor{ID: ID{2}, Lifetime: 10, Alive: true})

	changed := tbl.AddOrMerge(Descriptor{ID: ID{2}, Lifetime: 5, Alive: false})
	if changed {
		t.Fatal("a lower-or-equal lifetime must be ignored")
	}

	d, _ := tbl.Get(ID{2})
	if d.Lifetime != 10 || !d.Alive {
		t.Fatalf("expected descriptor to be unmodified, got %+v", d)
	}
}

func TestAddOrMergeAdoptsHigherLifetime(t *testing.T) {
	tbl := newTestTable(ID{1})
	tbl.AddOrMerge(Descriptor{ID: ID{2}, Lifetime: 10, Alive: true})

	tbl.AddOrMerge(Descriptor{ID: ID{2}, Lifetime: 20, Alive: true})

	d, _ := tbl.Get(ID{2})
	if d.Lifetime != 20 {
		t.Fatalf("expected lifetime to be adopted, got %d", d.Lifetime)
	}
}

func TestAddOrMergeRevivesDeadPeer(t *testing.T) {
	tbl := newTestTable(ID{1})
	tbl.AddOrMerge(Descriptor{ID: ID{2}, Lifetime: 1, Alive: true, Timeout: 10 * time.Millisecond})

	time.Sleep(50 * time.Millisecond)
	d, _ := tbl.Get(ID{2})
	if d.Alive {
		t.Fatal("expected peer to be marked dead after its failure timeout elapsed")
	}

	tbl.AddOrMerge(Descriptor{ID: ID{2}, Lifetime: 99, Alive: true})
	d, _ = tbl.Get(ID{2})
	if !d.Alive {
		t.Fatal("expected peer to be revived by a higher lifetime with alive=true")
	}
}

func TestAddOrMergeIgnoresSelf(t *testing.T) {
	selfID := ID{1}
	tbl := newTestTable(selfID)

	tbl.AddOrMerge(Descriptor{ID: selfID, Lifetime: 9999, Alive: false})

	self := tbl.Self()
	if !self.Alive {
		t.Fatal("merging a descriptor claiming the local uuid must not affect self")
	}
}

func TestRandomAlivePeerExcludesSelfAndDead(t *testing.T) {
	selfID := ID{1}
	tbl := newTestTable(selfID)
	tbl.AddOrMerge(Descriptor{ID: ID{2}, Lifetime: 1, Alive: false})
	tbl.AddOrMerge(Descriptor{ID: ID{3}, Lifetime: 1, Alive: true})

	found := 0
	for i := 0; i < 50; i++ {
		d, ok := tbl.RandomAlivePeer()
		if !ok {
			// all ten bounded draws may land on self or the dead peer
			continue
		}
		found++
		if d.ID == selfID {
			t.Fatal("RandomAlivePeer must never return self")
		}
		if d.ID != (ID{3}) {
			t.Fatalf("expected the only alive peer, got %v", d.ID)
		}
	}
	if found == 0 {
		t.Fatal("expected to find the one alive, non-self peer")
	}
}

func TestRandomAlivePeerAbsentWhenNoneAlive(t *testing.T) {
	selfID := ID{1}
	tbl := newTestTable(selfID)
	tbl.AddOrMerge(Descriptor{ID: ID{2}, Lifetime: 1, Alive: false})

	if _, ok := tbl.RandomAlivePeer(); ok {
		t.Fatal("expected absence when no peer besides self is alive")
	}
}

func TestBumpSelfIsMonotonic(t *testing.T) {
	tbl := newTestTable(ID{1})

	prev := tbl.Self().Lifetime
	for i := 0; i < 5; i++ {
		next := tbl.BumpSelf()
		if next <= prev {
			t.Fatalf("lifetime must strictly increase: %d -> %d", prev, next)
		}
		prev = next
	}
}
