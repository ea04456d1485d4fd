package clock

import (
	"sync"
	"testing"
	"time"
)

func TestArmFiresAfterTimeout(t *testing.T) {
	r := New(nil)
	defer r.CancelAll()

	fired := make(chan string, 1)
	r.Arm("peer-1", 20*time.Millisecond, func(peerID string) {
		fired <- peerID
	})

	select {
	case id := <-fired:
		if id != "peer-1" {
			t.Fatalf("expected peer-1, got %s", id)
		}
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestArmReplacesPriorTimer(t *testing.T) {
	r := New(nil)
	defer r.CancelAll()

	var mu sync.Mutex
	var fires int

	r.Arm("peer-1", 10*time.Millisecond, func(string) {
		mu.Lock()
		fires++
		mu.Unlock()
	})
	r.Arm("peer-1", 50*time.Millisecond, func(string) {
		mu.Lock()
		fires++
		mu.Unlock()
	})

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	got := fires
	mu.Unlock()
	if got != 1 {
		t.Fatalf("expected exactly one fire after replacing the timer, got %d", got)
	}
}

func TestCancelPreventsAction(t *testing.T) {
	r := New(nil)
	defer r.CancelAll()

	fired := make(chan struct{}, 1)
	r.Arm("peer-1", 20*time.Millisecond, func(string) {
		fired <- struct{}{}
	})
	r.Cancel("peer-1")

	select {
	case <-fired:
		t.Fatal("cancelled timer must not fire")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestResetExtendsDeadline(t *testing.T) {
	r := New(nil)
	defer r.CancelAll()

	fired := make(chan time.Time, 1)
	start := time.Now()
	r.Arm("peer-1", 30*time.Millisecond, func(string) {
		fired <- time.Now()
	})

	time.Sleep(15 * time.Millisecond)
	r.Reset("peer-1", 60*time.Millisecond)

	select {
	case when := <-fired:
		if when.Sub(start) < 60*time.Millisecond {
			t.Fatalf("timer fired before the reset deadline: %v", when.Sub(start))
		}
	case <-time.After(time.Second):
		t.Fatal("timer never fired after reset")
	}
}

func TestCancelAllIsIdempotent(t *testing.T) {
	r := New(nil)
	r.Arm("peer-1", time.Second, func(string) {})

	r.CancelAll()
	r.CancelAll()
}
