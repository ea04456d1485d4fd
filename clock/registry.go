// Package clock implements the gossip engine's failure-detection timer
// registry: one pending one-shot timer per peer uuid, swept by a single
// background goroutine ordered by deadline (adapted from the eviction
// heap objects-cache uses for its TTL cache).
package clock

import (
	"container/heap"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Action is invoked when a peer's timer expires without being reset or
// cancelled first.
type Action func(peerID string)

// entry is one pending timer. index is maintained by container/heap.
type entry struct {
	peerID   string
	deadline time.Time
	action   Action
	canceled bool
	index    int
}

// timerHeap orders pending entries by deadline; canceled entries are
// skipped by the sweeper but stay in the heap until popped, mirroring
// objects-cache's cacheItemHeap.
type timerHeap []*entry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(v any) {
	e := v.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// New creates an armed-and-idle Registry. A nil logger is replaced with a
// no-op logger.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		logger:  logger,
		byPeer:  map[string]*entry{},
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go r.sweep()
	return r
}

// Registry is the node-wide failure-detector timer table: at most one
// pending timer per peer uuid.
type Registry struct {
	mu      sync.Mutex
	logger  *zap.Logger
	byPeer  map[string]*entry
	heap    timerHeap
	wake    chan struct{}
	closed  bool
	stopped chan struct{}
}

// Arm registers action to fire after timeout unless reset or cancelled
// first. Any prior timer for peerID is replaced.
func (r *Registry) Arm(peerID string, timeout time.Duration, action Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	if old, ok := r.byPeer[peerID]; ok {
		old.canceled = true
	}

	e := &entry{peerID: peerID, deadline: time.Now().Add(timeout), action: action}
	r.byPeer[peerID] = e
	heap.Push(&r.heap, e)
	r.notify()
}

// Reset re-arms peerID's existing timer to expire timeout from now,
// keeping its action. It's a no-op if no timer is armed for peerID.
func (r *Registry) Reset(peerID string, timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	old, ok := r.byPeer[peerID]
	if !ok {
		return
	}
	old.canceled = true

	e := &entry{peerID: peerID, deadline: time.Now().Add(timeout), action: old.action}
	r.byPeer[peerID] = e
	heap.Push(&r.heap, e)
	r.notify()
}

// Cancel removes any pending timer for peerID without firing its action.
func (r *Registry) Cancel(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byPeer[peerID]; ok {
		old.canceled = true
		delete(r.byPeer, peerID)
	}
}

// CancelAll is the idempotent teardown step used by Close(): it cancels
// every pending timer and stops the sweeper goroutine.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, e := range r.byPeer {
		e.canceled = true
	}
	r.byPeer = map[string]*entry{}
	r.mu.Unlock()

	close(r.stopped)
}

func (r *Registry) notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// sweep is the single goroutine responsible for firing expired timers.
// It always fires the next-to-expire entry, sleeping until its deadline
// or until woken by a newer Arm/Reset. Cancel does not wake it; a
// cancelled entry is skipped when its deadline comes up.
func (r *Registry) sweep() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		r.mu.Lock()
		for r.heap.Len() > 0 && r.heap[0].canceled {
			heap.Pop(&r.heap)
		}
		var wait time.Duration
		var next *entry
		if r.heap.Len() > 0 {
			next = r.heap[0]
			wait = time.Until(next.deadline)
			if wait < 0 {
				wait = 0
			}
		} else {
			wait = time.Hour
		}
		closed := r.closed
		r.mu.Unlock()

		if closed {
			return
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-r.stopped:
			return
		case <-r.wake:
			continue
		case <-timer.C:
			r.mu.Lock()
			if r.heap.Len() == 0 || r.heap[0] != next || next.canceled {
				r.mu.Unlock()
				continue
			}
			heap.Pop(&r.heap)
			delete(r.byPeer, next.peerID)
			r.mu.Unlock()

			r.logger.Debug("peer timer expired", zap.String("peer", next.peerID))
			next.action(next.peerID)
		}
	}
}
