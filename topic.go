package gossipmesh

import (
	"sync"
	"time"

	"github.com/mcastellin/gossipmesh/engine"
)

// defaultMaxPending bounds the backlog shared by all subscriptions; the
// oldest event is dropped once it is full, whether or not every
// subscriber has read it, the same
// bounded-retention shape concurrency-and-channels' EventStore uses.
const defaultMaxPending = 256

// defaultPollInterval is how often a subscription loop checks the shared
// backlog for events newer than what it already delivered.
const defaultPollInterval = 20 * time.Millisecond

// eventStore buffers the events relayed from the engine, timestamped on
// arrival so subscriptions can each track their own read position
// independently without consuming a shared channel.
type eventStore struct {
	mu      sync.Mutex
	updates []tsEvent
}

type tsEvent struct {
	engine.Event
	ts time.Time
}

func (s *eventStore) push(evt engine.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := append(s.updates, tsEvent{Event: evt, ts: time.Now()})
	if len(u) > defaultMaxPending {
		u = u[1:]
	}
	s.updates = u
}

func (s *eventStore) since(from time.Time) []tsEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, e := range s.updates {
		if e.ts.After(from) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	out := make([]tsEvent, len(s.updates)-idx)
	copy(out, s.updates[idx:])
	return out
}

// newTopic creates an empty topic.
func newTopic() *topic {
	return &topic{store: &eventStore{}, done: make(chan struct{})}
}

// topic fans every event relayed from one engine out to any number of
// independent subscriptions, grounded in
// concurrency-and-channels/subscription.go's Topic.
type topic struct {
	store *eventStore
	done  chan struct{}
}

// relay copies events from src into the topic's shared backlog until the
// topic is closed or src is closed. Engine.Close does not close the
// engine's event channel, so in practice relay stops on topic close.
func (t *topic) relay(src <-chan engine.Event) {
	for {
		select {
		case <-t.done:
			return
		case evt, ok := <-src:
			if !ok {
				return
			}
			t.store.push(evt)
		}
	}
}

func (t *topic) close() {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}

// subscribe starts a new independent read position over the topic's
// backlog, beginning from this call's timestamp.
func (t *topic) subscribe() Subscription {
	stream := make(chan []engine.Event)
	closing := make(chan chan error)
	go t.loop(stream, closing)
	return &subscription{stream: stream, closing: closing}
}

func (t *topic) loop(stream chan []engine.Event, closing chan chan error) {
	lastSeen := time.Now()
	var pending []tsEvent

	for {
		var send chan<- []engine.Event
		var poll <-chan time.Time
		if len(pending) > 0 {
			send = stream
		} else {
			poll = time.After(defaultPollInterval)
		}

		select {
		case <-t.done:
			close(stream)
			return
		case errc := <-closing:
			close(stream)
			errc <- nil
			return
		case <-poll:
			pending = t.store.since(lastSeen)
		case send <- toEvents(pending):
			lastSeen = pending[len(pending)-1].ts
			pending = nil
		}
	}
}

func toEvents(in []tsEvent) []engine.Event {
	out := make([]engine.Event, len(in))
	for i, e := range in {
		out[i] = e.Event
	}
	return out
}

// Subscription streams events observed by a Node from the point
// Subscribe was called onward.
type Subscription interface {
	// Updates returns the channel delivering batches of new events.
	Updates() <-chan []engine.Event
	// Close stops the subscription, releasing its goroutine.
	Close() error
}

type subscription struct {
	stream  chan []engine.Event
	closing chan chan error
}

func (s *subscription) Updates() <-chan []engine.Event {
	return s.stream
}

func (s *subscription) Close() error {
	errc := make(chan error)
	s.closing <- errc
	return <-errc
}
