package engine

import (
	"fmt"

	"github.com/mcastellin/gossipmesh/ballot"
	"github.com/mcastellin/gossipmesh/store"
)

// Set stores value under key locally, bumping its version, and returns
// the version so callers can track their own write. Dissemination to
// the rest of the cluster happens on later hash-gossip ticks (each tick
// announces one randomly chosen key), not synchronously.
func (e *Engine) Set(key string, value []byte) store.Version {
	return e.store.Set(key, value)
}

// Get returns the current local value for key.
func (e *Engine) Get(key string) ([]byte, bool) {
	return e.store.Get(key)
}

// Election registers a new election under opts.Topic, or returns the
// existing record unchanged if one is already registered for that topic.
func (e *Engine) Election(opts ballot.Options) ballot.Election {
	return e.ballot.Election(opts)
}

// Vote casts value as our own ballot for topic and immediately gossips
// the election's current state to a random alive peer so the vote starts
// spreading right away. There is no periodic votes round: ballots spread
// only through these pushes and handleVotes' forwarding.
func (e *Engine) Vote(topic, value string) ballot.Election {
	wasClosed, _ := e.ballot.Vote(e.Self().ID.String(), topic, value)
	nowClosed := e.ballot.Decide(topic, len(e.table.All()))
	e.forwardVotes(topic)

	election, ok := e.ballot.Get(topic)
	if !ok {
		return ballot.Election{Topic: topic}
	}
	if nowClosed && !wasClosed {
		e.surfaceElectionClose(election)
	}
	return election
}

// GetElection returns topic's current election record.
func (e *Engine) GetElection(topic string) (ballot.Election, bool) {
	return e.ballot.Get(topic)
}

func (e *Engine) String() string {
	self := e.Self()
	return fmt.Sprintf("engine(%s@%s:%d)", self.ID, self.Address, self.Port)
}
