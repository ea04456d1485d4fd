// Package ballot implements the Ballot Box: per-topic elections with
// merge, quorum, and deadline rules.
package ballot

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Quorum is the threshold predicate that closes an election. Either Count
// (an absolute number of votes) or Fraction (of knownPeers) may be set;
// an election closes by quorum as soon as either is satisfied.
type Quorum struct {
	Count    int
	Fraction float64
}

// Satisfied reports whether votes cast out of knownPeers known peers
// meets this Quorum.
func (q Quorum) Satisfied(votes, knownPeers int) bool {
	if q.Count > 0 && votes >= q.Count {
		return true
	}
	if q.Fraction > 0 && knownPeers > 0 && float64(votes) >= q.Fraction*float64(knownPeers) {
		return true
	}
	return false
}

// Ballot is a single voter's cast, versioned by VoteLifetime so repeat
// votes and merges can be ordered.
type Ballot struct {
	Value        string `json:"value"`
	VoteLifetime uint64 `json:"voteLifetime"`
}

// Options registers a new election.
type Options struct {
	Topic   string
	Origin  string
	Quorum  Quorum
	Expires time.Time // zero value means no deadline
}

// Election is the full per-topic record, exchanged wholesale in `votes`
// messages.
type Election struct {
	Topic   string           `json:"topic"`
	Origin  string           `json:"origin"`
	Quorum  Quorum           `json:"quorum"`
	Expires time.Time        `json:"expires"`
	Closed  bool             `json:"closed"`
	Expired bool             `json:"expired"`
	Votes   map[string]Ballot `json:"votes"`
	Results map[string]int   `json:"results,omitempty"`
}

func (e *Election) clone() Election {
	votes := make(map[string]Ballot, len(e.Votes))
	for k, v := range e.Votes {
		votes[k] = v
	}
	var results map[string]int
	if e.Results != nil {
		results = make(map[string]int, len(e.Results))
		for k, v := range e.Results {
			results[k] = v
		}
	}
	out := *e
	out.Votes = votes
	out.Results = results
	return out
}

// New creates an empty Box. A nil logger is replaced with a no-op logger.
func New(logger *zap.Logger) *Box {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Box{logger: logger, elections: map[string]*Election{}}
}

// Box holds every election this node knows about, keyed by topic — a
// topic is identified across peers solely by its Topic field.
type Box struct {
	mu        sync.Mutex
	logger    *zap.Logger
	elections map[string]*Election
}

// Election registers a new election for opts.Topic. Calling Election
// again for a topic that already exists returns the existing record
// unchanged — registration is not itself a vote.
func (b *Box) Election(opts Options) Election {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.elections[opts.Topic]; ok {
		b.checkExpiry(e)
		return e.clone()
	}

	e := &Election{
		Topic:   opts.Topic,
		Origin:  opts.Origin,
		Quorum:  opts.Quorum,
		Expires: opts.Expires,
		Votes:   map[string]Ballot{},
	}
	b.elections[opts.Topic] = e
	return e.clone()
}

// Vote records voterUUID's ballot for topic. If the election doesn't
// exist or is already closed, this is a no-op that reports the current
// closed/expired status.
func (b *Box) Vote(voterUUID, topic, value string) (closed, expired bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.elections[topic]
	if !ok {
		return false, false
	}
	b.checkExpiry(e)
	if e.Closed {
		return true, e.Expired
	}

	next := e.Votes[voterUUID].VoteLifetime + 1
	e.Votes[voterUUID] = Ballot{Value: value, VoteLifetime: next}

	return e.Closed, e.Expired
}

// Merge integrates an incoming election record: per voter, keep the
// higher vote-lifetime ballot, tie-broken by
// lexicographic value; if incoming is closed and local isn't, adopt the
// closed state. Returns the merged record and whether it is now closed.
func (b *Box) Merge(topic string, incoming Election) (merged Election, closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.elections[topic]
	if !ok {
		e = &Election{
			Topic:   incoming.Topic,
			Origin:  incoming.Origin,
			Quorum:  incoming.Quorum,
			Expires: incoming.Expires,
			Votes:   map[string]Ballot{},
		}
		b.elections[topic] = e
	}
	b.checkExpiry(e)

	for voter, incomingBallot := range incoming.Votes {
		local, known := e.Votes[voter]
		if !known || ballotNewer(incomingBallot, local) {
			e.Votes[voter] = incomingBallot
		}
	}

	if incoming.Closed && !e.Closed {
		e.Closed = true
		e.Expired = incoming.Expired
		if incoming.Results != nil {
			e.Results = incoming.Results
		} else {
			e.Results = tally(e.Votes)
		}
	}

	return e.clone(), e.Closed
}

// ballotNewer reports whether a should replace b when merging a single
// voter's ballot: higher vote-lifetime wins, ties broken lexicographically
// by value so every peer deciding independently agrees.
func ballotNewer(a, b Ballot) bool {
	if a.VoteLifetime != b.VoteLifetime {
		return a.VoteLifetime > b.VoteLifetime
	}
	return a.Value > b.Value
}

// Decide evaluates topic's quorum predicate against knownPeers. If
// satisfied, the election closes, Results is computed, and true is
// returned.
func (b *Box) Decide(topic string, knownPeers int) (closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.elections[topic]
	if !ok {
		return false
	}
	b.checkExpiry(e)
	if e.Closed {
		return true
	}

	if e.Quorum.Satisfied(len(e.Votes), knownPeers) {
		e.Closed = true
		e.Expired = false
		e.Results = tally(e.Votes)
		return true
	}
	return false
}

// Get returns a copy of topic's current election record.
func (b *Box) Get(topic string) (Election, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.elections[topic]
	if !ok {
		return Election{}, false
	}
	b.checkExpiry(e)
	return e.clone(), true
}

// checkExpiry closes e if its deadline has passed. Must be called with
// b.mu held.
func (b *Box) checkExpiry(e *Election) {
	if e.Closed || e.Expires.IsZero() {
		return
	}
	if time.Now().Before(e.Expires) {
		return
	}
	e.Closed = true
	e.Expired = true
	e.Results = tally(e.Votes)
	b.logger.Debug("election closed by deadline", zap.String("topic", e.Topic))
}

// tally counts ballots by value; ties in the winning value are resolved
// by the caller via lexicographic ordering over Results' keys, since
// Results itself records every value's count.
func tally(votes map[string]Ballot) map[string]int {
	out := map[string]int{}
	for _, v := range votes {
		out[v.Value]++
	}
	return out
}

// Winner returns the value with the highest count in results, ties
// broken by lexicographic value order.
func Winner(results map[string]int) (string, int) {
	type pair struct {
		value string
		count int
	}
	pairs := make([]pair, 0, len(results))
	for v, c := range results {
		pairs = append(pairs, pair{v, c})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].value < pairs[j].value
	})
	if len(pairs) == 0 {
		return "", 0
	}
	return pairs[0].value, pairs[0].count
}
