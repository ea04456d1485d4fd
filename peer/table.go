package peer

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mcastellin/gossipmesh/clock"
)

// Descriptor is a peer's membership record. It is the
// payload exchanged verbatim in `list` messages.
type Descriptor struct {
	ID                ID            `json:"id"`
	Address           string        `json:"address"`
	Port              int           `json:"port"`
	Alive             bool          `json:"alive"`
	Lifetime          uint64        `json:"lifetime"`
	Timeout           time.Duration `json:"timeout"`
	HeartbeatInterval time.Duration `json:"heartbeatInterval"`
	ListInterval      time.Duration `json:"listInterval"`
	HashInterval      time.Duration `json:"hashInterval"`
}

// maxRandomDraws bounds randomAlivePeer's retry budget.
const maxRandomDraws = 10

// New creates a Table that always contains an alive descriptor for self.
// timers is the shared failure-detector registry; defaultTimeout is used
// when a remote descriptor doesn't specify its own.
func New(self Descriptor, defaultTimeout time.Duration, timers *clock.Registry, logger *zap.Logger) *Table {
	if logger == nil {
		logger = zap.NewNop()
	}
	self.Alive = true
	t := &Table{
		logger:         logger,
		timers:         timers,
		defaultTimeout: defaultTimeout,
		selfID:         self.ID,
		peers:          map[ID]Descriptor{self.ID: self},
	}
	return t
}

// Table is the node-wide peer table: exactly one descriptor per uuid, the
// local node's descriptor always present and always alive.
type Table struct {
	mu             sync.RWMutex
	logger         *zap.Logger
	timers         *clock.Registry
	defaultTimeout time.Duration
	selfID         ID
	peers          map[ID]Descriptor
}

// Self returns the local node's own descriptor.
func (t *Table) Self() Descriptor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.peers[t.selfID]
}

// Get returns the descriptor for id, if known.
func (t *Table) Get(id ID) (Descriptor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.peers[id]
	return d, ok
}

// All returns a snapshot copy of every known descriptor, keyed by id.
func (t *Table) All() map[ID]Descriptor {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[ID]Descriptor, len(t.peers))
	for id, d := range t.peers {
		out[id] = d
	}
	return out
}

// BumpSelf increments the local node's lifetime by one and returns the new
// value. Called on every heartbeat tick and on every outgoing send
// Called on every heartbeat tick and on every outgoing send.
func (t *Table) BumpSelf() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	self := t.peers[t.selfID]
	self.Lifetime++
	t.peers[t.selfID] = self
	return self.Lifetime
}

// AddOrMerge integrates a remote descriptor:
//   - unknown uuid: insert and arm a failure timer.
//   - known, remote.Lifetime > local.Lifetime: adopt the remote lifetime;
//     revive if the peer was dead and the remote says alive; reset the timer.
//   - known, remote.Lifetime <= local.Lifetime: ignore.
//
// AddOrMerge never modifies the local self entry; merging a descriptor
// claiming the local uuid is ignored: uuid uniqueness and self-authority
// over the local descriptor stay with the local node.
func (t *Table) AddOrMerge(remote Descriptor) (changed bool) {
	if remote.ID == t.selfID {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	local, known := t.peers[remote.ID]
	if !known {
		t.peers[remote.ID] = remote
		t.armTimer(remote)
		t.logger.Debug("peer discovered", zap.String("peer", remote.ID.String()))
		return true
	}

	if remote.Lifetime <= local.Lifetime {
		return false
	}

	revived := remote.Alive && !local.Alive
	local.Lifetime = remote.Lifetime
	local.Alive = local.Alive || remote.Alive
	if remote.Address != "" {
		local.Address = remote.Address
	}
	if remote.Port != 0 {
		local.Port = remote.Port
	}
	t.peers[remote.ID] = local
	t.armTimer(local)

	if revived {
		t.logger.Debug("peer revived", zap.String("peer", remote.ID.String()))
	}
	return true
}

func (t *Table) armTimer(d Descriptor) {
	if t.timers == nil {
		return
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = t.defaultTimeout
	}
	t.timers.Arm(d.ID.String(), timeout, t.markDeadAction())
}

func (t *Table) markDeadAction() clock.Action {
	return func(hexID string) {
		id, err := ParseID(hexID)
		if err != nil {
			return
		}
		t.markDead(id)
	}
}

func (t *Table) markDead(id ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.peers[id]
	if !ok || !d.Alive {
		return
	}
	d.Alive = false
	t.peers[id] = d
	t.logger.Debug("peer marked dead", zap.String("peer", id.String()))
}

// RandomAlivePeer draws up to ten uniform samples from the keyset and
// returns the first one that is alive and not self, bounding the retry
// cost when most of the table is dead.
func (t *Table) RandomAlivePeer() (Descriptor, bool) {
	t.mu.RLock()
	ids := make([]ID, 0, len(t.peers))
	peers := make(map[ID]Descriptor, len(t.peers))
	for id, d := range t.peers {
		ids = append(ids, id)
		peers[id] = d
	}
	t.mu.RUnlock()

	if len(ids) == 0 {
		return Descriptor{}, false
	}

	for i := 0; i < maxRandomDraws; i++ {
		id := ids[rand.Intn(len(ids))]
		if id == t.selfID {
			continue
		}
		if d, ok := peers[id]; ok && d.Alive {
			return d, true
		}
	}
	return Descriptor{}, false
}

