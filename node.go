// Package gossipmesh is an embeddable gossip-based membership and
// dissemination layer for a peer-to-peer cluster: failure-detected
// membership, interest-driven key/value anti-entropy, and decentralized
// quorum/deadline elections, all driven by periodic gossip rounds over
// plain TCP.
package gossipmesh

import (
	"time"

	"go.uber.org/zap"

	"github.com/mcastellin/gossipmesh/ballot"
	"github.com/mcastellin/gossipmesh/engine"
	"github.com/mcastellin/gossipmesh/peer"
	"github.com/mcastellin/gossipmesh/store"
)

// Config configures a Node. The zero value is valid; every field falls
// back to engine's defaults.
type Config struct {
	Address           string
	Port              int
	Timeout           time.Duration
	HeartbeatInterval time.Duration
	ListInterval      time.Duration
	HashInterval      time.Duration
	Logger            *zap.Logger
	IDGenerator       peer.IDGenerator
}

// New creates a Node. It does not start listening; call Listen to join
// the network.
func New(cfg Config) *Node {
	eng := engine.New(engine.Config{
		Address:           cfg.Address,
		Port:              cfg.Port,
		Timeout:           cfg.Timeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ListInterval:      cfg.ListInterval,
		HashInterval:      cfg.HashInterval,
	}, cfg.IDGenerator, cfg.Logger)

	n := &Node{engine: eng, topic: newTopic()}
	go n.topic.relay(eng.Events())
	return n
}

// Node is a single member of the gossip cluster. All methods are safe
// for concurrent use.
type Node struct {
	engine *engine.Engine
	topic  *topic
}

// Self returns this node's own peer descriptor, including its assigned id.
func (n *Node) Self() peer.Descriptor {
	return n.engine.Self()
}

// Peers returns a snapshot of every peer this node currently knows about.
func (n *Node) Peers() map[peer.ID]peer.Descriptor {
	return n.engine.Peers()
}

// Listen starts accepting connections on bindAddr (":<port>" if empty)
// and begins the periodic gossip rounds.
func (n *Node) Listen(bindAddr string) error {
	return n.engine.Listen(bindAddr)
}

// Join seeds this node's membership from a known member at address:port.
func (n *Node) Join(port int, address string) {
	n.engine.Join(port, address)
}

// Set stores value under key and returns its freshly minted version. The
// write disseminates to the rest of the cluster on later gossip ticks.
func (n *Node) Set(key string, value []byte) store.Version {
	return n.engine.Set(key, value)
}

// Get returns the current local value for key.
func (n *Node) Get(key string) ([]byte, bool) {
	return n.engine.Get(key)
}

// Election registers a new quorum/deadline election under opts.Topic.
func (n *Node) Election(opts ballot.Options) ballot.Election {
	return n.engine.Election(opts)
}

// Vote casts this node's ballot for topic and returns the election's
// state immediately after casting — Closed may already be true if this
// vote met quorum or the deadline had already passed.
func (n *Node) Vote(topic, value string) ballot.Election {
	return n.engine.Vote(topic, value)
}

// GetElection returns topic's current election record.
func (n *Node) GetElection(topic string) (ballot.Election, bool) {
	return n.engine.GetElection(topic)
}

// Subscribe returns a Subscription delivering every event this node
// observes from the moment Subscribe is called onward. Multiple
// subscribers may coexist; each sees every event independently.
func (n *Node) Subscribe() Subscription {
	return n.topic.subscribe()
}

// Close stops the periodic gossip rounds, closes every active
// subscription, and releases the listening socket.
func (n *Node) Close() error {
	n.topic.close()
	return n.engine.Close()
}
