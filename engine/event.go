package engine

import (
	"github.com/mcastellin/gossipmesh/ballot"
	"github.com/mcastellin/gossipmesh/transport"
)

// Kind enumerates the observable event stream. It replaces dynamic,
// string-keyed event emission with a closed, typed variant set.
type Kind string

const (
	// KindData fires for every well-formed incoming message, before dispatch.
	KindData Kind = "data"
	// KindList, KindGossip, KindRequest, KindResponse, KindVotes fire
	// per-verb, after dispatch.
	KindList     Kind = "list"
	KindGossip   Kind = "gossip"
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindVotes    Kind = "votes"
	// KindSend fires before transmit, KindSent after a successful one.
	KindSend Kind = "send"
	KindSent Kind = "sent"
	// KindQuorum fires when an election closes by quorum, KindDeadline
	// when it closes by expiry.
	KindQuorum   Kind = "quorum"
	KindDeadline Kind = "deadline"
)

// Event is the single sum type delivered on the Engine's event channel.
// Only the fields relevant to Kind are populated.
type Event struct {
	Kind Kind

	// Populated for KindSend / KindSent.
	Addr string

	// Populated for KindData and the per-verb events.
	Message transport.Message

	// Populated for KindQuorum / KindDeadline.
	Topic    string
	Election ballot.Election
}
