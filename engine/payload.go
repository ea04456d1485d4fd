package engine

import (
	"github.com/mcastellin/gossipmesh/peer"
	"github.com/mcastellin/gossipmesh/store"
)

// ListPayload is the `list` verb's payload: peerId -> peerDescriptor
// Peer IDs marshal to their hex string via
// peer.ID's TextMarshaler, so this is a plain JSON object on the wire.
type ListPayload map[string]peer.Descriptor

func newListPayload(descs map[peer.ID]peer.Descriptor) ListPayload {
	out := make(ListPayload, len(descs))
	for id, d := range descs {
		out[id.String()] = d
	}
	return out
}

// KeyVersion is the `gossip` and `request` verbs' payload: {key, version}.
type KeyVersion struct {
	Key     string        `json:"key"`
	Version store.Version `json:"version"`
}

// KeyValue is the `response` verb's payload: {key, value}, carrying the
// value's version so the receiver can setUnique it.
type KeyValue struct {
	Key     string        `json:"key"`
	Value   []byte        `json:"value"`
	Version store.Version `json:"version"`
}
