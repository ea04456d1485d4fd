// Package transport implements the gossip engine's wire protocol: a
// length-framed, self-describing message exchanged over a single TCP
// connection per conversation.
package transport

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Verb is one of the protocol's message types.
type Verb string

const (
	List     Verb = "list"
	Gossip   Verb = "gossip"
	Request  Verb = "request"
	Response Verb = "response"
	Votes    Verb = "votes"
)

// maxFrameSize bounds a single message body to defend against a corrupt
// or hostile length prefix turning a read into an unbounded allocation.
const maxFrameSize = 8 << 20 // 8 MiB

// ErrMalformed marks a message whose body is not parseable JSON or that
// fails the structural guard: reject if meta is absent, meta.type is
// absent, or data is absent.
var ErrMalformed = errors.New("transport: malformed message")

// Meta carries the message's verb.
type Meta struct {
	Type Verb `json:"type"`
}

// Message is the wire envelope: meta.type plus a verb-specific payload.
// Data is kept as raw JSON so the transport layer never needs to know the
// shape of every verb's payload.
type Message struct {
	Meta Meta            `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// Valid reports whether m passes the structural guard: meta.type and
// data must both be present. A JSON null data field counts as absent.
func (m Message) Valid() bool {
	return m.Meta.Type != "" && len(m.Data) > 0 && string(m.Data) != "null"
}

// NewMessage builds a Message by marshaling payload into Data.
func NewMessage(verb Verb, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("transport: encode %s payload: %w", verb, err)
	}
	return Message{Meta: Meta{Type: verb}, Data: data}, nil
}

// Decode unmarshals m.Data into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// WriteMessage frames msg as a 4-byte big-endian length prefix followed by
// its JSON body, since a reliable TCP stream gives no message boundary of
// its own.
func WriteMessage(w io.Writer, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: encode message: %w", err)
	}
	if len(body) > maxFrameSize {
		return fmt.Errorf("transport: message of %d bytes exceeds frame limit", len(body))
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadMessage reads one length-prefixed message from r. An unparseable
// body is reported as ErrMalformed so callers can drop it without a
// reply.
func ReadMessage(r io.Reader) (Message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Message{}, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxFrameSize {
		return Message{}, fmt.Errorf("transport: frame of %d bytes exceeds limit", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, err
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !msg.Valid() {
		return Message{}, ErrMalformed
	}
	return msg, nil
}
