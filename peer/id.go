// Package peer implements the Peer Table: the map of peer-uuid to
// descriptor with liveness and lifetime counters.
package peer

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/rs/xid"
)

// ID is an opaque 128-bit peer identifier.
type ID [16]byte

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the zero value, used by callers that treat
// the zero ID as "unset".
func (id ID) IsZero() bool {
	return id == ID{}
}

// MarshalText implements encoding.TextMarshaler so ID can be used directly
// as a JSON map key (peer descriptors travel in `list` messages keyed by
// uuid) and as an ordinary struct field.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseID parses an ID from its hex string representation.
func ParseID(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("peer: invalid id length %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

// IDGenerator mints new peer identifiers. UUID generation is an external
// collaborator, but a default implementation ships so
// the engine works out of the box.
type IDGenerator interface {
	New() ID
}

// NewIDGenerator returns the default generator: 4 bytes of crypto/rand
// entropy followed by a 12-byte xid, the same "fixed prefix + sortable
// xid suffix" shape distributed-queue's pkg/domain uses for record
// identifiers (there the prefix is a shard id; here it's just entropy,
// since gossip peers have no shard to encode).
func NewIDGenerator() IDGenerator {
	return xidGenerator{}
}

type xidGenerator struct{}

func (xidGenerator) New() ID {
	var id ID
	_, _ = rand.Read(id[:4])
	copy(id[4:], xid.New().Bytes())
	return id
}
