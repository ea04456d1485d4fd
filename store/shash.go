// Package store implements SHash, the versioned key/value store the gossip
// engine uses for interest-driven anti-entropy. Every entry carries a
// Version that answers a single question cheaply: would the other side
// benefit from receiving this value?
package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"

	"go.uber.org/zap"
)

// Version tags a stored value so peers can decide interest without
// exchanging the value itself. Seq orders writes from the node that owns
// the key; Hash lets an operator eyeball whether two version tags cover
// the same content.
type Version struct {
	Seq  uint64 `json:"seq"`
	Hash string `json:"hash"`
}

// Newer reports whether v should replace other in a SetUnique call.
func (v Version) Newer(other Version) bool {
	return v.Seq > other.Seq
}

func (v Version) String() string {
	return fmt.Sprintf("%d:%s", v.Seq, v.Hash)
}

func hashValue(value []byte) string {
	sum := sha256.Sum256(value)
	return hex.EncodeToString(sum[:])
}

type entry struct {
	Value   []byte
	Version Version
}

// New creates an empty SHash. A nil logger is replaced with a no-op logger.
func New(logger *zap.Logger) *SHash {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SHash{
		logger:  logger,
		entries: map[string]entry{},
	}
}

// SHash is the versioned store backing gossip anti-entropy. All methods
// are safe for concurrent use; callers must not hold the mutex across a
// network suspension point.
type SHash struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	entries map[string]entry
	lastSeq uint64
}

// Set overwrites key unconditionally and bumps its version, even if value
// is identical to what's stored — lifetime-like counters never regress.
func (s *SHash) Set(key string, value []byte) Version {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeq++
	v := Version{Seq: s.lastSeq, Hash: hashValue(value)}
	s.entries[key] = entry{Value: cloneBytes(value), Version: v}
	return v
}

// SetUnique accepts (key, value, version) only when version is strictly
// newer than what's stored (or the key is absent); otherwise it's a no-op.
// It returns whether the value was accepted.
func (s *SHash) SetUnique(key string, value []byte, version Version) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[key]
	if ok && !version.Newer(cur.Version) {
		s.logger.Debug("setUnique rejected stale version",
			zap.String("key", key))
		return false
	}
	s.entries[key] = entry{Value: cloneBytes(value), Version: version}
	if version.Seq > s.lastSeq {
		s.lastSeq = version.Seq
	}
	return true
}

// Get returns the current value for key, or ok=false if absent.
func (s *SHash) Get(key string) (value []byte, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, found := s.entries[key]
	if !found {
		return nil, false
	}
	return cloneBytes(e.Value), true
}

// GetVersioned returns the value and its current Version.
func (s *SHash) GetVersioned(key string) (value []byte, version Version, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, found := s.entries[key]
	if !found {
		return nil, Version{}, false
	}
	return cloneBytes(e.Value), e.Version, true
}

// Interest reports whether the store would benefit from receiving
// (key, incomingVersion): true when the key is absent, or the stored
// version is older than incomingVersion. A key the receiver lacks is
// always of interest (§7's error handling table).
func (s *SHash) Interest(key string, incomingVersion Version) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, ok := s.entries[key]
	if !ok {
		return true
	}
	return incomingVersion.Newer(cur.Version)
}

// RandomPair returns a uniformly chosen (key, version) from the current
// keyset, or ok=false if the store is empty.
func (s *SHash) RandomPair() (key string, version Version, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return "", Version{}, false
	}

	idx := rand.Intn(len(s.entries))
	i := 0
	for k, e := range s.entries {
		if i == idx {
			return k, e.Version, true
		}
		i++
	}
	// unreachable: idx < len(s.entries)
	return "", Version{}, false
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// CanonicalJSON serializes v deterministically for callers that need to
// feed arbitrary values into Set as []byte. Set itself, and the public
// API's Set, take []byte and do not call it.
func CanonicalJSON(v any) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
