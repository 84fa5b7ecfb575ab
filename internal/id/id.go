// Package id provides time-sortable identifier generation for persisted
// records.
package id

import (
	"crypto/rand"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces unique identifiers.
type Generator interface {
	New() string
}

// ULIDGenerator issues monotonic ULIDs. Safe for concurrent use.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewULIDGenerator builds a ULID generator backed by crypto/rand entropy.
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// New returns the next identifier. IDs generated within the same
// millisecond remain strictly ordered.
func (g *ULIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), g.entropy).String()
}

// Sequence is a deterministic Generator for tests. Each call returns
// "prefix-N" with N increasing from 1.
type Sequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequence builds a deterministic generator with the given prefix.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

func (s *Sequence) New() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.prefix + "-" + strconv.Itoa(s.n)
}
