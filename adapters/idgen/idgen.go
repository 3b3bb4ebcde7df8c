// Package idgen provides record identity generators.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/artpar/querykit/ports"
	"github.com/google/uuid"
)

// UUID generates random (version 4) UUIDs.
type UUID struct{}

// New generates a new UUID v4.
func (UUID) New() string {
	return uuid.NewString()
}

// TimeOrdered generates version 7 UUIDs, which sort by creation time
// and keep SQLite primary key inserts append-only.
type TimeOrdered struct{}

// New generates a new UUID v7, falling back to v4 if the clock read fails.
func (TimeOrdered) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Sequential generates prefix1, prefix2, ... (for tests and fixtures).
type Sequential struct {
	prefix  string
	counter atomic.Uint64
}

// NewSequential creates a sequential ID generator.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

// New generates the next sequential ID.
func (s *Sequential) New() string {
	return s.prefix + strconv.FormatUint(s.counter.Add(1), 10)
}

// Reset restarts the sequence.
func (s *Sequential) Reset() {
	s.counter.Store(0)
}

// Ensure interface compliance.
var (
	_ ports.IDGenerator = UUID{}
	_ ports.IDGenerator = TimeOrdered{}
	_ ports.IDGenerator = (*Sequential)(nil)
)

// ByName resolves a generator from its config spelling: "uuid" or "uuidv7".
func ByName(name string) (ports.IDGenerator, bool) {
	switch name {
	case "", "uuid":
		return UUID{}, true
	case "uuidv7":
		return TimeOrdered{}, true
	}
	return nil, false
}
