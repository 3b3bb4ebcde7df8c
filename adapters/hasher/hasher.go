// Package hasher provides one-way hashing for secret fields.
package hasher

import (
	"errors"
	"strings"

	"github.com/artpar/querykit/ports"
	"golang.org/x/crypto/bcrypt"
)

// ErrTooLong is returned for secrets bcrypt would silently truncate.
var ErrTooLong = errors.New("secret exceeds 72 bytes")

// Bcrypt uses bcrypt for hashing.
type Bcrypt struct {
	cost int
}

// NewBcrypt creates a bcrypt hasher with the given cost.
// An out-of-range cost falls back to bcrypt.DefaultCost.
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Bcrypt{cost: cost}
}

// Cost returns the configured work factor.
func (h *Bcrypt) Cost() int { return h.cost }

// Hash generates a bcrypt hash from plaintext.
func (h *Bcrypt) Hash(plaintext string) ([]byte, error) {
	if len(plaintext) > 72 {
		return nil, ErrTooLong
	}
	return bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
}

// Compare checks if plaintext matches hash.
func (h *Bcrypt) Compare(hash []byte, plaintext string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(plaintext)) == nil
}

// NeedsRehash reports whether hash was made with a different cost.
func (h *Bcrypt) NeedsRehash(hash []byte) bool {
	cost, err := bcrypt.Cost(hash)
	return err != nil || cost != h.cost
}

// Ensure interface compliance.
var _ ports.Hasher = (*Bcrypt)(nil)

// Fake marks values as hashed without any work (NOT FOR PRODUCTION).
type Fake struct{}

const fakePrefix = "fake$"

// Hash returns the plaintext behind a marker prefix.
func (Fake) Hash(plaintext string) ([]byte, error) {
	return []byte(fakePrefix + plaintext), nil
}

// Compare checks the marked plaintext.
func (Fake) Compare(hash []byte, plaintext string) bool {
	rest, ok := strings.CutPrefix(string(hash), fakePrefix)
	return ok && rest == plaintext
}

// Ensure interface compliance.
var _ ports.Hasher = Fake{}
