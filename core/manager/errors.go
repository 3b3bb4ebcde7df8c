package manager

import (
	"errors"

	"github.com/artpar/querykit/core/query"
	"github.com/artpar/querykit/core/schema"
	"github.com/artpar/querykit/ports"
)

var (
	// ErrMultipleResults is returned by Get when more than one record matches.
	ErrMultipleResults = errors.New("multiple results")

	// ErrNoHasher is returned when a secret field is written without a hasher.
	ErrNoHasher = errors.New("no hasher configured for secret field")
)

// Outcome labels for Observer.
const (
	OutcomeOK           = "ok"
	OutcomeNotFound     = "not_found"
	OutcomeMultiple     = "multiple"
	OutcomeInvalid      = "invalid"
	OutcomeInvalidQuery = "invalid_query"
	OutcomeConflict     = "conflict"
	OutcomeError        = "error"
)

// Outcome classifies an operation result for metrics and logs.
func Outcome(err error) string {
	var ve *schema.ValidationError
	var be *query.BuildError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ports.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrMultipleResults):
		return OutcomeMultiple
	case errors.As(err, &ve):
		return OutcomeInvalid
	case errors.As(err, &be):
		return OutcomeInvalidQuery
	case errors.Is(err, ports.ErrConflict):
		return OutcomeConflict
	default:
		return OutcomeError
	}
}
