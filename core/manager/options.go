package manager

import (
	"time"

	"github.com/artpar/querykit/core/events"
	"github.com/artpar/querykit/core/schema"
	"github.com/artpar/querykit/ports"
	"github.com/rs/zerolog"
)

// Observer receives operation measurements. adapters/metrics provides
// a Prometheus implementation.
type Observer interface {
	// ObserveOperation records one materializing or writing operation.
	ObserveOperation(typeName, op, outcome string, elapsed time.Duration)

	// ObserveValidationFailure records one field error.
	ObserveValidationFailure(typeName string, code schema.Code)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, string, string, time.Duration) {}
func (nopObserver) ObserveValidationFailure(string, schema.Code)           {}

// Option configures a Manager.
type Option func(*settings)

type settings struct {
	logger   zerolog.Logger
	observer Observer
	hasher   ports.Hasher
	bus      *events.Bus
	strict   bool
}

func defaultSettings() *settings {
	return &settings{
		logger:   zerolog.Nop(),
		observer: nopObserver{},
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(s *settings) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithHasher sets the hasher used for secret fields.
func WithHasher(h ports.Hasher) Option {
	return func(s *settings) { s.hasher = h }
}

// WithEvents publishes <type>.created and <type>.updated events to bus.
func WithEvents(bus *events.Bus) Option {
	return func(s *settings) { s.bus = bus }
}

// WithStrict rejects input fields the record type does not declare.
func WithStrict(strict bool) Option {
	return func(s *settings) { s.strict = strict }
}
