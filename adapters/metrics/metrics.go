// Package metrics provides Prometheus metrics collection for querykit.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/artpar/querykit/core/schema"
)

// Collector holds all Prometheus metrics for querykit. It satisfies the
// manager's Observer interface.
type Collector struct {
	// Manager metrics
	Materializations   *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	ValidationFailures *prometheus.CounterVec

	// Schema metrics
	SchemaReloads      prometheus.Counter
	SchemaReloadErrors prometheus.Counter
	SchemaLastReload   prometheus.Gauge
	RecordTypes        prometheus.Gauge
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		Materializations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "querykit",
				Name:      "materializations_total",
				Help:      "Total number of manager operations that reached the store or failed validation",
			},
			[]string{"type", "op", "outcome"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "querykit",
				Name:      "store_duration_seconds",
				Help:      "Manager operation duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"type", "op"},
		),
		ValidationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "querykit",
				Name:      "validation_failures_total",
				Help:      "Total number of field validation failures",
			},
			[]string{"type", "code"},
		),
		SchemaReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "querykit",
				Name:      "schema_reloads_total",
				Help:      "Total number of successful schema reloads",
			},
		),
		SchemaReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "querykit",
				Name:      "schema_reload_errors_total",
				Help:      "Total number of schema reload errors",
			},
		),
		SchemaLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "querykit",
				Name:      "schema_last_reload_timestamp",
				Help:      "Unix timestamp of last successful schema reload",
			},
		),
		RecordTypes: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "querykit",
				Name:      "record_types",
				Help:      "Number of registered record types",
			},
		),
	}
}

// ObserveOperation records one manager operation.
func (c *Collector) ObserveOperation(typeName, op, outcome string, elapsed time.Duration) {
	c.Materializations.WithLabelValues(typeName, op, outcome).Inc()
	c.OperationDuration.WithLabelValues(typeName, op).Observe(elapsed.Seconds())
}

// ObserveValidationFailure records one rejected field.
func (c *Collector) ObserveValidationFailure(typeName string, code schema.Code) {
	c.ValidationFailures.WithLabelValues(typeName, string(code)).Inc()
}

// ObserveSchemaReload records a schema load attempt.
func (c *Collector) ObserveSchemaReload(types int, err error) {
	if err != nil {
		c.SchemaReloadErrors.Inc()
		return
	}
	c.SchemaReloads.Inc()
	c.SchemaLastReload.SetToCurrentTime()
	c.RecordTypes.Set(float64(types))
}
