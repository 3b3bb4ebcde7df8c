package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/artpar/querykit/adapters/metrics"
	"github.com/artpar/querykit/core/manager"
	"github.com/artpar/querykit/core/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ manager.Observer = (*metrics.Collector)(nil)

func TestNew(t *testing.T) {
	// Use a new registry to avoid conflicts with other tests
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	if m.Materializations == nil {
		t.Error("Materializations is nil")
	}
	if m.OperationDuration == nil {
		t.Error("OperationDuration is nil")
	}
	if m.ValidationFailures == nil {
		t.Error("ValidationFailures is nil")
	}
	if m.SchemaReloads == nil {
		t.Error("SchemaReloads is nil")
	}
}

func TestObserveOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.ObserveOperation("user", "first", "ok", 2*time.Millisecond)
	m.ObserveOperation("user", "first", "ok", time.Millisecond)
	m.ObserveOperation("user", "get", "multiple", time.Millisecond)

	if got := testutil.ToFloat64(m.Materializations.WithLabelValues("user", "first", "ok")); got != 2 {
		t.Errorf("materializations{first,ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Materializations.WithLabelValues("user", "get", "multiple")); got != 1 {
		t.Errorf("materializations{get,multiple} = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.OperationDuration); got != 2 {
		t.Errorf("duration series = %d, want 2", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "querykit_store_duration_seconds" {
			found = true
		}
	}
	if !found {
		t.Error("querykit_store_duration_seconds not gathered")
	}
}

func TestObserveValidationFailure(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	m.ObserveValidationFailure("user", schema.CodeMissing)
	m.ObserveValidationFailure("user", schema.CodeMissing)
	m.ObserveValidationFailure("user", schema.CodeTypeMismatch)

	if got := testutil.ToFloat64(m.ValidationFailures.WithLabelValues("user", "missing")); got != 2 {
		t.Errorf("validation_failures{missing} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ValidationFailures.WithLabelValues("user", "type_mismatch")); got != 1 {
		t.Errorf("validation_failures{type_mismatch} = %v, want 1", got)
	}
}

func TestObserveSchemaReload(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	m.ObserveSchemaReload(3, nil)
	m.ObserveSchemaReload(0, errors.New("bad yaml"))

	if got := testutil.ToFloat64(m.SchemaReloads); got != 1 {
		t.Errorf("schema_reloads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SchemaReloadErrors); got != 1 {
		t.Errorf("schema_reload_errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RecordTypes); got != 3 {
		t.Errorf("record_types = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.SchemaLastReload); got == 0 {
		t.Error("schema_last_reload_timestamp not set")
	}
}
