package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"branchstock/backend/internal/store"
)

// counterValue finds the sample of family name whose labels include want.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if got[k] != v {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestObserveCountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.Observe("create_order_detail", time.Now(), nil)
	r.Observe("create_order_detail", time.Now(), &store.InsufficientStockError{})
	r.Observe("create_order_detail", time.Now(), &store.InsufficientStockError{})
	r.Retry("edit_order_detail")

	assert.Equal(t, 1.0, counterValue(t, reg, "branchstock_operations_total",
		map[string]string{"op": "create_order_detail", "outcome": "ok"}))
	assert.Equal(t, 2.0, counterValue(t, reg, "branchstock_operations_total",
		map[string]string{"op": "create_order_detail", "outcome": "insufficient_stock"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "branchstock_conflict_retries_total",
		map[string]string{"op": "edit_order_detail"}))
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.Observe("op", time.Now(), errors.New("boom"))
	r.Retry("op")
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "duplicate_key", Outcome(store.NewDuplicateKey("orders", "DH1")))
	assert.Equal(t, "not_found", Outcome(store.NewNotFound("orders", "DH1")))
	assert.Equal(t, "concurrency_conflict", Outcome(&store.ConcurrencyConflictError{Operation: "x", Attempts: 5}))
	assert.Equal(t, "invalid_partition", Outcome(&store.InvalidPartitionError{Branch: "CN9"}))
	assert.Equal(t, "error", Outcome(errors.New("boom")))
}
