// Package metrics records coordinator outcomes for prometheus.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"branchstock/backend/internal/store"
)

type Recorder struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	retries    *prometheus.CounterVec
}

// New registers the collectors on reg. A nil *Recorder is valid and records nothing.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "branchstock_operations_total",
			Help: "Coordinator operations by outcome.",
		}, []string{"op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "branchstock_operation_duration_seconds",
			Help:    "Coordinator operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "branchstock_conflict_retries_total",
			Help: "Units replayed after losing a version race.",
		}, []string{"op"}),
	}
	reg.MustRegister(r.operations, r.duration, r.retries)
	return r
}

func (r *Recorder) Observe(op string, started time.Time, err error) {
	if r == nil {
		return
	}
	r.operations.WithLabelValues(op, Outcome(err)).Inc()
	r.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (r *Recorder) Retry(op string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(op).Inc()
}

// Outcome is the label value for err.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, store.ErrDuplicateKey):
		return "duplicate_key"
	case errors.Is(err, store.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrInvalidPartition):
		return "invalid_partition"
	case errors.Is(err, store.ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, store.ErrInvalidRecord):
		return "invalid_record"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}
