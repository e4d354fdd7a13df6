// Invariants are conditions in code that must be true; otherwise, there is a bug in code.
// Think of what you'd `panic()` on, but you don't want to crash the process just because of that violation.
// If an invariant is violated, a log error is recorded and a monitoring counter is incremented so an alert can fire.
// It is still up to the caller to handle the erroneous case, for example with an early return.
//
// Do not use invariants for conditions that depend on external factors; a failed disk read is an error, not an
// invariant violation. A manifest entry that our own flush code could never have produced is an invariant violation.

package utils

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	promclient "github.com/prometheus/client_model/go"
)

var invariantsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "casket_invariants_total",
	Help: "The total number of invariant violations",
}, []string{
	"module", // The module in which this invariant occurred.
	"type",   // The type of the invariant that occurred.
})

// RaiseInvariant records an invariant violation: it increments the monitoring counter and logs an error.
// In test mode it panics instead, so violated assumptions fail the test that triggered them.
func RaiseInvariant(module, invariantType, msg string, args ...any) {
	invariantsMetric.WithLabelValues(module, invariantType).Inc()
	slog.With("invariant", invariantType, "module", module).Error(msg, args...)
	if IsTestMode {
		panic("invariant violated: " + invariantType)
	}
}

// GetInvariantCount returns the current value of the invariant counter for the given module and type.
func GetInvariantCount(module, invariantType string) int {
	var metric = &promclient.Metric{}
	if err := invariantsMetric.WithLabelValues(module, invariantType).Write(metric); err != nil {
		slog.Error(err.Error())
		return 0
	}
	return int(metric.Counter.GetValue())
}
