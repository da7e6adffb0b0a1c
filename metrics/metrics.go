/*
Package metrics holds the Prometheus collectors for the billing ledger.

COLLECTORS:
  billing_ledger_events_total{kind}              events posted, by kind
  billing_ledger_reversals_total                 reversal events posted
  billing_operations_total{operation,outcome}    service calls (ok / rejected / failed)
  billing_operation_duration_seconds{operation}  service call latency
  billing_http_requests_total{method,route,status}
  billing_http_request_duration_seconds{method,route}

All collectors register with the default registry; api/server.go exposes
them on /metrics through promhttp.
*/
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "billing"

var (
	LedgerEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_events_total",
		Help:      "Ledger events posted, by kind.",
	}, []string{"kind"})

	LedgerReversals = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_reversals_total",
		Help:      "Reversal events posted.",
	})

	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Billing operations by outcome.",
	}, []string{"operation", "outcome"})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Billing operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// ObserveOperation records one service call. classify maps an error to an
// outcome label; a nil error is always OutcomeOK.
func ObserveOperation(operation string, start time.Time, err error, classify func(error) string) {
	OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	outcome := OutcomeOK
	if err != nil {
		outcome = classify(err)
	}
	Operations.WithLabelValues(operation, outcome).Inc()
}
