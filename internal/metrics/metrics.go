// Package metrics holds the service's Prometheus collectors. They register
// with the default registry and are served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BillSubmissions counts submissions by outcome
	// (pending, auto_approved, auto_rejected, failed).
	BillSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bills_submissions_total",
			Help: "Total number of bill submissions by outcome",
		},
		[]string{"outcome"},
	)

	// ApprovalDecisions counts decisions by decision and result.
	ApprovalDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bills_approval_decisions_total",
			Help: "Total number of approval decisions recorded",
		},
		[]string{"decision", "result"},
	)

	// OperationDuration times engine operations.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bills_operation_duration_seconds",
			Help:    "Duration of approval engine operations",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2},
		},
		[]string{"operation"},
	)

	// NotificationFailures counts events the notification sink could not publish.
	NotificationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bills_notification_publish_errors_total",
			Help: "Total number of notification publish errors",
		},
	)

	// OfficeOperations counts courier, asset and complaint state changes by
	// module and operation.
	OfficeOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "office_operations_total",
			Help: "Total number of office register operations",
		},
		[]string{"module", "operation"},
	)

	// HTTPRequests counts HTTP requests by route pattern and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bills_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
)
