package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracelog_http_latency_seconds",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	AuditRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracelog_audit_records_total",
		Help: "Audit records durably written, by status",
	}, []string{"status"})

	// AuditDropped counts records that never reached storage.
	// reason: queue_full / closed / malformed
	AuditDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracelog_audit_dropped_total",
		Help: "Audit records dropped before persistence",
	}, []string{"reason"})

	AuditPersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracelog_audit_persist_failures_total",
		Help: "Failed audit writes per sink",
	}, []string{"sink"})

	SlowCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracelog_slow_calls_total",
		Help: "Calls classified as performance warnings",
	}, []string{"layer"})
)
