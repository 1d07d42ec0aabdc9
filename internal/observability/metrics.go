package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_dispatch"

var (
	ImportRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "import_runs_total", Help: "Queue import passes by trigger and result"},
		[]string{"trigger", "result"},
	)
	ImportDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "import_decisions_total", Help: "Per-document import decisions"},
		[]string{"decision"},
	)
	ImportWriteFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "import_write_failures_total", Help: "Store writes that failed during an import pass"},
		[]string{"op"},
	)
	ImportDuration = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "import_duration_seconds", Help: "Import pass latency seconds"})
	QueueRetained  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "import_queue_retained", Help: "Queue documents kept after the last pass because their write failed"})

	InvariantRepairsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "invariant_repairs_total", Help: "Live ride invariant repairs by result"},
		[]string{"result"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_total", Help: "Notification attempts by source and outcome"},
		[]string{"source", "outcome"},
	)
	GuardDuplicatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "delivery_guard_duplicates_total", Help: "Duplicate event deliveries dropped by the delivery guard"},
		[]string{"namespace"},
	)

	ChangePublishFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "change_publish_failures_total", Help: "Change events dropped after every publish attempt failed"},
		[]string{"collection"},
	)
	ChangesConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "changes_consumed_total", Help: "Change events consumed from the transport by result"},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
