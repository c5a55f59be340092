package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "superlogger_sink_writes_total",
			Help: "Documents handed to the store by result (logged, error, skipped)",
		},
		[]string{"collection", "result"},
	)

	PendingOperations = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "superlogger_sink_pending_operations",
			Help: "Operations buffered while the store connection is not ready",
		},
		[]string{"collection"},
	)

	WriteQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "superlogger_sink_write_queue_depth",
			Help: "Write tasks waiting for the drain loop",
		},
		[]string{"collection"},
	)

	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "superlogger_sink_queries_total",
			Help: "Historical queries by kind (find, group) and result",
		},
		[]string{"collection", "kind", "result"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "superlogger_sink_query_duration_seconds",
			Help:    "Historical query latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"collection", "kind"},
	)

	StreamEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "superlogger_stream_events_total",
			Help: "Events emitted by stream readers by strategy and kind",
		},
		[]string{"collection", "strategy", "kind"},
	)

	ActiveStreams = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "superlogger_active_streams",
			Help: "Stream readers currently running",
		},
		[]string{"collection", "strategy"},
	)

	TransportEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "superlogger_transport_entries_total",
			Help: "Entries delivered to a transport by result",
		},
		[]string{"transport", "result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "superlogger_http_requests_total",
			Help: "HTTP requests served by route, method and status",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "superlogger_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)
