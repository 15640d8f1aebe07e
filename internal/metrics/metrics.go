package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP метрики
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_response_size_bytes",
		Help:    "HTTP response size in bytes",
		Buckets: prometheus.ExponentialBuckets(100, 10, 5),
	}, []string{"method", "path"})

	// метрики последовательного канала
	TransportRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transport_requests_total",
		Help: "Total number of completed bus exchanges",
	})

	TransportRequestsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transport_requests_failed_total",
		Help: "Total number of bus exchanges failed with timeout or IO error",
	})

	TransportReopens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transport_reopens_total",
		Help: "Total number of serial port reopen cycles",
	})

	ChecksumErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "protocol_checksum_errors_total",
		Help: "Total number of responses rejected due to checksum mismatch",
	})

	// метрики опроса инвертора
	QueriesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inverter_queries_failed_total",
		Help: "Total number of measurement queries failed after all retries",
	}, []string{"query"})

	FieldsMissing = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inverter_fields_missing_total",
		Help: "Total number of record fields marked missing",
	})

	RecordsAssembled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inverter_records_assembled_total",
		Help: "Total number of measurement records assembled",
	})

	AssembleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inverter_assemble_duration_seconds",
		Help:    "Histogram of full poll sweep durations",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // от 10ms до ~40 секунд
	})

	// метрики очереди и ретрансляции
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "resend_queue_depth",
		Help: "Current number of unacknowledged records in the resend queue",
	})

	RelayPosts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_posts_total",
		Help: "Total number of successful uploads to the remote service",
	})

	RelayPostsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_posts_failed_total",
		Help: "Total number of failed uploads by failure kind",
	}, []string{"kind"})

	RelayRecordsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_records_dropped_total",
		Help: "Total number of records dropped after repeated remote rejection",
	})

	// DB метрики
	DBQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Database query duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	DBActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_active_connections",
		Help: "Number of active database connections",
	})

	DBIdleConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_idle_connections",
		Help: "Number of idle database connections",
	})
)
