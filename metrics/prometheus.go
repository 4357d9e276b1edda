package metrics

import (
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// REST API and email pipeline metrics
var (
	// to prevent metrics from being initialized multiple times
	isMetricsInitVar uint32 = 0

	// active REST API connections
	activeRESTConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_rest_connections",
			Help: "Number of active REST API connections",
		},
	)

	// response times for REST APIs
	responseTimeRESTAPI = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restapi_response_time_milliseconds",
			Help:    "REST API response time distributions",
			Buckets: []float64{1, 10, 50, 100, 200, 300, 400, 500},
		},
		[]string{"method", "endpoint"},
	)

	// size of the body for REST APIs
	requestSizeRESTAPI = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restapi_request_size_kilobytes",
			Help:    "REST API request size distributions",
			Buckets: []float64{200, 500, 900, 1500, 2000, 3000, 4000, 5000},
		},
		[]string{"method", "endpoint"},
	)

	responseSizeRESTAPI = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restapi_response_size_kilobytes",
			Help:    "REST API response size distributions",
			Buckets: []float64{200, 500, 900, 1500, 2000, 3000, 4000, 5000},
		},
		[]string{"method", "endpoint"},
	)

	// Number of requests processed by REST API
	RESTRequestMetricsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rest_requests_processed_total",
		Help: "The total number of processed REST requests",
	}, []string{"method", "endpoint"})

	// Number of inbound emails accepted by the webhook
	EmailsReceivedMetricsCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "datawallet_emails_received_total",
		Help: "The total number of inbound emails accepted",
	})

	// Number of inbound emails dropped as duplicates
	EmailsDuplicateMetricsCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "datawallet_emails_duplicate_total",
		Help: "The total number of duplicate inbound emails",
	})

	// Number of task status transitions by target status
	TaskTransitionsMetricsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "datawallet_task_transitions_total",
		Help: "The total number of processing task transitions",
	}, []string{"status"})

	// Number of phase retries
	PhaseRetriesMetricsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "datawallet_phase_retries_total",
		Help: "The total number of retried pipeline phases",
	}, []string{"phase"})

	// Credits charged for completed tasks
	CreditsConsumedMetricsCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "datawallet_credits_consumed_total",
		Help: "The total number of credits consumed by completed tasks",
	})

	// Number of tasks which skipped consent
	AutoAuthorizedMetricsCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "datawallet_auto_authorized_total",
		Help: "The total number of tasks authorized without owner consent",
	})

	// Stored objects left without a verified ledger record
	OrphanedStorageArtifacts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "datawallet_orphaned_storage_artifacts_total",
		Help: "The total number of stored objects without a ledger record",
	})

	// Time spent in each task status
	PhaseLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "datawallet_phase_latency_milliseconds",
		Help:    "Time spent in a processing status before the next transition",
		Buckets: prometheus.ExponentialBuckets(10, 2, 12),
	}, []string{"status"})
)

func setIsMetricsInit() {
	atomic.StoreUint32(&isMetricsInitVar, 1)
}

func isMetricsInit() bool {
	return atomic.LoadUint32(&isMetricsInitVar) == 1
}

func InitMetrics() {
	if !isMetricsInit() {
		setIsMetricsInit()

		// Metrics have to be registered to be exposed
		prometheus.MustRegister(activeRESTConnections)
		prometheus.MustRegister(responseTimeRESTAPI)
		prometheus.MustRegister(RESTRequestMetricsTotal)
		prometheus.MustRegister(requestSizeRESTAPI)
		prometheus.MustRegister(responseSizeRESTAPI)
		prometheus.MustRegister(EmailsReceivedMetricsCount)
		prometheus.MustRegister(EmailsDuplicateMetricsCount)
		prometheus.MustRegister(TaskTransitionsMetricsTotal)
		prometheus.MustRegister(PhaseRetriesMetricsTotal)
		prometheus.MustRegister(CreditsConsumedMetricsCount)
		prometheus.MustRegister(PhaseLatency)
		prometheus.MustRegister(AutoAuthorizedMetricsCount)
		prometheus.MustRegister(OrphanedStorageArtifacts)
	}
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Increment the counter for the given endpoint:
		RESTRequestMetricsTotal.WithLabelValues(c.Request.Method, c.FullPath()).Inc()

		r := c.Request
		w := c.Writer

		start := time.Now()

		activeRESTConnections.Inc()
		defer activeRESTConnections.Dec()

		c.Next()

		if r.ContentLength > 0 {
			requestSizeRESTAPI.WithLabelValues(c.Request.Method, c.FullPath()).Observe(float64(r.ContentLength) / 1024)
		}
		if w.Size() > 0 {
			responseSizeRESTAPI.WithLabelValues(c.Request.Method, c.FullPath()).Observe(float64(w.Size()) / 1024)
		}

		latency := time.Since(start)
		responseTimeRESTAPI.WithLabelValues(c.Request.Method, c.FullPath()).Observe(float64(latency.Milliseconds()))
	}
}
