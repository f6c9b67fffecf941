package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// API metrics, registered only by the web service.
var (
	// HTTPRequestDuration tracks HTTP request latency
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestsTotal tracks total HTTP requests by route, method, status
	HTTPRequestsTotal *prometheus.CounterVec

	// EventSubscribers is the number of connected event feed clients
	EventSubscribers prometheus.Gauge
)

// APIBuckets: 1ms to 10s for request handling
var APIBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}

var apiOnce sync.Once

// InitAPI initializes and registers the API metrics. Safe to call more
// than once.
func InitAPI() {
	apiOnce.Do(func() {
		HTTPRequestDuration = NewHistogramVec(
			"ripsage_api_request_duration_seconds",
			"HTTP request duration in seconds.",
			APIBuckets,
			[]string{"route", "method", "status"},
		)
		HTTPRequestsTotal = NewCounterVec(
			"ripsage_api_requests_total",
			"Total HTTP requests processed by the graveyard API.",
			[]string{"route", "method", "status"},
		)
		EventSubscribers = NewGauge(
			"ripsage_api_event_subscribers",
			"Connected event feed clients.",
		)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(EventSubscribers)
	})
}
