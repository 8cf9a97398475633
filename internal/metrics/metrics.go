package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "beds4crew"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	grpcCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "gRPC calls by method and status code.",
		},
		[]string{"method", "code"},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Booking status transitions by target status.",
		},
		[]string{"status"},
	)

	bookingConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_conflicts_total",
			Help:      "Rejected bookings and blocks by the interval that caused the conflict.",
		},
		[]string{"source"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Availability and unread cache lookups.",
		},
		[]string{"cache", "result"},
	)

	indexBuild = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "availability_index_build_seconds",
			Help:      "Time spent rebuilding a property availability index.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbox deliveries by result.",
		},
		[]string{"result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, grpcCalls, bookingTransitions, bookingConflicts, cacheLookups, indexBuild, notifications)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncGRPC(method, code string) {
	grpcCalls.WithLabelValues(method, code).Inc()
}

func IncTransition(status string) {
	bookingTransitions.WithLabelValues(status).Inc()
}

// IncConflict counts a conflict; source is the interval kind ("booking" or "block").
func IncConflict(source string) {
	bookingConflicts.WithLabelValues(source).Inc()
}

func CacheHit(cache string) {
	cacheLookups.WithLabelValues(cache, "hit").Inc()
}

func CacheMiss(cache string) {
	cacheLookups.WithLabelValues(cache, "miss").Inc()
}

func ObserveIndexBuild(d time.Duration) {
	indexBuild.Observe(d.Seconds())
}

func IncNotification(result string) {
	notifications.WithLabelValues(result).Inc()
}
