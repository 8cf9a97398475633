package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
		ObserveIndexBuild(3 * time.Millisecond)
	})
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(bookingTransitions.WithLabelValues("confirmed"))
	IncTransition("confirmed")
	IncTransition("confirmed")
	assert.Equal(t, before+2, testutil.ToFloat64(bookingTransitions.WithLabelValues("confirmed")))

	hits := testutil.ToFloat64(cacheLookups.WithLabelValues("availability", "hit"))
	misses := testutil.ToFloat64(cacheLookups.WithLabelValues("availability", "miss"))
	CacheHit("availability")
	CacheMiss("availability")
	CacheMiss("availability")
	assert.Equal(t, hits+1, testutil.ToFloat64(cacheLookups.WithLabelValues("availability", "hit")))
	assert.Equal(t, misses+2, testutil.ToFloat64(cacheLookups.WithLabelValues("availability", "miss")))

	conflicts := testutil.ToFloat64(bookingConflicts.WithLabelValues("block"))
	IncConflict("block")
	assert.Equal(t, conflicts+1, testutil.ToFloat64(bookingConflicts.WithLabelValues("block")))

	health := testutil.ToFloat64(grpcCalls.WithLabelValues("/grpc.health.v1.Health/Check", "OK"))
	IncGRPC("/grpc.health.v1.Health/Check", "OK")
	assert.Equal(t, health+1, testutil.ToFloat64(grpcCalls.WithLabelValues("/grpc.health.v1.Health/Check", "OK")))

	sent := testutil.ToFloat64(notifications.WithLabelValues("sent"))
	IncNotification("sent")
	assert.Equal(t, sent+1, testutil.ToFloat64(notifications.WithLabelValues("sent")))
}
