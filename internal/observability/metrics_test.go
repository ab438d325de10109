package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestBrokerCounters(t *testing.T) {
	t.Run("messages_published_increments", func(t *testing.T) {
		before := testutil.ToFloat64(MessagesPublished)
		MessagesPublished.Inc()
		assert.Equal(t, before+1, testutil.ToFloat64(MessagesPublished))
	})

	t.Run("publish_failures_are_labelled_by_reason", func(t *testing.T) {
		c := PublishFailures.WithLabelValues("store_unavailable")
		before := testutil.ToFloat64(c)
		c.Inc()
		assert.Equal(t, before+1, testutil.ToFloat64(c))
	})

	t.Run("fanout_drops_are_labelled_by_reason", func(t *testing.T) {
		c := FanoutDrops.WithLabelValues("slow_consumer")
		before := testutil.ToFloat64(c)
		c.Inc()
		assert.Equal(t, before+1, testutil.ToFloat64(c))
	})
}

func TestSessionsActive(t *testing.T) {
	t.Run("gauge_tracks_per_room", func(t *testing.T) {
		g := SessionsActive.WithLabelValues("metrics-room")
		g.Set(0)
		g.Inc()
		g.Inc()
		g.Dec()
		assert.Equal(t, float64(1), testutil.ToFloat64(g))
	})
}

func TestHistograms(t *testing.T) {
	t.Run("store_operation_duration_accepts_labels", func(t *testing.T) {
		StoreOperationDuration.WithLabelValues("memory", "append", "ok").Observe(0.002)
		assert.Positive(t, testutil.CollectAndCount(StoreOperationDuration))
	})

	t.Run("reconcile_messages_observes", func(t *testing.T) {
		ReconcileMessages.Observe(12)
		assert.Equal(t, 1, testutil.CollectAndCount(ReconcileMessages))
	})

	t.Run("http_request_duration_accepts_labels", func(t *testing.T) {
		HTTPRequestDuration.WithLabelValues("GET", "/health", "200").Observe(0.01)
		assert.Positive(t, testutil.CollectAndCount(HTTPRequestDuration))
	})
}
