package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	t.Run("Register is idempotent", func(t *testing.T) {
		c := New(prometheus.NewRegistry())
		require.NoError(t, c.Register())
		require.NoError(t, c.Register())
	})

	t.Run("Client counters", func(t *testing.T) {
		c := New(prometheus.NewRegistry())
		require.NoError(t, c.Register())

		c.RequestSent("calc")
		c.RequestSent("calc")
		c.RequestCompleted("calc", "incr", 200, 5*time.Millisecond)
		c.RequestExpired("calc")
		c.RequestReturned("calc")

		assert.Equal(t, float64(1), testutil.ToFloat64(c.clientPending.WithLabelValues("calc")))
		assert.Equal(t, float64(1), testutil.ToFloat64(c.clientRequests.WithLabelValues("calc", "incr", "200")))
		assert.Equal(t, float64(1), testutil.ToFloat64(c.clientTimeouts.WithLabelValues("calc")))
		assert.Equal(t, float64(1), testutil.ToFloat64(c.clientReturned.WithLabelValues("calc")))
	})

	t.Run("Consumer counters", func(t *testing.T) {
		c := New(prometheus.NewRegistry())

		c.Dispatched("calc", "incr", 200, time.Millisecond)
		c.Dispatched("calc", "incr", 200, time.Millisecond)
		c.ReplyDropped("calc")

		assert.Equal(t, float64(2), testutil.ToFloat64(c.consumerHandled.WithLabelValues("calc", "incr", "200")))
		assert.Equal(t, float64(1), testutil.ToFloat64(c.consumerDropped.WithLabelValues("calc")))
	})

	t.Run("Nil collector records nothing", func(t *testing.T) {
		var c *Collector
		assert.NotPanics(t, func() {
			c.RequestSent("q")
			c.RequestCompleted("q", "a", 200, time.Second)
			c.RequestExpired("q")
			c.RequestReturned("q")
			c.Dispatched("q", "a", 500, time.Second)
			c.ReplyDropped("q")
			assert.NoError(t, c.Register())
		})
	})
}
