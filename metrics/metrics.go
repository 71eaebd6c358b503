// Package metrics exposes Prometheus collectors for clients and consumers.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fleck"

var latencyBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

// Collector tracks request and dispatch statistics
type Collector struct {
	mu sync.Mutex

	clientRequests  *prometheus.CounterVec
	clientLatency   *prometheus.HistogramVec
	clientPending   *prometheus.GaugeVec
	clientReturned  *prometheus.CounterVec
	clientTimeouts  *prometheus.CounterVec
	consumerHandled *prometheus.CounterVec
	consumerLatency *prometheus.HistogramVec
	consumerDropped *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(subsystem, name, help string, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   latencyBuckets,
		},
		labels,
	)
}

// New creates a collector that registers with registerer, or the default
// registerer when nil
func New(registerer prometheus.Registerer) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Collector{
		registerer:     registerer,
		clientRequests: newCounterVec("client", "requests_total", "Requests completed by clients, by queue, action and status", []string{"queue", "action", "status"}),
		clientLatency:  newHistogramVec("client", "request_duration_seconds", "Time from publish to completion of client requests", []string{"queue", "action"}),
		clientPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "pending_requests",
			Help:      "Requests waiting for a reply",
		}, []string{"queue"}),
		clientReturned:  newCounterVec("client", "returned_total", "Requests returned by the broker as unroutable", []string{"queue"}),
		clientTimeouts:  newCounterVec("client", "timeouts_total", "Requests that expired before a reply arrived", []string{"queue"}),
		consumerHandled: newCounterVec("consumer", "requests_total", "Requests dispatched by consumers, by queue, action and effective status", []string{"queue", "action", "status"}),
		consumerLatency: newHistogramVec("consumer", "execution_duration_seconds", "Time spent executing actions", []string{"queue", "action"}),
		consumerDropped: newCounterVec("consumer", "dropped_replies_total", "Replies dropped because the channel was closed", []string{"queue"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (c *Collector) Register() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		c.clientRequests,
		c.clientLatency,
		c.clientPending,
		c.clientReturned,
		c.clientTimeouts,
		c.consumerHandled,
		c.consumerLatency,
		c.consumerDropped,
	}

	for _, col := range collectors {
		if err := c.registerer.Register(col); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	c.registered = true
	return nil
}

// RequestSent records a request entering the pending set
func (c *Collector) RequestSent(queue string) {
	if c == nil {
		return
	}
	c.clientPending.WithLabelValues(queue).Inc()
}

// RequestCompleted records a completed client request
func (c *Collector) RequestCompleted(queue, action string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.clientPending.WithLabelValues(queue).Dec()
	c.clientRequests.WithLabelValues(queue, action, strconv.Itoa(status)).Inc()
	c.clientLatency.WithLabelValues(queue, action).Observe(elapsed.Seconds())
}

// RequestReturned records a request returned as unroutable
func (c *Collector) RequestReturned(queue string) {
	if c == nil {
		return
	}
	c.clientReturned.WithLabelValues(queue).Inc()
}

// RequestExpired records a request that timed out
func (c *Collector) RequestExpired(queue string) {
	if c == nil {
		return
	}
	c.clientTimeouts.WithLabelValues(queue).Inc()
}

// Dispatched records a request handled by a consumer
func (c *Collector) Dispatched(queue, action string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.consumerHandled.WithLabelValues(queue, action, strconv.Itoa(status)).Inc()
	c.consumerLatency.WithLabelValues(queue, action).Observe(elapsed.Seconds())
}

// ReplyDropped records a reply that could not be published
func (c *Collector) ReplyDropped(queue string) {
	if c == nil {
		return
	}
	c.consumerDropped.WithLabelValues(queue).Inc()
}
