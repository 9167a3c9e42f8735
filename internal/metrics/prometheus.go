package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements the Collector interface using Prometheus
// metrics.
type PrometheusCollector struct {
	// Connection metrics
	connectionsTotal    prometheus.Counter
	connectionsActive   prometheus.Gauge
	connectionsRejected prometheus.Counter

	// Datagram metrics
	datagramsTotal prometheus.Counter

	// Command metrics
	commandsTotal *prometheus.CounterVec

	// Message metrics
	messagesPostedTotal    prometheus.Counter
	messagesPostedBytes    prometheus.Histogram
	messagesRetrievedTotal prometheus.Counter
	retrieveBatchSize      prometheus.Histogram
}

// NewPrometheusCollector creates a new PrometheusCollector with all
// metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ds_connections_total",
			Help: "Total number of TCP connections accepted.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ds_connections_active",
			Help: "Number of currently active TCP connections.",
		}),
		connectionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ds_connections_rejected_total",
			Help: "Total number of TCP connections rejected at the limit.",
		}),

		datagramsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ds_datagrams_total",
			Help: "Total number of UDP request datagrams received.",
		}),

		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ds_commands_total",
			Help: "Total number of protocol commands processed.",
		}, []string{"command", "status"}),

		messagesPostedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ds_messages_posted_total",
			Help: "Total number of messages posted.",
		}),
		messagesPostedBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ds_messages_posted_bytes",
			Help:    "Size of posted messages including attachments, in bytes.",
			Buckets: []float64{256, 1024, 10240, 102400, 1048576, 10485760, 104857600},
		}),
		messagesRetrievedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ds_messages_retrieved_total",
			Help: "Total number of messages sent in retrieve replies.",
		}),
		retrieveBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ds_retrieve_batch_size",
			Help:    "Number of messages per retrieve reply.",
			Buckets: []float64{1, 2, 5, 10, 15, 20},
		}),
	}

	// Register all metrics
	reg.MustRegister(
		c.connectionsTotal,
		c.connectionsActive,
		c.connectionsRejected,
		c.datagramsTotal,
		c.commandsTotal,
		c.messagesPostedTotal,
		c.messagesPostedBytes,
		c.messagesRetrievedTotal,
		c.retrieveBatchSize,
	)

	return c
}

// ConnectionOpened increments the connection counter and active gauge.
func (c *PrometheusCollector) ConnectionOpened() {
	c.connectionsTotal.Inc()
	c.connectionsActive.Inc()
}

// ConnectionClosed decrements the active connections gauge.
func (c *PrometheusCollector) ConnectionClosed() {
	c.connectionsActive.Dec()
}

// ConnectionRejected increments the rejected connections counter.
func (c *PrometheusCollector) ConnectionRejected() {
	c.connectionsRejected.Inc()
}

// DatagramReceived increments the datagram counter.
func (c *PrometheusCollector) DatagramReceived() {
	c.datagramsTotal.Inc()
}

// CommandProcessed increments the command counter.
func (c *PrometheusCollector) CommandProcessed(command, status string) {
	c.commandsTotal.WithLabelValues(command, status).Inc()
}

// MessagePosted increments the posted counter and observes message size.
func (c *PrometheusCollector) MessagePosted(sizeBytes int64) {
	c.messagesPostedTotal.Inc()
	c.messagesPostedBytes.Observe(float64(sizeBytes))
}

// MessagesRetrieved adds to the retrieved counter and observes batch size.
func (c *PrometheusCollector) MessagesRetrieved(count int) {
	c.messagesRetrievedTotal.Add(float64(count))
	c.retrieveBatchSize.Observe(float64(count))
}
