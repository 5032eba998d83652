package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core engine metrics shared by the ingestion and
// retrieval pipelines. Domain components register additional metrics
// through the MetricsRegistry.
type Metrics struct {
	// Pipeline metrics
	RequestsTotal       *prometheus.CounterVec
	InstancesIngested   *prometheus.CounterVec
	InstanceLengthBytes prometheus.Histogram
	PartsProduced       *prometheus.CounterVec
	TranscodesTotal     *prometheus.CounterVec
	BytesTranscoded     prometheus.Counter
	ProcessingDuration  *prometheus.HistogramVec
	ErrorsTotal         *prometheus.CounterVec

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSRTT        prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all core metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dicomserver",
				Subsystem: "requests",
				Name:      "total",
				Help:      "Total number of requests handled",
			},
			[]string{"operation", "status"},
		),

		InstancesIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dicomserver",
				Subsystem: "ingest",
				Name:      "instances_total",
				Help:      "Total number of instance entries processed",
			},
			[]string{"outcome"},
		),

		InstanceLengthBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "dicomserver",
				Subsystem: "ingest",
				Name:      "instance_length_bytes",
				Help:      "Size distribution of stored instance payloads",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 12),
			},
		),

		PartsProduced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dicomserver",
				Subsystem: "retrieve",
				Name:      "parts_total",
				Help:      "Total number of response parts produced",
			},
			[]string{"resource"},
		),

		TranscodesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dicomserver",
				Subsystem: "retrieve",
				Name:      "transcodes_total",
				Help:      "Total number of payload transcode operations",
			},
			[]string{"status"},
		),

		BytesTranscoded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dicomserver",
				Subsystem: "retrieve",
				Name:      "bytes_transcoded_total",
				Help:      "Total number of payload bytes fed through the transcoder",
			},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dicomserver",
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Request processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dicomserver",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by component and class",
			},
			[]string{"component", "class"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dicomserver",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dicomserver",
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dicomserver",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

// RecordRequest increments the request counter for an operation.
func (c *Metrics) RecordRequest(operation, status string) {
	c.RequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordInstanceIngested increments the per-entry ingestion counter.
func (c *Metrics) RecordInstanceIngested(outcome string) {
	c.InstancesIngested.WithLabelValues(outcome).Inc()
}

// RecordInstanceLength observes the byte length of a stored instance.
func (c *Metrics) RecordInstanceLength(length int64) {
	c.InstanceLengthBytes.Observe(float64(length))
}

// RecordPartProduced increments the response part counter.
func (c *Metrics) RecordPartProduced(resource string) {
	c.PartsProduced.WithLabelValues(resource).Inc()
}

// RecordTranscode records a transcode attempt and the bytes it consumed.
func (c *Metrics) RecordTranscode(status string, bytes int64) {
	c.TranscodesTotal.WithLabelValues(status).Inc()
	if bytes > 0 {
		c.BytesTranscoded.Add(float64(bytes))
	}
}

// RecordProcessingDuration records processing time for an operation.
func (c *Metrics) RecordProcessingDuration(operation string, duration time.Duration) {
	c.ProcessingDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordError increments the error counter.
func (c *Metrics) RecordError(component, class string) {
	c.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordNATSStatus updates NATS connection status.
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSRTT updates NATS round-trip time.
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments the reconnection counter.
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}
