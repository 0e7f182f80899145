package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core connection metrics exported by every client
type Metrics struct {
	// Connection metrics
	ConnStatus      prometheus.Gauge
	Reconnects      prometheus.Counter
	LastError       *prometheus.CounterVec
	PendingRequests prometheus.Gauge

	// Traffic metrics
	MsgsIn   prometheus.Counter
	MsgsOut  prometheus.Counter
	BytesIn  prometheus.Counter
	BytesOut prometheus.Counter

	// Dispatch metrics
	DroppedFrames prometheus.Counter
	WriteDuration prometheus.Histogram
}

// NewMetrics creates a new Metrics instance with all core client metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ConnStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "streamwire",
				Subsystem: "conn",
				Name:      "status",
				Help:      "Connection status (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=closed)",
			},
		),

		Reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streamwire",
				Subsystem: "conn",
				Name:      "reconnects_total",
				Help:      "Total number of reconnections",
			},
		),

		LastError: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamwire",
				Subsystem: "conn",
				Name:      "errors_total",
				Help:      "Total number of connection errors",
			},
			[]string{"class"},
		),

		PendingRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "streamwire",
				Subsystem: "requests",
				Name:      "pending",
				Help:      "Number of requests awaiting a reply",
			},
		),

		MsgsIn: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streamwire",
				Subsystem: "traffic",
				Name:      "msgs_in_total",
				Help:      "Total number of inbound message frames",
			},
		),

		MsgsOut: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streamwire",
				Subsystem: "traffic",
				Name:      "msgs_out_total",
				Help:      "Total number of outbound message frames",
			},
		),

		BytesIn: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streamwire",
				Subsystem: "traffic",
				Name:      "bytes_in_total",
				Help:      "Total inbound payload bytes",
			},
		),

		BytesOut: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streamwire",
				Subsystem: "traffic",
				Name:      "bytes_out_total",
				Help:      "Total outbound payload bytes",
			},
		),

		DroppedFrames: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streamwire",
				Subsystem: "dispatch",
				Name:      "dropped_frames_total",
				Help:      "Frames dropped because no subscription matched or the queue was full",
			},
		),

		WriteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "streamwire",
				Subsystem: "conn",
				Name:      "write_duration_seconds",
				Help:      "Time spent serializing and writing a command",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
	}
}

// RecordStatus updates the connection status gauge
func (c *Metrics) RecordStatus(status int) {
	c.ConnStatus.Set(float64(status))
}

// RecordReconnect increments the reconnection counter
func (c *Metrics) RecordReconnect() {
	c.Reconnects.Inc()
}

// RecordError increments the error counter for a class
func (c *Metrics) RecordError(class string) {
	c.LastError.WithLabelValues(class).Inc()
}

// RecordMsgIn records an inbound frame and its payload size
func (c *Metrics) RecordMsgIn(payloadBytes int) {
	c.MsgsIn.Inc()
	c.BytesIn.Add(float64(payloadBytes))
}

// RecordMsgOut records an outbound frame and its payload size
func (c *Metrics) RecordMsgOut(payloadBytes int) {
	c.MsgsOut.Inc()
	c.BytesOut.Add(float64(payloadBytes))
}

// RecordDroppedFrame increments the dropped-frame counter
func (c *Metrics) RecordDroppedFrame() {
	c.DroppedFrames.Inc()
}

// RecordWriteDuration records the time taken to write one command
func (c *Metrics) RecordWriteDuration(d time.Duration) {
	c.WriteDuration.Observe(d.Seconds())
}

// SetPendingRequests updates the pending request gauge
func (c *Metrics) SetPendingRequests(n int) {
	c.PendingRequests.Set(float64(n))
}
