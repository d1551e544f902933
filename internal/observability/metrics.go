// Package observability registers and updates the Prometheus metrics
// exported by a running CATS server.
package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	connActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cats",
		Subsystem: "conn",
		Name:      "active",
		Help:      "Currently open CATS connections.",
	})
	connTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cats",
			Subsystem: "conn",
			Name:      "total",
			Help:      "Closed CATS connections by outcome.",
		},
		[]string{"outcome"},
	)
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cats",
			Name:      "frames_total",
			Help:      "Frames read or written by type.",
		},
		[]string{"direction", "type"},
	)
	bytesWrittenTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cats",
		Name:      "bytes_written_total",
		Help:      "Total bytes written to peer sockets.",
	})
	handlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cats",
			Subsystem: "handler",
			Name:      "duration_seconds",
			Help:      "Handler execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"handler_id", "status"},
	)
	pendingInputs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cats",
		Name:      "pending_inputs",
		Help:      "Open request.Input awaits across all connections.",
	})
)

// RegisterMetrics registers all CATS metrics with the default registry.
// Safe to call multiple times; registration happens once per process.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connActive,
			connTotal,
			framesTotal,
			bytesWrittenTotal,
			handlerDuration,
			pendingInputs,
		)
	})
}

// ConnOpened records a newly accepted connection.
func ConnOpened() {
	RegisterMetrics()
	connActive.Inc()
}

// ConnClosed records a connection teardown with its outcome label.
func ConnClosed(outcome string) {
	RegisterMetrics()
	connActive.Dec()
	connTotal.WithLabelValues(outcome).Inc()
}

// FrameObserved records one frame crossing the wire in the given direction.
func FrameObserved(direction string, frameType uint8) {
	RegisterMetrics()
	framesTotal.WithLabelValues(direction, frameTypeLabel(frameType)).Inc()
}

// BytesWritten records n bytes placed on the wire.
func BytesWritten(n int) {
	RegisterMetrics()
	bytesWrittenTotal.Add(float64(n))
}

// HandlerObserved records one handler invocation's duration and response status.
func HandlerObserved(handlerID uint16, status int, d time.Duration) {
	RegisterMetrics()
	handlerDuration.WithLabelValues(strconv.Itoa(int(handlerID)), strconv.Itoa(status)).Observe(d.Seconds())
}

// PendingInputOpened records a new pending request.Input await.
func PendingInputOpened() {
	RegisterMetrics()
	pendingInputs.Inc()
}

// PendingInputClosed records a pending request.Input await resolving or cancelling.
func PendingInputClosed() {
	RegisterMetrics()
	pendingInputs.Dec()
}

func frameTypeLabel(frameType uint8) string {
	switch frameType {
	case 0x00:
		return "request"
	case 0x01:
		return "stream_request"
	case 0x02:
		return "input"
	case 0x05:
		return "download_speed"
	case 0x06:
		return "cancel_input"
	case 0xFF:
		return "ping"
	default:
		return "unknown"
	}
}
