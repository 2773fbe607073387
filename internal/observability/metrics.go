package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Error kinds counted by RecordChannelError.
const (
	KindProtocol      = "protocol"
	KindEventNotFound = "event_not_found"
	KindHandler       = "handler"
	KindOrphanReply   = "orphan_reply"
	KindSendFailure   = "send_failure"
)

// Ask outcomes counted by RecordAsk.
const (
	AskOK        = "ok"
	AskFailed    = "failed"
	AskClosed    = "closed"
	AskCancelled = "cancelled"
	AskSendError = "send_error"
)

var (
	registerOnce sync.Once

	serverChannels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wschan",
			Subsystem: "server",
			Name:      "channels",
			Help:      "Open channels tracked by the server registry.",
		},
	)
	channelErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wschan",
			Subsystem: "channel",
			Name:      "errors_total",
			Help:      "Non-fatal channel errors by kind.",
		},
		[]string{"kind"},
	)
	asks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wschan",
			Name:      "asks_total",
			Help:      "Completed asks by outcome.",
		},
		[]string{"outcome"},
	)
	askDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wschan",
			Name:      "ask_duration_seconds",
			Help:      "Time from sending an ask to its outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	broadcastFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wschan",
			Name:      "broadcast_failures_total",
			Help:      "Per-channel delivery failures during broadcast.",
		},
	)
	sweepTerminations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wschan",
			Name:      "sweep_terminations_total",
			Help:      "Channels terminated by the liveness sweep.",
		},
	)
	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wschan",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts made by client channels.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(serverChannels, channelErrors, asks, askDuration, broadcastFailures, sweepTerminations, reconnects)
	})
}

func SetServerChannels(n int) {
	RegisterMetrics()
	serverChannels.Set(float64(n))
}

func RecordChannelError(kind string) {
	RegisterMetrics()
	channelErrors.WithLabelValues(kind).Inc()
}

func RecordAsk(outcome string, duration time.Duration) {
	RegisterMetrics()
	asks.WithLabelValues(outcome).Inc()
	askDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func RecordBroadcastFailure() {
	RegisterMetrics()
	broadcastFailures.Inc()
}

func RecordSweepTermination() {
	RegisterMetrics()
	sweepTerminations.Inc()
}

func RecordReconnect() {
	RegisterMetrics()
	reconnects.Inc()
}
