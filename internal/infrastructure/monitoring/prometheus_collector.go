package monitoring

import (
	"time"

	"huddle/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	callsActive       *prometheus.GaugeVec
	callsTotal        *prometheus.CounterVec

	messagesRelayed prometheus.Counter
	signalsRelayed  prometheus.Counter
	framesDropped   prometheus.Counter

	callDuration    prometheus.Histogram
	callRingingTime prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_connections_active",
			Help: "Number of live websocket connections",
		}),

		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "huddle_connections_total",
			Help: "Total number of websocket connections accepted",
		}),

		callsActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "huddle_calls_active",
			Help: "Number of active call sessions",
		}, []string{"kind"}),

		callsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_calls_total",
			Help: "Total number of call sessions created",
		}, []string{"kind"}),

		messagesRelayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "huddle_chat_messages_relayed_total",
			Help: "Total number of chat messages relayed",
		}),

		signalsRelayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "huddle_webrtc_signals_relayed_total",
			Help: "Total number of webrtc signaling payloads relayed",
		}),

		framesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "huddle_frames_dropped_total",
			Help: "Total number of outbound frames dropped on full send buffers",
		}),

		callDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "huddle_call_duration_seconds",
			Help:    "Duration of call sessions from start to end",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),

		callRingingTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "huddle_call_ringing_seconds",
			Help:    "Time sessions spend ringing before accept or reject",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
	}
}

func (p *PrometheusCollector) RecordConnectionOpened() {
	p.connectionsActive.Inc()
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) RecordConnectionClosed() {
	p.connectionsActive.Dec()
}

// CallStarted and CallEnded satisfy ports.CallObserver.
func (p *PrometheusCollector) CallStarted(kind domain.CallKind) {
	p.callsActive.WithLabelValues(string(kind)).Inc()
	p.callsTotal.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) CallEnded(kind domain.CallKind, duration time.Duration) {
	p.callsActive.WithLabelValues(string(kind)).Dec()
	if duration > 0 {
		p.callDuration.Observe(duration.Seconds())
	}
}

func (p *PrometheusCollector) RecordRingingTime(d time.Duration) {
	p.callRingingTime.Observe(d.Seconds())
}

func (p *PrometheusCollector) RecordMessageRelayed() {
	p.messagesRelayed.Inc()
}

func (p *PrometheusCollector) RecordSignalRelayed() {
	p.signalsRelayed.Inc()
}

func (p *PrometheusCollector) RecordFrameDropped() {
	p.framesDropped.Inc()
}
