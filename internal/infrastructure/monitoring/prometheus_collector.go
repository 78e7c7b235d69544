package monitoring

import (
	"time"

	"roomsignal/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector records signaling metrics. It also observes the room
// registry, so room and membership series follow applied changes exactly.
type PrometheusCollector struct {
	connectionsActive   prometheus.Gauge
	connectionsTotal    prometheus.Counter
	connectionsRejected *prometheus.CounterVec
	connectionDuration  prometheus.Histogram

	roomsActive prometheus.Gauge
	joinsTotal  prometheus.Counter
	leavesTotal *prometheus.CounterVec

	envelopesTotal  *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	outboundDropped prometheus.Counter
	mirrorDropped   prometheus.Counter
}

// NewPrometheusCollector registers the metrics on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomsignal_connections_active",
			Help: "Number of open signaling connections",
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomsignal_connections_total",
			Help: "Total number of accepted signaling connections",
		}),

		connectionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsignal_connections_rejected_total",
			Help: "Connection attempts rejected before upgrade",
		}, []string{"reason"}),

		connectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "roomsignal_connection_duration_seconds",
			Help:    "Lifetime of signaling connections",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),

		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomsignal_rooms_active",
			Help: "Number of non-empty rooms",
		}),

		joinsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomsignal_room_joins_total",
			Help: "Total number of room admissions",
		}),

		leavesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsignal_room_leaves_total",
			Help: "Total number of room departures by reason",
		}, []string{"reason"}),

		envelopesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsignal_envelopes_total",
			Help: "Envelopes handled by kind and direction",
		}, []string{"kind", "direction"}),

		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsignal_errors_total",
			Help: "Error envelopes sent to clients by reason",
		}, []string{"reason"}),

		outboundDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomsignal_outbound_overflow_total",
			Help: "Connections closed because their outbound buffer overflowed",
		}),

		mirrorDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomsignal_directory_mirror_dropped_total",
			Help: "Room events dropped because the directory mirror queue was full",
		}),
	}
}

func (p *PrometheusCollector) RecordConnectionOpened() {
	p.connectionsActive.Inc()
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) RecordConnectionClosed(lifetime time.Duration) {
	p.connectionsActive.Dec()
	p.connectionDuration.Observe(lifetime.Seconds())
}

func (p *PrometheusCollector) RecordConnectionRejected(reason string) {
	p.connectionsRejected.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordInbound(kind domain.Kind) {
	p.envelopesTotal.WithLabelValues(kindLabel(kind), "in").Inc()
}

func (p *PrometheusCollector) RecordOutbound(kind domain.Kind) {
	p.envelopesTotal.WithLabelValues(kindLabel(kind), "out").Inc()
}

func (p *PrometheusCollector) RecordError(reason domain.ErrorReason) {
	p.errorsTotal.WithLabelValues(string(reason)).Inc()
}

func (p *PrometheusCollector) RecordOutboundOverflow() {
	p.outboundDropped.Inc()
}

func (p *PrometheusCollector) RecordMirrorDrop() {
	p.mirrorDropped.Inc()
}

func (p *PrometheusCollector) RoomCreated(domain.RoomID, time.Time) {
	p.roomsActive.Inc()
}

func (p *PrometheusCollector) RoomRemoved(domain.RoomID) {
	p.roomsActive.Dec()
}

func (p *PrometheusCollector) MemberJoined(domain.RoomID, domain.ConnectionID) {
	p.joinsTotal.Inc()
}

func (p *PrometheusCollector) MemberLeft(_ domain.RoomID, _ domain.ConnectionID, reason domain.LeaveReason) {
	p.leavesTotal.WithLabelValues(string(reason)).Inc()
}

// kindLabel keeps label cardinality bounded when clients send garbage kinds.
func kindLabel(kind domain.Kind) string {
	if kind.IsKnown() {
		return string(kind)
	}
	return "unknown"
}
