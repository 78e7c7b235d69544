package signal

import (
	"time"

	"roomsignal/internal/core/domain"
)

// Metrics receives session level measurements. The Prometheus collector
// satisfies it.
type Metrics interface {
	RecordConnectionOpened()
	RecordConnectionClosed(lifetime time.Duration)
	RecordConnectionRejected(reason string)
	RecordInbound(kind domain.Kind)
	RecordOutbound(kind domain.Kind)
	RecordError(reason domain.ErrorReason)
	RecordOutboundOverflow()
}

type noopMetrics struct{}

func (noopMetrics) RecordConnectionOpened() {}
func (noopMetrics) RecordConnectionClosed(time.Duration) {}
func (noopMetrics) RecordConnectionRejected(string) {}
func (noopMetrics) RecordInbound(domain.Kind) {}
func (noopMetrics) RecordOutbound(domain.Kind) {}
func (noopMetrics) RecordError(domain.ErrorReason) {}
func (noopMetrics) RecordOutboundOverflow() {}
