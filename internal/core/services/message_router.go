package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports"
	"roomsignal/pkg/tracing"

	"go.uber.org/zap"
)

// messageRouter relays negotiation envelopes between members of one room.
// It never inspects the payload and never retries a delivery.
type messageRouter struct {
	registry    ports.RoomRegistry
	outbox      ports.Outbox
	logger      *zap.SugaredLogger
	checkTarget func(string) error
}

type RouterOption func(*messageRouter)

// WithTargetCheck rejects targets that cannot be a connection id before the
// membership lookup. Failures are reported as an invalid target.
func WithTargetCheck(check func(string) error) RouterOption {
	return func(m *messageRouter) { m.checkTarget = check }
}

func NewMessageRouter(registry ports.RoomRegistry, outbox ports.Outbox, logger *zap.SugaredLogger, opts ...RouterOption) ports.MessageRouter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	m := &messageRouter{
		registry: registry,
		outbox:   outbox,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Route delivers env on behalf of sender. The sender field is always
// overwritten. join, leave and heartbeat are session-level kinds and are
// rejected here as malformed.
func (m *messageRouter) Route(ctx context.Context, sender domain.ConnectionID, env domain.Envelope) error {
	ctx, span := tracing.TraceEnvelope(ctx, string(env.Kind), string(sender))
	defer span.End()
	defer tracing.MeasureDuration(ctx, time.Now(), "route")

	if !env.Kind.IsKnown() {
		return fmt.Errorf("%w: unknown kind %q", domain.ErrMalformedEnvelope, env.Kind)
	}

	roomID, ok := m.registry.RoomOf(sender)
	if !ok {
		tracing.RecordError(ctx, domain.ErrNotInRoom)
		return fmt.Errorf("route %s: %w", env.Kind, domain.ErrNotInRoom)
	}

	if env.Kind.IsOutboundOnly() {
		// Clients cannot forge membership or error events.
		m.logger.Debugw("dropping client-sent outbound kind",
			"kind", env.Kind,
			"connection_id", sender,
			"room_id", roomID,
		)
		return nil
	}

	if !env.Kind.IsPointToPoint() {
		return fmt.Errorf("%w: kind %q is not routable", domain.ErrMalformedEnvelope, env.Kind)
	}

	if env.Target == "" {
		return fmt.Errorf("%w: %s requires a target", domain.ErrMalformedEnvelope, env.Kind)
	}
	if m.checkTarget != nil {
		if err := m.checkTarget(string(env.Target)); err != nil {
			tracing.RecordError(ctx, domain.ErrInvalidTarget)
			return fmt.Errorf("route %s to %q: %w: %v", env.Kind, env.Target, domain.ErrInvalidTarget, err)
		}
	}
	if env.Target == sender || !m.registry.IsMember(roomID, env.Target) {
		tracing.RecordError(ctx, domain.ErrInvalidTarget)
		return fmt.Errorf("route %s to %s: %w", env.Kind, env.Target, domain.ErrInvalidTarget)
	}

	out := domain.Envelope{
		Kind:    env.Kind,
		Room:    roomID,
		Sender:  sender,
		Target:  env.Target,
		Payload: env.Payload,
	}
	if err := m.outbox.Deliver(env.Target, out); err != nil {
		if errors.Is(err, domain.ErrTransportClosed) {
			return fmt.Errorf("route %s to %s: %w: %w", env.Kind, env.Target, domain.ErrInvalidTarget, err)
		}
		return fmt.Errorf("route %s to %s: %w", env.Kind, env.Target, err)
	}

	m.logger.Debugw("routed envelope",
		"kind", env.Kind,
		"from", sender,
		"to", env.Target,
		"room_id", roomID,
		"payload_bytes", len(env.Payload),
	)
	return nil
}
