package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"roomsignal/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "roomsignal:events"

// EventBus publishes room membership events over Redis pub/sub so dashboards
// and other instances can follow room activity.
type EventBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
}

// NewEventBus creates an event bus. Subscribers skip events published with
// the same non-empty instanceID.
func NewEventBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *EventBus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    DefaultChannel,
		logger:     logger,
	}
}

func (eb *EventBus) Publish(ctx context.Context, event *domain.RoomEvent) error {
	if event.InstanceID == "" {
		event.InstanceID = eb.instanceID
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published room event",
		"type", event.Type,
		"room_id", event.RoomID,
		"connection_id", event.ConnectionID,
	)
	return nil
}

// Subscribe blocks, calling handler for every event from other instances,
// until ctx is done or the subscription closes.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*domain.RoomEvent) error) error {
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	// Wait for the subscription confirmation so no event published after
	// Subscribe returns control is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", eb.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event domain.RoomEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			if eb.instanceID != "" && event.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(&event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}
