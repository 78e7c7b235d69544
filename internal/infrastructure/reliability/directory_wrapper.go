package reliability

import (
	"context"
	"errors"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports"
	"roomsignal/pkg/circuitbreaker"
	"roomsignal/pkg/retry"

	"go.uber.org/zap"
)

// DirectoryWrapper guards a RoomDirectory with retries and a circuit breaker.
// Writes are retried; reads fail fast once the breaker opens.
type DirectoryWrapper struct {
	directory ports.RoomDirectory
	logger    *zap.SugaredLogger

	retryConfig retry.Config
	breaker     *circuitbreaker.CircuitBreaker
}

func NewDirectoryWrapper(
	directory ports.RoomDirectory,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *DirectoryWrapper {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	// Missing rooms are answers, not failures.
	retryConfig.Permanent = append(append([]error(nil), retryConfig.Permanent...), domain.ErrRoomNotFound, circuitbreaker.ErrOpen)

	w := &DirectoryWrapper{
		directory:   directory,
		logger:      logger,
		retryConfig: retryConfig,
		breaker:     circuitbreaker.New("room-directory", cbConfig),
	}
	w.breaker.OnStateChange(func(name string, from, to circuitbreaker.State) {
		logger.Warnw("circuit breaker state changed",
			"breaker", name,
			"from", from.String(),
			"to", to.String(),
		)
	})
	return w
}

// Breaker exposes the breaker for health reporting.
func (w *DirectoryWrapper) Breaker() *circuitbreaker.CircuitBreaker {
	return w.breaker
}

func (w *DirectoryWrapper) write(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, w.retryConfig, func(ctx context.Context) error {
		return w.breaker.Execute(ctx, fn)
	})
}

func (w *DirectoryWrapper) Upsert(ctx context.Context, record *domain.RoomRecord) error {
	return w.write(ctx, func(ctx context.Context) error {
		return w.directory.Upsert(ctx, record)
	})
}

func (w *DirectoryWrapper) Remove(ctx context.Context, id domain.RoomID) error {
	return w.write(ctx, func(ctx context.Context) error {
		return w.directory.Remove(ctx, id)
	})
}

func (w *DirectoryWrapper) AddMember(ctx context.Context, id domain.RoomID, conn domain.ConnectionID) error {
	return w.write(ctx, func(ctx context.Context) error {
		return w.directory.AddMember(ctx, id, conn)
	})
}

func (w *DirectoryWrapper) RemoveMember(ctx context.Context, id domain.RoomID, conn domain.ConnectionID) error {
	return w.write(ctx, func(ctx context.Context) error {
		return w.directory.RemoveMember(ctx, id, conn)
	})
}

func (w *DirectoryWrapper) Get(ctx context.Context, id domain.RoomID) (*domain.RoomRecord, error) {
	var record *domain.RoomRecord
	err := w.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		record, err = w.directory.Get(ctx, id)
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrRoomNotFound
	}
	return record, nil
}

func (w *DirectoryWrapper) List(ctx context.Context) ([]*domain.RoomRecord, error) {
	var rooms []*domain.RoomRecord
	err := w.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		rooms, err = w.directory.List(ctx)
		return err
	})
	return rooms, err
}

// HealthCheck bypasses the breaker so readiness reflects the backend itself.
func (w *DirectoryWrapper) HealthCheck(ctx context.Context) error {
	return w.directory.HealthCheck(ctx)
}

var _ ports.RoomDirectory = (*DirectoryWrapper)(nil)
