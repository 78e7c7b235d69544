package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports"
	apperrors "roomsignal/pkg/errors"
	rlog "roomsignal/pkg/logger"
	"roomsignal/pkg/utils"
	"roomsignal/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrServerClosed = errors.New("signaling server closed")

const maxLoggedOrigin = 256

type ServerConfig struct {
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	MaxMessageBytes   int64
	SendBuffer        int
	AllowedOrigins    []string
	MaxConnections    int // 0 = unlimited
	MessagesPerSecond float64
	MessageBurst      int
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HeartbeatInterval: 30 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxMessageBytes:   64 << 10,
		SendBuffer:        256,
		AllowedOrigins:    []string{"*"},
	}
}

// IdentityFunc resolves the user behind an upgrade request. An empty id
// means anonymous; an error rejects the connection.
type IdentityFunc func(r *http.Request) (domain.UserID, error)

type ServerOption func(*WebSocketServer)

func WithMetrics(m Metrics) ServerOption {
	return func(s *WebSocketServer) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithIdentity(fn IdentityFunc) ServerOption {
	return func(s *WebSocketServer) { s.identify = fn }
}

func WithLogger(l *zap.SugaredLogger) ServerOption {
	return func(s *WebSocketServer) {
		if l != nil {
			s.logger = l
		}
	}
}

type WebSocketServer struct {
	cfg      ServerConfig
	upgrader websocket.Upgrader

	registry ports.RoomRegistry
	router   ports.MessageRouter
	presence ports.PresenceTracker
	table    *ConnectionTable

	identify IdentityFunc
	metrics  Metrics

	active atomic.Int64

	// mu orders session tracking against Shutdown so sessions.Add never
	// races with sessions.Wait.
	mu       sync.Mutex
	closing  atomic.Bool
	sessions sync.WaitGroup

	logger *zap.SugaredLogger
	ctxLog *rlog.ContextLogger
}

// NewWebSocketServer wires the signaling endpoint. table must be the Outbox
// the registry and router were built with.
func NewWebSocketServer(
	cfg ServerConfig,
	registry ports.RoomRegistry,
	router ports.MessageRouter,
	presence ports.PresenceTracker,
	table *ConnectionTable,
	opts ...ServerOption,
) *WebSocketServer {
	defaults := DefaultServerConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = presence.Interval()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaults.MaxMessageBytes
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = defaults.AllowedOrigins
	}
	if cfg.MessagesPerSecond > 0 && cfg.MessageBurst < 1 {
		cfg.MessageBurst = 1
	}

	s := &WebSocketServer{
		cfg:      cfg,
		registry: registry,
		router:   router,
		presence: presence,
		table:    table,
		metrics:  noopMetrics{},
		logger:   rlog.New("info").Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctxLog = rlog.NewContextLogger(s.logger.Desugar())

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.originAllowed,
	}
	return s
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.track() {
		s.reject(w, "shutting_down", apperrors.NewServiceUnavailableError("server is shutting down"))
		return
	}
	defer s.sessions.Done()

	if !s.originAllowed(r) {
		s.logger.Infow("rejecting cross-origin connection",
			"origin", utils.TruncateString(r.Header.Get("Origin"), maxLoggedOrigin),
			"remote_addr", r.RemoteAddr,
		)
		s.reject(w, "origin_forbidden", apperrors.NewForbiddenError("origin not allowed"))
		return
	}

	var user domain.UserID
	if s.identify != nil {
		id, err := s.identify(r)
		if err != nil {
			s.logger.Infow("rejecting unauthenticated connection", "remote_addr", r.RemoteAddr, "error", err)
			s.reject(w, "unauthorized", apperrors.NewUnauthorizedError("authentication required"))
			return
		}
		user = id
	}

	if !s.reserve() {
		s.logger.Warnw("connection limit reached", "max_connections", s.cfg.MaxConnections)
		s.reject(w, "too_many_connections", apperrors.NewTooManyConnectionsError().
			WithContext("max_connections", s.cfg.MaxConnections))
		return
	}
	defer s.active.Add(-1)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already wrote the HTTP error
		s.metrics.RecordConnectionRejected("upgrade_failed")
		s.logger.Infow("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	id := domain.ConnectionID(utils.GenerateConnectionID())
	session := newSession(id, user, ws, s)
	if user != "" {
		session.logger = session.logger.With("user_id", user)
	}

	ctx := rlog.WithConnectionID(r.Context(), string(id))
	if user != "" {
		ctx = rlog.WithUserID(ctx, string(user))
	}

	if err := s.table.Add(session); err != nil {
		s.ctxLog.LogError(ctx, err, "failed to register connection")
		ws.Close()
		return
	}

	s.metrics.RecordConnectionOpened()
	session.logger.Infow("connection opened", "remote_addr", r.RemoteAddr)

	if err := session.Enqueue(domain.NewWelcome(id, user, s.cfg.HeartbeatInterval, s.cfg.MaxMessageBytes)); err != nil {
		session.logger.Warnw("welcome not delivered", "error", err)
	}

	// A shutdown that raced with this upgrade may have missed the session.
	if s.closing.Load() {
		session.Close(websocket.CloseGoingAway, "server shutting down")
	}
	session.run(ctx)

	s.table.Remove(session)
	lifetime := time.Since(session.connectedAt)
	s.metrics.RecordConnectionClosed(lifetime)
	session.logger.Infow("connection closed", "lifetime", utils.FormatDuration(lifetime))
}

func (s *WebSocketServer) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || validation.OriginAllowed(origin, s.cfg.AllowedOrigins)
}

// track counts the request as a live session unless shutdown has begun.
func (s *WebSocketServer) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.sessions.Add(1)
	return true
}

func (s *WebSocketServer) reserve() bool {
	n := s.active.Add(1)
	if s.cfg.MaxConnections > 0 && n > int64(s.cfg.MaxConnections) {
		s.active.Add(-1)
		return false
	}
	return true
}

// reject answers a refused upgrade with the same JSON error body as the
// REST endpoints.
func (s *WebSocketServer) reject(w http.ResponseWriter, reason string, appErr *apperrors.AppError) {
	s.metrics.RecordConnectionRejected(reason)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	if err := json.NewEncoder(w).Encode(appErr.Body()); err != nil {
		s.logger.Debugw("failed to write rejection", "error", err)
	}
}

// ConnectionCount returns the number of registered sessions.
func (s *WebSocketServer) ConnectionCount() int {
	return s.table.Len()
}

// Connections describes every live session.
func (s *WebSocketServer) Connections() []domain.Connection {
	sessions := s.table.Sessions()
	out := make([]domain.Connection, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, session.Snapshot())
	}
	return out
}

// Shutdown refuses new connections, closes every session with a going-away
// frame and waits for the session tasks to finish.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closing.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.mu.Unlock()

	sessions := s.table.Sessions()
	s.logger.Infow("closing signaling connections", "connections", len(sessions))
	for _, session := range sessions {
		session.Close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
