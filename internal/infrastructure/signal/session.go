package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"roomsignal/internal/core/domain"
	rlog "roomsignal/pkg/logger"
	"roomsignal/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type inboundFrame struct {
	env domain.Envelope
	err error
}

// Session is one client connection. The reader and writer goroutines only
// move frames; every state change happens on the session task in run.
type Session struct {
	id          domain.ConnectionID
	user        domain.UserID
	connectedAt time.Time

	ws     *websocket.Conn
	server *WebSocketServer
	state  atomic.Int32

	limiter *rate.Limiter

	send       chan []byte
	inbound    chan inboundFrame
	readErr    chan error
	evict      chan struct{}
	stopped    chan struct{}
	writerDone chan struct{}

	mu        sync.Mutex
	closed    bool
	done      chan struct{}
	closeCode int
	closeText string

	logger *zap.SugaredLogger
}

func newSession(id domain.ConnectionID, user domain.UserID, ws *websocket.Conn, server *WebSocketServer) *Session {
	cfg := server.cfg
	s := &Session{
		id:          id,
		user:        user,
		connectedAt: time.Now(),
		ws:          ws,
		server:      server,
		send:        make(chan []byte, cfg.SendBuffer),
		inbound:     make(chan inboundFrame),
		readErr:     make(chan error, 1),
		evict:       make(chan struct{}, 1),
		stopped:     make(chan struct{}),
		writerDone:  make(chan struct{}),
		done:        make(chan struct{}),
		logger:      server.logger.With("connection_id", id),
	}
	if cfg.MessagesPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.MessageBurst)
	}
	s.state.Store(int32(domain.StateConnecting))
	return s
}

func (s *Session) ID() domain.ConnectionID { return s.id }

func (s *Session) UserID() domain.UserID { return s.user }

func (s *Session) State() domain.ConnectionState {
	return domain.ConnectionState(s.state.Load())
}

// Snapshot describes the session for introspection.
func (s *Session) Snapshot() domain.Connection {
	conn := domain.Connection{
		ID:          s.id,
		UserID:      s.user,
		State:       s.State(),
		ConnectedAt: s.connectedAt,
	}
	if room, ok := s.server.registry.RoomOf(s.id); ok {
		conn.RoomID = room
	}
	if seen, ok := s.server.presence.LastSeen(s.id); ok {
		conn.LastSeen = seen
	}
	return conn
}

// Enqueue places env on the outbound buffer. It never blocks: a full buffer
// means the client cannot keep up, and the session is closed.
func (s *Session) Enqueue(env domain.Envelope) error {
	data, err := encodeEnvelope(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", env.Kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("connection %s: %w", s.id, domain.ErrTransportClosed)
	}

	select {
	case s.send <- data:
		s.server.metrics.RecordOutbound(env.Kind)
		return nil
	default:
		s.server.metrics.RecordOutboundOverflow()
		s.logger.Warnw("outbound buffer full, closing slow consumer", "buffer", cap(s.send))
		s.closeLocked(websocket.ClosePolicyViolation, "outbound buffer overflow")
		return fmt.Errorf("connection %s outbound buffer full: %w", s.id, domain.ErrTransportClosed)
	}
}

// Close stops the session with the given close frame. Only the first call
// decides the code.
func (s *Session) Close(code int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(code, text)
}

func (s *Session) closeLocked(code int, text string) {
	if s.closed {
		return
	}
	s.closed = true
	s.closeCode = code
	s.closeText = text
	close(s.done)
}

func (s *Session) transition(to domain.ConnectionState) bool {
	from := s.State()
	if from == to && to != domain.StateInRoom {
		return true
	}
	if !from.CanTransition(to) {
		s.logger.Warnw("illegal state transition", "from", from.String(), "to", to.String())
		return false
	}
	s.state.Store(int32(to))
	s.logger.Debugw("state transition", "from", from.String(), "to", to.String())
	return true
}

// run is the session task. It returns once the connection is closed and
// removed from the registry.
func (s *Session) run(ctx context.Context) {
	go s.writePump()
	go s.readPump()

	s.server.presence.Track(s.id, func() {
		select {
		case s.evict <- struct{}{}:
		default:
		}
	})
	s.transition(domain.StateIdle)

	reason := domain.LeaveClosed
loop:
	for {
		select {
		case frame := <-s.inbound:
			s.handle(ctx, frame)

		case <-s.evict:
			s.logger.Infow("heartbeat timeout, evicting connection", "timeout", s.server.cfg.HeartbeatInterval*2)
			reason = domain.LeaveEvicted
			s.Close(websocket.CloseGoingAway, "heartbeat timeout")
			break loop

		case err := <-s.readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Infow("connection read failed", "error", err)
			}
			break loop

		case <-s.done:
			break loop
		}
	}

	s.teardown(ctx, reason)
}

func (s *Session) teardown(ctx context.Context, reason domain.LeaveReason) {
	s.Close(websocket.CloseNormalClosure, "")
	close(s.stopped)

	if room, ok := s.server.registry.Leave(ctx, s.id, reason); ok {
		s.logger.Infow("left room on close", "room_id", room, "reason", reason)
	}
	s.server.presence.Forget(s.id)
	s.transition(domain.StateClosed)

	<-s.writerDone
}

func (s *Session) handle(ctx context.Context, frame inboundFrame) {
	s.server.presence.Touch(s.id)

	if frame.err != nil {
		s.server.metrics.RecordInbound("")
		s.replyError(frame.err, "")
		return
	}

	env := frame.env
	s.server.metrics.RecordInbound(env.Kind)
	if env.Kind == domain.KindHeartbeat {
		return
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.replyError(domain.ErrRateLimited, "")
		return
	}

	switch env.Kind {
	case domain.KindJoin:
		s.handleJoin(ctx, env)
	case domain.KindLeave:
		s.handleLeave(ctx)
	default:
		if err := s.server.router.Route(ctx, s.id, env); err != nil {
			var target domain.ConnectionID
			if errors.Is(err, domain.ErrInvalidTarget) {
				target = env.Target
			}
			s.replyError(err, target)
		}
	}
}

func (s *Session) handleJoin(ctx context.Context, env domain.Envelope) {
	if err := validation.ValidateRoomID(string(env.Room)); err != nil {
		s.replyError(fmt.Errorf("%w: %v", domain.ErrMalformedEnvelope, err), "")
		return
	}

	ctx = rlog.WithRoomID(ctx, string(env.Room))
	// The registry enqueues the joined reply itself so it is ordered with
	// the room's broadcasts.
	peers, err := s.server.registry.Join(ctx, env.Room, s.id)
	if err != nil {
		s.replyError(err, "")
		if _, inRoom := s.server.registry.RoomOf(s.id); !inRoom && s.State() == domain.StateInRoom {
			s.transition(domain.StateIdle)
		}
		return
	}
	s.transition(domain.StateInRoom)
	s.server.ctxLog.Sugar(ctx).Infow("joined room", "peers", len(peers))
}

func (s *Session) handleLeave(ctx context.Context) {
	room, ok := s.server.registry.Leave(ctx, s.id, domain.LeaveExplicit)
	if !ok {
		s.replyError(domain.ErrNotInRoom, "")
		return
	}
	s.transition(domain.StateIdle)
	if err := s.Enqueue(domain.NewLeft(room)); err != nil {
		s.logger.Debugw("left reply not delivered", "error", err)
	}
}

func (s *Session) replyError(err error, target domain.ConnectionID) {
	reason := domain.ReasonFor(err)
	s.server.metrics.RecordError(reason)
	s.logger.Debugw("signaling error", "reason", reason, "error", err)
	if sendErr := s.Enqueue(domain.NewError(err, target)); sendErr != nil {
		s.logger.Debugw("error reply not delivered", "error", sendErr)
	}
}

func (s *Session) readPump() {
	// Hijacked connections keep the HTTP server's deadlines; liveness is
	// enforced by the presence tracker instead.
	_ = s.ws.SetReadDeadline(time.Time{})
	s.ws.SetReadLimit(s.server.cfg.MaxMessageBytes)
	s.ws.SetPongHandler(func(string) error {
		s.server.presence.Touch(s.id)
		return nil
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			s.readErr <- err
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame.env); err != nil {
			frame.err = fmt.Errorf("%w: %v", domain.ErrMalformedEnvelope, err)
		}

		select {
		case s.inbound <- frame:
		case <-s.stopped:
			return
		}
	}
}

// writePump is the only goroutine writing to the connection.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.server.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		s.ws.Close()
		close(s.writerDone)
	}()

	for {
		select {
		case data := <-s.send:
			if err := s.write(data); err != nil {
				s.logger.Debugw("write failed", "error", err)
				s.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(s.server.cfg.WriteTimeout)
			if err := s.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debugw("ping failed", "error", err)
				s.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-s.done:
			s.flush()
			s.mu.Lock()
			code, text := s.closeCode, s.closeText
			s.mu.Unlock()
			if code != websocket.CloseAbnormalClosure {
				msg := websocket.FormatCloseMessage(code, text)
				_ = s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.server.cfg.WriteTimeout))
			}
			return
		}
	}
}

// flush writes whatever was queued before the session closed.
func (s *Session) flush() {
	for {
		select {
		case data := <-s.send:
			if err := s.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

var errInvalidPayload = errors.New("payload is not valid JSON")

// encodeEnvelope writes the envelope header with HTML escaping off and then
// splices the payload in exactly as it arrived.
func encodeEnvelope(env domain.Envelope) ([]byte, error) {
	payload := env.Payload
	env.Payload = nil

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return nil, err
	}
	out := bytes.TrimRight(buf.Bytes(), "\n")
	if len(payload) == 0 {
		return out, nil
	}
	if !json.Valid(payload) {
		return nil, errInvalidPayload
	}

	out = append(out[:len(out)-1], `,"payload":`...)
	out = append(out, payload...)
	return append(out, '}'), nil
}

func (s *Session) write(data []byte) error {
	if err := s.ws.SetWriteDeadline(time.Now().Add(s.server.cfg.WriteTimeout)); err != nil {
		return err
	}
	return s.ws.WriteMessage(websocket.TextMessage, data)
}
