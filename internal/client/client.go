// Package client is a small signaling client used by roomctl and tests.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"roomsignal/internal/core/domain"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var ErrNoWelcome = errors.New("server did not send welcome")

// Client holds one signaling connection. Writes are serialized; reads are
// done by a single goroutine started by Dial.
type Client struct {
	conn    *websocket.Conn
	welcome domain.WelcomePayload

	writeMu sync.Mutex

	incoming chan domain.Envelope
	closing  chan struct{}
	done     chan struct{}
	err      error
	once     sync.Once
}

// Dial connects to url and waits for the welcome envelope. A non-empty token
// is sent as a bearer Authorization header.
func Dial(ctx context.Context, url, token string) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	var first domain.Envelope
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read welcome: %w", err)
	}
	if first.Kind != domain.KindWelcome {
		conn.Close()
		return nil, fmt.Errorf("got %q: %w", first.Kind, ErrNoWelcome)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &Client{
		conn:     conn,
		incoming: make(chan domain.Envelope, 64),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	if err := json.Unmarshal(first.Payload, &c.welcome); err != nil {
		conn.Close()
		return nil, fmt.Errorf("invalid welcome payload: %w", err)
	}

	go c.readPump()
	return c, nil
}

func (c *Client) ID() domain.ConnectionID { return c.welcome.ConnectionID }

func (c *Client) Welcome() domain.WelcomePayload { return c.welcome }

// HeartbeatInterval is the interval the server asked for, or 0 if unknown.
func (c *Client) HeartbeatInterval() time.Duration {
	return time.Duration(c.welcome.HeartbeatInterval) * time.Millisecond
}

// Messages yields envelopes until the connection ends.
func (c *Client) Messages() <-chan domain.Envelope { return c.incoming }

// Err reports why the connection ended. It is valid once Messages is closed.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

func (c *Client) Send(env domain.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(env)
}

// SendRaw writes a frame as-is, for envelopes typed by a user.
func (c *Client) SendRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) Join(room domain.RoomID) error {
	return c.Send(domain.Envelope{Kind: domain.KindJoin, Room: room})
}

func (c *Client) Leave() error {
	return c.Send(domain.Envelope{Kind: domain.KindLeave})
}

func (c *Client) Heartbeat() error {
	return c.Send(domain.Envelope{Kind: domain.KindHeartbeat})
}

// KeepAlive sends heartbeats at the server's interval until ctx is done or
// the connection ends.
func (c *Client) KeepAlive(ctx context.Context) {
	interval := c.HeartbeatInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.Heartbeat(); err != nil {
				return
			}
		}
	}
}

// Close sends a normal close frame and releases the connection.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closing)
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.writeMu.Unlock()

		select {
		case <-c.done:
		case <-time.After(time.Second):
		}
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readPump() {
	defer close(c.incoming)
	defer close(c.done)

	for {
		var env domain.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.err = err
			}
			return
		}
		select {
		case c.incoming <- env:
		case <-c.closing:
			return
		}
	}
}
