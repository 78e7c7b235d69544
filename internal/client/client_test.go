package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"roomsignal/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer sends a welcome, then answers every frame with a copy of it.
func echoServer(t *testing.T, welcome domain.Envelope, seen chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			seen <- r.Header.Get("Authorization")
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(welcome); err != nil {
			return
		}
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDial_ReadsWelcome(t *testing.T) {
	seen := make(chan string, 1)
	srv := echoServer(t, domain.NewWelcome("conn-1", "user-1", 250*time.Millisecond, 1024), seen)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL(srv), "tok")
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "Bearer tok", <-seen)
	assert.Equal(t, domain.ConnectionID("conn-1"), c.ID())
	assert.Equal(t, domain.UserID("user-1"), c.Welcome().UserID)
	assert.Equal(t, 250*time.Millisecond, c.HeartbeatInterval())
}

func TestDial_RejectsMissingWelcome(t *testing.T) {
	srv := echoServer(t, domain.NewLeft("lobby"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dial(ctx, wsURL(srv), "")
	assert.ErrorIs(t, err, ErrNoWelcome)
}

func TestClient_SendAndReceive(t *testing.T) {
	srv := echoServer(t, domain.NewWelcome("conn-1", "", time.Minute, 0), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL(srv), "")
	require.NoError(t, err)

	require.NoError(t, c.Join("lobby"))
	env := <-c.Messages()
	assert.Equal(t, domain.KindJoin, env.Kind)
	assert.Equal(t, domain.RoomID("lobby"), env.Room)

	require.NoError(t, c.SendRaw([]byte(`{"kind":"offer","target":"b","payload":{"sdp":"x"}}`)))
	env = <-c.Messages()
	assert.Equal(t, domain.KindOffer, env.Kind)
	assert.JSONEq(t, `{"sdp":"x"}`, string(env.Payload))

	require.NoError(t, c.Close())
	for range c.Messages() {
	}
	assert.NoError(t, c.Err())
}

func TestClient_KeepAlive(t *testing.T) {
	srv := echoServer(t, domain.NewWelcome("conn-1", "", 20*time.Millisecond, 0), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL(srv), "")
	require.NoError(t, err)
	defer c.Close()

	go c.KeepAlive(ctx)

	for i := 0; i < 2; i++ {
		select {
		case env := <-c.Messages():
			assert.Equal(t, domain.KindHeartbeat, env.Kind)
		case <-ctx.Done():
			t.Fatal("no heartbeat sent")
		}
	}
}
