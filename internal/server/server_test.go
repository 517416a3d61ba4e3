package server_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/voichai/internal/server"
	"github.com/omochice/voichai/internal/transport"
	wstransport "github.com/omochice/voichai/internal/transport/ws"
	"github.com/omochice/voichai/pkg/protocol"
)

type received struct {
	path string
	env  protocol.Envelope
}

func newTestServer(t *testing.T, cfg server.Config) (*server.Server, string) {
	t.Helper()
	srv := server.New("", cfg)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Stop()
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) transport.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := wstransport.Dialer{}.Dial(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWithTimeout(t *testing.T, conn transport.Conn) ([]byte, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return conn.Read(ctx)
}

func TestServer_ReceivesAndBroadcasts(t *testing.T) {
	var mu sync.Mutex
	var got []received
	srv, url := newTestServer(t, server.Config{
		OnMessage: func(c *server.Client, env protocol.Envelope) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, received{path: c.Path(), env: env})
		},
	})

	conn := dial(t, url+"/ws/aichat/3")
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), srv.Accepts())

	require.NoError(t, conn.Write(context.Background(), []byte(`{"type":"play","data":{"message_id":3}}`)))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "/ws/aichat/3", got[0].path)
	assert.Equal(t, protocol.TypePlay, got[0].env.Type)
	assert.Equal(t, int64(3), got[0].env.Data["message_id"])
	mu.Unlock()

	n, err := srv.Broadcast("/ws/aichat/3", protocol.NewScopedEnvelope(protocol.TypeSentencePlaying, 3, map[string]any{"sentence_id": 0}))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := readWithTimeout(t, conn)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"the_sentence_playing","data":{"message_id":3,"sentence_id":0}}`, string(data))

	n, err = srv.Broadcast("/ws/aichat/electron", protocol.NewEnvelope(protocol.TypeNewWindow, nil))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestServer_BroadcastRejectsInvalidEnvelope(t *testing.T) {
	srv, _ := newTestServer(t, server.Config{})

	_, err := srv.Broadcast("", protocol.Envelope{})
	assert.ErrorIs(t, err, protocol.ErrMissingType)
}

func TestServer_MalformedFrameKeepsConnection(t *testing.T) {
	messages := make(chan string, 1)
	_, url := newTestServer(t, server.Config{
		OnMessage: func(_ *server.Client, env protocol.Envelope) { messages <- env.Type },
	})

	conn := dial(t, url+"/")
	require.NoError(t, conn.Write(context.Background(), []byte("garbage")))
	require.NoError(t, conn.Write(context.Background(), []byte(`{"type":"stop"}`)))

	select {
	case typ := <-messages:
		assert.Equal(t, protocol.TypeStop, typ)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestServer_ClientCloseSendsCode(t *testing.T) {
	connected := make(chan *server.Client, 1)
	_, url := newTestServer(t, server.Config{
		OnConnect: func(c *server.Client) { connected <- c },
	})

	conn := dial(t, url+"/ws/aichat/electron")
	c := <-connected
	require.NoError(t, c.Close(ws.StatusGoingAway, "restarting"))

	_, err := readWithTimeout(t, conn)
	var ce *transport.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int(ws.StatusGoingAway), ce.Code)
	assert.Equal(t, "restarting", ce.Reason)
}

func TestServer_DropHasNoCloseFrame(t *testing.T) {
	connected := make(chan *server.Client, 1)
	_, url := newTestServer(t, server.Config{
		OnConnect: func(c *server.Client) { connected <- c },
	})

	conn := dial(t, url+"/")
	c := <-connected
	require.NoError(t, c.Drop())

	_, err := readWithTimeout(t, conn)
	require.Error(t, err)
	var ce *transport.CloseError
	assert.False(t, errors.As(err, &ce))
}

func TestServer_StartAndStop(t *testing.T) {
	srv := server.New("127.0.0.1:0", server.Config{})
	require.NoError(t, srv.Listen())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	assert.True(t, strings.HasPrefix(srv.URL("/ws"), "ws://127.0.0.1:"))
	conn := dial(t, srv.URL("/ws"))
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	srv.Stop()

	_, err := readWithTimeout(t, conn)
	var ce *transport.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int(ws.StatusGoingAway), ce.Code)

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("server did not stop in time")
	}
	assert.Zero(t, srv.ClientCount())
}

func TestServer_ServeWithoutListen(t *testing.T) {
	srv := server.New("127.0.0.1:0", server.Config{})
	assert.Error(t, srv.Serve())
}
