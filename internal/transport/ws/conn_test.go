package ws_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/omochice/voichai/internal/transport"
	"github.com/omochice/voichai/internal/transport/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func newServer(t *testing.T, handle func(ctx context.Context, c *websocket.Conn)) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("failed to accept websocket: %v", err)
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		handle(r.Context(), c)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string, binary bool) transport.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := ws.Dialer{Timeout: time.Second, Binary: binary}.Dial(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestConn_Read(t *testing.T) {
	url := newServer(t, func(ctx context.Context, c *websocket.Conn) {
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"pause","data":{}}`))
		c.Read(ctx)
	})

	conn := dial(t, url, false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"pause","data":{}}`, string(data))
}

func TestConn_Write(t *testing.T) {
	tests := []struct {
		name   string
		binary bool
		want   websocket.MessageType
	}{
		{name: "text", binary: false, want: websocket.MessageText},
		{name: "binary", binary: true, want: websocket.MessageBinary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			type frame struct {
				typ  websocket.MessageType
				data []byte
			}
			received := make(chan frame, 1)
			url := newServer(t, func(ctx context.Context, c *websocket.Conn) {
				typ, data, err := c.Read(ctx)
				if err != nil {
					return
				}
				received <- frame{typ: typ, data: data}
			})

			conn := dial(t, url, tt.binary)
			require.NoError(t, conn.Write(context.Background(), []byte("hello")))

			select {
			case got := <-received:
				assert.Equal(t, tt.want, got.typ)
				assert.Equal(t, "hello", string(got.data))
			case <-time.After(time.Second):
				t.Fatal("timeout waiting for message")
			}
		})
	}
}

func TestConn_ReadAnswersPing(t *testing.T) {
	pinged := make(chan error, 1)
	url := newServer(t, func(ctx context.Context, c *websocket.Conn) {
		readCtx := c.CloseRead(ctx)
		pingCtx, cancel := context.WithTimeout(readCtx, time.Second)
		defer cancel()
		pinged <- c.Ping(pingCtx)
		_ = c.Write(ctx, websocket.MessageText, []byte("after ping"))
		<-readCtx.Done()
	})

	conn := dial(t, url, false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "after ping", string(data))
	assert.NoError(t, <-pinged)
}

func TestConn_ReadReportsPeerClose(t *testing.T) {
	url := newServer(t, func(ctx context.Context, c *websocket.Conn) {
		c.Close(websocket.StatusGoingAway, "restarting")
	})

	conn := dial(t, url, false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := conn.Read(ctx)

	var closeErr *transport.CloseError
	require.True(t, errors.As(err, &closeErr), "got %v", err)
	assert.Equal(t, int(websocket.StatusGoingAway), closeErr.Code)
	assert.Equal(t, "restarting", closeErr.Reason)
}

func TestConn_CloseSendsCloseFrame(t *testing.T) {
	status := make(chan websocket.StatusCode, 1)
	url := newServer(t, func(ctx context.Context, c *websocket.Conn) {
		_, _, err := c.Read(ctx)
		status <- websocket.CloseStatus(err)
	})

	conn := dial(t, url, false)
	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())

	select {
	case got := <-status:
		assert.Equal(t, websocket.StatusNormalClosure, got)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for close")
	}
}

func TestConn_CloseUnblocksRead(t *testing.T) {
	url := newServer(t, func(ctx context.Context, c *websocket.Conn) {
		c.Read(ctx)
	})

	conn := dial(t, url, false)

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.Read(context.Background())
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	conn.Close()

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Read did not return after Close")
	}
}

func TestConn_RemoteAddr(t *testing.T) {
	url := newServer(t, func(ctx context.Context, c *websocket.Conn) {
		c.Read(ctx)
	})

	conn := dial(t, url, false)

	assert.Contains(t, url, conn.RemoteAddr())
}

func TestDialer_Refused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := ws.Dialer{}.Dial(ctx, url)
	assert.Error(t, err)
}

func TestDialer_NotWebSocket(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := ws.Dialer{}.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http"))
	assert.Error(t, err)
}
