package ws_test

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	gws "github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/voichai/internal/transport/ws"
)

// enteredConn signals the first Write so a test knows a writer is blocked
// inside the connection.
type enteredConn struct {
	net.Conn
	once    sync.Once
	entered chan struct{}
}

func (c *enteredConn) Write(p []byte) (int, error) {
	c.once.Do(func() { close(c.entered) })
	return c.Conn.Write(p)
}

func TestEndpoint_CloseDoesNotWaitForBlockedWriter(t *testing.T) {
	local, peer := net.Pipe()
	defer peer.Close()
	conn := &enteredConn{Conn: local, entered: make(chan struct{})}
	ep := ws.NewEndpoint(conn, nil, gws.StateClientSide, false)

	// Nobody reads peer, so this write blocks holding the write lock.
	writeErr := make(chan error, 1)
	go func() { writeErr <- ep.WriteMessage([]byte("stuck"), time.Time{}) }()

	select {
	case <-conn.entered:
	case <-time.After(time.Second):
		t.Fatal("writer never started")
	}

	start := time.Now()
	require.NoError(t, ep.Close(gws.StatusNormalClosure, ""))
	assert.Less(t, time.Since(start), time.Second)

	select {
	case err := <-writeErr:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked writer was not released by Close")
	}
}

func TestEndpoint_Masking(t *testing.T) {
	tests := []struct {
		name   string
		state  gws.State
		masked bool
	}{
		{"client side", gws.StateClientSide, true},
		{"server side", gws.StateServerSide, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local, peer := net.Pipe()
			defer local.Close()
			defer peer.Close()
			ep := ws.NewEndpoint(local, nil, tt.state, true)

			go ep.WriteMessage([]byte("hi"), time.Time{})

			frame, err := gws.ReadFrame(peer)
			require.NoError(t, err)
			assert.Equal(t, gws.OpBinary, frame.Header.OpCode)
			assert.Equal(t, tt.masked, frame.Header.Masked)
			if frame.Header.Masked {
				gws.Cipher(frame.Payload, frame.Header.Mask, 0)
			}
			assert.Equal(t, "hi", string(frame.Payload))
		})
	}
}

func TestEndpoint_ReadEchoesClose(t *testing.T) {
	local, peer := net.Pipe()
	defer local.Close()
	defer peer.Close()
	ep := ws.NewEndpoint(local, nil, gws.StateServerSide, false)

	echo := make(chan gws.Frame, 1)
	go func() {
		_ = wsutil.WriteClientMessage(peer, gws.OpClose, gws.NewCloseFrameBody(gws.StatusGoingAway, "bye"))
		frame, err := gws.ReadFrame(peer)
		if err == nil {
			echo <- frame
		}
	}()

	_, err := ep.ReadMessage()
	var closed wsutil.ClosedError
	require.True(t, errors.As(err, &closed), "got %v", err)
	assert.Equal(t, gws.StatusGoingAway, closed.Code)
	assert.Equal(t, "bye", closed.Reason)

	select {
	case frame := <-echo:
		assert.Equal(t, gws.OpClose, frame.Header.OpCode)
		code, _ := gws.ParseCloseFrameData(frame.Payload)
		assert.Equal(t, gws.StatusNormalClosure, code)
	case <-time.After(time.Second):
		t.Fatal("close frame was not echoed")
	}
}
