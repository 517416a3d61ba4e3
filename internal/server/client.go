package server

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gobwas/ws"

	wstransport "github.com/omochice/voichai/internal/transport/ws"
	"github.com/omochice/voichai/pkg/protocol"
)

// Client is one accepted WebSocket connection.
type Client struct {
	id    int64
	path  string
	ep    *wstransport.Endpoint
	codec protocol.Codec
}

func newClient(id int64, path string, conn net.Conn, src io.Reader, codec protocol.Codec) *Client {
	return &Client{
		id:    id,
		path:  path,
		ep:    wstransport.NewEndpoint(conn, src, ws.StateServerSide, codec.Binary()),
		codec: codec,
	}
}

// ID returns the accept sequence number of the client, starting at 1.
func (c *Client) ID() int64 { return c.id }

// Path returns the request path the client connected to.
func (c *Client) Path() string { return c.path }

// RemoteAddr returns the client address.
func (c *Client) RemoteAddr() string { return c.ep.RemoteAddr() }

// Send writes env as a single frame.
func (c *Client) Send(env protocol.Envelope) error {
	data, err := c.codec.Encode(env)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return c.WriteRaw(data)
}

// WriteRaw writes data as a single frame without encoding it.
func (c *Client) WriteRaw(data []byte) error {
	if err := c.ep.WriteMessage(data, time.Time{}); err != nil {
		return fmt.Errorf("failed to send message to client: %w", err)
	}
	return nil
}

// Close sends a close frame with code and reason, then closes the connection.
func (c *Client) Close(code ws.StatusCode, reason string) error {
	return c.ep.Close(code, reason)
}

// Drop closes the connection without a close frame, as a crashed backend
// would.
func (c *Client) Drop() error {
	return c.ep.Drop()
}

// read returns the next data message. Pings are answered; a close frame is
// echoed and reported as wsutil.ClosedError.
func (c *Client) read() ([]byte, error) {
	return c.ep.ReadMessage()
}
