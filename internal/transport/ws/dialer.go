package ws

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/omochice/voichai/internal/transport"
)

// Dialer opens WebSocket client connections.
type Dialer struct {
	// Timeout bounds connect plus handshake. Zero means no limit beyond ctx.
	Timeout time.Duration

	// Binary sends messages as binary frames instead of text frames.
	Binary bool

	// Header is added to the upgrade request.
	Header http.Header
}

// Dial implements transport.Dialer.
func (d Dialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	dialer := ws.Dialer{Timeout: d.Timeout}
	if len(d.Header) > 0 {
		dialer.Header = ws.HandshakeHeaderHTTP(d.Header)
	}

	conn, br, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	return NewConn(conn, br, d.Binary), nil
}

var _ transport.Dialer = Dialer{}
