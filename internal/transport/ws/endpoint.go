package ws

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// closeGrace bounds how long Close waits to write a close frame. A writer
// stuck on a slow peer holds the write lock; past the grace period Close
// closes the socket under it instead.
const closeGrace = 250 * time.Millisecond

// Endpoint reads and writes whole messages on one side of an upgraded
// WebSocket connection. Frames are masked on the client side only.
type Endpoint struct {
	conn  net.Conn
	src   io.Reader
	state ws.State
	op    ws.OpCode

	// wlock serializes frame writes. It is a channel so Close can give up
	// waiting for it.
	wlock     chan struct{}
	closeSent bool
	closeOnce sync.Once
	closeErr  error
}

// NewEndpoint wraps conn. src is read instead of conn when the handshake
// buffered bytes; it may be nil.
func NewEndpoint(conn net.Conn, src io.Reader, state ws.State, binary bool) *Endpoint {
	if src == nil {
		src = conn
	}
	op := ws.OpText
	if binary {
		op = ws.OpBinary
	}
	return &Endpoint{conn: conn, src: src, state: state, op: op, wlock: make(chan struct{}, 1)}
}

// RemoteAddr returns the peer address.
func (e *Endpoint) RemoteAddr() string { return e.conn.RemoteAddr().String() }

// SetReadDeadline sets the deadline of the underlying connection's reads.
func (e *Endpoint) SetReadDeadline(t time.Time) error { return e.conn.SetReadDeadline(t) }

// ReadMessage returns the next data message. Pings are answered and pongs
// skipped; a close frame is echoed with 1000 and reported as
// wsutil.ClosedError carrying the peer's code and reason.
func (e *Endpoint) ReadMessage() ([]byte, error) {
	rd := wsutil.Reader{
		Source:         e.src,
		State:          e.state,
		CheckUTF8:      true,
		OnIntermediate: e.handleControl,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := e.handleControl(hdr, &rd); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		return io.ReadAll(&rd)
	}
}

// WriteMessage writes data as one text or binary frame. A zero deadline
// means none.
func (e *Endpoint) WriteMessage(data []byte, deadline time.Time) error {
	e.wlock <- struct{}{}
	defer func() { <-e.wlock }()

	if !deadline.IsZero() {
		_ = e.conn.SetWriteDeadline(deadline)
		defer e.conn.SetWriteDeadline(time.Time{})
	}
	return e.writeLocked(e.op, data)
}

// Close sends a close frame with code and reason, then closes the
// connection. When another write holds the connection past closeGrace the
// frame is skipped.
func (e *Endpoint) Close(code ws.StatusCode, reason string) error {
	e.closeOnce.Do(func() {
		timer := time.NewTimer(closeGrace)
		defer timer.Stop()

		select {
		case e.wlock <- struct{}{}:
			_ = e.conn.SetWriteDeadline(time.Now().Add(closeGrace))
			_ = e.writeLocked(ws.OpClose, ws.NewCloseFrameBody(code, reason))
			<-e.wlock
		case <-timer.C:
		}
		e.closeErr = e.conn.Close()
	})
	return e.closeErr
}

// Drop closes the connection without a close frame.
func (e *Endpoint) Drop() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.conn.Close()
	})
	return e.closeErr
}

// writeLocked compiles the whole frame before writing so control replies
// from the reader never interleave with a data frame. The caller holds wlock.
func (e *Endpoint) writeLocked(op ws.OpCode, payload []byte) error {
	frame := ws.NewFrame(op, true, payload)
	if e.state.ClientSide() {
		frame = ws.MaskFrame(frame)
	}
	bts, err := ws.CompileFrame(frame)
	if err != nil {
		return err
	}

	if op == ws.OpClose {
		if e.closeSent {
			return nil
		}
		e.closeSent = true
	}
	_, err = e.conn.Write(bts)
	return err
}

func (e *Endpoint) writeControl(op ws.OpCode, payload []byte) error {
	e.wlock <- struct{}{}
	defer func() { <-e.wlock }()
	return e.writeLocked(op, payload)
}

func (e *Endpoint) handleControl(hdr ws.Header, r io.Reader) error {
	payload := make([]byte, hdr.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}

	switch hdr.OpCode {
	case ws.OpPing:
		return e.writeControl(ws.OpPong, payload)
	case ws.OpClose:
		code, reason := ws.ParseCloseFrameData(payload)
		_ = e.writeControl(ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		return wsutil.ClosedError{Code: code, Reason: reason}
	default:
		return nil
	}
}
