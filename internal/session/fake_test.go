package session_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omochice/voichai/internal/session"
	"github.com/omochice/voichai/internal/transport"
	"github.com/omochice/voichai/pkg/protocol"
)

const (
	testURL   = "ws://backend.test/ws/aichat/electron"
	waitFor   = time.Second
	tickEvery = 5 * time.Millisecond
)

// fakeConn is an in-memory transport.Conn. Frames pushed with deliver are
// returned by Read; fail makes the pending Read return err.
type fakeConn struct {
	readCh    chan []byte
	errCh     chan error
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  [][]byte
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		readCh: make(chan []byte, 16),
		errCh:  make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.readCh:
		return data, nil
	case err := <-c.errCh:
		return nil, err
	case <-c.closed:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "fake:0" }

func (c *fakeConn) deliver(frame string) { c.readCh <- []byte(frame) }

func (c *fakeConn) fail(err error) { c.errCh <- err }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) writtenTypes(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]string, 0, len(c.written))
	for _, data := range c.written {
		env, err := protocol.JSON.Decode(data)
		require.NoError(t, err)
		types = append(types, env.Type)
	}
	return types
}

// fakeDialer answers each Dial with the result of next, which receives the
// 1-based attempt number.
type fakeDialer struct {
	mu    sync.Mutex
	dials int
	next  func(ctx context.Context, attempt int) (transport.Conn, error)
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (transport.Conn, error) {
	d.mu.Lock()
	d.dials++
	attempt := d.dials
	next := d.next
	d.mu.Unlock()
	return next(ctx, attempt)
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// dialConns hands out conns in order and fails once they run out.
func dialConns(conns ...*fakeConn) *fakeDialer {
	return &fakeDialer{next: func(_ context.Context, attempt int) (transport.Conn, error) {
		if attempt > len(conns) {
			return nil, errRefused
		}
		return conns[attempt-1], nil
	}}
}

var errRefused = errors.New("connection refused")

// recorder is a Handler that records each hook together with the state the
// Status held when the hook ran.
type recorder struct {
	status *session.Status

	mu       sync.Mutex
	opens    []session.State
	messages []protocol.Envelope
	errs     []error
	errState []session.State
	closes   []session.CloseEvent
	closeSt  []session.State
}

func newRecorder(status *session.Status) *recorder {
	return &recorder{status: status}
}

func (r *recorder) OnOpen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opens = append(r.opens, r.status.Load())
}

func (r *recorder) OnMessage(env protocol.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, env)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.errState = append(r.errState, r.status.Load())
}

func (r *recorder) OnClose(ev session.CloseEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes = append(r.closes, ev)
	r.closeSt = append(r.closeSt, r.status.Load())
}

func (r *recorder) openCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.opens)
}

func (r *recorder) messageTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.messages))
	for _, env := range r.messages {
		types = append(types, env.Type)
	}
	return types
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) closeEvents() []session.CloseEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.CloseEvent(nil), r.closes...)
}

// stateLog collects every transition seen by a watcher.
type stateLog struct {
	mu     sync.Mutex
	states []session.State
}

func watchStates(status *session.Status) *stateLog {
	l := &stateLog{}
	status.Watch(func(ev session.StateEvent) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.states = append(l.states, ev.New)
	})
	return l
}

func (l *stateLog) snapshot() []session.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]session.State(nil), l.states...)
}

func waitState(t *testing.T, s *session.Session, want session.State) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, s.Status().Wait(ctx, want))
}

func waitDone(t *testing.T, s *session.Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatalf("session did not finish closing, state %s", s.State())
	}
}

// closeOnCleanup makes sure no session outlives its test.
func closeOnCleanup(t *testing.T, s *session.Session) {
	t.Cleanup(func() {
		s.Close()
		<-s.Done()
	})
}
