package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/voichai/internal/clock"
	"github.com/omochice/voichai/internal/transport"
	"github.com/omochice/voichai/pkg/protocol"
)

type stubConn struct {
	closed chan struct{}
	once   sync.Once
}

func newStubConn() *stubConn { return &stubConn{closed: make(chan struct{})} }

func (c *stubConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-c.closed:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *stubConn) Write(context.Context, []byte) error { return nil }

func (c *stubConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *stubConn) RemoteAddr() string { return "stub" }

func TestStatus_WatchAndChanged(t *testing.T) {
	st := NewStatus()
	assert.Equal(t, StateClosed, st.Load())

	var events []StateEvent
	cancel := st.Watch(func(ev StateEvent) { events = append(events, ev) })
	changed := st.Changed()

	boom := errors.New("boom")
	st.set(StateConnecting, nil)
	st.set(StateConnecting, nil)
	st.set(StateError, boom)

	select {
	case <-changed:
	default:
		t.Fatal("Changed channel was not closed")
	}
	assert.Equal(t, []StateEvent{
		{Old: StateClosed, New: StateConnecting},
		{Old: StateConnecting, New: StateError, Err: boom},
	}, events)

	cancel()
	st.set(StateConnecting, nil)
	assert.Len(t, events, 2)
}

func TestStatus_Wait(t *testing.T) {
	st := NewStatus()

	go func() {
		time.Sleep(10 * time.Millisecond)
		st.set(StateConnecting, nil)
		st.set(StateOpen, nil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, st.Wait(ctx, StateOpen))

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	err := st.Wait(short, StateClosing)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "still open")
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateConnecting, "connecting"},
		{StateOpen, "open"},
		{StateClosing, "closing"},
		{StateClosed, "closed"},
		{StateError, "error"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestSession_IgnoresStaleGenerations(t *testing.T) {
	current := newStubConn()
	dialer := transport.DialerFunc(func(context.Context, string) (transport.Conn, error) {
		return current, nil
	})

	var opens atomic.Int32
	got := make(chan string, 4)
	h := HandlerFuncs{
		Open:    func() { opens.Add(1) },
		Message: func(env protocol.Envelope) { got <- env.Type },
	}

	s, err := New(Config{URL: "ws://backend.test/ws", Dialer: dialer, Clock: clock.NewFake(time.Time{})}, h)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
		<-s.Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Status().Wait(ctx, StateOpen))

	stale := newStubConn()
	s.events.push(event{kind: evDialed, gen: 0, conn: stale})
	s.events.push(event{kind: evMessage, gen: 0, data: []byte(`{"type":"stale"}`)})
	s.events.push(event{kind: evReadFailed, gen: 0, err: net.ErrClosed})
	s.events.push(event{kind: evMessage, gen: 1, data: []byte(`{"type":"current"}`)})

	select {
	case typ := <-got:
		assert.Equal(t, "current", typ)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for current message")
	}

	select {
	case <-stale.closed:
	case <-time.After(time.Second):
		t.Fatal("stale connection was not closed")
	}
	assert.Equal(t, int32(1), opens.Load())
	assert.Equal(t, StateOpen, s.State())

	select {
	case <-current.closed:
		t.Fatal("current connection must stay open")
	default:
	}
}

func TestEventQueue_RejectsAfterClose(t *testing.T) {
	q := newEventQueue()
	require.True(t, q.push(event{kind: evReconnect}))
	require.True(t, q.push(event{kind: evCloseRequested}))

	rest := q.close()
	assert.Len(t, rest, 2)
	assert.False(t, q.push(event{kind: evReconnect}))
	assert.Empty(t, q.drain())
}
