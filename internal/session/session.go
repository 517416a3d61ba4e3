// Package session implements a persistent client connection that reconnects
// on its own and hands decoded envelopes to a Handler.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/omochice/voichai/internal/clock"
	"github.com/omochice/voichai/internal/transport"
	"github.com/omochice/voichai/internal/transport/ws"
	"github.com/omochice/voichai/pkg/protocol"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultOutboundBuffer = 64
	DefaultWriteTimeout   = 10 * time.Second
)

// Config configures a Session. Only URL is required.
type Config struct {
	URL string

	// ReconnectDelay is the wait between a failure and the next attempt.
	ReconnectDelay time.Duration

	// QueueSize, when positive, holds up to that many envelopes sent while
	// the session is not open and flushes them on the next open. Zero drops
	// them.
	QueueSize int

	// OutboundBuffer is the capacity of the per-connection write buffer.
	OutboundBuffer int

	WriteTimeout time.Duration

	Codec  protocol.Codec
	Dialer transport.Dialer
	Clock  clock.Clock

	// Status receives state changes. Passing one in lets a caller watch
	// the first transition, which New reports on its own goroutine before
	// the event loop starts.
	Status *Status

	Logger *zerolog.Logger
}

func (c *Config) setDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.OutboundBuffer <= 0 {
		c.OutboundBuffer = DefaultOutboundBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Codec == nil {
		c.Codec = protocol.JSON
	}
	if c.Dialer == nil {
		c.Dialer = ws.Dialer{Binary: c.Codec.Binary()}
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Status == nil {
		c.Status = NewStatus()
	}
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("session url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid session url %q: %w", raw, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid session url %q: scheme must be ws or wss", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid session url %q: missing host", raw)
	}
	return nil
}

// Session owns at most one live connection to a URL. It dials on creation,
// redials after ReconnectDelay whenever the connection fails or the peer
// closes it, and stops only when Close is called.
//
// Hooks, watchers and timer expiries run on a single event-loop goroutine.
type Session struct {
	id      string
	cfg     Config
	handler Handler
	log     zerolog.Logger
	status  *Status
	events  *eventQueue
	done    chan struct{}

	closed  atomic.Bool
	dropped atomic.Uint64
	dropLog rate.Sometimes

	mu      sync.Mutex
	open    bool
	out     chan []byte
	pending [][]byte

	// Owned by the event loop.
	gen        uint64
	conn       transport.Conn
	stopWriter chan struct{}
	dialing    bool
	cancelDial context.CancelFunc
	timer      clock.Timer
	closing    bool
}

// New creates a session and starts connecting to cfg.URL. The returned error
// reports invalid configuration only; connection failures go to h.OnError.
func New(cfg Config, h Handler) (*Session, error) {
	if err := validateURL(cfg.URL); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if h == nil {
		h = HandlerFuncs{}
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	id := uuid.NewString()

	s := &Session{
		id:      id,
		cfg:     cfg,
		handler: h,
		status:  cfg.Status,
		events:  newEventQueue(),
		done:    make(chan struct{}),
		dropLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
		log: logger.With().
			Str("component", "session").
			Str("session", id).
			Str("url", cfg.URL).
			Logger(),
	}

	s.connect()
	go s.run()

	return s, nil
}

// ID returns the session's identifier for log correlation.
func (s *Session) ID() string { return s.id }

// URL returns the endpoint the session connects to.
func (s *Session) URL() string { return s.cfg.URL }

// State returns the current connection state.
func (s *Session) State() State { return s.status.Load() }

// Status returns the session's observable state cell.
func (s *Session) Status() *Status { return s.status }

// Dropped returns the number of envelopes Send discarded.
func (s *Session) Dropped() uint64 { return s.dropped.Load() }

// Done is closed once the session has reached StateClosed after Close.
func (s *Session) Done() <-chan struct{} { return s.done }

// Send encodes env and hands it to the connection's writer. It never blocks
// and never fails: when the session is not open the envelope is queued (if
// QueueSize allows) or dropped with a warning.
func (s *Session) Send(env protocol.Envelope) {
	data, err := s.cfg.Codec.Encode(env)
	if err != nil {
		s.drop(env.Type, err)
		s.events.push(event{kind: evEncodeFailed, err: &EncodeError{Type: env.Type, Err: err}})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed.Load():
		s.drop(env.Type, ErrClosed)
	case s.open:
		select {
		case s.out <- data:
		default:
			s.drop(env.Type, ErrBufferFull)
		}
	case s.cfg.QueueSize > 0:
		if len(s.pending) >= s.cfg.QueueSize {
			s.drop(env.Type, ErrQueueFull)
			return
		}
		s.pending = append(s.pending, data)
	default:
		s.drop(env.Type, ErrNotOpen)
	}
}

func (s *Session) drop(typ string, reason error) {
	n := s.dropped.Add(1)
	s.dropLog.Do(func() {
		s.log.Warn().
			Err(reason).
			Str("type", typ).
			Uint64("dropped", n).
			Msg("dropping outgoing message")
	})
}

// Close shuts the session down and disables reconnection. It returns
// immediately; Done is closed when the shutdown completes.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	s.open = false
	s.pending = nil
	s.mu.Unlock()

	s.events.push(event{kind: evCloseRequested})
}

func (s *Session) run() {
	for range s.events.signal {
		batch := s.events.drain()
		for i, ev := range batch {
			if s.handle(ev) {
				s.finish(batch[i+1:])
				return
			}
		}
	}
}

// finish stops the loop, closing any connection still carried by an
// unprocessed event.
func (s *Session) finish(rest []event) {
	rest = append(rest, s.events.close()...)
	for _, ev := range rest {
		if ev.conn != nil {
			ev.conn.Close()
		}
	}
	s.log.Debug().Msg("session closed")
	close(s.done)
}

// handle processes one event and reports whether the session is finished.
func (s *Session) handle(ev event) bool {
	switch ev.kind {
	case evDialed:
		return s.handleDialed(ev)
	case evDialFailed:
		return s.handleDialFailed(ev)
	case evMessage:
		s.handleMessage(ev)
	case evReadFailed:
		return s.handleReadFailed(ev)
	case evWriteFailed:
		if ev.gen == s.gen && s.conn != nil {
			s.log.Warn().Err(ev.err).Msg("write failed")
		}
	case evReconnect:
		s.handleReconnect()
	case evCloseRequested:
		return s.handleCloseRequested()
	case evEncodeFailed:
		s.invoke("error", func() { s.handler.OnError(ev.err) })
	}
	return false
}

func (s *Session) connect() {
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.dialing = true
	s.cancelDial = cancel

	s.setState(StateConnecting, nil)
	s.log.Debug().Uint64("gen", gen).Msg("connecting")

	go func() {
		conn, err := s.cfg.Dialer.Dial(ctx, s.cfg.URL)
		if err != nil {
			s.events.push(event{kind: evDialFailed, gen: gen, err: err})
			return
		}
		if !s.events.push(event{kind: evDialed, gen: gen, conn: conn}) {
			conn.Close()
		}
	}()
}

func (s *Session) dialFinished() {
	s.dialing = false
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
}

func (s *Session) handleDialed(ev event) bool {
	if ev.gen != s.gen || !s.dialing {
		s.log.Debug().Uint64("gen", ev.gen).Msg("closing stale connection")
		ev.conn.Close()
		return false
	}
	s.dialFinished()

	if s.closed.Load() {
		s.log.Debug().Msg("closing connection opened after close")
		ev.conn.Close()
		if s.closing {
			return s.finishClose(CloseEvent{Requested: true})
		}
		return false
	}

	conn := ev.conn
	stop := make(chan struct{})
	out := make(chan []byte, max(s.cfg.OutboundBuffer, s.cfg.QueueSize))

	s.mu.Lock()
	for _, data := range s.pending {
		select {
		case out <- data:
		default:
			s.drop("", ErrBufferFull)
		}
	}
	s.pending = nil
	s.out = out
	s.open = true
	s.mu.Unlock()

	s.conn = conn
	s.stopWriter = stop
	go s.writeLoop(ev.gen, conn, out, stop)
	go s.readLoop(ev.gen, conn)

	s.clearReconnect()
	s.setState(StateOpen, nil)
	s.log.Info().Str("remote", conn.RemoteAddr()).Msg("connected")
	s.invoke("open", s.handler.OnOpen)
	return false
}

func (s *Session) handleDialFailed(ev event) bool {
	if ev.gen != s.gen || !s.dialing {
		return false
	}
	s.dialFinished()

	if s.closed.Load() {
		if s.closing {
			return s.finishClose(CloseEvent{Requested: true})
		}
		return false
	}

	err := &TransportError{Op: "dial", URL: s.cfg.URL, Err: ev.err}
	s.setState(StateError, err)
	s.log.Warn().Err(ev.err).Msg("connection attempt failed")
	s.invoke("error", func() { s.handler.OnError(err) })
	s.scheduleReconnect()
	return false
}

func (s *Session) handleMessage(ev event) {
	if ev.gen != s.gen || s.conn == nil || s.closed.Load() {
		return
	}

	env, err := s.cfg.Codec.Decode(ev.data)
	if err != nil {
		derr := &DecodeError{Codec: s.cfg.Codec.Name(), Size: len(ev.data), Err: err}
		s.log.Warn().Err(err).Msg("discarding undecodable frame")
		s.invoke("error", func() { s.handler.OnError(derr) })
		return
	}
	s.invoke("message", func() { s.handler.OnMessage(env) })
}

func (s *Session) handleReadFailed(ev event) bool {
	if ev.gen != s.gen || s.conn == nil {
		return false
	}
	s.dropConn()

	var ce *transport.CloseError
	peerClosed := errors.As(ev.err, &ce)

	if s.closed.Load() {
		if s.closing {
			closeEv := CloseEvent{Requested: true}
			if peerClosed {
				closeEv.Code, closeEv.Reason = ce.Code, ce.Reason
			}
			return s.finishClose(closeEv)
		}
		return false
	}

	if peerClosed {
		s.setState(StateClosed, ev.err)
		s.log.Info().Int("code", ce.Code).Str("reason", ce.Reason).Msg("connection closed by peer")
		s.invoke("close", func() { s.handler.OnClose(CloseEvent{Code: ce.Code, Reason: ce.Reason}) })
	} else {
		err := &TransportError{Op: "read", URL: s.cfg.URL, Err: ev.err}
		s.setState(StateError, err)
		s.log.Warn().Err(ev.err).Msg("connection lost")
		s.invoke("error", func() { s.handler.OnError(err) })
	}
	s.scheduleReconnect()
	return false
}

func (s *Session) handleReconnect() {
	s.timer = nil
	if s.closed.Load() || s.dialing || s.conn != nil {
		return
	}
	s.log.Info().Msg("reconnecting")
	s.connect()
}

func (s *Session) handleCloseRequested() bool {
	if s.closing {
		return false
	}
	s.closing = true
	s.clearReconnect()
	s.setState(StateClosing, nil)

	switch {
	case s.conn != nil:
		// The reader reports the close and finishes the shutdown.
		s.conn.Close()
		return false
	case s.dialing:
		s.cancelDial()
		return false
	default:
		return s.finishClose(CloseEvent{Requested: true})
	}
}

func (s *Session) finishClose(ev CloseEvent) bool {
	s.setState(StateClosed, nil)
	s.invoke("close", func() { s.handler.OnClose(ev) })
	return true
}

// dropConn releases the current connection and its writer.
func (s *Session) dropConn() {
	s.mu.Lock()
	s.open = false
	s.out = nil
	s.mu.Unlock()

	close(s.stopWriter)
	s.stopWriter = nil
	s.conn.Close()
	s.conn = nil
}

func (s *Session) scheduleReconnect() {
	if s.closed.Load() || s.timer != nil {
		return
	}
	s.log.Debug().Dur("delay", s.cfg.ReconnectDelay).Msg("scheduling reconnect")
	s.timer = s.cfg.Clock.AfterFunc(s.cfg.ReconnectDelay, func() {
		s.events.push(event{kind: evReconnect})
	})
}

func (s *Session) clearReconnect() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) setState(state State, err error) {
	s.status.set(state, err)
}

func (s *Session) readLoop(gen uint64, conn transport.Conn) {
	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			s.events.push(event{kind: evReadFailed, gen: gen, err: err})
			return
		}
		s.events.push(event{kind: evMessage, gen: gen, data: data})
	}
}

func (s *Session) writeLoop(gen uint64, conn transport.Conn, out <-chan []byte, stop <-chan struct{}) {
	for {
		select {
		case data := <-out:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
			err := conn.Write(ctx, data)
			cancel()
			if err != nil {
				s.events.push(event{kind: evWriteFailed, gen: gen, err: err})
				// Closing the conn makes the reader report the failure.
				conn.Close()
				return
			}
		case <-stop:
			return
		}
	}
}

// invoke runs a hook, recovering from panics so the loop keeps running.
func (s *Session) invoke(hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("hook", hook).Interface("panic", r).Msg("handler panicked")
		}
	}()
	fn()
}
