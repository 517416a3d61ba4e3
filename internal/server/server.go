// Package server is a small envelope-speaking WebSocket server. It stands in
// for the voichai backend in tests and local runs.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/omochice/voichai/pkg/protocol"
)

// Config configures a Server. Every field is optional.
type Config struct {
	Codec  protocol.Codec
	Logger *zerolog.Logger

	// OnConnect is called for each accepted client before its first read.
	OnConnect func(c *Client)

	// OnMessage is called for each decoded message, on the client's read
	// goroutine.
	OnMessage func(c *Client, env protocol.Envelope)
}

// Server accepts WebSocket connections on any path.
type Server struct {
	address  string
	cfg      Config
	log      zerolog.Logger
	listener net.Listener
	server   *http.Server

	mu      sync.RWMutex
	clients map[*Client]bool
	stopped bool
	accepts atomic.Int64
	wg      sync.WaitGroup
}

// New creates a server that will listen on address when started.
func New(address string, cfg Config) *Server {
	if cfg.Codec == nil {
		cfg.Codec = protocol.JSON
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "server").Logger()
	}
	return &Server{
		address: address,
		cfg:     cfg,
		log:     log,
		clients: make(map[*Client]bool),
	}
}

// Listen binds the listening socket so Addr is known before Serve.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{Handler: s}
	s.log.Info().Str("addr", listener.Addr().String()).Msg("server listening")
	return nil
}

// Serve serves connections until Stop is called.
func (s *Server) Serve() error {
	if s.server == nil {
		return errors.New("server is not listening")
	}
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Start listens and serves until Stop is called.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop closes the listener and every client connection, then waits for
// their goroutines.
func (s *Server) Stop() {
	s.mu.Lock()
	s.stopped = true
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	if s.server != nil {
		s.server.Shutdown(context.Background())
	}
	for _, c := range clients {
		c.Close(ws.StatusGoingAway, "server stopping")
	}
	s.wg.Wait()
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// URL returns the ws:// URL of path on this server.
func (s *Server) URL(path string) string {
	return "ws://" + s.Addr() + path
}

// Accepts returns the number of connections accepted so far.
func (s *Server) Accepts() int64 { return s.accepts.Load() }

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Clients returns the connected clients in accept order.
func (s *Server) Clients() []*Client {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	return clients
}

// Broadcast sends env to every client connected on path, or to every client
// when path is empty. It returns the number of clients written to.
func (s *Server) Broadcast(path string, env protocol.Envelope) (int, error) {
	data, err := s.cfg.Codec.Encode(env)
	if err != nil {
		return 0, fmt.Errorf("failed to encode message: %w", err)
	}

	n := 0
	for _, c := range s.Clients() {
		if path != "" && c.path != path {
			continue
		}
		if err := c.WriteRaw(data); err != nil {
			s.log.Warn().Err(err).Int64("client", c.id).Msg("broadcast failed")
			continue
		}
		n++
	}
	return n, nil
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		http.Error(w, "server stopping", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, rw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	var src io.Reader = conn
	if rw != nil && rw.Reader.Buffered() > 0 {
		src = io.MultiReader(rw.Reader, conn)
	}
	c := newClient(s.accepts.Add(1), r.URL.Path, conn, src, s.cfg.Codec)

	if !s.register(c) {
		s.log.Debug().Int64("client", c.id).Msg("dropping client accepted during stop")
		c.Drop()
		return
	}

	s.log.Info().Int64("client", c.id).Str("path", c.path).Str("remote", c.RemoteAddr()).Msg("client connected")
	s.handleClient(c)
}

// register adds c to the client set unless Stop has already collected it.
func (s *Server) register(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.clients[c] = true
	return true
}

func (s *Server) handleClient(c *Client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		c.Drop()
		s.log.Info().Int64("client", c.id).Msg("client disconnected")
	}()

	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect(c)
	}

	for {
		data, err := c.read()
		if err != nil {
			var closed wsutil.ClosedError
			if !errors.As(err, &closed) && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Debug().Err(err).Int64("client", c.id).Msg("read failed")
			}
			return
		}

		env, err := s.cfg.Codec.Decode(data)
		if err != nil {
			s.log.Warn().Err(err).Int64("client", c.id).Msg("failed to decode message")
			continue
		}
		s.log.Debug().Int64("client", c.id).Str("type", env.Type).Msg("message received")
		if s.cfg.OnMessage != nil {
			s.cfg.OnMessage(c, env)
		}
	}
}
