// Package dispatch routes decoded envelopes to handlers by type.
package dispatch

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/omochice/voichai/pkg/protocol"
)

// HandlerFunc handles one envelope type.
type HandlerFunc func(env protocol.Envelope)

// Router maps envelope types to handlers. Types with no handler are dropped.
// It is safe for concurrent use; handlers may be added while the router is
// dispatching.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	log      zerolog.Logger
}

// NewRouter returns an empty router. A nil logger disables logging.
func NewRouter(logger *zerolog.Logger) *Router {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "dispatch").Logger()
	}
	return &Router{
		handlers: make(map[string]HandlerFunc),
		log:      l,
	}
}

// Handle registers fn for typ, replacing any earlier handler. A nil fn
// removes the registration.
func (r *Router) Handle(typ string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		delete(r.handlers, typ)
		return
	}
	r.handlers[typ] = fn
}

// Dispatch calls the handler registered for env.Type and reports whether
// there was one.
func (r *Router) Dispatch(env protocol.Envelope) bool {
	r.mu.RLock()
	fn, ok := r.handlers[env.Type]
	r.mu.RUnlock()

	if !ok {
		r.log.Debug().Str("type", env.Type).Msg("no handler for message type")
		return false
	}
	fn(env)
	return true
}

// Types returns the registered types in sorted order.
func (r *Router) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for typ := range r.handlers {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}
