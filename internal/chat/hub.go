package chat

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/omochice/voichai/internal/dispatch"
	"github.com/omochice/voichai/internal/session"
	"github.com/omochice/voichai/pkg/protocol"
)

// Conversation is an open chat channel: its session and the command client
// bound to it.
type Conversation struct {
	ChatID  int
	Session *session.Session
	Client  *Client
	Router  *dispatch.Router
}

// Hub keeps one session per open chat id.
type Hub struct {
	baseURL string
	base    session.Config
	log     zerolog.Logger

	mu    sync.RWMutex
	chats map[int]*Conversation
}

// NewHub creates a Hub that dials <baseURL>/<chatID> with the given session
// settings. base.URL is ignored.
func NewHub(baseURL string, base session.Config) *Hub {
	log := zerolog.Nop()
	if base.Logger != nil {
		log = base.Logger.With().Str("component", "hub").Logger()
	}
	return &Hub{
		baseURL: strings.TrimRight(baseURL, "/"),
		base:    base,
		log:     log,
		chats:   make(map[int]*Conversation),
	}
}

// ChatURL returns the channel URL of a chat.
func (h *Hub) ChatURL(chatID int) string {
	return fmt.Sprintf("%s/%d", h.baseURL, chatID)
}

// Open returns the conversation for chatID, connecting it first if needed.
// events is only used when a new session is created.
func (h *Hub) Open(chatID int, events Events) (*Conversation, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conv, ok := h.chats[chatID]; ok {
		return conv, nil
	}

	if events.Logger == nil {
		events.Logger = h.base.Logger
	}
	router := dispatch.NewRouter(h.base.Logger)
	events.Register(router)

	cfg := h.base
	cfg.URL = h.ChatURL(chatID)
	cfg.Status = nil
	s, err := session.New(cfg, session.HandlerFuncs{
		Message: func(env protocol.Envelope) { router.Dispatch(env) },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open chat %d: %w", chatID, err)
	}

	conv := &Conversation{
		ChatID:  chatID,
		Session: s,
		Client:  NewClient(s),
		Router:  router,
	}
	h.chats[chatID] = conv
	h.log.Info().Int("chat", chatID).Str("session", s.ID()).Msg("chat opened")
	return conv, nil
}

// Get returns the open conversation for chatID.
func (h *Hub) Get(chatID int) (*Conversation, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conv, ok := h.chats[chatID]
	return conv, ok
}

// Close closes and forgets the session of chatID. It reports whether the
// chat was open.
func (h *Hub) Close(chatID int) bool {
	h.mu.Lock()
	conv, ok := h.chats[chatID]
	delete(h.chats, chatID)
	h.mu.Unlock()

	if !ok {
		return false
	}
	conv.Session.Close()
	h.log.Info().Int("chat", chatID).Msg("chat closed")
	return true
}

// CloseAll closes every open session.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	chats := h.chats
	h.chats = make(map[int]*Conversation)
	h.mu.Unlock()

	for _, conv := range chats {
		conv.Session.Close()
	}
}

// Count returns the number of open chats.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.chats)
}
