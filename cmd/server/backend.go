package main

import (
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/omochice/voichai/internal/clock"
	"github.com/omochice/voichai/pkg/protocol"
)

// backend imitates the voichai chat backend closely enough to drive the
// clients by hand. Every known chat id shares one history.
type backend struct {
	chats int
	clock clock.Clock

	mu       sync.Mutex
	nextID   int
	history  [][]any
	aiConfig map[string]any
}

func newBackend(chats int, c clock.Clock) *backend {
	return &backend{
		chats:    chats,
		clock:    c,
		aiConfig: map[string]any{"model": "echo", "language": "en-US"},
	}
}

type scoped struct {
	MessageID      int            `json:"message_id"`
	UserMessage    string         `json:"user_message"`
	RawText        string         `json:"raw_text"`
	SentenceID     int            `json:"sentence_id"`
	InputText      string         `json:"input_text"`
	CursorPosition int            `json:"cursor_position"`
	AIConfig       map[string]any `json:"ai_config"`
}

// greet returns what a chat channel receives on connect. ok is false when
// the path names no known chat; the channel should then be closed.
func (b *backend) greet(p string) (out []protocol.Envelope, ok bool) {
	id, err := strconv.Atoi(path.Base(p))
	if err != nil || id < 1 || id > b.chats {
		return []protocol.Envelope{
			protocol.NewEnvelope(protocol.TypeErrorSessionNotExist, map[string]any{"session_id": id}),
		}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	messages := make([]any, len(b.history))
	for i, row := range b.history {
		messages[i] = row
	}
	return []protocol.Envelope{
		protocol.NewEnvelope(protocol.TypeSessionMessages, map[string]any{"messages": messages}),
		protocol.NewEnvelope(protocol.TypeSessionAIConfig, map[string]any{"ai_config": b.configCopy()}),
	}, true
}

func (b *backend) configCopy() map[string]any {
	cfg := make(map[string]any, len(b.aiConfig))
	for k, v := range b.aiConfig {
		cfg[k] = v
	}
	return cfg
}

// record stores a user message and its reply and returns their ids.
func (b *backend) record(user, reply string) (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts := b.clock.Now().UTC().Format(time.RFC3339)
	userID, aiID := b.nextID+1, b.nextID+2
	b.nextID += 2
	b.history = append(b.history,
		[]any{userID, "user", user, "", ts},
		[]any{aiID, "assistant", reply, "", ts},
	)
	return userID, aiID
}

// respond returns the events the backend pushes in reply to a chat command.
func (b *backend) respond(env protocol.Envelope) []protocol.Envelope {
	var d scoped
	if err := protocol.DecodeData(env, &d); err != nil {
		return nil
	}

	switch env.Type {
	case protocol.TypeUserInput:
		if strings.TrimSpace(d.UserMessage) == "" {
			return nil
		}
		reply := "You said: " + d.UserMessage
		userID, aiID := b.record(d.UserMessage, reply)
		out := []protocol.Envelope{
			protocol.NewEnvelope(protocol.TypeParseRequest, map[string]any{
				"type": "user_message",
				"data": map[string]any{"message_id": userID, "user_message": d.UserMessage},
			}),
		}
		words := strings.Fields(reply)
		for i := range words {
			out = append(out, protocol.NewEnvelope(protocol.TypeStreamResponse, map[string]any{
				"message_id":    aiID,
				"is_streaming":  true,
				"is_chat_error": false,
				"response":      strings.Join(words[:i+1], " "),
			}))
		}
		return append(out,
			protocol.NewEnvelope(protocol.TypeStreamResponse, map[string]any{
				"message_id":    aiID,
				"is_streaming":  false,
				"is_chat_error": false,
				"response":      reply,
			}),
			protocol.NewEnvelope(protocol.TypeParseRequest, map[string]any{
				"type": "ai_response",
				"data": map[string]any{"message_id": aiID, "response": reply},
			}),
		)

	case protocol.TypePlay, protocol.TypePlayTheSentence, protocol.TypePlaySentences:
		return []protocol.Envelope{
			protocol.NewEnvelope(protocol.TypeSentencePlaying, map[string]any{
				"message_id":  d.MessageID,
				"sentence_id": d.SentenceID,
			}),
		}

	case protocol.TypeUpdateMessage:
		return []protocol.Envelope{
			protocol.NewEnvelope(protocol.TypeUpdateMessage, map[string]any{
				"message_id": d.MessageID,
				"raw_text":   d.RawText,
			}),
		}

	case protocol.TypeDeleteMessage:
		return []protocol.Envelope{
			protocol.NewEnvelope(protocol.TypeDeleteMessage, map[string]any{"message_id": d.MessageID}),
		}

	case protocol.TypeStartSpeechRecognition:
		// No recognizer: echo the input as if nothing was heard yet.
		return []protocol.Envelope{
			protocol.NewEnvelope(protocol.TypeSpeechRecognizing, map[string]any{
				"stt_text":        d.InputText,
				"cursor_position": d.CursorPosition,
			}),
		}

	case protocol.TypeStopSpeechRecognition:
		return []protocol.Envelope{protocol.NewEnvelope(protocol.TypeStopSpeechRecognition, nil)}

	case protocol.TypeUpdateSessionConfig:
		b.mu.Lock()
		for k, v := range d.AIConfig {
			b.aiConfig[k] = v
		}
		cfg := b.configCopy()
		b.mu.Unlock()
		return []protocol.Envelope{
			protocol.NewEnvelope(protocol.TypeSessionAIConfig, map[string]any{"ai_config": cfg}),
		}
	}
	return nil
}
