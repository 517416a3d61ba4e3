package chat

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/omochice/voichai/internal/dispatch"
	"github.com/omochice/voichai/pkg/protocol"
)

// StreamResponse carries a chunk of an AI response. The last chunk has
// IsStreaming false.
type StreamResponse struct {
	MessageID   int    `json:"message_id"`
	IsStreaming bool   `json:"is_streaming"`
	IsChatError bool   `json:"is_chat_error"`
	Response    string `json:"response"`
}

// SentencePlaying reports the sentence currently being spoken.
type SentencePlaying struct {
	MessageID  int `json:"message_id"`
	SentenceID int `json:"sentence_id"`
}

type MessageUpdated struct {
	MessageID int    `json:"message_id"`
	RawText   string `json:"raw_text"`
}

type MessageDeleted struct {
	MessageID int `json:"message_id"`
}

// ParseRequest asks the UI to split a message into sentences and answer with
// SendParsedUserMessage or SendParsedAIResponse. Kind is "user_message" or
// "ai_response".
type ParseRequest struct {
	Kind string           `json:"type"`
	Data ParseRequestData `json:"data"`
}

type ParseRequestData struct {
	MessageID   int    `json:"message_id"`
	UserMessage string `json:"user_message,omitempty"`
	Response    string `json:"response,omitempty"`
}

// SecondaryResponse carries text generated after the main response, such
// as a translation.
type SecondaryResponse struct {
	MessageID         int    `json:"message_id"`
	SecondaryResponse string `json:"secondary_response"`
}

type SessionSuggestions struct {
	SessionID   int      `json:"session_id"`
	Suggestions []string `json:"suggestions"`
}

// SpeechRecognizing carries the input box text with recognized speech
// spliced in at the cursor.
type SpeechRecognizing struct {
	Text           string `json:"stt_text"`
	CursorPosition int    `json:"cursor_position"`
}

// SpeechRecognitionStopped reports that the backend ended dictation.
type SpeechRecognitionStopped struct{}

type SessionAIConfig struct {
	AIConfig AIConfig `json:"ai_config"`
}

// SessionMessages carries the stored history of a chat.
type SessionMessages struct {
	Messages []StoredMessage `json:"messages"`
}

// SessionNotExist is sent before the backend closes a channel opened for an
// unknown chat id.
type SessionNotExist struct {
	SessionID int `json:"session_id"`
}

// StoredMessage is one history row. The backend sends rows as
// [id, role, raw_text, parsed_text, timestamp] arrays; objects with the same
// keys are accepted too.
type StoredMessage struct {
	ID         int    `json:"id"`
	Role       string `json:"role"`
	RawText    string `json:"raw_text"`
	ParsedText string `json:"parsed_text"`
	Timestamp  string `json:"timestamp"`
}

func (m *StoredMessage) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || data[0] != '[' {
		type plain StoredMessage
		return json.Unmarshal(data, (*plain)(m))
	}

	var row []json.RawMessage
	if err := json.Unmarshal(data, &row); err != nil {
		return err
	}
	if len(row) != 5 {
		return fmt.Errorf("message row has %d columns, want 5", len(row))
	}
	fields := []any{&m.ID, &m.Role, &m.RawText, &m.ParsedText, &m.Timestamp}
	for i, f := range fields {
		if err := json.Unmarshal(row[i], f); err != nil {
			return fmt.Errorf("message row column %d: %w", i, err)
		}
	}
	return nil
}

// Events holds callbacks for the typed events of a chat channel. Nil
// callbacks leave their type unhandled.
type Events struct {
	StreamResponse     func(StreamResponse)
	SentencePlaying    func(SentencePlaying)
	MessageUpdated     func(MessageUpdated)
	MessageDeleted     func(MessageDeleted)
	ParseRequest       func(ParseRequest)
	SecondaryResponse  func(SecondaryResponse)
	SessionSuggestions func(SessionSuggestions)
	SpeechRecognizing  func(SpeechRecognizing)
	SpeechStopped      func(SpeechRecognitionStopped)
	SessionAIConfig    func(SessionAIConfig)
	SessionMessages    func(SessionMessages)
	SessionNotExist    func(SessionNotExist)

	Logger *zerolog.Logger
}

// Register installs a handler on r for every non-nil callback.
func (e Events) Register(r *dispatch.Router) {
	log := zerolog.Nop()
	if e.Logger != nil {
		log = e.Logger.With().Str("component", "chat").Logger()
	}

	route(r, log, protocol.TypeStreamResponse, e.StreamResponse)
	route(r, log, protocol.TypeSentencePlaying, e.SentencePlaying)
	route(r, log, protocol.TypeUpdateMessage, e.MessageUpdated)
	route(r, log, protocol.TypeDeleteMessage, e.MessageDeleted)
	route(r, log, protocol.TypeParseRequest, e.ParseRequest)
	route(r, log, protocol.TypeSecondaryResponse, e.SecondaryResponse)
	route(r, log, protocol.TypeSessionSuggestions, e.SessionSuggestions)
	route(r, log, protocol.TypeSpeechRecognizing, e.SpeechRecognizing)
	route(r, log, protocol.TypeStopSpeechRecognition, e.SpeechStopped)
	route(r, log, protocol.TypeSessionAIConfig, e.SessionAIConfig)
	route(r, log, protocol.TypeSessionMessages, e.SessionMessages)
	route(r, log, protocol.TypeErrorSessionNotExist, e.SessionNotExist)
}

func route[T any](r *dispatch.Router, log zerolog.Logger, typ string, fn func(T)) {
	if fn == nil {
		return
	}
	r.Handle(typ, func(env protocol.Envelope) {
		var v T
		if err := protocol.DecodeData(env, &v); err != nil {
			log.Warn().Err(err).Str("type", typ).Msg("ignoring malformed event")
			return
		}
		fn(v)
	})
}
