// Package protocol defines the envelope exchanged with the voichai backend
// and the codecs that put it on the wire.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Commands sent by the chat UI over a chat channel.
const (
	TypeUserInput              = "user_input"
	TypeParsedUserMessage      = "parsed_user_message"
	TypeParsedAIResponse       = "parsed_ai_response"
	TypeStartSpeechRecognition = "start_speech_recognize"
	TypeUpdateCursorPosition   = "update_cursor_position"
	TypeStopSpeechRecognition  = "stop_speech_recognize"
	TypeStopResponse           = "stop_response"
	TypeDeleteAudioFiles       = "delete_audio_files"
	TypeUpdateMessage          = "update_message"
	TypeDeleteMessage          = "delete_message"
	TypeUpdateSessionConfig    = "update_session_ai_config"
	TypeGenerateAudioFiles     = "generate_audio_files"
	TypePlay                   = "play"
	TypePlayTheSentence        = "play_the_sentence"
	TypePlaySentences          = "play_sentences"
	TypePause                  = "pause"
	TypeStop                   = "stop"
)

// Events pushed by the backend on a chat channel. update_message and
// delete_message reuse the command names above, stop_speech_recognize
// reports that dictation ended.
const (
	TypeStreamResponse       = "stream_response"
	TypeSentencePlaying      = "the_sentence_playing"
	TypeParseRequest         = "parse_request"
	TypeSecondaryResponse    = "secondary_response"
	TypeSessionSuggestions   = "session_suggestions"
	TypeSpeechRecognizing    = "speech_recognizing"
	TypeSessionAIConfig      = "session_ai_config"
	TypeSessionMessages      = "session_messages"
	TypeErrorSessionNotExist = "error_session_not_exist"
)

// Directives pushed by the backend on the control channel.
const (
	TypeNewWindow   = "new_window"
	TypeUpdateTheme = "update_theme"
)

// FieldMessageID is the payload key correlating a command with a chat message.
const FieldMessageID = "message_id"

// ErrMissingType is returned when an envelope has no type discriminator.
var ErrMissingType = errors.New("envelope has no type")

// Envelope is the {type, data} unit of wire communication.
type Envelope struct {
	Type string
	Data map[string]any
}

// NewEnvelope builds an envelope with a shallow copy of payload as its data.
// A nil payload yields an empty data mapping.
func NewEnvelope(typ string, payload map[string]any) Envelope {
	data := make(map[string]any, len(payload))
	for k, v := range payload {
		data[k] = v
	}
	return Envelope{Type: typ, Data: data}
}

// NewScopedEnvelope builds an envelope targeting a chat message. message_id
// is set first so keys in payload win on conflict.
func NewScopedEnvelope(typ string, messageID int, payload map[string]any) Envelope {
	data := make(map[string]any, len(payload)+1)
	data[FieldMessageID] = messageID
	for k, v := range payload {
		data[k] = v
	}
	return Envelope{Type: typ, Data: data}
}

// String returns a compact form of the envelope for logging.
func (e Envelope) String() string {
	return fmt.Sprintf("%s%v", e.Type, e.Data)
}

// DecodeData decodes the envelope data into v, which should be a pointer to a
// struct with json tags.
func DecodeData(env Envelope, v any) error {
	raw, err := json.Marshal(env.dataOrEmpty())
	if err != nil {
		return fmt.Errorf("failed to decode %s data: %w", env.Type, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", env.Type, err)
	}
	return nil
}

func (e Envelope) dataOrEmpty() map[string]any {
	if e.Data == nil {
		return map[string]any{}
	}
	return e.Data
}
