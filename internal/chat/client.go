// Package chat provides the command vocabulary of a chat channel, the typed
// events the backend pushes on it and a registry of open chat sessions.
package chat

import "github.com/omochice/voichai/pkg/protocol"

// Sender delivers envelopes. *session.Session satisfies it.
type Sender interface {
	Send(env protocol.Envelope)
}

// Client builds chat commands and hands them to a Sender. Like the Sender,
// its methods never block and never fail; delivery is best effort.
type Client struct {
	s Sender
}

// NewClient returns a Client sending through s.
func NewClient(s Sender) *Client {
	return &Client{s: s}
}

func (c *Client) send(typ string, payload map[string]any) {
	c.s.Send(protocol.NewEnvelope(typ, payload))
}

func (c *Client) sendScoped(typ string, messageID int, payload map[string]any) {
	c.s.Send(protocol.NewScopedEnvelope(typ, messageID, payload))
}

// SendUserInput submits a new user message.
func (c *Client) SendUserInput(text string) {
	c.send(protocol.TypeUserInput, map[string]any{"user_message": text})
}

// SendParsedUserMessage returns the sentences the UI split a user message into.
func (c *Client) SendParsedUserMessage(messageID int, sentences []Sentence) {
	c.sendScoped(protocol.TypeParsedUserMessage, messageID, map[string]any{"sentences": sentences})
}

// SendParsedAIResponse returns the sentences the UI split an AI response into.
func (c *Client) SendParsedAIResponse(messageID int, sentences []Sentence) {
	c.sendScoped(protocol.TypeParsedAIResponse, messageID, map[string]any{"sentences": sentences})
}

// SendStartSpeechRecognition starts dictation into the input box. text and
// cursor let the backend splice recognized speech into what was typed.
func (c *Client) SendStartSpeechRecognition(text string, cursor int, lang string) {
	c.send(protocol.TypeStartSpeechRecognition, map[string]any{
		"input_text":      text,
		"cursor_position": cursor,
		"language":        lang,
	})
}

// SendUpdateCursorPosition moves the dictation insertion point. text is the
// input box content the recognized speech is spliced into.
func (c *Client) SendUpdateCursorPosition(text string, cursor int) {
	c.send(protocol.TypeUpdateCursorPosition, map[string]any{
		"original_text":   text,
		"cursor_position": cursor,
	})
}

func (c *Client) SendStopSpeechRecognition() {
	c.send(protocol.TypeStopSpeechRecognition, nil)
}

// SendStopResponse interrupts a streaming AI response.
func (c *Client) SendStopResponse() {
	c.send(protocol.TypeStopResponse, nil)
}

func (c *Client) SendDeleteAudioFiles(messageID int) {
	c.sendScoped(protocol.TypeDeleteAudioFiles, messageID, nil)
}

// SendUpdateMessage replaces a message's text after the user edited it.
func (c *Client) SendUpdateMessage(messageID int, rawText string, sentences []Sentence) {
	c.sendScoped(protocol.TypeUpdateMessage, messageID, map[string]any{
		"raw_text":  rawText,
		"sentences": sentences,
	})
}

func (c *Client) SendDeleteMessage(messageID int) {
	c.sendScoped(protocol.TypeDeleteMessage, messageID, nil)
}

func (c *Client) SendUpdateSessionConfig(cfg AIConfig) {
	c.send(protocol.TypeUpdateSessionConfig, map[string]any{"ai_config": cfg})
}

// SendGenerateAudioFiles asks for speech of sentences start through end,
// inclusive.
func (c *Client) SendGenerateAudioFiles(messageID, start, end int) {
	c.sendScoped(protocol.TypeGenerateAudioFiles, messageID, map[string]any{
		"sentence_id_start": start,
		"sentence_id_end":   end,
	})
}

// SendPlayMessage plays a whole message.
func (c *Client) SendPlayMessage(messageID int) {
	c.sendScoped(protocol.TypePlay, messageID, nil)
}

// SendPlayTheSentence plays a single sentence.
func (c *Client) SendPlayTheSentence(messageID, sentenceID int) {
	c.sendScoped(protocol.TypePlayTheSentence, messageID, map[string]any{"sentence_id": sentenceID})
}

// SendPlaySentences plays from sentenceID to the end of the message.
func (c *Client) SendPlaySentences(messageID, sentenceID int) {
	c.sendScoped(protocol.TypePlaySentences, messageID, map[string]any{"sentence_id": sentenceID})
}

func (c *Client) SendPausePlayback() {
	c.send(protocol.TypePause, nil)
}

func (c *Client) SendStopPlayback() {
	c.send(protocol.TypeStop, nil)
}
