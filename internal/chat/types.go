package chat

// Sentence is one speakable unit of a rendered chat message.
type Sentence struct {
	Text       string `json:"text"`
	MessageID  int    `json:"messageId"`
	SentenceID int    `json:"sentenceId"`
	IsHeading  bool   `json:"isHeading,omitempty"`
}

// AIConfig is the per-session model and speech configuration.
type AIConfig struct {
	AIAvatarURL      string   `json:"ai_avatar_url"`
	BaseURL          string   `json:"base_url"`
	APIKey           string   `json:"api_key"`
	Model            string   `json:"model"`
	Temperature      float64  `json:"temperature"`
	MaxTokens        int      `json:"max_tokens"`
	ContextMaxTokens int      `json:"context_max_tokens"`
	MaxMessages      int      `json:"max_messages"`
	Language         string   `json:"language"`
	TTSVoice         string   `json:"tts_voice"`
	AutoPlay         bool     `json:"auto_play"`
	AutoGenTitle     bool     `json:"auto_gen_title"`
	SpeechRate       float64  `json:"speech_rate"`
	Suggestions      []string `json:"suggestions,omitempty"`
}
