package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/omochice/voichai/internal/chat"
	"github.com/omochice/voichai/internal/session"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	waitStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	aiStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#60A5FA"))
)

// printer writes chat events to the terminal. Event callbacks arrive on the
// session goroutine while commands print from main.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func stateStyle(state session.State) lipgloss.Style {
	switch state {
	case session.StateOpen:
		return okStyle
	case session.StateConnecting, session.StateClosing:
		return waitStyle
	case session.StateError:
		return errorStyle
	default:
		return dimStyle
	}
}

func (p *printer) status(state session.State, err error) {
	line := stateStyle(state).Render("● " + state.String())
	if err != nil {
		line += " " + dimStyle.Render(err.Error())
	}
	p.printf("%s\n", line)
}

func (p *printer) problem(err error) {
	p.printf("%s\n", errorStyle.Render(err.Error()))
}

func (p *printer) streamResponse(ev chat.StreamResponse) {
	if ev.IsChatError {
		p.printf("%s\n", errorStyle.Render(fmt.Sprintf("[%d] %s", ev.MessageID, ev.Response)))
		return
	}
	if ev.IsStreaming {
		return
	}
	p.printf("%s %s\n", aiStyle.Render(fmt.Sprintf("[%d]", ev.MessageID)), ev.Response)
}

func (p *printer) sentencePlaying(ev chat.SentencePlaying) {
	p.printf("%s\n", dimStyle.Render(fmt.Sprintf("♪ message %d sentence %d", ev.MessageID, ev.SentenceID)))
}

func (p *printer) messageUpdated(ev chat.MessageUpdated) {
	p.printf("%s %s\n", dimStyle.Render(fmt.Sprintf("[%d] edited:", ev.MessageID)), ev.RawText)
}

func (p *printer) messageDeleted(ev chat.MessageDeleted) {
	p.printf("%s\n", dimStyle.Render(fmt.Sprintf("[%d] deleted", ev.MessageID)))
}

func (p *printer) secondaryResponse(ev chat.SecondaryResponse) {
	p.printf("%s %s\n", dimStyle.Render(fmt.Sprintf("[%d] ›", ev.MessageID)), ev.SecondaryResponse)
}

func (p *printer) suggestions(ev chat.SessionSuggestions) {
	if len(ev.Suggestions) == 0 {
		return
	}
	p.printf("%s %s\n", dimStyle.Render("suggestions:"), strings.Join(ev.Suggestions, " | "))
}

func (p *printer) speechRecognizing(ev chat.SpeechRecognizing) {
	p.printf("%s %s\n", dimStyle.Render("dictation:"), ev.Text)
}

func (p *printer) speechStopped(chat.SpeechRecognitionStopped) {
	p.printf("%s\n", dimStyle.Render("dictation stopped"))
}

func (p *printer) sessionMessages(ev chat.SessionMessages) {
	for _, m := range ev.Messages {
		style := dimStyle
		if m.Role == "assistant" {
			style = aiStyle
		}
		p.printf("%s %s\n", style.Render(fmt.Sprintf("[%d] %s:", m.ID, m.Role)), m.RawText)
	}
}

func (p *printer) sessionAIConfig(ev chat.SessionAIConfig) {
	p.printf("%s\n", dimStyle.Render(fmt.Sprintf("model %s, language %s", ev.AIConfig.Model, ev.AIConfig.Language)))
}
