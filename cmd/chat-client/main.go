package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/omochice/voichai/internal/chat"
	"github.com/omochice/voichai/internal/config"
	"github.com/omochice/voichai/internal/logging"
	"github.com/omochice/voichai/internal/session"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "Config file (default $VOICHAI_CONFIG)")
	chatID := pflag.Int("chat", 1, "Chat id to open")
	baseURL := pflag.String("chat-base-url", "", "Override backend.chat_base_url (e.g., ws://localhost:4999/ws/aichat)")
	logLevel := pflag.String("log-level", "", "Override log.level")
	pflag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.Backend.ChatBaseURL = *baseURL
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New("chat-client", cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	scfg, err := cfg.Session.SessionConfig(&logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid session config")
	}

	hub := chat.NewHub(cfg.Backend.ChatBaseURL, scfg)
	defer hub.CloseAll()

	out := newPrinter(os.Stdout)
	missing := make(chan chat.SessionNotExist, 1)
	notifyMissing := func(ev chat.SessionNotExist) {
		select {
		case missing <- ev:
		default:
		}
	}
	conv, err := hub.Open(*chatID, chat.Events{
		StreamResponse:      out.streamResponse,
		SentencePlaying:     out.sentencePlaying,
		MessageUpdated:      out.messageUpdated,
		MessageDeleted:      out.messageDeleted,
		SecondaryResponse:   out.secondaryResponse,
		SessionSuggestions:  out.suggestions,
		SpeechRecognizing:   out.speechRecognizing,
		SpeechStopped:       out.speechStopped,
		SessionMessages:     out.sessionMessages,
		SessionAIConfig:     out.sessionAIConfig,
		SessionNotExist:     notifyMissing,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open chat")
	}
	chat.Events{
		ParseRequest: func(req chat.ParseRequest) { answerParseRequest(conv.Client, req) },
		Logger:       &logger,
	}.Register(conv.Router)
	conv.Session.Status().Watch(func(ev session.StateEvent) {
		out.status(ev.New, ev.Err)
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Error().Err(err).Msg("error reading input")
		}
	}()

	out.status(conv.Session.State(), nil)
	out.printf("Type a message, or /help for commands.\n")

	for {
		select {
		case sig := <-sigChan:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			return
		case ev := <-missing:
			out.problem(fmt.Errorf("chat %d does not exist", ev.SessionID))
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			quit, err := runCommand(conv, out, line)
			if err != nil {
				out.problem(err)
			}
			if quit {
				return
			}
		}
	}
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.FromEnv()
}
