package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gobwas/ws"
	"github.com/spf13/pflag"

	"github.com/omochice/voichai/internal/clock"
	"github.com/omochice/voichai/internal/config"
	"github.com/omochice/voichai/internal/logging"
	"github.com/omochice/voichai/internal/server"
	"github.com/omochice/voichai/pkg/protocol"
)

const controlSuffix = "/electron"

func main() {
	addr := pflag.StringP("addr", "a", ":4999", "Address to listen on (e.g., :4999)")
	codecName := pflag.String("codec", "json", "Wire codec: json, cbor or proto")
	theme := pflag.String("theme", "auto", "Theme pushed to control channels on connect (empty to skip)")
	chats := pflag.Int("chats", 5, "Chat ids 1..n exist; others are refused")
	logLevel := pflag.String("log-level", "info", "Log level")
	logFormat := pflag.String("log-format", "console", "Log format: console or json")
	pflag.Parse()

	logger, err := logging.New("server", config.Log{Level: *logLevel, Format: *logFormat}, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	codec, err := protocol.LookupCodec(*codecName)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid codec")
	}

	b := newBackend(*chats, clock.Real())
	srv := server.New(*addr, server.Config{
		Codec:  codec,
		Logger: &logger,
		OnConnect: func(c *server.Client) {
			if strings.HasSuffix(c.Path(), controlSuffix) {
				if *theme == "" {
					return
				}
				env := protocol.NewEnvelope(protocol.TypeUpdateTheme, map[string]any{"theme": *theme})
				if err := c.Send(env); err != nil {
					logger.Warn().Err(err).Int64("client", c.ID()).Msg("failed to push theme")
				}
				return
			}

			greeting, ok := b.greet(c.Path())
			for _, env := range greeting {
				if err := c.Send(env); err != nil {
					logger.Warn().Err(err).Int64("client", c.ID()).Str("type", env.Type).Msg("failed to greet")
					return
				}
			}
			if !ok {
				logger.Info().Str("path", c.Path()).Msg("refusing unknown chat")
				c.Close(ws.StatusNormalClosure, "")
			}
		},
		OnMessage: func(c *server.Client, env protocol.Envelope) {
			for _, reply := range b.respond(env) {
				if err := c.Send(reply); err != nil {
					logger.Warn().Err(err).Int64("client", c.ID()).Str("type", reply.Type).Msg("failed to reply")
					return
				}
			}
		},
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", *addr).Str("codec", codec.Name()).Msg("starting dev backend")
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			logger.Fatal().Err(err).Msg("server error")
		}
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		srv.Stop()
	}

	logger.Info().Msg("dev backend stopped")
}
