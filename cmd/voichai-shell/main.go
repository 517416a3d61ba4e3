package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/omochice/voichai/internal/config"
	"github.com/omochice/voichai/internal/logging"
	"github.com/omochice/voichai/internal/session"
	"github.com/omochice/voichai/internal/shell"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := pflag.StringP("config", "c", "", "Config file (default $VOICHAI_CONFIG)")
	controlURL := pflag.String("control-url", "", "Override backend.control_url")
	logLevel := pflag.String("log-level", "", "Override log.level")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [page-url]\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *controlURL != "" {
		cfg.Backend.ControlURL = *controlURL
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New("voichai-shell", cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	scfg, err := cfg.Session.SessionConfig(&logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid session config")
	}

	desk := &desktop{log: logger.With().Str("component", "desktop").Logger()}
	sh, err := shell.New(shell.Config{
		ControlURL: cfg.Backend.ControlURL,
		PageURL:    cfg.Backend.PageURL,
		Session:    scfg,
	}, desk, desk)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start shell")
	}
	sh.Session().Status().Watch(func(ev session.StateEvent) {
		logger.Info().Str("from", ev.Old.String()).Str("to", ev.New.String()).Msg("control channel")
	})

	if err := sh.OpenWindow(pflag.Arg(0)); err != nil {
		logger.Error().Err(err).Msg("failed to open initial window")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	sh.Close()
	select {
	case <-sh.Done():
	case <-time.After(shutdownTimeout):
		logger.Warn().Dur("timeout", shutdownTimeout).Msg("control channel did not close in time")
	}
	logger.Info().Int("windows", desk.count()).Msg("shell stopped")
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.FromEnv()
}

// desktop stands in for a windowing toolkit. It records windows and the
// current theme and logs every change. Directives arrive on the session
// goroutine.
type desktop struct {
	log zerolog.Logger

	mu      sync.Mutex
	windows []string
	theme   shell.ThemeSource
}

func (d *desktop) OpenWindow(url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.windows = append(d.windows, url)
	d.log.Info().Str("url", url).Int("window", len(d.windows)).Msg("window opened")
	return nil
}

func (d *desktop) SetTheme(theme shell.ThemeSource) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.theme = theme
	d.log.Info().Str("theme", string(theme)).Msg("theme applied")
	return nil
}

func (d *desktop) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.windows)
}
