// Package shell routes the backend's control-channel directives to the
// desktop shell's window and theme collaborators.
package shell

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/omochice/voichai/internal/dispatch"
	"github.com/omochice/voichai/internal/session"
	"github.com/omochice/voichai/pkg/protocol"
)

const (
	DefaultControlURL = "ws://localhost:4999/ws/aichat/electron"
	DefaultPageURL    = "http://localhost:3999/"
)

// ThemeSource selects the shell's color scheme.
type ThemeSource string

const (
	ThemeSystem ThemeSource = "system"
	ThemeLight  ThemeSource = "light"
	ThemeDark   ThemeSource = "dark"
)

// themeAuto is the backend's name for ThemeSystem.
const themeAuto = "auto"

// WindowOpener opens a shell window on a page URL.
type WindowOpener interface {
	OpenWindow(url string) error
}

// ThemeSetter applies a theme to every shell window.
type ThemeSetter interface {
	SetTheme(theme ThemeSource) error
}

// Config configures a Shell.
type Config struct {
	// ControlURL is the backend control channel.
	ControlURL string

	// PageURL is opened when a directive names no page.
	PageURL string

	// Session holds the reconnect settings of the control channel. Its URL
	// is replaced by ControlURL.
	Session session.Config
}

// Shell owns the control-channel session and applies its directives.
type Shell struct {
	cfg     Config
	windows WindowOpener
	themes  ThemeSetter
	router  *dispatch.Router
	session *session.Session
	log     zerolog.Logger
}

// New connects the control channel and starts applying directives.
func New(cfg Config, windows WindowOpener, themes ThemeSetter) (*Shell, error) {
	if cfg.ControlURL == "" {
		cfg.ControlURL = DefaultControlURL
	}
	if cfg.PageURL == "" {
		cfg.PageURL = DefaultPageURL
	}

	log := zerolog.Nop()
	if cfg.Session.Logger != nil {
		log = cfg.Session.Logger.With().Str("component", "shell").Logger()
	}

	sh := &Shell{
		cfg:     cfg,
		windows: windows,
		themes:  themes,
		router:  dispatch.NewRouter(cfg.Session.Logger),
		log:     log,
	}
	sh.router.Handle(protocol.TypeNewWindow, sh.handleNewWindow)
	sh.router.Handle(protocol.TypeUpdateTheme, sh.handleUpdateTheme)

	scfg := cfg.Session
	scfg.URL = cfg.ControlURL
	s, err := session.New(scfg, session.HandlerFuncs{
		Open: func() { sh.log.Info().Msg("control channel connected") },
		Message: func(env protocol.Envelope) {
			sh.router.Dispatch(env)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open control channel: %w", err)
	}
	sh.session = s
	return sh, nil
}

// OpenWindow opens url, or the configured page when url is empty.
func (sh *Shell) OpenWindow(url string) error {
	if url == "" {
		url = sh.cfg.PageURL
	}
	if err := sh.windows.OpenWindow(url); err != nil {
		return fmt.Errorf("failed to open window on %s: %w", url, err)
	}
	return nil
}

// Router returns the control-channel router so callers can add handlers
// for further directive types.
func (sh *Shell) Router() *dispatch.Router { return sh.router }

// Session returns the control-channel session.
func (sh *Shell) Session() *session.Session { return sh.session }

// Close closes the control channel.
func (sh *Shell) Close() { sh.session.Close() }

// Done is closed once the control channel has shut down.
func (sh *Shell) Done() <-chan struct{} { return sh.session.Done() }

type newWindowData struct {
	URL string `json:"url"`
}

func (sh *Shell) handleNewWindow(env protocol.Envelope) {
	var d newWindowData
	if err := protocol.DecodeData(env, &d); err != nil {
		sh.log.Warn().Err(err).Msg("ignoring malformed new_window directive")
		return
	}
	if err := sh.OpenWindow(d.URL); err != nil {
		sh.log.Error().Err(err).Msg("new_window directive failed")
	}
}

type updateThemeData struct {
	Theme string `json:"theme"`
}

func (sh *Shell) handleUpdateTheme(env protocol.Envelope) {
	var d updateThemeData
	if err := protocol.DecodeData(env, &d); err != nil || d.Theme == "" {
		sh.log.Warn().Err(err).Interface("data", env.Data).Msg("ignoring malformed update_theme directive")
		return
	}

	theme := ThemeSource(d.Theme)
	if d.Theme == themeAuto {
		theme = ThemeSystem
	}
	if err := sh.themes.SetTheme(theme); err != nil {
		sh.log.Error().Err(err).Str("theme", string(theme)).Msg("update_theme directive failed")
	}
}
