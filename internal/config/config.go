// Package config loads voichai client settings from TOML, YAML or JSON(C)
// files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/omochice/voichai/internal/clock"
	"github.com/omochice/voichai/internal/session"
	"github.com/omochice/voichai/internal/transport/ws"
	"github.com/omochice/voichai/pkg/protocol"
)

// EnvPath names the environment variable holding the config file path.
const EnvPath = "VOICHAI_CONFIG"

// Config is the complete client configuration.
type Config struct {
	Backend Backend `toml:"backend" yaml:"backend" json:"backend"`
	Session Session `toml:"session" yaml:"session" json:"session"`
	Log     Log     `toml:"log" yaml:"log" json:"log"`
}

// Backend locates the voichai backend.
type Backend struct {
	// ControlURL is the shell's control channel.
	ControlURL string `toml:"control_url" yaml:"control_url" json:"control_url"`

	// ChatBaseURL is joined with a chat id to form a chat channel URL.
	ChatBaseURL string `toml:"chat_base_url" yaml:"chat_base_url" json:"chat_base_url"`

	// PageURL is the UI page opened in new windows.
	PageURL string `toml:"page_url" yaml:"page_url" json:"page_url"`
}

// Session holds connection tuning shared by every session.
type Session struct {
	ReconnectDelay Duration `toml:"reconnect_delay" yaml:"reconnect_delay" json:"reconnect_delay"`
	DialTimeout    Duration `toml:"dial_timeout" yaml:"dial_timeout" json:"dial_timeout"`
	WriteTimeout   Duration `toml:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	QueueSize      int      `toml:"queue_size" yaml:"queue_size" json:"queue_size"`
	OutboundBuffer int      `toml:"outbound_buffer" yaml:"outbound_buffer" json:"outbound_buffer"`
	Codec          string   `toml:"codec" yaml:"codec" json:"codec"`
}

// Log configures the root logger.
type Log struct {
	Level  string `toml:"level" yaml:"level" json:"level"`
	Format string `toml:"format" yaml:"format" json:"format"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() Config {
	return Config{
		Backend: Backend{
			ControlURL:  "ws://localhost:4999/ws/aichat/electron",
			ChatBaseURL: "ws://localhost:4999/ws/aichat",
			PageURL:     "http://localhost:3999/",
		},
		Session: Session{
			ReconnectDelay: Duration(session.DefaultReconnectDelay),
			DialTimeout:    Duration(10 * time.Second),
			WriteTimeout:   Duration(session.DefaultWriteTimeout),
			OutboundBuffer: session.DefaultOutboundBuffer,
			Codec:          "json",
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over the defaults. The format follows the extension:
// .toml, .yaml/.yml, .json or .jsonc.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".json", ".jsonc":
		err = json.Unmarshal(jsonc.ToJSON(data), &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv loads the file named by VOICHAI_CONFIG, or returns the defaults
// when it is unset.
func FromEnv() (Config, error) {
	path := os.Getenv(EnvPath)
	if path == "" {
		return Defaults(), nil
	}
	return Load(path)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error

	if err := checkURL(c.Backend.ControlURL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("backend.control_url: %w", err))
	}
	if err := checkURL(c.Backend.ChatBaseURL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("backend.chat_base_url: %w", err))
	}
	if err := checkURL(c.Backend.PageURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("backend.page_url: %w", err))
	}

	if c.Session.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("session.reconnect_delay: must be positive"))
	}
	if c.Session.DialTimeout < 0 {
		errs = append(errs, errors.New("session.dial_timeout: must not be negative"))
	}
	if c.Session.WriteTimeout < 0 {
		errs = append(errs, errors.New("session.write_timeout: must not be negative"))
	}
	if c.Session.QueueSize < 0 {
		errs = append(errs, errors.New("session.queue_size: must not be negative"))
	}
	if c.Session.OutboundBuffer <= 0 {
		errs = append(errs, errors.New("session.outbound_buffer: must be positive"))
	}
	if _, err := protocol.LookupCodec(c.Session.Codec); err != nil {
		errs = append(errs, fmt.Errorf("session.codec: %w", err))
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q is not a %s URL", raw, strings.Join(schemes, " or "))
}

// SessionConfig builds the session settings for a connection. The URL is
// left for the caller to fill in.
func (s Session) SessionConfig(logger *zerolog.Logger) (session.Config, error) {
	codec, err := protocol.LookupCodec(s.Codec)
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		ReconnectDelay: time.Duration(s.ReconnectDelay),
		WriteTimeout:   time.Duration(s.WriteTimeout),
		QueueSize:      s.QueueSize,
		OutboundBuffer: s.OutboundBuffer,
		Codec:          codec,
		Dialer: ws.Dialer{
			Timeout: time.Duration(s.DialTimeout),
			Binary:  codec.Binary(),
		},
		Clock:  clock.Real(),
		Logger: logger,
	}, nil
}
