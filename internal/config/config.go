// Package config handles configuration loading and management for helpdesk.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inercia/helpdesk/internal/fileutil"
)

// Defaults mirror the cadence of the original web widget.
const (
	DefaultBaseURL              = "http://localhost:8000"
	DefaultRequestTimeout       = 30 * time.Second
	DefaultMessageCheckInterval = 30 * time.Second
	DefaultUnreadCheckInterval  = 2 * time.Minute
	DefaultBotMaxMessages       = 7
	DefaultBotDelay             = 1500 * time.Millisecond
	DefaultBotComposingDelay    = 800 * time.Millisecond
	DefaultNoticeTTL            = 10 * time.Second
)

// Duration is a time.Duration that reads and writes Go duration strings in YAML.
type Duration time.Duration

// UnmarshalYAML accepts "30s", "2m" and so on.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ServerConfig describes the support server the client talks to.
type ServerConfig struct {
	// BaseURL is the server address (e.g., "https://support.example.com").
	BaseURL string `yaml:"base_url"`
	// APIPrefix is prepended to every endpoint path (default: empty).
	APIPrefix string `yaml:"api_prefix,omitempty"`
	// Timeout bounds a single HTTP request. A timeout counts as a transport
	// failure and is retried on the next tick.
	Timeout Duration `yaml:"timeout"`
	// RequestsPerSecond limits outgoing requests. Zero disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
	// Burst is the limiter burst size.
	Burst int `yaml:"burst,omitempty"`
}

// PollingConfig holds the two independent poll cadences.
type PollingConfig struct {
	// MessageCheckInterval is the fast "messages newer than marker" check.
	MessageCheckInterval Duration `yaml:"message_check_interval"`
	// UnreadCheckInterval is the coarser unread-count check.
	UnreadCheckInterval Duration `yaml:"unread_check_interval"`
}

// BotConfig configures the scripted greeting sequence.
type BotConfig struct {
	// MaxMessages caps the sequence (indices 1..MaxMessages).
	MaxMessages int `yaml:"max_messages"`
	// Delay separates consecutive scripted messages.
	Delay Duration `yaml:"delay"`
	// ComposingDelay is how long the composing indicator shows before each message.
	ComposingDelay Duration `yaml:"composing_delay"`
}

// UIConfig configures the console surface.
type UIConfig struct {
	// NoticeTTL is how long transient notices stay visible.
	NoticeTTL Duration `yaml:"notice_ttl"`
	// NoColor disables styling.
	NoColor bool `yaml:"no_color,omitempty"`
}

// PushConfig enables websocket nudges on top of polling.
type PushConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Hook is a shell command run when the widget needs the user's attention.
// ${TICKET} and ${EVENT} in Command are replaced before it runs.
type Hook struct {
	Name    string `yaml:"name,omitempty"`
	Command string `yaml:"command"`
}

// HooksConfig holds the notification hooks.
type HooksConfig struct {
	// Unread runs when the unread indicator appears.
	Unread Hook `yaml:"unread,omitempty"`
	// Resolved runs when the active ticket is resolved.
	Resolved Hook `yaml:"resolved,omitempty"`
}

// LogConfig mirrors the logging flags so they can live in the file.
type LogConfig struct {
	Level      string `yaml:"level,omitempty"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	JSON       bool   `yaml:"json,omitempty"`
}

// Config represents the complete helpdesk configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Polling PollingConfig `yaml:"polling"`
	Bot     BotConfig     `yaml:"bot"`
	UI      UIConfig      `yaml:"ui"`
	Push    PushConfig    `yaml:"push"`
	Hooks   HooksConfig   `yaml:"hooks,omitempty"`
	Log     LogConfig     `yaml:"log,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = DefaultBaseURL
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = Duration(DefaultRequestTimeout)
	}
	if cfg.Server.RequestsPerSecond > 0 && cfg.Server.Burst <= 0 {
		cfg.Server.Burst = 1
	}
	if cfg.Polling.MessageCheckInterval == 0 {
		cfg.Polling.MessageCheckInterval = Duration(DefaultMessageCheckInterval)
	}
	if cfg.Polling.UnreadCheckInterval == 0 {
		cfg.Polling.UnreadCheckInterval = Duration(DefaultUnreadCheckInterval)
	}
	if cfg.Bot.MaxMessages == 0 {
		cfg.Bot.MaxMessages = DefaultBotMaxMessages
	}
	if cfg.Bot.Delay == 0 {
		cfg.Bot.Delay = Duration(DefaultBotDelay)
	}
	if cfg.Bot.ComposingDelay == 0 {
		cfg.Bot.ComposingDelay = Duration(DefaultBotComposingDelay)
	}
	if cfg.UI.NoticeTTL == 0 {
		cfg.UI.NoticeTTL = Duration(DefaultNoticeTTL)
	}
}

// Load reads and parses the configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// LoadOrDefault loads path, falling back to defaults when it does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Parse parses YAML configuration data, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if !strings.HasPrefix(c.Server.BaseURL, "http://") && !strings.HasPrefix(c.Server.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("server.base_url must be an http(s) URL, got %q", c.Server.BaseURL))
	}
	if c.Server.Timeout < 0 {
		errs = append(errs, errors.New("server.timeout must not be negative"))
	}
	if c.Server.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("server.requests_per_second must not be negative"))
	}
	if c.Polling.MessageCheckInterval <= 0 {
		errs = append(errs, errors.New("polling.message_check_interval must be positive"))
	}
	if c.Polling.UnreadCheckInterval <= 0 {
		errs = append(errs, errors.New("polling.unread_check_interval must be positive"))
	}
	if c.Bot.MaxMessages < 0 {
		errs = append(errs, errors.New("bot.max_messages must not be negative"))
	}
	if c.Bot.Delay < 0 || c.Bot.ComposingDelay < 0 {
		errs = append(errs, errors.New("bot delays must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Save writes the configuration to path atomically.
func Save(path string, cfg *Config) error {
	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
