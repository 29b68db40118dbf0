package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_ValidConfig(t *testing.T) {
	yaml := `
server:
  base_url: "https://support.example.com"
  api_prefix: "/helpdesk"
  timeout: "5s"
  requests_per_second: 2
polling:
  message_check_interval: "10s"
  unread_check_interval: "1m"
bot:
  max_messages: 8
  delay: "2s"
  composing_delay: "500ms"
ui:
  notice_ttl: "3s"
push:
  enabled: true
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.BaseURL != "https://support.example.com" {
		t.Errorf("Server.BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Server.APIPrefix != "/helpdesk" {
		t.Errorf("Server.APIPrefix = %q", cfg.Server.APIPrefix)
	}
	if cfg.Server.Timeout.Std() != 5*time.Second {
		t.Errorf("Server.Timeout = %v, want 5s", cfg.Server.Timeout.Std())
	}
	if cfg.Server.Burst != 1 {
		t.Errorf("Server.Burst = %d, want default 1 when rate limiting", cfg.Server.Burst)
	}
	if cfg.Polling.MessageCheckInterval.Std() != 10*time.Second {
		t.Errorf("MessageCheckInterval = %v", cfg.Polling.MessageCheckInterval.Std())
	}
	if cfg.Polling.UnreadCheckInterval.Std() != time.Minute {
		t.Errorf("UnreadCheckInterval = %v", cfg.Polling.UnreadCheckInterval.Std())
	}
	if cfg.Bot.MaxMessages != 8 {
		t.Errorf("Bot.MaxMessages = %d, want 8", cfg.Bot.MaxMessages)
	}
	if cfg.Bot.ComposingDelay.Std() != 500*time.Millisecond {
		t.Errorf("Bot.ComposingDelay = %v", cfg.Bot.ComposingDelay.Std())
	}
	if cfg.UI.NoticeTTL.Std() != 3*time.Second {
		t.Errorf("UI.NoticeTTL = %v", cfg.UI.NoticeTTL.Std())
	}
	if !cfg.Push.Enabled {
		t.Error("Push.Enabled = false, want true")
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.Server.BaseURL, DefaultBaseURL)
	}
	if cfg.Polling.MessageCheckInterval.Std() != DefaultMessageCheckInterval {
		t.Errorf("MessageCheckInterval = %v", cfg.Polling.MessageCheckInterval.Std())
	}
	if cfg.Polling.UnreadCheckInterval.Std() != DefaultUnreadCheckInterval {
		t.Errorf("UnreadCheckInterval = %v", cfg.Polling.UnreadCheckInterval.Std())
	}
	if cfg.Bot.MaxMessages != DefaultBotMaxMessages {
		t.Errorf("Bot.MaxMessages = %d", cfg.Bot.MaxMessages)
	}
	if cfg.Bot.Delay.Std() != DefaultBotDelay {
		t.Errorf("Bot.Delay = %v", cfg.Bot.Delay.Std())
	}
	if cfg.UI.NoticeTTL.Std() != DefaultNoticeTTL {
		t.Errorf("NoticeTTL = %v", cfg.UI.NoticeTTL.Std())
	}
	if cfg.Push.Enabled {
		t.Error("push should be disabled by default")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad duration",
			yaml:    "polling:\n  message_check_interval: \"soon\"\n",
			wantErr: "invalid duration",
		},
		{
			name:    "negative interval",
			yaml:    "polling:\n  unread_check_interval: \"-1s\"\n",
			wantErr: "unread_check_interval",
		},
		{
			name:    "bad url",
			yaml:    "server:\n  base_url: \"ftp://example.com\"\n",
			wantErr: "base_url",
		},
		{
			name:    "negative bot cap",
			yaml:    "bot:\n  max_messages: -2\n",
			wantErr: "max_messages",
		},
		{
			name:    "not yaml",
			yaml:    "server: [",
			wantErr: "failed to parse config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault failed: %v", err)
	}
	if cfg.Bot.MaxMessages != DefaultBotMaxMessages {
		t.Errorf("expected defaults, got %+v", cfg.Bot)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Server.BaseURL = "https://help.example.org"
	cfg.Bot.MaxMessages = 3
	cfg.Polling.MessageCheckInterval = Duration(15 * time.Second)

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Server.BaseURL != cfg.Server.BaseURL {
		t.Errorf("BaseURL = %q, want %q", loaded.Server.BaseURL, cfg.Server.BaseURL)
	}
	if loaded.Bot.MaxMessages != 3 {
		t.Errorf("Bot.MaxMessages = %d, want 3", loaded.Bot.MaxMessages)
	}
	if loaded.Polling.MessageCheckInterval.Std() != 15*time.Second {
		t.Errorf("MessageCheckInterval = %v, want 15s", loaded.Polling.MessageCheckInterval.Std())
	}
}
