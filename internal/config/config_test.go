package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeConfig(t, `
[backend]
ws_url = "wss://chat.example.test/ws"
api_url = "https://chat.example.test/api"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Chat.PageSize != 30 {
		t.Errorf("page_size = %d, want default 30", cfg.Chat.PageSize)
	}
	if cfg.Timing.Keepalive.Duration != 10*time.Second {
		t.Errorf("keepalive = %v, want 10s", cfg.Timing.Keepalive.Duration)
	}
	if cfg.Queue.Capacity != 128 {
		t.Errorf("queue capacity = %d, want 128", cfg.Queue.Capacity)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
data_dir = "/tmp/chatd-test"

[backend]
ws_url = "wss://chat.example.test/ws"
api_url = "https://chat.example.test/api"

[chat]
page_size = 50

[timing]
keepalive = "15s"
search_debounce = "250ms"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Chat.PageSize != 50 {
		t.Errorf("page_size = %d, want 50", cfg.Chat.PageSize)
	}
	if cfg.Timing.Keepalive.Duration != 15*time.Second {
		t.Errorf("keepalive = %v, want 15s", cfg.Timing.Keepalive.Duration)
	}
	if cfg.Timing.SearchDebounce.Duration != 250*time.Millisecond {
		t.Errorf("search_debounce = %v, want 250ms", cfg.Timing.SearchDebounce.Duration)
	}
	if cfg.DBPath() != "/tmp/chatd-test/chatd.db" {
		t.Errorf("db path = %s", cfg.DBPath())
	}
}

func TestMissingBackendRejected(t *testing.T) {
	path := writeConfig(t, `
[chat]
page_size = 10
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for missing backend URLs")
	}
}

func TestBadDurationRejected(t *testing.T) {
	path := writeConfig(t, `
[backend]
ws_url = "wss://x/ws"
api_url = "https://x/api"

[timing]
keepalive = "soon"
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed duration")
	}
}

func TestReconnectCapBelowBaseRejected(t *testing.T) {
	path := writeConfig(t, `
[backend]
ws_url = "wss://x/ws"
api_url = "https://x/api"

[timing]
reconnect_base = "10s"
reconnect_cap = "5s"
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for cap below base")
	}
}
