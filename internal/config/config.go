package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so it can be written as "10s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Backend holds the messaging backend endpoints.
type Backend struct {
	// WSURL is the multiplexed event channel, e.g. "wss://host/ws".
	WSURL string `toml:"ws_url"`
	// APIURL is the REST base used for identity bootstrap and uploads.
	APIURL string `toml:"api_url"`
}

// Chat holds engine tunables.
type Chat struct {
	PageSize   int `toml:"page_size"`
	MaxTextLen int `toml:"max_text_len"`
}

// Timing holds the protocol timers.
type Timing struct {
	Keepalive      Duration `toml:"keepalive"`
	PongWatchdog   Duration `toml:"pong_watchdog"`
	ReconnectBase  Duration `toml:"reconnect_base"`
	ReconnectCap   Duration `toml:"reconnect_cap"`
	TypingTTL      Duration `toml:"typing_ttl"`
	SearchDebounce Duration `toml:"search_debounce"`
}

// Queue holds outbound queue limits.
type Queue struct {
	Capacity int `toml:"capacity"`
}

// Gateway holds the collaborator-facing listener settings.
type Gateway struct {
	ListenAddr string `toml:"listen_addr"`
}

// Config is the daemon configuration, loaded from TOML.
type Config struct {
	DataDir string  `toml:"data_dir"`
	Backend Backend `toml:"backend"`
	Chat    Chat    `toml:"chat"`
	Timing  Timing  `toml:"timing"`
	Queue   Queue   `toml:"queue"`
	Gateway Gateway `toml:"gateway"`
}

// Default returns a config with every tunable at its default value.
// Backend URLs have no default and must come from the file.
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Chat: Chat{
			PageSize:   30,
			MaxTextLen: 4095,
		},
		Timing: Timing{
			Keepalive:      Duration{10 * time.Second},
			PongWatchdog:   Duration{2 * time.Second},
			ReconnectBase:  Duration{3 * time.Second},
			ReconnectCap:   Duration{60 * time.Second},
			TypingTTL:      Duration{5 * time.Second},
			SearchDebounce: Duration{500 * time.Millisecond},
		},
		Queue: Queue{
			Capacity: 128,
		},
		Gateway: Gateway{
			ListenAddr: "127.0.0.1:7450",
		},
	}
}

// Load reads the config file at path on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and limits.
func (c *Config) Validate() error {
	if c.Backend.WSURL == "" {
		return fmt.Errorf("backend.ws_url is required")
	}
	if c.Backend.APIURL == "" {
		return fmt.Errorf("backend.api_url is required")
	}
	if c.Chat.PageSize <= 0 {
		return fmt.Errorf("chat.page_size must be positive")
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive")
	}
	if c.Timing.ReconnectCap.Duration < c.Timing.ReconnectBase.Duration {
		return fmt.Errorf("timing.reconnect_cap must be >= timing.reconnect_base")
	}
	return nil
}

// DBPath returns the sqlite database path under the data dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "chatd.db")
}

// LockPath returns the single-instance lock file directory.
func (c *Config) LockDir() string {
	return c.DataDir
}

// LogDir returns the log directory under the data dir.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// EnsureDirs creates the data directory tree with owner-only permissions.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.DataDir, c.LogDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

func defaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatd")
}
