package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.instaking-chat/config.toml.
type Config struct {
	DefaultProfile string        `toml:"default_profile"`
	Server         ServerConfig  `toml:"server"`
	User           UserConfig    `toml:"user"`
	Chat           ChatConfig    `toml:"chat"`
	Backoff        BackoffConfig `toml:"backoff"`
}

// ServerConfig holds the remote endpoints.
type ServerConfig struct {
	BaseURL   string `toml:"base_url"`
	SocketURL string `toml:"socket_url"`
}

// UserConfig identifies the local user. The API token itself comes from
// the environment, never from this file.
type UserConfig struct {
	ID       int64  `toml:"id"`
	Username string `toml:"username"`
}

// ChatConfig tunes the chat store.
type ChatConfig struct {
	PageSize         int `toml:"page_size"`
	SearchDebounceMS int `toml:"search_debounce_ms"`
	TypingTTLMS      int `toml:"typing_ttl_ms"`
}

// BackoffConfig tunes the realtime reconnect schedule.
type BackoffConfig struct {
	InitialMS  int `toml:"initial_ms"`
	MaxMS      int `toml:"max_ms"`
	MaxRetries int `toml:"max_retries"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Server: ServerConfig{
			BaseURL:   "http://localhost:8080",
			SocketURL: "ws://localhost:8080/ws",
		},
		Chat: ChatConfig{
			PageSize:         50,
			SearchDebounceMS: 200,
			TypingTTLMS:      3000,
		},
		Backoff: BackoffConfig{
			InitialMS:  1000,
			MaxMS:      30000,
			MaxRetries: 10,
		},
	}
}

// SearchDebounce returns the debounce window as a duration.
func (c *Config) SearchDebounce() time.Duration {
	return time.Duration(c.Chat.SearchDebounceMS) * time.Millisecond
}

// TypingTTL returns the typing indicator expiry as a duration.
func (c *Config) TypingTTL() time.Duration {
	return time.Duration(c.Chat.TypingTTLMS) * time.Millisecond
}

// Load reads config from the given path. Returns an error if the file
// is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault reads config from path, falling back to Default when
// the file does not exist.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
