// Package config loads ledger tooling settings from YAML with LEDGER_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is shared by ledgerctl, chaincheck and the verification server.
type Config struct {
	DataDir  string         `yaml:"data_dir"`
	Backend  string         `yaml:"backend"`
	LogLevel string         `yaml:"log_level"`
	Server   ServerConfig   `yaml:"server"`
	Keystore KeystoreConfig `yaml:"keystore"`
	Journal  JournalConfig  `yaml:"journal"`
}

type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	RateLimit    float64       `yaml:"rate_limit"` // requests per second
	Burst        int           `yaml:"burst"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// KeystoreConfig locates issuer private keys. The passphrase is read from
// LEDGER_KEY_PASSPHRASE only and never from the file.
type KeystoreConfig struct {
	Path       string `yaml:"path"`
	Passphrase string `yaml:"-"`
}

type JournalConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func Default() *Config {
	return &Config{
		DataDir:  "./data",
		Backend:  "file",
		LogLevel: "info",
		Server: ServerConfig{
			ListenAddr:   ":8080",
			RateLimit:    5,
			Burst:        5,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
	}
}

// Load reads path if it exists, applies environment overrides and fills
// derived defaults. An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config load: %w", err)
		default:
			if err := yaml.Unmarshal(data, c); err != nil {
				return nil, fmt.Errorf("config unmarshal: %w", err)
			}
		}
	}
	if err := applyEnvOverrides(c); err != nil {
		return nil, err
	}
	c.fillDerived()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// applyEnvOverrides uses LEDGER_-prefixed variables.
func applyEnvOverrides(c *Config) error {
	if v := os.Getenv("LEDGER_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("LEDGER_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv("LEDGER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LEDGER_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("LEDGER_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid LEDGER_RATE_LIMIT=%q", v)
		}
		c.Server.RateLimit = f
	}
	if v := os.Getenv("LEDGER_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid LEDGER_BURST=%q", v)
		}
		c.Server.Burst = n
	}
	if v := os.Getenv("LEDGER_KEYSTORE_PATH"); v != "" {
		c.Keystore.Path = v
	}
	c.Keystore.Passphrase = os.Getenv("LEDGER_KEY_PASSPHRASE")
	if v := os.Getenv("LEDGER_JOURNAL_PATH"); v != "" {
		c.Journal.Path = v
	}
	if v := os.Getenv("LEDGER_JOURNAL_ENABLED"); v != "" {
		enabled := strings.ToLower(v) == "true" || v == "1"
		c.Journal.Enabled = &enabled
	}
	return nil
}

func (c *Config) fillDerived() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Backend == "" {
		c.Backend = "file"
	}
	if c.Keystore.Path == "" {
		c.Keystore.Path = filepath.Join(c.DataDir, "keys.json")
	}
	if c.Journal.Path == "" {
		c.Journal.Path = filepath.Join(c.DataDir, "journal.jsonl")
	}
	if c.Journal.Enabled == nil {
		enabled := true
		c.Journal.Enabled = &enabled
	}
}

// UseDataDir points the config at dir, moving the key file and journal
// with it.
func (c *Config) UseDataDir(dir string) {
	c.DataDir = dir
	c.Keystore.Path = filepath.Join(dir, "keys.json")
	c.Journal.Path = filepath.Join(dir, "journal.jsonl")
}

func (c *Config) Validate() error {
	switch c.Backend {
	case "file", "badger":
	default:
		return fmt.Errorf("config: backend must be file or badger, got %q", c.Backend)
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("config: server.rate_limit must be positive")
	}
	if c.Server.Burst <= 0 {
		return fmt.Errorf("config: server.burst must be positive")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func (c *Config) JournalEnabled() bool {
	return c.Journal.Enabled == nil || *c.Journal.Enabled
}

// Logger builds a text slog logger at the configured level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("config: unknown log_level %q", s)
	}
}
