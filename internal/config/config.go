// Package config loads the daemon configuration: defaults, then the YAML file,
// then TRADEPOST_* environment variables (optionally seeded from a .env file).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tradepost.ai/internal/logging"
	"tradepost.ai/internal/trade"
)

const (
	DefaultPath = "./configs/tradepost.yaml"
	EnvPrefix   = "TRADEPOST_"
)

const (
	InventorySQLite = "sqlite"
	InventoryMemory = "memory"

	SessionsSnapshot = "snapshot"
	SessionsBadger   = "badger"
	SessionsNone     = "none"
)

type Config struct {
	Trade   TradeConfig    `yaml:"trade" envPrefix:"TRADE_"`
	Storage StorageConfig  `yaml:"storage" envPrefix:"STORAGE_"`
	Server  ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Log     logging.Config `yaml:"log" envPrefix:"LOG_"`
}

type TradeConfig struct {
	TTL               time.Duration `yaml:"ttl" env:"TTL"`
	ReaperInterval    time.Duration `yaml:"reaper_interval" env:"REAPER_INTERVAL"`
	GatewayTimeout    time.Duration `yaml:"gateway_timeout" env:"GATEWAY_TIMEOUT"`
	ReuseActiveOnOpen bool          `yaml:"reuse_active_on_open" env:"REUSE_ACTIVE_ON_OPEN"`
	PersistDebounce   time.Duration `yaml:"persist_debounce" env:"PERSIST_DEBOUNCE"`
}

type StorageConfig struct {
	DataDir   string `yaml:"data_dir" env:"DATA_DIR"`
	Inventory string `yaml:"inventory" env:"INVENTORY"`
	Sessions  string `yaml:"sessions" env:"SESSIONS"`
	// BadgerKey is a hex encryption key for the badger session store.
	BadgerKey string `yaml:"badger_key" env:"BADGER_KEY"`
	// History enables the SQLite history index.
	History bool `yaml:"history" env:"HISTORY"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	AdminAddr string `yaml:"admin_addr" env:"ADMIN_ADDR"`
	// AllowedOrigins lists browser origins accepted by the websocket
	// endpoint; "*" accepts any.
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

func Defaults() Config {
	return Config{
		Trade: TradeConfig{
			TTL:               trade.DefaultTTL,
			ReaperInterval:    trade.DefaultReapInterval,
			GatewayTimeout:    5 * time.Second,
			ReuseActiveOnOpen: true,
			PersistDebounce:   trade.DefaultPersistDebounce,
		},
		Storage: StorageConfig{
			DataDir:   "./data",
			Inventory: InventorySQLite,
			Sessions:  SessionsSnapshot,
			History:   true,
		},
		Server: ServerConfig{
			Addr:      "127.0.0.1:8080",
			AdminAddr: "127.0.0.1:8081",
		},
		Log: logging.Config{Level: "info", Format: "text"},
	}
}

// Load builds the configuration. A missing file at DefaultPath is not an error;
// a missing file anywhere else is.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist) && filepath.Clean(path) == filepath.Clean(DefaultPath):
		case err != nil:
			return cfg, err
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDotEnv seeds the environment from a .env file without overriding
// variables that are already set. A missing file is ignored.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) Normalize() {
	c.Storage.DataDir = strings.TrimSpace(c.Storage.DataDir)
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	c.Storage.Inventory = strings.ToLower(strings.TrimSpace(c.Storage.Inventory))
	if c.Storage.Inventory == "" {
		c.Storage.Inventory = InventorySQLite
	}
	c.Storage.Sessions = strings.ToLower(strings.TrimSpace(c.Storage.Sessions))
	if c.Storage.Sessions == "" {
		c.Storage.Sessions = SessionsSnapshot
	}
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	c.Server.AdminAddr = strings.TrimSpace(c.Server.AdminAddr)
	c.Log.Normalize()
}

func (c Config) Validate() error {
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"trade.ttl", c.Trade.TTL},
		{"trade.reaper_interval", c.Trade.ReaperInterval},
		{"trade.gateway_timeout", c.Trade.GatewayTimeout},
		{"trade.persist_debounce", c.Trade.PersistDebounce},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be > 0, got %s", d.name, d.d)
		}
	}
	switch c.Storage.Inventory {
	case InventorySQLite, InventoryMemory:
	default:
		return fmt.Errorf("storage.inventory: unknown kind %q", c.Storage.Inventory)
	}
	switch c.Storage.Sessions {
	case SessionsSnapshot, SessionsBadger, SessionsNone:
	default:
		return fmt.Errorf("storage.sessions: unknown kind %q", c.Storage.Sessions)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	return nil
}

func (s StorageConfig) InventoryPath() string {
	return filepath.Join(s.DataDir, "inventory.sqlite")
}

func (s StorageConfig) SnapshotPath() string {
	return filepath.Join(s.DataDir, "sessions.snap.zst")
}

func (s StorageConfig) BadgerDir() string {
	return filepath.Join(s.DataDir, "sessions.badger")
}

func (s StorageConfig) HistoryPath() string {
	return filepath.Join(s.DataDir, "index", "history.sqlite")
}
