// Package config loads the promptify YAML configuration.
//
// Every field is optional; LoadFile and Default fill the gaps so callers
// never check for zero values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/promptify/internal/dbopen"
	"github.com/hazyhaar/promptify/platform"
)

// DefaultPath is where the CLI looks when --config is not given.
const DefaultPath = "~/.promptify/config.yaml"

// Config is the top-level configuration.
type Config struct {
	Browser     BrowserConfig         `yaml:"browser"`
	Locator     LocatorConfig         `yaml:"locator"`
	Watcher     WatcherConfig         `yaml:"watcher"`
	Relay       RelayConfig           `yaml:"relay"`
	Store       StoreConfig           `yaml:"store"`
	Server      ServerConfig          `yaml:"server"`
	Confirm     ConfirmConfig         `yaml:"confirm"`
	Descriptors []platform.Descriptor `yaml:"descriptors"`
}

// BrowserConfig controls how Chromium is reached.
type BrowserConfig struct {
	Remote      string        `yaml:"remote"`
	Bin         string        `yaml:"bin"`
	Headless    bool          `yaml:"headless"`
	UserDataDir string        `yaml:"user_data_dir"`
	Stealth     bool          `yaml:"stealth"`
	ScanEvery   time.Duration `yaml:"scan_interval"`
	// Open lists URLs to open at start-up.
	Open []string `yaml:"open"`
}

// LocatorConfig bounds the shadow DOM walk.
type LocatorConfig struct {
	// MaxShadowDepth: nil means 2, negative disables the walk.
	MaxShadowDepth *int     `yaml:"max_shadow_depth"`
	ShadowHosts    []string `yaml:"shadow_hosts"`
}

// WatcherConfig controls mutation batching.
type WatcherConfig struct {
	Window    time.Duration `yaml:"window"`
	MaxBuffer int           `yaml:"max_buffer"`
}

// RelayConfig controls the rewriting request.
type RelayConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path"`
	// HistoryRetention prunes refine events older than this. Zero keeps them.
	HistoryRetention time.Duration `yaml:"history_retention"`
}

// ServerConfig controls the local control API.
type ServerConfig struct {
	Addr     string `yaml:"addr"`
	Disabled bool   `yaml:"disabled"`
}

// ConfirmConfig picks where the rewrite is confirmed: "page" renders a
// modal in the tab, "terminal" opens an editor in the daemon's terminal.
type ConfirmConfig struct {
	Mode string `yaml:"mode"`
}

// Confirmation modes.
const (
	ConfirmPage     = "page"
	ConfirmTerminal = "terminal"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Decode parses YAML from r. Unknown keys are an error.
func Decode(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads path. A missing file yields Default when optional is set.
func LoadFile(path string, optional bool) (*Config, error) {
	full, err := dbopen.ExpandHome(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Decode(bytes.NewReader(data))
}

// Validate checks values defaults cannot fix.
func (c *Config) Validate() error {
	switch c.Confirm.Mode {
	case ConfirmPage, ConfirmTerminal:
	default:
		return fmt.Errorf("config: confirm.mode %q: want %q or %q", c.Confirm.Mode, ConfirmPage, ConfirmTerminal)
	}
	if c.Watcher.MaxBuffer < 1 {
		return fmt.Errorf("config: watcher.max_buffer must be positive")
	}
	return nil
}

// ShadowDepth returns the configured locator bound.
func (c *Config) ShadowDepth() int {
	if c.Locator.MaxShadowDepth == nil {
		return 2
	}
	return *c.Locator.MaxShadowDepth
}

func (c *Config) applyDefaults() {
	if c.Browser.UserDataDir == "" {
		c.Browser.UserDataDir = "~/.promptify/chromium"
	}
	if c.Browser.ScanEvery <= 0 {
		c.Browser.ScanEvery = 2 * time.Second
	}
	if c.Watcher.Window <= 0 {
		c.Watcher.Window = 100 * time.Millisecond
	}
	if c.Watcher.MaxBuffer == 0 {
		c.Watcher.MaxBuffer = 500
	}
	if c.Relay.Timeout <= 0 {
		c.Relay.Timeout = 30 * time.Second
	}
	if c.Store.Path == "" {
		c.Store.Path = "~/.promptify/promptify.db"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:7766"
	}
	if c.Confirm.Mode == "" {
		c.Confirm.Mode = ConfirmPage
	}
}
