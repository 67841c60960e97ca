// Package browser connects promptify to the Chromium the user chats in.
//
// The Manager either attaches to a running browser through its DevTools
// URL or launches one with a persistent profile so logins survive
// restarts. Page targets are listed on demand; the session supervisor
// decides which ones to watch.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/promptify/internal/dbopen"
)

// ErrNotStarted is returned before Start succeeded or after Close.
var ErrNotStarted = errors.New("browser: not started")

// Config configures the Manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of a running browser.
	// Empty launches a local one.
	RemoteURL string

	// Bin is the browser executable. Empty lets the launcher find or
	// download one.
	Bin string

	// Headless launches without a window. Default false: the user needs
	// to see the chat pages.
	Headless bool

	// UserDataDir is the launched browser's profile. Default: ~/.promptify/chromium.
	UserDataDir string

	// Stealth opens new pages with go-rod/stealth evasions.
	Stealth bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.UserDataDir == "" {
		c.UserDataDir = "~/.promptify/chromium"
	}
	if dir, err := dbopen.ExpandHome(c.UserDataDir); err == nil {
		c.UserDataDir = dir
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns the browser connection.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewManager returns a Manager. Call Start to connect.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start connects to or launches the browser.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	if m.browser != nil {
		return m.browser, nil
	}

	log := m.cfg.Logger
	wsURL := m.cfg.RemoteURL
	if wsURL != "" {
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(m.cfg.Headless).
			UserDataDir(m.cfg.UserDataDir).
			Leakless(true).
			Set("disable-blink-features", "AutomationControlled")
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		u, err := l.Context(ctx).Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chromium", "url", wsURL, "profile", m.cfg.UserDataDir, "headless", m.cfg.Headless)
	}

	b := rod.New().ControlURL(wsURL).Context(ctx)
	if err := b.Connect(); err != nil {
		m.cleanupLocked()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	m.browser = b
	return b, nil
}

// Browser returns the connected browser, or nil.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Open creates a tab on url.
func (m *Manager) Open(ctx context.Context, url string) (*rod.Page, error) {
	b := m.Browser()
	if b == nil {
		return nil, ErrNotStarted
	}
	var (
		page *rod.Page
		err  error
	)
	if m.cfg.Stealth {
		page, err = stealth.Page(b)
		if err == nil {
			err = page.Context(ctx).Navigate(url)
		}
	} else {
		page, err = b.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: open %s: %w", url, err)
	}
	if err := page.Context(ctx).WaitLoad(); err != nil {
		m.cfg.Logger.Warn("browser: wait load", "url", url, "error", err)
	}
	return page, nil
}

// Close disconnects. A launched browser is killed; a remote one is left
// running since it belongs to the user.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanupLocked()
	return nil
}

func (m *Manager) cleanupLocked() {
	if m.browser != nil {
		if m.lnch != nil {
			m.browser.Close()
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
}
