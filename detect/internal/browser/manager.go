// Package browser owns the Chrome side of detection: launching or attaching
// to a browser, opening stealth tabs, enumerating frames, and recycling the
// process when it ages out or its heap grows past the limit.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// StealthLevel controls the page acquisition mode.
type StealthLevel int

const (
	LevelHTTP     StealthLevel = 0 // no browser, static HTML fetch only
	LevelHeadless StealthLevel = 1 // headless Chrome with stealth pages
	LevelHeadful  StealthLevel = 2 // real window under Xvfb
)

// healthTick is how often the monitor checks uptime and heap usage.
const healthTick = 30 * time.Second

// Config configures the browser manager.
type Config struct {
	// RemoteURL attaches to an already-running Chrome over its DevTools
	// WebSocket. Empty launches a local one.
	RemoteURL string

	// MemoryLimit in bytes; the browser is recycled above it. Default 1GB.
	MemoryLimit int64

	// RecycleInterval caps the lifetime of one Chrome process. Default 4h.
	RecycleInterval time.Duration

	// ResourceBlocking lists resource types to block while pages load
	// (fonts, media, stylesheets). Images are never blocked: they are what
	// we detect.
	ResourceBlocking []string

	// Stealth is the default acquisition mode. Default LevelHeadless.
	Stealth StealthLevel

	// XvfbDisplay for headful mode. Default ":99".
	XvfbDisplay string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one Chrome process (or remote attachment) at a time.
type Manager struct {
	cfg Config

	mu       sync.RWMutex
	browser  *rod.Browser
	launcher *launcher.Launcher
	xvfb     *exec.Cmd
	bootTime time.Time
	closed   bool
}

// NewManager builds a Manager; Start brings the browser up.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start connects to Chrome and begins health monitoring. The returned
// handle stays valid until the next recycle; callers that hold pages open
// across recycles must re-open them.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}

	if err := m.connectLocked(); err != nil {
		return nil, err
	}
	go m.healthLoop(ctx)
	return m.browser, nil
}

// Browser returns the current handle.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Recycle tears Chrome down and brings a fresh one up. Open pages die with
// the old process.
func (m *Manager) Recycle(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("browser: manager is closed")
	}

	m.cfg.Logger.Info("browser: recycling", "uptime", time.Since(m.bootTime))
	m.teardownLocked()
	if err := m.connectLocked(); err != nil {
		return fmt.Errorf("browser: relaunch: %w", err)
	}
	m.cfg.Logger.Info("browser: recycled")
	return nil
}

// Close shuts everything down. The manager cannot be restarted.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.teardownLocked()
	return nil
}

func (m *Manager) connectLocked() error {
	wsURL, err := m.controlURL()
	if err != nil {
		return err
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("browser: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		m.cfg.Logger.Warn("browser: ignore cert errors failed", "error", err)
	}

	m.browser = b
	m.bootTime = time.Now()
	return nil
}

// controlURL attaches to the configured remote Chrome or launches a local
// one with the anti-automation flag set.
func (m *Manager) controlURL() (string, error) {
	if m.cfg.RemoteURL != "" {
		m.cfg.Logger.Info("browser: attaching to remote chrome", "url", m.cfg.RemoteURL)
		return m.cfg.RemoteURL, nil
	}

	if m.cfg.Stealth == LevelHeadful {
		if err := m.startXvfb(); err != nil {
			return "", fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	l := launcher.New().
		Headless(m.cfg.Stealth != LevelHeadful).
		Set("disable-blink-features", "AutomationControlled")
	if m.cfg.Stealth == LevelHeadful {
		l = l.Env("DISPLAY", m.cfg.XvfbDisplay)
	}

	wsURL, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("browser: launch: %w", err)
	}
	m.launcher = l
	m.cfg.Logger.Info("browser: launched chrome", "stealth", m.cfg.Stealth)
	return wsURL, nil
}

func (m *Manager) teardownLocked() {
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.launcher != nil {
		m.launcher.Cleanup()
		m.launcher = nil
	}
	m.stopXvfb()
}

// healthLoop recycles the browser on age or heap pressure until the context
// ends or the manager closes.
func (m *Manager) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.RLock()
		closed, b, booted := m.closed, m.browser, m.bootTime
		m.mu.RUnlock()
		if closed || b == nil {
			return
		}

		reason := ""
		switch {
		case time.Since(booted) > m.cfg.RecycleInterval:
			reason = "age"
		case m.heapOverLimit(b):
			reason = "memory"
		}
		if reason == "" {
			continue
		}

		m.cfg.Logger.Info("browser: recycle triggered", "reason", reason)
		if err := m.Recycle(ctx); err != nil {
			m.cfg.Logger.Error("browser: recycle failed", "error", err)
		}
	}
}

// heapOverLimit samples the JS heap of the first open page as a proxy for
// the process's memory pressure. Sampling failures are not recycle reasons.
func (m *Manager) heapOverLimit(b *rod.Browser) bool {
	pages, err := b.Pages()
	if err != nil || len(pages) == 0 {
		return false
	}

	res, err := pages[0].Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
	if err != nil {
		m.cfg.Logger.Debug("browser: heap sample failed", "error", err)
		return false
	}

	used := int64(res.Value.Int())
	if used > m.cfg.MemoryLimit {
		m.cfg.Logger.Info("browser: heap over limit", "used", used, "limit", m.cfg.MemoryLimit)
		return true
	}
	return false
}
