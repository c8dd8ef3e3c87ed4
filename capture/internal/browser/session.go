// CLAUDE:SUMMARY Launches (or connects to) one Chrome instance for the lifetime of a capture worker and opens tabs on it.
// Package browser owns the Chrome instance of a capture worker: launch a
// local headless Chrome via the rod launcher (or connect to a remote
// DevTools endpoint), open tabs with optional stealth and resource blocking,
// and tear everything down when the worker is done.
//
// One Session lives exactly as long as one worker process. There is no
// recycling: the worker process itself is the unit that gets thrown away.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const profileDir = "chrome"

// Config configures a Session.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string `yaml:"remote"`

	// Bin is the Chrome binary. Empty = let the launcher find or download one.
	Bin string `yaml:"bin"`

	// NoSandbox disables Chrome's own sandbox (needed when running as root
	// in containers).
	NoSandbox bool `yaml:"no_sandbox"`

	// Stealth applies go-rod/stealth evasions to every tab.
	Stealth bool `yaml:"stealth"`

	// ResourceBlocking lists resource types to block (images, fonts, media, stylesheets).
	ResourceBlocking []string `yaml:"resource_blocking"`

	// WorkDir, when set, holds the Chrome profile (WorkDir/chrome). The
	// worker sets it to its request directory, which the parent removes on
	// every outcome, including a kill on timeout.
	WorkDir string `yaml:"-"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Session is a connected browser.
type Session struct {
	cfg     Config
	browser *rod.Browser
	lnch    *launcher.Launcher
	routers []*rod.HijackRouter
}

// Launch starts Chrome (or connects to a remote instance). The ctx bounds
// the launch and every later CDP call made through the session.
func Launch(ctx context.Context, cfg Config) (*Session, error) {
	cfg.defaults()
	log := cfg.Logger
	s := &Session{cfg: cfg}

	wsURL := cfg.RemoteURL
	if wsURL != "" {
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := newLauncher(ctx, cfg)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		s.lnch = l
		log.Debug("browser: launched local chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL).Context(ctx)
	if err := b.Connect(); err != nil {
		s.cleanupLauncher()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	s.browser = b

	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("browser: ignore cert errors failed", "error", err)
	}
	return s, nil
}

// newLauncher builds the local Chrome launcher. Chrome runs in its own
// process group, so leakless is what kills it if the worker dies first.
func newLauncher(ctx context.Context, cfg Config) *launcher.Launcher {
	l := launcher.New().Context(ctx).Headless(true).Leakless(true)
	if cfg.WorkDir != "" {
		l = l.UserDataDir(filepath.Join(cfg.WorkDir, profileDir))
	}
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}
	if cfg.NoSandbox {
		l = l.NoSandbox(true)
	}
	// Anti-detection flag.
	return l.Set("disable-blink-features", "AutomationControlled")
}

// NewPage opens a blank tab with stealth and resource blocking applied.
func (s *Session) NewPage() (*rod.Page, error) {
	var (
		page *rod.Page
		err  error
	)
	if s.cfg.Stealth {
		page, err = stealth.Page(s.browser)
	} else {
		page, err = s.browser.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if len(s.cfg.ResourceBlocking) > 0 {
		s.routers = append(s.routers, applyResourceBlocking(page, s.cfg.ResourceBlocking))
	}
	return page, nil
}

// Close disconnects from Chrome and, for a local instance, kills it and
// removes its user-data directory.
func (s *Session) Close() error {
	for _, r := range s.routers {
		r.Stop()
	}
	s.routers = nil

	var err error
	if s.browser != nil {
		if s.lnch != nil {
			err = s.browser.Close()
		}
		s.browser = nil
	}
	s.cleanupLauncher()
	return err
}

func (s *Session) cleanupLauncher() {
	if s.lnch != nil {
		s.lnch.Kill()
		s.lnch.Cleanup()
		s.lnch = nil
	}
}
