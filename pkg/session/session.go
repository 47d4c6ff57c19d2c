// Package session manages the browser-automation resource. A session is
// expensive (a real Chrome process with a scratch profile directory) and
// leaking one is the most damaging failure mode of the whole batch, so
// acquisition retries with forced teardown between attempts and release
// is unconditional and idempotent.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/boxsync/boxsync/internal/utils"
)

var ErrSessionUnavailable = errors.New("browser session unavailable")

const (
	// DefaultMaxAttempts bounds how many times Acquire will try to
	// bring up a working browser before giving up on the target.
	DefaultMaxAttempts = 3
	// DefaultBackoff is the pause between failed attempts.
	DefaultBackoff = 2 * time.Second
	// probeTimeout bounds the liveness probe; a healthy browser loads
	// about:blank near-instantly.
	probeTimeout = 10 * time.Second
)

// Browser is the surface the extractor drives. The chromedp
// implementation lives in chrome.go; tests substitute fakes.
type Browser interface {
	// Navigate loads a URL in the session's tab.
	Navigate(ctx context.Context, url string) error
	// WaitVisible blocks until the CSS selector matches a visible node
	// or the timeout elapses.
	WaitVisible(ctx context.Context, sel string, timeout time.Duration) error
	// OuterHTML returns the outer HTML of the first node matching sel.
	OuterHTML(ctx context.Context, sel string) (string, error)
	// Click clicks the first visible node matching sel.
	Click(ctx context.Context, sel string) error
	// Close tears the browser down, including its native process.
	Close() error
}

// Options configures a single browser launch.
type Options struct {
	Headless bool
	// ProfileDir is a scratch user-data dir owned by the session; the
	// manager deletes it on release.
	ProfileDir string
}

// Launcher constructs browsers. Split out so tests can count launches
// and teardowns without a real Chrome.
type Launcher interface {
	Launch(ctx context.Context, opts Options) (Browser, error)
}

// Manager acquires and releases sessions with bounded retry.
type Manager struct {
	Launcher    Launcher
	MaxAttempts int
	Backoff     time.Duration
}

// NewManager returns a manager backed by a local Chrome.
func NewManager() *Manager {
	return &Manager{
		Launcher:    &chromeLauncher{},
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     DefaultBackoff,
	}
}

// Acquire brings up a browser and probes it before handing it out.
// Construction returning a handle is not enough: a half-started Chrome
// answers the CDP handshake but cannot load pages, so every attempt
// navigates to about:blank first. Failed attempts are fully torn down
// (process killed, profile dir removed) before the next try.
func (m *Manager) Acquire(ctx context.Context, headless bool) (*Session, error) {
	attempts := m.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	backoff := m.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
		}

		profileDir, err := newProfileDir()
		if err != nil {
			return nil, fmt.Errorf("%w: creating profile dir: %v", ErrSessionUnavailable, err)
		}

		browser, err := m.Launcher.Launch(ctx, Options{Headless: headless, ProfileDir: profileDir})
		if err == nil {
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			err = browser.Navigate(probeCtx, "about:blank")
			cancel()
			if err == nil {
				return &Session{browser: browser, profileDir: profileDir}, nil
			}
			err = fmt.Errorf("liveness probe: %w", err)
		}

		lastErr = err
		utils.Log.Warnf("Browser launch attempt %d/%d failed: %v", attempt, attempts, err)

		// Tear down whatever the failed attempt left behind before
		// retrying, so retries never stack orphaned processes.
		if browser != nil {
			if cerr := browser.Close(); cerr != nil {
				utils.Log.Warnf("Error closing failed browser: %v", cerr)
			}
		}
		removeProfileDir(profileDir)

		if attempt < attempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrSessionUnavailable, attempts, lastErr)
}

// Session is one live browser scoped to a single target. Callers must
// defer Release immediately after a successful Acquire.
type Session struct {
	browser    Browser
	profileDir string
	once       sync.Once
}

// Browser exposes the automation surface for the extractor.
func (s *Session) Browser() Browser {
	return s.browser
}

// Release closes the browser and deletes the scratch profile. It is
// idempotent and never returns an error: teardown problems are logged,
// not propagated, so cleanup of one target cannot abort the batch.
func (s *Session) Release() {
	s.once.Do(func() {
		if err := s.browser.Close(); err != nil {
			utils.Log.Warnf("Error closing browser session: %v", err)
		}
		removeProfileDir(s.profileDir)
	})
}
