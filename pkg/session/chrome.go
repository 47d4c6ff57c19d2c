package session

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/boxsync/boxsync/internal/utils"
)

// chromeLauncher starts real Chrome processes via chromedp.
type chromeLauncher struct{}

func (chromeLauncher) Launch(ctx context.Context, opts Options) (Browser, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserDataDir(opts.ProfileDir),
	)
	if inContainer() {
		// Chrome's sandbox needs privileges containers usually lack,
		// and /dev/shm is tiny by default.
		allocOpts = append(allocOpts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Force the browser process to start now so construction errors
	// surface here instead of on the first navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("starting chrome: %w", err)
	}

	return &chromeBrowser{
		ctx:           browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

// inContainer detects containerized execution so the launcher can pick
// the right Chrome profile instead of hardcoding one.
func inContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	data, err := os.ReadFile("/proc/1/cgroup")
	if err != nil {
		return false
	}
	s := string(data)
	return strings.Contains(s, "docker") || strings.Contains(s, "kubepods") || strings.Contains(s, "containerd")
}

type chromeBrowser struct {
	ctx           context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

// run executes actions against the browser, honoring the caller's
// deadline on top of the session context.
func (b *chromeBrowser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := b.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(b.ctx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

func (b *chromeBrowser) Navigate(ctx context.Context, url string) error {
	return b.run(ctx, chromedp.Navigate(url))
}

func (b *chromeBrowser) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(b.ctx, timeout)
	defer cancel()
	return chromedp.Run(waitCtx, chromedp.WaitVisible(sel, chromedp.ByQuery))
}

func (b *chromeBrowser) OuterHTML(ctx context.Context, sel string) (string, error) {
	var html string
	err := b.run(ctx, chromedp.OuterHTML(sel, &html, chromedp.ByQuery))
	return html, err
}

func (b *chromeBrowser) Click(ctx context.Context, sel string) error {
	return b.run(ctx, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible))
}

// Close shuts the browser down gracefully (closing open pages) and then
// cancels the allocator, which kills the Chrome process if it is still
// alive. Safe to call more than once.
func (b *chromeBrowser) Close() error {
	// chromedp.Cancel waits for the browser to exit cleanly, unlike the
	// plain context cancel which just severs the connection.
	err := chromedp.Cancel(b.ctx)
	b.browserCancel()
	b.allocCancel()
	return err
}

func newProfileDir() (string, error) {
	return os.MkdirTemp("", "boxsync-profile-")
}

func removeProfileDir(dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		utils.Log.Warnf("Error removing profile dir %s: %v", dir, err)
	}
}
