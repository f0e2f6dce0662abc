// Package fetch retrieves the roster file from the remote document store
// through a real browser session. Document stores behind SSO will not
// serve a plain HTTP client, so the download runs in Chromium with a
// persisted profile: once a user has logged in (headful mode), later
// headless runs reuse the session.
package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"

	appLog "rostercal/internal/log"
)

const defaultTimeout = 120 * time.Second

// Options defines parameters for one roster download.
type Options struct {
	// URL is the direct-download link to the roster file.
	URL string

	// OutputPath is where the downloaded file will be placed, e.g.
	// "./var/roster.csv". The download lands in the same directory
	// first and is renamed into place when complete.
	OutputPath string

	// UserDataDir, if set, persists the browser profile (cookies, SSO
	// session) between runs.
	UserDataDir string

	// Headful shows the browser window so a user can complete a login
	// flow interactively.
	Headful bool

	// Timeout bounds the entire download. If zero, a sane default is
	// used.
	Timeout time.Duration
}

// DownloadRoster navigates a Chromium instance to opts.URL, waits for the
// triggered download to complete, and moves the result to
// opts.OutputPath.
//
// Navigating straight into a file download makes Chromium abort the page
// navigation with net::ERR_ABORTED; that outcome is expected and not an
// error. The real completion signal is the browser's download-progress
// event.
func DownloadRoster(parentCtx context.Context, opts Options) error {
	if opts.URL == "" {
		return fmt.Errorf("fetch: URL is required")
	}
	if opts.OutputPath == "" {
		return fmt.Errorf("fetch: OutputPath is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	downloadDir, err := filepath.Abs(filepath.Dir(opts.OutputPath))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return err
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if opts.Headful {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.UserDataDir != "" {
		if err := os.MkdirAll(opts.UserDataDir, 0o700); err != nil {
			return err
		}
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parentCtx, allocOpts...)
	defer cancelAlloc()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, cancelTimeout := context.WithTimeout(ctx, opts.Timeout)
	defer cancelTimeout()

	done := make(chan string, 1)
	chromedp.ListenTarget(ctx, func(v interface{}) {
		ev, ok := v.(*browser.EventDownloadProgress)
		if !ok {
			return
		}
		switch ev.State {
		case browser.DownloadProgressStateCompleted:
			select {
			case done <- ev.GUID:
			default:
			}
		case browser.DownloadProgressStateCanceled:
			select {
			case done <- "":
			default:
			}
		}
	})

	appLog.Info("roster download start", "url", redactURL(opts.URL), "headful", opts.Headful)

	err = chromedp.Run(ctx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(downloadDir).
			WithEventsEnabled(true),
		chromedp.Navigate(opts.URL),
	)
	if err != nil && !strings.Contains(err.Error(), "net::ERR_ABORTED") {
		return fmt.Errorf("fetch: browser navigation failed: %w", err)
	}

	select {
	case guid := <-done:
		if guid == "" {
			return fmt.Errorf("fetch: download was canceled")
		}
		if err := os.Rename(filepath.Join(downloadDir, guid), opts.OutputPath); err != nil {
			return fmt.Errorf("fetch: move download into place: %w", err)
		}
		appLog.Info("roster download complete", "path", opts.OutputPath)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("fetch: download did not complete (login required or link stale?): %w", ctx.Err())
	}
}

// redactURL hides path and query of the roster URL in logs; the link may
// embed access tokens.
func redactURL(u string) string {
	i := strings.Index(u, "://")
	if i < 0 {
		return "...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		return u[:i+3] + rest[:j] + "/...(redacted)"
	}
	return u
}
