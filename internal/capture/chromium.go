// Package capture screenshots the /calendar page with headless Chromium so
// the month can be shared as a PNG or shown on a wall display.
package capture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"famcal/internal/config"
	appLog "famcal/internal/log"
)

// Defaults match the fixed-width layout of the /calendar template.
const (
	DefaultWidth   = 1280
	DefaultHeight  = 960
	DefaultTimeout = 30 * time.Second

	// ReadySelector is present once the page has rendered every cell.
	ReadySelector = `[data-ready="true"]`
)

// Options describes one screenshot.
type Options struct {
	// BaseURL is the running `famcal serve` instance, e.g.
	// "http://127.0.0.1:8080".
	BaseURL string

	// Month selects the page shown ("2024-05"). Empty means the server's
	// current month.
	Month string

	// OutputPath receives the PNG. Parent directories are created.
	OutputPath string

	Width   int
	Height  int
	Timeout time.Duration

	// BasicAuth is sent when the server has basic auth enabled.
	BasicAuth *config.BasicAuthConfig
}

// CalendarURL builds the /calendar address for base and month, embedding
// basic auth credentials when given.
func CalendarURL(base, month string, auth *config.BasicAuthConfig) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", errors.New("capture: base URL is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("capture: invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("capture: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/calendar"
	q := u.Query()
	if month != "" {
		q.Set("month", month)
	}
	u.RawQuery = q.Encode()
	if auth != nil && auth.Username != "" {
		u.User = url.UserPassword(auth.Username, auth.Password)
	}
	return u.String(), nil
}

// CaptureCalendarPNG opens the /calendar page in headless Chromium, waits for
// ReadySelector, and writes a full-page PNG to opts.OutputPath.
func CaptureCalendarPNG(parentCtx context.Context, opts Options) error {
	target, err := CalendarURL(opts.BaseURL, opts.Month, opts.BasicAuth)
	if err != nil {
		return err
	}
	if opts.OutputPath == "" {
		return errors.New("capture: output path is required")
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	appLog.Debug("capturing calendar", "month", opts.Month, "width", opts.Width, "height", opts.Height)

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(target),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		chromedp.FullScreenshot(&png, 100),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if err := config.WriteFileAtomic(opts.OutputPath, png); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	appLog.Info("calendar snapshot written", "path", opts.OutputPath, "bytes", len(png))
	return nil
}
