// Package useragent opens authorization pages outside the kiosk process.
package useragent

import (
	"fmt"
	"io"

	"github.com/pkg/browser"
	"golang.org/x/exp/slog"
)

// Browser opens URLs in the system browser.
type Browser struct {
	logger *slog.Logger
}

// NewBrowser creates a new Browser. Output of the launched process is discarded.
func NewBrowser(logger *slog.Logger) *Browser {
	if logger == nil {
		logger = slog.Default()
	}
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
	return &Browser{logger: logger.With(slog.String("component", "useragent"))}
}

// Open launches the system browser at url.
func (b *Browser) Open(url string) error {
	b.logger.Debug("opening browser", slog.String("url", url))
	if err := browser.OpenURL(url); err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	return nil
}

// Printer writes the URL instead of opening it, for headless kiosks.
type Printer struct {
	W io.Writer
}

// Open prints url.
func (p Printer) Open(url string) error {
	_, err := fmt.Fprintf(p.W, "Open this URL to authorize the kiosk:\n  %s\n", url)
	return err
}
