// Package capture renders the public events page in headless Chromium and
// stores the result as the site's share/preview image.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"momcal/internal/config"
	appLog "momcal/internal/log"
)

// Open Graph preview size.
const (
	DefaultWidth   = 1200
	DefaultHeight  = 630
	DefaultTimeout = 30 * time.Second
)

// ReadySelector is set by the events page once the calendar data has been
// rendered.
const ReadySelector = `[data-ready="true"]`

// Options defines parameters for a share-image capture.
type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/".
	URL string

	// OutputPath is where the PNG is written (0600, atomic replace).
	OutputPath string

	// Width and Height are the viewport dimensions in pixels. If zero,
	// DefaultWidth / DefaultHeight are used.
	Width  int
	Height int

	Timeout time.Duration
}

func (o *Options) normalize() error {
	if o.URL == "" {
		return errors.New("capture: URL is required")
	}
	if o.OutputPath == "" {
		return errors.New("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

// OptionsFromConfig maps the snapshot section of the config.
func OptionsFromConfig(cfg config.SnapshotConfig) Options {
	return Options{
		URL:        cfg.URL,
		OutputPath: cfg.Output,
		Width:      cfg.Width,
		Height:     cfg.Height,
	}
}

// CaptureEventsPNG navigates to opts.URL, waits for ReadySelector and writes
// a viewport-sized PNG screenshot to opts.OutputPath.
func CaptureEventsPNG(parentCtx context.Context, opts Options) error {
	if err := opts.normalize(); err != nil {
		return err
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(opts.Width, opts.Height),
		chromedp.Flag("hide-scrollbars", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, allocOpts...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	start := time.Now()
	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		// Let web fonts and images settle.
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.CaptureScreenshot(&png),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := config.WriteFileAtomic(opts.OutputPath, png, ".momcal-share-*.png"); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}

	appLog.Info("share image captured", "path", opts.OutputPath, "bytes", len(png), "elapsed", time.Since(start).Round(time.Millisecond).String())
	return nil
}
