package chart

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
)

// Show opens the HTML file at path in a visible Chrome window and blocks until
// the window is closed or ctx is cancelled. It fails only when the browser
// cannot be started or the page cannot be loaded.
func Show(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("chart: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", false),
		chromedp.Flag("hide-scrollbars", false),
		chromedp.WindowSize(1000, 700),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	if err := chromedp.Run(browserCtx, chromedp.Navigate("file://"+filepath.ToSlash(abs))); err != nil {
		return fmt.Errorf("chart: open browser: %w", err)
	}

	// The target context ends when the tab or the browser goes away; a failed
	// probe covers the window being closed without the browser exiting.
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-browserCtx.Done():
			return nil
		case <-tick.C:
			var alive bool
			if err := chromedp.Run(browserCtx, chromedp.Evaluate(`true`, &alive)); err != nil {
				return nil
			}
		}
	}
}
