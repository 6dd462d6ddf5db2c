package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/pfrederiksen/web-monitor/internal/locator"
	"github.com/pfrederiksen/web-monitor/internal/logger"
)

const (
	clearStorageJS = `try { window.localStorage.clear(); window.sessionStorage.clear(); } catch (e) {}`
	clearCachesJS  = `if ('caches' in window) { caches.keys().then(function (names) { for (const n of names) caches.delete(n); }); }`
	readyStateJS   = `document.readyState === 'complete'`

	readyWaitTimeout = 5 * time.Second
	readyPollEvery   = 100 * time.Millisecond
)

// ChromeDriver drives a headless Chrome session.
type ChromeDriver struct {
	opts Options

	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewChrome starts a Chrome process and opens a tab. The session outlives
// ctx; it ends when Close is called.
func NewChrome(ctx context.Context, opts Options) (*ChromeDriver, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.Flag("disable-application-cache", true),
		chromedp.Flag("disable-cache", true),
		chromedp.Flag("aggressive-cache-discard", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, v ...interface{}) {
			logger.Debug("chrome: "+fmt.Sprintf(format, v...), nil)
		}),
	)

	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()

	select {
	case err := <-started:
		if err != nil {
			cancel()
			allocCancel()
			return nil, fmt.Errorf("starting chrome: %w", err)
		}
	case <-ctx.Done():
		cancel()
		allocCancel()
		return nil, fmt.Errorf("starting chrome: %w", ctx.Err())
	}

	logger.Info("Chrome session started", logger.Fields{"headless": opts.Headless})

	return &ChromeDriver{
		opts:        opts,
		allocCancel: allocCancel,
		ctx:         tabCtx,
		cancel:      cancel,
	}, nil
}

// Extract reloads the page with fresh cookies and storage, waits for it to
// settle and reads the element's rendered text.
func (d *ChromeDriver) Extract(ctx context.Context, loc locator.Locator, searchText string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	start := time.Now()
	target := CacheBust(d.opts.URL, start)

	runCtx, cancel := context.WithCancel(d.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, network.ClearBrowserCookies()); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		// A dead tab fails here first.
		if d.ctx.Err() != nil {
			return Result{}, fmt.Errorf("chrome session closed: %w", d.ctx.Err())
		}
		logger.Debug("Could not clear cookies", logger.Fields{"error": err.Error()})
	}
	if err := chromedp.Run(runCtx, chromedp.Evaluate(clearStorageJS, nil)); err != nil {
		logger.Debug("Could not clear storage", logger.Fields{"error": err.Error()})
	}

	loadCtx, loadCancel := context.WithTimeout(runCtx, d.opts.PageLoadTimeout)
	err := chromedp.Run(loadCtx, chromedp.Navigate(target))
	loadCancel()
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return Result{}, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		// The page may have partially rendered; keep going.
		logger.Warn("Page load timed out, continuing", logger.Fields{"timeout": d.opts.PageLoadTimeout.String()})
	default:
		return Result{}, fmt.Errorf("loading page: %w", err)
	}

	if err := chromedp.Run(runCtx, chromedp.Evaluate(clearCachesJS, nil)); err != nil {
		logger.Debug("Could not clear cache storage", logger.Fields{"error": err.Error()})
	}

	if err := sleepCtx(ctx, d.opts.SettleDelay); err != nil {
		return Result{}, err
	}
	if !d.waitReady(runCtx) {
		logger.Warn("Page still loading, continuing", nil)
	}

	sel, by := queryFor(loc, searchText)
	if sel == "" {
		return Result{}, fmt.Errorf("auto locator needs a search text")
	}

	var text string
	findCtx, findCancel := context.WithTimeout(runCtx, d.opts.ElementTimeout)
	err = chromedp.Run(findCtx, chromedp.Text(sel, &text, queryOption(by), chromedp.NodeReady))
	findCancel()

	res := Result{URL: target, Duration: time.Since(start)}
	switch {
	case err == nil:
		res.Text = strings.TrimSpace(text)
		res.Found = true
		return res, nil
	case ctx.Err() != nil:
		return Result{}, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("Element not found (timeout)", logger.Fields{"selector": loc.String()})
		return res, nil
	default:
		return Result{}, fmt.Errorf("reading element text: %w", err)
	}
}

// Close ends the browser session.
func (d *ChromeDriver) Close() error {
	err := chromedp.Cancel(d.ctx)
	d.cancel()
	d.allocCancel()
	return err
}

func (d *ChromeDriver) waitReady(ctx context.Context) bool {
	deadline := time.Now().Add(readyWaitTimeout)
	for time.Now().Before(deadline) {
		var ready bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(readyStateJS, &ready)); err == nil && ready {
			return true
		}
		if err := sleepCtx(ctx, readyPollEvery); err != nil {
			return false
		}
	}
	return false
}

// Query strategies understood by queryOption.
const (
	byXPath = "xpath"
	byID    = "id"
	byCSS   = "css"
)

// queryFor maps a locator to the selector and strategy used against the DOM.
func queryFor(loc locator.Locator, searchText string) (string, string) {
	switch loc.Kind {
	case locator.KindXPath:
		return loc.Value, byXPath
	case locator.KindID:
		return loc.Value, byID
	case locator.KindAuto:
		if searchText == "" {
			return "", byXPath
		}
		return locator.TextSearch(searchText), byXPath
	default:
		return loc.Value, byCSS
	}
}

func queryOption(by string) chromedp.QueryOption {
	switch by {
	case byXPath:
		return chromedp.BySearch
	case byID:
		return chromedp.ByID
	default:
		return chromedp.ByQuery
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
