package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"

	"github.com/pfrederiksen/web-monitor/internal/locator"
)

// HTTPDriver fetches the page over plain HTTP and queries the served HTML.
// It does not run scripts, so it only suits server-rendered pages.
type HTTPDriver struct {
	client *http.Client
	opts   Options
	now    func() time.Time
}

// NewHTTP creates a new HTTPDriver instance
func NewHTTP(opts Options) *HTTPDriver {
	timeout := opts.PageLoadTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDriver{
		client: &http.Client{
			Timeout: timeout,
		},
		opts: opts,
		now:  time.Now,
	}
}

// Extract fetches the page and extracts the element text
func (d *HTTPDriver) Extract(ctx context.Context, loc locator.Locator, searchText string) (Result, error) {
	start := d.now()
	target := CacheBust(d.opts.URL, start)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Result{}, fmt.Errorf("creating request: %w", err)
	}
	if d.opts.UserAgent != "" {
		req.Header.Set("User-Agent", d.opts.UserAgent)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	res, err := extractHTML(resp.Body, loc, searchText)
	if err != nil {
		return Result{}, err
	}
	res.URL = target
	res.Duration = time.Since(start)
	return res, nil
}

// Close is a no-op; the HTTP driver holds no session.
func (d *HTTPDriver) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

// extractHTML locates the element in an HTML document
func extractHTML(r io.Reader, loc locator.Locator, searchText string) (Result, error) {
	root, err := htmlquery.Parse(r)
	if err != nil {
		return Result{}, fmt.Errorf("parsing HTML: %w", err)
	}

	switch loc.Kind {
	case locator.KindCSS, locator.KindID:
		sel := loc.Value
		if loc.Kind == locator.KindID {
			sel = fmt.Sprintf("[id=%q]", loc.Value)
		}
		if _, err := cascadia.Compile(sel); err != nil {
			return Result{}, fmt.Errorf("invalid CSS selector %q: %w", loc.Raw, err)
		}

		match := goquery.NewDocumentFromNode(root).Find(sel).First()
		if match.Length() == 0 {
			return Result{}, nil
		}
		return Result{Text: normalizeText(match.Text()), Found: true}, nil

	case locator.KindXPath, locator.KindAuto:
		expr := loc.Value
		if loc.Kind == locator.KindAuto {
			if searchText == "" {
				return Result{}, fmt.Errorf("auto locator needs a search text")
			}
			expr = locator.TextSearch(searchText)
		}

		node, err := htmlquery.Query(root, expr)
		if err != nil {
			return Result{}, fmt.Errorf("evaluating xpath %q: %w", expr, err)
		}
		if node == nil {
			return Result{}, nil
		}
		return Result{Text: normalizeText(htmlquery.InnerText(node)), Found: true}, nil

	default:
		return Result{}, fmt.Errorf("unsupported locator kind: %s", loc.Kind)
	}
}
