// Package browser loads the monitored page and extracts the text of one
// element from it.
//
// Two drivers are provided: a headless Chrome session driven through the
// DevTools protocol (for pages that render client-side) and a plain HTTP
// fetcher that parses the served HTML. Both satisfy Driver.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pfrederiksen/web-monitor/internal/locator"
)

const (
	KindChrome = "chrome"
	KindHTTP   = "http"
)

// cacheBustParam is appended to every page URL so intermediate caches
// never serve a stale copy.
const cacheBustParam = "_nocache"

// Result is the outcome of one extraction. Found is false when the element
// did not appear before the lookup timed out. That is a normal observation,
// not an error.
type Result struct {
	Text     string
	Found    bool
	URL      string // URL actually requested, including the cache-bust parameter
	Duration time.Duration
}

// Driver loads the page and extracts element text.
type Driver interface {
	// Extract loads the page and returns the trimmed text of the element
	// identified by loc. searchText is used when loc is an auto locator.
	// An error means the page could not be loaded or queried at all.
	Extract(ctx context.Context, loc locator.Locator, searchText string) (Result, error)
	Close() error
}

// Factory creates driver sessions. It is called once at startup and again
// whenever the monitor restarts the session.
type Factory func(ctx context.Context) (Driver, error)

// Options configures a driver.
type Options struct {
	URL             string
	UserAgent       string
	Headless        bool
	ExecPath        string
	PageLoadTimeout time.Duration
	ElementTimeout  time.Duration
	SettleDelay     time.Duration
}

// NewFactory returns a Factory for the named driver kind.
func NewFactory(kind string, opts Options) (Factory, error) {
	switch kind {
	case KindHTTP:
		return func(ctx context.Context) (Driver, error) {
			return NewHTTP(opts), nil
		}, nil
	case KindChrome, "":
		return func(ctx context.Context) (Driver, error) {
			d, err := NewChrome(ctx, opts)
			if err != nil {
				return nil, err
			}
			return d, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown driver: %s", kind)
	}
}

// CacheBust appends a millisecond timestamp query parameter to rawURL.
func CacheBust(rawURL string, now time.Time) string {
	stamp := strconv.FormatInt(now.UnixMilli(), 10)

	u, err := url.Parse(rawURL)
	if err != nil {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		return rawURL + sep + cacheBustParam + "=" + stamp
	}

	q := u.Query()
	q.Set(cacheBustParam, stamp)
	u.RawQuery = q.Encode()
	return u.String()
}

// normalizeText trims the element text and collapses runs of whitespace
// that come from source formatting.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
