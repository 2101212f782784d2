package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/liseuse/reader/internal/browser"
	"github.com/hazyhaar/liseuse/reader/internal/pagescan"
	"github.com/hazyhaar/liseuse/reader/internal/resolver"
)

// TurnResult is the outcome of one next-page activation.
type TurnResult int

const (
	// TurnAdvanced means the control was clicked and the page moved on.
	TurnAdvanced TurnResult = iota
	// TurnEndOfBook means no usable next-page control exists anymore. This
	// is the success path for finishing a book, not an error.
	TurnEndOfBook
)

// Driver performs the site interactions behind one run: connect,
// authenticate, open content and advance through it. Implementations own
// one browser session. Close must be idempotent; callers always run it
// during teardown whatever the outcome.
type Driver interface {
	Connect(ctx context.Context) error
	Login(ctx context.Context, identity Identity, secret string) error
	// OpenBook navigates to the book named by reference and reports its
	// title, best-effort.
	OpenBook(ctx context.Context, reference string) (title string, err error)
	// PageCount probes the document for a current/total counter. A miss is
	// normal and not an error.
	PageCount(ctx context.Context) (current, total int, ok bool)
	TurnPage(ctx context.Context) (TurnResult, error)
	// Catalog scrapes the categorized book listing from the application
	// home the login flow landed on.
	Catalog(ctx context.Context) ([]BookCategory, error)
	Close() error
}

// DriverFactory builds a fresh Driver for each run.
type DriverFactory func() (Driver, error)

// Page load retry bounds. The remote site's first paint flakes often
// enough that a single attempt would surface spurious failures.
const (
	navAttempts = 3
	navBackoff  = 2 * time.Second
)

// surface is the slice of the browser session the driver actually touches,
// split out so the flows can run against a fake document in tests.
type surface interface {
	resolver.Page
	Launch(ctx context.Context) error
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	AwaitNavigation(timeout time.Duration) func()
	URL() (string, error)
	Title(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Text(ctx context.Context) (string, error)
	ScrollThrough(ctx context.Context, steps int, pause time.Duration) error
	AdoptNewTab(ctx context.Context) (bool, error)
	Close() error
}

type siteDriver struct {
	cfg     SiteConfig
	page    surface
	logger  *slog.Logger
	backoff time.Duration
}

// NewDriver builds the browser-backed Driver for the configured site.
func NewDriver(cfg Config, logger *slog.Logger) Driver {
	if logger == nil {
		logger = slog.Default()
	}
	bcfg := cfg.Browser
	bcfg.Logger = logger
	backoff := cfg.Site.NavBackoff
	if backoff <= 0 {
		backoff = navBackoff
	}
	return &siteDriver{cfg: cfg.Site, page: browser.New(bcfg), logger: logger, backoff: backoff}
}

func (d *siteDriver) Connect(ctx context.Context) error {
	return d.page.Launch(ctx)
}

func (d *siteDriver) Close() error {
	return d.page.Close()
}

func (d *siteDriver) OpenBook(ctx context.Context, reference string) (string, error) {
	url := fmt.Sprintf(d.cfg.BookURL, reference)
	if err := d.navigate(ctx, url); err != nil {
		return "", err
	}
	// Reader shells mount their UI well after the load event.
	d.settle(ctx)

	title, err := d.page.Title(ctx)
	if err != nil {
		d.logger.Warn("reader: book title unavailable", "error", err)
		return "", nil
	}
	return title, nil
}

func (d *siteDriver) PageCount(ctx context.Context) (current, total int, ok bool) {
	text, err := d.page.Text(ctx)
	if err != nil {
		d.logger.Warn("reader: page text unavailable", "error", err)
		return 0, 0, false
	}
	return pagescan.PageCounter(text)
}

func (d *siteDriver) TurnPage(ctx context.Context) (TurnResult, error) {
	el, err := resolver.Resolve(resolver.IntentNextPage, d.page)
	if errors.Is(err, resolver.ErrNotFound) {
		return TurnEndOfBook, nil
	}
	if err != nil {
		return TurnAdvanced, &TransientInteractionError{Op: "resolve next page control", Cause: err}
	}
	if resolver.IsDisabled(el) {
		return TurnEndOfBook, nil
	}
	if err := el.Click(); err != nil {
		return TurnAdvanced, &TransientInteractionError{Op: "click next page control", Cause: err}
	}
	return TurnAdvanced, nil
}

func (d *siteDriver) Catalog(ctx context.Context) ([]BookCategory, error) {
	// Shelf rows lazy-load; walking the scroll height forces them to mount.
	if err := d.page.ScrollThrough(ctx, catalogScrollSteps, catalogScrollPause); err != nil {
		d.logger.Warn("reader: catalog scroll", "error", err)
	}

	doc, err := d.page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("reader: catalog page: %w", err)
	}

	cats := pagescan.Catalog(doc)
	out := make([]BookCategory, 0, len(cats))
	for _, c := range cats {
		books := make([]AvailableBook, 0, len(c.Books))
		for _, b := range c.Books {
			books = append(books, AvailableBook{
				ID:       b.ID,
				Title:    b.Title,
				CoverURL: b.CoverURL,
				Slug:     b.Slug,
				Category: c.Name,
			})
		}
		out = append(out, BookCategory{Name: c.Name, Books: books})
	}
	return out, nil
}

const (
	catalogScrollSteps = 4
	catalogScrollPause = 500 * time.Millisecond
)

// navigate loads a URL with bounded retries.
func (d *siteDriver) navigate(ctx context.Context, url string) error {
	var lastErr error
	for attempt := 1; attempt <= navAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt-1) * d.backoff):
			}
		}
		if lastErr = d.page.Navigate(ctx, url, d.cfg.NavTimeout); lastErr == nil {
			return nil
		}
		d.logger.Warn("reader: navigation failed", "url", url, "attempt", attempt, "error", lastErr)
	}
	return &NavigationTimeoutError{URL: url, Cause: lastErr}
}

// settle gives the page a beat to run its scripts after a load.
func (d *siteDriver) settle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(d.cfg.SettleWait):
	}
}
