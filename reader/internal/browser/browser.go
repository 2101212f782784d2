// Package browser owns one headless Chrome process and its active document:
// launch, stealth page setup, navigation, script evaluation, and the tab
// handoff when a site action opens a new tab. One Handle per run; the
// engine guarantees Close in a final cleanup step whatever the outcome.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/liseuse/reader/internal/resolver"
)

// Config controls the Chrome lifecycle for one session.
type Config struct {
	// Path of the browser executable. Empty triggers discovery (env
	// override, well-known locations, system lookup).
	Path string `yaml:"path"`
	// Headful runs with a visible window, for debugging against the site.
	Headful bool `yaml:"headful"`
	// NoStealth opens plain pages instead of stealth pages.
	NoStealth bool `yaml:"no_stealth"`

	Logger *slog.Logger `yaml:"-"`
}

// ApplyDefaults fills the zero values.
func (c *Config) ApplyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Handle is one browser process plus one active document. Methods follow
// the active document transparently after AdoptNewTab.
type Handle struct {
	cfg Config

	mu      sync.Mutex
	lnch    *launcher.Launcher
	browser *rod.Browser
	page    *rod.Page
}

// New prepares a Handle. Nothing is launched until Launch.
func New(cfg Config) *Handle {
	cfg.ApplyDefaults()
	return &Handle{cfg: cfg}
}

// Launch starts Chrome and opens the active document as a blank page.
func (h *Handle) Launch(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	path, source := DiscoverExecutable(h.cfg.Path)
	l := launcher.New().
		Headless(!h.cfg.Headful).
		Set("disable-blink-features", "AutomationControlled")
	if path != "" {
		l = l.Bin(path)
	}

	u, err := l.Launch()
	if err != nil {
		return fmt.Errorf("browser: launch: %w", err)
	}
	h.lnch = l
	h.cfg.Logger.Info("browser: launched", "executable", path, "source", source, "headful", h.cfg.Headful)

	b := rod.New().ControlURL(u).Context(ctx)
	if err := b.Connect(); err != nil {
		h.lnch.Cleanup()
		return fmt.Errorf("browser: connect: %w", err)
	}
	h.browser = b

	var page *rod.Page
	if h.cfg.NoStealth {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	} else {
		page, err = stealth.Page(b)
	}
	if err != nil {
		b.Close()
		h.lnch.Cleanup()
		return fmt.Errorf("browser: create page: %w", err)
	}
	h.page = page
	return nil
}

// Navigate loads a URL on the active document with a bounded timeout. A
// slow load is logged and tolerated; only a failed navigation is an error.
func (h *Handle) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	page := h.active()
	if page == nil {
		return fmt.Errorf("browser: no active page")
	}

	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		h.cfg.Logger.Warn("browser: wait load expired", "url", url, "error", err)
	}
	return nil
}

// AwaitNavigation arms a navigation watcher on the active document and
// returns a wait function. The wait returns once a navigation settles or
// the timeout passes; expiry is deliberately not an error, callers re-check
// the page they actually landed on.
func (h *Handle) AwaitNavigation(timeout time.Duration) func() {
	page := h.active()
	if page == nil {
		return func() {}
	}
	return page.Timeout(timeout).WaitNavigation(proto.PageLifecycleEventNameNetworkAlmostIdle)
}

// URL reports the active document's current location.
func (h *Handle) URL() (string, error) {
	page := h.active()
	if page == nil {
		return "", fmt.Errorf("browser: no active page")
	}
	info, err := page.Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.URL, nil
}

// HTML serialises the active document as outer HTML.
func (h *Handle) HTML(ctx context.Context) (string, error) {
	res, err := h.eval(ctx, `() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: get html: %w", err)
	}
	return res, nil
}

// Text returns the visible text of the active document.
func (h *Handle) Text(ctx context.Context) (string, error) {
	res, err := h.eval(ctx, `() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return "", fmt.Errorf("browser: get text: %w", err)
	}
	return res, nil
}

// Title returns the active document's title.
func (h *Handle) Title(ctx context.Context) (string, error) {
	res, err := h.eval(ctx, `() => document.title`)
	if err != nil {
		return "", fmt.Errorf("browser: get title: %w", err)
	}
	return res, nil
}

// Eval runs a script on the active document, discarding its result.
func (h *Handle) Eval(ctx context.Context, js string) error {
	_, err := h.eval(ctx, js)
	return err
}

func (h *Handle) eval(ctx context.Context, js string) (string, error) {
	page := h.active()
	if page == nil {
		return "", fmt.Errorf("browser: no active page")
	}
	res, err := page.Context(ctx).Eval(js)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// ScrollThrough forces lazy content to mount: top, progressively down in
// steps, then back to top.
func (h *Handle) ScrollThrough(ctx context.Context, steps int, pause time.Duration) error {
	if steps < 1 {
		steps = 1
	}
	if err := h.Eval(ctx, `() => window.scrollTo(0, 0)`); err != nil {
		return err
	}
	for i := 1; i <= steps; i++ {
		js := fmt.Sprintf(`() => window.scrollTo(0, document.body.scrollHeight * %d / %d)`, i, steps)
		if err := h.Eval(ctx, js); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
	return h.Eval(ctx, `() => window.scrollTo(0, 0)`)
}

// AdoptNewTab checks whether the site opened a fresh tab and, if so, swaps
// it in as the active document. All later calls use the adopted document.
func (h *Handle) AdoptNewTab(ctx context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.browser == nil {
		return false, fmt.Errorf("browser: not launched")
	}
	pages, err := h.browser.Pages()
	if err != nil {
		return false, fmt.Errorf("browser: list pages: %w", err)
	}

	var adopted *rod.Page
	for _, p := range pages {
		if h.page != nil && p.TargetID == h.page.TargetID {
			continue
		}
		adopted = p // last created target wins
	}
	if adopted == nil {
		return false, nil
	}

	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := adopted.Context(loadCtx).WaitLoad(); err != nil {
		h.cfg.Logger.Warn("browser: adopted tab load wait expired", "error", err)
	}

	old := h.page
	h.page = adopted
	if old != nil {
		old.Close()
	}
	h.cfg.Logger.Info("browser: adopted new tab")
	return true, nil
}

// Close tears the whole process down. Safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.page != nil {
		h.page.Close()
		h.page = nil
	}
	if h.browser != nil {
		h.browser.Close()
		h.browser = nil
	}
	if h.lnch != nil {
		h.lnch.Cleanup()
		h.lnch = nil
	}
	return nil
}

func (h *Handle) active() *rod.Page {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.page
}

// Query returns the first match for a CSS selector without waiting, or nil.
func (h *Handle) Query(selector string) (resolver.Element, error) {
	page := h.active()
	if page == nil {
		return nil, fmt.Errorf("browser: no active page")
	}
	has, el, err := page.Has(selector)
	if err != nil || !has {
		return nil, err
	}
	return &tabElement{el: el}, nil
}

// QueryAll returns every current match for a CSS selector.
func (h *Handle) QueryAll(selector string) ([]resolver.Element, error) {
	page := h.active()
	if page == nil {
		return nil, fmt.Errorf("browser: no active page")
	}
	els, err := page.Elements(selector)
	if err != nil {
		return nil, err
	}
	out := make([]resolver.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &tabElement{el: el})
	}
	return out, nil
}

// QueryByText returns the first match for selector whose visible text
// matches the pattern, case-insensitively, or nil.
func (h *Handle) QueryByText(selector, pattern string) (resolver.Element, error) {
	page := h.active()
	if page == nil {
		return nil, fmt.Errorf("browser: no active page")
	}
	has, el, err := page.HasR(selector, "/"+pattern+"/i")
	if err != nil || !has {
		return nil, err
	}
	return &tabElement{el: el}, nil
}
