package reader

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/liseuse/reader/internal/resolver"
)

// fakeControl stands in for one page element and records what the flows
// do to it.
type fakeControl struct {
	id      string
	tag     string
	text    string
	value   string
	visible bool
	attrs   map[string]string

	inputs   []string
	clicks   int
	selects  []string
	enters   int
	clickErr error
}

func (c *fakeControl) ID() string             { return c.id }
func (c *fakeControl) Tag() (string, error)   { return c.tag, nil }
func (c *fakeControl) Visible() (bool, error) { return c.visible, nil }
func (c *fakeControl) Text() (string, error)  { return c.text, nil }

func (c *fakeControl) Attribute(name string) (string, error) {
	return c.attrs[name], nil
}

func (c *fakeControl) Value() (string, error) { return c.value, nil }

func (c *fakeControl) Input(text string) error {
	c.value = text
	c.inputs = append(c.inputs, text)
	return nil
}

func (c *fakeControl) Click() error {
	if c.clickErr != nil {
		return c.clickErr
	}
	c.clicks++
	return nil
}

func (c *fakeControl) SelectOption(text string) error {
	c.selects = append(c.selects, text)
	return nil
}

func (c *fakeControl) PressEnter() error {
	c.enters++
	return nil
}

// fakeSurface is an in-memory document: selector lookups come from a hit
// map, candidate scans from an input pool, text searches from a text pool.
// AwaitNavigation's wait applies postSubmitURL, simulating the landing
// page after a form submit.
type fakeSurface struct {
	selectorHits map[string]*fakeControl
	inputPool    []*fakeControl
	textPool     []*fakeControl

	currentURL    string
	postSubmitURL string
	title         string
	html          string
	text          string

	navigated []string
	navErr    error
	launched  bool
	scrolled  bool
	adoptNew  bool
	adopts    int
	closes    int
}

func (f *fakeSurface) Query(selector string) (resolver.Element, error) {
	if el, ok := f.selectorHits[selector]; ok {
		return el, nil
	}
	return nil, nil
}

func (f *fakeSurface) QueryAll(selector string) ([]resolver.Element, error) {
	if strings.HasPrefix(selector, "input:not(") {
		out := make([]resolver.Element, 0, len(f.inputPool))
		for _, el := range f.inputPool {
			out = append(out, el)
		}
		return out, nil
	}
	if el, ok := f.selectorHits[selector]; ok {
		return []resolver.Element{el}, nil
	}
	return nil, nil
}

func (f *fakeSurface) QueryByText(selector, pattern string) (resolver.Element, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	for _, el := range f.textPool {
		if re.MatchString(el.text) {
			return el, nil
		}
	}
	return nil, nil
}

func (f *fakeSurface) Launch(ctx context.Context) error {
	f.launched = true
	return nil
}

func (f *fakeSurface) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	f.navigated = append(f.navigated, url)
	if f.navErr != nil {
		return f.navErr
	}
	f.currentURL = url
	return nil
}

func (f *fakeSurface) AwaitNavigation(timeout time.Duration) func() {
	return func() {
		if f.postSubmitURL != "" {
			f.currentURL = f.postSubmitURL
		}
	}
}

func (f *fakeSurface) URL() (string, error)                      { return f.currentURL, nil }
func (f *fakeSurface) Title(ctx context.Context) (string, error) { return f.title, nil }
func (f *fakeSurface) HTML(ctx context.Context) (string, error)  { return f.html, nil }
func (f *fakeSurface) Text(ctx context.Context) (string, error)  { return f.text, nil }

func (f *fakeSurface) ScrollThrough(ctx context.Context, steps int, pause time.Duration) error {
	f.scrolled = true
	return nil
}

func (f *fakeSurface) AdoptNewTab(ctx context.Context) (bool, error) {
	f.adopts++
	return f.adoptNew, nil
}

func (f *fakeSurface) Close() error {
	f.closes++
	return nil
}

func newTestDriver(f *fakeSurface) *siteDriver {
	return &siteDriver{
		cfg: SiteConfig{
			LoginURL:   "https://reader.example/login",
			AppURL:     "https://reader.example/app",
			BookURL:    "https://reader.example/livro/%s",
			NavTimeout: 50 * time.Millisecond,
			LoginWait:  time.Millisecond,
			SettleWait: time.Millisecond,
			NavBackoff: time.Millisecond,
		},
		page:    f,
		logger:  discardLogger(),
		backoff: time.Millisecond,
	}
}

func TestOpenBookFormatsReference(t *testing.T) {
	f := &fakeSurface{title: "Dom Casmurro"}
	d := newTestDriver(f)

	title, err := d.OpenBook(context.Background(), "123-dom-casmurro")
	if err != nil {
		t.Fatalf("OpenBook: %v", err)
	}
	if title != "Dom Casmurro" {
		t.Fatalf("title = %q", title)
	}
	if len(f.navigated) != 1 || f.navigated[0] != "https://reader.example/livro/123-dom-casmurro" {
		t.Fatalf("navigated = %v", f.navigated)
	}
}

// WHAT: the page-turn outcomes. A missing or disabled control is
// end-of-book, a click failure is transient.
// WHY: end-of-book must stay the success path; only flakiness during an
// actual turn may bubble as an error, and even then a retryable one.
func TestTurnPage(t *testing.T) {
	ctx := context.Background()

	t.Run("no control means end of book", func(t *testing.T) {
		d := newTestDriver(&fakeSurface{})
		res, err := d.TurnPage(ctx)
		if err != nil || res != TurnEndOfBook {
			t.Fatalf("TurnPage = %v, %v", res, err)
		}
	})

	t.Run("disabled control means end of book", func(t *testing.T) {
		next := &fakeControl{id: "el-next", visible: true, attrs: map[string]string{"aria-disabled": "true"}}
		d := newTestDriver(&fakeSurface{
			selectorHits: map[string]*fakeControl{`[aria-label*="próxima" i]`: next},
		})
		res, err := d.TurnPage(ctx)
		if err != nil || res != TurnEndOfBook {
			t.Fatalf("TurnPage = %v, %v", res, err)
		}
		if next.clicks != 0 {
			t.Fatal("disabled control was clicked")
		}
	})

	t.Run("click advances", func(t *testing.T) {
		next := &fakeControl{id: "el-next", visible: true, attrs: map[string]string{}}
		d := newTestDriver(&fakeSurface{
			selectorHits: map[string]*fakeControl{`[aria-label*="próxima" i]`: next},
		})
		res, err := d.TurnPage(ctx)
		if err != nil || res != TurnAdvanced {
			t.Fatalf("TurnPage = %v, %v", res, err)
		}
		if next.clicks != 1 {
			t.Fatalf("clicks = %d", next.clicks)
		}
	})

	t.Run("click failure is transient", func(t *testing.T) {
		next := &fakeControl{id: "el-next", visible: true, attrs: map[string]string{}, clickErr: errors.New("detached")}
		d := newTestDriver(&fakeSurface{
			selectorHits: map[string]*fakeControl{`[aria-label*="próxima" i]`: next},
		})
		_, err := d.TurnPage(ctx)
		var te *TransientInteractionError
		if !errors.As(err, &te) {
			t.Fatalf("err = %v, want TransientInteractionError", err)
		}
	})
}

func TestPageCountReadsVisibleText(t *testing.T) {
	d := newTestDriver(&fakeSurface{text: "Minha estante\nPágina 12 de 240"})
	cur, total, ok := d.PageCount(context.Background())
	if !ok || cur != 12 || total != 240 {
		t.Fatalf("PageCount = %d, %d, %v", cur, total, ok)
	}
}

func TestCatalogScrollsAndScrapes(t *testing.T) {
	f := &fakeSurface{html: `<html><body>
		<section><h2>Lançamentos</h2>
			<a href="/livro/123-dom-casmurro"><img src="/c.jpg" alt="Dom Casmurro"></a>
		</section>
	</body></html>`}
	d := newTestDriver(f)

	cats, err := d.Catalog(context.Background())
	if err != nil {
		t.Fatalf("Catalog: %v", err)
	}
	if !f.scrolled {
		t.Fatal("catalog did not scroll the page")
	}
	if len(cats) != 1 || cats[0].Name != "Lançamentos" || len(cats[0].Books) != 1 {
		t.Fatalf("cats = %+v", cats)
	}
	b := cats[0].Books[0]
	if b.ID != "123" || b.Slug != "123-dom-casmurro" || b.Category != "Lançamentos" {
		t.Fatalf("book = %+v", b)
	}
}

// Navigation retries a bounded number of times and then surfaces a
// NavigationTimeoutError wrapping the last cause.
func TestNavigateRetriesThenFails(t *testing.T) {
	cause := errors.New("net::ERR_CONNECTION_RESET")
	f := &fakeSurface{navErr: cause}
	d := newTestDriver(f)

	err := d.navigate(context.Background(), "https://reader.example/login")
	var nt *NavigationTimeoutError
	if !errors.As(err, &nt) {
		t.Fatalf("err = %v, want NavigationTimeoutError", err)
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause not wrapped")
	}
	if len(f.navigated) != navAttempts {
		t.Fatalf("attempts = %d, want %d", len(f.navigated), navAttempts)
	}
}
