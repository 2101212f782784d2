// Package resolver locates controls on the live document for semantic
// intents ("the password field", "the next-page control"). The target
// site's markup is not ours and changes without notice, so each intent
// carries an ordered chain of strategies that trade specificity for
// robustness: attribute allow-list first, then a structural scan of
// visible candidates, then free-text matching. The first hit wins; there
// is no scoring and no backtracking once an element is chosen.
package resolver

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNotFound is returned only after every strategy for an intent ran dry.
var ErrNotFound = errors.New("resolver: no element matched")

// Element is one candidate control on the live page.
type Element interface {
	// ID is a handle-stable identity used to exclude already-claimed
	// elements from candidate scans.
	ID() string
	// Tag is the lowercase tag name.
	Tag() (string, error)
	Visible() (bool, error)
	Text() (string, error)
	// Attribute returns "" for absent attributes.
	Attribute(name string) (string, error)
	// Value is the current value property of an input-like element.
	Value() (string, error)
	Input(text string) error
	Click() error
	// SelectOption picks an option on a native select by visible text.
	SelectOption(text string) error
	// PressEnter sends the default activation key to the element.
	PressEnter() error
}

// Page is the minimal live-document surface the resolver queries.
type Page interface {
	// Query returns the first match for a CSS selector, or nil when none.
	Query(selector string) (Element, error)
	// QueryAll returns every match for a CSS selector.
	QueryAll(selector string) ([]Element, error)
	// QueryByText returns the first match for selector whose visible text
	// matches the Go regexp pattern, case-insensitively, or nil.
	QueryByText(selector, pattern string) (Element, error)
}

// Intent names a control one of the flows needs.
type Intent string

const (
	IntentIdentifierField Intent = "identifier field"
	IntentCheckDigitField Intent = "check digit field"
	IntentRegionControl   Intent = "region selector"
	IntentSecretField     Intent = "secret field"
	IntentSubmit          Intent = "submit control"
	IntentNextPage        Intent = "next page control"
	IntentAppEntry        Intent = "reading app entry"
)

// Strategy is one attempt at locating an element: (nil, nil) means no
// match, try the next one. Strategies swallow their own page errors as
// no-match so one flaky probe cannot poison the chain.
type Strategy func(Page, *Query) (Element, error)

// Query carries the per-call context a strategy may consult.
type Query struct {
	// Exclude lists element IDs already claimed by other intents. Candidate
	// scans skip them.
	Exclude []string
	// MustBeEmpty restricts candidate scans to elements whose value is
	// still empty.
	MustBeEmpty bool
}

func (q *Query) excluded(el Element) bool {
	if q == nil {
		return false
	}
	for _, id := range q.Exclude {
		if id != "" && id == el.ID() {
			return true
		}
	}
	return false
}

// plans binds each intent to its ordered strategy chain.
var plans = map[Intent][]Strategy{
	IntentIdentifierField: {
		bySelectors(
			`input[name="ra" i]`,
			`input[id="ra" i]`,
			`input[name*="matricula" i]`,
			`input[name*="login" i]`,
			`input[name*="user" i]`,
			`input[autocomplete="username"]`,
			`input[placeholder*="ra" i]`,
		),
		byEmptyTextInput(),
	},
	IntentCheckDigitField: {
		bySelectors(
			`input[name="dv" i]`,
			`input[id="dv" i]`,
			`input[name*="digito" i]`,
			`input[name*="digit" i]`,
			`input[placeholder*="dígito" i]`,
			`input[maxlength="1"]`,
		),
		byEmptyTextInput(),
	},
	IntentRegionControl: {
		bySelectors(
			`select[name="uf" i]`,
			`select[id="uf" i]`,
			`select[name*="estado" i]`,
			`select`,
		),
		bySelectors(
			`[role="combobox"]`,
			`[class*="select" i][class*="uf" i]`,
		),
		byText(`div, span, button`, `\buf\b|estado`),
	},
	IntentSecretField: {
		// Always by input type; heuristics here would risk typing the
		// secret into a visible field.
		bySelectors(`input[type="password"]`),
	},
	IntentSubmit: {
		byText(`button, input[type="submit"], [role="button"]`, `entrar|acessar|login|continuar|confirmar`),
		bySelectors(`button[type="submit"]`, `input[type="submit"]`),
	},
	IntentNextPage: {
		bySelectors(
			`[aria-label*="próxima" i]`,
			`[aria-label*="proxima" i]`,
			`[aria-label*="next" i]`,
			`[data-testid*="next" i]`,
			`[class*="next-page" i]`,
			`[class*="nextPage"]`,
		),
		byText(`button, a, [role="button"]`, `próxima|proxima|avançar|avancar|next`),
	},
	IntentAppEntry: {
		byText(`a, button, [role="link"], [role="button"]`, `livros|biblioteca|estante|ler agora`),
		bySelectors(`a[href*="livros" i]`, `a[href*="books" i]`),
	},
}

// Resolve runs the intent's strategy chain against the page and returns the
// first hit, or ErrNotFound once all strategies are exhausted.
func Resolve(intent Intent, p Page) (Element, error) {
	return ResolveWith(intent, p, nil)
}

// ResolveWith is Resolve with per-call query context (exclusions, the
// empty-value restriction).
func ResolveWith(intent Intent, p Page, q *Query) (Element, error) {
	plan, ok := plans[intent]
	if !ok {
		return nil, fmt.Errorf("resolver: unknown intent %q", intent)
	}
	for _, strategy := range plan {
		el, err := strategy(p, q)
		if err != nil {
			continue
		}
		if el != nil {
			return el, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, intent)
}

// ByExactText finds the first visible element under selector whose text is
// exactly the given string modulo surrounding whitespace. Used for dynamic
// lookups the static plans cannot express, like a dropdown option carrying
// a region code.
func ByExactText(p Page, selector, text string) (Element, error) {
	pattern := `^\s*` + regexp.QuoteMeta(text) + `\s*$`
	el, err := p.QueryByText(selector, pattern)
	if err != nil || el == nil {
		return nil, fmt.Errorf("%w: text %q", ErrNotFound, text)
	}
	if ok, err := el.Visible(); err != nil || !ok {
		return nil, fmt.Errorf("%w: text %q", ErrNotFound, text)
	}
	return el, nil
}

// IsDisabled reports whether a resolved control is disabled: the disabled
// attribute, aria-disabled, or a class token containing "disabled".
func IsDisabled(el Element) bool {
	if v, err := el.Attribute("disabled"); err == nil && v != "" {
		return true
	}
	if v, err := el.Attribute("aria-disabled"); err == nil && strings.EqualFold(v, "true") {
		return true
	}
	if v, err := el.Attribute("class"); err == nil && strings.Contains(strings.ToLower(v), "disabled") {
		return true
	}
	return false
}

// bySelectors tries each selector of a curated allow-list in order and
// returns the first visible match.
func bySelectors(selectors ...string) Strategy {
	return func(p Page, q *Query) (Element, error) {
		for _, sel := range selectors {
			el, err := p.Query(sel)
			if err != nil || el == nil {
				continue
			}
			if q.excluded(el) {
				continue
			}
			if ok, err := el.Visible(); err != nil || !ok {
				continue
			}
			if q != nil && q.MustBeEmpty {
				if v, err := el.Value(); err != nil || v != "" {
					continue
				}
			}
			return el, nil
		}
		return nil, nil
	}
}

// byEmptyTextInput scans every structurally plausible text input (not a
// password field) and returns the first one that is visible, unclaimed and
// still empty. Visible means a nonzero layout box and not display:none or
// visibility:hidden; the Page implementation owns that check.
func byEmptyTextInput() Strategy {
	return func(p Page, q *Query) (Element, error) {
		candidates, err := p.QueryAll(`input:not([type="password"]):not([type="hidden"]):not([type="checkbox"]):not([type="radio"]):not([type="submit"])`)
		if err != nil {
			return nil, nil
		}
		for _, el := range candidates {
			if q.excluded(el) {
				continue
			}
			if ok, err := el.Visible(); err != nil || !ok {
				continue
			}
			if v, err := el.Value(); err != nil || v != "" {
				continue
			}
			return el, nil
		}
		return nil, nil
	}
}

// byText matches free text against visible text or accessible labels.
func byText(selector, pattern string) Strategy {
	return func(p Page, q *Query) (Element, error) {
		el, err := p.QueryByText(selector, pattern)
		if err != nil || el == nil {
			return nil, nil
		}
		if q.excluded(el) {
			return nil, nil
		}
		if ok, err := el.Visible(); err != nil || !ok {
			return nil, nil
		}
		return el, nil
	}
}
