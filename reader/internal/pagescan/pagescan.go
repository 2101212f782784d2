// Package pagescan analyses captured page content: login failure markers,
// the current/total page counter, and the catalog listing. Everything is a
// pure function over an HTML document or visible-text string, so the
// heuristics stay testable without a browser.
package pagescan

import (
	stdhtml "html"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

var sanitizer = bluemonday.StrictPolicy()

// markerTokens flag an element as an error container when found in its
// class or id.
var markerTokens = []string{"error", "erro", "alert", "alerta", "invalid", "invalido", "inválido", "warning", "danger"}

// failurePhrases are scanned against the full page text, lowercased.
var failurePhrases = []string{
	"dados incorretos",
	"dados inválidos",
	"senha incorreta",
	"senha inválida",
	"usuário ou senha",
	"usuario ou senha",
	"não foi possível entrar",
	"login inválido",
	"credenciais inválidas",
	"invalid credentials",
	"incorrect password",
	"login failed",
}

// LoginFailure scans a login page document for known error markers and
// failure phrases. This is best-effort in both directions: a real failure
// can carry no recognizable text, and error-looking text can be unrelated
// to login. Callers treat a miss as "proceed", never as proof of success.
func LoginFailure(doc string) (marker string, found bool) {
	root, err := html.Parse(strings.NewReader(doc))
	if err == nil {
		var hit string
		var walk func(*html.Node)
		walk = func(n *html.Node) {
			if hit != "" {
				return
			}
			if n.Type == html.ElementNode && isMarkerElement(n) {
				if text := cleanText(collectText(n)); len(text) >= 3 && len(text) <= 200 {
					hit = text
					return
				}
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}
		walk(root)
		if hit != "" {
			return hit, true
		}
	}

	lower := strings.ToLower(doc)
	for _, phrase := range failurePhrases {
		if strings.Contains(lower, phrase) {
			return phrase, true
		}
	}
	return "", false
}

func isMarkerElement(n *html.Node) bool {
	idClass := strings.ToLower(getAttr(n, "class") + " " + getAttr(n, "id"))
	if idClass == " " {
		return false
	}
	for _, tok := range markerTokens {
		if strings.Contains(idClass, tok) {
			return true
		}
	}
	return false
}

var counterRe = regexp.MustCompile(`(\d{1,5})\s*(?:/|de)\s*(\d{1,5})`)

// PageCounter finds a "current/total" or "current de total" pattern in
// visible text and returns the first plausible pair. A miss is normal; the
// engine reads on without a total.
func PageCounter(text string) (current, total int, ok bool) {
	for _, m := range counterRe.FindAllStringSubmatch(text, -1) {
		cur, err1 := strconv.Atoi(m[1])
		tot, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil {
			continue
		}
		if tot <= 0 || tot > 20000 || cur < 0 || cur > tot {
			continue
		}
		return cur, tot, true
	}
	return 0, 0, false
}

// collectText gathers the text nodes under n in document order.
func collectText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// cleanText strips any embedded markup from a scraped string and collapses
// whitespace. Sanitize escapes entities, so unescape restores plain text.
func cleanText(s string) string {
	s = stdhtml.UnescapeString(sanitizer.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
