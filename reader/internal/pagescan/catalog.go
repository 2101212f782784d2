package pagescan

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Book is one catalog entry scraped from the shelf page.
type Book struct {
	ID       string
	Slug     string
	Title    string
	CoverURL string
}

// Category groups books under a shelf heading.
type Category struct {
	Name  string
	Books []Book
}

// FlatCategoryName labels the synthetic category used when the page has
// recognizable books but no recognizable shelf headings.
const FlatCategoryName = "Todos os livros"

// categoryVocab marks a heading as a shelf title when its text contains
// one of these terms.
var categoryVocab = []string{
	"lançamentos",
	"lancamentos",
	"novidades",
	"destaques",
	"mais lidos",
	"mais lidas",
	"recomendados",
	"recomendadas",
	"para você",
	"para voce",
	"continue lendo",
	"em alta",
	"populares",
	"favoritos",
	"categorias",
	"gêneros",
	"generos",
	"biblioteca",
	"minha estante",
}

// Catalog extracts shelf categories and their books from a catalog page.
// When no shelf headings match, it falls back to a flat scan of every
// cover image on the page under a single synthetic category. An empty
// result means the page had nothing recognizable as a book.
func Catalog(doc string) []Category {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil
	}

	var cats []Category
	seenNames := map[string]bool{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && isShelfHeading(n) {
			name := cleanText(collectText(n))
			key := strings.ToLower(name)
			if len(name) >= 3 && len(name) <= 80 && !seenNames[key] {
				books := sectionBooks(sectionRoot(n))
				if len(books) > 0 {
					seenNames[key] = true
					cats = append(cats, Category{Name: name, Books: books})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	if len(cats) == 0 {
		if books := flatBooks(root); len(books) > 0 {
			cats = append(cats, Category{Name: FlatCategoryName, Books: books})
		}
	}
	return cats
}

func isShelfHeading(n *html.Node) bool {
	switch n.Data {
	case "h1", "h2", "h3", "h4":
	default:
		if getAttr(n, "role") != "heading" {
			return false
		}
	}
	text := strings.ToLower(collectText(n))
	for _, term := range categoryVocab {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

// sectionRoot climbs from a heading to the nearest ancestor that holds
// more than the heading text, on the assumption that the shelf's cards
// are its siblings inside that container.
func sectionRoot(heading *html.Node) *html.Node {
	headingText := strings.Join(strings.Fields(collectText(heading)), " ")
	node := heading
	for p := heading.Parent; p != nil && p.Type == html.ElementNode && p.Data != "body"; p = p.Parent {
		node = p
		if strings.Join(strings.Fields(collectText(p)), " ") != headingText {
			break
		}
	}
	return node
}

func sectionBooks(section *html.Node) []Book {
	var books []Book
	seen := map[string]bool{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" && getAttr(n, "href") != "" {
			if b, ok := bookFromCard(n); ok && !seen[b.Slug] {
				seen[b.Slug] = true
				books = append(books, b)
			}
			// The parser never nests anchors, so the card is complete here.
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(section)
	return books
}

// bookFromCard reads one anchor card: cover from the first img, title from
// alt text or aria-label or the link text, slug from the href when it has
// a recognizable book path.
func bookFromCard(anchor *html.Node) (Book, bool) {
	img := firstImage(anchor)
	title := ""
	cover := ""
	if img != nil {
		cover = getAttr(img, "src")
		if cover == "" {
			cover = getAttr(img, "data-src")
		}
		title = cleanText(getAttr(img, "alt"))
	}
	if title == "" {
		title = cleanText(getAttr(anchor, "aria-label"))
	}
	if title == "" {
		title = cleanText(collectText(anchor))
	}
	if len(title) < 2 || len(title) > 120 {
		return Book{}, false
	}

	slug := slugFromHref(getAttr(anchor, "href"))
	if slug == "" {
		slug = slugify(title)
	}
	if slug == "" {
		return Book{}, false
	}
	return Book{ID: bookID(slug), Slug: slug, Title: title, CoverURL: cover}, true
}

// flatBooks scans every image on the page, used when no shelf headings
// were recognized.
func flatBooks(root *html.Node) []Book {
	var books []Book
	seen := map[string]bool{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "img" {
			title := cleanText(getAttr(n, "alt"))
			src := getAttr(n, "src")
			if src == "" {
				src = getAttr(n, "data-src")
			}
			if len(title) >= 2 && len(title) <= 120 && src != "" {
				slug := ""
				if a := enclosingAnchor(n); a != nil {
					slug = slugFromHref(getAttr(a, "href"))
				}
				if slug == "" {
					slug = slugify(title)
				}
				if slug != "" && !seen[slug] {
					seen[slug] = true
					books = append(books, Book{ID: bookID(slug), Slug: slug, Title: title, CoverURL: src})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return books
}

func firstImage(n *html.Node) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "img" {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return found
}

func enclosingAnchor(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == "a" {
			return p
		}
	}
	return nil
}

var bookPathRe = regexp.MustCompile(`(?i)/(?:livros?|books?|leitura|obra)/([A-Za-z0-9._-]+)`)

// slugFromHref pulls the book slug out of hrefs like /livro/123-dom-casmurro
// or /books/dom-casmurro, ignoring query and fragment.
func slugFromHref(href string) string {
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	m := bookPathRe.FindStringSubmatch(href)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// bookID is the leading numeric run of a slug when it has one, otherwise
// the slug itself.
func bookID(slug string) string {
	i := 0
	for i < len(slug) && slug[i] >= '0' && slug[i] <= '9' {
		i++
	}
	if i > 0 {
		return slug[:i]
	}
	return slug
}

var accentFold = strings.NewReplacer(
	"á", "a", "à", "a", "â", "a", "ã", "a", "ä", "a",
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"í", "i", "ì", "i", "î", "i", "ï", "i",
	"ó", "o", "ò", "o", "ô", "o", "õ", "o", "ö", "o",
	"ú", "u", "ù", "u", "û", "u", "ü", "u",
	"ç", "c", "ñ", "n",
)

// slugify turns a title into a URL-safe slug, folding the accents common
// in Portuguese titles.
func slugify(title string) string {
	s := accentFold.Replace(strings.ToLower(title))
	var b strings.Builder
	lastDash := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
