// Package page holds the in-memory view of a listing page: the HTML the
// authority rendered, mutated in place as auctions close and listings sync.
package page

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var ErrNoPageTemplate = errors.New("page template is not present on the body element")

// Document is a mutex-guarded goquery document. Callers never hold a
// *goquery.Selection outside of Read/Update.
type Document struct {
	mu  sync.Mutex
	doc *goquery.Document
}

func New(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{doc: doc}, nil
}

func NewFromString(s string) (*Document, error) {
	return New(strings.NewReader(s))
}

// Reset swaps the whole document, the equivalent of a full page load. Every
// node of the previous tree becomes detached.
func (d *Document) Reset(r io.Reader) error {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}

	d.mu.Lock()
	d.doc = doc
	d.mu.Unlock()
	return nil
}

// Read runs fn with shared access to the tree. fn must not mutate it.
func (d *Document) Read(fn func(doc *goquery.Document)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.doc)
}

// Update runs fn with exclusive access to the tree.
func (d *Document) Update(fn func(doc *goquery.Document)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.doc)
}

func (d *Document) HTML() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var buf bytes.Buffer
	for _, n := range d.doc.Nodes {
		if err := html.Render(&buf, n); err != nil {
			return "", fmt.Errorf("render document: %w", err)
		}
	}
	return buf.String(), nil
}

// InnerHTML returns the inner markup of the first match of selector, and
// whether anything matched.
func (d *Document) InnerHTML(selector string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sel := d.doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	out, err := sel.Html()
	if err != nil {
		return "", false
	}
	return out, true
}

// Count returns the number of elements matching selector.
func (d *Document) Count(selector string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Find(selector).Length()
}

// PageTemplate resolves the template identity from the body's
// page-template-<name> class.
func (d *Document) PageTemplate() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	classes := strings.Fields(d.doc.Find("body").AttrOr("class", ""))
	for _, class := range classes {
		if name, ok := strings.CutPrefix(class, PageTemplateClassPrefix); ok && name != "" {
			return name, nil
		}
	}
	return "", ErrNoPageTemplate
}

// LoggedIn reports whether the page was rendered for an authenticated viewer.
func (d *Document) LoggedIn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Find("body").HasClass(LoggedInClass)
}

// Attached reports whether n is still part of the current tree.
func (d *Document) Attached(n *html.Node) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return attached(d.doc, n)
}

func attached(doc *goquery.Document, n *html.Node) bool {
	if n == nil || len(doc.Nodes) == 0 {
		return false
	}
	root := doc.Nodes[0]
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}

// Hide and Show toggle visibility the way the theme's scripts did, through an
// inline display style.
func Hide(s *goquery.Selection) {
	s.SetAttr("style", "display: none;")
}

func Show(s *goquery.Selection) {
	s.RemoveAttr("style")
}

func Visible(s *goquery.Selection) bool {
	if s.Length() == 0 {
		return false
	}
	style, _ := s.Attr("style")
	return !strings.Contains(strings.ReplaceAll(style, " ", ""), "display:none")
}
