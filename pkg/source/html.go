package source

import (
	"bytes"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// htmlDocument selects with CSS selectors; a trailing "@attr" on a field
// selector extracts an attribute instead of the element text.
type htmlDocument struct {
	doc *goquery.Document
}

func parseHTML(raw []byte) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, &ParseError{Type: TypeHTML, Err: err}
	}
	return &htmlDocument{doc: doc}, nil
}

func (d *htmlDocument) Items(selector string) ([]Node, error) {
	return splitSelection(d.doc.Find(selector), "")
}

func (d *htmlDocument) RefreshHint() (time.Duration, bool) { return 0, false }

type htmlNode struct {
	sel  *goquery.Selection
	attr string
}

func (n *htmlNode) SelectAll(selector string) ([]Node, error) {
	css, attr := splitAttr(selector)
	if css == "" {
		// attribute of the item node itself
		return []Node{&htmlNode{sel: n.sel, attr: attr}}, nil
	}
	return splitSelection(n.sel.Find(css), attr)
}

func (n *htmlNode) Text() string {
	if n.attr != "" {
		v, _ := n.sel.Attr(n.attr)
		return v
	}
	return strings.TrimSpace(n.sel.Text())
}

func splitSelection(sel *goquery.Selection, attr string) ([]Node, error) {
	nodes := make([]Node, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		nodes = append(nodes, &htmlNode{sel: s, attr: attr})
	})
	return nodes, nil
}

func splitAttr(selector string) (css, attr string) {
	if i := strings.LastIndex(selector, "@"); i >= 0 {
		return strings.TrimSpace(selector[:i]), strings.TrimSpace(selector[i+1:])
	}
	return selector, ""
}
