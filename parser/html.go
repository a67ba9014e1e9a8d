package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-harvest/models"
	"golang.org/x/net/html"
)

// Selector names a CSS selector whose first match becomes a record field.
type Selector struct {
	Name string
	CSS  string
}

// ParseSelectors reads "name=css" pairs, keeping their order. The CSS part
// may itself contain '=' and ','.
func ParseSelectors(pairs []string) ([]Selector, error) {
	out := make([]Selector, 0, len(pairs))
	seen := make(map[string]struct{}, len(pairs))
	for _, pair := range pairs {
		name, css, ok := strings.Cut(pair, "=")
		name, css = strings.TrimSpace(name), strings.TrimSpace(css)
		if !ok || name == "" || css == "" {
			return nil, fmt.Errorf("selector %q: want name=css", pair)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("selector %q: duplicate field name", name)
		}
		seen[name] = struct{}{}
		out = append(out, Selector{Name: name, CSS: css})
	}
	return out, nil
}

// Extract pulls the text of the first element matching each selector, in
// selector order. Selectors that match nothing, fail to compile, or run
// against unparseable HTML yield an empty string.
func Extract(body []byte, selectors []Selector) []models.Field {
	out := make([]models.Field, len(selectors))
	for i, sel := range selectors {
		out[i].Name = sel.Name
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return out
	}

	for i, sel := range selectors {
		out[i].Value = strippedText(doc.Find(sel.CSS).First())
	}
	return out
}

// ExtractLinks resolves every anchor href against baseURL and keeps those on
// the same host. Document order is preserved and duplicates are kept.
func ExtractLinks(body []byte, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Host != base.Host {
			return
		}
		links = append(links, abs.String())
	})
	return links
}

// strippedText concatenates every descendant text node with surrounding
// whitespace removed from each node.
func strippedText(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	var b strings.Builder
	for _, node := range sel.Nodes {
		writeStripped(&b, node)
	}
	return b.String()
}

func writeStripped(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(strings.TrimFunc(n.Data, isSpace))
		return
	case html.CommentNode:
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "template":
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeStripped(b, c)
	}
}
