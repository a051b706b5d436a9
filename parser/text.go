package parser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document is a parsed page ready for text scans.
type Document struct {
	raw string
	doc *goquery.Document
}

// ParseHTML parses raw markup. Plain text input parses fine too.
func ParseHTML(raw string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{raw: raw, doc: doc}, nil
}

// SelectorTexts returns the trimmed text of every element matching the
// selectors, in selector order.
func (d *Document) SelectorTexts(selectors []string) []string {
	var out []string
	for _, sel := range selectors {
		d.doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if txt := strings.TrimSpace(s.Text()); txt != "" {
				out = append(out, txt)
			}
		})
	}
	return out
}

// VisibleText returns the body text with scripts and styles removed and
// element boundaries kept as spaces.
func (d *Document) VisibleText() string {
	root := d.doc.Find("body")
	if root.Length() == 0 {
		root = d.doc.Selection
	}
	var parts []string
	collectText(root, &parts)
	return strings.Join(parts, " ")
}

func collectText(s *goquery.Selection, parts *[]string) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		switch goquery.NodeName(c) {
		case "#text":
			if txt := strings.TrimSpace(c.Text()); txt != "" {
				*parts = append(*parts, txt)
			}
		case "#comment", "script", "style", "noscript", "template":
		default:
			collectText(c, parts)
		}
	})
}

// Raw returns the unparsed document.
func (d *Document) Raw() string {
	return d.raw
}
