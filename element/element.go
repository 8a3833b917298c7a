// Package element wraps parsed HTML with structural assertions: queries
// declare how many matches the scraper expects, and a mismatch surfaces as
// a scrape.StructuralError instead of a silent empty result.
package element

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/Brennan-Chesley-FLP/kent/scrape"
)

// Unlimited marks an unbounded expected-max in checked queries.
const Unlimited = scrape.UnlimitedCount

// Element is one HTML node tied to the URL it was parsed from.
type Element struct {
	node *html.Node
	url  string
}

// Parse builds the root Element for a page body.
func Parse(content []byte, pageURL string) (*Element, error) {
	node, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, scrape.NewAssumptionError(
			"Failed to parse HTML content", pageURL,
			map[string]any{"error": err.Error()})
	}
	return &Element{node: node, url: pageURL}, nil
}

// URL returns the page URL this element came from.
func (e *Element) URL() string { return e.url }

// Node exposes the underlying parse-tree node.
func (e *Element) Node() *html.Node { return e.node }

// CheckedXPath queries with an XPath expression and asserts the match
// count lies in [expectedMin, expectedMax] (Unlimited for no upper bound).
func (e *Element) CheckedXPath(expr, description string, expectedMin, expectedMax int) ([]*Element, error) {
	nodes, err := htmlquery.QueryAll(e.node, expr)
	if err != nil {
		return nil, scrape.NewAssumptionError(
			"Invalid XPath expression", e.url,
			map[string]any{"selector": expr, "error": err.Error()})
	}
	if bad := checkCount(len(nodes), expectedMin, expectedMax); bad {
		return nil, scrape.NewStructuralError(
			expr, "xpath", description, expectedMin, expectedMax, len(nodes), e.url)
	}
	return e.wrap(nodes), nil
}

// CheckedXPathOne asserts exactly one match and returns it.
func (e *Element) CheckedXPathOne(expr, description string) (*Element, error) {
	matches, err := e.CheckedXPath(expr, description, 1, 1)
	if err != nil {
		return nil, err
	}
	return matches[0], nil
}

// CheckedCSS queries with a CSS selector and asserts the match count lies
// in [expectedMin, expectedMax] (Unlimited for no upper bound).
func (e *Element) CheckedCSS(selector, description string, expectedMin, expectedMax int) ([]*Element, error) {
	sel := goquery.NewDocumentFromNode(e.node).Find(selector)
	if bad := checkCount(len(sel.Nodes), expectedMin, expectedMax); bad {
		return nil, scrape.NewStructuralError(
			selector, "css", description, expectedMin, expectedMax, len(sel.Nodes), e.url)
	}
	return e.wrap(sel.Nodes), nil
}

// CheckedCSSOne asserts exactly one match and returns it.
func (e *Element) CheckedCSSOne(selector, description string) (*Element, error) {
	matches, err := e.CheckedCSS(selector, description, 1, 1)
	if err != nil {
		return nil, err
	}
	return matches[0], nil
}

// Text returns the element's inner text, whitespace-trimmed.
func (e *Element) Text() string {
	return strings.TrimSpace(htmlquery.InnerText(e.node))
}

// Attr returns the value of the named attribute, or "".
func (e *Element) Attr(name string) string {
	for _, a := range e.node.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// CheckedAttr returns the named attribute or a structural error when it is
// absent or empty.
func (e *Element) CheckedAttr(name, description string) (string, error) {
	v := e.Attr(name)
	if v == "" {
		return "", scrape.NewStructuralError(
			"@"+name, "xpath", description, 1, 1, 0, e.url)
	}
	return v, nil
}

func (e *Element) wrap(nodes []*html.Node) []*Element {
	out := make([]*Element, len(nodes))
	for i, n := range nodes {
		out[i] = &Element{node: n, url: e.url}
	}
	return out
}

func checkCount(actual, min, max int) bool {
	if actual < min {
		return true
	}
	if max != Unlimited && actual > max {
		return true
	}
	return false
}
