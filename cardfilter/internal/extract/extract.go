// Package extract derives a card's category from its markup.
package extract

import (
	"net/url"
	"strings"

	"github.com/hazyhaar/catblock/dom"
)

// Default selectors for the category link and its label.
const (
	DefaultLinkSelector  = `a[href^="/category/"]`
	DefaultLabelSelector = "span"
)

const categoryPrefix = "/category/"

// Extractor finds the category link inside a card.
type Extractor struct {
	Link  string // selector of the category link
	Label string // selector of the label inside the link
}

// New returns an Extractor with the default selectors.
func New() *Extractor {
	return &Extractor{Link: DefaultLinkSelector, Label: DefaultLabelSelector}
}

// Category returns the category of card and whether one was found. The
// label text of the category link wins; the decoded slug of its href is
// the fallback. It never modifies the card.
func (x *Extractor) Category(card dom.Node) (string, bool, error) {
	link, err := card.Query(x.Link)
	if err != nil || link == nil {
		return "", false, err
	}

	if x.Label != "" {
		label, err := link.Query(x.Label)
		if err != nil {
			return "", false, err
		}
		if label != nil {
			text, err := label.Text()
			if err != nil {
				return "", false, err
			}
			if text = strings.TrimSpace(text); text != "" {
				return text, true, nil
			}
		}
	}

	href, ok, err := link.Attr("href")
	if err != nil || !ok {
		return "", false, err
	}
	cat := SlugCategory(href)
	return cat, cat != "", nil
}

// SlugCategory turns "/category/just-chatting" into "just chatting". Query,
// fragment and any deeper path segments are dropped; a slug that does not
// URL-decode is used as-is. It returns "" when href has no category segment.
func SlugCategory(href string) string {
	i := strings.Index(href, categoryPrefix)
	if i < 0 {
		return ""
	}
	slug := href[i+len(categoryPrefix):]
	if j := strings.IndexAny(slug, "?#/"); j >= 0 {
		slug = slug[:j]
	}
	if decoded, err := url.PathUnescape(slug); err == nil {
		slug = decoded
	}
	return strings.TrimSpace(strings.ReplaceAll(slug, "-", " "))
}
