// Package cardstate keeps per-card classification state on the card element
// itself, so it lives and dies with the element.
package cardstate

import "github.com/hazyhaar/catblock/dom"

const (
	attrProcessed = "data-catblock-processed"
	attrHidden    = "data-catblock-hidden"
	attrCategory  = "data-catblock-category"
	attrOriginal  = "data-catblock-original-category"
)

const processedSelector = "[" + attrProcessed + "]"

// IsProcessed reports whether extraction succeeded on card before.
func IsProcessed(card dom.Node) (bool, error) {
	_, ok, err := card.Attr(attrProcessed)
	return ok, err
}

// MarkProcessed records category as the card's original category. Only the
// first call on a card has an effect.
func MarkProcessed(card dom.Node, category string) error {
	done, err := IsProcessed(card)
	if err != nil || done {
		return err
	}
	if err := card.SetAttr(attrOriginal, category); err != nil {
		return err
	}
	return card.SetAttr(attrProcessed, "true")
}

// OriginalCategory returns the category recorded by MarkProcessed.
func OriginalCategory(card dom.Node) (string, bool, error) {
	return card.Attr(attrOriginal)
}

// SetHidden suppresses or restores the card's display and records the
// category it was hidden for.
func SetHidden(card dom.Node, hidden bool, category string) error {
	if hidden {
		if err := card.SetDisplay("none"); err != nil {
			return err
		}
		if err := card.SetAttr(attrHidden, "true"); err != nil {
			return err
		}
		return card.SetAttr(attrCategory, category)
	}
	if err := card.SetDisplay(""); err != nil {
		return err
	}
	if err := card.RemoveAttr(attrHidden); err != nil {
		return err
	}
	return card.RemoveAttr(attrCategory)
}

// IsHidden reports whether the card is currently suppressed.
func IsHidden(card dom.Node) (bool, error) {
	_, ok, err := card.Attr(attrHidden)
	return ok, err
}

// Processed returns every processed card below root.
func Processed(root dom.Node) ([]dom.Node, error) {
	return root.QueryAll(processedSelector)
}
