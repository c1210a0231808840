// Package classify decides and applies show/hide for stream cards: single
// cards (Classify), whole-document scans (ScanAll), and re-evaluation of
// processed cards after a block-list change (ReconcileAll).
package classify

import (
	"log/slog"

	"github.com/hazyhaar/catblock/cardfilter/internal/blocklist"
	"github.com/hazyhaar/catblock/cardfilter/internal/cardstate"
	"github.com/hazyhaar/catblock/cardfilter/internal/extract"
	"github.com/hazyhaar/catblock/dom"
)

// Selectors locate cards in the page markup.
type Selectors struct {
	// Card matches card roots directly.
	Card string
	// Group matches the loose container a category link is ascended to.
	Group string
	// Link matches the category link.
	Link string
	// Label matches the label element inside the link.
	Label string
}

// DefaultSelectors match the stream grid markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Card:  `.group\/card, [class*="group/card"]`,
		Group: `div[class*="group"]`,
		Link:  extract.DefaultLinkSelector,
		Label: extract.DefaultLabelSelector,
	}
}

func (s *Selectors) defaults() {
	d := DefaultSelectors()
	if s.Card == "" {
		s.Card = d.Card
	}
	if s.Group == "" {
		s.Group = d.Group
	}
	if s.Link == "" {
		s.Link = d.Link
	}
	if s.Label == "" {
		s.Label = d.Label
	}
}

// fallback is the descendant selector for category links in a group container.
func (s Selectors) fallback() string {
	return s.Group + " " + s.Link
}

// Outcome is the result of classifying one card.
type Outcome int

const (
	// Skipped: the card was already processed.
	Skipped Outcome = iota
	// Missed: no category found; the card stays a candidate.
	Missed
	// Shown: processed and left visible.
	Shown
	// Hidden: processed and hidden.
	Hidden
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Missed:
		return "missed"
	case Shown:
		return "shown"
	case Hidden:
		return "hidden"
	}
	return "unknown"
}

// DecisionFunc observes visibility changes applied to cards. reason is
// "classify" or "reconcile".
type DecisionFunc func(card dom.Node, category string, hidden bool, reason string)

// Config for a Classifier.
type Config struct {
	Cache      *blocklist.Cache
	Selectors  Selectors
	OnDecision DecisionFunc
	Logger     *slog.Logger
}

// Classifier combines extraction, the block-list cache and card state.
type Classifier struct {
	cache      *blocklist.Cache
	sel        Selectors
	extractor  *extract.Extractor
	onDecision DecisionFunc
	logger     *slog.Logger
}

// New creates a Classifier.
func New(cfg Config) *Classifier {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Selectors.defaults()
	return &Classifier{
		cache:      cfg.Cache,
		sel:        cfg.Selectors,
		extractor:  &extract.Extractor{Link: cfg.Selectors.Link, Label: cfg.Selectors.Label},
		onDecision: cfg.OnDecision,
		logger:     cfg.Logger,
	}
}

// Classify processes card at most once in its lifetime. A card without a
// category is left unprocessed so a later pass can retry it.
func (c *Classifier) Classify(card dom.Node) (Outcome, error) {
	done, err := cardstate.IsProcessed(card)
	if err != nil {
		return Missed, err
	}
	if done {
		return Skipped, nil
	}

	category, ok, err := c.extractor.Category(card)
	if err != nil {
		return Missed, err
	}
	if !ok {
		return Missed, nil
	}

	if err := cardstate.MarkProcessed(card, category); err != nil {
		return Missed, err
	}
	if !c.cache.IsBlocked(category) {
		return Shown, nil
	}
	if err := cardstate.SetHidden(card, true, category); err != nil {
		return Shown, err
	}
	c.logger.Info("classify: hidden stream card", "category", category)
	c.decide(card, category, true, "classify")
	return Hidden, nil
}

// IsCandidate reports whether a freshly inserted node is, or contains, a
// card by either selector strategy.
func (c *Classifier) IsCandidate(n dom.Node) (bool, error) {
	if ok, err := n.Matches(c.sel.Card); err != nil || ok {
		return ok, err
	}
	if m, err := n.Query(c.sel.Card); err != nil || m != nil {
		return m != nil, err
	}
	if ok, err := n.Matches(c.sel.fallback()); err != nil || ok {
		return ok, err
	}
	m, err := n.Query(c.sel.fallback())
	return m != nil, err
}

func (c *Classifier) decide(card dom.Node, category string, hidden bool, reason string) {
	if c.onDecision != nil {
		c.onDecision(card, category, hidden, reason)
	}
}

// Category returns the recorded category of a processed card, or extracts
// it from the current markup otherwise. The card is not modified.
func (c *Classifier) Category(card dom.Node) (string, bool, error) {
	done, err := cardstate.IsProcessed(card)
	if err != nil {
		return "", false, err
	}
	if done {
		return cardstate.OriginalCategory(card)
	}
	return c.extractor.Category(card)
}
