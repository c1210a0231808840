package classify

import (
	"fmt"

	"github.com/hazyhaar/catblock/cardfilter/internal/cardstate"
	"github.com/hazyhaar/catblock/dom"
)

// ScanStats summarises one ScanAll pass.
type ScanStats struct {
	Candidates int // nodes visited, duplicates across strategies included
	Hidden     int
	Shown      int
	Missed     int
	Errors     int
}

// ScanAll classifies every unprocessed card below root. Cards come from the
// card selector and from category links ascended to their closest group
// container; a card found by both is classified once because Classify is
// guarded by the processed flag. Per-card failures are logged and counted.
// The error is non-nil only when the card selector query itself fails.
func (c *Classifier) ScanAll(root dom.Node) (ScanStats, error) {
	var st ScanStats

	cards, err := root.QueryAll(c.sel.Card)
	if err != nil {
		return st, fmt.Errorf("classify: query cards: %w", err)
	}
	for _, card := range cards {
		c.count(&st, card)
	}

	links, err := root.QueryAll(c.sel.fallback())
	if err != nil {
		c.logger.Warn("classify: fallback query failed", "error", err)
		st.Errors++
		return st, nil
	}
	for _, link := range links {
		card, err := link.Closest(c.sel.Group)
		if err != nil {
			c.logger.Debug("classify: closest group failed", "error", err)
			st.Errors++
			continue
		}
		if card == nil {
			continue
		}
		done, err := cardstate.IsProcessed(card)
		if err != nil {
			st.Errors++
			continue
		}
		if !done {
			c.count(&st, card)
		}
	}
	return st, nil
}

func (c *Classifier) count(st *ScanStats, card dom.Node) {
	st.Candidates++
	out, err := c.Classify(card)
	if err != nil {
		c.logger.Debug("classify: card failed", "error", err)
		st.Errors++
		return
	}
	switch out {
	case Hidden:
		st.Hidden++
	case Shown:
		st.Shown++
	case Missed:
		st.Missed++
	}
}
