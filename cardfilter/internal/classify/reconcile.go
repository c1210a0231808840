package classify

import (
	"fmt"

	"github.com/hazyhaar/catblock/cardfilter/internal/cardstate"
	"github.com/hazyhaar/catblock/dom"
)

// ReconcileStats summarises one ReconcileAll pass.
type ReconcileStats struct {
	Processed int
	Hidden    int // newly hidden
	Shown     int // newly shown
	Errors    int
}

// ReconcileAll re-evaluates every processed card against the current cache
// using the recorded original category. Markup is not re-read and
// unprocessed cards are not touched.
func (c *Classifier) ReconcileAll(root dom.Node) (ReconcileStats, error) {
	var st ReconcileStats

	cards, err := cardstate.Processed(root)
	if err != nil {
		return st, fmt.Errorf("classify: query processed cards: %w", err)
	}

	for _, card := range cards {
		st.Processed++
		if err := c.reconcile(card, &st); err != nil {
			c.logger.Debug("classify: reconcile card failed", "error", err)
			st.Errors++
		}
	}
	return st, nil
}

func (c *Classifier) reconcile(card dom.Node, st *ReconcileStats) error {
	category, _, err := cardstate.OriginalCategory(card)
	if err != nil {
		return err
	}
	hidden, err := cardstate.IsHidden(card)
	if err != nil {
		return err
	}

	should := c.cache.IsBlocked(category)
	switch {
	case should && !hidden:
		if err := cardstate.SetHidden(card, true, category); err != nil {
			return err
		}
		st.Hidden++
		c.logger.Info("classify: hidden stream card", "category", category)
		c.decide(card, category, true, "reconcile")
	case !should && hidden:
		if err := cardstate.SetHidden(card, false, category); err != nil {
			return err
		}
		st.Shown++
		c.decide(card, category, false, "reconcile")
	}
	return nil
}
