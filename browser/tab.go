package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// NavigateTimeout bounds navigation and load in OpenTab.
const NavigateTimeout = 30 * time.Second

// Tab is one page opened by a Manager.
type Tab struct {
	Page    *rod.Page
	PageURL string
	PageID  string

	router *rod.HijackRouter
}

// OpenTab creates a stealth tab, applies resource blocking and navigates to
// pageURL. A load timeout is logged, not returned: stream grids keep
// loading long after the first cards render.
func OpenTab(ctx context.Context, mgr *Manager, pageURL, pageID string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	log := mgr.cfg.Logger

	page, serr := stealth.Page(b)
	if serr != nil {
		var err error
		if page, err = b.Page(proto.TargetCreateTarget{}); err != nil {
			return nil, fmt.Errorf("browser: create tab: %w", err)
		}
		log.Warn("browser: stealth unavailable, plain tab", "error", serr)
	}

	t := &Tab{Page: page, PageURL: pageURL, PageID: pageID}
	if len(mgr.cfg.ResourceBlocking) > 0 {
		router, err := blockResources(page, mgr.cfg.ResourceBlocking)
		if err != nil {
			log.Warn("browser: resource blocking failed", "error", err)
		}
		t.router = router
	}

	navCtx, cancel := context.WithTimeout(ctx, NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		log.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	log.Info("browser: tab opened", "url", pageURL, "id", pageID)
	return t, nil
}

// HTML serialises the current document.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	res, err := t.Page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return res.Value.Str(), nil
}

// Close stops request interception and closes the tab.
func (t *Tab) Close() error {
	if t.router != nil {
		t.router.Stop()
		t.router = nil
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
