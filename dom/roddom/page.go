// Package roddom implements dom.Document over a live Chrome page driven by
// Rod. Element operations are CDP calls on remote element handles; subtree
// insertions and visibility changes are reported by an injected
// MutationObserver through a runtime binding.
package roddom

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/catblock/dom"
)

//go:embed observer.js
var observerJS string

const bindingName = "__catblock_binding"

const disconnectJS = `() => {
  const s = window.__catblock;
  if (s && s.observer) { s.observer.disconnect(); s.observer = null; s.added.clear(); }
}`

const resolveJS = `(ids) => {
  const s = window.__catblock;
  if (!s) return [];
  const out = [];
  for (const id of ids) {
    const n = s.added.get(id);
    s.added.delete(id);
    if (n && n.isConnected) out.push(n);
  }
  return out;
}`

const releaseJS = `(ids) => {
  const s = window.__catblock;
  if (s) ids.forEach((id) => s.added.delete(id));
}`

// Page is a dom.Document over a Rod page.
type Page struct {
	page   *rod.Page
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listening bool
	nextSub   int
	mutSubs   map[int]func([]dom.Mutation)
	visSubs   map[int]func()
}

// New wraps page. The binding listener lives until ctx is cancelled or
// Close is called.
func New(ctx context.Context, page *rod.Page, logger *slog.Logger) *Page {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Page{
		page:    page,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		mutSubs: make(map[int]func([]dom.Mutation)),
		visSubs: make(map[int]func()),
	}
}

// Root returns a node scoped to the whole document.
func (p *Page) Root() dom.Node {
	return &root{p: p}
}

// Observe implements dom.Document.
func (p *Page) Observe(fn func([]dom.Mutation)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.installLocked(); err != nil {
		return nil, err
	}
	id := p.nextSub
	p.nextSub++
	p.mutSubs[id] = fn

	return func() {
		p.mu.Lock()
		delete(p.mutSubs, id)
		last := len(p.mutSubs) == 0
		p.mu.Unlock()
		if last {
			if _, err := p.page.Context(p.ctx).Eval(disconnectJS); err != nil {
				p.logger.Debug("roddom: disconnect observer", "error", err)
			}
		}
	}, nil
}

// OnVisible implements dom.Document.
func (p *Page) OnVisible(fn func()) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.installLocked(); err != nil {
		return nil, err
	}
	id := p.nextSub
	p.nextSub++
	p.visSubs[id] = fn

	return func() {
		p.mu.Lock()
		delete(p.visSubs, id)
		p.mu.Unlock()
	}, nil
}

// Close stops the binding listener.
func (p *Page) Close() {
	p.cancel()
}

// installLocked adds the binding, starts the listener once, and (re)injects
// the observer script. The script is idempotent. Caller holds p.mu.
func (p *Page) installLocked() error {
	if !p.listening {
		err := proto.RuntimeAddBinding{Name: bindingName}.Call(p.page)
		if err != nil {
			return fmt.Errorf("roddom: add binding: %w", err)
		}
		go p.listen()
		p.listening = true
	}
	if _, err := p.page.Context(p.ctx).Eval(observerJS); err != nil {
		return fmt.Errorf("roddom: inject observer: %w", err)
	}
	return nil
}

type bindingMsg struct {
	Type    string    `json:"type"`
	Records [][]int64 `json:"records"`
}

// listen receives binding calls from the injected script.
func (p *Page) listen() {
	p.page.Context(p.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		var msg bindingMsg
		if err := json.Unmarshal([]byte(e.Payload), &msg); err != nil {
			p.logger.Warn("roddom: parse binding payload", "error", err)
			return
		}

		switch msg.Type {
		case "mutations":
			p.dispatchMutations(msg.Records)
		case "visible":
			p.mu.Lock()
			subs := make([]func(), 0, len(p.visSubs))
			for _, fn := range p.visSubs {
				subs = append(subs, fn)
			}
			p.mu.Unlock()
			for _, fn := range subs {
				fn()
			}
		}
	})()
}

func (p *Page) dispatchMutations(records [][]int64) {
	batch := make([]dom.Mutation, 0, len(records))
	for _, ids := range records {
		els, err := p.page.Context(p.ctx).ElementsByJS(rod.Eval(resolveJS, ids))
		if err != nil {
			p.logger.Debug("roddom: resolve added nodes", "count", len(ids), "error", err)
			p.release(ids)
			continue
		}
		if len(els) == 0 {
			continue
		}
		m := dom.Mutation{Added: make([]dom.Node, len(els))}
		for i, el := range els {
			m.Added[i] = &element{el: el}
		}
		batch = append(batch, m)
	}
	if len(batch) == 0 {
		return
	}

	p.mu.Lock()
	subs := make([]func([]dom.Mutation), 0, len(p.mutSubs))
	for _, fn := range p.mutSubs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()
	for _, fn := range subs {
		fn(batch)
	}
}

// release drops the page-side references to added nodes that were never
// resolved, so the pending map does not grow for the life of the tab.
func (p *Page) release(ids []int64) {
	if _, err := p.page.Context(p.ctx).Eval(releaseJS, ids); err != nil {
		p.logger.Debug("roddom: release added nodes", "count", len(ids), "error", err)
	}
}

// pending returns the number of added nodes held by the page script.
func (p *Page) pending() (int, error) {
	res, err := p.page.Context(p.ctx).Eval(`() => window.__catblock ? window.__catblock.added.size : 0`)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}
