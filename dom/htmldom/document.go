// Package htmldom implements dom.Document over an in-memory tree parsed with
// golang.org/x/net/html. Selectors are compiled with cascadia and cached.
//
// Insertions and removals made through Append and Remove are reported to
// observers as one mutation batch per call, which makes the package usable
// both for offline filtering of fetched pages and as a deterministic stand-in
// for a live browser.
package htmldom

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hazyhaar/catblock/dom"
)

// Document is a mutable HTML document. It is safe for concurrent use; every
// node operation holds the document lock.
type Document struct {
	mu      sync.Mutex
	root    *html.Node
	sels    map[string]cascadia.SelectorGroup
	hidden  bool
	nextSub int
	mutSubs map[int]func([]dom.Mutation)
	visSubs map[int]func()
}

// Parse reads a full HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse: %w", err)
	}
	return &Document{
		root:    root,
		sels:    make(map[string]cascadia.SelectorGroup),
		mutSubs: make(map[int]func([]dom.Mutation)),
		visSubs: make(map[int]func()),
	}, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Root returns the body element, or the document node when there is none.
func (d *Document) Root() dom.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	if body := findElement(d.root, "body"); body != nil {
		return &element{doc: d, n: body}
	}
	return &element{doc: d, n: d.root}
}

// Observe implements dom.Document.
func (d *Document) Observe(fn func([]dom.Mutation)) (func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.mutSubs[id] = fn
	return func() {
		d.mu.Lock()
		delete(d.mutSubs, id)
		d.mu.Unlock()
	}, nil
}

// OnVisible implements dom.Document.
func (d *Document) OnVisible(fn func()) (func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.visSubs[id] = fn
	return func() {
		d.mu.Lock()
		delete(d.visSubs, id)
		d.mu.Unlock()
	}, nil
}

// Append parses fragment in the context of parent, appends the resulting
// nodes as parent's last children and reports them to observers as a single
// batch. It returns the inserted element nodes.
func (d *Document) Append(parent dom.Node, fragment string) ([]dom.Node, error) {
	p, err := d.unwrap(parent)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	nodes, err := html.ParseFragment(strings.NewReader(fragment), p)
	if err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("htmldom: parse fragment: %w", err)
	}
	var added []dom.Node
	var batch []dom.Mutation
	for _, n := range nodes {
		p.AppendChild(n)
		if n.Type != html.ElementNode {
			continue
		}
		el := &element{doc: d, n: n}
		added = append(added, el)
		batch = append(batch, dom.Mutation{Added: []dom.Node{el}})
	}
	subs := d.mutationSubscribers()
	d.mu.Unlock()

	notify(subs, batch)
	return added, nil
}

// Remove detaches n from the tree and reports the removal.
func (d *Document) Remove(n dom.Node) error {
	hn, err := d.unwrap(n)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if hn.Parent == nil {
		d.mu.Unlock()
		return nil
	}
	hn.Parent.RemoveChild(hn)
	subs := d.mutationSubscribers()
	d.mu.Unlock()

	notify(subs, []dom.Mutation{{Removed: []dom.Node{n}}})
	return nil
}

// SetHidden changes the page visibility. A hidden → visible transition is
// reported to OnVisible subscribers.
func (d *Document) SetHidden(hidden bool) {
	d.mu.Lock()
	wasHidden := d.hidden
	d.hidden = hidden
	var subs []func()
	if wasHidden && !hidden {
		for _, fn := range d.visSubs {
			subs = append(subs, fn)
		}
	}
	d.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// Render writes the document as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

// String renders the document, ignoring errors.
func (d *Document) String() string {
	var buf bytes.Buffer
	d.Render(&buf)
	return buf.String()
}

// Unwrap returns the underlying html.Node of a node created by this package.
func Unwrap(n dom.Node) (*html.Node, bool) {
	el, ok := n.(*element)
	if !ok || el == nil {
		return nil, false
	}
	return el.n, true
}

func (d *Document) unwrap(n dom.Node) (*html.Node, error) {
	el, ok := n.(*element)
	if !ok || el == nil || el.doc != d {
		return nil, fmt.Errorf("htmldom: node does not belong to this document")
	}
	return el.n, nil
}

// compile returns the cached selector group. Caller holds d.mu.
func (d *Document) compile(selector string) (cascadia.SelectorGroup, error) {
	if sg, ok := d.sels[selector]; ok {
		return sg, nil
	}
	sg, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("htmldom: selector %q: %w", selector, err)
	}
	d.sels[selector] = sg
	return sg, nil
}

// mutationSubscribers snapshots the observer set. Caller holds d.mu.
func (d *Document) mutationSubscribers() []func([]dom.Mutation) {
	subs := make([]func([]dom.Mutation), 0, len(d.mutSubs))
	for _, fn := range d.mutSubs {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func([]dom.Mutation), batch []dom.Mutation) {
	if len(batch) == 0 {
		return
	}
	for _, fn := range subs {
		fn(batch)
	}
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}
