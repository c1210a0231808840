package roddom

import (
	"errors"
	"fmt"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/catblock/dom"
)

// element is a dom.Node over a remote element handle.
type element struct {
	el *rod.Element
}

// Unwrap returns the Rod element behind a node created by this package.
func Unwrap(n dom.Node) (*rod.Element, bool) {
	e, ok := n.(*element)
	if !ok || e == nil {
		return nil, false
	}
	return e.el, true
}

func wrapAll(els rod.Elements) []dom.Node {
	out := make([]dom.Node, len(els))
	for i, el := range els {
		out[i] = &element{el: el}
	}
	return out
}

func (e *element) QueryAll(selector string) ([]dom.Node, error) {
	els, err := e.el.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("roddom: query all %q: %w", selector, err)
	}
	return wrapAll(els), nil
}

func (e *element) Query(selector string) (dom.Node, error) {
	has, el, err := e.el.Has(selector)
	if err != nil {
		return nil, fmt.Errorf("roddom: query %q: %w", selector, err)
	}
	if !has {
		return nil, nil
	}
	return &element{el: el}, nil
}

func (e *element) Matches(selector string) (bool, error) {
	ok, err := e.el.Matches(selector)
	if err != nil {
		return false, fmt.Errorf("roddom: matches %q: %w", selector, err)
	}
	return ok, nil
}

func (e *element) Closest(selector string) (dom.Node, error) {
	el, err := e.el.ElementByJS(rod.Eval(`(s) => this.closest(s)`, selector))
	if err != nil {
		var nf *rod.ElementNotFoundError
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, fmt.Errorf("roddom: closest %q: %w", selector, err)
	}
	return &element{el: el}, nil
}

func (e *element) Attr(name string) (string, bool, error) {
	v, err := e.el.Attribute(name)
	if err != nil {
		return "", false, fmt.Errorf("roddom: attr %s: %w", name, err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *element) SetAttr(name, value string) error {
	if _, err := e.el.Eval(`(k, v) => this.setAttribute(k, v)`, name, value); err != nil {
		return fmt.Errorf("roddom: set attr %s: %w", name, err)
	}
	return nil
}

func (e *element) RemoveAttr(name string) error {
	if _, err := e.el.Eval(`(k) => this.removeAttribute(k)`, name); err != nil {
		return fmt.Errorf("roddom: remove attr %s: %w", name, err)
	}
	return nil
}

func (e *element) Text() (string, error) {
	res, err := e.el.Eval(`() => this.textContent`)
	if err != nil {
		return "", fmt.Errorf("roddom: text: %w", err)
	}
	return res.Value.Str(), nil
}

func (e *element) SetDisplay(value string) error {
	if _, err := e.el.Eval(`(v) => { this.style.display = v; }`, value); err != nil {
		return fmt.Errorf("roddom: set display: %w", err)
	}
	return nil
}

// root is the document-scoped node. It only supports queries.
type root struct {
	p *Page
}

var errRootOnly = errors.New("roddom: operation not supported on the document root")

func (r *root) QueryAll(selector string) ([]dom.Node, error) {
	els, err := r.p.page.Context(r.p.ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("roddom: query all %q: %w", selector, err)
	}
	return wrapAll(els), nil
}

func (r *root) Query(selector string) (dom.Node, error) {
	has, el, err := r.p.page.Context(r.p.ctx).Has(selector)
	if err != nil {
		return nil, fmt.Errorf("roddom: query %q: %w", selector, err)
	}
	if !has {
		return nil, nil
	}
	return &element{el: el}, nil
}

func (r *root) Matches(string) (bool, error)      { return false, nil }
func (r *root) Closest(string) (dom.Node, error)  { return nil, nil }
func (r *root) Attr(string) (string, bool, error) { return "", false, nil }
func (r *root) SetAttr(string, string) error      { return errRootOnly }
func (r *root) RemoveAttr(string) error           { return errRootOnly }
func (r *root) SetDisplay(string) error           { return errRootOnly }

func (r *root) Text() (string, error) {
	res, err := r.p.page.Context(r.p.ctx).Eval(`() => document.body ? document.body.textContent : ''`)
	if err != nil {
		return "", fmt.Errorf("roddom: text: %w", err)
	}
	return res.Value.Str(), nil
}
