package htmldom

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hazyhaar/catblock/dom"
)

// element is a dom.Node backed by an html.Node. Handles are created per
// query; compare identity through Unwrap.
type element struct {
	doc *Document
	n   *html.Node
}

func (e *element) QueryAll(selector string) ([]dom.Node, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	sg, err := e.doc.compile(selector)
	if err != nil {
		return nil, err
	}
	matches := cascadia.QueryAll(e.n, sg)
	out := make([]dom.Node, len(matches))
	for i, m := range matches {
		out[i] = &element{doc: e.doc, n: m}
	}
	return out, nil
}

func (e *element) Query(selector string) (dom.Node, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	sg, err := e.doc.compile(selector)
	if err != nil {
		return nil, err
	}
	m := cascadia.Query(e.n, sg)
	if m == nil {
		return nil, nil
	}
	return &element{doc: e.doc, n: m}, nil
}

func (e *element) Matches(selector string) (bool, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	sg, err := e.doc.compile(selector)
	if err != nil {
		return false, err
	}
	return e.n.Type == html.ElementNode && sg.Match(e.n), nil
}

func (e *element) Closest(selector string) (dom.Node, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	sg, err := e.doc.compile(selector)
	if err != nil {
		return nil, err
	}
	for n := e.n; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && sg.Match(n) {
			return &element{doc: e.doc, n: n}, nil
		}
	}
	return nil, nil
}

func (e *element) Attr(name string) (string, bool, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	v, ok := getAttr(e.n, name)
	return v, ok, nil
}

func (e *element) SetAttr(name, value string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	setAttr(e.n, name, value)
	return nil
}

func (e *element) RemoveAttr(name string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	removeAttr(e.n, name)
	return nil
}

func (e *element) Text() (string, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	var sb strings.Builder
	collectText(e.n, &sb)
	return sb.String(), nil
}

func (e *element) SetDisplay(value string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	style, _ := getAttr(e.n, "style")
	style = setStyleProperty(style, "display", value)
	if style == "" {
		removeAttr(e.n, "style")
	} else {
		setAttr(e.n, "style", style)
	}
	return nil
}

func getAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func removeAttr(n *html.Node, name string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}

// setStyleProperty rewrites one declaration of an inline style attribute.
// An empty value removes the declaration; other declarations keep their order.
func setStyleProperty(style, prop, value string) string {
	var decls []string
	found := false
	for _, decl := range strings.Split(style, ";") {
		decl = strings.TrimSpace(decl)
		if decl == "" {
			continue
		}
		name, _, _ := strings.Cut(decl, ":")
		if strings.EqualFold(strings.TrimSpace(name), prop) {
			found = true
			if value != "" {
				decls = append(decls, prop+": "+value)
			}
			continue
		}
		decls = append(decls, decl)
	}
	if !found && value != "" {
		decls = append(decls, prop+": "+value)
	}
	if len(decls) == 0 {
		return ""
	}
	return strings.Join(decls, "; ") + ";"
}

// collectVisibleText is collectText without script, style and template
// contents.
func collectVisibleText(n *html.Node, sb *strings.Builder) {
	switch {
	case n.Type == html.TextNode:
		sb.WriteString(n.Data)
		return
	case n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "template" || n.Data == "noscript"):
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectVisibleText(c, sb)
	}
}
