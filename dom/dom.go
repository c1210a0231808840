// Package dom defines the element-level boundary the card filter works
// against. Two implementations exist: htmldom (an in-memory document parsed
// with golang.org/x/net/html) and roddom (a live Chrome page driven by Rod).
//
// Selectors are standard CSS selector groups. Descendant queries follow
// querySelectorAll semantics: the selector is matched against the whole
// document and results are restricted to descendants of the receiver.
package dom

// Node is a handle on one element of a document.
type Node interface {
	// QueryAll returns the descendants matching selector, in document order.
	QueryAll(selector string) ([]Node, error)
	// Query returns the first matching descendant, or nil when none matches.
	Query(selector string) (Node, error)
	// Matches reports whether the node itself matches selector.
	Matches(selector string) (bool, error)
	// Closest returns the nearest inclusive ancestor matching selector, or nil.
	Closest(selector string) (Node, error)

	// Attr returns the attribute value and whether it is present.
	Attr(name string) (string, bool, error)
	SetAttr(name, value string) error
	RemoveAttr(name string) error

	// Text returns the node's text content.
	Text() (string, error)
	// SetDisplay writes the inline display style. An empty value clears it.
	SetDisplay(value string) error
}

// Mutation is one subtree change record. Only element nodes are reported.
type Mutation struct {
	Added   []Node
	Removed []Node
}

// Document is a page that can be scanned and observed.
type Document interface {
	// Root is the node all scans start from (the body when present).
	Root() Node
	// Observe subscribes fn to child-list changes anywhere below the root.
	// Each call of fn carries one batch of records. The returned function
	// detaches the subscription.
	Observe(fn func([]Mutation)) (detach func(), err error)
	// OnVisible subscribes fn to the page becoming visible again after it
	// was hidden (tab re-activation).
	OnVisible(fn func()) (detach func(), err error)
}
