// Package sink defines output backends for card visibility decisions.
package sink

import "context"

// Decision records one visibility change applied to a card.
type Decision struct {
	ID        string `json:"id"`
	PageID    string `json:"page_id,omitempty"`
	Category  string `json:"category"`
	Hidden    bool   `json:"hidden"`
	Reason    string `json:"reason"` // classify | reconcile
	Timestamp int64  `json:"ts"`     // unix ms
}

// Report summarises one pass of the engine.
type Report struct {
	PageID    string `json:"page_id,omitempty"`
	Trigger   string `json:"trigger"` // start | mutation | visible | change
	Processed int    `json:"processed"`
	Hidden    int    `json:"hidden"`
	Shown     int    `json:"shown"`
	Missed    int    `json:"missed"`
	Errors    int    `json:"errors"`
	Timestamp int64  `json:"ts"`
}

// Sink is the output interface. Implementations deliver decisions to
// different backends (stdout, webhook, in-process callback).
type Sink interface {
	Send(ctx context.Context, d Decision) error
	SendReport(ctx context.Context, r Report) error
	Close() error
}
