package sink

import "context"

// DecisionFunc is called for each decision.
type DecisionFunc func(ctx context.Context, d Decision) error

// ReportFunc is called for each pass report.
type ReportFunc func(ctx context.Context, r Report) error

// Callback delivers events via Go function calls.
type Callback struct {
	onDecision DecisionFunc
	onReport   ReportFunc
}

// NewCallback creates a Callback sink. Either handler may be nil.
func NewCallback(onDecision DecisionFunc, onReport ReportFunc) *Callback {
	return &Callback{onDecision: onDecision, onReport: onReport}
}

func (c *Callback) Send(ctx context.Context, d Decision) error {
	if c.onDecision != nil {
		return c.onDecision(ctx, d)
	}
	return nil
}

func (c *Callback) SendReport(ctx context.Context, r Report) error {
	if c.onReport != nil {
		return c.onReport(ctx, r)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
