// Package watcher turns DOM insertion batches into debounced re-scan
// triggers. A Watcher is owned by one goroutine: Handle, C and Fired are
// called from the loop that selects on C.
package watcher

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/catblock/dom"
)

// State of a Watcher.
type State int

const (
	Idle State = iota
	Observing
)

func (s State) String() string {
	if s == Observing {
		return "observing"
	}
	return "idle"
}

// CandidateFunc reports whether an added node is, or contains, a card.
type CandidateFunc func(n dom.Node) (bool, error)

// Config controls a Watcher.
type Config struct {
	// Window is the debounce delay. Default: 100ms.
	Window time.Duration
	// IsCandidate filters added nodes. Required.
	IsCandidate CandidateFunc
	Logger      *slog.Logger
}

func (c *Config) defaults() {
	if c.Window <= 0 {
		c.Window = 100 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Stats are cumulative counters, safe to read from any goroutine.
type Stats struct {
	Batches    int64
	Candidates int64
	Scheduled  int64
	Fired      int64
}

// Watcher observes insertions on a document and keeps at most one pending
// re-scan timer. Every qualifying batch cancels the pending timer and arms
// a new one, so the last scheduling wins.
type Watcher struct {
	cfg    Config
	doc    dom.Document
	state  State
	detach func()

	timer   *time.Timer
	timerCh <-chan time.Time

	batches    atomic.Int64
	candidates atomic.Int64
	scheduled  atomic.Int64
	fired      atomic.Int64
}

// New creates an idle Watcher for doc.
func New(doc dom.Document, cfg Config) *Watcher {
	cfg.defaults()
	return &Watcher{cfg: cfg, doc: doc}
}

// Start attaches the insertion observer. Batches are passed to deliver,
// which is expected to hand them back to Handle on the owning goroutine.
// Starting an observing Watcher is a no-op.
func (w *Watcher) Start(deliver func([]dom.Mutation)) error {
	if w.state == Observing {
		return nil
	}
	detach, err := w.doc.Observe(deliver)
	if err != nil {
		return err
	}
	w.detach = detach
	w.state = Observing
	return nil
}

// Stop detaches the observer and cancels any pending timer.
func (w *Watcher) Stop() {
	if w.state == Idle {
		return
	}
	if w.detach != nil {
		w.detach()
		w.detach = nil
	}
	w.cancel()
	w.state = Idle
}

// State returns the current state.
func (w *Watcher) State() State { return w.state }

// Handle inspects the added nodes of one batch and (re)arms the timer if
// any of them is a candidate. Removed nodes are ignored. Batches that
// arrive while Idle are dropped. It reports whether the timer was armed.
func (w *Watcher) Handle(batch []dom.Mutation) bool {
	if w.state != Observing {
		return false
	}
	w.batches.Add(1)

	if !w.anyCandidate(batch) {
		return false
	}
	w.candidates.Add(1)
	w.arm()
	return true
}

// C fires when the debounce window of the last qualifying batch expires.
// It is nil when no scan is pending.
func (w *Watcher) C() <-chan time.Time { return w.timerCh }

// Pending reports whether a scan is scheduled.
func (w *Watcher) Pending() bool { return w.timerCh != nil }

// Fired must be called after receiving from C.
func (w *Watcher) Fired() {
	w.fired.Add(1)
	w.timer = nil
	w.timerCh = nil
}

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Batches:    w.batches.Load(),
		Candidates: w.candidates.Load(),
		Scheduled:  w.scheduled.Load(),
		Fired:      w.fired.Load(),
	}
}

func (w *Watcher) anyCandidate(batch []dom.Mutation) bool {
	for _, m := range batch {
		for _, n := range m.Added {
			ok, err := w.cfg.IsCandidate(n)
			if err != nil {
				w.cfg.Logger.Debug("watcher: candidate check failed", "error", err)
				continue
			}
			if ok {
				return true
			}
		}
	}
	return false
}

func (w *Watcher) arm() {
	w.cancel()
	w.timer = time.NewTimer(w.cfg.Window)
	w.timerCh = w.timer.C
	w.scheduled.Add(1)
}

func (w *Watcher) cancel() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
		w.timerCh = nil
	}
}
