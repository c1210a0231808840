// Package cardfilter hides stream cards whose category is on a persisted
// block list and keeps that state consistent while cards stream into the
// page and while the list changes.
//
// An Engine owns one document. All classification runs on a single loop
// goroutine fed by one FIFO queue, so mutation batches, store change
// notifications and visibility events are handled strictly in arrival
// order and never concurrently.
package cardfilter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/catblock/cardfilter/internal/blocklist"
	"github.com/hazyhaar/catblock/cardfilter/internal/classify"
	"github.com/hazyhaar/catblock/cardfilter/internal/sink"
	"github.com/hazyhaar/catblock/cardfilter/internal/watcher"
	"github.com/hazyhaar/catblock/dom"
	"github.com/hazyhaar/catblock/idgen"
	"github.com/hazyhaar/catblock/store"
)

var (
	// ErrStarted is returned by a second Start.
	ErrStarted = errors.New("cardfilter: already started")
	// ErrNotRunning is returned by loop calls when the engine is not running.
	ErrNotRunning = errors.New("cardfilter: not running")
	// ErrNoCategory is returned by ToggleCard for a card without a category.
	ErrNoCategory = errors.New("cardfilter: card has no category")
)

// Options configure an Engine.
type Options struct {
	// Document is the page to filter. Required.
	Document dom.Document
	// Store holds the block list. A nil Store makes Start fail with
	// store.ErrUnavailable.
	Store store.Store
	// Area and Key locate the block list. Default: "sync", "blockedCategories".
	Area string
	Key  string
	// Selectors override the card markup selectors field by field.
	Selectors Selectors
	// Debounce is the delay between a qualifying insertion and the re-scan.
	// Default: 100ms.
	Debounce time.Duration
	// ReactivationDelay is the delay of the extra scan after the page
	// becomes visible again. Default: 500ms.
	ReactivationDelay time.Duration
	// PageID tags emitted decisions. Default: a generated page ID.
	PageID string
	Sinks  []Sink
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Area == "" {
		o.Area = store.AreaSync
	}
	if o.Key == "" {
		o.Key = store.KeyBlockedCategories
	}
	if o.Debounce <= 0 {
		o.Debounce = 100 * time.Millisecond
	}
	if o.ReactivationDelay <= 0 {
		o.ReactivationDelay = 500 * time.Millisecond
	}
	if o.PageID == "" {
		o.PageID = idgen.Page()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Stats are cumulative engine counters.
type Stats struct {
	Scans         int64 // full scans, all triggers
	MutationScans int64
	VisibleScans  int64
	Reconciles    int64
	Hidden        int64 // cards hidden, classify and reconcile
	Shown         int64 // cards shown again by reconcile
	Blocked       int64 // categories in the cache
	Dropped       int64 // events not delivered to sinks
	Watcher       watcher.Stats
}

type eventKind int

const (
	evMutations eventKind = iota
	evChange
	evVisible
	evCall
)

type event struct {
	kind   eventKind
	batch  []dom.Mutation
	change store.Change
	call   func()
}

type output struct {
	decision *sink.Decision
	report   *sink.Report
}

// Engine is the incremental classification engine for one document.
type Engine struct {
	opts   Options
	doc    dom.Document
	st     store.Store
	logger *slog.Logger

	cache *blocklist.Cache
	cls   *classify.Classifier
	watch *watcher.Watcher
	out   *sink.Router

	events  chan event
	outputs chan output
	quit    chan struct{}
	done    chan struct{}
	outDone chan struct{}

	started   atomic.Bool
	running   atomic.Bool
	stopOnce  sync.Once
	sinksOnce sync.Once

	unsubscribe func()
	unvisible   func()
	react       *time.Timer
	reactC      <-chan time.Time

	scans         atomic.Int64
	mutationScans atomic.Int64
	visibleScans  atomic.Int64
	reconciles    atomic.Int64
	hidden        atomic.Int64
	shown         atomic.Int64
	blocked       atomic.Int64
	dropped       atomic.Int64
}

// New creates an Engine. It does not touch the document until Start.
func New(opts Options) *Engine {
	opts.defaults()
	e := &Engine{
		opts:    opts,
		doc:     opts.Document,
		st:      opts.Store,
		logger:  opts.Logger,
		out:     sink.NewRouter(opts.Logger, opts.Sinks...),
		events:  make(chan event, 1024),
		outputs: make(chan output, 256),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		outDone: make(chan struct{}),
	}
	e.cache = blocklist.New(opts.Store, opts.Area, opts.Key, opts.Logger)
	e.cls = classify.New(classify.Config{
		Cache:      e.cache,
		Selectors:  opts.Selectors,
		OnDecision: e.decide,
		Logger:     opts.Logger,
	})
	e.watch = watcher.New(opts.Document, watcher.Config{
		Window:      opts.Debounce,
		IsCandidate: e.cls.IsCandidate,
		Logger:      opts.Logger,
	})
	return e
}

// Start loads the block list, classifies the cards already on the page,
// starts watching insertions and runs the loop until Stop or ctx is done.
//
// Without a store Start logs and returns store.ErrUnavailable; the page is
// never touched. A failed block-list read is not an error: the list is
// treated as empty and the next change notification repairs it.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrStarted
	}
	select {
	case <-e.quit:
		e.closeSinks()
		return ErrNotRunning
	default:
	}
	if e.st == nil {
		e.logger.Error("cardfilter: block-list store unavailable, filtering disabled")
		e.closeSinks()
		return store.ErrUnavailable
	}
	if e.doc == nil {
		e.closeSinks()
		return fmt.Errorf("cardfilter: start: no document")
	}

	// Subscribe before loading so a write racing the load is queued.
	e.unsubscribe = e.st.Subscribe(e.onChange)

	if err := e.cache.Load(ctx); err != nil {
		e.logger.Warn("cardfilter: showing everything until the next change", "error", err)
	}
	e.blocked.Store(int64(e.cache.Len()))
	e.logger.Info("cardfilter: block list loaded",
		"page_id", e.opts.PageID, "count", e.cache.Len(), "categories", e.cache.List())

	unvis, err := e.doc.OnVisible(func() { e.post(event{kind: evVisible}) })
	if err != nil {
		e.logger.Warn("cardfilter: visibility events unavailable", "error", err)
	}
	e.unvisible = unvis

	go e.emit(ctx)
	e.scan("start")

	if err := e.watch.Start(func(b []dom.Mutation) { e.post(event{kind: evMutations, batch: b}) }); err != nil {
		e.logger.Error("cardfilter: start mutation watcher", "error", err)
	}

	e.running.Store(true)
	go e.loop(ctx)
	return nil
}

// Stop detaches every observer and waits for the loop and sink delivery to
// drain. It is safe to call more than once and on an engine that never
// started; sinks are closed either way.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.quit) })
	if e.running.Load() {
		<-e.done
		<-e.outDone
		return
	}
	if !e.started.Load() {
		e.closeSinks()
	}
}

// closeSinks closes the sink router exactly once.
func (e *Engine) closeSinks() {
	e.sinksOnce.Do(func() {
		if err := e.out.Close(); err != nil {
			e.logger.Warn("cardfilter: close sinks", "error", err)
		}
	})
}

// Done is closed when the loop has exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Sync returns once every event queued before the call has been handled.
// A pending debounced scan is not forced.
func (e *Engine) Sync(ctx context.Context) error {
	return e.call(ctx, func() {})
}

// ScanNow runs a full scan on the loop and returns its counters.
func (e *Engine) ScanNow(ctx context.Context) (ScanStats, error) {
	var st ScanStats
	err := e.call(ctx, func() { st = e.scan("manual") })
	return st, err
}

// ToggleCard flips the block state of the card's category in the store and
// reports whether the category is blocked afterwards. The resulting change
// notification reconciles the page like any other list edit.
func (e *Engine) ToggleCard(ctx context.Context, card dom.Node) (bool, error) {
	var (
		category string
		ok       bool
		cerr     error
	)
	if err := e.call(ctx, func() { category, ok, cerr = e.cls.Category(card) }); err != nil {
		return false, err
	}
	if cerr != nil {
		return false, fmt.Errorf("cardfilter: toggle: %w", cerr)
	}
	if !ok {
		return false, ErrNoCategory
	}

	blocked, err := store.Toggle(ctx, e.st, e.opts.Area, e.opts.Key, category)
	if err != nil {
		return false, fmt.Errorf("cardfilter: toggle %q: %w", category, err)
	}
	e.logger.Info("cardfilter: category toggled", "category", category, "blocked", blocked)
	return blocked, nil
}

// Stats returns a snapshot of the counters. Safe from any goroutine.
func (e *Engine) Stats() Stats {
	return Stats{
		Scans:         e.scans.Load(),
		MutationScans: e.mutationScans.Load(),
		VisibleScans:  e.visibleScans.Load(),
		Reconciles:    e.reconciles.Load(),
		Hidden:        e.hidden.Load(),
		Shown:         e.shown.Load(),
		Blocked:       e.blocked.Load(),
		Dropped:       e.dropped.Load(),
		Watcher:       e.watch.Stats(),
	}
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)
	defer e.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.quit:
			return
		case ev := <-e.events:
			e.handle(ev)
		case <-e.watch.C():
			e.watch.Fired()
			e.scan("mutation")
		case <-e.reactC:
			e.react, e.reactC = nil, nil
			e.scan("visible")
		}
	}
}

func (e *Engine) handle(ev event) {
	switch ev.kind {
	case evMutations:
		e.watch.Handle(ev.batch)
	case evChange:
		e.reconcile(ev.change)
	case evVisible:
		if e.react != nil {
			e.react.Stop()
		}
		e.react = time.NewTimer(e.opts.ReactivationDelay)
		e.reactC = e.react.C
	case evCall:
		ev.call()
	}
}

func (e *Engine) shutdown() {
	e.watch.Stop()
	if e.react != nil {
		e.react.Stop()
		e.react, e.reactC = nil, nil
	}
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	if e.unvisible != nil {
		e.unvisible()
	}
	close(e.outputs)
	e.logger.Info("cardfilter: stopped", "page_id", e.opts.PageID)
}

func (e *Engine) scan(trigger string) ScanStats {
	st, err := e.cls.ScanAll(e.doc.Root())
	if err != nil {
		e.logger.Warn("cardfilter: scan failed", "trigger", trigger, "error", err)
	}
	e.scans.Add(1)
	switch trigger {
	case "mutation":
		e.mutationScans.Add(1)
	case "visible":
		e.visibleScans.Add(1)
	}
	e.logger.Debug("cardfilter: scan",
		"trigger", trigger, "candidates", st.Candidates, "hidden", st.Hidden,
		"shown", st.Shown, "missed", st.Missed, "errors", st.Errors)

	if trigger == "start" || st.Hidden+st.Shown+st.Errors > 0 {
		e.report(sink.Report{
			Trigger:   trigger,
			Processed: st.Hidden + st.Shown,
			Hidden:    st.Hidden,
			Shown:     st.Shown,
			Missed:    st.Missed,
			Errors:    st.Errors,
		})
	}
	return st
}

func (e *Engine) reconcile(c store.Change) {
	e.cache.OnExternalChange(c.NewValue)
	e.blocked.Store(int64(e.cache.Len()))

	st, err := e.cls.ReconcileAll(e.doc.Root())
	if err != nil {
		e.logger.Warn("cardfilter: reconcile failed", "error", err)
	}
	e.reconciles.Add(1)
	e.logger.Info("cardfilter: block list changed",
		"count", e.cache.Len(), "processed", st.Processed, "hidden", st.Hidden, "shown", st.Shown)

	e.report(sink.Report{
		Trigger:   "change",
		Processed: st.Processed,
		Hidden:    st.Hidden,
		Shown:     st.Shown,
		Errors:    st.Errors,
	})
}

func (e *Engine) onChange(c store.Change) {
	if c.Area != e.opts.Area || c.Key != e.opts.Key {
		return
	}
	e.post(event{kind: evChange, change: c})
}

// post queues ev for the loop. It gives up once the engine is stopping.
func (e *Engine) post(ev event) bool {
	select {
	case e.events <- ev:
		return true
	case <-e.quit:
		return false
	case <-e.done:
		return false
	}
}

func (e *Engine) call(ctx context.Context, fn func()) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	finished := make(chan struct{})
	ev := event{kind: evCall, call: func() {
		fn()
		close(finished)
	}}

	select {
	case e.events <- ev:
	case <-e.quit:
		return ErrNotRunning
	case <-e.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-e.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// decide runs on the loop for every applied visibility change.
func (e *Engine) decide(_ dom.Node, category string, hidden bool, reason string) {
	if hidden {
		e.hidden.Add(1)
	} else {
		e.shown.Add(1)
	}
	e.enqueue(output{decision: &sink.Decision{
		ID:        idgen.Decision(),
		Category:  category,
		Hidden:    hidden,
		Reason:    reason,
		Timestamp: time.Now().UnixMilli(),
	}})
}

func (e *Engine) report(r sink.Report) {
	r.Timestamp = time.Now().UnixMilli()
	e.enqueue(output{report: &r})
}

// enqueue never blocks the loop; events beyond the buffer are dropped.
func (e *Engine) enqueue(o output) {
	if e.out.Len() == 0 {
		return
	}
	select {
	case e.outputs <- o:
	default:
		if e.dropped.Add(1) == 1 {
			e.logger.Warn("cardfilter: sink backlog full, dropping events")
		}
	}
}

// emit delivers queued events to the sinks until the loop closes outputs.
func (e *Engine) emit(ctx context.Context) {
	defer close(e.outDone)
	defer e.closeSinks()

	sendCtx := context.WithoutCancel(ctx)
	for o := range e.outputs {
		if o.decision != nil {
			o.decision.PageID = e.opts.PageID
			e.out.Send(sendCtx, *o.decision)
		}
		if o.report != nil {
			o.report.PageID = e.opts.PageID
			e.out.SendReport(sendCtx, *o.report)
		}
	}
}
