package cardfilter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/catblock/dom"
	"github.com/hazyhaar/catblock/dom/htmldom"
	"github.com/hazyhaar/catblock/store"
)

const page = `<html><body><div id="grid">
<div class="group/card" id="slots"><a href="/category/slots">img</a></div>
<div class="group/card" id="chat"><a href="/category/just-chatting"><span>Just Chatting</span></a></div>
</div></body></html>`

func card(slug, label string) string {
	return fmt.Sprintf(`<div class="group/card"><a href="/category/%s"><span>%s</span></a></div>`, slug, label)
}

type harness struct {
	doc *htmldom.Document
	st  *store.Memory
	eng *Engine
}

func start(t *testing.T, markup string, blocked []string, mod func(*Options)) *harness {
	t.Helper()
	doc, err := htmldom.ParseString(markup)
	if err != nil {
		t.Fatal(err)
	}
	st := store.NewMemory()
	if blocked != nil {
		if err := st.Set(context.Background(), store.AreaSync, store.KeyBlockedCategories, blocked); err != nil {
			t.Fatal(err)
		}
	}
	opts := Options{Document: doc, Store: st, Debounce: 30 * time.Millisecond, ReactivationDelay: 20 * time.Millisecond}
	if mod != nil {
		mod(&opts)
	}
	eng := New(opts)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(eng.Stop)
	return &harness{doc: doc, st: st, eng: eng}
}

func (h *harness) node(t *testing.T, sel string) dom.Node {
	t.Helper()
	n, err := h.doc.Root().Query(sel)
	if err != nil || n == nil {
		t.Fatalf("query %s: %v", sel, err)
	}
	return n
}

func (h *harness) sync(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.eng.Sync(ctx); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) set(t *testing.T, area string, list []string) {
	t.Helper()
	if err := h.st.Set(context.Background(), area, store.KeyBlockedCategories, list); err != nil {
		t.Fatal(err)
	}
}

func isHidden(t *testing.T, n dom.Node) bool {
	t.Helper()
	v, _, err := n.Attr("style")
	if err != nil {
		t.Fatal(err)
	}
	return strings.Contains(v, "display: none")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEngine_InitialScanHidesBlocked(t *testing.T) {
	h := start(t, page, []string{"Slots"}, nil)

	if !isHidden(t, h.node(t, "#slots")) {
		t.Error("slots card should be hidden after Start")
	}
	if isHidden(t, h.node(t, "#chat")) {
		t.Error("chat card should stay visible")
	}
	if st := h.eng.Stats(); st.Scans != 1 || st.Hidden != 1 || st.Blocked != 1 {
		t.Errorf("stats: %+v", st)
	}
}

func TestEngine_ChangeReconciles(t *testing.T) {
	h := start(t, page, []string{"Slots"}, nil)
	slots := h.node(t, "#slots")

	h.set(t, store.AreaSync, []string{})
	h.sync(t)
	if isHidden(t, slots) {
		t.Error("slots card should be shown after unblocking")
	}
	if v, _, _ := slots.Attr("data-catblock-original-category"); v != "slots" {
		t.Errorf("original category: %q", v)
	}

	h.set(t, store.AreaSync, []string{" just chatting "})
	h.sync(t)
	if !isHidden(t, h.node(t, "#chat")) {
		t.Error("chat card should be hidden")
	}
	if st := h.eng.Stats(); st.Reconciles != 2 || st.Scans != 1 {
		t.Errorf("stats: %+v", st)
	}
}

func TestEngine_ChangesAppliedInOrder(t *testing.T) {
	h := start(t, page, nil, nil)

	lists := [][]string{{"slots"}, {"just chatting"}, {}, {"slots", "just chatting"}, {"SLOTS"}}
	for _, l := range lists {
		h.set(t, store.AreaSync, l)
	}
	h.sync(t)

	if !isHidden(t, h.node(t, "#slots")) || isHidden(t, h.node(t, "#chat")) {
		t.Error("page does not reflect the last list")
	}
	if got := h.eng.Stats().Reconciles; got != int64(len(lists)) {
		t.Errorf("reconciles: got %d, want %d", got, len(lists))
	}
}

func TestEngine_OneDebouncedScanPerBurst(t *testing.T) {
	h := start(t, `<html><body><div id="grid"></div></body></html>`, []string{"poker"}, nil)
	grid := h.node(t, "#grid")

	var sb strings.Builder
	for i := 0; i < 20; i++ {
		switch i {
		case 7, 13:
			sb.WriteString(`<div class="promo">ad</div>`)
		default:
			sb.WriteString(card("poker", fmt.Sprintf("Poker %d", i)))
		}
	}
	if _, err := h.doc.Append(grid, sb.String()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "mutation scan", func() bool { return h.eng.Stats().MutationScans == 1 })
	time.Sleep(100 * time.Millisecond)
	if got := h.eng.Stats().MutationScans; got != 1 {
		t.Fatalf("mutation scans: got %d, want 1", got)
	}

	processed, _ := grid.QueryAll("[data-catblock-processed]")
	if len(processed) != 18 {
		t.Errorf("processed: got %d, want 18", len(processed))
	}
	promos, _ := grid.QueryAll(".promo")
	for _, p := range promos {
		if _, ok, _ := p.Attr("data-catblock-processed"); ok {
			t.Error("promo node must not be touched")
		}
	}
	if st := h.eng.Stats(); st.Watcher.Batches != 1 {
		t.Errorf("batches: %d", st.Watcher.Batches)
	}
}

func TestEngine_BatchesCoalesce(t *testing.T) {
	h := start(t, `<html><body><div id="grid"></div></body></html>`, []string{"slots"}, func(o *Options) {
		o.Debounce = 150 * time.Millisecond
	})
	grid := h.node(t, "#grid")

	for i := 0; i < 10; i++ {
		if _, err := h.doc.Append(grid, card("slots", "Slots")); err != nil {
			t.Fatal(err)
		}
	}
	h.sync(t)
	waitFor(t, "mutation scan", func() bool { return h.eng.Stats().MutationScans >= 1 })
	time.Sleep(300 * time.Millisecond)

	st := h.eng.Stats()
	if st.MutationScans != 1 {
		t.Errorf("mutation scans: got %d, want 1", st.MutationScans)
	}
	if st.Watcher.Scheduled != 10 || st.Watcher.Fired != 1 {
		t.Errorf("watcher: %+v", st.Watcher)
	}
	if st.Hidden != 10 {
		t.Errorf("hidden: got %d, want 10", st.Hidden)
	}
}

func TestEngine_LateCategoryIsRetried(t *testing.T) {
	h := start(t, `<html><body><div id="grid"></div></body></html>`, []string{"slots"}, nil)
	grid := h.node(t, "#grid")

	added, err := h.doc.Append(grid, `<div class="group/card" id="late"><a href="/u/someone">x</a></div>`)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first scan", func() bool { return h.eng.Stats().MutationScans == 1 })
	late := added[0]
	if _, ok, _ := late.Attr("data-catblock-processed"); ok {
		t.Fatal("card without category must stay unprocessed")
	}

	// The category link arrives in a nested insertion.
	if _, err := h.doc.Append(late, `<p class="meta"><a href="/category/slots">Slots</a></p>`); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "second scan", func() bool { return h.eng.Stats().MutationScans == 2 })
	if !isHidden(t, late) {
		t.Error("card should be hidden once its category appears")
	}
}

func TestEngine_VisibilityRescan(t *testing.T) {
	h := start(t, `<html><body><div id="grid"><div id="late"><a href="/category/slots">Slots</a></div></div></body></html>`,
		[]string{"slots"}, nil)
	late := h.node(t, "#late")

	// Attribute changes are not observed; only the reactivation scan sees it.
	late.SetAttr("class", "group/card")
	h.doc.SetHidden(true)
	h.doc.SetHidden(false)

	waitFor(t, "visible scan", func() bool { return h.eng.Stats().VisibleScans == 1 })
	if !isHidden(t, late) {
		t.Error("card should be hidden by the reactivation scan")
	}
}

func TestEngine_StoreUnavailable(t *testing.T) {
	doc, err := htmldom.ParseString(page)
	if err != nil {
		t.Fatal(err)
	}
	before := doc.String()

	eng := New(Options{Document: doc})
	if err := eng.Start(context.Background()); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Start: got %v, want ErrUnavailable", err)
	}
	eng.Stop()
	if doc.String() != before {
		t.Error("document must not be touched without a store")
	}
	if err := eng.Sync(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Sync: got %v", err)
	}
}

type closeCounter struct {
	closed atomic.Int32
}

func (c *closeCounter) Send(context.Context, Decision) error     { return nil }
func (c *closeCounter) SendReport(context.Context, Report) error { return nil }
func (c *closeCounter) Close() error {
	c.closed.Add(1)
	return nil
}

func TestEngine_SinksClosedWhenNeverRunning(t *testing.T) {
	doc, _ := htmldom.ParseString(page)

	noStore := &closeCounter{}
	eng := New(Options{Document: doc, Sinks: []Sink{noStore}})
	if err := eng.Start(context.Background()); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Start: %v", err)
	}
	eng.Stop()
	if n := noStore.closed.Load(); n != 1 {
		t.Errorf("store unavailable: sink closed %d times, want 1", n)
	}

	noDoc := &closeCounter{}
	eng = New(Options{Store: store.NewMemory(), Sinks: []Sink{noDoc}})
	if err := eng.Start(context.Background()); err == nil {
		t.Fatal("Start without a document should fail")
	}
	if n := noDoc.closed.Load(); n != 1 {
		t.Errorf("no document: sink closed %d times, want 1", n)
	}

	unstarted := &closeCounter{}
	eng = New(Options{Document: doc, Store: store.NewMemory(), Sinks: []Sink{unstarted}})
	eng.Stop()
	eng.Stop()
	if n := unstarted.closed.Load(); n != 1 {
		t.Errorf("never started: sink closed %d times, want 1", n)
	}
	if err := eng.Start(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Start after Stop: %v", err)
	}
	if n := unstarted.closed.Load(); n != 1 {
		t.Errorf("Start after Stop reopened or reclosed sinks: %d", n)
	}
}

func TestEngine_SinksClosedOnceAfterRun(t *testing.T) {
	doc, _ := htmldom.ParseString(page)
	c := &closeCounter{}
	eng := New(Options{Document: doc, Store: store.NewMemory(), Sinks: []Sink{c}})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	eng.Stop()
	eng.Stop()
	if n := c.closed.Load(); n != 1 {
		t.Errorf("sink closed %d times, want 1", n)
	}
}

type flakyStore struct {
	*store.Memory
	mu   sync.Mutex
	fail bool
}

func (f *flakyStore) Get(ctx context.Context, area, key string) ([]string, bool, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, false, errors.New("quota exceeded")
	}
	return f.Memory.Get(ctx, area, key)
}

func TestEngine_ReadFailureShowsEverything(t *testing.T) {
	doc, err := htmldom.ParseString(page)
	if err != nil {
		t.Fatal(err)
	}
	mem := store.NewMemory()
	mem.Set(context.Background(), store.AreaSync, store.KeyBlockedCategories, []string{"slots"})
	st := &flakyStore{Memory: mem, fail: true}

	eng := New(Options{Document: doc, Store: st})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("read failure must not fail Start: %v", err)
	}
	defer eng.Stop()

	slots, _ := doc.Root().Query("#slots")
	if isHidden(t, slots) {
		t.Fatal("failed read must show everything")
	}

	mem.Set(context.Background(), store.AreaSync, store.KeyBlockedCategories, []string{"Slots"})
	if err := eng.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !isHidden(t, slots) {
		t.Error("next change should restore filtering")
	}
}

func TestEngine_OtherAreaIgnored(t *testing.T) {
	h := start(t, page, []string{}, nil)

	h.set(t, store.AreaLocal, []string{"slots"})
	h.sync(t)
	if isHidden(t, h.node(t, "#slots")) {
		t.Error("local area must not drive the filter")
	}
	if got := h.eng.Stats().Reconciles; got != 0 {
		t.Errorf("reconciles: %d", got)
	}
}

func TestEngine_ToggleCard(t *testing.T) {
	h := start(t, page, []string{}, nil)
	chat := h.node(t, "#chat")
	ctx := context.Background()

	blocked, err := h.eng.ToggleCard(ctx, chat)
	if err != nil || !blocked {
		t.Fatalf("first toggle: %v %v", blocked, err)
	}
	h.sync(t)
	if !isHidden(t, chat) {
		t.Error("chat should be hidden after toggle")
	}
	list, _, _ := h.st.Get(ctx, store.AreaSync, store.KeyBlockedCategories)
	if len(list) != 1 || list[0] != "Just Chatting" {
		t.Errorf("stored list: %v", list)
	}

	blocked, err = h.eng.ToggleCard(ctx, chat)
	if err != nil || blocked {
		t.Fatalf("second toggle: %v %v", blocked, err)
	}
	h.sync(t)
	if isHidden(t, chat) {
		t.Error("chat should be shown after second toggle")
	}
}

func TestEngine_ToggleCardWithoutCategory(t *testing.T) {
	h := start(t, `<html><body><div class="group/card" id="c"><a href="/u/x">x</a></div></body></html>`, nil, nil)

	if _, err := h.eng.ToggleCard(context.Background(), h.node(t, "#c")); !errors.Is(err, ErrNoCategory) {
		t.Errorf("got %v, want ErrNoCategory", err)
	}
}

func TestEngine_SinksReceiveDecisions(t *testing.T) {
	var (
		mu        sync.Mutex
		decisions []Decision
		reports   []Report
	)
	cb := NewCallbackSink(
		func(_ context.Context, d Decision) error {
			mu.Lock()
			decisions = append(decisions, d)
			mu.Unlock()
			return nil
		},
		func(_ context.Context, r Report) error {
			mu.Lock()
			reports = append(reports, r)
			mu.Unlock()
			return nil
		},
	)
	h := start(t, page, []string{"slots"}, func(o *Options) {
		o.PageID = "home"
		o.Sinks = []Sink{cb}
	})
	h.set(t, store.AreaSync, nil)
	h.sync(t)
	h.eng.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(decisions) != 2 {
		t.Fatalf("decisions: %+v", decisions)
	}
	first, second := decisions[0], decisions[1]
	if !first.Hidden || first.Reason != "classify" || first.Category != "slots" || first.PageID != "home" {
		t.Errorf("first: %+v", first)
	}
	if second.Hidden || second.Reason != "reconcile" {
		t.Errorf("second: %+v", second)
	}
	if !strings.HasPrefix(first.ID, "dec_") || first.ID == second.ID {
		t.Errorf("ids: %q %q", first.ID, second.ID)
	}
	if len(reports) != 2 || reports[0].Trigger != "start" || reports[1].Trigger != "change" {
		t.Errorf("reports: %+v", reports)
	}
}

func TestEngine_Lifecycle(t *testing.T) {
	h := start(t, page, nil, nil)

	if err := h.eng.Start(context.Background()); !errors.Is(err, ErrStarted) {
		t.Errorf("second Start: %v", err)
	}
	h.eng.Stop()
	h.eng.Stop()
	select {
	case <-h.eng.Done():
	default:
		t.Error("Done should be closed after Stop")
	}
	if err := h.eng.Sync(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Sync after Stop: %v", err)
	}

	// Insertions after Stop are not observed.
	h.doc.Append(h.node(t, "#grid"), card("slots", "Slots"))
	if st := h.eng.Stats(); st.Watcher.Batches != 0 {
		t.Errorf("batches after stop: %d", st.Watcher.Batches)
	}
}

func TestEngine_ContextCancelStopsLoop(t *testing.T) {
	doc, _ := htmldom.ParseString(page)
	ctx, cancel := context.WithCancel(context.Background())
	eng := New(Options{Document: doc, Store: store.NewMemory()})
	if err := eng.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	select {
	case <-eng.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit on cancel")
	}
	eng.Stop()
}

func TestNewFromConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
page:
  id: grid
engine:
  debounce: 40ms
  selectors:
    card: article.stream
sinks:
  - type: webhook
    url: http://127.0.0.1:1/hook
`))
	if err != nil {
		t.Fatal(err)
	}
	doc, _ := htmldom.ParseString(`<html><body><article class="stream"><a href="/category/slots">s</a></article></body></html>`)
	st := store.NewMemory()
	st.Set(context.Background(), store.AreaSync, store.KeyBlockedCategories, []string{"slots"})

	eng, err := NewFromConfig(cfg, doc, st, nil)
	if err != nil {
		t.Fatal(err)
	}
	if eng.opts.PageID != "grid" || eng.opts.Debounce != 40*time.Millisecond || eng.out.Len() != 1 {
		t.Errorf("options: %+v", eng.opts)
	}
	if eng.opts.Selectors.Card != "article.stream" {
		t.Errorf("card selector: %q", eng.opts.Selectors.Card)
	}
}

func TestNewFromConfig_SQLiteHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	cfg, err := ParseConfig([]byte(fmt.Sprintf("page:\n  id: grid\nsinks:\n  - type: sqlite\n    path: %q\n", path)))
	if err != nil {
		t.Fatal(err)
	}
	doc, _ := htmldom.ParseString(page)
	st := store.NewMemory()
	st.Set(context.Background(), store.AreaSync, store.KeyBlockedCategories, []string{"slots"})

	eng, err := NewFromConfig(cfg, doc, st, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	eng.Stop()

	rows, err := QueryHistory(context.Background(), path, HistoryFilter{PageID: "grid"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Category != "slots" || !rows[0].Hidden || rows[0].Reason != "classify" {
		t.Errorf("history: %+v", rows)
	}
}
