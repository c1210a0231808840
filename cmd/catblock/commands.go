package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/catblock/browser"
	"github.com/hazyhaar/catblock/cardfilter"
	"github.com/hazyhaar/catblock/dom/htmldom"
	"github.com/hazyhaar/catblock/dom/roddom"
	"github.com/hazyhaar/catblock/idgen"
	"github.com/hazyhaar/catblock/store"
)

const defaultDB = "catblock.db"

func cmdRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to catblock.yaml")
	pageURL := fs.String("url", "", "page to filter (overrides config)")
	dbPath := fs.String("db", "", "block-list database (overrides config; empty = in-memory)")
	remote := fs.String("remote", "", "ws:// URL of a running Chrome")
	history := fs.String("history", "", "record decisions in this SQLite history database")
	headful := fs.Bool("headful", false, "visible Chrome on Xvfb")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger := newLogger(*logLevel)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *pageURL != "" {
		cfg.Page.URL = *pageURL
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *remote != "" {
		cfg.Browser.Remote = *remote
	}
	if *headful {
		cfg.Browser.Stealth = "headful"
	}
	if cfg.Page.URL == "" {
		return fmt.Errorf("run: no page url (use -url or page.url in config)")
	}
	if cfg.Page.ID == "" {
		cfg.Page.ID = idgen.Page()
	}

	st, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	mode, err := browser.ParseMode(cfg.Browser.Stealth)
	if err != nil {
		return err
	}
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		Bin:              cfg.Browser.Bin,
		Mode:             mode,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	defer mgr.Close()

	tab, err := browser.OpenTab(ctx, mgr, cfg.Page.URL, cfg.Page.ID)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	defer tab.Close()

	page := roddom.New(ctx, tab.Page, logger)
	defer page.Close()

	if *history != "" {
		cfg.Sinks = append(cfg.Sinks, cardfilter.SinkConfig{Type: "sqlite", Path: *history})
	}
	var extra []cardfilter.Sink
	if len(cfg.Sinks) == 0 {
		extra = append(extra, cardfilter.NewStdoutSink(nil))
	}
	eng, err := cardfilter.NewFromConfig(cfg, page, st, logger, extra...)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	select {
	case <-ctx.Done():
	case <-eng.Done():
	}
	eng.Stop()

	s := eng.Stats()
	logger.Info("catblock: stopped",
		"page_id", cfg.Page.ID, "scans", s.Scans, "reconciles", s.Reconciles,
		"hidden", s.Hidden, "shown", s.Shown)
	return nil
}

func cmdFilter(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("filter", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to catblock.yaml (selectors, store)")
	file := fs.String("file", "", "HTML file to filter ('-' for stdin)")
	pageURL := fs.String("url", "", "page to fetch over HTTP and filter")
	dbPath := fs.String("db", "", "block-list database (empty = in-memory)")
	block := fs.String("block", "", "comma-separated categories to block, added to the list")
	out := fs.String("o", "", "output file (default stdout)")
	decisions := fs.Bool("decisions", false, "print decisions as JSON lines on stderr")
	history := fs.String("history", "", "record decisions in this SQLite history database")
	logLevel := fs.String("log-level", "warn", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger := newLogger(*logLevel)

	if (*file == "") == (*pageURL == "") {
		return fmt.Errorf("filter: exactly one of -file or -url is required")
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}

	doc, err := loadDocument(ctx, *file, *pageURL, logger)
	if err != nil {
		return err
	}
	if doc.IsShell() {
		logger.Warn("catblock: page looks client-rendered, cards may be missing; try 'catblock run'")
	}

	st, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	for _, c := range splitList(*block) {
		if _, err := store.Add(ctx, st, cfg.Store.Area, cfg.Store.Key, c); err != nil {
			return fmt.Errorf("filter: block %q: %w", c, err)
		}
	}

	var sinks []cardfilter.Sink
	if *decisions {
		sinks = append(sinks, cardfilter.NewStdoutSink(os.Stderr))
	}
	if *history != "" {
		h, err := cardfilter.OpenSQLiteSink(ctx, *history, logger)
		if err != nil {
			return fmt.Errorf("filter: history: %w", err)
		}
		sinks = append(sinks, h)
	}
	cfg.Sinks = nil
	eng, err := cardfilter.NewFromConfig(cfg, doc, st, logger, sinks...)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("filter: %w", err)
	}
	eng.Stop()

	s := eng.Stats()
	logger.Info("catblock: filtered", "hidden", s.Hidden, "blocked_categories", s.Blocked)

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("filter: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := doc.Render(w); err != nil {
		return fmt.Errorf("filter: render: %w", err)
	}
	return nil
}

func cmdEdit(ctx context.Context, args []string, block bool) error {
	name := "unblock"
	if block {
		name = "block"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	dbPath := fs.String("db", defaultDB, "block-list database")
	logLevel := fs.String("log-level", "warn", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger := newLogger(*logLevel)
	if fs.NArg() == 0 {
		return fmt.Errorf("%s: no category given", name)
	}

	sc := defaultStoreConfig()
	sc.Path = *dbPath
	st, closeStore, err := openStore(ctx, sc, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	for _, c := range fs.Args() {
		var changed bool
		if block {
			changed, err = store.Add(ctx, st, sc.Area, sc.Key, c)
		} else {
			changed, err = store.Remove(ctx, st, sc.Area, sc.Key, c)
		}
		if err != nil {
			return fmt.Errorf("%s %q: %w", name, c, err)
		}
		switch {
		case !changed && block:
			fmt.Printf("already blocked: %s\n", c)
		case !changed:
			fmt.Printf("not blocked: %s\n", c)
		case block:
			fmt.Printf("blocked: %s\n", c)
		default:
			fmt.Printf("unblocked: %s\n", c)
		}
	}
	return nil
}

func cmdList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	dbPath := fs.String("db", defaultDB, "block-list database")
	logLevel := fs.String("log-level", "warn", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger := newLogger(*logLevel)

	sc := defaultStoreConfig()
	sc.Path = *dbPath
	st, closeStore, err := openStore(ctx, sc, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	list, _, err := st.Get(ctx, sc.Area, sc.Key)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	for _, c := range list {
		fmt.Println(c)
	}
	return nil
}

func cmdHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	dbPath := fs.String("db", "catblock-history.db", "history database")
	category := fs.String("category", "", "only this category")
	pageID := fs.String("page", "", "only this page id")
	since := fs.Duration("since", 0, "only decisions newer than this, e.g. 1h")
	limit := fs.Int("limit", 50, "maximum rows")
	prune := fs.Duration("prune", 0, "delete history older than this before listing, e.g. 720h")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *prune > 0 {
		n, err := cardfilter.PruneHistory(ctx, *dbPath, *prune)
		if err != nil {
			return fmt.Errorf("history: prune: %w", err)
		}
		fmt.Fprintf(os.Stderr, "pruned %d rows older than %s\n", n, *prune)
	}

	f := cardfilter.HistoryFilter{PageID: *pageID, Category: *category, Limit: *limit}
	if *since > 0 {
		f.Since = time.Now().Add(-*since)
	}
	rows, err := cardfilter.QueryHistory(ctx, *dbPath, f)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	for _, d := range rows {
		state := "shown"
		if d.Hidden {
			state = "hidden"
		}
		fmt.Printf("%s\t%s\t%-6s\t%-9s\t%s\n",
			time.UnixMilli(d.Timestamp).Format(time.RFC3339), d.PageID, state, d.Reason, d.Category)
	}
	return nil
}

func loadConfig(path string) (*cardfilter.Config, error) {
	if path == "" {
		return cardfilter.ParseConfig(nil)
	}
	cfg, err := cardfilter.LoadConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func defaultStoreConfig() cardfilter.StoreConfig {
	cfg, _ := cardfilter.ParseConfig(nil)
	return cfg.Store
}

func loadDocument(ctx context.Context, file, pageURL string, logger *slog.Logger) (*htmldom.Document, error) {
	if pageURL != "" {
		return htmldom.NewFetcher(htmldom.WithLogger(logger)).Fetch(ctx, pageURL)
	}
	if file == "-" {
		return htmldom.Parse(os.Stdin)
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	defer f.Close()
	return htmldom.Parse(f)
}

// openStore opens the SQLite store at sc.Path and starts its change poller,
// or returns an in-memory store when no path is set.
func openStore(ctx context.Context, sc cardfilter.StoreConfig, logger *slog.Logger) (store.Store, func(), error) {
	if sc.Path == "" {
		return store.NewMemory(), func() {}, nil
	}

	db, err := store.Open(sc.Path, store.WithMkdirAll(), store.WithBusyTimeout(int(sc.BusyTimeout.Milliseconds())))
	if err != nil {
		return nil, nil, err
	}
	st, err := store.NewSQLite(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		st.Watch(watchCtx, store.WatchOptions{Interval: sc.PollInterval, Debounce: sc.Debounce})
	}()

	return st, func() {
		cancel()
		<-done
		db.Close()
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
