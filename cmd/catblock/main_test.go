package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/catblock/cardfilter"
	"github.com/hazyhaar/catblock/store"
)

const grid = `<html><body><div id="grid">
<div class="group/card" id="a"><a href="/category/slots">x</a></div>
<div class="group/card" id="b"><a href="/category/chess"><span>Chess</span></a></div>
</div></body></html>`

func TestSplitList(t *testing.T) {
	got := splitList(" slots, ,Just Chatting,")
	if len(got) != 2 || got[0] != "slots" || got[1] != "Just Chatting" {
		t.Errorf("splitList: %q", got)
	}
	if splitList("") != nil {
		t.Error("empty input should yield nil")
	}
}

func TestCmdFilter_File(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "page.html")
	out := filepath.Join(dir, "out.html")
	if err := os.WriteFile(in, []byte(grid), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := cmdFilter(context.Background(), []string{"-file", in, "-block", "Slots", "-o", out}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	html := string(data)
	if strings.Count(html, "display: none") != 1 {
		t.Errorf("exactly one card should be hidden:\n%s", html)
	}
	if !strings.Contains(html, `data-catblock-original-category="Chess"`) {
		t.Errorf("chess card should be processed:\n%s", html)
	}
}

func TestCmdFilter_NeedsOneSource(t *testing.T) {
	if err := cmdFilter(context.Background(), nil); err == nil {
		t.Error("expected error without -file or -url")
	}
	if err := cmdFilter(context.Background(), []string{"-file", "a", "-url", "http://x"}); err == nil {
		t.Error("expected error with both sources")
	}
}

func TestCmdEdit_BlockUnblockList(t *testing.T) {
	db := filepath.Join(t.TempDir(), "blocks.db")
	ctx := context.Background()

	if err := cmdEdit(ctx, []string{"-db", db, "Slots", "Chess", "slots"}, true); err != nil {
		t.Fatal(err)
	}
	if err := cmdEdit(ctx, []string{"-db", db, "CHESS"}, false); err != nil {
		t.Fatal(err)
	}
	if err := cmdList(ctx, []string{"-db", db}); err != nil {
		t.Fatal(err)
	}

	sqlDB, err := store.Open(db)
	if err != nil {
		t.Fatal(err)
	}
	defer sqlDB.Close()
	st, err := store.NewSQLite(ctx, sqlDB, nil)
	if err != nil {
		t.Fatal(err)
	}
	list, _, err := st.Get(ctx, store.AreaSync, store.KeyBlockedCategories)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0] != "Slots" {
		t.Errorf("list: %q", list)
	}
}

func TestCmdEdit_NeedsCategory(t *testing.T) {
	db := filepath.Join(t.TempDir(), "blocks.db")
	if err := cmdEdit(context.Background(), []string{"-db", db}, true); err == nil {
		t.Error("expected error without category")
	}
}

func TestCmdFilter_History(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "page.html")
	hist := filepath.Join(dir, "history.db")
	if err := os.WriteFile(in, []byte(grid), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	args := []string{"-file", in, "-block", "slots", "-o", filepath.Join(dir, "out.html"), "-history", hist}
	if err := cmdFilter(ctx, args); err != nil {
		t.Fatal(err)
	}
	if err := cmdHistory(ctx, []string{"-db", hist}); err != nil {
		t.Fatal(err)
	}

	rows, err := cardfilter.QueryHistory(ctx, hist, cardfilter.HistoryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || !rows[0].Hidden || rows[0].Category != "slots" {
		t.Fatalf("decisions: %+v", rows)
	}
	chess, err := cardfilter.QueryHistory(ctx, hist, cardfilter.HistoryFilter{Category: "chess"})
	if err != nil {
		t.Fatal(err)
	}
	if len(chess) != 0 {
		t.Errorf("shown cards are not recorded at first classification: %+v", chess)
	}
}

func TestCmdHistory_Prune(t *testing.T) {
	hist := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := cardfilter.OpenSQLiteSink(ctx, hist, nil)
	if err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-72 * time.Hour).UnixMilli()
	s.Send(ctx, cardfilter.Decision{ID: "dec_old", Category: "slots", Hidden: true, Reason: "classify", Timestamp: old})
	s.Send(ctx, cardfilter.Decision{ID: "dec_new", Category: "poker", Hidden: true, Reason: "classify"})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	if err := cmdHistory(ctx, []string{"-db", hist, "-prune", "24h"}); err != nil {
		t.Fatal(err)
	}
	rows, err := cardfilter.QueryHistory(ctx, hist, cardfilter.HistoryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ID != "dec_new" {
		t.Errorf("after prune: %+v", rows)
	}
}
