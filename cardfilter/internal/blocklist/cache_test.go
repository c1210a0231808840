package blocklist

import (
	"context"
	"errors"
	"testing"

	"github.com/hazyhaar/catblock/store"
)

type failingGetter struct{}

func (failingGetter) Get(context.Context, string, string) ([]string, bool, error) {
	return nil, false, errors.New("boom")
}

func TestIsBlocked_CaseAndWhitespace(t *testing.T) {
	c := New(store.NewMemory(), store.AreaSync, store.KeyBlockedCategories, nil)
	c.OnExternalChange([]string{"Just Chatting"})

	for _, q := range []string{"Just Chatting", " just chatting ", "JUST CHATTING"} {
		if !c.IsBlocked(q) {
			t.Errorf("IsBlocked(%q) = false, want true", q)
		}
	}
	if c.IsBlocked("Slots") {
		t.Error("IsBlocked(Slots) = true")
	}
}

func TestIsBlocked_EmptyNeverBlocked(t *testing.T) {
	c := New(store.NewMemory(), store.AreaSync, store.KeyBlockedCategories, nil)
	c.OnExternalChange([]string{"", "   "})

	if c.IsBlocked("") || c.IsBlocked("  ") {
		t.Error("empty category must never be blocked")
	}
	if c.Len() != 0 {
		t.Errorf("Len: got %d, want 0", c.Len())
	}
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	m.Set(ctx, store.AreaSync, store.KeyBlockedCategories, []string{"Slots", "slots ", "Poker"})

	c := New(m, store.AreaSync, store.KeyBlockedCategories, nil)
	if err := c.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if !c.IsBlocked("SLOTS") || !c.IsBlocked("poker") {
		t.Error("loaded entries should be blocked")
	}
	if c.Len() != 2 {
		t.Errorf("Len: got %d, want 2", c.Len())
	}
	if got := c.List(); len(got) != 3 {
		t.Errorf("List keeps stored order and entries: got %q", got)
	}
}

func TestLoad_MissingKeyIsEmpty(t *testing.T) {
	c := New(store.NewMemory(), store.AreaSync, store.KeyBlockedCategories, nil)
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 0 {
		t.Errorf("Len: got %d", c.Len())
	}
}

func TestLoad_FailureClearsSnapshot(t *testing.T) {
	c := New(failingGetter{}, store.AreaSync, store.KeyBlockedCategories, nil)
	c.OnExternalChange([]string{"Slots"})

	if err := c.Load(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if c.IsBlocked("Slots") {
		t.Error("failed load must leave an empty list, not stale data")
	}
}

func TestOnExternalChange_Replaces(t *testing.T) {
	c := New(store.NewMemory(), store.AreaSync, store.KeyBlockedCategories, nil)
	c.OnExternalChange([]string{"Slots"})
	c.OnExternalChange([]string{"Poker"})

	if c.IsBlocked("Slots") {
		t.Error("old entry survived the swap")
	}
	if !c.IsBlocked("Poker") {
		t.Error("new entry missing")
	}
}
