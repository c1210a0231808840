package browser

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestResourceSet(t *testing.T) {
	set := resourceSet([]string{"images", " Font", "media", "stylesheets", ""})
	for _, want := range []string{"image", "font", "media", "stylesheet"} {
		if !set[want] {
			t.Errorf("missing %q in %v", want, set)
		}
	}
	if set["document"] || set["xhr"] || set[""] {
		t.Errorf("unexpected entries: %v", set)
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("headful"); err != nil || m != Headful {
		t.Errorf("headful: %v %v", m, err)
	}
	if m, err := ParseMode(""); err != nil || m != Headless {
		t.Errorf("default: %v %v", m, err)
	}
	if _, err := ParseMode("kiosk"); err == nil {
		t.Error("expected error")
	}
}

func TestManager_ClosedRefusesStart(t *testing.T) {
	m := NewManager(Config{})
	if m.Browser() != nil {
		t.Fatal("no browser before Start")
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(context.Background()); err == nil || !strings.Contains(err.Error(), "closed") {
		t.Errorf("Start after Close: %v", err)
	}
	if _, err := OpenTab(context.Background(), m, "about:blank", "p"); err == nil {
		t.Error("OpenTab without browser should fail")
	}
}

// TestLiveTab needs a local Chrome; set CATBLOCK_CHROME=1 to run it.
func TestLiveTab(t *testing.T) {
	if os.Getenv("CATBLOCK_CHROME") == "" {
		t.Skip("CATBLOCK_CHROME not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	m := NewManager(Config{ResourceBlocking: []string{"images"}})
	defer m.Close()
	if _, err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	tab, err := OpenTab(ctx, m, "data:text/html,<p id=x>hello</p>", "live")
	if err != nil {
		t.Fatal(err)
	}
	defer tab.Close()

	html, err := tab.HTML(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, "hello") {
		t.Errorf("html: %s", html)
	}
}
