package roddom

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/hazyhaar/catblock/dom"
)

func TestBindingMsgDecode(t *testing.T) {
	var msg bindingMsg
	if err := json.Unmarshal([]byte(`{"type":"mutations","records":[[1,2],[3]]}`), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "mutations" {
		t.Errorf("Type: got %q", msg.Type)
	}
	if len(msg.Records) != 2 || len(msg.Records[0]) != 2 || msg.Records[1][0] != 3 {
		t.Errorf("Records: got %v", msg.Records)
	}
}

func TestUnwrap_ForeignNode(t *testing.T) {
	if _, ok := Unwrap(&root{}); ok {
		t.Error("Unwrap(root) should fail")
	}
}

// TestLivePage runs against a real Chrome. Set CATBLOCK_CHROME=1 to enable.
func TestLivePage(t *testing.T) {
	if os.Getenv("CATBLOCK_CHROME") == "" {
		t.Skip("CATBLOCK_CHROME not set")
	}

	u := launcher.New().Headless(true).MustLaunch()
	b := rod.New().ControlURL(u).MustConnect()
	defer b.MustClose()

	page := b.MustPage("about:blank")
	page.MustSetDocumentContent(`<html><body><div id="grid">
		<div class="group/card"><a href="/category/slots"><span>Slots</span></a></div>
	</div></body></html>`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := New(ctx, page, nil)
	defer p.Close()

	card, err := p.Root().Query(`.group\/card`)
	if err != nil || card == nil {
		t.Fatalf("Query card: %v %v", card, err)
	}
	link, _ := card.Query(`a[href^="/category/"]`)
	up, err := link.Closest(`[class*="group/card"]`)
	if err != nil || up == nil {
		t.Fatalf("Closest: %v %v", up, err)
	}
	if err := card.SetAttr("data-x", "1"); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := card.Attr("data-x"); !ok || v != "1" {
		t.Errorf("Attr: got %q %v", v, ok)
	}

	got := make(chan []dom.Mutation, 1)
	detach, err := p.Observe(func(b []dom.Mutation) { got <- b })
	if err != nil {
		t.Fatal(err)
	}
	defer detach()

	page.MustEval(`() => document.getElementById('grid').insertAdjacentHTML('beforeend', '<div class="group/card"></div>')`)

	select {
	case b := <-got:
		if len(b) != 1 || len(b[0].Added) != 1 {
			t.Fatalf("batch: got %+v", b)
		}
		if ok, _ := b[0].Added[0].Matches(`.group\/card`); !ok {
			t.Error("added node should match the card selector")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no mutation batch received")
	}

	waitPending(t, p, 0)
}

// TestLivePage_ReleasesUnresolved checks that ids the Go side gives up on are
// dropped from the page script. Set CATBLOCK_CHROME=1 to enable.
func TestLivePage_ReleasesUnresolved(t *testing.T) {
	if os.Getenv("CATBLOCK_CHROME") == "" {
		t.Skip("CATBLOCK_CHROME not set")
	}
	u := launcher.New().Headless(true).MustLaunch()
	b := rod.New().ControlURL(u).MustConnect()
	defer b.MustClose()

	page := b.MustPage("about:blank")
	page.MustSetDocumentContent(`<html><body><div id="grid"></div></body></html>`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := New(ctx, page, nil)
	defer p.Close()

	detach, err := p.Observe(func([]dom.Mutation) {})
	if err != nil {
		t.Fatal(err)
	}
	defer detach()

	page.MustEval(`() => {
  const s = window.__catblock;
  s.added.set(9001, document.body);
  s.added.set(9002, document.body);
}`)
	waitPending(t, p, 2)

	p.release([]int64{9001, 9002})
	waitPending(t, p, 0)
}

func waitPending(t *testing.T, p *Page, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		n, err := p.pending()
		if err != nil {
			t.Fatal(err)
		}
		if n == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("pending added nodes: got %d, want %d", n, want)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
