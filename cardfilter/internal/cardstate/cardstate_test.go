package cardstate

import (
	"strings"
	"testing"

	"github.com/hazyhaar/catblock/dom"
	"github.com/hazyhaar/catblock/dom/htmldom"
)

func testCard(t *testing.T) (*htmldom.Document, dom.Node) {
	t.Helper()
	doc, err := htmldom.ParseString(`<html><body><div id="c"><a href="/category/slots">x</a></div></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	c, _ := doc.Root().Query("#c")
	return doc, c
}

func TestMarkProcessed_FirstCallWins(t *testing.T) {
	_, c := testCard(t)

	if ok, _ := IsProcessed(c); ok {
		t.Fatal("fresh card should not be processed")
	}
	if err := MarkProcessed(c, "slots"); err != nil {
		t.Fatal(err)
	}
	if err := MarkProcessed(c, "poker"); err != nil {
		t.Fatal(err)
	}

	if ok, _ := IsProcessed(c); !ok {
		t.Error("card should be processed")
	}
	cat, ok, _ := OriginalCategory(c)
	if !ok || cat != "slots" {
		t.Errorf("OriginalCategory: got %q %v, want slots", cat, ok)
	}
}

func TestSetHidden_Toggle(t *testing.T) {
	doc, c := testCard(t)

	if err := SetHidden(c, true, "slots"); err != nil {
		t.Fatal(err)
	}
	if h, _ := IsHidden(c); !h {
		t.Error("card should be hidden")
	}
	if !strings.Contains(doc.String(), "display: none") {
		t.Error("hidden card should carry display:none")
	}

	if err := SetHidden(c, false, "slots"); err != nil {
		t.Fatal(err)
	}
	if h, _ := IsHidden(c); h {
		t.Error("card should be shown")
	}
	if strings.Contains(doc.String(), "display") || strings.Contains(doc.String(), attrCategory) {
		t.Errorf("shown card should carry no suppression markers: %s", doc.String())
	}
}

func TestProcessed_ListsOnlyProcessedCards(t *testing.T) {
	doc, err := htmldom.ParseString(`<html><body><div id="a"></div><div id="b"></div><div id="c"></div></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	a, _ := doc.Root().Query("#a")
	c, _ := doc.Root().Query("#c")
	MarkProcessed(a, "x")
	MarkProcessed(c, "y")

	got, err := Processed(doc.Root())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("Processed: got %d, want 2", len(got))
	}
}
