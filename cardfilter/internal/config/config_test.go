package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("page:\n  url: https://example.com/browse\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Page.URL != "https://example.com/browse" {
		t.Errorf("url: %q", cfg.Page.URL)
	}
	if cfg.Store.BusyTimeout != 10*time.Second {
		t.Errorf("default busy timeout: %v", cfg.Store.BusyTimeout)
	}
	if cfg.Store.Area != "sync" || cfg.Store.Key != "blockedCategories" {
		t.Errorf("store: %+v", cfg.Store)
	}
	if cfg.Engine.Debounce != 100*time.Millisecond {
		t.Errorf("debounce: %v", cfg.Engine.Debounce)
	}
	if cfg.Engine.ReactivationDelay != 500*time.Millisecond {
		t.Errorf("reactivation: %v", cfg.Engine.ReactivationDelay)
	}
	if cfg.Browser.Stealth != "headless" || cfg.Browser.XvfbDisplay != ":99" {
		t.Errorf("browser: %+v", cfg.Browser)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catblock.yaml")
	yml := `
browser:
  stealth: headful
  resource_blocking: [image, font]
page:
  id: home
  url: https://example.com
store:
  path: /tmp/blocks.db
  poll_interval: 2s
  busy_timeout: 250ms
engine:
  debounce: 250ms
  selectors:
    card: article.card
sinks:
  - type: webhook
    url: http://localhost:9000/hook
  - {}
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Browser.Stealth != "headful" || len(cfg.Browser.ResourceBlocking) != 2 {
		t.Errorf("browser: %+v", cfg.Browser)
	}
	if cfg.Store.PollInterval != 2*time.Second || cfg.Engine.Debounce != 250*time.Millisecond {
		t.Errorf("durations: %v %v", cfg.Store.PollInterval, cfg.Engine.Debounce)
	}
	if cfg.Store.BusyTimeout != 250*time.Millisecond {
		t.Errorf("busy timeout: %v", cfg.Store.BusyTimeout)
	}
	if cfg.Engine.Selectors.Card != "article.card" || cfg.Engine.Selectors.Link != "" {
		t.Errorf("selectors: %+v", cfg.Engine.Selectors)
	}
	if len(cfg.Sinks) != 2 || cfg.Sinks[1].Type != "stdout" || cfg.Sinks[0].Retries != 3 {
		t.Errorf("sinks: %+v", cfg.Sinks)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"stealth": "browser:\n  stealth: invisible\n",
		"webhook": "sinks:\n  - type: webhook\n",
		"sqlite":  "sinks:\n  - type: sqlite\n",
		"sink":    "sinks:\n  - type: nats\n",
		"yaml":    "page: [",
	}
	for name, yml := range cases {
		if _, err := Parse([]byte(yml)); err == nil {
			t.Errorf("%s: expected error", name)
		} else if !strings.HasPrefix(err.Error(), "config: ") {
			t.Errorf("%s: unprefixed error %v", name, err)
		}
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error")
	}
}
