package cardfilter

import (
	"fmt"
	"log/slog"

	"github.com/hazyhaar/catblock/cardfilter/internal/classify"
	"github.com/hazyhaar/catblock/cardfilter/internal/config"
	"github.com/hazyhaar/catblock/dom"
	"github.com/hazyhaar/catblock/store"
)

// Config is the top-level catblock configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PageConfig defines the page to filter.
type PageConfig = config.PageConfig

// StoreConfig locates the block list.
type StoreConfig = config.StoreConfig

// EngineConfig tunes the classification loop.
type EngineConfig = config.EngineConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// Selectors locate cards in the page markup.
type Selectors = classify.Selectors

// ScanStats summarises one full scan.
type ScanStats = classify.ScanStats

// DefaultSelectors match the stream grid markup.
func DefaultSelectors() Selectors { return classify.DefaultSelectors() }

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// ParseConfig decodes a YAML configuration.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}

// NewFromConfig builds an Engine for doc from cfg. Sinks named in cfg are
// created and appended to extra.
func NewFromConfig(cfg *Config, doc dom.Document, st store.Store, logger *slog.Logger, extra ...Sink) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sinks := append([]Sink(nil), extra...)
	for i, sc := range cfg.Sinks {
		s, err := sinkFromConfig(sc, logger)
		if err != nil {
			for _, opened := range sinks[len(extra):] {
				opened.Close()
			}
			return nil, fmt.Errorf("cardfilter: sinks[%d]: %w", i, err)
		}
		sinks = append(sinks, s)
	}

	sel := cfg.Engine.Selectors
	return New(Options{
		Document:          doc,
		Store:             st,
		Area:              cfg.Store.Area,
		Key:               cfg.Store.Key,
		Selectors:         Selectors{Card: sel.Card, Group: sel.Group, Link: sel.Link, Label: sel.Label},
		Debounce:          cfg.Engine.Debounce,
		ReactivationDelay: cfg.Engine.ReactivationDelay,
		PageID:            cfg.Page.ID,
		Sinks:             sinks,
		Logger:            logger,
	}), nil
}
