// Package blocklist holds the in-memory snapshot of the block list.
//
// The cache is owned by the engine loop and is not safe for concurrent use.
package blocklist

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/catblock/store"
)

// Getter reads a list from the persistent store.
type Getter interface {
	Get(ctx context.Context, area, key string) ([]string, bool, error)
}

// Cache mirrors one store key as a normalised set.
type Cache struct {
	src    Getter
	area   string
	key    string
	logger *slog.Logger

	list []string
	set  map[string]struct{}
}

// New creates an empty cache reading (area, key) from src.
func New(src Getter, area, key string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		src:    src,
		area:   area,
		key:    key,
		logger: logger,
		set:    map[string]struct{}{},
	}
}

// Load replaces the snapshot with the stored value. On a read error the
// snapshot becomes empty, so every card is shown, and the error is returned
// for the caller to log or count.
func (c *Cache) Load(ctx context.Context) error {
	list, _, err := c.src.Get(ctx, c.area, c.key)
	if err != nil {
		c.logger.Error("blocklist: load failed, showing everything", "area", c.area, "key", c.key, "error", err)
		c.replace(nil)
		return err
	}
	c.replace(list)
	c.logger.Info("blocklist: loaded", "categories", c.list)
	return nil
}

// OnExternalChange swaps in a new list.
func (c *Cache) OnExternalChange(list []string) {
	c.replace(list)
	c.logger.Info("blocklist: updated", "categories", c.list)
}

// IsBlocked reports whether category is on the list. The empty category is
// never blocked.
func (c *Cache) IsBlocked(category string) bool {
	n := store.Normalize(category)
	if n == "" {
		return false
	}
	_, ok := c.set[n]
	return ok
}

// List returns a copy of the current snapshot in stored order.
func (c *Cache) List() []string {
	return append([]string(nil), c.list...)
}

// Len returns the number of distinct normalised entries.
func (c *Cache) Len() int { return len(c.set) }

func (c *Cache) replace(list []string) {
	set := make(map[string]struct{}, len(list))
	for _, s := range list {
		if n := store.Normalize(s); n != "" {
			set[n] = struct{}{}
		}
	}
	c.list = append([]string(nil), list...)
	c.set = set
}
