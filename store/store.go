// Package store is the persistent key-value boundary shared by the card
// filter and whatever edits the block list. Values are ordered string lists
// scoped to a storage area; writers and readers coordinate only through Get,
// Set and change notifications.
//
// Two implementations ship: SQLite (durable, cross-process notifications by
// polling PRAGMA data_version) and Memory (in-process).
package store

import (
	"context"
	"errors"
	"strings"
)

// Storage areas. The card filter observes AreaSync only.
const (
	AreaSync  = "sync"
	AreaLocal = "local"
)

// KeyBlockedCategories holds the block list.
const KeyBlockedCategories = "blockedCategories"

// ErrUnavailable is returned when no store is configured.
var ErrUnavailable = errors.New("store: unavailable")

// Change describes one key update. OldValue is nil when the key was absent.
type Change struct {
	Area     string
	Key      string
	OldValue []string
	NewValue []string
}

// Store is a key-value store with change notifications.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, area, key string) ([]string, bool, error)
	// Set replaces the value. Subscribers are notified after the write
	// completes.
	Set(ctx context.Context, area, key string, value []string) error
	// Subscribe registers fn for every change in every area. Notifications
	// are delivered serially, in write order. The returned function
	// unsubscribes.
	Subscribe(fn func(Change)) (cancel func())
}

// Normalize is the comparison form of a category: trimmed and lowercased.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Add appends category to the list at (area, key) unless an equal entry
// (per Normalize) already exists. The stored entry is trimmed but keeps its
// case. It reports whether the list changed.
func Add(ctx context.Context, s Store, area, key, category string) (bool, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return false, nil
	}
	list, _, err := s.Get(ctx, area, key)
	if err != nil {
		return false, err
	}
	if contains(list, category) {
		return false, nil
	}
	next := append(append([]string(nil), list...), category)
	if err := s.Set(ctx, area, key, next); err != nil {
		return false, err
	}
	return true, nil
}

// Remove deletes every entry equal to category per Normalize. It reports
// whether the list changed.
func Remove(ctx context.Context, s Store, area, key, category string) (bool, error) {
	list, _, err := s.Get(ctx, area, key)
	if err != nil {
		return false, err
	}
	want := Normalize(category)
	next := make([]string, 0, len(list))
	for _, c := range list {
		if Normalize(c) != want {
			next = append(next, c)
		}
	}
	if len(next) == len(list) {
		return false, nil
	}
	if err := s.Set(ctx, area, key, next); err != nil {
		return false, err
	}
	return true, nil
}

// Toggle removes category when present and adds it otherwise. It returns
// true when the category is blocked after the call.
func Toggle(ctx context.Context, s Store, area, key, category string) (bool, error) {
	list, _, err := s.Get(ctx, area, key)
	if err != nil {
		return false, err
	}
	if contains(list, category) {
		_, err := Remove(ctx, s, area, key, category)
		return false, err
	}
	_, err = Add(ctx, s, area, key, category)
	return err == nil, err
}

func contains(list []string, category string) bool {
	want := Normalize(category)
	for _, c := range list {
		if Normalize(c) == want {
			return true
		}
	}
	return false
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func clone(v []string) []string {
	if v == nil {
		return nil
	}
	return append([]string(nil), v...)
}
