package store

import (
	"context"
	"sync"
)

// Memory is an in-process Store. Notifications are delivered synchronously
// from Set, after the value has been stored.
type Memory struct {
	mu     sync.Mutex
	notify sync.Mutex // serialises delivery so subscribers see write order
	data   map[string][]string
	subs   map[int]func(Change)
	nextID int
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string][]string),
		subs: make(map[int]func(Change)),
	}
}

func memKey(area, key string) string { return area + "\x00" + key }

// Get implements Store.
func (m *Memory) Get(_ context.Context, area, key string) ([]string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[memKey(area, key)]
	return clone(v), ok, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, area, key string, value []string) error {
	m.mu.Lock()
	k := memKey(area, key)
	old, had := m.data[k]
	if value == nil {
		value = []string{}
	}
	m.data[k] = clone(value)
	subs := make([]func(Change), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.notify.Lock()
	m.mu.Unlock()
	defer m.notify.Unlock()

	ch := Change{Area: area, Key: key, NewValue: clone(value)}
	if had {
		ch.OldValue = clone(old)
	}
	for _, fn := range subs {
		fn(ch)
	}
	return nil
}

// Subscribe implements Store.
func (m *Memory) Subscribe(fn func(Change)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}
