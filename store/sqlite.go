package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Schema for the kv table.
const Schema = `
CREATE TABLE IF NOT EXISTS kv (
	area       TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL DEFAULT '[]',
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (area, key)
);
`

// SQLite is a Store over a SQLite table. Local writes notify subscribers
// directly; writes from other processes are picked up by Watch.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger

	mu     sync.Mutex
	notify sync.Mutex // serialises delivery across Set and Watch
	subs   map[int]func(Change)
	nextID int
	// last is the most recently delivered value per (area, key), the
	// baseline Watch diffs against.
	last map[string][]string

	counters watchCounters
}

// NewSQLite creates the schema and seeds the diff baseline.
func NewSQLite(ctx context.Context, db *sql.DB, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	s := &SQLite{
		db:     db,
		logger: logger,
		subs:   make(map[int]func(Change)),
	}
	rows, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}
	s.last = rows
	return s, nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, area, key string) ([]string, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE area = ? AND key = ?`, area, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get %s/%s: %w", area, key, err)
	}
	v, err := decode(raw)
	if err != nil {
		return nil, false, fmt.Errorf("store: get %s/%s: %w", area, key, err)
	}
	return v, true, nil
}

// Set implements Store.
func (s *SQLite) Set(ctx context.Context, area, key string, value []string) error {
	if value == nil {
		value = []string{}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: set %s/%s: marshal: %w", area, key, err)
	}

	s.mu.Lock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (area, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(area, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		area, key, string(data), time.Now().UnixMilli())
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("store: set %s/%s: %w", area, key, err)
	}
	k := memKey(area, key)
	old, had := s.last[k]
	s.last[k] = clone(value)
	subs := s.subscribersLocked()
	s.notify.Lock()
	s.mu.Unlock()
	defer s.notify.Unlock()

	ch := Change{Area: area, Key: key, NewValue: clone(value)}
	if had {
		ch.OldValue = old
	}
	for _, fn := range subs {
		fn(ch)
	}
	return nil
}

// Subscribe implements Store.
func (s *SQLite) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Sync re-reads every row and notifies subscribers of entries that differ
// from the last delivered value. It returns the number of changes delivered.
func (s *SQLite) Sync(ctx context.Context) (int, error) {
	s.mu.Lock()
	rows, err := s.readAll(ctx)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}

	var changes []Change
	for k, v := range rows {
		old, had := s.last[k]
		if had && equal(old, v) {
			continue
		}
		area, key := splitKey(k)
		ch := Change{Area: area, Key: key, NewValue: clone(v)}
		if had {
			ch.OldValue = old
		}
		changes = append(changes, ch)
	}
	for k, old := range s.last {
		if _, ok := rows[k]; !ok {
			area, key := splitKey(k)
			changes = append(changes, Change{Area: area, Key: key, OldValue: old})
		}
	}
	s.last = rows
	subs := s.subscribersLocked()
	s.notify.Lock()
	s.mu.Unlock()
	defer s.notify.Unlock()

	for _, ch := range changes {
		for _, fn := range subs {
			fn(ch)
		}
	}
	return len(changes), nil
}

func (s *SQLite) readAll(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT area, key, value FROM kv`)
	if err != nil {
		return nil, fmt.Errorf("store: read all: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var area, key, raw string
		if err := rows.Scan(&area, &key, &raw); err != nil {
			return nil, fmt.Errorf("store: read all: %w", err)
		}
		v, err := decode(raw)
		if err != nil {
			s.logger.Warn("store: skipping undecodable value", "area", area, "key", key, "error", err)
			continue
		}
		out[memKey(area, key)] = v
	}
	return out, rows.Err()
}

func (s *SQLite) subscribersLocked() []func(Change) {
	subs := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return subs
}

func decode(raw string) ([]string, error) {
	var v []string
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	if v == nil {
		v = []string{}
	}
	return v, nil
}

func splitKey(k string) (area, key string) {
	for i := 0; i < len(k); i++ {
		if k[i] == 0 {
			return k[:i], k[i+1:]
		}
	}
	return "", k
}
