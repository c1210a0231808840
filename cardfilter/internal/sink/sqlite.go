package sink

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/catblock/idgen"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS decisions (
	id        TEXT PRIMARY KEY,
	page_id   TEXT NOT NULL DEFAULT '',
	category  TEXT NOT NULL,
	hidden    INTEGER NOT NULL,
	reason    TEXT NOT NULL,
	ts        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_category ON decisions(category, ts);
CREATE INDEX IF NOT EXISTS idx_decisions_page ON decisions(page_id, ts);

CREATE TABLE IF NOT EXISTS reports (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	page_id      TEXT NOT NULL DEFAULT '',
	trigger_name TEXT NOT NULL,
	processed    INTEGER NOT NULL,
	hidden       INTEGER NOT NULL,
	shown        INTEGER NOT NULL,
	missed       INTEGER NOT NULL,
	errors       INTEGER NOT NULL,
	ts           INTEGER NOT NULL
);
`

const (
	insertDecision = `INSERT OR IGNORE INTO decisions (id, page_id, category, hidden, reason, ts)
		VALUES (?,?,?,?,?,?)`
	insertReport = `INSERT INTO reports (page_id, trigger_name, processed, hidden, shown, missed, errors, ts)
		VALUES (?,?,?,?,?,?,?,?)`
)

// record is one queued row: exactly one of d or r is set.
type record struct {
	d *Decision
	r *Report
}

// SQLite persists decisions and reports to a history database. Writes are
// buffered and flushed in batches by a background goroutine; when the
// buffer is full the row is written synchronously.
type SQLite struct {
	db        *sql.DB
	ownDB     bool
	logger    *slog.Logger
	interval  time.Duration
	batchSize int

	ch        chan record
	flushReq  chan chan error
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// SQLiteOption configures a SQLite sink.
type SQLiteOption func(*SQLite)

// WithSQLiteLogger sets the logger.
func WithSQLiteLogger(l *slog.Logger) SQLiteOption {
	return func(s *SQLite) { s.logger = l }
}

// WithFlushInterval sets how often buffered rows are written. Default: 2s.
func WithFlushInterval(d time.Duration) SQLiteOption {
	return func(s *SQLite) { s.interval = d }
}

// WithBufferSize sets the queue capacity. Default: 512. A size of zero
// makes every Send write synchronously.
func WithBufferSize(n int) SQLiteOption {
	return func(s *SQLite) {
		if n <= 0 {
			s.ch = nil
			return
		}
		s.ch = make(chan record, n)
	}
}

// WithOwnedDB makes Close also close the database handle.
func WithOwnedDB() SQLiteOption {
	return func(s *SQLite) { s.ownDB = true }
}

// NewSQLite creates the history tables if needed and starts the flush loop.
func NewSQLite(ctx context.Context, db *sql.DB, opts ...SQLiteOption) (*SQLite, error) {
	if _, err := db.ExecContext(ctx, historySchema); err != nil {
		return nil, fmt.Errorf("sink: sqlite schema: %w", err)
	}
	s := &SQLite{
		db:        db,
		logger:    slog.Default(),
		interval:  2 * time.Second,
		batchSize: 100,
		ch:        make(chan record, 512),
		flushReq:  make(chan chan error),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	go s.flushLoop()
	return s, nil
}

func (s *SQLite) Send(ctx context.Context, d Decision) error {
	if d.ID == "" {
		d.ID = idgen.Decision()
	}
	if d.Timestamp == 0 {
		d.Timestamp = time.Now().UnixMilli()
	}
	return s.enqueue(ctx, record{d: &d})
}

func (s *SQLite) SendReport(ctx context.Context, r Report) error {
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
	return s.enqueue(ctx, record{r: &r})
}

func (s *SQLite) enqueue(ctx context.Context, rec record) error {
	select {
	case <-s.stop:
		return fmt.Errorf("sink: sqlite closed")
	default:
	}
	select {
	case s.ch <- rec:
		return nil
	default:
		if s.ch != nil {
			s.logger.Warn("sink: sqlite buffer full, writing synchronously")
		}
		return s.write(ctx, []record{rec})
	}
}

// Flush returns once every row queued before the call is committed.
func (s *SQLite) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case s.flushReq <- reply:
	case <-s.done:
		return fmt.Errorf("sink: sqlite closed")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue, stops the flush loop and, with WithOwnedDB,
// closes the database.
func (s *SQLite) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		if s.ownDB {
			err = s.db.Close()
		}
	})
	return err
}

func (s *SQLite) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	batch := make([]record, 0, s.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := s.write(ctx, batch)
		if err != nil {
			s.logger.Error("sink: sqlite flush", "rows", len(batch), "error", err)
		}
		batch = batch[:0]
		return err
	}
	drain := func() {
		for {
			select {
			case rec := <-s.ch:
				batch = append(batch, rec)
			default:
				return
			}
		}
	}

	for {
		select {
		case <-s.stop:
			drain()
			flush()
			return
		case reply := <-s.flushReq:
			drain()
			reply <- flush()
		case rec := <-s.ch:
			batch = append(batch, rec)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *SQLite) write(ctx context.Context, batch []record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sink: sqlite begin: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range batch {
		switch {
		case rec.d != nil:
			d := rec.d
			_, err = tx.ExecContext(ctx, insertDecision,
				d.ID, d.PageID, d.Category, boolInt(d.Hidden), d.Reason, d.Timestamp)
		case rec.r != nil:
			r := rec.r
			_, err = tx.ExecContext(ctx, insertReport,
				r.PageID, r.Trigger, r.Processed, r.Hidden, r.Shown, r.Missed, r.Errors, r.Timestamp)
		}
		if err != nil {
			return fmt.Errorf("sink: sqlite insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sink: sqlite commit: %w", err)
	}
	return nil
}

// HistoryFilter narrows a history query. Zero fields match everything.
type HistoryFilter struct {
	PageID   string
	Category string
	Since    time.Time
	Limit    int // default 100
}

// Decisions returns recorded decisions, newest first.
func (s *SQLite) Decisions(ctx context.Context, f HistoryFilter) ([]Decision, error) {
	return QueryDecisions(ctx, s.db, f)
}

// QueryDecisions reads the decisions table of a history database.
func QueryDecisions(ctx context.Context, db *sql.DB, f HistoryFilter) ([]Decision, error) {
	q := `SELECT id, page_id, category, hidden, reason, ts FROM decisions WHERE 1=1`
	var args []any
	if f.PageID != "" {
		q += " AND page_id = ?"
		args = append(args, f.PageID)
	}
	if f.Category != "" {
		q += " AND category = ? COLLATE NOCASE"
		args = append(args, f.Category)
	}
	if !f.Since.IsZero() {
		q += " AND ts >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	q += " ORDER BY ts DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sink: query decisions: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var d Decision
		var hidden int
		if err := rows.Scan(&d.ID, &d.PageID, &d.Category, &hidden, &d.Reason, &d.Timestamp); err != nil {
			return nil, fmt.Errorf("sink: scan decision: %w", err)
		}
		d.Hidden = hidden != 0
		out = append(out, d)
	}
	return out, rows.Err()
}

// Cleanup deletes decisions and reports older than the given age.
func (s *SQLite) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	threshold := time.Now().Add(-maxAge).UnixMilli()
	var total int64
	for _, table := range []string{"decisions", "reports"} {
		res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE ts < ?", threshold)
		if err != nil {
			return total, fmt.Errorf("sink: cleanup %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
