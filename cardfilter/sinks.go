package cardfilter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/catblock/cardfilter/internal/sink"
	"github.com/hazyhaar/catblock/store"
)

// Sink is the output interface for decisions and pass reports.
type Sink = sink.Sink

// Decision records one visibility change applied to a card.
type Decision = sink.Decision

// Report summarises one engine pass.
type Report = sink.Report

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, retries int, logger *slog.Logger) Sink {
	var opts []sink.WebhookOption
	if logger != nil {
		opts = append(opts, sink.WithWebhookLogger(logger))
	}
	if retries > 0 {
		opts = append(opts, sink.WithWebhookRetries(retries))
	}
	return sink.NewWebhook(url, opts...)
}

// HistoryFilter narrows a decision history query.
type HistoryFilter = sink.HistoryFilter

// SQLiteSink records decisions and reports in a SQLite history database.
type SQLiteSink = sink.SQLite

// OpenSQLiteSink opens (creating if needed) the history database at path.
// Closing the sink closes the database.
func OpenSQLiteSink(ctx context.Context, path string, logger *slog.Logger) (*SQLiteSink, error) {
	db, err := store.Open(path, store.WithMkdirAll())
	if err != nil {
		return nil, err
	}
	opts := []sink.SQLiteOption{sink.WithOwnedDB()}
	if logger != nil {
		opts = append(opts, sink.WithSQLiteLogger(logger))
	}
	s, err := sink.NewSQLite(ctx, db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// QueryHistory reads recorded decisions from the history database at path,
// newest first.
func QueryHistory(ctx context.Context, path string, f HistoryFilter) ([]Decision, error) {
	s, err := OpenSQLiteSink(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Decisions(ctx, f)
}

// PruneHistory deletes decisions and reports older than maxAge from the
// history database at path and returns the number of rows removed.
func PruneHistory(ctx context.Context, path string, maxAge time.Duration) (int64, error) {
	s, err := OpenSQLiteSink(ctx, path, nil)
	if err != nil {
		return 0, err
	}
	defer s.Close()
	return s.Cleanup(ctx, maxAge)
}

// NewCallbackSink creates an in-process callback sink. Either handler may
// be nil.
func NewCallbackSink(
	onDecision func(ctx context.Context, d Decision) error,
	onReport func(ctx context.Context, r Report) error,
) Sink {
	return sink.NewCallback(onDecision, onReport)
}

func sinkFromConfig(sc SinkConfig, logger *slog.Logger) (Sink, error) {
	switch sc.Type {
	case "", "stdout":
		return NewStdoutSink(nil), nil
	case "webhook":
		if sc.URL == "" {
			return nil, fmt.Errorf("webhook needs url")
		}
		return NewWebhookSink(sc.URL, sc.Retries, logger), nil
	case "sqlite":
		if sc.Path == "" {
			return nil, fmt.Errorf("sqlite needs path")
		}
		return OpenSQLiteSink(context.Background(), sc.Path, logger)
	}
	return nil, fmt.Errorf("unknown sink type %q", sc.Type)
}
