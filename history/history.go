// Package history records the outcome of every refine request in SQLite.
//
// Only metadata is stored: origin, platform, status, strategy, duration
// and error text. Prompt text never reaches the log.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/promptify/internal/idgen"
)

// Schema is the DDL for the refine_events table.
const Schema = `
CREATE TABLE IF NOT EXISTS refine_events (
    event_id    TEXT PRIMARY KEY,
    timestamp   INTEGER NOT NULL,
    session_id  TEXT,
    origin      TEXT NOT NULL,
    platform_id TEXT NOT NULL,
    status      TEXT NOT NULL,
    strategy    TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    error       TEXT,
    created_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_refine_events_time ON refine_events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_refine_events_status ON refine_events(status);
`

// Status of a refine event.
type Status string

const (
	StatusApplied             Status = "applied"
	StatusAppliedWithFallback Status = "applied_with_fallback"
	StatusFailed              Status = "failed"
	StatusCancelled           Status = "cancelled"
	StatusTransportFailure    Status = "transport_failure"
	StatusEmptyDraft          Status = "empty_draft"
	StatusLocateFailure       Status = "locate_failure"
	StatusConfirmFailure      Status = "confirm_failure"
)

// Event is one refine attempt.
type Event struct {
	ID         string        `json:"id"`
	Time       time.Time     `json:"time"`
	SessionID  string        `json:"session_id,omitempty"`
	Origin     string        `json:"origin"`
	PlatformID string        `json:"platform_id"`
	Status     Status        `json:"status"`
	Strategy   string        `json:"strategy,omitempty"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Filter narrows Query.
type Filter struct {
	Status     Status
	PlatformID string
	Since      time.Time
	// Limit defaults to 50.
	Limit int
}

// Recorder receives events. Log may be called from any goroutine.
type Recorder interface {
	Record(e Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Record(Event) {}

// Log persists events asynchronously through a buffered channel.
type Log struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
	ch     chan Event
	stop   chan struct{}
	done   chan struct{}
	flush  time.Duration
}

// Option configures a Log.
type Option func(*Log)

// WithIDGenerator replaces the event id generator.
func WithIDGenerator(gen idgen.Generator) Option { return func(l *Log) { l.newID = gen } }

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option { return func(l *Log) { l.logger = lg } }

// WithFlushInterval sets how often buffered events are written. Default: 2s.
func WithFlushInterval(d time.Duration) Option { return func(l *Log) { l.flush = d } }

// Open applies Schema to db and starts the writer goroutine. Close stops it.
func Open(db *sql.DB, bufferSize int, opts ...Option) (*Log, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("history: init schema: %w", err)
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	l := &Log{
		db:     db,
		newID:  idgen.Prefixed("evt_", idgen.Default),
		logger: slog.Default(),
		ch:     make(chan Event, bufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		flush:  2 * time.Second,
	}
	for _, o := range opts {
		o(l)
	}
	go l.flushLoop()
	return l, nil
}

// Record queues e. When the buffer is full it is written synchronously.
func (l *Log) Record(e Event) {
	l.fillDefaults(&e)
	select {
	case l.ch <- e:
	default:
		l.logger.Warn("history: buffer full, sync fallback", "status", e.Status)
		if err := l.insert(context.Background(), []Event{e}); err != nil {
			l.logger.Error("history: sync fallback failed", "error", err)
		}
	}
}

// Append writes e synchronously.
func (l *Log) Append(ctx context.Context, e Event) error {
	l.fillDefaults(&e)
	return l.insert(ctx, []Event{e})
}

// Query returns events, newest first.
func (l *Log) Query(ctx context.Context, f Filter) ([]Event, error) {
	q := `SELECT event_id, timestamp, session_id, origin, platform_id, status, strategy, duration_ms, error
		FROM refine_events WHERE 1=1`
	var args []any
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if f.PlatformID != "" {
		q += " AND platform_id = ?"
		args = append(args, f.PlatformID)
	}
	if !f.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q += " ORDER BY timestamp DESC, event_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e                     Event
			ts, ms                int64
			session, strat, errTx sql.NullString
			status                string
		)
		if err := rows.Scan(&e.ID, &ts, &session, &e.Origin, &e.PlatformID, &status, &strat, &ms, &errTx); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.Time = time.UnixMilli(ts)
		e.Status = Status(status)
		e.Duration = time.Duration(ms) * time.Millisecond
		e.SessionID = session.String
		e.Strategy = strat.String
		e.Error = errTx.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Counts returns the number of events per status.
func (l *Log) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM refine_events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("history: counts: %w", err)
	}
	defer rows.Close()
	out := make(map[Status]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		out[Status(s)] = n
	}
	return out, rows.Err()
}

// Cleanup deletes events older than retention.
func (l *Log) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).UnixMilli()
	res, err := l.db.ExecContext(ctx, `DELETE FROM refine_events WHERE timestamp < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("history: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close drains the buffer and stops the writer.
func (l *Log) Close() error {
	close(l.stop)
	<-l.done
	return nil
}

func (l *Log) fillDefaults(e *Event) {
	if e.ID == "" {
		e.ID = l.newID()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
}

func (l *Log) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.flush)
	defer ticker.Stop()
	batch := make([]Event, 0, 64)

	write := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := l.insert(ctx, batch); err != nil {
			l.logger.Error("history: flush failed", "events", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= cap(batch) {
				write()
			}
		case <-ticker.C:
			write()
		case <-l.stop:
			for {
				select {
				case e := <-l.ch:
					batch = append(batch, e)
				default:
					write()
					return
				}
			}
		}
	}
}

func (l *Log) insert(ctx context.Context, events []Event) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO refine_events
		(event_id, timestamp, session_id, origin, platform_id, status, strategy, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("history: prepare: %w", err)
	}
	defer stmt.Close()
	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.Time.UnixMilli(), nullable(e.SessionID), e.Origin, e.PlatformID,
			string(e.Status), nullable(e.Strategy), e.Duration.Milliseconds(), nullable(e.Error),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("history: insert %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
