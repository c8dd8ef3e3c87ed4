// CLAUDE:SUMMARY Best-effort SQLite outcome journal: one row per snap/export, buffered and flushed in batches, nil-safe, never blocks a request.
// Package observability records the outcome of every snapshot and export in
// an SQLite journal kept apart from any request state.
//
// Persistence is async and non-blocking: entries are buffered and flushed in
// batches; when the buffer is full, new entries are dropped rather than
// applying backpressure to request handling. A nil *Journal is valid and
// records nothing.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/snapd/dbopen"
	"github.com/hazyhaar/snapd/idgen"
)

// Operations recorded in the journal.
const (
	OpSnap   = "snap"
	OpExport = "export"
)

// Entry is one request outcome.
type Entry struct {
	ID        string
	Operation string
	Target    string // snapped URL or export type
	Success   bool
	Kind      string // failure kind, empty on success
	Duration  time.Duration
	Bytes     int64
	TraceID   string
	Transport string
	CreatedAt time.Time
}

// JournalConfig configures a Journal.
type JournalConfig struct {
	// BufferSize is the flush threshold and the drop threshold is four times
	// that. Default 100.
	BufferSize int

	// FlushInterval is the periodic flush. Default 5s.
	FlushInterval time.Duration

	Logger *slog.Logger
}

// Journal buffers entries and flushes them to SQLite in batches.
type Journal struct {
	db     *sql.DB
	cfg    JournalConfig
	newID  idgen.Generator
	log    *slog.Logger
	mu     sync.Mutex
	buffer []Entry
	drops  int
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewJournal starts a journal writing to db. The schema is applied first.
func NewJournal(db *sql.DB, cfg JournalConfig) (*Journal, error) {
	if err := Init(db); err != nil {
		return nil, fmt.Errorf("observability: init schema: %w", err)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	j := &Journal{
		db:     db,
		cfg:    cfg,
		newID:  idgen.Prefixed("evt_", idgen.Default),
		log:    cfg.Logger,
		buffer: make([]Entry, 0, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go j.flushLoop()
	return j, nil
}

// OpenJournal opens (or creates) the SQLite file at path and starts a
// journal on it. Closing the journal closes the database.
func OpenJournal(path string, cfg JournalConfig) (*Journal, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, err
	}
	j, err := NewJournal(db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// Record queues e. It never blocks on I/O and never fails.
func (j *Journal) Record(e Entry) {
	if j == nil {
		return
	}
	if e.ID == "" {
		e.ID = j.newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.buffer) >= 4*j.cfg.BufferSize {
		j.drops++
		return
	}
	j.buffer = append(j.buffer, e)
	if len(j.buffer) >= j.cfg.BufferSize {
		select {
		case <-j.stop:
		default:
			go j.Flush()
		}
	}
}

// Flush writes all buffered entries now.
func (j *Journal) Flush() {
	if j == nil {
		return
	}
	j.mu.Lock()
	batch := j.buffer
	drops := j.drops
	j.buffer = make([]Entry, 0, j.cfg.BufferSize)
	j.drops = 0
	j.mu.Unlock()

	if drops > 0 {
		j.log.Warn("observability: journal entries dropped", "count", drops)
	}
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := dbopen.InTx(ctx, j.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO conversion_events (
				event_id, operation, target, success, kind,
				duration_ms, bytes, trace_id, transport, created_at
			) VALUES (?,?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range batch {
			if _, err := stmt.ExecContext(ctx,
				e.ID, e.Operation, e.Target, e.Success, e.Kind,
				e.Duration.Milliseconds(), e.Bytes, e.TraceID, e.Transport, e.CreatedAt.Unix()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		j.log.Error("observability: journal flush", "error", err, "entries", len(batch))
	}
}

// Close flushes remaining entries, stops the background goroutine and
// closes the database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	var err error
	j.once.Do(func() {
		close(j.stop)
		<-j.done
		err = j.db.Close()
	})
	return err
}

func (j *Journal) flushLoop() {
	defer close(j.done)
	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			j.Flush()
			return
		case <-ticker.C:
			j.Flush()
		}
	}
}

// Recent returns the newest entries, at most limit.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if j == nil {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT event_id, operation, target, success, kind, duration_ms,
		       bytes, trace_id, transport, created_at
		FROM conversion_events ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("observability: query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ms, ts int64
		if err := rows.Scan(&e.ID, &e.Operation, &e.Target, &e.Success, &e.Kind, &ms,
			&e.Bytes, &e.TraceID, &e.Transport, &ts); err != nil {
			return nil, fmt.Errorf("observability: scan journal: %w", err)
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		e.CreatedAt = time.Unix(ts, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup deletes entries older than retentionDays and returns the count
// removed.
func (j *Journal) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if j == nil || retentionDays <= 0 {
		return 0, nil
	}
	threshold := time.Now().AddDate(0, 0, -retentionDays).Unix()
	res, err := dbopen.Exec(ctx, j.db, "DELETE FROM conversion_events WHERE created_at < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup journal: %w", err)
	}
	return res.RowsAffected()
}
