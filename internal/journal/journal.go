package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"courier/internal/config"
	"courier/internal/logging"
	"courier/internal/task"
)

const (
	defaultBuffer = 512
	maxBatch      = 64
)

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal closed")

// Entry is one recorded transition.
type Entry struct {
	ID      int64
	TaskID  string
	Kind    task.Kind
	From    task.Status
	To      task.Status
	Reason  string
	Implied bool
	At      time.Time
}

type op struct {
	tr      task.Transition
	flushed chan struct{}
}

// Journal appends transitions asynchronously and answers history queries.
type Journal struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	in      chan op
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// Options configures a Journal.
type Options struct {
	Logger *slog.Logger
	// Buffer is the number of transitions queued before appends are dropped.
	Buffer int
}

// Open creates or opens the journal database at path and starts its writer.
func Open(path string, opts Options) (*Journal, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	j := &Journal{
		db:     db,
		path:   path,
		logger: logging.NewComponentLogger(opts.Logger, "journal"),
		in:     make(chan op, buffer),
		done:   make(chan struct{}),
	}
	go j.run()
	return j, nil
}

// OpenFromConfig opens the journal under the configured state directory.
func OpenFromConfig(cfg *config.Config, logger *slog.Logger) (*Journal, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return Open(cfg.JournalPath(), Options{Logger: logger})
}

// Path returns the database file location.
func (j *Journal) Path() string { return j.path }

// Append queues t for writing. It never blocks; when the buffer is full the
// transition is dropped and counted.
func (j *Journal) Append(t task.Transition) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.in <- op{tr: t}:
	default:
		if j.dropped.Add(1) == 1 {
			logging.WarnWithContext(j.logger, "journal buffer full, dropping transitions", "journal_overflow",
				logging.TaskID(t.TaskID),
				logging.String(logging.FieldErrorHint, "the disk may be slow or the journal locked"),
				logging.String(logging.FieldImpact, "history will be incomplete"),
			)
		}
	}
}

// Dropped reports how many transitions were discarded on overflow.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// Flush waits until every transition appended before the call is written.
func (j *Journal) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return ErrClosed
	}
	select {
	case j.in <- op{flushed: flushed}:
	case <-ctx.Done():
		j.mu.RUnlock()
		return ctx.Err()
	}
	j.mu.RUnlock()

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains queued transitions and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.in)
	j.mu.Unlock()

	<-j.done
	return j.db.Close()
}

func (j *Journal) run() {
	defer close(j.done)
	batch := make([]task.Transition, 0, maxBatch)
	var waiters []chan struct{}

	for first := range j.in {
		batch, waiters = collect(batch[:0], waiters[:0], first)
	drain:
		for len(batch) < maxBatch {
			select {
			case next, ok := <-j.in:
				if !ok {
					break drain
				}
				batch, waiters = collect(batch, waiters, next)
			default:
				break drain
			}
		}
		if len(batch) > 0 {
			if err := j.write(context.Background(), batch); err != nil {
				logging.WarnWithContext(j.logger, "journal write failed", "journal_write_failed",
					logging.Error(err),
					logging.Int("transitions", len(batch)),
					logging.String(logging.FieldImpact, "history will be incomplete"),
				)
			}
		}
		for _, w := range waiters {
			close(w)
		}
	}
}

func collect(batch []task.Transition, waiters []chan struct{}, o op) ([]task.Transition, []chan struct{}) {
	if o.flushed != nil {
		return batch, append(waiters, o.flushed)
	}
	return append(batch, o.tr), waiters
}

func (j *Journal) write(ctx context.Context, batch []task.Transition) error {
	return retryOnBusy(ctx, func() error {
		tx, err := j.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin append tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO transitions
            (task_id, kind, from_status, to_status, reason, implied, at_ms)
            VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare append: %w", err)
		}
		defer stmt.Close()

		for _, t := range batch {
			if _, err := stmt.ExecContext(ctx,
				t.TaskID, string(t.Kind), string(t.From), string(t.To), t.Reason, boolToInt(t.Implied), t.At.UnixMilli(),
			); err != nil {
				return fmt.Errorf("append transition %s: %w", t.TaskID, err)
			}
		}
		return tx.Commit()
	})
}

// History returns up to limit of the most recent transitions, oldest first.
// An empty taskID selects all tasks; a non-positive limit means 100.
func (j *Journal) History(ctx context.Context, taskID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, task_id, kind, from_status, to_status, reason, implied, at_ms FROM transitions`
	args := []any{}
	if taskID != "" {
		query += ` WHERE task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			kind    string
			from    string
			to      string
			implied int
			atMS    int64
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &kind, &from, &to, &e.Reason, &implied, &atMS); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Kind = task.Kind(kind)
		e.From = task.Status(from)
		e.To = task.Status(to)
		e.Implied = implied != 0
		e.At = time.UnixMilli(atMS).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

// Prune deletes transitions recorded before cutoff and reports how many
// were removed.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, err := j.db.ExecContext(ctx, `DELETE FROM transitions WHERE at_ms < ?`, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	if removed > 0 {
		j.logger.Info("journal pruned", logging.Int("removed", int(removed)), logging.String("cutoff", cutoff.UTC().Format(time.RFC3339)))
	}
	return removed, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
