package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// State keys in the sync_state table.
const (
	stateKeyCursor    = "cursor"
	stateKeyWatermark = "retention_watermark"
)

// keptRuns is how many run records survive pruning.
const keptRuns = 100

const (
	dataDirPermissions  = 0o700
	lockFilePermissions = 0o600
)

// SQL statements for state operations.
const (
	sqlLoadCorrelations = `SELECT event_id, assignment_id, owner_id, leave_type_id,
		start_date, end_date FROM correlations`

	sqlUpsertCorrelation = `INSERT INTO correlations
		(event_id, assignment_id, owner_id, leave_type_id, start_date, end_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
		 assignment_id = excluded.assignment_id,
		 owner_id = excluded.owner_id,
		 leave_type_id = excluded.leave_type_id,
		 start_date = excluded.start_date,
		 end_date = excluded.end_date,
		 updated_at = excluded.updated_at`

	sqlDeleteCorrelation = `DELETE FROM correlations WHERE event_id = ?`

	sqlGetState = `SELECT value FROM sync_state WHERE key = ?`

	sqlUpsertState = `INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		 value = excluded.value,
		 updated_at = excluded.updated_at`

	sqlDeleteState = `DELETE FROM sync_state WHERE key = ?`

	sqlInsertRun = `INSERT INTO sync_runs
		(run_id, mode, started_at, finished_at, events, created, updated, deleted,
		 unchanged, skipped, failed, purged, cursor_advanced, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlPruneRuns = `DELETE FROM sync_runs WHERE run_id NOT IN
		(SELECT run_id FROM sync_runs ORDER BY started_at DESC LIMIT ?)`

	sqlListRuns = `SELECT run_id, mode, started_at, finished_at, events, created,
		updated, deleted, unchanged, skipped, failed, purged, cursor_advanced, error
		FROM sync_runs ORDER BY started_at DESC LIMIT ?`
)

// ErrLocked is returned when another process holds the state database.
var ErrLocked = errors.New("sync: state database is locked by another process")

// ErrNoState is returned by OpenStoreReadOnly when no database exists yet.
var ErrNoState = errors.New("sync: no state database")

// State is everything a run reads at start.
type State struct {
	Correlations *Correlations
	Cursor       string
	Watermark    Date
}

// RunRecord is one row of run history.
type RunRecord struct {
	ID             string    `json:"run_id"`
	Mode           string    `json:"mode"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Events         int       `json:"events"`
	Created        int       `json:"created"`
	Updated        int       `json:"updated"`
	Deleted        int       `json:"deleted"`
	Unchanged      int       `json:"unchanged"`
	Skipped        int       `json:"skipped"`
	Failed         int       `json:"failed"`
	Purged         int       `json:"purged"`
	CursorAdvanced bool      `json:"cursor_advanced"`
	Error          string    `json:"error,omitempty"`
}

// Store is the sole writer to the state database. It reads state once at
// run start and writes it once at run end in a single transaction.
type Store struct {
	db       *sql.DB
	lock     *os.File
	logger   *slog.Logger
	nowFunc  func() time.Time
	readOnly bool
}

// OpenStore takes an exclusive lock on "<dbPath>.lock", opens the SQLite
// database at dbPath, and runs migrations. A second process gets ErrLocked.
func OpenStore(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), dataDirPermissions); err != nil {
		return nil, fmt.Errorf("sync: creating data directory: %w", err)
	}

	lock, err := acquireLock(dbPath + ".lock")
	if err != nil {
		return nil, err
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"+
			"&_pragma=journal_size_limit(67108864)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		lock.Close()
		return nil, fmt.Errorf("sync: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, logger); err != nil {
		db.Close()
		lock.Close()

		return nil, err
	}

	logger.Debug("state store opened", slog.String("db_path", dbPath))

	return &Store{db: db, lock: lock, logger: logger, nowFunc: time.Now}, nil
}

// OpenStoreReadOnly opens an existing database for inspection without
// taking the lock, so status works while a daemon is running.
func OpenStoreReadOnly(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoState
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=query_only(1)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sync: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sync: opening database %s: %w", dbPath, err)
	}

	return &Store{db: db, logger: logger, nowFunc: time.Now, readOnly: true}, nil
}

// acquireLock takes a non-blocking exclusive flock on path.
func acquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("sync: opening lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w (%s)", ErrLocked, path)
		}

		return nil, fmt.Errorf("sync: locking %s: %w", path, err)
	}

	return f, nil
}

// Close closes the database and releases the lock.
func (s *Store) Close() error {
	err := s.db.Close()

	if s.lock != nil {
		s.lock.Close()
	}

	if err != nil {
		return fmt.Errorf("sync: closing database: %w", err)
	}

	return nil
}

// Load reads correlations, cursor, and watermark.
func (s *Store) Load(ctx context.Context) (*State, error) {
	rows, err := s.db.QueryContext(ctx, sqlLoadCorrelations)
	if err != nil {
		return nil, fmt.Errorf("sync: loading correlations: %w", err)
	}
	defer rows.Close()

	loaded := make(map[string]Entry)

	for rows.Next() {
		var (
			id         string
			e          Entry
			start, end string
		)

		if err := rows.Scan(&id, &e.AssignmentID, &e.OwnerID, &e.LeaveTypeID, &start, &end); err != nil {
			return nil, fmt.Errorf("sync: scanning correlation row: %w", err)
		}

		e.Start, e.End = Date(start), Date(end)
		loaded[id] = e
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sync: iterating correlation rows: %w", err)
	}

	cursor, err := s.getState(ctx, stateKeyCursor)
	if err != nil {
		return nil, err
	}

	watermark, err := s.getState(ctx, stateKeyWatermark)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("state loaded",
		slog.Int("correlations", len(loaded)),
		slog.Bool("has_cursor", cursor != ""),
		slog.String("watermark", watermark),
	)

	return &State{
		Correlations: NewCorrelations(loaded),
		Cursor:       cursor,
		Watermark:    Date(watermark),
	}, nil
}

func (s *Store) getState(ctx context.Context, key string) (string, error) {
	var value string

	err := s.db.QueryRowContext(ctx, sqlGetState, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("sync: reading %s: %w", key, err)
	}

	return value, nil
}

// Commit writes changed correlation rows, the cursor, and the watermark in
// one transaction. An empty cursor or watermark deletes the stored value.
func (s *Store) Commit(ctx context.Context, c *Correlations, cursor string, watermark Date) error {
	if s.readOnly {
		return errors.New("sync: commit on read-only store")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sync: beginning commit transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.nowFunc().UnixNano()
	upserts, removals := c.changes()

	for _, id := range upserts {
		e := c.entries[id]

		if _, err := tx.ExecContext(ctx, sqlUpsertCorrelation,
			id, e.AssignmentID, e.OwnerID, e.LeaveTypeID, string(e.Start), string(e.End), now,
		); err != nil {
			return fmt.Errorf("sync: upserting correlation %s: %w", id, err)
		}
	}

	for _, id := range removals {
		if _, err := tx.ExecContext(ctx, sqlDeleteCorrelation, id); err != nil {
			return fmt.Errorf("sync: deleting correlation %s: %w", id, err)
		}
	}

	if err := putState(ctx, tx, stateKeyCursor, cursor, now); err != nil {
		return err
	}

	if err := putState(ctx, tx, stateKeyWatermark, string(watermark), now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sync: committing transaction: %w", err)
	}

	c.markClean()

	s.logger.Debug("state committed",
		slog.Int("upserts", len(upserts)),
		slog.Int("removals", len(removals)),
		slog.Bool("has_cursor", cursor != ""),
		slog.String("watermark", string(watermark)),
	)

	return nil
}

func putState(ctx context.Context, tx *sql.Tx, key, value string, now int64) error {
	var err error

	if value == "" {
		_, err = tx.ExecContext(ctx, sqlDeleteState, key)
	} else {
		_, err = tx.ExecContext(ctx, sqlUpsertState, key, value, now)
	}

	if err != nil {
		return fmt.Errorf("sync: writing %s: %w", key, err)
	}

	return nil
}

// RecordRun appends a run record and prunes history to the newest keptRuns.
func (s *Store) RecordRun(ctx context.Context, r *RunRecord) error {
	if s.readOnly {
		return errors.New("sync: recording run on read-only store")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sync: beginning run transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, sqlInsertRun,
		r.ID, r.Mode, r.StartedAt.UnixNano(), r.FinishedAt.UnixNano(),
		r.Events, r.Created, r.Updated, r.Deleted, r.Unchanged, r.Skipped, r.Failed, r.Purged,
		r.CursorAdvanced, nullString(r.Error),
	); err != nil {
		return fmt.Errorf("sync: inserting run %s: %w", r.ID, err)
	}

	if _, err := tx.ExecContext(ctx, sqlPruneRuns, keptRuns); err != nil {
		return fmt.Errorf("sync: pruning runs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sync: committing run: %w", err)
	}

	return nil
}

// ListRuns returns up to limit run records, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqlListRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("sync: listing runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord

	for rows.Next() {
		var (
			r                 RunRecord
			started, finished int64
			runErr            sql.NullString
		)

		if err := rows.Scan(&r.ID, &r.Mode, &started, &finished, &r.Events, &r.Created,
			&r.Updated, &r.Deleted, &r.Unchanged, &r.Skipped, &r.Failed, &r.Purged,
			&r.CursorAdvanced, &runErr,
		); err != nil {
			return nil, fmt.Errorf("sync: scanning run row: %w", err)
		}

		r.StartedAt = time.Unix(0, started).UTC()
		r.FinishedAt = time.Unix(0, finished).UTC()
		r.Error = runErr.String

		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sync: iterating run rows: %w", err)
	}

	return runs, nil
}

// nullString maps "" to SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
