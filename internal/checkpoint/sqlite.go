package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	closed  bool
	writeMu sync.Mutex
}

// NewSQLiteStore opens or creates the journal database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(60000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		source_bucket TEXT NOT NULL,
		dest_bucket TEXT NOT NULL,
		status TEXT NOT NULL,
		last_error TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS chunks (
		label TEXT NOT NULL,
		name TEXT NOT NULL,
		run_id TEXT NOT NULL,
		page INTEGER NOT NULL,
		chunk_index INTEGER NOT NULL,
		objects INTEGER NOT NULL,
		bytes INTEGER NOT NULL,
		status TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (label, name)
	);

	CREATE TABLE IF NOT EXISTS failures (
		label TEXT NOT NULL,
		key TEXT NOT NULL,
		run_id TEXT NOT NULL,
		bucket TEXT NOT NULL,
		page INTEGER NOT NULL,
		attempts INTEGER DEFAULT 0,
		last_error TEXT,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (label, key)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_label ON runs(label);
	CREATE INDEX IF NOT EXISTS idx_failures_updated_at ON failures(updated_at);
	`

	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteStore) checkOpen() error {
	if s.closed {
		return fmt.Errorf("database store is closed")
	}
	return nil
}

// write serializes writers and retries while SQLite reports busy
func (s *SQLiteStore) write(ctx context.Context, query string, args ...any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// StartRun records a new run, assigning it an id when it has none
func (s *SQLiteStore) StartRun(ctx context.Context, run *RunRecord) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Status = RunRunning

	return s.write(ctx, `
	INSERT INTO runs (id, label, source_bucket, dest_bucket, status, started_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.Label, run.SourceBucket, run.DestBucket, run.Status, run.StartedAt)
}

// FinishRun stores the final status of a run
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, status RunStatus, runErr error) error {
	var lastError sql.NullString
	if runErr != nil {
		lastError = sql.NullString{String: runErr.Error(), Valid: true}
	}

	return s.write(ctx, `
	UPDATE runs SET status = ?, last_error = ?, finished_at = ? WHERE id = ?
	`, status, lastError, time.Now(), id)
}

// SaveChunk upserts a chunk record
func (s *SQLiteStore) SaveChunk(ctx context.Context, record *ChunkRecord) error {
	record.UpdatedAt = time.Now()

	return s.write(ctx, `
	INSERT INTO chunks (label, name, run_id, page, chunk_index, objects, bytes, status, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(label, name) DO UPDATE SET
		run_id = excluded.run_id,
		page = excluded.page,
		chunk_index = excluded.chunk_index,
		objects = CASE WHEN excluded.status = 'uploaded' THEN excluded.objects ELSE chunks.objects END,
		bytes = CASE WHEN excluded.status = 'uploaded' THEN excluded.bytes ELSE chunks.bytes END,
		status = excluded.status,
		updated_at = excluded.updated_at
	`,
		record.Label,
		record.Name,
		record.RunID,
		record.Page,
		record.Index,
		record.Objects,
		record.Bytes,
		record.Status,
		record.UpdatedAt,
	)
}

// SaveFailure upserts a fetch failure; repeated failures of the same key
// accumulate attempts.
func (s *SQLiteStore) SaveFailure(ctx context.Context, record *FailureRecord) error {
	record.UpdatedAt = time.Now()

	return s.write(ctx, `
	INSERT INTO failures (label, key, run_id, bucket, page, attempts, last_error, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(label, key) DO UPDATE SET
		run_id = excluded.run_id,
		bucket = excluded.bucket,
		page = excluded.page,
		attempts = failures.attempts + excluded.attempts,
		last_error = excluded.last_error,
		updated_at = excluded.updated_at
	`,
		record.Label,
		record.Key,
		record.RunID,
		record.Bucket,
		record.Page,
		record.Attempts,
		record.LastError,
		record.UpdatedAt,
	)
}

// ListFailures returns the recorded fetch failures for a label, oldest first
func (s *SQLiteStore) ListFailures(ctx context.Context, label string) ([]*FailureRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
	SELECT label, key, run_id, bucket, page, attempts, last_error, updated_at
	FROM failures WHERE label = ?
	ORDER BY page ASC, key ASC
	`

	rows, err := s.db.QueryContext(ctx, query, label)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*FailureRecord

	for rows.Next() {
		var record FailureRecord
		var lastError sql.NullString

		err := rows.Scan(
			&record.Label,
			&record.Key,
			&record.RunID,
			&record.Bucket,
			&record.Page,
			&record.Attempts,
			&lastError,
			&record.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		if lastError.Valid {
			record.LastError = lastError.String
		}

		records = append(records, &record)
	}

	return records, rows.Err()
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(ctx context.Context, operation func() error) error {
	maxRetries := 10
	baseDelay := 50 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if !isSQLiteBusyError(err) || attempt == maxRetries-1 {
			return err
		}

		delay := baseDelay*time.Duration(1<<uint(attempt)) + time.Duration(attempt*10)*time.Millisecond
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// isSQLiteBusyError checks if the error is a SQLite busy error
func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.closed = true
	return s.db.Close()
}
