package checkpoint

import (
	"context"
	"time"
)

// RunStatus represents the final state of an archive run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// ChunkStatus records what a run did with a chunk
type ChunkStatus string

const (
	ChunkUploaded ChunkStatus = "uploaded"
	ChunkSkipped  ChunkStatus = "skipped"
)

// RunRecord describes one invocation of the archiver
type RunRecord struct {
	ID           string    `json:"id"`
	Label        string    `json:"label"`
	SourceBucket string    `json:"source_bucket"`
	DestBucket   string    `json:"dest_bucket"`
	Status       RunStatus `json:"status"`
	LastError    string    `json:"last_error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
}

// ChunkRecord describes a chunk handled by a run
type ChunkRecord struct {
	RunID     string      `json:"run_id"`
	Label     string      `json:"label"`
	Name      string      `json:"name"`
	Page      int         `json:"page"`
	Index     int         `json:"index"`
	Objects   int         `json:"objects"`
	Bytes     int64       `json:"bytes"`
	Status    ChunkStatus `json:"status"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// FailureRecord describes a source object that could not be fetched
type FailureRecord struct {
	RunID     string    `json:"run_id"`
	Label     string    `json:"label"`
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	Page      int       `json:"page"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store records what each run did. It is an audit trail only; resume state
// always comes from the destination bucket.
type Store interface {
	// Run operations
	StartRun(ctx context.Context, run *RunRecord) error
	FinishRun(ctx context.Context, id string, status RunStatus, runErr error) error

	SaveChunk(ctx context.Context, record *ChunkRecord) error
	SaveFailure(ctx context.Context, record *FailureRecord) error
	ListFailures(ctx context.Context, label string) ([]*FailureRecord, error)

	// Cleanup
	Close() error
}

// Open returns a SQLite journal at path, or a store that records nothing
// when path is empty.
func Open(path string) (Store, error) {
	if path == "" {
		return noopStore{}, nil
	}
	return NewSQLiteStore(path)
}

type noopStore struct{}

func (noopStore) StartRun(context.Context, *RunRecord) error                { return nil }
func (noopStore) FinishRun(context.Context, string, RunStatus, error) error { return nil }
func (noopStore) SaveChunk(context.Context, *ChunkRecord) error             { return nil }
func (noopStore) SaveFailure(context.Context, *FailureRecord) error         { return nil }
func (noopStore) ListFailures(context.Context, string) ([]*FailureRecord, error) {
	return nil, nil
}
func (noopStore) Close() error { return nil }
