package storage

import (
	"context"
	"time"

	"pinharvest/internal/domain"
)

// PinRepository is the keyed store that the load stage writes cleaned pins to.
// Implementations must make Upsert idempotent for the same batch.
type PinRepository interface {
	// Upsert writes pins keyed by pin_link. Per-record failures are counted in
	// the result and do not stop the batch.
	Upsert(ctx context.Context, pins []domain.Pin) (UpsertResult, error)

	// Verify reports statistics about the stored pins without modifying them.
	Verify(ctx context.Context) (domain.Stats, error)

	// Close releases the store connection.
	Close() error
}

// UpsertResult counts the outcome of one Upsert call.
type UpsertResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Errors   int `json:"errors"`
}

// RunStatus is the final state of a pipeline run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one entry of the run ledger.
type Run struct {
	ID         string       `json:"id"`
	Query      string       `json:"query"`
	Status     RunStatus    `json:"status"`
	Stage      string       `json:"stage,omitempty"`
	Error      string       `json:"error,omitempty"`
	Collected  int          `json:"collected"`
	Cleaned    int          `json:"cleaned"`
	Load       UpsertResult `json:"load"`
	Stats      domain.Stats `json:"stats"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// RunLog records pipeline runs so the driver can refuse overlapping or
// too-frequent runs.
type RunLog interface {
	// BeginRun takes the in-progress marker for id. It fails with ErrLocked
	// while another run holds an unexpired marker.
	BeginRun(ctx context.Context, id string, ttl time.Duration) error

	// FinishRun stores run and releases the in-progress marker.
	FinishRun(ctx context.Context, run Run) error

	// LastCompleted returns the most recent successful run, or nil if none.
	LastCompleted(ctx context.Context) (*Run, error)

	// Runs lists recorded runs, newest first.
	Runs(ctx context.Context) ([]Run, error)

	Close() error
}
