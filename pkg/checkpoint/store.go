package checkpoint

import (
	"context"
	"time"

	"github.com/toolharbor/toolharbor/pkg/catalog"
)

// Checkpoint is the durable per-target ingestion state record.
type Checkpoint struct {
	CanonicalID string              `json:"canonical_id" bson:"canonical_id"`
	Channel     catalog.ChannelType `json:"channel" bson:"channel"`
	State       State               `json:"state" bson:"state"`

	// Attempts counts failed pipeline runs. Monotonically non-decreasing.
	Attempts int `json:"attempts" bson:"attempts"`

	// Worker and ClaimedAt identify the current processing claim.
	Worker    string     `json:"worker,omitempty" bson:"worker,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty" bson:"claimed_at,omitempty"`

	// NotBefore delays the next claim for backoff between retries.
	NotBefore *time.Time `json:"not_before,omitempty" bson:"not_before,omitempty"`

	// LastError and LastErrorCode describe the most recent failure for
	// operator diagnosis. Human-readable summary only, never a stack trace.
	LastError     string `json:"last_error,omitempty" bson:"last_error,omitempty"`
	LastErrorCode string `json:"last_error_code,omitempty" bson:"last_error_code,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at" bson:"updated_at"`
}

// Failure describes why an ingestion attempt failed, for bookkeeping.
type Failure struct {
	Code    string // machine-readable error code
	Message string // human-readable summary
}

// Store is the durable checkpoint store. All mutating operations are
// atomic with respect to concurrent workers; Claim in particular is the
// sole serialization point preventing two workers from processing the
// same target.
type Store interface {
	// Enqueue creates a pending checkpoint for the target if none exists.
	// With refresh, a terminal (completed/failed) checkpoint is re-queued;
	// without it, terminal and in-flight checkpoints are left untouched.
	Enqueue(ctx context.Context, target catalog.Target, refresh bool) error

	// Claim atomically transitions the target to processing for worker.
	// It succeeds when the checkpoint is pending and past any backoff
	// delay, or when an existing processing claim is older than
	// staleAfter. Otherwise it fails with ALREADY_PROCESSING.
	Claim(ctx context.Context, canonicalID, worker string, staleAfter time.Duration) (*Checkpoint, error)

	// MarkCompleted records terminal success.
	MarkCompleted(ctx context.Context, canonicalID string) error

	// MarkSkipped records terminal intentional exclusion.
	MarkSkipped(ctx context.Context, canonicalID string, failure Failure) error

	// MarkFailed records terminal failure immediately, bypassing the
	// remaining retry budget. Used for rejections that must never be
	// retried, such as an artifact exceeding the decompression ceiling.
	MarkFailed(ctx context.Context, canonicalID string, failure Failure) error

	// RecordFailure increments attempts and either re-queues the target as
	// pending with the given backoff delay (attempts < maxAttempts) or
	// marks it failed. Returns the resulting state.
	RecordFailure(ctx context.Context, canonicalID string, failure Failure, maxAttempts int, retryIn time.Duration) (State, error)

	// Release returns a processing claim to pending without consuming an
	// attempt. Used on shutdown/cancellation.
	Release(ctx context.Context, canonicalID string) error

	// Get returns the checkpoint for one target.
	Get(ctx context.Context, canonicalID string) (*Checkpoint, error)

	// NextPending returns up to limit claimable pending targets, oldest first.
	NextPending(ctx context.Context, limit int) ([]catalog.Target, error)

	// Counts returns the number of checkpoints per state.
	Counts(ctx context.Context) (map[State]int64, error)

	// Close releases backend resources.
	Close(ctx context.Context) error
}
