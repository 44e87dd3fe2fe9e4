package oeis

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Fetcher performs exactly one network round trip for a task. Implementations
// acquire a rate permit before the request; retries belong to the caller.
type Fetcher interface {
	Fetch(ctx context.Context, task FetchTask) FetchOutcome
}

// Store is the transactional local mirror. All mutating operations either
// apply fully or leave the store untouched.
type Store interface {
	// UpsertRecord writes or overwrites the record row and, when att is
	// non-nil, replaces the attachment rows for that id in the same
	// transaction.
	UpsertRecord(ctx context.Context, rec SequenceRecord, att *Attachment) error
	// GetRevision returns the stored revision marker for id, or ok=false
	// when the record has never been fetched.
	GetRevision(ctx context.Context, id RecordID) (revision string, ok bool, err error)
	GetRecord(ctx context.Context, id RecordID) (SequenceRecord, bool, error)
	GetAttachment(ctx context.Context, id RecordID) (Attachment, bool, error)

	// BeginPass persists a fresh CrawlState with Status running.
	BeginPass(ctx context.Context, state CrawlState) error
	// LoadOpenPass returns the most recent resumable pass: one left in
	// running state by a crash, or one that finished interrupted.
	LoadOpenPass(ctx context.Context) (CrawlState, bool, error)
	// AdvanceCheckpoint moves last_completed to id, enforcing at the
	// storage boundary that id strictly exceeds the stored checkpoint;
	// contiguity over the frontier is the coordinator's responsibility.
	// A violation returns ErrCheckpointRegression.
	AdvanceCheckpoint(ctx context.Context, passID uuid.UUID, id RecordID) error
	CompletePass(ctx context.Context, passID uuid.UUID, status PassStatus) error

	// MarkFailed durably records a non-fatal per-id failure so retry
	// bookkeeping survives a crash.
	MarkFailed(ctx context.Context, id RecordID, attempts int, cause string) error
	ClearFailure(ctx context.Context, id RecordID) error
	ListFailures(ctx context.Context) ([]Failure, error)

	// ListStaleRecords returns ids whose content was last fetched before
	// cutoff, ascending; used by the incremental refresh mode.
	ListStaleRecords(ctx context.Context, cutoff time.Time, limit int) ([]RecordID, error)
	// IterateRecords streams all stored records in id order, for export.
	IterateRecords(ctx context.Context, fn func(SequenceRecord, *Attachment) error) error
}

// BlobStore writes snapshot artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes pass lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, event PassEvent) (string, error)
}

// Hasher computes revision digests over fetched content.
type Hasher interface {
	Hash(data []byte) (string, error)
	// Revision derives the revision marker for one record from its raw
	// metadata body and optional attachment body.
	Revision(metadata, attachment []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces pass IDs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}
