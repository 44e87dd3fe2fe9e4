// Package oeis defines the core types shared across the sync subsystems:
// sequence records, b-file attachments, fetch tasks and outcomes, and the
// durable crawl state.
package oeis

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordID identifies one sequence in the remote database. IDs are positive
// and totally ordered; the crawl frontier is defined over this ordering.
type RecordID int64

// String renders the canonical "A000045" form.
func (id RecordID) String() string {
	return fmt.Sprintf("A%06d", int64(id))
}

// SequenceRecord is the structured form of one fetched entry.
type SequenceRecord struct {
	ID             RecordID  `json:"id"`
	Identification string    `json:"identification,omitempty"`
	Name           string    `json:"name"`
	OffsetA        int64     `json:"offset_a"`
	OffsetB        int64     `json:"offset_b"`
	// Terms holds the canonical decimal representation of each value. The
	// remote database carries terms that exceed int64, so values stay
	// strings end to end; parsing validates the syntax.
	Terms          []string  `json:"terms"`
	Comments       []string  `json:"comments,omitempty"`
	References     []string  `json:"references,omitempty"`
	Links          []string  `json:"links,omitempty"`
	Formulas       []string  `json:"formulas,omitempty"`
	Examples       []string  `json:"examples,omitempty"`
	Programs       []string  `json:"programs,omitempty"`
	CrossRefs      []string  `json:"cross_refs,omitempty"`
	Extensions     []string  `json:"extensions,omitempty"`
	Keywords       []string  `json:"keywords"`
	Author         string    `json:"author,omitempty"`
	// Revision is an opaque marker derived from the fetched content. It is
	// only ever compared for equality; no time or version ordering is
	// assumed across records.
	Revision       string    `json:"revision"`
	FirstFetched   time.Time `json:"first_fetched"`
	LastFetched    time.Time `json:"last_fetched"`
}

// AttachmentRow is one (index, value) pair of a b-file.
type AttachmentRow struct {
	Index int64  `json:"index"`
	Value string `json:"value"`
}

// Attachment is the large supplementary numeric table for a record ("b-file").
// Invariant: Rows indices are strictly increasing and contiguous, and Lo/Hi
// match the first and last index present. ParseAttachment enforces this; the
// store re-checks it at the write boundary.
type Attachment struct {
	ID   RecordID        `json:"id"`
	Lo   int64           `json:"lo"`
	Hi   int64           `json:"hi"`
	Rows []AttachmentRow `json:"rows"`
}

// Validate re-checks the contiguity invariant.
func (a Attachment) Validate() error {
	if len(a.Rows) == 0 {
		return fmt.Errorf("attachment %s has no rows", a.ID)
	}
	if a.Lo != a.Rows[0].Index || a.Hi != a.Rows[len(a.Rows)-1].Index {
		return fmt.Errorf("attachment %s range [%d,%d] does not match rows [%d,%d]",
			a.ID, a.Lo, a.Hi, a.Rows[0].Index, a.Rows[len(a.Rows)-1].Index)
	}
	for i := 1; i < len(a.Rows); i++ {
		if a.Rows[i].Index != a.Rows[i-1].Index+1 {
			return fmt.Errorf("attachment %s index %d follows %d", a.ID, a.Rows[i].Index, a.Rows[i-1].Index)
		}
	}
	return nil
}

// PassStatus is the lifecycle state of one crawl pass.
type PassStatus string

// Pass status values persisted in crawl_state.
const (
	PassRunning     PassStatus = "running"
	PassCompleted   PassStatus = "completed"
	PassInterrupted PassStatus = "interrupted"
	PassAborted     PassStatus = "aborted"
)

// CrawlState is the durable progress marker for one pass. The in-memory copy
// held by the coordinator is a cache; after a restart only the stored copy is
// trusted.
type CrawlState struct {
	PassID        uuid.UUID  `json:"pass_id"`
	RangeStart    RecordID   `json:"range_start"`
	RangeEnd      RecordID   `json:"range_end"`
	LastCompleted RecordID   `json:"last_completed"`
	PassStart     time.Time  `json:"pass_start"`
	Status        PassStatus `json:"status"`
	// StaleCutoff is set only for incremental passes: the pass covers records
	// whose content was last fetched before this instant. Zero for range
	// passes.
	StaleCutoff time.Time `json:"stale_cutoff,omitempty"`
}

// PassEvent is the message published to downstream consumers when a pass
// reaches a terminal state.
type PassEvent struct {
	PassID        uuid.UUID  `json:"pass_id"`
	Status        PassStatus `json:"status"`
	RangeStart    RecordID   `json:"range_start"`
	RangeEnd      RecordID   `json:"range_end"`
	LastCompleted RecordID   `json:"last_completed"`
	Updated       int64      `json:"updated"`
	Unchanged     int64      `json:"unchanged"`
	NotFound      int64      `json:"not_found"`
	ParseFailed   int64      `json:"parse_failed"`
	Failed        int64      `json:"failed"`
	Retried       int64      `json:"retried"`
	FinishedAt    time.Time  `json:"finished_at"`
}

// Failure is the durable record of an id that could not be processed.
type Failure struct {
	ID        RecordID  `json:"id"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	FailedAt  time.Time `json:"failed_at"`
}

// TaskKind distinguishes the two fetchable resources per record.
type TaskKind string

// Fetchable resource kinds.
const (
	KindMetadata   TaskKind = "metadata"
	KindAttachment TaskKind = "attachment"
)

// FetchTask names one logical fetch. Attempt is maintained by the caller so
// retry accounting stays visible and testable.
type FetchTask struct {
	ID      RecordID
	Kind    TaskKind
	Attempt int
}

// OutcomeStatus classifies the result of a single fetch round trip.
type OutcomeStatus string

// Fetch outcome classes; retry policy is driven by these values rather than
// by error unwinding.
const (
	FetchSuccess     OutcomeStatus = "success"
	FetchNotFound    OutcomeStatus = "not_found"
	FetchTransient   OutcomeStatus = "transient"
	FetchRateLimited OutcomeStatus = "rate_limited"
)

// FetchOutcome is the typed result of exactly one network round trip.
type FetchOutcome struct {
	Status OutcomeStatus
	// Body holds the raw response bytes on FetchSuccess.
	Body []byte
	// RetryAfter carries an explicit server-signaled delay on
	// FetchRateLimited; zero means "use default backoff".
	RetryAfter time.Duration
	// Err retains the underlying cause for FetchTransient, for logs only.
	Err error
}
