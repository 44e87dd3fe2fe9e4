// Package progress defines the event stream emitted by the sync pipeline and
// the hub that fans it out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oeistools/oeissync/internal/oeis"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StagePassStart  Stage = "PASS_START"
	StagePassDone   Stage = "PASS_DONE"
	StagePassError  Stage = "PASS_ERROR"
	StageFetchDone  Stage = "FETCH_DONE"
	StageRecordDone Stage = "RECORD_DONE"
	StageCheckpoint Stage = "CHECKPOINT"
)

// Record result labels used with StageRecordDone.
const (
	ResultUpdated     = "updated"
	ResultUnchanged   = "unchanged"
	ResultNotFound    = "not_found"
	ResultParseFailed = "parse_failed"
	ResultFailed      = "failed"
)

// Event captures a single milestone of sync progress.
type Event struct {
	// PassID identifies the pass in 16-byte UUID form.
	PassID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle, fetch or commit milestone occurred.
	Stage Stage
	// Record scopes fetch/record events to one id; zero for pass events.
	Record oeis.RecordID
	// Kind distinguishes metadata from attachment fetches.
	Kind oeis.TaskKind
	// Outcome is the fetch outcome or record result label for the stage.
	Outcome string
	// Bytes carries the response size for fetch completions.
	Bytes int64
	// Dur captures execution latency for fetches and pass completions.
	Dur time.Duration
	// Checkpoint carries the committed id for StageCheckpoint.
	Checkpoint oeis.RecordID
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.PassID == [16]byte{} {
		return errors.New("pass id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StagePassStart, StagePassDone, StagePassError:
	case StageFetchDone:
		if e.Record == 0 {
			return errors.New("fetch done requires a record id")
		}
		if e.Outcome == "" {
			return errors.New("fetch done requires an outcome")
		}
	case StageRecordDone:
		if e.Record == 0 {
			return errors.New("record done requires a record id")
		}
		if e.Outcome == "" {
			return errors.New("record done requires a result")
		}
	case StageCheckpoint:
		if e.Checkpoint == 0 {
			return errors.New("checkpoint event requires a checkpoint id")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// PassUUID converts the binary pass ID to uuid.UUID.
func (e Event) PassUUID() uuid.UUID {
	return uuid.UUID(e.PassID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
