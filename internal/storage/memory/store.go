// Package memory provides in-memory storage implementations for development
// and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oeistools/oeissync/internal/oeis"
)

// Store is an in-memory oeis.Store. It mirrors the transactional guarantees
// of the postgres store closely enough for the coordinator's semantics:
// writes are atomic under one mutex and the checkpoint guard matches the SQL
// predicate.
type Store struct {
	mu          sync.RWMutex
	records     map[oeis.RecordID]oeis.SequenceRecord
	attachments map[oeis.RecordID]oeis.Attachment
	passes      map[uuid.UUID]*oeis.CrawlState
	passOrder   []uuid.UUID
	failures    map[oeis.RecordID]oeis.Failure
	now         func() time.Time
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		records:     make(map[oeis.RecordID]oeis.SequenceRecord),
		attachments: make(map[oeis.RecordID]oeis.Attachment),
		passes:      make(map[uuid.UUID]*oeis.CrawlState),
		failures:    make(map[oeis.RecordID]oeis.Failure),
		now:         time.Now,
	}
}

// UpsertRecord writes the record and, when att is non-nil, replaces its
// attachment. The original first-fetched time is preserved across updates.
func (s *Store) UpsertRecord(_ context.Context, rec oeis.SequenceRecord, att *oeis.Attachment) error {
	if att != nil {
		if err := att.Validate(); err != nil {
			return err
		}
		if att.ID != rec.ID {
			return fmt.Errorf("attachment id %s does not match record %s", att.ID, rec.ID)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.ID]; ok {
		rec.FirstFetched = existing.FirstFetched
	}
	rec.Terms = append([]string(nil), rec.Terms...)
	s.records[rec.ID] = rec
	if att != nil {
		stored := *att
		stored.Rows = append([]oeis.AttachmentRow(nil), att.Rows...)
		s.attachments[rec.ID] = stored
	}
	return nil
}

// GetRevision returns the stored revision marker for id.
func (s *Store) GetRevision(_ context.Context, id oeis.RecordID) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return "", false, nil
	}
	return rec.Revision, true, nil
}

// GetRecord returns the stored record for id.
func (s *Store) GetRecord(_ context.Context, id oeis.RecordID) (oeis.SequenceRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok, nil
}

// GetAttachment returns the stored attachment for id.
func (s *Store) GetAttachment(_ context.Context, id oeis.RecordID) (oeis.Attachment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	att, ok := s.attachments[id]
	return att, ok, nil
}

// BeginPass persists a fresh pass state.
func (s *Store) BeginPass(_ context.Context, state oeis.CrawlState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.passes[state.PassID]; exists {
		return fmt.Errorf("pass %s already exists", state.PassID)
	}
	st := state
	s.passes[state.PassID] = &st
	s.passOrder = append(s.passOrder, state.PassID)
	return nil
}

// LoadOpenPass returns the most recently begun pass that can be resumed:
// still running (crash) or interrupted.
func (s *Store) LoadOpenPass(_ context.Context) (oeis.CrawlState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.passOrder) - 1; i >= 0; i-- {
		st := s.passes[s.passOrder[i]]
		if st.Status == oeis.PassRunning || st.Status == oeis.PassInterrupted {
			return *st, true, nil
		}
	}
	return oeis.CrawlState{}, false, nil
}

// AdvanceCheckpoint moves last_completed forward, rejecting any id that does
// not strictly exceed the stored checkpoint.
func (s *Store) AdvanceCheckpoint(_ context.Context, passID uuid.UUID, id oeis.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.passes[passID]
	if !ok {
		return oeis.ErrPassNotFound
	}
	if id <= st.LastCompleted {
		return fmt.Errorf("advance %s to %s from %s: %w",
			passID, id, st.LastCompleted, oeis.ErrCheckpointRegression)
	}
	st.LastCompleted = id
	return nil
}

// CompletePass records the terminal status of a pass.
func (s *Store) CompletePass(_ context.Context, passID uuid.UUID, status oeis.PassStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.passes[passID]
	if !ok {
		return oeis.ErrPassNotFound
	}
	st.Status = status
	return nil
}

// MarkFailed records or overwrites the failure row for id.
func (s *Store) MarkFailed(_ context.Context, id oeis.RecordID, attempts int, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[id] = oeis.Failure{ID: id, Attempts: attempts, LastError: cause, FailedAt: s.now()}
	return nil
}

// ClearFailure removes the failure row for id, if any.
func (s *Store) ClearFailure(_ context.Context, id oeis.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, id)
	return nil
}

// ListFailures returns all failure rows in id order.
func (s *Store) ListFailures(_ context.Context) ([]oeis.Failure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]oeis.Failure, 0, len(s.failures))
	for _, f := range s.failures {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListStaleRecords returns ids last fetched before cutoff, ascending.
func (s *Store) ListStaleRecords(_ context.Context, cutoff time.Time, limit int) ([]oeis.RecordID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []oeis.RecordID
	for id, rec := range s.records {
		if rec.LastFetched.Before(cutoff) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// IterateRecords streams all records in id order.
func (s *Store) IterateRecords(ctx context.Context, fn func(oeis.SequenceRecord, *oeis.Attachment) error) error {
	s.mu.RLock()
	ids := make([]oeis.RecordID, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	s.mu.RUnlock()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.RLock()
		rec, ok := s.records[id]
		att, hasAtt := s.attachments[id]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		var attPtr *oeis.Attachment
		if hasAtt {
			attPtr = &att
		}
		if err := fn(rec, attPtr); err != nil {
			return err
		}
	}
	return nil
}

// PassState returns the stored state for a pass id, for tests.
func (s *Store) PassState(passID uuid.UUID) (oeis.CrawlState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.passes[passID]
	if !ok {
		return oeis.CrawlState{}, false
	}
	return *st, true
}
