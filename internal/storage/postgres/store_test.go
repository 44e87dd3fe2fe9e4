package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/oeistools/oeissync/internal/oeis"
)

func testRecord() oeis.SequenceRecord {
	now := time.Unix(1700000000, 0).UTC()
	return oeis.SequenceRecord{
		ID:           45,
		Name:         "Fibonacci numbers.",
		Terms:        []string{"0", "1", "1", "2", "3"},
		Keywords:     []string{"core", "nonn"},
		Revision:     "rev-abc",
		FirstFetched: now,
		LastFetched:  now,
	}
}

func TestUpsertRecordWithAttachmentSharesTx(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	rec := testRecord()
	att := oeis.Attachment{
		ID: 45, Lo: 0, Hi: 1,
		Rows: []oeis.AttachmentRow{{Index: 0, Value: "0"}, {Index: 1, Value: "1"}},
	}
	doc, err := json.Marshal(rec)
	require.NoError(t, err)
	attRows, err := json.Marshal(att.Rows)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO records").
		WithArgs(int64(45), rec.Name, rec.Keywords, rec.Revision, doc, rec.FirstFetched, rec.LastFetched).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO attachments").
		WithArgs(int64(45), int64(0), int64(1), attRows).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.UpsertRecord(context.Background(), rec, &att))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRecordRollsBackOnAttachmentError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	rec := testRecord()
	att := oeis.Attachment{
		ID: 45, Lo: 0, Hi: 0,
		Rows: []oeis.AttachmentRow{{Index: 0, Value: "0"}},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO records").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO attachments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = store.UpsertRecord(context.Background(), rec, &att)
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRecordRejectsInvalidAttachment(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	att := oeis.Attachment{
		ID: 45, Lo: 0, Hi: 2,
		Rows: []oeis.AttachmentRow{{Index: 0, Value: "0"}, {Index: 2, Value: "1"}},
	}
	err = store.UpsertRecord(context.Background(), testRecord(), &att)
	require.Error(t, err)
	// Validation failed before any statement ran.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRevisionMissing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT revision FROM records").
		WithArgs(int64(99)).
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := store.GetRevision(context.Background(), 99)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceCheckpointHappyPath(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)
	passID := uuid.MustParse("0191d2a0-0000-7000-8000-000000000001")

	mock.ExpectExec("UPDATE crawl_state SET last_completed").
		WithArgs(passID, int64(46)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.AdvanceCheckpoint(context.Background(), passID, 46))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceCheckpointRegression(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)
	passID := uuid.MustParse("0191d2a0-0000-7000-8000-000000000001")

	// The guarded UPDATE touches no row when the checkpoint would move
	// backwards; the pass itself still exists.
	mock.ExpectExec("UPDATE crawl_state SET last_completed").
		WithArgs(passID, int64(40)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(passID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	err = store.AdvanceCheckpoint(context.Background(), passID, 40)
	require.ErrorIs(t, err, oeis.ErrCheckpointRegression)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceCheckpointUnknownPass(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)
	passID := uuid.New()

	mock.ExpectExec("UPDATE crawl_state SET last_completed").
		WithArgs(passID, int64(40)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(passID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	err = store.AdvanceCheckpoint(context.Background(), passID, 40)
	require.ErrorIs(t, err, oeis.ErrPassNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO failures").
		WithArgs(int64(7), 2, "connection reset").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.MarkFailed(context.Background(), 7, 2, "connection reset"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadOpenPassScansState(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	passID := uuid.MustParse("0191d2a0-0000-7000-8000-000000000002")
	started := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT pass_id, range_start").
		WillReturnRows(pgxmock.NewRows([]string{
			"pass_id", "range_start", "range_end", "last_completed", "pass_start", "status", "stale_cutoff",
		}).AddRow(passID, int64(1), int64(100), int64(42), started, "running", (*time.Time)(nil)))

	state, ok, err := store.LoadOpenPass(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, passID, state.PassID)
	require.Equal(t, oeis.RecordID(42), state.LastCompleted)
	require.Equal(t, oeis.PassRunning, state.Status)
	require.True(t, state.StaleCutoff.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListStaleRecordsAppliesLimit(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	cutoff := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT id FROM records WHERE last_fetched").
		WithArgs(cutoff, 2).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(5)).AddRow(int64(9)))

	ids, err := store.ListStaleRecords(context.Background(), cutoff, 2)
	require.NoError(t, err)
	require.Equal(t, []oeis.RecordID{5, 9}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
