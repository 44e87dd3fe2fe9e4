package export

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oeistools/oeissync/internal/oeis"
	"github.com/oeistools/oeissync/internal/storage/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()

	att := oeis.Attachment{
		ID: 45, Lo: 0, Hi: 2,
		Rows: []oeis.AttachmentRow{{Index: 0, Value: "0"}, {Index: 1, Value: "1"}, {Index: 2, Value: "1"}},
	}
	recs := []oeis.SequenceRecord{
		{ID: 45, Name: "Fibonacci numbers.", Terms: []string{"0", "1", "1"}, Keywords: []string{"core"}, Revision: "r45"},
		{ID: 40, Name: "Factorial numbers.", Terms: []string{"1", "1", "2"}, Keywords: []string{"core"}, Revision: "r40"},
	}
	for _, rec := range recs {
		var a *oeis.Attachment
		if rec.ID == 45 {
			a = &att
		}
		require.NoError(t, store.UpsertRecord(ctx, rec, a))
	}
	return store
}

func TestExportRoundTrip(t *testing.T) {
	t.Parallel()

	store := seedStore(t)
	blobs := memory.NewBlobStore()
	clock := fixedClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}

	snap, err := NewSnapshotter(store, blobs, clock, nil)
	require.NoError(t, err)

	uri, count, err := snap.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "memory://snapshots/oeis_v20260301.bin.gz", uri)
	assert.Equal(t, 2, count)

	raw, ok := blobs.Object("snapshots/oeis_v20260301.bin.gz")
	require.True(t, ok)

	r, err := NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer r.Close()

	first, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, oeis.RecordID(40), first.Record.ID)
	assert.Nil(t, first.Attachment)

	second, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, oeis.RecordID(45), second.Record.ID)
	require.NotNil(t, second.Attachment)
	assert.Equal(t, int64(2), second.Attachment.Hi)
	assert.Len(t, second.Attachment.Rows, 3)

	_, err = r.Next()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestReaderRejectsForeignContent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("definitely not a snapshot"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	_, err = NewReader(bytes.NewReader(buf.Bytes()))
	assert.Error(t, err)
}

func TestReaderRejectsUnknownVersion(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(append([]byte(magic), 0xFF, 0xFF))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	_, err = NewReader(bytes.NewReader(buf.Bytes()))
	assert.ErrorContains(t, err, "unsupported snapshot version")
}
