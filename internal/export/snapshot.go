package export

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/oeistools/oeissync/internal/oeis"
)

const snapshotContentType = "application/gzip"

// Snapshotter assembles a full-mirror snapshot and hands it to a blob store.
type Snapshotter struct {
	store  oeis.Store
	blobs  oeis.BlobStore
	clock  oeis.Clock
	logger *zap.Logger
}

// NewSnapshotter wires a Snapshotter.
func NewSnapshotter(store oeis.Store, blobs oeis.BlobStore, clock oeis.Clock, logger *zap.Logger) (*Snapshotter, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Snapshotter{store: store, blobs: blobs, clock: clock, logger: logger}, nil
}

// ObjectPath names a snapshot artifact by its creation date.
func (s *Snapshotter) ObjectPath() string {
	return fmt.Sprintf("snapshots/oeis_v%s.bin.gz", s.clock.Now().Format("20060102"))
}

// Export streams every stored record into a snapshot artifact and uploads
// it. It returns the artifact URI and the number of records included.
func (s *Snapshotter) Export(ctx context.Context) (string, int, error) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	if err != nil {
		return "", 0, err
	}

	err = s.store.IterateRecords(ctx, func(rec oeis.SequenceRecord, att *oeis.Attachment) error {
		return w.Append(Entry{Record: rec, Attachment: att})
	})
	if err != nil {
		return "", 0, fmt.Errorf("assemble snapshot: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", 0, err
	}

	path := s.ObjectPath()
	uri, err := s.blobs.PutObject(ctx, path, snapshotContentType, buf.Bytes())
	if err != nil {
		return "", 0, fmt.Errorf("upload snapshot: %w", err)
	}
	s.logger.Info("snapshot exported",
		zap.String("uri", uri),
		zap.Int("records", w.Count()),
		zap.Int("bytes", buf.Len()),
	)
	return uri, w.Count(), nil
}
