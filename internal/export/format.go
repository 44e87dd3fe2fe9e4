// Package export builds versioned snapshot artifacts of the local mirror.
package export

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/oeistools/oeissync/internal/oeis"
)

// Snapshot framing: a fixed magic and format version inside the gzip stream,
// then one uvarint-length-prefixed JSON entry per record in id order.
const (
	magic         = "OEISSNAP"
	formatVersion = uint16(1)

	// maxEntryBytes bounds a single frame so a corrupt length prefix
	// cannot trigger an enormous allocation.
	maxEntryBytes = 64 << 20
)

// Entry is one snapshot frame: a record and its optional attachment.
type Entry struct {
	Record     oeis.SequenceRecord `json:"record"`
	Attachment *oeis.Attachment    `json:"attachment,omitempty"`
}

// Writer streams snapshot entries into a gzip-compressed artifact.
type Writer struct {
	gz    *gzip.Writer
	buf   *bufio.Writer
	count int
}

// NewWriter writes the snapshot header and returns a Writer.
func NewWriter(w io.Writer) (*Writer, error) {
	gz := gzip.NewWriter(w)
	buf := bufio.NewWriter(gz)
	if _, err := buf.WriteString(magic); err != nil {
		return nil, fmt.Errorf("write magic: %w", err)
	}
	var version [2]byte
	binary.BigEndian.PutUint16(version[:], formatVersion)
	if _, err := buf.Write(version[:]); err != nil {
		return nil, fmt.Errorf("write version: %w", err)
	}
	return &Writer{gz: gz, buf: buf}, nil
}

// Append writes one entry frame.
func (w *Writer) Append(entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry %s: %w", entry.Record.ID, err)
	}
	var prefix [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(prefix[:], uint64(len(payload)))
	if _, err := w.buf.Write(prefix[:n]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.buf.Write(payload); err != nil {
		return fmt.Errorf("write entry %s: %w", entry.Record.ID, err)
	}
	w.count++
	return nil
}

// Count reports how many entries have been appended.
func (w *Writer) Count() int {
	return w.count
}

// Close flushes buffered frames and finishes the gzip stream.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := w.gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	return nil
}

// Reader consumes a snapshot artifact.
type Reader struct {
	gz  *gzip.Reader
	buf *bufio.Reader
}

// NewReader validates the snapshot header and returns a Reader.
func NewReader(r io.Reader) (*Reader, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	buf := bufio.NewReader(gz)
	head := make([]byte, len(magic)+2)
	if _, err := io.ReadFull(buf, head); err != nil {
		return nil, fmt.Errorf("read snapshot header: %w", err)
	}
	if string(head[:len(magic)]) != magic {
		return nil, errors.New("not a snapshot artifact")
	}
	if v := binary.BigEndian.Uint16(head[len(magic):]); v != formatVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", v)
	}
	return &Reader{gz: gz, buf: buf}, nil
}

// Next returns the next entry, or io.EOF after the last frame.
func (r *Reader) Next() (Entry, error) {
	length, err := binary.ReadUvarint(r.buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Entry{}, io.EOF
		}
		return Entry{}, fmt.Errorf("read length prefix: %w", err)
	}
	if length > maxEntryBytes {
		return Entry{}, fmt.Errorf("entry of %d bytes exceeds limit", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r.buf, payload); err != nil {
		return Entry{}, fmt.Errorf("read entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode entry: %w", err)
	}
	return entry, nil
}

// Close releases the gzip reader.
func (r *Reader) Close() error {
	return r.gz.Close()
}
