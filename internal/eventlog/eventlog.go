// Package eventlog persists registry data as JSON lines. The first line is
// a header carrying the format version; every following line holds one
// record as {"collectionName": ..., "data": ...}.
package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/xid"

	"github.com/jward/tracegraph/internal/store"
)

// Version is the log format version written and accepted by this package.
const Version = 1

const headerName = "header"

// Consistency errors. A log that fails with one of these is not loaded.
var (
	ErrVersionMismatch = errors.New("log version mismatch")
	ErrMissingHeader   = errors.New("log header missing")
)

// Line is one line of the log.
type Line struct {
	CollectionName string          `json:"collectionName"`
	Data           json.RawMessage `json:"data"`
}

type header struct {
	Version int `json:"version"`
}

// FileName returns a unique log file name.
func FileName() string {
	return "tracegraph_" + xid.New().String() + ".jsonl"
}

// Writer appends records to a log. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
}

// NewWriter writes the header to w and returns a Writer appending to it.
func NewWriter(w io.Writer) (*Writer, error) {
	lw := &Writer{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		lw.closer = c
	}
	if err := lw.writeLine(headerName, header{Version: Version}); err != nil {
		return nil, fmt.Errorf("eventlog: write header: %w", err)
	}
	return lw, nil
}

// Create creates (or truncates) the log file at path.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: create %s: %w", path, err)
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// WriteBatch appends every record of b, collection by collection. The
// batch is encoded in full first; a record that fails to encode leaves the
// log untouched.
func (w *Writer) WriteBatch(b *store.Batch) error {
	var buf bytes.Buffer
	for _, name := range store.CollectionNames() {
		if err := encodeCollection(&buf, name, b); err != nil {
			return fmt.Errorf("eventlog: write %s: %w", name, err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write(buf.Bytes())
	return err
}

func encodeCollection(buf *bytes.Buffer, name store.CollectionName, b *store.Batch) error {
	switch name {
	case store.StaticProgramContexts:
		return encodeAll(buf, name, b.StaticProgramContexts)
	case store.StaticContexts:
		return encodeAll(buf, name, b.StaticContexts)
	case store.StaticTraces:
		return encodeAll(buf, name, b.StaticTraces)
	case store.ExecutionContexts:
		return encodeAll(buf, name, b.ExecutionContexts)
	case store.Traces:
		return encodeAll(buf, name, b.Traces)
	case store.Values:
		return encodeAll(buf, name, b.Values)
	case store.ContextPops:
		return encodeAll(buf, name, b.ContextPops)
	}
	return fmt.Errorf("%w: %q", store.ErrUnknownCollection, name)
}

func encodeAll[T any](buf *bytes.Buffer, name store.CollectionName, recs []T) error {
	for i := range recs {
		if err := encodeLine(buf, string(name), &recs[i]); err != nil {
			return err
		}
	}
	return nil
}

func encodeLine(buf *bytes.Buffer, name string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	line, err := json.Marshal(Line{CollectionName: name, Data: raw})
	if err != nil {
		return err
	}
	buf.Write(line)
	buf.WriteByte('\n')
	return nil
}

func (w *Writer) writeLine(name string, data any) error {
	var buf bytes.Buffer
	if err := encodeLine(&buf, name, data); err != nil {
		return err
	}
	_, err := w.w.Write(buf.Bytes())
	return err
}

// Flush writes buffered lines to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Flush()
}

// Close flushes and closes the underlying writer if it is an io.Closer.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// Dump writes a header and a full snapshot of reg to w.
func Dump(w io.Writer, reg *store.Registry) error {
	lw, err := NewWriter(w)
	if err != nil {
		return err
	}
	if err := lw.WriteBatch(reg.Snapshot()); err != nil {
		return err
	}
	return lw.Flush()
}
