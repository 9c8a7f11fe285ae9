package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jward/tracegraph/internal/store"
)

// maxLineSize bounds a single log line; large captured values make lines
// much longer than bufio's default.
const maxLineSize = 64 << 20

// DefaultChunkSize is the number of records replayed per batch.
const DefaultChunkSize = 1024

// Stats summarizes a replay. Errors holds the protocol errors met on the
// way; they never stop a replay.
type Stats struct {
	Lines    int
	Records  int
	Batches  int
	Rejected int
	Errors   []error
}

// ApplyFunc receives the replayed batches. Returned errors are treated as
// protocol errors: they are counted and collected, and replay continues.
type ApplyFunc func(b *store.Batch) error

// Replay reads a log and hands its records to apply in file order. Records
// are grouped into batches; a batch is cut whenever a record belongs to a
// collection that is applied earlier than one already in the batch, so the
// collection-by-collection application of a batch never reorders records.
//
// A missing header, a version mismatch or an undecodable line abort the
// replay and are returned as the error. Protocol errors end up in
// Stats.Errors.
func Replay(r io.Reader, apply ApplyFunc) (Stats, error) {
	var (
		stats     Stats
		pending   = &store.Batch{}
		lastOrder = -1
	)
	order := make(map[string]int)
	for i, name := range store.CollectionNames() {
		order[string(name)] = i
	}

	flush := func() {
		if pending.Len() == 0 {
			return
		}
		stats.Batches++
		if err := apply(pending); err != nil {
			stats.Rejected++
			stats.Errors = append(stats.Errors, err)
		}
		pending = &store.Batch{}
		lastOrder = -1
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		stats.Lines++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line Line
		if err := json.Unmarshal(raw, &line); err != nil {
			return stats, fmt.Errorf("eventlog: line %d: %w", stats.Lines, err)
		}

		if stats.Lines == 1 {
			if err := checkHeader(line); err != nil {
				return stats, err
			}
			continue
		}

		pos, known := order[line.CollectionName]
		if !known {
			stats.Errors = append(stats.Errors, fmt.Errorf("eventlog: line %d: %w: %q",
				stats.Lines, store.ErrUnknownCollection, line.CollectionName))
			stats.Rejected++
			continue
		}
		if pos < lastOrder || pending.Len() >= DefaultChunkSize {
			flush()
		}
		if err := appendRecord(pending, store.CollectionName(line.CollectionName), line.Data); err != nil {
			return stats, fmt.Errorf("eventlog: line %d: %w", stats.Lines, err)
		}
		lastOrder = pos
		stats.Records++
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("eventlog: read: %w", err)
	}
	if stats.Lines == 0 {
		return stats, ErrMissingHeader
	}
	flush()
	return stats, nil
}

// ReplayFile replays the log at path.
func ReplayFile(path string, apply ApplyFunc) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	defer f.Close()
	return Replay(f, apply)
}

func checkHeader(line Line) error {
	if line.CollectionName != headerName {
		return fmt.Errorf("eventlog: %w: first line is %q", ErrMissingHeader, line.CollectionName)
	}
	var h header
	if err := json.Unmarshal(line.Data, &h); err != nil {
		return fmt.Errorf("eventlog: header: %w", err)
	}
	if h.Version != Version {
		return fmt.Errorf("eventlog: %w: log has version %d, want %d", ErrVersionMismatch, h.Version, Version)
	}
	return nil
}

func appendRecord(b *store.Batch, name store.CollectionName, data json.RawMessage) error {
	switch name {
	case store.StaticProgramContexts:
		return decodeInto(&b.StaticProgramContexts, data)
	case store.StaticContexts:
		return decodeInto(&b.StaticContexts, data)
	case store.StaticTraces:
		return decodeInto(&b.StaticTraces, data)
	case store.ExecutionContexts:
		return decodeInto(&b.ExecutionContexts, data)
	case store.Traces:
		return decodeInto(&b.Traces, data)
	case store.Values:
		return decodeInto(&b.Values, data)
	case store.ContextPops:
		return decodeInto(&b.ContextPops, data)
	}
	return fmt.Errorf("%w: %q", store.ErrUnknownCollection, name)
}

// decodeInto keeps numbers in untyped fields exact; the registry turns
// them back into integers or floats.
func decodeInto[T any](dst *[]T, data json.RawMessage) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec T
	if err := dec.Decode(&rec); err != nil {
		return err
	}
	*dst = append(*dst, rec)
	return nil
}
