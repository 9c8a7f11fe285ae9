// Package idgen issues the integer identities used throughout a traced
// application. Every sequence starts at 1; 0 is reserved for "no value".
package idgen

import (
	"fmt"
	"sync/atomic"
)

// ID is a unique identifier within one sequence.
type ID uint64

// Sequence names an independent identity counter.
type Sequence uint8

const (
	Programs Sequence = iota
	StaticContexts
	StaticTraces
	Contexts
	Traces
	Values
	Runs
	Applications

	numSequences
)

var sequenceNames = [numSequences]string{
	Programs:       "programs",
	StaticContexts: "staticContexts",
	StaticTraces:   "staticTraces",
	Contexts:       "contexts",
	Traces:         "traces",
	Values:         "values",
	Runs:           "runs",
	Applications:   "applications",
}

func (s Sequence) String() string {
	if s >= numSequences {
		return fmt.Sprintf("Sequence(%d)", uint8(s))
	}
	return sequenceNames[s]
}

// Allocator hands out strictly increasing ids per sequence. It is safe for
// concurrent use and never reuses an id.
type Allocator struct {
	next [numSequences]uint64
}

// New returns an Allocator whose first id in every sequence is 1.
func New() *Allocator {
	return &Allocator{}
}

// Next returns the next id of seq.
func (a *Allocator) Next(seq Sequence) ID {
	return ID(atomic.AddUint64(&a.next[seq], 1))
}

// Peek returns the last id issued for seq, or 0 if none was issued yet.
func (a *Allocator) Peek(seq Sequence) ID {
	return ID(atomic.LoadUint64(&a.next[seq]))
}

// Observe advances seq so that the next issued id is greater than id.
// Used after replaying records that were allocated elsewhere.
func (a *Allocator) Observe(seq Sequence, id ID) {
	for {
		cur := atomic.LoadUint64(&a.next[seq])
		if uint64(id) <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&a.next[seq], cur, uint64(id)) {
			return
		}
	}
}
