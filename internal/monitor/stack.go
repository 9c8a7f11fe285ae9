package monitor

import (
	"maps"
	"slices"

	"github.com/jward/tracegraph/internal/store"
)

type frame struct {
	contextID store.ID
	kind      store.ContextKind
	// interruptable marks the function frame of an async function or
	// generator. Awaits suspend everything from this frame upward.
	interruptable bool
	// owner is the function context a resume frame belongs to.
	owner store.ID
}

// suspension is an await whose segment is still on the current stack.
// The awaited expression runs on top of it until the segment is detached.
type suspension struct {
	key store.ID
	// from is the bottom of the segment; at is the position of the await frame.
	from, at int
}

// Stack holds the current logical stack and the waiting stacks keyed by
// the context id of their suspension point.
type Stack struct {
	current []frame
	waiting map[store.ID][]frame
	pending []suspension
}

func newStack() Stack {
	return Stack{waiting: make(map[store.ID][]frame)}
}

// Peek returns the top context id, or 0 for an empty stack.
func (s *Stack) Peek() store.ID {
	if len(s.current) == 0 {
		return 0
	}
	return s.current[len(s.current)-1].contextID
}

// Depth returns the number of contexts on the current stack.
func (s *Stack) Depth() int {
	return len(s.current)
}

// IDs returns the current stack, bottom first.
func (s *Stack) IDs() []store.ID {
	return frameIDs(s.current)
}

// Waiting returns a copy of every waiting stack, bottom first.
func (s *Stack) Waiting() map[store.ID][]store.ID {
	out := make(map[store.ID][]store.ID, len(s.waiting))
	for id, frames := range s.waiting {
		out[id] = frameIDs(frames)
	}
	return out
}

// WaitingIDs returns the suspension points that have not resumed, ascending.
func (s *Stack) WaitingIDs() []store.ID {
	return slices.Sorted(maps.Keys(s.waiting))
}

func (s *Stack) push(f frame) {
	s.current = append(s.current, f)
}

func (s *Stack) top() (frame, bool) {
	if len(s.current) == 0 {
		return frame{}, false
	}
	return s.current[len(s.current)-1], true
}

// indexOf returns the position of id on the current stack or -1.
func (s *Stack) indexOf(id store.ID) int {
	for i := len(s.current) - 1; i >= 0; i-- {
		if s.current[i].contextID == id {
			return i
		}
	}
	return -1
}

// truncate removes the frames at i and above and returns them top first.
func (s *Stack) truncate(i int) []frame {
	removed := slices.Clone(s.current[i:])
	slices.Reverse(removed)
	s.current = s.current[:i]
	return removed
}

// suspend registers the frames from position i up to the await frame on
// top as the waiting stack of key. The frames stay on the current stack
// until detach.
func (s *Stack) suspend(key store.ID, i int) {
	s.waiting[key] = slices.Clone(s.current[i:])
	s.pending = append(s.pending, suspension{key: key, from: i, at: len(s.current) - 1})
}

// detach moves every pending segment whose await frame sits at position i
// or above off the current stack, innermost first. A negative i detaches
// all of them.
func (s *Stack) detach(i int) {
	for n := len(s.pending) - 1; n >= 0; n-- {
		p := s.pending[n]
		if i >= 0 && p.at < i {
			break
		}
		if p.from <= len(s.current) {
			s.waiting[p.key] = slices.Clone(s.current[p.from:])
			s.current = s.current[:p.from]
		}
		s.pending = s.pending[:n]
	}
}

// suspended reports whether the frame at position i belongs to a pending
// segment that a pop at i would detach.
func (s *Stack) suspended(i int) bool {
	for n := len(s.pending) - 1; n >= 0; n-- {
		p := s.pending[n]
		if p.at < i {
			return false
		}
		if p.from <= i {
			return true
		}
	}
	return false
}

// resume starts a new tick: pending segments are detached, then the
// waiting stack of key is put back on top of the current stack.
func (s *Stack) resume(key store.ID) bool {
	s.detach(-1)
	frames, ok := s.waiting[key]
	if !ok {
		return false
	}
	delete(s.waiting, key)
	s.current = append(s.current, frames...)
	return true
}

func frameIDs(frames []frame) []store.ID {
	ids := make([]store.ID, len(frames))
	for i, f := range frames {
		ids[i] = f.contextID
	}
	return ids
}
