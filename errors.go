package tracegraph

import "errors"

var (
	// ErrCyclicParentChain is returned when a parent chain revisits a
	// context. It only happens with corrupt data.
	ErrCyclicParentChain = errors.New("cyclic parent chain")
	// ErrInvalidInput is returned for malformed query input.
	ErrInvalidInput = errors.New("invalid query input")
)
