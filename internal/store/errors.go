package store

import "errors"

// Protocol errors. The offending record is skipped and the rest of the
// batch is still applied.
var (
	ErrDuplicateID       = errors.New("duplicate id")
	ErrOutOfOrder        = errors.New("id out of order")
	ErrMalformedRecord   = errors.New("malformed record")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrUnknownContext    = errors.New("unknown context")
	ErrAlreadyPopped     = errors.New("context already popped")
)
