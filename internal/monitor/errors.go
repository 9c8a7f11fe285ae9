package monitor

import "errors"

// Protocol errors. The offending event is logged and ignored; the state of
// the stack machine is left unchanged unless noted otherwise.
var (
	ErrUnknownContext   = errors.New("unknown context")
	ErrAlreadyPopped    = errors.New("context already popped")
	ErrNotOnStack       = errors.New("context not on current stack")
	ErrUnbalancedPop    = errors.New("pop below top of stack")
	ErrWrongKind        = errors.New("wrong context kind")
	ErrEmptyStack       = errors.New("empty stack")
	ErrUnknownProgram   = errors.New("unknown program")
	ErrUnknownStatic    = errors.New("unknown static id")
	ErrUnknownScheduled = errors.New("unknown scheduled context")
	ErrUnknownTrace     = errors.New("unknown scheduler trace")
	ErrNotWaiting       = errors.New("context is not waiting")
	ErrInvalidProgram   = errors.New("invalid program data")
	ErrUnknownOp        = errors.New("unknown event op")
)
