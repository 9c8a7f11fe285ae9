package store

import "fmt"

// ContextKind classifies an ExecutionContext.
type ContextKind uint8

const (
	ContextKindNone ContextKind = iota
	ContextImmediate
	ContextResume
	ContextAwait
	ContextScheduled
	ContextCallback
)

var contextKindNames = map[ContextKind]string{
	ContextImmediate: "immediate",
	ContextResume:    "resume",
	ContextAwait:     "await",
	ContextScheduled: "scheduled",
	ContextCallback:  "callback",
}

func (k ContextKind) String() string {
	if name, ok := contextKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ContextKind(%d)", uint8(k))
}

// ParseContextKind is the inverse of ContextKind.String.
func ParseContextKind(s string) (ContextKind, error) {
	for k, name := range contextKindNames {
		if name == s {
			return k, nil
		}
	}
	return ContextKindNone, fmt.Errorf("unknown context kind %q", s)
}

func (k ContextKind) MarshalText() ([]byte, error) {
	if _, ok := contextKindNames[k]; !ok {
		return nil, fmt.Errorf("invalid context kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *ContextKind) UnmarshalText(b []byte) error {
	v, err := ParseContextKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// StaticContextKind classifies a StaticContext definition site.
type StaticContextKind uint8

const (
	StaticContextKindNone StaticContextKind = iota
	StaticProgram
	StaticFunction
	StaticAwait
	StaticResume
)

var staticContextKindNames = map[StaticContextKind]string{
	StaticProgram:  "program",
	StaticFunction: "function",
	StaticAwait:    "await",
	StaticResume:   "resume",
}

func (k StaticContextKind) String() string {
	if name, ok := staticContextKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("StaticContextKind(%d)", uint8(k))
}

// ParseStaticContextKind is the inverse of StaticContextKind.String.
func ParseStaticContextKind(s string) (StaticContextKind, error) {
	for k, name := range staticContextKindNames {
		if name == s {
			return k, nil
		}
	}
	return StaticContextKindNone, fmt.Errorf("unknown static context kind %q", s)
}

func (k StaticContextKind) MarshalText() ([]byte, error) {
	if _, ok := staticContextKindNames[k]; !ok {
		return nil, fmt.Errorf("invalid static context kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *StaticContextKind) UnmarshalText(b []byte) error {
	v, err := ParseStaticContextKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// TraceKind classifies a traced expression or statement site. A Trace may
// carry its own TraceKind to override the static one; TraceKindNone means
// "use the static kind".
type TraceKind uint8

const (
	TraceKindNone TraceKind = iota
	TracePushImmediate
	TracePopImmediate
	TraceBeforeCallExpression
	TraceCallbackArgument
	TracePushCallback
	TracePopCallback
	TraceAwait
	TraceResume
	TraceStatement
	TraceExpression
	TraceExpressionResult
	TraceCallExpressionResult
	TraceBlockStart
	TraceBlockEnd
	TraceReturnArgument
	TraceThrowArgument
	TraceEndOfContext

	numTraceKinds
)

var traceKindNames = [numTraceKinds]string{
	TracePushImmediate:        "PushImmediate",
	TracePopImmediate:         "PopImmediate",
	TraceBeforeCallExpression: "BeforeCallExpression",
	TraceCallbackArgument:     "CallbackArgument",
	TracePushCallback:         "PushCallback",
	TracePopCallback:          "PopCallback",
	TraceAwait:                "Await",
	TraceResume:               "Resume",
	TraceStatement:            "Statement",
	TraceExpression:           "Expression",
	TraceExpressionResult:     "ExpressionResult",
	TraceCallExpressionResult: "CallExpressionResult",
	TraceBlockStart:           "BlockStart",
	TraceBlockEnd:             "BlockEnd",
	TraceReturnArgument:       "ReturnArgument",
	TraceThrowArgument:        "ThrowArgument",
	TraceEndOfContext:         "EndOfContext",
}

// TraceKinds lists every valid TraceKind in declaration order.
func TraceKinds() []TraceKind {
	kinds := make([]TraceKind, 0, numTraceKinds-1)
	for k := TracePushImmediate; k < numTraceKinds; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

func (k TraceKind) Valid() bool {
	return k > TraceKindNone && k < numTraceKinds
}

func (k TraceKind) String() string {
	if k.Valid() {
		return traceKindNames[k]
	}
	return fmt.Sprintf("TraceKind(%d)", uint8(k))
}

// ParseTraceKind is the inverse of TraceKind.String.
func ParseTraceKind(s string) (TraceKind, error) {
	for k := TracePushImmediate; k < numTraceKinds; k++ {
		if traceKindNames[k] == s {
			return k, nil
		}
	}
	return TraceKindNone, fmt.Errorf("unknown trace kind %q", s)
}

func (k TraceKind) MarshalText() ([]byte, error) {
	if k == TraceKindNone {
		return []byte{}, nil
	}
	if !k.Valid() {
		return nil, fmt.Errorf("invalid trace kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *TraceKind) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*k = TraceKindNone
		return nil
	}
	v, err := ParseTraceKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// HasValue reports whether traces of kind k capture a runtime value.
func (k TraceKind) HasValue() bool {
	switch k {
	case TraceExpression, TraceExpressionResult, TraceCallExpressionResult,
		TraceCallbackArgument, TraceReturnArgument, TraceThrowArgument, TraceAwait:
		return true
	}
	return false
}

// HasDynamicKinds reports whether traces of a static site of kind k may
// carry their own, more specific kind.
func (k TraceKind) HasDynamicKinds() bool {
	switch k {
	case TraceBeforeCallExpression, TraceCallExpressionResult:
		return true
	}
	return false
}
