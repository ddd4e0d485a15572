package vm

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the public API and by primitives.
var (
	// ErrPrimitiveFailed is returned by a primitive to request the method's
	// bytecode fallback, or a PrimitiveFailed signal if there is none.
	ErrPrimitiveFailed = errors.New("primitive failed")

	ErrInvalidMethod   = errors.New("invalid compiled method")
	ErrSchemaConflict  = errors.New("schema conflict")
	ErrClassExists     = errors.New("class already defined")
	ErrUnknownClass    = errors.New("unknown class")
	ErrArity           = errors.New("argument count does not match selector")
	ErrInterrupted     = errors.New("interrupted")
	ErrNotInstantiable = errors.New("class cannot be instantiated this way")
	ErrUnknownSelector = errors.New("selector not defined")
)

// Control-flow sentinels used between the dispatcher and the interpreter
// loop. They never escape the package.
var (
	// errActivated: the callee pushed a new active context; its result
	// arrives later through a return.
	errActivated = errors.New("context activated")

	// errUnwind: a context-chain unwind is pending and the interpreter loop
	// must process it before anything else.
	errUnwind = errors.New("unwind pending")
)

// ---------------------------------------------------------------------------
// Language-level conditions
// ---------------------------------------------------------------------------

// LanguageError is a catchable Smalltalk condition raised from Go code. The
// interpreter turns it into an instance of the named exception class and
// signals it through the ordinary handler search, so on:do: sees it like
// any other exception.
type LanguageError struct {
	Class   string           // exception class name, e.g. "ZeroDivide"
	Message string           // messageText
	Fields  map[string]Value // extra instance variables by name
}

func (e *LanguageError) Error() string {
	if e.Message == "" {
		return e.Class
	}
	return e.Class + ": " + e.Message
}

func newLanguageError(class, format string, args ...interface{}) *LanguageError {
	return &LanguageError{Class: class, Message: fmt.Sprintf(format, args...)}
}

func indexOutOfRange(index int, size int) *LanguageError {
	le := newLanguageError("IndexOutOfRange", "index %d out of bounds [1, %d]", index, size)
	le.Fields = map[string]Value{"index": FromSmallInt(int64(index))}
	return le
}

func immutableObject(obj Value) *LanguageError {
	le := newLanguageError("ImmutableObject", "object is read-only")
	le.Fields = map[string]Value{"object": obj}
	return le
}

func zeroDivide(dividend Value) *LanguageError {
	le := newLanguageError("ZeroDivide", "division by zero")
	le.Fields = map[string]Value{"dividend": dividend}
	return le
}

func wrongArgumentCount(want, got int) *LanguageError {
	return newLanguageError("WrongArgumentCount", "expected %d arguments, got %d", want, got)
}

func invalidArgument(format string, args ...interface{}) *LanguageError {
	return newLanguageError("InvalidArgument", format, args...)
}

// UnhandledError ends an outermost Send when an exception reached the bottom
// of the context chain without finding a handler.
type UnhandledError struct {
	Class       string
	MessageText string
	Exception   Value
}

func (e *UnhandledError) Error() string {
	if e.MessageText == "" {
		return "unhandled " + e.Class
	}
	return fmt.Sprintf("unhandled %s: %s", e.Class, e.MessageText)
}

// ---------------------------------------------------------------------------
// Host-fatal conditions
// ---------------------------------------------------------------------------

// FatalKind classifies a host-fatal condition.
type FatalKind uint8

const (
	FatalOutOfMemory FatalKind = iota
	FatalHeapCorruption
	FatalVersionMismatch
	FatalInterpreter
)

func (k FatalKind) String() string {
	switch k {
	case FatalOutOfMemory:
		return "OutOfMemory"
	case FatalHeapCorruption:
		return "HeapCorruption"
	case FatalVersionMismatch:
		return "VersionMismatch"
	default:
		return "InterpreterFailure"
	}
}

// FatalError is raised with panic. Continuing after one risks corrupting the
// object graph, so the runtime never returns it as an ordinary error.
type FatalError struct {
	Kind FatalKind
	Msg  string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal %s: %s", e.Kind, e.Msg)
}

// fatal logs at Critical and panics with a *FatalError.
func fatal(kind FatalKind, format string, args ...interface{}) {
	fe := &FatalError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
	log.Critical(fe.Error())
	panic(fe)
}
