package executor

import (
	"errors"
	"fmt"
	"strings"
)

// Kind tags the stage at which an invocation failed.
type Kind string

const (
	// KindResolution: the module identifier is invalid, the module is
	// missing or unreadable, or its bytes are not a valid module.
	KindResolution Kind = "resolution"
	// KindEnvironment: the sandbox could not be constructed.
	KindEnvironment Kind = "environment"
	// KindLink: an import is not satisfied by the sandbox's host surface.
	KindLink Kind = "link"
	// KindEntryPoint: no zero-argument, zero-result "_start" export.
	KindEntryPoint Kind = "entry_point"
	// KindInstantiation: instantiation failed, e.g. a trapping start section.
	KindInstantiation Kind = "instantiation"
	// KindTrap: the guest faulted while running.
	KindTrap Kind = "trap"
	// KindTimeout: the execution budget ran out or the caller gave up.
	KindTimeout Kind = "timeout"
	// KindDecode: captured output is not valid UTF-8 or exceeded the limit.
	KindDecode Kind = "decode"
)

var (
	ErrClosed      = errors.New("executor closed")
	ErrEntryPoint  = errors.New("entry point not found")
	ErrTimeout     = errors.New("execution timed out")
	ErrInvalidText = errors.New("output is not valid UTF-8")
)

// Error is the error returned by Invoke.
type Error struct {
	Kind   Kind
	Module string
	Err    error
}

func newError(kind Kind, module string, err error) *Error {
	return &Error{Kind: kind, Module: module, Err: err}
}

// Error returns a single-line message. Runtime errors carry a wasm stack
// trace after the first line; it stays reachable through Unwrap.
func (e *Error) Error() string {
	msg := e.Err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Module, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
