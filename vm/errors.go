package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

// Structural violations. These indicate a breached invariant in the caller
// and are never retried.
var (
	ErrObjectDeleted        = errors.New("use of deleted object")
	ErrUndeclaredVariable   = errors.New("undeclared variable")
	ErrUndeclaredProc       = errors.New("undeclared proc")
	ErrDoubleRelease        = errors.New("release of object with zero reference count")
	ErrUnexpectedSuspension = errors.New("proc suspended where synchronous completion is required")
	ErrStateReturned        = errors.New("resume of a proc state that already returned")
	ErrThreadFinished       = errors.New("resume of a finished thread")
	ErrThreadIdle           = errors.New("resume of a thread with an empty stack")
	ErrInvalidPush          = errors.New("push onto a thread that is not idle or running")
	ErrStackOverflow        = errors.New("maximum proc stack depth exceeded")
	ErrUnknownType          = errors.New("unknown type path")
)

// ScriptException is an error raised from within scripted logic.
type ScriptException struct {
	Message string
	Proc    string // name of the proc that raised it
	Value   Value  // optional payload thrown along with the message
}

func (e *ScriptException) Error() string {
	if e.Proc == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (in %s)", e.Message, e.Proc)
}

// NewScriptException creates an exception raised by the named proc.
func NewScriptException(proc, message string) *ScriptException {
	return &ScriptException{Message: message, Proc: proc, Value: Null}
}

// Fault is the terminal error of a Thread together with the stack trace
// rendered at the moment it was raised.
type Fault struct {
	Err   error
	Trace string
}

func (f *Fault) Error() string {
	var b strings.Builder
	b.WriteString(f.Err.Error())
	if f.Trace != "" {
		b.WriteString("\n")
		b.WriteString(f.Trace)
	}
	return b.String()
}

func (f *Fault) Unwrap() error { return f.Err }
