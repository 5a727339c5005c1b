package vm

import (
	"strings"
)

// ---------------------------------------------------------------------------
// Proc: callable descriptor and factory for execution frames
// ---------------------------------------------------------------------------

// Proc is an immutable callable descriptor. Given a thread, a receiver
// (src), a user context (usr) and call arguments it produces a ProcState.
type Proc interface {
	Name() string
	// Super returns the proc this one overrides, or nil.
	Super() Proc
	ArgumentNames() []string
	ArgumentTypes() []ValueType
	IsNative() bool
	CreateState(thread *Thread, src, usr Value, args Arguments) (ProcState, error)
}

// ProcBase carries the descriptor fields shared by every Proc variant.
type ProcBase struct {
	name          string
	super         Proc
	native        bool
	argumentNames []string
	argumentTypes []ValueType
}

// NewProcBase creates descriptor fields. argTypes may be shorter than
// argNames; missing entries are TypeAnything.
func NewProcBase(name string, super Proc, native bool, argNames []string, argTypes []ValueType) ProcBase {
	types := make([]ValueType, len(argNames))
	copy(types, argTypes)
	names := make([]string, len(argNames))
	copy(names, argNames)
	return ProcBase{
		name:          name,
		super:         super,
		native:        native,
		argumentNames: names,
		argumentTypes: types,
	}
}

func (p *ProcBase) Name() string               { return p.name }
func (p *ProcBase) Super() Proc                { return p.super }
func (p *ProcBase) IsNative() bool             { return p.native }
func (p *ProcBase) ArgumentNames() []string    { return p.argumentNames }
func (p *ProcBase) ArgumentTypes() []ValueType { return p.argumentTypes }

// ArgumentIndex returns the position of the named argument, or -1.
func (p *ProcBase) ArgumentIndex(name string) int {
	for i, n := range p.argumentNames {
		if n == name {
			return i
		}
	}
	return -1
}

// ---------------------------------------------------------------------------
// Arguments
// ---------------------------------------------------------------------------

// Arguments holds the positional and named arguments of one call.
type Arguments struct {
	Ordered []Value
	Named   map[string]Value
}

// NewArguments creates positional arguments.
func NewArguments(ordered ...Value) Arguments {
	return Arguments{Ordered: ordered}
}

// GetArgument returns the argument bound to the parameter at index with the
// given name. A named argument wins over a positional one.
func (a Arguments) GetArgument(index int, name string) Value {
	if name != "" {
		if v, ok := a.Named[name]; ok {
			return v
		}
	}
	if index >= 0 && index < len(a.Ordered) {
		return a.Ordered[index]
	}
	return Null
}

// Count returns the number of supplied arguments.
func (a Arguments) Count() int { return len(a.Ordered) + len(a.Named) }

// Clone copies the argument containers so that the copy can be modified
// without affecting the caller.
func (a Arguments) Clone() Arguments {
	out := Arguments{}
	if a.Ordered != nil {
		out.Ordered = make([]Value, len(a.Ordered))
		copy(out.Ordered, a.Ordered)
	}
	if a.Named != nil {
		out.Named = make(map[string]Value, len(a.Named))
		for k, v := range a.Named {
			out.Named[k] = v
		}
	}
	return out
}

// WithDefaults returns a copy of a in which every parameter left Null gets
// its declared default as a named argument.
func (a Arguments) WithDefaults(argNames []string, defaults map[string]Value) Arguments {
	if len(defaults) == 0 {
		return a
	}
	out := a.Clone()
	for i, name := range argNames {
		def, ok := defaults[name]
		if !ok {
			continue
		}
		if out.GetArgument(i, name).IsNull() {
			if out.Named == nil {
				out.Named = make(map[string]Value)
			}
			out.Named[name] = def
		}
	}
	return out
}

func (a Arguments) each(fn func(Value)) {
	for _, v := range a.Ordered {
		fn(v)
	}
	for _, v := range a.Named {
		fn(v)
	}
}

// ---------------------------------------------------------------------------
// ProcState: one invocation frame
// ---------------------------------------------------------------------------

// ProcStatus is the outcome of resuming a ProcState.
type ProcStatus int

const (
	// Returned: the frame finished and Result holds its value.
	Returned ProcStatus = iota
	// Deferred: the frame suspended and must be resumed later.
	Deferred
	// Called: the frame pushed a callee onto its thread; the thread runs the
	// callee and hands its result back through ReturnedInto.
	Called
)

func (s ProcStatus) String() string {
	switch s {
	case Returned:
		return "Returned"
	case Deferred:
		return "Deferred"
	case Called:
		return "Called"
	}
	return "ProcStatus(?)"
}

// ProcState is one in-progress or suspended invocation frame. It is owned
// by the stack slot of the Thread holding it until popped.
type ProcState interface {
	Proc() Proc
	Thread() *Thread
	// Resume runs the frame until it returns, suspends, calls, or fails.
	Resume() (ProcStatus, error)
	// Result is the frame's value once Resume reported Returned.
	Result() Value
	// ReturnedInto delivers a callee's result as this frame's continuation
	// input.
	ReturnedInto(v Value)
	// AppendStackFrame writes a one-line description of the frame.
	AppendStackFrame(b *strings.Builder)
	// Dispose releases the values the frame holds. Called once when the
	// frame leaves its thread's stack.
	Dispose()
}

// StateBase implements the bookkeeping shared by ProcState variants: the
// owning thread, the held receiver/user/arguments, the result and the
// returned flag.
type StateBase struct {
	thread   *Thread
	Src      Value
	Usr      Value
	Args     Arguments
	result   Value
	returned bool
	disposed bool
}

// NewStateBase creates the shared state and retains every object reference
// it holds.
func NewStateBase(thread *Thread, src, usr Value, args Arguments) StateBase {
	b := StateBase{thread: thread, Src: src, Usr: usr, Args: args}
	retainValue(src)
	retainValue(usr)
	args.each(retainValue)
	return b
}

func (b *StateBase) Thread() *Thread { return b.thread }
func (b *StateBase) Result() Value   { return b.result }

// Returned reports whether the frame has finished.
func (b *StateBase) Returned() bool { return b.returned }

// CheckResumable rejects a resume after the frame returned.
func (b *StateBase) CheckResumable() error {
	if b.returned {
		return ErrStateReturned
	}
	return nil
}

// Return records the frame's final value.
func (b *StateBase) Return(v Value) (ProcStatus, error) {
	b.result = v
	b.returned = true
	return Returned, nil
}

// Dispose releases held references once.
func (b *StateBase) Dispose() {
	if b.disposed {
		return
	}
	b.disposed = true
	dropValue(b.Src)
	dropValue(b.Usr)
	b.Args.each(dropValue)
}

func appendProcFrame(b *strings.Builder, p Proc) {
	if p == nil {
		b.WriteString("<anonymous proc>")
		return
	}
	b.WriteString(p.Name())
	b.WriteString("(...)")
}
