package vm

import "strings"

// NativeHandler implements a proc in Go. It runs to completion in a single
// resume step.
type NativeHandler func(src, usr Value, args Arguments) (Value, error)

// NativeProc wraps a NativeHandler as a Proc so that host-implemented and
// scripted procs are interchangeable on a thread's stack.
type NativeProc struct {
	ProcBase
	defaults map[string]Value
	handler  NativeHandler
}

// NewNativeProc creates a native proc. defaults maps argument names to the
// value injected when a caller leaves that argument Null.
func NewNativeProc(name string, super Proc, argNames []string, argTypes []ValueType, defaults map[string]Value, handler NativeHandler) *NativeProc {
	return &NativeProc{
		ProcBase: NewProcBase(name, super, true, argNames, argTypes),
		defaults: defaults,
		handler:  handler,
	}
}

// Handler returns the wrapped function.
func (p *NativeProc) Handler() NativeHandler { return p.handler }

// Bind returns a copy of p declared as name on a type, overriding super.
func (p *NativeProc) Bind(name string, super Proc) *NativeProc {
	cp := *p
	cp.name = name
	cp.super = super
	return &cp
}

func (p *NativeProc) CreateState(thread *Thread, src, usr Value, args Arguments) (ProcState, error) {
	args = args.WithDefaults(p.argumentNames, p.defaults)
	return &NativeState{
		StateBase: NewStateBase(thread, src, usr, args),
		proc:      p,
		handler:   p.handler,
	}, nil
}

// NativeState is the frame of a native proc.
type NativeState struct {
	StateBase
	proc    *NativeProc
	handler NativeHandler
}

// NewAnonymousState creates a native frame that belongs to no proc. It is
// used to run host code on a thread, e.g. as the bottom frame that collects
// a result.
func NewAnonymousState(thread *Thread, handler NativeHandler) *NativeState {
	return &NativeState{
		StateBase: NewStateBase(thread, Null, Null, Arguments{}),
		handler:   handler,
	}
}

func (s *NativeState) Proc() Proc {
	if s.proc == nil {
		return nil
	}
	return s.proc
}

func (s *NativeState) Resume() (ProcStatus, error) {
	if err := s.CheckResumable(); err != nil {
		return Returned, err
	}
	v, err := s.handler(s.Src, s.Usr, s.Args)
	if err != nil {
		s.returned = true
		return Returned, err
	}
	return s.Return(v)
}

// ReturnedInto is never reached: a native frame does not push callees.
func (s *NativeState) ReturnedInto(Value) {}

func (s *NativeState) AppendStackFrame(b *strings.Builder) {
	appendProcFrame(b, s.Proc())
}
