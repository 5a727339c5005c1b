package vm

import (
	"fmt"
	"strings"
)

// InitState initializes a freshly created object. It runs the variable
// initializer procs of the definition chain, root first, and then the
// tree's init proc ("New") if one is declared, each as a callee frame.
type InitState struct {
	StateBase
	obj     *Object
	steps   []Proc // variable initializers, root first
	newProc Proc
	next    int
}

// InitProc creates the initialization frame for o.
func (o *Object) InitProc(thread *Thread, usr Value, args Arguments) (ProcState, error) {
	if o.deleted {
		return nil, o.deletedErr("init")
	}
	var steps []Proc
	for cur := o.def; cur != nil; cur = cur.Parent {
		if cur.InitProc != nil {
			steps = append(steps, cur.InitProc)
		}
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	name := DefaultInitProc
	if o.tree != nil && o.tree.InitProcName != "" {
		name = o.tree.InitProcName
	}
	state := &InitState{
		StateBase: NewStateBase(thread, o.Value(), usr, args),
		obj:       o,
		steps:     steps,
	}
	if p, err := o.def.ResolveProc(name); err == nil {
		state.newProc = p
	}
	return state, nil
}

// InitSpawn runs the object's initialization to completion. Initialization
// is defined to be non-suspending: a proc that suspends fails the call with
// ErrUnexpectedSuspension.
func (o *Object) InitSpawn(args Arguments) error {
	thread := o.tree.NewThread()
	state, err := o.InitProc(thread, Null, args)
	if err != nil {
		return err
	}
	if _, err := thread.RunToCompletion(state); err != nil {
		return fmt.Errorf("initializing %s: %w", o, err)
	}
	return nil
}

func (s *InitState) Proc() Proc { return nil }

func (s *InitState) Resume() (ProcStatus, error) {
	if err := s.CheckResumable(); err != nil {
		return Returned, err
	}
	if s.obj.deleted {
		// deleted by its own initializer
		return s.Return(Null)
	}
	var (
		p    Proc
		args Arguments
	)
	switch {
	case s.next < len(s.steps):
		p = s.steps[s.next]
	case s.next == len(s.steps) && s.newProc != nil:
		// only the init proc receives the creation arguments
		p, args = s.newProc, s.Args
	default:
		return s.Return(Null)
	}
	s.next++

	callee, err := p.CreateState(s.thread, s.Src, s.Usr, args)
	if err != nil {
		return Returned, err
	}
	if err := s.thread.PushProcState(callee); err != nil {
		callee.Dispose()
		return Returned, err
	}
	return Called, nil
}

// ReturnedInto discards initializer results.
func (s *InitState) ReturnedInto(Value) {}

func (s *InitState) AppendStackFrame(b *strings.Builder) {
	b.WriteString("<init ")
	b.WriteString(string(s.obj.Type()))
	b.WriteString(">")
}
