package vm

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Thread: the unit of cooperative scheduling
// ---------------------------------------------------------------------------

// ThreadStatus is the state of a Thread.
type ThreadStatus int

const (
	ThreadIdle ThreadStatus = iota
	ThreadRunning
	ThreadReturned
	ThreadDeferred
	ThreadFaulted
)

func (s ThreadStatus) String() string {
	switch s {
	case ThreadIdle:
		return "Idle"
	case ThreadRunning:
		return "Running"
	case ThreadReturned:
		return "Returned"
	case ThreadDeferred:
		return "Deferred"
	case ThreadFaulted:
		return "Faulted"
	}
	return "ThreadStatus(?)"
}

// DefaultMaxStackDepth bounds the number of frames on one thread.
const DefaultMaxStackDepth = 256

var threadIDCounter atomic.Uint64

// Thread owns an ordered stack of ProcStates (innermost last) and resumes
// the top frame until the stack drains, a frame suspends, or a frame fails.
//
// Threads are not safe for concurrent use; only one frame in the whole
// runtime executes at a time.
type Thread struct {
	id       uint64
	stack    []ProcState
	status   ThreadStatus
	result   Value
	fault    *Fault
	pushes   int
	maxDepth int
	onFault  func(*Thread, *Fault)
}

// ThreadOption configures a Thread.
type ThreadOption func(*Thread)

// WithMaxDepth bounds the stack depth; n <= 0 keeps the default.
func WithMaxDepth(n int) ThreadOption {
	return func(t *Thread) {
		if n > 0 {
			t.maxDepth = n
		}
	}
}

// WithFaultHandler installs a callback invoked when the thread faults.
func WithFaultHandler(fn func(*Thread, *Fault)) ThreadOption {
	return func(t *Thread) { t.onFault = fn }
}

// NewThread creates an idle thread.
func NewThread(opts ...ThreadOption) *Thread {
	t := &Thread{
		id:       threadIDCounter.Add(1),
		maxDepth: DefaultMaxStackDepth,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Thread) ID() uint64           { return t.id }
func (t *Thread) Status() ThreadStatus { return t.status }
func (t *Thread) Result() Value        { return t.result }
func (t *Thread) Fault() *Fault        { return t.fault }
func (t *Thread) Depth() int           { return len(t.stack) }

// Pushes counts every successful PushProcState over the thread's life.
func (t *Thread) Pushes() int { return t.pushes }

// Top returns the innermost frame, or nil when the stack is empty.
func (t *Thread) Top() ProcState {
	if len(t.stack) == 0 {
		return nil
	}
	return t.stack[len(t.stack)-1]
}

// Frames returns the stack, innermost last.
func (t *Thread) Frames() []ProcState {
	out := make([]ProcState, len(t.stack))
	copy(out, t.stack)
	return out
}

// PushProcState appends state to the top of the stack. It is valid only
// while the thread is idle or running.
func (t *Thread) PushProcState(state ProcState) error {
	if t.status != ThreadIdle && t.status != ThreadRunning {
		return fmt.Errorf("%w: thread %d is %s", ErrInvalidPush, t.id, t.status)
	}
	if len(t.stack) >= t.maxDepth {
		return fmt.Errorf("%w (%d frames)", ErrStackOverflow, t.maxDepth)
	}
	t.stack = append(t.stack, state)
	t.pushes++
	return nil
}

// Resume drives the stack. It returns ThreadReturned once the stack drains
// (Result holds the value), ThreadDeferred when the top frame suspended (the
// stack is kept for a later Resume), or ThreadFaulted together with a
// *Fault when a frame failed.
func (t *Thread) Resume() (ThreadStatus, error) {
	switch t.status {
	case ThreadReturned, ThreadFaulted:
		return t.status, fmt.Errorf("%w: thread %d is %s", ErrThreadFinished, t.id, t.status)
	case ThreadRunning:
		return t.status, fmt.Errorf("thread %d is already running", t.id)
	}
	if len(t.stack) == 0 {
		return t.status, ErrThreadIdle
	}

	t.status = ThreadRunning
	for len(t.stack) > 0 {
		top := t.stack[len(t.stack)-1]
		st, err := top.Resume()
		if err != nil {
			return ThreadFaulted, t.HandleException(err)
		}

		switch st {
		case Called:
			continue
		case Deferred:
			t.status = ThreadDeferred
			return ThreadDeferred, nil
		case Returned:
			if t.stack[len(t.stack)-1] != top {
				return ThreadFaulted, t.HandleException(fmt.Errorf("frame %s returned with a callee still on the stack", frameText(top)))
			}
			t.stack[len(t.stack)-1] = nil
			t.stack = t.stack[:len(t.stack)-1]
			top.Dispose()

			v := top.Result()
			if len(t.stack) == 0 {
				t.result = v
				t.status = ThreadReturned
				return ThreadReturned, nil
			}
			t.stack[len(t.stack)-1].ReturnedInto(v)
		default:
			return ThreadFaulted, t.HandleException(fmt.Errorf("frame %s reported unknown status %d", frameText(top), st))
		}
	}
	return t.status, nil
}

// StackTrace renders every frame, innermost first, one per line.
func (t *Thread) StackTrace() string {
	var b strings.Builder
	for i := len(t.stack) - 1; i >= 0; i-- {
		b.WriteString("   ")
		t.stack[i].AppendStackFrame(&b)
		b.WriteString("\n")
	}
	return b.String()
}

// HandleException moves the thread to Faulted: the trace is rendered, every
// frame is disposed and the fault handler runs. The returned *Fault wraps
// err.
func (t *Thread) HandleException(err error) *Fault {
	f := &Fault{Err: err, Trace: t.StackTrace()}
	t.disposeStack()
	t.status = ThreadFaulted
	t.fault = f
	log.Errorf("thread %d faulted: %s\n%s", t.id, err, f.Trace)
	if t.onFault != nil {
		t.onFault(t, f)
	}
	return f
}

// Abandon drops a suspended (or never started) thread, releasing the values
// its frames hold. The thread cannot be resumed afterwards.
func (t *Thread) Abandon() {
	if t.status == ThreadReturned || t.status == ThreadFaulted {
		return
	}
	t.disposeStack()
	t.status = ThreadFaulted
	t.fault = &Fault{Err: fmt.Errorf("thread %d abandoned", t.id)}
}

func (t *Thread) disposeStack() {
	for i := len(t.stack) - 1; i >= 0; i-- {
		t.stack[i].Dispose()
		t.stack[i] = nil
	}
	t.stack = nil
}

// RunToCompletion pushes state onto an idle thread and resumes it once.
// Suspension is reported as ErrUnexpectedSuspension and the thread is
// abandoned; a fault is returned as the *Fault.
func (t *Thread) RunToCompletion(state ProcState) (Value, error) {
	if err := t.PushProcState(state); err != nil {
		state.Dispose()
		return Null, err
	}
	st, err := t.Resume()
	switch {
	case err != nil:
		return Null, err
	case st == ThreadDeferred:
		trace := t.StackTrace()
		t.Abandon()
		err := fmt.Errorf("%w: %s", ErrUnexpectedSuspension, strings.TrimSpace(trace))
		log.Errorf("%s", err)
		return Null, err
	}
	return t.result, nil
}

func frameText(s ProcState) string {
	var b strings.Builder
	s.AppendStackFrame(&b)
	return b.String()
}
