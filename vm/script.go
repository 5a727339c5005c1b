package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Scripted procs: a small resumable stack machine
// ---------------------------------------------------------------------------

// Opcode is a scripted instruction.
type Opcode uint8

const (
	OpPush      Opcode = iota // push Operand
	OpArg                     // push argument A
	OpLoad                    // push local A
	OpStore                   // pop into local A
	OpSrc                     // push the receiver
	OpUsr                     // push the user
	OpGetVar                  // push src.Name
	OpSetVar                  // pop into src.Name
	OpGetField                // pop obj, push obj.Name
	OpSetField                // pop value, pop obj, set obj.Name
	OpCall                    // pop A arguments, call src's proc Name
	OpCallOn                  // pop A arguments, pop obj, call obj's proc Name
	OpSuper                   // pop A arguments, call the overridden proc on src
	OpAdd                     // pop b, pop a, push a+b (numbers) or a..b (text)
	OpSub                     // pop b, pop a, push a-b
	OpMul                     // pop b, pop a, push a*b
	OpLess                    // pop b, pop a, push a<b
	OpEqual                   // pop b, pop a, push a==b
	OpNot                     // pop a, push !a
	OpJump                    // jump to A
	OpJumpFalse               // pop a, jump to A if a is false
	OpPop                     // discard the top of the stack
	OpSleep                   // pop ticks and suspend
	OpYield                   // suspend for zero ticks
	OpThrow                   // pop message and raise a ScriptException
	OpReturn                  // return the top of the stack, or null when empty
)

var opcodeNames = [...]string{
	OpPush: "push", OpArg: "arg", OpLoad: "load", OpStore: "store",
	OpSrc: "src", OpUsr: "usr", OpGetVar: "getvar", OpSetVar: "setvar",
	OpGetField: "getfield", OpSetField: "setfield", OpCall: "call",
	OpCallOn: "callon", OpSuper: "super", OpAdd: "add", OpSub: "sub",
	OpMul: "mul", OpLess: "lt", OpEqual: "eq", OpNot: "not", OpJump: "jump",
	OpJumpFalse: "jumpfalse", OpPop: "pop", OpSleep: "sleep", OpYield: "yield",
	OpThrow: "throw", OpReturn: "return",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return fmt.Sprintf("op(%d)", op)
}

// ParseOpcode looks an opcode up by its mnemonic.
func ParseOpcode(name string) (Opcode, error) {
	for i, n := range opcodeNames {
		if n == name {
			return Opcode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown opcode %q", name)
}

// Instruction is one scripted step.
type Instruction struct {
	Op      Opcode
	A       int
	Name    string
	Operand Value
}

func (in Instruction) String() string {
	switch in.Op {
	case OpPush:
		return "push " + in.Operand.String()
	case OpArg, OpLoad, OpStore, OpJump, OpJumpFalse, OpSuper:
		return fmt.Sprintf("%s %d", in.Op, in.A)
	case OpGetVar, OpSetVar, OpGetField, OpSetField:
		return in.Op.String() + " " + in.Name
	case OpCall, OpCallOn:
		return fmt.Sprintf("%s %s %d", in.Op, in.Name, in.A)
	}
	return in.Op.String()
}

// ScriptProc is a proc whose body is a sequence of Instructions. Its
// arguments occupy the first locals of the frame.
type ScriptProc struct {
	ProcBase
	defaults map[string]Value
	code     []Instruction
	locals   int
}

// NewScriptProc creates a scripted proc. locals is the number of local
// slots beyond the arguments.
func NewScriptProc(name string, super Proc, argNames []string, argTypes []ValueType, defaults map[string]Value, code []Instruction, locals int) *ScriptProc {
	c := make([]Instruction, len(code))
	copy(c, code)
	return &ScriptProc{
		ProcBase: NewProcBase(name, super, false, argNames, argTypes),
		defaults: defaults,
		code:     c,
		locals:   locals,
	}
}

// Code returns the proc's instructions.
func (p *ScriptProc) Code() []Instruction { return p.code }

// Disassemble lists the instructions, one per line.
func (p *ScriptProc) Disassemble() string {
	var b strings.Builder
	for i, in := range p.code {
		fmt.Fprintf(&b, "%04d %s\n", i, in)
	}
	return b.String()
}

func (p *ScriptProc) CreateState(thread *Thread, src, usr Value, args Arguments) (ProcState, error) {
	args = args.WithDefaults(p.argumentNames, p.defaults)
	locals := make([]Value, len(p.argumentNames)+p.locals)
	for i, name := range p.argumentNames {
		locals[i] = args.GetArgument(i, name)
	}
	return &ScriptState{
		StateBase: NewStateBase(thread, src, usr, args),
		proc:      p,
		locals:    locals,
	}, nil
}

// Sleeper is implemented by frames that suspend for a number of ticks.
type Sleeper interface {
	SleepTicks() int
}

// ScriptState is the frame of a scripted proc. Its operand stack and locals
// survive suspension; they do not hold references on objects.
type ScriptState struct {
	StateBase
	proc       *ScriptProc
	pc         int
	stack      []Value
	locals     []Value
	sleepTicks int
}

func (s *ScriptState) Proc() Proc { return s.proc }

// SleepTicks is the delay requested by the last suspension.
func (s *ScriptState) SleepTicks() int { return s.sleepTicks }

// PC returns the index of the next instruction.
func (s *ScriptState) PC() int { return s.pc }

func (s *ScriptState) ReturnedInto(v Value) { s.push(v) }

func (s *ScriptState) AppendStackFrame(b *strings.Builder) {
	appendProcFrame(b, s.proc)
}

func (s *ScriptState) push(v Value) { s.stack = append(s.stack, v) }

func (s *ScriptState) pop() (Value, error) {
	if len(s.stack) == 0 {
		return Null, s.exception("operand stack underflow")
	}
	v := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return v, nil
}

func (s *ScriptState) popN(n int) ([]Value, error) {
	if n < 0 || n > len(s.stack) {
		return nil, s.exception("operand stack underflow")
	}
	out := make([]Value, n)
	copy(out, s.stack[len(s.stack)-n:])
	s.stack = s.stack[:len(s.stack)-n]
	return out, nil
}

func (s *ScriptState) exception(format string, args ...any) *ScriptException {
	return NewScriptException(s.proc.Name(), fmt.Sprintf(format, args...))
}

func (s *ScriptState) srcObject() (*Object, error) {
	obj, ok := s.Src.AsObject()
	if !ok {
		return nil, s.exception("src is not an object")
	}
	return obj, nil
}

func (s *ScriptState) local(i int) (int, error) {
	if i < 0 || i >= len(s.locals) {
		return 0, s.exception("local %d out of range", i)
	}
	return i, nil
}

// call pushes a callee frame for proc.
func (s *ScriptState) call(proc Proc, src Value, argv []Value) (ProcStatus, error) {
	callee, err := proc.CreateState(s.thread, src, s.Usr, NewArguments(argv...))
	if err != nil {
		return Returned, err
	}
	if err := s.thread.PushProcState(callee); err != nil {
		callee.Dispose()
		return Returned, err
	}
	return Called, nil
}

// Resume executes instructions until the proc returns, suspends, calls
// another proc or fails.
func (s *ScriptState) Resume() (ProcStatus, error) {
	if err := s.CheckResumable(); err != nil {
		return Returned, err
	}
	s.sleepTicks = 0
	code := s.proc.code
	for s.pc < len(code) {
		in := code[s.pc]
		s.pc++

		switch in.Op {
		case OpPush:
			s.push(in.Operand)
		case OpArg:
			if in.A < 0 || in.A >= len(s.proc.argumentNames) {
				return Returned, s.exception("argument %d out of range", in.A)
			}
			s.push(s.locals[in.A])
		case OpLoad:
			i, err := s.local(in.A)
			if err != nil {
				return Returned, err
			}
			s.push(s.locals[i])
		case OpStore:
			i, err := s.local(in.A)
			if err != nil {
				return Returned, err
			}
			v, err := s.pop()
			if err != nil {
				return Returned, err
			}
			s.locals[i] = v
		case OpSrc:
			s.push(s.Src)
		case OpUsr:
			s.push(s.Usr)

		case OpGetVar, OpGetField:
			var obj *Object
			var err error
			if in.Op == OpGetVar {
				obj, err = s.srcObject()
			} else {
				obj, err = s.popObject()
			}
			if err != nil {
				return Returned, err
			}
			v, err := obj.Get(in.Name)
			if err != nil {
				return Returned, err
			}
			s.push(v)
		case OpSetVar, OpSetField:
			v, err := s.pop()
			if err != nil {
				return Returned, err
			}
			var obj *Object
			if in.Op == OpSetVar {
				obj, err = s.srcObject()
			} else {
				obj, err = s.popObject()
			}
			if err != nil {
				return Returned, err
			}
			if err := obj.Set(in.Name, v); err != nil {
				return Returned, err
			}

		case OpCall, OpCallOn:
			argv, err := s.popN(in.A)
			if err != nil {
				return Returned, err
			}
			var obj *Object
			if in.Op == OpCall {
				obj, err = s.srcObject()
			} else {
				obj, err = s.popObject()
			}
			if err != nil {
				return Returned, err
			}
			proc, err := obj.GetProc(in.Name)
			if err != nil {
				return Returned, err
			}
			return s.call(proc, obj.Value(), argv)
		case OpSuper:
			argv, err := s.popN(in.A)
			if err != nil {
				return Returned, err
			}
			super := s.proc.Super()
			if super == nil {
				return Returned, s.exception("%s has no parent proc", s.proc.Name())
			}
			return s.call(super, s.Src, argv)

		case OpAdd, OpSub, OpMul, OpLess, OpEqual:
			b, err := s.pop()
			if err != nil {
				return Returned, err
			}
			a, err := s.pop()
			if err != nil {
				return Returned, err
			}
			v, err := s.binary(in.Op, a, b)
			if err != nil {
				return Returned, err
			}
			s.push(v)
		case OpNot:
			a, err := s.pop()
			if err != nil {
				return Returned, err
			}
			s.push(boolValue(!a.Truthy()))

		case OpJump:
			s.pc = in.A
		case OpJumpFalse:
			a, err := s.pop()
			if err != nil {
				return Returned, err
			}
			if !a.Truthy() {
				s.pc = in.A
			}
		case OpPop:
			if _, err := s.pop(); err != nil {
				return Returned, err
			}

		case OpSleep:
			a, err := s.pop()
			if err != nil {
				return Returned, err
			}
			n, _ := a.AsNumber()
			if n < 0 {
				n = 0
			}
			s.sleepTicks = int(n)
			return Deferred, nil
		case OpYield:
			return Deferred, nil

		case OpThrow:
			a, err := s.pop()
			if err != nil {
				return Returned, err
			}
			ex := s.exception("%s", a.Text())
			ex.Value = a
			return Returned, ex
		case OpReturn:
			if len(s.stack) == 0 {
				return s.Return(Null)
			}
			return s.Return(s.stack[len(s.stack)-1])

		default:
			return Returned, s.exception("invalid opcode %s", in.Op)
		}
	}
	return s.Return(Null)
}

func (s *ScriptState) popObject() (*Object, error) {
	v, err := s.pop()
	if err != nil {
		return nil, err
	}
	obj, ok := v.AsObject()
	if !ok {
		return nil, s.exception("%s is not an object", v)
	}
	return obj, nil
}

func (s *ScriptState) binary(op Opcode, a, b Value) (Value, error) {
	if op == OpEqual {
		return boolValue(a.Equal(b)), nil
	}
	x, xok := a.AsNumber()
	y, yok := b.AsNumber()
	if op == OpAdd && (a.Kind() == KindString || b.Kind() == KindString) {
		return NewString(a.Text() + b.Text()), nil
	}
	if !xok || !yok {
		return Null, s.exception("cannot %s %s and %s", op, a, b)
	}
	switch op {
	case OpAdd:
		return NewNumber(x + y), nil
	case OpSub:
		return NewNumber(x - y), nil
	case OpMul:
		return NewNumber(x * y), nil
	case OpLess:
		return boolValue(x < y), nil
	}
	return Null, s.exception("invalid binary opcode %s", op)
}

func boolValue(b bool) Value {
	if b {
		return NewNumber(1)
	}
	return NewNumber(0)
}
