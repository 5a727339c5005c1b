package vm

import (
	"errors"
	"strings"
	"testing"
)

func runScript(t *testing.T, tree *Tree, src Value, code []Instruction, args ...Value) (Value, error) {
	t.Helper()
	p := NewScriptProc("test", nil, []string{"a", "b"}, nil, nil, code, 2)
	return tree.Call(p, src, Null, NewArguments(args...))
}

func TestScriptArithmetic(t *testing.T) {
	tests := []struct {
		name string
		code []Instruction
		want Value
	}{
		{"add", []Instruction{{Op: OpArg, A: 0}, {Op: OpArg, A: 1}, {Op: OpAdd}, {Op: OpReturn}}, NewInt(5)},
		{"sub", []Instruction{{Op: OpArg, A: 0}, {Op: OpArg, A: 1}, {Op: OpSub}, {Op: OpReturn}}, NewInt(-1)},
		{"mul", []Instruction{{Op: OpArg, A: 0}, {Op: OpArg, A: 1}, {Op: OpMul}, {Op: OpReturn}}, NewInt(6)},
		{"lt", []Instruction{{Op: OpArg, A: 0}, {Op: OpArg, A: 1}, {Op: OpLess}, {Op: OpReturn}}, NewInt(1)},
		{"eq", []Instruction{{Op: OpArg, A: 0}, {Op: OpArg, A: 1}, {Op: OpEqual}, {Op: OpReturn}}, NewInt(0)},
		{"not", []Instruction{{Op: OpArg, A: 0}, {Op: OpNot}, {Op: OpReturn}}, NewInt(0)},
		{"concat", []Instruction{{Op: OpPush, Operand: NewString("n=")}, {Op: OpArg, A: 0}, {Op: OpAdd}, {Op: OpReturn}}, NewString("n=2")},
		{"empty return", []Instruction{{Op: OpReturn}}, Null},
		{"fall off end", []Instruction{{Op: OpArg, A: 0}}, Null},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := runScript(t, NewTree(), Null, tt.code, NewInt(2), NewInt(3))
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScriptLoop(t *testing.T) {
	// local 2 = 0; while local2 < a { local2 = local2 + 1 }; return local2
	code := []Instruction{
		{Op: OpPush, Operand: NewInt(0)},
		{Op: OpStore, A: 2},
		{Op: OpLoad, A: 2}, // 2
		{Op: OpArg, A: 0},
		{Op: OpLess},
		{Op: OpJumpFalse, A: 11},
		{Op: OpLoad, A: 2},
		{Op: OpPush, Operand: NewInt(1)},
		{Op: OpAdd},
		{Op: OpStore, A: 2},
		{Op: OpJump, A: 2},
		{Op: OpLoad, A: 2}, // 11
		{Op: OpReturn},
	}
	got, err := runScript(t, NewTree(), Null, code, NewInt(5))
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := got.AsNumber(); n != 5 {
		t.Errorf("got %v, want 5", got)
	}
}

func TestScriptVariables(t *testing.T) {
	tree := newItemTree(t)
	obj := mustCreate(t, tree, "/obj/item")
	other := mustCreate(t, tree, "/obj/item")

	code := []Instruction{
		{Op: OpArg, A: 0},
		{Op: OpSetVar, Name: "weight"},
		{Op: OpArg, A: 1},
		{Op: OpPush, Operand: NewString("spare")},
		{Op: OpSetField, Name: "name"},
		{Op: OpArg, A: 1},
		{Op: OpGetField, Name: "weight"},
		{Op: OpGetVar, Name: "weight"},
		{Op: OpAdd},
		{Op: OpReturn},
	}
	got, err := runScript(t, tree, obj.Value(), code, NewInt(10), other.Value())
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := got.AsNumber(); n != 13 {
		t.Errorf("got %v, want 13", got)
	}
	name, _ := other.Get("name")
	if s, _ := name.AsString(); s != "spare" {
		t.Errorf("other name = %v", name)
	}
	if other.RefCount() != 1 || obj.RefCount() != 1 {
		t.Errorf("refcounts after call: obj %d other %d", obj.RefCount(), other.RefCount())
	}
}

func TestScriptCallOnWithArguments(t *testing.T) {
	tree := newItemTree(t)
	def, _ := tree.Definition("/obj")
	def.Procs["double"] = NewScriptProc("double", nil, []string{"x"}, nil, nil, []Instruction{
		{Op: OpArg, A: 0},
		{Op: OpArg, A: 0},
		{Op: OpAdd},
		{Op: OpReturn},
	}, 0)
	target := mustCreate(t, tree, "/obj")

	code := []Instruction{
		{Op: OpArg, A: 0},
		{Op: OpPush, Operand: NewInt(21)},
		{Op: OpCallOn, Name: "double", A: 1},
		{Op: OpReturn},
	}
	got, err := runScript(t, tree, Null, code, target.Value())
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := got.AsNumber(); n != 42 {
		t.Errorf("got %v, want 42", got)
	}
}

func TestScriptSuper(t *testing.T) {
	tree := newItemTree(t)
	base := NewScriptProc("describe", nil, nil, nil, nil, []Instruction{
		{Op: OpPush, Operand: NewString("an object")},
		{Op: OpReturn},
	}, 0)
	override := NewScriptProc("describe", base, nil, nil, nil, []Instruction{
		{Op: OpSuper},
		{Op: OpPush, Operand: NewString(", heavy")},
		{Op: OpAdd},
		{Op: OpReturn},
	}, 0)
	objDef, _ := tree.Definition("/obj")
	objDef.Procs["describe"] = base
	itemDef, _ := tree.Definition("/obj/item")
	itemDef.Procs["describe"] = override

	item := mustCreate(t, tree, "/obj/item")
	got, err := item.SpawnProc("describe", Null, Arguments{})
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := got.AsString(); s != "an object, heavy" {
		t.Errorf("got %v", got)
	}

	if _, err := mustCreate(t, tree, "/obj").SpawnProc("describe", Null, Arguments{}); err != nil {
		t.Errorf("base proc: %v", err)
	}
}

func TestScriptErrors(t *testing.T) {
	tree := newItemTree(t)
	obj := mustCreate(t, tree, "/obj")
	tests := []struct {
		name string
		code []Instruction
		want error
	}{
		{"underflow", []Instruction{{Op: OpPop}}, nil},
		{"bad local", []Instruction{{Op: OpLoad, A: 99}}, nil},
		{"bad argument", []Instruction{{Op: OpArg, A: 5}}, nil},
		{"type mismatch", []Instruction{{Op: OpPush, Operand: NewInt(1)}, {Op: OpPush, Operand: Null}, {Op: OpSub}}, nil},
		{"undeclared var", []Instruction{{Op: OpGetVar, Name: "nope"}}, ErrUndeclaredVariable},
		{"undeclared proc", []Instruction{{Op: OpCall, Name: "nope"}}, ErrUndeclaredProc},
		{"no parent proc", []Instruction{{Op: OpSuper}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runScript(t, tree, obj.Value(), tt.code)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			var ex *ScriptException
			if tt.want == nil && !errors.As(err, &ex) {
				t.Errorf("err = %v, want a ScriptException", err)
			}
		})
	}
}

func TestScriptDeletedReceiver(t *testing.T) {
	tree := newItemTree(t)
	obj := mustCreate(t, tree, "/obj")
	code := []Instruction{
		{Op: OpSrc},
		{Op: OpPush, Operand: NewString("x")},
		{Op: OpSetVar, Name: "name"},
		{Op: OpGetVar, Name: "name"},
		{Op: OpReturn},
	}
	// hold the object in a frame, delete it, then touch it
	p := NewScriptProc("touch", nil, nil, nil, nil, append([]Instruction{{Op: OpYield}}, code...), 0)
	thread, err := tree.Spawn(p, obj.Value(), Null, Arguments{})
	if err != nil {
		t.Fatal(err)
	}
	_, _ = thread.Resume()
	obj.Delete()
	_, err = thread.Resume()
	if !errors.Is(err, ErrObjectDeleted) {
		t.Errorf("err = %v, want ErrObjectDeleted", err)
	}
}

func TestParseOpcode(t *testing.T) {
	for op := OpPush; op <= OpReturn; op++ {
		got, err := ParseOpcode(op.String())
		if err != nil || got != op {
			t.Errorf("ParseOpcode(%q) = %v, %v", op.String(), got, err)
		}
	}
	if _, err := ParseOpcode("frobnicate"); err == nil {
		t.Error("unknown opcode should fail")
	}
}

func TestDisassemble(t *testing.T) {
	p := NewScriptProc("f", nil, nil, nil, nil, []Instruction{
		{Op: OpPush, Operand: NewString("hi")},
		{Op: OpCallOn, Name: "greet", A: 1},
		{Op: OpReturn},
	}, 0)
	want := "0000 push \"hi\"\n0001 callon greet 1\n0002 return\n"
	if got := p.Disassemble(); got != want {
		t.Errorf("Disassemble =\n%s\nwant\n%s", got, want)
	}
	if !strings.Contains(p.Disassemble(), "callon") {
		t.Error("missing mnemonic")
	}
}
