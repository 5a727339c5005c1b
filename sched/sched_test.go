package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chazu/dreamcore/vm"
)

// sleeper sleeps n ticks then returns value.
func sleeper(name string, n int, value int) *vm.ScriptProc {
	return vm.NewScriptProc(name, nil, nil, nil, nil, []vm.Instruction{
		{Op: vm.OpPush, Operand: vm.NewInt(n)},
		{Op: vm.OpSleep},
		{Op: vm.OpPush, Operand: vm.NewInt(value)},
		{Op: vm.OpReturn},
	}, 0)
}

func spawn(t *testing.T, tree *vm.Tree, p vm.Proc) *vm.Thread {
	t.Helper()
	thread, err := tree.Spawn(p, vm.Null, vm.Null, vm.Arguments{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	return thread
}

func TestTickHonoursSleep(t *testing.T) {
	tree := vm.NewTree()
	s := New()
	thread := spawn(t, tree, sleeper("nap", 3, 9))
	s.Spawn(thread)

	// tick 1 runs the thread up to its sleep; it wakes on tick 4
	if st := s.Tick(); st.Resumed != 1 || st.Deferred != 1 {
		t.Fatalf("tick 1 stats = %+v", st)
	}
	for i := 2; i <= 3; i++ {
		if st := s.Tick(); st.Resumed != 0 {
			t.Fatalf("tick %d resumed %d threads", i, st.Resumed)
		}
	}
	st := s.Tick()
	if st.Returned != 1 {
		t.Fatalf("tick 4 stats = %+v", st)
	}
	if n, _ := thread.Result().AsNumber(); n != 9 {
		t.Errorf("result = %v", thread.Result())
	}
	if s.Pending() != 0 || s.Returned() != 1 || s.CurrentTick() != 4 {
		t.Errorf("pending %d returned %d tick %d", s.Pending(), s.Returned(), s.CurrentTick())
	}
}

func TestTickOrder(t *testing.T) {
	tree := vm.NewTree()
	var order []string
	mark := func(name string) *vm.NativeProc {
		return vm.NewNativeProc(name, nil, nil, nil, nil, func(vm.Value, vm.Value, vm.Arguments) (vm.Value, error) {
			order = append(order, name)
			return vm.Null, nil
		})
	}
	s := New()
	s.SpawnAfter(spawn(t, tree, mark("late")), 2)
	s.Spawn(spawn(t, tree, mark("first")))
	s.Spawn(spawn(t, tree, mark("second")))

	s.Tick()
	s.Tick()
	want := []string{"first", "second", "late"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestYieldWakesNextTick(t *testing.T) {
	tree := vm.NewTree()
	p := vm.NewScriptProc("spin", nil, nil, nil, nil, []vm.Instruction{
		{Op: vm.OpYield},
		{Op: vm.OpYield},
		{Op: vm.OpReturn},
	}, 0)
	s := New()
	s.Spawn(spawn(t, tree, p))
	for i := 1; i <= 3; i++ {
		if st := s.Tick(); st.Resumed != 1 {
			t.Fatalf("tick %d resumed %d", i, st.Resumed)
		}
	}
	if s.Returned() != 1 {
		t.Errorf("Returned = %d", s.Returned())
	}
}

func TestFaultsAreCounted(t *testing.T) {
	tree := vm.NewTree()
	p := vm.NewNativeProc("boom", nil, nil, nil, nil, func(vm.Value, vm.Value, vm.Arguments) (vm.Value, error) {
		return vm.Null, errors.New("boom")
	})
	var faults []*vm.Fault
	s := New(WithFaultHandler(func(_ *vm.Thread, f *vm.Fault) { faults = append(faults, f) }))
	s.Spawn(spawn(t, tree, p))
	st := s.Tick()
	if st.Faulted != 1 || s.Faulted() != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if len(faults) != 1 || faults[0].Err.Error() != "boom" {
		t.Errorf("faults = %v", faults)
	}
	if tree.ExceptionCount() != 1 {
		t.Errorf("tree ExceptionCount = %d", tree.ExceptionCount())
	}
}

func TestRunDrains(t *testing.T) {
	tree := vm.NewTree()
	s := New(WithTickLag(time.Millisecond))
	s.Spawn(spawn(t, tree, sleeper("a", 2, 1)))
	s.Spawn(spawn(t, tree, sleeper("b", 5, 2)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Returned() != 2 {
		t.Errorf("Returned = %d", s.Returned())
	}
}

func TestRunCancelled(t *testing.T) {
	tree := vm.NewTree()
	s := New(WithTickLag(time.Hour))
	s.Spawn(spawn(t, tree, sleeper("a", 1, 1)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run err = %v", err)
	}
}

func TestShutdownAbandons(t *testing.T) {
	tree := vm.NewTree()
	def, _ := tree.NewType("/obj", "")
	obj, _ := tree.CreateInstance(def, nil)
	thread, err := tree.Spawn(sleeper("nap", 10, 0), obj.Value(), vm.Null, vm.Arguments{})
	if err != nil {
		t.Fatal(err)
	}
	s := New()
	s.Spawn(thread)
	s.Tick()
	if obj.RefCount() != 2 {
		t.Fatalf("refcount = %d", obj.RefCount())
	}
	if n := s.Shutdown(); n != 1 {
		t.Errorf("Shutdown = %d", n)
	}
	if obj.RefCount() != 1 {
		t.Errorf("refcount after shutdown = %d", obj.RefCount())
	}
	if s.Pending() != 0 {
		t.Error("queue not empty")
	}
}
