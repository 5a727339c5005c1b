// Package natives provides the built-in native procs that tree files refer
// to with "native: <name>".
package natives

import (
	"math"
	"strings"

	"github.com/chazu/dreamcore/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("dream.natives")

// Register makes every built-in available on tree.
func Register(tree *vm.Tree) {
	for _, p := range All() {
		tree.RegisterNative(p)
	}
}

// All returns fresh instances of every built-in.
func All() []*vm.NativeProc {
	var out []*vm.NativeProc
	add := func(name string, args []string, types []vm.ValueType, defaults map[string]vm.Value, h vm.NativeHandler) {
		out = append(out, vm.NewNativeProc(name, nil, args, types, defaults, h))
	}

	// math

	add("abs", []string{"A"}, []vm.ValueType{vm.TypeNum}, nil, func(_, _ vm.Value, args vm.Arguments) (vm.Value, error) {
		n, err := number("abs", args.GetArgument(0, "A"))
		if err != nil {
			return vm.Null, err
		}
		return vm.NewNumber(math.Abs(n)), nil
	})

	add("max", nil, nil, nil, func(_, _ vm.Value, args vm.Arguments) (vm.Value, error) {
		return extreme("max", args, func(a, b float64) bool { return a > b })
	})

	add("min", nil, nil, nil, func(_, _ vm.Value, args vm.Arguments) (vm.Value, error) {
		return extreme("min", args, func(a, b float64) bool { return a < b })
	})

	add("round", []string{"A", "B"}, []vm.ValueType{vm.TypeNum, vm.TypeNum}, map[string]vm.Value{"B": vm.NewInt(1)},
		func(_, _ vm.Value, args vm.Arguments) (vm.Value, error) {
			a, err := number("round", args.GetArgument(0, "A"))
			if err != nil {
				return vm.Null, err
			}
			b, err := number("round", args.GetArgument(1, "B"))
			if err != nil {
				return vm.Null, err
			}
			if b == 0 {
				return vm.Null, vm.NewScriptException("round", "rounding to a multiple of zero")
			}
			return vm.NewNumber(math.Floor(a/b+0.5) * b), nil
		})

	// objects

	add("istype", []string{"Val", "Type"}, []vm.ValueType{vm.TypeAnything, vm.TypeAnything}, nil,
		func(_, _ vm.Value, args vm.Arguments) (vm.Value, error) {
			obj, ok := args.GetArgument(0, "Val").AsObject()
			if !ok {
				return vm.NewInt(0), nil
			}
			typ := args.GetArgument(1, "Type")
			if other, ok := typ.AsObject(); ok {
				typ = vm.NewPathValue(other.Type())
			}
			path, ok := typ.AsPath()
			if !ok {
				return vm.Null, vm.NewScriptException("istype", "Type must be a type path")
			}
			if obj.IsSubtypeOf(path) {
				return vm.NewInt(1), nil
			}
			return vm.NewInt(0), nil
		})

	add("del", []string{"Object"}, []vm.ValueType{vm.TypeObj}, nil, func(_, _ vm.Value, args vm.Arguments) (vm.Value, error) {
		obj, ok := args.GetArgument(0, "Object").AsObject()
		if !ok {
			return vm.Null, nil
		}
		obj.Delete()
		return vm.Null, nil
	})

	// text

	add("text", nil, nil, nil, func(_, _ vm.Value, args vm.Arguments) (vm.Value, error) {
		return vm.NewString(join(args)), nil
	})

	add("length", []string{"E"}, nil, nil, func(_, _ vm.Value, args vm.Arguments) (vm.Value, error) {
		e := args.GetArgument(0, "E")
		if s, ok := e.AsString(); ok {
			return vm.NewInt(len(s)), nil
		}
		if l, ok := e.AsList(); ok {
			return vm.NewInt(l.Len()), nil
		}
		return vm.NewInt(0), nil
	})

	add("log", nil, nil, nil, func(_, _ vm.Value, args vm.Arguments) (vm.Value, error) {
		log.Noticef("%s", join(args))
		return vm.Null, nil
	})

	return out
}

func number(proc string, v vm.Value) (float64, error) {
	if v.IsNull() {
		return 0, nil
	}
	n, ok := v.AsNumber()
	if !ok {
		return 0, vm.NewScriptException(proc, "expected a number, got "+v.String())
	}
	return n, nil
}

// extreme folds the arguments, or the single list argument, with better.
func extreme(proc string, args vm.Arguments, better func(a, b float64) bool) (vm.Value, error) {
	values := args.Ordered
	if len(values) == 1 {
		if l, ok := values[0].AsList(); ok {
			values = l.Values()
		}
	}
	if len(values) == 0 {
		return vm.Null, nil
	}
	best, err := number(proc, values[0])
	if err != nil {
		return vm.Null, err
	}
	for _, v := range values[1:] {
		n, err := number(proc, v)
		if err != nil {
			return vm.Null, err
		}
		if better(n, best) {
			best = n
		}
	}
	return vm.NewNumber(best), nil
}

func join(args vm.Arguments) string {
	var b strings.Builder
	for _, v := range args.Ordered {
		b.WriteString(v.Text())
	}
	return b.String()
}
