package vm

import (
	"fmt"
	"sort"
)

// Hook intercepts variable access and deletion for every instance of a
// definition (and of definitions derived from it, unless they install their
// own). All three callbacks are optional and run synchronously in-line with
// the access that triggered them.
type Hook struct {
	// OnVariableGet may replace the value returned by Object.Get.
	OnVariableGet func(obj *Object, name string, value Value) Value

	// OnVariableSet observes a completed Object.Set.
	OnVariableSet func(obj *Object, name string, newValue, oldValue Value)

	// OnDeleted runs once while the object is being torn down, after its
	// object-valued variables were released and before its state is
	// discarded.
	OnDeleted func(obj *Object)
}

// Definition is a type descriptor: declared variables with defaults,
// declared procs, a parent link and an optional hook. A definition must not
// be mutated once instances of it exist.
type Definition struct {
	Type      Path
	Parent    *Definition
	Variables map[string]Value
	Procs     map[string]Proc
	Hook      *Hook

	// InitProc computes non-constant variable initializers. It runs before
	// the "New" proc when an instance is initialized.
	InitProc Proc

	derived bool
}

// NewDefinition creates an empty definition for path whose parent is parent
// (nil for a root type).
func NewDefinition(path Path, parent *Definition) *Definition {
	return &Definition{
		Type:      path,
		Parent:    parent,
		Variables: make(map[string]Value),
		Procs:     make(map[string]Proc),
	}
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

// ResolveVariable returns the default of the most-derived declaration of
// name in the chain.
func (d *Definition) ResolveVariable(name string) (Value, error) {
	for cur := d; cur != nil; cur = cur.Parent {
		if v, ok := cur.Variables[name]; ok {
			return v, nil
		}
	}
	return Null, fmt.Errorf("%w: %s on %s", ErrUndeclaredVariable, name, d.Type)
}

// HasVariable reports whether name is declared anywhere in the chain.
func (d *Definition) HasVariable(name string) bool {
	_, err := d.ResolveVariable(name)
	return err == nil
}

// ResolveProc returns the most-derived proc named name.
func (d *Definition) ResolveProc(name string) (Proc, error) {
	for cur := d; cur != nil; cur = cur.Parent {
		if p, ok := cur.Procs[name]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s on %s", ErrUndeclaredProc, name, d.Type)
}

// HasProc reports whether a proc named name is declared in the chain.
func (d *Definition) HasProc(name string) bool {
	_, err := d.ResolveProc(name)
	return err == nil
}

// IsSubtypeOf reports whether path names this definition or one of its
// ancestors.
func (d *Definition) IsSubtypeOf(path Path) bool {
	for cur := d; cur != nil; cur = cur.Parent {
		if cur.Type == path {
			return true
		}
	}
	return false
}

// EffectiveHook returns the nearest hook installed in the chain.
func (d *Definition) EffectiveHook() *Hook {
	for cur := d; cur != nil; cur = cur.Parent {
		if cur.Hook != nil {
			return cur.Hook
		}
	}
	return nil
}

// VariableNames returns every declared variable name in the chain, sorted.
func (d *Definition) VariableNames() []string {
	seen := make(map[string]struct{})
	for cur := d; cur != nil; cur = cur.Parent {
		for name := range cur.Variables {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// Derivation
// ---------------------------------------------------------------------------

// Derive produces a specialized definition in which the given variables
// have new defaults. The result keeps d's type path and hook, and its parent
// is d, so proc resolution and subtype checks are unchanged. Overrides of
// variables not declared in the chain are returned in skipped and ignored.
func (d *Definition) Derive(overrides map[string]Value) (derived *Definition, skipped []string) {
	derived = &Definition{
		Type:      d.Type,
		Parent:    d,
		Variables: make(map[string]Value, len(overrides)),
		Procs:     map[string]Proc{},
		derived:   true,
	}
	for name, v := range overrides {
		if !d.HasVariable(name) {
			skipped = append(skipped, name)
			continue
		}
		derived.Variables[name] = v
	}
	sort.Strings(skipped)
	return derived, skipped
}

// IsDerived reports whether d was produced by Derive.
func (d *Definition) IsDerived() bool { return d.derived }

// Base returns the first non-derived definition in the chain.
func (d *Definition) Base() *Definition {
	cur := d
	for cur.derived && cur.Parent != nil {
		cur = cur.Parent
	}
	return cur
}

func (d *Definition) String() string {
	return "Definition(" + string(d.Type) + ")"
}
