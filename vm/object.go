package vm

import (
	"fmt"
	"sort"

	"github.com/emirpasic/gods/stacks/arraystack"
)

// Object is one live instance: a definition plus sparse per-instance
// variable overrides, a reference count and a deleted flag.
//
// Once deleted, an Object keeps only its identity; every variable or proc
// access fails with ErrObjectDeleted. Go's collector reclaims the sentinel
// once nothing points at it any more.
type Object struct {
	def      *Definition
	vars     map[string]Value
	refCount uint64
	deleted  bool
	dying    bool // teardown in progress
	tree     *Tree
}

// newObject creates an instance holding the implicit creator reference.
// Object-valued overrides are retained, since deletion releases them.
func newObject(tree *Tree, def *Definition, overrides map[string]Value) *Object {
	obj := &Object{
		def:      def,
		vars:     make(map[string]Value, len(overrides)),
		refCount: 1,
		tree:     tree,
	}
	for name, v := range overrides {
		obj.vars[name] = v
		retainValue(v)
	}
	return obj
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Definition returns the object's definition, nil once deleted.
func (o *Object) Definition() *Definition { return o.def }

// Tree returns the tree the object was created in.
func (o *Object) Tree() *Tree { return o.tree }

func (o *Object) Deleted() bool    { return o.deleted }
func (o *Object) RefCount() uint64 { return o.refCount }
func (o *Object) Value() Value     { return NewObjectValue(o) }

func (o *Object) deletedErr(op string) error {
	return fmt.Errorf("%w: cannot %s", ErrObjectDeleted, op)
}

// Type returns the object's type path, or "" once deleted.
func (o *Object) Type() Path {
	if o.def == nil {
		return ""
	}
	return o.def.Type
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// Get returns the effective value of name: the override if present, else
// the definition default, passed through the hook's OnVariableGet.
func (o *Object) Get(name string) (Value, error) {
	v, ok, err := o.TryGet(name)
	if err != nil {
		return Null, err
	}
	if !ok {
		return Null, fmt.Errorf("%w: %s on %s", ErrUndeclaredVariable, name, o.def.Type)
	}
	return v, nil
}

// TryGet is Get reporting an undeclared variable as ok=false rather than
// as an error.
func (o *Object) TryGet(name string) (Value, bool, error) {
	if o.deleted {
		return Null, false, o.deletedErr("read " + name)
	}
	v, ok := o.vars[name]
	if !ok {
		dv, err := o.def.ResolveVariable(name)
		if err != nil {
			return Null, false, nil
		}
		v = dv
	}
	if h := o.def.EffectiveHook(); h != nil && h.OnVariableGet != nil {
		v = h.OnVariableGet(o, name, v)
	}
	return v, true, nil
}

// HasVariable reports whether name is declared for this object. It is a
// lenient query: a deleted object declares nothing, so it reports false
// rather than failing.
func (o *Object) HasVariable(name string) bool {
	if o.deleted {
		return false
	}
	return o.def.HasVariable(name)
}

// VariableNames returns the names of the variables overridden on this
// instance, sorted.
func (o *Object) VariableNames() ([]string, error) {
	if o.deleted {
		return nil, o.deletedErr("list variables")
	}
	names := make([]string, 0, len(o.vars))
	for name := range o.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Overrides returns a copy of the per-instance values, bypassing hooks.
func (o *Object) Overrides() (map[string]Value, error) {
	if o.deleted {
		return nil, o.deletedErr("read overrides")
	}
	out := make(map[string]Value, len(o.vars))
	for name, v := range o.vars {
		out[name] = v
	}
	return out, nil
}

// SetRaw stores v as the override for name, bypassing hooks and reference
// counting, and returns the previous effective value. Callers using SetRaw
// with object values own the bookkeeping of their counts.
func (o *Object) SetRaw(name string, v Value) (Value, error) {
	if o.deleted {
		return Null, o.deletedErr("set " + name)
	}
	old, ok := o.vars[name]
	if !ok {
		dv, err := o.def.ResolveVariable(name)
		if err != nil {
			return Null, err
		}
		old = dv
	}
	o.vars[name] = v
	return old, nil
}

// Set stores v, retains it when it is an object reference and releases the
// override it displaced, then notifies the hook.
//
// Only overrides own a reference: replacing a definition default does not
// release it.
func (o *Object) Set(name string, v Value) error {
	if o.deleted {
		return o.deletedErr("set " + name)
	}
	prev, owned := o.vars[name]
	old, err := o.SetRaw(name, v)
	if err != nil {
		return err
	}
	retainValue(v)
	if owned {
		dropValue(prev)
	}
	if o.deleted {
		// dropping old cascaded back into o
		return nil
	}
	if h := o.def.EffectiveHook(); h != nil && h.OnVariableSet != nil {
		h.OnVariableSet(o, name, v, old)
	}
	return nil
}

// Unset removes the override for name so the definition default shows
// through again. An object held by the override is released and the hook
// sees the default as the new value. Unsetting a variable that has no
// override does nothing.
func (o *Object) Unset(name string) error {
	if o.deleted {
		return o.deletedErr("unset " + name)
	}
	prev, ok := o.vars[name]
	if !ok {
		return nil
	}
	delete(o.vars, name)
	dropValue(prev)
	if o.deleted {
		return nil
	}
	if h := o.def.EffectiveHook(); h != nil && h.OnVariableSet != nil {
		dv, _ := o.def.ResolveVariable(name)
		h.OnVariableSet(o, name, dv, prev)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Reference counting
// ---------------------------------------------------------------------------

// Retain adds a reference.
func (o *Object) Retain() { o.refCount++ }

// Release drops a reference and deletes the object when the count reaches
// zero. Releasing an object whose count is already zero is a logic error.
func (o *Object) Release() error {
	if o.refCount == 0 {
		return fmt.Errorf("%w: %s", ErrDoubleRelease, o)
	}
	o.refCount--
	if o.refCount == 0 {
		o.Delete()
	}
	return nil
}

func retainValue(v Value) {
	if obj, ok := v.AsObject(); ok {
		obj.Retain()
	}
}

// dropValue releases an object reference held by the runtime itself. An
// object that was already torn down at zero count is skipped: its owners'
// references were settled by the teardown.
func dropValue(v Value) {
	obj, ok := v.AsObject()
	if !ok {
		return
	}
	if obj.refCount == 0 && (obj.deleted || obj.dying) {
		return
	}
	if err := obj.Release(); err != nil {
		log.Errorf("dropping reference: %s", err)
	}
}

// ---------------------------------------------------------------------------
// Deletion
// ---------------------------------------------------------------------------

// Delete tears the object down: object-valued overrides are released (which
// may delete further objects), the hook's OnDeleted runs, the overrides and
// definition are discarded and the reference ID is freed. Deleting a
// deleted object is a no-op.
//
// Cascades are processed with an explicit work-list so that long ownership
// chains do not grow the Go stack; an object reached again while it is
// being torn down is skipped, which also stops reference cycles.
func (o *Object) Delete() {
	if o.deleted || o.dying {
		return
	}
	work := arraystack.New()
	work.Push(o)
	count := 0
	for !work.Empty() {
		top, _ := work.Pop()
		top.(*Object).teardown(work)
		count++
	}
	if count > 1 {
		log.Debugf("deleting %s cascaded to %d objects", o, count-1)
	}
}

func (o *Object) teardown(work *arraystack.Stack) {
	if o.deleted || o.dying {
		return
	}
	o.dying = true

	names := make([]string, 0, len(o.vars))
	for name := range o.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		child, ok := o.vars[name].AsObject()
		if !ok {
			continue
		}
		if child.dying || child.deleted || child.refCount == 0 {
			log.Debugf("%s.%s refers to %s which is already being deleted", o, name, child)
			continue
		}
		child.refCount--
		if child.refCount == 0 {
			work.Push(child)
		}
	}

	if h := o.def.EffectiveHook(); h != nil && h.OnDeleted != nil {
		h.OnDeleted(o)
	}

	o.deleted = true
	o.dying = false
	o.vars = nil
	o.def = nil
	if o.tree != nil {
		o.tree.refs.remove(o)
	}
}

// ---------------------------------------------------------------------------
// Identity-preserving replacement
// ---------------------------------------------------------------------------

// Replace gives the object a new definition and a new set of overrides
// while keeping its identity, so every existing reference (and its
// reference ID) now denotes the replacement. Overrides def does not declare
// are ignored. New object-valued overrides are retained before old ones are
// released.
func (o *Object) Replace(def *Definition, overrides map[string]Value) error {
	if o.deleted {
		return o.deletedErr("replace")
	}
	old := o.vars
	o.def = def
	o.vars = make(map[string]Value, len(overrides))
	for name, v := range overrides {
		if !def.HasVariable(name) {
			log.Warningf("%s has no variable %q; override ignored", def.Type, name)
			continue
		}
		o.vars[name] = v
		retainValue(v)
	}
	for _, v := range old {
		dropValue(v)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Procs
// ---------------------------------------------------------------------------

// IsSubtypeOf reports whether the object's definition chain contains path.
// Like HasVariable it is a lenient query: a deleted object has no type, so
// it is a subtype of nothing.
func (o *Object) IsSubtypeOf(path Path) bool {
	if o.deleted {
		return false
	}
	return o.def.IsSubtypeOf(path)
}

// GetProc resolves a proc by name through the definition chain.
func (o *Object) GetProc(name string) (Proc, error) {
	if o.deleted {
		return nil, o.deletedErr("get proc " + name)
	}
	return o.def.ResolveProc(name)
}

// TryGetProc is GetProc reporting an undeclared proc as ok=false.
func (o *Object) TryGetProc(name string) (Proc, bool, error) {
	if o.deleted {
		return nil, false, o.deletedErr("get proc " + name)
	}
	p, err := o.def.ResolveProc(name)
	if err != nil {
		return nil, false, nil
	}
	return p, true, nil
}

// SpawnProc runs the named proc with the object as receiver and waits for
// its result. The proc must not suspend.
func (o *Object) SpawnProc(name string, usr Value, args Arguments) (Value, error) {
	p, err := o.GetProc(name)
	if err != nil {
		return Null, err
	}
	return o.tree.Call(p, o.Value(), usr, args)
}

func (o *Object) String() string {
	if o.deleted {
		return "DreamObject(DELETED)"
	}
	return "DreamObject(" + string(o.def.Type) + ")"
}
