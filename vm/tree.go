package vm

import (
	"fmt"
	"sort"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("dream.vm")

// DefaultInitProc is the proc run by InitSpawn after variable initializers.
const DefaultInitProc = "New"

// Tree is the runtime's registry of definitions. It owns the reference-ID
// table of the objects created from it, counts unhandled exceptions and
// carries the thread settings used by synchronous calls.
type Tree struct {
	types   map[Path]*Definition
	natives map[string]*NativeProc
	refs    *RefTable

	// MaxStackDepth bounds threads created by the tree.
	MaxStackDepth int
	// InitProcName is the proc InitSpawn runs after variable initializers.
	InitProcName string

	exceptionCount int
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{
		types:         make(map[Path]*Definition),
		natives:       make(map[string]*NativeProc),
		refs:          NewRefTable(),
		MaxStackDepth: DefaultMaxStackDepth,
		InitProcName:  DefaultInitProc,
	}
}

// Refs returns the tree's reference-ID table.
func (t *Tree) Refs() *RefTable { return t.refs }

// ExceptionCount is the number of threads that faulted.
func (t *Tree) ExceptionCount() int { return t.exceptionCount }

// ---------------------------------------------------------------------------
// Definitions
// ---------------------------------------------------------------------------

// AddDefinition registers def under its type path.
func (t *Tree) AddDefinition(def *Definition) error {
	if _, exists := t.types[def.Type]; exists {
		return fmt.Errorf("type %s already defined", def.Type)
	}
	t.types[def.Type] = def
	return nil
}

// NewType defines path with parent explicitly named, or with the path's
// textual parent when parent is "". A path whose implied parent is not
// defined becomes a root type.
func (t *Tree) NewType(path, parent Path) (*Definition, error) {
	var pdef *Definition
	if parent != "" {
		var err error
		if pdef, err = t.Definition(parent); err != nil {
			return nil, err
		}
	} else if path != Root {
		pdef = t.types[path.Parent()]
	}
	def := NewDefinition(path, pdef)
	if err := t.AddDefinition(def); err != nil {
		return nil, err
	}
	return def, nil
}

// Definition returns the definition registered for path.
func (t *Tree) Definition(path Path) (*Definition, error) {
	def, ok := t.types[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, path)
	}
	return def, nil
}

// Types returns all registered paths, sorted.
func (t *Tree) Types() []Path {
	out := make([]Path, 0, len(t.types))
	for p := range t.types {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ---------------------------------------------------------------------------
// Natives
// ---------------------------------------------------------------------------

// RegisterNative makes p available by name to tree loaders.
func (t *Tree) RegisterNative(p *NativeProc) {
	t.natives[p.Name()] = p
}

// Native returns the native proc registered under name.
func (t *Tree) Native(name string) (*NativeProc, bool) {
	p, ok := t.natives[name]
	return p, ok
}

// ---------------------------------------------------------------------------
// Instantiation
// ---------------------------------------------------------------------------

// CreateInstance creates an object of def with the given overrides. The
// object starts with one reference, owned by the caller. The overrides are
// stored as-is; use CreateMapObject to validate them against def.
func (t *Tree) CreateInstance(def *Definition, overrides map[string]Value) (*Object, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: nil definition", ErrUnknownType)
	}
	return newObject(t, def, overrides), nil
}

// CreateObject creates a plain instance of the type at path.
func (t *Tree) CreateObject(path Path) (*Object, error) {
	def, err := t.Definition(path)
	if err != nil {
		return nil, err
	}
	return t.CreateInstance(def, nil)
}

// CreateMapObject creates an instance that needs unique defaults, as a
// placed map object does: when overrides are given, a derived definition
// owned by this instance carries them. Overrides of undeclared variables
// are ignored.
func (t *Tree) CreateMapObject(path Path, overrides map[string]Value) (*Object, error) {
	def, err := t.Definition(path)
	if err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		var skipped []string
		def, skipped = def.Derive(overrides)
		for _, name := range skipped {
			log.Warningf("%s has no variable %q; override ignored", path, name)
		}
	}
	return t.CreateInstance(def, nil)
}

// ---------------------------------------------------------------------------
// Synchronous calls
// ---------------------------------------------------------------------------

// NewThread creates a thread carrying the tree's depth limit whose faults
// are counted by the tree.
func (t *Tree) NewThread() *Thread {
	return NewThread(WithMaxDepth(t.MaxStackDepth), WithFaultHandler(func(*Thread, *Fault) {
		t.exceptionCount++
	}))
}

// Call invokes proc on src with usr and args on a fresh thread and waits for
// its result. A proc that suspends fails with ErrUnexpectedSuspension.
func (t *Tree) Call(proc Proc, src, usr Value, args Arguments) (Value, error) {
	thread := t.NewThread()
	state, err := proc.CreateState(thread, src, usr, args)
	if err != nil {
		return Null, err
	}
	return thread.RunToCompletion(state)
}

// Spawn creates a thread with proc's frame pushed but not yet resumed.
func (t *Tree) Spawn(proc Proc, src, usr Value, args Arguments) (*Thread, error) {
	thread := t.NewThread()
	state, err := proc.CreateState(thread, src, usr, args)
	if err != nil {
		return nil, err
	}
	if err := thread.PushProcState(state); err != nil {
		state.Dispose()
		return nil, err
	}
	return thread, nil
}
