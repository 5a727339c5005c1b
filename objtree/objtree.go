// Package objtree loads definition trees from YAML into a vm.Tree.
//
// A tree file has a single "types" mapping keyed by type path:
//
//	types:
//	  /obj:
//	    vars:
//	      name: object
//	      kind: !path /obj
//	    procs:
//	      Describe:
//	        args: [who]
//	        code:
//	          - {op: push, value: "a thing"}
//	          - return
//	  /obj/item:
//	    procs:
//	      Weigh: {native: abs}
//
// A type's parent is its "parent" key or, when absent, its path parent if
// that type exists. Procs overriding a parent's proc of the same name are
// linked to it for "super" calls.
package objtree

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/chazu/dreamcore/vm"
	"github.com/hashicorp/go-multierror"
	"github.com/tliron/commonlog"
	"gopkg.in/yaml.v3"
)

var log = commonlog.GetLogger("dream.objtree")

// PathTag marks a scalar as a type path rather than text.
const PathTag = "!path"

// InitProcName names the variable-initializer proc built from a type's
// "init" key.
const InitProcName = "<init>"

type treeFile struct {
	Types yaml.Node `yaml:"types"`
}

type typeSpec struct {
	Parent string    `yaml:"parent"`
	Vars   yaml.Node `yaml:"vars"`
	Procs  yaml.Node `yaml:"procs"`
	Init   *procSpec `yaml:"init"`
}

type procSpec struct {
	Native   string               `yaml:"native"`
	Args     []string             `yaml:"args"`
	ArgTypes []string             `yaml:"arg_types"`
	Defaults map[string]yaml.Node `yaml:"defaults"`
	Locals   int                  `yaml:"locals"`
	Code     []yaml.Node          `yaml:"code"`
}

type instrSpec struct {
	Op    string    `yaml:"op"`
	A     int       `yaml:"a"`
	Name  string    `yaml:"name"`
	Value yaml.Node `yaml:"value"`
}

// pendingType is a parsed type waiting to be defined.
type pendingType struct {
	path vm.Path
	spec typeSpec
	file string
	line int
}

// Loader collects tree files and builds them into a tree at once, so that
// types may refer to parents declared in another file.
type Loader struct {
	tree    *vm.Tree
	pending []*pendingType
	seen    map[vm.Path]*pendingType
	errs    *multierror.Error
}

// NewLoader creates a loader targeting tree.
func NewLoader(tree *vm.Tree) *Loader {
	return &Loader{tree: tree, seen: make(map[vm.Path]*pendingType)}
}

// Load parses every file and builds the result into tree.
func Load(tree *vm.Tree, files ...string) error {
	l := NewLoader(tree)
	for _, f := range files {
		l.AddFile(f)
	}
	return l.Build()
}

// AddFile parses a tree file. Problems are collected and reported by Build.
func (l *Loader) AddFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		l.fail(fmt.Errorf("objtree: %w", err))
		return
	}
	l.AddBytes(path, data)
}

// AddBytes parses tree source named name.
func (l *Loader) AddBytes(name string, data []byte) {
	var raw treeFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		l.fail(fmt.Errorf("objtree: parse %s: %w", name, err))
		return
	}
	types := &raw.Types
	if types.Kind == 0 || (types.Kind == yaml.ScalarNode && types.Tag == "!!null") {
		return
	}
	if types.Kind != yaml.MappingNode {
		l.fail(l.errorf(name, types, "types must be a mapping"))
		return
	}
	for i := 0; i < len(types.Content); i += 2 {
		keyNode, valueNode := types.Content[i], types.Content[i+1]
		path := vm.ParsePath(keyNode.Value)
		if prev, dup := l.seen[path]; dup {
			l.fail(l.errorf(name, keyNode, "type %s already declared at %s:%d", path, prev.file, prev.line))
			continue
		}
		p := &pendingType{path: path, file: name, line: keyNode.Line}
		if valueNode.Kind != 0 && valueNode.Tag != "!!null" {
			if err := valueNode.Decode(&p.spec); err != nil {
				l.fail(l.errorf(name, valueNode, "type %s: %s", path, err))
				continue
			}
		}
		l.seen[path] = p
		l.pending = append(l.pending, p)
	}
}

// Build defines every collected type, then builds their variables and
// procs, parents first. All problems found are returned together.
func (l *Loader) Build() error {
	order := l.defineTypes()
	for _, p := range order {
		l.buildType(p)
	}
	if err := l.errs.ErrorOrNil(); err != nil {
		return err
	}
	log.Infof("loaded %d types", len(order))
	return nil
}

func (l *Loader) fail(err error) {
	l.errs = multierror.Append(l.errs, err)
}

func (l *Loader) errorf(file string, node *yaml.Node, format string, args ...any) error {
	return fmt.Errorf("objtree: %s:%d: %s", file, node.Line, fmt.Sprintf(format, args...))
}

// parentOf returns the parent path of p, or "" for a root type.
func (l *Loader) parentOf(p *pendingType) vm.Path {
	if p.spec.Parent != "" {
		return vm.ParsePath(p.spec.Parent)
	}
	if p.path == vm.Root {
		return ""
	}
	implied := p.path.Parent()
	if _, ok := l.seen[implied]; ok {
		return implied
	}
	if _, err := l.tree.Definition(implied); err == nil {
		return implied
	}
	return ""
}

// defineTypes registers the pending types in dependency order.
func (l *Loader) defineTypes() []*pendingType {
	sort.SliceStable(l.pending, func(i, j int) bool {
		return len(l.pending[i].path.Elements()) < len(l.pending[j].path.Elements())
	})
	remaining := l.pending
	var order []*pendingType
	for len(remaining) > 0 {
		var next []*pendingType
		for _, p := range remaining {
			parent := l.parentOf(p)
			if parent != "" {
				if _, err := l.tree.Definition(parent); err != nil {
					next = append(next, p)
					continue
				}
			}
			if _, err := l.tree.NewType(p.path, parent); err != nil {
				l.fail(fmt.Errorf("objtree: %s:%d: %w", p.file, p.line, err))
				continue
			}
			order = append(order, p)
		}
		if len(next) == len(remaining) {
			for _, p := range next {
				l.fail(fmt.Errorf("objtree: %s:%d: %w: parent %s of %s", p.file, p.line, vm.ErrUnknownType, l.parentOf(p), p.path))
			}
			break
		}
		remaining = next
	}
	return order
}

func (l *Loader) buildType(p *pendingType) {
	def, err := l.tree.Definition(p.path)
	if err != nil {
		l.fail(err)
		return
	}

	if vars := &p.spec.Vars; l.mapping(p, vars, "vars") {
		for i := 0; i < len(vars.Content); i += 2 {
			name := vars.Content[i].Value
			v, err := l.value(vars.Content[i+1])
			if err != nil {
				l.fail(l.errorf(p.file, vars.Content[i+1], "%s.%s: %s", p.path, name, err))
				continue
			}
			def.Variables[name] = v
		}
	}

	if procs := &p.spec.Procs; l.mapping(p, procs, "procs") {
		for i := 0; i < len(procs.Content); i += 2 {
			name := procs.Content[i].Value
			var spec procSpec
			if err := procs.Content[i+1].Decode(&spec); err != nil {
				l.fail(l.errorf(p.file, procs.Content[i+1], "%s/proc/%s: %s", p.path, name, err))
				continue
			}
			var super vm.Proc
			if def.Parent != nil {
				super, _ = def.Parent.ResolveProc(name)
			}
			proc, err := l.proc(name, super, &spec)
			if err != nil {
				l.fail(l.errorf(p.file, procs.Content[i+1], "%s/proc/%s: %s", p.path, name, err))
				continue
			}
			def.Procs[name] = proc
		}
	}

	if p.spec.Init != nil {
		proc, err := l.proc(InitProcName, nil, p.spec.Init)
		if err != nil {
			l.fail(fmt.Errorf("objtree: %s:%d: %s init: %w", p.file, p.line, p.path, err))
			return
		}
		def.InitProc = proc
	}
}

// mapping reports whether node is a non-empty mapping, recording an error
// when it is something other than a mapping or null.
func (l *Loader) mapping(p *pendingType, node *yaml.Node, key string) bool {
	switch {
	case node.Kind == yaml.MappingNode:
		return true
	case node.Kind == 0, node.Kind == yaml.ScalarNode && node.Tag == "!!null":
		return false
	}
	l.fail(l.errorf(p.file, node, "%s: %s must be a mapping", p.path, key))
	return false
}

func (l *Loader) proc(name string, super vm.Proc, spec *procSpec) (vm.Proc, error) {
	if spec.Native != "" {
		if len(spec.Code) > 0 {
			return nil, errors.New("a proc is either native or has code")
		}
		native, ok := l.tree.Native(spec.Native)
		if !ok {
			return nil, fmt.Errorf("unknown native %q", spec.Native)
		}
		return native.Bind(name, super), nil
	}

	argTypes := make([]vm.ValueType, len(spec.ArgTypes))
	for i, s := range spec.ArgTypes {
		vt, err := vm.ParseValueType(s)
		if err != nil {
			return nil, err
		}
		argTypes[i] = vt
	}
	var defaults map[string]vm.Value
	if len(spec.Defaults) > 0 {
		defaults = make(map[string]vm.Value, len(spec.Defaults))
		for arg, node := range spec.Defaults {
			v, err := l.value(&node)
			if err != nil {
				return nil, fmt.Errorf("default for %s: %w", arg, err)
			}
			defaults[arg] = v
		}
	}

	code := make([]vm.Instruction, 0, len(spec.Code))
	for i := range spec.Code {
		in, err := l.instruction(&spec.Code[i])
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		code = append(code, in)
	}
	for i, in := range code {
		switch in.Op {
		case vm.OpJump, vm.OpJumpFalse:
			if in.A < 0 || in.A > len(code) {
				return nil, fmt.Errorf("instruction %d: jump target %d out of range", i, in.A)
			}
		}
	}
	return vm.NewScriptProc(name, super, spec.Args, argTypes, defaults, code, spec.Locals), nil
}

// instruction decodes either a bare mnemonic ("return") or a mapping with
// op, a, name and value keys.
func (l *Loader) instruction(node *yaml.Node) (vm.Instruction, error) {
	if node.Kind == yaml.ScalarNode {
		op, err := vm.ParseOpcode(strings.TrimSpace(node.Value))
		if err != nil {
			return vm.Instruction{}, err
		}
		return vm.Instruction{Op: op}, nil
	}
	var spec instrSpec
	if err := node.Decode(&spec); err != nil {
		return vm.Instruction{}, err
	}
	op, err := vm.ParseOpcode(spec.Op)
	if err != nil {
		return vm.Instruction{}, err
	}
	in := vm.Instruction{Op: op, A: spec.A, Name: spec.Name}
	if spec.Value.Kind != 0 {
		if in.Operand, err = l.value(&spec.Value); err != nil {
			return vm.Instruction{}, err
		}
	}
	return in, nil
}

// value converts a YAML node into a constant Value. Booleans become 1 and 0
// and sequences become lists.
func (l *Loader) value(node *yaml.Node) (vm.Value, error) {
	switch node.Kind {
	case yaml.AliasNode:
		return l.value(node.Alias)
	case yaml.SequenceNode:
		items := make([]vm.Value, len(node.Content))
		for i, item := range node.Content {
			v, err := l.value(item)
			if err != nil {
				return vm.Null, err
			}
			items[i] = v
		}
		return vm.NewListValue(vm.NewList(items...)), nil
	case yaml.ScalarNode:
	default:
		return vm.Null, fmt.Errorf("line %d: unsupported value", node.Line)
	}

	switch node.Tag {
	case PathTag:
		return vm.NewPathValue(vm.ParsePath(node.Value)), nil
	case "!!null":
		return vm.Null, nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return vm.Null, err
		}
		if b {
			return vm.NewInt(1), nil
		}
		return vm.NewInt(0), nil
	case "!!int", "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return vm.Null, err
		}
		return vm.NewNumber(f), nil
	case "!!str", "":
		return vm.NewString(node.Value), nil
	}
	return vm.Null, fmt.Errorf("line %d: unsupported tag %s", node.Line, strconv.Quote(node.Tag))
}
