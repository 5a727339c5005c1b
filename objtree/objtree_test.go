package objtree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/dreamcore/vm"
	"github.com/stretchr/testify/require"
)

const doorTree = `
types:
  /obj:
    vars:
      name: object
      density: 0
      opened: false
      kind: !path /obj
      tags: [a, 2, null]
    procs:
      Describe:
        code:
          - {op: push, value: "an object"}
          - return
  /obj/door:
    vars:
      density: 1
    procs:
      Describe:
        code:
          - super
          - {op: push, value: " (door)"}
          - add
          - return
      Open:
        args: [force]
        defaults: {force: 1}
        code:
          - {op: arg, a: 0}
          - {op: setvar, name: opened}
          - {op: getvar, name: opened}
          - return
      Twice:
        native: double
`

func newTree(t *testing.T) *vm.Tree {
	t.Helper()
	tree := vm.NewTree()
	tree.RegisterNative(vm.NewNativeProc("double", nil, []string{"x"}, nil, nil,
		func(_, _ vm.Value, args vm.Arguments) (vm.Value, error) {
			n, _ := args.GetArgument(0, "x").AsNumber()
			return vm.NewNumber(2 * n), nil
		}))
	return tree
}

func TestLoadBytes(t *testing.T) {
	tree := newTree(t)
	l := NewLoader(tree)
	l.AddBytes("door.yaml", []byte(doorTree))
	require.NoError(t, l.Build())

	door, err := tree.Definition("/obj/door")
	require.NoError(t, err)
	require.Equal(t, vm.Path("/obj"), door.Parent.Type)

	density, err := door.ResolveVariable("density")
	require.NoError(t, err)
	require.True(t, density.Equal(vm.NewInt(1)))

	kind, _ := door.ResolveVariable("kind")
	p, ok := kind.AsPath()
	require.True(t, ok)
	require.Equal(t, vm.Path("/obj"), p)

	opened, _ := door.ResolveVariable("opened")
	require.True(t, opened.Equal(vm.NewInt(0)))

	tags, _ := door.ResolveVariable("tags")
	list, ok := tags.AsList()
	require.True(t, ok)
	require.Equal(t, 3, list.Len())
	require.True(t, list.At(2).IsNull())
}

func TestLoadedProcsRun(t *testing.T) {
	tree := newTree(t)
	l := NewLoader(tree)
	l.AddBytes("door.yaml", []byte(doorTree))
	require.NoError(t, l.Build())

	obj, err := tree.CreateObject("/obj/door")
	require.NoError(t, err)

	v, err := obj.SpawnProc("Describe", vm.Null, vm.Arguments{})
	require.NoError(t, err)
	require.Equal(t, "an object (door)", v.Text())

	v, err = obj.SpawnProc("Open", vm.Null, vm.Arguments{})
	require.NoError(t, err)
	require.True(t, v.Equal(vm.NewInt(1)), "default argument applied")

	v, err = obj.SpawnProc("Twice", vm.Null, vm.NewArguments(vm.NewInt(21)))
	require.NoError(t, err)
	require.True(t, v.Equal(vm.NewInt(42)))

	twice, _ := obj.GetProc("Twice")
	require.Equal(t, "Twice", twice.Name())
	require.True(t, twice.IsNative())
}

func TestLoadFilesAcrossParents(t *testing.T) {
	dir := t.TempDir()
	child := filepath.Join(dir, "child.yaml")
	parent := filepath.Join(dir, "parent.yaml")
	require.NoError(t, os.WriteFile(child, []byte(`
types:
  /mob/player:
    parent: /mob
    vars:
      ckey: ""
`), 0o644))
	require.NoError(t, os.WriteFile(parent, []byte(`
types:
  /mob:
    vars:
      health: 100
    init:
      code:
        - {op: push, value: 50}
        - {op: setvar, name: health}
`), 0o644))

	tree := newTree(t)
	require.NoError(t, Load(tree, child, parent))

	player, err := tree.CreateObject("/mob/player")
	require.NoError(t, err)
	require.True(t, player.IsSubtypeOf("/mob"))
	require.NoError(t, player.InitSpawn(vm.Arguments{}))
	health, _ := player.Get("health")
	require.True(t, health.Equal(vm.NewInt(50)))
}

func TestLoadErrorsAreAggregated(t *testing.T) {
	tree := newTree(t)
	l := NewLoader(tree)
	l.AddBytes("bad.yaml", []byte(`
types:
  /obj:
    procs:
      A: {native: nope}
      B:
        code: [frobnicate]
      C:
        code:
          - {op: jump, a: 9}
  /orphan:
    parent: /missing
`))
	err := l.Build()
	require.Error(t, err)
	msg := err.Error()
	require.Contains(t, msg, `unknown native "nope"`)
	require.Contains(t, msg, `unknown opcode "frobnicate"`)
	require.Contains(t, msg, "jump target 9 out of range")
	require.Contains(t, msg, "/orphan")
	require.Contains(t, msg, "bad.yaml:")
}

func TestLoadDuplicateAcrossFiles(t *testing.T) {
	tree := newTree(t)
	l := NewLoader(tree)
	l.AddBytes("a.yaml", []byte("types:\n  /obj: {}\n"))
	l.AddBytes("b.yaml", []byte("types:\n  /obj: {}\n"))
	err := l.Build()
	require.ErrorContains(t, err, "already declared at a.yaml:2")
}

func TestLoadMissingFile(t *testing.T) {
	err := Load(newTree(t), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadEmpty(t *testing.T) {
	tree := newTree(t)
	l := NewLoader(tree)
	l.AddBytes("empty.yaml", nil)
	l.AddBytes("null.yaml", []byte("types:\n"))
	require.NoError(t, l.Build())
	require.Empty(t, tree.Types())
}
