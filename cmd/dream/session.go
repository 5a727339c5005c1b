package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chazu/dreamcore/manifest"
	"github.com/chazu/dreamcore/natives"
	"github.com/chazu/dreamcore/objtree"
	"github.com/chazu/dreamcore/savefile"
	"github.com/chazu/dreamcore/sched"
	"github.com/chazu/dreamcore/vm"
	"github.com/fatih/color"
)

var (
	red    = color.New(color.FgRed).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

// session is a loaded project: the tree built from its definition files,
// the scheduler driving its threads and, once needed, its savefile.
type session struct {
	m     *manifest.Manifest
	tree  *vm.Tree
	sched *sched.Scheduler
	store *savefile.Store
	out   io.Writer
}

func newSession(m *manifest.Manifest, out io.Writer) (*session, error) {
	tree := vm.NewTree()
	tree.MaxStackDepth = m.Runtime.MaxStackDepth
	tree.InitProcName = m.Runtime.InitProc
	natives.Register(tree)

	if err := objtree.Load(tree, m.TreePaths()...); err != nil {
		return nil, err
	}
	log.Infof("loaded %d types from %d files", len(tree.Types()), len(m.Tree.Files))

	s := &session{m: m, tree: tree, out: out}
	s.sched = sched.New(
		sched.WithTickLag(m.TickLag()),
		sched.WithFaultHandler(s.reportFault),
	)
	return s, nil
}

func (s *session) reportFault(thread *vm.Thread, f *vm.Fault) {
	fmt.Fprintf(s.out, "%s thread %d: %s\n", red("fault"), thread.ID(), f.Err)
	if f.Trace != "" {
		fmt.Fprint(s.out, faint(f.Trace))
	}
}

// savefile opens the project's savefile on first use.
func (s *session) savefile() (*savefile.Store, error) {
	if s.store == nil {
		store, err := savefile.Open(s.m.SavefilePath())
		if err != nil {
			return nil, err
		}
		s.store = store
	}
	return s.store, nil
}

func (s *session) close() {
	if n := s.sched.Shutdown(); n > 0 {
		fmt.Fprintf(s.out, "%s %d suspended threads abandoned\n", yellow("note"), n)
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Errorf("closing savefile: %s", err)
		}
	}
}

// create instantiates path and runs its initialization with args. The
// object gets a reference ID so it can be named as #id afterwards.
func (s *session) create(path vm.Path, args vm.Arguments) (*vm.Object, int, error) {
	obj, err := s.tree.CreateObject(path)
	if err != nil {
		return nil, 0, err
	}
	if err := obj.InitSpawn(args); err != nil {
		obj.Delete()
		return nil, 0, err
	}
	if obj.Deleted() {
		return nil, 0, fmt.Errorf("%s deleted itself during initialization", path)
	}
	id, err := s.tree.Refs().IDFor(obj)
	if err != nil {
		return nil, 0, err
	}
	return obj, id, nil
}

// spawn queues proc name on obj for the next tick.
func (s *session) spawn(obj *vm.Object, name string, args vm.Arguments) (*vm.Thread, error) {
	proc, err := obj.GetProc(name)
	if err != nil {
		return nil, err
	}
	thread, err := s.tree.Spawn(proc, obj.Value(), vm.Null, args)
	if err != nil {
		return nil, err
	}
	s.sched.Spawn(thread)
	return thread, nil
}

// drive ticks the scheduler: ticks times when ticks > 0, otherwise in real
// time until every thread finished or ctx is done.
func (s *session) drive(ctx context.Context, ticks int) error {
	if ticks <= 0 {
		return s.sched.Run(ctx)
	}
	for i := 0; i < ticks && s.sched.Pending() > 0; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.sched.Tick()
	}
	return nil
}

// describe renders a thread's outcome for the user.
func describe(thread *vm.Thread) string {
	switch thread.Status() {
	case vm.ThreadReturned:
		return green(thread.Result().String())
	case vm.ThreadDeferred, vm.ThreadIdle:
		return yellow("(still running)")
	}
	return red("(faulted)")
}

func loadManifest(dir string) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, err
		}
		m = manifest.Default(abs)
		// without a dream.toml the default tree file is optional
		var files []string
		for i, p := range m.TreePaths() {
			if _, err := os.Stat(p); err == nil {
				files = append(files, m.Tree.Files[i])
			}
		}
		m.Tree.Files = files
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
