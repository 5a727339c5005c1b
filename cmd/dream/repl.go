package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/chazu/dreamcore/vm"
	"github.com/chzyer/readline"
)

var errQuit = errors.New("quit")

var replCompleter = readline.NewPrefixCompleter(
	readline.PcItem("help"),
	readline.PcItem("types"),
	readline.PcItem("new"),
	readline.PcItem("call"),
	readline.PcItem("spawn"),
	readline.PcItem("tick"),
	readline.PcItem("get"),
	readline.PcItem("set"),
	readline.PcItem("vars"),
	readline.PcItem("del"),
	readline.PcItem("dis"),
	readline.PcItem("save"),
	readline.PcItem("load"),
	readline.PcItem("saves"),
	readline.PcItem("rm"),
	readline.PcItem("stats"),
	readline.PcItem("quit"),
)

// runREPL reads commands until EOF or quit.
func runREPL(ctx context.Context, s *session) {
	history := filepath.Join(s.m.Dir, ".dream", "history")
	if err := os.MkdirAll(filepath.Dir(history), 0755); err != nil {
		log.Warningf("no REPL history: %s", err)
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "dream> ",
		HistoryFile:     history,
		AutoComplete:    replCompleter,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("error:"), err)
		return
	}
	defer rl.Close()

	fmt.Fprintf(s.out, "Dream REPL, %d types loaded (type 'help' for commands)\n", len(s.tree.Types()))
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil { // io.EOF
			break
		}
		if err := s.execute(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				break
			}
			fmt.Fprintf(s.out, "%s %v\n", red("error:"), err)
		}
	}
}

// execute runs one REPL command.
func (s *session) execute(ctx context.Context, line string) error {
	fields, err := splitFields(strings.TrimSpace(line))
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	cmd, rest := fields[0], fields[1:]

	switch cmd {
	case "help", "?":
		s.help()
	case "quit", "exit":
		return errQuit
	case "types":
		for _, p := range s.tree.Types() {
			fmt.Fprintln(s.out, p)
		}
	case "new":
		if len(rest) < 1 {
			return usage("new /type/path [args...]")
		}
		args, err := parseArguments(s.tree, rest[1:])
		if err != nil {
			return err
		}
		obj, id, err := s.create(vm.ParsePath(rest[0]), args)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "#%d %s\n", id, green(obj.String()))
	case "call", "spawn":
		if len(rest) < 2 {
			return usage(cmd + " #id Proc [args...]")
		}
		obj, err := lookupRef(s.tree, rest[0])
		if err != nil {
			return err
		}
		args, err := parseArguments(s.tree, rest[2:])
		if err != nil {
			return err
		}
		if cmd == "spawn" {
			thread, err := s.spawn(obj, rest[1], args)
			if err != nil {
				return err
			}
			fmt.Fprintf(s.out, "thread %d queued for tick %d\n", thread.ID(), s.sched.CurrentTick()+1)
			return nil
		}
		v, err := obj.SpawnProc(rest[1], vm.Null, args)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, green(v.String()))
	case "tick":
		n := 1
		if len(rest) > 0 {
			if n, err = strconv.Atoi(rest[0]); err != nil {
				return usage("tick [n]")
			}
		}
		if err := s.drive(ctx, n); err != nil {
			return err
		}
		st := s.sched.LastStats()
		fmt.Fprintf(s.out, "tick %d: %d resumed, %d returned, %d deferred, %d faulted, %d pending\n",
			s.sched.CurrentTick(), st.Resumed, st.Returned, st.Deferred, st.Faulted, s.sched.Pending())
	case "get":
		if len(rest) != 2 {
			return usage("get #id var")
		}
		obj, err := lookupRef(s.tree, rest[0])
		if err != nil {
			return err
		}
		v, err := obj.Get(rest[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, green(v.String()))
	case "set":
		if len(rest) != 3 {
			return usage("set #id var value")
		}
		obj, err := lookupRef(s.tree, rest[0])
		if err != nil {
			return err
		}
		v, err := parseValue(s.tree, rest[2])
		if err != nil {
			return err
		}
		return obj.Set(rest[1], v)
	case "vars":
		if len(rest) != 1 {
			return usage("vars #id")
		}
		obj, err := lookupRef(s.tree, rest[0])
		if err != nil {
			return err
		}
		return s.printVars(obj)
	case "del":
		if len(rest) != 1 {
			return usage("del #id")
		}
		obj, err := lookupRef(s.tree, rest[0])
		if err != nil {
			return err
		}
		obj.Delete()
	case "dis":
		if len(rest) != 2 {
			return usage("dis /type/path Proc")
		}
		def, err := s.tree.Definition(vm.ParsePath(rest[0]))
		if err != nil {
			return err
		}
		p, err := def.ResolveProc(rest[1])
		if err != nil {
			return err
		}
		script, ok := p.(*vm.ScriptProc)
		if !ok {
			fmt.Fprintf(s.out, "%s is native\n", rest[1])
			return nil
		}
		fmt.Fprint(s.out, script.Disassemble())
	case "save", "load":
		if len(rest) != 2 {
			return usage(cmd + " name #id")
		}
		obj, err := lookupRef(s.tree, rest[1])
		if err != nil {
			return err
		}
		store, err := s.savefile()
		if err != nil {
			return err
		}
		if cmd == "load" {
			return store.Load(rest[0], obj)
		}
		id, err := store.Save(rest[0], obj)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "saved %q (%s)\n", rest[0], id)
	case "saves":
		store, err := s.savefile()
		if err != nil {
			return err
		}
		entries, err := store.List()
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(s.out, "%-16s %-24s %6d bytes  %s\n", e.Name, e.Type, e.Size, faint(e.SavedAt.Format("2006-01-02 15:04:05")))
		}
	case "rm":
		if len(rest) != 1 {
			return usage("rm name")
		}
		store, err := s.savefile()
		if err != nil {
			return err
		}
		return store.Remove(rest[0])
	case "stats":
		fmt.Fprintf(s.out, "tick %d, %d pending, %d returned, %d faulted, %d exceptions, %d referenced objects\n",
			s.sched.CurrentTick(), s.sched.Pending(), s.sched.Returned(), s.sched.Faulted(),
			s.tree.ExceptionCount(), s.tree.Refs().Len())
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return nil
}

func (s *session) printVars(obj *vm.Object) error {
	vars, err := obj.Overrides()
	if err != nil {
		return err
	}
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(s.out, obj)
	for _, name := range names {
		fmt.Fprintf(s.out, "  %s = %s\n", name, vars[name])
	}
	return nil
}

func (s *session) help() {
	fmt.Fprintln(s.out, "Commands:")
	fmt.Fprintln(s.out, "  types                     List loaded types")
	fmt.Fprintln(s.out, "  new /path [args...]       Create and initialize an object")
	fmt.Fprintln(s.out, "  call #id Proc [args...]   Run a proc to completion")
	fmt.Fprintln(s.out, "  spawn #id Proc [args...]  Queue a proc on the scheduler")
	fmt.Fprintln(s.out, "  tick [n]                  Advance the scheduler n ticks")
	fmt.Fprintln(s.out, "  get #id var               Read a variable")
	fmt.Fprintln(s.out, "  set #id var value         Write a variable")
	fmt.Fprintln(s.out, "  vars #id                  Show overridden variables")
	fmt.Fprintln(s.out, "  del #id                   Delete an object")
	fmt.Fprintln(s.out, "  dis /path Proc            Disassemble a scripted proc")
	fmt.Fprintln(s.out, "  save name #id             Snapshot an object into the savefile")
	fmt.Fprintln(s.out, "  load name #id             Restore an object from the savefile")
	fmt.Fprintln(s.out, "  saves, rm name            List or remove saves")
	fmt.Fprintln(s.out, "  stats                     Scheduler and tree counters")
	fmt.Fprintln(s.out, "  quit                      Exit")
	fmt.Fprintln(s.out, "Values: null, 3, 0.5, \"text\", /type/path, #id, bare words are text; name=value passes a named argument.")
}

func usage(form string) error {
	return fmt.Errorf("usage: %s", form)
}
