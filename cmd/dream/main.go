// Dream CLI - loads a project's definition trees and runs procs on them
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/chazu/dreamcore/manifest"
	"github.com/chazu/dreamcore/vm"
	"github.com/tliron/commonlog"
	"github.com/tliron/commonlog/simple"
	"github.com/tliron/commonlog/zerolog"
)

var log = commonlog.GetLogger("dream.cli")

func main() {
	dir := flag.String("C", ".", "Project directory (searched upwards for dream.toml)")
	target := flag.String("run", "", "Create an object and run a proc on it, e.g. /obj/door.Open")
	ticks := flag.Int("ticks", 0, "Number of ticks to drive (0 runs until every thread finished)")
	interactive := flag.Bool("i", false, "Start interactive REPL")
	verbose := flag.Bool("v", false, "Verbose output")
	saveAs := flag.String("save", "", "Save the -run object under this name afterwards")
	loadFrom := flag.String("load", "", "Restore the -run object from this save before running")
	listSaves := flag.Bool("saves", false, "List the savefile's entries and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: dream [options] [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Loads the definition trees listed in dream.toml and runs procs on them.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  dream -i                          # Start REPL\n")
		fmt.Fprintf(os.Stderr, "  dream -run /obj/door.Open 1       # New /obj/door, call Open(1)\n")
		fmt.Fprintf(os.Stderr, "  dream -run /mob.Life -ticks 100   # Drive Life for 100 ticks\n")
		fmt.Fprintf(os.Stderr, "  dream -run /mob.Life -save world  # Save the mob once Life finished\n")
	}
	flag.Parse()

	m, err := loadManifest(*dir)
	if err != nil {
		fatal(err)
	}
	verbosity := m.Log.Verbosity
	if *verbose && verbosity < 1 {
		verbosity = 1
	}
	configureLogging(m, verbosity)

	if *verbose {
		fmt.Printf("Project %s (%s)\n", m.Project.Name, m.Dir)
		for _, f := range m.TreePaths() {
			fmt.Printf("  tree %s\n", f)
		}
	}

	s, err := newSession(m, os.Stdout)
	if err != nil {
		fatal(err)
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch {
	case *listSaves:
		if err := s.execute(ctx, "saves"); err != nil {
			s.close()
			fatal(err)
		}
	case *target != "":
		if err := runTarget(ctx, s, *target, flag.Args(), *ticks, *loadFrom, *saveAs); err != nil {
			s.close()
			fatal(err)
		}
		if s.sched.Faulted() > 0 {
			s.close()
			os.Exit(1)
		}
	}

	if *interactive || (*target == "" && !*listSaves) {
		runREPL(ctx, s)
	}
}

// runTarget creates the target's object, optionally restores it from a
// save, runs the proc through the scheduler and prints the result.
func runTarget(ctx context.Context, s *session, target string, rawArgs []string, ticks int, loadFrom, saveAs string) error {
	path, procName, err := parseTarget(target)
	if err != nil {
		return err
	}
	args, err := parseArguments(s.tree, rawArgs)
	if err != nil {
		return err
	}

	obj, id, err := s.create(path, vm.Arguments{})
	if err != nil {
		return err
	}
	if loadFrom != "" {
		store, err := s.savefile()
		if err != nil {
			return err
		}
		if err := store.Load(loadFrom, obj); err != nil {
			return err
		}
		log.Infof("restored #%d from %q", id, loadFrom)
	}

	thread, err := s.spawn(obj, procName, args)
	if err != nil {
		return err
	}
	if err := s.drive(ctx, ticks); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s.%s => %s\n", path, procName, describe(thread))

	if saveAs != "" && !obj.Deleted() {
		store, err := s.savefile()
		if err != nil {
			return err
		}
		saveID, err := store.Save(saveAs, obj)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "saved #%d as %q (%s)\n", id, saveAs, saveID)
	}
	return nil
}

// configureLogging installs the backend named in the manifest. Both backend
// packages register themselves on import, so the choice is made explicit
// here.
func configureLogging(m *manifest.Manifest, verbosity int) {
	switch m.Log.Backend {
	case "zerolog":
		backend := zerolog.NewBackend()
		backend.Buffered = false
		commonlog.SetBackend(backend)
	default:
		backend := simple.NewBackend()
		backend.Buffered = false
		commonlog.SetBackend(backend)
	}

	if path := m.LogFilePath(); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			fatal(err)
		}
		commonlog.Configure(verbosity, &path)
	} else {
		commonlog.Configure(verbosity, nil)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", red("error:"), err)
	os.Exit(1)
}
