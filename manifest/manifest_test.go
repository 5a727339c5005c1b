package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "station"
version = "0.1.0"

[tree]
files = ["code/base.yaml", "code/mobs.yaml"]

[runtime]
max_stack_depth = 64
tick_lag_ms = 100
init_proc = "Initialize"

[log]
verbosity = 2
backend = "zerolog"
file = "dream.log"

[savefile]
path = "saves/world.db"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "station" {
		t.Errorf("project name = %q, want station", m.Project.Name)
	}
	if m.Project.Version != "0.1.0" {
		t.Errorf("project version = %q, want 0.1.0", m.Project.Version)
	}
	if len(m.Tree.Files) != 2 || m.Tree.Files[1] != "code/mobs.yaml" {
		t.Errorf("tree files = %v", m.Tree.Files)
	}
	if m.Runtime.MaxStackDepth != 64 {
		t.Errorf("max_stack_depth = %d, want 64", m.Runtime.MaxStackDepth)
	}
	if m.TickLag() != 100*time.Millisecond {
		t.Errorf("tick lag = %v, want 100ms", m.TickLag())
	}
	if m.Runtime.InitProc != "Initialize" {
		t.Errorf("init_proc = %q, want Initialize", m.Runtime.InitProc)
	}
	if m.Log.Verbosity != 2 || m.Log.Backend != "zerolog" {
		t.Errorf("log = %+v", m.Log)
	}
	if m.LogFilePath() != filepath.Join(m.Dir, "dream.log") {
		t.Errorf("log file = %q", m.LogFilePath())
	}
	if m.SavefilePath() != filepath.Join(m.Dir, "saves", "world.db") {
		t.Errorf("savefile = %q", m.SavefilePath())
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "minimal"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(m.Tree.Files) != 1 || m.Tree.Files[0] != DefaultTreeFile {
		t.Errorf("default tree files = %v, want [%s]", m.Tree.Files, DefaultTreeFile)
	}
	if m.Runtime.MaxStackDepth != DefaultMaxStackDepth {
		t.Errorf("default max_stack_depth = %d", m.Runtime.MaxStackDepth)
	}
	if m.TickLag() != 50*time.Millisecond {
		t.Errorf("default tick lag = %v", m.TickLag())
	}
	if m.Runtime.InitProc != "New" {
		t.Errorf("default init_proc = %q", m.Runtime.InitProc)
	}
	if m.Log.Backend != "simple" {
		t.Errorf("default backend = %q", m.Log.Backend)
	}
	if m.LogFilePath() != "" {
		t.Errorf("default log file = %q, want stderr", m.LogFilePath())
	}
	if m.SavefilePath() != filepath.Join(m.Dir, ".dream", "save.db") {
		t.Errorf("default savefile = %q", m.SavefilePath())
	}
}

func TestLoadManifestUnknownKey(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[runtime]
max_depth = 3
`)
	_, err := Load(dir)
	if err == nil || !strings.Contains(err.Error(), "runtime.max_depth") {
		t.Errorf("err = %v, want unknown key runtime.max_depth", err)
	}
}

func TestLoadManifestSyntaxError(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[project\n")
	if _, err := Load(dir); err == nil {
		t.Error("expected a parse error")
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, `[project]
name = "found-project"
`)

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found-project" {
		t.Errorf("project name = %q, want found-project", m.Project.Name)
	}
	if m.TreePaths()[0] != filepath.Join(m.Dir, "tree.yaml") {
		t.Errorf("tree path = %q", m.TreePaths()[0])
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no dream.toml exists")
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tree.yaml"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	m := Default(dir)
	if err := m.Validate(); err != nil {
		t.Fatalf("default manifest invalid: %v", err)
	}

	m.Runtime.MaxStackDepth = -1
	m.Runtime.TickLagMs = 0
	m.Log.Backend = "syslog"
	m.Tree.Files = []string{"tree.yaml", "", "missing.yaml"}

	err := m.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	for _, want := range []string{
		"max_stack_depth must be positive",
		"tick_lag_ms must be positive",
		`log.backend must be simple or zerolog, got "syslog"`,
		"tree.files[1] is empty",
		"tree.files[2]: missing.yaml does not exist",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("validation error missing %q:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "tree.files[0]") {
		t.Errorf("existing tree file reported:\n%s", msg)
	}
}
