// Package manifest handles dream.toml project configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
)

// FileName is the name of the project configuration file.
const FileName = "dream.toml"

// Defaults applied by Load.
const (
	DefaultTreeFile      = "tree.yaml"
	DefaultMaxStackDepth = 256
	DefaultTickLagMs     = 50
	DefaultInitProc      = "New"
	DefaultLogBackend    = "simple"
	DefaultSavefile      = ".dream/save.db"
)

// Manifest represents a dream.toml project configuration.
type Manifest struct {
	Project  Project        `toml:"project"`
	Tree     TreeConfig     `toml:"tree"`
	Runtime  RuntimeConfig  `toml:"runtime"`
	Log      LogConfig      `toml:"log"`
	Savefile SavefileConfig `toml:"savefile"`

	// Dir is the directory containing the dream.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// TreeConfig lists the YAML definition trees to load, in order.
type TreeConfig struct {
	Files []string `toml:"files"`
}

// RuntimeConfig tunes the tree and the scheduler.
type RuntimeConfig struct {
	MaxStackDepth int    `toml:"max_stack_depth"`
	TickLagMs     int    `toml:"tick_lag_ms"`
	InitProc      string `toml:"init_proc"`
}

// LogConfig selects the logging backend.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	Backend   string `toml:"backend"`
	File      string `toml:"file"`
}

// SavefileConfig locates the snapshot database.
type SavefileConfig struct {
	Path string `toml:"path"`
}

// Load parses a dream.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes a dream.toml document and applies defaults. Dir is left
// empty.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}
	m.applyDefaults()
	return &m, nil
}

// Default returns the configuration used when no dream.toml exists.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if len(m.Tree.Files) == 0 {
		m.Tree.Files = []string{DefaultTreeFile}
	}
	if m.Runtime.MaxStackDepth == 0 {
		m.Runtime.MaxStackDepth = DefaultMaxStackDepth
	}
	if m.Runtime.TickLagMs == 0 {
		m.Runtime.TickLagMs = DefaultTickLagMs
	}
	if m.Runtime.InitProc == "" {
		m.Runtime.InitProc = DefaultInitProc
	}
	if m.Log.Backend == "" {
		m.Log.Backend = DefaultLogBackend
	}
	if m.Savefile.Path == "" {
		m.Savefile.Path = DefaultSavefile
	}
}

// FindAndLoad walks up from startDir to find a dream.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate reports every configuration problem at once.
func (m *Manifest) Validate() error {
	var errs *multierror.Error
	if m.Runtime.MaxStackDepth < 1 {
		errs = multierror.Append(errs, fmt.Errorf("runtime.max_stack_depth must be positive, got %d", m.Runtime.MaxStackDepth))
	}
	if m.Runtime.TickLagMs < 1 {
		errs = multierror.Append(errs, fmt.Errorf("runtime.tick_lag_ms must be positive, got %d", m.Runtime.TickLagMs))
	}
	switch m.Log.Backend {
	case "simple", "zerolog":
	default:
		errs = multierror.Append(errs, fmt.Errorf("log.backend must be simple or zerolog, got %q", m.Log.Backend))
	}
	for i, f := range m.Tree.Files {
		if f == "" {
			errs = multierror.Append(errs, fmt.Errorf("tree.files[%d] is empty", i))
			continue
		}
		if m.Dir == "" {
			continue
		}
		if _, err := os.Stat(m.resolve(f)); errors.Is(err, os.ErrNotExist) {
			errs = multierror.Append(errs, fmt.Errorf("tree.files[%d]: %s does not exist", i, f))
		}
	}
	return errs.ErrorOrNil()
}

// TreePaths returns absolute paths for the configured tree files.
func (m *Manifest) TreePaths() []string {
	var paths []string
	for _, f := range m.Tree.Files {
		paths = append(paths, m.resolve(f))
	}
	return paths
}

// SavefilePath returns the absolute path of the snapshot database.
func (m *Manifest) SavefilePath() string {
	return m.resolve(m.Savefile.Path)
}

// LogFilePath returns the absolute log file path, or "" for stderr.
func (m *Manifest) LogFilePath() string {
	if m.Log.File == "" {
		return ""
	}
	return m.resolve(m.Log.File)
}

// TickLag returns the configured tick length.
func (m *Manifest) TickLag() time.Duration {
	return time.Duration(m.Runtime.TickLagMs) * time.Millisecond
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
