// Package manifest handles pebble.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a pebble.toml project configuration.
type Manifest struct {
	Project  Project        `toml:"project"`
	VM       VMConfig       `toml:"vm"`
	Trace    TraceConfig    `toml:"trace"`
	Snapshot SnapshotConfig `toml:"snapshot"`

	// Dir is the directory containing the pebble.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// VMConfig configures VM construction parameters.
type VMConfig struct {
	StackCapacity    int `toml:"stack-capacity"`
	InitialThreshold int `toml:"initial-threshold"`
	MaxObjects       int `toml:"max-objects"`
}

// TraceConfig configures the GC trace recorder.
type TraceConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// SnapshotConfig configures heap snapshot output.
type SnapshotConfig struct {
	Output string `toml:"output"`
}

// Load parses a pebble.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "pebble.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Trace.Enabled && m.Trace.Path == "" {
		m.Trace.Path = "pebble-trace.db"
	}
	if m.Snapshot.Output == "" {
		m.Snapshot.Output = "pebble.heap"
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a pebble.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "pebble.toml")
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

// TracePath returns the absolute path of the trace database.
func (m *Manifest) TracePath() string {
	if filepath.IsAbs(m.Trace.Path) {
		return m.Trace.Path
	}
	return filepath.Join(m.Dir, m.Trace.Path)
}

// SnapshotPath returns the absolute path of the snapshot output file.
func (m *Manifest) SnapshotPath() string {
	if filepath.IsAbs(m.Snapshot.Output) {
		return m.Snapshot.Output
	}
	return filepath.Join(m.Dir, m.Snapshot.Output)
}
