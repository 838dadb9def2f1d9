// Package database persists the registry of opened projects as a YAML file.
package database

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/thiagokokada/branchwise/internal/git"
)

const fileVersion = 1

type document struct {
	Version  int           `yaml:"version"`
	Current  string        `yaml:"current,omitempty"`
	Projects []git.Project `yaml:"projects"`
}

// Database is safe for concurrent use. With an empty path nothing touches
// the disk.
type Database struct {
	mu       sync.Mutex
	path     string
	current  string
	projects []git.Project
}

// Open loads path. A missing file is an empty database.
func Open(path string) (*Database, error) {
	db := &Database{path: path}
	if path == "" {
		return db, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("database file not found; starting empty", slog.String("path", path))
		return db, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read database %s: %w", path, err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse database %s: %w", path, err)
	}
	if doc.Version > fileVersion {
		return nil, fmt.Errorf("database %s has version %d; this build reads up to %d", path, doc.Version, fileVersion)
	}
	db.current = doc.Current
	for _, p := range doc.Projects {
		db.projects = upsert(db.projects, p)
	}
	return db, nil
}

func (d *Database) Path() string {
	return d.path
}

func (d *Database) Projects() []git.Project {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]git.Project, len(d.projects))
	for i, p := range d.projects {
		out[i] = p.Clone()
	}
	return out
}

// Project looks a stored project up by directory.
func (d *Database) Project(dir string) (git.Project, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.index(dir)
	if idx < 0 {
		return git.Project{}, false
	}
	return d.projects[idx].Clone(), true
}

// Put stores p, replacing the entry with the same directory. Mutations only
// take effect once the file is written.
func (d *Database) Put(p git.Project) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	projects := upsert(slices.Clone(d.projects), p)
	if err := d.saveLocked(d.current, projects); err != nil {
		return fmt.Errorf("%w: %w", git.ErrDatabaseSave, err)
	}
	d.projects = projects
	return nil
}

// Remove deletes the project stored under dir. Unknown directories are not
// an error.
func (d *Database) Remove(dir string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.index(dir)
	if idx < 0 {
		return nil
	}
	projects := slices.Delete(slices.Clone(d.projects), idx, idx+1)
	current := d.current
	if current == dir {
		current = ""
	}
	if err := d.saveLocked(current, projects); err != nil {
		return fmt.Errorf("%w: %w", git.ErrDatabaseDelete, err)
	}
	d.projects, d.current = projects, current
	return nil
}

// Current returns the directory of the last selected project.
func (d *Database) Current() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *Database) SetCurrent(dir string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == dir {
		return nil
	}
	if err := d.saveLocked(dir, d.projects); err != nil {
		return fmt.Errorf("%w: %w", git.ErrDatabaseSave, err)
	}
	d.current = dir
	return nil
}

func (d *Database) index(dir string) int {
	return indexOf(d.projects, dir)
}

func indexOf(projects []git.Project, dir string) int {
	return slices.IndexFunc(projects, func(p git.Project) bool { return p.Directory == dir })
}

func upsert(projects []git.Project, p git.Project) []git.Project {
	p = p.Clone()
	if idx := indexOf(projects, p.Directory); idx >= 0 {
		projects[idx] = p
		return projects
	}
	return append(projects, p)
}

// saveLocked writes current and projects through a temporary file and a
// rename so a crash never leaves a truncated database.
func (d *Database) saveLocked(current string, projects []git.Project) error {
	if d.path == "" {
		return nil
	}
	data, err := yaml.Marshal(document{Version: fileVersion, Current: current, Projects: projects})
	if err != nil {
		return fmt.Errorf("encode database: %w", err)
	}
	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create database dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".projects-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp database: %w", err)
	}
	tmpName := tmp.Name()
	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpName, d.path)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write database %s: %w", d.path, err)
	}
	return nil
}
