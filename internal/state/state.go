// Package state persists the single record describing the current tunnel job.
//
// The record lives in a JSON file at a fixed per-user path and is the only
// channel between the short-lived launcher and the detached daemon. Readers
// must treat it as advisory: a record whose pid is gone describes nothing.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/yeet/internal/process"
)

const (
	// DirName is the per-user directory under $HOME holding yeet's files.
	DirName = ".yeet"
	// FileName is the name of the record file inside the state directory.
	FileName = "tunnel.state"
)

// Record describes one tunnel job.
type Record struct {
	URL          string `json:"url"`
	PID          int    `json:"pid"`
	Port         int    `json:"port"`
	ResourcePath string `json:"file_path"`
	CreatedAt    int64  `json:"created_at"`
}

// Created returns CreatedAt as a time.Time.
func (r Record) Created() time.Time { return time.Unix(r.CreatedAt, 0) }

// AgeHours returns the wall-clock hours elapsed since the record was created.
func (r Record) AgeHours() float64 { return r.AgeHoursAt(time.Now()) }

// AgeHoursAt is AgeHours relative to now.
func (r Record) AgeHoursAt(now time.Time) float64 {
	return now.Sub(r.Created()).Hours()
}

// IsAlive reports whether the record's pid is a live process. It says nothing
// about whether the job is still serving correctly.
func IsAlive(r Record) bool { return process.Exists(r.PID) }

// DefaultDir returns ~/.yeet, falling back to ./.yeet when $HOME is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, DirName)
}

// DefaultPath returns the default record location.
func DefaultPath() string { return filepath.Join(DefaultDir(), FileName) }

// Store reads and writes the record file.
type Store struct {
	path string
}

// New returns a Store backed by path. An empty path selects DefaultPath.
func New(path string) *Store {
	if path == "" {
		path = DefaultPath()
	}
	return &Store{path: path}
}

// Path returns the record file location.
func (s *Store) Path() string { return s.path }

// Load returns the stored record. A missing, unreadable, or malformed file
// yields ok=false: the file may be read while another process replaces it.
func (s *Store) Load() (rec Record, ok bool) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return Record{}, false
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, false
	}
	if rec.PID <= 0 {
		return Record{}, false
	}
	return rec, true
}

// Save replaces the record file with r. The write goes to a temporary file in
// the same directory which is then renamed over the old one, so readers see
// either the previous content or the new one.
func (s *Store) Save(r Record) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// Delete removes the record file. Deleting an absent record is not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
