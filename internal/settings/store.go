// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package settings

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/utils/v4"
	"gopkg.in/yaml.v3"
)

var logger = loggo.GetLogger("attendux.settings")

const (
	// FileName is the settings file inside the agent directory.
	FileName = "settings.yaml"

	// LegacyFileName is the JSON file written by earlier agents. It is
	// read when no settings file exists yet, and never written.
	LegacyFileName = "settings.json"

	// DirName is the agent directory under the user's home.
	DirName = ".attendux_sync"
)

// DefaultDir returns the agent directory of the current user.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Annotate(err, "finding home directory")
	}
	return filepath.Join(home, DirName), nil
}

// Store holds the current settings and writes every change to disk.
// It is safe for concurrent use.
type Store struct {
	path string

	mu      sync.Mutex
	current Settings
}

// Open loads the settings kept in dir. Missing files yield the
// defaults; a file that cannot be parsed is an error.
func Open(dir string) (*Store, error) {
	s := &Store{path: filepath.Join(dir, FileName)}
	current, err := load(dir)
	if err != nil {
		return nil, errors.Trace(err)
	}
	s.current = current
	return s, nil
}

func load(dir string) (Settings, error) {
	current := Default()
	for _, name := range []string{FileName, LegacyFileName} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			return Settings{}, errors.Annotatef(err, "reading %s", path)
		}
		// JSON is valid YAML, so the legacy file decodes the same way.
		if err := yaml.Unmarshal(data, &current); err != nil {
			return Settings{}, errors.Annotatef(err, "parsing %s", path)
		}
		logger.Debugf("loaded settings from %s", path)
		break
	}
	current.sanitize()
	return current, nil
}

// Path returns the file the settings are written to.
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Copy()
}

// Update applies mutate to a copy of the current settings, validates
// and saves the result, and only then makes it current. If mutate
// fails nothing is written.
func (s *Store) Update(mutate func(*Settings) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Copy()
	if err := mutate(&next); err != nil {
		return errors.Trace(err)
	}
	if err := next.Validate(); err != nil {
		return errors.Trace(err)
	}
	if err := s.write(next); err != nil {
		return errors.Trace(err)
	}
	s.current = next
	return nil
}

// SetAutoSyncRunning records whether auto-sync should be resumed on the
// next start.
func (s *Store) SetAutoSyncRunning(running bool) error {
	return s.Update(func(st *Settings) error {
		st.AutoSyncWasRunning = running
		return nil
	})
}

func (s *Store) write(st Settings) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return errors.Trace(err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Annotatef(err, "cannot create settings dir %q", dir)
	}
	// The file holds the license key.
	return utils.AtomicWriteFile(s.path, data, 0600)
}
