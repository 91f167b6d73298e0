// Package session persists the operator's session between runs: credential,
// operator identity, and active-assignment identifiers.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aeroaid/dronewatch/internal/errs"
	"github.com/aeroaid/dronewatch/internal/model"
)

const fileName = "session.json"

// Store reads and writes the session file. The file lives in the user config
// dir and holds one JSON-encoded model.Session with 0600 permissions.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir. An empty dir selects
// $XDG_CONFIG_HOME/dronewatch, falling back to ~/.config/dronewatch.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = defaultDir()
	}
	return &Store{dir: dir}
}

func defaultDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "dronewatch")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "dronewatch")
}

func (s *Store) path() string { return filepath.Join(s.dir, fileName) }

// Load reads the persisted session. A missing file maps to errs.ErrNoSession.
func (s *Store) Load() (model.Session, error) {
	b, err := os.ReadFile(s.path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.Session{}, errs.ErrNoSession
		}
		return model.Session{}, fmt.Errorf("reading session file: %w", err)
	}
	var sess model.Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return model.Session{}, fmt.Errorf("decoding session file: %w", err)
	}
	return sess, nil
}

// Save writes the session atomically (temp file + rename).
func (s *Store) Save(sess model.Session) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	b, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		return fmt.Errorf("replacing session file: %w", err)
	}
	return nil
}

// Clear removes the whole session (logout). Clearing an absent session is not
// an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}

// ClearAssignment drops the emergency/assignment pair while keeping the
// credential, so a later resolve cannot observe a stale assignment. The pair
// is always cleared together, never one id alone.
func (s *Store) ClearAssignment() error {
	sess, err := s.Load()
	if err != nil {
		if errors.Is(err, errs.ErrNoSession) {
			return nil
		}
		return err
	}
	if sess.EmergencyID == "" && sess.AssignmentID == "" {
		return nil
	}
	sess.EmergencyID = ""
	sess.AssignmentID = ""
	return s.Save(sess)
}
