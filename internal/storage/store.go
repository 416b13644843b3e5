package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/aiwf/aiwf/internal/errors"
	"github.com/aiwf/aiwf/internal/session"
	"github.com/aiwf/aiwf/internal/util"
)

// Store persists session records as session.json inside each session
// directory. Saves are atomic (temp file + rename); the store provides no
// inter-process locking, callers that need exclusivity supply it externally.
type Store struct {
	files *Files
}

// NewStore creates a store over the same sessions root as the gateway.
func NewStore(files *Files) *Store {
	return &Store{files: files}
}

// path returns the session.json location for a session.
func (s *Store) path(id string) string {
	return filepath.Join(s.files.SessionDir(id), SessionFileName)
}

// Save serializes the session and atomically replaces session.json.
func (s *Store) Save(sess *session.Session) error {
	sess.Touch()

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	data = append(data, '\n')

	if err := util.AtomicWriteFile(s.path(sess.ID), data, 0644); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

// Load reads and decodes a session record.
func (s *Store) Load(id string) (*session.Session, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrSessionNotFound(id)
		}
		return nil, errors.ErrSessionCorrupt(id, err)
	}

	var sess session.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, errors.ErrSessionCorrupt(id, err)
	}
	if sess.ID == "" {
		return nil, errors.ErrSessionCorrupt(id, fmt.Errorf("record has no sessionId"))
	}
	return &sess, nil
}

// Exists reports whether a session record exists.
func (s *Store) Exists(id string) bool {
	_, err := os.Stat(s.path(id))
	return err == nil
}

// List returns the sorted IDs of every directory under the root that carries
// a session.json.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.files.Root())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if s.Exists(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes a session directory entirely.
func (s *Store) Delete(id string) error {
	if !s.Exists(id) {
		return errors.ErrSessionNotFound(id)
	}
	return s.files.DeleteSessionDir(id)
}
