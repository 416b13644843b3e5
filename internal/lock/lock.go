// Package lock provides advisory session locking so two engine processes do
// not drive the same session concurrently. The lock is a lock.yaml file in
// the session directory; a lock whose heartbeat is older than its TTL is
// stale and may be taken over.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the lock file inside a session directory.
const FileName = "lock.yaml"

// DefaultTTL is how long a lock stays valid without a heartbeat.
const DefaultTTL = 60 * time.Second

// Lock is the persisted lock state.
type Lock struct {
	Owner     string    `yaml:"owner"`
	Acquired  time.Time `yaml:"acquired"`
	Heartbeat time.Time `yaml:"heartbeat"`
	TTL       string    `yaml:"ttl"`
	PID       int       `yaml:"pid"`
}

// TTLDuration parses the TTL, falling back to DefaultTTL.
func (l *Lock) TTLDuration() time.Duration {
	d, err := time.ParseDuration(l.TTL)
	if err != nil {
		return DefaultTTL
	}
	return d
}

// IsStale reports whether the heartbeat is older than the TTL.
func (l *Lock) IsStale() bool {
	return time.Since(l.Heartbeat) > l.TTLDuration()
}

// Info describes a lock holder.
type Info struct {
	Owner     string
	Acquired  time.Time
	Heartbeat time.Time
	PID       int
}

// SessionLocker guards session directories against concurrent drivers.
type SessionLocker interface {
	Acquire(sessionID string) error
	Release(sessionID string) error
	Heartbeat(sessionID string) error
	IsLocked(sessionID string) (bool, *Info, error)
}

// NopLocker never blocks. Used for single-process operation.
type NopLocker struct{}

func (NopLocker) Acquire(string) error                { return nil }
func (NopLocker) Release(string) error                { return nil }
func (NopLocker) Heartbeat(string) error              { return nil }
func (NopLocker) IsLocked(string) (bool, *Info, error) { return false, nil, nil }

// FileLocker implements file-based session locking.
type FileLocker struct {
	sessionsRoot string
	owner        string
	ttl          time.Duration
	mu           sync.Mutex
}

// NewFileLocker builds a locker over the sessions root. Owner is typically
// user@host.
func NewFileLocker(sessionsRoot, owner string) *FileLocker {
	return &FileLocker{sessionsRoot: sessionsRoot, owner: owner, ttl: DefaultTTL}
}

func (l *FileLocker) lockPath(sessionID string) string {
	return filepath.Join(l.sessionsRoot, sessionID, FileName)
}

func (l *FileLocker) readLock(sessionID string) (*Lock, error) {
	data, err := os.ReadFile(l.lockPath(sessionID))
	if err != nil {
		return nil, err
	}
	var lk Lock
	if err := yaml.Unmarshal(data, &lk); err != nil {
		return nil, fmt.Errorf("parse lock file: %w", err)
	}
	return &lk, nil
}

// writeLock writes the lock file atomically via rename.
func (l *FileLocker) writeLock(sessionID string, lk *Lock) error {
	path := l.lockPath(sessionID)
	data, err := yaml.Marshal(lk)
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename lock file: %w", err)
	}
	return nil
}

// Acquire takes the session lock, claiming a stale lock when present.
func (l *FileLocker) Acquire(sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.readLock(sessionID)
	if err == nil {
		if !existing.IsStale() && existing.Owner != l.owner {
			return &HeldError{SessionID: sessionID, Owner: existing.Owner, PID: existing.PID}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read lock: %w", err)
	}

	now := time.Now().UTC()
	return l.writeLock(sessionID, &Lock{
		Owner:     l.owner,
		Acquired:  now,
		Heartbeat: now,
		TTL:       l.ttl.String(),
		PID:       os.Getpid(),
	})
}

// Release removes the lock when this locker owns it.
func (l *FileLocker) Release(sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.readLock(sessionID)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lock: %w", err)
	}
	if existing.Owner != l.owner {
		return &HeldError{SessionID: sessionID, Owner: existing.Owner, PID: existing.PID}
	}
	if err := os.Remove(l.lockPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// Heartbeat refreshes the heartbeat timestamp on an owned lock.
func (l *FileLocker) Heartbeat(sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.readLock(sessionID)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no lock held for session %s", sessionID)
		}
		return fmt.Errorf("read lock: %w", err)
	}
	if existing.Owner != l.owner {
		return &HeldError{SessionID: sessionID, Owner: existing.Owner, PID: existing.PID}
	}
	existing.Heartbeat = time.Now().UTC()
	return l.writeLock(sessionID, existing)
}

// IsLocked reports whether the session holds a live lock.
func (l *FileLocker) IsLocked(sessionID string) (bool, *Info, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lk, err := l.readLock(sessionID)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("read lock: %w", err)
	}
	if lk.IsStale() {
		return false, nil, nil
	}
	return true, &Info{Owner: lk.Owner, Acquired: lk.Acquired, Heartbeat: lk.Heartbeat, PID: lk.PID}, nil
}

// HeldError reports a lock held by another owner.
type HeldError struct {
	SessionID string
	Owner     string
	PID       int
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("session %s is locked by %s (pid %d)", e.SessionID, e.Owner, e.PID)
}
