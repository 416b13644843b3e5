// Package watcher waits for response files to land in a session directory.
// It backs the watch command: a human (or external tool) writes the response
// file the workflow suspended on, and the watcher reports when the file
// exists and has stopped changing.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettleInterval is how long a file must stay unchanged before it is
// considered complete. Editors and atomic saves produce several writes in
// quick succession.
const DefaultSettleInterval = 500 * time.Millisecond

// Watcher waits for files in one directory tree.
type Watcher struct {
	settle time.Duration
	logger *slog.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithSettleInterval overrides the quiet period.
func WithSettleInterval(d time.Duration) Option {
	return func(w *Watcher) { w.settle = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New builds a watcher.
func New(opts ...Option) *Watcher {
	w := &Watcher{settle: DefaultSettleInterval, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WaitForFile blocks until dir/name exists and its content has been stable
// for the settle interval, or the context is cancelled. The parent directory
// must exist; the file need not. It returns the file's content hash.
func (w *Watcher) WaitForFile(ctx context.Context, dir, name string) (string, error) {
	if _, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("watch directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return "", fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	// Watching the directory rather than the file catches creation, atomic
	// rename-into-place, and rewrites.
	if err := fw.Add(dir); err != nil {
		return "", fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Join(dir, name)
	w.logger.Debug("waiting for file", "path", target)

	// The file may already be there.
	if hash, ok := w.settled(ctx, fw, target); ok {
		return hash, nil
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return "", fmt.Errorf("watcher closed")
			}
			if event.Name != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if hash, ok := w.settled(ctx, fw, target); ok {
				return hash, nil
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return "", fmt.Errorf("watcher closed")
			}
			w.logger.Error("fsnotify error", "error", err)
		}
	}
}

// settled reports whether the target exists with non-empty content that does
// not change for a full settle interval. Any write to the target during the
// quiet period restarts it.
func (w *Watcher) settled(ctx context.Context, fw *fsnotify.Watcher, target string) (string, bool) {
	hash, err := hashFile(target)
	if err != nil || hash == emptyHash {
		return "", false
	}

	timer := time.NewTimer(w.settle)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", false
		case event, ok := <-fw.Events:
			if !ok {
				return "", false
			}
			if event.Name != target {
				continue
			}
			next, err := hashFile(target)
			if err != nil {
				return "", false
			}
			if next != hash {
				hash = next
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(w.settle)
			}
		case <-timer.C:
			// Confirm the file still matches after the quiet period.
			final, err := hashFile(target)
			if err != nil || final != hash {
				return "", false
			}
			w.logger.Debug("file settled", "path", target, "sha256", hash)
			return hash, true
		}
	}
}

var emptyHash = func() string {
	sum := sha256.Sum256(nil)
	return hex.EncodeToString(sum[:])
}()

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
