package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestWaitForExistingFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "planning-response.md"), []byte("the plan"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := New(WithSettleInterval(50 * time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hash, err := w.WaitForFile(ctx, dir, "planning-response.md")
	if err != nil {
		t.Fatal(err)
	}
	if hash != contentHash("the plan") {
		t.Errorf("hash = %q", hash)
	}
}

func TestWaitForFileCreatedLater(t *testing.T) {
	dir := t.TempDir()
	w := New(WithSettleInterval(50 * time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "resp.md"), []byte("late arrival"), 0o644)
	}()

	hash, err := w.WaitForFile(ctx, dir, "resp.md")
	if err != nil {
		t.Fatal(err)
	}
	if hash != contentHash("late arrival") {
		t.Errorf("hash = %q", hash)
	}
}

func TestWaitSettlesAfterRewrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resp.md")
	w := New(WithSettleInterval(80 * time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		_ = os.WriteFile(path, []byte("draft 1"), 0o644)
		time.Sleep(30 * time.Millisecond)
		_ = os.WriteFile(path, []byte("draft 2"), 0o644)
		time.Sleep(30 * time.Millisecond)
		_ = os.WriteFile(path, []byte("final text"), 0o644)
	}()

	hash, err := w.WaitForFile(ctx, dir, "resp.md")
	if err != nil {
		t.Fatal(err)
	}
	if hash != contentHash("final text") {
		t.Errorf("hash = %q, want hash of final text", hash)
	}
}

func TestWaitIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	w := New(WithSettleInterval(50 * time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		_ = os.WriteFile(filepath.Join(dir, "unrelated.md"), []byte("noise"), 0o644)
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "resp.md"), []byte("signal"), 0o644)
	}()

	hash, err := w.WaitForFile(ctx, dir, "resp.md")
	if err != nil {
		t.Fatal(err)
	}
	if hash != contentHash("signal") {
		t.Errorf("hash = %q", hash)
	}
}

func TestWaitCancelled(t *testing.T) {
	dir := t.TempDir()
	w := New(WithSettleInterval(50 * time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, err := w.WaitForFile(ctx, dir, "never.md")
	if err != context.DeadlineExceeded {
		t.Errorf("error = %v, want DeadlineExceeded", err)
	}
}

func TestWaitMissingDirectory(t *testing.T) {
	w := New()
	_, err := w.WaitForFile(context.Background(), filepath.Join(t.TempDir(), "nope"), "x.md")
	if err == nil {
		t.Error("expected error for missing directory")
	}
}
