package paths

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/aiwf/aiwf/internal/errors"
)

func TestValidateArtifactPath(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "simple file", raw: "Tier.java", want: "Tier.java"},
		{name: "nested", raw: "domain/model/Tier.java", want: "domain/model/Tier.java"},
		{name: "underscores and dashes", raw: "my-pkg/some_file.v2.sql", want: "my-pkg/some_file.v2.sql"},
		{name: "backslash separators", raw: `domain\Tier.java`, want: "domain/Tier.java"},
		{name: "empty", raw: "", wantErr: true},
		{name: "whitespace only", raw: "   ", wantErr: true},
		{name: "absolute", raw: "/etc/passwd", wantErr: true},
		{name: "absolute backslash", raw: `\windows\system32`, wantErr: true},
		{name: "drive prefix", raw: `C:\temp\x.java`, wantErr: true},
		{name: "dot segment", raw: "./Tier.java", wantErr: true},
		{name: "dotdot segment", raw: "../secrets.txt", wantErr: true},
		{name: "embedded dotdot", raw: "code/../../escape.txt", wantErr: true},
		{name: "double slash", raw: "a//b.txt", wantErr: true},
		{name: "trailing slash", raw: "a/b/", wantErr: true},
		{name: "space in component", raw: "my file.txt", wantErr: true},
		{name: "shell metachars", raw: "a;rm -rf.txt", wantErr: true},
		{name: "unicode component", raw: "héllo.java", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateArtifactPath(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ValidateArtifactPath(%q) = %q, want error", tt.raw, got)
				}
				if !errors.HasCode(err, errors.CodePathInvalid) {
					t.Errorf("error code = %v, want PATH_INVALID", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateArtifactPath(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("ValidateArtifactPath(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestEnsureWithin(t *testing.T) {
	root := t.TempDir()

	got, err := EnsureWithin(root, "iteration-1/code/Tier.java")
	if err != nil {
		t.Fatalf("EnsureWithin failed: %v", err)
	}
	want := filepath.Join(root, "iteration-1", "code", "Tier.java")
	if got != want {
		t.Errorf("EnsureWithin = %q, want %q", got, want)
	}
}

func TestEnsureWithinRejectsEscapes(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name      string
		candidate string
	}{
		{name: "dotdot climb", candidate: "../outside.txt"},
		{name: "deep climb", candidate: "a/../../../../outside.txt"},
		{name: "root itself", candidate: "."},
		{name: "absolute elsewhere", candidate: filepath.Join(os.TempDir(), "elsewhere.txt")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EnsureWithin(root, tt.candidate); err == nil {
				t.Errorf("EnsureWithin(%q) succeeded, want PATH_ESCAPE", tt.candidate)
			} else if !errors.HasCode(err, errors.CodePathEscape) {
				t.Errorf("error code = %v, want PATH_ESCAPE", err)
			}
		})
	}
}

func TestEnsureWithinAllowsSiblingPrefixNames(t *testing.T) {
	// "/root/code-extra" must not count as inside "/root/code".
	base := t.TempDir()
	root := filepath.Join(base, "code")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}

	if _, err := EnsureWithin(root, filepath.Join(base, "code-extra", "x.txt")); err == nil {
		t.Error("prefix-named sibling accepted, want PATH_ESCAPE")
	}
}

func TestResolveWithinCatchesSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test not supported on windows")
	}

	base := t.TempDir()
	root := filepath.Join(base, "session", "iteration-1", "code")
	outside := filepath.Join(base, "outside")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(outside, 0755); err != nil {
		t.Fatal(err)
	}
	// code/sneaky -> ../../outside
	if err := os.Symlink(outside, filepath.Join(root, "sneaky")); err != nil {
		t.Fatal(err)
	}

	if _, err := ResolveWithin(root, "sneaky/escape.txt"); err == nil {
		t.Error("symlinked escape accepted, want PATH_ESCAPE")
	} else if !errors.HasCode(err, errors.CodePathEscape) {
		t.Errorf("error code = %v, want PATH_ESCAPE", err)
	}

	// A regular nested path still resolves.
	if _, err := ResolveWithin(root, "pkg/File.java"); err != nil {
		t.Errorf("ResolveWithin(regular path) failed: %v", err)
	}
}
