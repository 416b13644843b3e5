// Package paths validates artifact paths and enforces directory containment
// for aiwf session trees.
//
// ValidateArtifactPath and EnsureWithin are purely lexical: they never touch
// the filesystem. ResolveWithin additionally canonicalizes through symlinks
// and is what the file gateway uses immediately before writing.
package paths

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aiwf/aiwf/internal/errors"
)

// componentRE matches a single allowed path component. Dots are permitted so
// file extensions work; "." and ".." are rejected separately.
var componentRE = regexp.MustCompile(`^[A-Za-z0-9_\-.]+$`)

// driveRE matches Windows drive prefixes like "C:".
var driveRE = regexp.MustCompile(`^[A-Za-z]:`)

// ValidateArtifactPath normalizes raw into a slash-separated relative path.
// It rejects empty input, absolute paths, drive-prefixed paths, "." and ".."
// segments, empty components, and components containing characters outside
// [A-Za-z0-9_-.].
func ValidateArtifactPath(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.ErrPathInvalid(raw, "path is empty")
	}

	// Treat backslashes as separators so Windows-style input is judged the
	// same way as POSIX input.
	normalized := strings.ReplaceAll(trimmed, `\`, "/")

	if strings.HasPrefix(normalized, "/") {
		return "", errors.ErrPathInvalid(raw, "path is absolute")
	}
	if driveRE.MatchString(normalized) {
		return "", errors.ErrPathInvalid(raw, "path has a drive prefix")
	}

	parts := strings.Split(normalized, "/")
	for _, part := range parts {
		switch {
		case part == "":
			return "", errors.ErrPathInvalid(raw, "path has an empty component")
		case part == ".":
			return "", errors.ErrPathInvalid(raw, `path contains a "." segment`)
		case part == "..":
			return "", errors.ErrPathInvalid(raw, `path contains a ".." segment`)
		case !componentRE.MatchString(part):
			return "", errors.ErrPathInvalid(raw, fmt.Sprintf("component %q contains disallowed characters", part))
		}
	}

	return path.Join(parts...), nil
}

// EnsureWithin reports the cleaned absolute path of candidate joined under
// root when it stays strictly inside root, or a PathEscape error otherwise.
// The check is lexical; symlinks are not resolved.
func EnsureWithin(root, candidate string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", errors.ErrPathEscape(candidate, root).WithCause(err)
	}

	joined := candidate
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(absRoot, joined)
	}
	absPath, err := filepath.Abs(joined)
	if err != nil {
		return "", errors.ErrPathEscape(candidate, root).WithCause(err)
	}

	if !isStrictlyWithin(absRoot, absPath) {
		return "", errors.ErrPathEscape(candidate, root)
	}
	return absPath, nil
}

// ResolveWithin is EnsureWithin plus symlink canonicalization: the nearest
// existing ancestor of each side is resolved through filepath.EvalSymlinks
// before containment is re-checked. The gateway calls this right before
// writing a code file so a symlinked intermediate directory cannot smuggle
// writes outside the session tree.
func ResolveWithin(root, candidate string) (string, error) {
	absPath, err := EnsureWithin(root, candidate)
	if err != nil {
		return "", err
	}

	resolvedRoot, err := resolveExisting(root)
	if err != nil {
		return "", errors.ErrPathEscape(candidate, root).WithCause(err)
	}
	resolvedPath, err := resolveExisting(absPath)
	if err != nil {
		return "", errors.ErrPathEscape(candidate, root).WithCause(err)
	}

	if !isStrictlyWithin(resolvedRoot, resolvedPath) {
		return "", errors.ErrPathEscape(candidate, root)
	}
	return absPath, nil
}

// isStrictlyWithin reports whether p is below root (equality does not count).
func isStrictlyWithin(root, p string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(p))
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolveExisting canonicalizes the longest existing ancestor of p through
// EvalSymlinks and rejoins the non-existing remainder.
func resolveExisting(p string) (string, error) {
	remainder := ""
	current := filepath.Clean(p)
	for {
		if _, err := os.Lstat(current); err == nil {
			resolved, err := filepath.EvalSymlinks(current)
			if err != nil {
				return "", err
			}
			return filepath.Join(resolved, remainder), nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			// Walked to the filesystem root without finding anything.
			return filepath.Join(current, remainder), nil
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}
