// Package storage owns the on-disk session layout: the file gateway that
// reads and writes the files of a session directory, and the store that
// persists the session record itself.
//
// Layout per session:
//
//	{root}/{sessionId}/
//	    session.json
//	    standards-bundle.md
//	    plan.md
//	    iteration-{n}/
//	        planning-prompt.md    planning-response.md
//	        generation-prompt.md  generation-response.md
//	        review-prompt.md      review-response.md
//	        revision-prompt.md    revision-response.md
//	        code/<relPath>
package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aiwf/aiwf/internal/paths"
	"github.com/aiwf/aiwf/internal/session"
	"github.com/aiwf/aiwf/internal/util"
)

const (
	// SessionFileName is the session record inside each session directory.
	SessionFileName = "session.json"
	// StandardsFileName is the materialized standards bundle.
	StandardsFileName = "standards-bundle.md"
	// PlanFileName is the approved plan copied to the session root.
	PlanFileName = "plan.md"
	// CodeDirName holds extracted code artifacts inside an iteration.
	CodeDirName = "code"
)

// Files is the gateway to one sessions root. All paths it hands out are
// absolute; all relative inputs are validated before they touch the disk.
type Files struct {
	root string
}

// NewFiles creates a gateway over the given sessions root.
func NewFiles(root string) *Files {
	return &Files{root: root}
}

// Root returns the sessions root directory.
func (f *Files) Root() string {
	return f.root
}

// SessionDir returns the directory of a session.
func (f *Files) SessionDir(id string) string {
	return filepath.Join(f.root, id)
}

// CreateSessionDir creates the session directory, parents included.
func (f *Files) CreateSessionDir(id string) error {
	if err := os.MkdirAll(f.SessionDir(id), 0755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	return nil
}

// DeleteSessionDir removes the session directory and everything under it.
func (f *Files) DeleteSessionDir(id string) error {
	if err := os.RemoveAll(f.SessionDir(id)); err != nil {
		return fmt.Errorf("delete session dir: %w", err)
	}
	return nil
}

// IterationDir returns the directory of one iteration.
func (f *Files) IterationDir(id string, iteration int) string {
	return filepath.Join(f.SessionDir(id), fmt.Sprintf("iteration-%d", iteration))
}

// CreateIterationDir creates the iteration directory.
func (f *Files) CreateIterationDir(id string, iteration int) error {
	if err := os.MkdirAll(f.IterationDir(id, iteration), 0755); err != nil {
		return fmt.Errorf("create iteration dir: %w", err)
	}
	return nil
}

// CodeDir returns the code artifact directory of one iteration.
func (f *Files) CodeDir(id string, iteration int) string {
	return filepath.Join(f.IterationDir(id, iteration), CodeDirName)
}

// PromptPath returns the prompt file for a (iteration, phase) pair,
// e.g. iteration-1/planning-prompt.md.
func (f *Files) PromptPath(id string, iteration int, phase session.Phase) string {
	return filepath.Join(f.IterationDir(id, iteration), phase.Slug()+"-prompt.md")
}

// ResponsePath returns the response file for a (iteration, phase) pair.
func (f *Files) ResponsePath(id string, iteration int, phase session.Phase) string {
	return filepath.Join(f.IterationDir(id, iteration), phase.Slug()+"-response.md")
}

// PlanPath returns the session-root plan.md.
func (f *Files) PlanPath(id string) string {
	return filepath.Join(f.SessionDir(id), PlanFileName)
}

// StandardsPath returns the session-root standards bundle file.
func (f *Files) StandardsPath(id string) string {
	return filepath.Join(f.SessionDir(id), StandardsFileName)
}

// WritePrompt writes the prompt file for a phase, creating the iteration
// directory on demand.
func (f *Files) WritePrompt(id string, iteration int, phase session.Phase, content string) error {
	return util.WriteFileText(f.PromptPath(id, iteration, phase), content)
}

// ReadPrompt reads the prompt file for a phase.
func (f *Files) ReadPrompt(id string, iteration int, phase session.Phase) (string, error) {
	data, err := os.ReadFile(f.PromptPath(id, iteration, phase))
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	return string(data), nil
}

// WriteResponse writes the response file for a phase.
func (f *Files) WriteResponse(id string, iteration int, phase session.Phase, content string) error {
	return util.WriteFileText(f.ResponsePath(id, iteration, phase), content)
}

// ReadResponse reads the response file for a phase.
func (f *Files) ReadResponse(id string, iteration int, phase session.Phase) (string, error) {
	data, err := os.ReadFile(f.ResponsePath(id, iteration, phase))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(data), nil
}

// HasResponse reports whether the response file for a phase exists.
func (f *Files) HasResponse(id string, iteration int, phase session.Phase) bool {
	_, err := os.Stat(f.ResponsePath(id, iteration, phase))
	return err == nil
}

// WriteStandardsBundle writes the materialized standards bundle.
func (f *Files) WriteStandardsBundle(id string, content string) error {
	return util.WriteFileText(f.StandardsPath(id), content)
}

// WriteCodeFile validates relPath and writes content under the iteration's
// code directory. The resolved target must stay inside that directory; a
// path that escapes through symlinked intermediates is rejected.
// It returns the artifact-relative path, e.g. "iteration-1/code/Tier.java".
func (f *Files) WriteCodeFile(id string, iteration int, relPath, content string) (string, error) {
	clean, err := paths.ValidateArtifactPath(relPath)
	if err != nil {
		return "", err
	}

	codeDir := f.CodeDir(id, iteration)
	if err := os.MkdirAll(codeDir, 0755); err != nil {
		return "", fmt.Errorf("create code dir: %w", err)
	}

	target, err := paths.ResolveWithin(codeDir, clean)
	if err != nil {
		return "", err
	}
	if err := util.WriteFileText(target, content); err != nil {
		return "", err
	}

	return fmt.Sprintf("iteration-%d/%s/%s", iteration, CodeDirName, clean), nil
}

// ReadCodeFiles returns every code file of an iteration keyed by its
// slash-separated path relative to the code directory, in sorted order when
// ranged with sorted keys. A missing code directory yields an empty map.
func (f *Files) ReadCodeFiles(id string, iteration int) (map[string]string, error) {
	codeDir := f.CodeDir(id, iteration)
	files := make(map[string]string)

	err := filepath.WalkDir(codeDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(codeDir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return files, nil
		}
		return nil, fmt.Errorf("read code files: %w", err)
	}
	return files, nil
}

// CodeFileNames returns the sorted artifact-relative names of an iteration's
// code files.
func (f *Files) CodeFileNames(id string, iteration int) ([]string, error) {
	files, err := f.ReadCodeFiles(id, iteration)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for rel := range files {
		names = append(names, rel)
	}
	sort.Strings(names)
	return names, nil
}

// ReadFile reads an arbitrary file below the session directory. The relative
// path is containment-checked, not artifact-validated: it is used for gate
// input collection over engine-written names like plan.md.
func (f *Files) ReadFile(id string, rel string) (string, error) {
	target, err := paths.EnsureWithin(f.SessionDir(id), filepath.FromSlash(rel))
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), nil
}

// WriteFile writes an arbitrary text file below the session directory after
// a containment check. Used by the gate to rewrite prompt files.
func (f *Files) WriteFile(id string, rel string, content string) error {
	target, err := paths.EnsureWithin(f.SessionDir(id), filepath.FromSlash(rel))
	if err != nil {
		return err
	}
	return util.WriteFileText(target, content)
}

// RelPath converts an absolute path inside the session directory to its
// slash-separated session-relative form.
func (f *Files) RelPath(id string, abs string) (string, error) {
	rel, err := filepath.Rel(f.SessionDir(id), abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %s is outside session %s", abs, id)
	}
	return filepath.ToSlash(rel), nil
}
