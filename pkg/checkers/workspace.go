package checkers

import (
	"fmt"
	"path/filepath"
	"strings"
)

// RootWorkspace confines paths to a set of allowed roots. Relative paths are
// resolved against the first root.
type RootWorkspace struct {
	roots []string
}

// NewRootWorkspace creates a workspace checker. At least one root is
// required; construction fails otherwise so the registry records the
// collaborator as unavailable instead of silently allowing everything.
func NewRootWorkspace(roots []string) (*RootWorkspace, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("workspace: no roots configured")
	}
	cleaned := make([]string, 0, len(roots))
	for _, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("workspace: resolve root %q: %w", r, err)
		}
		cleaned = append(cleaned, abs)
	}
	return &RootWorkspace{roots: cleaned}, nil
}

// Check reports whether path stays inside an allowed root.
func (w *RootWorkspace) Check(path, tool string) (bool, string) {
	_ = tool
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(w.roots[0], p)
	}
	p = filepath.Clean(p)

	for _, root := range w.roots {
		if p == root || strings.HasPrefix(p, root+string(filepath.Separator)) {
			return true, ""
		}
	}
	return false, fmt.Sprintf("path %s escapes workspace", path)
}
