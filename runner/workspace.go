package runner

import (
	"path/filepath"
)

// WorkspaceResolver supplies the workspace for a triggered run. Resolution
// happens per trigger so that no state carries over between runs.
type WorkspaceResolver func() WorkspaceContext

// StaticWorkspace always resolves to the same root
func StaticWorkspace(root string) WorkspaceResolver {
	return func() WorkspaceContext {
		return ResolveWorkspace("", root)
	}
}

// ResolveWorkspace makes root absolute relative to baseDir. An empty root
// stays empty so the orchestrator can report ErrNoWorkspace.
func ResolveWorkspace(baseDir, root string) WorkspaceContext {
	if root == "" {
		return WorkspaceContext{}
	}
	if !filepath.IsAbs(root) {
		if baseDir != "" {
			root = filepath.Join(baseDir, root)
		} else if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	return WorkspaceContext{Root: filepath.Clean(root)}
}
