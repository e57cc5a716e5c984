package builder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// workspaceManager owns per-build working directories under a common root.
type workspaceManager struct {
	root string
}

func newWorkspaceManager(root string) (*workspaceManager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &workspaceManager{root: root}, nil
}

// prepare creates an isolated repo checkout directory for a build.
func (m *workspaceManager) prepare(buildID string) (string, error) {
	if buildID == "" {
		return "", fmt.Errorf("build id cannot be empty")
	}
	dir := filepath.Join(m.root, buildID, "repo")
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("cleanup workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// cleanup removes a build's workspace, refusing to touch anything outside root.
func (m *workspaceManager) cleanup(buildID string) error {
	if buildID == "" {
		return fmt.Errorf("build id cannot be empty")
	}
	dir := filepath.Join(m.root, buildID)
	rel, err := filepath.Rel(m.root, dir)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to cleanup path outside workspace root")
	}
	return os.RemoveAll(dir)
}
