package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// IsAncestor reports whether commit a is an ancestor of commit b.
func (m *Manager) IsAncestor(ctx context.Context, a, b string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "merge-base", "--is-ancestor", a, b)
	cmd.Dir = m.path
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("git merge-base failed: %w", err)
}

// BeginMerge opens a merge with the given ref without committing and
// without taking any content from it. The engine then writes the
// resolved record set on top, so the eventual commit carries both
// parents (making the subsequent publish a fast-forward) while its tree
// is exactly what the conflict resolver decided, byte for byte.
func (m *Manager) BeginMerge(ctx context.Context, ref string) error {
	_, err := m.run(ctx, m.path, "merge", "-s", "ours", "--no-commit",
		"--allow-unrelated-histories", ref)
	if err != nil {
		return fmt.Errorf("failed to open merge with %s: %w", ref, err)
	}
	return nil
}

// InMerge reports whether the checkout has an open merge (MERGE_HEAD),
// e.g. left behind by a crashed cycle.
func (m *Manager) InMerge(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--verify", "--quiet", "MERGE_HEAD")
	cmd.Dir = m.path
	return cmd.Run() == nil
}

// AbortMerge discards an open merge, restoring the pre-merge state.
// Committed sync state is untouched; a retried cycle starts clean.
func (m *Manager) AbortMerge(ctx context.Context) error {
	if _, err := m.run(ctx, m.path, "merge", "--abort"); err != nil {
		return fmt.Errorf("failed to abort stale merge: %w", err)
	}
	return nil
}

// ListFiles returns the paths (relative to the branch root) of all files
// under prefix as of the given ref.
func (m *Manager) ListFiles(ctx context.Context, ref, prefix string) ([]string, error) {
	output, err := m.run(ctx, m.path, "ls-tree", "-r", "--name-only", ref, "--", prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s at %s: %w", prefix, ref, err)
	}

	var paths []string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

// ReadFileAt extracts one file's content from a ref.
func (m *Manager) ReadFileAt(ctx context.Context, ref, path string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", "show", ref+":"+path)
	cmd.Dir = m.path
	data, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s from %s: %w", path, ref, err)
	}
	return data, nil
}

// WriteFile writes a file into the checkout at the given relative path.
func (m *Manager) WriteFile(relPath string, data []byte) error {
	dst := filepath.Join(m.path, relPath)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", relPath, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", relPath, err)
	}
	return nil
}

// FileExists reports whether a file exists in the checkout working tree.
func (m *Manager) FileExists(relPath string) bool {
	_, err := os.Stat(filepath.Join(m.path, relPath))
	return err == nil
}
