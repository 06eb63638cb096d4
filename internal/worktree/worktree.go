// Package worktree maintains the private checkout of the dedicated sync
// branch, isolated from the user's main working tree.
//
// The checkout is a git worktree under .git/skein-worktrees/sync, so sync
// bookkeeping never shows up in the user's file status and never touches
// their current branch. Git supplies the primitives the engine relies
// on: content-addressed storage, atomic commits, and ref advancement
// with compare-and-swap semantics (a non-forced push).
package worktree

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/skeinhq/skein/internal/record"
)

// DefaultBranch is the default sync branch name.
const DefaultBranch = "skein-sync"

// DefaultRemote is the default remote name.
const DefaultRemote = "origin"

var (
	// ErrNotInRepo is returned when the working directory is not inside
	// a git repository.
	ErrNotInRepo = errors.New("not in a git repository")

	// ErrPublishRejected is returned when the remote moved concurrently
	// and refused a non-fast-forward push. This is an optimistic-
	// concurrency failure, not a content conflict: re-fetch and re-diff.
	ErrPublishRejected = errors.New("publish rejected: remote ref advanced concurrently")

	// ErrInconsistent is returned when the private checkout is in an
	// unexpected state that one automatic repair pass could not fix.
	// Repair never discards uncommitted files it does not own.
	ErrInconsistent = errors.New("sync checkout in inconsistent state")
)

// Manager materializes and operates the private sync-branch checkout.
type Manager struct {
	repoRoot string
	branch   string
	remote   string
	path     string
	logger   *log.Logger
}

// New creates a Manager for the repository containing dir. Empty branch
// or remote fall back to the defaults.
func New(dir, branch, remote string, logger *log.Logger) (*Manager, error) {
	if branch == "" {
		branch = DefaultBranch
	}
	if remote == "" {
		remote = DefaultRemote
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[worktree] ", log.LstdFlags)
	}

	root, err := RepoRoot(dir)
	if err != nil {
		return nil, err
	}

	return &Manager{
		repoRoot: root,
		branch:   branch,
		remote:   remote,
		path:     filepath.Join(root, ".git", "skein-worktrees", "sync"),
		logger:   logger,
	}, nil
}

// RepoRoot resolves the main repository root for dir.
func RepoRoot(dir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return "", ErrNotInRepo
	}
	return strings.TrimSpace(string(output)), nil
}

// Path returns the filesystem path of the private checkout.
func (m *Manager) Path() string {
	return m.path
}

// Branch returns the sync branch name.
func (m *Manager) Branch() string {
	return m.branch
}

// RecordsDir returns the record directory inside the checkout.
func (m *Manager) RecordsDir() string {
	return filepath.Join(m.path, record.Dir)
}

// run executes a git command in the given directory.
func (m *Manager) run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("git %s failed: %w\n%s",
			strings.Join(args, " "), err, string(output))
	}
	return output, nil
}

// branchExists reports whether the local sync branch exists.
func (m *Manager) branchExists() bool {
	cmd := exec.Command("git", "show-ref", "--verify", "--quiet", "refs/heads/"+m.branch)
	cmd.Dir = m.repoRoot
	return cmd.Run() == nil
}

// registered reports whether the checkout path appears in the worktree list.
func (m *Manager) registered(ctx context.Context) (bool, error) {
	output, err := m.run(ctx, m.repoRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return false, err
	}

	want, _ := filepath.Abs(m.path)
	for _, line := range strings.Split(string(output), "\n") {
		if !strings.HasPrefix(line, "worktree ") {
			continue
		}
		got, _ := filepath.Abs(strings.TrimSpace(strings.TrimPrefix(line, "worktree ")))
		if got == want {
			return true, nil
		}
	}
	return false, nil
}

// Checkout materializes the private checkout at the sync branch tip,
// creating branch and worktree as needed. A checkout left detached or on
// the wrong branch by a prior crash gets one repair pass that re-points
// it without discarding uncommitted record files; if repair does not
// converge, ErrInconsistent is returned.
func (m *Manager) Checkout(ctx context.Context) error {
	if !m.branchExists() {
		// Base the branch on the remote sync branch when it exists.
		// Otherwise start from an empty orphan commit: the sync branch
		// carries only records, mappings, and attic entries, never the
		// project's own tree.
		base, err := m.remoteTip(ctx)
		if err != nil || base == "" {
			base, err = m.emptyCommit(ctx)
			if err != nil {
				return err
			}
		}
		if _, err := m.run(ctx, m.repoRoot, "branch", m.branch, base); err != nil {
			return fmt.Errorf("failed to create sync branch: %w", err)
		}
		m.logger.Printf("created sync branch %s at %s", m.branch, base)
	}

	reg, err := m.registered(ctx)
	if err != nil {
		return err
	}

	if _, statErr := os.Stat(m.path); os.IsNotExist(statErr) {
		if reg {
			// Registered but missing on disk: stale metadata from a
			// deleted checkout. Prune before re-adding.
			_, _ = m.run(ctx, m.repoRoot, "worktree", "prune")
		}
		if err := os.MkdirAll(filepath.Dir(m.path), 0750); err != nil {
			return fmt.Errorf("failed to create worktree parent: %w", err)
		}
		if _, err := m.run(ctx, m.repoRoot, "worktree", "add", "-f", m.path, m.branch); err != nil {
			return fmt.Errorf("failed to add sync worktree: %w", err)
		}
		m.logger.Printf("created sync checkout at %s", m.path)
		return nil
	}

	if !reg {
		// Directory exists but git lost track of it (moved .git dir,
		// interrupted add). worktree repair relinks without touching files.
		if _, err := m.run(ctx, m.repoRoot, "worktree", "repair", m.path); err != nil {
			return fmt.Errorf("%w: %v", ErrInconsistent, err)
		}
	}

	if err := m.ensureOnBranch(ctx); err != nil {
		return err
	}

	// A crash mid-cycle can leave a merge open. Aborting restores the
	// pre-merge state; committed sync state is never touched.
	if m.InMerge(ctx) {
		m.logger.Printf("sync checkout has a stale open merge, aborting it")
		if err := m.AbortMerge(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrInconsistent, err)
		}
	}

	return nil
}

// emptyCommit writes a parentless commit with an empty tree, the
// starting point of a brand-new sync branch.
func (m *Manager) emptyCommit(ctx context.Context) (string, error) {
	hash := exec.CommandContext(ctx, "git", "hash-object", "-w", "-t", "tree", "--stdin")
	hash.Dir = m.repoRoot
	hash.Stdin = strings.NewReader("")
	output, err := hash.Output()
	if err != nil {
		return "", fmt.Errorf("failed to write empty tree: %w", err)
	}
	tree := strings.TrimSpace(string(output))

	output, err = m.run(ctx, m.repoRoot, "commit-tree", "-m", "skein: initialize sync branch", tree)
	if err != nil {
		return "", fmt.Errorf("failed to create sync branch root commit: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// ensureOnBranch verifies the checkout's HEAD points at the sync branch
// and re-points it when detached or on the wrong branch.
func (m *Manager) ensureOnBranch(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "git", "symbolic-ref", "--short", "HEAD")
	cmd.Dir = m.path
	output, err := cmd.Output()
	current := strings.TrimSpace(string(output))

	if err == nil && current == m.branch {
		return nil
	}

	// One repair pass. git checkout refuses to clobber modified files,
	// so uncommitted record data survives or the repair fails loudly.
	m.logger.Printf("sync checkout not on %s (on %q), repairing", m.branch, current)
	if _, err := m.run(ctx, m.path, "checkout", m.branch); err != nil {
		return fmt.Errorf("%w: %v", ErrInconsistent, err)
	}
	return nil
}

// Records reads the working state of all record files in the checkout,
// including uncommitted edits. Per-file failures are returned alongside
// the readable records.
func (m *Manager) Records() (map[string]*record.Record, map[string]error, error) {
	return record.ReadAll(m.RecordsDir())
}

// RecordsAt reads all record files as of the given ref.
func (m *Manager) RecordsAt(ctx context.Context, ref string) (map[string]*record.Record, map[string]error, error) {
	output, err := m.run(ctx, m.path, "ls-tree", "-r", "--name-only", ref, "--", record.Dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list records at %s: %w", ref, err)
	}

	records := make(map[string]*record.Record)
	var errs map[string]error
	for _, path := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if path == "" || !strings.HasSuffix(path, ".json") {
			continue
		}

		id := strings.TrimSuffix(filepath.Base(path), ".json")
		rec, err := m.recordAt(ctx, ref, path)
		if err != nil {
			if errs == nil {
				errs = make(map[string]error)
			}
			errs[id] = err
			continue
		}
		records[rec.ID] = rec
	}

	return records, errs, nil
}

// recordAt extracts and parses one record file from a ref.
func (m *Manager) recordAt(ctx context.Context, ref, path string) (*record.Record, error) {
	cmd := exec.CommandContext(ctx, "git", "show", ref+":"+path)
	cmd.Dir = m.path
	data, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s from %s: %w", path, ref, err)
	}
	return record.Parse(data, path)
}

// WriteRecord writes a record into the checkout's record directory.
func (m *Manager) WriteRecord(rec *record.Record) error {
	return record.Write(m.RecordsDir(), rec)
}

// HasChanges reports whether the checkout has uncommitted changes.
func (m *Manager) HasChanges(ctx context.Context) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = m.path
	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("git status failed: %w", err)
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// Commit writes all pending record, mapping, and attic mutations in the
// checkout as one commit on the sync branch and returns its hash.
func (m *Manager) Commit(ctx context.Context, message string) (string, error) {
	if _, err := m.run(ctx, m.path, "add", "-A"); err != nil {
		return "", err
	}
	if _, err := m.run(ctx, m.path, "commit", "-m", message, "--no-verify"); err != nil {
		return "", err
	}
	return m.Tip(ctx)
}

// Tip returns the sync branch tip as seen by the checkout.
func (m *Manager) Tip(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = m.path
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to resolve sync branch tip: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// HasRemote reports whether the configured remote exists.
func (m *Manager) HasRemote() bool {
	cmd := exec.Command("git", "remote", "get-url", m.remote)
	cmd.Dir = m.repoRoot
	return cmd.Run() == nil
}

// Fetch retrieves the remote sync branch tip without mutating local
// state. Returns "" when no remote is configured or the remote branch
// does not exist yet.
func (m *Manager) Fetch(ctx context.Context) (string, error) {
	if !m.HasRemote() {
		return "", nil
	}

	cmd := exec.CommandContext(ctx, "git", "fetch", m.remote, m.branch)
	cmd.Dir = m.path
	output, err := cmd.CombinedOutput()
	if err != nil {
		if strings.Contains(string(output), "couldn't find remote ref") {
			return "", nil // remote branch not created yet
		}
		return "", fmt.Errorf("git fetch failed: %w\n%s", err, string(output))
	}

	return m.remoteTip(ctx)
}

// remoteTip resolves the remote-tracking ref of the sync branch, or ""
// when it does not exist.
func (m *Manager) remoteTip(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--verify", "--quiet",
		"refs/remotes/"+m.remote+"/"+m.branch)
	cmd.Dir = m.repoRoot
	output, err := cmd.Output()
	if err != nil {
		return "", nil
	}
	return strings.TrimSpace(string(output)), nil
}

// Publish attempts to advance the remote sync branch to the local tip.
// A non-fast-forward rejection means the remote moved during our
// resolution window; the caller re-fetches and retries from diffing.
func (m *Manager) Publish(ctx context.Context) error {
	if !m.HasRemote() {
		return nil // local-only mode
	}

	cmd := exec.CommandContext(ctx, "git", "push", m.remote, m.branch)
	cmd.Dir = m.path
	output, err := cmd.CombinedOutput()
	if err != nil {
		text := string(output)
		if strings.Contains(text, "non-fast-forward") ||
			strings.Contains(text, "fetch first") ||
			strings.Contains(text, "[rejected]") {
			return ErrPublishRejected
		}
		return fmt.Errorf("git push failed: %w\n%s", err, text)
	}

	return nil
}

// AheadBehind returns how many commits the local sync branch is ahead of
// and behind its remote counterpart. Zero/zero when the remote branch
// does not exist.
func (m *Manager) AheadBehind(ctx context.Context) (ahead, behind int, err error) {
	remoteRef := "refs/remotes/" + m.remote + "/" + m.branch
	check := exec.CommandContext(ctx, "git", "rev-parse", "--verify", "--quiet", remoteRef)
	check.Dir = m.repoRoot
	if check.Run() != nil {
		return 0, 0, nil
	}

	cmd := exec.CommandContext(ctx, "git", "rev-list", "--left-right", "--count",
		m.branch+"..."+remoteRef)
	cmd.Dir = m.repoRoot
	output, err := cmd.Output()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to compute divergence: %w", err)
	}

	fields := strings.Fields(strings.TrimSpace(string(output)))
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list output: %q", string(output))
	}
	ahead, _ = strconv.Atoi(fields[0])
	behind, _ = strconv.Atoi(fields[1])
	return ahead, behind, nil
}
