// Package workspace manages isolated git worktrees for content sessions.
// Each review session gets its own branch and worktree under
// .canvas-author/worktrees/ so agent edits never touch the base branch
// until the session is approved and merged.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMergeConflict is returned when merging a workspace branch hits
// conflicting changes on the base branch.
var ErrMergeConflict = errors.New("merge conflict")

// ErrWorkspaceExists is returned when creating a workspace whose branch
// already exists.
var ErrWorkspaceExists = errors.New("workspace already exists")

const worktreesDir = ".canvas-author/worktrees"

// Info describes a created workspace.
type Info struct {
	Name   string
	Path   string
	Branch string
}

// Client manages workspace lifecycle. Implementations must be safe for
// concurrent use by independent sessions.
type Client interface {
	// Create makes a new branch and worktree off the base branch.
	Create(ctx context.Context, name string) (*Info, error)
	// Merge merges the workspace branch into the base branch and returns
	// the resulting commit ref. Returns ErrMergeConflict when the branches
	// have diverged incompatibly.
	Merge(ctx context.Context, name string) (string, error)
	// Remove deletes the worktree and its branch.
	Remove(ctx context.Context, name string) error
}

// NewName generates a unique workspace name, e.g.
// agent-20260830T142233-3f9a1c2b. The timestamp keeps names sortable;
// the uuid fragment keeps same-second creations distinct.
func NewName() string {
	ts := time.Now().UTC().Format("20060102150405")
	return fmt.Sprintf("agent-%s-%s", ts, uuid.NewString()[:8])
}

// GitClient implements Client using the git CLI against a local repo.
type GitClient struct {
	repoPath   string
	baseBranch string
}

// NewGitClient creates a workspace client rooted at repoPath. Merges
// target baseBranch (e.g. "main").
func NewGitClient(repoPath, baseBranch string) *GitClient {
	return &GitClient{repoPath: repoPath, baseBranch: baseBranch}
}

// git runs a git command in the repo and returns combined output.
func (g *GitClient) git(ctx context.Context, args ...string) (string, error) {
	cmdArgs := append([]string{"-C", g.repoPath}, args...)
	cmd := exec.CommandContext(ctx, "git", cmdArgs...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func (g *GitClient) worktreePath(name string) string {
	return filepath.Join(g.repoPath, worktreesDir, name)
}

func (g *GitClient) Create(ctx context.Context, name string) (*Info, error) {
	if _, err := g.git(ctx, "rev-parse", "--verify", "refs/heads/"+name); err == nil {
		return nil, fmt.Errorf("branch %s: %w", name, ErrWorkspaceExists)
	}

	path := g.worktreePath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create worktrees dir: %w", err)
	}

	if _, err := g.git(ctx, "worktree", "add", "-b", name, path, g.baseBranch); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", name, err)
	}

	return &Info{Name: name, Path: path, Branch: name}, nil
}

func (g *GitClient) Merge(ctx context.Context, name string) (string, error) {
	// The repo may have any branch checked out; the merge must land on
	// the base branch.
	if _, err := g.git(ctx, "checkout", g.baseBranch); err != nil {
		return "", fmt.Errorf("checkout %s: %w", g.baseBranch, err)
	}

	out, err := g.git(ctx, "merge", "--no-ff", "-m", fmt.Sprintf("Merge workspace %s", name), name)
	if err != nil {
		if strings.Contains(out, "CONFLICT") || strings.Contains(err.Error(), "CONFLICT") {
			// Leave the base branch clean for the next merge attempt.
			_, _ = g.git(ctx, "merge", "--abort")
			return "", fmt.Errorf("workspace %s: %w", name, ErrMergeConflict)
		}
		return "", fmt.Errorf("merge workspace %s: %w", name, err)
	}

	ref, err := g.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve merge ref: %w", err)
	}
	return ref, nil
}

func (g *GitClient) Remove(ctx context.Context, name string) error {
	if _, err := g.git(ctx, "worktree", "remove", "--force", g.worktreePath(name)); err != nil {
		return fmt.Errorf("remove worktree %s: %w", name, err)
	}
	if _, err := g.git(ctx, "branch", "-D", name); err != nil {
		return fmt.Errorf("delete branch %s: %w", name, err)
	}
	return nil
}
