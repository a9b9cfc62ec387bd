package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewName_Format(t *testing.T) {
	re := regexp.MustCompile(`^agent-\d{14}-[0-9a-f]{8}$`)

	name := NewName()
	assert.Regexp(t, re, name)
}

func TestNewName_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		name := NewName()
		assert.False(t, seen[name], "duplicate name %s", name)
		seen[name] = true
	}
}

func TestWorktreePath(t *testing.T) {
	g := NewGitClient("/repo", "main")
	assert.Equal(t, "/repo/.canvas-author/worktrees/agent-x", g.worktreePath("agent-x"))
}

// initTestRepo makes a git repo with one commit on main.
func initTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	run("init", "-b", "main")
	run("config", "user.email", "test@example.edu")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("base\n"), 0644))
	run("add", ".")
	run("commit", "-m", "initial")
	return dir
}

func gitOut(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return string(out)
}

func TestMerge_LandsOnBaseBranch(t *testing.T) {
	dir := initTestRepo(t)
	ctx := context.Background()
	g := NewGitClient(dir, "main")

	info, err := g.Create(ctx, "agent-test")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(info.Path, "lesson.md"), []byte("revised\n"), 0644))
	wt := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", info.Path}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	wt("add", ".")
	wt("commit", "-m", "revise lesson")

	// Park the main checkout on an unrelated branch. The merge must
	// still land on main, not wherever HEAD happens to be.
	gitOut(t, dir, "checkout", "-b", "scratch")

	ref, err := g.Merge(ctx, "agent-test")
	require.NoError(t, err)
	assert.NotEmpty(t, ref)

	mainRef := gitOut(t, dir, "rev-parse", "main")
	assert.Contains(t, mainRef, ref)

	scratchFiles := gitOut(t, dir, "ls-tree", "--name-only", "scratch")
	assert.NotContains(t, scratchFiles, "lesson.md")

	require.NoError(t, g.Remove(ctx, "agent-test"))
}
