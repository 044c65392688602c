// Package workspace provisions isolated working directories for agents:
// a git worktree on a dedicated branch when version control is available,
// a plain directory as a clearly-flagged degraded fallback otherwise.
//
// This file provides the concrete CLI implementation of the git interface.
// The CommandExecutor seam lets tests drive the fallback chain without a
// real repository.
package workspace

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/crewsync/crewsync/internal/errors"
)

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Run executes a command and returns combined output.
	Run(dir string, name string, args ...string) ([]byte, error)

	// RunQuiet executes a command and returns only the error.
	RunQuiet(dir string, name string, args ...string) error
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct{}

// NewCLICommandExecutor creates a new CLI command executor.
func NewCLICommandExecutor() *CLICommandExecutor {
	return &CLICommandExecutor{}
}

// Run executes a command and returns combined output.
func (e *CLICommandExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// RunQuiet executes a command and returns only the error.
func (e *CLICommandExecutor) RunQuiet(dir string, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.Run()
}

// Git is the version-control surface the provisioner needs: worktree
// creation against new, existing, and uniquely-named branches, plus the
// cleanliness checks the retention pass relies on.
type Git interface {
	// IsRepository reports whether the configured directory is inside a
	// git repository.
	IsRepository() bool

	// WorktreeAdd creates a worktree at path on a newly created branch.
	WorktreeAdd(path, branch string) error

	// WorktreeAddExisting creates a worktree at path attached to an
	// existing branch.
	WorktreeAddExisting(path, branch string) error

	// WorktreeRemove removes a worktree and prunes stale references.
	WorktreeRemove(path string) error

	// HasUncommittedChanges reports whether a worktree has staged or
	// unstaged modifications.
	HasUncommittedChanges(path string) (bool, error)
}

// CLIGit implements Git using git CLI commands.
type CLIGit struct {
	repoDir  string
	executor CommandExecutor
}

// NewCLIGit creates a CLIGit rooted at repoDir.
func NewCLIGit(repoDir string) *CLIGit {
	return &CLIGit{
		repoDir:  repoDir,
		executor: NewCLICommandExecutor(),
	}
}

// NewCLIGitWithExecutor creates a CLIGit with a custom executor.
// This is primarily useful for testing.
func NewCLIGitWithExecutor(repoDir string, executor CommandExecutor) *CLIGit {
	return &CLIGit{
		repoDir:  repoDir,
		executor: executor,
	}
}

// IsRepository reports whether repoDir is inside a git work tree.
func (g *CLIGit) IsRepository() bool {
	return g.executor.RunQuiet(g.repoDir, "git", "rev-parse", "--is-inside-work-tree") == nil
}

// WorktreeAdd creates a worktree at path on a newly created branch.
// A branch that already exists from an earlier crashed attempt surfaces
// as ErrBranchExists so the caller can fall back to attaching to it.
func (g *CLIGit) WorktreeAdd(path, branch string) error {
	output, err := g.executor.Run(g.repoDir, "git", "worktree", "add", "-b", branch, path)
	if err != nil {
		if strings.Contains(string(output), "already exists") {
			return errors.NewGitError("branch already exists", errors.ErrBranchExists).
				WithRepository(g.repoDir).
				WithBranch(branch).
				WithGitOutput(string(output))
		}
		return errors.NewGitError("failed to create worktree", err).
			WithRepository(g.repoDir).
			WithWorktree(path).
			WithBranch(branch).
			WithGitOutput(string(output))
	}
	return nil
}

// WorktreeAddExisting creates a worktree at path attached to an existing
// branch, without creating a new one.
func (g *CLIGit) WorktreeAddExisting(path, branch string) error {
	output, err := g.executor.Run(g.repoDir, "git", "worktree", "add", path, branch)
	if err != nil {
		return errors.NewGitError("failed to create worktree from existing branch "+branch, err).
			WithRepository(g.repoDir).
			WithWorktree(path).
			WithBranch(branch).
			WithGitOutput(string(output))
	}
	return nil
}

// WorktreeRemove removes a worktree at the given path, falling back to a
// manual delete plus prune when git refuses.
func (g *CLIGit) WorktreeRemove(path string) error {
	output, err := g.executor.Run(g.repoDir, "git", "worktree", "remove", "--force", path)
	if err != nil {
		_ = os.RemoveAll(path)
		_, _ = g.executor.Run(g.repoDir, "git", "worktree", "prune")

		return errors.NewGitError("failed to remove worktree cleanly", err).
			WithRepository(g.repoDir).
			WithWorktree(path).
			WithGitOutput(string(output))
	}

	_, _ = g.executor.Run(g.repoDir, "git", "worktree", "prune")
	return nil
}

// HasUncommittedChanges reports whether the worktree at path has unstaged
// or staged modifications. Both checks must come back clean before a
// worktree is eligible for removal.
func (g *CLIGit) HasUncommittedChanges(path string) (bool, error) {
	if err := g.executor.RunQuiet(path, "git", "diff", "--quiet"); err != nil {
		return true, nil
	}
	if err := g.executor.RunQuiet(path, "git", "diff", "--cached", "--quiet"); err != nil {
		return true, nil
	}
	return false, nil
}

// FindGitRoot walks up from dir looking for a .git entry (a directory in a
// normal checkout, a file in a worktree). Returns the repository root, or
// an empty string when dir is not inside a repository.
func FindGitRoot(dir string) string {
	current, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(current, ".git")); err == nil {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			return ""
		}
		current = parent
	}
}

// Ensure the CLI implementation satisfies the interface at compile time.
var _ Git = (*CLIGit)(nil)
