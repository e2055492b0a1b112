// Package gitutil shells out to the git CLI for the small amount of
// repository information the pipeline needs.
package gitutil

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Git wraps the git executable.
type Git struct {
	gitPath string
}

// New verifies that git is available and returns a wrapper.
func New(ctx context.Context) (*Git, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}
	cmd := exec.CommandContext(ctx, gitPath, "version")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git command failed: %w", err)
	}
	return &Git{gitPath: gitPath}, nil
}

// ChangedFiles returns the paths with uncommitted changes (modified,
// added, deleted, or untracked) in the repository at repoPath.
func (g *Git) ChangedFiles(ctx context.Context, repoPath string) ([]string, error) {
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "status", "--porcelain")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git status failed in %s: %w", repoPath, err)
	}

	var files []string
	for _, line := range strings.Split(string(output), "\n") {
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		// Renames report "old -> new"; the new path is what changed.
		if idx := strings.Index(path, " -> "); idx >= 0 {
			path = path[idx+4:]
		}
		if path != "" {
			files = append(files, path)
		}
	}
	return files, nil
}

// ChangedFileCount returns how many files have uncommitted changes.
// Returns 0 without error when repoPath is not a git repository, so
// callers outside version control degrade gracefully.
func (g *Git) ChangedFileCount(ctx context.Context, repoPath string) (int, error) {
	inside := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "rev-parse", "--is-inside-work-tree")
	if err := inside.Run(); err != nil {
		return 0, nil
	}
	files, err := g.ChangedFiles(ctx, repoPath)
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

// HeadCommit returns the current HEAD hash, or empty outside a repo.
func (g *Git) HeadCommit(ctx context.Context, repoPath string) (string, error) {
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "rev-parse", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "", nil
	}
	return strings.TrimSpace(string(output)), nil
}
