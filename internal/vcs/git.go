package vcs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Git implements VCS by shelling out to the git CLI. Commits are
// serialized behind a mutex to prevent concurrent index lock
// conflicts when multiple tasks finish at once.
type Git struct {
	mu sync.Mutex
}

// NewGit creates a git-backed VCS.
func NewGit() *Git {
	return &Git{}
}

// git runs a git subcommand in dir and returns its combined output.
func (g *Git) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s: %w (output: %s)", args[0], err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// InitRepo initializes a repository with identity config, a README
// derived from the project goal, and an initial commit.
func (g *Git) InitRepo(ctx context.Context, dir, goal string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.git(ctx, dir, "init"); err != nil {
		return err
	}
	if _, err := g.git(ctx, dir, "config", "user.name", "Elisa"); err != nil {
		return err
	}
	if _, err := g.git(ctx, dir, "config", "user.email", "elisa@local"); err != nil {
		return err
	}

	readme := fmt.Sprintf("# %s\n\nBuilt with Elisa.\n", goal)
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte(readme), 0644); err != nil {
		return fmt.Errorf("writing README: %w", err)
	}

	if _, err := g.git(ctx, dir, "add", "README.md"); err != nil {
		return err
	}
	if _, err := g.git(ctx, dir, "commit", "-m", "Project started!"); err != nil {
		return err
	}
	return nil
}

// Commit stages everything and commits. Returns an empty CommitInfo
// when the working tree is clean.
func (g *Git) Commit(ctx context.Context, dir, message, agentName, taskID string) (CommitInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.git(ctx, dir, "add", "-A"); err != nil {
		return CommitInfo{}, err
	}

	// diff --cached --quiet exits non-zero when there is something
	// staged; a zero exit means nothing to commit.
	check := exec.CommandContext(ctx, "git", "diff", "--cached", "--quiet")
	check.Dir = dir
	if err := check.Run(); err == nil {
		return CommitInfo{}, nil
	}

	if _, err := g.git(ctx, dir, "commit", "-m", message); err != nil {
		return CommitInfo{}, err
	}

	sha, err := g.git(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return CommitInfo{}, err
	}
	sha = strings.TrimSpace(sha)

	shortSHA := sha
	if len(shortSHA) > 7 {
		shortSHA = shortSHA[:7]
	}

	// Changed-file list relative to the parent; the initial commit
	// from InitRepo guarantees one exists, but tolerate its absence.
	var files []string
	if out, err := g.git(ctx, dir, "diff", "--name-only", "HEAD~1", "HEAD"); err == nil {
		for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
			if line != "" {
				files = append(files, line)
			}
		}
	}

	return CommitInfo{
		SHA:          sha,
		ShortSHA:     shortSHA,
		Message:      message,
		AgentName:    agentName,
		TaskID:       taskID,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		FilesChanged: files,
	}, nil
}
