package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func TestGitInitAndCommit(t *testing.T) {
	requireGit(t)

	dir := t.TempDir()
	g := NewGit()
	ctx := context.Background()

	if err := g.InitRepo(ctx, dir, "Snake game"); err != nil {
		t.Fatalf("InitRepo: %v", err)
	}

	readme, err := os.ReadFile(filepath.Join(dir, "README.md"))
	if err != nil {
		t.Fatalf("README missing: %v", err)
	}
	if !strings.Contains(string(readme), "Snake game") {
		t.Errorf("README does not carry the goal: %s", readme)
	}

	// Nothing dirty yet: commit must be a no-op with empty SHA.
	info, err := g.Commit(ctx, dir, "noop", "sparky", "task-1")
	if err != nil {
		t.Fatalf("noop Commit: %v", err)
	}
	if info.SHA != "" {
		t.Errorf("clean tree produced commit %s", info.SHA)
	}

	// New file: commit records it.
	if err := os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('hi')\n"), 0644); err != nil {
		t.Fatalf("writing main.py: %v", err)
	}
	info, err = g.Commit(ctx, dir, "sparky: Build the game", "sparky", "task-1")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if info.SHA == "" {
		t.Fatal("expected a commit SHA")
	}
	if len(info.ShortSHA) != 7 {
		t.Errorf("short SHA = %q", info.ShortSHA)
	}
	if info.AgentName != "sparky" || info.TaskID != "task-1" {
		t.Errorf("attribution = %s/%s", info.AgentName, info.TaskID)
	}
	if len(info.FilesChanged) != 1 || info.FilesChanged[0] != "main.py" {
		t.Errorf("FilesChanged = %v, want [main.py]", info.FilesChanged)
	}
}

func TestGitCommitWithoutRepo(t *testing.T) {
	requireGit(t)

	dir := t.TempDir()
	g := NewGit()

	if _, err := g.Commit(context.Background(), dir, "msg", "a", "t"); err == nil {
		t.Fatal("expected error committing outside a repository")
	}
}
