package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestLoadDefaultsWhenFilesMissing(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "nope.json"), filepath.Join(dir, "also-nope.json"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, ok := cfg.Providers["claude"]; !ok {
		t.Error("default claude provider missing")
	}
	if len(cfg.Agents) == 0 {
		t.Error("default agent roster missing")
	}
	if cfg.Run.MaxAttempts != 3 {
		t.Errorf("max_attempts = %d, want 3", cfg.Run.MaxAttempts)
	}
	if cfg.Run.MaxParallel != 0 {
		t.Errorf("max_parallel = %d, want 0 (unlimited)", cfg.Run.MaxParallel)
	}
	if !cfg.Run.GitCommits {
		t.Error("git_commits default should be true")
	}
}

func TestProjectOverridesGlobal(t *testing.T) {
	dir := t.TempDir()
	global := writeConfig(t, dir, "global.json", `{
		"agents": {
			"ava": {"provider": "claude", "role": "builder", "model": "global-model"}
		},
		"run": {"max_parallel": 8}
	}`)
	project := writeConfig(t, dir, "project.json", `{
		"agents": {
			"ava": {"provider": "claude", "role": "builder", "model": "project-model"}
		},
		"run": {"max_attempts": 5}
	}`)

	cfg, err := Load(global, project)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := cfg.Agents["ava"].Model; got != "project-model" {
		t.Errorf("ava model = %q, want project-model", got)
	}
	// Partial run sections merge field by field.
	if cfg.Run.MaxParallel != 8 {
		t.Errorf("max_parallel = %d, want 8 from global", cfg.Run.MaxParallel)
	}
	if cfg.Run.MaxAttempts != 5 {
		t.Errorf("max_attempts = %d, want 5 from project", cfg.Run.MaxAttempts)
	}
	// Untouched fields keep defaults.
	if cfg.Run.QuestionTimeoutSeconds != 300 {
		t.Errorf("question_timeout_seconds = %d, want 300", cfg.Run.QuestionTimeoutSeconds)
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	bad := writeConfig(t, dir, "bad.json", `{"agents": `)
	if _, err := Load(bad, ""); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Run.MaxParallel = 1
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Run.MaxParallel != 1 {
		t.Errorf("max_parallel = %d, want 1", loaded.Run.MaxParallel)
	}
}
