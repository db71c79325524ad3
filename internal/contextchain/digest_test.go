package contextchain

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", rel, err)
	}
}

func TestStructuralDigestExtractsSignatures(t *testing.T) {
	root := t.TempDir()

	writeFile(t, root, "src/main.go", `package main

import "fmt"

type Server struct {
	addr string
}

func main() {
	fmt.Println("hi")
}

func (s *Server) Listen(port int) error {
	return nil
}
`)
	writeFile(t, root, "src/game.py", `import os

class Game:
    def __init__(self):
        pass

def run_game(speed):
    pass

async def tick():
    pass
`)
	writeFile(t, root, "web/app.js", `export function render(root) {}

export class Board {}

const helper = (x) => x;
`)

	digest := StructuralDigest(root, 20)

	for _, want := range []string{
		"### src/main.go",
		"func main()",
		"func (s *Server) Listen(port int) error",
		"type Server struct",
		"### src/game.py",
		"class Game:",
		"def run_game(speed):",
		"async def tick():",
		"### web/app.js",
		"export function render(root)",
		"export class Board",
	} {
		if !strings.Contains(digest, want) {
			t.Errorf("digest missing %q:\n%s", want, digest)
		}
	}
}

func TestStructuralDigestSkipsHiddenAndDependencyDirs(t *testing.T) {
	root := t.TempDir()

	writeFile(t, root, "src/ok.go", "package src\n\nfunc Visible() {}\n")
	writeFile(t, root, ".git/hook.go", "package git\n\nfunc Hidden() {}\n")
	writeFile(t, root, ".elisa/context/gen.py", "def hidden():\n    pass\n")
	writeFile(t, root, "node_modules/lib/index.js", "export function dep() {}\n")
	writeFile(t, root, "vendor/pkg/v.go", "package pkg\n\nfunc Vendored() {}\n")

	digest := StructuralDigest(root, 20)

	if !strings.Contains(digest, "func Visible()") {
		t.Errorf("digest missing visible signature:\n%s", digest)
	}
	for _, banned := range []string{"Hidden", "hidden", "dep()", "Vendored"} {
		if strings.Contains(digest, banned) {
			t.Errorf("digest leaked %q from a skipped directory:\n%s", banned, digest)
		}
	}
}

func TestStructuralDigestMaxFiles(t *testing.T) {
	root := t.TempDir()

	for _, name := range []string{"a.go", "b.go", "c.go", "d.go"} {
		writeFile(t, root, name, "package x\n\nfunc F() {}\n")
	}

	digest := StructuralDigest(root, 2)
	if n := strings.Count(digest, "### "); n != 2 {
		t.Errorf("digest rendered %d files, want 2:\n%s", n, digest)
	}
}

func TestStructuralDigestEmpty(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "README.md", "# nothing to scan\n")

	if digest := StructuralDigest(root, 20); digest != "" {
		t.Errorf("expected empty digest, got:\n%s", digest)
	}
}
