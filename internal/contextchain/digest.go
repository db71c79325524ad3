package contextchain

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultDigestFiles is the default cap on files rendered into a
// structural digest.
const DefaultDigestFiles = 20

// Directories never descended into when building a digest: dependency
// trees and build caches contribute noise, not structure.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	"target":       true,
	"dist":         true,
	"build":        true,
	".elisa":       true,
}

// signaturePatterns maps file extensions to the lightweight line
// patterns that identify top-level functions, classes and exported
// symbols in that language.
var signaturePatterns = map[string][]*regexp.Regexp{
	".go": {
		regexp.MustCompile(`^func\s+\(?[\w\s*\]\[]*\)?\s*\w+\s*\(`),
		regexp.MustCompile(`^type\s+\w+\s+(struct|interface)\b`),
	},
	".py": {
		regexp.MustCompile(`^(async\s+)?def\s+\w+`),
		regexp.MustCompile(`^class\s+\w+`),
	},
	".js": {
		regexp.MustCompile(`^(export\s+)?(default\s+)?(async\s+)?function\s*\*?\s*\w*`),
		regexp.MustCompile(`^(export\s+)?class\s+\w+`),
		regexp.MustCompile(`^(export\s+)?const\s+\w+\s*=\s*(async\s*)?\(`),
	},
	".rs": {
		regexp.MustCompile(`^(pub\s+)?(async\s+)?fn\s+\w+`),
		regexp.MustCompile(`^(pub\s+)?(struct|enum|trait)\s+\w+`),
	},
	".c": {
		regexp.MustCompile(`^[A-Za-z_][\w\s*]*\s[\w*]+\s*\([^;]*$`),
	},
}

func init() {
	// Shared patterns across dialects.
	signaturePatterns[".ts"] = signaturePatterns[".js"]
	signaturePatterns[".jsx"] = signaturePatterns[".js"]
	signaturePatterns[".tsx"] = signaturePatterns[".js"]
	signaturePatterns[".h"] = signaturePatterns[".c"]
	signaturePatterns[".cpp"] = signaturePatterns[".c"]
	signaturePatterns[".hpp"] = signaturePatterns[".c"]
}

// StructuralDigest walks the workspace and renders top-level signatures
// for at most maxFiles source files into a digest string. Hidden
// directories, dependency directories and build caches are skipped.
// Returns an empty string when nothing is found. The digest, not full
// file contents, is what downstream task prompts receive.
func StructuralDigest(root string, maxFiles int) string {
	if maxFiles <= 0 {
		maxFiles = DefaultDigestFiles
	}

	var b strings.Builder
	rendered := 0

	// WalkDir visits entries in lexical order, so output is
	// deterministic for a fixed tree.
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if rendered >= maxFiles {
			return filepath.SkipAll
		}

		patterns, ok := signaturePatterns[filepath.Ext(path)]
		if !ok {
			return nil
		}

		sigs := extractSignatures(path, patterns)
		if len(sigs) == 0 {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		b.WriteString("### " + filepath.ToSlash(rel) + "\n")
		for _, sig := range sigs {
			b.WriteString(sig + "\n")
		}
		b.WriteString("\n")
		rendered++
		return nil
	})

	return strings.TrimRight(b.String(), "\n")
}

// extractSignatures scans a file line by line and returns the lines
// matching any of the given patterns, trimmed for prompt injection.
func extractSignatures(path string, patterns []*regexp.Regexp) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var sigs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		for _, p := range patterns {
			if p.MatchString(line) {
				sig := strings.TrimRight(line, " \t{")
				if len(sig) > 120 {
					sig = sig[:120]
				}
				sigs = append(sigs, sig)
				break
			}
		}
	}
	return sigs
}
