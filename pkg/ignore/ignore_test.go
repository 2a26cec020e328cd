package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTree creates files (relative path -> content) under root.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestParse(t *testing.T) {
	tests := map[string]struct {
		content string
		want    []string
	}{
		"blank lines skipped": {
			content: "\n*.pyc\n\n   \nbuild\n",
			want:    []string{"*.pyc", "build"},
		},
		"full line comments": {
			content: "# a comment\n*.log\n  # indented comment\n",
			want:    []string{"*.log"},
		},
		"trailing comments stripped": {
			content: "tests/*   # no tests in the cache\n",
			want:    []string{"tests/*"},
		},
		"surrounding whitespace trimmed": {
			content: "   docs   \n",
			want:    []string{"docs"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := parse(bufio.NewScanner(strings.NewReader(tc.content)))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMatch(t *testing.T) {
	m := NewMatcher("tests/*", "*.pyc", "build")

	tests := map[string]struct {
		path string
		want bool
	}{
		"glob under directory":       {path: "tests/test_x.py", want: true},
		"prefix is not enough":       {path: "testsomething/test_y.py", want: false},
		"star crosses separators":    {path: "pkg/sub/mod.pyc", want: true},
		"extension at root":          {path: "mod.pyc", want: true},
		"exact name":                 {path: "build", want: true},
		"exact name is not a prefix": {path: "builder", want: false},
		"ignore file always ignored": {path: ".tomeignore", want: true},
		"unrelated file":             {path: "greetings/hello.py", want: false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, m.Match(tc.path))
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	m, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []string{FileName}, m.Patterns())
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		".tomeignore":             "tests/*  # skip tests\n*.pyc\ndocs\n",
		"greetings/hello.py":      "print('hi')",
		"greetings/hello.pyc":     "bytecode",
		"tests/test_x.py":         "test",
		"testsomething/test_y.py": "kept",
		"docs/index.md":           "pruned dir",
		"sub/docs/nested.md":      "pruned by name anywhere",
		".git/HEAD":               "ref: refs/heads/main",
		"requirements.txt":        "requests",
	})

	dst := filepath.Join(t.TempDir(), "dest")
	stats, err := CopyTree(src, dst)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dst, "greetings", "hello.py"))
	assert.FileExists(t, filepath.Join(dst, "testsomething", "test_y.py"))
	assert.FileExists(t, filepath.Join(dst, "requirements.txt"))

	assert.NoFileExists(t, filepath.Join(dst, ".tomeignore"))
	assert.NoFileExists(t, filepath.Join(dst, "greetings", "hello.pyc"))
	assert.NoFileExists(t, filepath.Join(dst, "tests", "test_x.py"))
	assert.NoDirExists(t, filepath.Join(dst, "docs"))
	assert.NoDirExists(t, filepath.Join(dst, "sub", "docs"))
	assert.NoDirExists(t, filepath.Join(dst, ".git"))

	assert.Equal(t, 3, stats.Copied)
	// .tomeignore, hello.pyc and tests/test_x.py; pruned directories are not counted.
	assert.Equal(t, 3, stats.Ignored)
}

func TestCopyTreeEmptySource(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "dest")
	stats, err := CopyTree(t.TempDir(), dst)
	require.NoError(t, err)
	assert.DirExists(t, dst)
	assert.Equal(t, Stats{}, stats)
}

func TestCopyTreePreservesMode(t *testing.T) {
	src := t.TempDir()
	script := filepath.Join(src, "run.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755))

	dst := filepath.Join(t.TempDir(), "dest")
	_, err := CopyTree(src, dst)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dst, "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm()&0o755)
}

func TestCopyTreeSymlinks(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "id_rsa")
	require.NoError(t, os.WriteFile(outside, []byte("PRIVATE KEY"), 0o600))

	src := t.TempDir()
	writeTree(t, src, map[string]string{"bin/run.py": "print('run')"})
	require.NoError(t, os.Symlink(outside, filepath.Join(src, "notes.txt")))
	require.NoError(t, os.Symlink(filepath.Join("bin", "run.py"), filepath.Join(src, "run.py")))

	tests := map[string]struct {
		copy        func(src, dst string) (Stats, error)
		wantOutside bool
	}{
		"local copy follows links":  {copy: CopyTree, wantOutside: true},
		"fetched copy stays inside": {copy: CopyTreeWithin, wantOutside: false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			dst := filepath.Join(t.TempDir(), "dest")
			_, err := tc.copy(src, dst)
			require.NoError(t, err)

			_, err = os.Stat(filepath.Join(dst, "notes.txt"))
			assert.Equal(t, tc.wantOutside, err == nil)

			// links inside the tree are always copied as their target
			data, err := os.ReadFile(filepath.Join(dst, "run.py"))
			require.NoError(t, err)
			assert.Equal(t, "print('run')", string(data))
		})
	}
}
