package fs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/fs"
	"go.trai.ch/kiln/internal/core/domain"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestWalker_WalkFiles(t *testing.T) {
	tmpDir := t.TempDir()

	writeFile(t, filepath.Join(tmpDir, ".git", "config"), "git config")
	writeFile(t, filepath.Join(tmpDir, ".kiln", "store", "entry.json"), "{}")
	writeFile(t, filepath.Join(tmpDir, "ignored", "file"), "ignored content")
	writeFile(t, filepath.Join(tmpDir, "src", "main.go"), "package main")
	writeFile(t, filepath.Join(tmpDir, "README.md"), "# Readme")

	walker := fs.NewWalker()
	ignores := []string{"ignored"}

	files := make(map[string]bool)
	for path := range walker.WalkFiles(tmpDir, ignores) {
		rel, err := filepath.Rel(tmpDir, path)
		require.NoError(t, err)
		files[filepath.ToSlash(rel)] = true
	}

	require.False(t, files[".git/config"], "expected .git/config to be skipped")
	require.False(t, files[".kiln/store/entry.json"], "expected cache tree to be skipped")
	require.True(t, files["src/main.go"])
	require.True(t, files["README.md"])
}

func TestHasher_HashInputs_Stable(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, "src", "main.go"), "package main")
	writeFile(t, filepath.Join(tmpDir, "src", "util.go"), "package main")

	hasher := fs.NewHasher(fs.NewWalker())

	first, err := hasher.HashInputs([]string{"src"}, tmpDir)
	require.NoError(t, err)

	second, err := hasher.HashInputs([]string{"src"}, tmpDir)
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestHasher_HashInputs_ChangesWithContent(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, "main.go"), "package main")

	hasher := fs.NewHasher(fs.NewWalker())

	before, err := hasher.HashInputs([]string{"main.go"}, tmpDir)
	require.NoError(t, err)

	writeFile(t, filepath.Join(tmpDir, "main.go"), "package main // changed")

	after, err := hasher.HashInputs([]string{"main.go"}, tmpDir)
	require.NoError(t, err)

	require.NotEqual(t, before, after)
}

func TestHasher_HashInputs_Glob(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, "a.txt"), "a")
	writeFile(t, filepath.Join(tmpDir, "b.txt"), "b")
	writeFile(t, filepath.Join(tmpDir, "c.md"), "c")

	hasher := fs.NewHasher(fs.NewWalker())

	glob, err := hasher.HashInputs([]string{"*.txt"}, tmpDir)
	require.NoError(t, err)

	explicit, err := hasher.HashInputs([]string{"a.txt", "b.txt"}, tmpDir)
	require.NoError(t, err)

	require.Equal(t, explicit, glob)
}

func TestHasher_HashInputs_MissingInput(t *testing.T) {
	tmpDir := t.TempDir()

	hasher := fs.NewHasher(fs.NewWalker())

	_, err := hasher.HashInputs([]string{"does-not-exist.go"}, tmpDir)
	require.ErrorIs(t, err, domain.ErrInputNotFound)
}

func TestHasher_HashInputs_MovedTree(t *testing.T) {
	// The digest uses root-relative paths so that relocating the project
	// does not invalidate the cache.
	dirA := filepath.Join(t.TempDir(), "a")
	dirB := filepath.Join(t.TempDir(), "b")
	writeFile(t, filepath.Join(dirA, "src", "main.go"), "package main")
	writeFile(t, filepath.Join(dirB, "src", "main.go"), "package main")

	hasher := fs.NewHasher(fs.NewWalker())

	hashA, err := hasher.HashInputs([]string{"src"}, dirA)
	require.NoError(t, err)

	hashB, err := hasher.HashInputs([]string{"src"}, dirB)
	require.NoError(t, err)

	require.Equal(t, hashA, hashB)
}
