package walk

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, name, src string) {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
}

func paths(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Path
	}
	return out
}

func TestWalk_FiltersAndOrders(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "z.go", "package z")
	writeFile(t, root, "a.go", "package a")
	writeFile(t, root, "sub/m.py", "pass")
	writeFile(t, root, "README.md", "not code")
	writeFile(t, root, "node_modules/dep/index.js", "skip me")
	writeFile(t, root, ".hidden/h.go", "package h")

	w, err := New(root)
	require.NoError(t, err)
	cands, err := w.Walk()
	require.NoError(t, err)

	got := paths(cands)
	assert.Equal(t, []string{"a.go", "sub/m.py", "z.go"}, got)
	assert.True(t, sort.StringsAreSorted(got), "lexicographic order")
}

func TestWalk_HonorsGitignore(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "build/\nsecret.go\n")
	writeFile(t, root, "keep.go", "package keep")
	writeFile(t, root, "secret.go", "package secret")
	writeFile(t, root, "build/out.go", "package out")

	w, err := New(root)
	require.NoError(t, err)
	cands, err := w.Walk()
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.go"}, paths(cands))
}

func TestWalk_FlagsOversizeFiles(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "big.go", string(make([]byte, 128)))
	writeFile(t, root, "small.go", "package s")

	w, err := New(root, WithMaxFileSize(64))
	require.NoError(t, err)
	cands, err := w.Walk()
	require.NoError(t, err)
	require.Len(t, cands, 2)

	byPath := map[string]Candidate{}
	for _, c := range cands {
		byPath[c.Path] = c
	}
	assert.True(t, byPath["big.go"].TooLarge)
	assert.False(t, byPath["small.go"].TooLarge)
}

func TestWalk_SymlinkLoopBroken(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "sub/real.go", "package sub")
	// sub/loop -> sub creates a cycle when followed.
	err := os.Symlink(filepath.Join(root, "sub"), filepath.Join(root, "sub", "loop"))
	if err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	w, err := New(root)
	require.NoError(t, err)
	cands, err := w.Walk()
	require.NoError(t, err)
	assert.Equal(t, []string{"sub/real.go"}, paths(cands))
}

func TestWalk_EmptyRoot(t *testing.T) {
	t.Parallel()
	w, err := New(t.TempDir())
	require.NoError(t, err)
	cands, err := w.Walk()
	require.NoError(t, err)
	assert.Empty(t, cands)
}
