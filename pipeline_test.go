package quarry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/quarry/internal/store"
)

// newTestEngine creates an Engine over a fresh temp root.
func newTestEngine(t *testing.T, opts ...Option) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	engine, err := Open(root, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine, root
}

func writeFile(t *testing.T, root, name, src string) string {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

// rowCounts snapshots the data tables.
func rowCounts(t *testing.T, e *Engine) map[string]int {
	t.Helper()
	stats, err := e.Query().Stats(context.Background())
	require.NoError(t, err)
	return stats.RowCounts
}

const libSrc = `package lib

func Foo() {
	bar()
}

func bar() {
}
`

const appSrc = `package lib

func run() {
	Foo()
}
`

func TestIndex_ColdRun(t *testing.T) {
	t.Parallel()
	engine, root := newTestEngine(t)
	writeFile(t, root, "lib.go", libSrc)
	writeFile(t, root, "app.go", appSrc)

	summary, err := engine.Index(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.ColdRun)
	assert.Equal(t, 2, summary.FilesConsidered)
	assert.Equal(t, 2, summary.FilesParsed)
	assert.Positive(t, summary.SymbolsExtracted)
	assert.Empty(t, summary.Warnings)

	defs, err := engine.Query().FindDefinition(context.Background(), "Foo", DefinitionOptions{})
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "lib.go", defs[0].FilePath)
}

func TestIndex_Idempotent(t *testing.T) {
	t.Parallel()
	engine, root := newTestEngine(t)
	writeFile(t, root, "lib.go", libSrc)
	writeFile(t, root, "app.go", appSrc)

	_, err := engine.Index(context.Background())
	require.NoError(t, err)
	first := rowCounts(t, engine)

	summary, err := engine.Index(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.ColdRun)
	assert.Zero(t, summary.FilesParsed, "unchanged files skip the parse stage")
	assert.Equal(t, first, rowCounts(t, engine))
}

func TestIndex_UnchangedContentMetadataDrift(t *testing.T) {
	t.Parallel()
	engine, root := newTestEngine(t)
	path := writeFile(t, root, "lib.go", libSrc)

	_, err := engine.Index(context.Background())
	require.NoError(t, err)
	first := rowCounts(t, engine)

	// Touch the file: mtime moves, bytes do not.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	summary, err := engine.Index(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.FilesParsed, "hash check catches the drift")
	assert.Equal(t, first, rowCounts(t, engine))

	tracked, err := engine.store.TrackedFiles()
	require.NoError(t, err)
	assert.Equal(t, future.UnixNano(), tracked["lib.go"].MtimeNS, "metadata refresh landed")
}

func TestIndex_EditReindexesOneFile(t *testing.T) {
	t.Parallel()
	engine, root := newTestEngine(t)
	writeFile(t, root, "lib.go", libSrc)
	writeFile(t, root, "app.go", appSrc)

	_, err := engine.Index(context.Background())
	require.NoError(t, err)

	// Add a function to lib.go only.
	writeFile(t, root, "lib.go", libSrc+"\nfunc extra() {\n}\n")
	bumpMtime(t, filepath.Join(root, "lib.go"))

	summary, err := engine.Index(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesParsed)

	defs, err := engine.Query().FindDefinition(context.Background(), "extra", DefinitionOptions{})
	require.NoError(t, err)
	assert.Len(t, defs, 1)

	// No duplicate rows for the re-indexed file.
	syms, err := engine.store.SymbolsByFile("lib.go")
	require.NoError(t, err)
	names := make(map[string]int)
	for _, sym := range syms {
		names[sym.Name]++
	}
	assert.Equal(t, 1, names["Foo"])
	assert.Equal(t, 1, names["bar"])
}

func bumpMtime(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
}

func TestIndex_DeletedFileRemoved(t *testing.T) {
	t.Parallel()
	engine, root := newTestEngine(t)
	writeFile(t, root, "lib.go", libSrc)
	path := writeFile(t, root, "extra.go", "package lib\n\nfunc gone() {\n}\n")

	_, err := engine.Index(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	summary, err := engine.Index(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesDeleted)

	defs, err := engine.Query().FindDefinition(context.Background(), "gone", DefinitionOptions{})
	require.NoError(t, err)
	assert.Empty(t, defs)

	tracked, err := engine.store.TrackedFiles()
	require.NoError(t, err)
	assert.NotContains(t, tracked, "extra.go")
}

func TestForget_IsPureInverse(t *testing.T) {
	t.Parallel()
	engine, root := newTestEngine(t)
	writeFile(t, root, "lib.go", libSrc)
	target := writeFile(t, root, "extra.go", "package lib\n\nfunc gone() {\n}\n")

	_, err := engine.Index(context.Background())
	require.NoError(t, err)

	require.NoError(t, engine.Forget(context.Background(), target))

	// Re-index restores exactly the pre-forget state.
	_, err = engine.Index(context.Background())
	require.NoError(t, err)
	after := rowCounts(t, engine)

	fresh, freshRoot := newTestEngine(t)
	writeFile(t, freshRoot, "lib.go", libSrc)
	writeFile(t, freshRoot, "extra.go", "package lib\n\nfunc gone() {\n}\n")
	_, err = fresh.Index(context.Background())
	require.NoError(t, err)
	clean := rowCounts(t, fresh)

	assert.Equal(t, clean, after)
}

func TestIndexSingle_NewAndModified(t *testing.T) {
	t.Parallel()
	engine, root := newTestEngine(t)
	writeFile(t, root, "lib.go", libSrc)
	_, err := engine.Index(context.Background())
	require.NoError(t, err)

	// New file through the single-file path (what the watcher does).
	path := writeFile(t, root, "late.go", "package lib\n\nfunc late() {\n}\n")
	require.NoError(t, engine.IndexSingle(context.Background(), path))

	defs, err := engine.Query().FindDefinition(context.Background(), "late", DefinitionOptions{})
	require.NoError(t, err)
	require.Len(t, defs, 1)

	// Modify and re-run; the old symbol disappears.
	writeFile(t, root, "late.go", "package lib\n\nfunc later() {\n}\n")
	require.NoError(t, engine.IndexSingle(context.Background(), path))

	defs, err = engine.Query().FindDefinition(context.Background(), "late", DefinitionOptions{})
	require.NoError(t, err)
	assert.Empty(t, defs)
	defs, err = engine.Query().FindDefinition(context.Background(), "later", DefinitionOptions{})
	require.NoError(t, err)
	assert.Len(t, defs, 1)
}

func TestIndex_Rename(t *testing.T) {
	t.Parallel()
	engine, root := newTestEngine(t)
	writeFile(t, root, "old.go", libSrc)

	_, err := engine.Index(context.Background())
	require.NoError(t, err)
	before := rowCounts(t, engine)["symbols"]

	require.NoError(t, os.Rename(filepath.Join(root, "old.go"), filepath.Join(root, "new.go")))
	_, err = engine.Index(context.Background())
	require.NoError(t, err)

	tracked, err := engine.store.TrackedFiles()
	require.NoError(t, err)
	assert.NotContains(t, tracked, "old.go")
	assert.Contains(t, tracked, "new.go")
	assert.Equal(t, before, rowCounts(t, engine)["symbols"], "symbol count unchanged across rename")
}

func TestIndex_ZeroLengthFile(t *testing.T) {
	t.Parallel()
	engine, root := newTestEngine(t)
	writeFile(t, root, "empty.go", "")

	summary, err := engine.Index(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesParsed)

	tracked, err := engine.store.TrackedFiles()
	require.NoError(t, err)
	require.Contains(t, tracked, "empty.go")
	assert.Zero(t, tracked["empty.go"].SymbolCount)
}

func TestIndex_OversizeFileTrackedWithWarning(t *testing.T) {
	t.Parallel()
	engine, root := newTestEngine(t, WithMaxFileSize(64))
	writeFile(t, root, "big.go", "package lib\n\n// "+string(make([]byte, 200))+"\n")

	summary, err := engine.Index(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, summary.Warnings)

	tracked, err := engine.store.TrackedFiles()
	require.NoError(t, err)
	require.Contains(t, tracked, "big.go")
	assert.Zero(t, tracked["big.go"].SymbolCount)

	// The next run does not retry it.
	summary, err = engine.Index(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.FilesParsed)
}

func TestIndex_UnparseableFileTracked(t *testing.T) {
	t.Parallel()
	engine, root := newTestEngine(t)
	// Severely broken input still yields a (error-heavy) tree from
	// tree-sitter, so extraction is just empty rather than fatal.
	writeFile(t, root, "junk.go", "\x00\x01\x02 not go at all }}}}")

	summary, err := engine.Index(context.Background())
	require.NoError(t, err)

	tracked, err := engine.store.TrackedFiles()
	require.NoError(t, err)
	assert.Contains(t, tracked, "junk.go")
	_ = summary
}

func TestIndex_IgnoresUnknownExtensionsAndGitignore(t *testing.T) {
	t.Parallel()
	engine, root := newTestEngine(t)
	writeFile(t, root, "lib.go", libSrc)
	writeFile(t, root, "README.md", "# nope\n")
	writeFile(t, root, ".gitignore", "generated/\n")
	writeFile(t, root, "generated/gen.go", "package gen\n\nfunc Gen() {\n}\n")

	summary, err := engine.Index(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesConsidered)

	defs, err := engine.Query().FindDefinition(context.Background(), "Gen", DefinitionOptions{})
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestIndex_EmptyRootIsNoOp(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t)
	summary, err := engine.Index(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.FilesConsidered)
	assert.Zero(t, summary.FilesParsed)
}

func TestIndex_LanguageFilter(t *testing.T) {
	t.Parallel()
	engine, root := newTestEngine(t, WithLanguages("python"))
	writeFile(t, root, "lib.go", libSrc)
	writeFile(t, root, "app.py", "def entry():\n    pass\n")

	summary, err := engine.Index(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesConsidered)

	defs, err := engine.Query().FindDefinition(context.Background(), "entry", DefinitionOptions{})
	require.NoError(t, err)
	assert.Len(t, defs, 1)
}

func TestIndex_SidecarMetadata(t *testing.T) {
	t.Parallel()
	engine, root := newTestEngine(t)
	writeFile(t, root, "lib.go", libSrc)
	writeFile(t, root, "internalonly.go", "package lib\n\nfunc tiny() {\n}\n")
	writeFile(t, root, ".code-indexer.yml", `tags:
  - core
files:
  lib.go:
    doc1: library entry points
    stability: stable
    tags:
      - api
tag_rules:
  - pattern: "*.go"
    tags:
      - golang
    confidence: 0.8
`)

	_, err := engine.Index(context.Background())
	require.NoError(t, err)

	metas, tags, err := engine.store.FileMetaBatch([]string{"lib.go", "internalonly.go"})
	require.NoError(t, err)

	require.Contains(t, metas, "lib.go")
	assert.Equal(t, "library entry points", metas["lib.go"].Doc1)
	assert.Equal(t, store.ProvenanceSidecar, metas["lib.go"].Provenance)

	var tagNames []string
	for _, tag := range tags["lib.go"] {
		tagNames = append(tagNames, tag.Tag)
	}
	assert.Contains(t, tagNames, "api")
	assert.Contains(t, tagNames, "core")
	assert.Contains(t, tagNames, "golang")

	// internalonly.go has no exported symbols and no sidecar entry: the
	// growth safeguard keeps it out of file_meta.
	assert.NotContains(t, metas, "internalonly.go")
}

func TestProgress_Counters(t *testing.T) {
	t.Parallel()
	engine, root := newTestEngine(t)
	for _, name := range []string{"a.go", "b.go", "c.go"} {
		writeFile(t, root, name, libSrc)
	}

	_, err := engine.Index(context.Background())
	require.NoError(t, err)

	snap := engine.Progress().Snapshot()
	assert.Equal(t, int64(3), snap.Total)
	assert.Equal(t, int64(3), snap.Processed)
	assert.Positive(t, snap.Throughput())
}
