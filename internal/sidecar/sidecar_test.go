package sidecar

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSidecar(t *testing.T, root, dir, content string) {
	t.Helper()
	full := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(full, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(full, Filename), []byte(content), 0o644))
}

func TestParse_FullEntry(t *testing.T) {
	t.Parallel()
	d, err := Parse([]byte(`tags:
  - core
files:
  store.go:
    doc1: storage layer
    purpose: owns all rows
    capabilities:
      - batch writes
    invariants:
      - no orphan rows
    security_notes:
      - no secrets in paths
    owner: data-team
    stability: stable
    tags:
      - storage
tag_rules:
  - pattern: "**/*_test.go"
    tags:
      - tests
    confidence: 0.9
`))
	require.NoError(t, err)
	require.Contains(t, d.Files, "store.go")
	entry := d.Files["store.go"]
	assert.Equal(t, "storage layer", entry.Doc1)
	assert.Equal(t, "stable", entry.Stability)
	assert.Equal(t, []string{"batch writes"}, entry.Capabilities)
	assert.Equal(t, []string{"core"}, d.Tags)
	require.Len(t, d.TagRules, 1)
	assert.Equal(t, 0.9, d.TagRules[0].Confidence)
}

func TestParse_RejectsBadStability(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte("files:\n  a.go:\n    stability: rock-solid\n"))
	require.ErrorIs(t, err, ErrInvalid)
}

func TestParse_RejectsBadRule(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte("tag_rules:\n  - pattern: \"\"\n    tags: [x]\n"))
	require.ErrorIs(t, err, ErrInvalid)

	_, err = Parse([]byte("tag_rules:\n  - pattern: \"*.go\"\n    tags: [x]\n    confidence: 3\n"))
	require.ErrorIs(t, err, ErrInvalid)
}

func TestParse_MalformedYAML(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte(":\n\t- ["))
	require.ErrorIs(t, err, ErrInvalid)
}

func TestResolver_NearestEntryWins(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeSidecar(t, root, "", "tags:\n  - rootwide\n")
	writeSidecar(t, root, "pkg", `tags:
  - pkgwide
files:
  handler.go:
    doc1: the handler
`)

	r, err := NewResolver(root)
	require.NoError(t, err)

	entry, dirTags, err := r.Entry("pkg/handler.go")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "the handler", entry.Doc1)
	assert.Equal(t, []string{"rootwide", "pkgwide"}, dirTags)

	none, _, err := r.Entry("pkg/other.go")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestResolver_TagRules(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeSidecar(t, root, "", `tag_rules:
  - pattern: "internal/**"
    tags:
      - internal
    confidence: 0.7
  - pattern: "*.py"
    tags:
      - python
`)

	r, err := NewResolver(root)
	require.NoError(t, err)
	require.Len(t, r.Rules(), 2)

	tags := r.InferTags("internal/store/db.go")
	require.Len(t, tags, 1)
	assert.Equal(t, "internal", tags[0].Tag)
	assert.Equal(t, 0.7, tags[0].Confidence)

	tags = r.InferTags("scripts/run.py")
	require.Len(t, tags, 1)
	assert.Equal(t, "python", tags[0].Tag)
	assert.Equal(t, 0.9, tags[0].Confidence, "default confidence")
}

func TestMaterialize_GrowthSafeguard(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeSidecar(t, root, "", `files:
  listed.go:
    doc1: listed
`)
	r, err := NewResolver(root)
	require.NoError(t, err)

	// No sidecar entry, no exports: nothing materializes.
	meta, tags, err := r.Materialize("plain.go", "", false)
	require.NoError(t, err)
	assert.Nil(t, meta)
	assert.Empty(t, tags)

	// Exported symbols alone are enough for an inferred row.
	meta, _, err = r.Materialize("exported.go", "abcd1234abcd1234", true)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "inferred", meta.Provenance)
	assert.Equal(t, "abcd1234abcd1234", meta.ExportedHash)
	assert.InDelta(t, 0.5, meta.Confidence, 0.001)

	// A sidecar entry wins over inference.
	meta, _, err = r.Materialize("listed.go", "", false)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "sidecar", meta.Provenance)
	assert.Equal(t, "listed", meta.Doc1)
}

func TestResolver_NoSidecarAnywhere(t *testing.T) {
	t.Parallel()
	r, err := NewResolver(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, r.Rules())

	entry, dirTags, err := r.Entry("a/b/c.go")
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Empty(t, dirTags)
}
