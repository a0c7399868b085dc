package quarry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/quarry/internal/store"
)

// findModuleRoot walks up from cwd to find go.mod, returning the repo root.
func findModuleRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find module root")
		}
		dir = parent
	}
}

// indexFixtureDir indexes one of the checked-in testdata trees through a
// temp database.
func indexFixtureDir(t *testing.T, level string) *Engine {
	t.Helper()
	root := filepath.Join(findModuleRoot(t), "testdata", "go", level)
	engine, err := Open(root, WithDBPath(filepath.Join(t.TempDir(), "fixture.db")))
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	_, err = engine.Index(context.Background())
	require.NoError(t, err)
	return engine
}

func TestFixture_StructsAndInterfaces(t *testing.T) {
	t.Parallel()
	engine := indexFixtureDir(t, "level-02-structs-interfaces")
	q := engine.Query()
	ctx := context.Background()

	defs, err := q.FindDefinition(ctx, "Config", DefinitionOptions{})
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, store.KindStruct, defs[0].Kind)

	defs, err = q.FindDefinition(ctx, "Handler", DefinitionOptions{})
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, store.KindInterface, defs[0].Kind)

	// Handle is declared on the interface and implemented on Server.
	defs, err = q.FindDefinition(ctx, "Handle", DefinitionOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, defs)

	res, err := q.SearchSymbols(ctx, "Server", SearchOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Items)
}

func TestFixture_GenericsTypeParams(t *testing.T) {
	t.Parallel()
	engine := indexFixtureDir(t, "level-06-generics")
	q := engine.Query()

	defs, err := q.FindDefinition(context.Background(), "Map", DefinitionOptions{})
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Contains(t, defs[0].TypeParams, "T")
	assert.Contains(t, defs[0].TypeParams, "U")
	assert.Contains(t, defs[0].Params, "items")
}

func TestFixture_HigherOrderCalls(t *testing.T) {
	t.Parallel()
	engine := indexFixtureDir(t, "level-07-closures-higher-order")

	// Apply calls its fn parameter: the edge must be possible with the
	// higher-order reason, never a fake certain edge.
	edges, err := engine.store.AllCallEdges()
	require.NoError(t, err)

	var fnEdge *store.CallEdge
	for _, e := range edges {
		if e.CalleeName == "fn" {
			fnEdge = e
		}
	}
	require.NotNil(t, fnEdge)
	assert.Equal(t, store.ConfidencePossible, fnEdge.Confidence)
	assert.Equal(t, store.ReasonHigherOrder, fnEdge.Reason)

	// main -> Adder and main -> Apply are direct single-candidate calls.
	for _, callee := range []string{"Adder", "Apply"} {
		found := false
		for _, e := range edges {
			if e.CalleeName == callee {
				found = true
				assert.Equal(t, store.ConfidenceCertain, e.Confidence, callee)
			}
		}
		assert.True(t, found, callee)
	}
}

// TestFixture_AllLevelsInvariants sweeps every checked-in tree and holds
// the cross-table invariants on each.
func TestFixture_AllLevelsInvariants(t *testing.T) {
	t.Parallel()
	base := filepath.Join(findModuleRoot(t), "testdata", "go")
	levels, err := os.ReadDir(base)
	require.NoError(t, err)

	for _, level := range levels {
		if !level.IsDir() {
			continue
		}
		t.Run(level.Name(), func(t *testing.T) {
			t.Parallel()
			engine := indexFixtureDir(t, level.Name())
			ctx := context.Background()
			db := engine.store.ReadDB()

			stats, err := engine.Query().Stats(ctx)
			require.NoError(t, err)
			assert.Positive(t, stats.TotalSymbols)

			// Every data row's file path exists in the files table.
			for _, pair := range [][2]string{
				{"symbols", "file_path"},
				{"symbol_references", "file_path"},
				{"imports", "file_path"},
				{"scopes", "file_path"},
				{"call_edges", "file_path"},
			} {
				var orphans int
				require.NoError(t, db.QueryRow(
					"SELECT COUNT(*) FROM "+pair[0]+
						" WHERE "+pair[1]+" NOT IN (SELECT path FROM files)",
				).Scan(&orphans))
				assert.Zero(t, orphans, "%s has orphan rows", pair[0])
			}

			// Call edge endpoints reference live symbols.
			var bad int
			require.NoError(t, db.QueryRow(
				`SELECT COUNT(*) FROM call_edges
				 WHERE caller_id NOT IN (SELECT id FROM symbols)
				    OR (callee_id IS NOT NULL AND callee_id NOT IN (SELECT id FROM symbols))`,
			).Scan(&bad))
			assert.Zero(t, bad)

			// Parents live in the same file, spans nest.
			require.NoError(t, db.QueryRow(
				`SELECT COUNT(*) FROM symbols s JOIN symbols p ON s.parent_id = p.id
				 WHERE s.file_path != p.file_path`,
			).Scan(&bad))
			assert.Zero(t, bad)
			require.NoError(t, db.QueryRow(
				`SELECT COUNT(*) FROM scopes c JOIN scopes p ON c.parent_id = p.id
				 WHERE c.file_path != p.file_path
				    OR c.start_offset < p.start_offset
				    OR c.end_offset > p.end_offset`,
			).Scan(&bad))
			assert.Zero(t, bad)

			// FTS parity.
			var fts int
			require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM symbols_fts").Scan(&fts))
			assert.Equal(t, stats.TotalSymbols, fts)

			// Idempotence: a second run changes nothing.
			before := stats.RowCounts
			summary, err := engine.Index(ctx)
			require.NoError(t, err)
			assert.Zero(t, summary.FilesParsed)
			after, err := engine.Query().Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, before, after.RowCounts)
		})
	}
}
