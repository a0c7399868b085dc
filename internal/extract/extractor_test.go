package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/quarry/internal/lang"
	"github.com/jward/quarry/internal/store"
)

// extractSource parses and extracts one in-memory file.
func extractSource(t *testing.T, langName, path, src string) *store.ExtractionResult {
	t.Helper()
	l, ok := lang.ForName(langName)
	require.True(t, ok, "language %s must be registered", langName)

	cache := lang.NewParserCache()
	t.Cleanup(cache.Close)
	tree, err := cache.Parse(context.Background(), l, path, []byte(src), false)
	require.NoError(t, err)

	ex := New()
	t.Cleanup(ex.Close)
	res, err := ex.Extract(path, l, []byte(src), tree)
	require.NoError(t, err)
	return res
}

func symbolByName(res *store.ExtractionResult, name string) *store.Symbol {
	for i := range res.Symbols {
		if res.Symbols[i].Name == name {
			return &res.Symbols[i]
		}
	}
	return nil
}

func edgeByCallee(res *store.ExtractionResult, callee string) *store.CallEdge {
	for i := range res.CallEdges {
		if res.CallEdges[i].CalleeName == callee {
			return &res.CallEdges[i]
		}
	}
	return nil
}

const goSample = `package mainlib

// Greeter holds a name.
type Greeter struct {
	name string
}

// Greet says hello.
func (g *Greeter) Greet() string {
	return greeting(g.name)
}

func greeting(name string) string {
	return "hello " + name
}

func run() {
	g := &Greeter{}
	g.Greet()
	greeting("world")
}
`

func TestExtract_GoSymbols(t *testing.T) {
	t.Parallel()
	res := extractSource(t, "go", "lib.go", goSample)

	greeter := symbolByName(res, "Greeter")
	require.NotNil(t, greeter)
	assert.Equal(t, store.KindStruct, greeter.Kind)
	assert.Equal(t, "public", greeter.Visibility)
	assert.Equal(t, "Greeter holds a name.", greeter.DocComment)

	greet := symbolByName(res, "Greet")
	require.NotNil(t, greet)
	assert.Equal(t, store.KindMethod, greet.Kind)
	assert.Equal(t, "public", greet.Visibility)

	g := symbolByName(res, "greeting")
	require.NotNil(t, g)
	assert.Equal(t, store.KindFunction, g.Kind)
	assert.Equal(t, "private", g.Visibility)
	assert.Contains(t, g.Params, "name")

	field := symbolByName(res, "name")
	require.NotNil(t, field)
	assert.Equal(t, store.KindField, field.Kind)
	require.NotNil(t, field.ParentID, "field belongs to its struct")
	assert.Equal(t, greeter.ID, *field.ParentID)

	// Every symbol has a valid span inside the file and a scope.
	for _, sym := range res.Symbols {
		assert.LessOrEqual(t, sym.StartOffset, sym.EndOffset, sym.Name)
		assert.LessOrEqual(t, sym.EndOffset, len(goSample), sym.Name)
		require.NotNil(t, sym.ScopeID, sym.Name)
	}
}

func TestExtract_GoCallEdges(t *testing.T) {
	t.Parallel()
	res := extractSource(t, "go", "lib.go", goSample)

	greet := symbolByName(res, "Greet")
	run := symbolByName(res, "run")
	require.NotNil(t, greet)
	require.NotNil(t, run)

	// greeting is called twice: from Greet and from run, both direct with
	// a single same-file candidate.
	var greetingEdges []*store.CallEdge
	for i := range res.CallEdges {
		if res.CallEdges[i].CalleeName == "greeting" {
			greetingEdges = append(greetingEdges, &res.CallEdges[i])
		}
	}
	require.Len(t, greetingEdges, 2)
	for _, e := range greetingEdges {
		assert.Equal(t, store.ConfidenceCertain, e.Confidence)
		require.NotNil(t, e.CalleeID)
	}

	// g.Greet() goes through a receiver of unknown type.
	methodEdge := edgeByCallee(res, "Greet")
	require.NotNil(t, methodEdge)
	assert.Equal(t, store.ConfidencePossible, methodEdge.Confidence)
	assert.Equal(t, store.ReasonDynamicReceiver, methodEdge.Reason)
	assert.Equal(t, run.ID, methodEdge.CallerID)
}

func TestExtract_GoImports(t *testing.T) {
	t.Parallel()
	res := extractSource(t, "go", "lib.go", "package x\n\nimport (\n\t\"fmt\"\n\t\"net/http\"\n)\n")
	require.Len(t, res.Imports, 2)
	assert.Equal(t, "fmt", res.Imports[0].Source)
	assert.Equal(t, "net/http", res.Imports[1].Source)
	assert.Equal(t, store.ImportModule, res.Imports[0].Kind)
}

func TestExtract_Deterministic(t *testing.T) {
	t.Parallel()
	a := extractSource(t, "go", "lib.go", goSample)
	b := extractSource(t, "go", "lib.go", goSample)
	assert.Equal(t, a, b)
}

func TestExtract_EmptyFile(t *testing.T) {
	t.Parallel()
	res := extractSource(t, "go", "empty.go", "")
	assert.Empty(t, res.Symbols)
	assert.Empty(t, res.References)
	assert.Empty(t, res.CallEdges)
	require.Len(t, res.Scopes, 1, "only the synthetic file scope")
	assert.Equal(t, store.ScopeFile, res.Scopes[0].Kind)
}

func TestExtract_CommentsOnlyFile(t *testing.T) {
	t.Parallel()
	res := extractSource(t, "python", "notes.py", "# just a comment\n# another\n")
	assert.Empty(t, res.Symbols)
	assert.Empty(t, res.References)
}

const pySample = `class Outer:
    def method(self):
        def inner():
            pass
        inner()

def _helper():
    pass
`

func TestExtract_PythonNestingAndFQN(t *testing.T) {
	t.Parallel()
	res := extractSource(t, "python", "app.py", pySample)

	outer := symbolByName(res, "Outer")
	method := symbolByName(res, "method")
	inner := symbolByName(res, "inner")
	require.NotNil(t, outer)
	require.NotNil(t, method)
	require.NotNil(t, inner)

	assert.Equal(t, store.KindClass, outer.Kind)
	require.NotNil(t, method.ParentID)
	assert.Equal(t, outer.ID, *method.ParentID)
	require.NotNil(t, inner.ParentID)
	assert.Equal(t, method.ID, *inner.ParentID)

	assert.Equal(t, "Outer.method", method.FQN)
	assert.Equal(t, "Outer.method.inner", inner.FQN)

	helper := symbolByName(res, "_helper")
	require.NotNil(t, helper)
	assert.Equal(t, "private", helper.Visibility)

	// inner() inside method resolves to the single local candidate.
	edge := edgeByCallee(res, "inner")
	require.NotNil(t, edge)
	assert.Equal(t, store.ConfidenceCertain, edge.Confidence)
	assert.Equal(t, method.ID, edge.CallerID)
}

func TestExtract_ScopeNesting(t *testing.T) {
	t.Parallel()
	res := extractSource(t, "python", "app.py", pySample)

	byID := make(map[int64]*store.Scope)
	for i := range res.Scopes {
		byID[res.Scopes[i].ID] = &res.Scopes[i]
	}
	for _, sc := range res.Scopes {
		if sc.ParentID == nil {
			assert.Equal(t, store.ScopeFile, sc.Kind)
			continue
		}
		parent := byID[*sc.ParentID]
		require.NotNil(t, parent, "parent scope exists in the same file")
		assert.LessOrEqual(t, parent.StartOffset, sc.StartOffset)
		assert.GreaterOrEqual(t, parent.EndOffset, sc.EndOffset)
	}
}

func TestExtract_HigherOrderCall(t *testing.T) {
	t.Parallel()
	src := `def apply(fn):
    fn()
`
	res := extractSource(t, "python", "hof.py", src)
	edge := edgeByCallee(res, "fn")
	require.NotNil(t, edge)
	assert.Equal(t, store.ConfidencePossible, edge.Confidence)
	assert.Equal(t, store.ReasonHigherOrder, edge.Reason)
}

func TestExtract_ExternalCall(t *testing.T) {
	t.Parallel()
	src := `def caller():
    missing()
`
	res := extractSource(t, "python", "ext.py", src)
	edge := edgeByCallee(res, "missing")
	require.NotNil(t, edge)
	assert.Equal(t, store.ConfidencePossible, edge.Confidence)
	assert.Equal(t, store.ReasonExternalLibrary, edge.Reason)
}

func TestExtract_MultipleCandidates(t *testing.T) {
	t.Parallel()
	// Two same-file defs with the same name (python allows redefinition).
	src := `def twice():
    pass

def twice(x):
    pass

def caller():
    twice()
`
	res := extractSource(t, "python", "dup.py", src)
	edge := edgeByCallee(res, "twice")
	require.NotNil(t, edge)
	assert.Equal(t, store.ConfidencePossible, edge.Confidence)
	assert.Equal(t, store.ReasonMultipleCandidates, edge.Reason)
}

func TestExtract_TypeScriptImports(t *testing.T) {
	t.Parallel()
	src := `import { helper } from "./util";
import * as fs from "fs";

export function main(): void {
  helper();
}
`
	res := extractSource(t, "typescript", "main.ts", src)

	var sources []string
	for _, imp := range res.Imports {
		sources = append(sources, imp.Source)
	}
	assert.Contains(t, sources, "./util")
	assert.Contains(t, sources, "fs")

	for _, imp := range res.Imports {
		if imp.Source == "./util" {
			assert.Equal(t, store.ImportRelative, imp.Kind)
		}
	}

	main := symbolByName(res, "main")
	require.NotNil(t, main)
	assert.Equal(t, "public", main.Visibility, "exported function is public")
}
