package quarry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jward/quarry/internal/store"
)

// QueryBuilder is the read-side API over the store. All operations run on
// the read pool against the WAL snapshot; none blocks a concurrent
// indexing run. Per-call deadlines come in through the context and
// surface as TimeoutError.
type QueryBuilder struct {
	store *store.Store
}

// Pagination controls offset+limit paging on list/search results.
type Pagination struct {
	Offset int
	Limit  int // default 50, max 500
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

// normalize returns a Pagination with defaults applied and bounds enforced.
func (p Pagination) normalize() Pagination {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	return p
}

// SymbolFilter narrows symbol queries. All fields are optional.
type SymbolFilter struct {
	Kinds      []string
	Language   string
	PathPrefix string
	NameGlob   string // '*' wildcard
	Tags       []string
}

// SymbolResult is a symbol row plus query-computed fields.
type SymbolResult struct {
	store.Symbol
	Score float64
	Meta  *store.FileMeta
	Tags  []store.FileTag
}

// PagedResult wraps a page of results with the total match count.
type PagedResult[T any] struct {
	Items      []T
	TotalCount int
}

// Reference re-exports the row type for callers of FindReferences.
type Reference = store.Reference

// Import re-exports the row type for callers of Imports.
type Import = store.Import

// qerr wraps errors from a query call with timeout mapping.
func qerr(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == context.DeadlineExceeded || err == context.Canceled {
		return &Error{Kind: TimeoutError, Op: op, Err: err}
	}
	return wrapErr(op, err)
}

// GetSymbol returns one symbol by ID, or nil when absent.
func (q *QueryBuilder) GetSymbol(ctx context.Context, id int64) (*store.Symbol, error) {
	if err := ctx.Err(); err != nil {
		return nil, qerr("get symbol", err)
	}
	sym, err := q.store.SymbolByID(id)
	return sym, qerr("get symbol", err)
}

// GetSymbols bulk-loads symbols by ID.
func (q *QueryBuilder) GetSymbols(ctx context.Context, ids []int64) (map[int64]*store.Symbol, error) {
	if err := ctx.Err(); err != nil {
		return nil, qerr("get symbols", err)
	}
	syms, err := q.store.SymbolsByIDs(ids)
	return syms, qerr("get symbols", err)
}

// SymbolAt returns the innermost symbol enclosing a (file, line, col)
// position, or nil when the position falls outside every symbol.
func (q *QueryBuilder) SymbolAt(ctx context.Context, file string, line, col int) (*store.Symbol, error) {
	if err := ctx.Err(); err != nil {
		return nil, qerr("symbol at", err)
	}
	syms, err := q.store.SymbolsByFile(file)
	if err != nil {
		return nil, qerr("symbol at", err)
	}

	var best *store.Symbol
	for _, sym := range syms {
		if !positionWithin(sym, line, col) {
			continue
		}
		// Later symbols start no earlier (source order), so the last
		// container is the innermost.
		if best == nil || sym.StartOffset >= best.StartOffset {
			best = sym
		}
	}
	return best, nil
}

func positionWithin(sym *store.Symbol, line, col int) bool {
	if line < sym.StartLine || line > sym.EndLine {
		return false
	}
	if line == sym.StartLine && col < sym.StartCol {
		return false
	}
	if line == sym.EndLine && col > sym.EndCol {
		return false
	}
	return true
}

// DefinitionOptions scope FindDefinition.
type DefinitionOptions struct {
	Language   string
	ParentName string // restrict to symbols whose parent has this name
	Kinds      []string
}

// FindDefinition resolves a name to zero or more definition rows.
func (q *QueryBuilder) FindDefinition(ctx context.Context, name string, opts DefinitionOptions) ([]*store.Symbol, error) {
	if err := ctx.Err(); err != nil {
		return nil, qerr("find definition", err)
	}
	syms, err := q.store.SymbolsByName(name)
	if err != nil {
		return nil, qerr("find definition", err)
	}

	var out []*store.Symbol
	for _, sym := range syms {
		if opts.Language != "" && sym.Language != opts.Language {
			continue
		}
		if len(opts.Kinds) > 0 && !containsString(opts.Kinds, sym.Kind) {
			continue
		}
		if opts.ParentName != "" {
			if sym.ParentID == nil {
				continue
			}
			parent, err := q.store.SymbolByID(*sym.ParentID)
			if err != nil {
				return nil, qerr("find definition", err)
			}
			if parent == nil || parent.Name != opts.ParentName {
				continue
			}
		}
		out = append(out, sym)
	}
	return out, nil
}

// ReferenceOptions configure FindReferences.
type ReferenceOptions struct {
	Kind             string // reference kind filter
	IncludeCallers   bool   // walk call edges inverse
	IncludeImporters bool   // walk imports inverse
	Depth            int    // caller BFS depth, default 1
	MaxDepth         int    // cap, default 10
}

// ReferenceReport is the FindReferences result.
type ReferenceReport struct {
	References []*store.Reference
	Callers    []*store.Symbol // transitive callers when requested
	Importers  []string        // files importing the definition files
}

// FindReferences returns the use sites of a name, optionally expanded
// with transitive callers and importing files.
func (q *QueryBuilder) FindReferences(ctx context.Context, name string, opts ReferenceOptions) (*ReferenceReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, qerr("find references", err)
	}
	refs, err := q.store.ReferencesByName(name, opts.Kind)
	if err != nil {
		return nil, qerr("find references", err)
	}
	report := &ReferenceReport{References: refs}

	if opts.IncludeCallers {
		depth := opts.Depth
		if depth <= 0 {
			depth = 1
		}
		maxDepth := opts.MaxDepth
		if maxDepth <= 0 {
			maxDepth = 10
		}
		if depth > maxDepth {
			depth = maxDepth
		}
		graph, err := q.AnalyzeCallGraph(ctx, name, DirectionIn, depth, false)
		if err != nil {
			return nil, err
		}
		if graph != nil {
			for _, node := range graph.Nodes {
				if node.Depth == 0 {
					continue
				}
				report.Callers = append(report.Callers, node.Symbol)
			}
		}
	}

	if opts.IncludeImporters {
		defs, err := q.store.SymbolsByName(name)
		if err != nil {
			return nil, qerr("find references", err)
		}
		seen := make(map[string]bool)
		for _, def := range defs {
			src := strings.TrimSuffix(def.FilePath, pathExt(def.FilePath))
			importers, err := q.store.ImportersOf(src)
			if err != nil {
				return nil, qerr("find references", err)
			}
			for _, p := range importers {
				if !seen[p] {
					seen[p] = true
					report.Importers = append(report.Importers, p)
				}
			}
		}
	}

	return report, nil
}

// ResolvedImport is an import row with the symbol it resolved to.
type ResolvedImport struct {
	Import *store.Import
	Target *store.Symbol // nil when the import does not resolve in-index
}

// Imports returns a file's imports. With resolve, each import is mapped
// onto an indexed symbol by imported name or module path where possible.
func (q *QueryBuilder) Imports(ctx context.Context, file string, resolve bool) ([]ResolvedImport, error) {
	if err := ctx.Err(); err != nil {
		return nil, qerr("imports", err)
	}
	imps, err := q.store.ImportsByFile(file)
	if err != nil {
		return nil, qerr("imports", err)
	}
	out := make([]ResolvedImport, 0, len(imps))
	for _, imp := range imps {
		ri := ResolvedImport{Import: imp}
		if resolve {
			target := imp.ImportedName
			if target == "" {
				target = lastSegment(imp.Source)
			}
			if target != "" {
				syms, err := q.store.SymbolsByName(target)
				if err != nil {
					return nil, qerr("imports", err)
				}
				if len(syms) > 0 {
					ri.Target = syms[0]
				}
			}
		}
		out = append(out, ri)
	}
	return out, nil
}

// ImportersOf is the reverse lookup: files that import the given source.
func (q *QueryBuilder) ImportersOf(ctx context.Context, source string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, qerr("importers of", err)
	}
	paths, err := q.store.ImportersOf(source)
	return paths, qerr("importers of", err)
}

// --- helpers ---

func containsString(items []string, s string) bool {
	for _, it := range items {
		if it == s {
			return true
		}
	}
	return false
}

func lastSegment(source string) string {
	source = strings.TrimSuffix(source, "/")
	if idx := strings.LastIndexAny(source, "/.:"); idx >= 0 {
		return source[idx+1:]
	}
	return source
}

func pathExt(p string) string {
	if idx := strings.LastIndexByte(p, '.'); idx >= 0 {
		return p[idx:]
	}
	return ""
}

// escapeLike escapes SQL LIKE special characters (% and _) with backslash.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// scanSymbolRows drains a symbol query issued with symbolSelectCols.
func scanSymbolRows(rows *sql.Rows) ([]*store.Symbol, error) {
	defer rows.Close()
	var out []*store.Symbol
	for rows.Next() {
		var sym store.Symbol
		if err := rows.Scan(
			&sym.ID, &sym.Name, &sym.Kind, &sym.FilePath, &sym.StartOffset, &sym.EndOffset,
			&sym.StartLine, &sym.StartCol, &sym.EndLine, &sym.EndCol, &sym.Language,
			&sym.Visibility, &sym.Signature, &sym.DocComment,
			&sym.ParentID, &sym.ScopeID, &sym.FQN, &sym.TypeParams, &sym.Params,
		); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		out = append(out, &sym)
	}
	return out, rows.Err()
}

// symbolSelectCols matches scanSymbolRows.
const symbolSelectCols = `s.id, s.name, s.kind, s.file_path, s.start_offset, s.end_offset,
	s.start_line, s.start_col, s.end_line, s.end_col, s.language,
	COALESCE(s.visibility, ''), COALESCE(s.signature, ''), COALESCE(s.doc_comment, ''),
	s.parent_id, s.scope_id, COALESCE(s.fqn, ''), COALESCE(s.type_params, ''), COALESCE(s.params, '')`
