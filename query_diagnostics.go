package quarry

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jward/quarry/internal/store"
)

// deadCodeFunctionKinds and deadCodeTypeKinds split the dead-code report
// the way the stats invariant wants: total == functions + types.
var deadCodeFunctionKinds = []string{store.KindFunction, store.KindMethod, store.KindMacro}
var deadCodeTypeKinds = []string{
	store.KindClass, store.KindStruct, store.KindInterface,
	store.KindTrait, store.KindEnum, store.KindTypeAlias,
}

// entryPointNames are never reported dead: runtimes call them, not code.
var entryPointNames = map[string]bool{
	"main":     true,
	"init":     true,
	"__init__": true,
	"__main__": true,
	"setup":    true,
	"teardown": true,
}

// DeadCodeReport lists symbols with no incoming references and no
// incoming call edges. Public symbols are treated as always-live: the
// index cannot see external callers, so reporting exports would be noise.
type DeadCodeReport struct {
	UnusedFunctions []*store.Symbol
	UnusedTypes     []*store.Symbol
}

// Total is the dead-code decomposition invariant's left-hand side.
func (r *DeadCodeReport) Total() int {
	return len(r.UnusedFunctions) + len(r.UnusedTypes)
}

// DeadCode reports unused private symbols.
func (q *QueryBuilder) DeadCode(ctx context.Context, filter SymbolFilter) (*DeadCodeReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, qerr("dead code", err)
	}

	report := &DeadCodeReport{}
	var err error
	if report.UnusedFunctions, err = q.deadByKinds(ctx, deadCodeFunctionKinds, filter); err != nil {
		return nil, err
	}
	if report.UnusedTypes, err = q.deadByKinds(ctx, deadCodeTypeKinds, filter); err != nil {
		return nil, err
	}
	return report, nil
}

func (q *QueryBuilder) deadByKinds(ctx context.Context, kinds []string, filter SymbolFilter) ([]*store.Symbol, error) {
	where, args := filterClauses(filter)
	placeholders := strings.Repeat("?,", len(kinds)-1) + "?"
	where = append(where,
		"s.kind IN ("+placeholders+")",
		"NOT EXISTS (SELECT 1 FROM symbol_references r WHERE r.target_symbol_id = s.id)",
		"NOT EXISTS (SELECT 1 FROM call_edges ce WHERE ce.callee_id = s.id)",
	)
	for _, k := range kinds {
		args = append(args, k)
	}

	sqlText := "SELECT " + symbolSelectCols + " FROM symbols s WHERE " +
		strings.Join(where, " AND ") + " ORDER BY s.file_path, s.start_offset"

	rows, err := q.store.ReadDB().QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, qerr("dead code", err)
	}
	syms, err := scanSymbolRows(rows)
	if err != nil {
		return nil, qerr("dead code", err)
	}

	var out []*store.Symbol
	for _, sym := range syms {
		if sym.Visibility == "public" || sym.Visibility == "protected" || sym.Visibility == "" {
			continue
		}
		if entryPointNames[sym.Name] {
			continue
		}
		if strings.HasPrefix(sym.Name, "__") && strings.HasSuffix(sym.Name, "__") {
			continue
		}
		if strings.HasPrefix(sym.Name, "Test") || strings.HasPrefix(sym.Name, "test_") {
			continue
		}
		out = append(out, sym)
	}
	return out, nil
}

// FunctionMetrics are per-function size and complexity numbers.
type FunctionMetrics struct {
	Symbol     *store.Symbol
	LOC        int
	ParamCount int
	// Cyclomatic approximates branching from the stored scope tree: one
	// plus the block scopes nested inside the function span.
	Cyclomatic int
}

// Metrics computes per-function metrics for one file.
func (q *QueryBuilder) Metrics(ctx context.Context, file string) ([]FunctionMetrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, qerr("metrics", err)
	}
	syms, err := q.store.SymbolsByFile(file)
	if err != nil {
		return nil, qerr("metrics", err)
	}
	scopes, err := q.store.ScopesByFile(file)
	if err != nil {
		return nil, qerr("metrics", err)
	}

	var out []FunctionMetrics
	for _, sym := range syms {
		if sym.Kind != store.KindFunction && sym.Kind != store.KindMethod {
			continue
		}
		m := FunctionMetrics{
			Symbol:     sym,
			LOC:        sym.EndLine - sym.StartLine + 1,
			ParamCount: countParams(sym.Params),
			Cyclomatic: 1,
		}
		blocks := 0
		for _, sc := range scopes {
			if sc.Kind != store.ScopeBlock {
				continue
			}
			if sc.StartOffset > sym.StartOffset && sc.EndOffset <= sym.EndOffset {
				blocks++
			}
		}
		m.Cyclomatic += blocks
		out = append(out, m)
	}
	return out, nil
}

func countParams(paramsJSON string) int {
	if paramsJSON == "" {
		return 0
	}
	var params []json.RawMessage
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		return 0
	}
	return len(params)
}

// Stats summarizes the index.
type Stats struct {
	TotalFiles    int
	TotalSymbols  int
	SymbolsByKind map[string]int
	FilesByLang   map[string]int
	RowCounts     map[string]int
	Revision      int64
}

// Stats returns counts per kind, per language, and per table. The kind
// counts always sum to TotalSymbols.
func (q *QueryBuilder) Stats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, qerr("stats", err)
	}
	st := &Stats{
		SymbolsByKind: make(map[string]int),
		FilesByLang:   make(map[string]int),
		RowCounts:     make(map[string]int),
	}
	db := q.store.ReadDB()

	rows, err := db.QueryContext(ctx, "SELECT kind, COUNT(*) FROM symbols GROUP BY kind")
	if err != nil {
		return nil, qerr("stats", err)
	}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			rows.Close()
			return nil, qerr("stats", err)
		}
		st.SymbolsByKind[kind] = n
		st.TotalSymbols += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, qerr("stats", err)
	}

	rows, err = db.QueryContext(ctx, "SELECT language, COUNT(*) FROM files GROUP BY language")
	if err != nil {
		return nil, qerr("stats", err)
	}
	for rows.Next() {
		var lang string
		var n int
		if err := rows.Scan(&lang, &n); err != nil {
			rows.Close()
			return nil, qerr("stats", err)
		}
		st.FilesByLang[lang] = n
		st.TotalFiles += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, qerr("stats", err)
	}

	for _, table := range []string{
		"files", "symbols", "symbol_references", "imports", "scopes",
		"call_edges", "file_meta", "file_tags", "tag_rules",
	} {
		var n int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, qerr("stats", err)
		}
		st.RowCounts[table] = n
	}

	rev, err := q.store.Revision()
	if err != nil {
		return nil, qerr("stats", err)
	}
	st.Revision = rev
	return st, nil
}
