package quarry

import (
	"context"

	"github.com/jward/quarry/internal/store"
)

// OutlineEntry is one symbol in a file outline, optionally with its
// enclosing scope chain (outermost first).
type OutlineEntry struct {
	Symbol     *store.Symbol
	ScopeChain []*store.Scope
}

// OutlineOptions configure FileOutline.
type OutlineOptions struct {
	StartLine     int // 0 means from the top
	EndLine       int // 0 means to the bottom
	IncludeScopes bool
}

// FileOutline returns a file's symbols in source order: (start_offset, id).
func (q *QueryBuilder) FileOutline(ctx context.Context, file string, opts OutlineOptions) ([]OutlineEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, qerr("file outline", err)
	}
	syms, err := q.store.SymbolsByFile(file)
	if err != nil {
		return nil, qerr("file outline", err)
	}

	var scopes []*store.Scope
	var scopesByID map[int64]*store.Scope
	if opts.IncludeScopes {
		scopes, err = q.store.ScopesByFile(file)
		if err != nil {
			return nil, qerr("file outline", err)
		}
		scopesByID = make(map[int64]*store.Scope, len(scopes))
		for _, sc := range scopes {
			scopesByID[sc.ID] = sc
		}
	}

	var out []OutlineEntry
	for _, sym := range syms {
		if opts.StartLine > 0 && sym.EndLine < opts.StartLine {
			continue
		}
		if opts.EndLine > 0 && sym.StartLine > opts.EndLine {
			continue
		}
		entry := OutlineEntry{Symbol: sym}
		if opts.IncludeScopes && sym.ScopeID != nil {
			entry.ScopeChain = scopeChain(scopesByID, *sym.ScopeID)
		}
		out = append(out, entry)
	}
	return out, nil
}

// scopeChain walks parents up from a scope, returning outermost first.
func scopeChain(byID map[int64]*store.Scope, id int64) []*store.Scope {
	var chain []*store.Scope
	for sc := byID[id]; sc != nil; {
		chain = append([]*store.Scope{sc}, chain...)
		if sc.ParentID == nil {
			break
		}
		sc = byID[*sc.ParentID]
	}
	return chain
}

// FileScopes returns the raw scope tree of a file.
func (q *QueryBuilder) FileScopes(ctx context.Context, file string) ([]*store.Scope, error) {
	if err := ctx.Err(); err != nil {
		return nil, qerr("file scopes", err)
	}
	scopes, err := q.store.ScopesByFile(file)
	return scopes, qerr("file scopes", err)
}
