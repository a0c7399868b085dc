package store

import (
	"database/sql"
	"fmt"
)

// symbolCols is the canonical column list for scanning a Symbol.
const symbolCols = `id, name, kind, file_path, start_offset, end_offset,
	start_line, start_col, end_line, end_col, language,
	COALESCE(visibility, ''), COALESCE(signature, ''), COALESCE(doc_comment, ''),
	parent_id, scope_id, COALESCE(fqn, ''), COALESCE(type_params, ''), COALESCE(params, '')`

// scanSymbol scans one row in symbolCols order.
func scanSymbol(row interface{ Scan(...any) error }) (*Symbol, error) {
	var sym Symbol
	err := row.Scan(
		&sym.ID, &sym.Name, &sym.Kind, &sym.FilePath, &sym.StartOffset, &sym.EndOffset,
		&sym.StartLine, &sym.StartCol, &sym.EndLine, &sym.EndCol, &sym.Language,
		&sym.Visibility, &sym.Signature, &sym.DocComment,
		&sym.ParentID, &sym.ScopeID, &sym.FQN, &sym.TypeParams, &sym.Params,
	)
	if err != nil {
		return nil, err
	}
	return &sym, nil
}

// FileByPath returns the tracking row for a path, or nil when untracked.
func (s *Store) FileByPath(path string) (*File, error) {
	var f File
	err := s.rdb.QueryRow(
		"SELECT path, language, content_hash, size, mtime_ns, symbol_count FROM files WHERE path = ?",
		path,
	).Scan(&f.Path, &f.Language, &f.ContentHash, &f.Size, &f.MtimeNS, &f.SymbolCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by path: %w", err)
	}
	return &f, nil
}

// SymbolByID returns one symbol, or nil when absent.
func (s *Store) SymbolByID(id int64) (*Symbol, error) {
	row := s.rdb.QueryRow("SELECT "+symbolCols+" FROM symbols WHERE id = ?", id)
	sym, err := scanSymbol(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("symbol by id: %w", err)
	}
	return sym, nil
}

// SymbolsByIDs bulk-loads symbols, keyed by ID. Missing IDs are absent.
func (s *Store) SymbolsByIDs(ids []int64) (map[int64]*Symbol, error) {
	out := make(map[int64]*Symbol, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.rdb.Query(
		"SELECT "+symbolCols+" FROM symbols WHERE id IN ("+placeholderList(len(ids))+")",
		int64sToArgs(ids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("symbols by ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, fmt.Errorf("symbols by ids: scan: %w", err)
		}
		out[sym.ID] = sym
	}
	return out, rows.Err()
}

// SymbolsByName returns all symbols with an exact name match.
func (s *Store) SymbolsByName(name string) ([]*Symbol, error) {
	rows, err := s.rdb.Query(
		"SELECT "+symbolCols+" FROM symbols WHERE name = ? ORDER BY file_path, start_offset", name,
	)
	if err != nil {
		return nil, fmt.Errorf("symbols by name: %w", err)
	}
	defer rows.Close()
	var syms []*Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, fmt.Errorf("symbols by name: scan: %w", err)
		}
		syms = append(syms, sym)
	}
	return syms, rows.Err()
}

// SymbolsByFile returns a file's symbols in source order.
func (s *Store) SymbolsByFile(path string) ([]*Symbol, error) {
	rows, err := s.rdb.Query(
		"SELECT "+symbolCols+" FROM symbols WHERE file_path = ? ORDER BY start_offset, id", path,
	)
	if err != nil {
		return nil, fmt.Errorf("symbols by file: %w", err)
	}
	defer rows.Close()
	var syms []*Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, fmt.Errorf("symbols by file: scan: %w", err)
		}
		syms = append(syms, sym)
	}
	return syms, rows.Err()
}

// ScopesByFile returns a file's scopes ordered by start offset.
func (s *Store) ScopesByFile(path string) ([]*Scope, error) {
	rows, err := s.rdb.Query(
		`SELECT id, file_path, parent_id, kind, COALESCE(name, ''), start_offset, end_offset
		 FROM scopes WHERE file_path = ? ORDER BY start_offset, id`, path,
	)
	if err != nil {
		return nil, fmt.Errorf("scopes by file: %w", err)
	}
	defer rows.Close()
	var scopes []*Scope
	for rows.Next() {
		var sc Scope
		if err := rows.Scan(&sc.ID, &sc.FilePath, &sc.ParentID, &sc.Kind, &sc.Name,
			&sc.StartOffset, &sc.EndOffset); err != nil {
			return nil, fmt.Errorf("scopes by file: scan: %w", err)
		}
		scopes = append(scopes, &sc)
	}
	return scopes, rows.Err()
}

// ImportsByFile returns a file's imports.
func (s *Store) ImportsByFile(path string) ([]*Import, error) {
	rows, err := s.rdb.Query(
		`SELECT id, file_path, source, COALESCE(imported_name, ''), kind
		 FROM imports WHERE file_path = ? ORDER BY id`, path,
	)
	if err != nil {
		return nil, fmt.Errorf("imports by file: %w", err)
	}
	defer rows.Close()
	var imps []*Import
	for rows.Next() {
		var imp Import
		if err := rows.Scan(&imp.ID, &imp.FilePath, &imp.Source, &imp.ImportedName, &imp.Kind); err != nil {
			return nil, fmt.Errorf("imports by file: scan: %w", err)
		}
		imps = append(imps, &imp)
	}
	return imps, rows.Err()
}

// ImportersOf returns paths of files whose imports mention source, either
// exactly or as a path suffix.
func (s *Store) ImportersOf(source string) ([]string, error) {
	rows, err := s.rdb.Query(
		`SELECT DISTINCT file_path FROM imports
		 WHERE source = ? OR source LIKE ?
		 ORDER BY file_path`,
		source, "%/"+source,
	)
	if err != nil {
		return nil, fmt.Errorf("importers of: %w", err)
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("importers of: scan: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// AllCallEdges bulk-loads the entire call graph. The query engine builds
// adjacency maps from this in memory rather than walking edges with
// per-node queries.
func (s *Store) AllCallEdges() ([]*CallEdge, error) {
	rows, err := s.rdb.Query(
		`SELECT id, caller_id, callee_name, callee_id, confidence, COALESCE(reason, ''), file_path, line
		 FROM call_edges`,
	)
	if err != nil {
		return nil, fmt.Errorf("all call edges: %w", err)
	}
	defer rows.Close()
	var edges []*CallEdge
	for rows.Next() {
		var e CallEdge
		if err := rows.Scan(&e.ID, &e.CallerID, &e.CalleeName, &e.CalleeID,
			&e.Confidence, &e.Reason, &e.FilePath, &e.Line); err != nil {
			return nil, fmt.Errorf("all call edges: scan: %w", err)
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

// ReferencesByName returns references to a name, optionally filtered by kind.
func (s *Store) ReferencesByName(name string, kind string) ([]*Reference, error) {
	q := `SELECT id, file_path, line, col, kind, name, target_symbol_id, caller_symbol_id
	      FROM symbol_references WHERE name = ?`
	args := []any{name}
	if kind != "" {
		q += " AND kind = ?"
		args = append(args, kind)
	}
	q += " ORDER BY file_path, line, col"

	rows, err := s.rdb.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("references by name: %w", err)
	}
	defer rows.Close()
	var refs []*Reference
	for rows.Next() {
		var r Reference
		if err := rows.Scan(&r.ID, &r.FilePath, &r.Line, &r.Col, &r.Kind, &r.Name,
			&r.TargetSymbolID, &r.CallerSymbolID); err != nil {
			return nil, fmt.Errorf("references by name: scan: %w", err)
		}
		refs = append(refs, &r)
	}
	return refs, rows.Err()
}
