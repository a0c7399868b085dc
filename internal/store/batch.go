package store

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// TrackedFiles returns the full tracking map, keyed by path. The Pipeline
// diffs this against the walker's output for staleness detection.
func (s *Store) TrackedFiles() (map[string]File, error) {
	rows, err := s.rdb.Query(
		"SELECT path, language, content_hash, size, mtime_ns, symbol_count FROM files",
	)
	if err != nil {
		return nil, fmt.Errorf("tracked files: %w", err)
	}
	defer rows.Close()

	tracked := make(map[string]File)
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.Path, &f.Language, &f.ContentHash, &f.Size, &f.MtimeNS, &f.SymbolCount); err != nil {
			return nil, fmt.Errorf("tracked files: scan: %w", err)
		}
		tracked[f.Path] = f
	}
	return tracked, rows.Err()
}

// RemoveFilesBatch transactionally deletes every row associated with the
// given paths: symbols, references, imports, scopes, call edges, file
// metadata, tags, and the tracking rows themselves. Paths are staged in a
// temp table and joined, so the query plan stays stable for large batches
// instead of degrading with a giant IN list.
func (s *Store) RemoveFilesBatch(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("remove files: begin: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.Exec(
			"CREATE TEMP TABLE IF NOT EXISTS removal_paths (path TEXT PRIMARY KEY)",
		); err != nil {
			return fmt.Errorf("remove files: temp table: %w", err)
		}
		if _, err := tx.Exec("DELETE FROM removal_paths"); err != nil {
			return fmt.Errorf("remove files: reset temp table: %w", err)
		}
		ins, err := tx.Prepare("INSERT OR IGNORE INTO removal_paths (path) VALUES (?)")
		if err != nil {
			return fmt.Errorf("remove files: prepare: %w", err)
		}
		for _, p := range paths {
			if _, err := ins.Exec(p); err != nil {
				ins.Close()
				return fmt.Errorf("remove files: stage %s: %w", p, err)
			}
		}
		ins.Close()

		// Call edges first: they reference symbols by id, and the delete
		// must also drop edges whose caller lives in a removed file even
		// when the edge row carries a different file_path.
		deletes := []string{
			`DELETE FROM call_edges WHERE caller_id IN
			   (SELECT id FROM symbols WHERE file_path IN (SELECT path FROM removal_paths))`,
			`DELETE FROM call_edges WHERE file_path IN (SELECT path FROM removal_paths)`,
			`DELETE FROM symbols WHERE file_path IN (SELECT path FROM removal_paths)`,
			`DELETE FROM symbol_references WHERE file_path IN (SELECT path FROM removal_paths)`,
			`DELETE FROM imports WHERE file_path IN (SELECT path FROM removal_paths)`,
			`DELETE FROM scopes WHERE file_path IN (SELECT path FROM removal_paths)`,
			`DELETE FROM file_meta WHERE path IN (SELECT path FROM removal_paths)`,
			`DELETE FROM file_tags WHERE path IN (SELECT path FROM removal_paths)`,
			`DELETE FROM files WHERE path IN (SELECT path FROM removal_paths)`,
		}
		for _, q := range deletes {
			if _, err := tx.Exec(q); err != nil {
				return fmt.Errorf("remove files: delete: %w", err)
			}
		}

		// Null out resolved targets and callee ids that pointed into the
		// removed files. The rows themselves belong to surviving files;
		// only the resolution becomes stale.
		fixups := []string{
			`UPDATE symbol_references SET target_symbol_id = NULL
			 WHERE target_symbol_id IS NOT NULL
			   AND target_symbol_id NOT IN (SELECT id FROM symbols)`,
			`UPDATE symbol_references SET caller_symbol_id = NULL
			 WHERE caller_symbol_id IS NOT NULL
			   AND caller_symbol_id NOT IN (SELECT id FROM symbols)`,
			`UPDATE call_edges SET callee_id = NULL,
			       confidence = 'possible', reason = 'external_library'
			 WHERE callee_id IS NOT NULL
			   AND callee_id NOT IN (SELECT id FROM symbols)`,
		}
		for _, q := range fixups {
			if _, err := tx.Exec(q); err != nil {
				return fmt.Errorf("remove files: fixup: %w", err)
			}
		}

		if err := bumpRevision(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// AddExtractionResultsBatch inserts all rows from a chunk of extraction
// results within a single transaction. Fake (negative) IDs from each result
// are remapped to real rowids, and intra-result parent/scope/caller
// references are rewritten through the mapping.
//
// fastMode selects the low-durability profile for the duration of the call.
// fastMode+coldRun additionally attempts the aggressive one-shot pragmas
// (memory journal, exclusive lock, 256 MB cache); the safe profile is
// restored on every exit path, and a failed acquisition downgrades to plain
// fast mode instead of failing the chunk.
//
// Returns the number of symbols inserted.
func (s *Store) AddExtractionResultsBatch(results []ExtractionResult, fastMode, coldRun bool) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if fastMode {
		restore, err := s.acquireWriteProfile(coldRun)
		if err != nil {
			return 0, err
		}
		defer restore()
	}

	total := 0
	err := withRetry(func() error {
		n, err := s.insertResultsTx(results)
		if err != nil {
			return err
		}
		total = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// acquireWriteProfile switches the write connection to the requested bulk
// profile and returns the restore function. Restoration runs on every exit
// path of the caller, success or failure.
func (s *Store) acquireWriteProfile(aggressive bool) (func(), error) {
	restore := func() {
		if err := s.applyProfile(s.profile); err != nil {
			slog.Warn("restore pragma profile failed", "error", err)
		}
		// EXCLUSIVE locking persists until the next transaction after the
		// mode is reset, so force one.
		if _, err := s.db.Exec("PRAGMA locking_mode = NORMAL"); err == nil {
			_, _ = s.db.Exec("BEGIN IMMEDIATE; COMMIT")
		}
	}

	if aggressive {
		stmts := []string{
			"PRAGMA journal_mode = MEMORY",
			"PRAGMA locking_mode = EXCLUSIVE",
			"PRAGMA temp_store = MEMORY",
			"PRAGMA synchronous = OFF",
			"PRAGMA cache_size = -262144",
		}
		for _, stmt := range stmts {
			if _, err := s.db.Exec(stmt); err != nil {
				// Another connection holds the file. Fall back to the
				// fast profile rather than failing the chunk.
				slog.Debug("aggressive pragma unavailable, downgrading", "stmt", stmt, "error", err)
				restore()
				return s.acquireWriteProfile(false)
			}
		}
		return restore, nil
	}

	stmts := []string{
		"PRAGMA synchronous = OFF",
		"PRAGMA cache_size = -131072",
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			restore()
			return nil, fmt.Errorf("acquire fast profile: %w", err)
		}
	}
	return restore, nil
}

// insertResultsTx performs the actual chunk insert in one transaction.
func (s *Store) insertResultsTx(results []ExtractionResult) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("add batch: begin: %w", err)
	}
	defer tx.Rollback()

	total := 0
	for i := range results {
		n, err := insertResultTx(tx, &results[i])
		if err != nil {
			return 0, fmt.Errorf("add batch: %s: %w", results[i].File, err)
		}
		total += n
	}

	if err := bumpRevision(tx); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("add batch: commit: %w", err)
	}
	return total, nil
}

// insertResultTx inserts one file's extraction rows, remapping fake IDs.
// Insert order respects intra-result dependencies: scopes first (symbols
// point at scopes), then symbols in slice order (parents precede children,
// the extractor guarantees it), then references and call edges.
func insertResultTx(tx *sql.Tx, r *ExtractionResult) (int, error) {
	fakeToReal := make(map[int64]int64, len(r.Symbols)+len(r.Scopes))

	remap := func(id *int64) *int64 {
		if id == nil || *id >= 0 {
			return id
		}
		real, ok := fakeToReal[*id]
		if !ok {
			return nil
		}
		return &real
	}

	// Scopes: parents are emitted before children, so the parent's real ID
	// is always in the map by the time a child needs it.
	for i := range r.Scopes {
		sc := r.Scopes[i]
		res, err := tx.Exec(
			`INSERT INTO scopes (file_path, parent_id, kind, name, start_offset, end_offset)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			r.File, remap(sc.ParentID), sc.Kind, nullIfEmpty(sc.Name), sc.StartOffset, sc.EndOffset,
		)
		if err != nil {
			return 0, fmt.Errorf("insert scope: %w", err)
		}
		real, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		fakeToReal[sc.ID] = real
	}

	for i := range r.Symbols {
		sym := r.Symbols[i]
		res, err := tx.Exec(
			`INSERT INTO symbols (name, kind, file_path, start_offset, end_offset,
				start_line, start_col, end_line, end_col, language, visibility,
				signature, doc_comment, parent_id, scope_id, fqn, type_params, params)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sym.Name, sym.Kind, r.File, sym.StartOffset, sym.EndOffset,
			sym.StartLine, sym.StartCol, sym.EndLine, sym.EndCol, sym.Language,
			nullIfEmpty(sym.Visibility), nullIfEmpty(sym.Signature),
			nullIfEmpty(sym.DocComment), remap(sym.ParentID), remap(sym.ScopeID),
			nullIfEmpty(sym.FQN), nullIfEmpty(sym.TypeParams), nullIfEmpty(sym.Params),
		)
		if err != nil {
			return 0, fmt.Errorf("insert symbol %q: %w", sym.Name, err)
		}
		real, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		fakeToReal[sym.ID] = real
	}

	for i := range r.References {
		ref := r.References[i]
		if _, err := tx.Exec(
			`INSERT INTO symbol_references (file_path, line, col, kind, name, target_symbol_id, caller_symbol_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.File, ref.Line, ref.Col, ref.Kind, ref.Name,
			remap(ref.TargetSymbolID), remap(ref.CallerSymbolID),
		); err != nil {
			return 0, fmt.Errorf("insert reference %q: %w", ref.Name, err)
		}
	}

	for i := range r.Imports {
		imp := r.Imports[i]
		if _, err := tx.Exec(
			`INSERT INTO imports (file_path, source, imported_name, kind)
			 VALUES (?, ?, ?, ?)`,
			r.File, imp.Source, nullIfEmpty(imp.ImportedName), imp.Kind,
		); err != nil {
			return 0, fmt.Errorf("insert import %q: %w", imp.Source, err)
		}
	}

	for i := range r.CallEdges {
		ce := r.CallEdges[i]
		callerID := ce.CallerID
		if callerID < 0 {
			real, ok := fakeToReal[callerID]
			if !ok {
				return 0, fmt.Errorf("insert call edge: caller %d not in result", callerID)
			}
			callerID = real
		}
		if _, err := tx.Exec(
			`INSERT INTO call_edges (caller_id, callee_name, callee_id, confidence, reason, file_path, line)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			callerID, ce.CalleeName, remap(ce.CalleeID), ce.Confidence,
			nullIfEmpty(ce.Reason), r.File, ce.Line,
		); err != nil {
			return 0, fmt.Errorf("insert call edge %q: %w", ce.CalleeName, err)
		}
	}

	// Tracking row in the same transaction: the no-orphan invariant holds
	// at every commit boundary, and a failed chunk leaves no trace.
	if _, err := tx.Exec(
		`INSERT INTO files (path, language, content_hash, size, mtime_ns, symbol_count)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		   language = excluded.language,
		   content_hash = excluded.content_hash,
		   size = excluded.size,
		   mtime_ns = excluded.mtime_ns,
		   symbol_count = excluded.symbol_count`,
		r.File, r.Language, r.ContentHash, r.Size, r.MtimeNS, len(r.Symbols),
	); err != nil {
		return 0, fmt.Errorf("upsert file record: %w", err)
	}

	if r.Meta != nil {
		if err := upsertFileMetaTx(tx, r.Meta); err != nil {
			return 0, err
		}
	}
	for _, tag := range r.Tags {
		if _, err := tx.Exec(
			`INSERT INTO file_tags (path, tag, confidence) VALUES (?, ?, ?)
			 ON CONFLICT(path, tag) DO UPDATE SET confidence = excluded.confidence`,
			tag.Path, tag.Tag, tag.Confidence,
		); err != nil {
			return 0, fmt.Errorf("upsert file tag %q: %w", tag.Tag, err)
		}
	}

	return len(r.Symbols), nil
}

// UpsertFileRecordsBatch inserts or refreshes tracking rows for a set of
// paths without touching any extraction rows. The indexing pipeline does
// not call it: it commits tracking rows inside each chunk's transaction.
func (s *Store) UpsertFileRecordsBatch(records []File) error {
	if len(records) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("upsert files: begin: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(
			`INSERT INTO files (path, language, content_hash, size, mtime_ns, symbol_count)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(path) DO UPDATE SET
			   language = excluded.language,
			   content_hash = excluded.content_hash,
			   size = excluded.size,
			   mtime_ns = excluded.mtime_ns,
			   symbol_count = excluded.symbol_count`,
		)
		if err != nil {
			return fmt.Errorf("upsert files: prepare: %w", err)
		}
		defer stmt.Close()

		for _, f := range records {
			if _, err := stmt.Exec(f.Path, f.Language, f.ContentHash, f.Size, f.MtimeNS, f.SymbolCount); err != nil {
				return fmt.Errorf("upsert files: %s: %w", f.Path, err)
			}
		}
		return tx.Commit()
	})
}

// UpdateFileTrackingMetadataBatch refreshes only size and mtime for paths
// whose content hash is unchanged but whose filesystem metadata drifted
// (touch, checkout). The cheap branch: no extraction rows move.
func (s *Store) UpdateFileTrackingMetadataBatch(records []File) error {
	if len(records) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("update tracking metadata: begin: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare("UPDATE files SET size = ?, mtime_ns = ? WHERE path = ?")
		if err != nil {
			return fmt.Errorf("update tracking metadata: prepare: %w", err)
		}
		defer stmt.Close()

		for _, f := range records {
			if _, err := stmt.Exec(f.Size, f.MtimeNS, f.Path); err != nil {
				return fmt.Errorf("update tracking metadata: %s: %w", f.Path, err)
			}
		}
		return tx.Commit()
	})
}

// ResolveCallEdges fills callee_id (and reference target_symbol_id) for
// names that now resolve to exactly one indexed symbol. A direct call
// whose name lands on a single global candidate is upgraded to certain;
// receiver-based edges keep their recorded uncertainty. Names with
// multiple candidates are left unresolved. Runs after chunks commit so
// cross-file targets are visible.
func (s *Store) ResolveCallEdges() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("resolve call edges: begin: %w", err)
		}
		defer tx.Rollback()

		stmts := []string{
			`UPDATE call_edges SET callee_id =
			   (SELECT s.id FROM symbols s
			     WHERE s.name = call_edges.callee_name
			       AND s.kind IN ('function', 'method', 'macro')
			     LIMIT 1),
			   confidence = 'certain', reason = NULL
			 WHERE callee_id IS NULL
			   AND reason = 'external_library'
			   AND (SELECT COUNT(*) FROM symbols s
			         WHERE s.name = call_edges.callee_name
			           AND s.kind IN ('function', 'method', 'macro')) = 1`,
			`UPDATE call_edges SET callee_id =
			   (SELECT s.id FROM symbols s
			     WHERE s.name = call_edges.callee_name
			       AND s.kind IN ('function', 'method', 'macro')
			     LIMIT 1)
			 WHERE callee_id IS NULL
			   AND reason IN ('virtual_dispatch', 'dynamic_receiver')
			   AND (SELECT COUNT(*) FROM symbols s
			         WHERE s.name = call_edges.callee_name
			           AND s.kind IN ('function', 'method', 'macro')) = 1`,
			`UPDATE symbol_references SET target_symbol_id =
			   (SELECT s.id FROM symbols s WHERE s.name = symbol_references.name LIMIT 1)
			 WHERE target_symbol_id IS NULL
			   AND kind IN ('call', 'type_use')
			   AND (SELECT COUNT(*) FROM symbols s
			         WHERE s.name = symbol_references.name) = 1`,
		}
		for _, q := range stmts {
			if _, err := tx.Exec(q); err != nil {
				return fmt.Errorf("resolve call edges: %w", err)
			}
		}
		return tx.Commit()
	})
}

// bumpRevision increments the monotonic data revision inside the caller's
// transaction, mirroring the commit order of data changes.
func bumpRevision(tx *sql.Tx) error {
	if _, err := tx.Exec(
		"UPDATE meta SET value = CAST(CAST(value AS INTEGER) + 1 AS TEXT) WHERE key = 'db_revision'",
	); err != nil {
		return fmt.Errorf("bump revision: %w", err)
	}
	return nil
}

// nullIfEmpty maps "" to NULL so optional text columns stay NULL rather
// than accumulating empty strings.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
