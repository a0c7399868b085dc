package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
)

// GetMeta reads a value from the meta key/value table. Returns "" when the
// key is absent.
func (s *Store) GetMeta(key string) (string, error) {
	var value string
	err := s.rdb.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get meta %q: %w", key, err)
	}
	return value, nil
}

// SetMeta writes a value into the meta key/value table.
func (s *Store) SetMeta(key, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return withRetry(func() error {
		_, err := s.db.Exec(
			"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
			key, value,
		)
		if err != nil {
			return fmt.Errorf("set meta %q: %w", key, err)
		}
		return nil
	})
}

// Revision returns the monotonic data revision. Every committed data
// transaction bumps it; readers use it to detect that the index moved.
func (s *Store) Revision() (int64, error) {
	v, err := s.GetMeta("db_revision")
	if err != nil || v == "" {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("revision: parse %q: %w", v, err)
	}
	return n, nil
}

// upsertFileMetaTx writes one file_meta row inside an open transaction.
func upsertFileMetaTx(tx *sql.Tx, m *FileMeta) error {
	_, err := tx.Exec(
		`INSERT INTO file_meta (path, doc1, purpose, capabilities, invariants,
			security_notes, owner, stability, exported_hash, provenance, confidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		   doc1 = excluded.doc1,
		   purpose = excluded.purpose,
		   capabilities = excluded.capabilities,
		   invariants = excluded.invariants,
		   security_notes = excluded.security_notes,
		   owner = excluded.owner,
		   stability = excluded.stability,
		   exported_hash = excluded.exported_hash,
		   provenance = excluded.provenance,
		   confidence = excluded.confidence`,
		m.Path, nullIfEmpty(m.Doc1), nullIfEmpty(m.Purpose),
		marshalList(m.Capabilities), marshalList(m.Invariants),
		marshalList(m.SecurityNotes), nullIfEmpty(m.Owner),
		nullIfEmpty(m.Stability), nullIfEmpty(m.ExportedHash),
		m.Provenance, m.Confidence,
	)
	if err != nil {
		return fmt.Errorf("upsert file meta %s: %w", m.Path, err)
	}
	return nil
}

// FileMetaBatch retrieves metadata and tags for a set of paths in two
// queries, never per-row. Missing paths are simply absent from the maps.
func (s *Store) FileMetaBatch(paths []string) (map[string]*FileMeta, map[string][]FileTag, error) {
	metas := make(map[string]*FileMeta)
	tags := make(map[string][]FileTag)
	if len(paths) == 0 {
		return metas, tags, nil
	}

	placeholders := placeholderList(len(paths))
	args := stringsToArgs(paths)

	rows, err := s.rdb.Query(
		`SELECT path, COALESCE(doc1, ''), COALESCE(purpose, ''),
			COALESCE(capabilities, '[]'), COALESCE(invariants, '[]'),
			COALESCE(security_notes, '[]'), COALESCE(owner, ''),
			COALESCE(stability, ''), COALESCE(exported_hash, ''),
			provenance, confidence
		 FROM file_meta WHERE path IN (`+placeholders+`)`, args...,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("file meta batch: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m FileMeta
		var caps, invs, notes string
		if err := rows.Scan(&m.Path, &m.Doc1, &m.Purpose, &caps, &invs, &notes,
			&m.Owner, &m.Stability, &m.ExportedHash, &m.Provenance, &m.Confidence); err != nil {
			return nil, nil, fmt.Errorf("file meta batch: scan: %w", err)
		}
		m.Capabilities = unmarshalList(caps)
		m.Invariants = unmarshalList(invs)
		m.SecurityNotes = unmarshalList(notes)
		metas[m.Path] = &m
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("file meta batch: rows: %w", err)
	}

	tagRows, err := s.rdb.Query(
		`SELECT path, tag, confidence FROM file_tags WHERE path IN (`+placeholders+`)`, args...,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("file meta batch: tags: %w", err)
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var t FileTag
		if err := tagRows.Scan(&t.Path, &t.Tag, &t.Confidence); err != nil {
			return nil, nil, fmt.Errorf("file meta batch: scan tag: %w", err)
		}
		tags[t.Path] = append(tags[t.Path], t)
	}
	return metas, tags, tagRows.Err()
}

// PathsByTag is the reverse tag lookup.
func (s *Store) PathsByTag(tag string) ([]string, error) {
	rows, err := s.rdb.Query("SELECT path FROM file_tags WHERE tag = ? ORDER BY path", tag)
	if err != nil {
		return nil, fmt.Errorf("paths by tag: %w", err)
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("paths by tag: scan: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// ReplaceTagRules replaces the tag-inference rule table with the rules from
// the root sidecar.
func (s *Store) ReplaceTagRules(rules []TagRule) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("replace tag rules: begin: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.Exec("DELETE FROM tag_rules"); err != nil {
			return fmt.Errorf("replace tag rules: clear: %w", err)
		}
		for _, r := range rules {
			if _, err := tx.Exec(
				"INSERT INTO tag_rules (pattern, tags, confidence) VALUES (?, ?, ?)",
				r.Pattern, marshalList(r.Tags), r.Confidence,
			); err != nil {
				return fmt.Errorf("replace tag rules: %q: %w", r.Pattern, err)
			}
		}
		return tx.Commit()
	})
}

// TagRules returns the stored tag-inference rules.
func (s *Store) TagRules() ([]TagRule, error) {
	rows, err := s.rdb.Query("SELECT pattern, tags, confidence FROM tag_rules")
	if err != nil {
		return nil, fmt.Errorf("tag rules: %w", err)
	}
	defer rows.Close()
	var rules []TagRule
	for rows.Next() {
		var r TagRule
		var tags string
		if err := rows.Scan(&r.Pattern, &tags, &r.Confidence); err != nil {
			return nil, fmt.Errorf("tag rules: scan: %w", err)
		}
		r.Tags = unmarshalList(tags)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// UpsertTagEntries refreshes the tag dictionary.
func (s *Store) UpsertTagEntries(entries []TagEntry) error {
	if len(entries) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("upsert tag entries: begin: %w", err)
		}
		defer tx.Rollback()
		for _, e := range entries {
			if _, err := tx.Exec(
				`INSERT INTO tag_dictionary (name, category, synonyms) VALUES (?, ?, ?)
				 ON CONFLICT(name) DO UPDATE SET
				   category = excluded.category, synonyms = excluded.synonyms`,
				e.Name, e.Category, marshalList(e.Synonyms),
			); err != nil {
				return fmt.Errorf("upsert tag entries: %q: %w", e.Name, err)
			}
		}
		return tx.Commit()
	})
}

// ExpandTag returns the canonical name plus synonyms for a tag, or just the
// tag itself when the dictionary has no entry.
func (s *Store) ExpandTag(tag string) ([]string, error) {
	var name, synonyms string
	err := s.rdb.QueryRow(
		`SELECT name, COALESCE(synonyms, '[]') FROM tag_dictionary
		 WHERE name = ? OR EXISTS (
		   SELECT 1 FROM json_each(tag_dictionary.synonyms) WHERE json_each.value = ?
		 )`, tag, tag,
	).Scan(&name, &synonyms)
	if err == sql.ErrNoRows {
		return []string{tag}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("expand tag %q: %w", tag, err)
	}
	expanded := append([]string{name}, unmarshalList(synonyms)...)
	return expanded, nil
}

// marshalList converts a string slice to JSON text for storage.
func marshalList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(items)
	return string(b)
}

// unmarshalList converts JSON text back to a string slice.
func unmarshalList(s string) []string {
	if s == "" || s == "null" || s == "[]" {
		return nil
	}
	var items []string
	_ = json.Unmarshal([]byte(s), &items)
	return items
}
