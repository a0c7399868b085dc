// Package quarry is a persistent code-intelligence engine. It parses
// mixed-language source trees with tree-sitter, extracts a semantic model
// (symbols, references, imports, scopes, call edges) into an embedded
// SQLite index with full-text search, and answers navigation queries from
// the same store. Indexing is incremental: unchanged files are skipped by
// a size/mtime prefilter backed by a 64-bit content hash.
package quarry
