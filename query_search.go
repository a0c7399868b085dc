package quarry

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/xrash/smetrics"

	"github.com/jward/quarry/internal/store"
)

// SearchMode selects how the query string is matched against names.
type SearchMode int

const (
	// SearchExact matches an exact name or name prefix.
	SearchExact SearchMode = iota
	// SearchFullText runs the query against the FTS projection over
	// name, signature, and doc comment.
	SearchFullText
	// SearchFuzzy ranks names by Jaro-Winkler similarity.
	SearchFuzzy
	// SearchRegex matches names against a Go regular expression.
	SearchRegex
)

// DefaultFuzzyThreshold is the minimum similarity score kept by fuzzy
// search.
const DefaultFuzzyThreshold = 0.7

// fuzzyMinQueryLen guards fuzzy mode: shorter queries are too ambiguous
// for similarity ranking and fall back to prefix matching.
const fuzzyMinQueryLen = 4

// SearchOptions configure SearchSymbols.
type SearchOptions struct {
	Mode            SearchMode
	Filter          SymbolFilter
	Page            Pagination
	FuzzyThreshold  float64 // 0 means DefaultFuzzyThreshold
	MaxPerDirectory int     // 0 means no diversity cap
	IncludeFileMeta bool    // batch-load metadata and tags for results
}

// ListSymbols is the primary listing endpoint: filter, page, done.
func (q *QueryBuilder) ListSymbols(ctx context.Context, filter SymbolFilter, page Pagination) (*PagedResult[SymbolResult], error) {
	return q.SearchSymbols(ctx, "", SearchOptions{Filter: filter, Page: page})
}

// SearchSymbols searches symbol names in the requested mode, applies the
// structured filter, and pages the result. Results carry a score: 1.0 for
// structural matches, the similarity for fuzzy mode, and the FTS rank
// mapped into (0, 1] for full-text mode.
func (q *QueryBuilder) SearchSymbols(ctx context.Context, query string, opts SearchOptions) (*PagedResult[SymbolResult], error) {
	if err := ctx.Err(); err != nil {
		return nil, qerr("search symbols", err)
	}
	page := opts.Page.normalize()

	var (
		results []SymbolResult
		err     error
	)
	switch opts.Mode {
	case SearchFuzzy:
		if utf8.RuneCountInString(query) < fuzzyMinQueryLen {
			results, err = q.searchStructured(ctx, query, opts.Filter, true)
		} else {
			results, err = q.searchFuzzy(ctx, query, opts)
		}
	case SearchFullText:
		results, err = q.searchFullText(ctx, query, opts.Filter)
	case SearchRegex:
		results, err = q.searchRegex(ctx, query, opts.Filter)
	default:
		results, err = q.searchStructured(ctx, query, opts.Filter, true)
	}
	if err != nil {
		return nil, err
	}

	results, err = q.filterByTags(ctx, results, opts.Filter.Tags)
	if err != nil {
		return nil, err
	}

	if opts.MaxPerDirectory > 0 {
		results = capPerDirectory(results, opts.MaxPerDirectory)
	}

	total := len(results)
	lo := page.Offset
	if lo > total {
		lo = total
	}
	hi := lo + page.Limit
	if hi > total {
		hi = total
	}
	pageItems := results[lo:hi]

	if opts.IncludeFileMeta {
		if err := q.attachMeta(pageItems); err != nil {
			return nil, err
		}
	}

	if pageItems == nil {
		pageItems = []SymbolResult{}
	}
	return &PagedResult[SymbolResult]{Items: pageItems, TotalCount: total}, nil
}

// searchStructured handles exact/prefix and bare listing through SQL.
func (q *QueryBuilder) searchStructured(ctx context.Context, query string, filter SymbolFilter, prefix bool) ([]SymbolResult, error) {
	where, args := filterClauses(filter)
	if query != "" {
		if prefix {
			where = append(where, `s.name LIKE ? ESCAPE '\'`)
			args = append(args, escapeLike(query)+"%")
		} else {
			where = append(where, "s.name = ?")
			args = append(args, query)
		}
	}

	sqlText := "SELECT " + symbolSelectCols + " FROM symbols s"
	if len(where) > 0 {
		sqlText += " WHERE " + strings.Join(where, " AND ")
	}
	sqlText += " ORDER BY s.name, s.file_path, s.start_offset"

	rows, err := q.store.ReadDB().QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, qerr("search symbols", err)
	}
	syms, err := scanSymbolRows(rows)
	if err != nil {
		return nil, qerr("search symbols", err)
	}
	out := make([]SymbolResult, len(syms))
	for i, sym := range syms {
		out[i] = SymbolResult{Symbol: *sym, Score: 1.0}
	}
	return out, nil
}

// searchFullText queries the FTS projection and joins back to symbols.
func (q *QueryBuilder) searchFullText(ctx context.Context, query string, filter SymbolFilter) ([]SymbolResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &Error{Kind: StorageError, Op: "search symbols", Err: fmt.Errorf("empty full-text query")}
	}
	where, args := filterClauses(filter)
	where = append([]string{"symbols_fts MATCH ?"}, where...)
	args = append([]any{ftsQuote(query)}, args...)

	sqlText := `SELECT ` + symbolSelectCols + `, rank FROM symbols_fts
		JOIN symbols s ON s.id = symbols_fts.rowid
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY rank`

	rows, err := q.store.ReadDB().QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, qerr("search symbols", err)
	}
	defer rows.Close()

	var out []SymbolResult
	for rows.Next() {
		var sym store.Symbol
		var rank float64
		if err := rows.Scan(
			&sym.ID, &sym.Name, &sym.Kind, &sym.FilePath, &sym.StartOffset, &sym.EndOffset,
			&sym.StartLine, &sym.StartCol, &sym.EndLine, &sym.EndCol, &sym.Language,
			&sym.Visibility, &sym.Signature, &sym.DocComment,
			&sym.ParentID, &sym.ScopeID, &sym.FQN, &sym.TypeParams, &sym.Params,
			&rank,
		); err != nil {
			return nil, qerr("search symbols", err)
		}
		// bm25 rank is negative, best first; map into (0, 1].
		score := 1.0 / (1.0 - rank)
		out = append(out, SymbolResult{Symbol: sym, Score: score})
	}
	return out, rows.Err()
}

// searchFuzzy scores candidates with Jaro-Winkler and keeps those at or
// above the threshold, best first.
func (q *QueryBuilder) searchFuzzy(ctx context.Context, query string, opts SearchOptions) ([]SymbolResult, error) {
	threshold := opts.FuzzyThreshold
	if threshold <= 0 {
		threshold = DefaultFuzzyThreshold
	}

	candidates, err := q.searchStructured(ctx, "", opts.Filter, false)
	if err != nil {
		return nil, err
	}

	queryLower := strings.ToLower(query)
	var out []SymbolResult
	for _, cand := range candidates {
		score := smetrics.JaroWinkler(queryLower, strings.ToLower(cand.Name), 0.7, 4)
		if score < threshold {
			continue
		}
		cand.Score = score
		out = append(out, cand)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// searchRegex matches candidate names in Go; SQLite has no regexp by
// default.
func (q *QueryBuilder) searchRegex(ctx context.Context, pattern string, filter SymbolFilter) ([]SymbolResult, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &Error{Kind: StorageError, Op: "search symbols", Err: fmt.Errorf("bad pattern: %w", err)}
	}
	candidates, err := q.searchStructured(ctx, "", filter, false)
	if err != nil {
		return nil, err
	}
	var out []SymbolResult
	for _, cand := range candidates {
		if re.MatchString(cand.Name) {
			out = append(out, cand)
		}
	}
	return out, nil
}

// filterClauses builds the shared structured WHERE clauses.
func filterClauses(filter SymbolFilter) ([]string, []any) {
	var where []string
	var args []any

	if len(filter.Kinds) > 0 {
		placeholders := strings.Repeat("?,", len(filter.Kinds)-1) + "?"
		where = append(where, "s.kind IN ("+placeholders+")")
		for _, k := range filter.Kinds {
			args = append(args, k)
		}
	}
	if filter.Language != "" {
		where = append(where, "s.language = ?")
		args = append(args, filter.Language)
	}
	if filter.PathPrefix != "" {
		prefix := filter.PathPrefix
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		where = append(where, `(s.file_path LIKE ? ESCAPE '\' OR s.file_path = ?)`)
		args = append(args, escapeLike(prefix)+"%", strings.TrimSuffix(prefix, "/"))
	}
	if filter.NameGlob != "" && filter.NameGlob != "*" {
		like := strings.ReplaceAll(escapeLike(filter.NameGlob), "*", "%")
		where = append(where, `s.name LIKE ? ESCAPE '\'`)
		args = append(args, like)
	}
	return where, args
}

// filterByTags keeps results whose file carries any of the tags, after
// dictionary expansion.
func (q *QueryBuilder) filterByTags(ctx context.Context, results []SymbolResult, tags []string) ([]SymbolResult, error) {
	if len(tags) == 0 {
		return results, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, qerr("search symbols", err)
	}
	allowed := make(map[string]bool)
	for _, tag := range tags {
		expanded, err := q.store.ExpandTag(tag)
		if err != nil {
			return nil, qerr("search symbols", err)
		}
		for _, t := range expanded {
			paths, err := q.store.PathsByTag(t)
			if err != nil {
				return nil, qerr("search symbols", err)
			}
			for _, p := range paths {
				allowed[p] = true
			}
		}
	}
	var out []SymbolResult
	for _, r := range results {
		if allowed[r.FilePath] {
			out = append(out, r)
		}
	}
	return out, nil
}

// capPerDirectory enforces result diversity by bucketing on the
// containing directory.
func capPerDirectory(results []SymbolResult, limit int) []SymbolResult {
	counts := make(map[string]int)
	var out []SymbolResult
	for _, r := range results {
		dir := path.Dir(r.FilePath)
		if counts[dir] >= limit {
			continue
		}
		counts[dir]++
		out = append(out, r)
	}
	return out
}

// attachMeta batch-loads metadata and tags for a result page. One query
// per table, never per row.
func (q *QueryBuilder) attachMeta(results []SymbolResult) error {
	if len(results) == 0 {
		return nil
	}
	pathSet := make(map[string]bool)
	for _, r := range results {
		pathSet[r.FilePath] = true
	}
	paths := make([]string, 0, len(pathSet))
	for p := range pathSet {
		paths = append(paths, p)
	}
	metas, tags, err := q.store.FileMetaBatch(paths)
	if err != nil {
		return qerr("search symbols", err)
	}
	for i := range results {
		results[i].Meta = metas[results[i].FilePath]
		results[i].Tags = tags[results[i].FilePath]
	}
	return nil
}

// ftsQuote wraps the user's query so FTS treats it as a term, not syntax.
func ftsQuote(query string) string {
	parts := strings.Fields(query)
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, " ")
}
