package quarry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jward/quarry/internal/extract"
	"github.com/jward/quarry/internal/lang"
	"github.com/jward/quarry/internal/sidecar"
	"github.com/jward/quarry/internal/store"
	"github.com/jward/quarry/internal/walk"
)

// Chunk bounds for persistence: a chunk commits when it reaches either
// limit, whichever comes first.
const (
	chunkMaxFiles   = 256
	chunkMaxSymbols = 100_000
)

// IndexSummary reports what a run did. Non-fatal per-file errors are
// aggregated in Warnings; they never abort the run.
type IndexSummary struct {
	FilesConsidered  int
	FilesParsed      int
	FilesDeleted     int
	SymbolsExtracted int
	ColdRun          bool
	Elapsed          time.Duration
	Warnings         []string
}

// workItem is one file headed for the parse pool.
type workItem struct {
	cand    walk.Candidate
	lang    *lang.Language
	tracked *store.File // nil when the path is new
}

// fileResult is what a worker hands the collector.
type fileResult struct {
	cand     walk.Candidate
	res      *store.ExtractionResult // nil for a metadata-only refresh
	metaOnly bool
	warn     string
}

// Index runs a full or incremental indexing pass over the root.
//
// The run discovers candidate files, removes tracking for files that
// disappeared, splits the rest into unchanged / changed / new via the
// size+mtime prefilter and the content hash, parses changed and new files
// in parallel, and persists extraction results in bounded chunks. Tracking
// rows commit atomically with each chunk, so a failed chunk leaves nothing
// behind and the next run retries exactly its files.
func (e *Engine) Index(ctx context.Context) (*IndexSummary, error) {
	start := time.Now()
	summary := &IndexSummary{}

	walker, err := walk.New(e.root, walk.WithMaxFileSize(e.maxFileSize))
	if err != nil {
		return summary, wrapErr("index", &Error{Kind: IOError, Op: "walker", Err: err})
	}
	discovered, err := walker.Walk()
	if err != nil {
		return summary, wrapErr("index", &Error{Kind: IOError, Op: "walk", Err: err})
	}

	tracked, err := e.store.TrackedFiles()
	if err != nil {
		return summary, wrapErr("index", err)
	}
	summary.ColdRun = len(tracked) == 0

	// Cleanup: drop rows for paths that no longer exist.
	discoveredSet := make(map[string]bool, len(discovered))
	for _, c := range discovered {
		discoveredSet[c.Path] = true
	}
	var deleted []string
	for path := range tracked {
		if !discoveredSet[path] {
			deleted = append(deleted, path)
		}
	}
	if len(deleted) > 0 {
		if err := e.store.RemoveFilesBatch(deleted); err != nil {
			return summary, wrapErr("index", err)
		}
		summary.FilesDeleted = len(deleted)
	}

	// Staleness split, metadata prefilter half. Hash comparison needs the
	// bytes, so it happens inside the workers.
	var items []workItem
	for _, cand := range discovered {
		l, ok := e.languageFor(cand.AbsPath)
		if !ok {
			continue
		}
		summary.FilesConsidered++
		var trackedRow *store.File
		if row, ok := tracked[cand.Path]; ok {
			if row.Size == cand.Size && row.MtimeNS == cand.MtimeNS {
				continue // unchanged by metadata
			}
			trackedRow = &row
		}
		items = append(items, workItem{cand: cand, lang: l, tracked: trackedRow})
	}

	if len(items) == 0 {
		summary.Elapsed = time.Since(start)
		return summary, nil
	}

	resolver, rerr := sidecar.NewResolver(e.root)
	if rerr != nil {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("sidecar: %v", rerr))
		slog.Warn("sidecar resolver unavailable", "error", rerr)
		resolver = nil
	}

	e.progress.Begin(len(items))

	results := e.runWorkers(ctx, items, summary.ColdRun)
	flushErr := e.collect(ctx, results, resolver, summary)

	// A run that parsed nothing commits nothing beyond the metadata
	// refresh; resolution over unchanged rows would be a no-op write.
	if summary.FilesParsed > 0 || summary.FilesDeleted > 0 {
		if resolver != nil {
			if rules := resolver.Rules(); len(rules) > 0 {
				if err := e.store.ReplaceTagRules(rules); err != nil {
					summary.Warnings = append(summary.Warnings, fmt.Sprintf("tag rules: %v", err))
				}
			}
		}
		if err := e.store.ResolveCallEdges(); err != nil {
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("resolve call edges: %v", err))
		}
	}

	summary.Elapsed = time.Since(start)
	if flushErr != nil {
		return summary, wrapErr("index", flushErr)
	}
	return summary, ctx.Err()
}

// runWorkers fans items out to the parse pool and returns the result
// channel. Each worker owns its parser cache and extractor for the whole
// run; trees are borrowed into the extractor within the same worker.
func (e *Engine) runWorkers(ctx context.Context, items []workItem, coldRun bool) <-chan fileResult {
	workCh := make(chan workItem, len(items))
	for _, item := range items {
		workCh <- item
	}
	close(workCh)

	resultCh := make(chan fileResult, chunkMaxFiles)
	var wg sync.WaitGroup
	for range e.workerCount(len(items)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache := lang.NewParserCache()
			defer cache.Close()
			extractor := extract.New()
			defer extractor.Close()

			for item := range workCh {
				if ctx.Err() != nil {
					return
				}
				resultCh <- e.processFile(ctx, cache, extractor, item, coldRun)
				if e.throttle > 0 {
					time.Sleep(e.throttle)
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()
	return resultCh
}

// processFile does one worker's job for one file: read, hash check,
// parse, extract. Failures come back as warnings with an empty extraction
// so the file is still tracked and not retried every run.
func (e *Engine) processFile(ctx context.Context, cache *lang.ParserCache, extractor *extract.Extractor, item workItem, coldRun bool) fileResult {
	cand := item.cand

	if cand.TooLarge {
		return fileResult{
			cand: cand,
			res:  emptyResult(cand, item.lang, ""),
			warn: fmt.Sprintf("%s: exceeds max file size, skipped", cand.Path),
		}
	}

	content, err := os.ReadFile(cand.AbsPath)
	if err != nil {
		return fileResult{
			cand: cand,
			res:  emptyResult(cand, item.lang, ""),
			warn: fmt.Sprintf("%s: read: %v", cand.Path, err),
		}
	}
	hash := store.ContentHash(content)

	// Hash half of the staleness split: metadata drifted but the bytes
	// did not, so only size/mtime need refreshing.
	if !coldRun && item.tracked != nil && item.tracked.ContentHash == hash {
		return fileResult{cand: cand, metaOnly: true}
	}

	tree, err := cache.Parse(ctx, item.lang, cand.Path, content, !coldRun)
	if err != nil {
		return fileResult{
			cand: cand,
			res:  emptyResult(cand, item.lang, hash),
			warn: fmt.Sprintf("%s: parse: %v", cand.Path, err),
		}
	}

	res, err := extractor.Extract(cand.Path, item.lang, content, tree)
	if err != nil {
		return fileResult{
			cand: cand,
			res:  emptyResult(cand, item.lang, hash),
			warn: fmt.Sprintf("%s: extract: %v", cand.Path, err),
		}
	}
	res.ContentHash = hash
	res.Size = cand.Size
	res.MtimeNS = cand.MtimeNS
	return fileResult{cand: cand, res: res}
}

func emptyResult(cand walk.Candidate, l *lang.Language, hash string) *store.ExtractionResult {
	return &store.ExtractionResult{
		File:        cand.Path,
		Language:    l.Name,
		ContentHash: hash,
		Size:        cand.Size,
		MtimeNS:     cand.MtimeNS,
	}
}

// collect drains the result channel, groups results into bounded chunks,
// and persists each chunk. In incremental mode a chunk's stale rows are
// removed before its insert commits, preserving delete-before-insert per
// file. The first flush error is kept and surfaced after the drain; later
// chunks still commit.
func (e *Engine) collect(ctx context.Context, results <-chan fileResult, resolver *sidecar.Resolver, summary *IndexSummary) error {
	var (
		chunk        []store.ExtractionResult
		chunkSymbols int
		metaRefresh  []store.File
		firstErr     error
	)

	flush := func() {
		if len(chunk) == 0 {
			return
		}
		if !summary.ColdRun {
			paths := make([]string, len(chunk))
			for i := range chunk {
				paths[i] = chunk[i].File
			}
			if err := e.store.RemoveFilesBatch(paths); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				summary.Warnings = append(summary.Warnings, fmt.Sprintf("chunk cleanup: %v", err))
				chunk = chunk[:0]
				chunkSymbols = 0
				return
			}
		}
		n, err := e.store.AddExtractionResultsBatch(chunk, e.fastMode, summary.ColdRun)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("chunk commit: %v", err))
		} else {
			summary.SymbolsExtracted += n
			summary.FilesParsed += len(chunk)
		}
		chunk = chunk[:0]
		chunkSymbols = 0
	}

	for fr := range results {
		e.progress.Done(1)

		if fr.warn != "" {
			summary.Warnings = append(summary.Warnings, fr.warn)
			slog.Warn("file skipped", "path", fr.cand.Path, "reason", fr.warn)
		}
		if fr.metaOnly {
			metaRefresh = append(metaRefresh, store.File{
				Path:    fr.cand.Path,
				Size:    fr.cand.Size,
				MtimeNS: fr.cand.MtimeNS,
			})
			continue
		}
		if fr.res == nil {
			continue
		}

		e.attachSidecar(resolver, fr.res, summary)

		chunk = append(chunk, *fr.res)
		chunkSymbols += len(fr.res.Symbols)
		if len(chunk) >= chunkMaxFiles || chunkSymbols >= chunkMaxSymbols {
			flush()
			// Cancellation is honored at chunk boundaries; in-flight
			// parses drain through the channel first.
			if ctx.Err() != nil {
				break
			}
		}
	}
	flush()

	if len(metaRefresh) > 0 {
		if err := e.store.UpdateFileTrackingMetadataBatch(metaRefresh); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("metadata refresh: %v", err))
		}
	}
	return firstErr
}

// attachSidecar materializes metadata and tag rows for a result, honoring
// the growth safeguard: nothing is stored for a file with no exported
// symbols and no sidecar entry.
func (e *Engine) attachSidecar(resolver *sidecar.Resolver, res *store.ExtractionResult, summary *IndexSummary) {
	if resolver == nil {
		return
	}
	exportedHash := store.ExportedHash(res.Symbols)
	meta, tags, err := resolver.Materialize(res.File, exportedHash, exportedHash != "")
	if err != nil {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("%s: sidecar: %v", res.File, err))
		return
	}
	res.Meta = meta
	res.Tags = tags
}

// IndexSingle re-indexes one file. Used by the watcher on create and
// modify; also useful for editor integrations that know exactly what
// changed.
func (e *Engine) IndexSingle(ctx context.Context, path string) error {
	rel, err := e.relPath(path)
	if err != nil {
		return &Error{Kind: IOError, Op: "index single", Err: err}
	}
	l, ok := e.languageFor(path)
	if !ok {
		return nil // unsupported extension
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return e.Forget(ctx, path)
		}
		return &Error{Kind: IOError, Op: "index single", Err: err}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return &Error{Kind: IOError, Op: "index single", Err: err}
	}
	hash := store.ContentHash(content)

	if tracked, err := e.store.FileByPath(rel); err == nil && tracked != nil && tracked.ContentHash == hash {
		return e.store.UpdateFileTrackingMetadataBatch([]store.File{{
			Path: rel, Size: info.Size(), MtimeNS: info.ModTime().UnixNano(),
		}})
	}

	cache := lang.NewParserCache()
	defer cache.Close()
	extractor := extract.New()
	defer extractor.Close()

	res := emptyResult(walk.Candidate{Path: rel, Size: info.Size(), MtimeNS: info.ModTime().UnixNano()}, l, hash)
	tree, perr := cache.Parse(ctx, l, rel, content, false)
	if perr == nil {
		if full, xerr := extractor.Extract(rel, l, content, tree); xerr == nil {
			full.ContentHash = hash
			full.Size = info.Size()
			full.MtimeNS = info.ModTime().UnixNano()
			res = full
		} else {
			slog.Warn("extract failed", "path", rel, "error", xerr)
		}
	} else {
		slog.Warn("parse failed", "path", rel, "error", perr)
	}

	if resolver, err := sidecar.NewResolver(e.root); err == nil {
		exportedHash := store.ExportedHash(res.Symbols)
		if meta, tags, merr := resolver.Materialize(rel, exportedHash, exportedHash != ""); merr == nil {
			res.Meta = meta
			res.Tags = tags
		}
	}

	if err := e.store.RemoveFilesBatch([]string{rel}); err != nil {
		return wrapErr("index single", err)
	}
	if _, err := e.store.AddExtractionResultsBatch([]store.ExtractionResult{*res}, false, false); err != nil {
		return wrapErr("index single", err)
	}
	if err := e.store.ResolveCallEdges(); err != nil {
		return wrapErr("index single", err)
	}
	return nil
}

// Forget removes one file from the index. Used by the watcher on delete.
func (e *Engine) Forget(_ context.Context, path string) error {
	rel, err := e.relPath(path)
	if err != nil {
		return &Error{Kind: IOError, Op: "forget", Err: err}
	}
	if err := e.store.RemoveFilesBatch([]string{rel}); err != nil {
		return wrapErr("forget", err)
	}
	return nil
}
