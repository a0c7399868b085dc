package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/quarry"
)

var (
	flagRoot      string
	flagKinds     string
	flagLanguage  string
	flagPath      string
	flagTags      string
	flagLimit     int
	flagCursor    string
	flagMode      string
	flagMeta      bool
	flagMaxPerDir int
	flagDepth     int
	flagDirection string
	flagCertain   bool
	flagResolve   bool
	flagScopes    bool
	flagCallers   bool
	flagImporters bool
	flagRefKind   string
	flagTimeout   time.Duration
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the index",
}

func init() {
	queryCmd.PersistentFlags().StringVar(&flagRoot, "root", ".", "index root")
	queryCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 10*time.Second, "per-query deadline")

	queryCmd.AddCommand(searchCmd)
	queryCmd.AddCommand(defCmd)
	queryCmd.AddCommand(refsCmd)
	queryCmd.AddCommand(callGraphCmd)
	queryCmd.AddCommand(outlineCmd)
	queryCmd.AddCommand(importsCmd)
	queryCmd.AddCommand(deadCodeCmd)
	queryCmd.AddCommand(metricsCmd)
	queryCmd.AddCommand(statsCmd)
}

// withEngine opens the engine, applies the deadline, and runs fn.
func withEngine(cmd *cobra.Command, fn func(q *quarry.QueryBuilder) error) error {
	engine, err := quarry.Open(flagRoot, engineOptions()...)
	if err != nil {
		return err
	}
	defer engine.Close()

	if flagTimeout > 0 {
		ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
		defer cancel()
		cmd.SetContext(ctx)
	}
	return fn(engine.Query())
}

func symbolFilter() quarry.SymbolFilter {
	f := quarry.SymbolFilter{
		Language:   flagLanguage,
		PathPrefix: flagPath,
	}
	if flagKinds != "" {
		f.Kinds = splitTrim(flagKinds)
	}
	if flagTags != "" {
		f.Tags = splitTrim(flagTags)
	}
	return f
}

func pagination() quarry.Pagination {
	p := quarry.Pagination{Limit: flagLimit}
	if flagCursor != "" {
		if off, err := strconv.Atoi(flagCursor); err == nil {
			p.Offset = off
		}
	}
	return p
}

func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search symbols (exact, fulltext, fuzzy, regex)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(q *quarry.QueryBuilder) error {
			mode := quarry.SearchExact
			switch flagMode {
			case "fulltext":
				mode = quarry.SearchFullText
			case "fuzzy":
				mode = quarry.SearchFuzzy
			case "regex":
				mode = quarry.SearchRegex
			}
			page := pagination()
			res, err := q.SearchSymbols(cmd.Context(), args[0], quarry.SearchOptions{
				Mode:            mode,
				Filter:          symbolFilter(),
				Page:            page,
				MaxPerDirectory: flagMaxPerDir,
				IncludeFileMeta: flagMeta,
			})
			if err != nil {
				return err
			}
			return outputEnvelope(envelope{
				Result:     res.Items,
				Warnings:   []string{},
				NextCursor: cursorFor(page.Offset, len(res.Items), res.TotalCount),
			})
		})
	},
}

func init() {
	searchCmd.Flags().StringVar(&flagMode, "mode", "exact", "search mode: exact|fulltext|fuzzy|regex")
	searchCmd.Flags().StringVar(&flagKinds, "kinds", "", "comma-separated kind filter")
	searchCmd.Flags().StringVar(&flagLanguage, "language", "", "language filter")
	searchCmd.Flags().StringVar(&flagPath, "path", "", "file path prefix filter")
	searchCmd.Flags().StringVar(&flagTags, "tags", "", "comma-separated tag filter")
	searchCmd.Flags().IntVar(&flagLimit, "limit", 0, "page size")
	searchCmd.Flags().StringVar(&flagCursor, "cursor", "", "pagination cursor")
	searchCmd.Flags().IntVar(&flagMaxPerDir, "max-per-directory", 0, "diversity cap per directory")
	searchCmd.Flags().BoolVar(&flagMeta, "include-file-meta", false, "attach file metadata and tags")
}

var defCmd = &cobra.Command{
	Use:   "def <name>",
	Short: "Find definitions of a name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(q *quarry.QueryBuilder) error {
			defs, err := q.FindDefinition(cmd.Context(), args[0], quarry.DefinitionOptions{
				Language: flagLanguage,
			})
			if err != nil {
				return err
			}
			return output(defs)
		})
	},
}

func init() {
	defCmd.Flags().StringVar(&flagLanguage, "language", "", "language filter")
}

var refsCmd = &cobra.Command{
	Use:   "refs <name>",
	Short: "Find references to a name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(q *quarry.QueryBuilder) error {
			report, err := q.FindReferences(cmd.Context(), args[0], quarry.ReferenceOptions{
				Kind:             flagRefKind,
				IncludeCallers:   flagCallers,
				IncludeImporters: flagImporters,
				Depth:            flagDepth,
			})
			if err != nil {
				return err
			}
			return output(report)
		})
	},
}

func init() {
	refsCmd.Flags().StringVar(&flagRefKind, "kind", "", "reference kind filter")
	refsCmd.Flags().BoolVar(&flagCallers, "include-callers", false, "walk call edges inverse")
	refsCmd.Flags().BoolVar(&flagImporters, "include-importers", false, "walk imports inverse")
	refsCmd.Flags().IntVar(&flagDepth, "depth", 1, "caller BFS depth")
}

var callGraphCmd = &cobra.Command{
	Use:   "callgraph <function>",
	Short: "BFS the call graph from a function",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(q *quarry.QueryBuilder) error {
			dir := quarry.DirectionOut
			switch flagDirection {
			case "in":
				dir = quarry.DirectionIn
			case "both":
				dir = quarry.DirectionBoth
			}
			graph, err := q.AnalyzeCallGraph(cmd.Context(), args[0], dir, flagDepth, flagCertain)
			if err != nil {
				return err
			}
			if graph == nil {
				return fmt.Errorf("no function named %q in the index", args[0])
			}
			return output(graph)
		})
	},
}

func init() {
	callGraphCmd.Flags().StringVar(&flagDirection, "direction", "out", "traversal direction: out|in|both")
	callGraphCmd.Flags().IntVar(&flagDepth, "depth", 3, "BFS depth")
	callGraphCmd.Flags().BoolVar(&flagCertain, "certain-only", false, "traverse only certain edges")
}

var outlineCmd = &cobra.Command{
	Use:   "outline <file>",
	Short: "Outline a file's symbols in source order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(q *quarry.QueryBuilder) error {
			entries, err := q.FileOutline(cmd.Context(), args[0], quarry.OutlineOptions{
				IncludeScopes: flagScopes,
			})
			if err != nil {
				return err
			}
			return output(entries)
		})
	},
}

func init() {
	outlineCmd.Flags().BoolVar(&flagScopes, "include-scopes", false, "attach enclosing scope chains")
}

var importsCmd = &cobra.Command{
	Use:   "imports <file>",
	Short: "List a file's imports",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(q *quarry.QueryBuilder) error {
			imps, err := q.Imports(cmd.Context(), args[0], flagResolve)
			if err != nil {
				return err
			}
			return output(imps)
		})
	},
}

func init() {
	importsCmd.Flags().BoolVar(&flagResolve, "resolve", false, "resolve imports to indexed symbols")
}

var deadCodeCmd = &cobra.Command{
	Use:   "deadcode",
	Short: "Report unused private symbols",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(q *quarry.QueryBuilder) error {
			report, err := q.DeadCode(cmd.Context(), symbolFilter())
			if err != nil {
				return err
			}
			return output(report)
		})
	},
}

func init() {
	deadCodeCmd.Flags().StringVar(&flagPath, "path", "", "file path prefix filter")
	deadCodeCmd.Flags().StringVar(&flagLanguage, "language", "", "language filter")
}

var metricsCmd = &cobra.Command{
	Use:   "metrics <file>",
	Short: "Per-function size and complexity metrics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(q *quarry.QueryBuilder) error {
			metrics, err := q.Metrics(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return output(metrics)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Index statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(q *quarry.QueryBuilder) error {
			stats, err := q.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return output(stats)
		})
	},
}
