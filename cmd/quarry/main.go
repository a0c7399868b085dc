package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/quarry"
)

var (
	flagDB      string
	flagFormat  string
	flagVerbose bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		var terr *quarry.Error
		if ok := asQuarryError(err, &terr); ok {
			os.Exit(exitCode(terr.Kind))
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "quarry",
	Short:         "Persistent code intelligence over tree-sitter and SQLite",
	Long:          "Quarry indexes source trees into an embedded SQLite database and answers navigation queries: definitions, references, call graphs, outlines, dead code.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagFormat != "json" && flagFormat != "text" {
			return fmt.Errorf("unknown format %q (want json or text)", flagFormat)
		}
		level := slog.LevelWarn
		if flagVerbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default: .code-index.db inside the root)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(statusCmd)
}

var (
	flagForce     bool
	flagLanguages string
	flagThreads   int
	flagProfile   string
	flagFast      bool
	flagThrottle  time.Duration
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a source tree",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagForce, "force", false, "delete the database and reindex from scratch")
	indexCmd.Flags().StringVar(&flagLanguages, "languages", "", "comma-separated language filter (e.g. go,python)")
	indexCmd.Flags().IntVar(&flagThreads, "threads", 0, "explicit worker count (overrides profile)")
	indexCmd.Flags().StringVar(&flagProfile, "profile", "", "worker pool sizing: eco|balanced|max")
	indexCmd.Flags().BoolVar(&flagFast, "fast", false, "low-durability bulk write profile")
	indexCmd.Flags().DurationVar(&flagThrottle, "throttle", 0, "per-file worker sleep (thermal cap)")
}

func resolveRoot(args []string) (string, error) {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}
	return abs, nil
}

func engineOptions() []quarry.Option {
	var opts []quarry.Option
	if flagDB != "" {
		opts = append(opts, quarry.WithDBPath(flagDB))
	}
	if flagLanguages != "" {
		langs := strings.Split(flagLanguages, ",")
		for i := range langs {
			langs[i] = strings.TrimSpace(langs[i])
		}
		opts = append(opts, quarry.WithLanguages(langs...))
	}
	if flagThreads > 0 {
		opts = append(opts, quarry.WithThreads(flagThreads))
	}
	if flagProfile != "" {
		opts = append(opts, quarry.WithProfile(flagProfile))
	}
	if flagFast {
		opts = append(opts, quarry.WithFastMode(true))
	}
	if flagThrottle > 0 {
		opts = append(opts, quarry.WithThrottle(flagThrottle))
	}
	return opts
}

func runIndex(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot(args)
	if err != nil {
		return err
	}

	if flagForce {
		dbPath := flagDB
		if dbPath == "" {
			dbPath = filepath.Join(root, quarry.DefaultDBName)
		}
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("removing database for --force: %w", err)
			}
		}
		fmt.Fprintf(os.Stderr, "Cleared database: %s\n", dbPath)
	}

	engine, err := quarry.Open(root, engineOptions()...)
	if err != nil {
		return err
	}
	defer engine.Close()

	done := make(chan struct{})
	if flagFormat == "text" {
		go renderProgress(engine.Progress(), done)
	}

	summary, err := engine.Index(cmd.Context())
	close(done)
	if err != nil {
		return err
	}

	for _, w := range summary.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	return output(map[string]any{
		"files_considered":  summary.FilesConsidered,
		"files_processed":   summary.FilesParsed,
		"files_deleted":     summary.FilesDeleted,
		"symbols_extracted": summary.SymbolsExtracted,
		"cold_run":          summary.ColdRun,
		"elapsed_ms":        summary.Elapsed.Milliseconds(),
		"warnings":          summary.Warnings,
	})
}

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Index a source tree and re-index on filesystem changes",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveRoot(args)
		if err != nil {
			return err
		}
		engine, err := quarry.Open(root, engineOptions()...)
		if err != nil {
			return err
		}
		defer engine.Close()

		if _, err := engine.Index(cmd.Context()); err != nil {
			return err
		}
		watcher, err := engine.Watch(cmd.Context())
		if err != nil {
			return err
		}
		defer watcher.Stop()

		fmt.Fprintf(os.Stderr, "Watching %s (ctrl-c to stop)\n", root)
		<-cmd.Context().Done()
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [path]",
	Short: "Show index statistics",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveRoot(args)
		if err != nil {
			return err
		}
		engine, err := quarry.Open(root, engineOptions()...)
		if err != nil {
			return err
		}
		defer engine.Close()

		stats, err := engine.Query().Stats(cmd.Context())
		if err != nil {
			return err
		}
		return output(stats)
	},
}

func renderProgress(p *quarry.Progress, done <-chan struct{}) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			fmt.Fprint(os.Stderr, "\r\033[K")
			return
		case <-ticker.C:
			snap := p.Snapshot()
			if snap.Total == 0 {
				continue
			}
			fmt.Fprintf(os.Stderr, "\r\033[K%d/%d files (%.0f/s, eta %s)",
				snap.Processed, snap.Total, snap.Throughput(), snap.ETA().Round(time.Second))
		}
	}
}

func exitCode(kind quarry.ErrorKind) int {
	switch kind {
	case quarry.SchemaError:
		return 3
	case quarry.ContentionError:
		return 4
	case quarry.TimeoutError:
		return 5
	case quarry.ConfigError:
		return 6
	default:
		return 1
	}
}
