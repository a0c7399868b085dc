// Package walk enumerates candidate files under an index root. The walk
// is single-threaded and deterministic (lexicographic path order);
// parallelism lives in the parse stage, not here.
package walk

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/jward/quarry/internal/lang"
)

// DefaultMaxFileSize caps how large a file the pipeline will parse.
// Bigger files are still tracked, but skipped with a warning.
const DefaultMaxFileSize = 10 * 1024 * 1024

// Candidate is one file the pipeline should consider.
type Candidate struct {
	Path     string // slash-separated, relative to the root
	AbsPath  string
	Size     int64
	MtimeNS  int64
	TooLarge bool
}

// skipDirs are never descended into, gitignore or not.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"target":       true,
	"__pycache__":  true,
}

// Walker discovers files under a root.
type Walker struct {
	root        string
	ignore      *gitignore.GitIgnore
	maxFileSize int64
}

// Option configures a Walker.
type Option func(*Walker)

// WithMaxFileSize overrides the parse size cap.
func WithMaxFileSize(n int64) Option {
	return func(w *Walker) {
		if n > 0 {
			w.maxFileSize = n
		}
	}
}

// New creates a Walker rooted at root. A .gitignore at the root is honored
// when present.
func New(root string, opts ...Option) (*Walker, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("walker: resolve root: %w", err)
	}
	w := &Walker{root: abs, maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(w)
	}

	ignorePath := filepath.Join(abs, ".gitignore")
	if _, err := os.Stat(ignorePath); err == nil {
		ign, err := gitignore.CompileIgnoreFile(ignorePath)
		if err != nil {
			return nil, fmt.Errorf("walker: compile %s: %w", ignorePath, err)
		}
		w.ignore = ign
	}
	return w, nil
}

// Root returns the absolute index root.
func (w *Walker) Root() string {
	return w.root
}

// Walk returns the candidates in lexicographic path order. Only files
// whose extension is registered with the language registry are returned.
// Symlinks are followed once; directory cycles are broken by tracking
// resolved real paths.
func (w *Walker) Walk() ([]Candidate, error) {
	visited := make(map[string]bool)
	var out []Candidate
	if err := w.walkDir(w.root, visited, &out); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (w *Walker) walkDir(dir string, visited map[string]bool, out *[]Candidate) error {
	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		// Dangling symlink or permission problem; skip the subtree.
		return nil
	}
	if visited[real] {
		return nil
	}
	visited[real] = true

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("walker: read %s: %w", dir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		full := filepath.Join(dir, name)
		rel, err := filepath.Rel(w.root, full)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)

		info, err := os.Stat(full) // follows symlinks
		if err != nil {
			continue
		}

		if info.IsDir() {
			if strings.HasPrefix(name, ".") || skipDirs[name] {
				continue
			}
			if w.ignore != nil && w.ignore.MatchesPath(rel+"/") {
				continue
			}
			if err := w.walkDir(full, visited, out); err != nil {
				return err
			}
			continue
		}

		if strings.HasPrefix(name, ".") {
			continue
		}
		if _, ok := lang.ForPath(full); !ok {
			continue
		}
		if w.ignore != nil && w.ignore.MatchesPath(rel) {
			continue
		}

		*out = append(*out, Candidate{
			Path:     rel,
			AbsPath:  full,
			Size:     info.Size(),
			MtimeNS:  info.ModTime().UnixNano(),
			TooLarge: info.Size() > w.maxFileSize,
		})
	}
	return nil
}
