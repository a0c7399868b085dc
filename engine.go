package quarry

import (
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/jward/quarry/internal/config"
	"github.com/jward/quarry/internal/lang"
	"github.com/jward/quarry/internal/store"
	"github.com/jward/quarry/internal/walk"
)

// DefaultDBName is the database file created inside the index root unless
// overridden.
const DefaultDBName = ".code-index.db"

// Engine orchestrates the quarry pipeline: file discovery, staleness
// detection, parallel parse and extract, chunked persistence, and the
// query surface over the same store.
type Engine struct {
	store    *store.Store
	root     string
	progress *Progress

	dbPath      string
	profile     string
	threads     int
	throttle    time.Duration
	fastMode    bool
	languages   map[string]bool // nil means all
	maxFileSize int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithDBPath overrides the database location.
func WithDBPath(path string) Option {
	return func(e *Engine) { e.dbPath = path }
}

// WithProfile selects the worker pool sizing: "eco", "balanced" (default),
// or "max".
func WithProfile(profile string) Option {
	return func(e *Engine) { e.profile = profile }
}

// WithThreads pins an explicit worker count, overriding the profile.
func WithThreads(n int) Option {
	return func(e *Engine) { e.threads = n }
}

// WithThrottle sleeps each worker between files; caps thermal load on
// laptops at the cost of wall-clock time.
func WithThrottle(d time.Duration) Option {
	return func(e *Engine) { e.throttle = d }
}

// WithFastMode selects the low-durability bulk write profile.
func WithFastMode(fast bool) Option {
	return func(e *Engine) { e.fastMode = fast }
}

// WithLanguages restricts which languages the Engine will process.
func WithLanguages(languages ...string) Option {
	return func(e *Engine) {
		e.languages = make(map[string]bool, len(languages))
		for _, l := range languages {
			e.languages[l] = true
		}
	}
}

// WithMaxFileSize caps how large a file gets parsed.
func WithMaxFileSize(n int64) Option {
	return func(e *Engine) { e.maxFileSize = n }
}

// Open creates an Engine rooted at root. An optional .quarry.toml at the
// root supplies defaults; explicit options override it.
func Open(root string, opts ...Option) (*Engine, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, wrapErr("open", &Error{Kind: IOError, Op: "resolve root", Err: err})
	}

	cfg, err := config.Load(abs)
	if err != nil {
		return nil, wrapErr("open", err)
	}

	e := &Engine{
		root:        abs,
		progress:    NewProgress(),
		profile:     "balanced",
		maxFileSize: walk.DefaultMaxFileSize,
	}
	applyConfig(e, cfg)
	for _, opt := range opts {
		opt(e)
	}

	if e.dbPath == "" {
		e.dbPath = filepath.Join(abs, DefaultDBName)
	} else if !filepath.IsAbs(e.dbPath) {
		e.dbPath = filepath.Join(abs, e.dbPath)
	}

	profile := store.ProfileSafe
	if e.fastMode {
		profile = store.ProfileFast
	}
	s, err := store.Open(e.dbPath, profile)
	if err != nil {
		return nil, wrapErr("open store", err)
	}
	e.store = s

	if err := lang.Err(); err != nil {
		s.Close()
		return nil, &Error{Kind: ExtractionError, Op: "open", Err: err}
	}
	return e, nil
}

func applyConfig(e *Engine, cfg *config.Config) {
	if cfg.DBPath != "" {
		e.dbPath = cfg.DBPath
	}
	if cfg.Profile != "" {
		e.profile = cfg.Profile
	}
	if cfg.Threads > 0 {
		e.threads = cfg.Threads
	}
	if cfg.ThrottleMS > 0 {
		e.throttle = time.Duration(cfg.ThrottleMS) * time.Millisecond
	}
	if cfg.FastMode {
		e.fastMode = true
	}
	if cfg.MaxFileSizeBytes > 0 {
		e.maxFileSize = cfg.MaxFileSizeBytes
	}
	if len(cfg.Languages) > 0 {
		e.languages = make(map[string]bool, len(cfg.Languages))
		for _, l := range cfg.Languages {
			e.languages[l] = true
		}
	}
}

// Close releases the Engine's database resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Root returns the absolute index root.
func (e *Engine) Root() string {
	return e.root
}

// Progress returns the shared progress handle.
func (e *Engine) Progress() *Progress {
	return e.progress
}

// Query returns a new QueryBuilder over the store.
func (e *Engine) Query() *QueryBuilder {
	return &QueryBuilder{store: e.store}
}

// workerCount resolves the parse pool size from the profile or an explicit
// thread count.
func (e *Engine) workerCount(items int) int {
	n := e.threads
	if n <= 0 {
		cores := runtime.NumCPU()
		switch e.profile {
		case "eco":
			n = max(1, cores/4)
		case "max":
			n = cores
		default: // balanced
			n = max(1, cores/2)
		}
	}
	if items > 0 && n > items {
		n = items
	}
	if n < 1 {
		n = 1
	}
	return n
}

// languageFor resolves the registry entry for a path, honoring the
// Engine's language filter.
func (e *Engine) languageFor(path string) (*lang.Language, bool) {
	l, ok := lang.ForPath(path)
	if !ok {
		return nil, false
	}
	if e.languages != nil && !e.languages[l.Name] {
		return nil, false
	}
	return l, true
}

// relPath converts an absolute path under the root into the normalized
// slash form used as the tracking key.
func (e *Engine) relPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	rel, err := filepath.Rel(e.root, abs)
	if err != nil {
		return "", fmt.Errorf("relativize %s: %w", path, err)
	}
	return filepath.ToSlash(rel), nil
}
