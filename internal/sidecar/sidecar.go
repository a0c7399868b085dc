// Package sidecar parses the optional .code-indexer.yml files that carry
// per-file metadata and directory-wide tags, and resolves them (plus
// glob-based tag rules) onto indexed paths.
package sidecar

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
	"gopkg.in/yaml.v3"

	"github.com/jward/quarry/internal/store"
)

// Filename is the sidecar file name recognized at any directory level.
const Filename = ".code-indexer.yml"

// ErrInvalid marks a malformed sidecar or tag rule.
var ErrInvalid = errors.New("invalid sidecar")

var validStability = map[string]bool{
	"experimental": true,
	"evolving":     true,
	"stable":       true,
	"frozen":       true,
}

// FileEntry is the per-file block of a sidecar.
type FileEntry struct {
	Doc1          string   `yaml:"doc1"`
	Purpose       string   `yaml:"purpose"`
	Capabilities  []string `yaml:"capabilities"`
	Invariants    []string `yaml:"invariants"`
	NonGoals      []string `yaml:"non_goals"`
	SecurityNotes []string `yaml:"security_notes"`
	Owner         string   `yaml:"owner"`
	Stability     string   `yaml:"stability"`
	Tags          []string `yaml:"tags"`
}

// RuleEntry is one tag-inference rule from the root sidecar.
type RuleEntry struct {
	Pattern    string   `yaml:"pattern"`
	Tags       []string `yaml:"tags"`
	Confidence float64  `yaml:"confidence"`
}

// Data is one parsed sidecar file.
type Data struct {
	Files    map[string]FileEntry `yaml:"files"`
	Tags     []string             `yaml:"tags"`
	TagRules []RuleEntry          `yaml:"tag_rules"`

	// Agent is consumed by callers outside the indexing core; it is
	// carried through opaquely.
	Agent map[string]any `yaml:"agent"`
}

// Parse decodes and validates sidecar bytes.
func Parse(data []byte) (*Data, error) {
	var d Data
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for name, entry := range d.Files {
		if entry.Stability != "" && !validStability[entry.Stability] {
			return nil, fmt.Errorf("%w: file %q: unknown stability %q", ErrInvalid, name, entry.Stability)
		}
	}
	for _, rule := range d.TagRules {
		if rule.Pattern == "" {
			return nil, fmt.Errorf("%w: tag rule with empty pattern", ErrInvalid)
		}
		if rule.Confidence < 0 || rule.Confidence > 1 {
			return nil, fmt.Errorf("%w: tag rule %q: confidence %v out of range", ErrInvalid, rule.Pattern, rule.Confidence)
		}
	}
	return &d, nil
}

// Load reads and parses the sidecar in dir. Returns (nil, nil) when there
// is none.
func Load(dir string) (*Data, error) {
	raw, err := os.ReadFile(filepath.Join(dir, Filename))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sidecar: %w", err)
	}
	d, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Join(dir, Filename), err)
	}
	return d, nil
}

// compiledRule pairs a rule with its matcher.
type compiledRule struct {
	rule    store.TagRule
	matcher *gitignore.GitIgnore
}

// Resolver resolves sidecar entries and tag rules for paths under one
// root. Sidecar files are loaded lazily per directory and cached for the
// run.
type Resolver struct {
	root  string
	cache map[string]*Data // dir (relative, "" = root) -> parsed or nil
	rules []compiledRule
}

// NewResolver creates a Resolver and loads the root sidecar's tag rules.
func NewResolver(root string) (*Resolver, error) {
	r := &Resolver{root: root, cache: make(map[string]*Data)}

	rootData, err := r.dirData("")
	if err != nil {
		return nil, err
	}
	if rootData != nil {
		for _, re := range rootData.TagRules {
			conf := re.Confidence
			if conf == 0 {
				conf = 0.9
			}
			r.rules = append(r.rules, compiledRule{
				rule: store.TagRule{
					Pattern:    re.Pattern,
					Tags:       re.Tags,
					Confidence: conf,
				},
				matcher: gitignore.CompileIgnoreLines(re.Pattern),
			})
		}
	}
	return r, nil
}

// Rules returns the root sidecar's tag rules for persistence.
func (r *Resolver) Rules() []store.TagRule {
	out := make([]store.TagRule, 0, len(r.rules))
	for _, cr := range r.rules {
		out = append(out, cr.rule)
	}
	return out
}

func (r *Resolver) dirData(relDir string) (*Data, error) {
	if d, ok := r.cache[relDir]; ok {
		return d, nil
	}
	d, err := Load(filepath.Join(r.root, filepath.FromSlash(relDir)))
	if err != nil {
		return nil, err
	}
	r.cache[relDir] = d
	return d, nil
}

// Entry returns the nearest sidecar entry for a relative path along with
// the directory tags collected from the path's directory chain (root
// first). The entry is nil when no sidecar mentions the file.
func (r *Resolver) Entry(relPath string) (*FileEntry, []string, error) {
	var dirTags []string
	var entry *FileEntry

	dir := ""
	segments := strings.Split(path.Dir(relPath), "/")
	if path.Dir(relPath) == "." {
		segments = nil
	}

	chain := []string{""}
	for _, seg := range segments {
		if dir == "" {
			dir = seg
		} else {
			dir = dir + "/" + seg
		}
		chain = append(chain, dir)
	}

	for _, d := range chain {
		data, err := r.dirData(d)
		if err != nil {
			return nil, nil, err
		}
		if data == nil {
			continue
		}
		dirTags = append(dirTags, data.Tags...)
		// Sidecar file keys are relative to the sidecar's own directory.
		rel := relPath
		if d != "" {
			rel = strings.TrimPrefix(relPath, d+"/")
		}
		if e, ok := data.Files[rel]; ok {
			entry = &e
		}
	}
	return entry, dirTags, nil
}

// InferTags applies the root tag rules to a path.
func (r *Resolver) InferTags(relPath string) []store.FileTag {
	var out []store.FileTag
	for _, cr := range r.rules {
		if !cr.matcher.MatchesPath(relPath) {
			continue
		}
		for _, tag := range cr.rule.Tags {
			out = append(out, store.FileTag{
				Path:       relPath,
				Tag:        tag,
				Confidence: cr.rule.Confidence,
			})
		}
	}
	return out
}

// Materialize builds the metadata row and tag rows for one file, or nil
// when nothing should be stored. An inferred row is only created when the
// file has exported symbols or a sidecar entry exists; that is the storage
// growth safeguard.
func (r *Resolver) Materialize(relPath string, exportedHash string, hasExported bool) (*store.FileMeta, []store.FileTag, error) {
	entry, dirTags, err := r.Entry(relPath)
	if err != nil {
		return nil, nil, err
	}

	inferred := r.InferTags(relPath)

	if entry == nil && !hasExported {
		return nil, nil, nil
	}

	meta := &store.FileMeta{
		Path:         relPath,
		ExportedHash: exportedHash,
		Provenance:   store.ProvenanceInferred,
		Confidence:   0.5,
	}
	tags := inferred
	for _, t := range dirTags {
		tags = append(tags, store.FileTag{Path: relPath, Tag: t, Confidence: 0.8})
	}

	if entry != nil {
		meta.Doc1 = entry.Doc1
		meta.Purpose = entry.Purpose
		meta.Capabilities = entry.Capabilities
		meta.Invariants = entry.Invariants
		meta.SecurityNotes = entry.SecurityNotes
		meta.Owner = entry.Owner
		meta.Stability = entry.Stability
		meta.Provenance = store.ProvenanceSidecar
		meta.Confidence = 1.0
		for _, t := range entry.Tags {
			tags = append(tags, store.FileTag{Path: relPath, Tag: t, Confidence: 1.0})
		}
	}

	// Collapse duplicate tags, keeping the highest confidence.
	byName := make(map[string]store.FileTag, len(tags))
	for _, t := range tags {
		if cur, ok := byName[t.Tag]; !ok || t.Confidence > cur.Confidence {
			byName[t.Tag] = t
		}
	}
	tags = tags[:0]
	for _, t := range byName {
		tags = append(tags, t)
	}

	return meta, tags, nil
}
