// Package lang maps file extensions to tree-sitter grammars and the
// declarative query sets the extractor runs over each syntax tree. The
// registry is built once at first use and read-only afterwards; adding a
// language means adding an entry here and its queries in queries.go.
package lang

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	ts "github.com/smacker/go-tree-sitter/typescript/typescript"
)

// QuerySet holds a language's compiled extraction queries.
type QuerySet struct {
	Symbols    *sitter.Query
	References *sitter.Query
	Imports    *sitter.Query
	Scopes     *sitter.Query
}

// Language is one registry entry.
type Language struct {
	Name       string
	Extensions []string
	Grammar    *sitter.Language
	Queries    QuerySet
}

var (
	registryOnce sync.Once
	registryErr  error
	byExt        map[string]*Language
	byName       map[string]*Language
)

// grammars in registration order; extensions must not overlap.
var grammarTable = []struct {
	name       string
	extensions []string
	grammar    func() *sitter.Language
}{
	{"go", []string{".go"}, golang.GetLanguage},
	{"python", []string{".py"}, python.GetLanguage},
	{"typescript", []string{".ts", ".tsx"}, ts.GetLanguage},
	{"javascript", []string{".js", ".jsx", ".mjs"}, javascript.GetLanguage},
	{"rust", []string{".rs"}, rust.GetLanguage},
	{"java", []string{".java"}, java.GetLanguage},
	{"c", []string{".c", ".h"}, c.GetLanguage},
	{"cpp", []string{".cpp", ".cc", ".cxx", ".hpp", ".hh"}, cpp.GetLanguage},
	{"ruby", []string{".rb"}, ruby.GetLanguage},
	{"php", []string{".php"}, php.GetLanguage},
}

func initRegistry() {
	byExt = make(map[string]*Language)
	byName = make(map[string]*Language)
	for _, entry := range grammarTable {
		grammar := entry.grammar()
		qs, err := compileQueries(entry.name, grammar)
		if err != nil {
			registryErr = fmt.Errorf("lang %s: %w", entry.name, err)
			return
		}
		l := &Language{
			Name:       entry.name,
			Extensions: entry.extensions,
			Grammar:    grammar,
			Queries:    qs,
		}
		byName[l.Name] = l
		for _, ext := range entry.extensions {
			byExt[ext] = l
		}
	}
}

func compileQueries(name string, grammar *sitter.Language) (QuerySet, error) {
	src, ok := querySources[name]
	if !ok {
		return QuerySet{}, fmt.Errorf("no query sources registered")
	}
	compile := func(label, q string) (*sitter.Query, error) {
		if strings.TrimSpace(q) == "" {
			return nil, nil
		}
		compiled, err := sitter.NewQuery([]byte(q), grammar)
		if err != nil {
			return nil, fmt.Errorf("compile %s query: %w", label, err)
		}
		return compiled, nil
	}
	var (
		qs  QuerySet
		err error
	)
	if qs.Symbols, err = compile("symbols", src.symbols); err != nil {
		return qs, err
	}
	if qs.References, err = compile("references", src.references); err != nil {
		return qs, err
	}
	if qs.Imports, err = compile("imports", src.imports); err != nil {
		return qs, err
	}
	if qs.Scopes, err = compile("scopes", src.scopes); err != nil {
		return qs, err
	}
	return qs, nil
}

// ForPath returns the language registered for a path's extension.
func ForPath(path string) (*Language, bool) {
	registryOnce.Do(initRegistry)
	if registryErr != nil {
		return nil, false
	}
	l, ok := byExt[strings.ToLower(filepath.Ext(path))]
	return l, ok
}

// ForName returns a language by canonical name.
func ForName(name string) (*Language, bool) {
	registryOnce.Do(initRegistry)
	if registryErr != nil {
		return nil, false
	}
	l, ok := byName[name]
	return l, ok
}

// Names returns the registered language names, sorted.
func Names() []string {
	registryOnce.Do(initRegistry)
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Err reports a registry initialization failure, which indicates a broken
// query source and is a programming error rather than user input.
func Err() error {
	registryOnce.Do(initRegistry)
	return registryErr
}
