package lang

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// ParserCache produces syntax trees for one worker. It owns a single
// tree-sitter parser reused across files, and in incremental mode keeps
// the previous tree per path so the parser can reuse unchanged subtrees.
// Not safe for concurrent use; the pipeline gives each worker its own.
type ParserCache struct {
	parser *sitter.Parser
	prev   map[string]*sitter.Tree
}

// NewParserCache creates an empty cache.
func NewParserCache() *ParserCache {
	return &ParserCache{
		parser: sitter.NewParser(),
		prev:   make(map[string]*sitter.Tree),
	}
}

// Parse parses source for the given language. In incremental mode a
// previous tree for the same path, if one is cached from this run, is
// handed to the parser for subtree reuse. The returned tree is owned by
// the cache; it stays valid until the next Parse for the same path or
// Close.
func (c *ParserCache) Parse(ctx context.Context, l *Language, path string, source []byte, incremental bool) (*sitter.Tree, error) {
	c.parser.SetLanguage(l.Grammar)

	var old *sitter.Tree
	if incremental {
		old = c.prev[path]
	}

	tree, err := c.parser.ParseCtx(ctx, old, source)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if tree == nil || tree.RootNode() == nil {
		return nil, fmt.Errorf("parse %s: no tree produced", path)
	}

	if prev, ok := c.prev[path]; ok && prev != nil {
		prev.Close()
	}
	c.prev[path] = tree
	return tree, nil
}

// Release drops the cached tree for a path.
func (c *ParserCache) Release(path string) {
	if t, ok := c.prev[path]; ok {
		if t != nil {
			t.Close()
		}
		delete(c.prev, path)
	}
}

// Close releases every cached tree and the parser.
func (c *ParserCache) Close() {
	for _, t := range c.prev {
		if t != nil {
			t.Close()
		}
	}
	c.prev = nil
	c.parser.Close()
}
