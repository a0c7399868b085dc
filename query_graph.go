package quarry

import (
	"context"
	"fmt"
	"sort"

	"github.com/jward/quarry/internal/store"
)

// Direction selects which way AnalyzeCallGraph walks.
type Direction int

const (
	// DirectionOut walks callees.
	DirectionOut Direction = iota
	// DirectionIn walks callers.
	DirectionIn
	// DirectionBoth walks both ways.
	DirectionBoth
)

// maxCallGraphDepth caps traversal whatever the caller asks for.
const maxCallGraphDepth = 100

// CallGraph is a BFS subgraph rooted at a named function. Edges are
// bulk-loaded once and traversed in memory, no per-node queries.
type CallGraph struct {
	Root  []*store.Symbol // definition rows the name resolved to
	Nodes []CallGraphNode
	Edges []CallGraphEdge
	Depth int // deepest level actually reached
}

// CallGraphNode is a reached symbol with its BFS distance from the root.
type CallGraphNode struct {
	Symbol *store.Symbol
	Depth  int
}

// CallGraphEdge is one traversed call relation. CalleeID is zero for
// unresolved callees, which still appear so the graph stays honest about
// calls into code the index has not seen.
type CallGraphEdge struct {
	CallerID   int64
	CalleeID   int64
	CalleeName string
	Confidence string
	Reason     string
	File       string
	Line       int
}

// callGraphData is the bulk-loaded adjacency view.
type callGraphData struct {
	forward map[int64][]*store.CallEdge // caller -> edges
	reverse map[int64][]*store.CallEdge // callee -> edges
}

func (q *QueryBuilder) buildCallGraph(certainOnly bool) (*callGraphData, error) {
	edges, err := q.store.AllCallEdges()
	if err != nil {
		return nil, fmt.Errorf("build call graph: %w", err)
	}
	data := &callGraphData{
		forward: make(map[int64][]*store.CallEdge),
		reverse: make(map[int64][]*store.CallEdge),
	}
	for _, e := range edges {
		if certainOnly && e.Confidence != store.ConfidenceCertain {
			continue
		}
		data.forward[e.CallerID] = append(data.forward[e.CallerID], e)
		if e.CalleeID != nil {
			data.reverse[*e.CalleeID] = append(data.reverse[*e.CalleeID], e)
		}
	}
	return data, nil
}

// AnalyzeCallGraph BFS-walks the call graph from the named function.
// Cycles are broken by the visited set; a self-call contributes its edge
// but the symbol appears once at depth 0. Returns nil when the name has
// no definition.
func (q *QueryBuilder) AnalyzeCallGraph(ctx context.Context, function string, dir Direction, depth int, certainOnly bool) (*CallGraph, error) {
	if err := ctx.Err(); err != nil {
		return nil, qerr("analyze call graph", err)
	}
	if depth < 0 {
		return nil, &Error{Kind: StorageError, Op: "analyze call graph", Err: fmt.Errorf("negative depth %d", depth)}
	}
	if depth > maxCallGraphDepth {
		depth = maxCallGraphDepth
	}

	roots, err := q.store.SymbolsByName(function)
	if err != nil {
		return nil, qerr("analyze call graph", err)
	}
	var callableRoots []*store.Symbol
	for _, sym := range roots {
		switch sym.Kind {
		case store.KindFunction, store.KindMethod, store.KindMacro:
			callableRoots = append(callableRoots, sym)
		}
	}
	if len(callableRoots) == 0 {
		return nil, nil
	}

	graph := &CallGraph{Root: callableRoots}

	data, err := q.buildCallGraph(certainOnly)
	if err != nil {
		return nil, qerr("analyze call graph", err)
	}

	// BFS with a visited map doubling as the depth record.
	visited := make(map[int64]int)
	type bfsEntry struct {
		id    int64
		depth int
	}
	var queue []bfsEntry
	for _, root := range callableRoots {
		visited[root.ID] = 0
		queue = append(queue, bfsEntry{id: root.ID, depth: 0})
	}

	edgeSeen := make(map[int64]bool)
	addEdge := func(e *store.CallEdge) {
		if edgeSeen[e.ID] {
			return
		}
		edgeSeen[e.ID] = true
		edge := CallGraphEdge{
			CallerID:   e.CallerID,
			CalleeName: e.CalleeName,
			Confidence: e.Confidence,
			Reason:     e.Reason,
			File:       e.FilePath,
			Line:       e.Line,
		}
		if e.CalleeID != nil {
			edge.CalleeID = *e.CalleeID
		}
		graph.Edges = append(graph.Edges, edge)
	}

	visit := func(id int64, d int, queueTail *[]bfsEntry) {
		if _, seen := visited[id]; seen {
			return
		}
		visited[id] = d
		if d > graph.Depth {
			graph.Depth = d
		}
		*queueTail = append(*queueTail, bfsEntry{id: id, depth: d})
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= depth {
			continue
		}
		if dir == DirectionOut || dir == DirectionBoth {
			for _, e := range data.forward[cur.id] {
				addEdge(e)
				if e.CalleeID != nil {
					visit(*e.CalleeID, cur.depth+1, &queue)
				}
			}
		}
		if dir == DirectionIn || dir == DirectionBoth {
			for _, e := range data.reverse[cur.id] {
				addEdge(e)
				visit(e.CallerID, cur.depth+1, &queue)
			}
		}
	}

	// Bulk-load every reached symbol.
	ids := make([]int64, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
	}
	symbols, err := q.store.SymbolsByIDs(ids)
	if err != nil {
		return nil, qerr("analyze call graph", err)
	}
	for _, id := range ids {
		if sym, ok := symbols[id]; ok {
			graph.Nodes = append(graph.Nodes, CallGraphNode{Symbol: sym, Depth: visited[id]})
		}
	}
	sortCallGraphNodes(graph.Nodes)
	return graph, nil
}

// sortCallGraphNodes orders nodes by (depth, file, offset) for stable
// output.
func sortCallGraphNodes(nodes []CallGraphNode) {
	sort.Slice(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		if a.Symbol.FilePath != b.Symbol.FilePath {
			return a.Symbol.FilePath < b.Symbol.FilePath
		}
		return a.Symbol.StartOffset < b.Symbol.StartOffset
	})
}
