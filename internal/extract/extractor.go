// Package extract turns one parsed file into an ExtractionResult by
// running the language's declarative queries over the syntax tree and
// deriving scope nesting, fully-qualified names, and call edges from the
// captures. Extraction is deterministic: the same input bytes produce the
// same result.
package extract

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/quarry/internal/lang"
	"github.com/jward/quarry/internal/store"
)

// kindForCapture maps a "def.<x>" capture suffix onto a symbol kind.
var kindForCapture = map[string]string{
	"function":    store.KindFunction,
	"method":      store.KindMethod,
	"class":       store.KindClass,
	"struct":      store.KindStruct,
	"interface":   store.KindInterface,
	"trait":       store.KindTrait,
	"enum":        store.KindEnum,
	"enum_member": store.KindEnumMember,
	"type_alias":  store.KindTypeAlias,
	"constant":    store.KindConstant,
	"variable":    store.KindVariable,
	"field":       store.KindField,
	"module":      store.KindModule,
	"namespace":   store.KindNamespace,
	"macro":       store.KindMacro,
}

// refKindForCapture maps a "ref.<x>" capture suffix onto a reference kind.
var refKindForCapture = map[string]string{
	"call":   store.RefCall,
	"type":   store.RefTypeUse,
	"extend": store.RefExtend,
	"field":  store.RefFieldAccess,
}

// virtualDispatchLangs are class-based languages where a
// receiver call goes through the vtable; everywhere else an unknown
// receiver is a dynamic one.
var virtualDispatchLangs = map[string]bool{
	"java": true,
	"cpp":  true,
	"php":  true,
}

// Extractor runs a language's queries over syntax trees. One instance per
// worker; the query cursor is reused across files.
type Extractor struct {
	cursor *sitter.QueryCursor
}

// New creates an Extractor.
func New() *Extractor {
	return &Extractor{cursor: sitter.NewQueryCursor()}
}

// Close releases the cursor.
func (e *Extractor) Close() {
	e.cursor.Close()
}

// Extract produces the extraction result for one file. The tree is
// borrowed: it must stay alive for the duration of the call, and the
// caller keeps ownership. Content hash, size and mtime are filled in by
// the pipeline, which already has them from the staleness check.
func (e *Extractor) Extract(path string, l *lang.Language, source []byte, tree *sitter.Tree) (*store.ExtractionResult, error) {
	root := tree.RootNode()
	if root.HasError() && root.NamedChildCount() == 0 {
		return nil, fmt.Errorf("extract %s: parse produced no usable tree", path)
	}

	st := &extractState{
		path:     path,
		lang:     l,
		source:   source,
		result:   &store.ExtractionResult{File: path, Language: l.Name},
		nextFake: -1,
	}

	st.buildScopes(e.cursor, root)
	st.buildSymbols(e.cursor, root)
	st.buildImports(e.cursor, root)
	st.buildReferences(e.cursor, root)

	return st.result, nil
}

// extractState carries everything for one file's extraction.
type extractState struct {
	path     string
	lang     *lang.Language
	source   []byte
	result   *store.ExtractionResult
	nextFake int64

	// scopes sorted by (start, -end); index parallel to result.Scopes.
	scopeRanges []scopeRange

	// symbols indexed into result.Symbols for enclosing lookups.
	symbolRanges []symbolRange

	// defNamePositions records the position of every definition's name
	// node, so the reference pass can skip the definition site itself.
	defNamePositions map[position]bool
}

type position struct {
	line, col int
}

type scopeRange struct {
	idx        int // index into result.Scopes
	start, end int
}

type symbolRange struct {
	idx        int // index into result.Symbols
	start, end int
	kind       string
}

func (st *extractState) allocFake() int64 {
	id := st.nextFake
	st.nextFake--
	return id
}

// --- scopes ---

// buildScopes runs the scopes query and assembles the per-file lexical
// tree. A synthetic file scope spanning the whole source is always the
// root; query-captured scopes nest under it by offset containment.
func (st *extractState) buildScopes(qc *sitter.QueryCursor, root *sitter.Node) {
	fileScope := store.Scope{
		ID:          st.allocFake(),
		FilePath:    st.path,
		Kind:        store.ScopeFile,
		StartOffset: 0,
		EndOffset:   len(st.source),
	}
	st.result.Scopes = append(st.result.Scopes, fileScope)
	st.scopeRanges = append(st.scopeRanges, scopeRange{idx: 0, start: 0, end: len(st.source)})

	if st.lang.Queries.Scopes == nil {
		return
	}

	type rawScope struct {
		kind       string
		name       string
		start, end int
	}
	var raw []rawScope
	seen := map[[2]int]bool{{0, len(st.source)}: true}

	qc.Exec(st.lang.Queries.Scopes, root)
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		var node *sitter.Node
		var kind, name string
		for _, c := range m.Captures {
			capName := st.lang.Queries.Scopes.CaptureNameForId(c.Index)
			switch {
			case strings.HasPrefix(capName, "scope."):
				node = c.Node
				kind = scopeKind(strings.TrimPrefix(capName, "scope."))
			case capName == "name":
				name = c.Node.Content(st.source)
			}
		}
		if node == nil {
			continue
		}
		span := [2]int{int(node.StartByte()), int(node.EndByte())}
		if seen[span] {
			continue
		}
		seen[span] = true
		raw = append(raw, rawScope{kind: kind, name: name, start: span[0], end: span[1]})
	}

	// Sort outer-before-inner so a parent is always placed before its
	// children, then link parents with a containment stack.
	sort.Slice(raw, func(i, j int) bool {
		if raw[i].start != raw[j].start {
			return raw[i].start < raw[j].start
		}
		return raw[i].end > raw[j].end
	})

	stack := []int{0} // indexes into st.result.Scopes, root = file scope
	for _, rs := range raw {
		for len(stack) > 1 {
			top := st.result.Scopes[stack[len(stack)-1]]
			if rs.start >= top.StartOffset && rs.end <= top.EndOffset {
				break
			}
			stack = stack[:len(stack)-1]
		}
		parentID := st.result.Scopes[stack[len(stack)-1]].ID
		sc := store.Scope{
			ID:          st.allocFake(),
			FilePath:    st.path,
			ParentID:    &parentID,
			Kind:        rs.kind,
			Name:        rs.name,
			StartOffset: rs.start,
			EndOffset:   rs.end,
		}
		st.result.Scopes = append(st.result.Scopes, sc)
		idx := len(st.result.Scopes) - 1
		st.scopeRanges = append(st.scopeRanges, scopeRange{idx: idx, start: rs.start, end: rs.end})
		stack = append(stack, idx)
	}
}

func scopeKind(suffix string) string {
	switch suffix {
	case "function":
		return store.ScopeFunction
	case "class":
		return store.ScopeClass
	case "module":
		return store.ScopeModule
	case "block":
		return store.ScopeBlock
	default:
		return store.ScopeBlock
	}
}

// innermostScope returns the fake ID of the tightest scope containing the
// span, excluding the scope the span itself introduces (a function's
// symbol lives in its parent scope, not in its own body). Scopes were
// appended outer-before-inner, so the last hit wins.
func (st *extractState) innermostScope(start, end int) int64 {
	best := st.result.Scopes[0].ID
	for _, sr := range st.scopeRanges {
		if sr.start == start && sr.end == end {
			continue
		}
		if start >= sr.start && start < sr.end {
			best = st.result.Scopes[sr.idx].ID
		}
	}
	return best
}

// scopeChainNames returns the named scopes enclosing a span, outermost
// first, excluding the span's own scope. Used for fully-qualified names.
func (st *extractState) scopeChainNames(start, end int) []string {
	var names []string
	for _, sr := range st.scopeRanges {
		if sr.start == start && sr.end == end {
			continue
		}
		if start >= sr.start && start < sr.end {
			if name := st.result.Scopes[sr.idx].Name; name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// --- symbols ---

func (st *extractState) buildSymbols(qc *sitter.QueryCursor, root *sitter.Node) {
	st.defNamePositions = make(map[position]bool)
	if st.lang.Queries.Symbols == nil {
		return
	}

	type rawSymbol struct {
		node     *sitter.Node
		nameNode *sitter.Node
		kind     string
	}
	var raw []rawSymbol
	seen := make(map[[3]int]bool) // start, end, kind-hash dedupe

	qc.Exec(st.lang.Queries.Symbols, root)
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		var node, nameNode *sitter.Node
		var kind string
		for _, c := range m.Captures {
			capName := st.lang.Queries.Symbols.CaptureNameForId(c.Index)
			switch {
			case strings.HasPrefix(capName, "def."):
				node = c.Node
				kind = kindForCapture[strings.TrimPrefix(capName, "def.")]
			case capName == "name":
				nameNode = c.Node
			}
		}
		if node == nil || nameNode == nil || kind == "" {
			continue
		}
		key := [3]int{int(nameNode.StartByte()), int(node.EndByte()), len(kind)}
		if seen[key] {
			continue
		}
		seen[key] = true
		raw = append(raw, rawSymbol{node: node, nameNode: nameNode, kind: kind})
	}

	// Source order, outer definitions before the members they contain.
	sort.Slice(raw, func(i, j int) bool {
		si, sj := int(raw[i].node.StartByte()), int(raw[j].node.StartByte())
		if si != sj {
			return si < sj
		}
		return int(raw[i].node.EndByte()) > int(raw[j].node.EndByte())
	})

	type placed struct {
		id         int64
		start, end int
	}
	var stack []placed

	for _, rs := range raw {
		start, end := int(rs.node.StartByte()), int(rs.node.EndByte())
		name := rs.nameNode.Content(st.source)
		if name == "" {
			continue
		}

		// Strict containment only: grouped declarations share one capture
		// node, and siblings must not parent each other.
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if start >= top.start && end <= top.end && !(start == top.start && end == top.end) {
				break
			}
			stack = stack[:len(stack)-1]
		}
		var parentID *int64
		if len(stack) > 0 {
			id := stack[len(stack)-1].id
			parentID = &id
		}

		scopeID := st.innermostScope(start, end)
		chain := st.scopeChainNames(start, end)
		fqn := name
		if len(chain) > 0 {
			fqn = strings.Join(chain, ".") + "." + name
		}

		sym := store.Symbol{
			ID:          st.allocFake(),
			Name:        name,
			Kind:        rs.kind,
			FilePath:    st.path,
			StartOffset: start,
			EndOffset:   end,
			StartLine:   int(rs.node.StartPoint().Row) + 1,
			StartCol:    int(rs.node.StartPoint().Column) + 1,
			EndLine:     int(rs.node.EndPoint().Row) + 1,
			EndCol:      int(rs.node.EndPoint().Column) + 1,
			Language:    st.lang.Name,
			Visibility:  st.visibility(rs.node, name, rs.kind),
			Signature:   st.signature(rs.node),
			DocComment:  st.docComment(rs.node),
			ParentID:    parentID,
			ScopeID:     &scopeID,
			FQN:         fqn,
			TypeParams:  st.typeParams(rs.node),
			Params:      st.params(rs.node),
		}
		st.result.Symbols = append(st.result.Symbols, sym)
		idx := len(st.result.Symbols) - 1
		st.symbolRanges = append(st.symbolRanges, symbolRange{idx: idx, start: start, end: end, kind: rs.kind})
		stack = append(stack, placed{id: sym.ID, start: start, end: end})

		st.defNamePositions[position{
			line: int(rs.nameNode.StartPoint().Row) + 1,
			col:  int(rs.nameNode.StartPoint().Column) + 1,
		}] = true
	}
}

// enclosingCallable returns the innermost function or method symbol whose
// range contains the offset, or nil.
func (st *extractState) enclosingCallable(offset int) *store.Symbol {
	var best *store.Symbol
	for _, sr := range st.symbolRanges {
		if sr.kind != store.KindFunction && sr.kind != store.KindMethod {
			continue
		}
		if offset >= sr.start && offset < sr.end {
			sym := &st.result.Symbols[sr.idx]
			if best == nil || sym.StartOffset >= best.StartOffset {
				best = sym
			}
		}
	}
	return best
}

// --- imports ---

func (st *extractState) buildImports(qc *sitter.QueryCursor, root *sitter.Node) {
	if st.lang.Queries.Imports == nil {
		return
	}
	seen := make(map[string]bool)

	qc.Exec(st.lang.Queries.Imports, root)
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		var source, name, fn string
		var sourceNode *sitter.Node
		for _, c := range m.Captures {
			capName := st.lang.Queries.Imports.CaptureNameForId(c.Index)
			switch capName {
			case "source":
				sourceNode = c.Node
				source = trimQuotes(c.Node.Content(st.source))
			case "name":
				name = c.Node.Content(st.source)
			case "fn":
				fn = c.Node.Content(st.source)
			}
		}
		if source == "" {
			continue
		}
		// Call-style importers (ruby require) must actually be importers.
		if fn != "" && fn != "require" && fn != "require_relative" {
			continue
		}

		kind := store.ImportModule
		switch {
		case strings.HasPrefix(source, ".") || fn == "require_relative":
			kind = store.ImportRelative
		case sourceNode != nil && sourceNode.Type() == "use_wildcard":
			kind = store.ImportWildcard
		case strings.HasSuffix(source, "*"):
			kind = store.ImportWildcard
		case name != "":
			kind = store.ImportNamed
		}

		key := source + "\x00" + name
		if seen[key] {
			continue
		}
		seen[key] = true

		st.result.Imports = append(st.result.Imports, store.Import{
			FilePath:     st.path,
			Source:       source,
			ImportedName: name,
			Kind:         kind,
		})
	}
}

// --- references and call edges ---

func (st *extractState) buildReferences(qc *sitter.QueryCursor, root *sitter.Node) {
	if st.lang.Queries.References == nil {
		return
	}

	// Same-file callables by name, for call confidence.
	callables := make(map[string][]*store.Symbol)
	for i := range st.result.Symbols {
		sym := &st.result.Symbols[i]
		switch sym.Kind {
		case store.KindFunction, store.KindMethod, store.KindMacro:
			callables[sym.Name] = append(callables[sym.Name], sym)
		}
	}

	type refSite struct {
		name     string
		kind     string
		line     int
		col      int
		offset   int
		receiver bool
	}
	var sites []refSite
	callAt := make(map[position]bool)

	qc.Exec(st.lang.Queries.References, root)
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		var refNode, nameNode *sitter.Node
		var kind string
		for _, c := range m.Captures {
			capName := st.lang.Queries.References.CaptureNameForId(c.Index)
			switch {
			case strings.HasPrefix(capName, "ref."):
				refNode = c.Node
				kind = refKindForCapture[strings.TrimPrefix(capName, "ref.")]
			case capName == "name":
				nameNode = c.Node
			}
		}
		if refNode == nil || nameNode == nil || kind == "" {
			continue
		}
		pos := position{
			line: int(nameNode.StartPoint().Row) + 1,
			col:  int(nameNode.StartPoint().Column) + 1,
		}
		// A definition's own name is not a use of it.
		if st.defNamePositions[pos] {
			continue
		}
		if kind == store.RefCall {
			callAt[pos] = true
		}
		sites = append(sites, refSite{
			name:     nameNode.Content(st.source),
			kind:     kind,
			line:     pos.line,
			col:      pos.col,
			offset:   int(nameNode.StartByte()),
			receiver: hasReceiver(refNode),
		})
	}

	seen := make(map[refSite]bool)
	for _, site := range sites {
		// A method call shows up under both the call and field-access
		// patterns; the call wins.
		if site.kind == store.RefFieldAccess && callAt[position{site.line, site.col}] {
			continue
		}
		dedup := site
		dedup.offset = 0
		if seen[dedup] {
			continue
		}
		seen[dedup] = true

		ref := store.Reference{
			FilePath: st.path,
			Line:     site.line,
			Col:      site.col,
			Kind:     site.kind,
			Name:     site.name,
		}

		caller := st.enclosingCallable(site.offset)
		if site.kind == store.RefCall && caller != nil {
			callerID := caller.ID
			ref.CallerSymbolID = &callerID
			st.result.CallEdges = append(st.result.CallEdges,
				st.callEdge(caller, site.name, site.line, site.receiver, callables))
		}

		// Same-file single-candidate targets resolve immediately.
		if cands := callables[site.name]; site.kind == store.RefCall && len(cands) == 1 && !site.receiver {
			id := cands[0].ID
			ref.TargetSymbolID = &id
		}

		st.result.References = append(st.result.References, ref)
	}
}

// callEdge applies the confidence rules for one call site.
func (st *extractState) callEdge(caller *store.Symbol, callee string, line int, receiver bool, callables map[string][]*store.Symbol) store.CallEdge {
	edge := store.CallEdge{
		CallerID:   caller.ID,
		CalleeName: callee,
		FilePath:   st.path,
		Line:       line,
	}

	if receiver {
		edge.Confidence = store.ConfidencePossible
		if virtualDispatchLangs[st.lang.Name] {
			edge.Reason = store.ReasonVirtualDispatch
		} else {
			edge.Reason = store.ReasonDynamicReceiver
		}
		return edge
	}

	// Calling a parameter is a higher-order call whatever the name
	// happens to collide with.
	if paramNames(caller.Params)[callee] {
		edge.Confidence = store.ConfidencePossible
		edge.Reason = store.ReasonHigherOrder
		return edge
	}

	switch cands := callables[callee]; len(cands) {
	case 0:
		edge.Confidence = store.ConfidencePossible
		edge.Reason = store.ReasonExternalLibrary
	case 1:
		edge.Confidence = store.ConfidenceCertain
		id := cands[0].ID
		edge.CalleeID = &id
	default:
		edge.Confidence = store.ConfidencePossible
		edge.Reason = store.ReasonMultipleCandidates
	}
	return edge
}

// hasReceiver reports whether a call site goes through a receiver or
// qualified path rather than a bare identifier.
func hasReceiver(callNode *sitter.Node) bool {
	if callNode.ChildByFieldName("receiver") != nil {
		return true
	}
	fn := callNode.ChildByFieldName("function")
	if fn == nil {
		fn = callNode.ChildByFieldName("method")
	}
	if fn == nil {
		return false
	}
	switch fn.Type() {
	case "identifier", "name":
		return false
	}
	return true
}

// paramNames parses the stored params JSON into a name set.
func paramNames(paramsJSON string) map[string]bool {
	out := make(map[string]bool)
	if paramsJSON == "" {
		return out
	}
	var params []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		return out
	}
	for _, p := range params {
		if p.Name != "" {
			out[p.Name] = true
		}
	}
	return out
}

// --- per-symbol detail helpers ---

// visibility derives a symbol's visibility the way each language spells
// it. Unknown stays empty rather than guessing.
func (st *extractState) visibility(node *sitter.Node, name, kind string) string {
	switch st.lang.Name {
	case "go":
		r, _ := utf8.DecodeRuneInString(name)
		if unicode.IsUpper(r) {
			return "public"
		}
		return "private"
	case "rust":
		if strings.HasPrefix(node.Content(st.source), "pub") {
			return "public"
		}
		return "private"
	case "python", "ruby":
		if strings.HasPrefix(name, "_") {
			return "private"
		}
		return "public"
	case "typescript", "javascript":
		for p := node.Parent(); p != nil; p = p.Parent() {
			if p.Type() == "export_statement" {
				return "public"
			}
		}
		if kind == store.KindMethod || kind == store.KindField {
			return "public"
		}
		return "private"
	default:
		head := node.Content(st.source)
		if len(head) > 64 {
			head = head[:64]
		}
		switch {
		case strings.Contains(head, "private"):
			return "private"
		case strings.Contains(head, "protected"):
			return "protected"
		case strings.Contains(head, "public"):
			return "public"
		}
		return ""
	}
}

// signature is the declaration head: node text up to the body, collapsed
// to one line.
func (st *extractState) signature(node *sitter.Node) string {
	end := int(node.EndByte())
	if body := node.ChildByFieldName("body"); body != nil {
		end = int(body.StartByte())
	}
	start := int(node.StartByte())
	if end <= start {
		return ""
	}
	sig := string(st.source[start:end])
	sig = strings.Join(strings.Fields(sig), " ")
	if idx := strings.IndexByte(sig, '\n'); idx >= 0 {
		sig = sig[:idx]
	}
	const maxSig = 300
	if len(sig) > maxSig {
		sig = sig[:maxSig]
	}
	return strings.TrimSpace(sig)
}

// docComment collects the contiguous comment block directly above a
// definition.
func (st *extractState) docComment(node *sitter.Node) string {
	var lines []string
	expectedEnd := int(node.StartPoint().Row)
	for prev := node.PrevNamedSibling(); prev != nil; prev = prev.PrevNamedSibling() {
		if !strings.Contains(prev.Type(), "comment") {
			break
		}
		if int(prev.EndPoint().Row) < expectedEnd-1 {
			break
		}
		lines = append([]string{cleanComment(prev.Content(st.source))}, lines...)
		expectedEnd = int(prev.StartPoint().Row)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func cleanComment(c string) string {
	c = strings.TrimSpace(c)
	c = strings.TrimPrefix(c, "///")
	c = strings.TrimPrefix(c, "//")
	c = strings.TrimPrefix(c, "#")
	if strings.HasPrefix(c, "/*") {
		c = strings.TrimPrefix(c, "/*")
		c = strings.TrimSuffix(c, "*/")
	}
	return strings.TrimSpace(c)
}

// params serializes the parameter list, when the grammar exposes one, as a
// JSON array of {name, type} objects.
func (st *extractState) params(node *sitter.Node) string {
	paramsNode := node.ChildByFieldName("parameters")
	if paramsNode == nil {
		return ""
	}
	type param struct {
		Name string `json:"name"`
		Type string `json:"type,omitempty"`
	}
	var out []param
	for i := 0; i < int(paramsNode.NamedChildCount()); i++ {
		child := paramsNode.NamedChild(i)
		if strings.Contains(child.Type(), "comment") {
			continue
		}
		var p param
		if nameNode := child.ChildByFieldName("name"); nameNode != nil {
			p.Name = nameNode.Content(st.source)
		} else if child.Type() == "identifier" {
			p.Name = child.Content(st.source)
		} else {
			p.Name = strings.Join(strings.Fields(child.Content(st.source)), " ")
		}
		if typeNode := child.ChildByFieldName("type"); typeNode != nil {
			p.Type = typeNode.Content(st.source)
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return ""
	}
	b, err := json.Marshal(out)
	if err != nil {
		return ""
	}
	return string(b)
}

// typeParams serializes generic parameter names as a JSON array.
func (st *extractState) typeParams(node *sitter.Node) string {
	tpNode := node.ChildByFieldName("type_parameters")
	if tpNode == nil {
		return ""
	}
	var names []string
	for i := 0; i < int(tpNode.NamedChildCount()); i++ {
		child := tpNode.NamedChild(i)
		if nameNode := child.ChildByFieldName("name"); nameNode != nil {
			names = append(names, nameNode.Content(st.source))
		} else {
			names = append(names, strings.Join(strings.Fields(child.Content(st.source)), " "))
		}
	}
	if len(names) == 0 {
		return ""
	}
	b, err := json.Marshal(names)
	if err != nil {
		return ""
	}
	return string(b)
}

// trimQuotes strips one layer of string quoting from an import path.
func trimQuotes(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range []string{`"`, `'`, "`"} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2 {
			return s[1 : len(s)-1]
		}
	}
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	return s
}
