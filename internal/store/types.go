package store

// Symbol kinds. Stored as plain strings so new languages can add kinds
// without a schema change.
const (
	KindFunction   = "function"
	KindMethod     = "method"
	KindClass      = "class"
	KindStruct     = "struct"
	KindInterface  = "interface"
	KindTrait      = "trait"
	KindEnum       = "enum"
	KindEnumMember = "enum_member"
	KindTypeAlias  = "type_alias"
	KindConstant   = "constant"
	KindVariable   = "variable"
	KindField      = "field"
	KindModule     = "module"
	KindNamespace  = "namespace"
	KindMacro      = "macro"
)

// Reference kinds.
const (
	RefCall        = "call"
	RefTypeUse     = "type_use"
	RefImport      = "import"
	RefExtend      = "extend"
	RefFieldAccess = "field_access"
)

// Import kinds.
const (
	ImportModule   = "module"
	ImportNamed    = "named"
	ImportWildcard = "wildcard"
	ImportRelative = "relative"
)

// Scope kinds.
const (
	ScopeFile     = "file"
	ScopeModule   = "module"
	ScopeClass    = "class"
	ScopeFunction = "function"
	ScopeBlock    = "block"
)

// Call edge confidence. An edge is certain when the callee resolved
// statically to a single candidate in the same file, or when a direct call
// is later resolved by ResolveCallEdges to the single indexed callable of
// that name; everything else is possible with a reason attached.
const (
	ConfidenceCertain  = "certain"
	ConfidencePossible = "possible"
)

// Uncertainty reasons for possible call edges.
const (
	ReasonVirtualDispatch    = "virtual_dispatch"
	ReasonDynamicReceiver    = "dynamic_receiver"
	ReasonMultipleCandidates = "multiple_candidates"
	ReasonExternalLibrary    = "external_library"
	ReasonHigherOrder        = "higher_order_function"
)

// Metadata provenance.
const (
	ProvenanceSidecar  = "sidecar"
	ProvenanceExplicit = "explicit"
	ProvenanceInferred = "inferred"
)

// File is a tracking row: one per indexed path, keyed by the path relative
// to the index root.
type File struct {
	Path        string
	Language    string
	ContentHash string
	Size        int64
	MtimeNS     int64
	SymbolCount int
}

// Symbol is a definition site. Before a batch commit, IDs are fake
// (negative) and local to one ExtractionResult; the batch writer remaps
// them to real rowids. ParentID and ScopeID may hold fake IDs from the
// same result.
type Symbol struct {
	ID          int64
	Name        string
	Kind        string
	FilePath    string
	StartOffset int
	EndOffset   int
	StartLine   int
	StartCol    int
	EndLine     int
	EndCol      int
	Language    string
	Visibility  string
	Signature   string
	DocComment  string
	ParentID    *int64
	ScopeID     *int64
	FQN         string
	TypeParams  string // JSON array of generic parameter names
	Params      string // JSON array of {name, type} objects
}

// Reference is a use site of a name. TargetSymbolID stays nil for names
// defined in other files or external libraries; resolution is a later
// pass. CallerSymbolID is set for call references when the enclosing
// function is known, and may be a fake ID before commit.
type Reference struct {
	ID             int64
	FilePath       string
	Line           int
	Col            int
	Kind           string
	Name           string
	TargetSymbolID *int64
	CallerSymbolID *int64
}

// Import is a directed edge from a file to an imported module or path.
type Import struct {
	ID           int64
	FilePath     string
	Source       string
	ImportedName string
	Kind         string
}

// Scope is a node in a per-file lexical tree. ParentID may be a fake ID
// before commit.
type Scope struct {
	ID          int64
	FilePath    string
	ParentID    *int64
	Kind        string
	Name        string
	StartOffset int
	EndOffset   int
}

// CallEdge is a directed caller-to-callee relation. CalleeID stays nil
// until the name resolves to an indexed symbol.
type CallEdge struct {
	ID         int64
	CallerID   int64
	CalleeName string
	CalleeID   *int64
	Confidence string
	Reason     string
	FilePath   string
	Line       int
}

// FileMeta is per-file descriptive metadata from a sidecar or inference.
type FileMeta struct {
	Path          string
	Doc1          string
	Purpose       string
	Capabilities  []string
	Invariants    []string
	SecurityNotes []string
	Owner         string
	Stability     string
	ExportedHash  string
	Provenance    string
	Confidence    float64
}

// FileTag is a (path, tag, confidence) row.
type FileTag struct {
	Path       string
	Tag        string
	Confidence float64
}

// TagRule maps a glob pattern to a tag set.
type TagRule struct {
	Pattern    string
	Tags       []string
	Confidence float64
}

// TagEntry is a tag dictionary row: a canonical tag name with synonyms.
type TagEntry struct {
	Category string
	Name     string
	Synonyms []string
}

// ExtractionResult is everything extracted from one file by one parse.
// Symbol and scope IDs are fake (negative, unique within the result), and
// references and call edges point at them by those fake IDs, so intra-file
// relationships survive the remap at commit time.
type ExtractionResult struct {
	File        string
	Language    string
	ContentHash string
	Size        int64
	MtimeNS     int64
	Symbols     []Symbol
	References  []Reference
	Imports     []Import
	Scopes      []Scope
	CallEdges   []CallEdge

	// Meta and Tags are optional sidecar-derived rows committed in the
	// same transaction as the extraction data.
	Meta *FileMeta
	Tags []FileTag
}
