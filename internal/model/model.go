// Package model defines the data types shared across repoctx packages.
package model

// SchemaVersion is the on-disk format version of both persisted artifacts.
// Bump it whenever a field is added, removed or changes meaning.
const SchemaVersion = 2

// SymbolKind classifies a declared symbol.
type SymbolKind string

const (
	Function  SymbolKind = "function"
	Method    SymbolKind = "method"
	Class     SymbolKind = "class"
	Struct    SymbolKind = "struct"
	Enum      SymbolKind = "enum"
	Trait     SymbolKind = "trait"
	Interface SymbolKind = "interface"
	Module    SymbolKind = "module"
	Type      SymbolKind = "type"
)

// IsType reports whether symbols of this kind can own members.
func (k SymbolKind) IsType() bool {
	switch k {
	case Class, Struct, Enum, Trait, Interface, Module, Type:
		return true
	}
	return false
}

// CalleeKind classifies the target of a call edge.
type CalleeKind string

const (
	Local      CalleeKind = "local"
	Builtin    CalleeKind = "builtin"
	External   CalleeKind = "external"
	Unresolved CalleeKind = "unresolved"
)

// Param is one declared parameter. Type is empty when not annotated.
type Param struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Call is an outgoing call edge from the owning symbol. Raw keeps the call
// text as written so retained symbols can be re-resolved without reparsing.
// Target is a symbol ID for Local, the builtin name for Builtin,
// the qualified name for External and the raw text for Unresolved.
type Call struct {
	Raw    string     `json:"raw"`
	Kind   CalleeKind `json:"kind"`
	Target string     `json:"target"`
}

// SymbolRecord is one declaration in the semantic index.
type SymbolRecord struct {
	ID            string     `json:"id"`
	Kind          SymbolKind `json:"kind"`
	Name          string     `json:"name"`
	QualifiedName string     `json:"qualified_name"`
	Container     string     `json:"container,omitempty"`
	File          string     `json:"file"`
	Params        []Param    `json:"params"`
	Returns       string     `json:"returns,omitempty"`
	Doc           string     `json:"doc,omitempty"`
	LineStart     int        `json:"line_start"`
	LineEnd       int        `json:"line_end"`
	Calls         []Call     `json:"calls"`
	CalledBy      []string   `json:"called_by"`
}

// FileRecord describes one indexed source file.
// A non-empty Error marks a file whose parse failed; its Symbols is empty.
type FileRecord struct {
	Path        string   `json:"path"`
	Language    string   `json:"language"`
	Bytes       int64    `json:"bytes"`
	Lines       int      `json:"lines"`
	Fingerprint string   `json:"fingerprint"`
	Symbols     []string `json:"symbols"`
	Imports     []string `json:"imports,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// EdgeCounts tallies call edges by callee kind.
type EdgeCounts struct {
	Local      int `json:"local"`
	Builtin    int `json:"builtin"`
	External   int `json:"external"`
	Unresolved int `json:"unresolved"`
}

// Stats summarizes the indexed repository.
type Stats struct {
	FileCount   int        `json:"file_count"`
	SymbolCount int        `json:"symbol_count"`
	TotalBytes  int64      `json:"total_bytes"`
	TotalLines  int        `json:"total_lines"`
	EdgeCount   int        `json:"edge_count"`
	Edges       EdgeCounts `json:"edges"`
	ErrorFiles  int        `json:"error_files"`
}

// Index is the semantic index persisted as context.json.
// Files are sorted by path; symbols follow file order, then declaration order.
type Index struct {
	SchemaVersion int            `json:"schema_version"`
	Stats         Stats          `json:"stats"`
	Files         []FileRecord   `json:"files"`
	Symbols       []SymbolRecord `json:"symbols"`
}

// FileMeta is the change-detection entry for one file.
type FileMeta struct {
	Fingerprint string `json:"fingerprint"`
	Bytes       int64  `json:"bytes"`
}

// Metadata is persisted as meta.json and used only for change detection.
type Metadata struct {
	SchemaVersion int                 `json:"schema_version"`
	ToolVersion   string              `json:"tool_version"`
	ConfigDigest  string              `json:"config_digest"`
	IndexDigest   string              `json:"index_digest"`
	Files         map[string]FileMeta `json:"files"`
}

// ParsedSymbol is a declaration as reported by a language adapter,
// before identifiers are assigned or calls are resolved.
type ParsedSymbol struct {
	Kind          SymbolKind
	Name          string
	QualifiedName string
	Container     string
	Params        []Param
	Returns       string
	Doc           string
	LineStart     int
	LineEnd       int
	Calls         []string
}

// ParsedFile is the result of running a language adapter over one file.
type ParsedFile struct {
	Path        string
	Language    string
	Bytes       int64
	Lines       int
	Fingerprint string
	Symbols     []ParsedSymbol
	Imports     []string
	Err         string
}

// Normalize replaces nil slices with empty ones so the index always
// serializes collections as [] rather than null.
func (idx *Index) Normalize() {
	if idx.Files == nil {
		idx.Files = []FileRecord{}
	}
	if idx.Symbols == nil {
		idx.Symbols = []SymbolRecord{}
	}
	for i := range idx.Files {
		if idx.Files[i].Symbols == nil {
			idx.Files[i].Symbols = []string{}
		}
	}
	for i := range idx.Symbols {
		s := &idx.Symbols[i]
		if s.Params == nil {
			s.Params = []Param{}
		}
		if s.Calls == nil {
			s.Calls = []Call{}
		}
		if s.CalledBy == nil {
			s.CalledBy = []string{}
		}
	}
}

// SymbolsByID returns a lookup from symbol ID to its position in idx.Symbols.
func (idx *Index) SymbolsByID() map[string]int {
	m := make(map[string]int, len(idx.Symbols))
	for i, s := range idx.Symbols {
		m[s.ID] = i
	}
	return m
}

// RankedFile is a file record with its importance score.
type RankedFile struct {
	FileRecord
	Rank float64
}

// View is a ranked and possibly filtered projection of an Index, used for
// display. Files are in rank order; Symbols follow file order.
type View struct {
	RepoName string
	Files    []RankedFile
	Symbols  []SymbolRecord
}
