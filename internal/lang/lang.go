// Package lang provides the registry of supported languages. Each language
// binds a tree-sitter grammar to the hooks that turn its syntax into
// declarations and raw call names.
package lang

import (
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/repoctx/internal/model"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Decl describes one declaration node as seen by a language hook.
type Decl struct {
	Kind model.SymbolKind
	Name string

	// Prefix is extra qualification written into the declaration itself,
	// e.g. "A" for Ruby's `class A::B`.
	Prefix string

	// Container overrides the enclosing scope, e.g. the receiver type of a
	// Go method which is declared at top level.
	Container string

	// Receiver is the receiver variable name of a Go method. Calls through
	// it are rewritten to go through the receiver type.
	Receiver string

	Params  []model.Param
	Returns string
	Doc     string

	// ScopeOnly marks nodes that qualify nested declarations without being
	// symbols themselves (Rust impl blocks).
	ScopeOnly bool
}

// Language holds tree-sitter configuration and resolution tables for a
// supported language.
type Language struct {
	Name       string
	Extensions []string
	lang       *sitter.Language

	// Sep joins qualified names ("." or "::").
	Sep string

	// Declare reports whether node is a declaration. enclosing is the kind of
	// the nearest enclosing scope ("" at top level, Type for scope-only
	// blocks), which is how adapters tell methods from free functions.
	Declare func(node *sitter.Node, source []byte, enclosing model.SymbolKind) (Decl, bool)

	// CallName returns the callee text of a call node, or "" if node is not
	// a call.
	CallName func(node *sitter.Node, source []byte) string

	// ModuleName returns the name a file is imported as ("" if the language
	// has no file-level modules).
	ModuleName func(relPath string) string

	// Imports returns the names an import node binds in the file, or nil if
	// node is not an import. Nil for languages whose package paths are
	// already distinct from values.
	Imports func(node *sitter.Node, source []byte) []string

	Builtins       map[string]struct{}
	StdModules     map[string]struct{}
	BuiltinMethods map[string]struct{}
	SelfReceivers  map[string]struct{}

	// ScopeKeywords are path roots that refer to the current crate or module
	// rather than to a named scope (Rust `crate::`, `super::`).
	ScopeKeywords map[string]struct{}

	// ImplicitSelf lets a bare call resolve to a method of the caller's own
	// type (Ruby).
	ImplicitSelf bool

	// ConstantReceivers marks a capitalized receiver as a constant rather
	// than a variable (Ruby).
	ConstantReceivers bool
}

// GetLanguage returns the tree-sitter Language pointer.
func (l *Language) GetLanguage() *sitter.Language {
	return l.lang
}

// NewParser creates a fresh tree-sitter parser for this language.
// Each goroutine must use its own parser (not thread-safe).
func (l *Language) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(l.lang)
	return p
}

// Join qualifies name with container using the language separator.
func (l *Language) Join(container, name string) string {
	if container == "" {
		return name
	}
	return container + l.Sep + name
}

// IsBuiltin reports whether name is a builtin function or type.
func (l *Language) IsBuiltin(name string) bool {
	_, ok := l.Builtins[name]
	return ok
}

// IsStdModule reports whether root names a standard library module.
func (l *Language) IsStdModule(root string) bool {
	_, ok := l.StdModules[root]
	return ok
}

// IsBuiltinMethod reports whether name is a method of a builtin type.
func (l *Language) IsBuiltinMethod(name string) bool {
	_, ok := l.BuiltinMethods[name]
	return ok
}

// IsSelf reports whether qualifier refers to the receiver of the current method.
func (l *Language) IsSelf(qualifier string) bool {
	_, ok := l.SelfReceivers[qualifier]
	return ok
}

// IsScopeKeyword reports whether root refers to the current module.
func (l *Language) IsScopeKeyword(root string) bool {
	_, ok := l.ScopeKeywords[root]
	return ok
}

// Languages maps language names to their configuration.
// Populated by init() functions in per-language files.
var Languages = map[string]*Language{}

// extensionMap is built lazily after all init() functions have run.
var extensionMap map[string]string
var extensionOnce sync.Once

func getExtensionMap() map[string]string {
	extensionOnce.Do(func() {
		extensionMap = make(map[string]string)
		for _, l := range Languages {
			for _, ext := range l.Extensions {
				extensionMap[ext] = l.Name
			}
		}
	})
	return extensionMap
}

// ForExtension returns the language name for a file extension, or "" if unsupported.
func ForExtension(ext string) string {
	return getExtensionMap()[ext]
}

// Names returns the registered language names in sorted order.
func Names() []string {
	names := make([]string, 0, len(Languages))
	for name := range Languages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NodeText returns the source text of a tree-sitter node.
func NodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}

// CollapseWhitespace replaces runs of whitespace with a single space and trims.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// fieldText returns the collapsed text of a named field, or "".
func fieldText(node *sitter.Node, field string, source []byte) string {
	child := node.ChildByFieldName(field)
	if child == nil {
		return ""
	}
	return CollapseWhitespace(NodeText(child, source))
}

// commentsAbove collects the run of comment siblings that ends on the line
// directly above node. skip lists sibling kinds (such as attributes) that
// may sit between the comments and the declaration. strip turns one comment
// into its text and reports whether it counts as documentation.
func commentsAbove(node *sitter.Node, source []byte, kinds, skip map[string]bool, strip func(string) (string, bool)) string {
	var lines []string
	line := int(node.StartPoint().Row)
	for prev := node.PrevSibling(); prev != nil; prev = prev.PrevSibling() {
		if skip[prev.Type()] {
			line = int(prev.StartPoint().Row)
			continue
		}
		if !kinds[prev.Type()] {
			break
		}
		end := int(prev.EndPoint().Row)
		if prev.EndPoint().Column == 0 && end > int(prev.StartPoint().Row) {
			end--
		}
		if end != line-1 && end != line {
			break
		}
		text, ok := strip(NodeText(prev, source))
		if !ok {
			break
		}
		lines = append(lines, text)
		line = int(prev.StartPoint().Row)
	}
	if len(lines) == 0 {
		return ""
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// stem returns the file name of relPath without its extension.
func stem(relPath string) string {
	base := path.Base(relPath)
	return strings.TrimSuffix(base, path.Ext(base))
}

// dirName returns the last directory element of relPath, or "" at the root.
func dirName(relPath string) string {
	dir := path.Dir(relPath)
	if dir == "." || dir == "/" {
		return ""
	}
	return path.Base(dir)
}

func set(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}
