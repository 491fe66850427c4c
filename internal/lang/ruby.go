package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/ruby"

	"github.com/phobologic/repoctx/internal/model"
)

func init() {
	Languages["ruby"] = &Language{
		Name:       "ruby",
		Extensions: []string{".rb"},
		lang:       ruby.GetLanguage(),
		Sep:        ".",
		Declare:    rubyDeclare,
		CallName:   rubyCallName,
		ModuleName: func(string) string { return "" },
		Builtins: set(
			"attr_accessor", "attr_reader", "attr_writer", "catch", "define_method",
			"extend", "fail", "format", "gets", "include", "lambda", "loop", "p",
			"pp", "prepend", "print", "private", "proc", "protected", "public",
			"puts", "raise", "rand", "require", "require_relative", "sleep",
			"sprintf", "throw",
		),
		StdModules: set(
			"Array", "Comparable", "Dir", "Enumerable", "File", "FileUtils",
			"Float", "Hash", "IO", "Integer", "JSON", "Kernel", "Logger",
			"Marshal", "Math", "Net", "ObjectSpace", "Pathname", "Process",
			"Regexp", "Set", "String", "Struct", "Time", "URI", "YAML",
		),
		BuiltinMethods: set(
			"all?", "any?", "call", "count", "downcase", "dup", "each",
			"each_with_index", "each_with_object", "empty?", "fetch", "find",
			"first", "freeze", "gsub", "include?", "inject", "join", "keys",
			"last", "length", "map", "merge", "new", "nil?", "pop", "push",
			"reduce", "reject", "select", "size", "sort", "sort_by", "split",
			"strip", "sub", "to_a", "to_h", "to_i", "to_s", "to_sym", "upcase",
			"values",
		),
		SelfReceivers:     set("self"),
		ImplicitSelf:      true,
		ConstantReceivers: true,
	}
}

func rubyDeclare(node *sitter.Node, source []byte, enclosing model.SymbolKind) (Decl, bool) {
	var d Decl
	switch node.Type() {
	case "method":
		d = Decl{Kind: model.Function, Name: fieldText(node, "name", source)}
		if enclosing == model.Class || enclosing == model.Module {
			d.Kind = model.Method
		}
	case "singleton_method":
		d = Decl{Kind: model.Method, Name: fieldText(node, "name", source)}
	case "class", "module":
		d = Decl{Kind: model.Class, Name: fieldText(node, "name", source)}
		if node.Type() == "module" {
			d.Kind = model.Module
		}
		// class A::B declares B inside A.
		if i := strings.LastIndex(d.Name, "::"); i >= 0 {
			d.Prefix = strings.ReplaceAll(d.Name[:i], "::", ".")
			d.Name = d.Name[i+2:]
		}
	default:
		return Decl{}, false
	}
	if p := node.ChildByFieldName("parameters"); p != nil {
		d.Params = rubyParams(p, source)
	}
	d.Doc = rubyDoc(node, source)
	return d, d.Name != ""
}

func rubyParams(list *sitter.Node, source []byte) []model.Param {
	var out []model.Param
	for i := 0; i < int(list.NamedChildCount()); i++ {
		p := list.NamedChild(i)
		switch p.Type() {
		case "identifier":
			out = append(out, model.Param{Name: NodeText(p, source)})
		case "optional_parameter", "keyword_parameter":
			out = append(out, model.Param{Name: fieldText(p, "name", source)})
		case "splat_parameter", "hash_splat_parameter", "block_parameter":
			out = append(out, model.Param{Name: NodeText(p, source)})
		}
	}
	return out
}

var rubyCommentKinds = map[string]bool{"comment": true}

func rubyDoc(node *sitter.Node, source []byte) string {
	return commentsAbove(node, source, rubyCommentKinds, nil, func(text string) (string, bool) {
		rest, ok := strings.CutPrefix(text, "#")
		if !ok {
			return "", false
		}
		return strings.TrimPrefix(strings.TrimRight(rest, "\r\n"), " "), true
	})
}

func rubyCallName(node *sitter.Node, source []byte) string {
	if node.Type() != "call" && node.Type() != "method_call" {
		return ""
	}
	method := node.ChildByFieldName("method")
	if method == nil {
		return ""
	}
	recv := node.ChildByFieldName("receiver")
	if recv == nil {
		return NodeText(method, source)
	}
	return rubyPath(recv, source) + "." + NodeText(method, source)
}

// rubyPath renders a receiver. Constant paths keep their :: separators so
// Foo::Bar.baz reads as written.
func rubyPath(node *sitter.Node, source []byte) string {
	switch node.Type() {
	case "identifier", "constant", "self", "instance_variable":
		return NodeText(node, source)
	case "scope_resolution":
		name := node.ChildByFieldName("name")
		if name == nil {
			return "(expr)"
		}
		if scope := node.ChildByFieldName("scope"); scope != nil {
			return rubyPath(scope, source) + "::" + NodeText(name, source)
		}
		return NodeText(name, source)
	case "call":
		if node.ChildByFieldName("arguments") == nil && node.ChildByFieldName("block") == nil {
			method := node.ChildByFieldName("method")
			recv := node.ChildByFieldName("receiver")
			if method != nil && recv != nil {
				return rubyPath(recv, source) + "." + NodeText(method, source)
			}
		}
	}
	return "(expr)"
}
