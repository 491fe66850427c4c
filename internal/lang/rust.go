package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"

	"github.com/phobologic/repoctx/internal/model"
)

func init() {
	Languages["rust"] = &Language{
		Name:       "rust",
		Extensions: []string{".rs"},
		lang:       rust.GetLanguage(),
		Sep:        "::",
		Declare:    rustDeclare,
		CallName:   rustCallName,
		ModuleName: rustModuleName,
		Builtins: set(
			"Some", "None", "Ok", "Err", "drop",
			"assert!", "assert_eq!", "assert_ne!", "concat!", "dbg!",
			"debug_assert!", "debug_assert_eq!", "env!", "eprint!", "eprintln!",
			"format!", "include_str!", "matches!", "panic!", "print!",
			"println!", "todo!", "unimplemented!", "unreachable!", "vec!",
			"write!", "writeln!",
		),
		StdModules: set(
			"std", "core", "alloc",
			"Arc", "BTreeMap", "BTreeSet", "Box", "Cell", "HashMap", "HashSet",
			"Mutex", "Option", "Rc", "RefCell", "Result", "RwLock", "String",
			"Vec", "VecDeque",
			"cmp", "env", "fmt", "fs", "io", "iter", "mem", "path", "process",
			"ptr", "thread",
		),
		BuiltinMethods: set(
			"and_then", "as_ref", "as_str", "borrow", "borrow_mut", "bytes",
			"chars", "clone", "collect", "contains", "ends_with", "expect",
			"extend", "filter", "get", "insert", "into_iter", "is_empty",
			"is_none", "is_some", "iter", "iter_mut", "join", "len", "lines",
			"lock", "map", "map_err", "ok", "ok_or", "parse", "pop", "push",
			"push_str", "read", "remove", "sort", "split", "starts_with",
			"to_owned", "to_string", "trim", "unwrap", "unwrap_or",
			"unwrap_or_default", "unwrap_or_else", "write",
		),
		SelfReceivers: set("self", "Self"),
		ScopeKeywords: set("crate", "super", "self"),
	}
}

func rustDeclare(node *sitter.Node, source []byte, enclosing model.SymbolKind) (Decl, bool) {
	var d Decl
	switch node.Type() {
	case "function_item", "function_signature_item":
		d = Decl{
			Kind:    model.Function,
			Name:    fieldText(node, "name", source),
			Params:  rustParams(node.ChildByFieldName("parameters"), source),
			Returns: fieldText(node, "return_type", source),
		}
		if enclosing == model.Type || enclosing == model.Trait {
			d.Kind = model.Method
		}
	case "struct_item", "union_item":
		d = Decl{Kind: model.Struct, Name: fieldText(node, "name", source)}
	case "enum_item":
		d = Decl{Kind: model.Enum, Name: fieldText(node, "name", source)}
	case "trait_item":
		d = Decl{Kind: model.Trait, Name: fieldText(node, "name", source)}
	case "mod_item":
		d = Decl{Kind: model.Module, Name: fieldText(node, "name", source)}
	case "type_item":
		d = Decl{Kind: model.Type, Name: fieldText(node, "name", source)}
	case "impl_item":
		t := node.ChildByFieldName("type")
		if t == nil {
			return Decl{}, false
		}
		d = Decl{Name: rustTypeName(t, source), ScopeOnly: true}
		return d, d.Name != ""
	default:
		return Decl{}, false
	}
	d.Doc = rustDoc(node, source)
	return d, d.Name != ""
}

// rustTypeName strips generics and paths: `foo::Bar<T>` becomes "Bar".
func rustTypeName(t *sitter.Node, source []byte) string {
	switch t.Type() {
	case "type_identifier", "primitive_type":
		return NodeText(t, source)
	case "generic_type":
		if inner := t.ChildByFieldName("type"); inner != nil {
			return rustTypeName(inner, source)
		}
	case "scoped_type_identifier":
		if name := t.ChildByFieldName("name"); name != nil {
			return NodeText(name, source)
		}
	case "reference_type":
		if inner := t.ChildByFieldName("type"); inner != nil {
			return rustTypeName(inner, source)
		}
	}
	return CollapseWhitespace(NodeText(t, source))
}

// rustParams skips self receivers; patterns become the parameter name.
func rustParams(list *sitter.Node, source []byte) []model.Param {
	if list == nil {
		return nil
	}
	var out []model.Param
	for i := 0; i < int(list.NamedChildCount()); i++ {
		p := list.NamedChild(i)
		switch p.Type() {
		case "parameter":
			out = append(out, model.Param{
				Name: fieldText(p, "pattern", source),
				Type: fieldText(p, "type", source),
			})
		case "variadic_parameter":
			out = append(out, model.Param{Name: "..."})
		}
	}
	return out
}

var (
	rustCommentKinds = map[string]bool{"line_comment": true, "block_comment": true}
	rustSkipKinds    = map[string]bool{"attribute_item": true}
)

// rustDoc collects the /// outer doc comments above an item, stepping over
// attributes such as #[derive(...)].
func rustDoc(node *sitter.Node, source []byte) string {
	return commentsAbove(node, source, rustCommentKinds, rustSkipKinds, func(text string) (string, bool) {
		if rest, ok := strings.CutPrefix(text, "///"); ok && !strings.HasPrefix(rest, "/") {
			return strings.TrimPrefix(strings.TrimRight(rest, "\r\n"), " "), true
		}
		if rest, ok := strings.CutPrefix(text, "/**"); ok && !strings.HasPrefix(rest, "*") {
			return strings.TrimSpace(strings.TrimSuffix(rest, "*/")), true
		}
		return "", false
	})
}

func rustCallName(node *sitter.Node, source []byte) string {
	switch node.Type() {
	case "call_expression":
		fn := node.ChildByFieldName("function")
		if fn == nil {
			return ""
		}
		return rustPath(fn, source)
	case "macro_invocation":
		m := node.ChildByFieldName("macro")
		if m == nil {
			return ""
		}
		return rustPath(m, source) + "!"
	}
	return ""
}

func rustPath(node *sitter.Node, source []byte) string {
	switch node.Type() {
	case "identifier", "field_identifier", "type_identifier", "self", "super", "crate", "metavariable":
		return NodeText(node, source)
	case "scoped_identifier", "scoped_type_identifier":
		name := node.ChildByFieldName("name")
		if name == nil {
			return ""
		}
		p := node.ChildByFieldName("path")
		if p == nil {
			return NodeText(name, source)
		}
		return rustPath(p, source) + "::" + NodeText(name, source)
	case "field_expression":
		value := node.ChildByFieldName("value")
		field := node.ChildByFieldName("field")
		if value == nil || field == nil {
			return ""
		}
		return rustPath(value, source) + "." + NodeText(field, source)
	case "generic_function":
		if fn := node.ChildByFieldName("function"); fn != nil {
			return rustPath(fn, source)
		}
	case "generic_type":
		if t := node.ChildByFieldName("type"); t != nil {
			return rustPath(t, source)
		}
	}
	// Self is a keyword node in some grammar versions.
	if text := NodeText(node, source); text == "Self" {
		return text
	}
	return "(expr)"
}

// rustModuleName maps a file to the module path segment it defines:
// foo.rs and foo/mod.rs are both "foo"; crate roots have no name.
func rustModuleName(relPath string) string {
	switch s := stem(relPath); s {
	case "mod":
		return dirName(relPath)
	case "lib", "main":
		return ""
	default:
		return s
	}
}
