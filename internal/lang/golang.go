package lang

import (
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"github.com/phobologic/repoctx/internal/model"
)

func init() {
	Languages["go"] = &Language{
		Name:       "go",
		Extensions: []string{".go"},
		lang:       golang.GetLanguage(),
		Sep:        ".",
		Declare:    goDeclare,
		CallName:   goCallName,
		ModuleName: dirName,
		Imports:    goImports,
		Builtins: set(
			"append", "cap", "clear", "close", "complex", "copy", "delete",
			"imag", "len", "make", "max", "min", "new", "panic", "print",
			"println", "real", "recover",
			"any", "bool", "byte", "complex64", "complex128", "error",
			"float32", "float64", "int", "int8", "int16", "int32", "int64",
			"rune", "string", "uint", "uint8", "uint16", "uint32", "uint64",
			"uintptr",
		),
		StdModules: set(
			"atomic", "base64", "binary", "bufio", "bytes", "cmp", "context",
			"csv", "embed", "errors", "exec", "filepath", "flag", "fmt", "fs",
			"hash", "heap", "hex", "http", "io", "iter", "json", "list", "log",
			"maps", "math", "net", "os", "path", "rand", "reflect", "regexp",
			"runtime", "sha256", "signal", "slices", "slog", "sort", "strconv",
			"strings", "sync", "syscall", "template", "testing", "time",
			"unicode", "unsafe", "url", "utf8",
		),
		BuiltinMethods: set(
			"Add", "Bytes", "Close", "Done", "Err", "Error", "Len", "Load",
			"Lock", "RLock", "RUnlock", "Read", "Reset", "Store", "String",
			"Unlock", "Unwrap", "Wait", "Write", "WriteByte", "WriteRune",
			"WriteString",
		),
	}
}

// goImports returns the package name an import spec binds: its alias, or
// the last path element with any major version suffix dropped. Blank and
// dot imports bind nothing callable by qualifier.
func goImports(node *sitter.Node, source []byte) []string {
	if node.Type() != "import_spec" {
		return nil
	}
	if alias := fieldText(node, "name", source); alias != "" {
		if alias == "_" || alias == "." {
			return nil
		}
		return []string{alias}
	}
	importPath := strings.Trim(fieldText(node, "path", source), "\"`")
	elems := strings.Split(importPath, "/")
	name := elems[len(elems)-1]
	if len(elems) > 1 && goMajorVersionRe.MatchString(name) {
		name = elems[len(elems)-2]
	}
	// gopkg.in/yaml.v3
	if i := strings.LastIndex(name, "."); i > 0 && goMajorVersionRe.MatchString(name[i+1:]) {
		name = name[:i]
	}
	if name == "" {
		return nil
	}
	return []string{name}
}

var goMajorVersionRe = regexp.MustCompile(`^v[0-9]+$`)

func goDeclare(node *sitter.Node, source []byte, _ model.SymbolKind) (Decl, bool) {
	switch node.Type() {
	case "function_declaration":
		d := Decl{
			Kind:    model.Function,
			Name:    fieldText(node, "name", source),
			Params:  goParams(node.ChildByFieldName("parameters"), source),
			Returns: fieldText(node, "result", source),
			Doc:     goDoc(node, source),
		}
		return d, d.Name != ""
	case "method_declaration":
		d := Decl{
			Kind:    model.Method,
			Name:    fieldText(node, "name", source),
			Params:  goParams(node.ChildByFieldName("parameters"), source),
			Returns: fieldText(node, "result", source),
			Doc:     goDoc(node, source),
		}
		d.Container, d.Receiver = goReceiver(node, source)
		return d, d.Name != ""
	case "type_spec", "type_alias":
		d := Decl{
			Kind: model.Type,
			Name: fieldText(node, "name", source),
		}
		if t := node.ChildByFieldName("type"); t != nil {
			switch t.Type() {
			case "struct_type":
				d.Kind = model.Struct
			case "interface_type":
				d.Kind = model.Interface
			}
		}
		// The doc comment sits above the enclosing type_declaration unless
		// the spec is part of a grouped type (...) block.
		if parent := node.Parent(); parent != nil && parent.Type() == "type_declaration" && parent.NamedChildCount() == 1 {
			d.Doc = goDoc(parent, source)
		} else {
			d.Doc = goDoc(node, source)
		}
		return d, d.Name != ""
	}
	return Decl{}, false
}

// goReceiver returns the receiver type name (pointer and type parameters
// stripped) and the receiver variable name of a method_declaration.
func goReceiver(node *sitter.Node, source []byte) (typeName, varName string) {
	recv := node.ChildByFieldName("receiver")
	if recv == nil {
		return "", ""
	}
	for i := 0; i < int(recv.NamedChildCount()); i++ {
		param := recv.NamedChild(i)
		if param.Type() != "parameter_declaration" {
			continue
		}
		varName = fieldText(param, "name", source)
		if t := param.ChildByFieldName("type"); t != nil {
			typeName = goTypeName(t, source)
		}
		return typeName, varName
	}
	return "", ""
}

// goTypeName unwraps pointer and generic types down to the type identifier.
func goTypeName(t *sitter.Node, source []byte) string {
	switch t.Type() {
	case "type_identifier":
		return NodeText(t, source)
	case "pointer_type", "generic_type":
		for i := 0; i < int(t.NamedChildCount()); i++ {
			if name := goTypeName(t.NamedChild(i), source); name != "" {
				return name
			}
		}
	}
	return ""
}

// goParams expands grouped declarations like (a, b int) into one Param per name.
func goParams(list *sitter.Node, source []byte) []model.Param {
	if list == nil {
		return nil
	}
	var out []model.Param
	for i := 0; i < int(list.NamedChildCount()); i++ {
		decl := list.NamedChild(i)
		switch decl.Type() {
		case "parameter_declaration", "variadic_parameter_declaration":
		default:
			continue
		}
		typ := fieldText(decl, "type", source)
		if decl.Type() == "variadic_parameter_declaration" {
			typ = "..." + typ
		}
		// Names are identifiers; types never are in this grammar.
		named := false
		for j := 0; j < int(decl.NamedChildCount()); j++ {
			c := decl.NamedChild(j)
			if c.Type() == "identifier" {
				out = append(out, model.Param{Name: NodeText(c, source), Type: typ})
				named = true
			}
		}
		if !named {
			out = append(out, model.Param{Name: "_", Type: typ})
		}
	}
	return out
}

var goCommentKinds = map[string]bool{"comment": true}

func goDoc(node *sitter.Node, source []byte) string {
	return commentsAbove(node, source, goCommentKinds, nil, func(text string) (string, bool) {
		if rest, ok := strings.CutPrefix(text, "//"); ok {
			return strings.TrimPrefix(rest, " "), true
		}
		if strings.HasPrefix(text, "/*") {
			return strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(text, "/*"), "*/")), true
		}
		return "", false
	})
}

func goCallName(node *sitter.Node, source []byte) string {
	if node.Type() != "call_expression" {
		return ""
	}
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	return goPath(fn, source)
}

func goPath(node *sitter.Node, source []byte) string {
	switch node.Type() {
	case "identifier", "field_identifier", "package_identifier", "type_identifier":
		return NodeText(node, source)
	case "selector_expression":
		operand := node.ChildByFieldName("operand")
		field := node.ChildByFieldName("field")
		if operand == nil || field == nil {
			return ""
		}
		return goPath(operand, source) + "." + NodeText(field, source)
	case "generic_type", "index_expression":
		// f[T](x): the instantiated function is the first child.
		if node.NamedChildCount() > 0 {
			return goPath(node.NamedChild(0), source)
		}
	case "parenthesized_expression":
		if node.NamedChildCount() == 1 {
			return goPath(node.NamedChild(0), source)
		}
	}
	return "(expr)"
}
