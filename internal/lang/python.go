package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/phobologic/repoctx/internal/model"
)

func init() {
	Languages["python"] = &Language{
		Name:       "python",
		Extensions: []string{".py"},
		lang:       python.GetLanguage(),
		Sep:        ".",
		Declare:    pythonDeclare,
		CallName:   pythonCallName,
		ModuleName: pythonModuleName,
		Imports:    pythonImports,
		Builtins: set(
			"abs", "all", "any", "ascii", "bin", "bool", "breakpoint", "bytearray",
			"bytes", "callable", "chr", "classmethod", "compile", "complex",
			"delattr", "dict", "dir", "divmod", "enumerate", "eval", "exec",
			"filter", "float", "format", "frozenset", "getattr", "globals",
			"hasattr", "hash", "help", "hex", "id", "input", "int", "isinstance",
			"issubclass", "iter", "len", "list", "locals", "map", "max",
			"memoryview", "min", "next", "object", "oct", "open", "ord", "pow",
			"print", "property", "range", "repr", "reversed", "round", "set",
			"setattr", "slice", "sorted", "staticmethod", "str", "sum", "super",
			"tuple", "type", "vars", "zip",
			"Exception", "BaseException", "ValueError", "TypeError", "KeyError",
			"IndexError", "RuntimeError", "AttributeError", "StopIteration",
			"NotImplementedError", "OSError", "IOError", "FileNotFoundError",
			"AssertionError", "ImportError", "PermissionError", "TimeoutError",
		),
		StdModules: set(
			"abc", "argparse", "array", "ast", "asyncio", "base64", "bisect",
			"builtins", "collections", "contextlib", "copy", "csv", "dataclasses",
			"datetime", "decimal", "enum", "fnmatch", "fractions", "functools",
			"gc", "getpass", "glob", "gzip", "hashlib", "heapq", "hmac", "html",
			"http", "importlib", "inspect", "io", "itertools", "json", "locale",
			"logging", "math", "multiprocessing", "operator", "os", "pathlib",
			"pickle", "platform", "pprint", "queue", "random", "re", "secrets",
			"select", "shlex", "shutil", "signal", "socket", "sqlite3", "ssl",
			"statistics", "string", "struct", "subprocess", "sys", "tarfile",
			"tempfile", "textwrap", "threading", "time", "traceback", "types",
			"typing", "unittest", "urllib", "uuid", "warnings", "weakref", "xml",
			"zipfile", "zlib",
		),
		BuiltinMethods: set(
			"add", "append", "capitalize", "clear", "close", "copy", "count",
			"decode", "difference", "discard", "encode", "endswith", "extend",
			"find", "format", "get", "index", "insert", "intersection", "isalpha",
			"isdigit", "items", "join", "keys", "lower", "lstrip", "pop",
			"popitem", "read", "readline", "readlines", "remove", "replace",
			"reverse", "rfind", "rsplit", "rstrip", "seek", "setdefault", "sort",
			"split", "splitlines", "startswith", "strip", "title", "union",
			"update", "upper", "values", "write", "writelines", "zfill",
		),
		SelfReceivers: set("self", "cls"),
	}
}

func pythonDeclare(node *sitter.Node, source []byte, enclosing model.SymbolKind) (Decl, bool) {
	switch node.Type() {
	case "function_definition":
		d := Decl{
			Kind:    model.Function,
			Name:    fieldText(node, "name", source),
			Returns: fieldText(node, "return_type", source),
			Doc:     pythonDocstring(node, source),
		}
		if enclosing == model.Class {
			d.Kind = model.Method
		}
		d.Params = pythonParams(node.ChildByFieldName("parameters"), source, d.Kind == model.Method)
		return d, d.Name != ""
	case "class_definition":
		d := Decl{
			Kind: model.Class,
			Name: fieldText(node, "name", source),
			Doc:  pythonDocstring(node, source),
		}
		return d, d.Name != ""
	}
	return Decl{}, false
}

// pythonParams reads a parameters node. The leading self/cls of a method is
// the receiver, not a parameter.
func pythonParams(params *sitter.Node, source []byte, method bool) []model.Param {
	if params == nil {
		return nil
	}
	var out []model.Param
	for i := 0; i < int(params.NamedChildCount()); i++ {
		child := params.NamedChild(i)
		var p model.Param
		switch child.Type() {
		case "identifier":
			p.Name = NodeText(child, source)
		case "typed_parameter":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				c := child.NamedChild(j)
				if c.Type() != "type" {
					p.Name = NodeText(c, source)
					break
				}
			}
			p.Type = fieldText(child, "type", source)
		case "default_parameter":
			p.Name = fieldText(child, "name", source)
		case "typed_default_parameter":
			p.Name = fieldText(child, "name", source)
			p.Type = fieldText(child, "type", source)
		case "list_splat_pattern", "dictionary_splat_pattern":
			p.Name = NodeText(child, source)
		default:
			continue
		}
		if p.Name == "" {
			continue
		}
		if method && len(out) == 0 && i == 0 && (p.Name == "self" || p.Name == "cls") {
			continue
		}
		out = append(out, p)
	}
	return out
}

// pythonDocstring returns the first string statement of a definition body.
func pythonDocstring(node *sitter.Node, source []byte) string {
	body := node.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	return trimPythonString(NodeText(str, source))
}

func trimPythonString(raw string) string {
	raw = strings.TrimLeft(raw, "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(raw, q) && strings.HasSuffix(raw, q) && len(raw) >= 2*len(q) {
			raw = raw[len(q) : len(raw)-len(q)]
			break
		}
	}
	return strings.TrimSpace(raw)
}

func pythonCallName(node *sitter.Node, source []byte) string {
	if node.Type() != "call" {
		return ""
	}
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	return pythonPath(fn, source)
}

// pythonPath renders a callee expression as a dotted path. Sub-expressions
// that are not plain names collapse to "(expr)"; super() becomes "super".
func pythonPath(node *sitter.Node, source []byte) string {
	switch node.Type() {
	case "identifier":
		return NodeText(node, source)
	case "attribute":
		obj := node.ChildByFieldName("object")
		attr := node.ChildByFieldName("attribute")
		if obj == nil || attr == nil {
			return ""
		}
		return pythonPath(obj, source) + "." + NodeText(attr, source)
	case "call":
		if fn := node.ChildByFieldName("function"); fn != nil && fn.Type() == "identifier" && NodeText(fn, source) == "super" {
			return "super"
		}
	}
	return "(expr)"
}

// pythonImports returns the names bound by an import statement:
// `import a.b` binds a, `import a as b` and `from m import a as b` bind b.
func pythonImports(node *sitter.Node, source []byte) []string {
	var from *sitter.Node
	switch node.Type() {
	case "import_statement":
	case "import_from_statement":
		from = node.ChildByFieldName("module_name")
	default:
		return nil
	}
	var names []string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		c := node.NamedChild(i)
		if from != nil && c.StartByte() == from.StartByte() {
			continue
		}
		switch c.Type() {
		case "dotted_name":
			name, _, _ := strings.Cut(NodeText(c, source), ".")
			names = append(names, name)
		case "aliased_import":
			if alias := fieldText(c, "alias", source); alias != "" {
				names = append(names, alias)
			}
		}
	}
	return names
}

// pythonModuleName is the import name of a file: its stem, or the package
// directory for __init__.py.
func pythonModuleName(relPath string) string {
	if s := stem(relPath); s != "__init__" {
		return s
	}
	return dirName(relPath)
}
