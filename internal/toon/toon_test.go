package toon

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phobologic/repoctx/internal/model"
)

func TestEncodeValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", `""`},
		{"simple", "hello", "hello"},
		{"leading space", " hello", `" hello"`},
		{"trailing space", "hello ", `"hello "`},
		{"newline", "a\nb", `"a\nb"`},
		{"tab", "a\tb", `"a\tb"`},
		{"True keyword", "True", `"True"`},
		{"null keyword", "null", `"null"`},
		{"integer", "42", "42"},
		{"negative float", "-3.5", "-3.5"},
		{"line range", "3-17", "3-17"},
		{"comma", "a,b", `"a,b"`},
		{"colon", "x: int", `"x: int"`},
		{"quote", `a"b`, `"a\"b"`},
		{"backslash", `a\b`, `"a\\b"`},
		{"bracket", "Vec[u8]", `"Vec[u8]"`},
		{"dash prefix", "-foo", `"-foo"`},
		{"symbol id", "src/lib.rs::Parser::parse#method", `"src/lib.rs::Parser::parse#method"`},
		{"dotted name", "Shape.area", "Shape.area"},
		{"signature no special", "run(self) -> None", "run(self) -> None"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, encodeValue(tt.in))
		})
	}
}

func TestSignature(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sym  model.SymbolRecord
		want string
	}{
		{
			name: "no params",
			sym:  model.SymbolRecord{Kind: model.Function, Name: "main"},
			want: "main()",
		},
		{
			name: "typed and untyped params with return",
			sym: model.SymbolRecord{
				Kind: model.Method, Name: "area",
				Params:  []model.Param{{Name: "self"}, {Name: "scale", Type: "float"}},
				Returns: "float",
			},
			want: "area(self, scale: float) -> float",
		},
		{
			name: "type kinds have none",
			sym:  model.SymbolRecord{Kind: model.Class, Name: "Shape"},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Signature(&tt.sym))
		})
	}
}

func TestEncode(t *testing.T) {
	t.Parallel()

	v := &model.View{
		RepoName: "myrepo",
		Files: []model.RankedFile{
			{FileRecord: model.FileRecord{Path: "src/util.py", Language: "python", Lines: 4}, Rank: 0.75},
			{FileRecord: model.FileRecord{Path: "src/main.py", Language: "python", Lines: 9}, Rank: 0.25},
			{FileRecord: model.FileRecord{Path: "src/bad.py", Language: "python", Error: "invalid UTF-8"}, Rank: 0},
		},
		Symbols: []model.SymbolRecord{
			{
				ID: "src/util.py::helper#function", File: "src/util.py",
				Kind: model.Function, Name: "helper", QualifiedName: "helper",
				Params: []model.Param{{Name: "x"}}, LineStart: 1, LineEnd: 4,
			},
			{
				ID: "src/main.py::main#function", File: "src/main.py",
				Kind: model.Function, Name: "main", QualifiedName: "main",
				LineStart: 2, LineEnd: 9,
				Calls: []model.Call{
					{Raw: "helper", Kind: model.Local, Target: "src/util.py::helper#function"},
					{Raw: "print", Kind: model.Builtin, Target: "print"},
					{Raw: "requests.get", Kind: model.External, Target: "requests.get"},
				},
			},
		},
	}

	want := strings.Join([]string{
		"repo: myrepo",
		"files[3]{path,language,lines,rank}:",
		"  src/util.py,python,4,0.7500",
		"  src/main.py,python,9,0.2500",
		"  src/bad.py,python,0,0.0000",
		"symbols[2]{file,name,kind,lines,signature}:",
		"  src/util.py,helper,function,1-4,helper(x)",
		"  src/main.py,main,function,2-9,main()",
		"calls[2]{caller,callee,kind}:",
		`  "src/main.py::main#function","src/util.py::helper#function",local`,
		`  "src/main.py::main#function",requests.get,external`,
		"errors[1]{path,error}:",
		"  src/bad.py,invalid UTF-8",
	}, "\n")
	assert.Equal(t, want, Encode(v))
}

func TestEncodeEmpty(t *testing.T) {
	t.Parallel()

	got := Encode(&model.View{RepoName: "empty"})
	assert.Contains(t, got, "files[0]{path,language,lines,rank}:")
	assert.Contains(t, got, "symbols[0]{file,name,kind,lines,signature}:")
	assert.Contains(t, got, "calls[0]{caller,callee,kind}:")
	assert.NotContains(t, got, "errors")
}
