package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/repoctx/internal/graph"
	"github.com/phobologic/repoctx/internal/model"
)

func fn(name string, line int, calls ...string) model.ParsedSymbol {
	return model.ParsedSymbol{
		Kind: model.Function, Name: name, QualifiedName: name,
		LineStart: line, LineEnd: line + 1, Calls: calls,
	}
}

func pyFile(path string, syms ...model.ParsedSymbol) model.ParsedFile {
	return model.ParsedFile{
		Path: path, Language: "python", Bytes: 40, Lines: 10,
		Fingerprint: "xxh3:" + path, Symbols: syms,
	}
}

// makeView indexes a small repo where util.py is called from two files
// and a.py is called from a test.
func makeView(t *testing.T) *model.View {
	t.Helper()
	files := []model.ParsedFile{
		pyFile("a.py", fn("main", 1, "helper")),
		pyFile("b.py", fn("run", 1, "helper", "print")),
		pyFile("test_a.py", fn("test_main", 1, "main")),
		pyFile("util.py", fn("helper", 1), fn("unused", 4)),
	}
	order := make([]string, 0, len(files))
	fresh := make(map[string]model.ParsedFile, len(files))
	for _, f := range files {
		order = append(order, f.Path)
		fresh[f.Path] = f
	}
	idx, err := graph.Merge(order, nil, nil, fresh)
	require.NoError(t, err)
	graph.Resolve(idx)
	require.NoError(t, graph.Validate(idx))
	return Build(idx, "demo")
}

func paths(v *model.View) []string {
	out := make([]string, 0, len(v.Files))
	for _, f := range v.Files {
		out = append(out, f.Path)
	}
	return out
}

func ids(v *model.View) []string {
	out := make([]string, 0, len(v.Symbols))
	for _, s := range v.Symbols {
		out = append(out, s.ID)
	}
	return out
}

func TestBuildOrdersByRank(t *testing.T) {
	t.Parallel()

	v := makeView(t)
	assert.Equal(t, "demo", v.RepoName)
	assert.Equal(t, []string{"util.py", "a.py", "b.py", "test_a.py"}, paths(v))
	assert.Equal(t, []string{
		"util.py::helper#function",
		"util.py::unused#function",
		"a.py::main#function",
		"b.py::run#function",
		"test_a.py::test_main#function",
	}, ids(v))

	var sum float64
	for i, f := range v.Files {
		sum += f.Rank
		if i > 0 {
			assert.LessOrEqual(t, f.Rank, v.Files[i-1].Rank)
		}
	}
	assert.InDelta(t, 1.0, sum, 1e-3)
	assert.Equal(t, "python", v.Files[0].Language)
}

func TestBuildEmpty(t *testing.T) {
	t.Parallel()

	idx := &model.Index{SchemaVersion: model.SchemaVersion}
	idx.Normalize()
	v := Build(idx, "empty")
	assert.Empty(t, v.Files)
	assert.Empty(t, v.Symbols)
}

func TestSelectFiles(t *testing.T) {
	t.Parallel()

	v := makeView(t)
	for _, n := range []int{0, -1, 4, 10} {
		assert.Same(t, v, SelectFiles(v, n), "maxFiles=%d", n)
	}

	got := SelectFiles(v, 2)
	assert.Equal(t, []string{"util.py", "a.py"}, paths(got))
	assert.Equal(t, []string{
		"util.py::helper#function",
		"util.py::unused#function",
		"a.py::main#function",
	}, ids(got))
	assert.Len(t, v.Files, 4, "input view must not be modified")
}

func TestExcludeTests(t *testing.T) {
	t.Parallel()

	got := ExcludeTests(makeView(t))
	assert.Equal(t, []string{"util.py", "a.py", "b.py"}, paths(got))
	assert.NotContains(t, ids(got), "test_a.py::test_main#function")
}

func TestFilterBySymbol(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		substr    string
		wantFiles []string
		wantIDs   []string
	}{
		{
			name:      "callee pulls in callers",
			substr:    "helper",
			wantFiles: []string{"util.py", "a.py", "b.py"},
			wantIDs:   []string{"util.py::helper#function", "a.py::main#function", "b.py::run#function"},
		},
		{
			name:      "caller pulls in callee and its caller",
			substr:    "MAIN",
			wantFiles: []string{"util.py", "a.py", "test_a.py"},
			wantIDs:   []string{"util.py::helper#function", "a.py::main#function", "test_a.py::test_main#function"},
		},
		{
			name:      "isolated symbol",
			substr:    "unused",
			wantFiles: []string{"util.py"},
			wantIDs:   []string{"util.py::unused#function"},
		},
		{
			name:      "no match",
			substr:    "nothing",
			wantFiles: []string{},
			wantIDs:   []string{},
		},
	}
	v := makeView(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := FilterBySymbol(v, tt.substr)
			assert.Equal(t, tt.wantFiles, paths(got))
			assert.Equal(t, tt.wantIDs, ids(got))
		})
	}
}

func TestFilterByFile(t *testing.T) {
	t.Parallel()

	got := FilterByFile(makeView(t), "A.PY")
	assert.Equal(t, []string{"a.py", "test_a.py"}, paths(got))
	assert.Equal(t, []string{"a.py::main#function", "test_a.py::test_main#function"}, ids(got))
}
