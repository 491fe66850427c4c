package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/phobologic/repoctx/internal/config"
	"github.com/phobologic/repoctx/internal/graph"
	"github.com/phobologic/repoctx/internal/model"
	"github.com/phobologic/repoctx/internal/parse"
	"github.com/phobologic/repoctx/internal/store"
)

const fooPy = `def foo():
    """Calls bar."""
    bar()
`

const barPy = `def bar():
    pass
`

var sampleRepo = map[string]string{
	"a.py": fooPy,
	"b.py": barPy,
	"pkg/shapes.py": `class Shape:
    def area(self):
        return self.scale(1)

    def scale(self, k):
        return k


def make():
    return Shape()
`,
	"src/lib.rs": `/// Adds one.
pub fn inc(x: i32) -> i32 {
    helper(x) + 1
}

fn helper(x: i32) -> i32 {
    x
}
`,
	"cmd/tool/main.go": `package main

import "fmt"

func main() {
	fmt.Println(run())
}

func run() string {
	return "ok"
}
`,
	"lib/greeter.rb": `class Greeter
  def greet
    helper()
  end

  def helper
    puts "hi"
  end
end
`,
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		writeFile(t, root, rel, content)
	}
	return root
}

func newEngine(t *testing.T, root string, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRegisterer(prometheus.NewRegistry()),
		WithConfig(config.Default()),
	}
	e, err := New(root, append(base, opts...)...)
	require.NoError(t, err)
	return e
}

func build(t *testing.T, root string, opts ...Option) (*model.Index, *Report) {
	t.Helper()
	idx, rep, err := newEngine(t, root, opts...).LoadOrBuild(context.Background())
	require.NoError(t, err)
	require.NoError(t, graph.Validate(idx))
	return idx, rep
}

func symbol(t *testing.T, idx *model.Index, id string) model.SymbolRecord {
	t.Helper()
	i, ok := idx.SymbolsByID()[id]
	require.True(t, ok, "symbol %s not found", id)
	return idx.Symbols[i]
}

func fileSymbols(idx *model.Index, path string) []model.SymbolRecord {
	var out []model.SymbolRecord
	for _, s := range idx.Symbols {
		if s.File == path {
			out = append(out, s)
		}
	}
	return out
}

func readArtifact(t *testing.T, root, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(store.Dir(root), name))
	require.NoError(t, err)
	return data
}

func TestFooBar(t *testing.T) {
	t.Parallel()

	root := newRepo(t, map[string]string{"a.py": fooPy, "b.py": barPy})
	idx, rep := build(t, root)

	foo := symbol(t, idx, "a.py::foo#function")
	assert.Equal(t, []model.Call{{Raw: "bar", Kind: model.Local, Target: "b.py::bar#function"}}, foo.Calls)
	assert.Equal(t, "Calls bar.", foo.Doc)
	assert.Equal(t, []string{"a.py::foo#function"}, symbol(t, idx, "b.py::bar#function").CalledBy)

	assert.True(t, rep.FullRebuild)
	assert.Equal(t, 2, rep.Added)
	assert.Equal(t, 2, rep.Parsed)
	assert.True(t, rep.Written)
	assert.Empty(t, rep.Errors)

	loaded, _, err := store.Load(root)
	require.NoError(t, err)
	assert.Equal(t, idx, loaded)
}

func TestMixedLanguages(t *testing.T) {
	t.Parallel()

	idx, _ := build(t, newRepo(t, sampleRepo))

	assert.Equal(t, 6, idx.Stats.FileCount)
	assert.Equal(t, "pkg/shapes.py::Shape.scale#method",
		symbol(t, idx, "pkg/shapes.py::Shape.area#method").Calls[0].Target)
	assert.Equal(t, "src/lib.rs::helper#function", symbol(t, idx, "src/lib.rs::inc#function").Calls[0].Target)
	assert.Equal(t, "Adds one.", symbol(t, idx, "src/lib.rs::inc#function").Doc)

	main := symbol(t, idx, "cmd/tool/main.go::main#function")
	kinds := map[string]model.CalleeKind{}
	for _, c := range main.Calls {
		kinds[c.Raw] = c.Kind
	}
	assert.Equal(t, model.Builtin, kinds["fmt.Println"])
	assert.Equal(t, model.Local, kinds["run"])

	greet := symbol(t, idx, "lib/greeter.rb::Greeter.greet#method")
	assert.Equal(t, "lib/greeter.rb::Greeter.helper#method", greet.Calls[0].Target)
}

func TestDeterminism(t *testing.T) {
	t.Parallel()

	first := newRepo(t, sampleRepo)
	second := newRepo(t, sampleRepo)
	build(t, first)
	build(t, second, WithWorkers(1))

	assert.Equal(t, readArtifact(t, first, store.IndexFile), readArtifact(t, second, store.IndexFile))
	assert.Equal(t, readArtifact(t, first, store.MetaFile), readArtifact(t, second, store.MetaFile))
}

func TestOrderIndependence(t *testing.T) {
	t.Parallel()

	want, _ := build(t, newRepo(t, sampleRepo))

	orders := map[string]func(n int) []int{
		"reversed": func(n int) []int {
			order := identity(n)
			for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
				order[i], order[j] = order[j], order[i]
			}
			return order
		},
		"shuffled": func(n int) []int { return rand.New(rand.NewSource(7)).Perm(n) },
	}
	for name, feed := range orders {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			e := newEngine(t, newRepo(t, sampleRepo), WithWorkers(3))
			e.feedOrder = feed
			got, _, err := e.LoadOrBuild(context.Background())
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestRoundTripNoReparse(t *testing.T) {
	t.Parallel()

	root := newRepo(t, sampleRepo)
	first, _ := build(t, root)
	indexBefore := readArtifact(t, root, store.IndexFile)

	e := newEngine(t, root)
	second, rep, err := e.LoadOrBuild(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Zero(t, rep.Parsed)
	assert.False(t, rep.Written)
	assert.False(t, rep.FullRebuild)
	assert.Equal(t, len(sampleRepo), rep.Unchanged)
	assert.Equal(t, indexBefore, readArtifact(t, root, store.IndexFile))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.RunsTotal.WithLabelValues("noop")))
}

func TestIncremental(t *testing.T) {
	t.Parallel()

	root := newRepo(t, sampleRepo)
	before, _ := build(t, root)

	writeFile(t, root, "b.py", barPy+"\n\ndef baz():\n    bar()\n")
	writeFile(t, root, "c.py", "def extra():\n    foo()\n")

	after, rep := build(t, root)
	assert.Equal(t, 1, rep.Modified)
	assert.Equal(t, 1, rep.Added)
	assert.Equal(t, 2, rep.Parsed)
	assert.False(t, rep.FullRebuild)

	// Untouched files carry over verbatim.
	for _, path := range []string{"pkg/shapes.py", "src/lib.rs", "cmd/tool/main.go"} {
		assert.Equal(t, fileSymbols(before, path), fileSymbols(after, path), path)
	}
	assert.Equal(t,
		[]string{"a.py::foo#function", "b.py::baz#function"},
		symbol(t, after, "b.py::bar#function").CalledBy)
	assert.Empty(t, symbol(t, after, "b.py::bar#function").Calls)
	assert.Equal(t, []string{"c.py::extra#function"}, symbol(t, after, "a.py::foo#function").CalledBy)

	// A full rebuild of the same tree gives the same index.
	fresh, _ := build(t, newRepo(t, map[string]string{
		"a.py":             fooPy,
		"b.py":             barPy + "\n\ndef baz():\n    bar()\n",
		"c.py":             "def extra():\n    foo()\n",
		"pkg/shapes.py":    sampleRepo["pkg/shapes.py"],
		"src/lib.rs":       sampleRepo["src/lib.rs"],
		"cmd/tool/main.go": sampleRepo["cmd/tool/main.go"],
		"lib/greeter.rb":   sampleRepo["lib/greeter.rb"],
	}))
	assert.Equal(t, fresh, after)
}

func TestCascadingDeletion(t *testing.T) {
	t.Parallel()

	root := newRepo(t, map[string]string{"a.py": fooPy, "b.py": barPy})
	build(t, root)
	require.NoError(t, os.Remove(filepath.Join(root, "b.py")))

	idx, rep := build(t, root)
	assert.Equal(t, 1, rep.Removed)
	assert.Zero(t, rep.Parsed)
	require.Len(t, idx.Files, 1)
	for _, s := range idx.Symbols {
		assert.NotEqual(t, "b.py", s.File)
	}
	foo := symbol(t, idx, "a.py::foo#function")
	assert.Equal(t, model.Unresolved, foo.Calls[0].Kind)
	assert.Zero(t, idx.Stats.Edges.Local)

	_, meta, err := store.Load(root)
	require.NoError(t, err)
	assert.NotContains(t, meta.Files, "b.py")
}

func TestEmptyRepository(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	idx, rep := build(t, root)
	assert.Equal(t, []model.FileRecord{}, idx.Files)
	assert.Equal(t, []model.SymbolRecord{}, idx.Symbols)
	assert.Equal(t, model.Stats{}, idx.Stats)
	assert.True(t, rep.Written)
	assert.Contains(t, string(readArtifact(t, root, store.IndexFile)), `"files": []`)

	again, rep := build(t, root)
	assert.Equal(t, idx, again)
	assert.False(t, rep.Written)
}

func TestPriorStateUnusable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		damage func(t *testing.T, root string)
		reason string
	}{
		{
			name: "corrupt metadata",
			damage: func(t *testing.T, root string) {
				writeFile(t, root, ".context/meta.json", "{{{")
			},
			reason: "prior index unusable",
		},
		{
			name: "schema mismatch",
			damage: func(t *testing.T, root string) {
				path := filepath.Join(store.Dir(root), store.MetaFile)
				data, err := os.ReadFile(path)
				require.NoError(t, err)
				data = []byte(strings.Replace(string(data), `"schema_version": 2`, `"schema_version": 0`, 1))
				require.NoError(t, os.WriteFile(path, data, 0o644))
			},
			reason: "schema version changed",
		},
		{
			name: "index edited after metadata",
			damage: func(t *testing.T, root string) {
				writeFile(t, root, ".context/context.json", "{}\n")
			},
			reason: "prior index unusable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			root := newRepo(t, sampleRepo)
			want, _ := build(t, root)
			tt.damage(t, root)

			got, rep := build(t, root)
			assert.True(t, rep.FullRebuild)
			assert.Contains(t, rep.Reason, tt.reason)
			assert.Equal(t, len(sampleRepo), rep.Parsed)
			assert.Equal(t, want, got)

			_, _, err := store.Load(root)
			assert.NoError(t, err)
		})
	}
}

func TestConfigChangeForcesRebuild(t *testing.T) {
	t.Parallel()

	root := newRepo(t, sampleRepo)
	build(t, root)

	cfg := config.Default()
	cfg.Languages = []string{"python"}
	idx, rep := build(t, root, WithConfig(cfg))
	assert.True(t, rep.FullRebuild)
	assert.Equal(t, "config changed", rep.Reason)
	for _, f := range idx.Files {
		assert.Equal(t, "python", f.Language)
	}
}

func TestPerFileParseError(t *testing.T) {
	t.Parallel()

	root := newRepo(t, map[string]string{
		"a.py":   fooPy,
		"b.py":   barPy,
		"big.py": "def big():\n    pass\n" + strings.Repeat("# padding\n", 50),
	})
	writeFile(t, root, "bad.py", string([]byte{'d', 'e', 'f', ' ', 0xff, 0xfe, '\n'}))

	cfg := config.Default()
	cfg.MaxFileSize = 200
	idx, rep := build(t, root, WithConfig(cfg))

	require.Len(t, rep.Errors, 2)
	byPath := map[string]error{}
	for _, fe := range rep.Errors {
		byPath[fe.Path] = fe.Err
	}
	assert.ErrorIs(t, byPath["big.py"], parse.ErrTooLarge)
	assert.ErrorIs(t, byPath["bad.py"], parse.ErrInvalidUTF8)

	assert.Equal(t, 2, idx.Stats.ErrorFiles)
	for _, f := range idx.Files {
		switch f.Path {
		case "big.py", "bad.py":
			assert.NotEmpty(t, f.Error)
			assert.Empty(t, f.Symbols)
			assert.NotEmpty(t, f.Fingerprint)
		default:
			assert.Empty(t, f.Error)
		}
	}
	// The rest of the repository is still indexed.
	assert.Equal(t, model.Local, symbol(t, idx, "a.py::foo#function").Calls[0].Kind)
}

func TestParseTimeoutIsRetried(t *testing.T) {
	t.Parallel()

	var src strings.Builder
	for i := range 20000 {
		fmt.Fprintf(&src, "def f%d(x):\n    return x + %d\n\n", i, i)
	}
	root := newRepo(t, map[string]string{"huge.py": src.String()})

	cfg := config.Default()
	cfg.ParseTimeout = time.Nanosecond
	idx, rep := build(t, root, WithConfig(cfg))

	require.Len(t, rep.Errors, 1)
	assert.Equal(t, "huge.py", rep.Errors[0].Path)
	assert.ErrorIs(t, rep.Errors[0].Err, parse.ErrTimeout)
	assert.Empty(t, fileSymbols(idx, "huge.py"))

	// Same content and config digest, yet the failed file is parsed again.
	idx, rep = build(t, root)
	assert.False(t, rep.FullRebuild)
	assert.Equal(t, 1, rep.Modified)
	assert.Equal(t, 1, rep.Parsed)
	assert.Empty(t, rep.Errors)
	assert.Equal(t, 0, idx.Stats.ErrorFiles)
	assert.Len(t, fileSymbols(idx, "huge.py"), 20000)
}

func TestFailedFilesAreReparsed(t *testing.T) {
	t.Parallel()

	root := newRepo(t, map[string]string{"a.py": fooPy})
	writeFile(t, root, "bad.py", string([]byte{'d', 'e', 'f', ' ', 0xff, 0xfe, '\n'}))
	_, rep := build(t, root)
	require.Len(t, rep.Errors, 1)

	_, rep = build(t, root)
	assert.Equal(t, 1, rep.Modified)
	assert.Equal(t, 1, rep.Unchanged)
	assert.Equal(t, 1, rep.Parsed)
	require.Len(t, rep.Errors, 1)
	assert.ErrorIs(t, rep.Errors[0].Err, parse.ErrInvalidUTF8)
	assert.False(t, rep.Written)
}

func TestImportedPackageCallIsExternal(t *testing.T) {
	t.Parallel()

	root := newRepo(t, map[string]string{
		"fetch.py": "import requests\n\ndef fetch(url, items):\n    items.get(url)\n    return requests.get(url)\n",
	})
	idx, _ := build(t, root)

	require.Len(t, idx.Files, 1)
	assert.Equal(t, []string{"requests"}, idx.Files[0].Imports)
	assert.Equal(t, []model.Call{
		{Raw: "items.get", Kind: model.Builtin, Target: "get"},
		{Raw: "requests.get", Kind: model.External, Target: "requests.get"},
	}, symbol(t, idx, "fetch.py::fetch#function").Calls)
}

func TestStoreWriteFailure(t *testing.T) {
	t.Parallel()

	root := newRepo(t, map[string]string{"a.py": fooPy})
	writeFile(t, root, ".context", "not a directory")

	_, _, err := newEngine(t, root).LoadOrBuild(context.Background())
	require.ErrorIs(t, err, store.ErrStoreWrite)
}

func TestCancelledContext(t *testing.T) {
	t.Parallel()

	root := newRepo(t, sampleRepo)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := newEngine(t, root).LoadOrBuild(ctx)
	require.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(store.Dir(root))
	assert.True(t, os.IsNotExist(statErr), "nothing is written after cancellation")
}

func TestNewErrors(t *testing.T) {
	t.Parallel()

	_, err := New(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorContains(t, err, "root path")

	root := newRepo(t, map[string]string{"a.py": fooPy})
	_, err = New(filepath.Join(root, "a.py"))
	assert.ErrorContains(t, err, "not a directory")

	_, err = New(root, WithConfig(config.Default()), WithLanguages("cobol"))
	assert.ErrorContains(t, err, "unknown language")
}

func TestNewLoadsRepoConfig(t *testing.T) {
	t.Parallel()

	root := newRepo(t, map[string]string{
		config.FileName: "languages = [\"rust\"]\n",
		"a.py":          fooPy,
		"src/lib.rs":    sampleRepo["src/lib.rs"],
	})
	e, err := New(root, WithRegisterer(prometheus.NewRegistry()), WithWorkers(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"rust"}, e.Config().Languages)
	assert.Equal(t, 2, e.Config().Workers)

	idx, _, err := e.LoadOrBuild(context.Background())
	require.NoError(t, err)
	require.Len(t, idx.Files, 1)
	assert.Equal(t, "src/lib.rs", idx.Files[0].Path)
}

func TestPackageLoadOrBuild(t *testing.T) {
	t.Parallel()

	root := newRepo(t, map[string]string{"a.py": fooPy, "b.py": barPy})
	idx, rep, err := LoadOrBuild(context.Background(), root,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Stats.FileCount)
	assert.True(t, rep.Written)
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	root := newRepo(t, sampleRepo)
	e := newEngine(t, root)
	idx, _, err := e.LoadOrBuild(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.RunsTotal.WithLabelValues("full")))
	assert.Equal(t, float64(len(sampleRepo)), testutil.ToFloat64(e.metrics.FilesTotal.WithLabelValues("added")))
	assert.Equal(t, float64(idx.Stats.Edges.Local), testutil.ToFloat64(e.metrics.Edges.WithLabelValues("local")))
}

// TestTracing installs a global tracer provider, so it does not run in
// parallel with the rest of the package.
func TestTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	build(t, newRepo(t, map[string]string{"a.py": fooPy, "b.py": barPy}))

	names := map[string]int{}
	for _, s := range recorder.Ended() {
		names[s.Name()]++
	}
	assert.Equal(t, 1, names["engine.LoadOrBuild"])
	assert.Equal(t, 1, names["engine.parse"])
	assert.Equal(t, 2, names["parse.File"])
	assert.Equal(t, 1, names["store.Save"])
}
