package discover

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paths(entries []FileEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

func TestDiscoverSourceFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, "main.py", "print('hello')")
	writeFile(t, dir, "lib/util.py", "def helper(): pass")
	writeFile(t, dir, "lib/core.rs", "fn main() {}")
	writeFile(t, dir, "cmd/tool/main.go", "package main")
	writeFile(t, dir, "app/model.rb", "class Model; end")
	// Unsupported and hidden files are ignored
	writeFile(t, dir, "readme.txt", "hello")
	writeFile(t, dir, ".hidden.py", "secret")

	entries, err := Files(dir, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"app/model.rb",
		"cmd/tool/main.go",
		"lib/core.rs",
		"lib/util.py",
		"main.py",
	}, paths(entries))

	langs := map[string]string{}
	for _, e := range entries {
		langs[e.Path] = e.Language
	}
	assert.Equal(t, "ruby", langs["app/model.rb"])
	assert.Equal(t, "go", langs["cmd/tool/main.go"])
	assert.Equal(t, "rust", langs["lib/core.rs"])
	assert.Equal(t, "python", langs["main.py"])
}

func TestDiscoverSkipDirs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, "main.py", "pass")
	writeFile(t, dir, "node_modules/pkg.py", "pass")
	writeFile(t, dir, "__pycache__/cached.py", "pass")
	writeFile(t, dir, ".hidden/secret.py", "pass")
	writeFile(t, dir, ".context/context.py", "pass")
	writeFile(t, dir, "target/debug/build.rs", "fn main() {}")
	writeFile(t, dir, "venv/lib/site.py", "pass")
	writeFile(t, dir, "generated/out.py", "pass")

	entries, err := Files(dir, Options{ExtraIgnore: []string{"generated"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"main.py"}, paths(entries))
}

func TestDiscoverLanguageFilter(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, "main.py", "pass")
	writeFile(t, dir, "lib.py", "pass")
	writeFile(t, dir, "lib.rs", "fn f() {}")

	entries, err := Files(dir, Options{Languages: []string{"python"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"lib.py", "main.py"}, paths(entries))

	entries, err = Files(dir, Options{Languages: []string{"javascript"}})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDiscoverGitignore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, ".gitignore", "generated_*.py\nscratch/\n")
	writeFile(t, dir, "keep.py", "pass")
	writeFile(t, dir, "generated_api.py", "pass")
	writeFile(t, dir, "scratch/tmp.py", "pass")

	entries, err := Files(dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.py"}, paths(entries))
}

func TestDiscoverGitNonASCIIPaths(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	writeFile(t, dir, ".gitignore", "ignored.py\n")
	writeFile(t, dir, "café.py", "pass")
	writeFile(t, dir, "naïve/日本.py", "pass")
	writeFile(t, dir, "plain.py", "pass")
	writeFile(t, dir, "ignored.py", "pass")

	cmd := exec.Command("git", "init", "-q")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	require.NotNil(t, gitLsFiles(dir))

	entries, err := Files(dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"café.py", "naïve/日本.py", "plain.py"}, paths(entries))
}

func TestDiscoverEmptyRepo(t *testing.T) {
	t.Parallel()

	entries, err := Files(t.TempDir(), Options{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDiscoverSymlinksSkipped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "real.py", "pass")

	err := os.Symlink(filepath.Join(dir, "real.py"), filepath.Join(dir, "link.py"))
	if err != nil {
		t.Skip("symlinks not supported")
	}

	entries, err := Files(dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"real.py"}, paths(entries))
}

func TestSkipDir(t *testing.T) {
	t.Parallel()

	assert.True(t, SkipDir(".git", nil))
	assert.True(t, SkipDir(IndexDir, nil))
	assert.True(t, SkipDir("mypkg.egg-info", nil))
	assert.True(t, SkipDir("gen", []string{"gen"}))
	assert.False(t, SkipDir("src", nil))
}

func TestIsTestFile(t *testing.T) {
	t.Parallel()
	cases := []struct {
		path string
		want bool
	}{
		// Test directory components
		{"tests/test_scenes.py", true},
		{"tests/conftest.py", true},
		{"tests/__init__.py", true},
		{"spec/models/user_spec.rb", true},
		{"src/__tests__/foo.js", true},
		{"src/test/java/FooTest.java", true},
		{"test/foo_test.exs", true},
		// Filename patterns
		{"internal/graph/graph_test.go", true},
		{"test_helpers.py", true},
		{"user_spec.rb", true},
		{"foo.test.js", true},
		{"foo.spec.ts", true},
		// Production files
		{"loom/models.py", false},
		{"loom/routers/scenes.py", false},
		{"internal/graph/graph.go", false},
		{"conftest.py", false},      // top-level conftest, not in tests/
		{"testing_utils.go", false}, // contains "testing" but not a test pattern
		{"loom/database.py", false},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, IsTestFile(tc.path))
		})
	}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
