// Package ranking builds ranked, filtered views over a semantic index.
package ranking

import (
	"sort"
	"strings"

	"github.com/phobologic/repoctx/internal/discover"
	"github.com/phobologic/repoctx/internal/graph"
	"github.com/phobologic/repoctx/internal/model"
)

// Build orders the files of idx by PageRank and returns the full view.
func Build(idx *model.Index, repoName string) *model.View {
	records := make(map[string]model.FileRecord, len(idx.Files))
	for _, f := range idx.Files {
		records[f.Path] = f
	}

	ranked := graph.Rank(idx)
	files := make([]model.RankedFile, 0, len(ranked))
	for _, r := range ranked {
		files = append(files, model.RankedFile{FileRecord: records[r.Path], Rank: r.Rank})
	}
	return &model.View{
		RepoName: repoName,
		Files:    files,
		Symbols:  symbolsInFileOrder(files, idx.Symbols, nil),
	}
}

// SelectFiles returns a view with only the top-ranked files and their symbols.
// If maxFiles is <= 0 or >= len(files), v is returned unchanged.
func SelectFiles(v *model.View, maxFiles int) *model.View {
	if maxFiles <= 0 || maxFiles >= len(v.Files) {
		return v
	}
	selected := v.Files[:maxFiles]
	return &model.View{
		RepoName: v.RepoName,
		Files:    selected,
		Symbols:  symbolsInFileOrder(selected, v.Symbols, nil),
	}
}

// ExcludeTests drops test files and their symbols.
func ExcludeTests(v *model.View) *model.View {
	var files []model.RankedFile
	for _, f := range v.Files {
		if !discover.IsTestFile(f.Path) {
			files = append(files, f)
		}
	}
	return &model.View{
		RepoName: v.RepoName,
		Files:    files,
		Symbols:  symbolsInFileOrder(files, v.Symbols, nil),
	}
}

// FilterBySymbol keeps symbols whose name contains substr (case-insensitive)
// together with their direct local callers and callees, and the files that
// define any of them.
func FilterBySymbol(v *model.View, substr string) *model.View {
	lower := strings.ToLower(substr)

	keep := make(map[string]struct{})
	for i := range v.Symbols {
		s := &v.Symbols[i]
		if !strings.Contains(strings.ToLower(s.Name), lower) {
			continue
		}
		keep[s.ID] = struct{}{}
		for _, c := range s.Calls {
			if c.Kind == model.Local {
				keep[c.Target] = struct{}{}
			}
		}
		for _, caller := range s.CalledBy {
			keep[caller] = struct{}{}
		}
	}

	owners := make(map[string]struct{})
	for i := range v.Symbols {
		if _, ok := keep[v.Symbols[i].ID]; ok {
			owners[v.Symbols[i].File] = struct{}{}
		}
	}
	var files []model.RankedFile
	for _, f := range v.Files {
		if _, ok := owners[f.Path]; ok {
			files = append(files, f)
		}
	}
	return &model.View{
		RepoName: v.RepoName,
		Files:    files,
		Symbols:  symbolsInFileOrder(files, v.Symbols, keep),
	}
}

// FilterByFile keeps files whose path contains substr (case-insensitive)
// and the symbols they define.
func FilterByFile(v *model.View, substr string) *model.View {
	lower := strings.ToLower(substr)

	var files []model.RankedFile
	for _, f := range v.Files {
		if strings.Contains(strings.ToLower(f.Path), lower) {
			files = append(files, f)
		}
	}
	return &model.View{
		RepoName: v.RepoName,
		Files:    files,
		Symbols:  symbolsInFileOrder(files, v.Symbols, nil),
	}
}

// symbolsInFileOrder returns the symbols owned by files, grouped in the
// order files are listed and in declaration order within a file. A non-nil
// keep restricts the result to those IDs.
func symbolsInFileOrder(files []model.RankedFile, symbols []model.SymbolRecord, keep map[string]struct{}) []model.SymbolRecord {
	pos := make(map[string]int, len(files))
	for i, f := range files {
		pos[f.Path] = i
	}
	out := make([]model.SymbolRecord, 0)
	for _, s := range symbols {
		if _, ok := pos[s.File]; !ok {
			continue
		}
		if keep != nil {
			if _, ok := keep[s.ID]; !ok {
				continue
			}
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return pos[out[i].File] < pos[out[j].File]
	})
	return out
}
