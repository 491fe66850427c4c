package graph

import (
	"math"
	"sort"

	"github.com/phobologic/repoctx/internal/model"
)

// FileRank pairs a file path with its PageRank score.
type FileRank struct {
	Path string
	Rank float64
}

// Rank applies PageRank to the file-level projection of the local call
// graph and returns every file ordered by rank descending, then by path.
// An edge from file A to file B is added for each local call from a
// symbol in A to a symbol in B; calls within one file are ignored.
func Rank(idx *model.Index) []FileRank {
	if len(idx.Files) == 0 {
		return []FileRank{}
	}

	nodes := make(map[string]struct{}, len(idx.Files))
	for _, f := range idx.Files {
		nodes[f.Path] = struct{}{}
	}

	byID := idx.SymbolsByID()
	outEdges := make(map[string][]string)
	outDegree := make(map[string]int)
	for _, s := range idx.Symbols {
		for _, c := range s.Calls {
			if c.Kind != model.Local {
				continue
			}
			j, ok := byID[c.Target]
			if !ok {
				continue
			}
			target := idx.Symbols[j].File
			if target == s.File {
				continue
			}
			outEdges[s.File] = append(outEdges[s.File], target)
			outDegree[s.File]++
		}
	}

	var ranks map[string]float64
	if len(outEdges) == 0 {
		uniform := 1.0 / float64(len(nodes))
		ranks = make(map[string]float64, len(nodes))
		for n := range nodes {
			ranks[n] = uniform
		}
	} else {
		ranks = pageRank(nodes, outEdges, outDegree, 0.85, 100, 1e-6)
	}

	out := make([]FileRank, 0, len(idx.Files))
	for _, f := range idx.Files {
		out = append(out, FileRank{Path: f.Path, Rank: ranks[f.Path]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank > out[j].Rank
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// pageRank iterates in sorted node order so that floating-point sums,
// and therefore the ranks, are identical across runs.
func pageRank(
	nodes map[string]struct{},
	outEdges map[string][]string,
	outDegree map[string]int,
	alpha float64,
	maxIter int,
	tol float64,
) map[string]float64 {
	n := len(nodes)
	if n == 0 {
		return nil
	}
	order := sortedKeys(nodes)

	rank := make(map[string]float64, n)
	initial := 1.0 / float64(n)
	for _, node := range order {
		rank[node] = initial
	}

	teleport := (1.0 - alpha) / float64(n)

	for iter := 0; iter < maxIter; iter++ {
		newRank := make(map[string]float64, n)

		// Dangling node contribution (nodes with no outgoing edges)
		var danglingSum float64
		for _, node := range order {
			if outDegree[node] == 0 {
				danglingSum += rank[node]
			}
		}
		danglingContrib := alpha * danglingSum / float64(n)

		for _, node := range order {
			newRank[node] = teleport + danglingContrib
		}

		// Distribute rank through edges
		for _, src := range order {
			targets := outEdges[src]
			if len(targets) == 0 {
				continue
			}
			contrib := alpha * rank[src] / float64(outDegree[src])
			for _, tgt := range targets {
				newRank[tgt] += contrib
			}
		}

		var diff float64
		for _, node := range order {
			diff += math.Abs(newRank[node] - rank[node])
		}

		rank = newRank

		if diff < tol {
			break
		}
	}

	return rank
}
