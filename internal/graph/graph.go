// Package graph assembles the global symbol table and the call graph.
//
// Merge combines fresh parse results with records retained from the
// previous index, Resolve rebuilds every call edge over the merged table,
// and Validate checks the index invariants before it is persisted.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/phobologic/repoctx/internal/model"
)

// ErrInvariant is returned when an index violates a structural invariant.
var ErrInvariant = errors.New("index invariant violated")

// SymbolID derives a symbol identifier from its identity. n is the
// 1-based occurrence of (qual, kind) within the file; repeats get a ~n
// suffix so redefinitions stay distinct.
func SymbolID(path, qual string, kind model.SymbolKind, n int) string {
	id := path + "::" + qual + "#" + string(kind)
	if n > 1 {
		id += fmt.Sprintf("~%d", n)
	}
	return id
}

// ComputeStats recounts the repository summary from the index contents.
func ComputeStats(idx *model.Index) model.Stats {
	var st model.Stats
	st.FileCount = len(idx.Files)
	st.SymbolCount = len(idx.Symbols)
	for _, f := range idx.Files {
		st.TotalBytes += f.Bytes
		st.TotalLines += f.Lines
		if f.Error != "" {
			st.ErrorFiles++
		}
	}
	for _, s := range idx.Symbols {
		for _, c := range s.Calls {
			st.EdgeCount++
			switch c.Kind {
			case model.Local:
				st.Edges.Local++
			case model.Builtin:
				st.Edges.Builtin++
			case model.External:
				st.Edges.External++
			default:
				st.Edges.Unresolved++
			}
		}
	}
	return st
}

// splitQualified splits a raw call at its last "." or "::" into qualifier,
// separator and member name. A plain name has an empty qualifier.
func splitQualified(raw string) (qualifier, sep, member string) {
	dot := strings.LastIndex(raw, ".")
	colons := strings.LastIndex(raw, "::")
	switch {
	case dot < 0 && colons < 0:
		return "", "", raw
	case colons > dot:
		return raw[:colons], "::", raw[colons+2:]
	default:
		return raw[:dot], ".", raw[dot+1:]
	}
}

// segments splits a qualified name on both "." and "::".
func segments(qual string) []string {
	return strings.FieldsFunc(strings.ReplaceAll(qual, "::", "."), func(r rune) bool { return r == '.' })
}

// lastSegment returns the final element of a qualified name.
func lastSegment(qual string) string {
	segs := segments(qual)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// firstSegment returns the leading element of a qualified name.
func firstSegment(qual string) string {
	segs := segments(qual)
	if len(segs) == 0 {
		return ""
	}
	return segs[0]
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sortedUnique sorts s and drops duplicates in place.
func sortedUnique(s []string) []string {
	if len(s) == 0 {
		return []string{}
	}
	sort.Strings(s)
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
