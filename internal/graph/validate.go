package graph

import (
	"fmt"
	"slices"

	"github.com/phobologic/repoctx/internal/model"
)

// Validate checks the structural invariants of a resolved index and
// returns an error wrapping ErrInvariant on the first violation.
func Validate(idx *model.Index) error {
	files := make(map[string]int, len(idx.Files))
	for i, f := range idx.Files {
		if i > 0 && idx.Files[i-1].Path >= f.Path {
			return fmt.Errorf("%w: files out of order at %s", ErrInvariant, f.Path)
		}
		files[f.Path] = i
	}

	byID := make(map[string]int, len(idx.Symbols))
	owned := make(map[string][]string, len(idx.Files))
	for i, s := range idx.Symbols {
		if _, dup := byID[s.ID]; dup {
			return fmt.Errorf("%w: duplicate symbol id %s", ErrInvariant, s.ID)
		}
		byID[s.ID] = i

		fi, ok := files[s.File]
		if !ok {
			return fmt.Errorf("%w: symbol %s belongs to unknown file %s", ErrInvariant, s.ID, s.File)
		}
		lines := idx.Files[fi].Lines
		if s.LineStart < 1 || s.LineEnd < s.LineStart || s.LineEnd > lines {
			return fmt.Errorf("%w: symbol %s spans %d-%d outside %d lines",
				ErrInvariant, s.ID, s.LineStart, s.LineEnd, lines)
		}
		owned[s.File] = append(owned[s.File], s.ID)
	}

	for _, f := range idx.Files {
		if !slices.Equal(f.Symbols, owned[f.Path]) && (len(f.Symbols) > 0 || len(owned[f.Path]) > 0) {
			return fmt.Errorf("%w: symbol list of %s disagrees with symbol owners", ErrInvariant, f.Path)
		}
	}

	want := make(map[string][]string, len(idx.Symbols))
	for _, s := range idx.Symbols {
		for _, c := range s.Calls {
			if c.Kind != model.Local {
				continue
			}
			if _, ok := byID[c.Target]; !ok {
				return fmt.Errorf("%w: %s calls missing symbol %s", ErrInvariant, s.ID, c.Target)
			}
			want[c.Target] = append(want[c.Target], s.ID)
		}
	}
	for _, s := range idx.Symbols {
		expected := sortedUnique(want[s.ID])
		if !slices.Equal(expected, s.CalledBy) && (len(expected) > 0 || len(s.CalledBy) > 0) {
			return fmt.Errorf("%w: called_by of %s is not the transpose of calls", ErrInvariant, s.ID)
		}
	}
	return nil
}
