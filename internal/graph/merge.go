package graph

import (
	"fmt"

	"github.com/phobologic/repoctx/internal/change"
	"github.com/phobologic/repoctx/internal/model"
)

// Merge builds the symbol table for the files in order, which must be the
// walker's sorted path order. Unchanged files are copied from prior
// verbatim; every other path takes its records from fresh, replacing
// whatever prior held for it. Paths absent from order (removed files) are
// dropped along with their symbols. Call edges are left for Resolve.
func Merge(order []string, plan *change.Plan, prior *model.Index, fresh map[string]model.ParsedFile) (*model.Index, error) {
	idx := &model.Index{SchemaVersion: model.SchemaVersion}

	var priorFiles map[string]model.FileRecord
	var priorSyms map[string][]model.SymbolRecord
	if prior != nil {
		priorFiles = make(map[string]model.FileRecord, len(prior.Files))
		for _, f := range prior.Files {
			priorFiles[f.Path] = f
		}
		priorSyms = make(map[string][]model.SymbolRecord, len(prior.Files))
		for _, s := range prior.Symbols {
			priorSyms[s.File] = append(priorSyms[s.File], s)
		}
	}

	for _, path := range order {
		if plan != nil && plan.Status(path) == change.Unchanged {
			if rec, ok := priorFiles[path]; ok {
				idx.Files = append(idx.Files, rec)
				idx.Symbols = append(idx.Symbols, priorSyms[path]...)
				continue
			}
		}
		pf, ok := fresh[path]
		if !ok {
			return nil, fmt.Errorf("%w: no records for %s", ErrInvariant, path)
		}
		rec, syms := Records(pf)
		idx.Files = append(idx.Files, rec)
		idx.Symbols = append(idx.Symbols, syms...)
	}

	idx.Normalize()
	return idx, nil
}

// Records converts one parse result into its file record and symbol
// records, assigning identifiers in declaration order.
func Records(pf model.ParsedFile) (model.FileRecord, []model.SymbolRecord) {
	rec := model.FileRecord{
		Path:        pf.Path,
		Language:    pf.Language,
		Bytes:       pf.Bytes,
		Lines:       pf.Lines,
		Fingerprint: pf.Fingerprint,
		Symbols:     make([]string, 0, len(pf.Symbols)),
		Error:       pf.Err,
	}
	if pf.Err != "" {
		return rec, nil
	}
	rec.Imports = pf.Imports

	type key struct {
		qual string
		kind model.SymbolKind
	}
	seen := make(map[key]int, len(pf.Symbols))
	syms := make([]model.SymbolRecord, 0, len(pf.Symbols))
	for _, ps := range pf.Symbols {
		k := key{ps.QualifiedName, ps.Kind}
		seen[k]++
		id := SymbolID(pf.Path, ps.QualifiedName, ps.Kind, seen[k])

		calls := make([]model.Call, 0, len(ps.Calls))
		for _, raw := range ps.Calls {
			calls = append(calls, model.Call{Raw: raw, Kind: model.Unresolved, Target: raw})
		}
		params := ps.Params
		if params == nil {
			params = []model.Param{}
		}

		rec.Symbols = append(rec.Symbols, id)
		syms = append(syms, model.SymbolRecord{
			ID:            id,
			Kind:          ps.Kind,
			Name:          ps.Name,
			QualifiedName: ps.QualifiedName,
			Container:     ps.Container,
			File:          pf.Path,
			Params:        params,
			Returns:       ps.Returns,
			Doc:           ps.Doc,
			LineStart:     ps.LineStart,
			LineEnd:       ps.LineEnd,
			Calls:         calls,
			CalledBy:      []string{},
		})
	}
	return rec, syms
}
