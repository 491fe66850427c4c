package graph

import (
	"path"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/phobologic/repoctx/internal/lang"
	"github.com/phobologic/repoctx/internal/model"
)

// externalRe matches names that look like a qualified path into another
// package: identifiers joined by "." or "::".
var externalRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*((\.|::)[A-Za-z_][A-Za-z0-9_]*)+$`)

// callForm is the syntactic shape of a raw call name.
type callForm int

const (
	plainCall     callForm = iota // f()
	selfCall                      // self.f(), Self::f()
	qualifiedCall                 // T.f(), pkg.f(), mod::f()
	stdCall                       // os.path.join()
	packageCall                   // requests.get(), reqwest::get()
	receiverCall                  // obj.f()
)

// Resolve rebuilds every symbol's outgoing calls from their raw names and
// derives called_by as the transpose of the local edges. It is a pure
// function of the symbol table: the same table always yields the same
// edges. Stats are recomputed afterwards.
func Resolve(idx *model.Index) {
	r := newResolver(idx)
	for i := range idx.Symbols {
		s := &idx.Symbols[i]
		calls := make([]model.Call, 0, len(s.Calls))
		for _, c := range s.Calls {
			calls = append(calls, r.resolve(i, c.Raw))
		}
		s.Calls = calls
	}

	byID := idx.SymbolsByID()
	calledBy := make([][]string, len(idx.Symbols))
	for _, s := range idx.Symbols {
		for _, c := range s.Calls {
			if c.Kind != model.Local {
				continue
			}
			if j, ok := byID[c.Target]; ok {
				calledBy[j] = append(calledBy[j], s.ID)
			}
		}
	}
	for i := range idx.Symbols {
		idx.Symbols[i].CalledBy = sortedUnique(calledBy[i])
	}
	idx.Stats = ComputeStats(idx)
}

type resolver struct {
	idx *model.Index

	fileLang map[string]*lang.Language
	fileDir  map[string]string
	fileMod  map[string]string
	imports  map[string]map[string]struct{} // file -> names bound by its imports

	byName     map[string][]int  // member name -> symbol indices, table order
	byFileQual map[string]int    // file + "\x00" + qualified name -> index
	scopes     map[string]scopes // language -> known type and module names
}

type scopes struct {
	types   map[string]struct{}
	modules map[string]struct{}
}

func newResolver(idx *model.Index) *resolver {
	r := &resolver{
		idx:        idx,
		fileLang:   make(map[string]*lang.Language, len(idx.Files)),
		fileDir:    make(map[string]string, len(idx.Files)),
		fileMod:    make(map[string]string, len(idx.Files)),
		imports:    make(map[string]map[string]struct{}),
		byName:     make(map[string][]int),
		byFileQual: make(map[string]int, len(idx.Symbols)),
		scopes:     make(map[string]scopes),
	}
	for _, f := range idx.Files {
		l := lang.Languages[f.Language]
		r.fileLang[f.Path] = l
		r.fileDir[f.Path] = path.Dir(f.Path)
		if len(f.Imports) > 0 {
			names := make(map[string]struct{}, len(f.Imports))
			for _, name := range f.Imports {
				names[name] = struct{}{}
			}
			r.imports[f.Path] = names
		}
		sc := r.scopesFor(f.Language)
		if l != nil {
			if mod := l.ModuleName(f.Path); mod != "" {
				r.fileMod[f.Path] = mod
				sc.modules[mod] = struct{}{}
			}
		}
	}
	for i, s := range idx.Symbols {
		r.byName[s.Name] = append(r.byName[s.Name], i)
		r.byFileQual[s.File+"\x00"+s.QualifiedName] = i
		l := r.fileLang[s.File]
		if l == nil {
			continue
		}
		sc := r.scopesFor(l.Name)
		if s.Kind.IsType() {
			sc.types[s.Name] = struct{}{}
		}
		if s.Container != "" {
			sc.types[lastSegment(s.Container)] = struct{}{}
		}
	}
	return r
}

func (r *resolver) scopesFor(language string) scopes {
	sc, ok := r.scopes[language]
	if !ok {
		sc = scopes{types: map[string]struct{}{}, modules: map[string]struct{}{}}
		r.scopes[language] = sc
	}
	return sc
}

// resolve classifies one raw call made by symbol caller.
func (r *resolver) resolve(caller int, raw string) model.Call {
	unresolved := model.Call{Raw: raw, Kind: model.Unresolved, Target: raw}
	c := &r.idx.Symbols[caller]
	l := r.fileLang[c.File]
	if l == nil {
		return unresolved
	}

	qualifier, sep, member := splitQualified(raw)
	form := r.classify(l, c.File, qualifier, sep)

	var match func(int) bool
	switch form {
	case plainCall:
		ownType := ""
		if l.ImplicitSelf {
			ownType = r.callerType(caller)
		}
		match = func(i int) bool {
			s := &r.idx.Symbols[i]
			if s.Kind != model.Method {
				return true
			}
			return ownType != "" && s.Container == ownType
		}
	case selfCall:
		ownType := r.callerType(caller)
		match = func(i int) bool { return ownType != "" && r.idx.Symbols[i].Container == ownType }
	case qualifiedCall:
		scope := lastSegment(qualifier)
		match = func(i int) bool {
			s := &r.idx.Symbols[i]
			if s.Container != "" {
				return lastSegment(s.Container) == scope
			}
			return r.fileMod[s.File] == scope
		}
	case receiverCall:
		match = func(i int) bool { return r.idx.Symbols[i].Kind == model.Method }
	}

	if match != nil {
		if id, found, ambiguous := r.narrow(caller, l, member, match); found {
			return model.Call{Raw: raw, Kind: model.Local, Target: id}
		} else if ambiguous {
			return unresolved
		}
	}
	if form == selfCall {
		// The receiver's own type has no such member; it may be inherited.
		methods := func(i int) bool { return r.idx.Symbols[i].Kind == model.Method }
		if id, found, _ := r.narrow(caller, l, member, methods); found {
			return model.Call{Raw: raw, Kind: model.Local, Target: id}
		}
		return unresolved
	}

	switch form {
	case plainCall:
		if l.IsBuiltin(member) {
			return model.Call{Raw: raw, Kind: model.Builtin, Target: member}
		}
	case stdCall:
		return model.Call{Raw: raw, Kind: model.Builtin, Target: raw}
	case packageCall:
		// A package member is never a method of a builtin value.
	default:
		if l.IsBuiltinMethod(member) {
			return model.Call{Raw: raw, Kind: model.Builtin, Target: member}
		}
	}

	if externalRe.MatchString(raw) {
		return model.Call{Raw: raw, Kind: model.External, Target: raw}
	}
	return unresolved
}

func (r *resolver) classify(l *lang.Language, file, qualifier, sep string) callForm {
	if qualifier == "" {
		return plainCall
	}
	if sep == "::" && l.IsScopeKeyword(qualifier) {
		return plainCall
	}
	if l.IsSelf(qualifier) {
		return selfCall
	}
	sc := r.scopes[l.Name]
	last := lastSegment(qualifier)
	if _, ok := sc.types[last]; ok {
		return qualifiedCall
	}
	if _, ok := sc.modules[last]; ok {
		return qualifiedCall
	}
	root := firstSegment(qualifier)
	if l.IsStdModule(root) {
		return stdCall
	}
	if r.isPackage(l, file, qualifier, sep, root) {
		return packageCall
	}
	return receiverCall
}

// isPackage reports whether a qualifier that is not a known local scope
// names a package rather than a value: an imported name, a :: path, or a
// constant in languages that mark constants by case.
func (r *resolver) isPackage(l *lang.Language, file, qualifier, sep, root string) bool {
	if l.IsScopeKeyword(root) {
		return false
	}
	if sep == "::" || strings.Contains(qualifier, "::") {
		return true
	}
	if _, ok := r.imports[file][root]; ok {
		return true
	}
	if l.ConstantReceivers && root != "" {
		first, _ := utf8.DecodeRuneInString(root)
		return unicode.IsUpper(first)
	}
	return false
}

// narrow applies the scope precedence to the symbols named member that
// satisfy match: same file, then same module (directory), then the whole
// repository. The first scope with any candidate decides. A single
// candidate is found; more than one is ambiguous and is never guessed.
func (r *resolver) narrow(caller int, l *lang.Language, member string, match func(int) bool) (id string, found, ambiguous bool) {
	c := &r.idx.Symbols[caller]
	var file, dir, repo []int
	for _, i := range r.byName[member] {
		s := &r.idx.Symbols[i]
		if r.fileLang[s.File] != l || !match(i) {
			continue
		}
		repo = append(repo, i)
		if r.fileDir[s.File] == r.fileDir[c.File] {
			dir = append(dir, i)
		}
		if s.File == c.File {
			file = append(file, i)
		}
	}
	for _, cands := range [][]int{file, dir, repo} {
		switch len(cands) {
		case 0:
			continue
		case 1:
			return r.idx.Symbols[cands[0]].ID, true, false
		default:
			return "", false, true
		}
	}
	return "", false, false
}

// callerType returns the qualified name of the type whose members the
// caller can reach through self: its own name for a type, its container
// for a method, and the method's container for functions nested in one.
func (r *resolver) callerType(caller int) string {
	s := &r.idx.Symbols[caller]
	for depth := 0; depth < 16; depth++ {
		switch {
		case s.Kind.IsType():
			return s.QualifiedName
		case s.Kind == model.Method:
			return s.Container
		case s.Container == "":
			return ""
		}
		parent, ok := r.byFileQual[s.File+"\x00"+s.Container]
		if !ok {
			return ""
		}
		s = &r.idx.Symbols[parent]
	}
	return ""
}
