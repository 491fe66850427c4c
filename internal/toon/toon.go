// Package toon implements TOON (Token-Oriented Object Notation) encoding.
package toon

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/phobologic/repoctx/internal/model"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// Encode renders a view as TOON tables: files, symbols, calls and, when
// any file failed to parse, errors. Builtin calls are left out.
func Encode(v *model.View) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("repo: %s", encodeValue(v.RepoName)))

	fileRows := make([][]string, 0, len(v.Files))
	var errorRows [][]string
	for i := range v.Files {
		f := &v.Files[i]
		fileRows = append(fileRows, []string{
			f.Path,
			f.Language,
			fmt.Sprintf("%d", f.Lines),
			fmt.Sprintf("%.4f", f.Rank),
		})
		if f.Error != "" {
			errorRows = append(errorRows, []string{f.Path, f.Error})
		}
	}
	parts = append(parts, formatTabular("files", []string{"path", "language", "lines", "rank"}, fileRows))

	symbolRows := make([][]string, 0, len(v.Symbols))
	var callRows [][]string
	for i := range v.Symbols {
		s := &v.Symbols[i]
		symbolRows = append(symbolRows, []string{
			s.File,
			s.QualifiedName,
			string(s.Kind),
			fmt.Sprintf("%d-%d", s.LineStart, s.LineEnd),
			Signature(s),
		})
		for _, c := range s.Calls {
			if c.Kind == model.Builtin {
				continue
			}
			callRows = append(callRows, []string{s.ID, c.Target, string(c.Kind)})
		}
	}
	parts = append(parts, formatTabular("symbols", []string{"file", "name", "kind", "lines", "signature"}, symbolRows))
	parts = append(parts, formatTabular("calls", []string{"caller", "callee", "kind"}, callRows))

	if len(errorRows) > 0 {
		parts = append(parts, formatTabular("errors", []string{"path", "error"}, errorRows))
	}

	return strings.Join(parts, "\n")
}

// Signature formats a symbol's parameters and return type, e.g.
// "area(self, scale: float) -> float". Type-like symbols have no signature.
func Signature(s *model.SymbolRecord) string {
	if s.Kind.IsType() {
		return ""
	}
	params := make([]string, 0, len(s.Params))
	for _, p := range s.Params {
		if p.Type == "" {
			params = append(params, p.Name)
			continue
		}
		params = append(params, p.Name+": "+p.Type)
	}
	sig := s.Name + "(" + strings.Join(params, ", ") + ")"
	if s.Returns != "" {
		sig += " -> " + s.Returns
	}
	return sig
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	switch {
	case value == "":
		return `""`
	case value != strings.TrimSpace(value), strings.ContainsAny(value, "\n\r\t"):
		return quote(value)
	}
	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}
	if looksNumeric.MatchString(value) {
		return value
	}
	if needsQuoting.MatchString(value) || strings.HasPrefix(value, "-") {
		return quote(value)
	}
	return value
}

var quoteReplacer = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func quote(value string) string {
	return `"` + quoteReplacer.Replace(value) + `"`
}
