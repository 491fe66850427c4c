// Package parse runs a language adapter over one source file and extracts
// its declarations and the raw call names inside each of them.
package parse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/phobologic/repoctx/internal/change"
	"github.com/phobologic/repoctx/internal/lang"
	"github.com/phobologic/repoctx/internal/model"
)

var tracer = otel.Tracer("repoctx.parse")

// Per-file failure causes. They never abort a run.
var (
	ErrRead        = errors.New("cannot read file")
	ErrTooLarge    = errors.New("file exceeds size limit")
	ErrInvalidUTF8 = errors.New("file is not valid UTF-8")
	ErrTimeout     = errors.New("parse timed out")
	ErrNoTree      = errors.New("parser produced no syntax tree")
	ErrUnsupported = errors.New("unsupported language")
)

// Error is a failure to parse a single file.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Options bound the work done for a single file.
type Options struct {
	MaxFileSize int64
	Timeout     time.Duration
}

// Parser holds one tree-sitter parser per language. It is not safe for
// concurrent use; give each worker its own.
type Parser struct {
	opts    Options
	parsers map[string]*sitter.Parser
}

// NewParser returns a Parser with the given limits.
func NewParser(opts Options) *Parser {
	return &Parser{opts: opts, parsers: make(map[string]*sitter.Parser)}
}

// Close releases the underlying tree-sitter parsers.
func (p *Parser) Close() {
	for _, sp := range p.parsers {
		sp.Close()
	}
	p.parsers = map[string]*sitter.Parser{}
}

// File reads root/relPath and parses it as language. On a per-file failure
// the returned ParsedFile carries the error text and no symbols, and the
// error is a *Error. Only cancellation of ctx is returned unwrapped.
func (p *Parser) File(ctx context.Context, root, relPath, language string) (model.ParsedFile, error) {
	pf := model.ParsedFile{Path: relPath, Language: language}

	ctx, span := tracer.Start(ctx, "parse.File", trace.WithAttributes(
		attribute.String("file.path", relPath),
		attribute.String("file.language", language),
	))
	defer span.End()

	fail := func(cause error) (model.ParsedFile, error) {
		err := &Error{Path: relPath, Err: cause}
		pf.Symbols = nil
		pf.Err = cause.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, pf.Err)
		return pf, err
	}

	l, ok := lang.Languages[language]
	if !ok {
		return fail(fmt.Errorf("%w: %q", ErrUnsupported, language))
	}

	abs := filepath.Join(root, filepath.FromSlash(relPath))
	if p.opts.MaxFileSize > 0 {
		if info, err := os.Stat(abs); err == nil && info.Size() > p.opts.MaxFileSize {
			pf.Bytes = info.Size()
			return fail(fmt.Errorf("%w (%d > %d bytes)", ErrTooLarge, info.Size(), p.opts.MaxFileSize))
		}
	}
	source, err := os.ReadFile(abs)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrRead, err))
	}
	pf.Bytes = int64(len(source))
	pf.Lines = CountLines(source)
	pf.Fingerprint = change.Fingerprint(source)
	if p.opts.MaxFileSize > 0 && pf.Bytes > p.opts.MaxFileSize {
		return fail(fmt.Errorf("%w (%d > %d bytes)", ErrTooLarge, pf.Bytes, p.opts.MaxFileSize))
	}
	if !utf8.Valid(source) {
		return fail(ErrInvalidUTF8)
	}

	syms, imports, err := p.extract(ctx, l, source, pf.Lines)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrTimeout) {
			return pf, ctx.Err()
		}
		return fail(err)
	}
	pf.Symbols = syms
	pf.Imports = imports
	span.SetAttributes(attribute.Int("file.symbols", len(syms)))
	return pf, nil
}

func (p *Parser) parser(l *lang.Language) *sitter.Parser {
	sp, ok := p.parsers[l.Name]
	if !ok {
		sp = l.NewParser()
		p.parsers[l.Name] = sp
	}
	return sp
}

// extract returns the file's symbols and the sorted names its imports bind.
func (p *Parser) extract(ctx context.Context, l *lang.Language, source []byte, lines int) ([]model.ParsedSymbol, []string, error) {
	if len(source) == 0 {
		return nil, nil, nil
	}

	parseCtx := ctx
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		parseCtx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	sp := p.parser(l)
	tree, err := sp.ParseCtx(parseCtx, nil, source)
	if err != nil || tree == nil {
		// A cancelled parse leaves the parser mid-document.
		sp.Reset()
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if parseCtx.Err() != nil {
			return nil, nil, ErrTimeout
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrNoTree, err)
		}
		return nil, nil, ErrNoTree
	}
	defer tree.Close()

	x := &extractor{lang: l, source: source, lines: lines}
	x.walk(tree.RootNode(), scope{}, -1)
	slices.Sort(x.imports)
	return x.symbols, slices.Compact(x.imports), nil
}

// Symbols parses source directly, for callers that already hold the bytes.
func Symbols(ctx context.Context, language string, source []byte) ([]model.ParsedSymbol, error) {
	l, ok := lang.Languages[language]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, language)
	}
	p := NewParser(Options{})
	defer p.Close()
	syms, _, err := p.extract(ctx, l, source, CountLines(source))
	return syms, err
}

// CountLines returns the number of lines in source; a final line without a
// trailing newline still counts.
func CountLines(source []byte) int {
	n := bytes.Count(source, []byte{'\n'})
	if len(source) > 0 && source[len(source)-1] != '\n' {
		n++
	}
	return n
}

type scope struct {
	qual string
	kind model.SymbolKind

	// Go receiver variable and the type it stands for.
	receiver string
	recvType string
}

type extractor struct {
	lang    *lang.Language
	source  []byte
	lines   int
	symbols []model.ParsedSymbol
	seen    []map[string]struct{}
	imports []string
}

// walk visits node. owner is the index of the innermost symbol whose body
// contains node, or -1 outside any declaration. Calls are attributed to the
// innermost declaration only, so a nested function's calls are not repeated
// on its parent.
func (x *extractor) walk(node *sitter.Node, sc scope, owner int) {
	if x.lang.Imports != nil {
		if names := x.lang.Imports(node, x.source); names != nil {
			x.imports = append(x.imports, names...)
			return
		}
	}
	if d, ok := x.lang.Declare(node, x.source, sc.kind); ok {
		container := sc.qual
		if d.Prefix != "" {
			container = x.lang.Join(container, d.Prefix)
		}
		if d.Container != "" {
			container = d.Container
		}
		qual := x.lang.Join(container, d.Name)

		if d.ScopeOnly {
			x.children(node, scope{qual: qual, kind: model.Type}, owner)
			return
		}

		start, end := x.lineRange(node)
		x.symbols = append(x.symbols, model.ParsedSymbol{
			Kind:          d.Kind,
			Name:          d.Name,
			QualifiedName: qual,
			Container:     container,
			Params:        d.Params,
			Returns:       d.Returns,
			Doc:           d.Doc,
			LineStart:     start,
			LineEnd:       end,
		})
		x.seen = append(x.seen, map[string]struct{}{})

		inner := scope{qual: qual, kind: d.Kind, receiver: sc.receiver, recvType: sc.recvType}
		if d.Receiver != "" && d.Receiver != "_" && container != "" {
			inner.receiver, inner.recvType = d.Receiver, container
		}
		x.children(node, inner, len(x.symbols)-1)
		return
	}

	if owner >= 0 {
		if name := x.lang.CallName(node, x.source); name != "" {
			x.addCall(owner, x.rewriteReceiver(name, sc))
		}
	}
	x.children(node, sc, owner)
}

func (x *extractor) children(node *sitter.Node, sc scope, owner int) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		x.walk(node.NamedChild(i), sc, owner)
	}
}

// rewriteReceiver turns `s.helper` inside `func (s *Server)` into
// `Server.helper`, which the resolver treats as a type-qualified call.
func (x *extractor) rewriteReceiver(name string, sc scope) string {
	if sc.receiver == "" {
		return name
	}
	if rest, ok := strings.CutPrefix(name, sc.receiver+"."); ok {
		return sc.recvType + "." + rest
	}
	return name
}

func (x *extractor) addCall(owner int, name string) {
	if _, dup := x.seen[owner][name]; dup {
		return
	}
	x.seen[owner][name] = struct{}{}
	x.symbols[owner].Calls = append(x.symbols[owner].Calls, name)
}

// lineRange returns the 1-based inclusive lines of node, clamped to the file.
func (x *extractor) lineRange(node *sitter.Node) (int, int) {
	start := int(node.StartPoint().Row) + 1
	end := int(node.EndPoint().Row) + 1
	if node.EndPoint().Column == 0 && end > start {
		end--
	}
	if end > x.lines {
		end = x.lines
	}
	if start > end {
		start = end
	}
	if start < 1 {
		start = 1
	}
	if end < start {
		end = start
	}
	return start, end
}
