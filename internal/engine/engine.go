// Package engine runs the incremental indexing pipeline: walk, detect
// changes, parse what changed, merge, resolve, validate and persist.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/repoctx/internal/change"
	"github.com/phobologic/repoctx/internal/config"
	"github.com/phobologic/repoctx/internal/discover"
	"github.com/phobologic/repoctx/internal/graph"
	"github.com/phobologic/repoctx/internal/model"
	"github.com/phobologic/repoctx/internal/parse"
	"github.com/phobologic/repoctx/internal/store"
	"github.com/phobologic/repoctx/internal/telemetry"
)

var tracer = otel.Tracer("repoctx.engine")

// FileError is a per-file parse failure recorded during a run.
type FileError struct {
	Path     string
	Language string
	Err      error
}

// Report summarizes one LoadOrBuild run.
type Report struct {
	Added     int
	Modified  int
	Unchanged int
	Removed   int

	// FullRebuild is set when prior state was unusable; Reason says why.
	FullRebuild bool
	Reason      string

	// Parsed counts files handed to a language adapter.
	Parsed int
	Errors []FileError

	// Written reports whether any artifact on disk was replaced.
	Written  bool
	Duration time.Duration
}

// Engine indexes one repository root. It is safe to call LoadOrBuild
// repeatedly but not concurrently.
type Engine struct {
	root        string
	cfg         *config.Config
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	registerer  prometheus.Registerer
	toolVersion string

	workers   int
	languages []string

	// feedOrder permutes the order in which parse jobs reach workers.
	feedOrder func(n int) []int
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the settings otherwise loaded from the root.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the structured logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRegisterer registers the engine's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.registerer = reg }
}

// WithWorkers overrides the configured parse concurrency.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithLanguages overrides the configured language allow-list.
func WithLanguages(names ...string) Option {
	return func(e *Engine) { e.languages = names }
}

// WithToolVersion records the producing tool's version in the metadata.
func WithToolVersion(v string) Option {
	return func(e *Engine) { e.toolVersion = v }
}

// New returns an Engine for the repository at root.
func New(root string, opts ...Option) (*Engine, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("root path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", abs)
	}

	e := &Engine{root: abs, toolVersion: "dev"}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg == nil {
		if e.cfg, err = config.Load(abs); err != nil {
			return nil, err
		}
	}
	cfg := *e.cfg
	if e.workers > 0 {
		cfg.Workers = e.workers
	}
	if e.languages != nil {
		cfg.Languages = e.languages
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	e.cfg = &cfg
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.metrics = telemetry.NewMetrics(e.registerer)
	return e, nil
}

// Root returns the absolute repository root.
func (e *Engine) Root() string { return e.root }

// Config returns the effective settings.
func (e *Engine) Config() *config.Config { return e.cfg }

// LoadOrBuild is the single entry point for collaborators: it indexes the
// repository at root, reusing prior state where possible.
func LoadOrBuild(ctx context.Context, root string, opts ...Option) (*model.Index, *Report, error) {
	e, err := New(root, opts...)
	if err != nil {
		return nil, nil, err
	}
	return e.LoadOrBuild(ctx)
}

// LoadOrBuild brings the persisted index up to date with the working tree
// and returns it. When nothing changed since the last run the stored index
// is returned without parsing or writing anything.
func (e *Engine) LoadOrBuild(ctx context.Context) (idx *model.Index, rep *Report, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "engine.LoadOrBuild", trace.WithAttributes(
		attribute.String("repo.root", e.root),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	files, err := discover.Files(e.root, discover.Options{
		Languages:   e.cfg.Languages,
		ExtraIgnore: e.cfg.ExtraIgnore,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("discovering files: %w", err)
	}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}

	entries, err := change.Fingerprints(ctx, e.root, paths, e.cfg.EffectiveWorkers())
	if err != nil {
		return nil, nil, fmt.Errorf("fingerprinting files: %w", err)
	}

	prior, plan := e.plan(entries)
	rep = &Report{
		Added:       len(plan.Added),
		Modified:    len(plan.Modified),
		Unchanged:   len(plan.Unchanged),
		Removed:     len(plan.Removed),
		FullRebuild: plan.FullRebuild,
		Reason:      plan.Reason,
	}
	e.metrics.RecordPlan(plan)
	e.logger.Info("index.plan",
		"root", e.root,
		"added", rep.Added,
		"modified", rep.Modified,
		"unchanged", rep.Unchanged,
		"removed", rep.Removed,
		"full_rebuild", rep.FullRebuild,
		"reason", rep.Reason,
	)
	span.SetAttributes(
		attribute.Int("plan.added", rep.Added),
		attribute.Int("plan.modified", rep.Modified),
		attribute.Int("plan.removed", rep.Removed),
		attribute.Bool("plan.full_rebuild", rep.FullRebuild),
	)

	if prior != nil && !plan.FullRebuild && !plan.Dirty() {
		e.metrics.RecordRun(telemetry.ModeNoop)
		e.metrics.RecordEdges(prior.Stats.Edges)
		rep.Duration = time.Since(start)
		e.logger.Debug("index.unchanged", "files", len(prior.Files))
		return prior, rep, nil
	}

	fresh, err := e.parse(ctx, files, entries, plan, rep)
	if err != nil {
		return nil, nil, err
	}

	idx, err = graph.Merge(paths, plan, prior, fresh)
	if err != nil {
		return nil, nil, err
	}
	graph.Resolve(idx)
	if err := graph.Validate(idx); err != nil {
		return nil, nil, fmt.Errorf("validating index: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	meta := &model.Metadata{
		SchemaVersion: model.SchemaVersion,
		ToolVersion:   e.toolVersion,
		ConfigDigest:  e.cfg.Digest(),
		Files:         make(map[string]model.FileMeta, len(idx.Files)),
	}
	for _, f := range idx.Files {
		meta.Files[f.Path] = model.FileMeta{Fingerprint: f.Fingerprint, Bytes: f.Bytes}
	}
	rep.Written, err = store.Save(ctx, e.root, idx, meta)
	if err != nil {
		return nil, nil, err
	}
	e.logger.Debug("store.write", "dir", store.Dir(e.root), "written", rep.Written)

	mode := telemetry.ModeIncremental
	if plan.FullRebuild {
		mode = telemetry.ModeFull
	}
	e.metrics.RecordRun(mode)
	e.metrics.RecordEdges(idx.Stats.Edges)

	rep.Duration = time.Since(start)
	e.logger.Info("index.done",
		"files", idx.Stats.FileCount,
		"symbols", idx.Stats.SymbolCount,
		"edges", idx.Stats.EdgeCount,
		"parsed", rep.Parsed,
		"errors", len(rep.Errors),
		"duration", rep.Duration,
	)
	return idx, rep, nil
}

// plan loads prior state and classifies the current files against it.
// Any reason to distrust prior state turns the run into a full rebuild.
func (e *Engine) plan(entries []change.Entry) (*model.Index, *change.Plan) {
	prior, meta, err := store.Load(e.root)
	switch {
	case errors.Is(err, store.ErrSchemaMismatch):
		e.logger.Info("index.schema_mismatch", "err", err)
		return nil, change.FullRebuild(entries, "schema version changed")
	case err != nil:
		e.logger.Warn("index.load_failed", "err", err)
		return nil, change.FullRebuild(entries, "prior index unusable: "+err.Error())
	case meta == nil:
		return nil, change.Detect(entries, nil)
	case meta.ConfigDigest != e.cfg.Digest():
		return nil, change.FullRebuild(entries, "config changed")
	case meta.ToolVersion != e.toolVersion:
		return nil, change.FullRebuild(entries, "tool version changed")
	}
	plan := change.Detect(entries, meta)
	plan.Retry(failedFiles(prior)...)
	return prior, plan
}

// failedFiles lists the files whose last parse failed. A failure may be
// transient, such as a timeout, so these are parsed again on every run.
func failedFiles(idx *model.Index) []string {
	if idx == nil {
		return nil
	}
	var paths []string
	for _, f := range idx.Files {
		if f.Error != "" {
			paths = append(paths, f.Path)
		}
	}
	return paths
}

// parse runs the language adapters over every file that is not unchanged.
// A bounded pool of workers, each with its own parser, fills a slice
// indexed by walker position, so the result never depends on completion
// order.
func (e *Engine) parse(ctx context.Context, files []discover.FileEntry, entries []change.Entry, plan *change.Plan, rep *Report) (map[string]model.ParsedFile, error) {
	var jobs []int
	for i, f := range files {
		if plan.Status(f.Path) != change.Unchanged {
			jobs = append(jobs, i)
		}
	}
	fresh := make(map[string]model.ParsedFile, len(jobs))
	if len(jobs) == 0 {
		return fresh, nil
	}

	ctx, span := tracer.Start(ctx, "engine.parse", trace.WithAttributes(
		attribute.Int("parse.files", len(jobs)),
	))
	defer span.End()

	numWorkers := min(e.cfg.EffectiveWorkers(), len(jobs))
	opts := parse.Options{MaxFileSize: e.cfg.MaxFileSize, Timeout: e.cfg.ParseTimeout}

	results := make([]model.ParsedFile, len(files))
	failures := make([]error, len(files))
	work := make(chan int)

	g, gctx := errgroup.WithContext(ctx)
	for range numWorkers {
		g.Go(func() error {
			p := parse.NewParser(opts)
			defer p.Close()
			for i := range work {
				f := files[i]
				began := time.Now()
				pf, err := p.File(gctx, e.root, f.Path, f.Language)
				var perr *parse.Error
				switch {
				case errors.As(err, &perr):
					failures[i] = perr
				case err != nil:
					return err
				}
				e.metrics.RecordParse(f.Language, time.Since(began), err != nil)
				results[i] = pf
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(work)
		order := identity(len(jobs))
		if e.feedOrder != nil {
			order = e.feedOrder(len(jobs))
		}
		for _, k := range order {
			select {
			case work <- jobs[k]:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("parsing files: %w", err)
	}

	for _, i := range jobs {
		pf := results[i]
		// The hash pass already read the file; keep its identity when the
		// parse bailed out before reading.
		if pf.Fingerprint == "" && entries[i].Fingerprint != "" {
			pf.Fingerprint = entries[i].Fingerprint
			pf.Bytes = entries[i].Bytes
		}
		fresh[pf.Path] = pf
		rep.Parsed++
		if failures[i] != nil {
			rep.Errors = append(rep.Errors, FileError{Path: pf.Path, Language: pf.Language, Err: failures[i]})
			e.logger.Warn("index.parse_error", "path", pf.Path, "language", pf.Language, "err", failures[i])
		}
	}
	span.SetAttributes(attribute.Int("parse.errors", len(rep.Errors)))
	return fresh, nil
}

func identity(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}
