// repoctx builds and maintains an incremental semantic index of a repository.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/phobologic/repoctx/internal/config"
	"github.com/phobologic/repoctx/internal/engine"
	"github.com/phobologic/repoctx/internal/graph"
	"github.com/phobologic/repoctx/internal/model"
	"github.com/phobologic/repoctx/internal/ranking"
	"github.com/phobologic/repoctx/internal/store"
	"github.com/phobologic/repoctx/internal/toon"
	"github.com/phobologic/repoctx/internal/watch"
)

var version = "dev"

// Process exit codes.
const (
	exitError      = 1
	exitStoreWrite = 2
	exitInvariant  = 3
)

// Output formats for the index command.
const (
	formatSummary = "summary"
	formatJSON    = "json"
	formatTOON    = "toon"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error returned by run to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, store.ErrStoreWrite):
		return exitStoreWrite
	case errors.Is(err, graph.ErrInvariant):
		return exitInvariant
	default:
		return exitError
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// globalFlags are shared by every command that builds an index.
type globalFlags struct {
	langs       []string
	workers     int
	maxFileSize int64
	verbose     bool
}

type indexFlags struct {
	format   string
	maxFiles int
	symbol   string
	file     string
	noTests  bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var g globalFlags
	var f indexFlags

	root := &cobra.Command{
		Use:           "repoctx [path]",
		Short:         "Build an incremental semantic index of a repository",
		Long:          "repoctx parses source files with tree-sitter, resolves call edges between symbols, and keeps the result in .context/ up to date, reparsing only files that changed.",
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), stdout, stderr, rootArg(args), &g, &f)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("repoctx {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringSliceVarP(&g.langs, "langs", "l", nil, "comma-separated languages to index (default: all)")
	pf.IntVar(&g.workers, "workers", 0, "parse concurrency (default: from config, else GOMAXPROCS)")
	pf.Int64Var(&g.maxFileSize, "max-file-size", 0, "skip files larger than this many bytes (default: from config)")
	pf.BoolVar(&g.verbose, "verbose", false, "enable debug logging")

	fl := root.Flags()
	fl.StringVar(&f.format, "format", formatSummary, "output format: summary|json|toon")
	fl.IntVarP(&f.maxFiles, "max-files", "n", 0, "maximum number of files in the toon view")
	fl.StringVar(&f.symbol, "symbol", "", "toon view: only symbols whose name contains this, with their callers and callees")
	fl.StringVar(&f.file, "file", "", "toon view: only files whose path contains this")
	fl.BoolVar(&f.noTests, "no-tests", false, "toon view: leave out test files")

	root.AddCommand(newWatchCmd(stdout, stderr, &g))
	root.AddCommand(newInitCmd(stdout, stderr))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(stdout, "repoctx %s\n", version)
		},
	})
	return root
}

func rootArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// newEngine loads the repository's config, overlays command-line flags,
// and returns an engine for path.
func newEngine(path string, g *globalFlags, logger *slog.Logger) (*engine.Engine, error) {
	abs, err := filepath.Abs(path)
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

	cfg, err := config.Load(abs)
	if err != nil {
		return nil, err
	}
	if g.maxFileSize > 0 {
		cfg.MaxFileSize = g.maxFileSize
	}

	opts := []engine.Option{
		engine.WithConfig(cfg),
		engine.WithLogger(logger),
		engine.WithToolVersion(version),
	}
	if g.workers > 0 {
		opts = append(opts, engine.WithWorkers(g.workers))
	}
	if len(g.langs) > 0 {
		opts = append(opts, engine.WithLanguages(g.langs...))
	}
	return engine.New(abs, opts...)
}

func runIndex(ctx context.Context, stdout, stderr io.Writer, path string, g *globalFlags, f *indexFlags) error {
	switch f.format {
	case formatSummary, formatJSON, formatTOON:
	default:
		return fmt.Errorf("unknown format %q (want summary, json or toon)", f.format)
	}

	eng, err := newEngine(path, g, newLogger(stderr, g.verbose))
	if err != nil {
		return err
	}
	idx, rep, err := eng.LoadOrBuild(ctx)
	if err != nil {
		return err
	}

	switch f.format {
	case formatJSON:
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(idx)
	case formatTOON:
		_, err := fmt.Fprintln(stdout, toon.Encode(buildView(idx, filepath.Base(eng.Root()), f)))
		return err
	default:
		return writeSummary(stdout, eng.Root(), idx, rep)
	}
}

func buildView(idx *model.Index, name string, f *indexFlags) *model.View {
	v := ranking.Build(idx, name)
	if f.noTests {
		v = ranking.ExcludeTests(v)
	}
	if f.file != "" {
		v = ranking.FilterByFile(v, f.file)
	}
	if f.symbol != "" {
		v = ranking.FilterBySymbol(v, f.symbol)
	}
	return ranking.SelectFiles(v, f.maxFiles)
}

func writeSummary(w io.Writer, root string, idx *model.Index, rep *engine.Report) error {
	s := idx.Stats
	var mode string
	switch {
	case rep.FullRebuild:
		mode = "full rebuild: " + rep.Reason
	case !rep.Written:
		mode = "up to date"
	default:
		mode = "incremental"
	}
	if _, err := fmt.Fprintf(w,
		"indexed %s (%s)\n"+
			"  files:   %d (+%d ~%d -%d =%d, parsed %d)\n"+
			"  symbols: %d\n"+
			"  edges:   %d (local %d, builtin %d, external %d, unresolved %d)\n"+
			"  index:   %s\n",
		root, mode,
		s.FileCount, rep.Added, rep.Modified, rep.Removed, rep.Unchanged, rep.Parsed,
		s.SymbolCount,
		s.EdgeCount, s.Edges.Local, s.Edges.Builtin, s.Edges.External, s.Edges.Unresolved,
		filepath.Join(store.Dir(root), store.IndexFile),
	); err != nil {
		return err
	}
	for _, fe := range rep.Errors {
		if _, err := fmt.Fprintf(w, "  error:   %s: %v\n", fe.Path, fe.Err); err != nil {
			return err
		}
	}
	return nil
}

func newWatchCmd(stdout, stderr io.Writer, g *globalFlags) *cobra.Command {
	debounce := watch.DefaultDebounce
	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Keep the index up to date as files change",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(stderr, g.verbose)
			eng, err := newEngine(rootArg(args), g, logger)
			if err != nil {
				return err
			}
			w := watch.New(eng.Root(), eng,
				watch.WithDebounce(debounce),
				watch.WithIgnore(eng.Config().ExtraIgnore),
				watch.WithLogger(logger),
				watch.OnRun(func(idx *model.Index, rep *engine.Report, err error) {
					if err == nil {
						_ = writeSummary(stdout, eng.Root(), idx, rep)
					}
				}),
			)
			return w.Run(cmd.Context())
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before a rebuild")
	return cmd
}
