package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const (
	sentinelStart = "<!-- repoctx:start -->"
	sentinelEnd   = "<!-- repoctx:end -->"
)

func newInitCmd(stdout, stderr io.Writer) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "init [path-to-CLAUDE.md]",
		Short: "Write a repoctx usage section to CLAUDE.md",
		Long: `Write a repoctx usage section to a CLAUDE.md file. The section is wrapped in
sentinel comments so it can be updated in place on subsequent runs without
touching surrounding content. Creates the file if it does not exist.

path-to-CLAUDE.md defaults to ./CLAUDE.md.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runInit(args, dryRun, stdout, stderr)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print what would be written without modifying the file")
	return cmd
}

func runInit(args []string, dryRun bool, stdout, stderr io.Writer) error {
	section := generateSection()

	// --dry-run with no path: just print the section itself.
	if dryRun && len(args) == 0 {
		_, _ = fmt.Fprintln(stdout, section)
		return nil
	}

	path := "CLAUDE.md"
	if len(args) > 0 {
		path = args[0]
	}

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	updated := applySection(string(existing), section)

	if dryRun {
		_, _ = fmt.Fprint(stdout, updated)
		return nil
	}

	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	_, _ = fmt.Fprintf(stderr, "wrote repoctx section to %s\n", path)
	return nil
}

// generateSection returns the sentinel-wrapped block that tells agents where
// the index lives and how to keep it fresh.
func generateSection() string {
	body := `## repoctx: Semantic Index

This repository keeps a semantic index in ` + "`.context/`" + `. Read it instead of
grepping for definitions or call sites.

**Refresh it** at the start of a task and after editing source files. Only
changed files are reparsed, so repeat runs are fast:
` + "```" + `bash
repoctx                          # index the current directory, print a summary
repoctx --format toon -n 20      # ranked view of the 20 most central files
repoctx --format toon --symbol parse   # one symbol with its callers and callees
repoctx watch                    # keep the index fresh while you work
` + "```" + `

**Availability:** check with ` + "`repoctx version`" + ` first; skip gracefully if
not found. All flags: ` + "`repoctx --help`" + `

**What is in ` + "`.context/context.json`" + `:**

1. ` + "`files`" + `: every indexed file with language, size, line count and any
   parse error.
2. ` + "`symbols`" + `: every function, method, class, struct, trait and module
   with its ID (` + "`path::QualifiedName#kind`" + `), signature, doc comment and
   line range.
3. ` + "`calls`" + ` and ` + "`called_by`" + ` on each symbol: outgoing edges classified as
   local, builtin, external or unresolved, and the IDs of local callers.

Edges are resolved by name, not by type checking. Treat unresolved and
ambiguous calls as leads to verify, not facts.

` + "`.context/`" + ` is generated; add it to ` + "`.gitignore`" + `.`

	return sentinelStart + "\n" + body + "\n" + sentinelEnd
}

// applySection inserts section into content, replacing an existing sentinel
// block if present or appending if not.
func applySection(content, section string) string {
	start := strings.Index(content, sentinelStart)
	end := strings.Index(content, sentinelEnd)

	if start >= 0 && end > start {
		return content[:start] + section + content[end+len(sentinelEnd):]
	}

	// Append, ensuring a blank line separator.
	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if len(content) == 0 {
		return section + "\n"
	}
	return content + "\n" + section + "\n"
}
