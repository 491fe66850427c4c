// Package change classifies files against the metadata of the previous run.
package change

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/repoctx/internal/model"
)

// Status is the classification of one file.
type Status string

const (
	Added     Status = "added"
	Modified  Status = "modified"
	Unchanged Status = "unchanged"
	Removed   Status = "removed"
)

// Plan is the outcome of comparing the current file set with prior metadata.
// Every list is sorted by path.
type Plan struct {
	Added     []string
	Modified  []string
	Unchanged []string
	Removed   []string

	// FullRebuild is set when there was no usable prior state; Reason says why.
	FullRebuild bool
	Reason      string
}

// Status returns the classification of path, or "" if path is unknown.
func (p *Plan) Status(path string) Status {
	for _, group := range []struct {
		paths  []string
		status Status
	}{
		{p.Added, Added},
		{p.Modified, Modified},
		{p.Unchanged, Unchanged},
		{p.Removed, Removed},
	} {
		i := sort.SearchStrings(group.paths, path)
		if i < len(group.paths) && group.paths[i] == path {
			return group.status
		}
	}
	return ""
}

// Dirty reports whether any file was added, modified or removed.
func (p *Plan) Dirty() bool {
	return len(p.Added)+len(p.Modified)+len(p.Removed) > 0
}

// Retry moves the given Unchanged paths to Modified so they are parsed
// again. Paths in any other group are left alone.
func (p *Plan) Retry(paths ...string) {
	if len(paths) == 0 {
		return
	}
	retry := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		retry[path] = struct{}{}
	}
	kept := p.Unchanged[:0]
	for _, path := range p.Unchanged {
		if _, ok := retry[path]; ok {
			p.Modified = append(p.Modified, path)
			continue
		}
		kept = append(kept, path)
	}
	p.Unchanged = kept
	sort.Strings(p.Modified)
}

// Fingerprint returns the content fingerprint of a file's bytes.
func Fingerprint(content []byte) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], xxh3.Hash(content))
	return "xxh3:" + hex.EncodeToString(buf[:])
}

// Entry is a current file with its fingerprint.
type Entry struct {
	Path        string
	Fingerprint string
	Bytes       int64
	Err         error
}

// Fingerprints hashes every path under root in parallel. The result is in
// the same order as paths. A file that cannot be read gets an empty
// fingerprint and its error, which always classifies it as changed.
func Fingerprints(ctx context.Context, root string, paths []string, workers int) ([]Entry, error) {
	entries := make([]Entry, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, rel := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			entries[i] = fingerprintFile(root, rel)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func fingerprintFile(root, rel string) Entry {
	e := Entry{Path: rel}
	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		e.Err = err
		return e
	}
	e.Fingerprint = Fingerprint(content)
	e.Bytes = int64(len(content))
	return e
}

// Detect classifies current against prior. A nil prior means there is no
// usable previous state and every file is Added.
func Detect(current []Entry, prior *model.Metadata) *Plan {
	plan := &Plan{}
	if prior == nil {
		plan.FullRebuild = true
		plan.Reason = "no prior metadata"
	}

	seen := make(map[string]struct{}, len(current))
	for _, e := range current {
		seen[e.Path] = struct{}{}
		if prior == nil {
			plan.Added = append(plan.Added, e.Path)
			continue
		}
		old, ok := prior.Files[e.Path]
		switch {
		case !ok:
			plan.Added = append(plan.Added, e.Path)
		case e.Fingerprint == "" || old.Fingerprint != e.Fingerprint:
			plan.Modified = append(plan.Modified, e.Path)
		default:
			plan.Unchanged = append(plan.Unchanged, e.Path)
		}
	}
	if prior != nil {
		for path := range prior.Files {
			if _, ok := seen[path]; !ok {
				plan.Removed = append(plan.Removed, path)
			}
		}
	}

	sort.Strings(plan.Added)
	sort.Strings(plan.Modified)
	sort.Strings(plan.Unchanged)
	sort.Strings(plan.Removed)
	return plan
}

// FullRebuild is Detect with no prior state, recording why.
func FullRebuild(current []Entry, reason string) *Plan {
	plan := Detect(current, nil)
	plan.Reason = reason
	return plan
}
