// Package store persists the index and its change-detection metadata
// under <root>/.context.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/phobologic/repoctx/internal/change"
	"github.com/phobologic/repoctx/internal/discover"
	"github.com/phobologic/repoctx/internal/model"
)

const (
	// IndexFile holds the serialized model.Index.
	IndexFile = "context.json"
	// MetaFile holds the serialized model.Metadata.
	MetaFile = "meta.json"

	filePerm = 0o644
	dirPerm  = 0o755
)

var (
	// ErrCorruptMetadata means an artifact exists but cannot be decoded.
	ErrCorruptMetadata = errors.New("corrupt index metadata")
	// ErrSchemaMismatch means an artifact was written with another schema version.
	ErrSchemaMismatch = errors.New("index schema version mismatch")
	// ErrDigestMismatch means the index bytes do not match the digest
	// recorded in the metadata, as after a crash between the two writes.
	ErrDigestMismatch = errors.New("index digest mismatch")
	// ErrStoreWrite is matched by every *WriteError.
	ErrStoreWrite = errors.New("store write failed")
)

var tracer = otel.Tracer("repoctx.store")

// WriteError describes a failed step while persisting an artifact.
type WriteError struct {
	Path string
	Op   string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Is makes every WriteError match ErrStoreWrite.
func (e *WriteError) Is(target error) bool { return target == ErrStoreWrite }

// Dir returns the artifact directory for a repository root.
func Dir(root string) string {
	return filepath.Join(root, discover.IndexDir)
}

// Load reads the persisted index and metadata. It returns all nils when
// nothing has been stored yet.
func Load(root string) (*model.Index, *model.Metadata, error) {
	dir := Dir(root)
	metaBytes, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if errors.Is(err, fs.ErrNotExist) {
		if _, statErr := os.Stat(filepath.Join(dir, IndexFile)); statErr == nil {
			return nil, nil, fmt.Errorf("%w: %s missing", ErrCorruptMetadata, MetaFile)
		}
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptMetadata, err)
	}

	var meta model.Metadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrCorruptMetadata, MetaFile, err)
	}
	if meta.SchemaVersion != model.SchemaVersion {
		return nil, nil, fmt.Errorf("%w: metadata has version %d, want %d",
			ErrSchemaMismatch, meta.SchemaVersion, model.SchemaVersion)
	}

	indexBytes, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDigestMismatch, err)
	}
	if got := change.Fingerprint(indexBytes); got != meta.IndexDigest {
		return nil, nil, fmt.Errorf("%w: %s is %s, metadata records %s",
			ErrDigestMismatch, IndexFile, got, meta.IndexDigest)
	}

	var idx model.Index
	if err := json.Unmarshal(indexBytes, &idx); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrCorruptMetadata, IndexFile, err)
	}
	if idx.SchemaVersion != model.SchemaVersion {
		return nil, nil, fmt.Errorf("%w: index has version %d, want %d",
			ErrSchemaMismatch, idx.SchemaVersion, model.SchemaVersion)
	}
	idx.Normalize()
	if meta.Files == nil {
		meta.Files = map[string]model.FileMeta{}
	}
	return &idx, &meta, nil
}

// Save writes the index and then the metadata, each atomically. The
// metadata records the digest of the index bytes. A file whose bytes are
// unchanged on disk is left alone; written reports whether anything was
// replaced.
func Save(ctx context.Context, root string, idx *model.Index, meta *model.Metadata) (written bool, err error) {
	_, span := tracer.Start(ctx, "store.Save")
	defer func() {
		span.SetAttributes(attribute.Bool("store.written", written))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	dir := Dir(root)
	idx.Normalize()
	indexBytes, err := encode(idx)
	if err != nil {
		return false, &WriteError{Path: filepath.Join(dir, IndexFile), Op: "encode", Err: err}
	}
	meta.SchemaVersion = model.SchemaVersion
	meta.IndexDigest = change.Fingerprint(indexBytes)
	if meta.Files == nil {
		meta.Files = map[string]model.FileMeta{}
	}
	metaBytes, err := encode(meta)
	if err != nil {
		return false, &WriteError{Path: filepath.Join(dir, MetaFile), Op: "encode", Err: err}
	}

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return false, &WriteError{Path: dir, Op: "mkdir", Err: err}
	}
	for _, a := range []struct {
		name string
		data []byte
	}{
		{IndexFile, indexBytes},
		{MetaFile, metaBytes},
	} {
		path := filepath.Join(dir, a.name)
		if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, a.data) {
			continue
		}
		if err := writeAtomic(path, a.data); err != nil {
			return written, err
		}
		written = true
	}
	return written, nil
}

// encode renders v as two-space indented JSON with a trailing newline.
func encode(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// writeAtomic replaces path through a synced temporary file in the same
// directory, so readers see either the old or the new contents.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &WriteError{Path: path, Op: "create", Err: err}
	}
	tmpPath := tmp.Name()
	fail := func(op string, err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return &WriteError{Path: path, Op: op, Err: err}
	}

	if _, err := tmp.Write(data); err != nil {
		return fail("write", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return &WriteError{Path: path, Op: "close", Err: err}
	}
	if err := os.Chmod(tmpPath, filePerm); err != nil {
		_ = os.Remove(tmpPath)
		return &WriteError{Path: path, Op: "chmod", Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return &WriteError{Path: path, Op: "rename", Err: err}
	}
	return nil
}
