// Package config holds indexer settings: built-in defaults, an optional
// .repoctx.toml at the repository root, and environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/phobologic/repoctx/internal/change"
	"github.com/phobologic/repoctx/internal/lang"
)

// FileName is the per-repository config file.
const FileName = ".repoctx.toml"

// ErrUnknownKey is returned when the config file sets a key that does not exist.
var ErrUnknownKey = errors.New("unknown config key")

// Config controls what gets indexed and how.
type Config struct {
	// Workers bounds parse and hash concurrency. Zero means GOMAXPROCS.
	Workers int `toml:"workers"`
	// MaxFileSize is the largest file, in bytes, that is parsed.
	MaxFileSize int64 `toml:"max_file_size"`
	// ParseTimeout bounds a single file's parse.
	ParseTimeout time.Duration `toml:"parse_timeout"`
	// Languages restricts indexing to these languages; empty means all.
	Languages []string `toml:"languages"`
	// ExtraIgnore names extra directories to skip.
	ExtraIgnore []string `toml:"extra_ignore"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Workers:      runtime.GOMAXPROCS(0),
		MaxFileSize:  1 << 20,
		ParseTimeout: 10 * time.Second,
	}
}

// Load returns the defaults overlaid with <root>/.repoctx.toml, when it
// exists, and with REPOCTX_* environment variables.
func Load(root string) (*Config, error) {
	cfg := Default()
	path := filepath.Join(root, FileName)

	md, err := toml.DecodeFile(path, cfg)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("decode %s: %w", path, err)
	default:
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("%s: %w: %s", path, ErrUnknownKey, strings.Join(keys, ", "))
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies environment variable overrides:
//   - REPOCTX_WORKERS: overrides workers
//   - REPOCTX_MAX_FILE_SIZE: overrides max_file_size
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv("REPOCTX_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REPOCTX_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("REPOCTX_MAX_FILE_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("REPOCTX_MAX_FILE_SIZE: %w", err)
		}
		c.MaxFileSize = n
	}
	return nil
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the settings and returns every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	if c.Workers < 0 {
		errs = append(errs, ValidationError{"workers", fmt.Sprintf("must not be negative, got %d", c.Workers)})
	}
	if c.MaxFileSize <= 0 {
		errs = append(errs, ValidationError{"max_file_size", fmt.Sprintf("must be positive, got %d", c.MaxFileSize)})
	}
	if c.ParseTimeout <= 0 {
		errs = append(errs, ValidationError{"parse_timeout", fmt.Sprintf("must be positive, got %s", c.ParseTimeout)})
	}
	for _, name := range c.Languages {
		if _, ok := lang.Languages[name]; !ok {
			errs = append(errs, ValidationError{"languages", fmt.Sprintf("unknown language %q, must be one of: %s",
				name, strings.Join(lang.Names(), ", "))})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// EffectiveWorkers resolves the zero value of Workers.
func (c *Config) EffectiveWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Digest fingerprints the settings that change index contents. Worker
// count and timeout are excluded; they affect only how fast it is built.
func (c *Config) Digest() string {
	languages := slices.Clone(c.Languages)
	slices.Sort(languages)
	ignores := slices.Clone(c.ExtraIgnore)
	slices.Sort(ignores)

	var b strings.Builder
	fmt.Fprintf(&b, "languages=%s\n", strings.Join(languages, ","))
	fmt.Fprintf(&b, "max_file_size=%d\n", c.MaxFileSize)
	fmt.Fprintf(&b, "extra_ignore=%s\n", strings.Join(ignores, ","))
	return change.Fingerprint([]byte(b.String()))
}
