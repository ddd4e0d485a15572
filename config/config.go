// Package config handles smalt.toml runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"

	"github.com/chazu/smalt/vm"
)

// FileName is the configuration file Load and FindAndLoad look for.
const FileName = "smalt.toml"

// Config represents a smalt.toml file. Zero heap and interpreter values
// mean "use the VM default".
type Config struct {
	Heap        Heap        `toml:"heap"`
	Interpreter Interpreter `toml:"interpreter"`
	Log         Log         `toml:"log"`
	Run         Run         `toml:"run"`

	// Dir is the directory containing the file (set at load time).
	Dir string `toml:"-"`
}

// Heap sizes the object store. Sizes are in words.
type Heap struct {
	YoungWords  int `toml:"young-words"`
	OldWords    int `toml:"old-words"`
	MaxOldWords int `toml:"max-old-words"`
	TenureAge   int `toml:"tenure-age"`
}

// Interpreter bounds execution and enables self-checks.
type Interpreter struct {
	MaxDepth     int  `toml:"max-depth"`
	VerifyCaches bool `toml:"verify-caches"`
	VerifyHeap   bool `toml:"verify-heap"`
}

// Log configures the commonlog backend.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Run names the artifacts to load and the entry point to start.
type Run struct {
	Artifacts []string `toml:"artifacts"`
	Entry     string   `toml:"entry"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{}
}

// Load parses smalt.toml from dir.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses the configuration file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates configuration text. Keys the schema does not
// know are errors.
func Parse(text string) (*Config, error) {
	c := Default()
	md, err := toml.Decode(text, c)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	var errs *multierror.Error
	for _, key := range md.Undecoded() {
		errs = multierror.Append(errs, fmt.Errorf("unknown key %s", key))
	}
	if err := c.Validate(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a smalt.toml file, then loads
// it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Validate reports every out-of-range setting by its key.
func (c *Config) Validate() error {
	var errs *multierror.Error
	nonNegative := func(key string, v int) {
		if v < 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s must not be negative, got %d", key, v))
		}
	}
	nonNegative("heap.young-words", c.Heap.YoungWords)
	nonNegative("heap.old-words", c.Heap.OldWords)
	nonNegative("heap.max-old-words", c.Heap.MaxOldWords)
	nonNegative("heap.tenure-age", c.Heap.TenureAge)
	nonNegative("interpreter.max-depth", c.Interpreter.MaxDepth)

	if c.Heap.MaxOldWords > 0 && c.Heap.OldWords > c.Heap.MaxOldWords {
		errs = multierror.Append(errs, fmt.Errorf("heap.old-words (%d) exceeds heap.max-old-words (%d)",
			c.Heap.OldWords, c.Heap.MaxOldWords))
	}
	if c.Log.Verbosity < -4 || c.Log.Verbosity > 2 {
		errs = multierror.Append(errs, fmt.Errorf("log.verbosity must be between -4 and 2, got %d", c.Log.Verbosity))
	}
	if c.Run.Entry != "" && !strings.Contains(c.Run.Entry, ">>") {
		errs = multierror.Append(errs, fmt.Errorf("run.entry %q is not of the form Class>>selector", c.Run.Entry))
	}
	return errs.ErrorOrNil()
}

// VMOptions maps the configuration onto vm.Options. Unset values keep
// their defaults.
func (c *Config) VMOptions() vm.Options {
	opts := vm.DefaultOptions()
	set := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	set(&opts.YoungWords, c.Heap.YoungWords)
	set(&opts.OldWords, c.Heap.OldWords)
	set(&opts.MaxOldWords, c.Heap.MaxOldWords)
	set(&opts.TenureAge, c.Heap.TenureAge)
	set(&opts.MaxDepth, c.Interpreter.MaxDepth)
	opts.VerifyCaches = c.Interpreter.VerifyCaches
	opts.VerifyHeap = c.Interpreter.VerifyHeap
	return opts
}

// ArtifactPaths returns the configured artifacts resolved against Dir.
func (c *Config) ArtifactPaths() []string {
	paths := make([]string, 0, len(c.Run.Artifacts))
	for _, p := range c.Run.Artifacts {
		if !filepath.IsAbs(p) && c.Dir != "" {
			p = filepath.Join(c.Dir, p)
		}
		paths = append(paths, p)
	}
	return paths
}
