package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"

	"github.com/chazu/smalt/vm"
)

func writeConfig(t *testing.T, dir, text string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(text), 0o644))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[heap]
young-words = 8192
old-words = 65536
max-old-words = 1048576
tenure-age = 2

[interpreter]
max-depth = 500
verify-caches = true

[log]
verbosity = 2
file = "smalt.log"

[run]
artifacts = ["build/main.stb", "/abs/lib.stb"]
entry = "Main>>start"
`)
	c, err := Load(dir)
	require.NoError(t, err)

	require.Equal(t, Heap{YoungWords: 8192, OldWords: 65536, MaxOldWords: 1048576, TenureAge: 2}, c.Heap)
	require.Equal(t, 500, c.Interpreter.MaxDepth)
	require.True(t, c.Interpreter.VerifyCaches)
	require.False(t, c.Interpreter.VerifyHeap)
	require.Equal(t, Log{Verbosity: 2, File: "smalt.log"}, c.Log)
	require.Equal(t, "Main>>start", c.Run.Entry)

	abs, err := filepath.Abs(dir)
	require.NoError(t, err)
	require.Equal(t, abs, c.Dir)
	require.Equal(t, []string{filepath.Join(abs, "build/main.stb"), "/abs/lib.stb"}, c.ArtifactPaths())
}

func TestVMOptions(t *testing.T) {
	c, err := Parse(`
[heap]
tenure-age = 5

[interpreter]
max-depth = 64
verify-heap = true
`)
	require.NoError(t, err)
	opts := c.VMOptions()
	def := vm.DefaultOptions()
	require.Equal(t, def.YoungWords, opts.YoungWords)
	require.Equal(t, def.OldWords, opts.OldWords)
	require.Equal(t, 5, opts.TenureAge)
	require.Equal(t, 64, opts.MaxDepth)
	require.True(t, opts.VerifyHeap)

	machine := vm.NewVMWithOptions(opts)
	require.Equal(t, 64, machine.Options().MaxDepth)
}

func TestDefaultMatchesVMDefaults(t *testing.T) {
	require.Equal(t, vm.DefaultOptions(), Default().VMOptions())
	require.NoError(t, Default().Validate())
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse(`
[heap]
young = 10

[gc]
mode = "fast"
`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "heap.young")
	require.Contains(t, err.Error(), "gc.mode")
}

func TestParseRejectsMalformedTOML(t *testing.T) {
	_, err := Parse("[heap\nyoung-words = ")
	require.ErrorContains(t, err, "parse error")
}

func TestValidateNamesEveryBadKey(t *testing.T) {
	c := &Config{
		Heap:        Heap{YoungWords: -1, OldWords: 100, MaxOldWords: 10},
		Interpreter: Interpreter{MaxDepth: -5},
		Log:         Log{Verbosity: 9},
		Run:         Run{Entry: "Main.start"},
	}
	err := c.Validate()
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	require.Len(t, merr.Errors, 5)
	for _, key := range []string{"heap.young-words", "heap.old-words", "interpreter.max-depth", "log.verbosity", "run.entry"} {
		require.Contains(t, err.Error(), key)
	}
}

func TestFindAndLoadWalksUp(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[interpreter]\nmax-depth = 77\n")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	c, err := FindAndLoad(nested)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, 77, c.Interpreter.MaxDepth)
}

func TestFindAndLoadWithoutFile(t *testing.T) {
	c, err := FindAndLoad(t.TempDir())
	require.NoError(t, err)
	if c != nil {
		// A smalt.toml above the temp directory was found; it must still
		// have been parsed.
		require.NotEmpty(t, c.Dir)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	require.ErrorIs(t, err, os.ErrNotExist)
}
