// smalt runs compiled artifacts on the smalt runtime.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/tliron/commonlog"

	"github.com/chazu/smalt/config"
	"github.com/chazu/smalt/vm"
	"github.com/chazu/smalt/wire"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("smalt.cli")

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitFatal = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	configPath string
	verbose    bool
	dis        bool
	gcStats    bool
	entry      string
	noColor    bool
	artifacts  []string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("smalt", flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := &options{}
	fs.StringVar(&opts.configPath, "config", "", "Configuration file (default: nearest smalt.toml)")
	fs.BoolVar(&opts.verbose, "v", false, "Verbose output (debug logging)")
	fs.BoolVar(&opts.dis, "dis", false, "Print the disassembly of every installed method")
	fs.BoolVar(&opts.gcStats, "gc-stats", false, "Print collector statistics on exit")
	fs.StringVar(&opts.entry, "m", "", "Entry point as Class>>selector (class-side unary method)")
	fs.BoolVar(&opts.noColor, "no-color", false, "Disable coloured output")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: smalt [options] artifact.stb...\n\n")
		fmt.Fprintf(stderr, "Installs compiled artifacts into a fresh VM and runs an entry point.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  smalt app.stb                      # Run the artifact's own entry point\n")
		fmt.Fprintf(stderr, "  smalt app.stb -m Main>>start       # Run Main class>>start\n")
		fmt.Fprintf(stderr, "  smalt -dis lib.stb                 # Show the installed bytecode\n")
		fmt.Fprintf(stderr, "  smalt -config ci.toml -gc-stats app.stb\n")
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.artifacts = fs.Args()
	return opts, nil
}

// run is main without the process exit. A *vm.FatalError escaping the
// runtime is reported and mapped to exitFatal.
func run(args []string, stdout, stderr io.Writer) (code int) {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		return exitError
	}
	if opts.noColor {
		color.NoColor = true
	}
	errColor := color.New(color.FgRed, color.Bold)

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		errColor.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	configureLogging(cfg, opts.verbose)

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		fe, ok := r.(*vm.FatalError)
		if !ok {
			panic(r)
		}
		errColor.Fprintf(stderr, "Fatal: %v\n", fe)
		code = exitFatal
	}()

	machine := vm.NewVMWithOptions(cfg.VMOptions())
	log.Infof("vm %s started", machine.ID)

	paths := append(cfg.ArtifactPaths(), opts.artifacts...)
	entry := opts.entry
	if entry == "" {
		entry = cfg.Run.Entry
	}
	for _, path := range paths {
		a, err := wire.ReadFile(path)
		if err != nil {
			return reportLoadError(stderr, errColor, err)
		}
		inst, err := wire.Install(machine, a)
		if err != nil {
			return reportLoadError(stderr, errColor, fmt.Errorf("%s: %w", path, err))
		}
		if opts.verbose {
			fmt.Fprintf(stderr, "Installed %s: %d classes, %d methods\n", path, len(inst.Classes), len(inst.Methods))
		}
		if opts.dis {
			for _, m := range inst.Methods {
				writeListing(stdout, m.Disassemble(machine.Symbols))
			}
		}
		if opts.entry == "" && cfg.Run.Entry == "" && a.Entry != "" {
			entry = a.Entry
		}
	}

	code = exitOK
	if entry != "" {
		if err := runEntry(machine, entry, stdout); err != nil {
			var ue *vm.UnhandledError
			if errors.As(err, &ue) {
				errColor.Fprintf(stderr, "Unhandled %s: %s\n", ue.Class, ue.MessageText)
			} else {
				errColor.Fprintf(stderr, "Error: %v\n", err)
			}
			code = exitError
		}
	} else if len(paths) == 0 {
		fmt.Fprintln(stderr, "Nothing to run: no artifacts given")
		code = exitError
	}

	if opts.gcStats {
		writeGCStats(stderr, machine.GCStats())
	}
	return code
}

// reportLoadError prints an artifact failure. A bytecode version mismatch
// breaks the compiler contract and exits like any other fatal condition.
func reportLoadError(stderr io.Writer, errColor *color.Color, err error) int {
	if errors.Is(err, wire.ErrVersionMismatch) {
		errColor.Fprintf(stderr, "Fatal: %v\n", err)
		return exitFatal
	}
	errColor.Fprintf(stderr, "Error: %v\n", err)
	return exitError
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	cfg, err := config.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

func configureLogging(cfg *config.Config, verbose bool) {
	verbosity := cfg.Log.Verbosity
	if verbose {
		verbosity = 2
	}
	var path *string
	if cfg.Log.File != "" {
		path = &cfg.Log.File
	}
	commonlog.Configure(verbosity, path)
}

// runEntry sends the class-side unary selector named by entry and prints
// the result's printString.
func runEntry(machine *vm.VM, entry string, stdout io.Writer) error {
	className, selector, err := wire.SplitEntry(entry)
	if err != nil {
		return err
	}
	class := machine.ClassNamed(className)
	if class == nil {
		return fmt.Errorf("%w: %s", vm.ErrUnknownClass, className)
	}
	result, err := machine.Send(class.Object(), selector)
	if err != nil {
		return err
	}
	s, err := machine.PrintString(result)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, s)
	return nil
}

func writeGCStats(w io.Writer, s vm.GCStats) {
	label := color.New(color.FgCyan)
	row := func(name string, v interface{}) {
		label.Fprintf(w, "%-18s", name)
		fmt.Fprintf(w, " %v\n", v)
	}
	row("minor collections", s.MinorCollections)
	row("major collections", s.MajorCollections)
	row("promoted", s.Promoted)
	row("reclaimed", s.Reclaimed)
	row("weak cleared", s.WeakCleared)
	row("live objects", s.LiveObjects)
	row("young words used", s.YoungWordsUsed)
	row("old words used", fmt.Sprintf("%d / %d", s.OldWordsUsed, s.OldWordsCapacity))
	row("last pause", s.LastPause)
	row("total pause", s.TotalPause)
}
