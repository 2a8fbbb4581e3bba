// Command olut is a minimal application packaging and deployment tool.
// It bundles a source tree into a compressed archive, installs such
// archives into a versioned on-disk layout, and lets an operator
// atomically switch which installed version is "current".
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/samuel/olut/internal/olut/errs"
	"github.com/samuel/olut/internal/olut/lifecycle"
	"github.com/samuel/olut/internal/olut/store"
)

// olutVersion is stamped at build time via -ldflags; "dev" otherwise.
var olutVersion = "dev"

type command interface {
	Name() string
	Args() string
	ShortHelp() string
	LongHelp() string
	Register(*flag.FlagSet)
	Hidden() bool
	Run(*Ctx, []string) error
}

// Ctx carries the resolved dependencies every subcommand operates
// against: the install store, the lifecycle controller, and the
// loggers, the same shape as the teacher's dep.Ctx.
type Ctx struct {
	Store      *store.Store
	Lifecycle  *lifecycle.Controller
	Log        lifecycle.Loggers
	WorkingDir string
}

func main() {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to get working directory:", err)
		os.Exit(2)
	}
	c := &Config{
		Args:       os.Args,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		WorkingDir: wd,
		Env:        os.Environ(),
	}
	os.Exit(c.Run())
}

// Config specifies a full configuration for an olut execution.
type Config struct {
	WorkingDir     string
	Args           []string
	Env            []string
	Stdout, Stderr io.Writer
}

// Run executes a configuration and returns an exit code: 0 on success,
// 2 on CLI misuse, 1 on any lifecycle failure (spec section 6).
func (c *Config) Run() (exitCode int) {
	commands := []command{
		&buildCommand{},
		&installCommand{},
		&uninstallCommand{},
		&listCommand{},
		&infoCommand{},
		&activateCommand{},
		&deactivateCommand{},
		&renderCommand{},
		&versionCommand{},
	}

	if len(c.Args) >= 2 && (c.Args[1] == "-V" || c.Args[1] == "--version") {
		fmt.Fprintln(c.Stdout, olutVersion)
		return 0
	}

	outLogger := log.New(c.Stdout, "", 0)
	errLogger := log.New(c.Stderr, "", 0)

	usage := func() {
		errLogger.Println("olut is a minimal application packaging and deployment tool")
		errLogger.Println()
		// Options are parsed by the command's own flag set, so they follow
		// the command name. Only -V/--version and help arguments are
		// recognized before it; any other option there is taken as the
		// command name.
		errLogger.Println("Usage: olut <command> [options] [args...]")
		errLogger.Println()
		errLogger.Println("Commands:")
		errLogger.Println()
		w := tabwriter.NewWriter(c.Stderr, 0, 4, 2, ' ', 0)
		for _, cmd := range commands {
			if !cmd.Hidden() {
				fmt.Fprintf(w, "\t%s\t%s\n", cmd.Name(), cmd.ShortHelp())
			}
		}
		w.Flush()
		errLogger.Println()
		errLogger.Println(`Use "olut help <command>" for more information about a command.`)
	}

	cmdName, printCommandHelp, exit := parseArgs(c.Args)
	if exit {
		usage()
		return 2
	}

	for _, cmd := range commands {
		if cmd.Name() != cmdName {
			continue
		}

		fs := flag.NewFlagSet(cmdName, flag.ContinueOnError)
		fs.SetOutput(c.Stderr)
		var verbose, quiet bool
		var installPath string
		fs.BoolVar(&verbose, "v", false, "enable verbose logging")
		fs.BoolVar(&verbose, "verbose", false, "enable verbose logging")
		fs.BoolVar(&quiet, "q", false, "suppress non-error output")
		fs.BoolVar(&quiet, "quiet", false, "suppress non-error output")
		fs.StringVar(&installPath, "p", "", "install root (default: $OLUT_INSTALL_PATH or /var/lib/olut)")
		fs.StringVar(&installPath, "path", "", "install root (default: $OLUT_INSTALL_PATH or /var/lib/olut)")

		cmd.Register(fs)
		resetUsage(errLogger, fs, cmdName, cmd.Args(), cmd.LongHelp())

		if printCommandHelp {
			fs.Usage()
			return 2
		}

		if err := fs.Parse(c.Args[2:]); err != nil {
			return 2
		}

		if quiet {
			outLogger.SetOutput(io.Discard)
		}

		s, err := store.New(installPath)
		if err != nil {
			errLogger.Printf("%v\n", err)
			return 1
		}

		loggers := lifecycle.Loggers{Out: outLogger, Err: errLogger, Verbose: verbose}
		ctx := &Ctx{
			Store:      s,
			Lifecycle:  lifecycle.New(s, loggers),
			Log:        loggers,
			WorkingDir: c.WorkingDir,
		}

		if err := cmd.Run(ctx, fs.Args()); err != nil {
			errLogger.Printf("%v\n", err)
			if kind, ok := errs.KindOf(err); ok && kind == errs.CLIUsage {
				return 2
			}
			return 1
		}
		return 0
	}

	errLogger.Printf("olut: %s: no such command\n", cmdName)
	usage()
	return 2
}

func resetUsage(logger *log.Logger, fs *flag.FlagSet, name, args, longHelp string) {
	var (
		hasFlags   bool
		flagBlock  bytes.Buffer
		flagWriter = tabwriter.NewWriter(&flagBlock, 0, 4, 2, ' ', 0)
	)
	fs.VisitAll(func(f *flag.Flag) {
		hasFlags = true
		defValue := f.DefValue
		if defValue == "" {
			defValue = "<none>"
		}
		fmt.Fprintf(flagWriter, "\t-%s\t%s (default: %s)\n", f.Name, f.Usage, defValue)
	})
	flagWriter.Flush()
	fs.Usage = func() {
		logger.Printf("Usage: olut %s %s\n", name, args)
		logger.Println()
		logger.Println(strings.TrimSpace(longHelp))
		logger.Println()
		if hasFlags {
			logger.Println("Flags:")
			logger.Println()
			logger.Println(flagBlock.String())
		}
	}
}

func parseArgs(args []string) (cmdName string, printCmdUsage bool, exit bool) {
	isHelpArg := func() bool {
		return strings.Contains(strings.ToLower(args[1]), "help") || strings.ToLower(args[1]) == "-h"
	}

	switch len(args) {
	case 0, 1:
		exit = true
	case 2:
		if isHelpArg() {
			exit = true
		}
		cmdName = args[1]
	default:
		if isHelpArg() {
			cmdName = args[2]
			printCmdUsage = true
		} else {
			cmdName = args[1]
		}
	}
	return cmdName, printCmdUsage, exit
}
