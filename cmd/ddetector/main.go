// Package main implements the ddetector CLI tool.
//
// The ddetector tool tracks data dependencies in a running program. It
// works by:
//
//  1. Loading a static x86-64 ELF executable into a guest address space
//  2. Lifting each basic block to IR and instrumenting it with taint hooks
//  3. Interpreting the instrumented blocks, self-tainting every byte a
//     read-like syscall returns
//  4. Reporting which memory depends on which input bytes
//
// Usage:
//
//	ddetector run ./prog < input      # Run a binary and report taint
//	ddetector replay trace.yaml       # Replay a recorded event trace
//	ddetector inspect trace.yaml      # Step through a trace interactively
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kolkov/ddetector/taint"
)

// exitError carries a process exit status out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	cmd := newRootCmd(os.Stdin, os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

// options holds the flags shared by every command.
type options struct {
	configPath string
	logLevel   string
	color      string
	json       bool
	maxEntries int
	extensions []string

	stdin          io.Reader
	stdout, stderr io.Writer
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	o := &options{stdin: stdin, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "ddetector",
		Short: "Dynamic data-dependency (taint) detector",
		Long: `ddetector follows input bytes through a running program.

Every byte a read-like syscall (read, pread64, recvfrom) fills becomes an
origin. Register moves, arithmetic and stores carry origins along, and the
final report lists each tainted memory range with the input bytes it depends
on. Propagation is limited to the window between the entry points of the
entry symbol (main) and the exit symbol (exit).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&o.configPath, "config", "c", "", "configuration file (YAML)")
	pf.StringVar(&o.logLevel, "log-level", "", "log level: error, warn, info, debug, trace")
	pf.StringVar(&o.color, "color", "", "report colors: auto, always, never")
	pf.BoolVar(&o.json, "json", false, "write the report as JSON")
	pf.IntVar(&o.maxEntries, "max-entries", -1, "limit ranges and clusters listed (0 = all)")
	pf.StringSliceVar(&o.extensions, "ext", nil,
		"enable propagation through: loads, stores, unary, ternary, quaternary, all")

	root.AddCommand(
		newRunCmd(o),
		newReplayCmd(o),
		newInspectCmd(o),
		newVersionCmd(o),
	)
	return root
}

func newVersionCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			info := taint.GetInfo()
			fmt.Fprintf(o.stdout, "ddetector version %s (config %s, arch %s)\n",
				info.Version, info.ConfigVersion, info.Arch)
		},
	}
}
