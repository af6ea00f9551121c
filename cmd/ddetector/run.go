// run.go implements the 'ddetector run' command.
package main

import (
	"context"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/kolkov/ddetector/internal/guest"
	"github.com/kolkov/ddetector/internal/instrument"
	"github.com/kolkov/ddetector/internal/lift"
	"github.com/kolkov/ddetector/internal/symbols"
	"github.com/kolkov/ddetector/internal/taint/engine"
)

const (
	defaultStackTop  = 0x7ffffff00000
	defaultStackSize = 256 * guest.PageSize
)

type runOptions struct {
	input     string
	output    string
	maxSteps  uint64
	maxInsns  int
	stackSize uint64
	noWindow  bool
}

func newRunCmd(o *options) *cobra.Command {
	ro := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [flags] <executable>",
		Short: "Run a static x86-64 ELF binary and report taint",
		Long: `Run loads a static, non-PIE x86-64 ELF executable, interprets it from its
entry point and reports the tainted memory when it exits.

Guest stdin comes from --input (default: this process's stdin); guest
stdout and stderr are forwarded. Only a subset of the integer instruction
set is supported: a binary built from assembly or with -nostdlib works,
a libc binary usually stops at its first SSE or segment-relative access.`,
		Example: `  ddetector run ./parse < request.bin
  ddetector run --ext loads,stores --input request.bin ./parse
  ddetector run --no-window --json ./stripped`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd.Context(), ro, args[0])
		},
	}
	f := cmd.Flags()
	f.StringVarP(&ro.input, "input", "i", "", "file fed to the guest's stdin")
	f.StringVarP(&ro.output, "output", "o", "", "write the report to a file instead of stdout")
	f.Uint64Var(&ro.maxSteps, "max-steps", 0, "stop after this many basic blocks (0 = no limit)")
	f.IntVar(&ro.maxInsns, "max-insns", lift.DefaultMaxInsns, "instructions per translated block")
	f.Uint64Var(&ro.stackSize, "stack-size", defaultStackSize, "guest stack size in bytes")
	f.BoolVar(&ro.noWindow, "no-window", false, "track from the first instruction instead of the entry symbol")
	return cmd
}

func (o *options) run(ctx context.Context, ro *runOptions, path string) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	log := o.logger(cfg)

	syms, err := symbols.Open(path)
	switch {
	case errors.Is(err, elf.ErrNoSymbols):
		log.Warnf("%s has no symbol table; the window only opens with --no-window", path)
		syms = symbols.NewTable()
	case err != nil:
		return err
	}

	mem := guest.NewMemory()
	img, err := guest.Open(path, mem)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	log.Debugf("loaded %s: entry 0x%x, %d segments, %d symbols", path, img.Entry, len(img.Segments), syms.Len())

	s, err := engine.NewSession(cfg, engine.WithResolver(syms), engine.WithLogger(log))
	if err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return err
	}
	defer func() { _ = s.End() }()

	if ro.noWindow {
		if err := s.Handle(engine.FunctionEntry{Name: cfg.EntrySymbol}); err != nil {
			return err
		}
	}

	stdin := o.stdin
	if ro.input != "" {
		f, err := os.Open(ro.input)
		if err != nil {
			return err
		}
		defer f.Close()
		stdin = f
	}

	m := guest.New(mem,
		lift.New(lift.WithMaxInsns(ro.maxInsns), lift.WithLogger(log)),
		guest.WithSink(s),
		guest.WithInstrumenter(instrument.New(
			instrument.WithBoundaryFilter(syms),
			instrument.WithMaxTemps(cfg.MaxTemps),
			instrument.WithLogger(log),
		)),
		guest.WithStdio(stdin, o.stdout, o.stderr),
		guest.WithStepLimit(ro.maxSteps),
		guest.WithLogger(log),
	)
	m.SetPC(img.Entry)
	if err := m.SetupStack(defaultStackTop, ro.stackSize); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	runErr := m.Run(ctx)

	st := m.InstrumentStats()
	if code, ok := m.Exited(); ok {
		log.Infof("guest exited with status %d after %d blocks", code, m.Steps())
	}
	log.Infof("instrumented %d blocks, %d hooks", st.Blocks, st.Total())

	var out io.Writer = o.stdout
	if ro.output != "" {
		f, err := os.Create(ro.output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if err := writeReport(out, cfg, s); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("guest stopped at 0x%x: %w", m.PC(), runErr)
	}
	return nil
}
