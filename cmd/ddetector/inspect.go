// inspect.go implements the 'ddetector inspect' command.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/kolkov/ddetector/internal/config"
	"github.com/kolkov/ddetector/internal/replay"
	"github.com/kolkov/ddetector/internal/taint/engine"
	"github.com/kolkov/ddetector/internal/taint/regshadow"
	"github.com/kolkov/ddetector/internal/taint/shadowtemp"
	"github.com/kolkov/ddetector/internal/vex"
)

func newInspectCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [flags] <trace.yaml>",
		Short: "Step through an event trace interactively",
		Long: `Inspect loads a trace, installs its seeds and opens a prompt for stepping
through the events and querying shadow state. Type "help" for commands.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig()
			if err != nil {
				return err
			}
			in, err := o.newInspector(cfg, args[0])
			if err != nil {
				return err
			}
			defer in.close()
			return in.loop()
		},
	}
}

// inspector is the state behind the inspect prompt.
type inspector struct {
	cfg *config.Config
	s   *engine.Session
	tr  *replay.Trace
	pos int // index of the next event
	out io.Writer
	in  io.Reader
}

func (o *options) newInspector(base *config.Config, path string) (*inspector, error) {
	tr, err := replay.Load(path)
	if err != nil {
		return nil, err
	}
	cfg := *base
	tr.Apply(&cfg)
	s, err := engine.NewSession(&cfg, engine.WithLogger(o.logger(&cfg)))
	if err != nil {
		return nil, err
	}
	if err := s.Start(); err != nil {
		return nil, err
	}
	if err := replay.Install(s, tr); err != nil {
		_ = s.End()
		return nil, err
	}
	return &inspector{cfg: &cfg, s: s, tr: tr, out: o.stdout, in: o.stdin}, nil
}

func (in *inspector) close() { _ = in.s.End() }

var commands = []struct{ name, args, help string }{
	{"step", "[n]", "apply the next n events (default 1)"},
	{"run", "", "apply all remaining events"},
	{"events", "", "list events around the current position"},
	{"mem", "<addr> [size]", "taint of guest memory"},
	{"temp", "<id>", "taint of a temp"},
	{"reg", "[thread] <name|offset> [size]", "taint of a register"},
	{"window", "", "trace window state"},
	{"stats", "", "event counters"},
	{"report", "", "tainted memory report"},
	{"check", "", "evaluate the trace's expectations"},
	{"help", "", "show this help"},
	{"quit", "", "leave"},
}

func (in *inspector) loop() error {
	items := make([]readline.PrefixCompleterInterface, len(commands))
	for i, c := range commands {
		items[i] = readline.PcItem(c.name)
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ddetector> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".ddetector_history"),
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		Stdin:           io.NopCloser(in.in),
		Stdout:          in.out,
	})
	if err != nil {
		return fmt.Errorf("failed to start readline: %w", err)
	}
	defer rl.Close()

	name := in.tr.Name
	if name == "" {
		name = "trace"
	}
	fmt.Fprintf(in.out, "%s: %d events, window %s. Type \"help\" for commands.\n",
		name, len(in.tr.Events), in.s.Window())
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if err != nil {
			return nil // io.EOF
		}
		quit, err := in.exec(line)
		if err != nil {
			fmt.Fprintf(in.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// exec runs one command line.
func (in *inspector) exec(line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "step", "s":
		n := 1
		if len(args) > 0 {
			if n, err = strconv.Atoi(args[0]); err != nil || n < 1 {
				return false, fmt.Errorf("bad count %q", args[0])
			}
		}
		return false, in.step(n)
	case "run", "r":
		return false, in.step(len(in.tr.Events) - in.pos)
	case "events", "e":
		in.events()
	case "mem", "m":
		return false, in.mem(args)
	case "temp", "t":
		return false, in.temp(args)
	case "reg":
		return false, in.reg(args)
	case "window", "w":
		fmt.Fprintf(in.out, "%s (entry %s, exit %s)\n", in.s.Window(), in.cfg.EntrySymbol, in.cfg.ExitSymbol)
	case "stats":
		fmt.Fprintln(in.out, in.s.Stats())
	case "report":
		return false, writeReport(in.out, in.cfg, in.s)
	case "check":
		ms := replay.Check(in.s, in.tr)
		for _, m := range ms {
			fmt.Fprintln(in.out, m)
		}
		fmt.Fprintf(in.out, "%d expectations failed\n", len(ms))
	case "help", "h", "?":
		for _, c := range commands {
			fmt.Fprintf(in.out, "  %-7s %-32s %s\n", c.name, c.args, c.help)
		}
	case "quit", "q", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q", cmd)
	}
	return false, nil
}

func (in *inspector) step(n int) error {
	for ; n > 0; n-- {
		if in.pos >= len(in.tr.Events) {
			fmt.Fprintln(in.out, "end of trace")
			return nil
		}
		ev := in.tr.Events[in.pos]
		fmt.Fprintf(in.out, "#%d %s %+v\n", in.pos, ev.Kind(), ev)
		in.pos++
		if err := in.s.Handle(ev); err != nil {
			return err
		}
	}
	return nil
}

func (in *inspector) events() {
	from := max(in.pos-3, 0)
	to := min(in.pos+5, len(in.tr.Events))
	for i := from; i < to; i++ {
		mark := "  "
		if i == in.pos {
			mark = "->"
		}
		ev := in.tr.Events[i]
		fmt.Fprintf(in.out, "%s #%d %s %+v\n", mark, i, ev.Kind(), ev)
	}
	if in.pos == len(in.tr.Events) {
		fmt.Fprintln(in.out, "-> end of trace")
	}
}

func (in *inspector) mem(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: mem <addr> [size]")
	}
	addr, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return fmt.Errorf("bad address %q", args[0])
	}
	size := 1
	if len(args) > 1 {
		if size, err = strconv.Atoi(args[1]); err != nil || size < 1 {
			return fmt.Errorf("bad size %q", args[1])
		}
	}
	for i := 0; i < size; i++ {
		a := addr + uint64(i)
		fmt.Fprintf(in.out, "0x%x %s\n", a, in.s.Memory(a))
	}
	return nil
}

func (in *inspector) temp(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: temp <id>")
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "t"), 10, 32)
	if err != nil || id < 0 {
		return fmt.Errorf("bad temp %q", args[0])
	}
	t := shadowtemp.TempID(id)
	fmt.Fprintf(in.out, "%s %s\n", t, in.s.Temp(t))
	return nil
}

func (in *inspector) reg(args []string) error {
	tid := regshadow.ThreadID(1)
	if len(args) > 1 {
		if n, err := strconv.ParseUint(args[0], 10, 32); err == nil {
			tid = regshadow.ThreadID(n)
			args = args[1:]
		}
	}
	if len(args) == 0 {
		return errors.New("usage: reg [thread] <name|offset> [size]")
	}
	off, err := replay.ParseRegister(args[0])
	if err != nil {
		return err
	}
	size := 8
	if len(args) > 1 {
		if size, err = strconv.Atoi(args[1]); err != nil || size < 1 {
			return fmt.Errorf("bad size %q", args[1])
		}
	}
	fmt.Fprintf(in.out, "%d:%s %s\n", tid, vex.RegisterName(off), in.s.RegisterTaint(tid, off, size))
	return nil
}
