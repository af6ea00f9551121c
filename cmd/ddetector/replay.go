// replay.go implements the 'ddetector replay' command.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kolkov/ddetector/internal/config"
	"github.com/kolkov/ddetector/internal/replay"
	"github.com/kolkov/ddetector/internal/taint/engine"
)

func newReplayCmd(o *options) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "replay [flags] <trace.yaml>...",
		Short: "Replay recorded event traces through a fresh session",
		Long: `Replay feeds each trace's events through its own session, checks the
trace's expectations and prints the taint report.

The command fails if any event aborts its session or any expectation
does not hold.`,
		Example: `  ddetector replay testdata/endtoend.yaml
  ddetector replay --quiet traces/*.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig()
			if err != nil {
				return err
			}
			failed := 0
			for _, path := range args {
				ok, err := o.replayFile(cfg, path, quiet)
				if err != nil {
					return err
				}
				if !ok {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d traces failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only the verdict per trace")
	return cmd
}

// replayFile runs one trace and reports whether it passed.
func (o *options) replayFile(base *config.Config, path string, quiet bool) (bool, error) {
	tr, err := replay.Load(path)
	if err != nil {
		return false, err
	}
	cfg := *base
	tr.Apply(&cfg)

	s, err := engine.NewSession(&cfg, engine.WithLogger(o.logger(&cfg)))
	if err != nil {
		return false, err
	}
	if err := s.Start(); err != nil {
		return false, err
	}
	defer func() { _ = s.End() }()

	name := path
	if tr.Name != "" {
		name = fmt.Sprintf("%s (%s)", path, tr.Name)
	}

	if err := replay.Run(s, tr); err != nil {
		fmt.Fprintf(o.stdout, "FAIL %s: %v\n", name, err)
		return false, nil
	}
	mismatches := replay.Check(s, tr)
	for _, m := range mismatches {
		fmt.Fprintf(o.stdout, "  %s\n", m)
	}
	if len(mismatches) > 0 {
		fmt.Fprintf(o.stdout, "FAIL %s: %d expectations failed\n", name, len(mismatches))
		return false, nil
	}
	fmt.Fprintf(o.stdout, "ok   %s: %d events\n", name, len(tr.Events))

	if quiet {
		return true, nil
	}
	return true, writeReport(o.stdout, &cfg, s)
}
