package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/kolkov/ddetector/internal/taint/taintset"
)

// TextWriter renders a Report for humans.
type TextWriter struct {
	writer     io.Writer
	verbose    bool
	showColor  bool
	showStats  bool
	maxEntries int
}

// TextOption configures a TextWriter.
type TextOption func(*TextWriter)

// WithVerbose lists every origin of every range instead of a count.
func WithVerbose() TextOption {
	return func(w *TextWriter) { w.verbose = true }
}

// WithColor enables ANSI colors.
func WithColor(on bool) TextOption {
	return func(w *TextWriter) { w.showColor = on }
}

// WithoutStats omits the engine counters.
func WithoutStats() TextOption {
	return func(w *TextWriter) { w.showStats = false }
}

// WithMaxEntries limits the ranges and clusters listed. Zero means no
// limit.
func WithMaxEntries(n int) TextOption {
	return func(w *TextWriter) { w.maxEntries = n }
}

// NewTextWriter returns a TextWriter writing to writer.
func NewTextWriter(writer io.Writer, options ...TextOption) *TextWriter {
	w := &TextWriter{writer: writer, showStats: true, maxEntries: 50}
	for _, opt := range options {
		opt(w)
	}
	return w
}

// Write renders r.
func (w *TextWriter) Write(r *Report) error {
	p := newPalette(w.showColor)
	var b strings.Builder

	title := "ddetector taint report"
	fmt.Fprintf(&b, "%s\n%s\n", p.bold(title), strings.Repeat("=", len(title)))

	if w.showStats && r.Engine != nil {
		st := r.Engine
		if r.Window != "" {
			fmt.Fprintf(&b, "Window: %s  ", r.Window)
		}
		fmt.Fprintf(&b, "Events: %d  Propagated: %d  Skipped: %d  Dropped: %s\n",
			st.Total(), st.Propagated, st.Skipped, w.dropped(p, st.Dropped))
	}

	s := r.Summary
	if s.TaintedBytes == 0 {
		fmt.Fprintf(&b, "\n%s\n", p.faint("No tainted memory."))
		_, err := io.WriteString(w.writer, b.String())
		return err
	}
	fmt.Fprintf(&b, "Tainted bytes: %s in %d ranges, %d distinct origins\n",
		p.red(s.TaintedBytes), s.Ranges, s.DistinctOrigins)
	fmt.Fprintf(&b, "Set size: mean %.2f  stddev %.2f  median %.0f  max %.0f\n",
		s.MeanSetSize, s.StdDevSetSize, s.MedianSetSize, s.MaxSetSize)

	fmt.Fprintf(&b, "\n%s\n", p.bold("Tainted memory:"))
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	ranges := r.Ranges
	if w.maxEntries > 0 && len(ranges) > w.maxEntries {
		ranges = ranges[:w.maxEntries]
	}
	for _, rg := range ranges {
		fmt.Fprintf(tw, "  [0x%x, 0x%x)\t%d bytes\t%s\n",
			rg.Start, rg.End, rg.Len(), p.cyan(w.origins(rg.Origins)))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if n := len(r.Ranges) - len(ranges); n > 0 {
		fmt.Fprintf(&b, "  %s\n", p.faint(fmt.Sprintf("... %d more", n)))
	}

	fmt.Fprintf(&b, "\n%s\n", p.bold("Dependency clusters:"))
	clusters := r.Clusters
	if w.maxEntries > 0 && len(clusters) > w.maxEntries {
		clusters = clusters[:w.maxEntries]
	}
	for i, c := range clusters {
		fmt.Fprintf(&b, "  #%d  %d bytes  %s\n", i+1, c.Bytes, w.origins(c.Origins))
	}
	if n := len(r.Clusters) - len(clusters); n > 0 {
		fmt.Fprintf(&b, "  %s\n", p.faint(fmt.Sprintf("... %d more", n)))
	}

	_, err := io.WriteString(w.writer, b.String())
	return err
}

func (w *TextWriter) dropped(p palette, n uint64) string {
	if n == 0 {
		return "0"
	}
	return p.yellow(n)
}

// origins formats a sorted origin list, collapsing runs of consecutive
// addresses into ranges.
func (w *TextWriter) origins(os []taintset.Origin) string {
	if !w.verbose && len(os) > 8 {
		return fmt.Sprintf("%d origins in [%s, %s]", len(os), os[0], os[len(os)-1])
	}
	var parts []string
	for i := 0; i < len(os); {
		j := i
		for j+1 < len(os) && os[j+1] == os[j]+1 {
			j++
		}
		if j == i {
			parts = append(parts, os[i].String())
		} else {
			parts = append(parts, fmt.Sprintf("%s-%s", os[i], os[j]))
		}
		i = j + 1
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
