package report

import (
	"encoding/json"
	"io"

	"github.com/kolkov/ddetector/internal/taint/engine"
)

// JSONWriter renders a Report as a JSON document.
type JSONWriter struct {
	writer io.Writer
	pretty bool
}

// JSONOption configures a JSONWriter.
type JSONOption func(*JSONWriter)

// WithPrettyJSON indents the output.
func WithPrettyJSON() JSONOption {
	return func(w *JSONWriter) { w.pretty = true }
}

// NewJSONWriter returns a JSONWriter writing to writer.
func NewJSONWriter(writer io.Writer, options ...JSONOption) *JSONWriter {
	w := &JSONWriter{writer: writer}
	for _, opt := range options {
		opt(w)
	}
	return w
}

type jsonStats struct {
	Events       map[string]uint64 `json:"events"`
	Propagated   uint64            `json:"propagated"`
	Skipped      uint64            `json:"skipped"`
	Dropped      uint64            `json:"dropped"`
	Transitions  uint64            `json:"transitions"`
	SyscallTaint uint64            `json:"syscall_tainted_bytes"`
	Pages        uint64            `json:"pages_allocated"`
}

type jsonReport struct {
	*Report
	Stats *jsonStats `json:"stats,omitempty"`
}

// Write renders r.
func (w *JSONWriter) Write(r *Report) error {
	rep := *r
	out := jsonReport{Report: &rep}
	if r.Engine != nil {
		st := r.Engine
		out.Stats = &jsonStats{
			Events:       map[string]uint64{},
			Propagated:   st.Propagated,
			Skipped:      st.Skipped,
			Dropped:      st.Dropped,
			Transitions:  st.Transitions,
			SyscallTaint: st.TaintedBytes,
			Pages:        st.PagesAllocated,
		}
		for k, c := range st.Events {
			if c != 0 {
				out.Stats.Events[engine.Kind(k).String()] = c
			}
		}
	}
	if out.Ranges == nil {
		out.Ranges = []Range{}
	}
	if out.Clusters == nil {
		out.Clusters = []Cluster{}
	}

	enc := json.NewEncoder(w.writer)
	if w.pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(out)
}
