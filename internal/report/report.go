// Package report summarizes the shadow memory of a taint session.
//
// A Report groups tainted bytes into ranges of consecutive addresses that
// share one taint set, groups origins into dependency clusters (origins
// that ever flowed into the same byte), and computes set size statistics.
// TextWriter and JSONWriter render it.
package report

import (
	"github.com/yourbasic/graph"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/kolkov/ddetector/internal/taint/engine"
	"github.com/kolkov/ddetector/internal/taint/taintset"
)

// Source enumerates tainted bytes in address order. *engine.Session
// implements it.
type Source interface {
	ForEachMemory(fn func(addr uint64, set taintset.Set) bool)
}

// Range is a run of consecutive bytes with the same taint set.
type Range struct {
	Start   uint64            `json:"start"`
	End     uint64            `json:"end"` // exclusive
	Origins []taintset.Origin `json:"origins"`
}

// Len returns the number of bytes in r.
func (r Range) Len() uint64 { return r.End - r.Start }

// Cluster is a set of origins connected through shared taint sets.
type Cluster struct {
	Origins []taintset.Origin `json:"origins"`
	Bytes   int               `json:"bytes"` // tainted bytes depending on the cluster
}

// Summary holds aggregate numbers.
type Summary struct {
	TaintedBytes    int     `json:"tainted_bytes"`
	Ranges          int     `json:"ranges"`
	DistinctOrigins int     `json:"distinct_origins"`
	MeanSetSize     float64 `json:"mean_set_size"`
	StdDevSetSize   float64 `json:"stddev_set_size"`
	MedianSetSize   float64 `json:"median_set_size"`
	MaxSetSize      float64 `json:"max_set_size"`
}

// Report is the result of Build.
type Report struct {
	Summary  Summary       `json:"summary"`
	Ranges   []Range       `json:"ranges"`
	Clusters []Cluster     `json:"clusters"`
	Engine   *engine.Stats `json:"-"`
	Window   string        `json:"window,omitempty"`
}

// Build reads every tainted byte of src.
func Build(src Source) *Report {
	r := &Report{}
	var sizes []float64
	index := map[taintset.Origin]int{}
	var origins []taintset.Origin
	var sets [][]taintset.Origin // one per byte, for clustering

	src.ForEachMemory(func(addr uint64, set taintset.Set) bool {
		if set.IsEmpty() {
			return true
		}
		os := set.Origins()
		sizes = append(sizes, float64(len(os)))
		sets = append(sets, os)
		for _, o := range os {
			if _, ok := index[o]; !ok {
				index[o] = len(origins)
				origins = append(origins, o)
			}
		}

		if n := len(r.Ranges); n > 0 && r.Ranges[n-1].End == addr && slices.Equal(r.Ranges[n-1].Origins, os) {
			r.Ranges[n-1].End++
			return true
		}
		r.Ranges = append(r.Ranges, Range{Start: addr, End: addr + 1, Origins: os})
		return true
	})

	r.Clusters = clusters(origins, index, sets)
	r.Summary = summarize(sizes)
	r.Summary.Ranges = len(r.Ranges)
	r.Summary.DistinctOrigins = len(origins)
	return r
}

// clusters returns the connected components of the graph whose nodes are
// origins and whose edges join origins found in the same set.
func clusters(origins []taintset.Origin, index map[taintset.Origin]int, sets [][]taintset.Origin) []Cluster {
	if len(origins) == 0 {
		return nil
	}
	g := graph.New(len(origins))
	for _, os := range sets {
		for i := 1; i < len(os); i++ {
			g.AddBoth(index[os[i-1]], index[os[i]])
		}
	}

	comps := graph.Components(g)
	component := make([]int, len(origins))
	out := make([]Cluster, len(comps))
	for ci, comp := range comps {
		for _, v := range comp {
			component[v] = ci
			out[ci].Origins = append(out[ci].Origins, origins[v])
		}
		slices.Sort(out[ci].Origins)
	}
	for _, os := range sets {
		out[component[index[os[0]]]].Bytes++
	}

	slices.SortFunc(out, func(a, b Cluster) int {
		if a.Bytes != b.Bytes {
			return b.Bytes - a.Bytes
		}
		switch {
		case a.Origins[0] < b.Origins[0]:
			return -1
		case a.Origins[0] > b.Origins[0]:
			return 1
		}
		return 0
	})
	return out
}

func summarize(sizes []float64) Summary {
	s := Summary{TaintedBytes: len(sizes)}
	if len(sizes) == 0 {
		return s
	}
	s.MaxSetSize = floats.Max(sizes)
	if len(sizes) > 1 {
		s.MeanSetSize, s.StdDevSetSize = stat.MeanStdDev(sizes, nil)
	} else {
		s.MeanSetSize = sizes[0]
	}
	sorted := append([]float64(nil), sizes...)
	slices.Sort(sorted)
	s.MedianSetSize = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	return s
}
