package replay

import (
	"fmt"

	"github.com/kolkov/ddetector/internal/taint/engine"
	"github.com/kolkov/ddetector/internal/taint/regshadow"
	"github.com/kolkov/ddetector/internal/taint/taintset"
	"github.com/kolkov/ddetector/internal/vex"
)

// Run installs the trace's seeds into a started session and feeds it the
// events in order. It stops at the first event the session rejects.
func Run(s *engine.Session, t *Trace) error {
	if err := Install(s, t); err != nil {
		return err
	}
	for i, ev := range t.Events {
		if err := s.Handle(ev); err != nil {
			return fmt.Errorf("replay: event %d (%s): %w", i, ev.Kind(), err)
		}
	}
	return nil
}

// Install applies the trace's seeds to a started session.
func Install(s *engine.Session, t *Trace) error {
	for _, m := range t.Seed.Memory {
		for i := 0; i < m.Size; i++ {
			origin := taintset.Origin(m.Addr + uint64(i))
			if m.Origin != nil {
				origin = taintset.Origin(*m.Origin)
			}
			if err := s.TaintMemory(m.Addr+uint64(i), 1, origin); err != nil {
				return fmt.Errorf("replay: seed 0x%x: %w", m.Addr, err)
			}
		}
	}
	for _, r := range t.Seed.Registers {
		set := origins(r.Origins)
		if err := s.SetRegisterTaint(thread(r.Thread), int(r.Reg), width(r.Size), set); err != nil {
			return fmt.Errorf("replay: seed %s: %w", vex.RegisterName(int(r.Reg)), err)
		}
	}
	return nil
}

// Mismatch is a failed expectation.
type Mismatch struct {
	What string
	Want taintset.Set
	Got  taintset.Set
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: want %s, got %s", m.What, m.Want, m.Got)
}

// Check compares the session against the trace's expectations.
func Check(s *engine.Session, t *Trace) []Mismatch {
	var out []Mismatch
	for _, e := range t.Expect.Memory {
		want := origins(e.Origins)
		size := e.Size
		if size == 0 {
			size = 1
		}
		for i := 0; i < size; i++ {
			addr := e.Addr + uint64(i)
			if got := s.Memory(addr); !got.Equal(want) {
				out = append(out, Mismatch{What: fmt.Sprintf("mem 0x%x", addr), Want: want, Got: got})
			}
		}
	}
	for _, e := range t.Expect.Registers {
		want := origins(e.Origins)
		if got := s.RegisterTaint(thread(e.Thread), int(e.Reg), width(e.Size)); !got.Equal(want) {
			what := fmt.Sprintf("reg %d:%s", thread(e.Thread), vex.RegisterName(int(e.Reg)))
			out = append(out, Mismatch{What: what, Want: want, Got: got})
		}
	}
	for _, e := range t.Expect.Temps {
		want := origins(e.Origins)
		if got := s.Temp(e.Temp); !got.Equal(want) {
			out = append(out, Mismatch{What: e.Temp.String(), Want: want, Got: got})
		}
	}
	return out
}

func origins(vs []uint64) taintset.Set {
	set := taintset.Empty()
	for _, v := range vs {
		set.Insert(taintset.Origin(v))
	}
	return set
}

func width(n int) int {
	if n == 0 {
		return 8
	}
	return n
}

// thread maps the unset thread to thread 1.
func thread(t regshadow.ThreadID) regshadow.ThreadID {
	if t == 0 {
		return 1
	}
	return t
}
