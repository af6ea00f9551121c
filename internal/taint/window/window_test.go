package window

import "testing"

// TestWindow_InitialIdle verifies the initial state.
func TestWindow_InitialIdle(t *testing.T) {
	w := New("", "")

	if w.State() != Idle || w.Tracking() {
		t.Errorf("new window state = %s, want idle", w.State())
	}
	if w.Entry() != DefaultEntry || w.Exit() != DefaultExit {
		t.Errorf("defaults = (%q, %q), want (%q, %q)", w.Entry(), w.Exit(), DefaultEntry, DefaultExit)
	}
}

// TestWindow_Transitions verifies Idle -> Tracking -> Idle.
func TestWindow_Transitions(t *testing.T) {
	w := New("main", "exit")

	steps := []struct {
		symbol string
		want   State
	}{
		{"_start", Idle},
		{"main", Tracking},
		{"helper", Tracking},
		{"main", Tracking}, // self-loop
		{"exit", Idle},
		{"exit", Idle}, // self-loop
		{"helper", Idle},
		{"main", Tracking},
	}

	for i, s := range steps {
		if got := w.Enter(s.symbol); got != s.want {
			t.Errorf("step %d Enter(%q) = %s, want %s", i, s.symbol, got, s.want)
		}
	}
}

// TestWindow_OnChange verifies the hook only fires on real transitions.
func TestWindow_OnChange(t *testing.T) {
	w := New("start", "stop")
	var log []string
	w.OnChange(func(from, to State, symbol string) {
		log = append(log, from.String()+">"+to.String()+"@"+symbol)
	})

	w.Enter("start")
	w.Enter("start")
	w.Enter("stop")
	w.Enter("stop")

	want := []string{"idle>tracking@start", "tracking>idle@stop"}
	if len(log) != len(want) {
		t.Fatalf("hook calls = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("hook[%d] = %q, want %q", i, log[i], want[i])
		}
	}
}

// TestWindow_SameSymbol verifies entry wins when both names match.
func TestWindow_SameSymbol(t *testing.T) {
	w := New("f", "f")
	if got := w.Enter("f"); got != Tracking {
		t.Errorf("Enter(f) = %s, want tracking", got)
	}
}

// TestWindow_StartStopReset verifies forced transitions.
func TestWindow_StartStopReset(t *testing.T) {
	w := New("", "")
	w.Start()
	if !w.Tracking() {
		t.Error("Start() did not enable tracking")
	}
	w.Stop()
	if w.Tracking() {
		t.Error("Stop() did not disable tracking")
	}
	w.Start()
	w.Reset()
	if w.State() != Idle {
		t.Error("Reset() did not return to idle")
	}
}

// TestState_String verifies names.
func TestState_String(t *testing.T) {
	if Idle.String() != "idle" || Tracking.String() != "tracking" {
		t.Errorf("names = %q, %q", Idle, Tracking)
	}
	if State(9).String() != "State(9)" {
		t.Errorf("unknown = %q", State(9))
	}
}
