package shadowtemp

import (
	"errors"
	"testing"

	"github.com/kolkov/ddetector/internal/taint/taintset"
)

// TestTable_RoundTrip verifies Set followed by Get returns exactly S.
func TestTable_RoundTrip(t *testing.T) {
	tb := New(16)
	s := taintset.Of(0x1000, 0x2000)

	if err := tb.Set(3, s); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	if got := tb.Get(3); !got.Equal(s) {
		t.Errorf("Get(t3) = %s, want %s", got, s)
	}
}

// TestTable_Replace verifies Set replaces instead of merging.
func TestTable_Replace(t *testing.T) {
	tb := New(16)
	_ = tb.Set(1, taintset.Of(0x1))
	_ = tb.Set(1, taintset.Of(0x2))

	if got := tb.Get(1); !got.Equal(taintset.Of(0x2)) {
		t.Errorf("Get(t1) = %s, want {0x2}", got)
	}
}

// TestTable_Invalid verifies the sentinel temp.
func TestTable_Invalid(t *testing.T) {
	tb := New(4)

	if err := tb.Set(Invalid, taintset.Of(0x1)); err != nil {
		t.Errorf("Set(Invalid) error = %v, want nil", err)
	}
	if !tb.Get(Invalid).IsEmpty() {
		t.Errorf("Get(Invalid) = %s, want empty", tb.Get(Invalid))
	}
}

// TestTable_NeverWritten verifies unwritten temps are absent.
func TestTable_NeverWritten(t *testing.T) {
	tb := New(4)
	if !tb.Get(2).IsAbsent() {
		t.Error("Get() of never-written temp should be absent")
	}
}

// TestTable_AbsentBecomesEmpty verifies assigning no provenance marks the temp observed.
func TestTable_AbsentBecomesEmpty(t *testing.T) {
	tb := New(4)
	_ = tb.Set(0, taintset.Set{})

	got := tb.Get(0)
	if got.IsAbsent() || !got.IsEmpty() {
		t.Errorf("Get(t0) = %s (absent=%v), want present empty", got, got.IsAbsent())
	}
}

// TestTable_OutOfRange verifies range checks.
func TestTable_OutOfRange(t *testing.T) {
	tb := New(4)

	err := tb.Set(4, taintset.Of(1))
	var re *RangeError
	if !errors.As(err, &re) {
		t.Fatalf("Set(t4) error = %v, want *RangeError", err)
	}
	if re.Max != 4 {
		t.Errorf("RangeError.Max = %d, want 4", re.Max)
	}
	if !tb.Get(100).IsEmpty() {
		t.Error("Get() out of range should be empty")
	}
}

// TestTable_SetCopies verifies the stored set is not aliased with the argument.
func TestTable_SetCopies(t *testing.T) {
	tb := New(4)
	s := taintset.Of(0x1)
	_ = tb.Set(0, s)

	s.Insert(0x2)

	if tb.Get(0).Contains(0x2) {
		t.Error("table aliases the caller's set")
	}
}

// TestTable_ReuseAcrossBlocks verifies entries persist until reassigned.
func TestTable_ReuseAcrossBlocks(t *testing.T) {
	tb := New(8)

	// Block A.
	_ = tb.Set(5, taintset.Of(0xA))
	// Block B reassigns t5 before reading it.
	_ = tb.Set(5, taintset.Of(0xB))

	if got := tb.Get(5); !got.Equal(taintset.Of(0xB)) {
		t.Errorf("Get(t5) = %s, want {0xb}", got)
	}
}

// TestNew_Default verifies the default capacity.
func TestNew_Default(t *testing.T) {
	if c := New(0).Cap(); c != DefaultMaxTemps {
		t.Errorf("New(0).Cap() = %d, want %d", c, DefaultMaxTemps)
	}
}

// TestTempID_String verifies formatting.
func TestTempID_String(t *testing.T) {
	if s := TempID(7).String(); s != "t7" {
		t.Errorf("String() = %q, want t7", s)
	}
	if s := Invalid.String(); s != "t<invalid>" {
		t.Errorf("Invalid.String() = %q", s)
	}
}
