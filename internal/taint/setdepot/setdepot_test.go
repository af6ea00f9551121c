package setdepot

import (
	"testing"

	"github.com/kolkov/ddetector/internal/taint/taintset"
)

// TestDepot_InternLookup tests basic intern and retrieval.
func TestDepot_InternLookup(t *testing.T) {
	d := New()
	s := taintset.Of(0x1000, 0x1001)

	h := d.Intern(s)
	if h == None {
		t.Fatal("Intern returned None for a non-empty set")
	}

	got := d.Lookup(h)
	if !got.Equal(s) {
		t.Errorf("Lookup(%d) = %s, want %s", h, got, s)
	}
}

// TestDepot_Deduplication tests that equal sets share a handle.
func TestDepot_Deduplication(t *testing.T) {
	d := New()

	h1 := d.Intern(taintset.Of(0x1, 0x2))
	h2 := d.Intern(taintset.Of(0x2, 0x1))
	h3 := d.Intern(taintset.Of(0x3))

	if h1 != h2 {
		t.Errorf("equal sets got different handles: %d vs %d", h1, h2)
	}
	if h1 == h3 {
		t.Error("different sets share a handle")
	}
	if d.Len() != 2 {
		t.Errorf("Len() = %d, want 2", d.Len())
	}
}

// TestDepot_EmptyIsNone tests that empty and absent sets need no storage.
func TestDepot_EmptyIsNone(t *testing.T) {
	d := New()

	if h := d.Intern(taintset.Set{}); h != None {
		t.Errorf("Intern(absent) = %d, want None", h)
	}
	if h := d.Intern(taintset.Empty()); h != None {
		t.Errorf("Intern(empty) = %d, want None", h)
	}
	if d.Len() != 0 {
		t.Errorf("Len() = %d, want 0", d.Len())
	}
	if !d.Lookup(None).IsEmpty() {
		t.Error("Lookup(None) should be empty")
	}
}

// TestDepot_InternCopies tests the depot does not alias the caller's set.
func TestDepot_InternCopies(t *testing.T) {
	d := New()
	s := taintset.Of(0x1)
	h := d.Intern(s)

	s.Insert(0x2)

	if d.Lookup(h).Contains(0x2) {
		t.Error("interned set changed after caller mutation")
	}
}

// TestDepot_UnknownHandle tests lookups of handles never issued.
func TestDepot_UnknownHandle(t *testing.T) {
	d := New()
	if d.Known(42) {
		t.Error("Known(42) = true on empty depot")
	}
	if !d.Lookup(42).IsAbsent() {
		t.Error("Lookup(42) should be absent")
	}
}

// TestDepot_Release tests that Release forgets all sets.
func TestDepot_Release(t *testing.T) {
	d := New()
	h := d.Intern(taintset.Of(0x1))

	d.Release()

	if d.Len() != 0 || d.Known(h) {
		t.Errorf("depot still holds handle %d after Release", h)
	}
	if h2 := d.Intern(taintset.Of(0x1)); h2 != 1 {
		t.Errorf("first handle after Release = %d, want 1", h2)
	}
}

// TestDepot_Stats tests counting.
func TestDepot_Stats(t *testing.T) {
	d := New()
	d.Intern(taintset.Of(1, 2, 3))
	d.Intern(taintset.Of(4))

	sets, origins := d.Stats()
	if sets != 2 || origins != 4 {
		t.Errorf("Stats() = (%d, %d), want (2, 4)", sets, origins)
	}
}

// TestPutGet tests handle encoding.
func TestPutGet(t *testing.T) {
	var buf [HandleSize]byte
	Put(buf[:], 0x0102030405060708)

	if buf[0] != 0x08 || buf[7] != 0x01 {
		t.Errorf("Put encoded % x, want little endian", buf)
	}
	if h := Get(buf[:]); h != 0x0102030405060708 {
		t.Errorf("Get() = 0x%x", h)
	}
	if h := Get([]byte{0x05}); h != 5 {
		t.Errorf("Get(short) = %d, want 5", h)
	}
	if h := Get(make([]byte, HandleSize)); h != None {
		t.Errorf("Get(zeroed) = %d, want None", h)
	}
}

func BenchmarkDepot_InternHit(b *testing.B) {
	d := New()
	s := taintset.Of(0x1000, 0x1001, 0x1002, 0x1003)
	d.Intern(s)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Intern(s)
	}
}
