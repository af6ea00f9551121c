package taintset

import "testing"

// TestSet_ZeroIsAbsent verifies the zero value is the absent entry.
func TestSet_ZeroIsAbsent(t *testing.T) {
	var s Set

	if !s.IsAbsent() {
		t.Error("zero Set should be absent")
	}
	if !s.IsEmpty() || s.Len() != 0 {
		t.Errorf("zero Set Len() = %d, want 0", s.Len())
	}
}

// TestEmpty_IsPresent verifies Empty() is distinct from absent.
func TestEmpty_IsPresent(t *testing.T) {
	s := Empty()

	if s.IsAbsent() {
		t.Error("Empty() should not be absent")
	}
	if !s.IsEmpty() {
		t.Errorf("Empty().Len() = %d, want 0", s.Len())
	}
	if !s.Equal(Set{}) {
		t.Error("Empty() should compare equal to the absent set")
	}
}

// TestSet_InsertIdempotent verifies repeated inserts keep one entry.
func TestSet_InsertIdempotent(t *testing.T) {
	var s Set

	if !s.Insert(0x1000) {
		t.Error("first Insert(0x1000) should report added")
	}
	for i := 0; i < 5; i++ {
		if s.Insert(0x1000) {
			t.Error("repeated Insert(0x1000) should report not added")
		}
	}

	if s.Len() != 1 {
		t.Errorf("Len() = %d after repeated inserts, want 1", s.Len())
	}
	if !s.Contains(0x1000) {
		t.Error("Contains(0x1000) = false, want true")
	}
}

// TestSet_InsertKeepsOrder verifies origins come back sorted.
func TestSet_InsertKeepsOrder(t *testing.T) {
	var s Set
	for _, o := range []Origin{0x30, 0x10, 0x20, 0x10, 0x40, 0x00} {
		s.Insert(o)
	}

	got := s.Origins()
	want := []Origin{0x00, 0x10, 0x20, 0x30, 0x40}
	if len(got) != len(want) {
		t.Fatalf("Origins() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Origins()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

// TestMerge_CopySemantics verifies src is untouched and not aliased.
func TestMerge_CopySemantics(t *testing.T) {
	src := Of(0x1, 0x2)
	var dst Set

	Merge(&dst, src)
	dst.Insert(0x3)

	if src.Len() != 2 || src.Contains(0x3) {
		t.Errorf("src mutated by later insert into dst: %s", src)
	}
	if !dst.Equal(Of(0x1, 0x2, 0x3)) {
		t.Errorf("dst = %s, want {0x1, 0x2, 0x3}", dst)
	}
}

// TestMerge_Union verifies merge of overlapping sets.
func TestMerge_Union(t *testing.T) {
	dst := Of(0x1, 0x3, 0x5)
	src := Of(0x2, 0x3, 0x6)

	Merge(&dst, src)

	want := Of(0x1, 0x2, 0x3, 0x5, 0x6)
	if !dst.Equal(want) {
		t.Errorf("Merge result = %s, want %s", dst, want)
	}
	if !src.Equal(Of(0x2, 0x3, 0x6)) {
		t.Errorf("src changed to %s", src)
	}
}

// TestMerge_AbsentAndEmpty verifies presence rules of merge.
func TestMerge_AbsentAndEmpty(t *testing.T) {
	var dst Set
	Merge(&dst, Set{})
	if !dst.IsAbsent() {
		t.Error("merging absent into absent should stay absent")
	}

	Merge(&dst, Empty())
	if dst.IsAbsent() {
		t.Error("merging Empty() should make dst present")
	}
	if !dst.IsEmpty() {
		t.Errorf("dst = %s, want {}", dst)
	}
}

// TestUnion_LeavesInputs verifies Union allocates a fresh result.
func TestUnion_LeavesInputs(t *testing.T) {
	a := Of(0x1000)
	b := Of(0x2000)

	u := Union(a, b)
	u.Insert(0x3000)

	if a.Len() != 1 || b.Len() != 1 {
		t.Errorf("inputs mutated: a=%s b=%s", a, b)
	}
	if !u.Equal(Of(0x1000, 0x2000, 0x3000)) {
		t.Errorf("Union = %s", u)
	}
}

// TestSet_Clone verifies Clone preserves absence and independence.
func TestSet_Clone(t *testing.T) {
	var absent Set
	if !absent.Clone().IsAbsent() {
		t.Error("Clone of absent should be absent")
	}

	s := Of(0x10)
	c := s.Clone()
	c.Insert(0x20)
	if s.Contains(0x20) {
		t.Error("Clone shares backing array with original")
	}
}

// TestSet_String verifies formatting.
func TestSet_String(t *testing.T) {
	tests := []struct {
		set  Set
		want string
	}{
		{Set{}, "{}"},
		{Empty(), "{}"},
		{Of(0x1000), "{0x1000}"},
		{Of(0x1001, 0x1000), "{0x1000, 0x1001}"},
	}

	for _, tt := range tests {
		if got := tt.set.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

// TestSet_ForEachStops verifies early termination.
func TestSet_ForEachStops(t *testing.T) {
	s := Of(1, 2, 3, 4)
	var seen []Origin
	s.ForEach(func(o Origin) bool {
		seen = append(seen, o)
		return o < 2
	})

	if len(seen) != 2 {
		t.Errorf("ForEach visited %v, want [1 2]", seen)
	}
}

func BenchmarkSet_Insert(b *testing.B) {
	var s Set
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		s.Insert(Origin(i & 0xFF))
	}
}

func BenchmarkMerge_Large(b *testing.B) {
	src := Set{}
	for i := 0; i < 256; i += 2 {
		src.Insert(Origin(i))
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dst := Of(1, 3, 5, 7)
		Merge(&dst, src)
	}
}
