package shadowmem

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/kolkov/ddetector/internal/taint/taintset"
)

// ErrPageBudget is returned by Set when allocating a new page would exceed
// the configured page budget.
var ErrPageBudget = errors.New("shadowmem: page budget exhausted")

// ErrAddressRange is returned by Set for an address wider than the geometry.
var ErrAddressRange = errors.New("shadowmem: address outside geometry")

// maxDenseSlots is the largest top-level table kept as a dense slice.
// 2^20 slots of 8-byte pointers is 8MB of up-front allocation.
const maxDenseSlots = 1 << 20

// Geometry describes how an address splits into top-level index and page offset.
type Geometry struct {
	// AddrBits is the guest address width in bits (32 or 64).
	AddrBits uint
	// PageBits is the number of low address bits indexing inside a page.
	PageBits uint
}

var (
	// Geometry32 is the 64K x 64K layout for 32-bit guests.
	Geometry32 = Geometry{AddrBits: 32, PageBits: 16}
	// Geometry64 uses 4K-entry pages under a sparse top level.
	Geometry64 = Geometry{AddrBits: 64, PageBits: 12}
)

// ForArch returns the geometry for a GOARCH-style architecture name.
func ForArch(arch string) (Geometry, error) {
	switch arch {
	case "386", "arm", "mips", "mipsle", "x86":
		return Geometry32, nil
	case "amd64", "arm64", "riscv64", "ppc64", "ppc64le", "mips64", "mips64le", "x86_64":
		return Geometry64, nil
	default:
		return Geometry{}, fmt.Errorf("shadowmem: unknown architecture %q", arch)
	}
}

// PageSize returns the number of entries per page.
func (g Geometry) PageSize() uint64 {
	return 1 << g.PageBits
}

// TopSlots returns the number of top-level slots.
func (g Geometry) TopSlots() uint64 {
	if g.AddrBits-g.PageBits >= 64 {
		return 0
	}
	return 1 << (g.AddrBits - g.PageBits)
}

// dense reports whether the top level fits a dense slice.
func (g Geometry) dense() bool {
	slots := g.TopSlots()
	return slots != 0 && slots <= maxDenseSlots
}

// split returns the top-level index and page offset of addr.
//
//go:nosplit
func (g Geometry) split(addr uint64) (top, off uint64) {
	return addr >> g.PageBits, addr & (g.PageSize() - 1)
}

// inRange reports whether addr fits in AddrBits.
func (g Geometry) inRange(addr uint64) bool {
	return g.AddrBits >= 64 || addr>>g.AddrBits == 0
}

// page is a dense second-level array. Every entry starts absent.
type page struct {
	sets []taintset.Set
}

func newPage(size uint64) *page {
	return &page{sets: make([]taintset.Set, size)}
}

// ShadowMemory maps guest addresses to taint sets.
//
// Memory layout:
//   - Top level: dense []*page (32-bit) or map[uint64]*page (64-bit)
//   - Page: PageSize() × 24-byte taintset.Set headers
//   - For Geometry32 one page is 1.5MB, for Geometry64 96KB
//
// A lookup whose page is absent returns the absent set without allocating.
type ShadowMemory struct {
	geom   Geometry
	dense  []*page
	sparse map[uint64]*page

	pages  int
	budget int // max pages, 0 = unlimited

	// onAlloc, if set, is called after every page allocation.
	onAlloc func(top uint64, pages int)
}

// Option configures a ShadowMemory.
type Option func(*ShadowMemory)

// WithPageBudget limits the number of pages Set may allocate. Zero or
// negative means unlimited.
func WithPageBudget(n int) Option {
	return func(sm *ShadowMemory) {
		if n > 0 {
			sm.budget = n
		}
	}
}

// WithAllocHook registers a callback run after each page allocation.
func WithAllocHook(fn func(top uint64, pages int)) Option {
	return func(sm *ShadowMemory) {
		sm.onAlloc = fn
	}
}

// New creates an empty shadow memory. The dense top-level table is
// allocated and zeroed up front; pages are not.
//
// Example:
//
//	sm := New(Geometry32)
//	sm.Set(0x1000, 0x1000)
//	sm.Get(0x1000) // {0x1000}
func New(geom Geometry, opts ...Option) *ShadowMemory {
	sm := &ShadowMemory{geom: geom}
	if geom.dense() {
		sm.dense = make([]*page, geom.TopSlots())
	} else {
		sm.sparse = make(map[uint64]*page)
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

// Geometry returns the address split in use.
func (sm *ShadowMemory) Geometry() Geometry {
	return sm.geom
}

// lookup returns the page covering top, or nil.
//
//go:nosplit
func (sm *ShadowMemory) lookup(top uint64) *page {
	if sm.dense != nil {
		if top >= uint64(len(sm.dense)) {
			return nil
		}
		return sm.dense[top]
	}
	return sm.sparse[top]
}

// ensure returns the page covering top, allocating it on first use.
// Calling it again for the same page is a no-op lookup.
func (sm *ShadowMemory) ensure(top uint64) (*page, error) {
	if p := sm.lookup(top); p != nil {
		return p, nil
	}
	if sm.budget > 0 && sm.pages >= sm.budget {
		return nil, fmt.Errorf("%w: %d pages allocated", ErrPageBudget, sm.pages)
	}

	p := newPage(sm.geom.PageSize())
	if sm.dense != nil {
		sm.dense[top] = p
	} else {
		sm.sparse[top] = p
	}
	sm.pages++

	if sm.onAlloc != nil {
		sm.onAlloc(top, sm.pages)
	}
	return p, nil
}

// Get returns a copy of the taint set of addr.
//
// Addresses never passed to Set, including those whose page is absent or
// which lie outside the geometry, return the absent set.
func (sm *ShadowMemory) Get(addr uint64) taintset.Set {
	return sm.View(addr).Clone()
}

// View returns the stored set of addr without copying. The result must not
// be mutated; use it only as a merge source.
//
//go:nosplit
func (sm *ShadowMemory) View(addr uint64) taintset.Set {
	if !sm.geom.inRange(addr) {
		return taintset.Set{}
	}
	top, off := sm.geom.split(addr)
	p := sm.lookup(top)
	if p == nil {
		return taintset.Set{}
	}
	return p.sets[off]
}

// Set inserts origin into the taint set of addr, allocating the covering
// page if it is absent.
//
// Returns ErrAddressRange if addr is wider than the geometry and
// ErrPageBudget if a page was needed but the budget is spent. Both are fatal
// for the caller's session.
func (sm *ShadowMemory) Set(addr uint64, origin taintset.Origin) error {
	if !sm.geom.inRange(addr) {
		return fmt.Errorf("%w: 0x%x (%d-bit)", ErrAddressRange, addr, sm.geom.AddrBits)
	}
	top, off := sm.geom.split(addr)
	p, err := sm.ensure(top)
	if err != nil {
		return err
	}
	p.sets[off].Insert(origin)
	return nil
}

// MergeInto inserts every origin of src into the taint set of addr.
func (sm *ShadowMemory) MergeInto(addr uint64, src taintset.Set) error {
	if src.IsEmpty() {
		return nil
	}
	if !sm.geom.inRange(addr) {
		return fmt.Errorf("%w: 0x%x (%d-bit)", ErrAddressRange, addr, sm.geom.AddrBits)
	}
	top, off := sm.geom.split(addr)
	p, err := sm.ensure(top)
	if err != nil {
		return err
	}
	taintset.Merge(&p.sets[off], src)
	return nil
}

// Pages returns the number of allocated pages.
func (sm *ShadowMemory) Pages() int {
	return sm.pages
}

// ForEach calls fn for every address holding a non-empty set, in ascending
// address order, until fn returns false. The set passed to fn must not be
// mutated.
func (sm *ShadowMemory) ForEach(fn func(addr uint64, s taintset.Set) bool) {
	for _, top := range sm.pageIndexes() {
		p := sm.lookup(top)
		base := top << sm.geom.PageBits
		for off := range p.sets {
			if p.sets[off].IsEmpty() {
				continue
			}
			if !fn(base|uint64(off), p.sets[off]) {
				return
			}
		}
	}
}

// pageIndexes returns the top-level indexes of allocated pages in order.
func (sm *ShadowMemory) pageIndexes() []uint64 {
	idx := make([]uint64, 0, sm.pages)
	if sm.dense != nil {
		for top, p := range sm.dense {
			if p != nil {
				idx = append(idx, uint64(top))
			}
		}
		return idx
	}
	for top := range sm.sparse {
		idx = append(idx, top)
	}
	slices.Sort(idx)
	return idx
}

// Release drops every page and the top-level table. The ShadowMemory must
// not be used afterwards except through another Release.
//
// Thread Safety: NOT safe for concurrent access.
func (sm *ShadowMemory) Release() {
	sm.dense = nil
	sm.sparse = nil
	sm.pages = 0
}

// Released reports whether Release has been called.
func (sm *ShadowMemory) Released() bool {
	return sm.dense == nil && sm.sparse == nil
}
