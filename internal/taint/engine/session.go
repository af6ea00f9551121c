package engine

import (
	"fmt"
	"sync"

	"github.com/kolkov/ddetector/internal/config"
	"github.com/kolkov/ddetector/internal/symbols"
	"github.com/kolkov/ddetector/internal/syscalls"
	"github.com/kolkov/ddetector/internal/taint/regshadow"
	"github.com/kolkov/ddetector/internal/taint/setdepot"
	"github.com/kolkov/ddetector/internal/taint/shadowmem"
	"github.com/kolkov/ddetector/internal/taint/shadowtemp"
	"github.com/kolkov/ddetector/internal/taint/taintset"
	"github.com/kolkov/ddetector/internal/taint/window"
)

// Extensions enables propagation through operation kinds that are not
// propagated by default. The zero value preserves the documented gaps.
type Extensions = config.Extensions

// Session is one analysis session.
//
// It replaces process-wide shadow singletons with an explicit owner: every
// table lives between Start and End and is reachable only through the
// session.
type Session struct {
	mu sync.Mutex

	cfg      *config.Config
	geom     shadowmem.Geometry
	ext      Extensions
	syscalls *syscalls.Table
	resolver symbols.Resolver
	regs     regshadow.Storage
	ownRegs  bool
	log      *config.LogGroup

	// Valid between Start and End.
	started bool
	mem     *shadowmem.ShadowMemory
	temps   *shadowtemp.Table
	depot   *setdepot.Depot
	win     *window.Window

	// aborted is the fatal error that ended propagation, if any.
	aborted error

	stats Stats
}

// Option configures a Session.
type Option func(*Session)

// WithResolver sets the symbol resolver consulted at instruction boundaries.
// Without one, only FunctionEntry events move the window.
func WithResolver(r symbols.Resolver) Option {
	return func(s *Session) { s.resolver = r }
}

// WithRegisters sets the register shadow storage. Without one the session
// allocates a regshadow.Area and releases it at End.
func WithRegisters(st regshadow.Storage) Option {
	return func(s *Session) { s.regs = st }
}

// WithLogger sets the logger. Without one the session logs to stderr at the
// configured level.
func WithLogger(l *config.LogGroup) Option {
	return func(s *Session) { s.log = l }
}

// WithGeometry overrides the shadow memory geometry derived from the
// configured architecture.
func WithGeometry(g shadowmem.Geometry) Option {
	return func(s *Session) { s.geom = g }
}

// NewSession creates a session from cfg, which must be valid. A nil cfg
// selects config.NewDefault. The session holds no shadow state until Start.
func NewSession(cfg *config.Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	geom, err := shadowmem.ForArch(cfg.Arch)
	if err != nil {
		return nil, err
	}
	extra := make([]syscalls.Spec, len(cfg.Syscalls))
	for i, sc := range cfg.Syscalls {
		extra[i] = syscalls.Spec{Number: sc.Number, Name: sc.Name, BufArg: sc.BufArg, LenArg: sc.LenArg}
	}
	table, err := syscalls.NewTable(extra...)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	s := &Session{
		cfg:      cfg,
		geom:     geom,
		ext:      cfg.Extensions,
		syscalls: table,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = config.NewLogGroup(cfg)
	}
	if s.regs == nil {
		s.regs = regshadow.NewArea(0)
		s.ownRegs = true
	}
	return s, nil
}

// Start allocates the shadow tables and puts the window in Idle.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	s.mem = shadowmem.New(s.geom,
		shadowmem.WithPageBudget(s.cfg.MaxPages),
		shadowmem.WithAllocHook(func(top uint64, pages int) {
			s.stats.PagesAllocated++
			s.log.Debugf("shadow page 0x%x allocated (%d live)", top<<s.geom.PageBits, pages)
		}),
	)
	s.temps = shadowtemp.New(s.cfg.MaxTemps)
	s.depot = setdepot.New()
	s.win = window.New(s.cfg.EntrySymbol, s.cfg.ExitSymbol)
	s.win.OnChange(func(from, to window.State, symbol string) {
		s.stats.Transitions++
		s.log.Infof("window %s -> %s at %s", from, to, symbol)
	})
	s.aborted = nil
	s.stats = Stats{}
	s.started = true

	s.log.Infof("session started: %d-bit geometry, %d temps, window %s..%s",
		s.geom.AddrBits, s.temps.Cap(), s.win.Entry(), s.win.Exit())
	return nil
}

// End releases every shadow page, the top-level table, the temp table and
// the set depot. The session may be started again afterwards.
func (s *Session) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrNotStarted
	}
	s.log.Infof("session ended: %d events, %d pages, %d tainted bytes from syscalls",
		s.stats.Total(), s.mem.Pages(), s.stats.TaintedBytes)

	s.mem.Release()
	s.temps.Release()
	s.depot.Release()
	if area, ok := s.regs.(*regshadow.Area); ok && s.ownRegs {
		area.Release()
	}
	s.mem, s.temps, s.depot, s.win = nil, nil, nil, nil
	s.started = false
	return nil
}

// Started reports whether the session is between Start and End.
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Err returns the error that aborted the session, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// Config returns the session configuration.
func (s *Session) Config() *config.Config { return s.cfg }

// Logger returns the session logger.
func (s *Session) Logger() *config.LogGroup { return s.log }

// Geometry returns the shadow memory geometry.
func (s *Session) Geometry() shadowmem.Geometry { return s.geom }

// Syscalls returns the read-like syscall table.
func (s *Session) Syscalls() *syscalls.Table { return s.syscalls }

// Window returns the current window state. A session that is not started
// reports Idle.
func (s *Session) Window() window.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return window.Idle
	}
	return s.win.State()
}

// Memory returns a copy of the taint set of one guest byte.
func (s *Session) Memory(addr uint64) taintset.Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return taintset.Set{}
	}
	return s.mem.Get(addr)
}

// MemoryRange returns the union of the taint sets of [addr, addr+size).
func (s *Session) MemoryRange(addr uint64, size int) taintset.Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return taintset.Set{}
	}
	return s.memoryUnion(addr, size)
}

// ForEachMemory calls fn for every tainted byte in address order until fn
// returns false. fn must not call back into the session.
func (s *Session) ForEachMemory(fn func(addr uint64, set taintset.Set) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.mem.ForEach(fn)
}

// Temp returns a copy of a temp's taint set.
func (s *Session) Temp(t shadowtemp.TempID) taintset.Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return taintset.Set{}
	}
	return s.temps.Get(t)
}

// RegisterTaint returns the taint of the register at offset.
func (s *Session) RegisterTaint(tid regshadow.ThreadID, offset, size int) taintset.Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return taintset.Set{}
	}
	return s.readRegister(tid, offset, size).Clone()
}

// SetRegisterTaint replaces the taint of the register at offset regardless
// of the window state. It seeds register provenance for embedders whose
// runtime loads registers outside the event stream.
func (s *Session) SetRegisterTaint(tid regshadow.ThreadID, offset, size int, set taintset.Set) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}
	if offset < 0 || size <= 0 {
		return fmt.Errorf("engine: bad register [%d, %d)", offset, offset+size)
	}
	s.writeRegister(tid, offset, size, set)
	return nil
}

// TaintMemory inserts origin into the taint set of each byte of
// [addr, addr+size) regardless of the window state.
func (s *Session) TaintMemory(addr uint64, size int, origin taintset.Origin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}
	for i := 0; i < size; i++ {
		if err := s.mem.Set(addr+uint64(i), origin); err != nil {
			return err
		}
	}
	return nil
}

// Pages returns the number of shadow memory pages.
func (s *Session) Pages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return 0
	}
	return s.mem.Pages()
}

// Stats returns a copy of the event counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	if s.started {
		st.LivePages = s.mem.Pages()
		st.UniqueSets, _ = s.depot.Stats()
	}
	return st
}
