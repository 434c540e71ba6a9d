// Package gort inspects the runtime state of a stopped Go process.
//
// A Session binds a target to the validated function table of the binary
// running in it and answers questions about goroutines, threads,
// processors, timers, signals and stacks. All state is read from the
// target on every query.
package gort

import (
	"errors"
	"fmt"
	"strings"

	"github.com/TritonDataCenter/mdb-go/pkg/arch"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/pclntab"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/rt"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/stack"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/walk"
	"github.com/TritonDataCenter/mdb-go/pkg/logflags"
	"github.com/TritonDataCenter/mdb-go/pkg/target"
)

// Config tunes a Session.
type Config struct {
	// MaxStringLen caps every string read from the target.
	MaxStringLen int
	// StackDepth is the default maximum depth of stack traces.
	StackDepth int
	// CacheFuncTable keeps the function table entries in memory.
	CacheFuncTable bool
	// FuncCacheSize is the number of decoded function records to keep.
	FuncCacheSize int
	// Symbols overrides the symbol of runtime globals. Keys are "pclntab",
	// "allg", "allm", "allp", "sigtab" and "timers".
	Symbols map[string]string
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		MaxStringLen:   pclntab.DefaultMaxNameLen,
		StackDepth:     50,
		CacheFuncTable: true,
		FuncCacheSize:  1024,
	}
}

// Session inspects the runtime of a target.
type Session struct {
	t    target.Target
	arch *arch.Arch
	cfg  Config

	tab     *pclntab.Table
	version string

	log logflags.Logger
}

// NewSession returns a session for t and configures it. A configuration
// failure is returned with the session, which stays usable: queries that
// need the function table report pclntab.ErrUnconfigured.
func NewSession(t target.Target, cfg Config) (*Session, error) {
	def := DefaultConfig()
	if cfg.MaxStringLen <= 0 {
		cfg.MaxStringLen = def.MaxStringLen
	}
	if cfg.StackDepth <= 0 {
		cfg.StackDepth = def.StackDepth
	}
	s := &Session{t: t, arch: t.Arch(), cfg: cfg, log: logflags.PclntabLogger()}
	return s, s.Configure()
}

// Configure locates and validates the function table, replacing any
// previous configuration.
func (s *Session) Configure() error {
	opts := pclntab.Options{
		CacheEntries:  s.cfg.CacheFuncTable,
		FuncCacheSize: s.cfg.FuncCacheSize,
		MaxNameLen:    s.cfg.MaxStringLen,
	}
	if sym, ok := s.cfg.Symbols["pclntab"]; ok {
		opts.Symbols = []string{sym}
	}
	tab, err := pclntab.Open(s.t, opts)
	s.tab = tab
	s.version = s.readVersion()
	if err != nil {
		return err
	}
	if s.version != "" && !strings.HasPrefix(s.version, rt.RuntimeVersion) {
		s.log.Warnf("binary was built by %s, runtime layouts are those of %s", s.version, rt.RuntimeVersion)
	}
	return nil
}

func (s *Session) readVersion() string {
	addr, err := s.t.LookupSymbol(rt.SymVersion)
	if err != nil {
		return ""
	}
	v, err := rt.ReadGoString(s.t, s.arch, addr, s.cfg.MaxStringLen)
	if err != nil {
		s.log.Debugf("could not read %s: %v", rt.SymVersion, err)
		return ""
	}
	return v
}

// Configured reports whether the function table validated.
func (s *Session) Configured() bool {
	return s.tab.Configured()
}

// Version returns the Go version recorded in the binary, if any.
func (s *Session) Version() string {
	return s.version
}

// Target returns the inspected target.
func (s *Session) Target() target.Target {
	return s.t
}

// Arch returns the target architecture.
func (s *Session) Arch() *arch.Arch {
	return s.arch
}

// Table returns the function table.
func (s *Session) Table() *pclntab.Table {
	return s.tab
}

// Config returns the session configuration.
func (s *Session) Config() Config {
	return s.cfg
}

func (s *Session) symbol(key, def string) string {
	if sym, ok := s.cfg.Symbols[key]; ok {
		return sym
	}
	return def
}

// Registers returns the execution context of the current thread.
func (s *Session) Registers() (stack.Context, error) {
	return stack.Current(s.t)
}

// FuncForPC returns the function containing pc.
func (s *Session) FuncForPC(pc uint64) (*pclntab.Func, error) {
	return s.tab.FuncForPC(pc)
}

// Symbolize describes pc as function+offset, or as a bare address if it is
// not in the function table.
func (s *Session) Symbolize(pc uint64) string {
	fn, err := s.tab.FuncForPC(pc)
	if err != nil {
		return fmt.Sprintf("%#x", pc)
	}
	if pc == fn.Entry {
		return fn.Name
	}
	return fmt.Sprintf("%s+%#x", fn.Name, pc-fn.Entry)
}

// Stack returns the stack of ctx, or of the current thread if ctx is nil:
// the frame at the instruction pointer followed by the frames walked from
// the stack pointer. Depth limits the number of walked frames; zero or
// less means the configured depth.
func (s *Session) Stack(ctx *stack.Context, depth int) ([]stack.Frame, error) {
	if ctx == nil {
		cur, err := s.Registers()
		if err != nil {
			return nil, err
		}
		ctx = &cur
	}
	if depth <= 0 {
		depth = s.cfg.StackDepth
	}
	return stack.Stacktrace(s.t, s.arch, s.tab, *ctx, depth)
}

// Frames returns an iterator over the frames starting at the return slot
// sp. If sp is zero the stack pointer of the current thread is used.
func (s *Session) Frames(sp uint64) (*stack.Iterator, error) {
	if sp == 0 {
		ctx, err := s.Registers()
		if err != nil {
			return nil, err
		}
		sp = ctx.SP
	}
	return stack.NewIterator(s.t, s.arch, s.tab, sp), nil
}

// Frame decodes the frame whose return slot is at slot. If slot is zero
// the stack pointer of the current thread is used.
func (s *Session) Frame(slot uint64) (stack.Frame, error) {
	if slot == 0 {
		ctx, err := s.Registers()
		if err != nil {
			return stack.Frame{}, err
		}
		slot = ctx.SP
	}
	return stack.FrameAt(s.t, s.arch, s.tab, slot)
}

// FrameAtPC returns the frame for the instruction pointer pc.
func (s *Session) FrameAtPC(pc uint64) (stack.Frame, error) {
	fn, err := s.tab.FuncForPC(pc)
	if err != nil {
		return stack.Frame{}, err
	}
	return stack.Frame{PC: pc, Func: fn}, nil
}

// Instruction disassembles the instruction at pc.
func (s *Session) Instruction(pc uint64) (arch.Instruction, error) {
	buf := make([]byte, arch.MaxInstructionLength)
	n, err := s.t.ReadMemory(buf, pc)
	if n == 0 {
		return arch.Instruction{}, &target.ReadFaultError{Addr: pc, Len: len(buf), Err: err}
	}
	return s.arch.Disassemble(buf[:n], pc, func(addr uint64) (string, uint64) {
		fn, err := s.tab.FuncForPC(addr)
		if err != nil {
			return "", 0
		}
		return fn.Name, fn.Entry
	})
}

// G reads the goroutine at addr.
func (s *Session) G(addr uint64) (*rt.Gor, error) {
	return rt.ReadG(s.t, s.arch, addr)
}

// M reads the thread at addr.
func (s *Session) M(addr uint64) (*rt.Mach, error) {
	return rt.ReadM(s.t, s.arch, addr)
}

// P reads the processor at addr.
func (s *Session) P(addr uint64) (*rt.Proc, error) {
	return rt.ReadP(s.t, s.arch, addr)
}

func (s *Session) walker(w *walk.Walker, key string) *walk.Walker {
	if sym := s.symbol(key, w.Root); sym != w.Root {
		return w.WithRoot(sym)
	}
	return w
}

// WalkG calls fn with the address of every goroutine, starting at start or
// at the head of the allg list if start is zero.
func (s *Session) WalkG(start uint64, fn func(addr uint64) bool) error {
	return s.walker(walk.AllG, "allg").Walk(s.t, 0, start, fn)
}

// WalkM calls fn with the address of every thread.
func (s *Session) WalkM(start uint64, fn func(addr uint64) bool) error {
	return s.walker(walk.AllM, "allm").Walk(s.t, 0, start, fn)
}

// WalkP calls fn with the address of every processor.
func (s *Session) WalkP(start uint64, fn func(addr uint64) bool) error {
	return s.walker(walk.AllP, "allp").Walk(s.t, 0, start, fn)
}

// Defers returns the deferred calls of the goroutine at g, innermost
// first. The records read before a failure are returned with it.
func (s *Session) Defers(g uint64) ([]*rt.DeferRec, error) {
	var out []*rt.DeferRec
	var rerr error
	err := walk.DeferChain.Walk(s.t, g, 0, func(addr uint64) bool {
		d, err := rt.ReadDefer(s.t, s.arch, addr)
		if err != nil {
			rerr = err
			return false
		}
		out = append(out, d)
		return true
	})
	if rerr != nil {
		return out, rerr
	}
	return out, err
}

// Panics returns the active panics of the goroutine at g, newest first.
func (s *Session) Panics(g uint64) ([]*rt.PanicRec, error) {
	var out []*rt.PanicRec
	var rerr error
	err := walk.PanicChain.Walk(s.t, g, 0, func(addr uint64) bool {
		p, err := rt.ReadPanic(s.t, s.arch, addr)
		if err != nil {
			rerr = err
			return false
		}
		out = append(out, p)
		return true
	})
	if rerr != nil {
		return out, rerr
	}
	return out, err
}

// Timers reads the timer heap.
func (s *Session) Timers() (*rt.TimersRec, error) {
	var syms []string
	if sym, ok := s.cfg.Symbols["timers"]; ok {
		syms = []string{sym}
	} else {
		syms = []string{rt.SymTimers, rt.SymTimersRT}
	}
	var addr uint64
	var err error
	for _, sym := range syms {
		if addr, err = s.t.LookupSymbol(sym); err == nil {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return rt.ReadTimers(s.t, s.arch, addr)
}

// SigTab reads entries start through stop of the signal table.
func (s *Session) SigTab(start, stop int) ([]rt.SigTabEntry, error) {
	addr, err := s.t.LookupSymbol(s.symbol("sigtab", rt.SymSigTab))
	if err != nil {
		return nil, err
	}
	return rt.ReadSigTab(s.t, s.arch, addr, start, stop, s.cfg.MaxStringLen)
}

// ErrNoWalker is returned by Walk for an unknown list.
var ErrNoWalker = errors.New("no such walker")

// Walk calls fn with each address of the named list: "go_g", "go_m",
// "go_p" or "goframe". For goframe the addresses are return slots.
func (s *Session) Walk(name string, start uint64, fn func(addr uint64) bool) error {
	switch name {
	case "go_g":
		return s.WalkG(start, fn)
	case "go_m":
		return s.WalkM(start, fn)
	case "go_p":
		return s.WalkP(start, fn)
	case "goframe":
		it, err := s.Frames(start)
		if err != nil {
			return err
		}
		for it.Next() {
			if !fn(it.Frame().Slot) {
				return nil
			}
		}
		return it.Err()
	}
	return fmt.Errorf("%w: %s", ErrNoWalker, name)
}

// Walkers lists the names accepted by Walk.
func Walkers() []string {
	return []string{"goframe", "go_g", "go_m", "go_p"}
}
