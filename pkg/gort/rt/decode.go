package rt

import (
	"fmt"

	"github.com/TritonDataCenter/mdb-go/pkg/arch"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/layout"
	"github.com/TritonDataCenter/mdb-go/pkg/target"
)

// Symbols of the runtime globals.
const (
	SymAllG     = "runtime.allg"
	SymAllM     = "runtime.allm"
	SymAllP     = "runtime.allp"
	SymSigTab   = "runtime.sigtab"
	SymTimers   = "timers"
	SymTimersRT = "runtime.timers"
	SymGoexit   = "runtime.goexit"
	SymVersion  = "runtime.buildVersion"
)

// Gor is a decoded G.
type Gor struct {
	Addr uint64
	ID   int64

	Status     GStatus
	WaitReason uint64

	IsPanic      bool
	IsSystem     bool
	IsBackground bool

	StackBase  uint64
	StackGuard uint64
	SchedSP    uint64
	SchedPC    uint64

	SyscallStack uint64
	SyscallSP    uint64
	SyscallPC    uint64
	SyscallGuard uint64

	GoPC    uint64
	M       uint64
	Defer   uint64
	Panic   uint64
	AllLink uint64
}

// Stack returns the stack base, saved SP, saved PC and stack guard of the
// goroutine. The syscall shadow copies are used while the goroutine is in
// a system call, since sched is then stale.
func (g *Gor) Stack() (base, sp, pc, guard uint64) {
	if g.Status == Gsyscall {
		return g.SyscallStack, g.SyscallSP, g.SyscallPC, g.SyscallGuard
	}
	return g.StackBase, g.SchedSP, g.SchedPC, g.StackGuard
}

// ReadG reads the G at addr.
func ReadG(mem target.MemoryReader, a *arch.Arch, addr uint64) (*Gor, error) {
	r, err := layout.Read(mem, layout.Of(G, a), addr)
	if err != nil {
		return nil, err
	}
	return DecodeG(r), nil
}

// DecodeG decodes a G record.
func DecodeG(r *layout.Record) *Gor {
	return &Gor{
		Addr:         r.Addr,
		ID:           r.Int("goid"),
		Status:       GStatus(r.Int("status")),
		WaitReason:   r.Uint("waitreason"),
		IsPanic:      r.Bool("ispanic"),
		IsSystem:     r.Bool("issystem"),
		IsBackground: r.Bool("isbackground"),
		StackBase:    r.Uint("stackbase"),
		StackGuard:   r.Uint("stackguard"),
		SchedSP:      r.Uint("sched.sp"),
		SchedPC:      r.Uint("sched.pc"),
		SyscallStack: r.Uint("syscallstack"),
		SyscallSP:    r.Uint("syscallsp"),
		SyscallPC:    r.Uint("syscallpc"),
		SyscallGuard: r.Uint("syscallguard"),
		GoPC:         r.Uint("gopc"),
		M:            r.Uint("m"),
		Defer:        r.Uint("defer"),
		Panic:        r.Uint("panic"),
		AllLink:      r.Uint("alllink"),
	}
}

// Mach is a decoded M.
type Mach struct {
	Addr      uint64
	ID        int32
	ProcID    uint64
	G0        uint64
	CurG      uint64
	GSignal   uint64
	CaughtSig uint64
	P         uint64
	NextP     uint64
	LockedG   uint64
	AllLink   uint64
}

// ReadM reads the M at addr.
func ReadM(mem target.MemoryReader, a *arch.Arch, addr uint64) (*Mach, error) {
	r, err := layout.Read(mem, layout.Of(M, a), addr)
	if err != nil {
		return nil, err
	}
	return &Mach{
		Addr:      addr,
		ID:        int32(r.Int("id")),
		ProcID:    r.Uint("procid"),
		G0:        r.Uint("g0"),
		CurG:      r.Uint("curg"),
		GSignal:   r.Uint("gsignal"),
		CaughtSig: r.Uint("caughtsig"),
		P:         r.Uint("p"),
		NextP:     r.Uint("nextp"),
		LockedG:   r.Uint("lockedg"),
		AllLink:   r.Uint("alllink"),
	}, nil
}

// Proc is a decoded P.
type Proc struct {
	Addr     uint64
	ID       int32
	Status   PStatus
	Link     uint64
	M        uint64
	RunqSize int32
	GFreeCnt int32
}

// ReadP reads the P at addr.
func ReadP(mem target.MemoryReader, a *arch.Arch, addr uint64) (*Proc, error) {
	r, err := layout.Read(mem, layout.Of(P, a), addr)
	if err != nil {
		return nil, err
	}
	return &Proc{
		Addr:     addr,
		ID:       int32(r.Int("id")),
		Status:   PStatus(r.Uint("status")),
		Link:     r.Uint("link"),
		M:        r.Uint("m"),
		RunqSize: int32(r.Int("runqsize")),
		GFreeCnt: int32(r.Int("gfreecnt")),
	}, nil
}

// DeferRec is a decoded Defer.
type DeferRec struct {
	Addr    uint64
	Siz     int32
	Special bool
	ArgP    uint64
	PC      uint64
	Fn      uint64
	Link    uint64
}

// ReadDefer reads the Defer at addr.
func ReadDefer(mem target.MemoryReader, a *arch.Arch, addr uint64) (*DeferRec, error) {
	r, err := layout.Read(mem, layout.Of(Defer, a), addr)
	if err != nil {
		return nil, err
	}
	return &DeferRec{
		Addr:    addr,
		Siz:     int32(r.Int("siz")),
		Special: r.Bool("special"),
		ArgP:    r.Uint("argp"),
		PC:      r.Uint("pc"),
		Fn:      r.Uint("fn"),
		Link:    r.Uint("link"),
	}, nil
}

// PanicRec is a decoded Panic.
type PanicRec struct {
	Addr      uint64
	ArgType   uint64
	ArgData   uint64
	StackBase uint64
	Link      uint64
	Recovered bool
}

// ReadPanic reads the Panic at addr.
func ReadPanic(mem target.MemoryReader, a *arch.Arch, addr uint64) (*PanicRec, error) {
	r, err := layout.Read(mem, layout.Of(Panic, a), addr)
	if err != nil {
		return nil, err
	}
	return &PanicRec{
		Addr:      addr,
		ArgType:   r.Uint("arg.type"),
		ArgData:   r.Uint("arg.data"),
		StackBase: r.Uint("stackbase"),
		Link:      r.Uint("link"),
		Recovered: r.Bool("recovered"),
	}, nil
}

// TimerRec is a decoded Timer.
type TimerRec struct {
	Addr   uint64
	Index  int32
	When   int64
	Period int64
	Fn     uint64
}

// TimersRec is the decoded timer heap with its timers.
type TimersRec struct {
	Addr         uint64
	TimerProc    uint64
	Sleeping     uint8
	Rescheduling uint8
	T            uint64
	Len          int32
	Cap          int32
	Timers       []TimerRec
}

// ReadTimers reads the timer heap at addr and every timer it points to.
// A failure to read any timer aborts the whole read; the timers decoded
// so far are returned with the error.
func ReadTimers(mem target.MemoryReader, a *arch.Arch, addr uint64) (*TimersRec, error) {
	r, err := layout.Read(mem, layout.Of(Timers, a), addr)
	if err != nil {
		return nil, err
	}
	ts := &TimersRec{
		Addr:         addr,
		TimerProc:    r.Uint("timerproc"),
		Sleeping:     uint8(r.Uint("sleeping")),
		Rescheduling: uint8(r.Uint("rescheduling")),
		T:            r.Uint("t"),
		Len:          int32(r.Int("len")),
		Cap:          int32(r.Int("cap")),
	}
	if ts.Len < 0 || ts.Len > ts.Cap {
		return ts, fmt.Errorf("timer heap at %#x has bad length %d (cap %d)", addr, ts.Len, ts.Cap)
	}
	if ts.Len == 0 {
		return ts, nil
	}
	ptrs, err := target.ReadFull(mem, ts.T, int(ts.Len)*a.PtrSize)
	if err != nil {
		return ts, fmt.Errorf("could not read timer array: %w", err)
	}
	tl := layout.Of(Timer, a)
	for i := 0; i < int(ts.Len); i++ {
		taddr := a.Uint(ptrs[i*a.PtrSize:])
		tr, err := layout.Read(mem, tl, taddr)
		if err != nil {
			return ts, fmt.Errorf("could not read timer %d: %w", i, err)
		}
		ts.Timers = append(ts.Timers, TimerRec{
			Addr:   taddr,
			Index:  int32(tr.Int("i")),
			When:   tr.Int("when"),
			Period: tr.Int("period"),
			Fn:     tr.Uint("fv"),
		})
	}
	return ts, nil
}

// SigTabEntry is a decoded entry of runtime.sigtab.
type SigTabEntry struct {
	Index int
	Flags SigFlags
	Name  string
}

// ReadSigTab reads entries [start, stop] of the signal table at addr.
// Names longer than maxName bytes are truncated. A failing read aborts;
// the entries decoded so far are returned with the error.
func ReadSigTab(mem target.MemoryReader, a *arch.Arch, addr uint64, start, stop, maxName int) ([]SigTabEntry, error) {
	if start < 0 || stop >= SigTabLen || start > stop {
		return nil, fmt.Errorf("signal table range [%d, %d] is outside [0, %d]", start, stop, SigTabLen-1)
	}
	l := layout.Of(SigTab, a)
	var out []SigTabEntry
	for i := start; i <= stop; i++ {
		r, err := layout.Read(mem, l, addr+uint64(i*l.Size))
		if err != nil {
			return out, fmt.Errorf("could not read sigtab entry %d: %w", i, err)
		}
		e := SigTabEntry{Index: i, Flags: SigFlags(r.Int("flags"))}
		if name := r.Uint("name"); name != 0 {
			e.Name, err = target.ReadCString(mem, name, maxName)
			if err != nil {
				return out, fmt.Errorf("could not read name of sigtab entry %d: %w", i, err)
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// ReadGoString reads a Go string header {data, len} at addr.
func ReadGoString(mem target.MemoryReader, a *arch.Arch, addr uint64, max int) (string, error) {
	hdr, err := target.ReadFull(mem, addr, 2*a.PtrSize)
	if err != nil {
		return "", err
	}
	data, n := a.Uint(hdr), a.Uint(hdr[a.PtrSize:])
	if n > uint64(max) {
		n = uint64(max)
	}
	if n == 0 {
		return "", nil
	}
	buf, err := target.ReadFull(mem, data, int(n))
	if err != nil {
		return "", err
	}
	return string(buf), nil
}
