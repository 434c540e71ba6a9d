// Package gorttest builds synthetic images of a stopped go1.2 process.
package gorttest

import (
	"github.com/TritonDataCenter/mdb-go/pkg/arch"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/layout"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/rt"
	"github.com/TritonDataCenter/mdb-go/pkg/target/targettest"
)

// Fixed addresses of the process image.
const (
	TabBase    = 0x600000
	GBase      = 0xc2000000
	MBase      = 0xc3000000
	PBase      = 0xc4000000
	DeferBase  = 0xc5000000
	StackTop   = 0x7ff000
	StackSP    = 0x7fe000
	SymBase    = 0x900000
	TimersBase = 0x910000
	SigTabBase = 0x920000
)

// Functions of the image.
var Funcs = []targettest.Func{
	{Name: "runtime.gosched", Entry: 0x1000, Frame: 0x10},
	{Name: "main.work", Entry: 0x1100, Frame: 0x28, Args: 16},
	{Name: "main.main", Entry: 0x1200, Frame: 0x18},
	{Name: "runtime.main", Entry: 0x1300, Frame: 0x20},
	{Name: "runtime.goexit", Entry: 0x1400, Frame: 0x8},
}

// FuncEnd is the end of the last function.
const FuncEnd = 0x1500

// Process is a synthetic process image.
type Process struct {
	*targettest.Image
	GS []uint64
	MS []uint64
	PS []uint64
}

// New returns an image with a function table, three goroutines, two
// threads, two processors, a timer heap, a signal table and a stack for
// the current thread.
func New(a *arch.Arch) *Process {
	p := &Process{Image: targettest.New(a)}
	p.BuildFuncTable(TabBase, Funcs, FuncEnd)
	p.PutCString(SymBase+0x100, "go1.2")
	p.PutWord(SymBase+0x80, SymBase+0x100)
	p.PutWord(SymBase+0x80+uint64(a.PtrSize), 5)
	p.SetSymbol(rt.SymVersion, SymBase+0x80)

	gl := layout.Of(rt.G, a)
	statuses := []rt.GStatus{rt.Grunning, rt.Gwaiting, rt.Gsyscall}
	for i := range statuses {
		p.GS = append(p.GS, GBase+uint64(i)*0x1000)
	}
	for i, addr := range p.GS {
		var next uint64
		if i+1 < len(p.GS) {
			next = p.GS[i+1]
		}
		vals := map[string]uint64{
			"goid":         uint64(i + 1),
			"status":       uint64(statuses[i]),
			"alllink":      next,
			"gopc":         0x1210,
			"stackbase":    StackTop,
			"sched.sp":     StackSP,
			"sched.pc":     0x1008,
			"stackguard":   StackSP - 0x1000,
			"syscallstack": StackTop,
			"syscallsp":    StackSP + 0x40,
			"syscallpc":    0x1120,
			"syscallguard": StackSP - 0x800,
		}
		if i == 0 {
			vals["defer"] = DeferBase
			vals["m"] = MBase
		}
		if i == 2 {
			vals["issystem"] = 1
		}
		p.Write(addr, gl.Encode(vals))
	}
	p.SetSymbol(rt.SymAllG, SymBase)
	p.PutWord(SymBase, p.GS[0])

	dl := layout.Of(rt.Defer, a)
	p.Write(DeferBase, dl.Encode(map[string]uint64{"siz": 8, "pc": 0x1220, "fn": 0xabc, "link": DeferBase + 0x100}))
	p.Write(DeferBase+0x100, dl.Encode(map[string]uint64{"siz": 0, "pc": 0x1330}))

	ml := layout.Of(rt.M, a)
	p.MS = []uint64{MBase, MBase + 0x4000}
	p.Write(p.MS[0], ml.Encode(map[string]uint64{"id": 0, "curg": p.GS[0], "p": PBase, "alllink": p.MS[1]}))
	p.Write(p.MS[1], ml.Encode(map[string]uint64{"id": 1, "gsignal": p.GS[2]}))
	p.SetSymbol(rt.SymAllM, SymBase+0x10)
	p.PutWord(SymBase+0x10, p.MS[0])

	pl := layout.Of(rt.P, a)
	p.PS = []uint64{PBase, PBase + 0x400}
	p.Write(p.PS[0], pl.Encode(map[string]uint64{"id": 0, "status": uint64(rt.Prunning), "m": MBase, "runqsize": 2, "link": p.PS[1]}))
	p.Write(p.PS[1], pl.Encode(map[string]uint64{"id": 1, "status": uint64(rt.Pidle)}))
	p.SetSymbol(rt.SymAllP, SymBase+0x20)
	p.PutWord(SymBase+0x20, p.PS[0])

	p.putTimers(a)
	p.putSigTab(a)
	p.putStack()
	return p
}

func (p *Process) putTimers(a *arch.Arch) {
	tl := layout.Of(rt.Timer, a)
	arr := uint64(TimersBase + 0x100)
	for i, when := range []int64{1000, 2000} {
		taddr := TimersBase + 0x200 + uint64(i)*0x80
		p.Write(taddr, tl.Encode(map[string]uint64{"i": uint64(i), "when": uint64(when), "period": uint64(i) * 500}))
		p.PutWord(arr+uint64(i*a.PtrSize), taddr)
	}
	p.Write(TimersBase, layout.Of(rt.Timers, a).Encode(map[string]uint64{
		"timerproc": p.GS[1],
		"t":         arr,
		"len":       2,
		"cap":       4,
		"sleeping":  1,
	}))
	p.SetSymbol(rt.SymTimers, TimersBase)
}

// SigNames are the names of the signal table entries.
var SigNames = [...]string{"SIG0: no trap", "SIGHUP: terminal line hangup", "SIGINT: interrupt"}

func (p *Process) putSigTab(a *arch.Arch) {
	sl := layout.Of(rt.SigTab, a)
	flags := []rt.SigFlags{0, rt.SigNotify | rt.SigKill, rt.SigNotify | rt.SigKill}
	names := uint64(SigTabBase + 0x1000)
	for i := 0; i < rt.SigTabLen; i++ {
		name := names + uint64(i)*0x40
		e := map[string]uint64{"name": name, "flags": uint64(rt.SigThrow)}
		if i < len(SigNames) {
			p.PutCString(name, SigNames[i])
			e["flags"] = uint64(flags[i])
		} else {
			p.PutCString(name, "SIG")
		}
		p.Write(SigTabBase+uint64(i*sl.Size), sl.Encode(e))
	}
	p.SetSymbol(rt.SymSigTab, SigTabBase)
}

// putStack lays out gosched <- work <- main <- runtime.main <- goexit on
// the stack of thread 1.
func (p *Process) putStack() {
	p.SetContext(1, StackSP+0x100, 0x1008, StackSP)
	slot := uint64(StackSP)
	for _, pc := range []uint64{0x1120, 0x1210, 0x1310, 0x1400} {
		p.PutWord(slot, pc)
		for _, f := range Funcs {
			if pc >= f.Entry && pc < f.Entry+0x100 {
				slot += uint64(f.Frame)
			}
		}
	}
}

// StackNames are the function names of the stack of thread 1.
var StackNames = []string{"runtime.gosched", "main.work", "main.main", "runtime.main", "runtime.goexit"}
