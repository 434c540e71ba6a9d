// Package format renders runtime structures as text.
package format

import (
	"fmt"
	"io"
	"strings"

	"github.com/TritonDataCenter/mdb-go/pkg/arch"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/pclntab"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/rt"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/stack"
)

// Symbolizer describes a code address, e.g. "main.main+0x1a".
type Symbolizer func(pc uint64) string

// Hex is a Symbolizer that prints the bare address.
func Hex(pc uint64) string {
	return fmt.Sprintf("%#x", pc)
}

// Frame properties selectable with -p.
const (
	PropAll  = ""
	PropName = "name"
	PropInsn = "insn"
)

// UnknownPropertyError is returned for a -p argument that is not a frame
// property.
type UnknownPropertyError struct {
	Prop string
}

func (err *UnknownPropertyError) Error() string {
	return fmt.Sprintf("unknown frame property %q (want %q or %q)", err.Prop, PropName, PropInsn)
}

// CheckProp validates a frame property.
func CheckProp(prop string) error {
	switch prop {
	case PropAll, PropName, PropInsn:
		return nil
	}
	return &UnknownPropertyError{Prop: prop}
}

// Func prints every field of a function record.
func Func(w io.Writer, f *pclntab.Func) {
	fmt.Fprintf(w, "%#x = {\n", f.Entry)
	fields := []struct {
		name string
		val  uint64
	}{
		{"args", uint64(f.Args)},
		{"frame", uint64(f.Frame)},
		{"pcsp", uint64(f.PCSP)},
		{"pcfile", uint64(f.PCFile)},
		{"pcln", uint64(f.PCLn)},
		{"npcdata", uint64(f.NPCData)},
		{"nfuncdata", uint64(f.NFuncData)},
	}
	fmt.Fprintf(w, "        entry = %#x,\n", f.Entry)
	fmt.Fprintf(w, "        nameoff = %#x (name = %s),\n", f.NameOff, f.Name)
	for _, fl := range fields {
		fmt.Fprintf(w, "        %s = %#x,\n", fl.name, fl.val)
	}
	fmt.Fprintf(w, "}\n")
}

// FuncName prints the name of a function.
func FuncName(w io.Writer, f *pclntab.Func) {
	fmt.Fprintf(w, "%s()\n", f.Name)
}

// Instruction prints a decoded instruction.
func Instruction(w io.Writer, f *pclntab.Func, inst arch.Instruction) {
	fmt.Fprintf(w, "%#x %s+%#x: %s\n", inst.PC, f.Name, inst.PC-f.Entry, inst.Text)
}

// Frame prints a stack frame. With PropName only the function name is
// printed; PropInsn frames must be printed with Instruction.
func Frame(w io.Writer, fr stack.Frame, prop string) {
	if prop == PropName {
		FuncName(w, fr.Func)
		return
	}
	Func(w, fr.Func)
}

// Trace prints one line per frame.
func Trace(w io.Writer, frames []stack.Frame) {
	for i, fr := range frames {
		slot := "ip"
		if fr.Slot != 0 {
			slot = fmt.Sprintf("%#x", fr.Slot)
		}
		fmt.Fprintf(w, "%3d  %-18s %#x in %s+%#x\n", i, slot, fr.PC, fr.Func.Name, fr.PC-fr.Func.Entry)
	}
}

// G prints a goroutine.
func G(w io.Writer, g *rt.Gor, sym Symbolizer) {
	fmt.Fprintf(w, "%#x: goroutine %d [%s]\n", g.Addr, g.ID, g.Status)
	fmt.Fprintf(w, "      flags: %s %s %s\n",
		flag(g.IsPanic, "panic"), flag(g.IsSystem, "system"), flag(g.IsBackground, "background"))
	fmt.Fprintf(w, "      create_pc %#x (%s)\n", g.GoPC, sym(g.GoPC))
	base, sp, pc, guard := g.Stack()
	fmt.Fprintf(w, "     stackbase: %#x\n", base)
	fmt.Fprintf(w, "            sp: %#x\n", sp)
	fmt.Fprintf(w, "            pc: %#x (%s)\n", pc, sym(pc))
	fmt.Fprintf(w, "    stackguard: %#x\n", guard)
}

func flag(set bool, name string) string {
	if set {
		return name
	}
	return "!" + name
}

// M prints an OS thread.
func M(w io.Writer, m *rt.Mach) {
	fmt.Fprintf(w, "%#x: gomach %d\n", m.Addr, m.ID)
	fmt.Fprintf(w, "    p %#x nextp %#x\n", m.P, m.NextP)
	fmt.Fprintf(w, "    curg %#x\n", m.CurG)
	fmt.Fprintf(w, "    gsignal %#x caughtsig %#x\n", m.GSignal, m.CaughtSig)
}

// P prints a logical processor.
func P(w io.Writer, p *rt.Proc) {
	fmt.Fprintf(w, "%#x: goproc %d [%s]\n", p.Addr, p.ID, p.Status)
	fmt.Fprintf(w, "    runqsz %d\n", p.RunqSize)
	fmt.Fprintf(w, "    m %#x\n", p.M)
}

// TimersHeader prints the timer heap without its timers.
func TimersHeader(w io.Writer, ts *rt.TimersRec) {
	fmt.Fprintf(w, "go timers:\n")
	fmt.Fprintf(w, "  goroutine %#x\n", ts.TimerProc)
	fmt.Fprintf(w, "  len %d cap %d\n", ts.Len, ts.Cap)
	fmt.Fprintf(w, "  t %#x\n", ts.T)
	fmt.Fprintf(w, "  sleeping %d resched %d\n", ts.Sleeping, ts.Rescheduling)
}

// Timer prints one timer.
func Timer(w io.Writer, t rt.TimerRec) {
	fmt.Fprintf(w, "      when %d period %d\n", t.When, t.Period)
}

// Timers prints the timer heap and its timers.
func Timers(w io.Writer, ts *rt.TimersRec) {
	TimersHeader(w, ts)
	for _, t := range ts.Timers {
		Timer(w, t)
	}
}

// SigTabHeader starts a signal table dump.
func SigTabHeader(w io.Writer) {
	fmt.Fprintf(w, "printing sigtab:\n")
}

// SigTabEntry prints one signal table entry. Flag bits without a name are
// shown as a raw mask after the names.
func SigTabEntry(w io.Writer, e rt.SigTabEntry) {
	fmt.Fprintf(w, "    [%d] %s\n", e.Index, e.Name)
	names := e.Flags.Names()
	if len(names) == 0 && e.Flags.Unknown() == 0 {
		names = []string{"NONE"}
	}
	if u := e.Flags.Unknown(); u != 0 {
		names = append(names, fmt.Sprintf("%#x", uint32(u)))
	}
	fmt.Fprintf(w, "       flags:  %s\n", strings.Join(names, " | "))
}

// SigTab prints signal table entries.
func SigTab(w io.Writer, entries []rt.SigTabEntry) {
	SigTabHeader(w)
	for _, e := range entries {
		SigTabEntry(w, e)
	}
}

// Defer prints a deferred call.
func Defer(w io.Writer, d *rt.DeferRec, sym Symbolizer) {
	fmt.Fprintf(w, "%#x: defer siz %d\n", d.Addr, d.Siz)
	fmt.Fprintf(w, "    fn %#x\n", d.Fn)
	fmt.Fprintf(w, "    pc %#x (%s)\n", d.PC, sym(d.PC))
	fmt.Fprintf(w, "    argp %#x\n", d.ArgP)
}

// Panic prints a panic record.
func Panic(w io.Writer, p *rt.PanicRec) {
	state := "active"
	if p.Recovered {
		state = "recovered"
	}
	fmt.Fprintf(w, "%#x: panic [%s]\n", p.Addr, state)
	fmt.Fprintf(w, "    arg type %#x data %#x\n", p.ArgType, p.ArgData)
	fmt.Fprintf(w, "    stackbase %#x\n", p.StackBase)
}

// Context prints the registers of an execution context.
func Context(w io.Writer, a *arch.Arch, ctx stack.Context) {
	regs := a.Registers()
	fmt.Fprintf(w, "%s = %#x\n", regs[0], ctx.FP)
	fmt.Fprintf(w, "%s = %#x\n", regs[1], ctx.IP)
	fmt.Fprintf(w, "%s = %#x\n", regs[2], ctx.SP)
}
