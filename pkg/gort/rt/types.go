// Package rt describes the control structures of the Go runtime.
//
// The layouts below are those of the C runtime of the release named by
// RuntimeVersion (src/pkg/runtime/runtime.h). They are declared field by
// field, including fields mdb-go never reads, so that offsets and sizes
// come out exactly as the C compiler laid them out.
package rt

import (
	"github.com/TritonDataCenter/mdb-go/pkg/arch"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/layout"
)

// RuntimeVersion is the Go release whose runtime layouts are described
// here.
const RuntimeVersion = "go1.2"

const (
	// StackCacheSize is the per-M stack segment cache size.
	StackCacheSize = 32
	// SigTabLen is the number of entries of runtime.sigtab.
	SigTabLen = 73
)

var (
	u8   = layout.U8
	i8   = layout.I8
	i16  = layout.I16
	u32  = layout.U32
	i32  = layout.I32
	u64  = layout.U64
	i64  = layout.I64
	uptr = layout.Uptr
	ptr  = layout.Ptr
	f    = layout.F
)

var (
	Eface = layout.StructOf("Eface",
		f("type", ptr),
		f("data", ptr),
	)

	Lock = layout.StructOf("Lock",
		f("key", uptr),
	)

	Note = layout.StructOf("Note",
		f("key", uptr),
	)

	Gobuf = layout.StructOf("Gobuf",
		f("sp", uptr),
		f("pc", uptr),
		f("g", ptr),
		f("ret", uptr),
		f("ctxt", ptr),
		f("lr", uptr),
	)

	GCStats = layout.StructOf("GCStats",
		f("nhandoff", u64),
		f("nhandoffcnt", u64),
		f("nprocyield", u64),
		f("nosyield", u64),
		f("nsleep", u64),
	)

	SEH = layout.StructOf("SEH",
		f("prev", ptr),
		f("handler", ptr),
	)

	LibCall = layout.StructOf("LibCall",
		f("fn", ptr),
		f("n", uptr),
		f("args", ptr),
		f("r1", uptr),
		f("r2", uptr),
		f("err", uptr),
	)

	DeferChunk = layout.StructOf("DeferChunk",
		f("prev", ptr),
		f("off", uptr),
	)

	Defer = layout.StructOf("Defer",
		f("siz", i32),
		f("special", u8),
		f("free", u8),
		f("argp", ptr),
		f("pc", ptr),
		f("fn", ptr),
		f("link", ptr),
		f("args", layout.ArrayOf(ptr, 1)),
	)

	Panic = layout.StructOf("Panic",
		f("arg", Eface),
		f("stackbase", uptr),
		f("link", ptr),
		f("recovered", u8),
	)

	G = layout.StructOf("G",
		f("stackguard0", uptr),
		f("stackbase", uptr),
		f("panicwrap", u32),
		f("selgen", u32),
		f("defer", ptr),
		f("panic", ptr),
		f("sched", Gobuf),
		f("syscallstack", uptr),
		f("syscallsp", uptr),
		f("syscallpc", uptr),
		f("syscallguard", uptr),
		f("stackguard", uptr),
		f("stack0", uptr),
		f("stacksize", uptr),
		f("alllink", ptr),
		f("param", ptr),
		f("status", i16),
		f("goid", i64),
		f("waitreason", ptr),
		f("schedlink", ptr),
		f("ispanic", u8),
		f("issystem", u8),
		f("isbackground", u8),
		f("preempt", u8),
		f("raceignore", i8),
		f("m", ptr),
		f("lockedm", ptr),
		f("sig", i32),
		f("writenbuf", i32),
		f("writebuf", ptr),
		f("dchunk", ptr),
		f("dchunknext", ptr),
		f("sigcode0", uptr),
		f("sigcode1", uptr),
		f("sigpc", uptr),
		f("gopc", uptr),
		f("racectx", uptr),
		f("end", layout.ArrayOf(uptr, 0)),
	)

	P = layout.StructOf("P",
		f("lock", Lock),
		f("id", i32),
		f("status", u32),
		f("link", ptr),
		f("schedtick", u32),
		f("syscalltick", u32),
		f("m", ptr),
		f("mcache", ptr),
		f("runq", ptr),
		f("runqhead", i32),
		f("runqtail", i32),
		f("runqsize", i32),
		f("gfree", ptr),
		f("gfreecnt", i32),
		f("pad", layout.ArrayOf(u8, 64)),
	)

	M = layout.StructOf("M",
		f("g0", ptr),
		f("moreargp", ptr),
		f("morebuf", Gobuf),
		f("moreframesize", u32),
		f("moreargsize", u32),
		f("cret", uptr),
		f("procid", u64),
		f("gsignal", ptr),
		f("tls", layout.ArrayOf(uptr, 4)),
		f("mstartfn", ptr),
		f("curg", ptr),
		f("caughtsig", ptr),
		f("p", ptr),
		f("nextp", ptr),
		f("id", i32),
		f("mallocing", i32),
		f("throwing", i32),
		f("gcing", i32),
		f("locks", i32),
		f("dying", i32),
		f("profilehz", i32),
		f("helpgc", i32),
		f("spinning", u8),
		f("fastrand", u32),
		f("ncgocall", u64),
		f("ncgo", i32),
		f("cgomal", ptr),
		f("park", Note),
		f("alllink", ptr),
		f("schedlink", ptr),
		f("machport", u32),
		f("mcache", ptr),
		f("stackinuse", i32),
		f("stackcachepos", u32),
		f("stackcachecnt", u32),
		f("stackcache", layout.ArrayOf(ptr, StackCacheSize)),
		f("lockedg", ptr),
		f("createstack", layout.ArrayOf(uptr, 32)),
		f("freglo", layout.ArrayOf(u32, 16)),
		f("freghi", layout.ArrayOf(u32, 16)),
		f("fflag", u32),
		f("locked", u32),
		f("nextwaitm", ptr),
		f("waitsema", uptr),
		f("waitsemacount", u32),
		f("waitsemalock", u32),
		f("gcstats", GCStats),
		f("racecall", u8),
		f("needextram", u8),
		f("waitunlockf", ptr),
		f("waitlock", ptr),
		f("settype_buf", layout.ArrayOf(uptr, 1024)),
		f("settype_bufsize", uptr),
		f("perrno", ptr),
		f("libcall", LibCall),
		f("seh", ptr),
		f("end", layout.ArrayOf(uptr, 0)),
	)

	Timer = layout.StructOf("Timer",
		f("i", i32),
		f("when", i64),
		f("period", i64),
		f("fv", ptr),
		f("arg", Eface),
	)

	Timers = layout.StructOf("Timers",
		f("lock", Lock),
		f("timerproc", ptr),
		f("sleeping", u8),
		f("rescheduling", u8),
		f("waitnote", Note),
		f("t", ptr),
		f("len", i32),
		f("cap", i32),
	)

	SigTab = layout.StructOf("SigTab",
		f("flags", i32),
		f("name", ptr),
	)
)

// All lists every runtime structure.
var All = []*layout.Type{Eface, Lock, Note, Gobuf, GCStats, SEH, LibCall, DeferChunk, Defer, Panic, G, P, M, Timer, Timers, SigTab}

// Layout returns the layout of t on a.
func Layout(t *layout.Type, a *arch.Arch) *layout.Layout {
	return layout.Of(t, a)
}
