package rt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/mdb-go/pkg/arch"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/layout"
	"github.com/TritonDataCenter/mdb-go/pkg/target/targettest"
)

type offsetCase struct {
	typ     *layout.Type
	offsets map[string]int
	size    int
}

func checkOffsets(t *testing.T, a *arch.Arch, cases []offsetCase) {
	t.Helper()
	for _, tc := range cases {
		l := Layout(tc.typ, a)
		for path, want := range tc.offsets {
			if got := l.Offset(path); got != want {
				t.Errorf("%s %s.%s: offset %d, expected %d", a, tc.typ.Name, path, got, want)
			}
		}
		if tc.size >= 0 && l.Size != tc.size {
			t.Errorf("%s %s: size %d, expected %d", a, tc.typ.Name, l.Size, tc.size)
		}
	}
}

func TestLayoutsAMD64(t *testing.T) {
	checkOffsets(t, arch.AMD64, []offsetCase{
		{Gobuf, map[string]int{"sp": 0, "pc": 8, "g": 16}, 48},
		{G, map[string]int{
			"stackbase": 8, "defer": 24, "panic": 32,
			"sched": 40, "sched.sp": 40, "sched.pc": 48, "sched.g": 56,
			"syscallstack": 88, "syscallsp": 96, "syscallpc": 104, "syscallguard": 112,
			"stackguard": 120, "alllink": 144, "status": 160, "goid": 168,
			"waitreason": 176, "ispanic": 192, "issystem": 193, "isbackground": 194,
			"m": 200, "gopc": 272,
		}, 288},
		{M, map[string]int{
			"gsignal": 88, "curg": 136, "caughtsig": 144, "p": 152, "nextp": 160,
			"id": 168, "fastrand": 204, "ncgocall": 208, "alllink": 240,
			"stackcache": 288, "lockedg": 544, "gcstats": 968, "libcall": 9240, "seh": 9288,
		}, 9296},
		{P, map[string]int{"id": 8, "status": 12, "link": 16, "m": 32, "runqsize": 64, "pad": 84}, 152},
		{Timers, map[string]int{"timerproc": 8, "sleeping": 16, "rescheduling": 17, "t": 32, "len": 40, "cap": 44}, 48},
		{Timer, map[string]int{"i": 0, "when": 8, "period": 16, "fv": 24, "arg.data": 40}, 48},
		{SigTab, map[string]int{"flags": 0, "name": 8}, 16},
		{Defer, map[string]int{"siz": 0, "special": 4, "free": 5, "argp": 8, "pc": 16, "fn": 24, "link": 32}, 48},
		{Panic, map[string]int{"arg": 0, "stackbase": 16, "link": 24, "recovered": 32}, 40},
	})
}

func TestLayouts386(t *testing.T) {
	checkOffsets(t, arch.I386, []offsetCase{
		{Gobuf, map[string]int{"sp": 0, "pc": 4, "g": 8}, 24},
		{G, map[string]int{
			"sched.sp": 24, "sched.pc": 28, "syscallstack": 48, "stackguard": 64,
			"alllink": 76, "status": 84, "goid": 88, "ispanic": 104, "m": 112, "gopc": 152,
		}, 160},
		{P, map[string]int{"id": 4, "status": 8, "link": 12, "m": 24, "runqsize": 44, "pad": 56}, 120},
		{Timers, map[string]int{"timerproc": 4, "sleeping": 8, "t": 16, "len": 20, "cap": 24}, 28},
		{Timer, map[string]int{"when": 4, "period": 12, "fv": 20}, 32},
		{SigTab, map[string]int{"flags": 0, "name": 4}, 8},
		{Panic, map[string]int{"stackbase": 8, "link": 12, "recovered": 16}, 20},
	})
}

func TestStatusNames(t *testing.T) {
	gtests := map[GStatus]string{
		Gidle: "Gidle", Grunnable: "Grunnable", Grunning: "Grunning", Gsyscall: "Gsyscall",
		Gwaiting: "Gwaiting", GmoribundUnused: "Gmoribund_unused", Gdead: "Gdead",
		7: Unknown, -1: Unknown,
	}
	for s, want := range gtests {
		require.Equal(t, want, s.String())
	}
	ptests := map[PStatus]string{
		Pidle: "Pidle", Prunning: "Prunning", Psyscall: "Psyscall", Pgcstop: "Pgcstop", Pdead: "Pdead",
		5: Unknown, 0xffffffff: Unknown,
	}
	for s, want := range ptests {
		require.Equal(t, want, s.String())
	}
}

func TestSigFlags(t *testing.T) {
	tests := []struct {
		fl   SigFlags
		want string
	}{
		{0, "NONE"},
		{SigNotify | SigKill, "NOTIFY | KILL"},
		{SigThrow | SigIgnored, "THROW | IGNORED"},
		{SigPanic | 1<<9, "PANIC"},
		{1 << 9, "0x200"},
		{SigKnown, "NOTIFY | KILL | THROW | PANIC | DEFAULT | HANDLING | IGNORED"},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, tc.fl.String(), "flags %#x", uint32(tc.fl))
	}
	require.Equal(t, SigFlags(1<<9), (SigPanic | 1<<9).Unknown())
}

func TestReadGSyscall(t *testing.T) {
	a := arch.AMD64
	l := Layout(G, a)
	im := targettest.New(a)
	im.Write(0x10000, l.Encode(map[string]uint64{
		"goid":         7,
		"status":       uint64(Gsyscall),
		"stackbase":    0x1,
		"sched.sp":     0x2,
		"sched.pc":     0x3,
		"stackguard":   0x4,
		"syscallstack": 0x11,
		"syscallsp":    0x12,
		"syscallpc":    0x13,
		"syscallguard": 0x14,
		"issystem":     1,
	}))
	g, err := ReadG(im, a, 0x10000)
	require.NoError(t, err)
	require.Equal(t, int64(7), g.ID)
	require.True(t, g.IsSystem)
	require.False(t, g.IsPanic)
	base, sp, pc, guard := g.Stack()
	require.Equal(t, []uint64{0x11, 0x12, 0x13, 0x14}, []uint64{base, sp, pc, guard})

	g.Status = Grunning
	base, sp, pc, guard = g.Stack()
	require.Equal(t, []uint64{0x1, 0x2, 0x3, 0x4}, []uint64{base, sp, pc, guard})
}

func putTimers(im *targettest.Image, addr uint64, whens []int64) {
	a := im.Arch()
	tl := Layout(Timer, a)
	arr := addr + 0x1000
	for i, w := range whens {
		taddr := addr + 0x2000 + uint64(i)*uint64(tl.Size)
		im.Write(taddr, tl.Encode(map[string]uint64{"i": uint64(i), "when": uint64(w), "period": 100}))
		im.PutWord(arr+uint64(i*a.PtrSize), taddr)
	}
	im.Write(addr, Layout(Timers, a).Encode(map[string]uint64{
		"timerproc": 0xc000,
		"sleeping":  1,
		"t":         arr,
		"len":       uint64(len(whens)),
		"cap":       8,
	}))
}

func TestReadTimers(t *testing.T) {
	for _, a := range []*arch.Arch{arch.AMD64, arch.I386} {
		im := targettest.New(a)
		putTimers(im, 0x40000, []int64{10, 20, 30})
		ts, err := ReadTimers(im, a, 0x40000)
		require.NoError(t, err)
		require.Equal(t, uint64(0xc000), ts.TimerProc)
		require.Equal(t, uint8(1), ts.Sleeping)
		require.Equal(t, int32(3), ts.Len)
		require.Len(t, ts.Timers, 3)
		for i, tm := range ts.Timers {
			require.Equal(t, int64(10*(i+1)), tm.When)
			require.Equal(t, int64(100), tm.Period)
		}
	}
}

func TestReadTimersAbortsOnFault(t *testing.T) {
	a := arch.AMD64
	im := targettest.New(a)
	putTimers(im, 0x40000, []int64{10, 20})
	im.PutWord(0x40000+0x1000+8, 0xdead0000)
	ts, err := ReadTimers(im, a, 0x40000)
	require.Error(t, err)
	require.Len(t, ts.Timers, 1)
}

func putSigTab(im *targettest.Image, addr uint64, flags []SigFlags) {
	a := im.Arch()
	l := Layout(SigTab, a)
	names := uint64(0x90000)
	for i, fl := range flags {
		name := names + uint64(i*16)
		im.PutCString(name, "SIG"+string(rune('A'+i)))
		im.Write(addr+uint64(i*l.Size), l.Encode(map[string]uint64{"flags": uint64(fl), "name": name}))
	}
}

func TestReadSigTab(t *testing.T) {
	for _, a := range []*arch.Arch{arch.AMD64, arch.I386} {
		im := targettest.New(a)
		// The table ends at a page boundary, so entry 3 faults.
		base := 0x61000 - 3*uint64(Layout(SigTab, a).Size)
		putSigTab(im, base, []SigFlags{0, SigNotify | SigKill, SigIgnored})
		ents, err := ReadSigTab(im, a, base, 0, 2, 64)
		require.NoError(t, err)
		require.Len(t, ents, 3)
		require.Equal(t, "SIGB", ents[1].Name)
		require.Equal(t, "NOTIFY | KILL", ents[1].Flags.String())
		require.Equal(t, 2, ents[2].Index)

		ents, err = ReadSigTab(im, a, base, 1, 1, 64)
		require.NoError(t, err)
		require.Len(t, ents, 1)
		require.Equal(t, 1, ents[0].Index)

		_, err = ReadSigTab(im, a, base, 0, SigTabLen, 64)
		require.Error(t, err)
		ents, err = ReadSigTab(im, a, base, 0, 5, 64)
		require.Error(t, err)
		require.Len(t, ents, 3)
	}
}

func TestReadGoString(t *testing.T) {
	a := arch.AMD64
	im := targettest.New(a)
	im.PutCString(0x9000, "go1.2")
	im.PutWord(0x8000, 0x9000)
	im.PutWord(0x8008, 5)
	s, err := ReadGoString(im, a, 0x8000, 64)
	require.NoError(t, err)
	require.Equal(t, "go1.2", s)
}
