package gort_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/mdb-go/pkg/arch"
	"github.com/TritonDataCenter/mdb-go/pkg/gort"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/gorttest"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/pclntab"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/rt"
	"github.com/TritonDataCenter/mdb-go/pkg/target"
)

func newSession(t *testing.T, a *arch.Arch) (*gort.Session, *gorttest.Process) {
	t.Helper()
	p := gorttest.New(a)
	s, err := gort.NewSession(p, gort.DefaultConfig())
	require.NoError(t, err)
	return s, p
}

func TestSessionStack(t *testing.T) {
	for _, a := range []*arch.Arch{arch.AMD64, arch.I386} {
		s, _ := newSession(t, a)
		require.True(t, s.Configured())
		require.Equal(t, "go1.2", s.Version())

		frames, err := s.Stack(nil, 0)
		require.NoError(t, err)
		var names []string
		for _, fr := range frames {
			names = append(names, fr.Func.Name)
		}
		require.Equal(t, gorttest.StackNames, names)

		fr, err := s.Frame(0)
		require.NoError(t, err)
		require.Equal(t, "main.work", fr.Func.Name)
		require.Equal(t, uint64(gorttest.StackSP), fr.Slot)

		var slots []uint64
		require.NoError(t, s.Walk("goframe", 0, func(addr uint64) bool {
			slots = append(slots, addr)
			return true
		}))
		require.Len(t, slots, 4)
		require.Equal(t, uint64(gorttest.StackSP), slots[0])
	}
}

func TestSessionLists(t *testing.T) {
	s, p := newSession(t, arch.AMD64)

	collect := func(walk func(uint64, func(uint64) bool) error) []uint64 {
		var r []uint64
		require.NoError(t, walk(0, func(addr uint64) bool {
			r = append(r, addr)
			return true
		}))
		return r
	}
	require.Equal(t, p.GS, collect(s.WalkG))
	require.Equal(t, p.MS, collect(s.WalkM))
	require.Equal(t, p.PS, collect(s.WalkP))

	g, err := s.G(p.GS[2])
	require.NoError(t, err)
	require.Equal(t, rt.Gsyscall, g.Status)
	require.True(t, g.IsSystem)

	m, err := s.M(p.MS[0])
	require.NoError(t, err)
	require.Equal(t, p.GS[0], m.CurG)

	pp, err := s.P(p.PS[0])
	require.NoError(t, err)
	require.Equal(t, rt.Prunning, pp.Status)
	require.Equal(t, int32(2), pp.RunqSize)

	err = s.Walk("nope", 0, func(uint64) bool { return true })
	require.ErrorIs(t, err, gort.ErrNoWalker)
}

func TestSessionDefers(t *testing.T) {
	s, p := newSession(t, arch.AMD64)
	ds, err := s.Defers(p.GS[0])
	require.NoError(t, err)
	require.Len(t, ds, 2)
	require.Equal(t, int32(8), ds[0].Siz)
	require.Equal(t, "main.main+0x20", s.Symbolize(ds[0].PC))

	ps, err := s.Panics(p.GS[0])
	require.NoError(t, err)
	require.Empty(t, ps)
}

func TestSessionTimersAndSigTab(t *testing.T) {
	s, p := newSession(t, arch.I386)
	ts, err := s.Timers()
	require.NoError(t, err)
	require.Equal(t, p.GS[1], ts.TimerProc)
	require.Len(t, ts.Timers, 2)
	require.Equal(t, int64(2000), ts.Timers[1].When)

	ents, err := s.SigTab(0, rt.SigTabLen-1)
	require.NoError(t, err)
	require.Len(t, ents, rt.SigTabLen)
	require.Equal(t, gorttest.SigNames[1], ents[1].Name)
	require.Equal(t, "NOTIFY | KILL", ents[1].Flags.String())
}

func TestSessionSymbolOverride(t *testing.T) {
	p := gorttest.New(arch.AMD64)
	addr, err := p.LookupSymbol(rt.SymSigTab)
	require.NoError(t, err)
	p.SetSymbol("alt.sigtab", addr)
	cfg := gort.DefaultConfig()
	cfg.Symbols = map[string]string{"sigtab": "alt.sigtab", "allg": "alt.allg"}
	s, err := gort.NewSession(p, cfg)
	require.NoError(t, err)
	_, err = s.SigTab(1, 1)
	require.NoError(t, err)

	err = s.WalkG(0, func(uint64) bool { return true })
	var symErr *target.SymbolNotFoundError
	require.ErrorAs(t, err, &symErr)
	require.Equal(t, "alt.allg", symErr.Name)
}

func TestSessionUnconfigured(t *testing.T) {
	p := gorttest.New(arch.AMD64)
	p.PutUint(gorttest.TabBase, 4, 0x1)
	s, err := gort.NewSession(p, gort.DefaultConfig())
	var cfgErr *pclntab.ConfigurationInvalidError
	require.ErrorAs(t, err, &cfgErr)
	require.False(t, s.Configured())

	_, err = s.Stack(nil, 0)
	require.ErrorIs(t, err, pclntab.ErrUnconfigured)

	// the runtime lists do not need the function table
	g, err := s.G(p.GS[0])
	require.NoError(t, err)
	require.Equal(t, int64(1), g.ID)

	// fixing the header and reconfiguring recovers
	p.PutUint(gorttest.TabBase, 4, pclntab.Magic)
	require.NoError(t, s.Configure())
	_, err = s.Stack(nil, 0)
	require.NoError(t, err)
}

func TestSessionInstruction(t *testing.T) {
	s, p := newSession(t, arch.AMD64)
	p.Write(0x1008, []byte{0xe8, 0xf3, 0x00, 0x00, 0x00})
	inst, err := s.Instruction(0x1008)
	require.NoError(t, err)
	require.True(t, inst.IsCall)
	require.Equal(t, 5, inst.Len)
	require.Contains(t, inst.Text, "CALL")
}
