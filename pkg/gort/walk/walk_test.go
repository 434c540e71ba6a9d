package walk_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/mdb-go/pkg/arch"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/layout"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/rt"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/walk"
	"github.com/TritonDataCenter/mdb-go/pkg/target"
	"github.com/TritonDataCenter/mdb-go/pkg/target/targettest"
)

const allgSym = 0x500000

// putList writes a list of n elements of typ linked through link and
// stores the head at the root symbol.
func putList(im *targettest.Image, root string, typ *layout.Type, link string, n int) []uint64 {
	l := layout.Of(typ, im.Arch())
	addrs := make([]uint64, n)
	for i := range addrs {
		addrs[i] = 0x100000 + uint64(i)*0x4000
	}
	for i, addr := range addrs {
		var next uint64
		if i+1 < n {
			next = addrs[i+1]
		}
		im.Write(addr, l.Encode(map[string]uint64{link: next}))
	}
	im.SetSymbol(root, allgSym)
	var head uint64
	if n > 0 {
		head = addrs[0]
	}
	im.PutWord(allgSym, head)
	return addrs
}

func TestWalkLists(t *testing.T) {
	tests := []struct {
		w   *walk.Walker
		sym string
		typ *layout.Type
	}{
		{walk.AllG, rt.SymAllG, rt.G},
		{walk.AllM, rt.SymAllM, rt.M},
		{walk.AllP, rt.SymAllP, rt.P},
	}
	for _, a := range []*arch.Arch{arch.AMD64, arch.I386} {
		for _, tc := range tests {
			im := targettest.New(a)
			want := putList(im, tc.sym, tc.typ, tc.w.Link, 4)
			got, err := tc.w.Collect(im, 0, 0)
			require.NoError(t, err, "%s %s", a, tc.w.Name)
			require.Equal(t, want, got)

			// walking again yields the same sequence
			got, err = tc.w.Collect(im, 0, 0)
			require.NoError(t, err)
			require.Equal(t, want, got)

			// starting from an explicit element
			got, err = tc.w.Collect(im, 0, want[2])
			require.NoError(t, err)
			require.Equal(t, want[2:], got)
		}
	}
}

func TestWalkEmpty(t *testing.T) {
	im := targettest.New(arch.AMD64)
	putList(im, rt.SymAllG, rt.G, "alllink", 0)
	got, err := walk.AllG.Collect(im, 0, 0)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestWalkHalt(t *testing.T) {
	im := targettest.New(arch.AMD64)
	want := putList(im, rt.SymAllG, rt.G, "alllink", 5)
	var got []uint64
	err := walk.AllG.Walk(im, 0, 0, func(addr uint64) bool {
		got = append(got, addr)
		return len(got) < 2
	})
	require.NoError(t, err)
	require.Equal(t, want[:2], got)
}

func TestWalkFaultMidway(t *testing.T) {
	im := targettest.New(arch.AMD64)
	addrs := putList(im, rt.SymAllG, rt.G, "alllink", 4)
	im.Unmap(addrs[2], 1)
	got, err := walk.AllG.Collect(im, 0, 0)
	var fault *target.ReadFaultError
	require.ErrorAs(t, err, &fault)
	require.Equal(t, addrs[2], fault.Addr)
	require.Equal(t, addrs[:3], got)
}

func TestWalkMissingSymbol(t *testing.T) {
	im := targettest.New(arch.AMD64)
	_, err := walk.AllM.Collect(im, 0, 0)
	var symErr *target.SymbolNotFoundError
	require.ErrorAs(t, err, &symErr)
	require.Equal(t, rt.SymAllM, symErr.Name)
}

func TestWalkCycle(t *testing.T) {
	im := targettest.New(arch.AMD64)
	addrs := putList(im, rt.SymAllP, rt.P, "link", 3)
	l := layout.Of(rt.P, arch.AMD64)
	im.PutWord(addrs[2]+uint64(l.Offset("link")), addrs[0])
	got, err := walk.AllP.Collect(im, 0, 0)
	var cycle *walk.CycleError
	require.ErrorAs(t, err, &cycle)
	require.Equal(t, addrs[0], cycle.Addr)
	require.Equal(t, addrs, got)
}

func TestWithRoot(t *testing.T) {
	im := targettest.New(arch.AMD64)
	want := putList(im, "allg", rt.G, "alllink", 2)
	got, err := walk.AllG.WithRoot("allg").Collect(im, 0, 0)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, rt.SymAllG, walk.AllG.Root)
}

func TestDeferChain(t *testing.T) {
	a := arch.AMD64
	im := targettest.New(a)
	dl := layout.Of(rt.Defer, a)
	d1, d2 := uint64(0x30000), uint64(0x31000)
	im.Write(d1, dl.Encode(map[string]uint64{"siz": 8, "link": d2}))
	im.Write(d2, dl.Encode(map[string]uint64{"siz": 16}))
	g := uint64(0x20000)
	im.Write(g, layout.Of(rt.G, a).Encode(map[string]uint64{"defer": d1}))

	got, err := walk.DeferChain.Collect(im, g, 0)
	require.NoError(t, err)
	require.Equal(t, []uint64{d1, d2}, got)

	_, err = walk.DeferChain.Collect(im, 0, 0)
	require.ErrorIs(t, err, target.ErrNullAddr)

	got, err = walk.PanicChain.Collect(im, g, 0)
	require.NoError(t, err)
	require.Empty(t, got)
}
