package stack_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/mdb-go/pkg/arch"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/pclntab"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/stack"
	"github.com/TritonDataCenter/mdb-go/pkg/target"
	"github.com/TritonDataCenter/mdb-go/pkg/target/targettest"
)

const sp = 0x7000

func fixture(t *testing.T, a *arch.Arch) (*targettest.Image, *pclntab.Table) {
	im := targettest.New(a)
	im.BuildFuncTable(0x400000, []targettest.Func{
		{Name: "main.leaf", Entry: 0x1000, Frame: 0x10},
		{Name: "main.middle", Entry: 0x1100, Frame: 0x20},
		{Name: "main.main", Entry: 0x1200, Frame: 0x18},
		{Name: "main.spin", Entry: 0x1300, Frame: 0},
		{Name: "runtime.goexit", Entry: 0x1400, Frame: 0x8},
	}, 0x1500)
	tab, err := pclntab.Open(im, pclntab.Options{CacheEntries: true})
	require.NoError(t, err)
	return im, tab
}

func names(frames []stack.Frame) []string {
	r := make([]string, len(frames))
	for i := range frames {
		r[i] = frames[i].Func.Name
	}
	return r
}

func TestUnwindToNullSlot(t *testing.T) {
	for _, a := range []*arch.Arch{arch.AMD64, arch.I386} {
		im, tab := fixture(t, a)
		im.PutWord(sp, 0x1010)
		im.PutWord(sp+0x10, 0x1120)
		im.PutWord(sp+0x30, 0x1280)
		im.PutWord(sp+0x48, 0)

		it := stack.NewIterator(im, a, tab, sp)
		var frames []stack.Frame
		for it.Next() {
			frames = append(frames, it.Frame())
		}
		require.NoError(t, it.Err())
		require.True(t, it.Done())
		require.Equal(t, []string{"main.leaf", "main.middle", "main.main"}, names(frames))
		require.Equal(t, []uint64{sp, sp + 0x10, sp + 0x30}, []uint64{frames[0].Slot, frames[1].Slot, frames[2].Slot})
		require.Equal(t, uint64(0x1280), frames[2].PC)
		require.False(t, it.Next())
	}
}

func TestUnwindFrameAdvancesToNull(t *testing.T) {
	im, tab := fixture(t, arch.AMD64)
	last := ^uint64(0) - 0xf
	im.PutWord(last, 0x1010)

	it := stack.NewIterator(im, arch.AMD64, tab, last)
	frames, err := it.Collect(10)
	require.NoError(t, err)
	require.True(t, it.Done())
	require.Equal(t, []string{"main.leaf"}, names(frames))
	require.Equal(t, last, frames[0].Slot)
}

func TestUnwindNullStart(t *testing.T) {
	_, tab := fixture(t, arch.AMD64)
	it := stack.NewIterator(targettest.New(arch.AMD64), arch.AMD64, tab, 0)
	require.False(t, it.Next())
	require.ErrorIs(t, it.Err(), target.ErrNullAddr)
	require.False(t, it.Done())
}

func TestUnwindStopsAtUnresolvable(t *testing.T) {
	im, tab := fixture(t, arch.AMD64)
	im.PutWord(sp, 0x1010)
	im.PutWord(sp+0x10, 0x9999)

	frames, err := stack.NewIterator(im, arch.AMD64, tab, sp).Collect(10)
	require.ErrorIs(t, err, pclntab.ErrNotFound)
	require.Equal(t, []string{"main.leaf"}, names(frames))
}

func TestUnwindStopsAtReadFault(t *testing.T) {
	im, tab := fixture(t, arch.AMD64)
	// one frame whose successor slot is off the end of the mapped stack
	im.PutWord(0x7ff8, 0x1010)
	frames, err := stack.NewIterator(im, arch.AMD64, tab, 0x7ff8).Collect(10)
	var fault *target.ReadFaultError
	require.ErrorAs(t, err, &fault)
	require.Equal(t, uint64(0x8008), fault.Addr)
	require.Len(t, frames, 1)
}

func TestUnwindZeroFrame(t *testing.T) {
	im, tab := fixture(t, arch.AMD64)
	im.PutWord(sp, 0x1010)
	im.PutWord(sp+0x10, 0x1310)

	it := stack.NewIterator(im, arch.AMD64, tab, sp)
	frames, err := it.Collect(10)
	var np *stack.NoProgressError
	require.True(t, errors.As(err, &np))
	require.Equal(t, "main.spin", np.Fn)
	require.Equal(t, []string{"main.leaf", "main.spin"}, names(frames))
}

func TestUnwindTopOfStack(t *testing.T) {
	im, tab := fixture(t, arch.AMD64)
	im.PutWord(sp, 0x1010)
	im.PutWord(sp+0x10, 0x1400)
	im.PutWord(sp+0x18, 0x1010)

	frames, err := stack.NewIterator(im, arch.AMD64, tab, sp).Collect(10)
	require.NoError(t, err)
	require.Equal(t, []string{"main.leaf", "runtime.goexit"}, names(frames))
}

func TestStacktrace(t *testing.T) {
	im, tab := fixture(t, arch.AMD64)
	im.PutWord(sp, 0x1120)
	im.PutWord(sp+0x20, 0x1280)
	im.PutWord(sp+0x38, 0)
	im.SetContext(1, 0, 0x1008, sp)

	ctx, err := stack.Current(im)
	require.NoError(t, err)
	require.Equal(t, stack.Context{FP: 0, IP: 0x1008, SP: sp}, ctx)

	frames, err := stack.Stacktrace(im, arch.AMD64, tab, ctx, 50)
	require.NoError(t, err)
	require.Equal(t, []string{"main.leaf", "main.middle", "main.main"}, names(frames))
	require.Equal(t, uint64(0), frames[0].Slot)

	frames, err = stack.Stacktrace(im, arch.AMD64, tab, ctx, 1)
	require.NoError(t, err)
	require.Len(t, frames, 2)

	_, err = stack.Stacktrace(im, arch.AMD64, tab, ctx, -1)
	require.Error(t, err)
}

func TestCurrentMissingRegister(t *testing.T) {
	im, _ := fixture(t, arch.AMD64)
	im.SetRegister(1, "rip", 0x1000)
	_, err := stack.Current(im)
	var regErr *target.RegisterError
	require.ErrorAs(t, err, &regErr)
	require.Equal(t, "rbp", regErr.Name)
}

func TestFrameAt(t *testing.T) {
	im, tab := fixture(t, arch.I386)
	im.PutWord(sp, 0x1234)
	fr, err := stack.FrameAt(im, arch.I386, tab, sp)
	require.NoError(t, err)
	require.Equal(t, "main.main", fr.Func.Name)
	require.Equal(t, uint64(0x1200), fr.Func.Entry)

	_, err = stack.FrameAt(im, arch.I386, tab, 0)
	require.ErrorIs(t, err, target.ErrNullAddr)
}
