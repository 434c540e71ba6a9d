package layout

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/mdb-go/pkg/arch"
	"github.com/TritonDataCenter/mdb-go/pkg/target/targettest"
)

var (
	inner = StructOf("inner",
		F("a", U8),
		F("b", Ptr),
	)
	outer = StructOf("outer",
		F("x", I16),
		F("big", I64),
		F("in", inner),
		F("c", U8),
		F("arr", ArrayOf(U32, 3)),
		F("end", ArrayOf(Uptr, 0)),
	)
)

func TestOffsets(t *testing.T) {
	tests := []struct {
		a     *arch.Arch
		paths map[string]int
		size  int
	}{
		{arch.AMD64, map[string]int{"x": 0, "big": 8, "in": 16, "in.a": 16, "in.b": 24, "c": 32, "arr": 36, "end": 48}, 48},
		{arch.I386, map[string]int{"x": 0, "big": 4, "in": 12, "in.a": 12, "in.b": 16, "c": 20, "arr": 24, "end": 36}, 36},
	}
	for _, tc := range tests {
		l := Of(outer, tc.a)
		for path, off := range tc.paths {
			if got := l.Offset(path); got != off {
				t.Errorf("%s: offset of %s is %d, expected %d", tc.a, path, got, off)
			}
		}
		if l.Size != tc.size {
			t.Errorf("%s: size is %d, expected %d", tc.a, l.Size, tc.size)
		}
	}
}

func TestOfIsCached(t *testing.T) {
	require.Same(t, Of(outer, arch.AMD64), Of(outer, arch.AMD64))
	require.NotSame(t, Of(outer, arch.AMD64), Of(outer, arch.I386))
}

func TestUnknownPathPanics(t *testing.T) {
	l := Of(outer, arch.AMD64)
	require.False(t, l.Has("nope"))
	require.True(t, l.Has("in.b", "c"))
	require.Panics(t, func() { l.Offset("nope") })
	require.Panics(t, func() { l.Put(make([]byte, l.Size), "in", 1) })
}

func TestRecordRead(t *testing.T) {
	for _, a := range []*arch.Arch{arch.AMD64, arch.I386} {
		l := Of(outer, a)
		neg := int64(-2)
		buf := l.Encode(map[string]uint64{
			"x":    uint64(neg),
			"big":  uint64(neg),
			"in.a": 0xfe,
			"in.b": 0x1234,
			"c":    1,
		})
		for i := 0; i < 3; i++ {
			a.ByteOrder.PutUint32(buf[l.Offset("arr")+4*i:], uint32(10+i))
		}
		im := targettest.New(a)
		im.Write(0x5000, buf)

		r, err := Read(im, l, 0x5000)
		require.NoError(t, err)
		require.Equal(t, int64(-2), r.Int("x"))
		require.Equal(t, uint64(0xfffe), r.Uint("x"))
		require.Equal(t, int64(-2), r.Int("big"))
		require.Equal(t, int64(0xfe), r.Int("in.a"))
		require.Equal(t, uint64(0x1234), r.Uint("in.b"))
		require.True(t, r.Bool("c"))
		require.Equal(t, uint64(0x5000+l.Offset("in.b")), r.FieldAddr("in.b"))
		require.Equal(t, uint64(12), r.Index("arr", 2))
		require.Len(t, r.Bytes("in"), inner.Size(a))
	}
}

func TestReadFault(t *testing.T) {
	im := targettest.New(arch.AMD64)
	_, err := Read(im, Of(outer, arch.AMD64), 0x5000)
	require.Error(t, err)
	_, err = Read(im, Of(outer, arch.AMD64), 0)
	require.Error(t, err)
}
