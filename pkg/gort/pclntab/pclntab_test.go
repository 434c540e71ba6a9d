package pclntab_test

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/mdb-go/pkg/arch"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/pclntab"
	"github.com/TritonDataCenter/mdb-go/pkg/logflags"
	"github.com/TritonDataCenter/mdb-go/pkg/target"
	"github.com/TritonDataCenter/mdb-go/pkg/target/targettest"
)

const tabBase = 0x400000

func threeEntryImage(a *arch.Arch) *targettest.Image {
	im := targettest.New(a)
	im.SetSymbol("pclntab", tabBase)
	h := im.ValidHeader(3)
	im.PutFuncTabHeader(tabBase, h)
	im.PutFuncTabEntries(tabBase, []targettest.FuncTabEntry{
		{Entry: 0x1000, Offset: 0},
		{Entry: 0x2000, Offset: 64},
		{Entry: 0x3000, Offset: 128},
	})
	return im
}

func TestResolve(t *testing.T) {
	for _, a := range []*arch.Arch{arch.AMD64, arch.I386} {
		t.Run(a.Name, func(t *testing.T) {
			tab, err := pclntab.Open(threeEntryImage(a), pclntab.Options{})
			require.NoError(t, err)
			require.True(t, tab.Configured())

			tests := []struct {
				addr uint64
				off  uint64
				err  error
			}{
				{0x1000, 0, nil},
				{0x1500, 0, nil},
				{0x1fff, 0, nil},
				{0x2000, 64, nil},
				{0x2fff, 64, nil},
				{0x0fff, 0, pclntab.ErrNotFound},
				{0x3000, 0, pclntab.ErrNotFound},
				{0x3500, 0, pclntab.ErrNotFound},
				{0, 0, pclntab.ErrNotFound},
			}
			for _, tc := range tests {
				off, err := tab.Resolve(tc.addr)
				if tc.err != nil {
					if !errors.Is(err, tc.err) {
						t.Errorf("Resolve(%#x): expected %v, got %v", tc.addr, tc.err, err)
					}
					continue
				}
				if err != nil {
					t.Errorf("Resolve(%#x): %v", tc.addr, err)
					continue
				}
				if off != tc.off {
					t.Errorf("Resolve(%#x) = %d, expected %d", tc.addr, off, tc.off)
				}
			}
		})
	}
}

func TestInvalidHeader(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*targettest.Header)
		field string
	}{
		{"magic", func(h *targettest.Header) { h.Magic = 0x1 }, "magic"},
		{"zeros", func(h *targettest.Header) { h.Zeros = 0x100 }, "zeros"},
		{"quantum", func(h *targettest.Header) { h.Quantum = 4 }, "quantum"},
		{"ptrsize", func(h *targettest.Header) { h.PtrSize = 4 }, "ptrsize"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			im := threeEntryImage(arch.AMD64)
			h := im.ValidHeader(3)
			tc.edit(&h)
			im.PutFuncTabHeader(tabBase, h)

			tab, err := pclntab.Open(im, pclntab.Options{})
			var cfgErr *pclntab.ConfigurationInvalidError
			require.ErrorAs(t, err, &cfgErr)
			require.Equal(t, tc.field, cfgErr.Field)
			require.NotNil(t, tab)
			require.False(t, tab.Configured())

			_, err = tab.Resolve(0x1500)
			require.ErrorIs(t, err, pclntab.ErrUnconfigured)
			_, err = tab.LoadFunc(0)
			require.ErrorIs(t, err, pclntab.ErrUnconfigured)
			_, err = tab.FuncForPC(0x1500)
			require.ErrorIs(t, err, pclntab.ErrUnconfigured)
		})
	}
}

func TestInvalidTabsize(t *testing.T) {
	for _, count := range []uint64{1 << 63, 1 << 60, ^uint64(0), pclntab.MaxEntries + 1} {
		im := threeEntryImage(arch.AMD64)
		h := im.ValidHeader(3)
		h.Count = count
		im.PutFuncTabHeader(tabBase, h)

		tab, err := pclntab.Open(im, pclntab.Options{})
		var cfgErr *pclntab.ConfigurationInvalidError
		require.ErrorAs(t, err, &cfgErr, "count %#x", count)
		require.Equal(t, "tabsize", cfgErr.Field)
		require.Equal(t, count, cfgErr.Got)
		require.False(t, tab.Configured())

		_, err = tab.Resolve(0x1500)
		require.ErrorIs(t, err, pclntab.ErrUnconfigured)
		_, err = tab.Entries()
		require.ErrorIs(t, err, pclntab.ErrUnconfigured)
	}
}

func TestMissingSymbol(t *testing.T) {
	im := targettest.New(arch.AMD64)
	tab, err := pclntab.Open(im, pclntab.Options{})
	var symErr *target.SymbolNotFoundError
	require.ErrorAs(t, err, &symErr)
	require.Equal(t, "pclntab", symErr.Name)
	_, err = tab.Resolve(0x1000)
	require.ErrorIs(t, err, pclntab.ErrUnconfigured)
}

func TestRuntimeSymbolFallback(t *testing.T) {
	im := threeEntryImage(arch.AMD64)
	im2 := targettest.New(arch.AMD64)
	buf := make([]byte, 0x100)
	im.ReadMemory(buf, tabBase)
	im2.Write(tabBase, buf)
	im2.SetSymbol("runtime.pclntab", tabBase)

	tab, err := pclntab.Open(im2, pclntab.Options{})
	require.NoError(t, err)
	off, err := tab.Resolve(0x2500)
	require.NoError(t, err)
	require.Equal(t, uint64(64), off)
}

func TestHeaderReadFault(t *testing.T) {
	im := targettest.New(arch.AMD64)
	im.SetSymbol("pclntab", tabBase)
	_, err := pclntab.Open(im, pclntab.Options{})
	var fault *target.ReadFaultError
	require.ErrorAs(t, err, &fault)
}

func linearSearch(entries []pclntab.Entry, addr uint64) (int, bool) {
	for i := 0; i+1 < len(entries); i++ {
		if entries[i].Entry <= addr && addr < entries[i+1].Entry {
			return i, true
		}
	}
	return 0, false
}

func TestSearchMatchesLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, n := range []int{0, 1, 2, 3, 17, 1000} {
		addrs := make([]uint64, n)
		seen := map[uint64]bool{}
		for i := range addrs {
			for {
				a := uint64(rng.Intn(1<<20)) + 0x1000
				if !seen[a] {
					seen[a] = true
					addrs[i] = a
					break
				}
			}
		}
		sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
		entries := make([]pclntab.Entry, n)
		for i, a := range addrs {
			entries[i] = pclntab.Entry{Entry: a, Offset: uint64(i) * 40}
		}

		probes := []uint64{0, 0xfff, 1 << 21}
		for _, a := range addrs {
			probes = append(probes, a-1, a, a+1)
		}
		for i := 0; i < 200; i++ {
			probes = append(probes, uint64(rng.Intn(1<<20))+0x1000)
		}
		for _, addr := range probes {
			want, ok := linearSearch(entries, addr)
			got, err := pclntab.Search(entries, addr)
			if !ok {
				if !errors.Is(err, pclntab.ErrNotFound) {
					t.Fatalf("n=%d Search(%#x): expected ErrNotFound, got %d %v", n, addr, got, err)
				}
				continue
			}
			if err != nil || got != want {
				t.Fatalf("n=%d Search(%#x) = %d %v, expected %d", n, addr, got, err, want)
			}
		}
	}
}

func TestSearchUnsorted(t *testing.T) {
	entries := []pclntab.Entry{{Entry: 0x1000}, {Entry: 0x4000}, {Entry: 0x2000}, {Entry: 0x3000}, {Entry: 0x5000}}
	for addr := uint64(0x1000); addr < 0x5000; addr += 0x100 {
		i, err := pclntab.Search(entries, addr)
		require.NoError(t, err)
		if entries[i].Entry > addr || addr >= entries[i+1].Entry {
			t.Fatalf("Search(%#x) = %d, interval [%#x, %#x) does not contain it", addr, i, entries[i].Entry, entries[i+1].Entry)
		}
	}
	require.ErrorIs(t, &pclntab.CorruptTableError{Addr: 1}, pclntab.ErrNotFound)
}

func TestFuncForPC(t *testing.T) {
	for _, a := range []*arch.Arch{arch.AMD64, arch.I386} {
		t.Run(a.Name, func(t *testing.T) {
			im := targettest.New(a)
			offs := im.BuildFuncTable(tabBase, []targettest.Func{
				{Name: "main.main", Entry: 0x1000, Frame: 0x20, Args: 8},
				{Name: "runtime.main", Entry: 0x1100, Frame: 0x48},
				{Name: "runtime.goexit", Entry: 0x1200, Frame: 8},
			}, 0x1300)

			for _, opts := range []pclntab.Options{{}, {CacheEntries: true, FuncCacheSize: 4}} {
				tab, err := pclntab.Open(im, opts)
				require.NoError(t, err)
				for i := 0; i < 2; i++ {
					f, err := tab.FuncForPC(0x1150)
					require.NoError(t, err)
					require.Equal(t, "runtime.main", f.Name)
					require.Equal(t, uint64(0x1100), f.Entry)
					require.Equal(t, uint32(0x48), f.Frame)
					require.Equal(t, offs["runtime.main"], f.Offset)
				}

				f, err := tab.LoadFunc(offs["main.main"])
				require.NoError(t, err)
				require.Equal(t, uint32(8), f.Args)
				name, err := tab.FuncName(f)
				require.NoError(t, err)
				require.Equal(t, "main.main", name)
			}
		})
	}
}

func TestFuncCacheAvoidsReads(t *testing.T) {
	im := targettest.New(arch.AMD64)
	im.BuildFuncTable(tabBase, []targettest.Func{
		{Name: "main.f", Entry: 0x1000, Frame: 0x10},
	}, 0x1100)
	tab, err := pclntab.Open(im, pclntab.Options{CacheEntries: true, FuncCacheSize: 8})
	require.NoError(t, err)
	_, err = tab.FuncForPC(0x1010)
	require.NoError(t, err)
	before := im.Reads
	_, err = tab.FuncForPC(0x1020)
	require.NoError(t, err)
	require.Equal(t, before, im.Reads)
}

func TestFuncNameTruncated(t *testing.T) {
	im := targettest.New(arch.AMD64)
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'a'
	}
	im.BuildFuncTable(tabBase, []targettest.Func{
		{Name: string(long), Entry: 0x1000, Frame: 0x10},
	}, 0x1100)
	tab, err := pclntab.Open(im, pclntab.Options{})
	require.NoError(t, err)
	f, err := tab.FuncForPC(0x1000)
	require.NoError(t, err)
	require.Len(t, f.Name, pclntab.DefaultMaxNameLen)
}

// recordingLogger keeps the warnings and errors logged by a table.
type recordingLogger struct {
	logflags.Logger
	msgs []string
}

func (l *recordingLogger) Debugf(format string, args ...interface{}) {}

func (l *recordingLogger) Warnf(format string, args ...interface{}) {
	l.msgs = append(l.msgs, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Errorf(format string, args ...interface{}) {
	l.msgs = append(l.msgs, fmt.Sprintf(format, args...))
}

func recordLogs(t *testing.T) *recordingLogger {
	rec := &recordingLogger{}
	logflags.SetLoggerFactory(func(logrus.Level, logflags.Fields, io.Writer) logflags.Logger {
		return rec
	})
	t.Cleanup(func() { logflags.SetLoggerFactory(nil) })
	return rec
}

func TestFuncEntryMismatch(t *testing.T) {
	rec := recordLogs(t)
	im := targettest.New(arch.AMD64)
	offs := im.BuildFuncTable(tabBase, []targettest.Func{
		{Name: "main.f", Entry: 0x1000, Frame: 0x10},
		{Name: "main.g", Entry: 0x1100, Frame: 0x10},
	}, 0x1200)
	im.PutWord(tabBase+offs["main.g"], 0x1180)
	tab, err := pclntab.Open(im, pclntab.Options{})
	require.NoError(t, err)

	f, err := tab.FuncForPC(0x1150)
	require.NoError(t, err)
	require.Equal(t, "main.g", f.Name)
	require.Equal(t, uint64(0x1180), f.Entry)
	require.Len(t, rec.msgs, 1)
	require.Contains(t, rec.msgs[0], "has entry 0x1180, function table has 0x1100")

	rec.msgs = nil
	_, err = tab.FuncForPC(0x1050)
	require.NoError(t, err)
	require.Empty(t, rec.msgs)
}
