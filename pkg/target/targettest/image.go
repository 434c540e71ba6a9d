// Package targettest provides synthetic process images for tests.
package targettest

import (
	"fmt"
	"sort"

	"github.com/TritonDataCenter/mdb-go/pkg/arch"
	"github.com/TritonDataCenter/mdb-go/pkg/target"
)

const pageSize = 0x1000

// Image is an in-memory target. Memory is allocated a page at a time on
// first write; reading a page that was never written fails.
type Image struct {
	arch    *arch.Arch
	pages   map[uint64][]byte
	syms    map[string]uint64
	regs    map[int]map[string]uint64
	current int

	// Reads counts calls to ReadMemory.
	Reads int
}

var _ target.Process = (*Image)(nil)

// New returns an empty image for architecture a. Thread 1 is selected.
func New(a *arch.Arch) *Image {
	return &Image{
		arch:    a,
		pages:   make(map[uint64][]byte),
		syms:    make(map[string]uint64),
		regs:    make(map[int]map[string]uint64),
		current: 1,
	}
}

// Arch implements target.Target.
func (im *Image) Arch() *arch.Arch { return im.arch }

// CurrentThread implements target.Target.
func (im *Image) CurrentThread() int { return im.current }

// SelectThread changes the current thread.
func (im *Image) SelectThread(tid int) error {
	if _, ok := im.regs[tid]; !ok {
		return fmt.Errorf("no thread %d", tid)
	}
	im.current = tid
	return nil
}

// Close implements target.Process.
func (im *Image) Close() error { return nil }

// ReadMemory implements target.MemoryReader.
func (im *Image) ReadMemory(buf []byte, addr uint64) (int, error) {
	im.Reads++
	n := 0
	for n < len(buf) {
		cur := addr + uint64(n)
		page, ok := im.pages[cur&^(pageSize-1)]
		if !ok {
			return n, fmt.Errorf("address %#x is not mapped", cur)
		}
		n += copy(buf[n:], page[cur&(pageSize-1):])
	}
	return n, nil
}

// Write stores data at addr, mapping pages as needed.
func (im *Image) Write(addr uint64, data []byte) {
	for len(data) > 0 {
		base := addr &^ (pageSize - 1)
		page, ok := im.pages[base]
		if !ok {
			page = make([]byte, pageSize)
			im.pages[base] = page
		}
		n := copy(page[addr-base:], data)
		data = data[n:]
		addr += uint64(n)
	}
}

// Unmap removes the pages overlapping [addr, addr+n).
func (im *Image) Unmap(addr uint64, n int) {
	for base := addr &^ (pageSize - 1); base < addr+uint64(n); base += pageSize {
		delete(im.pages, base)
	}
}

// PutWord stores a target word at addr.
func (im *Image) PutWord(addr, v uint64) {
	buf := make([]byte, im.arch.PtrSize)
	im.arch.PutUint(buf, v)
	im.Write(addr, buf)
}

// PutUint stores an unsigned integer of size bytes at addr.
func (im *Image) PutUint(addr uint64, size int, v uint64) {
	buf := make([]byte, 8)
	im.arch.ByteOrder.PutUint64(buf, v)
	im.Write(addr, buf[:size])
}

// PutCString stores s followed by a NUL byte at addr.
func (im *Image) PutCString(addr uint64, s string) {
	im.Write(addr, append([]byte(s), 0))
}

// SetSymbol defines a symbol.
func (im *Image) SetSymbol(name string, addr uint64) {
	im.syms[name] = addr
}

// LookupSymbol implements target.Target.
func (im *Image) LookupSymbol(name string) (uint64, error) {
	addr, ok := im.syms[name]
	if !ok {
		return 0, &target.SymbolNotFoundError{Name: name}
	}
	return addr, nil
}

// Symbols returns the defined symbol names, sorted.
func (im *Image) Symbols() []string {
	r := make([]string, 0, len(im.syms))
	for name := range im.syms {
		r = append(r, name)
	}
	sort.Strings(r)
	return r
}

// SetRegister sets a register of thread tid.
func (im *Image) SetRegister(tid int, name string, v uint64) {
	if im.regs[tid] == nil {
		im.regs[tid] = make(map[string]uint64)
	}
	im.regs[tid][name] = v
}

// SetContext sets the frame pointer, instruction pointer and stack
// pointer of thread tid.
func (im *Image) SetContext(tid int, fp, ip, sp uint64) {
	regs := im.arch.Registers()
	im.SetRegister(tid, regs[0], fp)
	im.SetRegister(tid, regs[1], ip)
	im.SetRegister(tid, regs[2], sp)
}

// ReadRegister implements target.Target.
func (im *Image) ReadRegister(tid int, name string) (uint64, error) {
	v, ok := im.regs[tid][name]
	if !ok {
		return 0, &target.RegisterError{Thread: tid, Name: name}
	}
	return v, nil
}

// Pid returns a fixed process id.
func (im *Image) Pid() int { return 1000 }

// Threads returns the ids of the threads with registers, sorted.
func (im *Image) Threads() []int {
	r := make([]int, 0, len(im.regs))
	for tid := range im.regs {
		r = append(r, tid)
	}
	sort.Ints(r)
	return r
}

// Regions returns the mapped address ranges, merging adjacent pages.
func (im *Image) Regions() [][2]uint64 {
	bases := make([]uint64, 0, len(im.pages))
	for base := range im.pages {
		bases = append(bases, base)
	}
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })
	var r [][2]uint64
	for _, base := range bases {
		if n := len(r); n > 0 && r[n-1][1] == base {
			r[n-1][1] = base + pageSize
			continue
		}
		r = append(r, [2]uint64{base, base + pageSize})
	}
	return r
}
