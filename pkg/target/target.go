// Package target defines how mdb-go reaches into the process it inspects.
//
// Everything the runtime inspectors need from the outside world goes
// through the Target interface: byte exact memory reads, symbol lookup
// and the registers of stopped threads. Backends live in subpackages:
// core (ELF core files), native (stopped live processes on Linux) and
// targettest (synthetic images for tests).
package target

import (
	"errors"
	"fmt"

	"github.com/TritonDataCenter/mdb-go/pkg/arch"
)

// MemoryReader is like io.ReaderAt, but the offset is a uint64 so that it
// can address all of 64-bit memory.
type MemoryReader interface {
	// ReadMemory reads len(buf) bytes at addr. It returns the number of
	// bytes read and a non-nil error if fewer than len(buf) were read.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// Target is a stopped process or a static process image.
type Target interface {
	MemoryReader

	// Arch returns the architecture of the target.
	Arch() *arch.Arch

	// LookupSymbol returns the address of the named symbol. It returns a
	// *SymbolNotFoundError if the symbol does not exist.
	LookupSymbol(name string) (uint64, error)

	// CurrentThread returns the id of the selected thread.
	CurrentThread() int

	// ReadRegister returns the value of the named register of thread tid.
	ReadRegister(tid int, name string) (uint64, error)
}

// Process is a Target backed by a real process or its core file. It holds
// open resources until Close.
type Process interface {
	Target

	// Pid returns the process id.
	Pid() int

	// Threads returns the thread ids of the process.
	Threads() []int

	// SelectThread changes the current thread.
	SelectThread(tid int) error

	// Regions returns the [start, end) ranges of readable memory, sorted
	// by address.
	Regions() [][2]uint64

	Close() error
}

// ReadFaultError is returned when a read of target memory fails or is
// short.
type ReadFaultError struct {
	Addr uint64
	Len  int
	Err  error
}

func (err *ReadFaultError) Error() string {
	if err.Err == nil {
		return fmt.Sprintf("could not read %d bytes at %#x", err.Len, err.Addr)
	}
	return fmt.Sprintf("could not read %d bytes at %#x: %v", err.Len, err.Addr, err.Err)
}

func (err *ReadFaultError) Unwrap() error {
	return err.Err
}

// SymbolNotFoundError is returned when a symbol is absent from the
// target's symbol table.
type SymbolNotFoundError struct {
	Name string
}

func (err *SymbolNotFoundError) Error() string {
	return fmt.Sprintf("could not find symbol %s", err.Name)
}

// RegisterError is returned when a register of a thread can not be read.
type RegisterError struct {
	Thread int
	Name   string
	Err    error
}

func (err *RegisterError) Error() string {
	if err.Err == nil {
		return fmt.Sprintf("could not read register %s of thread %d", err.Name, err.Thread)
	}
	return fmt.Sprintf("could not read register %s of thread %d: %v", err.Name, err.Thread, err.Err)
}

func (err *RegisterError) Unwrap() error {
	return err.Err
}

// ErrNullAddr is returned when a null address is dereferenced.
var ErrNullAddr = errors.New("NULL address")

// ReadFull reads exactly n bytes at addr.
func ReadFull(mem MemoryReader, addr uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	read, err := mem.ReadMemory(buf, addr)
	if err != nil || read != n {
		return nil, &ReadFaultError{Addr: addr, Len: n, Err: err}
	}
	return buf, nil
}

// ReadUint reads a little endian unsigned integer of size bytes at addr.
func ReadUint(mem MemoryReader, a *arch.Arch, addr uint64, size int) (uint64, error) {
	buf, err := ReadFull(mem, addr, size)
	if err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(a.ByteOrder.Uint16(buf)), nil
	case 4:
		return uint64(a.ByteOrder.Uint32(buf)), nil
	case 8:
		return a.ByteOrder.Uint64(buf), nil
	}
	return 0, fmt.Errorf("unsupported integer size %d", size)
}

// ReadPtr reads a target word at addr.
func ReadPtr(mem MemoryReader, a *arch.Arch, addr uint64) (uint64, error) {
	return ReadUint(mem, a, addr, a.PtrSize)
}

// cstringChunk is the granularity of ReadCString. Reads never cross a
// chunk boundary, so a string that ends right before an unmapped page can
// still be read.
const cstringChunk = 64

// ReadCString reads a NUL terminated string at addr, reading at most max
// bytes. A string longer than max is truncated without error; a failing
// read before the terminator or the cap is an error.
func ReadCString(mem MemoryReader, addr uint64, max int) (string, error) {
	if addr == 0 {
		return "", ErrNullAddr
	}
	out := make([]byte, 0, cstringChunk)
	cur := addr
	for len(out) < max {
		n := cstringChunk - int(cur%cstringChunk)
		if rem := max - len(out); n > rem {
			n = rem
		}
		buf := make([]byte, n)
		read, err := mem.ReadMemory(buf, cur)
		for i := 0; i < read; i++ {
			if buf[i] == 0 {
				return string(append(out, buf[:i]...)), nil
			}
		}
		if err != nil || read != n {
			return "", &ReadFaultError{Addr: cur, Len: n, Err: err}
		}
		out = append(out, buf...)
		cur += uint64(n)
	}
	return string(out), nil
}

// LoadContext reads the frame pointer, instruction pointer and stack
// pointer of thread tid. Failure to read any of the three is an error.
func LoadContext(t Target, tid int) (fp, ip, sp uint64, err error) {
	regs := t.Arch().Registers()
	var vals [3]uint64
	for i, name := range regs {
		vals[i], err = t.ReadRegister(tid, name)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("failed to load current context: %w", err)
		}
	}
	return vals[0], vals[1], vals[2], nil
}
