// Package arch describes the CPU architectures mdb-go can inspect.
//
// Only the two x86 word sizes are supported: the runtime layouts are
// pinned to one Go release and the function table quantum is 1 on both.
package arch

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// Arch describes a target architecture.
type Arch struct {
	// Name is the GOARCH name of the architecture.
	Name string
	// PtrSize is the size of a pointer (and of uintptr) in bytes.
	PtrSize int
	// Quantum is the instruction alignment recorded in the pclntab header.
	Quantum uint8
	// ByteOrder of the target.
	ByteOrder binary.ByteOrder

	// Register names used to load the execution context of a thread.
	FPReg, IPReg, SPReg string

	asmMode int
}

// AMD64 is the 64-bit x86 architecture.
var AMD64 = &Arch{
	Name:      "amd64",
	PtrSize:   8,
	Quantum:   1,
	ByteOrder: binary.LittleEndian,
	FPReg:     "rbp",
	IPReg:     "rip",
	SPReg:     "rsp",
	asmMode:   64,
}

// I386 is the 32-bit x86 architecture.
var I386 = &Arch{
	Name:      "386",
	PtrSize:   4,
	Quantum:   1,
	ByteOrder: binary.LittleEndian,
	FPReg:     "ebp",
	IPReg:     "eip",
	SPReg:     "esp",
	asmMode:   32,
}

// UnsupportedArchError is returned when the target is not one of the
// supported architectures.
type UnsupportedArchError struct {
	Name string
}

func (err *UnsupportedArchError) Error() string {
	return fmt.Sprintf("unsupported architecture %q", err.Name)
}

// ByName returns the architecture with the given GOARCH name.
func ByName(name string) (*Arch, error) {
	switch name {
	case "amd64", "x86_64":
		return AMD64, nil
	case "386", "i386", "x86":
		return I386, nil
	}
	return nil, &UnsupportedArchError{Name: name}
}

// FromELF returns the architecture of an ELF file.
func FromELF(m elf.Machine) (*Arch, error) {
	switch m {
	case elf.EM_X86_64:
		return AMD64, nil
	case elf.EM_386:
		return I386, nil
	}
	return nil, &UnsupportedArchError{Name: m.String()}
}

// Uint decodes a word of the target from the start of buf.
func (a *Arch) Uint(buf []byte) uint64 {
	if a.PtrSize == 4 {
		return uint64(a.ByteOrder.Uint32(buf))
	}
	return a.ByteOrder.Uint64(buf)
}

// PutUint encodes v as a target word at the start of buf.
func (a *Arch) PutUint(buf []byte, v uint64) {
	if a.PtrSize == 4 {
		a.ByteOrder.PutUint32(buf, uint32(v))
		return
	}
	a.ByteOrder.PutUint64(buf, v)
}

// Registers returns the names of the frame pointer, instruction pointer
// and stack pointer registers, in that order.
func (a *Arch) Registers() [3]string {
	return [3]string{a.FPReg, a.IPReg, a.SPReg}
}

func (a *Arch) String() string {
	return a.Name
}
