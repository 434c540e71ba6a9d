// Package linutil contains the Linux register sets shared by the core
// file and native backends.
package linutil

import (
	"fmt"
	"strings"
)

// Registers is a general purpose register set.
type Registers interface {
	// Get returns the named register.
	Get(name string) (uint64, bool)
	// Names lists the registers in display order.
	Names() []string
}

// AMD64PtraceRegs is the struct used by the linux kernel to return the
// general purpose registers for AMD64 CPUs.
type AMD64PtraceRegs struct {
	R15      uint64
	R14      uint64
	R13      uint64
	R12      uint64
	Rbp      uint64
	Rbx      uint64
	R11      uint64
	R10      uint64
	R9       uint64
	R8       uint64
	Rax      uint64
	Rcx      uint64
	Rdx      uint64
	Rsi      uint64
	Rdi      uint64
	Orig_rax uint64
	Rip      uint64
	Cs       uint64
	Eflags   uint64
	Rsp      uint64
	Ss       uint64
	Fs_base  uint64
	Gs_base  uint64
	Ds       uint64
	Es       uint64
	Fs       uint64
	Gs       uint64
}

var amd64Names = []string{"rip", "rsp", "rbp", "rax", "rbx", "rcx", "rdx", "rsi", "rdi", "r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15", "eflags", "fs_base", "gs_base"}

// Names implements Registers.
func (r *AMD64PtraceRegs) Names() []string { return amd64Names }

func (r *AMD64PtraceRegs) field(name string) *uint64 {
	switch strings.ToLower(name) {
	case "rip":
		return &r.Rip
	case "rsp":
		return &r.Rsp
	case "rbp":
		return &r.Rbp
	case "rax":
		return &r.Rax
	case "rbx":
		return &r.Rbx
	case "rcx":
		return &r.Rcx
	case "rdx":
		return &r.Rdx
	case "rsi":
		return &r.Rsi
	case "rdi":
		return &r.Rdi
	case "r8":
		return &r.R8
	case "r9":
		return &r.R9
	case "r10":
		return &r.R10
	case "r11":
		return &r.R11
	case "r12":
		return &r.R12
	case "r13":
		return &r.R13
	case "r14":
		return &r.R14
	case "r15":
		return &r.R15
	case "eflags":
		return &r.Eflags
	case "fs_base":
		return &r.Fs_base
	case "gs_base":
		return &r.Gs_base
	}
	return nil
}

// Get implements Registers.
func (r *AMD64PtraceRegs) Get(name string) (uint64, bool) {
	if p := r.field(name); p != nil {
		return *p, true
	}
	return 0, false
}

// Set changes the named register. It returns false if the register is not
// part of the set.
func (r *AMD64PtraceRegs) Set(name string, v uint64) bool {
	p := r.field(name)
	if p == nil {
		return false
	}
	*p = v
	return true
}

// I386PtraceRegs is the struct used by the linux kernel to return the
// general purpose registers for I386 CPUs.
type I386PtraceRegs struct {
	Ebx      int32
	Ecx      int32
	Edx      int32
	Esi      int32
	Edi      int32
	Ebp      int32
	Eax      int32
	Xds      int32
	Xes      int32
	Xfs      int32
	Xgs      int32
	Orig_eax int32
	Eip      int32
	Xcs      int32
	Eflags   int32
	Esp      int32
	Xss      int32
}

var i386Names = []string{"eip", "esp", "ebp", "eax", "ebx", "ecx", "edx", "esi", "edi", "eflags"}

// Names implements Registers.
func (r *I386PtraceRegs) Names() []string { return i386Names }

func (r *I386PtraceRegs) field(name string) *int32 {
	switch strings.ToLower(name) {
	case "eip":
		return &r.Eip
	case "esp":
		return &r.Esp
	case "ebp":
		return &r.Ebp
	case "eax":
		return &r.Eax
	case "ebx":
		return &r.Ebx
	case "ecx":
		return &r.Ecx
	case "edx":
		return &r.Edx
	case "esi":
		return &r.Esi
	case "edi":
		return &r.Edi
	case "eflags":
		return &r.Eflags
	}
	return nil
}

// Get implements Registers. Values are zero extended.
func (r *I386PtraceRegs) Get(name string) (uint64, bool) {
	if p := r.field(name); p != nil {
		return uint64(uint32(*p)), true
	}
	return 0, false
}

// Set changes the named register, truncating v to 32 bits.
func (r *I386PtraceRegs) Set(name string, v uint64) bool {
	p := r.field(name)
	if p == nil {
		return false
	}
	*p = int32(uint32(v))
	return true
}

// Format renders every register of regs, one per line.
func Format(regs Registers) string {
	var sb strings.Builder
	for _, name := range regs.Names() {
		v, _ := regs.Get(name)
		fmt.Fprintf(&sb, "%8s = %#016x\n", name, v)
	}
	return sb.String()
}
