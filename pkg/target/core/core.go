// Package core reads Linux ELF core files of x86 processes.
package core

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/TritonDataCenter/mdb-go/pkg/arch"
	"github.com/TritonDataCenter/mdb-go/pkg/logflags"
	"github.com/TritonDataCenter/mdb-go/pkg/target"
	"github.com/TritonDataCenter/mdb-go/pkg/target/linutil"
)

var (
	// ErrUnrecognizedFormat is returned when the core file is not an ELF
	// file.
	ErrUnrecognizedFormat = errors.New("unrecognized core format")
	// ErrNoThreads is returned for a core file without NT_PRSTATUS notes.
	ErrNoThreads = errors.New("core file contains no threads")
)

const elfErrorBadMagicNumber = "bad magic number"

// Process is a process image loaded from a core file and the executable
// that produced it.
type Process struct {
	mem     *splicedMemory
	arch    *arch.Arch
	syms    *target.SymbolTable
	threads map[int]linutil.Registers
	order   []int
	current int
	pid     int

	files []io.Closer
}

var _ target.Process = (*Process)(nil)

// Open reads the core file at corePath, produced by the executable at
// exePath.
func Open(exePath, corePath string) (*Process, error) {
	log := logflags.TargetLogger()
	coreFile, err := elf.Open(corePath)
	if err != nil {
		if _, isfmterr := err.(*elf.FormatError); isfmterr && (strings.Contains(err.Error(), elfErrorBadMagicNumber) || strings.Contains(err.Error(), " at offset 0x0: too short")) {
			return nil, ErrUnrecognizedFormat
		}
		return nil, err
	}
	exe, err := os.Open(exePath)
	if err != nil {
		coreFile.Close()
		return nil, err
	}
	exeELF, err := elf.NewFile(exe)
	if err != nil {
		coreFile.Close()
		exe.Close()
		return nil, err
	}
	p, err := newProcess(coreFile, exeELF, exe)
	if err != nil {
		coreFile.Close()
		exe.Close()
		return nil, err
	}
	log.Debugf("opened core %s of %s: %s, %d threads, %d regions", corePath, exePath, p.arch, len(p.threads), len(p.mem.readers))
	return p, nil
}

func newProcess(coreFile, exeELF *elf.File, exe *os.File) (*Process, error) {
	if coreFile.Type != elf.ET_CORE {
		return nil, fmt.Errorf("%s is not a core file", coreFile.Type)
	}
	if exeELF.Type != elf.ET_EXEC && exeELF.Type != elf.ET_DYN {
		return nil, fmt.Errorf("%s is not an executable", exeELF.Type)
	}
	a, err := arch.FromELF(exeELF.Machine)
	if err != nil {
		return nil, err
	}
	if coreFile.Machine != exeELF.Machine {
		return nil, fmt.Errorf("core file machine %s does not match executable machine %s", coreFile.Machine, exeELF.Machine)
	}
	notes, err := readNotes(coreFile, a)
	if err != nil {
		return nil, err
	}
	syms, err := target.ELFSymbols(exeELF)
	if err != nil {
		return nil, fmt.Errorf("could not read symbols of executable: %w", err)
	}
	p := &Process{
		mem:     buildMemory(coreFile, exeELF, exe, notes),
		arch:    a,
		syms:    syms,
		threads: map[int]linutil.Registers{},
	}
	p.files = []io.Closer{coreFile, exe}
	threadsFromNotes(p, notes)
	if len(p.threads) == 0 {
		return nil, ErrNoThreads
	}
	return p, nil
}

func threadsFromNotes(p *Process, notes []*note) {
	for _, note := range notes {
		switch desc := note.Desc.(type) {
		case *linuxPrStatusAMD64:
			p.addThread(int(desc.Pid), &desc.Reg)
		case *linuxPrStatus386:
			p.addThread(int(desc.Pid), &desc.Reg)
		case *linuxPrPsInfo:
			p.pid = int(desc.Pid)
		case *linuxPrPsInfo386:
			p.pid = int(desc.Pid)
		}
	}
}

func (p *Process) addThread(tid int, regs linutil.Registers) {
	if _, dup := p.threads[tid]; !dup {
		p.order = append(p.order, tid)
	}
	p.threads[tid] = regs
	if p.current == 0 {
		p.current = tid
	}
}

// Close releases the files backing the process.
func (p *Process) Close() error {
	var first error
	for _, f := range p.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Arch implements target.Target.
func (p *Process) Arch() *arch.Arch { return p.arch }

// Pid returns the process id recorded in the core file.
func (p *Process) Pid() int { return p.pid }

// ReadMemory implements target.MemoryReader.
func (p *Process) ReadMemory(buf []byte, addr uint64) (int, error) {
	return p.mem.ReadMemory(buf, addr)
}

// LookupSymbol implements target.Target.
func (p *Process) LookupSymbol(name string) (uint64, error) {
	return p.syms.Lookup(name)
}

// Symbols returns the symbol table of the executable.
func (p *Process) Symbols() *target.SymbolTable { return p.syms }

// CurrentThread implements target.Target.
func (p *Process) CurrentThread() int { return p.current }

// Threads returns the thread ids in core file order.
func (p *Process) Threads() []int {
	return append([]int(nil), p.order...)
}

// SelectThread changes the current thread.
func (p *Process) SelectThread(tid int) error {
	if _, ok := p.threads[tid]; !ok {
		return fmt.Errorf("no thread %d in core file", tid)
	}
	p.current = tid
	return nil
}

// ReadRegister implements target.Target.
func (p *Process) ReadRegister(tid int, name string) (uint64, error) {
	regs, ok := p.threads[tid]
	if !ok {
		return 0, &target.RegisterError{Thread: tid, Name: name, Err: errors.New("no such thread")}
	}
	v, ok := regs.Get(name)
	if !ok {
		return 0, &target.RegisterError{Thread: tid, Name: name, Err: errors.New("no such register")}
	}
	return v, nil
}

// Registers returns the register set of thread tid.
func (p *Process) Registers(tid int) (linutil.Registers, bool) {
	regs, ok := p.threads[tid]
	return regs, ok
}

// Regions returns the mapped address ranges, sorted by address.
func (p *Process) Regions() [][2]uint64 {
	r := p.mem.regions()
	sort.Slice(r, func(i, j int) bool { return r[i][0] < r[j][0] })
	return r
}
