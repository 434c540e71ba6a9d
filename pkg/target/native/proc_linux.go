//go:build linux && (amd64 || 386)

package native

import (
	"bufio"
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	sys "golang.org/x/sys/unix"

	"github.com/TritonDataCenter/mdb-go/pkg/arch"
	"github.com/TritonDataCenter/mdb-go/pkg/logflags"
	"github.com/TritonDataCenter/mdb-go/pkg/target"
	"github.com/TritonDataCenter/mdb-go/pkg/target/linutil"
)

// Process is a live process stopped with ptrace. The process stays
// stopped until Close; registers are read once, at attach time.
type Process struct {
	pid     int
	arch    *arch.Arch
	syms    *target.SymbolTable
	threads map[int]linutil.Registers
	order   []int
	current int
	mem     *os.File

	ptraceChan     chan func()
	ptraceDoneChan chan interface{}
	detached       bool
}

var _ target.Process = (*Process)(nil)

func newProcess(pid int) *Process {
	p := &Process{
		pid:            pid,
		threads:        make(map[int]linutil.Registers),
		ptraceChan:     make(chan func()),
		ptraceDoneChan: make(chan interface{}),
	}
	go p.handlePtraceFuncs()
	return p
}

// Attach stops every thread of process pid and reads its registers.
// Symbols come from exePath, or from /proc/pid/exe if exePath is empty.
func Attach(pid int, exePath string) (*Process, error) {
	log := logflags.TargetLogger()
	exe, err := elf.Open(findExecutable(exePath, pid))
	if err != nil {
		return nil, err
	}
	defer exe.Close()
	a, err := arch.FromELF(exe.Machine)
	if err != nil {
		return nil, err
	}
	if a.Name != runtime.GOARCH {
		return nil, fmt.Errorf("can not inspect a %s process from a %s build", a.Name, runtime.GOARCH)
	}
	syms, err := target.ELFSymbols(exe)
	if err != nil {
		return nil, fmt.Errorf("could not read symbols of executable: %w", err)
	}

	p := newProcess(pid)
	p.arch = a
	p.syms = syms
	if err := p.addThread(pid); err != nil {
		p.postExit()
		return nil, err
	}
	if err := p.updateThreadList(); err != nil {
		p.Close()
		return nil, err
	}
	// process_vm_readv is not always permitted, /proc/pid/mem is the
	// fallback.
	if f, err := os.Open(fmt.Sprintf("/proc/%d/mem", pid)); err == nil {
		p.mem = f
	}
	log.Debugf("attached to %d: %s, %d threads", pid, a, len(p.threads))
	return p, nil
}

func findExecutable(path string, pid int) string {
	if path == "" {
		path = fmt.Sprintf("/proc/%d/exe", pid)
	}
	return path
}

func (p *Process) handlePtraceFuncs() {
	// We must ensure here that we are running on the same thread during
	// while invoking the ptrace(2) syscall. This is due to the fact that ptrace(2) expects
	// all commands after PTRACE_ATTACH to come from the same thread.
	runtime.LockOSThread()

	for fn := range p.ptraceChan {
		fn()
		p.ptraceDoneChan <- nil
	}
}

func (p *Process) execPtraceFunc(fn func()) {
	p.ptraceChan <- fn
	<-p.ptraceDoneChan
}

func (p *Process) postExit() {
	close(p.ptraceChan)
	close(p.ptraceDoneChan)
}

// addThread attaches to tid, waits for it to stop and saves its
// registers.
func (p *Process) addThread(tid int) error {
	if _, ok := p.threads[tid]; ok {
		return nil
	}
	var err error
	p.execPtraceFunc(func() { err = sys.PtraceAttach(tid) })
	if err != nil && err != sys.EPERM {
		return fmt.Errorf("could not attach to thread %d: %v", tid, err)
	}
	var status sys.WaitStatus
	p.execPtraceFunc(func() { _, err = sys.Wait4(tid, &status, sys.WALL, nil) })
	if err != nil {
		return err
	}
	if status.Exited() {
		return fmt.Errorf("thread %d already exited", tid)
	}
	var regs linutil.Registers
	p.execPtraceFunc(func() { regs, err = getRegisters(tid) })
	if err != nil {
		return fmt.Errorf("could not read registers of thread %d: %v", tid, err)
	}
	p.threads[tid] = regs
	p.order = append(p.order, tid)
	if p.current == 0 {
		p.current = tid
	}
	return nil
}

func (p *Process) updateThreadList() error {
	tids, _ := filepath.Glob(fmt.Sprintf("/proc/%d/task/*", p.pid))
	for _, tidpath := range tids {
		tid, err := strconv.Atoi(filepath.Base(tidpath))
		if err != nil {
			return err
		}
		if err := p.addThread(tid); err != nil {
			return err
		}
	}
	return nil
}

// Close detaches from every thread and resumes the process.
func (p *Process) Close() error {
	if p.detached {
		return nil
	}
	var err error
	p.execPtraceFunc(func() {
		for _, tid := range p.order {
			if derr := sys.PtraceDetach(tid); derr != nil && err == nil {
				err = derr
			}
		}
	})
	p.detached = true
	p.postExit()
	if p.mem != nil {
		p.mem.Close()
	}
	// For some reason the process will sometimes enter stopped state after a
	// detach, this doesn't happen immediately either.
	// We have to wait a bit here, then check if the main thread is stopped and
	// SIGCONT it if it is.
	time.Sleep(50 * time.Millisecond)
	if s := status(p.pid); s == 'T' {
		_ = sys.Kill(p.pid, sys.SIGCONT)
	}
	return err
}

// status returns the state character of /proc/pid/stat.
func status(pid int) rune {
	buf, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return '\000'
	}
	// The command name is in parentheses and may contain spaces.
	i := strings.LastIndexByte(string(buf), ')')
	if i < 0 || i+2 >= len(buf) {
		return '\000'
	}
	return rune(buf[i+2])
}

// Arch implements target.Target.
func (p *Process) Arch() *arch.Arch { return p.arch }

// Pid implements target.Process.
func (p *Process) Pid() int { return p.pid }

// ReadMemory implements target.MemoryReader.
func (p *Process) ReadMemory(buf []byte, addr uint64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	local := []sys.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []sys.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
	n, err := sys.ProcessVMReadv(p.pid, local, remote, 0)
	if err == nil && n == len(buf) {
		return n, nil
	}
	if p.mem == nil {
		if err == nil {
			err = fmt.Errorf("short read at %#x", addr)
		}
		return n, err
	}
	return p.mem.ReadAt(buf, int64(addr))
}

// LookupSymbol implements target.Target.
func (p *Process) LookupSymbol(name string) (uint64, error) {
	return p.syms.Lookup(name)
}

// CurrentThread implements target.Target.
func (p *Process) CurrentThread() int { return p.current }

// Threads implements target.Process.
func (p *Process) Threads() []int {
	return append([]int(nil), p.order...)
}

// SelectThread implements target.Process.
func (p *Process) SelectThread(tid int) error {
	if _, ok := p.threads[tid]; !ok {
		return fmt.Errorf("no thread %d in process %d", tid, p.pid)
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

// Regions implements target.Process using /proc/pid/maps. Only readable
// mappings are listed.
func (p *Process) Regions() [][2]uint64 {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", p.pid))
	if err != nil {
		return nil
	}
	defer f.Close()
	r, err := parseMaps(bufio.NewScanner(f))
	if err != nil {
		logflags.TargetLogger().Debugf("reading mappings of %d: %v", p.pid, err)
	}
	return r
}

func parseMaps(s *bufio.Scanner) ([][2]uint64, error) {
	var r [][2]uint64
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) < 2 || !strings.HasPrefix(fields[1], "r") {
			continue
		}
		if len(fields) >= 6 && fields[5] == "[vsyscall]" {
			continue
		}
		bounds := strings.SplitN(fields[0], "-", 2)
		if len(bounds) != 2 {
			return r, fmt.Errorf("malformed mapping %q", s.Text())
		}
		start, err := strconv.ParseUint(bounds[0], 16, 64)
		if err != nil {
			return r, err
		}
		end, err := strconv.ParseUint(bounds[1], 16, 64)
		if err != nil {
			return r, err
		}
		r = append(r, [2]uint64{start, end})
	}
	sort.Slice(r, func(i, j int) bool { return r[i][0] < r[j][0] })
	return r, s.Err()
}
