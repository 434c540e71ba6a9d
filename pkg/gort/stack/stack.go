// Package stack unwinds goroutine stacks using the frame sizes recorded in
// the function table.
package stack

import (
	"errors"
	"fmt"

	"github.com/TritonDataCenter/mdb-go/pkg/arch"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/pclntab"
	"github.com/TritonDataCenter/mdb-go/pkg/logflags"
	"github.com/TritonDataCenter/mdb-go/pkg/target"
)

// NoProgressError is returned when a function with a zero frame size is
// found: the next return slot would be the current one.
type NoProgressError struct {
	Slot uint64
	Fn   string
}

func (err *NoProgressError) Error() string {
	return fmt.Sprintf("could not unwind past %s at %#x: frame size is zero", err.Fn, err.Slot)
}

// topOfStack lists the functions a goroutine or thread starts in; the
// unwind stops after them.
var topOfStack = map[string]bool{
	"runtime.goexit": true,
	"runtime.mstart": true,
	"_rt0_go":        true,
	"runtime.rt0_go": true,
}

// Frame is a frame of the stack.
type Frame struct {
	// Slot is the address the PC was read from. It is zero for the frame
	// at the instruction pointer.
	Slot uint64
	// PC is the saved return address, or the instruction pointer.
	PC uint64
	// Func is the function containing PC.
	Func *pclntab.Func
}

// Iterator walks a stack from a stack pointer towards the stack base.
//
// Every step reads the word at the current slot, resolves it to a
// function and advances the slot by the function's frame size. A slot
// holding 0, or a frame that advances the slot to 0, ends the walk.
type Iterator struct {
	mem  target.MemoryReader
	arch *arch.Arch
	tab  *pclntab.Table

	slot  uint64
	frame Frame
	atend bool
	err   error

	log logflags.Logger
}

// NewIterator returns an iterator that starts at the return slot sp.
func NewIterator(mem target.MemoryReader, a *arch.Arch, tab *pclntab.Table, sp uint64) *Iterator {
	return &Iterator{mem: mem, arch: a, tab: tab, slot: sp, log: logflags.StackLogger()}
}

// Next points the iterator to the next stack frame.
func (it *Iterator) Next() bool {
	if it.err != nil || it.atend {
		return false
	}
	if it.slot == 0 {
		it.err = target.ErrNullAddr
		return false
	}
	pc, err := target.ReadPtr(it.mem, it.arch, it.slot)
	if err != nil {
		it.err = fmt.Errorf("could not read return address at %#x: %w", it.slot, err)
		return false
	}
	if pc == 0 {
		it.log.Debugf("null return address at %#x, end of stack", it.slot)
		it.atend = true
		return false
	}
	fn, err := it.tab.FuncForPC(pc)
	if err != nil {
		it.err = fmt.Errorf("could not resolve return address %#x at %#x: %w", pc, it.slot, err)
		return false
	}
	it.frame = Frame{Slot: it.slot, PC: pc, Func: fn}
	it.log.Debugf("frame %#x %s frame size %#x", it.slot, fn.Name, fn.Frame)

	if topOfStack[fn.Name] {
		it.atend = true
		return true
	}
	if fn.Frame == 0 {
		it.err = &NoProgressError{Slot: it.slot, Fn: fn.Name}
		return true
	}
	it.slot += uint64(fn.Frame)
	if it.slot == 0 {
		it.log.Debugf("next return slot is null, end of stack")
		it.atend = true
	}
	return true
}

// Frame returns the frame the iterator is pointing at.
func (it *Iterator) Frame() Frame {
	return it.frame
}

// Err returns the error encountered during stack iteration.
func (it *Iterator) Err() error {
	return it.err
}

// Done reports whether the walk reached the end of the stack.
func (it *Iterator) Done() bool {
	return it.atend
}

// Collect returns at most max frames. The frames collected before an
// error are returned along with it.
func (it *Iterator) Collect(max int) ([]Frame, error) {
	if max < 0 {
		return nil, errors.New("negative maximum stack depth")
	}
	frames := make([]Frame, 0, max)
	for len(frames) < max && it.Next() {
		frames = append(frames, it.Frame())
	}
	return frames, it.Err()
}

// Context is an execution context.
type Context struct {
	FP, IP, SP uint64
}

// Current loads the execution context of the current thread of t.
func Current(t target.Target) (Context, error) {
	fp, ip, sp, err := target.LoadContext(t, t.CurrentThread())
	if err != nil {
		return Context{}, err
	}
	return Context{FP: fp, IP: ip, SP: sp}, nil
}

// FrameAt decodes the frame whose return slot is at slot.
func FrameAt(mem target.MemoryReader, a *arch.Arch, tab *pclntab.Table, slot uint64) (Frame, error) {
	if slot == 0 {
		return Frame{}, target.ErrNullAddr
	}
	pc, err := target.ReadPtr(mem, a, slot)
	if err != nil {
		return Frame{}, err
	}
	fn, err := tab.FuncForPC(pc)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Slot: slot, PC: pc, Func: fn}, nil
}

// Stacktrace returns the stack of ctx: the frame at the instruction
// pointer followed by the frames found walking from the stack pointer.
// At most depth+1 frames are returned. The frames found before an error
// are returned with it.
func Stacktrace(mem target.MemoryReader, a *arch.Arch, tab *pclntab.Table, ctx Context, depth int) ([]Frame, error) {
	if depth < 0 {
		return nil, errors.New("negative maximum stack depth")
	}
	fn, err := tab.FuncForPC(ctx.IP)
	if err != nil {
		return nil, fmt.Errorf("could not resolve instruction pointer %#x: %w", ctx.IP, err)
	}
	frames := []Frame{{PC: ctx.IP, Func: fn}}
	if topOfStack[fn.Name] || depth == 0 {
		return frames, nil
	}
	rest, err := NewIterator(mem, a, tab, ctx.SP).Collect(depth)
	return append(frames, rest...), err
}
