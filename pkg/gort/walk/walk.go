// Package walk traverses the intrusive singly linked lists of the
// runtime.
//
// A list is anchored either at a global symbol holding a pointer to the
// first element, or at a field of another structure. Each element holds
// the address of the next one in its link field; a null link ends the
// list.
package walk

import (
	"fmt"

	"github.com/TritonDataCenter/mdb-go/pkg/gort/layout"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/rt"
	"github.com/TritonDataCenter/mdb-go/pkg/logflags"
	"github.com/TritonDataCenter/mdb-go/pkg/target"
)

// CycleError is returned when a list links back to an element already
// visited.
type CycleError struct {
	List string
	Addr uint64
}

func (err *CycleError) Error() string {
	return fmt.Sprintf("%s list revisits %#x", err.List, err.Addr)
}

// Walker describes a list.
type Walker struct {
	// Name of the list, used in errors.
	Name string
	// Root is the symbol holding the address of the head element. Empty
	// for lists that are only reachable from another structure.
	Root string
	// Type of the elements.
	Type *layout.Type
	// Link is the field of Type holding the next element.
	Link string
	// Anchor is the type holding the head pointer of lists without a
	// Root symbol, and Head the field of Anchor holding it.
	Anchor *layout.Type
	Head   string
}

// The lists of the runtime.
var (
	AllG = &Walker{Name: "allg", Root: rt.SymAllG, Type: rt.G, Link: "alllink"}
	AllM = &Walker{Name: "allm", Root: rt.SymAllM, Type: rt.M, Link: "alllink"}
	AllP = &Walker{Name: "allp", Root: rt.SymAllP, Type: rt.P, Link: "link"}

	DeferChain = &Walker{Name: "defer", Type: rt.Defer, Link: "link", Anchor: rt.G, Head: "defer"}
	PanicChain = &Walker{Name: "panic", Type: rt.Panic, Link: "link", Anchor: rt.G, Head: "panic"}
)

// WithRoot returns a copy of w anchored at a different symbol.
func (w *Walker) WithRoot(sym string) *Walker {
	c := *w
	c.Root = sym
	return &c
}

// First returns the address of the first element of the list.
func (w *Walker) First(t target.Target, anchor uint64) (uint64, error) {
	a := t.Arch()
	if w.Anchor != nil {
		l := layout.Of(w.Anchor, a)
		if anchor == 0 {
			return 0, fmt.Errorf("%s list needs the address of a %s: %w", w.Name, w.Anchor.Name, target.ErrNullAddr)
		}
		return target.ReadPtr(t, a, anchor+uint64(l.Offset(w.Head)))
	}
	addr, err := t.LookupSymbol(w.Root)
	if err != nil {
		return 0, err
	}
	head, err := target.ReadPtr(t, a, addr)
	if err != nil {
		return 0, fmt.Errorf("could not read head of %s list at %s (%#x): %w", w.Name, w.Root, addr, err)
	}
	return head, nil
}

// Walk calls fn with the address of each element of the list. If start is
// zero the walk begins at the head of the list (read from Root, or from
// the Head field of the structure at anchor); otherwise it begins at
// start. The walk stops without error when fn returns false.
//
// Each element is passed to fn and then read in full to find its link, so
// a fault anywhere in an element aborts the walk right after fn has seen
// it.
func (w *Walker) Walk(t target.Target, anchor, start uint64, fn func(addr uint64) bool) error {
	log := logflags.WalkLogger()
	addr := start
	if addr == 0 {
		var err error
		addr, err = w.First(t, anchor)
		if err != nil {
			return err
		}
	}
	l := layout.Of(w.Type, t.Arch())
	seen := make(map[uint64]bool)
	for addr != 0 {
		if seen[addr] {
			return &CycleError{List: w.Name, Addr: addr}
		}
		seen[addr] = true
		log.Debugf("%s element %#x", w.Name, addr)
		if !fn(addr) {
			return nil
		}
		rec, err := layout.Read(t, l, addr)
		if err != nil {
			return fmt.Errorf("could not read next %s element: %w", w.Name, err)
		}
		addr = rec.Uint(w.Link)
	}
	return nil
}

// Collect returns the addresses of every element of the list.
func (w *Walker) Collect(t target.Target, anchor, start uint64) ([]uint64, error) {
	var addrs []uint64
	err := w.Walk(t, anchor, start, func(addr uint64) bool {
		addrs = append(addrs, addr)
		return true
	})
	return addrs, err
}
