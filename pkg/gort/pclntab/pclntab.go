// Package pclntab reads the function table that the go1.2 linker embeds
// in every binary and maps code addresses to function metadata.
//
// The table starts with a header
//
//	magic   uint32  0xfffffffb
//	zeros   uint16
//	quantum uint8   1 on x86
//	ptrsize uint8
//	tabsize uintptr number of entries
//
// followed by tabsize (entry, offset) pairs sorted by entry. The last pair
// is a sentinel marking the end of the last function. Each offset, relative
// to the start of the table, locates a fixed size function record.
package pclntab

import (
	"errors"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru"

	"github.com/TritonDataCenter/mdb-go/pkg/arch"
	"github.com/TritonDataCenter/mdb-go/pkg/logflags"
	"github.com/TritonDataCenter/mdb-go/pkg/target"
)

// Magic is the magic number of go1.2 function tables.
const Magic = 0xfffffffb

// MaxEntries caps the entry count of a table. A go1.2 binary has far
// fewer functions; a larger count means the header is corrupt.
const MaxEntries = 1 << 22

// DefaultMaxNameLen caps the length of function names read from the table.
const DefaultMaxNameLen = 512

// Symbols are the names under which the table may be found, in lookup
// order.
var Symbols = []string{"pclntab", "runtime.pclntab"}

var (
	// ErrUnconfigured is returned by every lookup of a table whose header
	// did not validate.
	ErrUnconfigured = errors.New("Go support is not configured")
	// ErrNotFound is returned when an address is outside the function table.
	ErrNotFound = errors.New("address is not in the function table")
)

// ConfigurationInvalidError is returned when the table header does not
// match the target.
type ConfigurationInvalidError struct {
	Field string
	Got   uint64
	Want  uint64
}

func (err *ConfigurationInvalidError) Error() string {
	return fmt.Sprintf("invalid pclntab header: %s is %#x, expected %#x", err.Field, err.Got, err.Want)
}

// CorruptTableError is returned when an address inside the bounds of the
// table could not be matched to an entry. It matches ErrNotFound.
type CorruptTableError struct {
	Addr uint64
}

func (err *CorruptTableError) Error() string {
	return fmt.Sprintf("unable to find go function at %#x: function table is corrupt", err.Addr)
}

func (err *CorruptTableError) Is(target error) bool {
	return target == ErrNotFound
}

// Header is the function table header.
type Header struct {
	Magic   uint32
	Zeros   uint16
	Quantum uint8
	PtrSize uint8
	Count   uint64
}

// HeaderSize returns the size of the header for a target with pointers of
// ptrSize bytes.
func HeaderSize(ptrSize int) int {
	return 8 + ptrSize
}

// ReadHeader reads the header at addr.
func ReadHeader(mem target.MemoryReader, a *arch.Arch, addr uint64) (Header, error) {
	buf, err := target.ReadFull(mem, addr, HeaderSize(a.PtrSize))
	if err != nil {
		return Header{}, err
	}
	return Header{
		Magic:   a.ByteOrder.Uint32(buf[0:]),
		Zeros:   a.ByteOrder.Uint16(buf[4:]),
		Quantum: buf[6],
		PtrSize: buf[7],
		Count:   a.Uint(buf[8:]),
	}, nil
}

// Validate checks that the header describes a go1.2 table for
// architecture a.
func (h Header) Validate(a *arch.Arch) error {
	switch {
	case h.Magic != Magic:
		return &ConfigurationInvalidError{"magic", uint64(h.Magic), Magic}
	case h.Zeros != 0:
		return &ConfigurationInvalidError{"zeros", uint64(h.Zeros), 0}
	case h.Quantum != a.Quantum:
		return &ConfigurationInvalidError{"quantum", uint64(h.Quantum), uint64(a.Quantum)}
	case int(h.PtrSize) != a.PtrSize:
		return &ConfigurationInvalidError{"ptrsize", uint64(h.PtrSize), uint64(a.PtrSize)}
	case h.Count > MaxEntries:
		return &ConfigurationInvalidError{"tabsize", h.Count, MaxEntries}
	}
	return nil
}

// Entry is an element of the function table.
type Entry struct {
	Entry  uint64 // entry address of the function
	Offset uint64 // offset of the function record from the table base
}

// Options configures a Table.
type Options struct {
	// CacheEntries keeps the entry array in memory after the first lookup
	// instead of reading it again on every lookup.
	CacheEntries bool
	// FuncCacheSize is the number of decoded function records to keep.
	// Zero disables the cache.
	FuncCacheSize int
	// MaxNameLen caps the length of function names. Zero means
	// DefaultMaxNameLen.
	MaxNameLen int
	// Symbols overrides the names the table is looked up under.
	Symbols []string
}

// Table is a function table in target memory.
type Table struct {
	mem    target.MemoryReader
	arch   *arch.Arch
	base   uint64
	header Header
	err    error
	opts   Options

	entries []Entry
	funcs   *lru.Cache
	log     logflags.Logger
}

// Open finds the function table of t by symbol and validates it.
// The returned table is never nil: if the symbol is missing or the header
// does not validate the error is returned and every later lookup on the
// table reports ErrUnconfigured.
func Open(t target.Target, opts Options) (*Table, error) {
	syms := opts.Symbols
	if len(syms) == 0 {
		syms = Symbols
	}
	var lookupErr error
	for _, name := range syms {
		addr, err := t.LookupSymbol(name)
		if err == nil {
			return New(t, t.Arch(), addr, opts)
		}
		if lookupErr == nil {
			lookupErr = err
		}
	}
	return disabled(t, t.Arch(), opts, lookupErr), lookupErr
}

// New reads and validates the function table at base.
func New(mem target.MemoryReader, a *arch.Arch, base uint64, opts Options) (*Table, error) {
	h, err := ReadHeader(mem, a, base)
	if err != nil {
		err = fmt.Errorf("could not load pclntab header: %w", err)
		return disabled(mem, a, opts, err), err
	}
	if err := h.Validate(a); err != nil {
		return disabled(mem, a, opts, err), err
	}
	tab := disabled(mem, a, opts, nil)
	tab.base = base
	tab.header = h
	tab.log.Debugf("configured function table at %#x with %d entries", base, h.Count)
	return tab, nil
}

func disabled(mem target.MemoryReader, a *arch.Arch, opts Options, err error) *Table {
	if opts.MaxNameLen <= 0 {
		opts.MaxNameLen = DefaultMaxNameLen
	}
	tab := &Table{mem: mem, arch: a, err: err, opts: opts, log: logflags.PclntabLogger()}
	if err != nil {
		tab.log.Warnf("function table disabled: %v", err)
	}
	if opts.FuncCacheSize > 0 {
		funcs, err := lru.New(opts.FuncCacheSize)
		if err != nil {
			tab.log.Warnf("function record cache disabled: %v", err)
		} else {
			tab.funcs = funcs
		}
	}
	return tab
}

// Configured reports whether the header validated.
func (tab *Table) Configured() bool {
	return tab != nil && tab.err == nil
}

// Err returns the reason the table is not configured.
func (tab *Table) Err() error {
	if tab == nil {
		return ErrUnconfigured
	}
	return tab.err
}

// Base returns the address of the table.
func (tab *Table) Base() uint64 {
	return tab.base
}

// Header returns the validated header.
func (tab *Table) Header() Header {
	return tab.header
}

func (tab *Table) unconfigured() error {
	if tab.Configured() {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnconfigured, tab.Err())
}

// Entries reads the entry array.
func (tab *Table) Entries() ([]Entry, error) {
	if err := tab.unconfigured(); err != nil {
		return nil, err
	}
	if tab.entries != nil {
		return tab.entries, nil
	}
	if tab.header.Count > MaxEntries {
		return nil, &ConfigurationInvalidError{"tabsize", tab.header.Count, MaxEntries}
	}
	w := tab.arch.PtrSize
	n := int(tab.header.Count)
	buf, err := target.ReadFull(tab.mem, tab.base+uint64(HeaderSize(w)), n*2*w)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, n)
	for i := range entries {
		rec := buf[i*2*w:]
		entries[i] = Entry{Entry: tab.arch.Uint(rec), Offset: tab.arch.Uint(rec[w:])}
	}
	if tab.opts.CacheEntries {
		tab.entries = entries
	}
	return entries, nil
}

// Resolve returns the offset of the function record for the function
// containing addr.
func (tab *Table) Resolve(addr uint64) (uint64, error) {
	e, err := tab.lookup(addr)
	if err != nil {
		return 0, err
	}
	return e.Offset, nil
}

func (tab *Table) lookup(addr uint64) (Entry, error) {
	entries, err := tab.Entries()
	if err != nil {
		return Entry{}, err
	}
	i, err := Search(entries, addr)
	if err != nil {
		var corrupt *CorruptTableError
		if errors.As(err, &corrupt) {
			tab.log.Errorf("%v", err)
		}
		return Entry{}, err
	}
	return entries[i], nil
}

// Search returns the index i such that
//
//	entries[i].Entry <= addr < entries[i+1].Entry
//
// The last entry is a sentinel and is never returned. Addresses outside of
// [entries[0].Entry, entries[len-1].Entry) return ErrNotFound.
func Search(entries []Entry, addr uint64) (int, error) {
	n := len(entries)
	if n < 2 || addr < entries[0].Entry || addr >= entries[n-1].Entry {
		return 0, fmt.Errorf("%#x: %w", addr, ErrNotFound)
	}
	i := sort.Search(n, func(i int) bool { return entries[i].Entry > addr }) - 1
	if i < 0 || i >= n-1 || entries[i].Entry > addr || addr >= entries[i+1].Entry {
		return 0, &CorruptTableError{Addr: addr}
	}
	return i, nil
}

// Func is a function record.
type Func struct {
	Entry     uint64
	NameOff   uint32
	Args      uint32
	Frame     uint32
	PCSP      uint32
	PCFile    uint32
	PCLn      uint32
	NPCData   uint32
	NFuncData uint32

	// Offset is the offset of the record from the table base.
	Offset uint64
	// Name is filled in by FuncForPC.
	Name string
}

// FuncSize returns the size of a function record for a target with
// pointers of ptrSize bytes.
func FuncSize(ptrSize int) int {
	return ptrSize + 8*4
}

// LoadFunc reads the function record at offset off.
func (tab *Table) LoadFunc(off uint64) (*Func, error) {
	if err := tab.unconfigured(); err != nil {
		return nil, err
	}
	w := tab.arch.PtrSize
	buf, err := target.ReadFull(tab.mem, tab.base+off, FuncSize(w))
	if err != nil {
		return nil, fmt.Errorf("could not load function from function table: %w", err)
	}
	var fields [8]uint32
	for i := range fields {
		fields[i] = tab.arch.ByteOrder.Uint32(buf[w+4*i:])
	}
	return &Func{
		Entry:     tab.arch.Uint(buf),
		NameOff:   fields[0],
		Args:      fields[1],
		Frame:     fields[2],
		PCSP:      fields[3],
		PCFile:    fields[4],
		PCLn:      fields[5],
		NPCData:   fields[6],
		NFuncData: fields[7],
		Offset:    off,
	}, nil
}

// FuncName reads the name of f.
func (tab *Table) FuncName(f *Func) (string, error) {
	if err := tab.unconfigured(); err != nil {
		return "", err
	}
	name, err := target.ReadCString(tab.mem, tab.base+uint64(f.NameOff), tab.opts.MaxNameLen)
	if err != nil {
		return "", fmt.Errorf("could not read name of function at %#x: %w", f.Entry, err)
	}
	return name, nil
}

// FuncForPC returns the function containing pc, with its name.
func (tab *Table) FuncForPC(pc uint64) (*Func, error) {
	e, err := tab.lookup(pc)
	if err != nil {
		return nil, err
	}
	off := e.Offset
	if tab.funcs != nil {
		if v, ok := tab.funcs.Get(off); ok {
			return v.(*Func), nil
		}
	}
	f, err := tab.LoadFunc(off)
	if err != nil {
		return nil, err
	}
	if f.Entry != e.Entry {
		tab.log.Warnf("function record at offset %#x has entry %#x, function table has %#x: function table is corrupt", off, f.Entry, e.Entry)
	}
	if f.Name, err = tab.FuncName(f); err != nil {
		return nil, err
	}
	if tab.funcs != nil {
		tab.funcs.Add(off, f)
	}
	return f, nil
}
