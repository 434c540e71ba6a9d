package target

import (
	"debug/elf"
	"errors"
	"sort"
)

// Symbol is an entry of a symbol table.
type Symbol struct {
	Name string
	Addr uint64
	Size uint64
}

// SymbolTable maps symbol names to addresses.
type SymbolTable struct {
	byName map[string]uint64
	byAddr []Symbol // sorted by Addr
}

// NewSymbolTable returns a symbol table containing syms. When two symbols
// share a name the first one wins.
func NewSymbolTable(syms []Symbol) *SymbolTable {
	st := &SymbolTable{byName: make(map[string]uint64, len(syms))}
	for _, sym := range syms {
		if sym.Name == "" {
			continue
		}
		if _, dup := st.byName[sym.Name]; dup {
			continue
		}
		st.byName[sym.Name] = sym.Addr
		st.byAddr = append(st.byAddr, sym)
	}
	sort.SliceStable(st.byAddr, func(i, j int) bool { return st.byAddr[i].Addr < st.byAddr[j].Addr })
	return st
}

// Lookup returns the address of the named symbol.
func (st *SymbolTable) Lookup(name string) (uint64, error) {
	if st != nil {
		if addr, ok := st.byName[name]; ok {
			return addr, nil
		}
	}
	return 0, &SymbolNotFoundError{Name: name}
}

// Nearest returns the symbol that contains addr, or the closest symbol
// that starts before it. It returns "", 0 if no symbol starts at or
// before addr.
func (st *SymbolTable) Nearest(addr uint64) (string, uint64) {
	if st == nil {
		return "", 0
	}
	i := sort.Search(len(st.byAddr), func(i int) bool { return st.byAddr[i].Addr > addr })
	if i == 0 {
		return "", 0
	}
	sym := st.byAddr[i-1]
	return sym.Name, sym.Addr
}

// Len returns the number of symbols in the table.
func (st *SymbolTable) Len() int {
	if st == nil {
		return 0
	}
	return len(st.byAddr)
}

// ELFSymbols reads the static and dynamic symbol tables of an ELF file.
func ELFSymbols(f *elf.File) (*SymbolTable, error) {
	var syms []Symbol
	static, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, err
	}
	dynamic, err := f.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, err
	}
	for _, list := range [][]elf.Symbol{static, dynamic} {
		for _, s := range list {
			if s.Section == elf.SHN_UNDEF {
				continue
			}
			syms = append(syms, Symbol{Name: s.Name, Addr: s.Value, Size: s.Size})
		}
	}
	if len(syms) == 0 {
		return nil, elf.ErrNoSymbols
	}
	return NewSymbolTable(syms), nil
}
