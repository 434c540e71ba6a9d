package targettest

// Builders for go1.2 function tables. The layout is repeated here rather
// than imported so that the packages under test can use this package
// from their own tests.

const funcTabMagic = 0xfffffffb

// FuncTabEntry is a raw (entry, offset) pair of the function table.
type FuncTabEntry struct {
	Entry  uint64
	Offset uint64
}

// Header describes a function table header.
type Header struct {
	Magic   uint32
	Zeros   uint16
	Quantum uint8
	PtrSize uint8
	Count   uint64
}

// ValidHeader returns a valid header for the image's architecture.
func (im *Image) ValidHeader(count int) Header {
	return Header{Magic: funcTabMagic, Quantum: im.arch.Quantum, PtrSize: uint8(im.arch.PtrSize), Count: uint64(count)}
}

func (im *Image) headerSize() uint64 {
	return 8 + uint64(im.arch.PtrSize)
}

// PutFuncTabHeader writes a header at base.
func (im *Image) PutFuncTabHeader(base uint64, h Header) {
	im.PutUint(base, 4, uint64(h.Magic))
	im.PutUint(base+4, 2, uint64(h.Zeros))
	im.PutUint(base+6, 1, uint64(h.Quantum))
	im.PutUint(base+7, 1, uint64(h.PtrSize))
	im.PutWord(base+8, h.Count)
}

// PutFuncTabEntries writes the entry array that follows the header at base.
func (im *Image) PutFuncTabEntries(base uint64, entries []FuncTabEntry) {
	w := uint64(im.arch.PtrSize)
	addr := base + im.headerSize()
	for _, e := range entries {
		im.PutWord(addr, e.Entry)
		im.PutWord(addr+w, e.Offset)
		addr += 2 * w
	}
}

// FuncRecord is a function metadata record.
type FuncRecord struct {
	Entry     uint64
	NameOff   uint32
	Args      uint32
	Frame     uint32
	PCSP      uint32
	PCFile    uint32
	PCLn      uint32
	NPCData   uint32
	NFuncData uint32
}

// FuncRecordSize returns the size of a function record.
func (im *Image) FuncRecordSize() uint64 {
	return uint64(im.arch.PtrSize) + 8*4
}

// PutFuncRecord writes a function record at base+off.
func (im *Image) PutFuncRecord(base, off uint64, f FuncRecord) {
	addr := base + off
	im.PutWord(addr, f.Entry)
	addr += uint64(im.arch.PtrSize)
	for _, v := range []uint32{f.NameOff, f.Args, f.Frame, f.PCSP, f.PCFile, f.PCLn, f.NPCData, f.NFuncData} {
		im.PutUint(addr, 4, uint64(v))
		addr += 4
	}
}

// Func describes a function for BuildFuncTable.
type Func struct {
	Name  string
	Entry uint64
	Frame uint32
	Args  uint32
}

// BuildFuncTable writes a complete, valid function table at base and
// defines the "pclntab" symbol. The functions must be sorted by entry;
// end is the address of the terminating sentinel entry. It returns the
// record offset of each function by name.
func (im *Image) BuildFuncTable(base uint64, funcs []Func, end uint64) map[string]uint64 {
	w := uint64(im.arch.PtrSize)
	count := len(funcs) + 1
	im.SetSymbol("pclntab", base)
	im.PutFuncTabHeader(base, im.ValidHeader(count))

	recOff := im.headerSize() + uint64(count)*2*w
	nameOff := recOff + uint64(len(funcs))*im.FuncRecordSize()

	offsets := make(map[string]uint64, len(funcs))
	entries := make([]FuncTabEntry, 0, count)
	for i, f := range funcs {
		off := recOff + uint64(i)*im.FuncRecordSize()
		offsets[f.Name] = off
		entries = append(entries, FuncTabEntry{Entry: f.Entry, Offset: off})
		im.PutFuncRecord(base, off, FuncRecord{Entry: f.Entry, NameOff: uint32(nameOff), Args: f.Args, Frame: f.Frame})
		im.PutCString(base+nameOff, f.Name)
		nameOff += uint64(len(f.Name)) + 1
	}
	entries = append(entries, FuncTabEntry{Entry: end, Offset: 0})
	im.PutFuncTabEntries(base, entries)
	return offsets
}
