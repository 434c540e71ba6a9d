// elfwriter is a package to write ELF files without having their entire
// contents in memory at any one time.
// Only the features needed to write core files and the symbol tables of
// small executables are implemented, notably missing:
// - relocations and dynamic sections
// - program headers at the beginning of the file
// - big endian targets

package elfwriter

import (
	"debug/elf"
	"encoding/binary"
	"io"
)

// WriteCloserSeeker is the union of io.Writer, io.Closer and io.Seeker.
type WriteCloserSeeker interface {
	io.Writer
	io.Seeker
	io.Closer
}

// Writer writes ELF files.
type Writer struct {
	w     WriteCloserSeeker
	Err   error
	Progs []*elf.ProgHeader

	class    elf.Class
	sections []*elf.SectionHeader

	seekProgHeader    int64
	seekProgNum       int64
	seekSectionHeader int64
	seekSectionNum    int64
}

type Note struct {
	Type elf.NType
	Name string
	Data []byte
}

// Symbol is an entry of a symbol table written by WriteSymbols.
type Symbol struct {
	Name  string
	Value uint64
	Size  uint64
}

// New creates a new Writer.
func New(w WriteCloserSeeker, fhdr *elf.FileHeader) *Writer {
	if seek, _ := w.Seek(0, io.SeekCurrent); seek != 0 {
		panic("can't write halfway through a file")
	}

	r := &Writer{w: w, class: fhdr.Class}

	if fhdr.Class != elf.ELFCLASS64 && fhdr.Class != elf.ELFCLASS32 {
		panic("unsupported")
	}

	if fhdr.Data != elf.ELFDATA2LSB {
		panic("unsupported")
	}

	// e_ident
	r.Write([]byte{0x7f, 'E', 'L', 'F', byte(fhdr.Class), byte(fhdr.Data), byte(fhdr.Version), byte(fhdr.OSABI), byte(fhdr.ABIVersion), 0, 0, 0, 0, 0, 0, 0})

	r.u16(uint16(fhdr.Type))    // e_type
	r.u16(uint16(fhdr.Machine)) // e_machine
	r.u32(uint32(fhdr.Version)) // e_version
	r.word(fhdr.Entry)          // e_entry
	r.seekProgHeader = r.Here()
	r.word(0) // e_phoff
	r.seekSectionHeader = r.Here()
	r.word(0)                    // e_shoff
	r.u32(0)                     // e_flags
	r.u16(uint16(r.ehsize()))    // e_ehsize
	r.u16(uint16(r.phentsize())) // e_phentsize
	r.seekProgNum = r.Here()
	r.u16(0)                     // e_phnum
	r.u16(uint16(r.shentsize())) // e_shentsize
	r.seekSectionNum = r.Here()
	r.u16(0)                     // e_shnum
	r.u16(uint16(elf.SHN_UNDEF)) // e_shstrndx

	// Sanity check, size of file header should be the same as ehsize
	if sz, _ := w.Seek(0, io.SeekCurrent); sz != r.ehsize() {
		panic("internal error, ELF header size")
	}

	return r
}

func (w *Writer) ehsize() int64 {
	if w.class == elf.ELFCLASS32 {
		return 52
	}
	return 64
}

func (w *Writer) phentsize() int64 {
	if w.class == elf.ELFCLASS32 {
		return 32
	}
	return 56
}

func (w *Writer) shentsize() int64 {
	if w.class == elf.ELFCLASS32 {
		return 40
	}
	return 64
}

// WriteNotes writes notes to the current location, returns a ProgHeader describing the
// notes.
func (w *Writer) WriteNotes(notes []Note) *elf.ProgHeader {
	if len(notes) == 0 {
		return nil
	}
	h := &elf.ProgHeader{
		Type:  elf.PT_NOTE,
		Align: 4,
	}
	for i := range notes {
		note := &notes[i]
		w.Align(4)
		if h.Off == 0 {
			h.Off = uint64(w.Here())
		}
		w.u32(uint32(len(note.Name)))
		w.u32(uint32(len(note.Data)))
		w.u32(uint32(note.Type))
		w.Write([]byte(note.Name))
		w.Align(4)
		w.Write(note.Data)
	}
	h.Filesz = uint64(w.Here()) - h.Off
	return h
}

// WriteSegment writes data to the current location and returns a PT_LOAD
// ProgHeader mapping it at vaddr.
func (w *Writer) WriteSegment(vaddr uint64, data []byte, flags elf.ProgFlag) *elf.ProgHeader {
	w.Align(16)
	h := &elf.ProgHeader{
		Type:   elf.PT_LOAD,
		Flags:  flags,
		Off:    uint64(w.Here()),
		Vaddr:  vaddr,
		Filesz: uint64(len(data)),
		Memsz:  uint64(len(data)),
		Align:  16,
	}
	w.Write(data)
	return h
}

// WriteSymbols writes a .symtab section for syms, with its .strtab.
// Symbols are absolute.
func (w *Writer) WriteSymbols(syms []Symbol) {
	strtab := []byte{0}
	symtab := make([]byte, w.symentsize()) // the null symbol
	for _, sym := range syms {
		name := uint32(len(strtab))
		strtab = append(append(strtab, sym.Name...), 0)
		symtab = append(symtab, w.symbol(name, sym)...)
	}
	strndx := w.addSection(".strtab", elf.SHT_STRTAB, strtab, 0, 1, 0)
	w.addSection(".symtab", elf.SHT_SYMTAB, symtab, uint32(strndx), 8, uint64(w.symentsize()))
}

func (w *Writer) symentsize() int {
	if w.class == elf.ELFCLASS32 {
		return 16
	}
	return 24
}

func (w *Writer) symbol(name uint32, sym Symbol) []byte {
	const info = byte(elf.STB_GLOBAL)<<4 | byte(elf.STT_OBJECT)
	buf := make([]byte, w.symentsize())
	le := binary.LittleEndian
	le.PutUint32(buf, name)
	if w.class == elf.ELFCLASS32 {
		le.PutUint32(buf[4:], uint32(sym.Value))
		le.PutUint32(buf[8:], uint32(sym.Size))
		buf[12] = info
		le.PutUint16(buf[14:], uint16(elf.SHN_ABS))
		return buf
	}
	buf[4] = info
	le.PutUint16(buf[6:], uint16(elf.SHN_ABS))
	le.PutUint64(buf[8:], sym.Value)
	le.PutUint64(buf[16:], sym.Size)
	return buf
}

// addSection writes data to the current location and records a section
// header for it. It returns the index of the new section.
func (w *Writer) addSection(name string, typ elf.SectionType, data []byte, link uint32, align, entsize uint64) int {
	if len(w.sections) == 0 {
		w.sections = append(w.sections, &elf.SectionHeader{Type: elf.SHT_NULL})
	}
	w.Align(int64(align))
	sh := &elf.SectionHeader{
		Name:      name,
		Type:      typ,
		Offset:    uint64(w.Here()),
		Size:      uint64(len(data)),
		Link:      link,
		Addralign: align,
		Entsize:   entsize,
	}
	w.Write(data)
	w.sections = append(w.sections, sh)
	return len(w.sections) - 1
}

// WriteSectionHeaders writes the section string table and the section
// headers at the current location and patches the file header
// accordingly. It does nothing if no section was written.
func (w *Writer) WriteSectionHeaders() {
	if len(w.sections) == 0 {
		return
	}
	shstrndx := w.addSection(".shstrtab", elf.SHT_STRTAB, nil, 0, 1, 0)
	names := make([]uint32, len(w.sections))
	strtab := []byte{0}
	for i, sh := range w.sections[1:] {
		names[i+1] = uint32(len(strtab))
		strtab = append(append(strtab, sh.Name...), 0)
	}
	shstr := w.sections[shstrndx]
	shstr.Size = uint64(len(strtab))
	w.Write(strtab)

	w.Align(8)
	shoff := w.Here()

	// Patch File Header
	w.w.Seek(w.seekSectionHeader, io.SeekStart)
	w.word(uint64(shoff))
	w.w.Seek(w.seekSectionNum, io.SeekStart)
	w.u16(uint16(len(w.sections)))
	w.u16(uint16(shstrndx))
	w.w.Seek(0, io.SeekEnd)

	for i, sh := range w.sections {
		w.u32(names[i])
		w.u32(uint32(sh.Type))
		w.word(uint64(sh.Flags))
		w.word(sh.Addr)
		w.word(sh.Offset)
		w.word(sh.Size)
		w.u32(sh.Link)
		w.u32(sh.Info)
		w.word(sh.Addralign)
		w.word(sh.Entsize)
	}
}

// WriteProgramHeaders writes the program headers at the current location
// and patches the file header accordingly.
func (w *Writer) WriteProgramHeaders() {
	w.Align(8)
	phoff := w.Here()

	// Patch File Header
	w.w.Seek(w.seekProgHeader, io.SeekStart)
	w.word(uint64(phoff))
	w.w.Seek(w.seekProgNum, io.SeekStart)
	w.u16(uint16(len(w.Progs)))
	w.w.Seek(0, io.SeekEnd)

	for _, prog := range w.Progs {
		if w.class == elf.ELFCLASS32 {
			w.u32(uint32(prog.Type))
			w.u32(uint32(prog.Off))
			w.u32(uint32(prog.Vaddr))
			w.u32(uint32(prog.Paddr))
			w.u32(uint32(prog.Filesz))
			w.u32(uint32(prog.Memsz))
			w.u32(uint32(prog.Flags))
			w.u32(uint32(prog.Align))
			continue
		}
		w.u32(uint32(prog.Type))
		w.u32(uint32(prog.Flags))
		w.u64(prog.Off)
		w.u64(prog.Vaddr)
		w.u64(prog.Paddr)
		w.u64(prog.Filesz)
		w.u64(prog.Memsz)
		w.u64(prog.Align)
	}
}

// Here returns the current seek offset from the start of the file.
func (w *Writer) Here() int64 {
	r, err := w.w.Seek(0, io.SeekCurrent)
	if err != nil && w.Err == nil {
		w.Err = err
	}
	return r
}

// Align writes as many padding bytes as needed to make the current file
// offset a multiple of align.
func (w *Writer) Align(align int64) {
	off := w.Here()
	alignOff := (off + (align - 1)) &^ (align - 1)
	if alignOff-off > 0 {
		w.Write(make([]byte, alignOff-off))
	}
}

func (w *Writer) Write(buf []byte) {
	_, err := w.w.Write(buf)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

// word writes an address sized field of the file's class.
func (w *Writer) word(n uint64) {
	if w.class == elf.ELFCLASS32 {
		w.u32(uint32(n))
		return
	}
	w.u64(n)
}

func (w *Writer) u16(n uint16) {
	err := binary.Write(w.w, binary.LittleEndian, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u32(n uint32) {
	err := binary.Write(w.w, binary.LittleEndian, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u64(n uint64) {
	err := binary.Write(w.w, binary.LittleEndian, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}
