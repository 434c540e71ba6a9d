package core

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/TritonDataCenter/mdb-go/pkg/arch"
	"github.com/TritonDataCenter/mdb-go/pkg/target/linutil"
)

// NT_FILE is file mapping information, e.g. program text mappings. Desc
// is a linuxNTFile.
const _NT_FILE elf.NType = 0x46494c45 // "FILE".

// note is a note from the PT_NOTE prog. Relevant types:
//   - NT_FILE: file mappings, e.g. program text. Desc is a *linuxNTFile.
//   - NT_PRPSINFO: information about the process, including the pid.
//   - NT_PRSTATUS: information about a thread, including its general
//     purpose registers.
type note struct {
	Type elf.NType
	Name string
	Desc interface{}
}

// readNotes reads all the notes from the notes prog in core.
func readNotes(core *elf.File, a *arch.Arch) ([]*note, error) {
	var notes []*note
	for _, prog := range core.Progs {
		if prog.Type != elf.PT_NOTE {
			continue
		}
		r := prog.Open()
		for {
			note, err := readNote(r, a)
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
			notes = append(notes, note)
		}
	}
	return notes, nil
}

// readNote reads a single note from r, decoding the descriptor if
// possible. Notes are laid out as described in the SysV ABI, with 4 byte
// alignment on both word sizes.
func readNote(r io.ReadSeeker, a *arch.Arch) (*note, error) {
	note := &note{}
	hdr := &elfNotesHdr{}

	err := binary.Read(r, binary.LittleEndian, hdr)
	if err != nil {
		return nil, err // don't wrap so readNotes sees EOF.
	}
	note.Type = elf.NType(hdr.Type)

	name := make([]byte, hdr.Namesz)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, fmt.Errorf("reading name: %v", err)
	}
	note.Name = string(bytes.TrimRight(name, "\x00"))
	if err := skipPadding(r, 4); err != nil {
		return nil, fmt.Errorf("aligning after name: %v", err)
	}
	desc := make([]byte, hdr.Descsz)
	if _, err := io.ReadFull(r, desc); err != nil {
		return nil, fmt.Errorf("reading desc: %v", err)
	}
	descReader := bytes.NewReader(desc)
	switch note.Type {
	case elf.NT_PRSTATUS:
		if a.PtrSize == 8 {
			note.Desc = &linuxPrStatusAMD64{}
		} else {
			note.Desc = &linuxPrStatus386{}
		}
		if err := binary.Read(descReader, binary.LittleEndian, note.Desc); err != nil {
			return nil, fmt.Errorf("reading NT_PRSTATUS: %v", err)
		}
	case elf.NT_PRPSINFO:
		if a.PtrSize == 8 {
			note.Desc = &linuxPrPsInfo{}
		} else {
			note.Desc = &linuxPrPsInfo386{}
		}
		if err := binary.Read(descReader, binary.LittleEndian, note.Desc); err != nil {
			return nil, fmt.Errorf("reading NT_PRPSINFO: %v", err)
		}
	case _NT_FILE:
		data, err := readNTFile(descReader, a)
		if err != nil {
			return nil, err
		}
		note.Desc = data
	}
	if err := skipPadding(r, 4); err != nil {
		return nil, fmt.Errorf("aligning after desc: %v", err)
	}
	return note, nil
}

// readNTFile decodes an NT_FILE note: a header with the entry count,
// followed by that many entries and then the null-delimited file name of
// each entry. Every field is a word of the target.
func readNTFile(r *bytes.Reader, a *arch.Arch) (*linuxNTFile, error) {
	word := func() (uint64, error) {
		buf := make([]byte, a.PtrSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, err
		}
		return a.Uint(buf), nil
	}
	data := &linuxNTFile{}
	var err error
	if data.Count, err = word(); err != nil {
		return nil, fmt.Errorf("reading NT_FILE header: %v", err)
	}
	if data.PageSize, err = word(); err != nil {
		return nil, fmt.Errorf("reading NT_FILE header: %v", err)
	}
	for i := 0; i < int(data.Count); i++ {
		entry := &linuxNTFileEntry{}
		for _, p := range []*uint64{&entry.Start, &entry.End, &entry.FileOfs} {
			if *p, err = word(); err != nil {
				return nil, fmt.Errorf("reading NT_FILE entry %v: %v", i, err)
			}
		}
		data.entries = append(data.entries, entry)
	}
	rest := make([]byte, r.Len())
	io.ReadFull(r, rest)
	names := bytes.Split(rest, []byte{0})
	for i, entry := range data.entries {
		if i < len(names) {
			entry.Name = string(names[i])
		}
	}
	return data, nil
}

// skipPadding moves r to the next multiple of pad.
func skipPadding(r io.ReadSeeker, pad int64) error {
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if pos%pad == 0 {
		return nil
	}
	if _, err := r.Seek(pad-(pos%pad), io.SeekCurrent); err != nil {
		return err
	}
	return nil
}

func buildMemory(core, exeELF *elf.File, exe io.ReaderAt, notes []*note) *splicedMemory {
	memory := &splicedMemory{}

	// All file mappings are assumed to be of the executable.
	for _, note := range notes {
		if note.Type == _NT_FILE {
			fileNote := note.Desc.(*linuxNTFile)
			for _, entry := range fileNote.entries {
				r := &offsetReaderAt{
					reader: exe,
					offset: entry.Start - (entry.FileOfs * fileNote.PageSize),
				}
				memory.Add(r, entry.Start, entry.End-entry.Start)
			}
		}
	}

	// Load memory segments from exe and then from the core file,
	// allowing the core file to overwrite previously loaded segments.
	for _, elfFile := range []*elf.File{exeELF, core} {
		for _, prog := range elfFile.Progs {
			if prog.Type == elf.PT_LOAD {
				if prog.Filesz == 0 {
					continue
				}
				r := &offsetReaderAt{
					reader: prog.ReaderAt,
					offset: prog.Vaddr,
				}
				memory.Add(r, prog.Vaddr, prog.Filesz)
			}
		}
	}
	return memory
}

// linuxPrPsInfo is the prpsinfo kernel struct of 64-bit processes.
// See include/uapi/linux/elfcore.h.
type linuxPrPsInfo struct {
	State                uint8
	Sname                int8
	Zomb                 uint8
	Nice                 int8
	_                    [4]uint8
	Flag                 uint64
	Uid, Gid             uint32
	Pid, Ppid, Pgrp, Sid int32
	Fname                [16]uint8
	Args                 [80]uint8
}

// linuxPrPsInfo386 is the prpsinfo kernel struct of 32-bit processes.
type linuxPrPsInfo386 struct {
	State                uint8
	Sname                int8
	Zomb                 uint8
	Nice                 int8
	Flag                 uint32
	Uid, Gid             uint16
	Pid, Ppid, Pgrp, Sid int32
	Fname                [16]uint8
	Args                 [80]uint8
}

// linuxCoreTimeval is a timeval of a 64-bit process.
type linuxCoreTimeval struct {
	Sec  int64
	Usec int64
}

// linuxCoreTimeval32 is a timeval of a 32-bit process.
type linuxCoreTimeval32 struct {
	Sec  int32
	Usec int32
}

// linuxPrStatusAMD64 is a copy of the prstatus kernel struct.
type linuxPrStatusAMD64 struct {
	Siginfo                      linuxSiginfo
	Cursig                       uint16
	_                            [2]uint8
	Sigpend                      uint64
	Sighold                      uint64
	Pid, Ppid, Pgrp, Sid         int32
	Utime, Stime, CUtime, CStime linuxCoreTimeval
	Reg                          linutil.AMD64PtraceRegs
	Fpvalid                      int32
}

// linuxPrStatus386 is a copy of the prstatus kernel struct of 32-bit
// processes.
type linuxPrStatus386 struct {
	Siginfo                      linuxSiginfo
	Cursig                       uint16
	_                            [2]uint8
	Sigpend                      uint32
	Sighold                      uint32
	Pid, Ppid, Pgrp, Sid         int32
	Utime, Stime, CUtime, CStime linuxCoreTimeval32
	Reg                          linutil.I386PtraceRegs
	Fpvalid                      int32
}

// linuxSiginfo is a copy of the siginfo kernel struct.
type linuxSiginfo struct {
	Signo int32
	Code  int32
	Errno int32
}

// linuxNTFile contains information on mapped files.
type linuxNTFile struct {
	Count    uint64
	PageSize uint64
	entries  []*linuxNTFileEntry
}

// linuxNTFileEntry is an entry of an NT_FILE note.
type linuxNTFileEntry struct {
	Start   uint64
	End     uint64
	FileOfs uint64
	Name    string
}

// elfNotesHdr is the ELF Notes header.
// Same size on 64 and 32-bit machines.
type elfNotesHdr struct {
	Namesz uint32
	Descsz uint32
	Type   uint32
}
