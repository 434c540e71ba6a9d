package core

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/TritonDataCenter/mdb-go/pkg/elfwriter"
	"github.com/TritonDataCenter/mdb-go/pkg/logflags"
	"github.com/TritonDataCenter/mdb-go/pkg/target"
	"github.com/TritonDataCenter/mdb-go/pkg/target/linutil"
)

const dumpChunk = 1024 * 1024

// Dump writes a Linux ELF core file of p to out and closes it. The file
// can be read back with Open, together with the executable of p.
//
// Unreadable memory is written as zeroes.
func Dump(out elfwriter.WriteCloserSeeker, p target.Process) (err error) {
	defer func() {
		cerr := out.Close()
		if err == nil && cerr != nil {
			err = fmt.Errorf("error writing output file: %v", cerr)
		}
	}()

	a := p.Arch()
	var fhdr elf.FileHeader
	fhdr.Class = elf.ELFCLASS64
	fhdr.Machine = elf.EM_X86_64
	if a.PtrSize == 4 {
		fhdr.Class = elf.ELFCLASS32
		fhdr.Machine = elf.EM_386
	}
	fhdr.Data = elf.ELFDATA2LSB
	fhdr.Version = elf.EV_CURRENT
	fhdr.OSABI = elf.ELFOSABI_LINUX
	fhdr.Type = elf.ET_CORE

	w := elfwriter.New(out, &fhdr)

	notes := []elfwriter.Note{dumpProcessNote(p)}
	for _, tid := range p.Threads() {
		note, err := dumpThreadNote(p, tid)
		if err != nil {
			return err
		}
		notes = append(notes, note)
	}

	log := logflags.TargetLogger()
	buf := make([]byte, dumpChunk)
	for _, region := range p.Regions() {
		if w.Err != nil {
			return fmt.Errorf("error writing to output file: %v", w.Err)
		}
		start, end := region[0], region[1]
		w.Progs = append(w.Progs, &elf.ProgHeader{
			Type:   elf.PT_LOAD,
			Flags:  elf.PF_R,
			Off:    uint64(w.Here()),
			Vaddr:  start,
			Filesz: end - start,
			Memsz:  end - start,
		})
		for addr := start; addr < end; {
			chunk := buf
			if uint64(len(chunk)) > end-addr {
				chunk = chunk[:end-addr]
			}
			n, err := p.ReadMemory(chunk, addr)
			if err != nil {
				log.Debugf("dump: %#x: %v", addr, err)
			}
			for i := n; i < len(chunk); i++ {
				chunk[i] = 0
			}
			w.Write(chunk)
			addr += uint64(len(chunk))
		}
	}

	w.Progs = append(w.Progs, w.WriteNotes(notes))
	w.WriteProgramHeaders()
	if w.Err != nil {
		return fmt.Errorf("error writing to output file: %v", w.Err)
	}
	return nil
}

func dumpProcessNote(p target.Process) elfwriter.Note {
	var desc interface{}
	if p.Arch().PtrSize == 8 {
		desc = &linuxPrPsInfo{Pid: int32(p.Pid())}
	} else {
		desc = &linuxPrPsInfo386{Pid: int32(p.Pid())}
	}
	return elfwriter.Note{Type: elf.NT_PRPSINFO, Name: "CORE", Data: encodeNote(desc)}
}

// dumpThreadNote returns the NT_PRSTATUS note of thread tid. Registers
// the target does not know are written as zero.
func dumpThreadNote(p target.Process, tid int) (elfwriter.Note, error) {
	type settable interface {
		linutil.Registers
		Set(name string, v uint64) bool
	}
	var (
		desc interface{}
		regs settable
	)
	if p.Arch().PtrSize == 8 {
		st := &linuxPrStatusAMD64{Pid: int32(tid)}
		desc, regs = st, &st.Reg
	} else {
		st := &linuxPrStatus386{Pid: int32(tid)}
		desc, regs = st, &st.Reg
	}
	found := false
	for _, name := range regs.Names() {
		v, err := p.ReadRegister(tid, name)
		if err != nil {
			continue
		}
		regs.Set(name, v)
		found = true
	}
	if !found {
		return elfwriter.Note{}, fmt.Errorf("thread %d: no registers", tid)
	}
	return elfwriter.Note{Type: elf.NT_PRSTATUS, Name: "CORE", Data: encodeNote(desc)}, nil
}

func encodeNote(desc interface{}) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, desc)
	return buf.Bytes()
}
