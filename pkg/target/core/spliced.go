package core

import (
	"fmt"
	"io"

	"github.com/TritonDataCenter/mdb-go/pkg/target"
)

// A splicedMemory is an address space formed from multiple regions, each
// of which may override earlier ones. The text of a program mapped at
// 0x400000 from the executable can be partially overwritten by a RW
// mapping whose contents were dumped into the core file: add the
// executable region first, then the core segment on top of it.
type splicedMemory struct {
	readers []readerEntry
}

type readerEntry struct {
	offset uint64
	length uint64
	reader target.MemoryReader
}

// Add adds a new region, overriding the parts of existing regions it
// overlaps.
func (r *splicedMemory) Add(reader target.MemoryReader, off, length uint64) {
	if length == 0 {
		return
	}
	end := off + length - 1
	newReaders := make([]readerEntry, 0, len(r.readers))
	add := func(e readerEntry) {
		if e.length == 0 {
			return
		}
		newReaders = append(newReaders, e)
	}
	inserted := false
	for _, entry := range r.readers {
		entryEnd := entry.offset + entry.length - 1
		switch {
		case entryEnd < off:
			// entirely before the new region
			add(entry)
		case end < entry.offset:
			// entirely after the new region
			if !inserted {
				add(readerEntry{off, length, reader})
				inserted = true
			}
			add(entry)
		case off <= entry.offset && entryEnd <= end:
			// entirely covered, drop it
		case entry.offset < off && entryEnd <= end:
			// tail covered
			entry.length = off - entry.offset
			add(entry)
		case off <= entry.offset && end < entryEnd:
			// head covered
			if !inserted {
				add(readerEntry{off, length, reader})
				inserted = true
			}
			overlap := end + 1 - entry.offset
			entry.offset += overlap
			entry.length -= overlap
			add(entry)
		case entry.offset < off && end < entryEnd:
			// the new region splits the entry in two
			add(readerEntry{entry.offset, off - entry.offset, entry.reader})
			add(readerEntry{off, length, reader})
			add(readerEntry{end + 1, entryEnd - end, entry.reader})
			inserted = true
		default:
			panic(fmt.Sprintf("unhandled case: existing entry is %#x len %#x, new is %#x len %#x", entry.offset, entry.length, off, length))
		}
	}
	if !inserted {
		newReaders = append(newReaders, readerEntry{off, length, reader})
	}
	r.readers = newReaders
}

// ReadMemory implements target.MemoryReader.
func (r *splicedMemory) ReadMemory(buf []byte, addr uint64) (n int, err error) {
	started := false
	for _, entry := range r.readers {
		if entry.offset+entry.length <= addr {
			continue
		}
		if entry.offset > addr {
			if started {
				return n, fmt.Errorf("hit unmapped area at %#x after %d bytes", addr, n)
			}
			break
		}
		started = true

		pb := buf
		if addr+uint64(len(buf)) > entry.offset+entry.length {
			pb = pb[:entry.offset+entry.length-addr]
		}
		pn, err := entry.reader.ReadMemory(pb, addr)
		n += pn
		if err != nil {
			return n, fmt.Errorf("error while reading spliced memory at %#x: %v", addr, err)
		}
		if pn != len(pb) {
			return n, nil
		}
		buf = buf[pn:]
		addr += uint64(pn)
		if len(buf) == 0 {
			return n, nil
		}
	}
	if n == 0 {
		return 0, fmt.Errorf("address %#x did not match any regions", addr)
	}
	if len(buf) > 0 {
		return n, fmt.Errorf("hit unmapped area at %#x after %d bytes", addr, n)
	}
	return n, nil
}

// regions returns the mapped ranges, sorted by address.
func (r *splicedMemory) regions() [][2]uint64 {
	out := make([][2]uint64, len(r.readers))
	for i, e := range r.readers {
		out[i] = [2]uint64{e.offset, e.offset + e.length}
	}
	return out
}

// offsetReaderAt wraps a ReaderAt into a MemoryReader, subtracting a fixed
// offset from the address. A program text mapped at 0x400000 is an
// offsetReaderAt with offset 0x400000 around the executable.
type offsetReaderAt struct {
	reader io.ReaderAt
	offset uint64
}

// ReadMemory reads the memory at addr-offset.
func (r *offsetReaderAt) ReadMemory(buf []byte, addr uint64) (n int, err error) {
	n, err = r.reader.ReadAt(buf, int64(addr-r.offset))
	if err == io.EOF && n == len(buf) {
		err = nil
	}
	return n, err
}
