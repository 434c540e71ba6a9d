package layout

import (
	"fmt"

	"github.com/TritonDataCenter/mdb-go/pkg/target"
)

// Record is a snapshot of a structure read from target memory.
type Record struct {
	Layout *Layout
	Addr   uint64
	buf    []byte
}

// Read reads the structure described by l at addr.
func Read(mem target.MemoryReader, l *Layout, addr uint64) (*Record, error) {
	if addr == 0 {
		return nil, fmt.Errorf("could not read %s: %w", l.Type, target.ErrNullAddr)
	}
	buf, err := target.ReadFull(mem, addr, l.Size)
	if err != nil {
		return nil, fmt.Errorf("could not read %s at %#x: %w", l.Type, addr, err)
	}
	return &Record{Layout: l, Addr: addr, buf: buf}, nil
}

// Decode wraps buf, which must hold at least l.Size bytes read from addr.
func Decode(l *Layout, addr uint64, buf []byte) *Record {
	if len(buf) < l.Size {
		panic(fmt.Sprintf("layout: %d bytes is too short for %s", len(buf), l.Type))
	}
	return &Record{Layout: l, Addr: addr, buf: buf[:l.Size]}
}

// Uint returns the scalar field at path, zero extended.
func (r *Record) Uint(path string) uint64 {
	fi := r.Layout.mustField(path)
	if !scalar(fi.Type) {
		panic(fmt.Sprintf("layout: field %q of %s is not a scalar", path, r.Layout.Type))
	}
	b := r.buf[fi.Offset:]
	bo := r.Layout.Arch.ByteOrder
	switch fi.Type.Size(r.Layout.Arch) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(bo.Uint16(b))
	case 4:
		return uint64(bo.Uint32(b))
	}
	return bo.Uint64(b)
}

// Int returns the scalar field at path, sign extended if its type is
// signed.
func (r *Record) Int(path string) int64 {
	v := r.Uint(path)
	fi := r.Layout.fields[path]
	if !fi.Type.Kind.Signed() {
		return int64(v)
	}
	switch fi.Type.Size(r.Layout.Arch) {
	case 1:
		return int64(int8(v))
	case 2:
		return int64(int16(v))
	case 4:
		return int64(int32(v))
	}
	return int64(v)
}

// Bool returns whether the scalar field at path is non zero.
func (r *Record) Bool(path string) bool {
	return r.Uint(path) != 0
}

// FieldAddr returns the target address of the field at path.
func (r *Record) FieldAddr(path string) uint64 {
	return r.Addr + uint64(r.Layout.Offset(path))
}

// Bytes returns the raw bytes of the field at path.
func (r *Record) Bytes(path string) []byte {
	fi := r.Layout.mustField(path)
	return r.buf[fi.Offset : fi.Offset+fi.Type.Size(r.Layout.Arch)]
}

// Index returns element i of the scalar array at path.
func (r *Record) Index(path string, i int) uint64 {
	fi := r.Layout.mustField(path)
	if fi.Type.Kind != Array || !scalar(fi.Type.Elem) {
		panic(fmt.Sprintf("layout: field %q of %s is not a scalar array", path, r.Layout.Type))
	}
	if i < 0 || i >= fi.Type.Len {
		panic(fmt.Sprintf("layout: index %d out of range for %q", i, path))
	}
	a := r.Layout.Arch
	size := fi.Type.Elem.Size(a)
	b := r.buf[fi.Offset+i*size:]
	switch size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(a.ByteOrder.Uint16(b))
	case 4:
		return uint64(a.ByteOrder.Uint32(b))
	}
	return a.ByteOrder.Uint64(b)
}
