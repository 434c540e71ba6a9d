// Package layout computes the memory layout of C-style structures for a
// target architecture.
//
// Structures are described declaratively as an ordered list of fields. The
// offset of each field is derived from the sizes and alignments of the
// preceding fields using the rules of the Plan 9 C compilers that built the
// Go runtime: integers are aligned to their size, except that 8 byte
// integers are aligned to the pointer size, and a structure is aligned to
// its most aligned field.
package layout

import (
	"fmt"
	"strings"
	"sync"

	"github.com/TritonDataCenter/mdb-go/pkg/arch"
)

// Kind is the kind of a Type.
type Kind uint8

const (
	Uint8 Kind = iota + 1
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Uint64
	Int64
	Uintptr
	Pointer
	Struct
	Array
)

var kindNames = [...]string{
	Uint8:   "uint8",
	Int8:    "int8",
	Uint16:  "uint16",
	Int16:   "int16",
	Uint32:  "uint32",
	Int32:   "int32",
	Uint64:  "uint64",
	Int64:   "int64",
	Uintptr: "uintptr",
	Pointer: "pointer",
	Struct:  "struct",
	Array:   "array",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Signed reports whether values of kind k are sign extended.
func (k Kind) Signed() bool {
	switch k {
	case Int8, Int16, Int32, Int64:
		return true
	}
	return false
}

// Type describes a field type.
type Type struct {
	Kind Kind
	// Name of a struct type.
	Name string
	// Fields of a struct type, in declaration order.
	Fields []Field
	// Elem and Len describe an array type.
	Elem *Type
	Len  int
}

// Field is a named struct member.
type Field struct {
	Name string
	Type *Type
}

// Scalar types.
var (
	U8   = &Type{Kind: Uint8}
	I8   = &Type{Kind: Int8}
	U16  = &Type{Kind: Uint16}
	I16  = &Type{Kind: Int16}
	U32  = &Type{Kind: Uint32}
	I32  = &Type{Kind: Int32}
	U64  = &Type{Kind: Uint64}
	I64  = &Type{Kind: Int64}
	Uptr = &Type{Kind: Uintptr}
	Ptr  = &Type{Kind: Pointer}
)

// F returns a field.
func F(name string, t *Type) Field {
	return Field{Name: name, Type: t}
}

// StructOf returns a struct type.
func StructOf(name string, fields ...Field) *Type {
	return &Type{Kind: Struct, Name: name, Fields: fields}
}

// ArrayOf returns an array type of n elements.
func ArrayOf(elem *Type, n int) *Type {
	return &Type{Kind: Array, Elem: elem, Len: n}
}

func (t *Type) String() string {
	switch t.Kind {
	case Struct:
		return "struct " + t.Name
	case Array:
		return fmt.Sprintf("[%d]%s", t.Len, t.Elem)
	}
	return t.Kind.String()
}

// Size returns the size of t on a.
func (t *Type) Size(a *arch.Arch) int {
	switch t.Kind {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32:
		return 4
	case Uint64, Int64:
		return 8
	case Uintptr, Pointer:
		return a.PtrSize
	case Array:
		return t.Len * t.Elem.Size(a)
	case Struct:
		off := 0
		for _, f := range t.Fields {
			off = align(off, f.Type.Align(a)) + f.Type.Size(a)
		}
		return align(off, t.Align(a))
	}
	panic(fmt.Sprintf("layout: bad kind %v", t.Kind))
}

// Align returns the alignment of t on a.
func (t *Type) Align(a *arch.Arch) int {
	switch t.Kind {
	case Uint64, Int64:
		if a.PtrSize < 8 {
			return a.PtrSize
		}
		return 8
	case Array:
		return t.Elem.Align(a)
	case Struct:
		max := 1
		for _, f := range t.Fields {
			if fa := f.Type.Align(a); fa > max {
				max = fa
			}
		}
		return max
	}
	return t.Size(a)
}

func align(off, a int) int {
	return (off + a - 1) &^ (a - 1)
}

// FieldInfo locates a field inside a Layout.
type FieldInfo struct {
	Offset int
	Type   *Type
}

// Layout is a struct type resolved for an architecture. Fields of nested
// structs are addressed with dotted paths, for example "sched.sp".
type Layout struct {
	Type   *Type
	Arch   *arch.Arch
	Size   int
	fields map[string]FieldInfo
	order  []string
}

type cacheKey struct {
	t *Type
	a *arch.Arch
}

var (
	cacheMu sync.Mutex
	cache   = map[cacheKey]*Layout{}
)

// Of returns the layout of struct type t on a. Layouts are computed once
// and shared.
func Of(t *Type, a *arch.Arch) *Layout {
	if t.Kind != Struct {
		panic(fmt.Sprintf("layout: %v is not a struct", t))
	}
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if l, ok := cache[cacheKey{t, a}]; ok {
		return l
	}
	l := &Layout{Type: t, Arch: a, Size: t.Size(a), fields: map[string]FieldInfo{}}
	l.add("", 0, t)
	cache[cacheKey{t, a}] = l
	return l
}

func (l *Layout) add(prefix string, base int, t *Type) {
	off := 0
	for _, f := range t.Fields {
		off = align(off, f.Type.Align(l.Arch))
		path := prefix + f.Name
		l.fields[path] = FieldInfo{Offset: base + off, Type: f.Type}
		l.order = append(l.order, path)
		if f.Type.Kind == Struct {
			l.add(path+".", base+off, f.Type)
		}
		off += f.Type.Size(l.Arch)
	}
}

// Field returns the field at path.
func (l *Layout) Field(path string) (FieldInfo, bool) {
	fi, ok := l.fields[path]
	return fi, ok
}

// Offset returns the offset of the field at path. It panics if the field
// does not exist: layouts are static and a bad path is a programming error.
func (l *Layout) Offset(path string) int {
	return l.mustField(path).Offset
}

func (l *Layout) mustField(path string) FieldInfo {
	fi, ok := l.fields[path]
	if !ok {
		panic(fmt.Sprintf("layout: %s has no field %q", l.Type, path))
	}
	return fi
}

// Paths returns every field path in declaration order, nested fields after
// the struct that contains them.
func (l *Layout) Paths() []string {
	return append([]string(nil), l.order...)
}

// Has reports whether the layout contains every one of paths.
func (l *Layout) Has(paths ...string) bool {
	for _, p := range paths {
		if _, ok := l.fields[p]; !ok {
			return false
		}
	}
	return true
}

// Put encodes v into the field at path of buf, which must be at least
// l.Size bytes long. Negative values are passed as their two's complement.
func (l *Layout) Put(buf []byte, path string, v uint64) {
	fi := l.mustField(path)
	b := buf[fi.Offset:]
	bo := l.Arch.ByteOrder
	switch size := fi.Type.Size(l.Arch); {
	case !scalar(fi.Type):
		panic(fmt.Sprintf("layout: field %q of %s is not a scalar", path, l.Type))
	case size == 1:
		b[0] = uint8(v)
	case size == 2:
		bo.PutUint16(b, uint16(v))
	case size == 4:
		bo.PutUint32(b, uint32(v))
	default:
		bo.PutUint64(b, v)
	}
}

// Encode returns a zeroed buffer of l.Size bytes with the given fields set.
func (l *Layout) Encode(vals map[string]uint64) []byte {
	buf := make([]byte, l.Size)
	for path, v := range vals {
		l.Put(buf, path, v)
	}
	return buf
}

func (l *Layout) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%d bytes on %s)\n", l.Type, l.Size, l.Arch)
	for _, p := range l.order {
		fi := l.fields[p]
		fmt.Fprintf(&sb, "\t%#04x %s %s\n", fi.Offset, p, fi.Type)
	}
	return sb.String()
}

func scalar(t *Type) bool {
	return t.Kind != Struct && t.Kind != Array
}
