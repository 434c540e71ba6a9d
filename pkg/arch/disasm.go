package arch

import (
	"golang.org/x/arch/x86/x86asm"
)

// MaxInstructionLength is the longest x86 instruction encoding.
const MaxInstructionLength = 15

// SymLookup maps an address to a symbol name and the symbol's base
// address. It may be nil.
type SymLookup func(addr uint64) (string, uint64)

// Instruction is a decoded machine instruction.
type Instruction struct {
	PC     uint64
	Len    int
	Text   string
	IsCall bool
}

// Disassemble decodes the instruction at the start of mem, which was read
// from address pc, and renders it in Go assembler syntax.
func (a *Arch) Disassemble(mem []byte, pc uint64, lookup SymLookup) (Instruction, error) {
	inst, err := x86asm.Decode(mem, a.asmMode)
	if err != nil {
		return Instruction{PC: pc, Len: 1, Text: "?"}, err
	}
	patchPCRel(pc, &inst)
	var symname x86asm.SymLookup
	if lookup != nil {
		symname = x86asm.SymLookup(lookup)
	}
	return Instruction{
		PC:     pc,
		Len:    inst.Len,
		Text:   x86asm.GoSyntax(inst, pc, symname),
		IsCall: inst.Op == x86asm.CALL || inst.Op == x86asm.LCALL,
	}, nil
}

// converts PC relative arguments to absolute addresses
func patchPCRel(pc uint64, inst *x86asm.Inst) {
	for i := range inst.Args {
		rel, isrel := inst.Args[i].(x86asm.Rel)
		if isrel {
			inst.Args[i] = x86asm.Imm(int64(pc) + int64(rel) + int64(inst.Len))
		}
	}
}
