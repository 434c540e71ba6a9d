package arch

import (
	"debug/elf"
	"errors"
	"strings"
	"testing"
)

func TestByName(t *testing.T) {
	for _, tc := range []struct {
		name string
		want *Arch
	}{
		{"amd64", AMD64},
		{"x86_64", AMD64},
		{"386", I386},
		{"i386", I386},
	} {
		a, err := ByName(tc.name)
		if err != nil || a != tc.want {
			t.Errorf("ByName(%q) = %v, %v", tc.name, a, err)
		}
	}
	_, err := ByName("arm64")
	var uerr *UnsupportedArchError
	if !errors.As(err, &uerr) || uerr.Name != "arm64" {
		t.Errorf("ByName(arm64) error = %v", err)
	}
}

func TestFromELF(t *testing.T) {
	if a, _ := FromELF(elf.EM_X86_64); a != AMD64 {
		t.Errorf("EM_X86_64 = %v", a)
	}
	if a, _ := FromELF(elf.EM_386); a != I386 {
		t.Errorf("EM_386 = %v", a)
	}
	if _, err := FromELF(elf.EM_AARCH64); err == nil {
		t.Errorf("EM_AARCH64 accepted")
	}
}

func TestWords(t *testing.T) {
	buf := make([]byte, 8)
	AMD64.PutUint(buf, 0x1122334455667788)
	if got := AMD64.Uint(buf); got != 0x1122334455667788 {
		t.Errorf("amd64 word = %#x", got)
	}
	buf = make([]byte, 8)
	I386.PutUint(buf, 0x1122334455667788)
	if buf[4] != 0 || I386.Uint(buf) != 0x55667788 {
		t.Errorf("386 word = %x", buf)
	}
	if r := I386.Registers(); r != [3]string{"ebp", "eip", "esp"} {
		t.Errorf("386 registers = %v", r)
	}
}

func TestDisassemble(t *testing.T) {
	// call +0; ret
	code := []byte{0xe8, 0x00, 0x00, 0x00, 0x00, 0xc3}
	lookup := func(addr uint64) (string, uint64) {
		if addr == 0x1005 {
			return "main.f", 0x1005
		}
		return "", 0
	}
	for _, a := range []*Arch{AMD64, I386} {
		inst, err := a.Disassemble(code, 0x1000, lookup)
		if err != nil {
			t.Fatal(err)
		}
		if !inst.IsCall || inst.Len != 5 || !strings.Contains(inst.Text, "CALL") || !strings.Contains(inst.Text, "main.f") {
			t.Errorf("%s: call = %+v", a, inst)
		}
		inst, err = a.Disassemble(code[5:], 0x1005, lookup)
		if err != nil {
			t.Fatal(err)
		}
		if inst.IsCall || inst.Len != 1 || !strings.Contains(inst.Text, "RET") {
			t.Errorf("%s: ret = %+v", a, inst)
		}
	}
	if _, err := AMD64.Disassemble(nil, 0, nil); err == nil {
		t.Errorf("decoding no bytes succeeded")
	}
}
