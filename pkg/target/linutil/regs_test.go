package linutil

import (
	"strings"
	"testing"
)

func TestAMD64Registers(t *testing.T) {
	regs := &AMD64PtraceRegs{Rip: 0x401000, Rsp: 0xc000}
	if v, ok := regs.Get("RIP"); !ok || v != 0x401000 {
		t.Errorf("Get(RIP) = %#x, %v", v, ok)
	}
	if !regs.Set("rbp", 0xbeef) || regs.Rbp != 0xbeef {
		t.Errorf("Set(rbp) did not change Rbp: %#x", regs.Rbp)
	}
	if regs.Set("eip", 1) {
		t.Errorf("Set(eip) succeeded on amd64 registers")
	}
	for _, name := range regs.Names() {
		if _, ok := regs.Get(name); !ok {
			t.Errorf("listed register %s cannot be read", name)
		}
	}
}

func TestI386Registers(t *testing.T) {
	regs := &I386PtraceRegs{}
	regs.Set("esp", 0xfffff000)
	if regs.Esp != -4096 {
		t.Errorf("Esp = %d", regs.Esp)
	}
	if v, _ := regs.Get("esp"); v != 0xfffff000 {
		t.Errorf("Get(esp) = %#x, want zero extension", v)
	}
	out := Format(regs)
	if !strings.Contains(out, "     esp = 0x") || !strings.Contains(out, "fffff000\n") {
		t.Errorf("unexpected format output:\n%s", out)
	}
}
