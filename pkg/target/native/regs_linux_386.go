package native

import (
	sys "golang.org/x/sys/unix"

	"github.com/TritonDataCenter/mdb-go/pkg/target/linutil"
)

func getRegisters(tid int) (linutil.Registers, error) {
	var regs sys.PtraceRegs
	if err := sys.PtraceGetRegs(tid, &regs); err != nil {
		return nil, err
	}
	return (*linutil.I386PtraceRegs)(&regs), nil
}
