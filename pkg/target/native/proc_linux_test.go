//go:build linux && (amd64 || 386)

package native

import (
	"bufio"
	"debug/elf"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	sys "golang.org/x/sys/unix"
)

func TestParseMaps(t *testing.T) {
	const maps = `00400000-00452000 r-xp 00000000 08:02 173521      /usr/bin/dbus-daemon
00651000-00652000 r--p 00051000 08:02 173521      /usr/bin/dbus-daemon
00652000-00655000 rw-p 00052000 08:02 173521      /usr/bin/dbus-daemon
7f2f0000-7f2f1000 ---p 00000000 00:00 0
00e03000-00e24000 rw-p 00000000 00:00 0           [heap]
ffffffffff600000-ffffffffff601000 r-xp 00000000 00:00 0                  [vsyscall]
`
	r, err := parseMaps(bufio.NewScanner(strings.NewReader(maps)))
	require.NoError(t, err)
	require.Equal(t, [][2]uint64{
		{0x400000, 0x452000},
		{0x651000, 0x652000},
		{0x652000, 0x655000},
		{0xe03000, 0xe24000},
	}, r)

	_, err = parseMaps(bufio.NewScanner(strings.NewReader("zzzz r--p\n")))
	require.Error(t, err)
}

func TestAttach(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("could not start sleep: %v", err)
	}
	defer func() {
		cmd.Process.Kill()
		cmd.Wait()
	}()

	p, err := Attach(cmd.Process.Pid, "")
	if errors.Is(err, sys.EPERM) || errors.Is(err, sys.EACCES) || (err != nil && strings.Contains(err.Error(), "not permitted")) {
		t.Skipf("ptrace not permitted: %v", err)
	}
	if errors.Is(err, elf.ErrNoSymbols) {
		t.Skipf("sleep has no symbols: %v", err)
	}
	require.NoError(t, err)
	defer p.Close()

	require.Equal(t, cmd.Process.Pid, p.Pid())
	require.Contains(t, p.Threads(), cmd.Process.Pid)
	require.Equal(t, cmd.Process.Pid, p.CurrentThread())

	sp, err := p.ReadRegister(p.CurrentThread(), p.Arch().SPReg)
	require.NoError(t, err)
	require.NotZero(t, sp)

	buf := make([]byte, p.Arch().PtrSize)
	n, err := p.ReadMemory(buf, sp)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	require.NotEmpty(t, p.Regions())
	require.Error(t, p.SelectThread(-1))
}
