package terminal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func (ft *FakeTerminal) ExecStarlark(starlarkProgram string) (string, error) {
	ft.out.Reset()
	_, err := ft.Term.starlarkEnv.Execute("<stdin>", starlarkProgram, "main", nil)
	return ft.out.String(), err
}

func (ft *FakeTerminal) MustExecStarlark(starlarkProgram string) string {
	outstr, err := ft.ExecStarlark(starlarkProgram)
	if err != nil {
		ft.t.Errorf("output of %q: %q", starlarkProgram, outstr)
		ft.t.Fatalf("Error executing <%s>: %v", starlarkProgram, err)
	}
	return outstr
}

func TestStarlarkCommand(t *testing.T) {
	ft := newFakeTerminal(t)
	out := ft.MustExecStarlark(`
def main():
    mdb_command("go_g c2000000")
`)
	if !strings.Contains(out, "goroutine 1 [Grunning]") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestStarlarkDefinedCommand(t *testing.T) {
	ft := newFakeTerminal(t)
	path := filepath.Join(t.TempDir(), "gid.star")
	script := `
def command_gid(addr):
    "Prints the id of a goroutine."
    print(g(addr).ID)

def command_echo(args):
    print("echo " + args)
`
	if err := os.WriteFile(path, []byte(script), 0600); err != nil {
		t.Fatal(err)
	}
	ft.MustExec("source " + path)
	ft.AssertExec("gid 0xc2001000", "2\n")
	ft.AssertExec("walk go_g | gid", "1\n2\n3\n")
	ft.AssertExec("walk go_m | echo m", "echo m 0xc3000000\necho m 0xc3004000\n")
	if !strings.Contains(ft.MustExec("help gid"), "Prints the id of a goroutine.") {
		t.Fatal("help of user defined command not found")
	}
}

func TestStarlarkSession(t *testing.T) {
	ft := newFakeTerminal(t)
	out := ft.MustExecStarlark(`
def main():
    for f in stack(2):
        print(f.Func.Name)
    print(len(defers(0xc2000000)))
    print(timers().Len)
`)
	want := "runtime.gosched\nmain.work\nmain.main\n2\n2\n"
	if out != want {
		t.Fatalf("expected %q got %q", want, out)
	}
}
