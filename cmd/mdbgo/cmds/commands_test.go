package cmds

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubcommands(t *testing.T) {
	root := New()
	for _, name := range []string{"core", "attach", "version", "log"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		require.Equal(t, name, cmd.Name())
	}
	for _, flag := range []string{"log", "log-output", "log-dest", "init", "config"} {
		require.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestVersion(t *testing.T) {
	root := New()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	require.True(t, strings.HasPrefix(out.String(), "mdbgo\n"), out.String())
	require.Contains(t, out.String(), "Version: ")
}

func TestArgumentValidation(t *testing.T) {
	for _, tc := range []struct {
		args []string
		msg  string
	}{
		{[]string{"core", "exe"}, "you must provide a core file and an executable"},
		{[]string{"core"}, "you must provide a core file and an executable"},
		{[]string{"attach"}, "you must provide a PID"},
		{[]string{"attach", "1", "exe", "extra"}, "too many arguments"},
	} {
		root := New()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&out)
		root.SetArgs(tc.args)
		err := root.Execute()
		require.Error(t, err, tc.args)
		require.Equal(t, tc.msg, err.Error())
	}
}

func TestLogHelp(t *testing.T) {
	root := New()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"help", "log"})
	require.NoError(t, root.Execute())
	for _, layer := range []string{"pclntab", "stack", "walk", "target", "terminal", "--log-dest"} {
		require.Contains(t, out.String(), layer)
	}
}
