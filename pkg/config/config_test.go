package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/mdb-go/pkg/gort"
)

func TestLoadConfigCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	c, err := LoadConfigFrom(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "# max-string-len: 512")

	// Every option of the default file is commented out.
	require.Nil(t, c.MaxStringLen)
	require.True(t, c.UseColor())
	require.Equal(t, gort.DefaultConfig(), c.Session())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
aliases:
  gostack: ["bt"]
max-string-len: 64
stack-depth: 10
cache-func-table: false
color: false
symbols:
  pclntab: runtime.pclntab
`), 0o600))
	c, err := LoadConfigFrom(path)
	require.NoError(t, err)
	require.Equal(t, []string{"bt"}, c.Aliases["gostack"])
	require.False(t, c.UseColor())

	cfg := c.Session()
	require.Equal(t, 64, cfg.MaxStringLen)
	require.Equal(t, 10, cfg.StackDepth)
	require.False(t, cfg.CacheFuncTable)
	require.Equal(t, gort.DefaultConfig().FuncCacheSize, cfg.FuncCacheSize)
	require.Equal(t, "runtime.pclntab", cfg.Symbols["pclntab"])

	require.NoError(t, SaveConfigTo(c, path))
	again, err := LoadConfigFrom(path)
	require.NoError(t, err)
	require.Equal(t, c, again)
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("max-string-len: [1, 2\n"), 0o600))
	_, err := LoadConfigFrom(path)
	require.Error(t, err)
}

func TestConfigureSetSimple(t *testing.T) {
	c := &Config{}
	set := func(name, value string) error {
		field := ConfigureFindFieldByName(c, name, "cfgName")
		require.True(t, field.IsValid(), name)
		return ConfigureSetSimple(value, name, field)
	}
	require.NoError(t, set("stack-depth", "7"))
	require.Equal(t, 7, *c.StackDepth)
	require.NoError(t, set("color", "false"))
	require.False(t, c.UseColor())
	require.Error(t, set("func-cache-size", "many"))
	require.Error(t, set("cache-func-table", "yes"))

	require.False(t, ConfigureFindFieldByName(c, "nonexistent", "cfgName").IsValid())

	var buf bytes.Buffer
	ConfigureList(&buf, c, "cfgName")
	out := buf.String()
	require.Contains(t, out, "stack-depth\t7\n")
	require.Contains(t, out, "max-string-len\t<not defined>\n")
	require.False(t, strings.Contains(out, "aliases"))
}

func TestSplit2PartsBySpace(t *testing.T) {
	require.Equal(t, []string{"stack-depth", "10"}, Split2PartsBySpace("stack-depth 10"))
	require.Equal(t, []string{"color"}, Split2PartsBySpace("color"))
}

func TestSetSymbol(t *testing.T) {
	c := &Config{}
	require.NoError(t, c.SetSymbol(`allg "runtime.allg"`))
	require.NoError(t, c.SetSymbol("timers runtime.timers"))
	require.Equal(t, map[string]string{"allg": "runtime.allg", "timers": "runtime.timers"}, c.Symbols)
	require.Equal(t, "runtime.allg", c.Session().Symbols["allg"])

	require.NoError(t, c.SetSymbol("allg"))
	require.Equal(t, map[string]string{"timers": "runtime.timers"}, c.Symbols)

	require.Error(t, c.SetSymbol(""))
	require.Error(t, c.SetSymbol(`allg ""`))
	require.Error(t, c.SetSymbol("allg a b"))
	require.EqualError(t, c.SetSymbol("stack runtime.stack"), `unknown root symbol "stack", must be one of pclntab, allg, allm, allp, sigtab, timers`)
}
