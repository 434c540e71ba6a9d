package config

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/TritonDataCenter/mdb-go/pkg/gort"
)

const (
	configDir   string = ".mdbgo"
	configFile  string = "config.yml"
	historyFile string = ".mdbgo_history"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// MaxStringLen is the maximum length of the function names and
	// runtime strings read from the target.
	MaxStringLen *int `yaml:"max-string-len,omitempty" cfgName:"max-string-len"`
	// StackDepth is the number of frames gostack prints after the frame
	// at the instruction pointer.
	StackDepth *int `yaml:"stack-depth,omitempty" cfgName:"stack-depth"`

	// CacheFuncTable keeps the function table entries in memory after
	// the first lookup.
	CacheFuncTable *bool `yaml:"cache-func-table,omitempty" cfgName:"cache-func-table"`
	// FuncCacheSize is the number of decoded function records kept in
	// memory. Zero disables the cache.
	FuncCacheSize *int `yaml:"func-cache-size,omitempty" cfgName:"func-cache-size"`

	// Color enables colored output when the terminal supports it.
	Color *bool `yaml:"color,omitempty" cfgName:"color"`

	// Symbols overrides the names of the root symbols of the runtime:
	// pclntab, allg, allm, allp, sigtab and timers.
	Symbols map[string]string `yaml:"symbols,omitempty"`
}

// SymbolKeys are the root symbols that can be renamed with Symbols.
var SymbolKeys = []string{"pclntab", "allg", "allm", "allp", "sigtab", "timers"}

// SetSymbol parses the arguments of "config symbols": a key followed by
// the symbol to use for it, or the key alone to restore the default.
// The symbol may be double quoted.
func (c *Config) SetSymbol(args string) error {
	argv := SplitQuotedFields(args, '"')
	if len(argv) == 0 || len(argv) > 2 {
		return fmt.Errorf("wrong number of arguments to \"config symbols\"")
	}
	key := argv[0]
	known := false
	for _, k := range SymbolKeys {
		if k == key {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown root symbol %q, must be one of %s", key, strings.Join(SymbolKeys, ", "))
	}
	if len(argv) == 1 {
		delete(c.Symbols, key)
		return nil
	}
	if argv[1] == "" {
		return fmt.Errorf("empty symbol name for %q", key)
	}
	if c.Symbols == nil {
		c.Symbols = make(map[string]string)
	}
	c.Symbols[key] = argv[1]
	return nil
}

// Session returns the session configuration described by c. Options
// that are not set keep the values of gort.DefaultConfig.
func (c *Config) Session() gort.Config {
	cfg := gort.DefaultConfig()
	if c == nil {
		return cfg
	}
	if c.MaxStringLen != nil {
		cfg.MaxStringLen = *c.MaxStringLen
	}
	if c.StackDepth != nil {
		cfg.StackDepth = *c.StackDepth
	}
	if c.CacheFuncTable != nil {
		cfg.CacheFuncTable = *c.CacheFuncTable
	}
	if c.FuncCacheSize != nil {
		cfg.FuncCacheSize = *c.FuncCacheSize
	}
	if len(c.Symbols) > 0 {
		cfg.Symbols = make(map[string]string, len(c.Symbols))
		for k, v := range c.Symbols {
			cfg.Symbols[k] = v
		}
	}
	return cfg
}

// UseColor reports whether colored output is enabled, the default.
func (c *Config) UseColor() bool {
	return c == nil || c.Color == nil || *c.Color
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}
	c, err := LoadConfigFrom(fullConfigFile)
	if err != nil {
		fmt.Printf("%v.", err)
		return &Config{}
	}
	return c
}

// LoadConfigFrom reads the configuration at path, writing the default
// configuration there first if the file does not exist.
func LoadConfigFrom(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		f, err = createDefaultConfig(path)
		if err != nil {
			return nil, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return nil, fmt.Errorf("unable to decode config file: %v", err)
	}

	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}
	return SaveConfigTo(conf, fullConfigFile)
}

// SaveConfigTo writes conf to path.
func SaveConfigTo(conf *Config, path string) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for mdbgo.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Maximum length of function names and strings read from the target.
# max-string-len: 512

# Number of frames printed by gostack after the frame at the instruction pointer.
# stack-depth: 50

# Keep the function table in memory after the first lookup.
# cache-func-table: true

# Number of decoded function records kept in memory, 0 disables the cache.
# func-cache-size: 1024

# Uncomment the following line to disable colored output.
# color: false

# Names of the runtime root symbols, for binaries that renamed them.
# symbols:
#   pclntab: runtime.pclntab
#   allg: runtime.allg
#   timers: runtime.timers
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}

// HistoryFilePath returns the path of the command history file of the
// interactive shell.
func HistoryFilePath() (string, error) {
	return GetConfigFilePath(historyFile)
}
