package cmds

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/TritonDataCenter/mdb-go/cmd/mdbgo/cmds/helphelpers"
	"github.com/TritonDataCenter/mdb-go/pkg/config"
	"github.com/TritonDataCenter/mdb-go/pkg/gort"
	"github.com/TritonDataCenter/mdb-go/pkg/logflags"
	"github.com/TritonDataCenter/mdb-go/pkg/target"
	"github.com/TritonDataCenter/mdb-go/pkg/target/core"
	"github.com/TritonDataCenter/mdb-go/pkg/target/native"
	"github.com/TritonDataCenter/mdb-go/pkg/terminal"
	"github.com/TritonDataCenter/mdb-go/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// initFile is the path to initialization file.
	initFile string
	// configPath overrides the default configuration file.
	configPath string
	// verbose makes the version command print build information.
	verbose bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command
)

const mdbgoCommandLongDesc = `mdbgo inspects the runtime of Go programs built with go1.2.

It reads the function table, stacks, goroutines, threads, processors,
timers, signal table, defers and panics of a stopped process or of a core
file, without any debugging information in the executable.

Commands can be combined in pipelines, for example:

	walk go_g | gostack -p name`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Main mdbgo root command.
	rootCommand = &cobra.Command{
		Use:   "mdbgo",
		Short: "mdbgo is an inspector for the runtime of go1.2 programs.",
		Long:  mdbgoCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'mdbgo help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'mdbgo help log').")
	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the terminal before the first prompt.")
	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file to use instead of the default one.")

	// 'core' subcommand.
	coreCommand := &cobra.Command{
		Use:   "core <executable> <core>",
		Short: "Examine a core dump.",
		Long: `Examine a core dump (only supports linux ELF core dumps).

The core dump is opened together with the executable that produced it,
which provides the memory image of its read only sections and its symbol
table.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return errors.New("you must provide a core file and an executable")
			}
			return nil
		},
		Run: coreCmd,
	}
	rootCommand.AddCommand(coreCommand)

	// 'attach' subcommand.
	attachCommand := &cobra.Command{
		Use:   "attach pid [executable]",
		Short: "Attach to a running process and examine it.",
		Long: `Attach to an already running process and examine it.

The process is stopped for as long as mdbgo is attached to it and resumes
when the terminal exits. The executable defaults to the one the process
is running.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a PID")
			}
			if len(args) > 2 {
				return errors.New("too many arguments")
			}
			return nil
		},
		Run: attachCmd,
	}
	rootCommand.AddCommand(attachCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mdbgo\n%s\n", version.MdbgoVersion)
			if verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "Build Details: %s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	pclntab		Log function table lookups and decoding
	stack		Log every frame of stack walks
	walk		Log every element visited by the list walkers
	target		Log core file, ptrace and memory access
	terminal	Log the commands entered in the terminal

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

`,
	})

	defaultHelp := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		defaultHelp(cmd, args)
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func coreCmd(cmd *cobra.Command, args []string) {
	os.Exit(execute(func() (target.Process, error) {
		p, err := core.Open(args[0], args[1])
		if err != nil {
			if errors.Is(err, core.ErrUnrecognizedFormat) {
				return nil, fmt.Errorf("%s is not a core file: %w", args[1], err)
			}
			return nil, err
		}
		return p, nil
	}))
}

func attachCmd(cmd *cobra.Command, args []string) {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid pid: %s\n", args[0])
		os.Exit(1)
	}
	var exe string
	if len(args) > 1 {
		exe = args[1]
	}
	os.Exit(execute(func() (target.Process, error) {
		p, err := native.Attach(pid, exe)
		if err != nil {
			return nil, err
		}
		return p, nil
	}))
}

// loadConfig reads the configuration selected by --config, or the default
// configuration file.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadConfigFrom(configPath)
	}
	return config.LoadConfig(), nil
}

// execute opens the target with open and runs the terminal on it until
// the user exits. It returns the exit status of mdbgo.
func execute(open func() (target.Process, error)) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	conf, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	p, err := open()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	sess, err := gort.NewSession(p, conf.Session())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	term := terminal.New(sess, p, conf)
	term.InitFile = initFile
	term.ConfigPath = configPath
	status, err := term.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return status
}
