package terminal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/TritonDataCenter/mdb-go/pkg/config"
	"github.com/TritonDataCenter/mdb-go/pkg/gort"
	"github.com/TritonDataCenter/mdb-go/pkg/logflags"
	"github.com/TritonDataCenter/mdb-go/pkg/target"
	"github.com/TritonDataCenter/mdb-go/pkg/terminal/starbind"
)

const (
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiRed    = 31
	ansiYellow = 33
)

// Term represents the terminal running mdbgo.
type Term struct {
	sess     *gort.Session
	proc     target.Process
	conf     *config.Config
	prompt   string
	line     *liner.State
	cmds     *Commands
	dumb     bool
	tty      bool
	color    bool
	stdout   *transcriptWriter
	InitFile string

	// ConfigPath is where "config -save" writes. The default
	// configuration file is used when it is empty.
	ConfigPath string

	starlarkEnv *starbind.Env

	log logflags.Logger
}

// New returns a new Term inspecting sess. The process p, if not nil, is
// the target of sess and enables the thread and dump commands.
func New(sess *gort.Session, p target.Process, conf *config.Config) *Term {
	cmds := DebugCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	var w io.Writer

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	istty := isatty.IsTerminal(os.Stdout.Fd())
	if dumb || !istty {
		w = os.Stdout
	} else {
		w = colorable.NewColorableStdout()
	}

	t := &Term{
		sess:   sess,
		proc:   p,
		conf:   conf,
		prompt: "(mdbgo) ",
		line:   liner.NewLiner(),
		cmds:   cmds,
		dumb:   dumb,
		tty:    istty,
		color:  !dumb && istty && conf.UseColor(),
		stdout: newTranscriptWriter(w),
		log:    logflags.TerminalLogger(),
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, t.stdout)
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
	t.stdout.CloseTranscript()
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
		fmt.Fprintf(os.Stderr, "received SIGINT, the target is not affected\n")
	}
}

// Run begins running mdbgo in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	go t.sigintGuard(ch)
	defer signal.Stop(ch)

	t.line.SetCompleter(t.complete)

	fullHistoryFile, err := config.HistoryFilePath()
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}
	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}

	t.printBanner()
	fmt.Println("Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Println("exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("Prompt for input failed.\n")
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			t.printError(err)
		}
	}
}

func (t *Term) printBanner() {
	if t.sess == nil {
		return
	}
	if v := t.sess.Version(); v != "" {
		fmt.Fprintf(t.stdout, "Go runtime %s, %s\n", v, t.sess.Arch())
	}
	if !t.sess.Configured() {
		t.Println("warning: ", "Go support is not configured, stack and frame commands are unavailable")
	}
}

func (t *Term) printError(err error) {
	prefix := "Command failed: "
	if t.color {
		prefix = fmt.Sprintf(terminalHighlightEscapeCode, ansiRed) + prefix + terminalResetEscapeCode
	}
	fmt.Fprintf(os.Stderr, "%s%s\n", prefix, err)
}

// Println prints a line to the terminal, highlighting prefix.
func (t *Term) Println(prefix, str string) {
	if t.color {
		prefix = fmt.Sprintf("%s%s%s", fmt.Sprintf(terminalHighlightEscapeCode, ansiYellow), prefix, terminalResetEscapeCode)
	}
	fmt.Fprintf(t.stdout, "%s%s\n", prefix, str)
}

// complete completes command names, and walker names after "walk".
func (t *Term) complete(line string) (c []string) {
	if rest := strings.TrimPrefix(line, "walk "); rest != line {
		for _, name := range gort.Walkers() {
			if strings.HasPrefix(name, rest) {
				c = append(c, "walk "+name)
			}
		}
		return c
	}
	if strings.Contains(line, " ") {
		return nil
	}
	c = t.cmds.complete(strings.ToLower(line))
	sort.Strings(c)
	return c
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.HistoryFilePath()
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	if t.proc != nil {
		if err := t.proc.Close(); err != nil {
			return 1, err
		}
	}
	return 0, nil
}
