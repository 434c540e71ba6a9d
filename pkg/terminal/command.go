// Package terminal implements functions for responding to user
// input and dispatching to the runtime inspection commands.
package terminal

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"

	"github.com/TritonDataCenter/mdb-go/pkg/gort"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/format"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/rt"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/stack"
	"github.com/TritonDataCenter/mdb-go/pkg/target/core"
)

// callContext carries the address piped into a command by the previous
// stage of a pipeline.
type callContext struct {
	Addr    uint64
	HasAddr bool
}

type cmdfunc func(t *Term, ctx callContext, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// usage returns the first indented line of the help message.
func (c command) usage() string {
	for _, line := range strings.Split(c.helpMsg, "\n") {
		if strings.HasPrefix(line, "\t") {
			return strings.TrimSpace(line)
		}
	}
	return c.aliases[0]
}

// Commands represents the commands of the mdbgo terminal.
type Commands struct {
	cmds  []command
	names *trie.Trie
}

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"gostack", "bt"}, group: stackCmds, cmdFn: gostackCmd, helpMsg: `Prints the stack of the current thread or of a goroutine.

	gostack [-p name|insn] [-c] [-n depth] [<g>]

The frame at the instruction pointer is printed first, followed by the
frames walked from the stack pointer. Each frame is printed as its
function record unless a property is selected:

	-p name		print only the function name
	-p insn		print the instruction at the frame's pc
	-c		print one line per frame
	-n depth	walk at most depth frames

If the address of a goroutine is given (or piped in, as in
"walk go_g | gostack") its saved scheduling context is unwound instead
of the registers of the current thread.`},
		{aliases: []string{"goframe"}, group: stackCmds, cmdFn: goframeCmd, helpMsg: `Prints a stack frame.

	goframe [-p name|insn] [<addr>]

Decodes the frame whose return address is stored at addr, the stack
pointer of the current thread by default. Piping the goframe walker
into goframe prints a whole stack:

	walk goframe | goframe -p name`},
		{aliases: []string{"gofunc"}, group: stackCmds, cmdFn: gofuncCmd, helpMsg: `Prints the function record containing an address.

	gofunc [-p name] <addr>`},
		{aliases: []string{"go_g"}, group: runtimeCmds, cmdFn: gCmd, helpMsg: `Prints a goroutine.

	go_g <addr>

Use "walk go_g | go_g" to print every goroutine.`},
		{aliases: []string{"go_m"}, group: runtimeCmds, cmdFn: mCmd, helpMsg: `Prints a runtime thread.

	go_m <addr>`},
		{aliases: []string{"go_p"}, group: runtimeCmds, cmdFn: pCmd, helpMsg: `Prints a logical processor.

	go_p <addr>`},
		{aliases: []string{"walk"}, group: runtimeCmds, cmdFn: walkCmd, helpMsg: `Prints the addresses of the elements of a runtime list.

	walk [<walker> [<addr>]]

Walkers:

	go_g		goroutines, from runtime.allg
	go_m		threads, from runtime.allm
	go_p		processors, from runtime.allp
	goframe		return address slots of the current stack

The walk starts at addr if one is given. Without arguments the
walkers are listed. The output can be piped into another command,
which is called once for each address:

	walk go_g | go_g`},
		{aliases: []string{"go_timers"}, group: dataCmds, cmdFn: timersCmd, helpMsg: `Prints the timer heap.

	go_timers`},
		{aliases: []string{"go_sigtab"}, group: dataCmds, cmdFn: sigtabCmd, helpMsg: `Prints the signal table.

	go_sigtab [<n> [<m>]]

Prints entries n through m, every entry by default or entry n alone.`},
		{aliases: []string{"go_defer"}, group: dataCmds, cmdFn: deferCmd, helpMsg: `Prints the deferred calls of a goroutine.

	go_defer <g>`},
		{aliases: []string{"go_panic"}, group: dataCmds, cmdFn: panicCmd, helpMsg: `Prints the active panics of a goroutine.

	go_panic <g>`},
		{aliases: []string{"regs"}, group: targetCmds, cmdFn: regsCmd, helpMsg: `Prints the frame pointer, instruction pointer and stack pointer of the current thread.

	regs`},
		{aliases: []string{"threads"}, group: targetCmds, cmdFn: threadsCmd, helpMsg: `Lists the threads of the target.

	threads

The current thread is marked with '*'.`},
		{aliases: []string{"thread", "tr"}, group: targetCmds, cmdFn: threadCmd, helpMsg: `Switches to the specified thread.

	thread <id>`},
		{aliases: []string{"configure"}, group: targetCmds, cmdFn: configureTableCmd, helpMsg: `Locates and validates the function table again.

	configure`},
		{aliases: []string{"dump"}, group: targetCmds, cmdFn: dumpCmd, helpMsg: `Creates a core dump of the target.

	dump <output file>

The core dump can be opened with "mdbgo core".`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.

	config symbols <name> <symbol>
	config symbols <name>

Looks up the root symbol <name> (pclntab, allg, allm, allp, sigtab or
timers) as <symbol>, or restores its default name.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of mdbgo commands.

	source <path>

If path ends with the .star extension it will be interpreted as a
starlark script. If path is a single '-' character an interactive
starlark interpreter will start instead. Type 'exit' to exit.`},
		{aliases: []string{"transcript"}, cmdFn: transcript, helpMsg: `Appends command output to a file.

	transcript [-t] [-x] <output file>
	transcript -off

Output of mdbgo's command is appended to the specified output file. If '-t'
is specified and the output file exists it is truncated. If '-x' is
specified output to stdout is suppressed instead.

Using the -off option disables the transcript.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the terminal.

	exit`},
	}

	c.rebuildIndex()
	return c
}

func (c *Commands) rebuildIndex() {
	c.names = trie.New()
	for i := range c.cmds {
		for _, alias := range c.cmds[i].aliases {
			if _, ok := c.names.Find(alias); !ok {
				c.names.Add(alias, i)
			}
		}
	}
}

func (c *Commands) complete(prefix string) []string {
	return c.names.PrefixSearch(prefix)
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
	c.rebuildIndex()
}

func (c *Commands) find(cmdstr string) *command {
	node, ok := c.names.Find(cmdstr)
	if !ok {
		return nil
	}
	return &c.cmds[node.Meta().(int)]
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}
	if cmd := c.find(cmdstr); cmd != nil {
		return cmd.cmdFn
	}
	return noCmdAvailable
}

// CallWithContext takes a command and a context that command should be executed in.
func (c *Commands) CallWithContext(cmdstr string, t *Term, ctx callContext) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	err := c.Find(cmdname)(t, ctx, args)
	var uerr *UsageError
	if errors.As(err, &uerr) && uerr.Usage == "" {
		if cmd := c.find(cmdname); cmd != nil {
			uerr.Usage = cmd.usage()
		}
	}
	return err
}

// Call takes a command to execute. A command line containing '|' is a
// pipeline: every stage but the last has its output captured, and the
// next stage is called once for each address found at the start of a
// line of that output.
func (c *Commands) Call(cmdstr string, t *Term) error {
	t.log.Debugf("command %q", cmdstr)
	if !strings.Contains(cmdstr, "|") {
		return c.CallWithContext(cmdstr, t, callContext{})
	}
	stages, err := splitPipeline(cmdstr)
	if err != nil {
		return err
	}
	return c.callPipeline(stages, t)
}

func splitPipeline(cmdstr string) ([]string, error) {
	v, err := argv.Argv(cmdstr,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	stages := make([]string, len(v))
	for i, words := range v {
		if len(words) == 0 {
			return nil, errors.New("empty command in pipeline")
		}
		for j := range words {
			if strings.ContainsAny(words[j], " \t") {
				words[j] = strconv.Quote(words[j])
			}
		}
		stages[i] = strings.Join(words, " ")
	}
	return stages, nil
}

func (c *Commands) callPipeline(stages []string, t *Term) error {
	ctxs := []callContext{{}}
	for i, stage := range stages {
		if i == len(stages)-1 {
			for _, ctx := range ctxs {
				if err := c.CallWithContext(stage, t, ctx); err != nil {
					return err
				}
			}
			return nil
		}
		var next []callContext
		for _, ctx := range ctxs {
			out, err := t.capture(func() error { return c.CallWithContext(stage, t, ctx) })
			for _, addr := range scanAddrs(out) {
				next = append(next, callContext{Addr: addr, HasAddr: true})
			}
			if err != nil {
				return err
			}
		}
		ctxs = next
	}
	return nil
}

// scanAddrs returns the addresses at the start of the lines of out.
func scanAddrs(out []byte) []uint64 {
	var r []uint64
	s := bufio.NewScanner(bytes.NewReader(out))
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) == 0 {
			continue
		}
		addr, err := parseAddr(strings.TrimSuffix(fields[0], ":"))
		if err != nil {
			continue
		}
		r = append(r, addr)
	}
	return r
}

// capture runs fn with the output of the terminal redirected to a buffer.
func (t *Term) capture(fn func() error) ([]byte, error) {
	saved := t.stdout
	var buf bytes.Buffer
	t.stdout = newTranscriptWriter(&buf)
	t.starlarkEnv.Redirect(t.stdout)
	defer func() {
		t.stdout = saved
		t.starlarkEnv.Redirect(saved)
	}()
	err := fn()
	return buf.Bytes(), err
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
	c.rebuildIndex()
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, ctx callContext, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, ctx callContext, args string) error {
	return nil
}

// UsageError is returned by a command called with invalid arguments.
type UsageError struct {
	Msg   string
	Usage string
}

func (err *UsageError) Error() string {
	if err.Usage == "" {
		return err.Msg
	}
	return fmt.Sprintf("%s\nusage: %s", err.Msg, err.Usage)
}

func usagef(format string, args ...interface{}) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

func (c *Commands) help(t *Term, ctx callContext, args string) error {
	if args != "" {
		if cmd := c.find(args); cmd != nil {
			fmt.Fprintln(t.stdout, cmd.helpMsg)
			return nil
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// parseAddr parses an address. Addresses are hexadecimal, with or without
// the 0x prefix; a 0t prefix selects decimal.
func parseAddr(s string) (uint64, error) {
	base := 16
	digits := s
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		digits = s[2:]
	case strings.HasPrefix(s, "0t"):
		digits = s[2:]
		base = 10
	}
	v, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return v, nil
}

// addrArg returns the address the command applies to: the piped address,
// or the first argument.
func addrArg(ctx callContext, args []string) (uint64, []string, error) {
	if ctx.HasAddr {
		return ctx.Addr, args, nil
	}
	if len(args) == 0 {
		return 0, nil, usagef("an address is required")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return 0, nil, usagef("%v", err)
	}
	return addr, args[1:], nil
}

type frameArgs struct {
	prop    string
	compact bool
	depth   int
	rest    []string
}

func parseFrameArgs(argstr string) (frameArgs, error) {
	r := frameArgs{}
	fields := strings.Fields(argstr)
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "-p":
			i++
			if i >= len(fields) {
				return r, usagef("-p requires a property")
			}
			r.prop = fields[i]
			if err := format.CheckProp(r.prop); err != nil {
				return r, usagef("%v", err)
			}
		case "-c":
			r.compact = true
		case "-n":
			i++
			if i >= len(fields) {
				return r, usagef("-n requires a depth")
			}
			n, err := strconv.Atoi(fields[i])
			if err != nil || n <= 0 {
				return r, usagef("depth must be a positive number")
			}
			r.depth = n
		default:
			if strings.HasPrefix(fields[i], "-") {
				return r, usagef("unknown option %s", fields[i])
			}
			r.rest = append(r.rest, fields[i])
		}
	}
	return r, nil
}

func (t *Term) printFrame(fr stack.Frame, prop string) error {
	if prop == format.PropInsn {
		inst, err := t.sess.Instruction(fr.PC)
		if err != nil {
			return err
		}
		format.Instruction(t.stdout, fr.Func, inst)
		return nil
	}
	format.Frame(t.stdout, fr, prop)
	return nil
}

func gostackCmd(t *Term, ctx callContext, argstr string) error {
	args, err := parseFrameArgs(argstr)
	if err != nil {
		return err
	}
	if len(args.rest) > 1 {
		return usagef("too many arguments")
	}
	var sctx *stack.Context
	if ctx.HasAddr || len(args.rest) == 1 {
		gaddr, _, err := addrArg(ctx, args.rest)
		if err != nil {
			return err
		}
		g, err := t.sess.G(gaddr)
		if err != nil {
			return err
		}
		_, sp, pc, _ := g.Stack()
		sctx = &stack.Context{IP: pc, SP: sp}
	}
	frames, err := t.sess.Stack(sctx, args.depth)
	if args.compact {
		format.Trace(t.stdout, frames)
		return err
	}
	for _, fr := range frames {
		if perr := t.printFrame(fr, args.prop); perr != nil {
			return perr
		}
	}
	return err
}

func goframeCmd(t *Term, ctx callContext, argstr string) error {
	args, err := parseFrameArgs(argstr)
	if err != nil {
		return err
	}
	if args.compact || args.depth != 0 {
		return usagef("goframe accepts only -p")
	}
	var slot uint64
	if ctx.HasAddr || len(args.rest) > 0 {
		slot, args.rest, err = addrArg(ctx, args.rest)
		if err != nil {
			return err
		}
	}
	if len(args.rest) > 0 {
		return usagef("too many arguments")
	}
	fr, err := t.sess.Frame(slot)
	if err != nil {
		return err
	}
	return t.printFrame(fr, args.prop)
}

func gofuncCmd(t *Term, ctx callContext, argstr string) error {
	args, err := parseFrameArgs(argstr)
	if err != nil {
		return err
	}
	pc, rest, err := addrArg(ctx, args.rest)
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return usagef("too many arguments")
	}
	fr, err := t.sess.FrameAtPC(pc)
	if err != nil {
		return err
	}
	return t.printFrame(fr, args.prop)
}

func singleAddr(ctx callContext, argstr string) (uint64, error) {
	addr, rest, err := addrArg(ctx, strings.Fields(argstr))
	if err != nil {
		return 0, err
	}
	if len(rest) > 0 {
		return 0, usagef("too many arguments")
	}
	return addr, nil
}

func gCmd(t *Term, ctx callContext, args string) error {
	addr, err := singleAddr(ctx, args)
	if err != nil {
		return err
	}
	g, err := t.sess.G(addr)
	if err != nil {
		return err
	}
	format.G(t.stdout, g, t.sess.Symbolize)
	return nil
}

func mCmd(t *Term, ctx callContext, args string) error {
	addr, err := singleAddr(ctx, args)
	if err != nil {
		return err
	}
	m, err := t.sess.M(addr)
	if err != nil {
		return err
	}
	format.M(t.stdout, m)
	return nil
}

func pCmd(t *Term, ctx callContext, args string) error {
	addr, err := singleAddr(ctx, args)
	if err != nil {
		return err
	}
	p, err := t.sess.P(addr)
	if err != nil {
		return err
	}
	format.P(t.stdout, p)
	return nil
}

func walkCmd(t *Term, ctx callContext, argstr string) error {
	args := strings.Fields(argstr)
	if len(args) == 0 {
		for _, name := range gort.Walkers() {
			fmt.Fprintln(t.stdout, name)
		}
		return nil
	}
	name := args[0]
	var start uint64
	if ctx.HasAddr || len(args) > 1 {
		var err error
		start, args, err = addrArg(ctx, args[1:])
		if err != nil {
			return err
		}
		if len(args) > 0 {
			return usagef("too many arguments")
		}
	}
	t.stdout.pw.PageMaybe(nil)
	defer t.stdout.pw.Reset()
	err := t.sess.Walk(name, start, func(addr uint64) bool {
		fmt.Fprintf(t.stdout, "%#x\n", addr)
		return true
	})
	if errors.Is(err, gort.ErrNoWalker) {
		return usagef("%v", err)
	}
	return err
}

func timersCmd(t *Term, ctx callContext, args string) error {
	if args != "" {
		return usagef("go_timers takes no arguments")
	}
	ts, err := t.sess.Timers()
	if ts != nil {
		format.Timers(t.stdout, ts)
	}
	return err
}

func sigtabCmd(t *Term, ctx callContext, argstr string) error {
	args := strings.Fields(argstr)
	start, stop := 0, rt.SigTabLen-1
	if len(args) > 2 {
		return usagef("too many arguments")
	}
	for i, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 || n >= rt.SigTabLen {
			return usagef("signal index must be a number between 0 and %d", rt.SigTabLen-1)
		}
		if i == 0 {
			start, stop = n, n
		} else {
			stop = n
		}
	}
	if stop < start {
		return usagef("last index %d is before first index %d", stop, start)
	}
	t.stdout.pw.PageMaybe(nil)
	defer t.stdout.pw.Reset()
	entries, err := t.sess.SigTab(start, stop)
	format.SigTab(t.stdout, entries)
	return err
}

func deferCmd(t *Term, ctx callContext, args string) error {
	g, err := singleAddr(ctx, args)
	if err != nil {
		return err
	}
	defers, err := t.sess.Defers(g)
	for _, d := range defers {
		format.Defer(t.stdout, d, t.sess.Symbolize)
	}
	if err == nil && len(defers) == 0 {
		fmt.Fprintf(t.stdout, "goroutine %#x has no deferred calls\n", g)
	}
	return err
}

func panicCmd(t *Term, ctx callContext, args string) error {
	g, err := singleAddr(ctx, args)
	if err != nil {
		return err
	}
	panics, err := t.sess.Panics(g)
	for _, p := range panics {
		format.Panic(t.stdout, p)
	}
	if err == nil && len(panics) == 0 {
		fmt.Fprintf(t.stdout, "goroutine %#x is not panicking\n", g)
	}
	return err
}

func regsCmd(t *Term, ctx callContext, args string) error {
	regs, err := t.sess.Registers()
	if err != nil {
		return err
	}
	format.Context(t.stdout, t.sess.Arch(), regs)
	return nil
}

var errNoProcess = errors.New("the target is not a process")

func threadsCmd(t *Term, ctx callContext, args string) error {
	if t.proc == nil {
		return errNoProcess
	}
	cur := t.proc.CurrentThread()
	for _, tid := range t.proc.Threads() {
		prefix := "  "
		if tid == cur {
			prefix = "* "
		}
		fmt.Fprintf(t.stdout, "%sThread %d\n", prefix, tid)
	}
	return nil
}

func threadCmd(t *Term, ctx callContext, args string) error {
	if t.proc == nil {
		return errNoProcess
	}
	if args == "" {
		return usagef("you must specify a thread")
	}
	tid, err := strconv.Atoi(args)
	if err != nil {
		return usagef("invalid thread id %q", args)
	}
	old := t.proc.CurrentThread()
	if err := t.proc.SelectThread(tid); err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Switched from %d to %d\n", old, tid)
	return nil
}

func configureTableCmd(t *Term, ctx callContext, args string) error {
	if err := t.sess.Configure(); err != nil {
		return err
	}
	ver := t.sess.Version()
	if ver == "" {
		ver = "unknown Go version"
	}
	fmt.Fprintf(t.stdout, "Go support configured: %s, function table at %#x\n", ver, t.sess.Table().Base())
	return nil
}

func dumpCmd(t *Term, ctx callContext, args string) error {
	if args == "" {
		return usagef("not enough arguments")
	}
	if t.proc == nil {
		return errNoProcess
	}
	fh, err := os.Create(args)
	if err != nil {
		return err
	}
	if err := core.Dump(fh, t.proc); err != nil {
		os.Remove(args)
		return err
	}
	fmt.Fprintf(t.stdout, "Core dump written to %s\n", args)
	return nil
}

func (c *Commands) sourceCommand(t *Term, ctx callContext, args string) error {
	if len(args) == 0 {
		return usagef("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	if args == "-" {
		return t.starlarkEnv.REPL()
	}

	return c.executeFile(t, args)
}

func transcript(t *Term, ctx callContext, args string) error {
	argv := strings.Fields(args)

	truncate := false
	fileOnly := false
	disable := false
	path := ""
	for _, arg := range argv {
		switch arg {
		case "-x":
			fileOnly = true
		case "-t":
			truncate = true
		case "-off":
			disable = true
		default:
			if path != "" || strings.HasPrefix(arg, "-") {
				return usagef("unrecognized option %q", arg)
			}
			path = arg
		}
	}

	if disable {
		if path != "" {
			return usagef("-off option specified with an output path")
		}
		return t.stdout.CloseTranscript()
	}

	if path == "" {
		return usagef("no output path specified")
	}

	flags := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	fh, err := os.OpenFile(path, flags, 0660)
	if err != nil {
		return err
	}

	if err := t.stdout.CloseTranscript(); err != nil {
		return err
	}

	t.stdout.TranscribeTo(fh, fileOnly)
	return nil
}

// ExitRequestError is returned when the user
// exits mdbgo.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, ctx callContext, args string) error {
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
