package starbind

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/TritonDataCenter/mdb-go/pkg/gort"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/rt"
	"github.com/TritonDataCenter/mdb-go/pkg/gort/stack"
	"github.com/TritonDataCenter/mdb-go/pkg/target"
)

// namedArg binds a builtin parameter, positional or keyword, to dst.
type namedArg struct {
	name string
	dst  interface{}
}

func bindArgs(args starlark.Tuple, kwargs []starlark.Tuple, params ...namedArg) error {
	if len(args) > len(params) {
		return fmt.Errorf("too many arguments")
	}
	for i := range args {
		if args[i] == starlark.None {
			continue
		}
		if err := unmarshalStarlarkValue(args[i], params[i].dst, params[i].name); err != nil {
			return err
		}
	}
	for _, kv := range kwargs {
		name, _ := kv[0].(starlark.String)
		found := false
		for _, p := range params {
			if p.name == string(name) {
				if err := unmarshalStarlarkValue(kv[1], p.dst, p.name); err != nil {
					return err
				}
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown argument %q", kv[0])
		}
	}
	return nil
}

type builtinFunc func(sess *gort.Session, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error)

func (env *Env) starlarkPredeclare() (starlark.StringDict, map[string]string) {
	r := starlark.StringDict{}
	doc := make(map[string]string)

	def := func(name, params, descr string, fn builtinFunc) {
		r[name] = starlark.NewBuiltin(name, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := isCancelled(thread); err != nil {
				return starlark.None, decorateError(thread, err)
			}
			sess := env.ctx.Session()
			if sess == nil {
				return starlark.None, decorateError(thread, fmt.Errorf("no target loaded"))
			}
			ret, err := fn(sess, args, kwargs)
			if err != nil {
				return starlark.None, decorateError(thread, err)
			}
			return env.interfaceToStarlarkValue(ret), nil
		})
		doc[name] = "builtin " + name + "(" + params + ")\n\n" + name + " " + descr
	}

	def("goroutines", "", "returns every goroutine on the allg list.", func(sess *gort.Session, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		if err := bindArgs(args, kwargs); err != nil {
			return nil, err
		}
		var addrs []uint64
		if err := sess.WalkG(0, func(addr uint64) bool {
			addrs = append(addrs, addr)
			return true
		}); err != nil {
			return nil, err
		}
		var gs []interface{}
		for _, addr := range addrs {
			g, err := sess.G(addr)
			if err != nil {
				return nil, err
			}
			gs = append(gs, g)
		}
		return gs, nil
	})

	def("walk", "Name, Start", "returns the addresses visited by the named walker.\nStart is the first record, zero means the walker's global list.", func(sess *gort.Session, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var name string
		var start uint64
		if err := bindArgs(args, kwargs, namedArg{"Name", &name}, namedArg{"Start", &start}); err != nil {
			return nil, err
		}
		var addrs []uint64
		err := sess.Walk(name, start, func(addr uint64) bool {
			addrs = append(addrs, addr)
			return true
		})
		return addrs, err
	})

	def("g", "Addr", "returns the goroutine at Addr.", func(sess *gort.Session, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var addr uint64
		if err := bindArgs(args, kwargs, namedArg{"Addr", &addr}); err != nil {
			return nil, err
		}
		return sess.G(addr)
	})

	def("m", "Addr", "returns the thread at Addr.", func(sess *gort.Session, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var addr uint64
		if err := bindArgs(args, kwargs, namedArg{"Addr", &addr}); err != nil {
			return nil, err
		}
		return sess.M(addr)
	})

	def("p", "Addr", "returns the processor at Addr.", func(sess *gort.Session, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var addr uint64
		if err := bindArgs(args, kwargs, namedArg{"Addr", &addr}); err != nil {
			return nil, err
		}
		return sess.P(addr)
	})

	def("stack", "Depth, G", "returns the frames of the current thread, or of goroutine G.", func(sess *gort.Session, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var depth int
		var gaddr uint64
		if err := bindArgs(args, kwargs, namedArg{"Depth", &depth}, namedArg{"G", &gaddr}); err != nil {
			return nil, err
		}
		var ctx *stack.Context
		if gaddr != 0 {
			g, err := sess.G(gaddr)
			if err != nil {
				return nil, err
			}
			_, sp, pc, _ := g.Stack()
			ctx = &stack.Context{IP: pc, SP: sp}
		}
		return sess.Stack(ctx, depth)
	})

	def("frame", "Slot", "returns the frame whose return address is stored at Slot.", func(sess *gort.Session, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var slot uint64
		if err := bindArgs(args, kwargs, namedArg{"Slot", &slot}); err != nil {
			return nil, err
		}
		return sess.Frame(slot)
	})

	def("func_for_pc", "PC", "returns the function containing PC.", func(sess *gort.Session, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var pc uint64
		if err := bindArgs(args, kwargs, namedArg{"PC", &pc}); err != nil {
			return nil, err
		}
		return sess.FuncForPC(pc)
	})

	def("symbolize", "PC", "returns PC as function+offset.", func(sess *gort.Session, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var pc uint64
		if err := bindArgs(args, kwargs, namedArg{"PC", &pc}); err != nil {
			return nil, err
		}
		return sess.Symbolize(pc), nil
	})

	def("instruction", "PC", "disassembles the instruction at PC.", func(sess *gort.Session, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var pc uint64
		if err := bindArgs(args, kwargs, namedArg{"PC", &pc}); err != nil {
			return nil, err
		}
		return sess.Instruction(pc)
	})

	def("timers", "", "returns the runtime timer heap.", func(sess *gort.Session, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		if err := bindArgs(args, kwargs); err != nil {
			return nil, err
		}
		return sess.Timers()
	})

	def("sigtab", "Start, Stop", "returns the signal table entries in [Start, Stop].", func(sess *gort.Session, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		start, stop := 0, rt.SigTabLen-1
		if err := bindArgs(args, kwargs, namedArg{"Start", &start}, namedArg{"Stop", &stop}); err != nil {
			return nil, err
		}
		return sess.SigTab(start, stop)
	})

	def("defers", "G", "returns the deferred calls of goroutine G.", func(sess *gort.Session, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var g uint64
		if err := bindArgs(args, kwargs, namedArg{"G", &g}); err != nil {
			return nil, err
		}
		return sess.Defers(g)
	})

	def("panics", "G", "returns the active panics of goroutine G.", func(sess *gort.Session, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var g uint64
		if err := bindArgs(args, kwargs, namedArg{"G", &g}); err != nil {
			return nil, err
		}
		return sess.Panics(g)
	})

	def("registers", "", "returns the frame, instruction and stack pointers of the current thread.", func(sess *gort.Session, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		if err := bindArgs(args, kwargs); err != nil {
			return nil, err
		}
		ctx, err := sess.Registers()
		if err != nil {
			return nil, err
		}
		regs := sess.Arch().Registers()
		return map[string]uint64{regs[0]: ctx.FP, regs[1]: ctx.IP, regs[2]: ctx.SP}, nil
	})

	def("read_ptr", "Addr", "reads a pointer sized word at Addr.", func(sess *gort.Session, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var addr uint64
		if err := bindArgs(args, kwargs, namedArg{"Addr", &addr}); err != nil {
			return nil, err
		}
		return target.ReadPtr(sess.Target(), sess.Arch(), addr)
	})

	def("lookup_symbol", "Name", "returns the address of the named symbol.", func(sess *gort.Session, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var name string
		if err := bindArgs(args, kwargs, namedArg{"Name", &name}); err != nil {
			return nil, err
		}
		return sess.Target().LookupSymbol(name)
	})

	def("walkers", "", "returns the names of the available walkers.", func(sess *gort.Session, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		return gort.Walkers(), nil
	})

	return r, doc
}
