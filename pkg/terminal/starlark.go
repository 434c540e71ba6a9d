package terminal

import (
	"fmt"

	"github.com/TritonDataCenter/mdb-go/pkg/gort"
	"github.com/TritonDataCenter/mdb-go/pkg/terminal/starbind"
)

type starlarkContext struct {
	term *Term
}

var _ starbind.Context = starlarkContext{}

func (ctx starlarkContext) Session() *gort.Session {
	return ctx.term.sess
}

func (ctx starlarkContext) RegisterCommand(name, helpMsg string, fn func(args string) error) {
	cmdfn := func(t *Term, ctx callContext, args string) error {
		if ctx.HasAddr {
			if args != "" {
				args += " "
			}
			args += fmt.Sprintf("%#x", ctx.Addr)
		}
		return fn(args)
	}
	ctx.term.cmds.Register(name, cmdfn, helpMsg)
}

func (ctx starlarkContext) CallCommand(cmdstr string) error {
	return ctx.term.cmds.Call(cmdstr, ctx.term)
}
