package terminal

import (
	"fmt"
	"text/tabwriter"

	"github.com/TritonDataCenter/mdb-go/pkg/config"
	"github.com/TritonDataCenter/mdb-go/pkg/gort"
)

const cfgTag = "cfgName"

func configureCmd(t *Term, ctx callContext, args string) error {
	switch args {
	case "-list":
		return configureList(t)
	case "-save":
		if t.ConfigPath != "" {
			return config.SaveConfigTo(t.conf, t.ConfigPath)
		}
		return config.SaveConfig(t.conf)
	case "":
		return usagef("wrong number of arguments")
	default:
		return configureSet(t, args)
	}
}

func configureList(t *Term) error {
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	config.ConfigureList(w, t.conf, cfgTag)
	return w.Flush()
}

func configureSet(t *Term, args string) error {
	v := config.Split2PartsBySpace(args)

	cfgname := v[0]
	var rest string
	if len(v) == 2 {
		rest = v[1]
	}

	switch cfgname {
	case "alias":
		return configureSetAlias(t, rest)
	case "symbols":
		if err := t.conf.SetSymbol(rest); err != nil {
			return err
		}
		return t.reloadSession()
	}

	field := config.ConfigureFindFieldByName(t.conf, cfgname, cfgTag)
	if !field.CanAddr() {
		return fmt.Errorf("%q is not a configuration parameter", cfgname)
	}
	if err := config.ConfigureSetSimple(rest, cfgname, field); err != nil {
		return err
	}
	if cfgname == "color" {
		t.color = t.tty && !t.dumb && t.conf.UseColor()
		return nil
	}
	return t.reloadSession()
}

// reloadSession replaces the session with one using the current
// configuration.
func (t *Term) reloadSession() error {
	if t.sess == nil {
		return nil
	}
	sess, err := gort.NewSession(t.sess.Target(), t.conf.Session())
	t.sess = sess
	if err != nil {
		t.Println("warning: ", fmt.Sprintf("Go support is not configured: %v", err))
	}
	return nil
}

func configureSetAlias(t *Term, rest string) error {
	argv := config.SplitQuotedFields(rest, '"')
	switch len(argv) {
	case 1: // delete alias rule
		for k := range t.conf.Aliases {
			v := t.conf.Aliases[k]
			for i := range v {
				if v[i] == argv[0] {
					copy(v[i:], v[i+1:])
					t.conf.Aliases[k] = v[:len(v)-1]
					break
				}
			}
		}
	case 2: // add alias rule
		alias, cmd := argv[1], argv[0]
		if t.conf.Aliases == nil {
			t.conf.Aliases = make(map[string][]string)
		}
		t.conf.Aliases[cmd] = append(t.conf.Aliases[cmd], alias)
	default:
		return usagef("wrong number of arguments to \"config alias\"")
	}
	t.cmds.Merge(t.conf.Aliases)
	return nil
}
