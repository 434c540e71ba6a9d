package version

import (
	"bytes"
	"fmt"
	"runtime/debug"
)

func init() {
	buildInfo = func() string {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return "not built in module mode"
		}
		return formatBuildInfo(info)
	}
}

// formatBuildInfo lists the main module, the VCS state it was built from
// and the modules linked into mdbgo, one per line.
func formatBuildInfo(info *debug.BuildInfo) string {
	buf := new(bytes.Buffer)
	fmt.Fprintf(buf, " mod\t%s\t%s\t%s\n", info.Main.Path, info.Main.Version, info.Main.Sum)
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs", "vcs.revision", "vcs.time", "vcs.modified":
			fmt.Fprintf(buf, " build\t%s=%s\n", s.Key, s.Value)
		}
	}
	for _, dep := range info.Deps {
		mod := dep
		if dep.Replace != nil {
			mod = dep.Replace
		}
		fmt.Fprintf(buf, " dep\t%s\t%s\t%s", dep.Path, mod.Version, mod.Sum)
		if dep.Replace != nil {
			fmt.Fprintf(buf, "\t=> %s", dep.Replace.Path)
		}
		fmt.Fprintln(buf)
	}
	return buf.String()
}
