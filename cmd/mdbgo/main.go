package main

import (
	"os"

	"github.com/TritonDataCenter/mdb-go/cmd/mdbgo/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
