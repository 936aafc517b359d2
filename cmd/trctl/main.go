package main

import (
	"os"

	trctlcmd "github.com/orgsignal/taskrouter/pkg/trctl/cmd"
)

func main() {
	root := trctlcmd.NewRootCommand(trctlcmd.DefaultConfig())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
