package main

import (
	"os"

	"github.com/rexliu/splitsconnect/cmd/connect/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
