package main

import (
	"os"

	"github.com/kfsoftware/asd/cmd"
	"github.com/kfsoftware/asd/internal/logging"
)

func main() {
	logging.Init()
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
