package main

import (
	"os"

	"github.com/jmball/mqtt-saver/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
