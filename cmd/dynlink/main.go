package main

import (
	"os"

	"github.com/abramin/dynlink/cmd/dynlink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
