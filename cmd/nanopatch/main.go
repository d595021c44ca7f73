package main

import (
	"os"

	"github.com/embedfw/nanopatch/cmd/nanopatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
