package main

import (
	"os"

	"github.com/elisa-dev/elisa/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
