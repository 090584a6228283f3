package main

import (
	"os"

	"github.com/freedkr/bc3tree/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
