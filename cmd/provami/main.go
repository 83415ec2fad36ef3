package main

import (
	"os"

	"github.com/arpa-simc/provami/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
