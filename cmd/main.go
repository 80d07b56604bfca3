package main

import (
	"os"

	"github.com/aenulfahir/tryoutkan-main-sub001/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
