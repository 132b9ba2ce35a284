package main

import (
	"os"

	"github.com/veildata-systems/veilpipe/cmd/pipeline/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
