package main

import (
	"os"

	"github.com/spigell/resume-crew/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
