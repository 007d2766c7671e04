package main

import (
	"os"

	"github.com/alpacahq/streamarchive/cmd"
	"github.com/alpacahq/streamarchive/utils/log"
)

func main() {
	err := cmd.Execute()
	log.Sync()
	if err != nil {
		os.Exit(1)
	}
}
