package main

import (
	"os"

	"github.com/zsiec/network-monitor/cmd/netmonctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
