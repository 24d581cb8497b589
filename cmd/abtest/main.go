package main

import (
	"os"

	"github.com/bujinwang/agentops-abtest/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
