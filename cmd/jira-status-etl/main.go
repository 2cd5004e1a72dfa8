package main

import (
	"fmt"
	"os"

	"jira-status-etl/cmd/jira-status-etl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
