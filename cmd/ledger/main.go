// Command ledger is the entry point for the node and wallet CLI.
package main

import (
	"fmt"
	"os"

	"github.com/kilimba/ledger/cli"
	"github.com/kilimba/ledger/config"
)

func main() {
	cfg := config.Load()

	if err := cli.New(cfg).Run(); err != nil {
		fmt.Printf("Execution failed with the following error: %s\n", err)
		os.Exit(1)
	}
}
