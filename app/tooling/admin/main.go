// This program performs administrative tasks for the node operator.
package main

import (
	"os"

	"github.com/btpc/node/app/tooling/admin/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
