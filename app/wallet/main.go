// This program is a command line wallet for the node.
package main

import (
	"os"

	"github.com/btpc/node/app/wallet/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
