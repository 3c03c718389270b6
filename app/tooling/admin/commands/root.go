// Package commands contains the admin tool commands.
package commands

import (
	"fmt"

	"github.com/btpc/node/foundation/blockchain/genesis"
	"github.com/spf13/cobra"
)

var (
	network    string
	paramsFile string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&network, "network", "n", genesis.NetworkRegtest, "Network whose parameters are used.")
	rootCmd.PersistentFlags().StringVarP(&paramsFile, "params", "p", "", "Parameters file overriding the network defaults.")
}

var rootCmd = &cobra.Command{
	Use:          "admin",
	Short:        "Operator tooling for the node",
	SilenceUsage: true,
}

// Execute runs the command named on the command line.
func Execute() error {
	return rootCmd.Execute()
}

// loadParams resolves the parameters selected by the persistent flags.
func loadParams() (genesis.Params, error) {
	if paramsFile != "" {
		return genesis.Load(paramsFile)
	}

	params, err := genesis.ForNetwork(network)
	if err != nil {
		return genesis.Params{}, fmt.Errorf("network: %w", err)
	}

	return params, nil
}
