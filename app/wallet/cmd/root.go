// Package cmd contains wallet app
package cmd

import (
	"github.com/btpc/node/foundation/blockchain/database"
	"github.com/btpc/node/foundation/blockchain/signature"
	"github.com/spf13/cobra"
)

var (
	keyPath string
	url     string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&keyPath, "wallet", "w", "zblock/wallet.key", "Path to the private key.")
	rootCmd.PersistentFlags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the node.")
}

var rootCmd = &cobra.Command{
	Use:          "wallet",
	Short:        "A simple wallet for the node",
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs the one
// named on the command line.
func Execute() error {
	return rootCmd.Execute()
}

// loadKey reads the wallet key and the lock condition that pays to it.
func loadKey() (signature.PrivateKey, database.LockCondition, error) {
	key, err := signature.LoadKey(keyPath)
	if err != nil {
		return signature.PrivateKey{}, database.LockCondition{}, err
	}

	lock, err := database.LockTo(key)
	if err != nil {
		return signature.PrivateKey{}, database.LockCondition{}, err
	}

	return key, lock, nil
}
