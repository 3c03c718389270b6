package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the key hash other wallets pay to",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, lock, err := loadKey()
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", lock.Scheme, hexutil.Encode(lock.KeyHash[:]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addressCmd)
}
