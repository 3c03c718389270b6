package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print your balance.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, lock, err := loadKey()
		if err != nil {
			return err
		}

		params, err := fetchParams()
		if err != nil {
			return err
		}

		c, err := fetchCoins(lock.KeyHash)
		if err != nil {
			return err
		}

		spendable := spendableCoins(c.UTXOs, c.TipHeight+1, params.CoinbaseMaturity)

		var available uint64
		for _, sc := range spendable {
			available += sc.Entry.Value
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Tip:       %d\n", c.TipHeight)
		fmt.Fprintf(cmd.OutOrStdout(), "Outputs:   %d\n", len(c.UTXOs))
		fmt.Fprintf(cmd.OutOrStdout(), "Total:     %d\n", c.Total)
		fmt.Fprintf(cmd.OutOrStdout(), "Spendable: %d\n", available)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}
