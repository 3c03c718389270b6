package commands

import (
	"fmt"

	"github.com/btpc/node/foundation/blockchain/consensus"
	"github.com/spf13/cobra"
)

var rewardHeight uint64

var rewardCmd = &cobra.Command{
	Use:   "reward",
	Short: "Print the block subsidy and total supply at a height",
	RunE:  rewardRun,
}

func init() {
	rootCmd.AddCommand(rewardCmd)
	rewardCmd.Flags().Uint64VarP(&rewardHeight, "height", "H", 0, "Block height.")
}

func rewardRun(cmd *cobra.Command, args []string) error {
	params, err := loadParams()
	if err != nil {
		return err
	}

	supply, err := consensus.TotalSupply(rewardHeight, params)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Network: %s\n", params.Name)
	fmt.Fprintf(cmd.OutOrStdout(), "Height:  %d\n", rewardHeight)
	fmt.Fprintf(cmd.OutOrStdout(), "Subsidy: %d\n", consensus.Subsidy(rewardHeight, params))
	fmt.Fprintf(cmd.OutOrStdout(), "Supply:  %d\n", supply)

	return nil
}
