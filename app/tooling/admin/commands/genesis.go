package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var genesisOut string

var genesisCmd = &cobra.Command{
	Use:   "genesis",
	Short: "Print the genesis block of a network and optionally save its parameters",
	RunE:  genesisRun,
}

func init() {
	rootCmd.AddCommand(genesisCmd)
	genesisCmd.Flags().StringVarP(&genesisOut, "out", "o", "", "Write the parameters as JSON to this file.")
}

func genesisRun(cmd *cobra.Command, args []string) error {
	params, err := loadParams()
	if err != nil {
		return err
	}

	if err := params.Validate(); err != nil {
		return err
	}

	block, err := params.Block()
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Network:     %s\n", params.Name)
	fmt.Fprintf(cmd.OutOrStdout(), "Fork id:     %d\n", params.ForkID)
	fmt.Fprintf(cmd.OutOrStdout(), "Genesis:     %s\n", block.Hash())
	fmt.Fprintf(cmd.OutOrStdout(), "Merkle root: %s\n", block.Header.MerkleRoot)
	fmt.Fprintf(cmd.OutOrStdout(), "Bits:        %08x\n", block.Header.Bits)

	if genesisOut == "" {
		return nil
	}

	data, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(genesisOut, data, 0644); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Params:      %s\n", genesisOut)

	return nil
}
