package cmd

import (
	"fmt"

	"github.com/btpc/node/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

var scheme87 bool

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new key",
	RunE:  generateRun,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().BoolVar(&scheme87, "mldsa87", false, "Use ML-DSA-87 instead of ML-DSA-65.")
}

func generateRun(cmd *cobra.Command, args []string) error {
	scheme := signature.MLDSA65
	if scheme87 {
		scheme = signature.MLDSA87
	}

	key, err := signature.GenerateKey(scheme)
	if err != nil {
		return err
	}

	if err := signature.SaveKey(keyPath, key); err != nil {
		return err
	}

	lockHash, err := key.LockHash()
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Address: %s\n", hexutil.Encode(lockHash[:]))

	return nil
}
