package cmd

import (
	"fmt"

	"github.com/btpc/node/foundation/blockchain/database"
	"github.com/btpc/node/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

var (
	to      string
	to87    bool
	value   uint64
	feeRate uint64
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send value to another key hash",
	RunE:  sendRun,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "0x prefixed key hash of the receiver.")
	sendCmd.Flags().BoolVar(&to87, "to-mldsa87", false, "The receiver key is ML-DSA-87.")
	sendCmd.Flags().Uint64VarP(&value, "value", "v", 0, "Value to send.")
	sendCmd.Flags().Uint64VarP(&feeRate, "fee-rate", "f", 1, "Fee per encoded byte.")
}

func sendRun(cmd *cobra.Command, args []string) error {
	key, lock, err := loadKey()
	if err != nil {
		return err
	}

	raw, err := hexutil.Decode(to)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("receiver %q is not a 32 byte key hash", to)
	}

	receiver := database.LockCondition{Scheme: signature.MLDSA65}
	if to87 {
		receiver.Scheme = signature.MLDSA87
	}
	copy(receiver.KeyHash[:], raw)

	params, err := fetchParams()
	if err != nil {
		return err
	}

	c, err := fetchCoins(lock.KeyHash)
	if err != nil {
		return err
	}

	tx, err := buildTx(key, spendableCoins(c.UTXOs, c.TipHeight+1, params.CoinbaseMaturity), payment{
		To:      receiver,
		Value:   value,
		FeeRate: feeRate,
		ForkID:  params.ForkID,
		Change:  lock,
	})
	if err != nil {
		return err
	}

	if err := submitTx(tx); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Submitted: %s\n", tx.ID())

	return nil
}
