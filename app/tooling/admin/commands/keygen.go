package commands

import (
	"fmt"

	"github.com/btpc/node/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

var (
	keyScheme string
	keyOut    string
	keySeed   string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a signing key and write it to a key file",
	RunE:  keygenRun,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVarP(&keyScheme, "scheme", "s", "mldsa65", "Signature scheme: mldsa65 or mldsa87.")
	keygenCmd.Flags().StringVarP(&keyOut, "out", "o", "zblock/miner.key", "Path of the key file to write.")
	keygenCmd.Flags().StringVar(&keySeed, "seed", "", "0x prefixed 32 byte seed for a deterministic key.")
}

func keygenRun(cmd *cobra.Command, args []string) error {
	scheme, err := parseScheme(keyScheme)
	if err != nil {
		return err
	}

	var key signature.PrivateKey
	switch keySeed {
	case "":
		key, err = signature.GenerateKey(scheme)
	default:
		seed, derr := hexutil.Decode(keySeed)
		if derr != nil {
			return fmt.Errorf("decoding seed: %w", derr)
		}
		key, err = signature.DeriveKey(scheme, seed)
	}
	if err != nil {
		return err
	}

	if err := signature.SaveKey(keyOut, key); err != nil {
		return err
	}

	lockHash, err := key.LockHash()
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Scheme:   %s\n", scheme)
	fmt.Fprintf(cmd.OutOrStdout(), "Key file: %s\n", keyOut)
	fmt.Fprintf(cmd.OutOrStdout(), "Key hash: %s\n", hexutil.Encode(lockHash[:]))

	return nil
}

func parseScheme(name string) (signature.Scheme, error) {
	switch name {
	case "mldsa65":
		return signature.MLDSA65, nil
	case "mldsa87":
		return signature.MLDSA87, nil
	}
	return 0, fmt.Errorf("scheme %q is not supported", name)
}
