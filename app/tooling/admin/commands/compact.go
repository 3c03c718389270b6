package commands

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/btpc/node/foundation/blockchain/difficulty"
	"github.com/spf13/cobra"
)

var compactFromTarget bool

var compactCmd = &cobra.Command{
	Use:   "compact <bits|target>",
	Short: "Expand compact bits into a target or compress a target",
	Args:  cobra.ExactArgs(1),
	RunE:  compactRun,
}

func init() {
	rootCmd.AddCommand(compactCmd)
	compactCmd.Flags().BoolVarP(&compactFromTarget, "target", "t", false, "Treat the argument as a hex target and print its compact bits.")
}

func compactRun(cmd *cobra.Command, args []string) error {
	arg := strings.TrimPrefix(args[0], "0x")

	var target difficulty.Target
	if compactFromTarget {
		v, ok := new(big.Int).SetString(arg, 16)
		if !ok || v.Sign() < 0 {
			return fmt.Errorf("target %q is not a hex number", args[0])
		}
		if v.BitLen() > difficulty.TargetSize*8 {
			return fmt.Errorf("target %q is wider than %d bytes", args[0], difficulty.TargetSize)
		}
		target = difficulty.TargetFromBig(v)
	} else {
		bits, err := strconv.ParseUint(arg, 16, 32)
		if err != nil {
			return fmt.Errorf("parsing bits: %w", err)
		}
		if target, err = difficulty.TargetFromCompact(uint32(bits)); err != nil {
			return err
		}
	}

	if err := target.Validate(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Bits:   %08x\n", target.Compact())
	fmt.Fprintf(cmd.OutOrStdout(), "Target: %s\n", target)
	fmt.Fprintf(cmd.OutOrStdout(), "Work:   %s\n", target.Work())

	return nil
}
