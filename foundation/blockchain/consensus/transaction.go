package consensus

import (
	"math/bits"
	"runtime"

	"github.com/btpc/node/foundation/blockchain/database"
	"github.com/btpc/node/foundation/blockchain/genesis"
	"github.com/btpc/node/foundation/blockchain/signature"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// lockTimeThreshold splits lock times into heights (below) and unix
// times (at or above).
const lockTimeThreshold = 500_000_000

// Coinbase data bounds beyond the committed height.
const maxCoinbaseExtra = 100

// TxContext is the chain position a transaction is checked at.
type TxContext struct {
	Params         genesis.Params
	Height         uint64 // Height of the block the transaction would be part of.
	MedianTimePast uint64 // Median time past of that block's parent.
}

// ValidateTransaction checks a non-coinbase transaction against the view
// and returns its fee. The view is only read. The checks run in a fixed
// order and the first failure is returned, so every node reports the same
// reason for the same transaction.
func ValidateTransaction(tx database.Tx, view database.UTXOView, ctx TxContext) (uint64, error) {
	return validateTransaction(tx, view, ctx, nil)
}

func validateTransaction(tx database.Tx, view database.UTXOView, ctx TxContext, spentInBlock map[database.Outpoint]struct{}) (uint64, error) {
	if tx.IsCoinbase() {
		return 0, ruleError(ErrUnexpectedCoinbase, "tx %s", tx.ID())
	}

	// Structural.
	if err := CheckTransactionSanity(tx, ctx.Params); err != nil {
		return 0, err
	}

	// Every input must reference a live output.
	entries := make([]database.UTXOEntry, len(tx.Inputs))
	for i, in := range tx.Inputs {
		if _, spent := spentInBlock[in.PrevOut]; spent {
			return 0, ruleError(ErrDoubleSpendInBlock, "input %d spends %s", i, in.PrevOut)
		}

		entry, exists := view.FetchUTXO(in.PrevOut)
		if !exists {
			return 0, ruleError(ErrMissingInput, "input %d spends %s", i, in.PrevOut)
		}
		entries[i] = entry
	}

	// Coinbase outputs need to mature.
	for i, entry := range entries {
		if !entry.Coinbase {
			continue
		}
		if ctx.Height < entry.Height || ctx.Height-entry.Height < ctx.Params.CoinbaseMaturity {
			return 0, ruleError(ErrImmatureSpend, "input %d created at %d spent at %d, maturity %d", i, entry.Height, ctx.Height, ctx.Params.CoinbaseMaturity)
		}
	}

	// Unlock proofs.
	if err := checkSignatures(tx, entries); err != nil {
		return 0, err
	}

	// Replay protection.
	if tx.ForkID != ctx.Params.ForkID {
		return 0, ruleError(ErrWrongForkID, "got %d, exp %d", tx.ForkID, ctx.Params.ForkID)
	}

	// Fee and size.
	fee, err := checkFee(tx, entries, ctx.Params)
	if err != nil {
		return 0, err
	}

	if size := tx.Size(); size > ctx.Params.MaxTxSize {
		return 0, ruleError(ErrTransactionTooLarge, "size %d, max %d", size, ctx.Params.MaxTxSize)
	}

	if !IsFinal(tx, ctx.Height, ctx.MedianTimePast) {
		return 0, ruleError(ErrTxNotFinal, "lock time %d at height %d", tx.LockTime, ctx.Height)
	}

	return fee, nil
}

// CheckTransactionSanity runs the checks that need nothing but the
// transaction itself. Coinbase transactions are accepted here.
func CheckTransactionSanity(tx database.Tx, p genesis.Params) error {
	if tx.Version == 0 || tx.Version > p.MaxTxVersion {
		return ruleError(ErrBadTxVersion, "version %d", tx.Version)
	}

	switch {
	case len(tx.Inputs) == 0:
		return ruleError(ErrNoTxInputs, "tx %s", tx.ID())
	case len(tx.Outputs) == 0:
		return ruleError(ErrNoTxOutputs, "tx %s", tx.ID())
	case len(tx.Inputs) > p.MaxTxInputs:
		return ruleError(ErrTooManyTxInputs, "%d inputs, max %d", len(tx.Inputs), p.MaxTxInputs)
	case len(tx.Outputs) > p.MaxTxOutputs:
		return ruleError(ErrTooManyTxOutputs, "%d outputs, max %d", len(tx.Outputs), p.MaxTxOutputs)
	}

	var total uint64
	for i, out := range tx.Outputs {
		if out.Value > p.MaxMoney {
			return ruleError(ErrBadOutputValue, "output %d value %d above %d", i, out.Value, p.MaxMoney)
		}

		var carry uint64
		total, carry = bits.Add64(total, out.Value, 0)
		if carry != 0 || total > p.MaxMoney {
			return ruleError(ErrBadOutputValue, "total output value above %d", p.MaxMoney)
		}
	}

	if tx.IsCoinbase() {
		n := len(tx.Inputs[0].Unlock.Signature)
		if n < database.CoinbaseHeightSize || n > database.CoinbaseHeightSize+maxCoinbaseExtra {
			return ruleError(ErrBadCoinbaseData, "coinbase data of %d bytes", n)
		}
		return nil
	}

	seen := make(map[database.Outpoint]struct{}, len(tx.Inputs))
	for i, in := range tx.Inputs {
		if in.PrevOut.IsNull() {
			return ruleError(ErrUnexpectedNullInput, "input %d", i)
		}
		if _, exists := seen[in.PrevOut]; exists {
			return ruleError(ErrDuplicateTxInputs, "input %d spends %s again", i, in.PrevOut)
		}
		seen[in.PrevOut] = struct{}{}
	}

	return nil
}

// IsFinal reports whether the transaction may be included in a block at
// height whose parent has the median time past.
func IsFinal(tx database.Tx, height uint64, medianTimePast uint64) bool {
	if tx.LockTime == 0 {
		return true
	}

	limit := height
	if tx.LockTime >= lockTimeThreshold {
		limit = medianTimePast
	}
	if uint64(tx.LockTime) < limit {
		return true
	}

	// A lock time is ignored when every input opts out of it.
	for _, in := range tx.Inputs {
		if in.Sequence != ^uint32(0) {
			return false
		}
	}

	return true
}

// =============================================================================

// checkSignatures verifies the unlock proof of every input. Inputs are
// verified in parallel, and when several fail the lowest index is reported
// so the result does not depend on scheduling.
func checkSignatures(tx database.Tx, entries []database.UTXOEntry) error {
	errs := make([]error, len(tx.Inputs))

	if len(tx.Inputs) == 1 {
		errs[0] = checkInputSignature(tx, 0, entries[0])
	} else {
		var g errgroup.Group
		g.SetLimit(runtime.GOMAXPROCS(0))

		for i := range tx.Inputs {
			g.Go(func() error {
				errs[i] = checkInputSignature(tx, i, entries[i])
				return nil
			})
		}

		g.Wait()
	}

	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	return nil
}

func checkInputSignature(tx database.Tx, index int, entry database.UTXOEntry) error {
	proof := tx.Inputs[index].Unlock

	if !proof.Scheme.Supported() {
		return ruleError(ErrUnsupportedSigScheme, "input %d scheme %d", index, proof.Scheme)
	}

	if proof.Scheme != entry.Lock.Scheme {
		return ruleError(ErrSchemeMismatch, "input %d is %s, output wants %s", index, proof.Scheme, entry.Lock.Scheme)
	}

	hash := signature.LockHash(proof.PublicKey)
	if !signature.EqualBytes(hash[:], entry.Lock.KeyHash[:]) {
		return ruleError(ErrLockHashMismatch, "input %d", index)
	}

	msg := tx.SigHash(index)
	err := signature.Verify(proof.Scheme, proof.PublicKey, msg[:], proof.Signature)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, signature.ErrVerificationFailed):
		return ruleError(ErrBadSignature, "input %d", index)
	default:
		return ruleError(ErrBadSignatureEncoding, "input %d: %s", index, err)
	}
}

// checkFee returns the inputs minus the outputs. Both sums are checked.
func checkFee(tx database.Tx, entries []database.UTXOEntry, p genesis.Params) (uint64, error) {
	var in, carry uint64
	for i, entry := range entries {
		in, carry = bits.Add64(in, entry.Value, 0)
		if carry != 0 || in > p.MaxMoney {
			return 0, ruleError(ErrInputValueOverflow, "input %d pushes the total above %d", i, p.MaxMoney)
		}
	}

	// Sanity already bounded the outputs by MaxMoney.
	var out uint64
	for _, o := range tx.Outputs {
		out += o.Value
	}

	if out > in {
		return 0, ruleError(ErrSpendTooHigh, "outputs %d, inputs %d", out, in)
	}

	return in - out, nil
}
