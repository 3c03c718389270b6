// Package selector provides different transaction selecting algorithms.
package selector

import (
	"cmp"
	"fmt"
	"math/bits"

	"github.com/btpc/node/foundation/blockchain/signature"
)

// List of different select strategies.
const (
	StrategyFeeRate = "feerate"
	StrategyOldest  = "oldest"
)

// Map of different select strategies with functions.
var strategies = map[string]Func{
	StrategyFeeRate: feeRateSelect,
	StrategyOldest:  oldestSelect,
}

// Candidate is what a strategy knows about a pooled transaction.
type Candidate struct {
	TxID signature.Hash
	Fee  uint64
	Size int
	Seq  uint64 // Admission order, lower is older.
}

// Func defines a function that orders the candidates in place for block
// assembly. Every strategy MUST be total and deterministic: the same
// candidates always come out in the same order whatever order they came
// in.
type Func func(candidates []Candidate)

// Retrieve returns the specified select strategy function.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}
	return fn, nil
}

// =============================================================================

// CompareDensity compares the fee per byte of two transactions without
// division or floating point: feeA/sizeA against feeB/sizeB is decided by
// feeA*sizeB against feeB*sizeA in 128 bits. It returns -1, 0 or +1.
func CompareDensity(feeA uint64, sizeA int, feeB uint64, sizeB int) int {
	aHi, aLo := bits.Mul64(feeA, uint64(sizeB))
	bHi, bLo := bits.Mul64(feeB, uint64(sizeA))

	if c := cmp.Compare(aHi, bHi); c != 0 {
		return c
	}
	return cmp.Compare(aLo, bLo)
}

// Denser orders candidates by descending fee per byte and then by
// admission order.
func Denser(a, b Candidate) int {
	if c := CompareDensity(b.Fee, b.Size, a.Fee, a.Size); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}
