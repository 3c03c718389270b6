package consensus

import (
	"math/bits"

	"github.com/btpc/node/foundation/blockchain/database"
	"github.com/btpc/node/foundation/blockchain/difficulty"
	"github.com/btpc/node/foundation/blockchain/genesis"
	"github.com/btpc/node/foundation/blockchain/signature"
	"github.com/pkg/errors"
)

// BlockContext is the chain position a block is checked at. The caller
// resolves it from the block's parent before validation starts so no
// lookups happen mid-check.
type BlockContext struct {
	Params           genesis.Params
	Height           uint64   // Height the block claims by its parent.
	ExpectedBits     uint32   // Bits the difficulty engine requires at Height.
	RecentTimestamps []uint64 // Ancestor timestamps by ascending height, ending with the parent.
	AdjustedNow      uint64   // Network adjusted time in unix seconds.
}

// TxContext returns the context the block's transactions are checked in.
func (ctx BlockContext) TxContext() TxContext {
	recent := ctx.RecentTimestamps
	if span := ctx.Params.MedianTimeSpan; span > 0 && len(recent) > span {
		recent = recent[len(recent)-span:]
	}

	return TxContext{
		Params:         ctx.Params,
		Height:         ctx.Height,
		MedianTimePast: difficulty.MedianTimePast(recent),
	}
}

// =============================================================================

// CheckHeader validates the header against its context: version, proof of
// work, expected difficulty and timestamp, in that order.
func CheckHeader(h database.BlockHeader, ctx BlockContext) error {
	if h.Version == 0 {
		return ruleError(ErrBadBlockVersion, "version %d", h.Version)
	}

	target, err := difficulty.TargetFromCompact(h.Bits)
	if err == nil {
		err = target.Validate()
	}
	if err != nil {
		return ruleError(ErrBadTarget, "bits %08x: %s", h.Bits, err)
	}

	if hash := h.Hash(); !difficulty.CheckProofOfWork(hash, target) {
		return ruleError(ErrHighHash, "hash %s above target %s", hash, target)
	}

	if h.Bits != ctx.ExpectedBits {
		return ruleError(ErrUnexpectedDifficulty, "bits %08x, exp %08x", h.Bits, ctx.ExpectedBits)
	}

	err = difficulty.ValidateTimestamp(h.TimeStamp, ctx.RecentTimestamps, ctx.AdjustedNow, ctx.Params.Rules())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, difficulty.ErrTimeTooOld):
		return ruleError(ErrTimeTooOld, "%s", err)
	case errors.Is(err, difficulty.ErrTimeTooFarInFuture):
		return ruleError(ErrTimeTooFarInFuture, "%s", err)
	case errors.Is(err, difficulty.ErrBlockTooSoon):
		return ruleError(ErrBlockTooSoon, "%s", err)
	}

	return err
}

// CheckBlockSize validates the encoded size of the block. Producers call it
// before searching for a nonce.
func CheckBlockSize(block database.Block, p genesis.Params) error {
	if size := block.Size(); size > p.MaxBlockSize {
		return ruleError(ErrBlockTooLarge, "size %d, max %d", size, p.MaxBlockSize)
	}
	return nil
}

// SanityCheckBlock runs the checks that need nothing but the block itself.
// A block passing them is worth storing even when it is not connected.
func SanityCheckBlock(block database.Block, p genesis.Params) error {
	if len(block.Trans) == 0 {
		return ruleError(ErrNoTransactions, "block %s", block.Hash())
	}

	if err := CheckBlockSize(block, p); err != nil {
		return err
	}

	if err := checkMerkleRoot(block); err != nil {
		return err
	}

	if !block.Trans[0].IsCoinbase() {
		return ruleError(ErrFirstTxNotCoinbase, "block %s", block.Hash())
	}

	seen := make(map[signature.Hash]struct{}, len(block.Trans))
	for i, tx := range block.Trans {
		if i > 0 && tx.IsCoinbase() {
			return ruleError(ErrMultipleCoinbases, "tx %d", i)
		}

		if err := CheckTransactionSanity(tx, p); err != nil {
			return errors.Wrapf(err, "tx %d", i)
		}

		id := tx.ID()
		if _, exists := seen[id]; exists {
			return ruleError(ErrDuplicateTxInBlock, "tx %d %s", i, id)
		}
		seen[id] = struct{}{}
	}

	return nil
}

// ConnectBlock validates the block against the ledger view of its parent
// and applies it to the overlay, returning the spent outputs for undo.
// Every transaction is checked and applied in order, then the block level
// rules are checked. On error the overlay holds partial changes and must
// be discarded.
func ConnectBlock(block database.Block, overlay *database.Overlay, ctx BlockContext) ([]database.SpentOutput, error) {
	if len(block.Trans) == 0 {
		return nil, ruleError(ErrNoTransactions, "block %s", block.Hash())
	}

	txCtx := ctx.TxContext()
	spentInBlock := make(map[database.Outpoint]struct{})

	var undo []database.SpentOutput
	var fees uint64

	for i := 1; i < len(block.Trans); i++ {
		tx := block.Trans[i]

		if tx.IsCoinbase() {
			return nil, ruleError(ErrMultipleCoinbases, "tx %d", i)
		}

		fee, err := validateTransaction(tx, overlay, txCtx, spentInBlock)
		if err != nil {
			return nil, errors.Wrapf(err, "tx %d", i)
		}

		var carry uint64
		fees, carry = bits.Add64(fees, fee, 0)
		if carry != 0 || fees > ctx.Params.MaxMoney {
			return nil, ruleError(ErrInputValueOverflow, "fees above %d at tx %d", ctx.Params.MaxMoney, i)
		}

		spent, err := apply(tx, overlay, ctx.Height)
		if err != nil {
			return nil, errors.Wrapf(err, "tx %d", i)
		}

		for _, in := range tx.Inputs {
			spentInBlock[in.PrevOut] = struct{}{}
		}
		undo = append(undo, spent...)
	}

	if err := CheckHeader(block.Header, ctx); err != nil {
		return nil, err
	}

	if err := CheckBlockSize(block, ctx.Params); err != nil {
		return nil, err
	}

	if err := checkMerkleRoot(block); err != nil {
		return nil, err
	}

	coinbase := block.Trans[0]
	if err := checkCoinbase(coinbase, fees, ctx); err != nil {
		return nil, err
	}

	if _, err := apply(coinbase, overlay, ctx.Height); err != nil {
		return nil, errors.Wrap(err, "coinbase")
	}

	return undo, nil
}

// =============================================================================

func checkMerkleRoot(block database.Block) error {
	root, err := block.ComputeMerkleRoot()
	if err != nil {
		return ruleError(ErrBadMerkleRoot, "%s", err)
	}

	if root != block.Header.MerkleRoot {
		return ruleError(ErrBadMerkleRoot, "got %s, exp %s", block.Header.MerkleRoot, root)
	}

	return nil
}

func checkCoinbase(coinbase database.Tx, fees uint64, ctx BlockContext) error {
	if !coinbase.IsCoinbase() {
		return ruleError(ErrFirstTxNotCoinbase, "tx %s", coinbase.ID())
	}

	if err := CheckTransactionSanity(coinbase, ctx.Params); err != nil {
		return errors.Wrap(err, "coinbase")
	}

	height, _ := coinbase.CoinbaseHeight()
	if height != ctx.Height {
		return ruleError(ErrBadCoinbaseHeight, "got %d, exp %d", height, ctx.Height)
	}

	if coinbase.ForkID != ctx.Params.ForkID {
		return ruleError(ErrWrongForkID, "coinbase got %d, exp %d", coinbase.ForkID, ctx.Params.ForkID)
	}

	limit, carry := bits.Add64(Subsidy(ctx.Height, ctx.Params), fees, 0)
	if carry != 0 {
		return ruleError(ErrInputValueOverflow, "subsidy plus fees")
	}

	// Sanity bounded the sum by MaxMoney.
	var claimed uint64
	for _, out := range coinbase.Outputs {
		claimed += out.Value
	}

	if claimed > limit {
		return ruleError(ErrBadCoinbaseValue, "claimed %d, allowed %d", claimed, limit)
	}

	return nil
}

// apply adds the transaction to the overlay. An output that already exists
// would be overwritten and lost, so a transaction whose id collides with
// live outputs is rejected.
func apply(tx database.Tx, overlay *database.Overlay, height uint64) ([]database.SpentOutput, error) {
	id := tx.ID()
	for j := range tx.Outputs {
		if _, exists := overlay.FetchUTXO(database.Outpoint{TxID: id, Index: uint32(j)}); exists {
			return nil, ruleError(ErrDuplicateTx, "tx %s output %d is unspent", id, j)
		}
	}

	spent, err := overlay.ApplyTx(tx, height)
	if err != nil {
		return nil, ruleError(ErrMissingInput, "%s", err)
	}

	return spent, nil
}
