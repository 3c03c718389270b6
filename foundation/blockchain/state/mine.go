package state

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/btpc/node/foundation/blockchain/consensus"
	"github.com/btpc/node/foundation/blockchain/database"
	"github.com/btpc/node/foundation/blockchain/difficulty"
	"github.com/btpc/node/foundation/blockchain/signature"
)

// ErrNoMinerLock is returned when mining is requested without a lock for
// the coinbase to pay.
var ErrNoMinerLock = errors.New("no miner lock configured")

// template is a block ready for the proof of work search.
type template struct {
	parent    signature.Hash
	height    uint64
	timeStamp uint64
	bits      uint32
	trans     []database.Tx
	fees      uint64
}

// =============================================================================

// MineNewBlock attempts to create a new block with a proper hash that can become
// the next block in the chain. A block with just a coinbase is mined when the
// mempool is empty.
func (s *State) MineNewBlock(ctx context.Context) (database.Block, error) {
	if s.minerLock == (database.LockCondition{}) {
		return database.Block{}, ErrNoMinerLock
	}

	s.evHandler("state: MineNewBlock: MINING: assemble block")

	tmpl, err := s.assemble()
	if err != nil {
		return database.Block{}, err
	}

	s.evHandler("state: MineNewBlock: MINING: perform POW: height[%d]: trans[%d]: fees[%d]", tmpl.height, len(tmpl.trans), tmpl.fees)

	// Attempt to create a new block by solving the POW puzzle. This can be cancelled.
	block, err := database.POW(ctx, database.POWArgs{
		PrevBlockHash: tmpl.parent,
		TimeStamp:     tmpl.timeStamp,
		Bits:          tmpl.bits,
		Trans:         tmpl.trans,
		EvHandler:     s.evHandler,
	})
	if err != nil {
		return database.Block{}, err
	}

	// Just check one more time we were not cancelled.
	if ctx.Err() != nil {
		return database.Block{}, ctx.Err()
	}

	s.evHandler("state: MineNewBlock: MINING: process block")

	if _, err := s.ProcessBlock(block); err != nil {
		return database.Block{}, err
	}

	return block, nil
}

// assemble builds the next block from the mempool, densest first. Every
// transaction is checked again against a view that includes the ones already
// picked, so a block never holds conflicting spends.
func (s *State) assemble() (template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parent := s.tip

	bctx, err := s.blockContext(parent)
	if err != nil {
		return template{}, err
	}
	txCtx := bctx.TxContext()

	coinbaseFor := func(fees uint64) (database.Tx, error) {
		reward, carry := bits.Add64(consensus.Subsidy(bctx.Height, s.params), fees, 0)
		if carry != 0 {
			return database.Tx{}, fmt.Errorf("reward overflows at height %d", bctx.Height)
		}
		out := []database.TxOut{{Value: reward, Lock: s.minerLock}}
		return database.NewCoinbase(bctx.Height, nil, out, s.params.ForkID), nil
	}

	// Leave room for the header and the coinbase. Values are fixed width so
	// the final coinbase has the same size. The transaction count prefix
	// grows with the count, so it is measured as transactions are picked.
	sizing, err := coinbaseFor(0)
	if err != nil {
		return template{}, err
	}
	fixed := database.Block{Trans: []database.Tx{sizing}}.Size() - blockSize(0, 0, 0)

	overlay := database.NewOverlay(s.ledger)

	var picked []database.Tx
	var fees uint64
	var used int

	for entry := range s.mempool.OrderedForBlock(-1) {
		if blockSize(fixed, len(picked)+1, used+entry.Size) > s.params.MaxBlockSize {
			continue
		}

		fee, err := consensus.ValidateTransaction(entry.Tx, overlay, txCtx)
		if err != nil {
			s.evHandler("state: assemble: skipping: tx[%s]: %s", entry.TxID, err)
			continue
		}

		total, carry := bits.Add64(fees, fee, 0)
		if carry != 0 || total > s.params.MaxMoney {
			continue
		}

		if _, err := overlay.ApplyTx(entry.Tx, bctx.Height); err != nil {
			continue
		}

		picked = append(picked, entry.Tx)
		fees = total
		used += entry.Size
	}

	coinbase, err := coinbaseFor(fees)
	if err != nil {
		return template{}, err
	}

	tmpl := template{
		parent:    parent.hash,
		height:    bctx.Height,
		timeStamp: s.nextTimeStamp(parent, bctx),
		bits:      bctx.ExpectedBits,
		trans:     append([]database.Tx{coinbase}, picked...),
		fees:      fees,
	}

	// The size does not depend on the nonce, so check it before the search.
	candidate := database.Block{
		Header: database.BlockHeader{PrevBlockHash: tmpl.parent, TimeStamp: tmpl.timeStamp, Bits: tmpl.bits},
		Trans:  tmpl.trans,
	}
	if err := consensus.CheckBlockSize(candidate, s.params); err != nil {
		return template{}, err
	}

	return tmpl, nil
}

// blockSize returns the encoded size of a block whose header and coinbase
// take fixed bytes and whose count other transactions take used bytes.
func blockSize(fixed int, count int, used int) int {
	return fixed + len(binary.AppendUvarint(nil, uint64(count+1))) + used
}

// nextTimeStamp picks the earliest time the timestamp rules accept that is
// not before the adjusted clock.
func (s *State) nextTimeStamp(parent *blockNode, bctx consensus.BlockContext) uint64 {
	ts := bctx.AdjustedNow

	if mtp := difficulty.MedianTimePast(bctx.RecentTimestamps); ts <= mtp {
		ts = mtp + 1
	}

	if spacing := s.params.MinBlockSpacing; spacing > 0 {
		if earliest := parent.header.TimeStamp + spacing; ts < earliest {
			ts = earliest
		}
	}

	return ts
}
