package state

import (
	"fmt"
	"time"

	"github.com/btpc/node/foundation/blockchain/consensus"
	"github.com/btpc/node/foundation/blockchain/database"
	"github.com/btpc/node/foundation/blockchain/difficulty"
	"github.com/btpc/node/foundation/blockchain/storage"
	"github.com/pkg/errors"
)

// Outcome describes what happened to a block handed to ProcessBlock.
type Outcome int

// Set of block outcomes.
const (
	OutcomeRejected    Outcome = iota // Failed validation or could not be stored.
	OutcomeConnected                  // Extended the active chain.
	OutcomeReorganized                // Became the tip of a new active chain.
	OutcomeSideChain                  // Stored on a chain with no more work than the active one.
)

// String implements the fmt.Stringer interface for logging.
func (o Outcome) String() string {
	switch o {
	case OutcomeRejected:
		return "rejected"
	case OutcomeConnected:
		return "connected"
	case OutcomeReorganized:
		return "reorganized"
	case OutcomeSideChain:
		return "sidechain"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// =============================================================================

// ProcessBlock takes a block from any source, validates it and stores it.
// The block becomes the new tip when its chain has strictly more work than
// the active one, which may mean reorganizing the ledger onto it. On a tie
// the active tip is kept.
func (s *State) ProcessBlock(block database.Block) (Outcome, error) {
	hash := block.Hash()

	s.evHandler("state: ProcessBlock: started: prevBlk[%s]: newBlk[%s]: numTrans[%d]", block.Header.PrevBlockHash, hash, len(block.Trans))

	start := time.Now()
	outcome, err := s.processBlock(block)
	prometheusProcessBlock.Observe(time.Since(start).Seconds())

	if err != nil {
		kind := consensus.KindOf(err)
		prometheusBlocksRejected.WithLabelValues(kind.String()).Inc()
		s.evHandler("state: ProcessBlock: REJECTED: newBlk[%s]: kind[%s]: %s", hash, kind, err)
		return outcome, err
	}

	prometheusBlocksProcessed.WithLabelValues(outcome.String()).Inc()
	s.evHandler("state: ProcessBlock: completed: newBlk[%s]: outcome[%s]", hash, outcome)

	// The tip moved, so any block being mined builds on a stale parent.
	if s.Worker != nil && outcome != OutcomeSideChain {
		s.Worker.SignalCancelMining()
		s.Worker.SignalStartMining()
	}

	return outcome, nil
}

func (s *State) processBlock(block database.Block) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := block.Hash()

	if node := s.index.lookup(hash); node != nil {
		return OutcomeRejected, errors.Wrapf(consensus.ErrDuplicateBlock, "block %s is %s", hash, node.status)
	}

	parent := s.index.lookup(block.Header.PrevBlockHash)
	switch {
	case parent == nil:
		return OutcomeRejected, errors.Wrapf(consensus.ErrMissingParent, "block %s parent %s", hash, block.Header.PrevBlockHash)
	case parent.status == database.StatusInvalid:
		return OutcomeRejected, errors.Wrapf(consensus.ErrInvalidAncestor, "block %s parent %s", hash, parent.hash)
	}

	if err := consensus.SanityCheckBlock(block, s.params); err != nil {
		return OutcomeRejected, err
	}

	ctx, err := s.blockContext(parent)
	if err != nil {
		return OutcomeRejected, err
	}

	if err := consensus.CheckHeader(block.Header, ctx); err != nil {
		return OutcomeRejected, err
	}

	// The block is worth keeping from here on, even if it never joins the
	// active chain.
	node := newBlockNode(block.Header, parent, database.StatusKnown)

	batch := storage.NewBatch()
	database.PutBlock(batch, block)
	database.PutIndex(batch, node.hash, node.record())

	if err := s.store.PutBatch(batch); err != nil {
		err = consensus.NewStorageError("storing block", err)
		s.recordFault(err)
		return OutcomeRejected, err
	}

	s.index.add(node)

	if node.work.Cmp(s.tip.work) <= 0 {
		s.evHandler("state: ProcessBlock: side chain: newBlk[%s]: height[%d]: tip[%s]", hash, node.height, s.tip.hash)
		return OutcomeSideChain, nil
	}

	extends := parent == s.tip
	if err := s.reorganize(node); err != nil {
		return OutcomeRejected, err
	}

	if extends {
		return OutcomeConnected, nil
	}
	return OutcomeReorganized, nil
}

// ValidateBlock checks a block without storing it. A block building on the
// active tip is checked in full against the ledger. A block building
// elsewhere can only be checked against its header context since the ledger
// is not at its parent.
func (s *State) ValidateBlock(block database.Block) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parent := s.index.lookup(block.Header.PrevBlockHash)
	switch {
	case parent == nil:
		return errors.Wrapf(consensus.ErrMissingParent, "parent %s", block.Header.PrevBlockHash)
	case parent.status == database.StatusInvalid:
		return errors.Wrapf(consensus.ErrInvalidAncestor, "parent %s", parent.hash)
	}

	if err := consensus.SanityCheckBlock(block, s.params); err != nil {
		return err
	}

	ctx, err := s.blockContext(parent)
	if err != nil {
		return err
	}

	if parent != s.tip {
		return consensus.CheckHeader(block.Header, ctx)
	}

	_, err = consensus.ConnectBlock(block, database.NewOverlay(s.ledger), ctx)
	return err
}

// =============================================================================

// blockContext resolves everything a child of parent is checked against.
// The caller must hold the lock.
func (s *State) blockContext(parent *blockNode) (consensus.BlockContext, error) {
	rules := s.params.Rules()
	height := parent.height + 1

	bits, err := difficulty.RequiredBits(height, parent.header.HeaderInfo(parent.height), parent.history, rules)
	if err != nil {
		return consensus.BlockContext{}, errors.Wrapf(err, "required bits at %d", height)
	}

	ctx := consensus.BlockContext{
		Params:           s.params,
		Height:           height,
		ExpectedBits:     bits,
		RecentTimestamps: parent.timestamps(s.params.MedianTimeSpan),
		AdjustedNow:      uint64(s.timeSource.Now().Unix()),
	}

	return ctx, nil
}

// nextTxContext returns the context of a transaction going into the block
// after the active tip. The caller must hold the lock.
func (s *State) nextTxContext() consensus.TxContext {
	return consensus.TxContext{
		Params:         s.params,
		Height:         s.tip.height + 1,
		MedianTimePast: difficulty.MedianTimePast(s.tip.timestamps(s.params.MedianTimeSpan)),
	}
}
