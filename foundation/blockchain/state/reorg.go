package state

import (
	"github.com/btpc/node/foundation/blockchain/consensus"
	"github.com/btpc/node/foundation/blockchain/database"
	"github.com/btpc/node/foundation/blockchain/storage"
	"github.com/pkg/errors"
)

// reorganize makes newTip the active tip. The blocks of the active chain
// back to the fork point are disconnected newest first using their undo
// data, then the blocks of the new chain are connected oldest first and
// checked in full. Everything is staged in one overlay and written in one
// batch, so on any failure the ledger and the tip are left as they were.
// The caller must hold the write lock.
func (s *State) reorganize(newTip *blockNode) error {
	oldTip := s.tip
	fork := findFork(oldTip, newTip)

	if oldTip != fork {
		s.evHandler("state: reorganize: started: fork[%s]: height[%d]: oldTip[%s]: newTip[%s]", fork.hash, fork.height, oldTip.hash, newTip.hash)
	}

	overlay := database.NewOverlay(s.ledger)
	batch := storage.NewBatch()

	// Disconnect the active chain down to the fork point.
	var detached []*blockNode
	var disconnected []database.Block
	for node := oldTip; node != fork; node = node.parent {
		block, err := s.store.GetBlock(node.hash)
		if err != nil {
			return s.storageFault("reading block to disconnect", err)
		}

		undo, err := s.store.GetUndo(node.hash)
		if err != nil {
			return s.storageFault("reading undo data", err)
		}

		if err := overlay.DisconnectBlock(block, undo); err != nil {
			return s.storageFault("disconnecting block", errors.Wrapf(err, "block %s", node.hash))
		}

		rec := node.record()
		rec.Status = database.StatusKnown
		database.PutIndex(batch, node.hash, rec)
		database.DeleteUndo(batch, node.hash)

		detached = append(detached, node)
		disconnected = append(disconnected, block)
	}

	// Connect the new chain from the fork point up.
	var path []*blockNode
	for node := newTip; node != fork; node = node.parent {
		path = append(path, node)
	}

	var connected []database.Block
	for i := len(path) - 1; i >= 0; i-- {
		node := path[i]

		block, err := s.store.GetBlock(node.hash)
		if err != nil {
			return s.storageFault("reading block to connect", err)
		}

		ctx, err := s.blockContext(node.parent)
		if err != nil {
			return err
		}

		undo, err := consensus.ConnectBlock(block, overlay, ctx)
		if err != nil {
			s.markInvalid(node)
			return errors.Wrapf(err, "connecting block %s at height %d", node.hash, node.height)
		}

		rec := node.record()
		rec.Status = database.StatusConnected
		database.PutIndex(batch, node.hash, rec)
		database.PutUndo(batch, node.hash, undo)

		connected = append(connected, block)
	}

	overlay.WriteTo(batch)
	database.PutTip(batch, newTip.hash)

	if err := s.store.PutBatch(batch); err != nil {
		return s.storageFault("committing reorganization", err)
	}

	// Storage holds the new chain. Bring memory in line with it.
	s.ledger.Commit(overlay)

	for _, node := range detached {
		node.status = database.StatusKnown
	}
	for _, node := range path {
		node.status = database.StatusConnected
	}
	s.tip = newTip

	prometheusTipHeight.Set(float64(newTip.height))
	if depth := len(detached); depth > 0 {
		prometheusReorgs.Inc()
		prometheusReorgDepth.Observe(float64(depth))
		s.evHandler("state: reorganize: completed: disconnected[%d]: connected[%d]: tip[%s]: height[%d]", depth, len(path), newTip.hash, newTip.height)
	}

	s.updateMempool(connected, disconnected)

	return nil
}

// updateMempool drops what the new chain confirmed or conflicts with and
// gives the transactions of disconnected blocks another chance. The caller
// must hold the write lock and the ledger must be at the new tip.
func (s *State) updateMempool(connected []database.Block, disconnected []database.Block) {
	for _, block := range connected {
		if n := s.mempool.RemoveConfirmed(block); n > 0 {
			s.evHandler("state: updateMempool: removed[%d]: blk[%s]", n, block.Hash())
		}
	}

	ctx := s.nextTxContext()

	// Oldest block first so transactions go back in the order they were
	// first confirmed.
	var readmitted int
	for i := len(disconnected) - 1; i >= 0; i-- {
		for _, tx := range disconnected[i].Trans[1:] {
			fee, err := consensus.ValidateTransaction(tx, s.ledger, ctx)
			if err != nil {
				continue
			}
			if _, err := s.mempool.Add(tx, fee); err == nil {
				readmitted++
			}
		}
	}

	if readmitted > 0 {
		s.evHandler("state: updateMempool: readmitted[%d]", readmitted)
	}

	dropped := s.mempool.Revalidate(func(tx database.Tx) (uint64, error) {
		return consensus.ValidateTransaction(tx, s.ledger, ctx)
	})
	for _, entry := range dropped {
		s.evHandler("state: updateMempool: dropped: tx[%s]", entry.TxID)
	}

	s.reportMempool()
}

// markInvalid flags the node and everything built on it so none of them is
// connected again. The flags are persisted on a best effort basis.
func (s *State) markInvalid(node *blockNode) {
	batch := storage.NewBatch()
	for _, n := range s.index.descendants(node) {
		n.status = database.StatusInvalid
		database.PutIndex(batch, n.hash, n.record())
	}

	s.evHandler("state: markInvalid: blk[%s]: blocks[%d]", node.hash, batch.Len())

	if err := s.store.PutBatch(batch); err != nil {
		s.recordFault(consensus.NewStorageError("marking blocks invalid", err))
	}
}

// storageFault wraps a storage failure, records it and returns it.
func (s *State) storageFault(op string, err error) error {
	err = consensus.NewStorageError(op, err)
	s.recordFault(err)
	return err
}
