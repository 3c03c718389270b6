package state

import (
	"github.com/btpc/node/foundation/blockchain/consensus"
	"github.com/btpc/node/foundation/blockchain/database"
	"github.com/btpc/node/foundation/blockchain/mempool"
)

// ValidateTransaction checks the transaction against the ledger at the
// active tip, as a member of the next block, and returns its fee.
func (s *State) ValidateTransaction(tx database.Tx) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return consensus.ValidateTransaction(tx, s.ledger, s.nextTxContext())
}

// SubmitToMempool accepts a transaction for inclusion in a future block.
// The read lock is held across validation and admission so the ledger can't
// move underneath the check.
func (s *State) SubmitToMempool(tx database.Tx) (mempool.Entry, error) {
	txID := tx.ID()

	if err := s.mempool.RecentlyRejected(txID); err != nil {
		prometheusTxRejected.WithLabelValues(consensus.KindOf(err).String()).Inc()
		return mempool.Entry{}, err
	}

	entry, err := s.submit(tx)
	if err != nil {
		kind := consensus.KindOf(err)
		prometheusTxRejected.WithLabelValues(kind.String()).Inc()
		s.evHandler("state: SubmitToMempool: REJECTED: tx[%s]: kind[%s]: %s", txID, kind, err)

		// These can never become valid, so there is no point checking them
		// again when they come back.
		switch kind {
		case consensus.KindStructural, consensus.KindCrypto:
			s.mempool.Reject(txID, err)
		}

		return mempool.Entry{}, err
	}

	s.evHandler("state: SubmitToMempool: accepted: tx[%s]: fee[%d]: size[%d]", txID, entry.Fee, entry.Size)

	if s.Worker != nil {
		s.Worker.SignalStartMining()
	}

	return entry, nil
}

func (s *State) submit(tx database.Tx) (mempool.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fee, err := consensus.ValidateTransaction(tx, s.ledger, s.nextTxContext())
	if err != nil {
		return mempool.Entry{}, err
	}

	evicted, err := s.mempool.Add(tx, fee)
	if err != nil {
		return mempool.Entry{}, err
	}

	for _, e := range evicted {
		s.evHandler("state: SubmitToMempool: evicted: tx[%s]: fee[%d]: size[%d]", e.TxID, e.Fee, e.Size)
	}
	prometheusMempoolEvicted.Add(float64(len(evicted)))
	s.reportMempool()

	entry, _ := s.mempool.Get(tx.ID())
	return entry, nil
}
