package state

import (
	"math/big"

	"github.com/btpc/node/foundation/blockchain/database"
	"github.com/btpc/node/foundation/blockchain/mempool"
	"github.com/btpc/node/foundation/blockchain/signature"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a queried block is not known.
var ErrNotFound = errors.New("not found")

// ChainTip describes the last block of a chain.
type ChainTip struct {
	Hash   signature.Hash       `json:"hash"`
	Height uint64               `json:"height"`
	Work   *big.Int             `json:"work"`
	Status database.BlockStatus `json:"status"`
}

func (n *blockNode) chainTip() ChainTip {
	return ChainTip{
		Hash:   n.hash,
		Height: n.height,
		Work:   new(big.Int).Set(n.work),
		Status: n.status,
	}
}

// =============================================================================

// SelectBestChain returns the tip of the active chain and the tips of every
// known chain, most work first. The active tip is among them.
func (s *State) SelectBestChain() (ChainTip, []ChainTip) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := s.index.tips()
	tips := make([]ChainTip, len(nodes))
	for i, node := range nodes {
		tips[i] = node.chainTip()
	}

	return s.tip.chainTip(), tips
}

// CumulativeWork returns the work of the chain ending at the block.
func (s *State) CumulativeWork(hash signature.Hash) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node := s.index.lookup(hash)
	if node == nil {
		return nil, errors.Wrapf(ErrNotFound, "block %s", hash)
	}

	return new(big.Int).Set(node.work), nil
}

// QueryBlockStatus returns where the block stands relative to the active
// chain.
func (s *State) QueryBlockStatus(hash signature.Hash) (database.BlockStatus, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node := s.index.lookup(hash)
	if node == nil {
		return 0, 0, errors.Wrapf(ErrNotFound, "block %s", hash)
	}

	return node.status, node.height, nil
}

// QueryBlockByHeight returns the block of the active chain at the height.
func (s *State) QueryBlockByHeight(height uint64) (database.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node := s.tip.ancestor(height)
	if node == nil {
		return database.Block{}, errors.Wrapf(ErrNotFound, "height %d above tip %d", height, s.tip.height)
	}

	return s.store.GetBlock(node.hash)
}

// QueryNextBits returns the bits a block building on parent must carry.
func (s *State) QueryNextBits(parent signature.Hash) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node := s.index.lookup(parent)
	if node == nil {
		return 0, errors.Wrapf(ErrNotFound, "block %s", parent)
	}

	ctx, err := s.blockContext(node)
	if err != nil {
		return 0, err
	}

	return ctx.ExpectedBits, nil
}

// QueryUTXOs returns a copy of every unspent output at the active tip.
func (s *State) QueryUTXOs() map[database.Outpoint]database.UTXOEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.ledger.Snapshot()
}

// QueryUTXO returns the unspent output at the active tip.
func (s *State) QueryUTXO(op database.Outpoint) (database.UTXOEntry, bool) {
	return s.ledger.FetchUTXO(op)
}

// QueryUTXOsByKeyHash returns the unspent outputs at the active tip that
// are locked to the key hash.
func (s *State) QueryUTXOsByKeyHash(keyHash [32]byte) map[database.Outpoint]database.UTXOEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	utxos := make(map[database.Outpoint]database.UTXOEntry)
	for op, entry := range s.ledger.Snapshot() {
		if entry.Lock.KeyHash == keyHash {
			utxos[op] = entry
		}
	}

	return utxos
}

// QueryLedger returns the number of unspent outputs and their total value.
func (s *State) QueryLedger() (int, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total, err := s.ledger.TotalValue()
	return s.ledger.Count(), total, err
}

// QueryMempoolLength returns the current length of the mempool.
func (s *State) QueryMempoolLength() int {
	return s.mempool.Count()
}

// QueryMempool returns the transactions in the mempool in the order a block
// would take them.
func (s *State) QueryMempool() []mempool.Entry {
	var entries []mempool.Entry
	for entry := range s.mempool.OrderedForBlock(-1) {
		entries = append(entries, entry)
	}
	return entries
}

// QueryMempoolStats returns the current mempool totals.
func (s *State) QueryMempoolStats() mempool.Stats {
	return s.mempool.Stats()
}

// RemoveExpired drops the transactions that sat in the mempool for longer
// than the configured age.
func (s *State) RemoveExpired() int {
	expired := s.mempool.RemoveExpired(s.timeSource.Now())
	for _, entry := range expired {
		s.evHandler("state: RemoveExpired: tx[%s]: added[%s]", entry.TxID, entry.AddedAt)
	}

	if len(expired) > 0 {
		s.reportMempool()
	}

	return len(expired)
}
