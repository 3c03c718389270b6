// Package state is the core API for the blockchain. It owns the ledger and
// the block index, selects the best chain and feeds the mempool.
package state

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btpc/node/foundation/blockchain/database"
	"github.com/btpc/node/foundation/blockchain/difficulty"
	"github.com/btpc/node/foundation/blockchain/genesis"
	"github.com/btpc/node/foundation/blockchain/mempool"
	"github.com/btpc/node/foundation/blockchain/signature"
	"github.com/btpc/node/foundation/blockchain/storage"
)

// EventHandler defines a function that is called when events
// occur in the processing of blocks and transactions.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for mining and housekeeping.
type Worker interface {
	Shutdown()
	SignalStartMining()
	SignalCancelMining()
}

// =============================================================================

// Config represents the configuration required to start
// the blockchain node.
type Config struct {
	Params     genesis.Params
	Storage    storage.KV
	Mempool    mempool.Config
	MinerLock  database.LockCondition
	TimeSource difficulty.TimeSource
	EvHandler  EventHandler
}

// State manages the blockchain ledger.
type State struct {
	params     genesis.Params
	minerLock  database.LockCondition
	timeSource difficulty.TimeSource
	evHandler  EventHandler

	// mu owns the ledger, the index and the tip. Writers hold it across a
	// whole check and apply, including a reorganization.
	mu     sync.RWMutex
	store  *database.Store
	ledger *database.UTXOSet
	index  *blockIndex
	tip    *blockNode

	mempool *mempool.Mempool
	fault   atomic.Pointer[error]

	Worker Worker
}

// New constructs the state from storage. An empty store is initialized with
// the genesis block of the network.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}

	if cfg.Storage == nil {
		return nil, errors.New("storage is required")
	}

	timeSource := cfg.TimeSource
	if timeSource == nil {
		timeSource = difficulty.NewMedianTime()
	}

	mp, err := mempool.New(cfg.Mempool, mempool.WithEvents(ev))
	if err != nil {
		return nil, fmt.Errorf("mempool: %w", err)
	}

	initPrometheusMetrics()

	s := State{
		params:     cfg.Params,
		minerLock:  cfg.MinerLock,
		timeSource: timeSource,
		evHandler:  ev,
		store:      database.NewStore(cfg.Storage),
		ledger:     database.NewUTXOSet(),
		index:      newBlockIndex(),
		mempool:    mp,
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	prometheusTipHeight.Set(float64(s.tip.height))

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	return &s, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Stop all blockchain writing activity.
	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.store.Close()
}

// Params returns the consensus parameters the node runs with.
func (s *State) Params() genesis.Params {
	return s.params
}

// AddTimeSample passes the clock reading of another node to the time
// source when it takes samples. It reports whether the sample was used.
func (s *State) AddTimeSample(sourceID string, peerTime time.Time) bool {
	sampler, ok := s.timeSource.(difficulty.TimeSampler)
	if !ok {
		return false
	}

	sampler.AddSample(sourceID, peerTime)
	s.evHandler("state: AddTimeSample: source[%s]: time[%s]", sourceID, peerTime.UTC())

	return true
}

// Healthy returns nil until storage has failed underneath the node. After
// that the error that was recorded is returned.
func (s *State) Healthy() error {
	if err := s.fault.Load(); err != nil {
		return *err
	}
	return nil
}

// =============================================================================

// load builds the block index, the ledger and the tip from storage.
func (s *State) load() error {
	genesisBlock, err := s.params.Block()
	if err != nil {
		return fmt.Errorf("genesis block: %w", err)
	}
	genesisHash := genesisBlock.Hash()

	tipHash, found, err := s.store.Tip()
	if err != nil {
		return fmt.Errorf("reading tip: %w", err)
	}

	if !found {
		return s.initGenesis(genesisBlock)
	}

	s.evHandler("state: load: started: tip[%s]", tipHash)

	records := make(map[signature.Hash]database.IndexRecord)
	fn := func(hash signature.Hash, rec database.IndexRecord) error {
		records[hash] = rec
		return nil
	}
	if err := s.store.LoadIndex(fn); err != nil {
		return fmt.Errorf("loading block index: %w", err)
	}

	if _, exists := records[genesisHash]; !exists {
		return fmt.Errorf("storage does not hold the %s genesis block %s", s.params.Name, genesisHash)
	}

	if err := s.index.load(genesisHash, records); err != nil {
		return fmt.Errorf("loading block index: %w", err)
	}

	if err := s.store.LoadUTXOs(s.ledger); err != nil {
		return fmt.Errorf("loading ledger: %w", err)
	}

	s.tip = s.index.lookup(tipHash)
	if s.tip == nil || s.tip.status != database.StatusConnected {
		return fmt.Errorf("tip %s is not a connected block", tipHash)
	}

	s.evHandler("state: load: completed: height[%d] blocks[%d] utxos[%d]", s.tip.height, s.index.count(), s.ledger.Count())

	return nil
}

// initGenesis writes the genesis block and its output to empty storage.
// Genesis is trusted by hash so none of the rules are applied to it.
func (s *State) initGenesis(block database.Block) error {
	s.evHandler("state: initGenesis: network[%s] genesis[%s]", s.params.Name, block.Hash())

	overlay := database.NewOverlay(s.ledger)
	if _, err := overlay.ApplyTx(block.Trans[0], 0); err != nil {
		return fmt.Errorf("applying genesis: %w", err)
	}

	node := newBlockNode(block.Header, nil, database.StatusConnected)

	batch := storage.NewBatch()
	database.PutBlock(batch, block)
	database.PutIndex(batch, node.hash, node.record())
	overlay.WriteTo(batch)
	database.PutTip(batch, node.hash)

	if err := s.store.PutBatch(batch); err != nil {
		return fmt.Errorf("writing genesis: %w", err)
	}

	s.ledger.Commit(overlay)
	s.index.add(node)
	s.tip = node

	return nil
}

// recordFault marks the node unhealthy. The first fault is kept.
func (s *State) recordFault(err error) {
	if s.fault.CompareAndSwap(nil, &err) {
		s.evHandler("state: storage fault: ERROR: %s", err)
		prometheusStorageFaults.Inc()
	}
}
