package database

import (
	"errors"
	"fmt"
	"maps"
	"sync"
)

// ErrMissingOutput is returned when an outpoint expected in a view is not
// there. During validation this means an invalid spend, while applying undo
// data it means the ledger is corrupt.
var ErrMissingOutput = errors.New("output does not exist")

// UTXOEntry is an unspent output together with the facts needed to spend it.
type UTXOEntry struct {
	Value    uint64        `json:"value"`
	Lock     LockCondition `json:"lock"`
	Height   uint64        `json:"height"`   // Height of the block that created it.
	Coinbase bool          `json:"coinbase"` // Created by a coinbase, subject to maturity.
}

// SpentOutput records an entry consumed by a block so the block can be
// disconnected later.
type SpentOutput struct {
	Outpoint Outpoint  `json:"outpoint"`
	Entry    UTXOEntry `json:"entry"`
}

// UTXOView is a read-only view of the unspent outputs.
type UTXOView interface {
	FetchUTXO(op Outpoint) (UTXOEntry, bool)
}

// =============================================================================

// UTXOSet is the committed set of unspent outputs for the active chain. It
// is only changed by committing an Overlay.
type UTXOSet struct {
	mu      sync.RWMutex
	entries map[Outpoint]UTXOEntry
}

// NewUTXOSet constructs an empty set.
func NewUTXOSet() *UTXOSet {
	return &UTXOSet{
		entries: make(map[Outpoint]UTXOEntry),
	}
}

// FetchUTXO implements UTXOView.
func (us *UTXOSet) FetchUTXO(op Outpoint) (UTXOEntry, bool) {
	us.mu.RLock()
	defer us.mu.RUnlock()

	entry, exists := us.entries[op]
	return entry, exists
}

// Count returns the number of unspent outputs.
func (us *UTXOSet) Count() int {
	us.mu.RLock()
	defer us.mu.RUnlock()

	return len(us.entries)
}

// TotalValue returns the sum of all unspent outputs.
func (us *UTXOSet) TotalValue() (uint64, error) {
	us.mu.RLock()
	defer us.mu.RUnlock()

	var total uint64
	for _, entry := range us.entries {
		sum := total + entry.Value
		if sum < total {
			return 0, errors.New("total value overflows")
		}
		total = sum
	}

	return total, nil
}

// Snapshot returns a copy of the set.
func (us *UTXOSet) Snapshot() map[Outpoint]UTXOEntry {
	us.mu.RLock()
	defer us.mu.RUnlock()

	return maps.Clone(us.entries)
}

// Load inserts an entry read back from storage at startup.
func (us *UTXOSet) Load(op Outpoint, entry UTXOEntry) {
	us.mu.Lock()
	defer us.mu.Unlock()

	us.entries[op] = entry
}

// Commit applies the staged changes of the overlay. The overlay must have
// been built directly on this set.
func (us *UTXOSet) Commit(o *Overlay) {
	us.mu.Lock()
	defer us.mu.Unlock()

	for op := range o.spent {
		delete(us.entries, op)
	}

	for op, entry := range o.added {
		us.entries[op] = entry
	}
}

// =============================================================================

// Overlay stages changes on top of another view. Nothing reaches the base
// until the overlay is committed, so a failed validation or reorg just
// drops it.
type Overlay struct {
	base  UTXOView
	added map[Outpoint]UTXOEntry
	spent map[Outpoint]struct{}
}

// NewOverlay constructs an overlay on base.
func NewOverlay(base UTXOView) *Overlay {
	return &Overlay{
		base:  base,
		added: make(map[Outpoint]UTXOEntry),
		spent: make(map[Outpoint]struct{}),
	}
}

// FetchUTXO implements UTXOView.
func (o *Overlay) FetchUTXO(op Outpoint) (UTXOEntry, bool) {
	if entry, exists := o.added[op]; exists {
		return entry, true
	}

	if _, spent := o.spent[op]; spent {
		return UTXOEntry{}, false
	}

	return o.base.FetchUTXO(op)
}

// Add stages a new unspent output.
func (o *Overlay) Add(op Outpoint, entry UTXOEntry) {
	delete(o.spent, op)
	o.added[op] = entry
}

// Spend stages the removal of an unspent output and returns it.
func (o *Overlay) Spend(op Outpoint) (UTXOEntry, bool) {
	entry, exists := o.FetchUTXO(op)
	if !exists {
		return UTXOEntry{}, false
	}

	delete(o.added, op)
	if _, inBase := o.base.FetchUTXO(op); inBase {
		o.spent[op] = struct{}{}
	}

	return entry, true
}

// Changes returns the number of staged additions and removals.
func (o *Overlay) Changes() (added int, spent int) {
	return len(o.added), len(o.spent)
}

// ApplyTx spends the inputs of the transaction and adds its outputs. The
// spent entries are returned in input order for undo data. The caller is
// expected to have validated the transaction against this view.
func (o *Overlay) ApplyTx(tx Tx, height uint64) ([]SpentOutput, error) {
	var spent []SpentOutput

	coinbase := tx.IsCoinbase()
	if !coinbase {
		spent = make([]SpentOutput, 0, len(tx.Inputs))
		for _, in := range tx.Inputs {
			entry, exists := o.Spend(in.PrevOut)
			if !exists {
				return nil, fmt.Errorf("%w: %s", ErrMissingOutput, in.PrevOut)
			}
			spent = append(spent, SpentOutput{Outpoint: in.PrevOut, Entry: entry})
		}
	}

	id := tx.ID()
	for i, out := range tx.Outputs {
		o.Add(Outpoint{TxID: id, Index: uint32(i)}, UTXOEntry{
			Value:    out.Value,
			Lock:     out.Lock,
			Height:   height,
			Coinbase: coinbase,
		})
	}

	return spent, nil
}

// DisconnectBlock reverses a connected block: outputs it created are
// removed and the outputs it spent are restored from undo, walking the
// transactions and their inputs in reverse order.
func (o *Overlay) DisconnectBlock(block Block, undo []SpentOutput) error {
	next := len(undo)

	for i := len(block.Trans) - 1; i >= 0; i-- {
		tx := block.Trans[i]
		id := tx.ID()

		for j := range tx.Outputs {
			op := Outpoint{TxID: id, Index: uint32(j)}
			if _, exists := o.Spend(op); !exists {
				return fmt.Errorf("disconnect %s: %w: %s", block.Hash(), ErrMissingOutput, op)
			}
		}

		if tx.IsCoinbase() {
			continue
		}

		for k := len(tx.Inputs) - 1; k >= 0; k-- {
			next--
			if next < 0 {
				return fmt.Errorf("disconnect %s: undo data is short", block.Hash())
			}

			so := undo[next]
			if so.Outpoint != tx.Inputs[k].PrevOut {
				return fmt.Errorf("disconnect %s: undo data out of order at %s", block.Hash(), so.Outpoint)
			}

			o.Add(so.Outpoint, so.Entry)
		}
	}

	if next != 0 {
		return fmt.Errorf("disconnect %s: %d unused undo entries", block.Hash(), next)
	}

	return nil
}
