// Package mempool maintains the mempool for the blockchain.
package mempool

import (
	"cmp"
	"iter"
	"maps"
	"math"
	"math/bits"
	"slices"
	"sync"
	"time"

	"github.com/btpc/node/foundation/blockchain/consensus"
	"github.com/btpc/node/foundation/blockchain/database"
	"github.com/btpc/node/foundation/blockchain/mempool/selector"
	"github.com/btpc/node/foundation/blockchain/signature"
	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
)

// Config represents the limits the pool enforces.
type Config struct {
	MaxCount      int           // Most transactions held at once.
	MaxBytes      int           // Most encoded bytes held at once.
	MaxTxSize     int           // Largest transaction accepted.
	MinFeePerByte uint64        // Relay fee floor.
	MaxAge        time.Duration // Age after which RemoveExpired drops a transaction.
	RejectTTL     time.Duration // How long a rejected id is remembered.
	Strategy      string        // Selector strategy for block assembly.
}

// DefaultConfig returns the limits used when nothing else is configured.
func DefaultConfig() Config {
	return Config{
		MaxCount:      5000,
		MaxBytes:      300_000_000,
		MaxTxSize:     100_000,
		MinFeePerByte: 1,
		MaxAge:        72 * time.Hour,
		RejectTTL:     10 * time.Minute,
		Strategy:      selector.StrategyFeeRate,
	}
}

// Entry is a transaction held by the pool.
type Entry struct {
	Tx      database.Tx
	TxID    signature.Hash
	Fee     uint64
	Size    int
	AddedAt time.Time
	seq     uint64
}

// Stats is a summary of the pool's content.
type Stats struct {
	Count         int
	Bytes         int
	TotalFees     uint64
	AvgFeePerByte uint64
	Evicted       uint64 // Entries dropped for capacity since startup.
	Expired       uint64 // Entries dropped for age since startup.
}

// Mempool represents a cache of transactions waiting to be mined. No two
// entries spend the same outpoint.
type Mempool struct {
	cfg      Config
	mu       sync.RWMutex
	pool     map[signature.Hash]*Entry
	claims   map[database.Outpoint]signature.Hash
	bytes    int
	seq      uint64
	evicted  uint64
	expired  uint64
	selectFn selector.Func
	rejects  *ttlcache.Cache[signature.Hash, string]
	now      func() time.Time
	ev       func(v string, args ...any)
}

// WithClock replaces the clock used to stamp new entries.
func WithClock(now func() time.Time) func(mp *Mempool) {
	return func(mp *Mempool) {
		mp.now = now
	}
}

// WithEvents sets the handler the pool reports its decisions to.
func WithEvents(ev func(v string, args ...any)) func(mp *Mempool) {
	return func(mp *Mempool) {
		mp.ev = ev
	}
}

// New constructs a new mempool with the configured select strategy.
func New(cfg Config, options ...func(mp *Mempool)) (*Mempool, error) {
	selectFn, err := selector.Retrieve(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	if cfg.MaxCount <= 0 || cfg.MaxBytes <= 0 || cfg.MaxTxSize <= 0 {
		return nil, errors.New("mempool limits must be positive")
	}

	ttl := cfg.RejectTTL
	if ttl <= 0 {
		ttl = DefaultConfig().RejectTTL
	}

	mp := Mempool{
		cfg:      cfg,
		pool:     make(map[signature.Hash]*Entry),
		claims:   make(map[database.Outpoint]signature.Hash),
		selectFn: selectFn,
		rejects: ttlcache.New(
			ttlcache.WithTTL[signature.Hash, string](ttl),
			ttlcache.WithCapacity[signature.Hash, string](uint64(cfg.MaxCount)),
			ttlcache.WithDisableTouchOnHit[signature.Hash, string](),
		),
		now: time.Now,
		ev:  func(v string, args ...any) {},
	}

	for _, option := range options {
		option(&mp)
	}

	return &mp, nil
}

// Count returns the current number of transaction in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Bytes returns the encoded size of all transactions in the pool.
func (mp *Mempool) Bytes() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return mp.bytes
}

// Get returns the entry for the transaction id.
func (mp *Mempool) Get(txID signature.Hash) (Entry, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	entry, exists := mp.pool[txID]
	if !exists {
		return Entry{}, false
	}

	return *entry, true
}

// Stats returns a summary of the pool.
func (mp *Mempool) Stats() Stats {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	// The total saturates at math.MaxUint64.
	var fees uint64
	for _, entry := range mp.pool {
		sum, carry := bits.Add64(fees, entry.Fee, 0)
		if carry != 0 {
			fees = math.MaxUint64
			break
		}
		fees = sum
	}

	stats := Stats{
		Count:     len(mp.pool),
		Bytes:     mp.bytes,
		TotalFees: fees,
		Evicted:   mp.evicted,
		Expired:   mp.expired,
	}
	if mp.bytes > 0 {
		stats.AvgFeePerByte = fees / uint64(mp.bytes)
	}

	return stats
}

// =============================================================================

// Add admits a transaction whose fee was computed by validation against
// the current ledger. When the pool is at a ceiling, the least dense
// entries are evicted to make room, provided each of them pays strictly
// less per byte than the candidate. The evicted entries are returned.
func (mp *Mempool) Add(tx database.Tx, fee uint64) ([]Entry, error) {
	if tx.IsCoinbase() {
		return nil, errors.Wrap(consensus.ErrUnexpectedCoinbase, "mempool")
	}

	txID := tx.ID()
	size := tx.Size()

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.pool[txID]; exists {
		return nil, errors.Wrapf(consensus.ErrDuplicateTransaction, "tx %s", txID)
	}

	if size > mp.cfg.MaxTxSize {
		return nil, errors.Wrapf(consensus.ErrTransactionTooLarge, "size %d, max %d", size, mp.cfg.MaxTxSize)
	}

	hi, minFee := bits.Mul64(mp.cfg.MinFeePerByte, uint64(size))
	if hi != 0 || fee < minFee {
		return nil, errors.Wrapf(consensus.ErrInsufficientFee, "fee %d for %d bytes, floor %d per byte", fee, size, mp.cfg.MinFeePerByte)
	}

	for i, in := range tx.Inputs {
		if other, claimed := mp.claims[in.PrevOut]; claimed {
			return nil, errors.Wrapf(consensus.ErrDoubleSpend, "input %d spends %s, claimed by %s", i, in.PrevOut, other)
		}
	}

	victims, err := mp.victims(fee, size)
	if err != nil {
		return nil, err
	}

	evicted := make([]Entry, 0, len(victims))
	for _, victim := range victims {
		evicted = append(evicted, *victim)
		mp.remove(victim)
		mp.evicted++
		mp.ev("mempool: Add: evicted: tx[%s] fee[%d] size[%d]", victim.TxID, victim.Fee, victim.Size)
	}

	mp.seq++
	entry := Entry{
		Tx:      tx,
		TxID:    txID,
		Fee:     fee,
		Size:    size,
		AddedAt: mp.now(),
		seq:     mp.seq,
	}
	mp.insert(&entry)

	mp.ev("mempool: Add: tx[%s] fee[%d] size[%d] count[%d]", txID, fee, size, len(mp.pool))

	return evicted, nil
}

// victims returns the entries that must leave for a candidate of the fee
// and size to fit, least dense first and oldest first among equals.
func (mp *Mempool) victims(fee uint64, size int) ([]*Entry, error) {
	if size > mp.cfg.MaxBytes {
		return nil, errors.Wrapf(consensus.ErrSizeLimitExceeded, "size %d, pool max %d", size, mp.cfg.MaxBytes)
	}

	count, bytes := len(mp.pool)+1, mp.bytes+size
	if count <= mp.cfg.MaxCount && bytes <= mp.cfg.MaxBytes {
		return nil, nil
	}

	entries := slices.SortedFunc(maps.Values(mp.pool), func(a, b *Entry) int {
		if c := selector.CompareDensity(a.Fee, a.Size, b.Fee, b.Size); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	var victims []*Entry
	for _, entry := range entries {
		if count <= mp.cfg.MaxCount && bytes <= mp.cfg.MaxBytes {
			break
		}

		if selector.CompareDensity(entry.Fee, entry.Size, fee, size) >= 0 {
			break
		}

		victims = append(victims, entry)
		count--
		bytes -= entry.Size
	}

	switch {
	case count > mp.cfg.MaxCount:
		return nil, errors.Wrapf(consensus.ErrMempoolFull, "%d transactions, nothing cheaper to evict", mp.cfg.MaxCount)
	case bytes > mp.cfg.MaxBytes:
		return nil, errors.Wrapf(consensus.ErrSizeLimitExceeded, "%d bytes, nothing cheaper to evict", mp.cfg.MaxBytes)
	}

	return victims, nil
}

// Remove drops the transaction from the pool.
func (mp *Mempool) Remove(txID signature.Hash) bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	entry, exists := mp.pool[txID]
	if !exists {
		return false
	}

	mp.remove(entry)

	return true
}

// RemoveExpired drops the transactions older than the configured max age
// and returns them.
func (mp *Mempool) RemoveExpired(now time.Time) []Entry {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	cutoff := now.Add(-mp.cfg.MaxAge)

	var expired []Entry
	for _, entry := range mp.sorted() {
		if entry.AddedAt.Before(cutoff) {
			expired = append(expired, *entry)
			mp.remove(entry)
			mp.expired++
			mp.ev("mempool: RemoveExpired: tx[%s] added[%s]", entry.TxID, entry.AddedAt.Format(time.RFC3339))
		}
	}

	return expired
}

// RemoveConfirmed drops the transactions included in the block and the
// ones spending an outpoint the block spends. It returns the number of
// entries removed.
func (mp *Mempool) RemoveConfirmed(block database.Block) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	var removed int
	for _, tx := range block.Trans {
		if entry, exists := mp.pool[tx.ID()]; exists {
			mp.remove(entry)
			removed++
		}

		if tx.IsCoinbase() {
			continue
		}

		for _, in := range tx.Inputs {
			if txID, claimed := mp.claims[in.PrevOut]; claimed {
				mp.ev("mempool: RemoveConfirmed: conflict: tx[%s] spends[%s]", txID, in.PrevOut)
				mp.remove(mp.pool[txID])
				removed++
			}
		}
	}

	return removed
}

// Revalidate runs check against every entry in admission order and drops
// the ones it rejects. Fees are refreshed from check. It is called after
// the ledger changed, since an entry that was valid once may no longer be.
func (mp *Mempool) Revalidate(check func(tx database.Tx) (uint64, error)) []Entry {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	var dropped []Entry
	for _, entry := range mp.sorted() {
		fee, err := check(entry.Tx)
		if err != nil {
			mp.ev("mempool: Revalidate: dropped: tx[%s]: %s", entry.TxID, err)
			dropped = append(dropped, *entry)
			mp.remove(entry)
			continue
		}
		entry.Fee = fee
	}

	return dropped
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[signature.Hash]*Entry)
	mp.claims = make(map[database.Outpoint]signature.Hash)
	mp.bytes = 0
}

// OrderedForBlock returns the entries in the order the select strategy
// picks them for a block, at most limit of them. Pass -1 for all the
// transactions. The order is fixed when iteration starts and each new
// iteration starts over from the current pool.
func (mp *Mempool) OrderedForBlock(limit int) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		mp.mu.RLock()
		cands := make([]selector.Candidate, 0, len(mp.pool))
		entries := make(map[signature.Hash]Entry, len(mp.pool))
		for txID, entry := range mp.pool {
			cands = append(cands, entry.candidate())
			entries[txID] = *entry
		}
		mp.mu.RUnlock()

		mp.selectFn(cands)

		if limit < 0 || limit > len(cands) {
			limit = len(cands)
		}

		for _, c := range cands[:limit] {
			if !yield(entries[c.TxID]) {
				return
			}
		}
	}
}

// =============================================================================

// Reject remembers a transaction id that failed validation for a reason
// that will not change, so resubmissions are turned away cheaply.
func (mp *Mempool) Reject(txID signature.Hash, reason error) {
	mp.rejects.Set(txID, reason.Error(), ttlcache.DefaultTTL)
}

// RecentlyRejected returns an error when the transaction id was rejected
// within the reject window.
func (mp *Mempool) RecentlyRejected(txID signature.Hash) error {
	item := mp.rejects.Get(txID)
	if item == nil {
		return nil
	}

	return errors.Wrapf(consensus.ErrRecentlyRejected, "tx %s: %s", txID, item.Value())
}

// =============================================================================

func (mp *Mempool) insert(entry *Entry) {
	mp.pool[entry.TxID] = entry
	for _, in := range entry.Tx.Inputs {
		mp.claims[in.PrevOut] = entry.TxID
	}
	mp.bytes += entry.Size
}

func (mp *Mempool) remove(entry *Entry) {
	delete(mp.pool, entry.TxID)
	for _, in := range entry.Tx.Inputs {
		if mp.claims[in.PrevOut] == entry.TxID {
			delete(mp.claims, in.PrevOut)
		}
	}
	mp.bytes -= entry.Size
}

// sorted returns the entries in admission order.
func (mp *Mempool) sorted() []*Entry {
	return slices.SortedFunc(maps.Values(mp.pool), func(a, b *Entry) int {
		return cmp.Compare(a.seq, b.seq)
	})
}

func (e *Entry) candidate() selector.Candidate {
	return selector.Candidate{
		TxID: e.TxID,
		Fee:  e.Fee,
		Size: e.Size,
		Seq:  e.seq,
	}
}
