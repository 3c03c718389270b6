package database

import (
	"errors"
	"fmt"

	"github.com/btpc/node/foundation/blockchain/signature"
	"github.com/btpc/node/foundation/blockchain/storage"
)

// Key prefixes for the records the node keeps in storage.
const (
	prefixBlock = 'b'
	prefixIndex = 'i'
	prefixUTXO  = 'u'
	prefixUndo  = 'r'
)

var tipKey = []byte("m:tip")

// BlockStatus is the position of a stored block relative to the active chain.
type BlockStatus uint8

// Set of block statuses.
const (
	StatusKnown     BlockStatus = iota + 1 // Stored and valid as far as checked, not on the active chain.
	StatusConnected                        // On the active chain.
	StatusInvalid                          // Failed validation, it and its descendants are never connected.
)

// String implements the fmt.Stringer interface for logging.
func (s BlockStatus) String() string {
	switch s {
	case StatusKnown:
		return "known"
	case StatusConnected:
		return "connected"
	case StatusInvalid:
		return "invalid"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// IndexRecord is what the block index keeps for every stored block.
type IndexRecord struct {
	Header BlockHeader
	Height uint64
	Status BlockStatus
}

// =============================================================================

// Store provides typed access to the blocks, undo data, block index and the
// unspent outputs kept in a key-value engine.
type Store struct {
	kv storage.KV
}

// NewStore constructs a store on top of the engine.
func NewStore(kv storage.KV) *Store {
	return &Store{kv: kv}
}

// Close closes the underlying engine.
func (s *Store) Close() error {
	return s.kv.Close()
}

// PutBatch applies the batch atomically.
func (s *Store) PutBatch(b *storage.Batch) error {
	return s.kv.Write(b)
}

// HasBlock reports whether the block body is stored.
func (s *Store) HasBlock(hash signature.Hash) (bool, error) {
	return s.kv.Has(blockKey(hash))
}

// GetBlock reads a block by hash.
func (s *Store) GetBlock(hash signature.Hash) (Block, error) {
	data, err := s.kv.Get(blockKey(hash))
	if err != nil {
		return Block{}, fmt.Errorf("block %s: %w", hash, err)
	}

	block, err := DecodeBlock(data)
	if err != nil {
		return Block{}, fmt.Errorf("block %s: %w", hash, err)
	}

	return block, nil
}

// GetUndo reads the outputs spent by a connected block.
func (s *Store) GetUndo(hash signature.Hash) ([]SpentOutput, error) {
	data, err := s.kv.Get(undoKey(hash))
	if err != nil {
		return nil, fmt.Errorf("undo %s: %w", hash, err)
	}

	undo, err := DecodeUndo(data)
	if err != nil {
		return nil, fmt.Errorf("undo %s: %w", hash, err)
	}

	return undo, nil
}

// GetUTXO reads a stored unspent output.
func (s *Store) GetUTXO(op Outpoint) (UTXOEntry, error) {
	data, err := s.kv.Get(utxoKey(op))
	if err != nil {
		return UTXOEntry{}, fmt.Errorf("utxo %s: %w", op, err)
	}

	entry, err := DecodeUTXOEntry(data)
	if err != nil {
		return UTXOEntry{}, fmt.Errorf("utxo %s: %w", op, err)
	}

	return entry, nil
}

// Tip returns the hash of the active tip. The second value is false when
// nothing was committed yet.
func (s *Store) Tip() (signature.Hash, bool, error) {
	data, err := s.kv.Get(tipKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return signature.Hash{}, false, nil
		}
		return signature.Hash{}, false, err
	}

	if len(data) != signature.HashSize {
		return signature.Hash{}, false, fmt.Errorf("tip: %w: %d bytes", ErrMalformed, len(data))
	}

	var hash signature.Hash
	copy(hash[:], data)

	return hash, true, nil
}

// LoadIndex calls fn for every block index record in storage.
func (s *Store) LoadIndex(fn func(hash signature.Hash, rec IndexRecord) error) error {
	return s.kv.ForEach([]byte{prefixIndex}, func(key []byte, value []byte) error {
		if len(key) != 1+signature.HashSize {
			return fmt.Errorf("index key: %w: %d bytes", ErrMalformed, len(key))
		}

		var hash signature.Hash
		copy(hash[:], key[1:])

		rec, err := decodeIndexRecord(value)
		if err != nil {
			return fmt.Errorf("index %s: %w", hash, err)
		}

		return fn(hash, rec)
	})
}

// LoadUTXOs reads every stored unspent output into the set.
func (s *Store) LoadUTXOs(set *UTXOSet) error {
	return s.kv.ForEach([]byte{prefixUTXO}, func(key []byte, value []byte) error {
		op, err := DecodeOutpoint(key[1:])
		if err != nil {
			return fmt.Errorf("utxo key: %w", err)
		}

		entry, err := DecodeUTXOEntry(value)
		if err != nil {
			return fmt.Errorf("utxo %s: %w", op, err)
		}

		set.Load(op, entry)
		return nil
	})
}

// =============================================================================

// PutBlock records a write of the block body.
func PutBlock(b *storage.Batch, block Block) {
	b.Put(blockKey(block.Hash()), EncodeBlock(block))
}

// PutIndex records a write of the block index record.
func PutIndex(b *storage.Batch, hash signature.Hash, rec IndexRecord) {
	b.Put(indexKey(hash), encodeIndexRecord(rec))
}

// PutUndo records a write of the undo data of a connected block.
func PutUndo(b *storage.Batch, hash signature.Hash, undo []SpentOutput) {
	b.Put(undoKey(hash), EncodeUndo(undo))
}

// DeleteUndo records the removal of undo data once a block is disconnected.
func DeleteUndo(b *storage.Batch, hash signature.Hash) {
	b.Delete(undoKey(hash))
}

// PutTip records a write of the active tip pointer.
func PutTip(b *storage.Batch, hash signature.Hash) {
	b.Put(tipKey, hash[:])
}

// WriteTo records the staged ledger changes of the overlay.
func (o *Overlay) WriteTo(b *storage.Batch) {
	for op := range o.spent {
		b.Delete(utxoKey(op))
	}

	for op, entry := range o.added {
		b.Put(utxoKey(op), EncodeUTXOEntry(entry))
	}
}

// =============================================================================

func blockKey(hash signature.Hash) []byte {
	return append([]byte{prefixBlock}, hash[:]...)
}

func indexKey(hash signature.Hash) []byte {
	return append([]byte{prefixIndex}, hash[:]...)
}

func undoKey(hash signature.Hash) []byte {
	return append([]byte{prefixUndo}, hash[:]...)
}

func utxoKey(op Outpoint) []byte {
	return append([]byte{prefixUTXO}, EncodeOutpoint(op)...)
}

func encodeIndexRecord(rec IndexRecord) []byte {
	e := encoder{buf: make([]byte, 0, HeaderSize+8+1)}
	e.header(rec.Header)
	e.u64(rec.Height)
	e.u8(uint8(rec.Status))
	return e.buf
}

func decodeIndexRecord(data []byte) (IndexRecord, error) {
	d := decoder{buf: data}

	rec := IndexRecord{
		Header: d.header(),
		Height: d.u64(),
		Status: BlockStatus(d.u8()),
	}

	if err := d.finish(); err != nil {
		return IndexRecord{}, err
	}

	switch rec.Status {
	case StatusKnown, StatusConnected, StatusInvalid:
	default:
		return IndexRecord{}, fmt.Errorf("%w: bad status %d", ErrMalformed, rec.Status)
	}

	return rec, nil
}
