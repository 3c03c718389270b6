// Package storage defines the key-value contract the node persists its
// blocks and ledger through. The engine behind it is pluggable: the node
// uses leveldb and tests use memory.
package storage

import (
	"bytes"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// KV is the behavior a storage engine must provide. Write must apply every
// mutation of the batch or none of them.
type KV interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Write(batch *Batch) error
	ForEach(prefix []byte, fn func(key []byte, value []byte) error) error
	Close() error
}

// =============================================================================

// Op identifies the kind of mutation.
type Op uint8

// Set of mutation kinds.
const (
	OpPut Op = iota + 1
	OpDelete
)

// Mutation is a single change in a batch.
type Mutation struct {
	Op    Op
	Key   []byte
	Value []byte
}

// Batch is an ordered set of mutations applied atomically by KV.Write.
// Later mutations of the same key win.
type Batch struct {
	mutations []Mutation
}

// NewBatch constructs an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Put records a write of value under key. Both slices are copied.
func (b *Batch) Put(key []byte, value []byte) {
	b.mutations = append(b.mutations, Mutation{
		Op:    OpPut,
		Key:   bytes.Clone(key),
		Value: bytes.Clone(value),
	})
}

// Delete records the removal of key.
func (b *Batch) Delete(key []byte) {
	b.mutations = append(b.mutations, Mutation{
		Op:  OpDelete,
		Key: bytes.Clone(key),
	})
}

// Append adds all the mutations of other to the batch.
func (b *Batch) Append(other *Batch) {
	b.mutations = append(b.mutations, other.mutations...)
}

// Len returns the number of mutations.
func (b *Batch) Len() int {
	return len(b.mutations)
}

// Mutations returns the mutations in the order they were recorded.
func (b *Batch) Mutations() []Mutation {
	return b.mutations
}
