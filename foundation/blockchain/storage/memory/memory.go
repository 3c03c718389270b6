// Package memory implements the storage.KV contract with a map. It is used
// by tests and by nodes that don't need to persist anything.
package memory

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/btpc/node/foundation/blockchain/storage"
)

// Memory represents the in memory implementation of storage.KV.
type Memory struct {
	mu       sync.RWMutex
	data     map[string][]byte
	writeErr error
	closed   bool
}

// New constructs an empty Memory value for use.
func New() *Memory {
	return &Memory{
		data: make(map[string][]byte),
	}
}

// Get returns the value stored under key.
func (m *Memory) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, exists := m.data[string(key)]
	if !exists {
		return nil, storage.ErrNotFound
	}

	return bytes.Clone(v), nil
}

// Has reports whether key exists.
func (m *Memory) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.data[string(key)]
	return exists, nil
}

// Write applies the batch under a single lock so readers never observe a
// partial batch.
func (m *Memory) Write(batch *storage.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("storage is closed")
	}

	if m.writeErr != nil {
		return m.writeErr
	}

	for _, mut := range batch.Mutations() {
		switch mut.Op {
		case storage.OpPut:
			m.data[string(mut.Key)] = bytes.Clone(mut.Value)
		case storage.OpDelete:
			delete(m.data, string(mut.Key))
		}
	}

	return nil
}

// ForEach calls fn for every key with the prefix in ascending key order.
// The callback works on a snapshot so it may not write to the store.
func (m *Memory) ForEach(prefix []byte, fn func(key []byte, value []byte) error) error {
	type kv struct {
		key   string
		value []byte
	}

	m.mu.RLock()
	var items []kv
	for k, v := range m.data {
		if strings.HasPrefix(k, string(prefix)) {
			items = append(items, kv{key: k, value: bytes.Clone(v)})
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(items, func(a, b kv) int {
		return strings.Compare(a.key, b.key)
	})

	for _, item := range items {
		if err := fn([]byte(item.key), item.value); err != nil {
			return err
		}
	}

	return nil
}

// Close marks the store closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// SetWriteError makes every following Write fail with err until it is
// cleared with nil. It exists to exercise storage fault handling.
func (m *Memory) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeErr = err
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.data)
}
