// Package ldb implements the storage.KV contract on top of leveldb.
package ldb

import (
	"github.com/btpc/node/foundation/blockchain/storage"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	ldbErrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Options returns the leveldb options used to open a database. It's defined
// as a variable for the sake of testing.
var Options = func() *opt.Options {
	return &opt.Options{
		Compression:            opt.NoCompression,
		BlockCacheCapacity:     64 * opt.MiB,
		WriteBuffer:            32 * opt.MiB,
		DisableSeeksCompaction: true,
	}
}

// LevelDB defines a thin wrapper around leveldb.
type LevelDB struct {
	ldb *leveldb.DB
}

// New opens a leveldb instance defined by the given path. If the database
// is corrupted a recovery is attempted and reported through evHandler.
func New(path string, evHandler func(v string, args ...any)) (*LevelDB, error) {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	// Open leveldb. If it doesn't exist, create it.
	db, err := leveldb.OpenFile(path, Options())

	// If the database is corrupted, attempt to recover.
	if ldbErrors.IsCorrupted(err) {
		ev("ldb: New: WARNING: corruption detected for path %s: %s", path, err)

		db, err = leveldb.RecoverFile(path, Options())
		if err != nil {
			return nil, errors.Wrapf(err, "recovering %s", path)
		}

		ev("ldb: New: recovered from corruption for path %s", path)
	}

	// If the database cannot be opened for any other
	// reason, return the error as-is.
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}

	return &LevelDB{ldb: db}, nil
}

// Close closes the leveldb instance.
func (db *LevelDB) Close() error {
	return db.ldb.Close()
}

// Get gets the value for the given key. It returns storage.ErrNotFound if
// the given key does not exist.
func (db *LevelDB) Get(key []byte) ([]byte, error) {
	data, err := db.ldb.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, errors.WithStack(err)
	}

	return data, nil
}

// Has returns true if the database does contains the given key.
func (db *LevelDB) Has(key []byte) (bool, error) {
	exists, err := db.ldb.Has(key, nil)
	if err != nil {
		return false, errors.WithStack(err)
	}

	return exists, nil
}

// Write applies the batch atomically and syncs it to disk.
func (db *LevelDB) Write(batch *storage.Batch) error {
	var b leveldb.Batch

	for _, mut := range batch.Mutations() {
		switch mut.Op {
		case storage.OpPut:
			b.Put(mut.Key, mut.Value)
		case storage.OpDelete:
			b.Delete(mut.Key)
		}
	}

	if err := db.ldb.Write(&b, &opt.WriteOptions{Sync: true}); err != nil {
		return errors.Wrap(err, "writing batch")
	}

	return nil
}

// ForEach calls fn for every key with the prefix in ascending key order.
func (db *LevelDB) ForEach(prefix []byte, fn func(key []byte, value []byte) error) error {
	it := db.ldb.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	for it.Next() {

		// The iterator reuses its buffers between calls.
		key := append([]byte(nil), it.Key()...)
		value := append([]byte(nil), it.Value()...)

		if err := fn(key, value); err != nil {
			return err
		}
	}

	return errors.WithStack(it.Error())
}
