// Package nameservice reads a folder of key files and creates a name
// service lookup for the key hashes they lock to.
package nameservice

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"path"
	"path/filepath"
	"strings"

	"github.com/btpc/node/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// keyExtension is the extension of the key files the service picks up.
const keyExtension = ".key"

// NameService maintains a map of key hashes for name lookup.
type NameService struct {
	names map[[32]byte]string
}

// New constructs a name service with the keys found under root. A missing
// root yields an empty service.
func New(root string) (*NameService, error) {
	ns := NameService{
		names: make(map[[32]byte]string),
	}

	fn := func(fileName string, info fs.FileInfo, err error) error {
		if err != nil {
			if fileName == root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return fmt.Errorf("walkdir failure: %w", err)
		}

		if path.Ext(fileName) != keyExtension {
			return nil
		}

		key, err := signature.LoadKey(fileName)
		if err != nil {
			return fmt.Errorf("loading %s: %w", fileName, err)
		}

		keyHash, err := key.LockHash()
		if err != nil {
			return err
		}

		ns.names[keyHash] = strings.TrimSuffix(path.Base(fileName), keyExtension)

		return nil
	}

	if err := filepath.Walk(root, fn); err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	return &ns, nil
}

// Lookup returns the name for the key hash, or the key hash in hex when no
// name is known.
func (ns *NameService) Lookup(keyHash [32]byte) string {
	name, exists := ns.names[keyHash]
	if !exists {
		return hexutil.Encode(keyHash[:])
	}
	return name
}

// Copy returns a copy of the map of key hashes and names.
func (ns *NameService) Copy() map[[32]byte]string {
	return maps.Clone(ns.names)
}
