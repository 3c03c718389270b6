package nameservice_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/btpc/node/foundation/blockchain/signature"
	"github.com/btpc/node/foundation/nameservice"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func TestNameService(t *testing.T) {
	root := t.TempDir()

	key, err := signature.DeriveKey(signature.MLDSA65, bytes.Repeat([]byte{4}, 32))
	require.NoError(t, err)
	require.NoError(t, signature.SaveKey(filepath.Join(root, "miner1.key"), key))

	keyHash, err := key.LockHash()
	require.NoError(t, err)

	t.Log("Given the need to name key hashes.")
	{
		ns, err := nameservice.New(root)
		require.NoError(t, err)

		if got := ns.Lookup(keyHash); got != "miner1" {
			t.Fatalf("\t%s\tShould name a known key hash: got %s", failed, got)
		}
		t.Logf("\t%s\tShould name a known key hash.", success)

		var other [32]byte
		require.Equal(t, hexutil.Encode(other[:]), ns.Lookup(other))
		t.Logf("\t%s\tShould fall back to hex for an unknown key hash.", success)

		require.Len(t, ns.Copy(), 1)
	}

	t.Log("Given a folder that does not exist.")
	{
		ns, err := nameservice.New(filepath.Join(root, "missing"))
		require.NoError(t, err)
		require.Empty(t, ns.Copy())
		t.Logf("\t%s\tShould start with no names.", success)
	}
}
