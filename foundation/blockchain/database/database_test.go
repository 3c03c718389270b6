package database_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/btpc/node/foundation/blockchain/database"
	"github.com/btpc/node/foundation/blockchain/signature"
	"github.com/btpc/node/foundation/blockchain/storage"
	"github.com/btpc/node/foundation/blockchain/storage/memory"
	"github.com/stretchr/testify/require"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func testKey(t testing.TB, b byte) signature.PrivateKey {
	t.Helper()

	key, err := signature.DeriveKey(signature.MLDSA65, bytes.Repeat([]byte{b}, 32))
	require.NoError(t, err)

	return key
}

func testLock(t testing.TB, key signature.PrivateKey) database.LockCondition {
	t.Helper()

	lock, err := database.LockTo(key)
	require.NoError(t, err)

	return lock
}

func hashOf(b byte) signature.Hash {
	var h signature.Hash
	h[0] = b
	return h
}

// =============================================================================

func TestEncoding(t *testing.T) {
	key := testKey(t, 1)
	lock := testLock(t, key)

	tx := database.Tx{
		Version: 1,
		Inputs: []database.TxIn{
			{PrevOut: database.Outpoint{TxID: hashOf(9), Index: 2}, Sequence: 7},
		},
		Outputs: []database.TxOut{
			{Value: 500, Lock: lock},
			{Value: 250, Lock: lock},
		},
		LockTime: 11,
		ForkID:   2,
	}
	require.NoError(t, tx.SignInput(0, key))

	coinbase := database.NewCoinbase(3, []byte("extra"), []database.TxOut{{Value: 50, Lock: lock}}, 2)

	block := database.Block{
		Header: database.BlockHeader{
			Version:       1,
			PrevBlockHash: hashOf(4),
			TimeStamp:     1_700_000_000,
			Bits:          0x407fffff,
			Nonce:         42,
		},
		Trans: []database.Tx{coinbase, tx},
	}

	t.Log("Given the need to encode and decode chain data.")
	{
		t.Logf("\tTest 0:\tWhen handling a signed transaction.")
		{
			got, err := database.DecodeTx(database.EncodeTx(tx))
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to decode the transaction: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to decode the transaction.", success)

			if got.ID() != tx.ID() {
				t.Fatalf("\t%s\tTest 0:\tShould keep the same id.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould keep the same id.", success)
			require.Equal(t, tx, got)
		}

		t.Logf("\tTest 1:\tWhen handling a block.")
		{
			require.Len(t, database.EncodeHeader(block.Header), database.HeaderSize)

			got, err := database.DecodeBlock(database.EncodeBlock(block))
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to decode the block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould be able to decode the block.", success)

			if got.Hash() != block.Hash() {
				t.Fatalf("\t%s\tTest 1:\tShould keep the same hash.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould keep the same hash.", success)

			height, ok := got.Trans[0].CoinbaseHeight()
			require.True(t, ok)
			require.Equal(t, uint64(3), height)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	lock := testLock(t, testKey(t, 1))
	tx := database.Tx{
		Version: 1,
		Inputs:  []database.TxIn{{PrevOut: database.Outpoint{TxID: hashOf(1)}}},
		Outputs: []database.TxOut{{Value: 1, Lock: lock}},
	}
	good := database.EncodeTx(tx)

	// Input count encoded with a redundant continuation byte: 0x81 0x00 is 1.
	overlong := append([]byte{}, good[:4]...)
	overlong = append(overlong, 0x81, 0x00)
	overlong = append(overlong, good[5:]...)

	// An input count far larger than the bytes that follow.
	huge := binary.LittleEndian.AppendUint32(nil, 1)
	huge = binary.AppendUvarint(huge, 1<<40)

	tt := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "truncated", data: good[:len(good)-1]},
		{name: "trailing", data: append(append([]byte{}, good...), 0)},
		{name: "overlong-varint", data: overlong},
		{name: "huge-count", data: huge},
	}

	t.Log("Given the need to reject malformed transaction encodings.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen handling %s input.", testID, tst.name)
			{
				f := func(t *testing.T) {
					_, err := database.DecodeTx(tst.data)
					if !errors.Is(err, database.ErrMalformed) {
						t.Fatalf("\t%s\tTest %d:\tShould fail with ErrMalformed: %v", failed, testID, err)
					}
					t.Logf("\t%s\tTest %d:\tShould fail with ErrMalformed.", success, testID)
				}

				t.Run(tst.name, f)
			}
		}
	}
}

func TestSigHashIgnoresProofs(t *testing.T) {
	key := testKey(t, 1)
	tx := database.Tx{
		Version: 1,
		Inputs: []database.TxIn{
			{PrevOut: database.Outpoint{TxID: hashOf(1)}},
			{PrevOut: database.Outpoint{TxID: hashOf(2)}},
		},
		Outputs: []database.TxOut{{Value: 1, Lock: testLock(t, key)}},
		ForkID:  2,
	}

	before := tx.SigHash(0)
	require.NoError(t, tx.SignInput(1, key))
	require.Equal(t, before, tx.SigHash(0))
	require.NotEqual(t, tx.SigHash(0), tx.SigHash(1))

	other := tx
	other.ForkID = 0
	require.NotEqual(t, tx.SigHash(0), other.SigHash(0))
}

// =============================================================================

func TestOverlay(t *testing.T) {
	lock := testLock(t, testKey(t, 1))

	base := database.NewUTXOSet()
	opA := database.Outpoint{TxID: hashOf(1)}
	opB := database.Outpoint{TxID: hashOf(2)}
	base.Load(opA, database.UTXOEntry{Value: 10, Lock: lock, Height: 1})

	t.Log("Given the need to stage ledger changes.")
	{
		t.Logf("\tTest 0:\tWhen spending and adding through an overlay.")
		{
			o := database.NewOverlay(base)

			if _, ok := o.Spend(opA); !ok {
				t.Fatalf("\t%s\tTest 0:\tShould be able to spend a base output.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to spend a base output.", success)

			if _, ok := o.FetchUTXO(opA); ok {
				t.Fatalf("\t%s\tTest 0:\tShould hide the spent output.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould hide the spent output.", success)

			if _, ok := base.FetchUTXO(opA); !ok {
				t.Fatalf("\t%s\tTest 0:\tShould leave the base untouched.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould leave the base untouched.", success)

			if _, ok := o.Spend(opA); ok {
				t.Fatalf("\t%s\tTest 0:\tShould not spend the same output twice.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould not spend the same output twice.", success)

			o.Add(opB, database.UTXOEntry{Value: 7, Lock: lock, Height: 2})
			_, ok := o.Spend(opB)
			require.True(t, ok)

			added, spent := o.Changes()
			require.Equal(t, 0, added, "an output created and spent in the overlay leaves nothing")
			require.Equal(t, 1, spent)

			base.Commit(o)
			require.Equal(t, 0, base.Count())
		}
	}
}

func TestApplyAndDisconnect(t *testing.T) {
	key := testKey(t, 1)
	lock := testLock(t, key)

	fund := database.NewCoinbase(1, nil, []database.TxOut{{Value: 100, Lock: lock}, {Value: 40, Lock: lock}}, 2)

	set := database.NewUTXOSet()
	o := database.NewOverlay(set)
	_, err := o.ApplyTx(fund, 1)
	require.NoError(t, err)
	set.Commit(o)
	require.Equal(t, 2, set.Count())

	before := set.Snapshot()

	spend := database.Tx{
		Version: 1,
		Inputs: []database.TxIn{
			{PrevOut: database.Outpoint{TxID: fund.ID(), Index: 1}},
			{PrevOut: database.Outpoint{TxID: fund.ID(), Index: 0}},
		},
		Outputs: []database.TxOut{{Value: 130, Lock: lock}},
		ForkID:  2,
	}
	chained := database.Tx{
		Version: 1,
		Inputs:  []database.TxIn{{PrevOut: database.Outpoint{TxID: spend.ID(), Index: 0}}},
		Outputs: []database.TxOut{{Value: 120, Lock: lock}},
		ForkID:  2,
	}

	block := database.Block{
		Trans: []database.Tx{
			database.NewCoinbase(2, nil, []database.TxOut{{Value: 60, Lock: lock}}, 2),
			spend,
			chained,
		},
	}

	t.Log("Given the need to roll back a connected block.")
	{
		t.Logf("\tTest 0:\tWhen connecting and then disconnecting a block.")
		{
			o := database.NewOverlay(set)

			var undo []database.SpentOutput
			for _, tx := range block.Trans {
				spent, err := o.ApplyTx(tx, 2)
				if err != nil {
					t.Fatalf("\t%s\tTest 0:\tShould be able to apply the transactions: %v", failed, err)
				}
				undo = append(undo, spent...)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to apply the transactions.", success)

			require.Len(t, undo, 3)
			set.Commit(o)
			require.Equal(t, 2, set.Count())

			o = database.NewOverlay(set)
			if err := o.DisconnectBlock(block, undo); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to disconnect the block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to disconnect the block.", success)

			set.Commit(o)
			if !equalSets(before, set.Snapshot()) {
				t.Fatalf("\t%s\tTest 0:\tShould restore the ledger exactly.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould restore the ledger exactly.", success)
		}

		t.Logf("\tTest 1:\tWhen the undo data does not match the block.")
		{
			o := database.NewOverlay(set)
			err := o.DisconnectBlock(database.Block{Trans: []database.Tx{fund}}, []database.SpentOutput{{}})
			if err == nil {
				t.Fatalf("\t%s\tTest 1:\tShould reject unused undo entries.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould reject unused undo entries.", success)
		}
	}
}

func equalSets(a, b map[database.Outpoint]database.UTXOEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for op, entry := range a {
		if other, ok := b[op]; !ok || other != entry {
			return false
		}
	}
	return true
}

// =============================================================================

func TestStore(t *testing.T) {
	kv := memory.New()
	store := database.NewStore(kv)

	lock := testLock(t, testKey(t, 1))
	block := database.Block{
		Header: database.BlockHeader{Version: 1, Bits: 0x407fffff, TimeStamp: 10},
		Trans:  []database.Tx{database.NewCoinbase(0, nil, []database.TxOut{{Value: 5, Lock: lock}}, 2)},
	}
	hash := block.Hash()

	_, found, err := store.Tip()
	require.NoError(t, err)
	require.False(t, found)

	set := database.NewUTXOSet()
	o := database.NewOverlay(set)
	spent, err := o.ApplyTx(block.Trans[0], 0)
	require.NoError(t, err)

	b := storage.NewBatch()
	database.PutBlock(b, block)
	database.PutIndex(b, hash, database.IndexRecord{Header: block.Header, Height: 0, Status: database.StatusConnected})
	database.PutUndo(b, hash, spent)
	database.PutTip(b, hash)
	o.WriteTo(b)

	t.Log("Given the need to persist chain state.")
	{
		t.Logf("\tTest 0:\tWhen writing a connected block.")
		{
			if err := store.PutBatch(b); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to write the batch: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to write the batch.", success)

			got, err := store.GetBlock(hash)
			require.NoError(t, err)
			require.Equal(t, hash, got.Hash())

			tip, found, err := store.Tip()
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, hash, tip)

			undo, err := store.GetUndo(hash)
			require.NoError(t, err)
			require.Empty(t, undo)

			var records int
			err = store.LoadIndex(func(h signature.Hash, rec database.IndexRecord) error {
				records++
				require.Equal(t, hash, h)
				require.Equal(t, database.StatusConnected, rec.Status)
				return nil
			})
			require.NoError(t, err)
			require.Equal(t, 1, records)

			loaded := database.NewUTXOSet()
			require.NoError(t, store.LoadUTXOs(loaded))
			if loaded.Count() != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould load the unspent outputs back: %d", failed, loaded.Count())
			}
			t.Logf("\t%s\tTest 0:\tShould load the unspent outputs back.", success)
		}

		t.Logf("\tTest 1:\tWhen reading something that is not there.")
		{
			_, err := store.GetBlock(hashOf(99))
			if !errors.Is(err, storage.ErrNotFound) {
				t.Fatalf("\t%s\tTest 1:\tShould report ErrNotFound: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould report ErrNotFound.", success)
		}
	}
}
