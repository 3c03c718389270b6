package consensus_test

import (
	"bytes"
	"context"
	"errors"
	"maps"
	"math"
	"math/big"
	"testing"

	"github.com/btpc/node/foundation/blockchain/consensus"
	"github.com/btpc/node/foundation/blockchain/database"
	"github.com/btpc/node/foundation/blockchain/genesis"
	"github.com/btpc/node/foundation/blockchain/signature"
	perrors "github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const fundValue = 10_000

type fixture struct {
	params genesis.Params
	key    signature.PrivateKey
	lock   database.LockCondition
	set    *database.UTXOSet
	funds  []database.Outpoint
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	key, err := signature.DeriveKey(signature.MLDSA65, bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	lock, err := database.LockTo(key)
	require.NoError(t, err)

	f := fixture{
		params: genesis.Regtest(),
		key:    key,
		lock:   lock,
		set:    database.NewUTXOSet(),
	}

	for i := range 4 {
		op := database.Outpoint{TxID: hashOf(byte(i + 1)), Index: 0}
		f.set.Load(op, database.UTXOEntry{Value: fundValue, Lock: lock})
		f.funds = append(f.funds, op)
	}

	return &f
}

// spend builds a transaction paying value back to the fixture key from
// the outpoints, signed by the fixture key.
func (f *fixture) spend(t *testing.T, value uint64, ops ...database.Outpoint) database.Tx {
	t.Helper()

	tx := database.Tx{
		Version: 1,
		Outputs: []database.TxOut{{Value: value, Lock: f.lock}},
		ForkID:  f.params.ForkID,
	}
	for _, op := range ops {
		tx.Inputs = append(tx.Inputs, database.TxIn{PrevOut: op, Sequence: math.MaxUint32})
	}

	f.sign(t, &tx, f.key)

	return tx
}

func (f *fixture) sign(t *testing.T, tx *database.Tx, key signature.PrivateKey) {
	t.Helper()

	for i := range tx.Inputs {
		require.NoError(t, tx.SignInput(i, key))
	}
}

func (f *fixture) txContext(height uint64) consensus.TxContext {
	return consensus.TxContext{
		Params:         f.params,
		Height:         height,
		MedianTimePast: 1_700_000_000,
	}
}

// fundedSet returns a ledger holding the fixture funds, loaded in the
// order given.
func (f *fixture) fundedSet(order []database.Outpoint) *database.UTXOSet {
	set := database.NewUTXOSet()
	for _, op := range order {
		set.Load(op, database.UTXOEntry{Value: fundValue, Lock: f.lock})
	}
	return set
}

// pay spends one fund outpoint into value, split over two outputs when
// asked.
func (f *fixture) pay(t *testing.T, op database.Outpoint, value uint64, split bool) database.Tx {
	t.Helper()

	outputs := []database.TxOut{{Value: value, Lock: f.lock}}
	if split && value > 1 {
		outputs = []database.TxOut{{Value: value / 2, Lock: f.lock}, {Value: value - value/2, Lock: f.lock}}
	}

	tx := database.Tx{
		Version: 1,
		Inputs:  []database.TxIn{{PrevOut: op, Sequence: math.MaxUint32}},
		Outputs: outputs,
		ForkID:  f.params.ForkID,
	}
	f.sign(t, &tx, f.key)

	return tx
}

func hashOf(b byte) signature.Hash {
	var h signature.Hash
	h[0] = b
	return h
}

// =============================================================================

func TestSubsidy(t *testing.T) {
	p := genesis.Main()

	// reference computes the reward with arbitrary precision arithmetic.
	reference := func(height uint64) uint64 {
		if height >= p.DecayBlocks {
			return p.TailEmission
		}
		dec := new(big.Int).SetUint64(p.InitialReward - p.TailEmission)
		dec.Mul(dec, new(big.Int).SetUint64(height))
		dec.Quo(dec, new(big.Int).SetUint64(p.DecayBlocks))
		return p.InitialReward - dec.Uint64()
	}

	t.Log("Given the need to compute the block reward the same way everywhere.")
	{
		t.Logf("\tTest 0:\tWhen handling the ends of the schedule.")
		{
			if got := consensus.Subsidy(0, p); got != p.InitialReward {
				t.Fatalf("\t%s\tTest 0:\tShould start at the initial reward: got %d", failed, got)
			}
			t.Logf("\t%s\tTest 0:\tShould start at the initial reward.", success)

			for _, h := range []uint64{p.DecayBlocks, p.DecayBlocks + 1, math.MaxUint64 - 1, math.MaxUint64} {
				require.Equal(t, p.TailEmission, consensus.Subsidy(h, p), "height %d", h)
				require.Equal(t, reference(h), consensus.Subsidy(h, p), "height %d", h)
			}
			t.Logf("\t%s\tTest 0:\tShould pay the tail emission at the largest heights.", success)
		}

		t.Logf("\tTest 1:\tWhen comparing against an independent computation.")
		{
			rapid.Check(t, func(rt *rapid.T) {
				h := rapid.Uint64().Draw(rt, "height")
				if got, exp := consensus.Subsidy(h, p), reference(h); got != exp {
					rt.Fatalf("height %d: got %d, exp %d", h, got, exp)
				}
			})
			t.Logf("\t%s\tTest 1:\tShould agree for every height.", success)
		}

		t.Logf("\tTest 2:\tWhen walking the decay period.")
		{
			rapid.Check(t, func(rt *rapid.T) {
				h := rapid.Uint64Range(0, p.DecayBlocks).Draw(rt, "height")
				if consensus.Subsidy(h+1, p) > consensus.Subsidy(h, p) {
					rt.Fatalf("reward grows after height %d", h)
				}
			})
			t.Logf("\t%s\tTest 2:\tShould never increase.", success)
		}
	}
}

func TestTotalSupply(t *testing.T) {
	p := genesis.Regtest()
	p.InitialReward = 100
	p.TailEmission = 10
	p.DecayBlocks = 4

	// 100, 78, 55, 33 then 10 per block.
	total, err := consensus.TotalSupply(5, p)
	require.NoError(t, err)
	require.Equal(t, uint64(100+78+55+33+10+10), total)

	total, err = consensus.TotalSupply(2, p)
	require.NoError(t, err)
	require.Equal(t, uint64(100+78+55), total)

	_, err = consensus.TotalSupply(math.MaxUint64, p)
	require.Error(t, err)
}

func TestValidateTransaction(t *testing.T) {
	f := newFixture(t)

	coinbaseOp := database.Outpoint{TxID: hashOf(40), Index: 0}
	f.set.Load(coinbaseOp, database.UTXOEntry{Value: fundValue, Lock: f.lock, Height: 5, Coinbase: true})

	other, err := signature.DeriveKey(signature.MLDSA65, bytes.Repeat([]byte{8}, 32))
	require.NoError(t, err)

	tt := []struct {
		name   string
		height uint64
		build  func(t *testing.T) database.Tx
		err    error
		kind   consensus.Kind
	}{
		{
			name:   "missing",
			height: 10,
			build: func(t *testing.T) database.Tx {
				return f.spend(t, 9_000, database.Outpoint{TxID: hashOf(99)})
			},
			err:  consensus.ErrMissingInput,
			kind: consensus.KindConflict,
		},
		{
			name:   "overspend",
			height: 10,
			build: func(t *testing.T) database.Tx {
				return f.spend(t, fundValue+1, f.funds[0])
			},
			err:  consensus.ErrSpendTooHigh,
			kind: consensus.KindEconomic,
		},
		{
			name:   "forkid",
			height: 10,
			build: func(t *testing.T) database.Tx {
				tx := f.spend(t, 9_000, f.funds[0])
				tx.ForkID = genesis.Main().ForkID
				f.sign(t, &tx, f.key)
				return tx
			},
			err:  consensus.ErrWrongForkID,
			kind: consensus.KindStructural,
		},
		{
			name:   "immature",
			height: 5 + f.params.CoinbaseMaturity - 1,
			build: func(t *testing.T) database.Tx {
				return f.spend(t, 9_000, coinbaseOp)
			},
			err:  consensus.ErrImmatureSpend,
			kind: consensus.KindEconomic,
		},
		{
			name:   "notfinal",
			height: 10,
			build: func(t *testing.T) database.Tx {
				tx := f.spend(t, 9_000, f.funds[0])
				tx.LockTime = 100
				tx.Inputs[0].Sequence = 0
				f.sign(t, &tx, f.key)
				return tx
			},
			err:  consensus.ErrTxNotFinal,
			kind: consensus.KindTemporal,
		},
		{
			name:   "coinbase",
			height: 10,
			build: func(t *testing.T) database.Tx {
				return database.NewCoinbase(10, nil, []database.TxOut{{Value: 1, Lock: f.lock}}, f.params.ForkID)
			},
			err:  consensus.ErrUnexpectedCoinbase,
			kind: consensus.KindStructural,
		},
		{
			name:   "dupinputs",
			height: 10,
			build: func(t *testing.T) database.Tx {
				return f.spend(t, 9_000, f.funds[0], f.funds[0])
			},
			err:  consensus.ErrDuplicateTxInputs,
			kind: consensus.KindStructural,
		},
		{
			name:   "wrongkey",
			height: 10,
			build: func(t *testing.T) database.Tx {
				tx := f.spend(t, 9_000, f.funds[0])
				f.sign(t, &tx, other)
				return tx
			},
			err:  consensus.ErrLockHashMismatch,
			kind: consensus.KindCrypto,
		},
		{
			name:   "scheme",
			height: 10,
			build: func(t *testing.T) database.Tx {
				tx := f.spend(t, 9_000, f.funds[0])
				tx.Inputs[0].Unlock.Scheme = 9
				return tx
			},
			err:  consensus.ErrUnsupportedSigScheme,
			kind: consensus.KindCrypto,
		},
	}

	t.Log("Given the need to reject invalid transactions with a stable reason.")
	{
		t.Logf("\tTest 0:\tWhen handling a valid spend.")
		{
			tx := f.spend(t, 9_000, f.funds[0], f.funds[1])
			fee, err := consensus.ValidateTransaction(tx, f.set, f.txContext(10))
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept the transaction: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould accept the transaction.", success)

			require.Equal(t, uint64(2*fundValue-9_000), fee)

			tx = f.spend(t, 9_000, coinbaseOp)
			_, err = consensus.ValidateTransaction(tx, f.set, f.txContext(5+f.params.CoinbaseMaturity))
			require.NoError(t, err)
			t.Logf("\t%s\tTest 0:\tShould accept a mature coinbase spend.", success)
		}

		for testID, tst := range tt {
			testID++
			t.Logf("\tTest %d:\tWhen handling the %s case.", testID, tst.name)
			{
				fn := func(t *testing.T) {
					tx := tst.build(t)

					_, err := consensus.ValidateTransaction(tx, f.set, f.txContext(tst.height))
					if !errors.Is(err, tst.err) {
						t.Fatalf("\t%s\tTest %d:\tShould fail with %v: %v", failed, testID, tst.err, err)
					}
					t.Logf("\t%s\tTest %d:\tShould fail with %v.", success, testID, tst.err)

					if kind := consensus.KindOf(err); kind != tst.kind {
						t.Fatalf("\t%s\tTest %d:\tShould be a %s failure: got %s", failed, testID, tst.kind, kind)
					}
					t.Logf("\t%s\tTest %d:\tShould be a %s failure.", success, testID, tst.kind)
				}

				t.Run(tst.name, fn)
			}
		}
	}
}

func TestSignatureFailureIsDeterministic(t *testing.T) {
	f := newFixture(t)

	tx := f.spend(t, 9_000, f.funds[0], f.funds[1], f.funds[2])
	tx.Inputs[2].Unlock.Signature[0] ^= 0xff
	tx.Inputs[1].Unlock.Signature[0] ^= 0xff

	t.Log("Given the need to report the same failure on every node.")
	{
		t.Logf("\tTest 0:\tWhen two inputs carry bad signatures.")
		{
			for range 5 {
				_, err := consensus.ValidateTransaction(tx, f.set, f.txContext(10))
				require.ErrorIs(t, err, consensus.ErrBadSignature)
				require.Contains(t, err.Error(), "input 1:")
			}
			t.Logf("\t%s\tTest 0:\tShould report the lowest failing input.", success)
		}
	}
}

func TestCheckTransactionSanity(t *testing.T) {
	f := newFixture(t)

	valid := f.spend(t, 9_000, f.funds[0])

	tt := []struct {
		name   string
		modify func(tx *database.Tx)
		err    error
	}{
		{"version", func(tx *database.Tx) { tx.Version = 0 }, consensus.ErrBadTxVersion},
		{"noinputs", func(tx *database.Tx) { tx.Inputs = nil }, consensus.ErrNoTxInputs},
		{"nooutputs", func(tx *database.Tx) { tx.Outputs = nil }, consensus.ErrNoTxOutputs},
		{"money", func(tx *database.Tx) { tx.Outputs[0].Value = f.params.MaxMoney + 1 }, consensus.ErrBadOutputValue},
		{"overflow", func(tx *database.Tx) {
			tx.Outputs = append(tx.Outputs, database.TxOut{Value: math.MaxUint64}, database.TxOut{Value: math.MaxUint64})
		}, consensus.ErrBadOutputValue},
		{"sum", func(tx *database.Tx) {
			tx.Outputs = []database.TxOut{{Value: f.params.MaxMoney}, {Value: 1}}
		}, consensus.ErrBadOutputValue},
		{"null", func(tx *database.Tx) {
			tx.Inputs = append(tx.Inputs, database.TxIn{PrevOut: database.NullOutpoint()})
		}, consensus.ErrUnexpectedNullInput},
		{"inputs", func(tx *database.Tx) {
			for i := range f.params.MaxTxInputs {
				tx.Inputs = append(tx.Inputs, database.TxIn{PrevOut: database.Outpoint{TxID: hashOf(200), Index: uint32(i)}})
			}
		}, consensus.ErrTooManyTxInputs},
	}

	t.Log("Given the need to check transactions without chain context.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen handling the %s case.", testID, tst.name)
			{
				fn := func(t *testing.T) {
					tx := valid
					tx.Inputs = append([]database.TxIn(nil), valid.Inputs...)
					tx.Outputs = append([]database.TxOut(nil), valid.Outputs...)
					tst.modify(&tx)

					err := consensus.CheckTransactionSanity(tx, f.params)
					if !errors.Is(err, tst.err) {
						t.Fatalf("\t%s\tTest %d:\tShould fail with %v: %v", failed, testID, tst.err, err)
					}
					t.Logf("\t%s\tTest %d:\tShould fail with %v.", success, testID, tst.err)
				}

				t.Run(tst.name, fn)
			}
		}

		t.Logf("\tTest %d:\tWhen the coinbase data is out of bounds.", len(tt))
		{
			cb := database.NewCoinbase(1, bytes.Repeat([]byte{1}, 101), []database.TxOut{{Value: 1}}, f.params.ForkID)
			require.ErrorIs(t, consensus.CheckTransactionSanity(cb, f.params), consensus.ErrBadCoinbaseData)

			cb = database.NewCoinbase(1, bytes.Repeat([]byte{1}, 100), []database.TxOut{{Value: 1}}, f.params.ForkID)
			require.NoError(t, consensus.CheckTransactionSanity(cb, f.params))
			t.Logf("\t%s\tTest %d:\tShould bound the coinbase data.", success, len(tt))
		}
	}
}

func TestIsFinal(t *testing.T) {
	tx := database.Tx{Inputs: []database.TxIn{{Sequence: 0}}}

	require.True(t, consensus.IsFinal(tx, 10, 0))

	tx.LockTime = 10
	require.False(t, consensus.IsFinal(tx, 10, 0))
	require.True(t, consensus.IsFinal(tx, 11, 0))

	tx.LockTime = 1_700_000_000
	require.False(t, consensus.IsFinal(tx, 10, 1_700_000_000))
	require.True(t, consensus.IsFinal(tx, 10, 1_700_000_001))

	tx.Inputs[0].Sequence = math.MaxUint32
	require.True(t, consensus.IsFinal(tx, 10, 0))
}

// =============================================================================

const parentTime = 1_700_000_000

func (f *fixture) blockContext(height uint64) consensus.BlockContext {
	return consensus.BlockContext{
		Params:           f.params,
		Height:           height,
		ExpectedBits:     f.params.PowLimitBits,
		RecentTimestamps: []uint64{parentTime - 120, parentTime - 60, parentTime},
		AdjustedNow:      parentTime + 60,
	}
}

func (f *fixture) mine(t *testing.T, height uint64, timeStamp uint64, extraReward uint64, trans ...database.Tx) database.Block {
	t.Helper()

	var fees uint64
	for _, tx := range trans {
		fee, err := consensus.ValidateTransaction(tx, f.set, f.txContext(height))
		if err == nil {
			fees += fee
		}
	}

	return f.mineReward(t, height, timeStamp, consensus.Subsidy(height, f.params)+fees+extraReward, trans...)
}

// mineReward mines a block whose coinbase claims exactly reward.
func (f *fixture) mineReward(t *testing.T, height uint64, timeStamp uint64, reward uint64, trans ...database.Tx) database.Block {
	t.Helper()

	coinbase := database.NewCoinbase(height, []byte("test"), []database.TxOut{{Value: reward, Lock: f.lock}}, f.params.ForkID)

	block, err := database.POW(context.Background(), database.POWArgs{
		PrevBlockHash: hashOf(50),
		TimeStamp:     timeStamp,
		Bits:          f.params.PowLimitBits,
		Trans:         append([]database.Tx{coinbase}, trans...),
	})
	require.NoError(t, err)

	return block
}

func TestConnectBlock(t *testing.T) {
	t.Log("Given the need to connect blocks to the ledger.")
	{
		t.Logf("\tTest 0:\tWhen handling a valid block.")
		{
			f := newFixture(t)
			before := f.set.Snapshot()

			tx := f.spend(t, 9_000, f.funds[0])
			block := f.mine(t, 1, parentTime+30, 0, tx)

			overlay := database.NewOverlay(f.set)
			undo, err := consensus.ConnectBlock(block, overlay, f.blockContext(1))
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould connect the block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould connect the block.", success)

			require.Len(t, undo, 1)
			require.Equal(t, f.funds[0], undo[0].Outpoint)

			f.set.Commit(overlay)
			require.Equal(t, len(before)+1, f.set.Count())

			total, err := f.set.TotalValue()
			require.NoError(t, err)
			require.Equal(t, uint64(4*fundValue)-1_000+consensus.Subsidy(1, f.params)+1_000, total)
			t.Logf("\t%s\tTest 0:\tShould only mint the subsidy.", success)

			back := database.NewOverlay(f.set)
			require.NoError(t, back.DisconnectBlock(block, undo))
			f.set.Commit(back)
			require.Equal(t, before, f.set.Snapshot())
			t.Logf("\t%s\tTest 0:\tShould restore the ledger on disconnect.", success)
		}

		tt := []struct {
			name  string
			build func(t *testing.T, f *fixture) (database.Block, consensus.BlockContext)
			err   error
		}{
			{
				name: "greedy",
				build: func(t *testing.T, f *fixture) (database.Block, consensus.BlockContext) {
					return f.mine(t, 1, parentTime+30, 1, f.spend(t, 9_000, f.funds[0])), f.blockContext(1)
				},
				err: consensus.ErrBadCoinbaseValue,
			},
			{
				name: "doublespend",
				build: func(t *testing.T, f *fixture) (database.Block, consensus.BlockContext) {
					a := f.spend(t, 9_000, f.funds[0])
					b := f.spend(t, 8_000, f.funds[0])
					return f.mine(t, 1, parentTime+30, 0, a, b), f.blockContext(1)
				},
				err: consensus.ErrDoubleSpendInBlock,
			},
			{
				name: "difficulty",
				build: func(t *testing.T, f *fixture) (database.Block, consensus.BlockContext) {
					ctx := f.blockContext(1)
					ctx.ExpectedBits = genesis.Test().PowLimitBits
					return f.mine(t, 1, parentTime+30, 0), ctx
				},
				err: consensus.ErrUnexpectedDifficulty,
			},
			{
				name: "old",
				build: func(t *testing.T, f *fixture) (database.Block, consensus.BlockContext) {
					return f.mine(t, 1, parentTime-60, 0), f.blockContext(1)
				},
				err: consensus.ErrTimeTooOld,
			},
			{
				name: "future",
				build: func(t *testing.T, f *fixture) (database.Block, consensus.BlockContext) {
					return f.mine(t, 1, parentTime+60+f.params.MaxFutureBlockTime+1, 0), f.blockContext(1)
				},
				err: consensus.ErrTimeTooFarInFuture,
			},
			{
				name: "height",
				build: func(t *testing.T, f *fixture) (database.Block, consensus.BlockContext) {
					return f.mine(t, 1, parentTime+30, 0), f.blockContext(2)
				},
				err: consensus.ErrBadCoinbaseHeight,
			},
		}

		for testID, tst := range tt {
			testID++
			t.Logf("\tTest %d:\tWhen handling the %s case.", testID, tst.name)
			{
				fn := func(t *testing.T) {
					f := newFixture(t)
					before := f.set.Snapshot()

					block, ctx := tst.build(t, f)

					_, err := consensus.ConnectBlock(block, database.NewOverlay(f.set), ctx)
					if !errors.Is(err, tst.err) {
						t.Fatalf("\t%s\tTest %d:\tShould fail with %v: %v", failed, testID, tst.err, err)
					}
					t.Logf("\t%s\tTest %d:\tShould fail with %v.", success, testID, tst.err)

					require.Equal(t, before, f.set.Snapshot())
					t.Logf("\t%s\tTest %d:\tShould leave the ledger untouched.", success, testID)
				}

				t.Run(tst.name, fn)
			}
		}
	}
}

func TestSanityCheckBlock(t *testing.T) {
	f := newFixture(t)

	coinbase := database.NewCoinbase(1, nil, []database.TxOut{{Value: 1, Lock: f.lock}}, f.params.ForkID)
	tx := f.spend(t, 9_000, f.funds[0])

	build := func(t *testing.T, trans ...database.Tx) database.Block {
		block := database.Block{Header: database.BlockHeader{Version: 1, Bits: f.params.PowLimitBits}, Trans: trans}
		if len(trans) > 0 {
			root, err := block.ComputeMerkleRoot()
			require.NoError(t, err)
			block.Header.MerkleRoot = root
		}
		return block
	}

	badRoot := build(t, coinbase, tx)
	badRoot.Header.MerkleRoot = hashOf(1)

	tt := []struct {
		name  string
		block database.Block
		err   error
	}{
		{"empty", build(t), consensus.ErrNoTransactions},
		{"first", build(t, tx, coinbase), consensus.ErrFirstTxNotCoinbase},
		{"coinbases", build(t, coinbase, coinbase), consensus.ErrMultipleCoinbases},
		{"duplicate", build(t, coinbase, tx, tx), consensus.ErrDuplicateTxInBlock},
		{"merkle", badRoot, consensus.ErrBadMerkleRoot},
	}

	t.Log("Given the need to check blocks without chain context.")
	{
		require.NoError(t, consensus.SanityCheckBlock(build(t, coinbase, tx), f.params))

		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen handling the %s case.", testID, tst.name)
			{
				err := consensus.SanityCheckBlock(tst.block, f.params)
				if !errors.Is(err, tst.err) {
					t.Fatalf("\t%s\tTest %d:\tShould fail with %v: %v", failed, testID, tst.err, err)
				}
				t.Logf("\t%s\tTest %d:\tShould fail with %v.", success, testID, tst.err)
			}
		}
	}
}

func TestKindOf(t *testing.T) {
	require.Equal(t, consensus.KindUnknown, consensus.KindOf(nil))
	require.Equal(t, consensus.KindUnknown, consensus.KindOf(errors.New("boom")))
	require.Equal(t, consensus.KindConflict, consensus.KindOf(perrors.Wrap(consensus.ErrDoubleSpend, "detail")))
	require.Equal(t, consensus.KindCapacity, consensus.KindOf(consensus.ErrMempoolFull))

	err := consensus.NewStorageError("write", errors.New("disk full"))
	require.Equal(t, consensus.KindStorage, consensus.KindOf(err))
	require.True(t, consensus.IsStorageError(perrors.Wrap(err, "reorg")))
	require.Equal(t, "storage", consensus.KindStorage.String())
}

func TestConnectBlockProperties(t *testing.T) {
	f := newFixture(t)

	t.Log("Given the need for every connected block to conserve value.")
	{
		t.Logf("\tTest 0:\tWhen connecting blocks built from random spends and rewards.")
		{
			rapid.Check(t, func(rt *rapid.T) {
				f.set = f.fundedSet(rapid.Permutation(f.funds).Draw(rt, "load"))
				before := f.set.Snapshot()

				order := rapid.Permutation(f.funds).Draw(rt, "spend")
				n := rapid.IntRange(0, len(order)).Draw(rt, "txs")

				var trans []database.Tx
				var fees uint64
				for i := range n {
					value := rapid.Uint64Range(1, fundValue).Draw(rt, "value")
					split := rapid.Bool().Draw(rt, "split")
					trans = append(trans, f.pay(t, order[i], value, split))
					fees += fundValue - value
				}

				limit := consensus.Subsidy(1, f.params) + fees
				reward := rapid.Uint64Range(1, limit+10).Draw(rt, "reward")
				block := f.mineReward(t, 1, parentTime+30, reward, trans...)

				overlay := database.NewOverlay(f.set)
				undo, err := consensus.ConnectBlock(block, overlay, f.blockContext(1))

				// The same block against the same ledger loaded in another
				// order must get the same verdict and the same result.
				other := f.fundedSet(rapid.Permutation(f.funds).Draw(rt, "reload"))
				otherOverlay := database.NewOverlay(other)
				_, otherErr := consensus.ConnectBlock(block, otherOverlay, f.blockContext(1))
				switch {
				case err == nil && otherErr == nil:
				case err != nil && otherErr != nil:
					if err.Error() != otherErr.Error() {
						rt.Fatalf("verdicts differ: %v, %v", err, otherErr)
					}
				default:
					rt.Fatalf("verdicts differ: %v, %v", err, otherErr)
				}

				if reward > limit {
					if !errors.Is(err, consensus.ErrBadCoinbaseValue) {
						rt.Fatalf("claiming %d over a limit of %d: got %v", reward, limit, err)
					}
					if !maps.Equal(before, f.set.Snapshot()) {
						rt.Fatalf("rejected block changed the ledger")
					}
					return
				}
				if err != nil {
					rt.Fatalf("claiming %d under a limit of %d: %v", reward, limit, err)
				}

				f.set.Commit(overlay)
				after := f.set.Snapshot()

				other.Commit(otherOverlay)
				if !maps.Equal(after, other.Snapshot()) {
					rt.Fatalf("ledgers differ by load order")
				}

				// Every consumed outpoint is recorded once and is gone.
				if len(undo) != n {
					rt.Fatalf("got %d undo records, exp %d", len(undo), n)
				}
				consumed := make(map[database.Outpoint]int)
				for _, so := range undo {
					consumed[so.Outpoint]++
				}
				for _, tx := range trans {
					op := tx.Inputs[0].PrevOut
					if consumed[op] != 1 {
						rt.Fatalf("outpoint %s recorded %d times", op, consumed[op])
					}
					if _, exists := after[op]; exists {
						rt.Fatalf("outpoint %s still unspent", op)
					}
				}

				// Every created output is present with its value.
				created := 0
				for _, tx := range block.Trans {
					id := tx.ID()
					for j, out := range tx.Outputs {
						entry, exists := after[database.Outpoint{TxID: id, Index: uint32(j)}]
						if !exists || entry.Value != out.Value {
							rt.Fatalf("output %s:%d missing", id, j)
						}
						created++
					}
				}
				if len(after) != len(before)-n+created {
					rt.Fatalf("got %d entries, exp %d", len(after), len(before)-n+created)
				}

				var sumBefore, sumAfter uint64
				for _, entry := range before {
					sumBefore += entry.Value
				}
				for _, entry := range after {
					sumAfter += entry.Value
				}
				if sumAfter != sumBefore-fees+reward {
					rt.Fatalf("got total %d, exp %d", sumAfter, sumBefore-fees+reward)
				}

				back := database.NewOverlay(f.set)
				if err := back.DisconnectBlock(block, undo); err != nil {
					rt.Fatalf("disconnecting: %v", err)
				}
				f.set.Commit(back)
				if !maps.Equal(before, f.set.Snapshot()) {
					rt.Fatalf("disconnect did not restore the ledger")
				}
			})
			t.Logf("\t%s\tTest 0:\tShould never pay the coinbase more than subsidy plus fees.", success)
			t.Logf("\t%s\tTest 0:\tShould remove every spent output once and add every new one.", success)
			t.Logf("\t%s\tTest 0:\tShould restore the ledger on disconnect.", success)
			t.Logf("\t%s\tTest 0:\tShould not depend on the order the ledger was loaded in.", success)
		}
	}
}
