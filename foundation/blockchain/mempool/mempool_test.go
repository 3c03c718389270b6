package mempool_test

import (
	"errors"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/btpc/node/foundation/blockchain/consensus"
	"github.com/btpc/node/foundation/blockchain/database"
	"github.com/btpc/node/foundation/blockchain/mempool"
	"github.com/btpc/node/foundation/blockchain/signature"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func hashOf(b byte) signature.Hash {
	var h signature.Hash
	h[0] = b
	return h
}

// spend returns a transaction spending output 0 of the transaction with
// id hashOf(from). The value makes transactions spending the same output
// distinct.
func spend(from byte, value uint64) database.Tx {
	return database.Tx{
		Version: 1,
		Inputs: []database.TxIn{
			{PrevOut: database.Outpoint{TxID: hashOf(from)}, Sequence: ^uint32(0)},
		},
		Outputs: []database.TxOut{{Value: value}},
	}
}

// feeAt returns the fee that pays rate per byte for tx.
func feeAt(tx database.Tx, rate uint64) uint64 {
	return rate * uint64(tx.Size())
}

func newPool(t *testing.T, cfg mempool.Config, options ...func(mp *mempool.Mempool)) *mempool.Mempool {
	t.Helper()

	mp, err := mempool.New(cfg, options...)
	require.NoError(t, err)

	return mp
}

// =============================================================================

func TestAdd(t *testing.T) {
	t.Log("Given the need to admit transactions to the mempool.")
	{
		mp := newPool(t, mempool.DefaultConfig())

		t.Logf("\tTest 0:\tWhen two transactions spend the same outpoint.")
		{
			first := spend(1, 100)
			if _, err := mp.Add(first, feeAt(first, 2)); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould admit the first transaction: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould admit the first transaction.", success)

			second := spend(1, 90)
			_, err := mp.Add(second, feeAt(second, 5))
			if !errors.Is(err, consensus.ErrDoubleSpend) {
				t.Fatalf("\t%s\tTest 0:\tShould reject the second as a double spend: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould reject the second as a double spend.", success)

			if consensus.KindOf(err) != consensus.KindConflict {
				t.Fatalf("\t%s\tTest 0:\tShould be a conflict: got %s", failed, consensus.KindOf(err))
			}
			t.Logf("\t%s\tTest 0:\tShould be a conflict.", success)

			require.Equal(t, 1, mp.Count())
		}

		t.Logf("\tTest 1:\tWhen a transaction breaks an admission rule.")
		{
			dup := spend(1, 100)
			_, err := mp.Add(dup, feeAt(dup, 2))
			require.ErrorIs(t, err, consensus.ErrDuplicateTransaction)

			cheap := spend(2, 100)
			_, err = mp.Add(cheap, feeAt(cheap, 1)-1)
			require.ErrorIs(t, err, consensus.ErrInsufficientFee)
			require.Equal(t, consensus.KindEconomic, consensus.KindOf(err))

			coinbase := database.NewCoinbase(1, nil, []database.TxOut{{Value: 1}}, 0)
			_, err = mp.Add(coinbase, 1_000_000)
			require.ErrorIs(t, err, consensus.ErrUnexpectedCoinbase)

			cfg := mempool.DefaultConfig()
			cfg.MaxTxSize = cheap.Size() - 1
			small := newPool(t, cfg)
			_, err = small.Add(cheap, feeAt(cheap, 10))
			require.ErrorIs(t, err, consensus.ErrTransactionTooLarge)
			require.Equal(t, consensus.KindCapacity, consensus.KindOf(err))

			require.Equal(t, 1, mp.Count())
			t.Logf("\t%s\tTest 1:\tShould reject it with the matching reason.", success)
		}

		t.Logf("\tTest 2:\tWhen the conflicting transaction leaves the pool.")
		{
			require.True(t, mp.Remove(spend(1, 100).ID()))
			require.False(t, mp.Remove(spend(1, 100).ID()))

			second := spend(1, 90)
			_, err := mp.Add(second, feeAt(second, 5))
			require.NoError(t, err)
			require.Equal(t, second.Size(), mp.Bytes())
			t.Logf("\t%s\tTest 2:\tShould release the outpoint.", success)
		}
	}
}

func TestEviction(t *testing.T) {
	t.Log("Given the need to bound the mempool.")
	{
		t.Logf("\tTest 0:\tWhen the count ceiling is reached.")
		{
			cfg := mempool.DefaultConfig()
			cfg.MaxCount = 2
			mp := newPool(t, cfg)

			a, b, c, d := spend(1, 1), spend(2, 1), spend(3, 1), spend(4, 1)

			_, err := mp.Add(a, feeAt(a, 2))
			require.NoError(t, err)
			_, err = mp.Add(b, feeAt(b, 2))
			require.NoError(t, err)

			evicted, err := mp.Add(c, feeAt(c, 3))
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould admit a denser transaction: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould admit a denser transaction.", success)

			if len(evicted) != 1 || evicted[0].TxID != a.ID() {
				t.Fatalf("\t%s\tTest 0:\tShould evict the oldest of the least dense: %v", failed, evicted)
			}
			t.Logf("\t%s\tTest 0:\tShould evict the oldest of the least dense.", success)

			_, err = mp.Add(d, feeAt(d, 2))
			if !errors.Is(err, consensus.ErrMempoolFull) {
				t.Fatalf("\t%s\tTest 0:\tShould refuse a transaction no denser than the pool: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould refuse a transaction no denser than the pool.", success)

			require.Equal(t, 2, mp.Count())
			require.Equal(t, uint64(1), mp.Stats().Evicted)
		}

		t.Logf("\tTest 1:\tWhen the byte ceiling is reached.")
		{
			a, b, c := spend(1, 1), spend(2, 1), spend(3, 1)

			cfg := mempool.DefaultConfig()
			cfg.MaxBytes = a.Size() * 2
			mp := newPool(t, cfg)

			_, err := mp.Add(a, feeAt(a, 4))
			require.NoError(t, err)
			_, err = mp.Add(b, feeAt(b, 2))
			require.NoError(t, err)

			_, err = mp.Add(c, feeAt(c, 2))
			require.ErrorIs(t, err, consensus.ErrSizeLimitExceeded)

			evicted, err := mp.Add(c, feeAt(c, 3))
			require.NoError(t, err)
			require.Len(t, evicted, 1)
			require.Equal(t, b.ID(), evicted[0].TxID)
			require.LessOrEqual(t, mp.Bytes(), cfg.MaxBytes)
			t.Logf("\t%s\tTest 1:\tShould never hold more than the byte ceiling.", success)
		}
	}
}

func TestOrderedForBlock(t *testing.T) {
	mp := newPool(t, mempool.DefaultConfig())

	rates := []uint64{1, 3, 2, 3}
	var ids []signature.Hash
	for i, rate := range rates {
		tx := spend(byte(i+1), 1)
		_, err := mp.Add(tx, feeAt(tx, rate))
		require.NoError(t, err)
		ids = append(ids, tx.ID())
	}

	collect := func(limit int) []signature.Hash {
		var got []signature.Hash
		for entry := range mp.OrderedForBlock(limit) {
			got = append(got, entry.TxID)
		}
		return got
	}

	t.Log("Given the need to assemble a block from the mempool.")
	{
		t.Logf("\tTest 0:\tWhen asking for every transaction.")
		{
			exp := []signature.Hash{ids[1], ids[3], ids[2], ids[0]}
			if got := collect(-1); !slices.Equal(got, exp) {
				t.Fatalf("\t%s\tTest 0:\tShould order by fee density then age.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould order by fee density then age.", success)

			if got := collect(-1); !slices.Equal(got, exp) {
				t.Fatalf("\t%s\tTest 0:\tShould restart from the beginning.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould restart from the beginning.", success)
		}

		t.Logf("\tTest 1:\tWhen asking for a limited number.")
		{
			require.Equal(t, []signature.Hash{ids[1], ids[3]}, collect(2))

			var n int
			for range mp.OrderedForBlock(-1) {
				n++
				break
			}
			require.Equal(t, 1, n)
			t.Logf("\t%s\tTest 1:\tShould stop at the limit.", success)
		}
	}

	cfg := mempool.DefaultConfig()
	cfg.Strategy = "unknown"
	_, err := mempool.New(cfg)
	require.Error(t, err)
}

func TestRemoveExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	mp := newPool(t, mempool.DefaultConfig(), mempool.WithClock(clock))

	old := spend(1, 1)
	_, err := mp.Add(old, feeAt(old, 1))
	require.NoError(t, err)

	now = now.Add(48 * time.Hour)
	young := spend(2, 1)
	_, err = mp.Add(young, feeAt(young, 1))
	require.NoError(t, err)

	expired := mp.RemoveExpired(now.Add(25 * time.Hour))
	require.Len(t, expired, 1)
	require.Equal(t, old.ID(), expired[0].TxID)

	_, exists := mp.Get(young.ID())
	require.True(t, exists)
	require.Equal(t, uint64(1), mp.Stats().Expired)
}

func TestRemoveConfirmed(t *testing.T) {
	mp := newPool(t, mempool.DefaultConfig())

	included, conflict, unrelated := spend(1, 1), spend(2, 1), spend(3, 1)
	for _, tx := range []database.Tx{included, conflict, unrelated} {
		_, err := mp.Add(tx, feeAt(tx, 1))
		require.NoError(t, err)
	}

	block := database.Block{
		Trans: []database.Tx{
			database.NewCoinbase(1, nil, []database.TxOut{{Value: 1}}, 0),
			included,
			spend(2, 7),
		},
	}

	require.Equal(t, 2, mp.RemoveConfirmed(block))
	require.Equal(t, 1, mp.Count())

	_, exists := mp.Get(unrelated.ID())
	require.True(t, exists)
	require.Equal(t, unrelated.Size(), mp.Bytes())

	// The outpoints are free again.
	again := spend(2, 9)
	_, err := mp.Add(again, feeAt(again, 1))
	require.NoError(t, err)
}

func TestRevalidate(t *testing.T) {
	mp := newPool(t, mempool.DefaultConfig())

	keep, drop := spend(1, 1), spend(2, 1)
	for _, tx := range []database.Tx{keep, drop} {
		_, err := mp.Add(tx, feeAt(tx, 1))
		require.NoError(t, err)
	}

	var order []signature.Hash
	dropped := mp.Revalidate(func(tx database.Tx) (uint64, error) {
		order = append(order, tx.ID())
		if tx.ID() == drop.ID() {
			return 0, consensus.ErrMissingInput
		}
		return 777, nil
	})

	require.Equal(t, []signature.Hash{keep.ID(), drop.ID()}, order)
	require.Len(t, dropped, 1)
	require.Equal(t, drop.ID(), dropped[0].TxID)

	entry, exists := mp.Get(keep.ID())
	require.True(t, exists)
	require.Equal(t, uint64(777), entry.Fee)

	mp.Truncate()
	require.Zero(t, mp.Count())
	require.Zero(t, mp.Bytes())
}

func TestRecentlyRejected(t *testing.T) {
	mp := newPool(t, mempool.DefaultConfig())

	id := hashOf(9)
	require.NoError(t, mp.RecentlyRejected(id))

	mp.Reject(id, consensus.ErrBadSignature)

	err := mp.RecentlyRejected(id)
	require.ErrorIs(t, err, consensus.ErrRecentlyRejected)
	require.Contains(t, err.Error(), "ErrBadSignature")
}

func TestOrderedForBlockIgnoresArrivalOrder(t *testing.T) {
	t.Log("Given the need for every node to assemble the same block from the same pool.")
	{
		t.Logf("\tTest 0:\tWhen the same transactions arrive in different orders.")
		{
			rapid.Check(t, func(rt *rapid.T) {
				rates := rapid.SliceOfNDistinct(rapid.Uint64Range(1, 1_000), 1, 20, rapid.ID[uint64]).Draw(rt, "rates")

				txs := make([]database.Tx, len(rates))
				order := make([]int, len(rates))
				for i := range rates {
					txs[i] = spend(byte(i+1), 1)
					order[i] = i
				}

				collect := func(order []int) []signature.Hash {
					mp, err := mempool.New(mempool.DefaultConfig())
					if err != nil {
						rt.Fatalf("creating pool: %v", err)
					}
					for _, i := range order {
						if _, err := mp.Add(txs[i], feeAt(txs[i], rates[i])); err != nil {
							rt.Fatalf("adding tx %d: %v", i, err)
						}
					}

					var got []signature.Hash
					for entry := range mp.OrderedForBlock(-1) {
						got = append(got, entry.TxID)
					}
					return got
				}

				exp := collect(order)
				got := collect(rapid.Permutation(order).Draw(rt, "arrival"))
				if !slices.Equal(exp, got) {
					rt.Fatalf("order depends on arrival")
				}

				byRate := slices.Clone(order)
				slices.SortFunc(byRate, func(a, b int) int {
					switch {
					case rates[a] > rates[b]:
						return -1
					case rates[a] < rates[b]:
						return 1
					}
					return 0
				})
				for i, idx := range byRate {
					if exp[i] != txs[idx].ID() {
						rt.Fatalf("position %d is not the next densest", i)
					}
				}
			})
			t.Logf("\t%s\tTest 0:\tShould order by fee density whatever the arrival order.", success)
		}
	}
}

func TestStatsSaturates(t *testing.T) {
	mp := newPool(t, mempool.DefaultConfig())

	for i := range 3 {
		_, err := mp.Add(spend(byte(i+1), 1), math.MaxUint64/2)
		require.NoError(t, err)
	}

	t.Log("Given the need to summarize a pool whose fees overflow a uint64.")
	{
		stats := mp.Stats()
		if stats.TotalFees != math.MaxUint64 {
			t.Fatalf("\t%s\tShould saturate the fee total: got %d", failed, stats.TotalFees)
		}
		t.Logf("\t%s\tShould saturate the fee total.", success)

		require.Equal(t, 3, stats.Count)
	}
}
