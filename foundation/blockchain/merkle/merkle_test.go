// Copyright 2017 Cameron Bergoon
// https://github.com/cbergoon/merkletree
// Licensed under the MIT License, see LICENCE file for details.

package merkle_test

import (
	"crypto/sha512"
	"testing"

	"github.com/btpc/node/foundation/blockchain/merkle"
	"github.com/btpc/node/foundation/blockchain/signature"
	"github.com/stretchr/testify/require"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// Data hashes a string with double SHA-512.
type Data struct {
	x string
}

// Hash implements merkle.Hashable.
func (d Data) Hash() signature.Hash {
	return signature.DoubleSHA512([]byte(d.x))
}

// Equals implements merkle.Hashable.
func (d Data) Equals(other Data) bool {
	return d.x == other.x
}

func pair(a, b signature.Hash) signature.Hash {
	return signature.DoubleSHA512(append(a[:], b[:]...))
}

func values(xs ...string) []Data {
	d := make([]Data, len(xs))
	for i, x := range xs {
		d[i] = Data{x: x}
	}
	return d
}

func TestMerkleRoot(t *testing.T) {
	a, b, c := Data{"a"}.Hash(), Data{"b"}.Hash(), Data{"c"}.Hash()

	type table struct {
		name string
		data []Data
		root signature.Hash
	}

	tt := []table{
		{name: "single", data: values("a"), root: pair(a, a)},
		{name: "pair", data: values("a", "b"), root: pair(a, b)},
		{name: "odd", data: values("a", "b", "c"), root: pair(pair(a, b), pair(c, c))},
	}

	t.Log("Given the need to commit to a list of values.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				tree, err := merkle.NewTree(tst.data)
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to build the tree: %s", failed, testID, err)
				}
				t.Logf("\t%s\tTest %d:\tShould be able to build the tree.", success, testID)

				if tree.MerkleRoot != tst.root {
					t.Fatalf("\t%s\tTest %d:\tShould compute the expected root.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould compute the expected root.", success, testID)

				require.NoError(t, tree.Verify())
				require.Equal(t, tst.data, tree.Values())

				for _, d := range tst.data {
					require.NoError(t, tree.VerifyData(d))

					proof, order, err := tree.Proof(d)
					require.NoError(t, err)
					require.True(t, merkle.VerifyProof(d.Hash(), proof, order, tree.MerkleRoot))
				}
			}

			t.Run(tst.name, f)
		}
	}
}

func TestMerkleEmpty(t *testing.T) {
	_, err := merkle.NewTree([]Data{})
	require.Error(t, err)
}

func TestMerkleOrderMatters(t *testing.T) {
	r1, err := merkle.Root(values("a", "b", "c", "d"))
	require.NoError(t, err)

	r2, err := merkle.Root(values("b", "a", "c", "d"))
	require.NoError(t, err)

	require.NotEqual(t, r1, r2)
}

func TestMerkleHashStrategy(t *testing.T) {
	single := func(data []byte) signature.Hash {
		return sha512.Sum512(data)
	}

	tree, err := merkle.NewTree(values("a", "b"), merkle.WithHashStrategy[Data](single))
	require.NoError(t, err)

	a, b := Data{"a"}.Hash(), Data{"b"}.Hash()
	require.Equal(t, signature.Hash(sha512.Sum512(append(a[:], b[:]...))), tree.MerkleRoot)
	require.NoError(t, tree.Verify())
}

func TestMerkleProofRejectsOtherData(t *testing.T) {
	tree, err := merkle.NewTree(values("a", "b", "c", "d"))
	require.NoError(t, err)

	proof, order, err := tree.Proof(Data{"a"})
	require.NoError(t, err)
	require.False(t, merkle.VerifyProof(Data{"z"}.Hash(), proof, order, tree.MerkleRoot))

	_, _, err = tree.Proof(Data{"z"})
	require.Error(t, err)
}
