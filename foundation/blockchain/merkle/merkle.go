// Copyright 2017 Cameron Bergoon
// https://github.com/cbergoon/merkletree
// Licensed under the MIT License, see LICENCE file for details.
// This code has been cleaned up, refactored, and turned into generics.

// Package merkle provides an implementation of a merkle tree for committing
// a block header to its transactions.
package merkle

import (
	"errors"
	"fmt"

	"github.com/btpc/node/foundation/blockchain/signature"
)

// Hashable represents the behavior concrete data must exhibit to be used in
// the merkle tree.
type Hashable[T any] interface {
	Hash() signature.Hash
	Equals(other T) bool
}

// HashFunc combines the concatenation of two child hashes into a parent.
type HashFunc func(data []byte) signature.Hash

// =============================================================================

// Tree represents a merkle tree that uses data of some type T that exhibits the
// behavior defined by the Hashable constraint.
type Tree[T Hashable[T]] struct {
	Root         *Node[T]
	Leafs        []*Node[T]
	MerkleRoot   signature.Hash
	hashStrategy HashFunc
	count        int
}

// WithHashStrategy is used to change the default hash strategy of using
// double SHA-512 when constructing a new tree.
func WithHashStrategy[T Hashable[T]](hashStrategy HashFunc) func(t *Tree[T]) {
	return func(t *Tree[T]) {
		t.hashStrategy = hashStrategy
	}
}

// NewTree constructs a new merkle tree that uses data of some type T that
// exhibits the behavior defined by the Hashable interface.
func NewTree[T Hashable[T]](values []T, options ...func(t *Tree[T])) (*Tree[T], error) {
	t := Tree[T]{
		hashStrategy: signature.DoubleSHA512,
	}

	for _, option := range options {
		option(&t)
	}

	if err := t.Generate(values); err != nil {
		return nil, err
	}

	return &t, nil
}

// Root computes only the merkle root of the values.
func Root[T Hashable[T]](values []T) (signature.Hash, error) {
	tree, err := NewTree(values)
	if err != nil {
		return signature.Hash{}, err
	}

	return tree.MerkleRoot, nil
}

// Generate constructs the leafs and nodes of the tree from the specified
// data. If the tree has been generated previously, the tree is re-generated
// from scratch. An odd level pairs its last node with itself.
func (t *Tree[T]) Generate(values []T) error {
	if len(values) == 0 {
		return errors.New("cannot construct tree with no content")
	}

	leafs := make([]*Node[T], 0, len(values)+1)
	for _, value := range values {
		leafs = append(leafs, &Node[T]{
			Hash:  value.Hash(),
			Value: value,
			leaf:  true,
			Tree:  t,
		})
	}

	if len(leafs)%2 == 1 {
		last := leafs[len(leafs)-1]
		leafs = append(leafs, &Node[T]{
			Hash:  last.Hash,
			Value: last.Value,
			leaf:  true,
			dup:   true,
			Tree:  t,
		})
	}

	t.Root = buildIntermediate(leafs, t)
	t.Leafs = leafs
	t.MerkleRoot = t.Root.Hash
	t.count = len(values)

	return nil
}

// Proof returns the set of hashes and the order of concatenating those
// hashes for proving a value is in the tree. An order of 0 means the proof
// hash is concatenated first, 1 means second.
func (t *Tree[T]) Proof(data T) ([]signature.Hash, []int64, error) {
	for _, node := range t.Leafs {
		if !node.Value.Equals(data) {
			continue
		}

		var merkleProof []signature.Hash
		var order []int64
		nodeParent := node.Parent

		for nodeParent != nil {
			if nodeParent.Left == node {
				merkleProof = append(merkleProof, nodeParent.Right.Hash)
				order = append(order, 1)
			} else {
				merkleProof = append(merkleProof, nodeParent.Left.Hash)
				order = append(order, 0)
			}
			node = nodeParent
			nodeParent = nodeParent.Parent
		}

		return merkleProof, order, nil
	}

	return nil, nil, errors.New("unable to find data in tree")
}

// VerifyProof recomputes a root from a leaf hash and its proof.
func VerifyProof(leaf signature.Hash, proof []signature.Hash, order []int64, root signature.Hash) bool {
	if len(proof) != len(order) {
		return false
	}

	h := leaf
	for i, p := range proof {
		buf := make([]byte, 0, 2*signature.HashSize)
		if order[i] == 0 {
			buf = append(buf, p[:]...)
			buf = append(buf, h[:]...)
		} else {
			buf = append(buf, h[:]...)
			buf = append(buf, p[:]...)
		}
		h = signature.DoubleSHA512(buf)
	}

	return h == root
}

// Verify validates the hashes at each level of the tree and returns an
// error if the resulting hash at the root does not match the merkle root.
func (t *Tree[T]) Verify() error {
	if t.Root == nil {
		return errors.New("tree has not been generated")
	}

	if t.Root.verify() != t.MerkleRoot {
		return errors.New("root hash invalid")
	}

	return nil
}

// VerifyData indicates whether a given piece of data is in the tree and if
// the hashes on its path to the root are valid.
func (t *Tree[T]) VerifyData(data T) error {
	for _, node := range t.Leafs {
		if !node.Value.Equals(data) {
			continue
		}

		for parent := node.Parent; parent != nil; parent = parent.Parent {
			if t.combine(parent.Left.CalculateHash(), parent.Right.CalculateHash()) != parent.Hash {
				return errors.New("merkle root is not equivalent to the merkle root calculated on the critical path")
			}
		}

		return nil
	}

	return errors.New("data is not in the tree")
}

// Values returns the values stored in the tree without the padding leaf.
func (t *Tree[T]) Values() []T {
	values := make([]T, 0, t.count)
	for _, leaf := range t.Leafs[:t.count] {
		values = append(values, leaf.Value)
	}

	return values
}

// RootHex converts the merkle root hash to a hex encoded string.
func (t *Tree[T]) RootHex() string {
	return t.MerkleRoot.String()
}

// String returns a string representation of the tree. Only leaf nodes are
// included in the output.
func (t *Tree[T]) String() string {
	s := ""

	for _, l := range t.Leafs {
		s += fmt.Sprint(l)
		s += "\n"
	}

	return s
}

// combine hashes the concatenation of two child hashes.
func (t *Tree[T]) combine(left, right signature.Hash) signature.Hash {
	buf := make([]byte, 0, 2*signature.HashSize)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)

	return t.hashStrategy(buf)
}

// =============================================================================

// Node represents a node, root, or leaf in the tree. It stores pointers to its
// immediate relationships, a hash, the data if it is a leaf, and other metadata.
type Node[T Hashable[T]] struct {
	Tree   *Tree[T]
	Parent *Node[T]
	Left   *Node[T]
	Right  *Node[T]
	Hash   signature.Hash
	Value  T
	leaf   bool
	dup    bool
}

// verify walks down the tree until hitting a leaf, calculating the hash at
// each level and returning the resulting hash of the node.
func (n *Node[T]) verify() signature.Hash {
	if n.leaf {
		return n.Value.Hash()
	}

	return n.Tree.combine(n.Left.verify(), n.Right.verify())
}

// CalculateHash is a helper function that calculates the hash of the node.
func (n *Node[T]) CalculateHash() signature.Hash {
	if n.leaf {
		return n.Value.Hash()
	}

	return n.Tree.combine(n.Left.Hash, n.Right.Hash)
}

// String returns a string representation of the node.
func (n *Node[T]) String() string {
	return fmt.Sprintf("%t %t %s %v", n.leaf, n.dup, n.Hash, n.Value)
}

// =============================================================================

// buildIntermediate is a helper function that for a given list of nodes,
// constructs the intermediate and root levels of the tree. Returns the
// resulting root node of the tree.
func buildIntermediate[T Hashable[T]](nl []*Node[T], t *Tree[T]) *Node[T] {
	var nodes []*Node[T]

	for i := 0; i < len(nl); i += 2 {
		left, right := i, i+1
		if i+1 == len(nl) {
			right = i
		}

		n := Node[T]{
			Left:  nl[left],
			Right: nl[right],
			Hash:  t.combine(nl[left].Hash, nl[right].Hash),
			Tree:  t,
		}

		nodes = append(nodes, &n)
		nl[left].Parent = &n
		nl[right].Parent = &n

		if len(nl) == 2 {
			return &n
		}
	}

	return buildIntermediate(nodes, t)
}
