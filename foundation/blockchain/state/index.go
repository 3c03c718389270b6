package state

import (
	"bytes"
	"cmp"
	"fmt"
	"maps"
	"math/big"
	"slices"

	"github.com/btpc/node/foundation/blockchain/database"
	"github.com/btpc/node/foundation/blockchain/difficulty"
	"github.com/btpc/node/foundation/blockchain/signature"
)

// blockNode is the in-memory view of a stored block.
type blockNode struct {
	hash   signature.Hash
	header database.BlockHeader
	height uint64
	work   *big.Int // Cumulative work from genesis through this block.
	parent *blockNode
	status database.BlockStatus
}

func newBlockNode(header database.BlockHeader, parent *blockNode, status database.BlockStatus) *blockNode {
	work := difficulty.WorkFromCompact(header.Bits)

	var height uint64
	if parent != nil {
		height = parent.height + 1
		work.Add(work, parent.work)
	}

	return &blockNode{
		hash:   header.Hash(),
		header: header,
		height: height,
		work:   work,
		parent: parent,
		status: status,
	}
}

func (n *blockNode) record() database.IndexRecord {
	return database.IndexRecord{
		Header: n.header,
		Height: n.height,
		Status: n.status,
	}
}

// ancestor returns the node at height on this node's chain.
func (n *blockNode) ancestor(height uint64) *blockNode {
	if height > n.height {
		return nil
	}

	node := n
	for node != nil && node.height > height {
		node = node.parent
	}
	return node
}

// history returns up to n headers ending with this node, by ascending height.
func (n *blockNode) history(count int) []difficulty.HeaderInfo {
	out := make([]difficulty.HeaderInfo, 0, count)
	for node := n; node != nil && len(out) < count; node = node.parent {
		out = append(out, node.header.HeaderInfo(node.height))
	}
	slices.Reverse(out)
	return out
}

// timestamps returns up to n timestamps ending with this node, by ascending
// height.
func (n *blockNode) timestamps(count int) []uint64 {
	out := make([]uint64, 0, count)
	for node := n; node != nil && len(out) < count; node = node.parent {
		out = append(out, node.header.TimeStamp)
	}
	slices.Reverse(out)
	return out
}

// =============================================================================

// blockIndex holds every stored block and the links between them.
type blockIndex struct {
	nodes    map[signature.Hash]*blockNode
	children map[signature.Hash][]*blockNode
}

func newBlockIndex() *blockIndex {
	return &blockIndex{
		nodes:    make(map[signature.Hash]*blockNode),
		children: make(map[signature.Hash][]*blockNode),
	}
}

func (bi *blockIndex) add(node *blockNode) {
	bi.nodes[node.hash] = node
	if node.parent != nil {
		bi.children[node.parent.hash] = append(bi.children[node.parent.hash], node)
	}
}

func (bi *blockIndex) lookup(hash signature.Hash) *blockNode {
	return bi.nodes[hash]
}

func (bi *blockIndex) count() int {
	return len(bi.nodes)
}

// tips returns the valid nodes no valid node builds on, most work first.
// Invalid blocks are never tips, so a branch ending in them is reported at
// its last valid block.
func (bi *blockIndex) tips() []*blockNode {
	var out []*blockNode
	for hash, node := range bi.nodes {
		if node.status == database.StatusInvalid {
			continue
		}

		tip := true
		for _, child := range bi.children[hash] {
			if child.status != database.StatusInvalid {
				tip = false
				break
			}
		}

		if tip {
			out = append(out, node)
		}
	}

	slices.SortFunc(out, func(a, b *blockNode) int {
		if c := b.work.Cmp(a.work); c != 0 {
			return c
		}
		if c := cmp.Compare(a.height, b.height); c != 0 {
			return c
		}
		return bytes.Compare(a.hash[:], b.hash[:])
	})

	return out
}

// descendants returns the node and everything built on it.
func (bi *blockIndex) descendants(node *blockNode) []*blockNode {
	out := []*blockNode{node}
	for i := 0; i < len(out); i++ {
		out = append(out, bi.children[out[i].hash]...)
	}
	return out
}

// load rebuilds the index from stored records. Parents are linked before
// their children so cumulative work can be computed on the way.
func (bi *blockIndex) load(genesisHash signature.Hash, records map[signature.Hash]database.IndexRecord) error {
	hashes := slices.Collect(maps.Keys(records))
	slices.SortFunc(hashes, func(a, b signature.Hash) int {
		return cmp.Compare(records[a].Height, records[b].Height)
	})

	for _, hash := range hashes {
		rec := records[hash]

		var parent *blockNode
		if hash != genesisHash {
			parent = bi.lookup(rec.Header.PrevBlockHash)
			if parent == nil {
				return fmt.Errorf("block %s at height %d has no stored parent", hash, rec.Height)
			}
		}

		node := newBlockNode(rec.Header, parent, rec.Status)
		if node.height != rec.Height {
			return fmt.Errorf("block %s stored at height %d, chain puts it at %d", hash, rec.Height, node.height)
		}

		bi.add(node)
	}

	return nil
}

// findFork returns the last block a and b have in common.
func findFork(a *blockNode, b *blockNode) *blockNode {
	if a.height > b.height {
		a = a.ancestor(b.height)
	} else {
		b = b.ancestor(a.height)
	}

	for a != b {
		a, b = a.parent, b.parent
	}

	return a
}
