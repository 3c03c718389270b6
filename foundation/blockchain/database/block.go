package database

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/btpc/node/foundation/blockchain/difficulty"
	"github.com/btpc/node/foundation/blockchain/merkle"
	"github.com/btpc/node/foundation/blockchain/signature"
)

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	Version       uint32         `json:"version"`         // Rules version the block follows.
	PrevBlockHash signature.Hash `json:"prev_block_hash"` // Hash of the previous block in the chain.
	MerkleRoot    signature.Hash `json:"merkle_root"`     // Merkle tree root hash for the transactions in this block.
	TimeStamp     uint64         `json:"timestamp"`       // Time the block was mined, unix seconds.
	Bits          uint32         `json:"bits"`            // Compact form of the target the hash must meet.
	Nonce         uint64         `json:"nonce"`           // Value identified to solve the hash solution.
}

// Hash returns the block hash, the double SHA-512 of the encoded header.
//
// Only the header is hashed so the chain can be checked with headers
// alone. The merkle root commits to the transactions.
func (h BlockHeader) Hash() signature.Hash {
	return signature.DoubleSHA512(EncodeHeader(h))
}

// HeaderInfo returns what the difficulty engine needs from this header.
func (h BlockHeader) HeaderInfo(height uint64) difficulty.HeaderInfo {
	return difficulty.HeaderInfo{
		Height:    height,
		TimeStamp: h.TimeStamp,
		Bits:      h.Bits,
	}
}

// Block represents a group of transactions batched together. The first
// transaction is the coinbase.
type Block struct {
	Header BlockHeader `json:"header"`
	Trans  []Tx        `json:"trans"`
}

// Hash returns the unique hash for the Block.
func (b Block) Hash() signature.Hash {
	return b.Header.Hash()
}

// Size returns the encoded size of the block in bytes.
func (b Block) Size() int {
	return len(EncodeBlock(b))
}

// ComputeMerkleRoot returns the merkle root of the block's transactions.
func (b Block) ComputeMerkleRoot() (signature.Hash, error) {
	return merkle.Root(b.Trans)
}

// String implements the fmt.Stringer interface for logging.
func (b Block) String() string {
	return fmt.Sprintf("%s[trans:%d]", b.Hash(), len(b.Trans))
}

// =============================================================================

// POWArgs represents the set of arguments required to run POW.
type POWArgs struct {
	PrevBlockHash signature.Hash
	TimeStamp     uint64
	Bits          uint32
	Trans         []Tx
	EvHandler     func(v string, args ...any)
}

// POW constructs a new Block and performs the work to find a nonce that
// solves the cryptographic POW puzzle.
func POW(ctx context.Context, args POWArgs) (Block, error) {
	evHandler := args.EvHandler
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	target, err := difficulty.TargetFromCompact(args.Bits)
	if err != nil {
		return Block{}, fmt.Errorf("decoding bits: %w", err)
	}
	if err := target.Validate(); err != nil {
		return Block{}, err
	}

	// Construct a merkle tree from the transactions for this block. The root
	// of this tree will be part of the block to be mined.
	root, err := merkle.Root(args.Trans)
	if err != nil {
		return Block{}, err
	}

	nb := Block{
		Header: BlockHeader{
			Version:       1,
			PrevBlockHash: args.PrevBlockHash,
			MerkleRoot:    root,
			TimeStamp:     args.TimeStamp,
			Bits:          args.Bits,
			Nonce:         0, // Will be identified by the POW algorithm.
		},
		Trans: args.Trans,
	}

	if err := nb.performPOW(ctx, target, ev); err != nil {
		return Block{}, err
	}

	return nb, nil
}

// performPOW does the work of mining to find a valid hash for a specified
// block. Pointer semantics are being used since a nonce is being discovered.
func (b *Block) performPOW(ctx context.Context, target difficulty.Target, ev func(v string, args ...any)) error {
	ev("database: PerformPOW: MINING: started: bits[%08x]", b.Header.Bits)
	defer ev("database: PerformPOW: MINING: completed")

	// Choose a random starting point for the nonce. After this, the nonce
	// will be incremented by 1 until a solution is found by us or another node.
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return err
	}
	b.Header.Nonce = binary.LittleEndian.Uint64(seed[:])

	// Only the nonce changes between attempts so the header is encoded once.
	header := EncodeHeader(b.Header)
	nonceAt := len(header) - 8

	var attempts uint64
	for {
		attempts++
		if attempts%1_000_000 == 0 {
			ev("database: PerformPOW: MINING: attempts[%d]", attempts)
		}

		// Did we timeout trying to solve the problem.
		if ctx.Err() != nil {
			ev("database: PerformPOW: MINING: CANCELLED")
			return ctx.Err()
		}

		binary.LittleEndian.PutUint64(header[nonceAt:], b.Header.Nonce)

		hash := signature.DoubleSHA512(header)
		if !difficulty.CheckProofOfWork(hash, target) {
			b.Header.Nonce++
			continue
		}

		ev("database: PerformPOW: MINING: SOLVED: prevBlk[%s]: newBlk[%s]", b.Header.PrevBlockHash, hash)
		ev("database: PerformPOW: MINING: attempts[%d]", attempts)

		return nil
	}
}
