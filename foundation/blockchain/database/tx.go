package database

import (
	"encoding/binary"
	"fmt"

	"github.com/btpc/node/foundation/blockchain/signature"
)

// NullIndex is the output index of the null outpoint a coinbase spends.
const NullIndex = ^uint32(0)

// CoinbaseHeightSize is the number of leading coinbase data bytes that
// commit to the block height.
const CoinbaseHeightSize = 8

// Outpoint references one output of a prior transaction.
type Outpoint struct {
	TxID  signature.Hash `json:"txid"`
	Index uint32         `json:"index"`
}

// NullOutpoint returns the outpoint a coinbase input references.
func NullOutpoint() Outpoint {
	return Outpoint{Index: NullIndex}
}

// IsNull reports whether this is the coinbase outpoint.
func (op Outpoint) IsNull() bool {
	return op.Index == NullIndex && op.TxID.IsZero()
}

// String implements the fmt.Stringer interface for logging.
func (op Outpoint) String() string {
	return fmt.Sprintf("%s:%d", op.TxID, op.Index)
}

// LockCondition commits an output to the hash of a public key under a
// signature scheme.
type LockCondition struct {
	Scheme  signature.Scheme `json:"scheme"`
	KeyHash [32]byte         `json:"key_hash"`
}

// UnlockProof satisfies the lock condition of the output being spent.
// For the coinbase input Signature carries the coinbase data instead.
type UnlockProof struct {
	Scheme    signature.Scheme `json:"scheme"`
	PublicKey []byte           `json:"public_key"`
	Signature []byte           `json:"signature"`
}

// TxIn spends a prior output.
type TxIn struct {
	PrevOut  Outpoint    `json:"prev_out"`
	Unlock   UnlockProof `json:"unlock"`
	Sequence uint32      `json:"sequence"`
}

// TxOut creates a new spendable output.
type TxOut struct {
	Value uint64        `json:"value"`
	Lock  LockCondition `json:"lock"`
}

// Tx is the transactional information between two parties.
type Tx struct {
	Version  uint32  `json:"version"`   // Rules version the transaction follows.
	Inputs   []TxIn  `json:"inputs"`    // Outputs being consumed.
	Outputs  []TxOut `json:"outputs"`   // Outputs being created.
	LockTime uint32  `json:"lock_time"` // Height or time before which the transaction is not final.
	ForkID   uint8   `json:"fork_id"`   // Network discriminator that prevents cross-network replay.
}

// NewCoinbase constructs the transaction that pays the block reward. The
// coinbase data starts with the block height so every coinbase has a
// distinct id.
func NewCoinbase(height uint64, extra []byte, outputs []TxOut, forkID uint8) Tx {
	data := binary.LittleEndian.AppendUint64(make([]byte, 0, CoinbaseHeightSize+len(extra)), height)
	data = append(data, extra...)

	return Tx{
		Version: 1,
		Inputs: []TxIn{
			{
				PrevOut:  NullOutpoint(),
				Unlock:   UnlockProof{Signature: data},
				Sequence: ^uint32(0),
			},
		},
		Outputs: outputs,
		ForkID:  forkID,
	}
}

// IsCoinbase reports whether the transaction has the coinbase shape: one
// input spending the null outpoint.
func (tx Tx) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].PrevOut.IsNull()
}

// CoinbaseHeight extracts the committed height from a coinbase.
func (tx Tx) CoinbaseHeight() (uint64, bool) {
	if !tx.IsCoinbase() {
		return 0, false
	}

	data := tx.Inputs[0].Unlock.Signature
	if len(data) < CoinbaseHeightSize {
		return 0, false
	}

	return binary.LittleEndian.Uint64(data[:CoinbaseHeightSize]), true
}

// ID returns the transaction id, the double SHA-512 of its encoding.
func (tx Tx) ID() signature.Hash {
	return signature.DoubleSHA512(EncodeTx(tx))
}

// Size returns the encoded size of the transaction in bytes.
func (tx Tx) Size() int {
	return len(EncodeTx(tx))
}

// Hash implements the merkle Hashable interface.
func (tx Tx) Hash() signature.Hash {
	return tx.ID()
}

// Equals implements the merkle Hashable interface.
func (tx Tx) Equals(otherTx Tx) bool {
	return tx.ID() == otherTx.ID()
}

// SigHash returns the message the unlock proof of input index signs: the
// transaction with every proof blanked, followed by the index. The fork id
// is part of the transaction so signatures never verify on another network.
func (tx Tx) SigHash(index int) signature.Hash {
	var e encoder
	e.tx(tx, true)
	e.u32(uint32(index))

	return signature.DoubleSHA512(e.buf)
}

// SignInput fills the unlock proof of input index with a signature by key.
// Every input must already reference its outpoint and the outputs must be
// final, since both are covered by the signature.
func (tx *Tx) SignInput(index int, key signature.PrivateKey) error {
	if index < 0 || index >= len(tx.Inputs) {
		return fmt.Errorf("input index %d out of range", index)
	}

	pub, err := key.PublicKey()
	if err != nil {
		return err
	}

	msg := tx.SigHash(index)
	sig, err := key.Sign(msg[:])
	if err != nil {
		return err
	}

	tx.Inputs[index].Unlock = UnlockProof{
		Scheme:    key.Scheme(),
		PublicKey: pub,
		Signature: sig,
	}

	return nil
}

// LockTo returns the lock condition that pays to key.
func LockTo(key signature.PrivateKey) (LockCondition, error) {
	hash, err := key.LockHash()
	if err != nil {
		return LockCondition{}, err
	}

	return LockCondition{Scheme: key.Scheme(), KeyHash: hash}, nil
}

// String implements the fmt.Stringer interface for logging.
func (tx Tx) String() string {
	return fmt.Sprintf("%s[in:%d out:%d]", tx.ID(), len(tx.Inputs), len(tx.Outputs))
}
