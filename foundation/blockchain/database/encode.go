package database

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btpc/node/foundation/blockchain/signature"
)

// ErrMalformed is returned when bytes do not decode to a canonical value.
var ErrMalformed = errors.New("malformed encoding")

// Upper bounds enforced while decoding so hostile input can't force large
// allocations. They sit above anything a supported scheme produces.
const (
	maxPublicKeyLen = 4096
	maxSignatureLen = 8192
)

// HeaderSize is the encoded size of a block header.
const HeaderSize = 4 + signature.HashSize + signature.HashSize + 8 + 4 + 8

// Encoded sizes used to bound counts while decoding.
const (
	outpointSize = signature.HashSize + 4
	minInputSize = outpointSize + 1 + 1 + 1 + 4
	outputSize   = 8 + 1 + 32
)

// =============================================================================

type encoder struct {
	buf []byte
}

func (e *encoder) u8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *encoder) u32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *encoder) u64(v uint64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}

func (e *encoder) uvarint(v uint64) {
	e.buf = binary.AppendUvarint(e.buf, v)
}

func (e *encoder) hash(h signature.Hash) {
	e.buf = append(e.buf, h[:]...)
}

func (e *encoder) bytes(b []byte) {
	e.uvarint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

// =============================================================================

type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %s at offset %d", ErrMalformed, fmt.Sprintf(format, args...), d.off)
	}
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.off
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.remaining() < n {
		d.fail("need %d bytes, have %d", n, d.remaining())
		return nil
	}

	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *decoder) hash() signature.Hash {
	var h signature.Hash
	copy(h[:], d.take(signature.HashSize))
	return h
}

// uvarint rejects overlong encodings so every value has exactly one
// encoding and therefore one hash.
func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}

	v, n := binary.Uvarint(d.buf[d.off:])
	if n <= 0 {
		d.fail("bad varint")
		return 0
	}
	if n != len(binary.AppendUvarint(nil, v)) {
		d.fail("non-canonical varint")
		return 0
	}

	d.off += n
	return v
}

// count reads a collection length and checks it against the bytes left.
func (d *decoder) count(minElemSize int) int {
	v := d.uvarint()
	if d.err != nil {
		return 0
	}

	if v > uint64(d.remaining()/minElemSize) {
		d.fail("count %d exceeds remaining input", v)
		return 0
	}

	return int(v)
}

func (d *decoder) bytes(max int) []byte {
	v := d.uvarint()
	if d.err != nil {
		return nil
	}

	if v > uint64(max) {
		d.fail("length %d exceeds %d", v, max)
		return nil
	}

	b := d.take(int(v))
	if b == nil {
		return nil
	}

	return append([]byte(nil), b...)
}

func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if d.remaining() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, d.remaining())
	}
	return nil
}

// =============================================================================

func (e *encoder) outpoint(op Outpoint) {
	e.hash(op.TxID)
	e.u32(op.Index)
}

func (d *decoder) outpoint() Outpoint {
	return Outpoint{TxID: d.hash(), Index: d.u32()}
}

func (e *encoder) lock(l LockCondition) {
	e.u8(uint8(l.Scheme))
	e.buf = append(e.buf, l.KeyHash[:]...)
}

func (d *decoder) lock() LockCondition {
	l := LockCondition{Scheme: signature.Scheme(d.u8())}
	copy(l.KeyHash[:], d.take(32))
	return l
}

func (e *encoder) tx(tx Tx, blankProofs bool) {
	e.u32(tx.Version)

	e.uvarint(uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		e.outpoint(in.PrevOut)
		if blankProofs {
			e.u8(0)
			e.bytes(nil)
			e.bytes(nil)
		} else {
			e.u8(uint8(in.Unlock.Scheme))
			e.bytes(in.Unlock.PublicKey)
			e.bytes(in.Unlock.Signature)
		}
		e.u32(in.Sequence)
	}

	e.uvarint(uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		e.u64(out.Value)
		e.lock(out.Lock)
	}

	e.u32(tx.LockTime)
	e.u8(tx.ForkID)
}

func (d *decoder) tx() Tx {
	var tx Tx
	tx.Version = d.u32()

	n := d.count(minInputSize)
	if n > 0 {
		tx.Inputs = make([]TxIn, n)
	}
	for i := range tx.Inputs {
		tx.Inputs[i] = TxIn{
			PrevOut: d.outpoint(),
			Unlock: UnlockProof{
				Scheme:    signature.Scheme(d.u8()),
				PublicKey: d.bytes(maxPublicKeyLen),
				Signature: d.bytes(maxSignatureLen),
			},
			Sequence: d.u32(),
		}
	}

	n = d.count(outputSize)
	if n > 0 {
		tx.Outputs = make([]TxOut, n)
	}
	for i := range tx.Outputs {
		tx.Outputs[i] = TxOut{Value: d.u64(), Lock: d.lock()}
	}

	tx.LockTime = d.u32()
	tx.ForkID = d.u8()

	return tx
}

func (e *encoder) header(h BlockHeader) {
	e.u32(h.Version)
	e.hash(h.PrevBlockHash)
	e.hash(h.MerkleRoot)
	e.u64(h.TimeStamp)
	e.u32(h.Bits)
	e.u64(h.Nonce)
}

func (d *decoder) header() BlockHeader {
	return BlockHeader{
		Version:       d.u32(),
		PrevBlockHash: d.hash(),
		MerkleRoot:    d.hash(),
		TimeStamp:     d.u64(),
		Bits:          d.u32(),
		Nonce:         d.u64(),
	}
}

func (e *encoder) entry(u UTXOEntry) {
	e.u64(u.Value)
	e.lock(u.Lock)
	e.u64(u.Height)
	if u.Coinbase {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (d *decoder) entry() UTXOEntry {
	u := UTXOEntry{
		Value:  d.u64(),
		Lock:   d.lock(),
		Height: d.u64(),
	}

	switch d.u8() {
	case 0:
	case 1:
		u.Coinbase = true
	default:
		d.fail("bad coinbase flag")
	}

	return u
}

// =============================================================================

// EncodeTx returns the canonical encoding of the transaction.
func EncodeTx(tx Tx) []byte {
	var e encoder
	e.tx(tx, false)
	return e.buf
}

// DecodeTx decodes a transaction. The input must hold exactly one.
func DecodeTx(data []byte) (Tx, error) {
	d := decoder{buf: data}
	tx := d.tx()
	if err := d.finish(); err != nil {
		return Tx{}, err
	}
	return tx, nil
}

// EncodeHeader returns the canonical encoding of the header.
func EncodeHeader(h BlockHeader) []byte {
	e := encoder{buf: make([]byte, 0, HeaderSize)}
	e.header(h)
	return e.buf
}

// DecodeHeader decodes a block header.
func DecodeHeader(data []byte) (BlockHeader, error) {
	d := decoder{buf: data}
	h := d.header()
	if err := d.finish(); err != nil {
		return BlockHeader{}, err
	}
	return h, nil
}

// EncodeBlock returns the canonical encoding of the block.
func EncodeBlock(b Block) []byte {
	var e encoder
	e.header(b.Header)
	e.uvarint(uint64(len(b.Trans)))
	for _, tx := range b.Trans {
		e.tx(tx, false)
	}
	return e.buf
}

// DecodeBlock decodes a block.
func DecodeBlock(data []byte) (Block, error) {
	d := decoder{buf: data}

	b := Block{Header: d.header()}

	n := d.count(4 + 1 + 1 + 4 + 1)
	if n > 0 {
		b.Trans = make([]Tx, n)
	}
	for i := range b.Trans {
		b.Trans[i] = d.tx()
	}

	if err := d.finish(); err != nil {
		return Block{}, err
	}
	return b, nil
}

// EncodeUTXOEntry returns the storage encoding of an unspent output.
func EncodeUTXOEntry(u UTXOEntry) []byte {
	var e encoder
	e.entry(u)
	return e.buf
}

// DecodeUTXOEntry decodes an unspent output.
func DecodeUTXOEntry(data []byte) (UTXOEntry, error) {
	d := decoder{buf: data}
	u := d.entry()
	if err := d.finish(); err != nil {
		return UTXOEntry{}, err
	}
	return u, nil
}

// EncodeOutpoint returns the fixed width encoding of an outpoint.
func EncodeOutpoint(op Outpoint) []byte {
	e := encoder{buf: make([]byte, 0, outpointSize)}
	e.outpoint(op)
	return e.buf
}

// DecodeOutpoint decodes an outpoint.
func DecodeOutpoint(data []byte) (Outpoint, error) {
	d := decoder{buf: data}
	op := d.outpoint()
	if err := d.finish(); err != nil {
		return Outpoint{}, err
	}
	return op, nil
}

// EncodeUndo returns the storage encoding of a block's spent outputs.
func EncodeUndo(undo []SpentOutput) []byte {
	var e encoder
	e.uvarint(uint64(len(undo)))
	for _, so := range undo {
		e.outpoint(so.Outpoint)
		e.entry(so.Entry)
	}
	return e.buf
}

// DecodeUndo decodes a block's spent outputs.
func DecodeUndo(data []byte) ([]SpentOutput, error) {
	d := decoder{buf: data}

	n := d.count(outpointSize + outputSize + 8 + 1)
	undo := make([]SpentOutput, n)
	for i := range undo {
		undo[i] = SpentOutput{Outpoint: d.outpoint(), Entry: d.entry()}
	}

	if err := d.finish(); err != nil {
		return nil, err
	}
	return undo, nil
}
