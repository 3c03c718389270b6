package public

import (
	"math/big"
	"time"

	"github.com/btpc/node/foundation/blockchain/database"
	"github.com/btpc/node/foundation/blockchain/signature"
	"github.com/btpc/node/foundation/blockchain/state"
)

type chain struct {
	Active state.ChainTip   `json:"active"`
	Tips   []state.ChainTip `json:"tips"`
}

type blockStatus struct {
	Hash   signature.Hash `json:"hash"`
	Status string         `json:"status"`
	Height uint64         `json:"height"`
	Work   *big.Int       `json:"work"`
}

type utxo struct {
	Outpoint database.Outpoint  `json:"outpoint"`
	Entry    database.UTXOEntry `json:"entry"`
}

type wallet struct {
	Name      string `json:"name"`
	TipHeight uint64 `json:"tip_height"`
	Total     uint64 `json:"total"`
	UTXOs     []utxo `json:"utxos"`
}

type ledger struct {
	Outputs int    `json:"outputs"`
	Total   uint64 `json:"total"`
}

type tx struct {
	TxID    signature.Hash `json:"txid"`
	Fee     uint64         `json:"fee"`
	Size    int            `json:"size"`
	AddedAt time.Time      `json:"added_at"`
	Tx      database.Tx    `json:"tx"`
}

type submitted struct {
	Status string         `json:"status"`
	TxID   signature.Hash `json:"txid"`
	Fee    uint64         `json:"fee"`
}
