package cmd

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/btpc/node/foundation/blockchain/database"
	"github.com/btpc/node/foundation/blockchain/signature"
)

// maxFeeRounds bounds how often the fee is raised to cover the size of the
// signed transaction.
const maxFeeRounds = 4

// ErrInsufficientFunds is returned when the spendable coins can't cover the
// payment and its fee.
var ErrInsufficientFunds = errors.New("insufficient funds")

// payment describes a transfer the wallet builds.
type payment struct {
	To      database.LockCondition
	Value   uint64
	FeeRate uint64 // Per encoded byte.
	ForkID  uint8
	Change  database.LockCondition
}

// spendableCoins drops the coinbase outputs that are not mature at height.
func spendableCoins(all []coin, height uint64, maturity uint64) []coin {
	var spendable []coin
	for _, c := range all {
		if c.Entry.Coinbase && (height < c.Entry.Height || height-c.Entry.Height < maturity) {
			continue
		}
		spendable = append(spendable, c)
	}
	return spendable
}

// buildTx spends coins in the order given until the payment and its fee are
// covered, sends the rest back as change and signs every input.
func buildTx(key signature.PrivateKey, spendable []coin, p payment) (database.Tx, error) {
	var fee uint64

	for range maxFeeRounds {
		tx, err := assemble(spendable, p, fee)
		if err != nil {
			return database.Tx{}, err
		}

		for i := range tx.Inputs {
			if err := tx.SignInput(i, key); err != nil {
				return database.Tx{}, err
			}
		}

		hi, need := bits.Mul64(p.FeeRate, uint64(tx.Size()))
		if hi != 0 {
			return database.Tx{}, errors.New("fee overflows")
		}
		if fee >= need {
			return tx, nil
		}
		fee = need
	}

	return database.Tx{}, fmt.Errorf("fee did not settle after %d rounds", maxFeeRounds)
}

func assemble(spendable []coin, p payment, fee uint64) (database.Tx, error) {
	need, carry := bits.Add64(p.Value, fee, 0)
	if carry != 0 {
		return database.Tx{}, errors.New("value and fee overflow")
	}

	tx := database.Tx{
		Version: 1,
		ForkID:  p.ForkID,
		Outputs: []database.TxOut{{Value: p.Value, Lock: p.To}},
	}

	var have uint64
	for _, c := range spendable {
		if have >= need {
			break
		}
		tx.Inputs = append(tx.Inputs, database.TxIn{PrevOut: c.Outpoint, Sequence: ^uint32(0)})
		have += c.Entry.Value
	}

	if have < need {
		return database.Tx{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, have, need)
	}

	if change := have - need; change > 0 {
		tx.Outputs = append(tx.Outputs, database.TxOut{Value: change, Lock: p.Change})
	}

	return tx, nil
}
