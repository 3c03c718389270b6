package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/btpc/node/foundation/blockchain/database"
	"github.com/btpc/node/foundation/blockchain/genesis"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var client = http.Client{Timeout: 30 * time.Second}

// coin is an unspent output as the node reports it.
type coin struct {
	Outpoint database.Outpoint  `json:"outpoint"`
	Entry    database.UTXOEntry `json:"entry"`
}

// coins is the set of outputs the node holds for a key hash.
type coins struct {
	TipHeight uint64 `json:"tip_height"`
	Total     uint64 `json:"total"`
	UTXOs     []coin `json:"utxos"`
}

// apiError is the body the node answers failures with.
type apiError struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func fetchCoins(keyHash [32]byte) (coins, error) {
	var c coins
	err := call(http.MethodGet, fmt.Sprintf("%s/v1/wallet/utxos/%s", url, hexutil.Encode(keyHash[:])), nil, &c)
	return c, err
}

func fetchParams() (genesis.Params, error) {
	var p genesis.Params
	err := call(http.MethodGet, fmt.Sprintf("%s/v1/genesis/params", url), nil, &p)
	return p, err
}

func submitTx(tx database.Tx) error {
	return call(http.MethodPost, fmt.Sprintf("%s/v1/tx/submit", url), tx, nil)
}

func call(method string, endpoint string, body any, resp any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequest(method, endpoint, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	r, err := client.Do(req)
	if err != nil {
		return err
	}
	defer r.Body.Close()

	if r.StatusCode != http.StatusOK {
		var ae apiError
		if err := json.NewDecoder(r.Body).Decode(&ae); err != nil {
			return fmt.Errorf("%s %s: status %d", method, endpoint, r.StatusCode)
		}
		if ae.Kind != "" {
			return fmt.Errorf("%s: %s", ae.Kind, ae.Error)
		}
		return fmt.Errorf("status %d: %s", r.StatusCode, ae.Error)
	}

	if resp == nil {
		return nil
	}

	return json.NewDecoder(r.Body).Decode(resp)
}
