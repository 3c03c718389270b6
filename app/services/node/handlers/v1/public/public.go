// Package public maintains the group of handlers for public access.
package public

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/btpc/node/business/web/errs"
	"github.com/btpc/node/foundation/blockchain/database"
	"github.com/btpc/node/foundation/blockchain/signature"
	"github.com/btpc/node/foundation/blockchain/state"
	"github.com/btpc/node/foundation/events"
	"github.com/btpc/node/foundation/nameservice"
	"github.com/btpc/node/foundation/web"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of node endpoints open to wallets and viewers.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// Params returns the consensus parameters of the network.
func (h Handlers) Params(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.Params(), http.StatusOK)
}

// Chain returns the active tip and the tips of every known chain.
func (h Handlers) Chain(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	active, tips := h.State.SelectBestChain()

	resp := chain{
		Active: active,
		Tips:   tips,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// BlockByHeight returns the block of the active chain at the height.
func (h Handlers) BlockByHeight(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	height, err := strconv.ParseUint(web.Param(r, "height"), 10, 64)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("parsing height: %w", err), http.StatusBadRequest)
	}

	block, err := h.State.QueryBlockByHeight(height)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return errs.NewTrusted(err, http.StatusNotFound)
		}
		return err
	}

	return web.Respond(ctx, w, block, http.StatusOK)
}

// BlockStatus returns where a block stands relative to the active chain.
func (h Handlers) BlockStatus(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash, err := signature.ParseHash(web.Param(r, "hash"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	status, height, err := h.State.QueryBlockStatus(hash)
	if err != nil {
		return errs.NewTrusted(err, http.StatusNotFound)
	}

	work, err := h.State.CumulativeWork(hash)
	if err != nil {
		return errs.NewTrusted(err, http.StatusNotFound)
	}

	resp := blockStatus{
		Hash:   hash,
		Status: status.String(),
		Height: height,
		Work:   work,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// UTXO returns an unspent output of the active chain.
func (h Handlers) UTXO(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	txID, err := signature.ParseHash(web.Param(r, "txid"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	index, err := strconv.ParseUint(web.Param(r, "index"), 10, 32)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("parsing index: %w", err), http.StatusBadRequest)
	}

	op := database.Outpoint{TxID: txID, Index: uint32(index)}

	entry, exists := h.State.QueryUTXO(op)
	if !exists {
		return errs.NewTrusted(fmt.Errorf("output %s is not unspent", op), http.StatusNotFound)
	}

	resp := utxo{
		Outpoint: op,
		Entry:    entry,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// WalletUTXOs returns the unspent outputs locked to a key hash, oldest
// first.
func (h Handlers) WalletUTXOs(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	raw, err := hexutil.Decode(web.Param(r, "keyhash"))
	if err != nil || len(raw) != 32 {
		return errs.NewTrusted(fmt.Errorf("key hash %q is not 32 bytes of 0x prefixed hex", web.Param(r, "keyhash")), http.StatusBadRequest)
	}

	var keyHash [32]byte
	copy(keyHash[:], raw)

	resp := wallet{
		Name:  h.NS.Lookup(keyHash),
		UTXOs: []utxo{},
	}
	for op, entry := range h.State.QueryUTXOsByKeyHash(keyHash) {
		resp.UTXOs = append(resp.UTXOs, utxo{Outpoint: op, Entry: entry})
		resp.Total += entry.Value
	}

	slices.SortFunc(resp.UTXOs, func(a, b utxo) int {
		if c := cmp.Compare(a.Entry.Height, b.Entry.Height); c != 0 {
			return c
		}
		if c := bytes.Compare(a.Outpoint.TxID[:], b.Outpoint.TxID[:]); c != 0 {
			return c
		}
		return cmp.Compare(a.Outpoint.Index, b.Outpoint.Index)
	})

	tip, _ := h.State.SelectBestChain()
	resp.TipHeight = tip.Height

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Ledger returns the size and total value of the unspent outputs.
func (h Handlers) Ledger(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	count, total, err := h.State.QueryLedger()
	if err != nil {
		return err
	}

	resp := ledger{
		Outputs: count,
		Total:   total,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Mempool returns the set of uncommitted transactions.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	entries := h.State.QueryMempool()

	trans := make([]tx, len(entries))
	for i, entry := range entries {
		trans[i] = tx{
			TxID:    entry.TxID,
			Fee:     entry.Fee,
			Size:    entry.Size,
			AddedAt: entry.AddedAt,
			Tx:      entry.Tx,
		}
	}

	return web.Respond(ctx, w, trans, http.StatusOK)
}

// MempoolStats returns the mempool totals.
func (h Handlers) MempoolStats(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.QueryMempoolStats(), http.StatusOK)
}

// SubmitTransaction adds a signed wallet transaction to the mempool.
func (h Handlers) SubmitTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var trans database.Tx
	if err := web.Decode(r, &trans); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	h.Log.Infow("submit tran", "traceid", v.TraceID, "tx", trans.ID(), "inputs", len(trans.Inputs), "outputs", len(trans.Outputs))

	entry, err := h.State.SubmitToMempool(trans)
	if err != nil {
		return errs.NewRuleError(err)
	}

	resp := submitted{
		Status: "transaction added to mempool",
		TxID:   entry.TxID,
		Fee:    entry.Fee,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}
