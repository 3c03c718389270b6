// Package private maintains the group of handlers for block producers.
package private

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/btpc/node/business/web/errs"
	"github.com/btpc/node/foundation/blockchain/database"
	"github.com/btpc/node/foundation/blockchain/state"
	"github.com/btpc/node/foundation/web"
	"go.uber.org/zap"
)

// maxBlockRange caps the number of blocks returned by one list call.
const maxBlockRange = 100

// Handlers manages the set of node endpoints used by miners.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
}

// ProposeBlock takes a block from a miner or another source, validates it
// and if that passes stores it, possibly switching the active chain.
func (h Handlers) ProposeBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var block database.Block
	if err := web.Decode(r, &block); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	h.Log.Infow("propose block", "traceid", v.TraceID, "block", block.Hash(), "prev", block.Header.PrevBlockHash)

	// A proposing node that stamps its requests feeds the adjusted clock.
	if date := r.Header.Get("Date"); date != "" {
		if peerTime, err := http.ParseTime(date); err == nil {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			h.State.AddTimeSample(host, peerTime)
		}
	}

	outcome, err := h.State.ProcessBlock(block)
	if err != nil {
		return errs.NewRuleError(err)
	}

	resp := struct {
		Hash    string `json:"hash"`
		Outcome string `json:"outcome"`
	}{
		Hash:    block.Hash().String(),
		Outcome: outcome.String(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// ValidateBlock checks a block without storing it.
func (h Handlers) ValidateBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var block database.Block
	if err := web.Decode(r, &block); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if err := h.State.ValidateBlock(block); err != nil {
		return errs.NewRuleError(err)
	}

	return web.Respond(ctx, w, nil, http.StatusNoContent)
}

// Status returns the active tip together with the bits the next block
// must carry.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	tip, _ := h.State.SelectBestChain()

	bits, err := h.State.QueryNextBits(tip.Hash)
	if err != nil {
		return err
	}

	resp := struct {
		Tip      state.ChainTip `json:"tip"`
		NextBits string         `json:"next_bits"`
		Mempool  int            `json:"mempool"`
	}{
		Tip:      tip,
		NextBits: fmt.Sprintf("%08x", bits),
		Mempool:  h.State.QueryMempoolLength(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// BlocksByHeight returns the active chain blocks between the heights.
func (h Handlers) BlocksByHeight(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	from, err := strconv.ParseUint(web.Param(r, "from"), 10, 64)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("parsing from: %w", err), http.StatusBadRequest)
	}

	var to uint64
	switch s := web.Param(r, "to"); s {
	case "latest":
		tip, _ := h.State.SelectBestChain()
		to = tip.Height
	default:
		if to, err = strconv.ParseUint(s, 10, 64); err != nil {
			return errs.NewTrusted(fmt.Errorf("parsing to: %w", err), http.StatusBadRequest)
		}
	}

	if from > to {
		return errs.NewTrusted(errors.New("from is greater than to"), http.StatusBadRequest)
	}
	if to-from >= maxBlockRange {
		to = from + maxBlockRange - 1
	}

	var blocks []database.Block
	for height := from; height <= to; height++ {
		block, err := h.State.QueryBlockByHeight(height)
		if err != nil {
			if errors.Is(err, state.ErrNotFound) {
				break
			}
			return err
		}
		blocks = append(blocks, block)
	}

	if len(blocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}

// SignalMining asks the node to start mining a block.
func (h Handlers) SignalMining(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if h.State.Worker != nil {
		h.State.Worker.SignalStartMining()
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "mining signalled",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}
