// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/btpc/node/app/services/node/handlers/v1/private"
	"github.com/btpc/node/app/services/node/handlers/v1/public"
	"github.com/btpc/node/foundation/blockchain/state"
	"github.com/btpc/node/foundation/events"
	"github.com/btpc/node/foundation/nameservice"
	"github.com/btpc/node/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
	Evts  *events.Events
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		NS:    cfg.NS,
		WS:    websocket.Upgrader{},
		Evts:  cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/genesis/params", pbl.Params)
	app.Handle(http.MethodGet, version, "/chain/tips", pbl.Chain)
	app.Handle(http.MethodGet, version, "/blocks/height/:height", pbl.BlockByHeight)
	app.Handle(http.MethodGet, version, "/blocks/status/:hash", pbl.BlockStatus)
	app.Handle(http.MethodGet, version, "/utxo/:txid/:index", pbl.UTXO)
	app.Handle(http.MethodGet, version, "/wallet/utxos/:keyhash", pbl.WalletUTXOs)
	app.Handle(http.MethodGet, version, "/ledger", pbl.Ledger)
	app.Handle(http.MethodGet, version, "/tx/uncommitted/list", pbl.Mempool)
	app.Handle(http.MethodGet, version, "/tx/uncommitted/stats", pbl.MempoolStats)
	app.Handle(http.MethodPost, version, "/tx/submit", pbl.SubmitTransaction)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
	}

	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
	app.Handle(http.MethodGet, version, "/node/block/list/:from/:to", prv.BlocksByHeight)
	app.Handle(http.MethodPost, version, "/node/block/propose", prv.ProposeBlock)
	app.Handle(http.MethodPost, version, "/node/block/validate", prv.ValidateBlock)
	app.Handle(http.MethodGet, version, "/node/mining/signal", prv.SignalMining)
}
