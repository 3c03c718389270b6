// Package handlers manages the different versions of the API.
package handlers

import (
	"context"
	"expvar"
	"net/http"
	"net/http/pprof"
	"os"

	"github.com/btpc/node/app/services/node/handlers/debug/checkgrp"
	v1 "github.com/btpc/node/app/services/node/handlers/v1"
	"github.com/btpc/node/business/web/mid"
	"github.com/btpc/node/foundation/blockchain/state"
	"github.com/btpc/node/foundation/events"
	"github.com/btpc/node/foundation/nameservice"
	"github.com/btpc/node/foundation/web"
	"github.com/dimfeld/httptreemux/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MuxConfig contains all the mandatory systems required by handlers.
type MuxConfig struct {
	Shutdown chan os.Signal
	Origins  []string
	Log      *zap.SugaredLogger
	State    *state.State
	NS       *nameservice.NameService
	Evts     *events.Events
}

// PublicMux constructs a http.Handler with all application routes defined.
func PublicMux(cfg MuxConfig) http.Handler {

	// Construct the web.App which holds all routes as well as common Middleware.
	app := web.NewApp(
		cfg.Shutdown,
		mid.Logger(cfg.Log),
		mid.Errors(cfg.Log),
		mid.Metrics(),
		mid.Cors(cfg.Origins...),
		mid.Panics(),
	)

	// Accept CORS 'OPTIONS' preflight requests.
	h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return nil
	}
	app.Handle(http.MethodOptions, "", "/*", h, mid.Cors(cfg.Origins...))

	// Load the v1 routes.
	v1.PublicRoutes(app, v1.Config{
		Log:   cfg.Log,
		State: cfg.State,
		NS:    cfg.NS,
		Evts:  cfg.Evts,
	})

	return app
}

// PrivateMux constructs a http.Handler with the routes block producers use.
func PrivateMux(cfg MuxConfig) http.Handler {

	// Construct the web.App which holds all routes as well as common Middleware.
	app := web.NewApp(
		cfg.Shutdown,
		mid.Logger(cfg.Log),
		mid.Errors(cfg.Log),
		mid.Metrics(),
		mid.Panics(),
	)

	// Load the v1 routes.
	v1.PrivateRoutes(app, v1.Config{
		Log:   cfg.Log,
		State: cfg.State,
	})

	return app
}

// DebugMux registers the standard library debug routes, the prometheus
// collectors and the health checks of the node. This bypasses the use of
// the DefaultServerMux. Using the DefaultServerMux would be a security risk
// since a dependency could inject a handler into our service without us
// knowing it.
func DebugMux(build string, log *zap.SugaredLogger, st *state.State) http.Handler {
	mux := httptreemux.NewContextMux()

	// Register all the standard library debug endpoints.
	mux.Handle(http.MethodGet, "/debug/pprof/*", pprof.Index)
	mux.Handle(http.MethodGet, "/debug/pprof/cmdline", pprof.Cmdline)
	mux.Handle(http.MethodGet, "/debug/pprof/profile", pprof.Profile)
	mux.Handle(http.MethodGet, "/debug/pprof/symbol", pprof.Symbol)
	mux.Handle(http.MethodGet, "/debug/pprof/trace", pprof.Trace)
	mux.Handler(http.MethodGet, "/debug/vars", expvar.Handler())

	// Register the prometheus collectors.
	mux.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	// Register debug check endpoints.
	cgh := checkgrp.Handlers{
		Build: build,
		Log:   log,
		State: st,
	}
	mux.Handle(http.MethodGet, "/debug/readiness", cgh.Readiness)
	mux.Handle(http.MethodGet, "/debug/liveness", cgh.Liveness)

	return mux
}
