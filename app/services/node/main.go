package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/btpc/node/app/services/node/handlers"
	"github.com/btpc/node/foundation/blockchain/database"
	"github.com/btpc/node/foundation/blockchain/genesis"
	"github.com/btpc/node/foundation/blockchain/mempool"
	"github.com/btpc/node/foundation/blockchain/signature"
	"github.com/btpc/node/foundation/blockchain/state"
	"github.com/btpc/node/foundation/blockchain/storage/ldb"
	"github.com/btpc/node/foundation/blockchain/worker"
	"github.com/btpc/node/foundation/events"
	"github.com/btpc/node/foundation/logger"
	"github.com/btpc/node/foundation/nameservice"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// This is all the configuration for the application and the default values.
	// Configuration values will be passed through the application as individual
	// values.
	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
			CorsOrigins     []string      `conf:"default:*"`
		}
		State struct {
			Network        string `conf:"default:regtest"`
			ParamsFile     string
			DBPath         string `conf:"default:zblock/chain.db"`
			SelectStrategy string `conf:"default:feerate"`
			Mining         bool   `conf:"default:false"`
			MineEmpty      bool   `conf:"default:false"`
			MinerKeyPath   string `conf:"default:zblock/miner.key"`
		}
		Mempool struct {
			MaxCount      int           `conf:"default:5000"`
			MaxBytes      int           `conf:"default:300000000"`
			MaxTxSize     int           `conf:"default:100000"`
			MinFeePerByte uint64        `conf:"default:1"`
			MaxAge        time.Duration `conf:"default:72h"`
			RejectTTL     time.Duration `conf:"default:10m"`
		}
		NameService struct {
			Folder string `conf:"default:zblock/keys/"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "post-quantum proof of work node",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	fmt.Println(`  ____ _____ ____   ____   _   _  ___  ____  _____ `)
	fmt.Println(` | __ )_   _|  _ \ / ___| | \ | |/ _ \|  _ \| ____|`)
	fmt.Println(` |  _ \ | | | |_) | |     |  \| | | | | | | |  _|  `)
	fmt.Println(` | |_) || | |  __/| |___  | |\  | |_| | |_| | |___ `)
	fmt.Println(` |____/ |_| |_|    \____| |_| \_|\___/|____/|_____|`)
	fmt.Print("\n")

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Network Parameters

	var params genesis.Params
	switch cfg.State.ParamsFile {
	case "":
		params, err = genesis.ForNetwork(cfg.State.Network)
	default:
		params, err = genesis.Load(cfg.State.ParamsFile)
	}
	if err != nil {
		return fmt.Errorf("loading network parameters: %w", err)
	}

	log.Infow("startup", "status", "network parameters", "network", params.Name, "forkid", params.ForkID, "powlimit", fmt.Sprintf("%08x", params.PowLimitBits))

	// =========================================================================
	// Name Service Support

	// The nameservice package provides name resolution for key hashes. The
	// names come from the key file names in the configured folder.
	ns, err := nameservice.New(cfg.NameService.Folder)
	if err != nil {
		return fmt.Errorf("unable to load name service: %w", err)
	}

	// Logging the key hashes for documentation in the logs.
	for keyHash, name := range ns.Copy() {
		log.Infow("startup", "status", "nameservice", "name", name, "keyhash", fmt.Sprintf("%x", keyHash))
	}

	// =========================================================================
	// Blockchain Support

	// The miner key is only needed when this node produces blocks. The
	// coinbase of every mined block pays to it.
	var minerLock database.LockCondition
	if cfg.State.Mining {
		key, err := signature.LoadKey(cfg.State.MinerKeyPath)
		if err != nil {
			return fmt.Errorf("unable to load miner key: %w", err)
		}

		if minerLock, err = database.LockTo(key); err != nil {
			return fmt.Errorf("unable to lock to miner key: %w", err)
		}

		log.Infow("startup", "status", "miner key", "scheme", key.Scheme(), "name", ns.Lookup(minerLock.KeyHash))
	}

	// The blockchain packages accept a function of this signature to allow the
	// application to log. Every trace of this run shares one trace id. The
	// messages meant for viewers are sent to any websocket client that is
	// connected into the system through the events package.
	evts := events.New()
	ev := evts.Handler(log, uuid.NewString())

	// Open the key value store the chain lives in.
	db, err := ldb.New(cfg.State.DBPath, ev)
	if err != nil {
		return fmt.Errorf("unable to open storage: %w", err)
	}

	// The state value represents the blockchain node and manages the blockchain
	// database and provides an API for application support.
	st, err := state.New(state.Config{
		Params:  params,
		Storage: db,
		Mempool: mempool.Config{
			MaxCount:      cfg.Mempool.MaxCount,
			MaxBytes:      cfg.Mempool.MaxBytes,
			MaxTxSize:     cfg.Mempool.MaxTxSize,
			MinFeePerByte: cfg.Mempool.MinFeePerByte,
			MaxAge:        cfg.Mempool.MaxAge,
			RejectTTL:     cfg.Mempool.RejectTTL,
			Strategy:      cfg.State.SelectStrategy,
		},
		MinerLock: minerLock,
		EvHandler: ev,
	})
	if err != nil {
		db.Close()
		return err
	}
	defer st.Shutdown()

	// The worker package implements mining and mempool housekeeping. The
	// worker will register itself with the state.
	var options []func(w *worker.Worker)
	if cfg.State.Mining {
		options = append(options, worker.WithMining(cfg.State.MineEmpty))
	}
	worker.Run(st, ev, options...)

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	// The Debug function returns a mux to listen and serve on for all the debug
	// related endpoints. This includes the standard library endpoints.

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log, st)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	// Construct the mux for the public API calls.
	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Origins:  cfg.Web.CorsOrigins,
		Log:      log,
		State:    st,
		NS:       ns,
		Evts:     evts,
	})

	// Construct a server to service the requests against the mux.
	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	// Construct the mux for the private API calls.
	privateMux := handlers.PrivateMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
	})

	// Construct a server to service the requests against the mux.
	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      privateMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		// Give outstanding requests a deadline for completion.
		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}
