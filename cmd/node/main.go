package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/uhyunpark/nftmarket/params"
	"github.com/uhyunpark/nftmarket/pkg/abci"
	"github.com/uhyunpark/nftmarket/pkg/api"
	"github.com/uhyunpark/nftmarket/pkg/app/core/ledger"
	"github.com/uhyunpark/nftmarket/pkg/app/fixedprice"
	"github.com/uhyunpark/nftmarket/pkg/chain"
	"github.com/uhyunpark/nftmarket/pkg/crypto"
	"github.com/uhyunpark/nftmarket/pkg/storage"
	"github.com/uhyunpark/nftmarket/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
		sugar.Fatalw("data_dir_failed", "dir", cfg.Node.DataDir, "err", err)
	}

	// ---- Storage ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "chain.db"))
	if err != nil {
		sugar.Fatalw("store_open_failed", "err", err)
	}
	defer store.Close()

	wal, err := storage.NewFileWAL(filepath.Join(cfg.Node.DataDir, "wal.log"))
	if err != nil {
		sugar.Fatalw("wal_open_failed", "err", err)
	}
	defer wal.Close()

	// ---- App: fixed-price NFT marketplace ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	host := ledger.New()
	saved, restored, err := store.LoadMarketState()
	if err != nil {
		sugar.Fatalw("state_load_failed", "err", err)
	}
	if !restored && cfg.Node.GenesisFile != "" {
		genesis, err := loadGenesis(cfg.Node.GenesisFile)
		if err != nil {
			sugar.Fatalw("genesis_load_failed", "file", cfg.Node.GenesisFile, "err", err)
		}
		host.Import(genesis)
		sugar.Infow("genesis_loaded", "file", cfg.Node.GenesisFile, "accounts", len(genesis.Balances), "assets", len(genesis.Assets))
	}

	// ---- Transaction generator (optional) ----
	// Enable with: ENABLE_TXGEN=true TXGEN_MODE=default|high
	var gen *fixedprice.TxGenerator
	if os.Getenv("ENABLE_TXGEN") == "true" {
		if restored {
			sugar.Warn("txgen_disabled - generated accounts only exist on a fresh data dir")
		} else {
			domain := crypto.NewEIP712Signer(crypto.DefaultDomain(cfg.Marketplace.ChainID, cfg.Marketplace.Address))
			gen, err = fixedprice.NewTxGenerator(fixedprice.DefaultTxGenConfig(), domain)
			if err != nil {
				sugar.Fatalw("txgen_init_failed", "err", err)
			}
			if err := gen.Seed(host, cfg.Marketplace.Address); err != nil {
				sugar.Fatalw("txgen_seed_failed", "err", err)
			}
		}
	}

	app, err := fixedprice.NewApp(cfg.Marketplace, host, sugar.Named("app"), fixedprice.NewMetrics(reg))
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}
	if restored {
		if err := app.Restore(saved); err != nil {
			sugar.Fatalw("state_restore_failed", "err", err)
		}
	}

	bridge := &abci.Bridge{
		App: app,
		OnFinalize: func(b chain.Block, resp abci.ResponseFinalizeBlock) {
			if err := store.SaveResults(resp.TxResults); err != nil {
				sugar.Errorw("save_results_failed", "height", b.Height, "err", err)
			}
		},
	}

	// Blocks committed after the last saved state are re-executed.
	if h, ok := store.GetCommitted(); ok {
		head, ok := store.GetBlock(h)
		if !ok {
			sugar.Fatalw("committed_block_missing", "hash", h.String())
		}
		stateHeight := chain.Height(app.Height())
		if stateHeight > head.Height {
			sugar.Fatalw("state_ahead_of_chain", "state_height", stateHeight, "chain_height", head.Height)
		}
		if err := chain.Replay(store, bridge, stateHeight, head.Height); err != nil {
			sugar.Fatalw("replay_failed", "err", err)
		}
		if head.Height > stateHeight {
			sugar.Infow("replayed_blocks", "from", stateHeight+1, "to", head.Height)
		}
	}

	// ---- Block producer ----
	nodeID := os.Getenv("NODE_ID")
	if nodeID == "" {
		nodeID = "node-0"
	}
	producer := chain.NewProducer(bridge, store, util.RealClock{}, cfg.Node.MinBlockTime, nodeID)
	producer.WAL = wal
	producer.Logger = sugar.Named("chain")
	producer.VerboseLogging = cfg.Node.Verbose
	if err := producer.Resume(); err != nil {
		sugar.Fatalw("resume_failed", "err", err)
	}
	producer.OnBlockCommit = func(b chain.Block) {
		if err := store.SaveMarketState(app.MarketState()); err != nil {
			sugar.Errorw("save_state_failed", "height", b.Height, "err", err)
		}
	}

	sugar.Infow("block_time_config", "min_block_time_ms", cfg.Node.MinBlockTime.Milliseconds())

	// ---- API Server ----
	apiServer := api.NewServer(app, api.Options{
		Store:    store,
		Head:     producer,
		Gatherer: reg,
		Logger:   sugar.Named("api"),
	})
	app.OnResults(apiServer.BroadcastResults)

	go func() {
		if err := apiServer.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow("node_starting",
		"node_id", nodeID,
		"chain_id", cfg.Marketplace.ChainID,
		"marketplace", cfg.Marketplace.Address.Hex(),
		"height", producer.Head().Height)

	if gen != nil {
		feederCfg := fixedprice.DefaultFeederConfig()
		if os.Getenv("TXGEN_MODE") == "high" {
			feederCfg = fixedprice.HighLoadConfig()
		}
		cancelFeeder := fixedprice.StartTxFeeder(ctx, app, gen, feederCfg, sugar.Named("txfeeder"))
		defer cancelFeeder()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := producer.Run(ctx); err != nil && ctx.Err() == nil {
			sugar.Errorw("producer_failed", "err", err)
			stop()
		}
	}()

	// Progress logging loop
	logInterval := chain.Height(100)
	lastLogged := producer.Head().Height
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-done
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := apiServer.Shutdown(shutdownCtx); err != nil {
				sugar.Warnw("api_shutdown_failed", "err", err)
			}
			cancel()
			sugar.Infow("node_stopped", "height", producer.Head().Height)
			return
		case <-ticker.C:
			h := producer.Head().Height
			if h-lastLogged >= logInterval {
				sugar.Infow("chain_progress",
					"height", h,
					"mempool", app.PendingTxs(),
					"blocks_since_last_log", h-lastLogged)
				lastLogged = h
			}
		}
	}
}

func loadGenesis(path string) (ledger.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ledger.State{}, err
	}
	var st ledger.State
	if err := json.Unmarshal(data, &st); err != nil {
		return ledger.State{}, fmt.Errorf("parse genesis: %w", err)
	}
	return st, nil
}
