package fixedprice

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/nftmarket/pkg/abci"
	"github.com/uhyunpark/nftmarket/pkg/util"
)

// TxFeederConfig controls transaction generation rate
type TxFeederConfig struct {
	BatchSize int    // envelopes pushed after every committed block
	LogEvery  uint64 // blocks between stats lines; 0 disables them
}

// DefaultFeederConfig returns reasonable defaults for testing
func DefaultFeederConfig() TxFeederConfig {
	return TxFeederConfig{BatchSize: 10, LogEvery: 100}
}

// HighLoadConfig returns config for stress testing
func HighLoadConfig() TxFeederConfig {
	return TxFeederConfig{BatchSize: 500, LogEvery: 100}
}

// StartTxFeeder pushes one batch right away and another after every
// finalized block, so each batch lands in a block of its own. The returned
// cancel function stops it.
func StartTxFeeder(ctx context.Context, app *App, gen *TxGenerator, cfg TxFeederConfig, logger *zap.SugaredLogger) context.CancelFunc {
	logger = util.OrNop(logger)
	feedCtx, cancel := context.WithCancel(ctx)

	var (
		mu    sync.Mutex
		total int
		start = time.Now()
	)
	feed := func() {
		mu.Lock()
		defer mu.Unlock()
		if feedCtx.Err() != nil {
			return
		}
		batch, err := gen.GenerateBatch(cfg.BatchSize)
		if err != nil {
			logger.Errorw("txfeeder_generate_failed", "err", err)
		}
		for _, raw := range batch {
			if _, err := app.PushTx(raw); err != nil {
				logger.Errorw("txfeeder_push_failed", "err", err)
				continue
			}
			total++
		}
	}

	app.OnResults(func(height uint64, results []abci.TxResult) {
		feed()
		if cfg.LogEvery == 0 || height%cfg.LogEvery != 0 {
			return
		}
		failed := 0
		for _, r := range results {
			if !r.OK() {
				failed++
			}
		}
		mu.Lock()
		elapsed := time.Since(start)
		logger.Infow("txfeeder_stats",
			"height", height,
			"total", total,
			"rate_tx_per_sec", float64(total)/elapsed.Seconds(),
			"failed_last_block", failed)
		mu.Unlock()
	})

	logger.Infow("txfeeder_started", "batch_size", cfg.BatchSize, "accounts", len(gen.Signers()))
	feed()
	return cancel
}
