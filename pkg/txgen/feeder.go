package txgen

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/edaix/pkg/app/core/transaction"
)

// Submitter admits raw signed transactions
type Submitter interface {
	PushTx(raw []byte) (*transaction.SignedTransaction, error)
}

// FeederConfig controls transaction generation rate
type FeederConfig struct {
	BatchSize int           // txs per batch
	Interval  time.Duration // how often to generate batches
}

// DefaultFeederConfig returns a modest devnet load of 100 tx/sec
func DefaultFeederConfig() FeederConfig {
	return FeederConfig{BatchSize: 10, Interval: 100 * time.Millisecond}
}

// HighLoadConfig returns config for stress testing, 1000 tx/sec
func HighLoadConfig() FeederConfig {
	return FeederConfig{BatchSize: 100, Interval: 100 * time.Millisecond}
}

// Feed submits the bootstrap transactions and then a batch every interval
// until ctx is cancelled. Rejected submissions are counted, not retried.
func Feed(ctx context.Context, gen *Generator, sub Submitter, cfg FeederConfig, log *zap.SugaredLogger) error {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	boot, err := gen.Bootstrap()
	if err != nil {
		return err
	}
	var submitted, rejected int
	push := func(batch [][]byte) {
		for _, raw := range batch {
			if _, err := sub.PushTx(raw); err != nil {
				rejected++
				log.Debugw("txgen_rejected", "err", err)
				continue
			}
			submitted++
		}
	}
	push(boot)

	start := time.Now()
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	statsTicker := time.NewTicker(10 * time.Second)
	defer statsTicker.Stop()

	log.Infow("txgen_started", "instrument", gen.cfg.Instrument, "accounts", len(gen.traders),
		"batch", cfg.BatchSize, "interval", cfg.Interval.String())
	for {
		select {
		case <-ctx.Done():
			elapsed := time.Since(start)
			log.Infow("txgen_stopped", "submitted", submitted, "rejected", rejected,
				"tx_per_sec", float64(submitted)/elapsed.Seconds())
			return nil
		case <-statsTicker.C:
			elapsed := time.Since(start)
			log.Infow("txgen_stats", "submitted", submitted, "rejected", rejected,
				"tx_per_sec", float64(submitted)/elapsed.Seconds())
		case <-ticker.C:
			batch, err := gen.NextBatch(cfg.BatchSize)
			if err != nil {
				return err
			}
			push(batch)
		}
	}
}
