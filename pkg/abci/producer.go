package abci

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/edaix/pkg/util"
)

// DefaultMaxTxBytes bounds a block's payload
const DefaultMaxTxBytes = 1 << 24

// Producer drives a single-node block loop: every interval it asks the
// application for a proposal, finalizes it at the clock's current time and
// commits it. Empty proposals do not produce blocks.
type Producer struct {
	app        Application
	clock      util.Clock
	interval   time.Duration
	maxTxBytes int64
	log        *zap.SugaredLogger

	height atomic.Int64 // read by status queries while Run advances it
	last   Hash
}

// NewProducer continues the chain after the given last block; pass the zero
// Block for a fresh chain.
func NewProducer(app Application, clock util.Clock, interval time.Duration, last Block, logger *zap.SugaredLogger) *Producer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	p := &Producer{
		app:        app,
		clock:      clock,
		interval:   interval,
		maxTxBytes: DefaultMaxTxBytes,
		log:        logger,
	}
	p.height.Store(last.Height)
	if last.Height > 0 {
		p.last = HashOfBlock(last)
	}
	return p
}

func (p *Producer) Height() int64 { return p.height.Load() }

// Step produces at most one block. It returns false when the mempool had
// nothing to propose.
func (p *Producer) Step() (Block, bool, error) {
	if err := p.app.Err(); err != nil {
		return Block{}, false, fmt.Errorf("application halted: %w", err)
	}
	next := p.height.Load() + 1
	prop := p.app.PrepareProposal(RequestPrepareProposal{Height: next, MaxTxBytes: p.maxTxBytes})
	if len(prop.Txs) == 0 {
		return Block{}, false, nil
	}
	if !p.app.ProcessProposal(RequestProcessProposal{Height: next, Txs: prop.Txs}).Accept {
		p.log.Warnw("proposal_rejected", "height", next, "txs", len(prop.Txs))
		return Block{}, false, nil
	}

	blk := Block{Height: next, Time: p.clock.Now().UnixMilli(), Parent: p.last, Txs: prop.Txs}
	resp := p.app.FinalizeBlock(RequestFinalizeBlock{Height: blk.Height, Timestamp: blk.Time, Txs: blk.Txs})
	blk.AppHash = resp.AppHash
	if err := p.app.Commit(blk); err != nil {
		return Block{}, false, fmt.Errorf("commit block %d: %w", blk.Height, err)
	}
	p.height.Store(blk.Height)
	p.last = HashOfBlock(blk)
	return blk, true, nil
}

// Run produces blocks until ctx is cancelled or the application halts
func (p *Producer) Run(ctx context.Context) error {
	p.log.Infow("producer_started", "height", p.height.Load(), "interval", p.interval.String())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(p.interval):
		}
		blk, ok, err := p.Step()
		if err != nil {
			p.log.Errorw("producer_halted", "height", p.height.Load(), "err", err)
			return err
		}
		if ok {
			p.log.Debugw("block_committed", "height", blk.Height, "txs", len(blk.Txs), "app_hash", blk.AppHash.Hex())
		}
	}
}

// Replay re-applies persisted blocks in order and checks each block's
// parent link and resulting state hash.
func Replay(app Application, blocks []Block) (Block, error) {
	var (
		last   Block
		parent Hash
	)
	for _, b := range blocks {
		if b.Height != last.Height+1 {
			return last, fmt.Errorf("replay: expected height %d, got %d", last.Height+1, b.Height)
		}
		if b.Parent != parent {
			return last, fmt.Errorf("replay: block %d parent mismatch", b.Height)
		}
		resp := app.FinalizeBlock(RequestFinalizeBlock{Height: b.Height, Timestamp: b.Time, Txs: b.Txs})
		if resp.AppHash != b.AppHash {
			return last, fmt.Errorf("replay: block %d app hash %s, stored %s", b.Height, resp.AppHash.Hex(), b.AppHash.Hex())
		}
		if err := app.Err(); err != nil {
			return last, fmt.Errorf("replay: block %d: %w", b.Height, err)
		}
		last, parent = b, HashOfBlock(b)
	}
	return last, nil
}
