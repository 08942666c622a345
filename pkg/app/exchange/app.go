package exchange

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/edaix/pkg/abci"
	"github.com/uhyunpark/edaix/pkg/app/core/access"
	"github.com/uhyunpark/edaix/pkg/app/core/amm"
	"github.com/uhyunpark/edaix/pkg/app/core/apperr"
	"github.com/uhyunpark/edaix/pkg/app/core/ledger"
	"github.com/uhyunpark/edaix/pkg/app/core/mempool"
	"github.com/uhyunpark/edaix/pkg/app/core/orderbook"
	"github.com/uhyunpark/edaix/pkg/app/core/transaction"
	"github.com/uhyunpark/edaix/pkg/util"
)

// BlockStore persists finalized blocks together with the accounts they touched
type BlockStore interface {
	SaveBlock(b abci.Block, accounts []ledger.Account) error
}

type AppConfig struct {
	Controller *Controller
	Clock      *util.ManualClock // the controller's clock; set to each block's time
	Verifier   *transaction.Verifier
	Mempool    *mempool.Mempool
	Store      BlockStore // optional
	Logger     *zap.SugaredLogger
}

// App applies blocks of signed transactions to the controller. It implements
// abci.Application.
type App struct {
	mu       sync.Mutex
	ctrl     *Controller
	clock    *util.ManualClock
	verifier *transaction.Verifier
	mempool  *mempool.Mempool
	store    BlockStore
	log      *zap.SugaredLogger
}

var _ abci.Application = (*App)(nil)

func NewApp(cfg AppConfig) *App {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Mempool == nil {
		cfg.Mempool = mempool.NewMempool(0)
	}
	return &App{
		ctrl:     cfg.Controller,
		clock:    cfg.Clock,
		verifier: cfg.Verifier,
		mempool:  cfg.Mempool,
		store:    cfg.Store,
		log:      cfg.Logger,
	}
}

func (a *App) Controller() *Controller { return a.ctrl }

// PushTx admits a transaction whose envelope parses and whose signature
// verifies. Nonces and the action itself are checked when the block applies.
func (a *App) PushTx(raw []byte) (*transaction.SignedTransaction, error) {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return nil, apperr.Validationf("%v", err)
	}
	if _, err := a.verifier.Verify(tx); err != nil {
		return nil, apperr.Unauthorizedf("%v", err)
	}
	if _, err := a.mempool.PushRaw(raw); err != nil {
		return nil, err
	}
	return tx, nil
}

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	return abci.ResponsePrepareProposal{Txs: a.mempool.SelectForProposal(req.MaxTxBytes)}
}

// ProcessProposal accepts any proposal; invalid transactions fail
// individually when applied.
func (a *App) ProcessProposal(abci.RequestProcessProposal) abci.ResponseProcessProposal {
	return abci.ResponseProcessProposal{Accept: true}
}

func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) abci.ResponseFinalizeBlock {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.clock.Set(time.UnixMilli(req.Timestamp))
	results := make([]abci.TxResult, len(req.Txs))
	failed := 0
	for i, raw := range req.Txs {
		if err := a.deliver(raw); err != nil {
			failed++
			kind := apperr.KindOf(err)
			results[i] = abci.TxResult{Code: 1, Kind: kind.String(), Log: err.Error()}
			a.log.Warnw("tx_rejected", "height", req.Height, "index", i, "kind", kind.String(), "err", err)
		}
	}

	appHash := a.stateHash(req.Height, req.Timestamp)
	if len(req.Txs) > 0 {
		a.log.Infow("block_finalized", "height", req.Height, "txs", len(req.Txs), "failed", failed, "app_hash", appHash.Hex())
	}
	return abci.ResponseFinalizeBlock{TxResults: results, AppHash: appHash}
}

// Commit persists the block and the accounts it modified
func (a *App) Commit(b abci.Block) error {
	accounts := a.ctrl.Ledger().Drain()
	if a.store == nil {
		return nil
	}
	if err := a.store.SaveBlock(b, accounts); err != nil {
		return fmt.Errorf("save block %d: %w", b.Height, err)
	}
	return nil
}

// Err reports a journal failure; the node must stop producing blocks
func (a *App) Err() error { return a.ctrl.Err() }

// deliver verifies, consumes the nonce and executes one transaction. A
// consumed nonce stays consumed even if the action fails.
func (a *App) deliver(raw []byte) error {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return apperr.Validationf("%v", err)
	}
	owner, err := a.verifier.Verify(tx)
	if err != nil {
		return apperr.Unauthorizedf("%v", err)
	}
	if err := a.ctrl.Ledger().UseNonce(owner, tx.Nonce); err != nil {
		return err
	}
	payload, err := tx.Decode()
	if err != nil {
		return apperr.Validationf("%v", err)
	}
	return a.execute(owner, tx.Action, payload)
}

func (a *App) execute(owner common.Address, action transaction.Action, payload any) error {
	c := a.ctrl
	switch p := payload.(type) {
	case *transaction.PlaceOrderPayload:
		side, ok := orderbook.ParseSide(p.Side)
		if !ok {
			return apperr.Validationf("invalid side %q", p.Side)
		}
		_, _, err := c.PlaceOrder(owner, p.Instrument, side, p.Qty, p.Price)
		return err
	case *transaction.CancelOrderPayload:
		_, err := c.CancelOrder(owner, p.OrderID)
		return err
	case *transaction.ExecuteTradePayload:
		_, err := c.ExecuteTrade(owner, p.BuyOrderID, p.SellOrderID)
		return err
	case *transaction.InstrumentPayload:
		if action == transaction.ActionRunMatching {
			_, err := c.RunMatching(owner, p.Instrument)
			return err
		}
		_, err := c.EndSession(owner, p.Instrument)
		return err
	case *transaction.LiquidityPayload:
		if action == transaction.ActionCreatePool {
			_, _, err := c.CreatePool(owner, p.Instrument, p.Asset, p.Quote)
			return err
		}
		_, err := c.AddLiquidity(owner, p.Instrument, p.Asset, p.Quote)
		return err
	case *transaction.RemoveLiquidityPayload:
		_, err := c.RemoveLiquidity(owner, p.Instrument, p.Shares)
		return err
	case *transaction.SwapPayload:
		dir, ok := amm.ParseDirection(p.Direction)
		if !ok {
			return apperr.Validationf("invalid swap direction %q", p.Direction)
		}
		_, err := c.Swap(owner, p.Instrument, dir, p.In, p.MinOut)
		return err
	case *transaction.SetActivePayload:
		if action == transaction.ActionSetPoolActive {
			return c.SetPoolActive(owner, p.Instrument, p.Active)
		}
		return c.SetTradingPairActive(owner, p.Instrument, p.Active)
	case *transaction.CreatePairPayload:
		_, err := c.CreateTradingPair(owner, p.Instrument, p.Params)
		return err
	case *transaction.StartSessionPayload:
		_, err := c.StartSession(owner, p.Instrument, p.OpenPrice)
		return err
	case *transaction.DepositPayload:
		if !common.IsHexAddress(p.Account) {
			return apperr.Validationf("invalid account address %q", p.Account)
		}
		return c.Deposit(owner, common.HexToAddress(p.Account), p.Asset, p.Amount)
	case *transaction.WithdrawPayload:
		return c.Withdraw(owner, p.Asset, p.Amount)
	case *transaction.CapabilityPayload:
		if !common.IsHexAddress(p.Account) {
			return apperr.Validationf("invalid account address %q", p.Account)
		}
		caps, err := access.ParseCapabilities(p.Capabilities)
		if err != nil {
			return apperr.Validationf("%v", err)
		}
		if action == transaction.ActionGrant {
			return c.GrantCapabilities(owner, common.HexToAddress(p.Account), caps)
		}
		return c.RevokeCapabilities(owner, common.HexToAddress(p.Account), caps)
	default:
		return apperr.Validationf("unsupported action %s", action)
	}
}

// stateHash is sha256 over height, block time and the controller's
// deterministic state encoding.
func (a *App) stateHash(height, timestamp int64) abci.Hash {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(height))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(timestamp))
	h.Write(buf[:])
	if err := a.ctrl.WriteState(h); err != nil {
		// hash.Hash writes never fail; an encoding error is a programming bug
		panic(fmt.Sprintf("encode state: %v", err))
	}
	var out abci.Hash
	copy(out[:], h.Sum(nil))
	return out
}
