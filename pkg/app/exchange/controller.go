// Package exchange is the session and pair controller. It gates the matching
// engine and liquidity pools behind listing and session state, escrows funds,
// settles executions through the ledger, and notifies market data sinks.
//
// Every mutating call holds the controller lock while it checks and then
// mutates state. Sink notifications, compliance status pushes and journal
// writes are collected in an outbox and run after the lock is released, so a
// collaborator never observes a half-applied operation.
package exchange

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/edaix/pkg/app/core/access"
	"github.com/uhyunpark/edaix/pkg/app/core/amm"
	"github.com/uhyunpark/edaix/pkg/app/core/apperr"
	"github.com/uhyunpark/edaix/pkg/app/core/ledger"
	"github.com/uhyunpark/edaix/pkg/app/core/market"
	"github.com/uhyunpark/edaix/pkg/app/core/matching"
	"github.com/uhyunpark/edaix/pkg/app/core/session"
	"github.com/uhyunpark/edaix/pkg/compliance"
	"github.com/uhyunpark/edaix/pkg/crypto"
	"github.com/uhyunpark/edaix/pkg/util"
)

// Config wires a Controller. Access and Ledger are required; the rest
// default to permissive or no-op implementations.
type Config struct {
	FeeBps   int64
	Access   *access.Registry
	Ledger   *ledger.Ledger
	Gate     ComplianceGate
	Sink     MarketDataSink
	Journal  Journal
	Attestor *crypto.Attestor // optional; signs closed sessions
	Clock    util.Clock
	Logger   *zap.SugaredLogger
}

type Controller struct {
	mu       sync.RWMutex
	pairs    *market.Registry
	engine   *matching.Engine
	pools    *amm.Manager
	sessions *session.Manager

	access   *access.Registry
	ledger   *ledger.Ledger
	gate     ComplianceGate
	sink     MarketDataSink
	journal  Journal
	attestor *crypto.Attestor
	clock    util.Clock
	log      *zap.SugaredLogger

	errMu      sync.Mutex
	journalErr error
}

func NewController(cfg Config) *Controller {
	if cfg.Gate == nil {
		cfg.Gate = compliance.NewAllowAll()
	}
	if cfg.Sink == nil {
		cfg.Sink = NopSink{}
	}
	if cfg.Journal == nil {
		cfg.Journal = nopJournal{}
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Controller{
		pairs:    market.NewRegistry(),
		engine:   matching.NewEngine(),
		pools:    amm.NewManager(cfg.FeeBps),
		sessions: session.NewManager(),
		access:   cfg.Access,
		ledger:   cfg.Ledger,
		gate:     cfg.Gate,
		sink:     cfg.Sink,
		journal:  cfg.Journal,
		attestor: cfg.Attestor,
		clock:    cfg.Clock,
		log:      cfg.Logger,
	}
}

func (c *Controller) now() int64 { return c.clock.Now().UnixMilli() }

// Ledger exposes the asset ledger for queries and persistence
func (c *Controller) Ledger() *ledger.Ledger { return c.ledger }

// Access exposes the capability registry
func (c *Controller) Access() *access.Registry { return c.access }

// SetSink replaces the market data sink. Nodes install live sinks after
// replaying persisted blocks.
func (c *Controller) SetSink(s MarketDataSink) {
	if s == nil {
		s = NopSink{}
	}
	c.mu.Lock()
	c.sink = s
	c.mu.Unlock()
}

// Err returns the first journal failure seen, if any. Operations that hit
// one have already committed in memory.
func (c *Controller) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.journalErr
}

// ---- outbox ----

type tick struct {
	instrument string
	price      int64
	volume     int64
}

type status struct {
	instrument string
	active     bool
}

type outbox struct {
	ticks     []tick
	statuses  []status
	pairs     []market.TradingPair
	trades    []matching.Trade
	sessions  []session.TradingSession
	pools     []amm.Pool
	positions []amm.Position
}

func (c *Controller) dispatch(ob *outbox, sink MarketDataSink) {
	for _, s := range ob.statuses {
		c.gate.SetInstrumentStatus(s.instrument, s.active)
	}
	for _, t := range ob.ticks {
		sink.Notify(t.instrument, t.price, t.volume)
	}
	for _, p := range ob.pairs {
		c.journalDo("pair", p.Instrument, c.journal.SavePair(p))
	}
	for _, t := range ob.trades {
		c.journalDo("trade", t.Instrument, c.journal.SaveTrade(t))
	}
	for _, s := range ob.sessions {
		c.journalDo("session", s.Instrument, c.journal.SaveSession(s))
	}
	for _, p := range ob.pools {
		c.journalDo("pool", p.Instrument, c.journal.SavePool(p))
	}
	for _, p := range ob.positions {
		c.journalDo("position", p.Instrument, c.journal.SavePosition(p))
	}
}

func (c *Controller) journalDo(kind, instrument string, err error) {
	if err == nil {
		return
	}
	c.log.Errorw("journal_write_failed", "kind", kind, "instrument", instrument, "err", err)
	c.errMu.Lock()
	if c.journalErr == nil {
		c.journalErr = fmt.Errorf("journal %s %s: %w", kind, instrument, err)
	}
	c.errMu.Unlock()
}

// run executes fn under the write lock and dispatches its outbox on success
func (c *Controller) run(fn func(ob *outbox) error) error {
	var ob outbox
	sink, err := c.apply(fn, &ob)
	if err != nil {
		return err
	}
	c.dispatch(&ob, sink)
	return nil
}

func (c *Controller) apply(fn func(ob *outbox) error, ob *outbox) (MarketDataSink, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := fn(ob)
	return c.sink, err
}

// must guards effects whose preconditions were verified earlier
// in the same operation.
func must(err error) {
	if err != nil {
		panic(fmt.Sprintf("settlement invariant violated: %v", err))
	}
}

// ---- trading pairs ----

// CreateTradingPair lists an instrument. The pair starts active.
func (c *Controller) CreateTradingPair(caller common.Address, instrument string, p market.PairParams) (market.TradingPair, error) {
	var out market.TradingPair
	err := c.run(func(ob *outbox) error {
		if err := c.access.Require(caller, access.CapPairAdmin); err != nil {
			return err
		}
		tp, err := market.NewTradingPair(instrument, p, c.now())
		if err != nil {
			return err
		}
		if err := c.pairs.Register(tp); err != nil {
			return err
		}
		c.engine.AddInstrument(instrument)
		out = *tp
		ob.statuses = append(ob.statuses, status{instrument, true})
		ob.pairs = append(ob.pairs, out)
		return nil
	})
	if err != nil {
		return market.TradingPair{}, err
	}
	c.log.Infow("pair_created", "instrument", instrument, "quote", out.QuoteAsset,
		"tick", out.TickSize, "lot", out.LotSize, "manual", out.ManualMatching)
	return out, nil
}

// SetTradingPairActive toggles a pair and propagates the status to the gate
func (c *Controller) SetTradingPairActive(caller common.Address, instrument string, active bool) error {
	err := c.run(func(ob *outbox) error {
		if err := c.access.Require(caller, access.CapPairAdmin); err != nil {
			return err
		}
		if err := c.pairs.SetActive(instrument, active); err != nil {
			return err
		}
		tp, _ := c.pairs.Get(instrument)
		ob.statuses = append(ob.statuses, status{instrument, active})
		ob.pairs = append(ob.pairs, tp)
		return nil
	})
	if err == nil {
		c.log.Infow("pair_status", "instrument", instrument, "active", active)
	}
	return err
}

// ---- capabilities ----

// GrantCapabilities adds caps to who. Only the root may grant.
func (c *Controller) GrantCapabilities(caller, who common.Address, caps access.Capability) error {
	err := c.run(func(_ *outbox) error {
		if caps == 0 {
			return apperr.Validationf("no capabilities to grant")
		}
		return c.access.Grant(caller, who, caps)
	})
	if err == nil {
		c.log.Infow("capabilities_granted", "account", who.Hex(), "caps", caps.String())
	}
	return err
}

// RevokeCapabilities removes caps from who. The root keeps every capability.
func (c *Controller) RevokeCapabilities(caller, who common.Address, caps access.Capability) error {
	err := c.run(func(_ *outbox) error {
		if caps == 0 {
			return apperr.Validationf("no capabilities to revoke")
		}
		return c.access.Revoke(caller, who, caps)
	})
	if err == nil {
		c.log.Infow("capabilities_revoked", "account", who.Hex(), "caps", caps.String())
	}
	return err
}

// ---- sessions ----

func (c *Controller) StartSession(caller common.Address, instrument string, openPrice int64) (session.TradingSession, error) {
	var out session.TradingSession
	err := c.run(func(ob *outbox) error {
		if err := c.access.Require(caller, access.CapSessionAdmin); err != nil {
			return err
		}
		tp, err := c.pairs.Get(instrument)
		if err != nil {
			return err
		}
		if !tp.Active {
			return apperr.Statef("trading pair %s is inactive", instrument)
		}
		if out, err = c.sessions.Start(instrument, openPrice, c.now()); err != nil {
			return err
		}
		ob.sessions = append(ob.sessions, out)
		return nil
	})
	if err != nil {
		return session.TradingSession{}, err
	}
	c.log.Infow("session_started", "instrument", instrument, "id", out.ID, "open", openPrice)
	return out, nil
}

// EndSession closes the open session. The close price is the session's last
// execution price, else the pool's spot price, else the open price.
func (c *Controller) EndSession(caller common.Address, instrument string) (session.TradingSession, error) {
	var out session.TradingSession
	err := c.run(func(ob *outbox) error {
		if err := c.access.Require(caller, access.CapSessionAdmin); err != nil {
			return err
		}
		var spot int64
		if p, ok := c.pools.Pool(instrument); ok {
			spot = p.BookPrice()
		}
		closed, err := c.sessions.End(instrument, spot, c.now())
		if err != nil {
			return err
		}
		if c.attestor != nil {
			sig := c.attestor.Attest(closed.Digest())
			if err := c.sessions.Attest(instrument, closed.ID, sig); err != nil {
				return err
			}
			closed.Attestation = sig
		}
		out = closed
		ob.sessions = append(ob.sessions, out)
		return nil
	})
	if err != nil {
		return session.TradingSession{}, err
	}
	c.log.Infow("session_ended", "instrument", instrument, "id", out.ID, "close", out.ClosePrice,
		"volume", out.Volume, "trades", out.TradeCount, "attested", len(out.Attestation) > 0)
	return out, nil
}

// requireOpen checks a pair is listed, active and in an open session
func (c *Controller) requireOpen(instrument string) (market.TradingPair, error) {
	tp, err := c.pairs.Get(instrument)
	if err != nil {
		return market.TradingPair{}, err
	}
	if !tp.Active {
		return market.TradingPair{}, apperr.Statef("trading pair %s is inactive", instrument)
	}
	if !c.sessions.IsOpen(instrument) {
		return market.TradingPair{}, apperr.Statef("no open session for %s", instrument)
	}
	return tp, nil
}

func (c *Controller) requireEligible(trader common.Address, instrument string) error {
	if !c.gate.IsEligible(trader, instrument) {
		return apperr.Unauthorizedf("%s is not eligible to trade %s", trader.Hex(), instrument)
	}
	return nil
}

func (c *Controller) requireFunds(who common.Address, asset string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	if have := c.ledger.Available(who, asset); have < amount {
		return apperr.Statef("insufficient %s: have %d, need %d", asset, have, amount)
	}
	return nil
}

// ---- funding ----

// Deposit credits an account; restricted to settlement operators (bridge inflow)
func (c *Controller) Deposit(caller, account common.Address, asset string, amount int64) error {
	err := c.run(func(_ *outbox) error {
		if err := c.access.Require(caller, access.CapSettlement); err != nil {
			return err
		}
		if asset == "" {
			return apperr.Validationf("asset must be specified")
		}
		return c.ledger.Deposit(account, asset, amount)
	})
	if err == nil {
		c.log.Infow("deposit", "account", account.Hex(), "asset", asset, "amount", amount)
	}
	return err
}

// Withdraw debits the owner's available (unescrowed) balance
func (c *Controller) Withdraw(owner common.Address, asset string, amount int64) error {
	err := c.run(func(_ *outbox) error {
		return c.ledger.Withdraw(owner, asset, amount)
	})
	if err == nil {
		c.log.Infow("withdraw", "account", owner.Hex(), "asset", asset, "amount", amount)
	}
	return err
}
