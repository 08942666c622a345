package exchange

import (
	"encoding/json"
	"io"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/edaix/pkg/app/core/access"
	"github.com/uhyunpark/edaix/pkg/app/core/amm"
	"github.com/uhyunpark/edaix/pkg/app/core/apperr"
	"github.com/uhyunpark/edaix/pkg/app/core/ledger"
	"github.com/uhyunpark/edaix/pkg/app/core/market"
	"github.com/uhyunpark/edaix/pkg/app/core/matching"
	"github.com/uhyunpark/edaix/pkg/app/core/orderbook"
	"github.com/uhyunpark/edaix/pkg/app/core/session"
)

// BookView is an aggregated depth snapshot
type BookView struct {
	Instrument string                 `json:"instrument"`
	Bids       []orderbook.PriceLevel `json:"bids"`
	Asks       []orderbook.PriceLevel `json:"asks"`
}

func (c *Controller) GetOrderBook(instrument string, depth int) (BookView, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bids, asks, err := c.engine.Depth(instrument, depth)
	if err != nil {
		return BookView{}, err
	}
	return BookView{Instrument: instrument, Bids: bids, Asks: asks}, nil
}

func (c *Controller) GetPool(instrument string) (amm.Pool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pools.Pool(instrument)
	if !ok {
		return amm.Pool{}, apperr.NotFoundf("no pool for %s", instrument)
	}
	return p, nil
}

// GetSession returns the open session, or the most recently closed one
func (c *Controller) GetSession(instrument string) (session.TradingSession, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions.Latest(instrument)
	if !ok {
		return session.TradingSession{}, apperr.NotFoundf("no session for %s", instrument)
	}
	return s, nil
}

func (c *Controller) SessionHistory(instrument string, limit int) []session.TradingSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessions.History(instrument, limit)
}

func (c *Controller) GetTradingPair(instrument string) (market.TradingPair, error) {
	return c.pairs.Get(instrument)
}

// Pairs lists every trading pair sorted by instrument
func (c *Controller) Pairs() []market.TradingPair {
	return c.pairs.List()
}

func (c *Controller) GetOrder(id uint64) (orderbook.Order, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.engine.Order(id)
	if !ok {
		return orderbook.Order{}, apperr.NotFoundf("order %d not found", id)
	}
	return o, nil
}

func (c *Controller) OpenOrders(trader common.Address) []orderbook.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engine.OpenOrders(trader)
}

// RecentTrades returns up to limit trades, newest first
func (c *Controller) RecentTrades(instrument string, limit int) []matching.Trade {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engine.Trades(instrument, limit)
}

func (c *Controller) Positions(provider common.Address, instrument string) []amm.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pools.Positions(provider, instrument)
}

// QuoteSwap previews a swap at the current reserves
func (c *Controller) QuoteSwap(instrument string, dir amm.Direction, in int64) (amm.SwapResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pools.QuoteSwap(instrument, dir, in, 0)
}

// Phase reports where an instrument sits in the listing and session lifecycle
func (c *Controller) Phase(instrument string) Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.pairs.IsActive(instrument) {
		return PhaseInactive
	}
	switch {
	case c.sessions.IsOpen(instrument):
		return PhaseOpen
	case c.sessions.HasHistory(instrument):
		return PhaseClosed
	default:
		return PhaseConfigured
	}
}

// Operators lists capability grants, root included
func (c *Controller) Operators() []access.Grant {
	return c.access.Grants()
}

func (c *Controller) Account(addr common.Address) (ledger.Account, bool) {
	return c.ledger.Account(addr)
}

type stateBook struct {
	Instrument string            `json:"instrument"`
	Bids       []orderbook.Order `json:"bids"`
	Asks       []orderbook.Order `json:"asks"`
}

type stateSnapshot struct {
	Pairs    []market.TradingPair     `json:"pairs"`
	Books    []stateBook              `json:"books"`
	Pools    []amm.Pool               `json:"pools"`
	Sessions []session.TradingSession `json:"sessions"`
	Accounts []ledger.Account         `json:"accounts"`
	Grants   []access.Grant           `json:"grants"`
}

// WriteState writes a deterministic encoding of all trading state. Two
// controllers that applied the same operations write identical bytes.
func (c *Controller) WriteState(w io.Writer) error {
	c.mu.RLock()
	snap := stateSnapshot{
		Pairs:    c.pairs.List(),
		Pools:    c.pools.Pools(),
		Accounts: c.ledger.Accounts(),
		Grants:   c.access.Grants(),
	}
	for _, instr := range c.engine.Instruments() {
		b, _ := c.engine.Book(instr)
		snap.Books = append(snap.Books, stateBook{
			Instrument: instr,
			Bids:       b.Orders(orderbook.Buy),
			Asks:       b.Orders(orderbook.Sell),
		})
		if s, ok := c.sessions.Latest(instr); ok {
			snap.Sessions = append(snap.Sessions, s)
		}
	}
	c.mu.RUnlock()
	return json.NewEncoder(w).Encode(snap)
}
