package exchange

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/edaix/pkg/app/core/access"
	"github.com/uhyunpark/edaix/pkg/app/core/apperr"
	"github.com/uhyunpark/edaix/pkg/app/core/market"
	"github.com/uhyunpark/edaix/pkg/app/core/matching"
	"github.com/uhyunpark/edaix/pkg/app/core/orderbook"
)

// escrow returns the asset and amount an order locks for its remaining size.
// Buys lock the quote notional at their limit; sells lock the instrument.
func escrow(tp market.TradingPair, side orderbook.Side, qty, price int64) (string, int64, error) {
	if side == orderbook.Sell {
		return tp.Instrument, qty, nil
	}
	n, err := market.Notional(qty, price)
	if err != nil {
		return "", 0, err
	}
	return tp.QuoteAsset, n, nil
}

// PlaceOrder validates, escrows and books an order, then runs the matching
// pass unless the pair is operator-matched. Returned trades are already
// settled.
func (c *Controller) PlaceOrder(trader common.Address, instrument string, side orderbook.Side, qty, price int64) (orderbook.Order, []matching.Trade, error) {
	var (
		placed orderbook.Order
		trades []matching.Trade
	)
	err := c.run(func(ob *outbox) error {
		tp, err := c.pairs.Get(instrument)
		if err != nil {
			return apperr.Validationf("unknown instrument %s", instrument)
		}
		if !tp.Active {
			return apperr.Validationf("trading pair %s is inactive", instrument)
		}
		if !side.Valid() {
			return apperr.Validationf("invalid side %d", side)
		}
		if err := tp.ValidateOrder(qty, price); err != nil {
			return err
		}
		if !c.sessions.IsOpen(instrument) {
			return apperr.Statef("no open session for %s", instrument)
		}
		if err := c.requireEligible(trader, instrument); err != nil {
			return err
		}
		asset, amount, err := escrow(tp, side, qty, price)
		if err != nil {
			return err
		}
		if err := c.requireFunds(trader, asset, amount); err != nil {
			return err
		}

		// effects
		must(c.ledger.Lock(trader, asset, amount))
		now := c.now()
		if tp.ManualMatching {
			placed, err = c.engine.Rest(trader, instrument, side, qty, price, now)
		} else {
			placed, trades, err = c.engine.Place(trader, instrument, side, qty, price, now)
		}
		if err != nil {
			must(c.ledger.Unlock(trader, asset, amount))
			return err
		}
		c.settle(tp, trades, ob)
		if len(trades) > 0 {
			placed, _ = c.engine.Order(placed.ID)
		}
		return nil
	})
	if err != nil {
		return orderbook.Order{}, nil, err
	}
	c.log.Infow("order_placed", "id", placed.ID, "trader", trader.Hex(), "instrument", instrument,
		"side", side.String(), "qty", qty, "price", price, "fills", len(trades))
	return placed, trades, nil
}

// settle moves escrowed funds for executed trades and records them on the
// open session. Callers have checked the session is open.
func (c *Controller) settle(tp market.TradingPair, trades []matching.Trade, ob *outbox) {
	if len(trades) == 0 {
		return
	}
	for _, t := range trades {
		// notional at the execution price never exceeds the escrowed limit notional
		paid := t.Qty * t.Price
		must(c.ledger.TransferLocked(t.Buyer, t.Seller, tp.QuoteAsset, paid))
		if refund := t.Qty * (t.BuyLimit - t.Price); refund > 0 {
			must(c.ledger.Unlock(t.Buyer, tp.QuoteAsset, refund))
		}
		must(c.ledger.TransferLocked(t.Seller, t.Buyer, tp.Instrument, t.Qty))
		must(c.sessions.Record(tp.Instrument, t.Price, t.Qty))

		ob.trades = append(ob.trades, t)
		ob.ticks = append(ob.ticks, tick{tp.Instrument, t.Price, t.Qty})
		c.log.Infow("trade_executed", "id", t.ID, "instrument", t.Instrument, "qty", t.Qty,
			"price", t.Price, "buy", t.BuyOrderID, "sell", t.SellOrderID, "maker", t.MakerOrderID)
	}
	if s, ok := c.sessions.Current(tp.Instrument); ok {
		ob.sessions = append(ob.sessions, s)
	}
}

// CancelOrder deactivates an order and releases its remaining escrow. The
// owner may cancel at any time; settlement operators may cancel any order.
func (c *Controller) CancelOrder(requester common.Address, id uint64) (orderbook.Order, error) {
	var out orderbook.Order
	err := c.run(func(_ *outbox) error {
		o, ok := c.engine.Order(id)
		if !ok {
			return apperr.NotFoundf("order %d not found", id)
		}
		privileged := c.access.Has(requester, access.CapSettlement)
		if o.Trader != requester && !privileged {
			return apperr.Unauthorizedf("order %d is not owned by %s", id, requester.Hex())
		}
		tp, err := c.pairs.Get(o.Instrument)
		if err != nil {
			return err
		}
		asset, amount, err := escrow(tp, o.Side, o.Qty, o.Price)
		if err != nil {
			return err
		}
		if out, err = c.engine.Cancel(id, requester, privileged); err != nil {
			return err
		}
		must(c.ledger.Unlock(o.Trader, asset, amount))
		return nil
	})
	if err != nil {
		return orderbook.Order{}, err
	}
	c.log.Infow("order_cancelled", "id", id, "requester", requester.Hex(), "remaining", out.Qty)
	return out, nil
}

// ExecuteTrade matches two specific orders on an operator's instruction
func (c *Controller) ExecuteTrade(caller common.Address, buyID, sellID uint64) (matching.Trade, error) {
	var out matching.Trade
	err := c.run(func(ob *outbox) error {
		if err := c.access.Require(caller, access.CapSettlement); err != nil {
			return err
		}
		if _, _, err := c.engine.CheckExecution(buyID, sellID); err != nil {
			return err
		}
		buy, _ := c.engine.Order(buyID)
		tp, err := c.requireOpen(buy.Instrument)
		if err != nil {
			return err
		}
		if out, err = c.engine.Execute(buyID, sellID, c.now()); err != nil {
			return err
		}
		c.settle(tp, []matching.Trade{out}, ob)
		return nil
	})
	if err != nil {
		return matching.Trade{}, err
	}
	c.log.Infow("trade_mediated", "caller", caller.Hex(), "trade", out.ID)
	return out, nil
}

// RunMatching runs the matching pass for an instrument. Safe to repeat.
func (c *Controller) RunMatching(caller common.Address, instrument string) ([]matching.Trade, error) {
	var trades []matching.Trade
	err := c.run(func(ob *outbox) error {
		if err := c.access.Require(caller, access.CapSettlement); err != nil {
			return err
		}
		tp, err := c.requireOpen(instrument)
		if err != nil {
			return err
		}
		if trades, err = c.engine.Match(instrument, c.now()); err != nil {
			return err
		}
		c.settle(tp, trades, ob)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.log.Infow("matching_run", "caller", caller.Hex(), "instrument", instrument, "trades", len(trades))
	return trades, nil
}
