package exchange

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/edaix/pkg/app/core/access"
	"github.com/uhyunpark/edaix/pkg/app/core/amm"
	"github.com/uhyunpark/edaix/pkg/app/core/apperr"
	"github.com/uhyunpark/edaix/pkg/app/core/ledger"
	"github.com/uhyunpark/edaix/pkg/app/core/market"
)

// requireListed checks a pair exists and is active; liquidity does not need
// an open session.
func (c *Controller) requireListed(instrument string) (market.TradingPair, error) {
	tp, err := c.pairs.Get(instrument)
	if err != nil {
		return market.TradingPair{}, err
	}
	if !tp.Active {
		return market.TradingPair{}, apperr.Statef("trading pair %s is inactive", instrument)
	}
	return tp, nil
}

// deposit moves a provider's contribution into pool custody
func (c *Controller) deposit(provider common.Address, tp market.TradingPair, asset, quote int64) {
	pool := ledger.PoolAccount(tp.Instrument)
	must(c.ledger.Transfer(provider, pool, tp.Instrument, asset))
	must(c.ledger.Transfer(provider, pool, tp.QuoteAsset, quote))
}

// CreatePool bootstraps the instrument's pool from the provider's balances
func (c *Controller) CreatePool(provider common.Address, instrument string, asset, quote int64) (amm.Pool, amm.Position, error) {
	var (
		pool amm.Pool
		pos  amm.Position
	)
	err := c.run(func(ob *outbox) error {
		tp, err := c.requireListed(instrument)
		if err != nil {
			return err
		}
		if err := c.requireEligible(provider, instrument); err != nil {
			return err
		}
		if _, exists := c.pools.Pool(instrument); exists {
			return apperr.Statef("pool for %s already exists", instrument)
		}
		if asset <= 0 || quote <= 0 {
			return apperr.Validationf("initial amounts must be positive")
		}
		if err := c.requireFunds(provider, instrument, asset); err != nil {
			return err
		}
		if err := c.requireFunds(provider, tp.QuoteAsset, quote); err != nil {
			return err
		}
		if pool, pos, err = c.pools.Create(provider, instrument, asset, quote, c.now()); err != nil {
			return err
		}
		c.deposit(provider, tp, asset, quote)
		ob.pools = append(ob.pools, pool)
		ob.positions = append(ob.positions, pos)
		return nil
	})
	if err != nil {
		return amm.Pool{}, amm.Position{}, err
	}
	c.log.Infow("pool_created", "instrument", instrument, "provider", provider.Hex(),
		"asset", asset, "quote", quote, "shares", pos.Shares)
	return pool, pos, nil
}

// AddLiquidity deposits the largest ratio-preserving contribution within the
// desired amounts.
func (c *Controller) AddLiquidity(provider common.Address, instrument string, desiredAsset, desiredQuote int64) (amm.AddResult, error) {
	var res amm.AddResult
	err := c.run(func(ob *outbox) error {
		tp, err := c.requireListed(instrument)
		if err != nil {
			return err
		}
		if err := c.requireEligible(provider, instrument); err != nil {
			return err
		}
		asset, quote, _, err := c.pools.QuoteAdd(instrument, desiredAsset, desiredQuote)
		if err != nil {
			return err
		}
		if err := c.requireFunds(provider, instrument, asset); err != nil {
			return err
		}
		if err := c.requireFunds(provider, tp.QuoteAsset, quote); err != nil {
			return err
		}
		if res, err = c.pools.AddLiquidity(provider, instrument, desiredAsset, desiredQuote, c.now()); err != nil {
			return err
		}
		c.deposit(provider, tp, res.Asset, res.Quote)
		p, _ := c.pools.Pool(instrument)
		ob.pools = append(ob.pools, p)
		ob.positions = append(ob.positions, res.Position)
		return nil
	})
	if err != nil {
		return amm.AddResult{}, err
	}
	c.log.Infow("liquidity_added", "instrument", instrument, "provider", provider.Hex(),
		"asset", res.Asset, "quote", res.Quote, "shares", res.Shares)
	return res, nil
}

// RemoveLiquidity burns shares from the provider's oldest positions and pays
// out the proportional reserves.
func (c *Controller) RemoveLiquidity(provider common.Address, instrument string, shares int64) (amm.RemoveResult, error) {
	var res amm.RemoveResult
	err := c.run(func(ob *outbox) error {
		tp, err := c.requireListed(instrument)
		if err != nil {
			return err
		}
		if err := c.requireEligible(provider, instrument); err != nil {
			return err
		}
		if _, _, err := c.pools.QuoteRemove(provider, instrument, shares); err != nil {
			return err
		}
		if res, err = c.pools.RemoveLiquidity(provider, instrument, shares); err != nil {
			return err
		}
		pool := ledger.PoolAccount(instrument)
		must(c.ledger.Transfer(pool, provider, instrument, res.Asset))
		must(c.ledger.Transfer(pool, provider, tp.QuoteAsset, res.Quote))
		p, _ := c.pools.Pool(instrument)
		ob.pools = append(ob.pools, p)
		ob.positions = append(ob.positions, c.pools.Positions(provider, instrument)...)
		return nil
	})
	if err != nil {
		return amm.RemoveResult{}, err
	}
	c.log.Infow("liquidity_removed", "instrument", instrument, "provider", provider.Hex(),
		"shares", shares, "asset", res.Asset, "quote", res.Quote)
	return res, nil
}

// Swap trades against the pool during an open session
func (c *Controller) Swap(trader common.Address, instrument string, dir amm.Direction, in, minOut int64) (amm.SwapResult, error) {
	var res amm.SwapResult
	err := c.run(func(ob *outbox) error {
		tp, err := c.requireOpen(instrument)
		if err != nil {
			return err
		}
		if err := c.requireEligible(trader, instrument); err != nil {
			return err
		}
		quoted, err := c.pools.QuoteSwap(instrument, dir, in, minOut)
		if err != nil {
			return err
		}
		inAsset, outAsset := tp.Instrument, tp.QuoteAsset
		if dir == amm.QuoteToAsset {
			inAsset, outAsset = outAsset, inAsset
		}
		if err := c.requireFunds(trader, inAsset, quoted.In); err != nil {
			return err
		}

		if res, err = c.pools.Swap(instrument, dir, in, minOut); err != nil {
			return err
		}
		pool := ledger.PoolAccount(instrument)
		must(c.ledger.Transfer(trader, pool, inAsset, res.In))
		must(c.ledger.Transfer(pool, trader, outAsset, res.Out))

		price := res.Pool.BookPrice()
		must(c.sessions.Record(instrument, price, res.AssetLeg))
		s, _ := c.sessions.Current(instrument)
		ob.pools = append(ob.pools, res.Pool)
		ob.sessions = append(ob.sessions, s)
		ob.ticks = append(ob.ticks, tick{instrument, price, res.AssetLeg})
		return nil
	})
	if err != nil {
		return amm.SwapResult{}, err
	}
	c.log.Infow("swap_executed", "instrument", instrument, "trader", trader.Hex(),
		"direction", dir.String(), "in", res.In, "out", res.Out, "last_price", res.Pool.LastPrice)
	return res, nil
}

// SetPoolActive pauses or resumes a pool
func (c *Controller) SetPoolActive(caller common.Address, instrument string, active bool) error {
	err := c.run(func(ob *outbox) error {
		if err := c.access.Require(caller, access.CapPoolAdmin); err != nil {
			return err
		}
		if err := c.pools.SetActive(instrument, active); err != nil {
			return err
		}
		p, _ := c.pools.Pool(instrument)
		ob.pools = append(ob.pools, p)
		return nil
	})
	if err == nil {
		c.log.Infow("pool_status", "instrument", instrument, "active", active)
	}
	return err
}
