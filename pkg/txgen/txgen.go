// Package txgen generates signed exchange traffic for devnet load testing.
package txgen

import (
	"fmt"
	"math/big"
	"math/rand"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/edaix/pkg/app/core/market"
	"github.com/uhyunpark/edaix/pkg/app/core/transaction"
	"github.com/uhyunpark/edaix/pkg/crypto"
)

// Config controls what the generator lists and how it trades
type Config struct {
	Instrument  string
	MidPrice    int64 // session open price; orders land within Spread ticks of it
	Spread      int64
	NumAccounts int
	MaxQty      int64
	ChainID     int64
}

// DefaultConfig returns reasonable defaults for a devnet
func DefaultConfig() Config {
	return Config{
		Instrument:  "EDAI-DEV",
		MidPrice:    100,
		Spread:      5,
		NumAccounts: 20,
		MaxQty:      10,
		ChainID:     1337,
	}
}

// Funding per simulated trader, and the pool trader 0 seeds
const (
	traderQuote = 1_000_000
	traderAsset = 10_000
	poolAsset   = 1_000
)

// Generator signs transactions for an admin key and a set of random traders.
// It is not safe for concurrent use.
type Generator struct {
	cfg      Config
	admin    *crypto.Signer
	traders  []*crypto.Signer
	nonces   map[common.Address]uint64
	verifier *transaction.Verifier
	rng      *rand.Rand
}

// NewGenerator creates traders with fresh keys. nonceOf supplies the next
// nonce of an address already known to the chain; nil starts every account
// at zero.
func NewGenerator(admin *crypto.Signer, cfg Config, seed int64, nonceOf func(common.Address) uint64) (*Generator, error) {
	if cfg.NumAccounts < 2 {
		return nil, fmt.Errorf("need at least 2 accounts, got %d", cfg.NumAccounts)
	}
	if cfg.MidPrice <= cfg.Spread || cfg.MaxQty <= 0 {
		return nil, fmt.Errorf("invalid price band %d±%d or max qty %d", cfg.MidPrice, cfg.Spread, cfg.MaxQty)
	}
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(cfg.ChainID)
	g := &Generator{
		cfg:      cfg,
		admin:    admin,
		nonces:   make(map[common.Address]uint64),
		verifier: transaction.NewVerifier(domain),
		rng:      rand.New(rand.NewSource(seed)),
	}
	for i := 0; i < cfg.NumAccounts; i++ {
		s, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		g.traders = append(g.traders, s)
	}
	if nonceOf != nil {
		g.nonces[admin.Address()] = nonceOf(admin.Address())
	}
	return g, nil
}

// Traders returns the simulated trader keys
func (g *Generator) Traders() []*crypto.Signer { return g.traders }

// Bootstrap lists the instrument, opens a session, funds every trader and
// seeds the pool at the mid price.
func (g *Generator) Bootstrap() ([][]byte, error) {
	instr := g.cfg.Instrument
	var out [][]byte
	add := func(s *crypto.Signer, action transaction.Action, payload any) error {
		raw, err := g.sign(s, action, payload)
		if err != nil {
			return err
		}
		out = append(out, raw)
		return nil
	}

	if err := add(g.admin, transaction.ActionCreatePair, transaction.CreatePairPayload{Instrument: instr, Params: market.DefaultParams}); err != nil {
		return nil, err
	}
	if err := add(g.admin, transaction.ActionStartSession, transaction.StartSessionPayload{Instrument: instr, OpenPrice: g.cfg.MidPrice}); err != nil {
		return nil, err
	}
	for _, t := range g.traders {
		for _, d := range []transaction.DepositPayload{
			{Account: t.Address().Hex(), Asset: market.DefaultParams.QuoteAsset, Amount: traderQuote},
			{Account: t.Address().Hex(), Asset: instr, Amount: traderAsset},
		} {
			if err := add(g.admin, transaction.ActionDeposit, d); err != nil {
				return nil, err
			}
		}
	}
	err := add(g.traders[0], transaction.ActionCreatePool, transaction.LiquidityPayload{
		Instrument: instr,
		Asset:      poolAsset,
		Quote:      poolAsset * g.cfg.MidPrice,
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NextBatch returns n random trades: mostly limit orders around the mid
// price, the rest small pool swaps.
func (g *Generator) NextBatch(n int) ([][]byte, error) {
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		trader := g.traders[g.rng.Intn(len(g.traders))]
		var (
			raw []byte
			err error
		)
		if g.rng.Intn(100) < 80 {
			raw, err = g.sign(trader, transaction.ActionPlaceOrder, g.randomOrder())
		} else {
			raw, err = g.sign(trader, transaction.ActionSwap, g.randomSwap())
		}
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func (g *Generator) randomOrder() transaction.PlaceOrderPayload {
	side := "buy"
	if g.rng.Intn(2) == 1 {
		side = "sell"
	}
	return transaction.PlaceOrderPayload{
		Instrument: g.cfg.Instrument,
		Side:       side,
		Qty:        g.rng.Int63n(g.cfg.MaxQty) + 1,
		Price:      g.cfg.MidPrice + g.rng.Int63n(2*g.cfg.Spread+1) - g.cfg.Spread,
	}
}

// randomSwap sizes quote inputs at two or more asset units so the output
// never rounds to zero
func (g *Generator) randomSwap() transaction.SwapPayload {
	if g.rng.Intn(2) == 0 {
		return transaction.SwapPayload{
			Instrument: g.cfg.Instrument,
			Direction:  "asset_to_quote",
			In:         g.rng.Int63n(g.cfg.MaxQty) + 1,
		}
	}
	return transaction.SwapPayload{
		Instrument: g.cfg.Instrument,
		Direction:  "quote_to_asset",
		In:         (g.rng.Int63n(g.cfg.MaxQty) + 2) * g.cfg.MidPrice,
	}
}

func (g *Generator) sign(s *crypto.Signer, action transaction.Action, payload any) ([]byte, error) {
	addr := s.Address()
	nonce := g.nonces[addr]
	tx, err := transaction.New(action, payload, nonce, addr)
	if err != nil {
		return nil, err
	}
	if err := g.verifier.Sign(s, tx); err != nil {
		return nil, err
	}
	g.nonces[addr] = nonce + 1
	return tx.Serialize()
}
