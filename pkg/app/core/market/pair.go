package market

import (
	"github.com/uhyunpark/edaix/pkg/app/core/apperr"
	"github.com/uhyunpark/edaix/pkg/app/core/safemath"
)

// MaxBps is 100% in basis points
const MaxBps = 10_000

// TradingPair is the per-instrument trading configuration.
// Quantities are in instrument units, prices in quote units per instrument unit.
type TradingPair struct {
	Instrument           string `json:"instrument"`           // EDAI token id, e.g. "EDAI-2031-Q1"
	QuoteAsset           string `json:"quoteAsset"`           // settlement asset, e.g. "USDC"
	MinOrderSize         int64  `json:"minOrderSize"`         // inclusive
	MaxOrderSize         int64  `json:"maxOrderSize"`         // inclusive
	TickSize             int64  `json:"tickSize"`             // price granularity
	LotSize              int64  `json:"lotSize"`              // quantity granularity
	MinPrice             int64  `json:"minPrice"`             // 0 = unbounded
	MaxPrice             int64  `json:"maxPrice"`             // 0 = unbounded
	MarginAllowed        bool   `json:"marginAllowed"`
	MarginRequirementBps int64  `json:"marginRequirementBps"` // only meaningful when MarginAllowed
	ManualMatching       bool   `json:"manualMatching"`       // orders rest until an operator executes them
	Active               bool   `json:"active"`
	CreatedAt            int64  `json:"createdAt"` // unix millis
}

// PairParams groups the tunables accepted by createTradingPair
type PairParams struct {
	QuoteAsset           string `json:"quoteAsset"`
	MinOrderSize         int64  `json:"minOrderSize"`
	MaxOrderSize         int64  `json:"maxOrderSize"`
	TickSize             int64  `json:"tickSize"`
	LotSize              int64  `json:"lotSize"`
	MinPrice             int64  `json:"minPrice,omitempty"`
	MaxPrice             int64  `json:"maxPrice,omitempty"`
	MarginAllowed        bool   `json:"marginAllowed,omitempty"`
	MarginRequirementBps int64  `json:"marginRequirementBps,omitempty"`
	ManualMatching       bool   `json:"manualMatching,omitempty"`
}

// DefaultParams is the devnet configuration for a freshly listed EDAI
var DefaultParams = PairParams{
	QuoteAsset:   "USDC",
	MinOrderSize: 1,
	MaxOrderSize: 1_000_000,
	TickSize:     1,
	LotSize:      1,
}

// NewTradingPair builds and validates a pair. New pairs start active.
func NewTradingPair(instrument string, p PairParams, now int64) (*TradingPair, error) {
	tp := &TradingPair{
		Instrument:           instrument,
		QuoteAsset:           p.QuoteAsset,
		MinOrderSize:         p.MinOrderSize,
		MaxOrderSize:         p.MaxOrderSize,
		TickSize:             p.TickSize,
		LotSize:              p.LotSize,
		MinPrice:             p.MinPrice,
		MaxPrice:             p.MaxPrice,
		MarginAllowed:        p.MarginAllowed,
		MarginRequirementBps: p.MarginRequirementBps,
		ManualMatching:       p.ManualMatching,
		Active:               true,
		CreatedAt:            now,
	}
	if err := tp.Validate(); err != nil {
		return nil, err
	}
	return tp, nil
}

// Validate checks the configuration invariants
func (tp *TradingPair) Validate() error {
	if tp.Instrument == "" {
		return apperr.Validationf("instrument cannot be empty")
	}
	if tp.QuoteAsset == "" {
		return apperr.Validationf("quote asset must be specified")
	}
	if tp.QuoteAsset == tp.Instrument {
		return apperr.Validationf("quote asset must differ from instrument")
	}
	if tp.TickSize <= 0 {
		return apperr.Validationf("tick size must be positive")
	}
	if tp.LotSize <= 0 {
		return apperr.Validationf("lot size must be positive")
	}
	if tp.MinOrderSize <= 0 {
		return apperr.Validationf("min order size must be positive")
	}
	if tp.MinOrderSize >= tp.MaxOrderSize {
		return apperr.Validationf("min order size %d must be below max order size %d", tp.MinOrderSize, tp.MaxOrderSize)
	}
	if tp.MinPrice < 0 || tp.MaxPrice < 0 {
		return apperr.Validationf("price bounds cannot be negative")
	}
	if tp.MinPrice > 0 && tp.MaxPrice > 0 && tp.MinPrice >= tp.MaxPrice {
		return apperr.Validationf("min price %d must be below max price %d", tp.MinPrice, tp.MaxPrice)
	}
	if tp.MarginAllowed {
		if tp.MarginRequirementBps <= 0 || tp.MarginRequirementBps > MaxBps {
			return apperr.Validationf("margin requirement %d bps out of range (0, %d]", tp.MarginRequirementBps, MaxBps)
		}
	} else if tp.MarginRequirementBps != 0 {
		return apperr.Validationf("margin requirement set but margin not allowed")
	}
	return nil
}

// ValidateOrder checks an order's quantity and price against the pair.
// Activity is checked by the caller, which owns the pair state.
func (tp *TradingPair) ValidateOrder(qty, price int64) error {
	if qty <= 0 {
		return apperr.Validationf("quantity must be positive")
	}
	if price <= 0 {
		return apperr.Validationf("price must be positive")
	}
	if qty%tp.LotSize != 0 {
		return apperr.Validationf("quantity %d is not a multiple of lot size %d", qty, tp.LotSize)
	}
	if price%tp.TickSize != 0 {
		return apperr.Validationf("price %d is not a multiple of tick size %d", price, tp.TickSize)
	}
	if err := tp.ValidateOrderSize(qty); err != nil {
		return err
	}
	if tp.MinPrice > 0 && price < tp.MinPrice {
		return apperr.Validationf("price %d below minimum %d", price, tp.MinPrice)
	}
	if tp.MaxPrice > 0 && price > tp.MaxPrice {
		return apperr.Validationf("price %d exceeds maximum %d", price, tp.MaxPrice)
	}
	if _, err := Notional(qty, price); err != nil {
		return err
	}
	return nil
}

// ValidateOrderSize checks min/max order size
func (tp *TradingPair) ValidateOrderSize(qty int64) error {
	if qty < tp.MinOrderSize {
		return apperr.Validationf("order size %d below minimum %d", qty, tp.MinOrderSize)
	}
	if qty > tp.MaxOrderSize {
		return apperr.Validationf("order size %d exceeds maximum %d", qty, tp.MaxOrderSize)
	}
	return nil
}

// Notional is qty*price in quote units
func Notional(qty, price int64) (int64, error) {
	n, err := safemath.Mul(qty, price)
	if err != nil {
		return 0, apperr.Validationf("notional %d x %d out of range", qty, price)
	}
	return n, nil
}
