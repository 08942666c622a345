package amm

import (
	"math"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/edaix/pkg/app/core/apperr"
	"github.com/uhyunpark/edaix/pkg/app/core/safemath"
)

const (
	// PriceScale is the fixed-point precision of Pool.LastPrice
	PriceScale = 1_000_000
	// DefaultFeeBps is the swap fee retained by the pool (0.3%)
	DefaultFeeBps = 30
	bpsDenom      = 10_000
)

// Direction of a swap
type Direction int8

const (
	AssetToQuote Direction = 1 // sell instrument units for quote
	QuoteToAsset Direction = 2 // buy instrument units with quote
)

func (d Direction) String() string {
	switch d {
	case AssetToQuote:
		return "asset_to_quote"
	case QuoteToAsset:
		return "quote_to_asset"
	default:
		return "unknown"
	}
}

func (d Direction) Valid() bool { return d == AssetToQuote || d == QuoteToAsset }

// ParseDirection accepts the String form of a direction
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "asset_to_quote":
		return AssetToQuote, true
	case "quote_to_asset":
		return QuoteToAsset, true
	}
	return 0, false
}

// SwapOutput applies the constant-product formula with the fee retained:
//
//	out = in*(10000-fee)*rOut / (rIn*10000 + in*(10000-fee))
//
// The division floors, so rounding always favors the pool.
func SwapOutput(in, rIn, rOut, feeBps int64) (int64, error) {
	if in <= 0 {
		return 0, apperr.Validationf("swap input must be positive")
	}
	if rIn <= 0 || rOut <= 0 {
		return 0, apperr.Statef("pool has no liquidity")
	}
	if feeBps < 0 || feeBps >= bpsDenom {
		return 0, apperr.Validationf("fee %d bps out of range", feeBps)
	}
	effIn := new(uint256.Int).Mul(u(in), u(bpsDenom-feeBps))
	num := new(uint256.Int).Mul(effIn, u(rOut))
	den := new(uint256.Int).Mul(u(rIn), u(bpsDenom))
	den.Add(den, effIn)
	out := num.Div(num, den)
	// out < rOut always holds, so it fits in int64
	return int64(out.Uint64()), nil
}

// OptimalContribution returns the largest (asset, quote) pair within the
// desired amounts that preserves the current reserve ratio.
func OptimalContribution(desiredAsset, desiredQuote, rAsset, rQuote int64) (asset, quote int64, err error) {
	if rAsset == 0 && rQuote == 0 {
		return desiredAsset, desiredQuote, nil
	}
	candQuote, err := safemath.MulDiv(desiredAsset, rQuote, rAsset)
	if err != nil {
		return 0, 0, apperr.Validationf("liquidity amount out of range")
	}
	if candQuote <= desiredQuote {
		return desiredAsset, candQuote, nil
	}
	candAsset, err := safemath.MulDiv(desiredQuote, rAsset, rQuote)
	if err != nil {
		return 0, 0, apperr.Validationf("liquidity amount out of range")
	}
	return candAsset, desiredQuote, nil
}

// MintShares sizes a deposit: the geometric mean for an empty pool, otherwise
// the smaller of the two proportional claims.
func MintShares(asset, quote, rAsset, rQuote, totalShares int64) (int64, error) {
	if totalShares == 0 || rAsset == 0 || rQuote == 0 {
		s, err := safemath.SqrtMul(asset, quote)
		if err != nil {
			return 0, apperr.Validationf("liquidity amount out of range")
		}
		return s, nil
	}
	byAsset, err := safemath.MulDiv(totalShares, asset, rAsset)
	if err != nil {
		return 0, apperr.Validationf("liquidity amount out of range")
	}
	byQuote, err := safemath.MulDiv(totalShares, quote, rQuote)
	if err != nil {
		return 0, apperr.Validationf("liquidity amount out of range")
	}
	return min(byAsset, byQuote), nil
}

// Redeem returns the reserves owed for burning shares
func Redeem(shares, rAsset, rQuote, totalShares int64) (asset, quote int64, err error) {
	if totalShares <= 0 || shares > totalShares {
		return 0, 0, apperr.Statef("insufficient pool shares")
	}
	if asset, err = safemath.MulDiv(shares, rAsset, totalShares); err != nil {
		return 0, 0, err
	}
	if quote, err = safemath.MulDiv(shares, rQuote, totalShares); err != nil {
		return 0, 0, err
	}
	return asset, quote, nil
}

// SpotPrice is quote per asset unit scaled by PriceScale; zero for an empty pool
func SpotPrice(rAsset, rQuote int64) int64 {
	if rAsset <= 0 {
		return 0
	}
	p, err := safemath.MulDiv(rQuote, PriceScale, rAsset)
	if err != nil {
		return math.MaxInt64
	}
	return p
}

func u(v int64) *uint256.Int { return uint256.NewInt(uint64(v)) }
