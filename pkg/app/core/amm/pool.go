// Package amm implements constant-product liquidity pools, one per instrument.
//
// Every operation computes its full result first and only then writes pool and
// position state, so a rejected call leaves nothing changed.
package amm

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/edaix/pkg/app/core/apperr"
	"github.com/uhyunpark/edaix/pkg/app/core/safemath"
)

type Pool struct {
	Instrument   string `json:"instrument"`
	AssetReserve int64  `json:"assetReserve"`
	QuoteReserve int64  `json:"quoteReserve"`
	TotalShares  int64  `json:"totalShares"`
	LastPrice    int64  `json:"lastPrice"` // quote per asset unit, scaled by PriceScale
	FeeBps       int64  `json:"feeBps"`
	Active       bool   `json:"active"`
	CreatedAt    int64  `json:"createdAt"`
}

// BookPrice is the spot price in order book units: whole quote per asset
// unit, floored, and at least 1 for a funded pool. Sessions and market data
// ticks use these units; LastPrice keeps the PriceScale precision.
func (p Pool) BookPrice() int64 {
	if p.AssetReserve <= 0 || p.QuoteReserve <= 0 {
		return 0
	}
	return max(p.QuoteReserve/p.AssetReserve, 1)
}

// Position is one liquidity deposit. Each add creates a new position.
type Position struct {
	ID          uint64         `json:"id"`
	Provider    common.Address `json:"provider"`
	Instrument  string         `json:"instrument"`
	AssetAmount int64          `json:"assetAmount"`
	QuoteAmount int64          `json:"quoteAmount"`
	Shares      int64          `json:"shares"`
	Active      bool           `json:"active"`
	CreatedAt   int64          `json:"createdAt"`
}

type AddResult struct {
	Asset    int64
	Quote    int64
	Shares   int64
	Position Position
}

type RemoveResult struct {
	Asset  int64
	Quote  int64
	Shares int64
}

type SwapResult struct {
	Direction Direction
	In        int64
	Out       int64
	AssetLeg  int64 // instrument units exchanged
	QuoteLeg  int64 // quote units exchanged
	Pool      Pool  // post-swap state
}

type providerKey struct {
	provider   common.Address
	instrument string
}

// Manager owns all pools and liquidity positions. Not safe for concurrent use.
type Manager struct {
	feeBps     int64
	pools      map[string]*Pool
	positions  map[uint64]*Position
	byProvider map[providerKey][]uint64 // position ids in creation order
	nextPosID  uint64
}

func NewManager(feeBps int64) *Manager {
	if feeBps < 0 || feeBps >= bpsDenom {
		feeBps = DefaultFeeBps
	}
	return &Manager{
		feeBps:     feeBps,
		pools:      make(map[string]*Pool),
		positions:  make(map[uint64]*Position),
		byProvider: make(map[providerKey][]uint64),
	}
}

func (m *Manager) FeeBps() int64 { return m.feeBps }

func (m *Manager) pool(instrument string) (*Pool, error) {
	p, ok := m.pools[instrument]
	if !ok {
		return nil, apperr.NotFoundf("no pool for %s", instrument)
	}
	return p, nil
}

// Create bootstraps a pool and mints isqrt(asset*quote) shares to the provider
func (m *Manager) Create(provider common.Address, instrument string, asset, quote, now int64) (Pool, Position, error) {
	if _, exists := m.pools[instrument]; exists {
		return Pool{}, Position{}, apperr.Statef("pool for %s already exists", instrument)
	}
	if asset <= 0 || quote <= 0 {
		return Pool{}, Position{}, apperr.Validationf("initial amounts must be positive")
	}
	shares, err := MintShares(asset, quote, 0, 0, 0)
	if err != nil {
		return Pool{}, Position{}, err
	}
	if shares == 0 {
		return Pool{}, Position{}, apperr.Validationf("initial liquidity too small")
	}

	p := &Pool{
		Instrument:   instrument,
		AssetReserve: asset,
		QuoteReserve: quote,
		TotalShares:  shares,
		LastPrice:    SpotPrice(asset, quote),
		FeeBps:       m.feeBps,
		Active:       true,
		CreatedAt:    now,
	}
	m.pools[instrument] = p
	pos := m.newPosition(provider, instrument, asset, quote, shares, now)
	return *p, *pos, nil
}

// QuoteAdd previews AddLiquidity without mutating state
func (m *Manager) QuoteAdd(instrument string, desiredAsset, desiredQuote int64) (asset, quote, shares int64, err error) {
	p, err := m.pool(instrument)
	if err != nil {
		return 0, 0, 0, err
	}
	if !p.Active {
		return 0, 0, 0, apperr.Statef("pool for %s is inactive", instrument)
	}
	if desiredAsset <= 0 || desiredQuote <= 0 {
		return 0, 0, 0, apperr.Validationf("liquidity amounts must be positive")
	}
	asset, quote, err = OptimalContribution(desiredAsset, desiredQuote, p.AssetReserve, p.QuoteReserve)
	if err != nil {
		return 0, 0, 0, err
	}
	if asset <= 0 || quote <= 0 {
		return 0, 0, 0, apperr.Validationf("contribution rounds to zero at current ratio")
	}
	shares, err = MintShares(asset, quote, p.AssetReserve, p.QuoteReserve, p.TotalShares)
	if err != nil {
		return 0, 0, 0, err
	}
	if shares <= 0 {
		return 0, 0, 0, apperr.Validationf("contribution too small to mint shares")
	}
	if _, err := safemath.Add(p.AssetReserve, asset); err != nil {
		return 0, 0, 0, apperr.Validationf("asset reserve overflow")
	}
	if _, err := safemath.Add(p.QuoteReserve, quote); err != nil {
		return 0, 0, 0, apperr.Validationf("quote reserve overflow")
	}
	if _, err := safemath.Add(p.TotalShares, shares); err != nil {
		return 0, 0, 0, apperr.Validationf("share supply overflow")
	}
	return asset, quote, shares, nil
}

// AddLiquidity deposits the optimal contribution and opens a new position
func (m *Manager) AddLiquidity(provider common.Address, instrument string, desiredAsset, desiredQuote, now int64) (AddResult, error) {
	asset, quote, shares, err := m.QuoteAdd(instrument, desiredAsset, desiredQuote)
	if err != nil {
		return AddResult{}, err
	}
	p := m.pools[instrument]
	p.AssetReserve += asset
	p.QuoteReserve += quote
	p.TotalShares += shares
	p.LastPrice = SpotPrice(p.AssetReserve, p.QuoteReserve)

	pos := m.newPosition(provider, instrument, asset, quote, shares, now)
	return AddResult{Asset: asset, Quote: quote, Shares: shares, Position: *pos}, nil
}

// QuoteRemove previews RemoveLiquidity without mutating state
func (m *Manager) QuoteRemove(provider common.Address, instrument string, shares int64) (asset, quote int64, err error) {
	p, err := m.pool(instrument)
	if err != nil {
		return 0, 0, err
	}
	if !p.Active {
		return 0, 0, apperr.Statef("pool for %s is inactive", instrument)
	}
	if shares <= 0 {
		return 0, 0, apperr.Validationf("share amount must be positive")
	}
	if owned := m.ProviderShares(provider, instrument); owned < shares {
		return 0, 0, apperr.Statef("provider holds %d shares, requested %d", owned, shares)
	}
	return Redeem(shares, p.AssetReserve, p.QuoteReserve, p.TotalShares)
}

// RemoveLiquidity burns shares from the provider's oldest positions first
func (m *Manager) RemoveLiquidity(provider common.Address, instrument string, shares int64) (RemoveResult, error) {
	asset, quote, err := m.QuoteRemove(provider, instrument, shares)
	if err != nil {
		return RemoveResult{}, err
	}
	p := m.pools[instrument]
	p.AssetReserve -= asset
	p.QuoteReserve -= quote
	p.TotalShares -= shares
	p.LastPrice = SpotPrice(p.AssetReserve, p.QuoteReserve)

	m.burn(provider, instrument, shares)
	return RemoveResult{Asset: asset, Quote: quote, Shares: shares}, nil
}

func (m *Manager) burn(provider common.Address, instrument string, shares int64) {
	key := providerKey{provider, instrument}
	remaining := shares
	for _, id := range m.byProvider[key] {
		if remaining == 0 {
			break
		}
		pos := m.positions[id]
		if !pos.Active {
			continue
		}
		take := min(remaining, pos.Shares)
		// principal shrinks with the shares; floor keeps the record conservative
		pos.AssetAmount -= mustMulDiv(pos.AssetAmount, take, pos.Shares)
		pos.QuoteAmount -= mustMulDiv(pos.QuoteAmount, take, pos.Shares)
		pos.Shares -= take
		remaining -= take
		if pos.Shares == 0 {
			pos.Active = false
			pos.AssetAmount, pos.QuoteAmount = 0, 0
		}
	}
}

// QuoteSwap previews Swap without mutating state
func (m *Manager) QuoteSwap(instrument string, dir Direction, in, minOut int64) (SwapResult, error) {
	p, err := m.pool(instrument)
	if err != nil {
		return SwapResult{}, err
	}
	if !p.Active {
		return SwapResult{}, apperr.Statef("pool for %s is inactive", instrument)
	}
	if !dir.Valid() {
		return SwapResult{}, apperr.Validationf("invalid swap direction %d", dir)
	}
	if minOut < 0 {
		return SwapResult{}, apperr.Validationf("minimum output cannot be negative")
	}

	rIn, rOut := p.AssetReserve, p.QuoteReserve
	if dir == QuoteToAsset {
		rIn, rOut = p.QuoteReserve, p.AssetReserve
	}
	out, err := SwapOutput(in, rIn, rOut, p.FeeBps)
	if err != nil {
		return SwapResult{}, err
	}
	if out < minOut {
		return SwapResult{}, apperr.Slippagef("output %d below minimum %d", out, minOut)
	}
	if out == 0 {
		return SwapResult{}, apperr.Validationf("swap input too small to produce output")
	}
	newIn, err := safemath.Add(rIn, in)
	if err != nil {
		return SwapResult{}, apperr.Validationf("reserve overflow")
	}

	next := *p
	res := SwapResult{Direction: dir, In: in, Out: out}
	if dir == AssetToQuote {
		next.AssetReserve, next.QuoteReserve = newIn, rOut-out
		res.AssetLeg, res.QuoteLeg = in, out
	} else {
		next.QuoteReserve, next.AssetReserve = newIn, rOut-out
		res.AssetLeg, res.QuoteLeg = out, in
	}
	next.LastPrice = SpotPrice(next.AssetReserve, next.QuoteReserve)
	res.Pool = next
	return res, nil
}

// Swap exchanges against the pool
func (m *Manager) Swap(instrument string, dir Direction, in, minOut int64) (SwapResult, error) {
	res, err := m.QuoteSwap(instrument, dir, in, minOut)
	if err != nil {
		return SwapResult{}, err
	}
	*m.pools[instrument] = res.Pool
	return res, nil
}

// SetActive pauses or resumes a pool
func (m *Manager) SetActive(instrument string, active bool) error {
	p, err := m.pool(instrument)
	if err != nil {
		return err
	}
	p.Active = active
	return nil
}

func (m *Manager) Pool(instrument string) (Pool, bool) {
	p, ok := m.pools[instrument]
	if !ok {
		return Pool{}, false
	}
	return *p, true
}

// Pools returns all pools sorted by instrument
func (m *Manager) Pools() []Pool {
	out := make([]Pool, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// ProviderShares sums the provider's active shares in a pool
func (m *Manager) ProviderShares(provider common.Address, instrument string) int64 {
	var total int64
	for _, id := range m.byProvider[providerKey{provider, instrument}] {
		if pos := m.positions[id]; pos.Active {
			total += pos.Shares
		}
	}
	return total
}

// Positions returns the provider's positions (active and closed) in creation order
func (m *Manager) Positions(provider common.Address, instrument string) []Position {
	ids := m.byProvider[providerKey{provider, instrument}]
	out := make([]Position, 0, len(ids))
	for _, id := range ids {
		out = append(out, *m.positions[id])
	}
	return out
}

func (m *Manager) newPosition(provider common.Address, instrument string, asset, quote, shares, now int64) *Position {
	m.nextPosID++
	pos := &Position{
		ID:          m.nextPosID,
		Provider:    provider,
		Instrument:  instrument,
		AssetAmount: asset,
		QuoteAmount: quote,
		Shares:      shares,
		Active:      true,
		CreatedAt:   now,
	}
	m.positions[pos.ID] = pos
	key := providerKey{provider, instrument}
	m.byProvider[key] = append(m.byProvider[key], pos.ID)
	return pos
}

// mustMulDiv is for a*b/c with b <= c, which cannot overflow
func mustMulDiv(a, b, c int64) int64 {
	v, err := safemath.MulDiv(a, b, c)
	if err != nil {
		panic(err)
	}
	return v
}
