package api

import (
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/edaix/pkg/app/core/amm"
	"github.com/uhyunpark/edaix/pkg/app/core/ledger"
	"github.com/uhyunpark/edaix/pkg/app/core/market"
	"github.com/uhyunpark/edaix/pkg/app/core/matching"
	"github.com/uhyunpark/edaix/pkg/app/core/orderbook"
	"github.com/uhyunpark/edaix/pkg/app/core/session"
)

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// PairInfo is a trading pair plus its lifecycle phase
type PairInfo struct {
	market.TradingPair
	Phase string `json:"phase"` // "inactive", "configured", "open", "closed"
}

// OrderbookSnapshot is aggregated depth
type OrderbookSnapshot struct {
	Instrument string       `json:"instrument"`
	Bids       []PriceLevel `json:"bids"` // high to low
	Asks       []PriceLevel `json:"asks"` // low to high
	Timestamp  int64        `json:"timestamp"`
}

type PriceLevel struct {
	Price  int64 `json:"price"`
	Size   int64 `json:"size"`
	Orders int   `json:"orders"`
}

// PoolInfo adds a decimal spot price to the raw reserves
type PoolInfo struct {
	amm.Pool
	SpotPrice decimal.Decimal `json:"spotPrice"` // quote per asset unit
}

// SwapQuote previews a swap at current reserves
type SwapQuote struct {
	Instrument     string          `json:"instrument"`
	Direction      string          `json:"direction"`
	In             int64           `json:"in"`
	Out            int64           `json:"out"`
	EffectivePrice decimal.Decimal `json:"effectivePrice"` // quote per asset unit
}

type TradeInfo struct {
	ID          uint64 `json:"id"`
	Instrument  string `json:"instrument"`
	BuyOrderID  uint64 `json:"buyOrderId"`
	SellOrderID uint64 `json:"sellOrderId"`
	Buyer       string `json:"buyer"`
	Seller      string `json:"seller"`
	Price       int64  `json:"price"`
	Size        int64  `json:"size"`
	Side        string `json:"side"` // taker side
	Timestamp   int64  `json:"timestamp"`
}

type OrderInfo struct {
	ID         uint64 `json:"id"`
	Trader     string `json:"trader"`
	Instrument string `json:"instrument"`
	Side       string `json:"side"`
	Price      int64  `json:"price"`
	Size       int64  `json:"size"`
	Filled     int64  `json:"filled"`
	Remaining  int64  `json:"remaining"`
	Status     string `json:"status"` // "open", "partially_filled", "closed"
	Timestamp  int64  `json:"timestamp"`
}

// AccountInfo lists balances per asset
type AccountInfo struct {
	Address  string                    `json:"address"`
	Nonce    uint64                    `json:"nonce"`
	Balances map[string]ledger.Balance `json:"balances"`
}

type SessionInfo struct {
	session.TradingSession
	Phase string `json:"phase"`
}

type ChainStatus struct {
	Height      int64 `json:"height"`
	MempoolSize int   `json:"mempoolSize"`
	Healthy     bool  `json:"healthy"`
}

// TxReceipt acknowledges a transaction accepted into the mempool. The
// outcome is known once a block includes it.
type TxReceipt struct {
	Status    string `json:"status"` // "submitted"
	ReceiptID string `json:"receiptId"`
	Action    string `json:"action"`
	Owner     string `json:"owner"`
	Nonce     uint64 `json:"nonce"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["ticker:EDAI-1"]
}

// TickerUpdate is broadcast for every trade and swap
type TickerUpdate struct {
	Type       string `json:"type"` // "ticker"
	Instrument string `json:"instrument"`
	Price      int64  `json:"price"`
	Volume     int64  `json:"volume"`
	Timestamp  int64  `json:"timestamp"`
}

// ==============================
// Conversions
// ==============================

func toLevels(in []orderbook.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(in))
	for i, l := range in {
		out[i] = PriceLevel{Price: l.Price, Size: l.Qty, Orders: l.Orders}
	}
	return out
}

func toOrderInfo(o orderbook.Order) OrderInfo {
	status := "open"
	switch {
	case !o.Active:
		status = "closed"
	case o.Filled() > 0:
		status = "partially_filled"
	}
	return OrderInfo{
		ID:         o.ID,
		Trader:     o.Trader.Hex(),
		Instrument: o.Instrument,
		Side:       o.Side.String(),
		Price:      o.Price,
		Size:       o.OrigQty,
		Filled:     o.Filled(),
		Remaining:  o.Qty,
		Status:     status,
		Timestamp:  o.CreatedAt,
	}
}

func toTradeInfo(t matching.Trade) TradeInfo {
	side := orderbook.Buy
	if t.MakerOrderID == t.BuyOrderID {
		side = orderbook.Sell
	}
	return TradeInfo{
		ID:          t.ID,
		Instrument:  t.Instrument,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Buyer:       t.Buyer.Hex(),
		Seller:      t.Seller.Hex(),
		Price:       t.Price,
		Size:        t.Qty,
		Side:        side.String(),
		Timestamp:   t.Timestamp,
	}
}

func toPoolInfo(p amm.Pool) PoolInfo {
	return PoolInfo{Pool: p, SpotPrice: decimal.New(p.LastPrice, 0).Div(decimal.New(amm.PriceScale, 0))}
}
