// Package matching implements price-time priority matching over per-instrument
// order books.
//
// Execution price rule: every trade, automatic or operator-mediated, executes at
// the price of the order that arrived first (the maker). Partial fills keep the
// maker's original queue position.
package matching

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/edaix/pkg/app/core/apperr"
	"github.com/uhyunpark/edaix/pkg/app/core/orderbook"
)

// Trade is an immutable execution record
type Trade struct {
	ID           uint64         `json:"id"`
	Instrument   string         `json:"instrument"`
	BuyOrderID   uint64         `json:"buyOrderId"`
	SellOrderID  uint64         `json:"sellOrderId"`
	MakerOrderID uint64         `json:"makerOrderId"`
	Buyer        common.Address `json:"buyer"`
	Seller       common.Address `json:"seller"`
	Qty          int64          `json:"qty"`
	Price        int64          `json:"price"`
	BuyLimit     int64          `json:"buyLimit"` // buy order's limit price, for escrow release
	Timestamp    int64          `json:"timestamp"`
}

// Engine owns every order and book. Orders live in an append-only table
// indexed by id; books hold only the active ones.
//
// Engine is not safe for concurrent use.
type Engine struct {
	books  map[string]*orderbook.Book
	orders map[uint64]*orderbook.Order
	trades []Trade

	nextOrderID uint64
	nextSeq     uint64
	nextTradeID uint64
}

func NewEngine() *Engine {
	return &Engine{
		books:  make(map[string]*orderbook.Book),
		orders: make(map[uint64]*orderbook.Order),
	}
}

// AddInstrument creates an empty book; adding an existing instrument is a no-op
func (e *Engine) AddInstrument(instrument string) {
	if _, ok := e.books[instrument]; !ok {
		e.books[instrument] = orderbook.NewBook(instrument)
	}
}

func (e *Engine) book(instrument string) (*orderbook.Book, error) {
	b, ok := e.books[instrument]
	if !ok {
		return nil, apperr.NotFoundf("no order book for %s", instrument)
	}
	return b, nil
}

// NextOrderID is the id the next accepted order will receive
func (e *Engine) NextOrderID() uint64 { return e.nextOrderID + 1 }

// Place assigns an id and arrival sequence, rests the order, then runs the
// matching pass for its instrument. Pair-level validation is the caller's job.
func (e *Engine) Place(trader common.Address, instrument string, side orderbook.Side, qty, price, now int64) (orderbook.Order, []Trade, error) {
	o, b, err := e.rest(trader, instrument, side, qty, price, now)
	if err != nil {
		return orderbook.Order{}, nil, err
	}
	trades := e.match(b, now)
	return o.Snapshot(), trades, nil
}

// Rest places an order without running the matching pass. Used for pairs
// settled by an operator through Execute or an explicit Match.
func (e *Engine) Rest(trader common.Address, instrument string, side orderbook.Side, qty, price, now int64) (orderbook.Order, error) {
	o, _, err := e.rest(trader, instrument, side, qty, price, now)
	if err != nil {
		return orderbook.Order{}, err
	}
	return o.Snapshot(), nil
}

func (e *Engine) rest(trader common.Address, instrument string, side orderbook.Side, qty, price, now int64) (*orderbook.Order, *orderbook.Book, error) {
	if !side.Valid() {
		return nil, nil, apperr.Validationf("invalid side %d", side)
	}
	if qty <= 0 || price <= 0 {
		return nil, nil, apperr.Validationf("quantity and price must be positive")
	}
	b, err := e.book(instrument)
	if err != nil {
		return nil, nil, err
	}

	o := &orderbook.Order{
		ID:         e.nextOrderID + 1,
		Trader:     trader,
		Instrument: instrument,
		Side:       side,
		Price:      price,
		Qty:        qty,
		OrigQty:    qty,
		Seq:        e.nextSeq + 1,
		Active:     true,
		CreatedAt:  now,
	}
	if err := b.Insert(o); err != nil {
		return nil, nil, err
	}
	e.nextOrderID++
	e.nextSeq++
	e.orders[o.ID] = o
	return o, b, nil
}

// Match runs the matching pass for an instrument. Calling it on an uncrossed
// book produces no trades, so repeated calls are harmless.
func (e *Engine) Match(instrument string, now int64) ([]Trade, error) {
	b, err := e.book(instrument)
	if err != nil {
		return nil, err
	}
	return e.match(b, now), nil
}

func (e *Engine) match(b *orderbook.Book, now int64) []Trade {
	var trades []Trade
	for {
		bid, ok := b.BestBid()
		if !ok {
			break
		}
		ask, ok := b.BestAsk()
		if !ok || bid.Price < ask.Price {
			break
		}
		trades = append(trades, e.fill(b, bid, ask, now))
	}
	return trades
}

// fill executes min(remaining) between two crossing orders at the maker price
func (e *Engine) fill(b *orderbook.Book, bid, ask *orderbook.Order, now int64) Trade {
	qty := min(bid.Qty, ask.Qty)
	maker := bid
	if ask.Seq < bid.Seq {
		maker = ask
	}

	e.nextTradeID++
	t := Trade{
		ID:           e.nextTradeID,
		Instrument:   b.Instrument(),
		BuyOrderID:   bid.ID,
		SellOrderID:  ask.ID,
		MakerOrderID: maker.ID,
		Buyer:        bid.Trader,
		Seller:       ask.Trader,
		Qty:          qty,
		Price:        maker.Price,
		BuyLimit:     bid.Price,
		Timestamp:    now,
	}

	// both orders are in the book and qty <= each remaining, so Fill cannot fail
	if _, err := b.Fill(bid.ID, qty); err != nil {
		panic(err)
	}
	if _, err := b.Fill(ask.ID, qty); err != nil {
		panic(err)
	}
	e.trades = append(e.trades, t)
	return t
}

// Cancel deactivates an order and removes it from its book.
// privileged callers may cancel any order.
func (e *Engine) Cancel(id uint64, requester common.Address, privileged bool) (orderbook.Order, error) {
	o, ok := e.orders[id]
	if !ok {
		return orderbook.Order{}, apperr.NotFoundf("order %d not found", id)
	}
	if o.Trader != requester && !privileged {
		return orderbook.Order{}, apperr.Unauthorizedf("order %d is not owned by %s", id, requester.Hex())
	}
	if !o.Active {
		return orderbook.Order{}, apperr.NotFoundf("order %d is not active", id)
	}
	if b, ok := e.books[o.Instrument]; ok {
		b.Remove(id)
	}
	o.Active = false
	return o.Snapshot(), nil
}

// CheckExecution validates an operator-mediated match without mutating state
func (e *Engine) CheckExecution(buyID, sellID uint64) (qty, price int64, err error) {
	buy, ok := e.orders[buyID]
	if !ok {
		return 0, 0, apperr.NotFoundf("order %d not found", buyID)
	}
	sell, ok := e.orders[sellID]
	if !ok {
		return 0, 0, apperr.NotFoundf("order %d not found", sellID)
	}
	if !buy.Active || !sell.Active {
		return 0, 0, apperr.Statef("orders %d and %d must both be active", buyID, sellID)
	}
	if buy.Side != orderbook.Buy || sell.Side != orderbook.Sell {
		return 0, 0, apperr.Validationf("order %d must be a buy and %d a sell", buyID, sellID)
	}
	if buy.Instrument != sell.Instrument {
		return 0, 0, apperr.Validationf("orders are for different instruments (%s, %s)", buy.Instrument, sell.Instrument)
	}
	if buy.Price < sell.Price {
		return 0, 0, apperr.Validationf("buy price %d below sell price %d", buy.Price, sell.Price)
	}
	price = buy.Price
	if sell.Seq < buy.Seq {
		price = sell.Price
	}
	return min(buy.Qty, sell.Qty), price, nil
}

// Execute matches two specific orders outside the automatic pass
func (e *Engine) Execute(buyID, sellID uint64, now int64) (Trade, error) {
	if _, _, err := e.CheckExecution(buyID, sellID); err != nil {
		return Trade{}, err
	}
	buy, sell := e.orders[buyID], e.orders[sellID]
	b, err := e.book(buy.Instrument)
	if err != nil {
		return Trade{}, err
	}
	return e.fill(b, buy, sell, now), nil
}

// Order returns a snapshot of any order ever placed
func (e *Engine) Order(id uint64) (orderbook.Order, bool) {
	o, ok := e.orders[id]
	if !ok {
		return orderbook.Order{}, false
	}
	return o.Snapshot(), true
}

// OpenOrders returns active orders of a trader sorted by id
func (e *Engine) OpenOrders(trader common.Address) []orderbook.Order {
	var out []orderbook.Order
	for _, o := range e.orders {
		if o.Active && o.Trader == trader {
			out = append(out, o.Snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Depth returns aggregated bids and asks, best first
func (e *Engine) Depth(instrument string, depth int) (bids, asks []orderbook.PriceLevel, err error) {
	b, err := e.book(instrument)
	if err != nil {
		return nil, nil, err
	}
	return b.Levels(orderbook.Buy, depth), b.Levels(orderbook.Sell, depth), nil
}

// Book exposes an instrument's book for read-only inspection
func (e *Engine) Book(instrument string) (*orderbook.Book, bool) {
	b, ok := e.books[instrument]
	return b, ok
}

// Instruments returns the instruments with books, sorted
func (e *Engine) Instruments() []string {
	out := make([]string, 0, len(e.books))
	for k := range e.books {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Trades returns up to limit most recent trades for an instrument, newest first
func (e *Engine) Trades(instrument string, limit int) []Trade {
	var out []Trade
	for i := len(e.trades) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if e.trades[i].Instrument == instrument {
			out = append(out, e.trades[i])
		}
	}
	return out
}

// Trade looks up a trade by id
func (e *Engine) Trade(id uint64) (Trade, bool) {
	if id == 0 || id > uint64(len(e.trades)) {
		return Trade{}, false
	}
	return e.trades[id-1], true
}
