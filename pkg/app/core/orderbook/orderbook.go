package orderbook

import (
	"github.com/google/btree"

	"github.com/uhyunpark/edaix/pkg/app/core/apperr"
)

const btreeDegree = 32

// PriceLevel is an aggregated view of one price point
type PriceLevel struct {
	Price  int64 `json:"price"`
	Qty    int64 `json:"qty"`
	Orders int   `json:"orders"`
}

// Book is the order store for one instrument.
//
// Each side is a B-tree of price levels ordered best-first, so Min() is the
// best price. Every level is a FIFO linked list and an id index gives O(1)
// access for fills and cancels. Book is not safe for concurrent use; the
// matching engine serializes access.
type Book struct {
	instrument string
	bids       *btree.BTreeG[*level]
	asks       *btree.BTreeG[*level]
	index      map[uint64]*Order
}

func NewBook(instrument string) *Book {
	return &Book{
		instrument: instrument,
		bids:       btree.NewG(btreeDegree, func(a, b *level) bool { return a.price > b.price }),
		asks:       btree.NewG(btreeDegree, func(a, b *level) bool { return a.price < b.price }),
		index:      make(map[uint64]*Order),
	}
}

func (b *Book) Instrument() string { return b.instrument }

func (b *Book) side(s Side) *btree.BTreeG[*level] {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

// Insert rests an active order at its price-time position
func (b *Book) Insert(o *Order) error {
	if o == nil || !o.Side.Valid() {
		return apperr.Validationf("invalid order")
	}
	if o.Instrument != b.instrument {
		return apperr.Validationf("order for %s inserted into %s book", o.Instrument, b.instrument)
	}
	if !o.Active || o.Qty <= 0 || o.Price <= 0 {
		return apperr.Statef("order %d is not restable", o.ID)
	}
	if _, exists := b.index[o.ID]; exists {
		return apperr.Statef("order %d already in book", o.ID)
	}

	tree := b.side(o.Side)
	lv, ok := tree.Get(&level{price: o.Price})
	if !ok {
		lv = &level{price: o.Price}
		tree.ReplaceOrInsert(lv)
	}
	lv.push(o)
	b.index[o.ID] = o
	return nil
}

// Remove takes an order out of the book without touching its Active flag
func (b *Book) Remove(id uint64) (*Order, bool) {
	o, ok := b.index[id]
	if !ok {
		return nil, false
	}
	lv := o.level
	lv.unlink(o)
	if lv.empty() {
		b.side(o.Side).Delete(lv)
	}
	delete(b.index, id)
	return o, true
}

// Fill reduces an order's remaining quantity in place, keeping its queue
// position. A fully filled order is deactivated and removed.
func (b *Book) Fill(id uint64, qty int64) (done bool, err error) {
	o, ok := b.index[id]
	if !ok {
		return false, apperr.NotFoundf("order %d not in book", id)
	}
	if qty <= 0 || qty > o.Qty {
		return false, apperr.Validationf("fill %d exceeds remaining %d of order %d", qty, o.Qty, id)
	}
	o.Qty -= qty
	o.level.total -= qty
	if o.Qty > 0 {
		return false, nil
	}
	b.Remove(id)
	o.Active = false
	return true, nil
}

func (b *Book) best(s Side) (*Order, bool) {
	lv, ok := b.side(s).Min()
	if !ok {
		return nil, false
	}
	return lv.head, true
}

// BestBid returns the highest-priority bid
func (b *Book) BestBid() (*Order, bool) { return b.best(Buy) }

// BestAsk returns the highest-priority ask
func (b *Book) BestAsk() (*Order, bool) { return b.best(Sell) }

// Crossed reports whether the best bid meets or exceeds the best ask
func (b *Book) Crossed() bool {
	bid, ok := b.BestBid()
	if !ok {
		return false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return false
	}
	return bid.Price >= ask.Price
}

func (b *Book) Get(id uint64) (*Order, bool) {
	o, ok := b.index[id]
	return o, ok
}

// Levels returns up to depth aggregated levels best-first; depth <= 0 means all
func (b *Book) Levels(s Side, depth int) []PriceLevel {
	var out []PriceLevel
	b.side(s).Ascend(func(lv *level) bool {
		out = append(out, PriceLevel{Price: lv.price, Qty: lv.total, Orders: lv.count})
		return depth <= 0 || len(out) < depth
	})
	return out
}

// Orders returns snapshots of one side in priority order
func (b *Book) Orders(s Side) []Order {
	var out []Order
	b.side(s).Ascend(func(lv *level) bool {
		for o := lv.head; o != nil; o = o.next {
			out = append(out, o.Snapshot())
		}
		return true
	})
	return out
}

// Len is the number of resting orders on both sides
func (b *Book) Len() int { return len(b.index) }
