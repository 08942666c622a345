package orderbook

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

// ParseSide accepts "buy"/"bid" and "sell"/"ask" in any case
func ParseSide(v string) (Side, bool) {
	switch strings.ToLower(v) {
	case "buy", "bid":
		return Buy, true
	case "sell", "ask":
		return Sell, true
	default:
		return 0, false
	}
}

// Order is a resting or historical limit order.
// Qty is the remaining quantity; OrigQty never changes after placement.
type Order struct {
	ID         uint64         `json:"id"`
	Trader     common.Address `json:"trader"`
	Instrument string         `json:"instrument"`
	Side       Side           `json:"side"`
	Price      int64          `json:"price"`
	Qty        int64          `json:"qty"`
	OrigQty    int64          `json:"origQty"`
	Seq        uint64         `json:"seq"` // arrival sequence, breaks price ties
	Active     bool           `json:"active"`
	CreatedAt  int64          `json:"createdAt"` // unix millis

	// intrusive FIFO links within the price level
	level      *level
	prev, next *Order
}

// Filled returns the executed quantity
func (o *Order) Filled() int64 { return o.OrigQty - o.Qty }

// Snapshot returns a detached copy safe to hand to callers
func (o *Order) Snapshot() Order {
	cp := *o
	cp.level, cp.prev, cp.next = nil, nil, nil
	return cp
}

// ahead reports whether o has priority over other on the same side
func (o *Order) ahead(other *Order) bool {
	if o.Price != other.Price {
		if o.Side == Buy {
			return o.Price > other.Price
		}
		return o.Price < other.Price
	}
	return o.Seq < other.Seq
}
