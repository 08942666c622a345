package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema. Numeric components are zero-padded to 20 digits so keys sort
// in numeric order.
//
//	blk:<height>                        → abci.Block (gob)
//	meta:height                         → last committed height
//	acc:<address>                       → ledger.Account
//	pair:<instrument>                   → market.TradingPair
//	trade:<instrument>:<ts>:<id>        → matching.Trade
//	sess:<instrument>:<id>              → session.TradingSession
//	pool:<instrument>                   → amm.Pool
//	lp:<address>:<instrument>:<id>      → amm.Position
const (
	prefixBlock    = "blk:"
	prefixAccount  = "acc:"
	prefixPair     = "pair:"
	prefixTrade    = "trade:"
	prefixSession  = "sess:"
	prefixPool     = "pool:"
	prefixPosition = "lp:"
)

var keyHeight = []byte("meta:height")

func blockKey(height int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixBlock, height))
}

func accountKey(addr common.Address) []byte {
	return []byte(prefixAccount + addr.Hex())
}

func pairKey(instrument string) []byte {
	return []byte(prefixPair + instrument)
}

// tradeKey orders trades by time, then id, within an instrument
func tradeKey(instrument string, timestamp int64, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%020d", prefixTrade, instrument, timestamp, id))
}

func tradePrefix(instrument string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, instrument))
}

func sessionKey(instrument string, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixSession, instrument, id))
}

func sessionPrefix(instrument string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixSession, instrument))
}

func poolKey(instrument string) []byte {
	return []byte(prefixPool + instrument)
}

func positionKey(provider common.Address, instrument string, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%020d", prefixPosition, provider.Hex(), instrument, id))
}

func positionPrefix(provider common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixPosition, provider.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
