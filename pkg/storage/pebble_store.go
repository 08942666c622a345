// Package storage persists finalized blocks, the accounts each block touched,
// and the exchange's journal records (pairs, trades, sessions, pools and
// liquidity positions). Blocks are the source of truth: a node rebuilds its
// state by replaying them. Journal records serve history queries.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/edaix/pkg/abci"
	"github.com/uhyunpark/edaix/pkg/app/core/amm"
	"github.com/uhyunpark/edaix/pkg/app/core/ledger"
	"github.com/uhyunpark/edaix/pkg/app/core/market"
	"github.com/uhyunpark/edaix/pkg/app/core/matching"
	"github.com/uhyunpark/edaix/pkg/app/core/session"
)

// Store is implemented by PebbleStore and MemStore
type Store interface {
	SaveBlock(b abci.Block, accounts []ledger.Account) error
	LoadBlocks() ([]abci.Block, error)
	LastHeight() (int64, error)
	LoadAccount(addr common.Address) (ledger.Account, bool, error)

	SavePair(market.TradingPair) error
	SaveTrade(matching.Trade) error
	SaveSession(session.TradingSession) error
	SavePool(amm.Pool) error
	SavePosition(amm.Position) error

	LoadRecentTrades(instrument string, limit int) ([]matching.Trade, error)
	LoadSessions(instrument string) ([]session.TradingSession, error)
	LoadPositions(provider common.Address) ([]amm.Position, error)

	Close() error
}

var (
	_ Store = (*PebbleStore)(nil)
	_ Store = (*MemStore)(nil)
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// ============================================================================
// Blocks
// ============================================================================

// SaveBlock writes the block, the accounts it modified and the new height in
// one synced batch.
func (s *PebbleStore) SaveBlock(b abci.Block, accounts []ledger.Account) error {
	val, err := encodeGob(b)
	if err != nil {
		return fmt.Errorf("encode block: %w", err)
	}
	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(blockKey(b.Height), val, nil); err != nil {
		return err
	}
	for i := range accounts {
		data, err := json.Marshal(&accounts[i])
		if err != nil {
			return fmt.Errorf("failed to marshal account: %w", err)
		}
		if err := batch.Set(accountKey(accounts[i].Address), data, nil); err != nil {
			return err
		}
	}
	if err := batch.Set(keyHeight, heightValue(b.Height), nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit block %d: %w", b.Height, err)
	}
	return nil
}

// LoadBlocks returns every persisted block in height order
func (s *PebbleStore) LoadBlocks() ([]abci.Block, error) {
	prefix := []byte(prefixBlock)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var blocks []abci.Block
	for iter.First(); iter.Valid(); iter.Next() {
		var b abci.Block
		if err := decodeGob(iter.Value(), &b); err != nil {
			return nil, fmt.Errorf("decode block at %s: %w", iter.Key(), err)
		}
		blocks = append(blocks, b)
	}
	return blocks, iter.Error()
}

// LastHeight returns 0 for an empty store
func (s *PebbleStore) LastHeight() (int64, error) {
	val, closer, err := s.db.Get(keyHeight)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	return parseHeight(val), nil
}

// LoadAccount returns the account as of the last committed block
func (s *PebbleStore) LoadAccount(addr common.Address) (ledger.Account, bool, error) {
	var acc ledger.Account
	ok, err := s.getJSON(accountKey(addr), &acc)
	return acc, ok, err
}

// ============================================================================
// Journal
// ============================================================================

func (s *PebbleStore) SavePair(p market.TradingPair) error {
	return s.setJSON(pairKey(p.Instrument), p, pebble.Sync)
}

// SaveTrade is unsynced; the block that produced the trade is synced
func (s *PebbleStore) SaveTrade(t matching.Trade) error {
	return s.setJSON(tradeKey(t.Instrument, t.Timestamp, t.ID), t, pebble.NoSync)
}

func (s *PebbleStore) SaveSession(ts session.TradingSession) error {
	return s.setJSON(sessionKey(ts.Instrument, ts.ID), ts, pebble.Sync)
}

func (s *PebbleStore) SavePool(p amm.Pool) error {
	return s.setJSON(poolKey(p.Instrument), p, pebble.NoSync)
}

func (s *PebbleStore) SavePosition(p amm.Position) error {
	return s.setJSON(positionKey(p.Provider, p.Instrument, p.ID), p, pebble.NoSync)
}

// LoadRecentTrades returns up to limit trades for an instrument, newest first
func (s *PebbleStore) LoadRecentTrades(instrument string, limit int) ([]matching.Trade, error) {
	prefix := tradePrefix(instrument)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []matching.Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t matching.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			continue
		}
		trades = append(trades, t)
	}
	return trades, iter.Error()
}

// LoadSessions returns an instrument's sessions in id order
func (s *PebbleStore) LoadSessions(instrument string) ([]session.TradingSession, error) {
	var out []session.TradingSession
	err := s.scan(sessionPrefix(instrument), func(v []byte) {
		var ts session.TradingSession
		if json.Unmarshal(v, &ts) == nil {
			out = append(out, ts)
		}
	})
	return out, err
}

// LoadPositions returns every liquidity position of a provider, closed ones
// included.
func (s *PebbleStore) LoadPositions(provider common.Address) ([]amm.Position, error) {
	var out []amm.Position
	err := s.scan(positionPrefix(provider), func(v []byte) {
		var p amm.Position
		if json.Unmarshal(v, &p) == nil {
			out = append(out, p)
		}
	})
	return out, err
}

func (s *PebbleStore) setJSON(key []byte, v any, opts *pebble.WriteOptions) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.db.Set(key, data, opts); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

func (s *PebbleStore) getJSON(key []byte, v any) (bool, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *PebbleStore) scan(prefix []byte, fn func(value []byte)) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		fn(iter.Value())
	}
	return iter.Error()
}
