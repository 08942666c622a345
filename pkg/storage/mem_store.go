package storage

import (
	"cmp"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/edaix/pkg/abci"
	"github.com/uhyunpark/edaix/pkg/app/core/amm"
	"github.com/uhyunpark/edaix/pkg/app/core/ledger"
	"github.com/uhyunpark/edaix/pkg/app/core/market"
	"github.com/uhyunpark/edaix/pkg/app/core/matching"
	"github.com/uhyunpark/edaix/pkg/app/core/session"
)

// MemStore keeps everything in memory; used when no data directory is set
type MemStore struct {
	mu        sync.Mutex
	blocks    []abci.Block
	accounts  map[common.Address]ledger.Account
	pairs     map[string]market.TradingPair
	trades    map[string][]matching.Trade
	sessions  map[string]map[uint64]session.TradingSession
	pools     map[string]amm.Pool
	positions map[uint64]amm.Position
}

func NewMemStore() *MemStore {
	return &MemStore{
		accounts:  make(map[common.Address]ledger.Account),
		pairs:     make(map[string]market.TradingPair),
		trades:    make(map[string][]matching.Trade),
		sessions:  make(map[string]map[uint64]session.TradingSession),
		pools:     make(map[string]amm.Pool),
		positions: make(map[uint64]amm.Position),
	}
}

func (s *MemStore) Close() error { return nil }

func (s *MemStore) SaveBlock(b abci.Block, accounts []ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, b)
	for _, acc := range accounts {
		s.accounts[acc.Address] = acc
	}
	return nil
}

func (s *MemStore) LoadBlocks() ([]abci.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.blocks), nil
}

func (s *MemStore) LastHeight() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.blocks) == 0 {
		return 0, nil
	}
	return s.blocks[len(s.blocks)-1].Height, nil
}

func (s *MemStore) LoadAccount(addr common.Address) (ledger.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[addr]
	return acc, ok, nil
}

func (s *MemStore) SavePair(p market.TradingPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[p.Instrument] = p
	return nil
}

// SaveTrade replaces a trade already stored under the same id
func (s *MemStore) SaveTrade(t matching.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.trades[t.Instrument]
	if i := slices.IndexFunc(list, func(x matching.Trade) bool { return x.ID == t.ID }); i >= 0 {
		list[i] = t
		return nil
	}
	s.trades[t.Instrument] = append(list, t)
	return nil
}

func (s *MemStore) SaveSession(ts session.TradingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.sessions[ts.Instrument]
	if !ok {
		m = make(map[uint64]session.TradingSession)
		s.sessions[ts.Instrument] = m
	}
	m[ts.ID] = ts
	return nil
}

func (s *MemStore) SavePool(p amm.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[p.Instrument] = p
	return nil
}

func (s *MemStore) SavePosition(p amm.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.ID] = p
	return nil
}

func (s *MemStore) LoadRecentTrades(instrument string, limit int) ([]matching.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := slices.Clone(s.trades[instrument])
	slices.SortFunc(list, func(a, b matching.Trade) int {
		if c := cmp.Compare(b.Timestamp, a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (s *MemStore) LoadSessions(instrument string) ([]session.TradingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []session.TradingSession
	for _, ts := range s.sessions[instrument] {
		out = append(out, ts)
	}
	slices.SortFunc(out, func(a, b session.TradingSession) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *MemStore) LoadPositions(provider common.Address) ([]amm.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []amm.Position
	for _, p := range s.positions {
		if p.Provider == provider {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b amm.Position) int {
		if c := cmp.Compare(a.Instrument, b.Instrument); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}
