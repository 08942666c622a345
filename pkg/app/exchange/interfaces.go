package exchange

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/edaix/pkg/app/core/amm"
	"github.com/uhyunpark/edaix/pkg/app/core/market"
	"github.com/uhyunpark/edaix/pkg/app/core/matching"
	"github.com/uhyunpark/edaix/pkg/app/core/session"
)

// ComplianceGate decides investor eligibility. It is consulted before every
// order, swap and liquidity change, and told when a pair is toggled.
type ComplianceGate interface {
	IsEligible(trader common.Address, instrument string) bool
	SetInstrumentStatus(instrument string, active bool)
}

// MarketDataSink receives one notification per trade and per swap
type MarketDataSink interface {
	Notify(instrument string, lastPrice, volumeDelta int64)
}

// Journal persists records once an operation has committed
type Journal interface {
	SavePair(market.TradingPair) error
	SaveTrade(matching.Trade) error
	SaveSession(session.TradingSession) error
	SavePool(amm.Pool) error
	SavePosition(amm.Position) error
}

// NopSink discards notifications
type NopSink struct{}

func (NopSink) Notify(string, int64, int64) {}

// MultiSink fans a notification out to every sink in order
type MultiSink []MarketDataSink

func (m MultiSink) Notify(instrument string, lastPrice, volumeDelta int64) {
	for _, s := range m {
		s.Notify(instrument, lastPrice, volumeDelta)
	}
}

type nopJournal struct{}

func (nopJournal) SavePair(market.TradingPair) error         { return nil }
func (nopJournal) SaveTrade(matching.Trade) error            { return nil }
func (nopJournal) SaveSession(session.TradingSession) error { return nil }
func (nopJournal) SavePool(amm.Pool) error                   { return nil }
func (nopJournal) SavePosition(amm.Position) error           { return nil }

// Phase is an instrument's place in the listing and session lifecycle
type Phase string

const (
	PhaseInactive   Phase = "inactive"   // not listed
	PhaseConfigured Phase = "configured" // listed, no session yet
	PhaseOpen       Phase = "open"
	PhaseClosed     Phase = "closed"
)
