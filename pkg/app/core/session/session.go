// Package session tracks trading sessions: at most one open session per
// instrument, with running price and volume statistics.
package session

import (
	"encoding/binary"
	"math"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/edaix/pkg/app/core/apperr"
)

// TradingSession is one open/close cycle of an instrument
type TradingSession struct {
	ID          uint64 `json:"id"`
	Instrument  string `json:"instrument"`
	Active      bool   `json:"active"`
	StartTime   int64  `json:"startTime"`
	EndTime     int64  `json:"endTime"`
	OpenPrice   int64  `json:"openPrice"`
	ClosePrice  int64  `json:"closePrice"`
	LastPrice   int64  `json:"lastPrice"` // 0 until the first trade or swap
	Volume      int64  `json:"volume"`    // instrument units
	TradeCount  int64  `json:"tradeCount"`
	Attestation []byte `json:"attestation,omitempty"`
}

// Digest is the keccak256 of the closed session's fields, the message an
// attestor signs.
func (s TradingSession) Digest() []byte {
	buf := make([]byte, 0, 8*8+len(s.Instrument))
	buf = binary.BigEndian.AppendUint64(buf, s.ID)
	buf = append(buf, s.Instrument...)
	for _, v := range []int64{s.StartTime, s.EndTime, s.OpenPrice, s.ClosePrice, s.Volume, s.TradeCount} {
		buf = binary.BigEndian.AppendUint64(buf, uint64(v))
	}
	return crypto.Keccak256(buf)
}

// Manager owns every session. Not safe for concurrent use.
type Manager struct {
	nextID  uint64
	active  map[string]*TradingSession
	history map[string][]TradingSession // closed sessions, oldest first
}

func NewManager() *Manager {
	return &Manager{
		active:  make(map[string]*TradingSession),
		history: make(map[string][]TradingSession),
	}
}

// Start opens a session
func (m *Manager) Start(instrument string, openPrice, now int64) (TradingSession, error) {
	if _, open := m.active[instrument]; open {
		return TradingSession{}, apperr.Statef("session for %s is already open", instrument)
	}
	if openPrice <= 0 {
		return TradingSession{}, apperr.Validationf("open price must be positive: %d", openPrice)
	}
	m.nextID++
	s := &TradingSession{
		ID:         m.nextID,
		Instrument: instrument,
		Active:     true,
		StartTime:  now,
		OpenPrice:  openPrice,
	}
	m.active[instrument] = s
	return *s, nil
}

// CloseSnapshot computes the record End would produce, without closing.
// The close price is the last traded price, else spot, else the open price.
func (m *Manager) CloseSnapshot(instrument string, spot, now int64) (TradingSession, error) {
	s, ok := m.active[instrument]
	if !ok {
		return TradingSession{}, apperr.Statef("no open session for %s", instrument)
	}
	out := *s
	out.Active = false
	out.EndTime = now
	switch {
	case s.LastPrice > 0:
		out.ClosePrice = s.LastPrice
	case spot > 0:
		out.ClosePrice = spot
	default:
		out.ClosePrice = s.OpenPrice
	}
	return out, nil
}

// End closes the open session and appends it to history
func (m *Manager) End(instrument string, spot, now int64) (TradingSession, error) {
	closed, err := m.CloseSnapshot(instrument, spot, now)
	if err != nil {
		return TradingSession{}, err
	}
	delete(m.active, instrument)
	m.history[instrument] = append(m.history[instrument], closed)
	return closed, nil
}

// Record adds an execution to the open session's counters
func (m *Manager) Record(instrument string, price, qty int64) error {
	s, ok := m.active[instrument]
	if !ok {
		return apperr.Statef("no open session for %s", instrument)
	}
	s.LastPrice = price
	if s.Volume > math.MaxInt64-qty {
		s.Volume = math.MaxInt64 // saturates
	} else {
		s.Volume += qty
	}
	s.TradeCount++
	return nil
}

// Attest stores a signature on a closed session
func (m *Manager) Attest(instrument string, id uint64, sig []byte) error {
	h := m.history[instrument]
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].ID == id {
			h[i].Attestation = append([]byte(nil), sig...)
			return nil
		}
	}
	return apperr.NotFoundf("closed session %d for %s not found", id, instrument)
}

func (m *Manager) IsOpen(instrument string) bool {
	_, ok := m.active[instrument]
	return ok
}

// Current returns the open session
func (m *Manager) Current(instrument string) (TradingSession, bool) {
	s, ok := m.active[instrument]
	if !ok {
		return TradingSession{}, false
	}
	return *s, true
}

// Latest returns the open session, or the most recently closed one
func (m *Manager) Latest(instrument string) (TradingSession, bool) {
	if s, ok := m.Current(instrument); ok {
		return s, true
	}
	h := m.history[instrument]
	if len(h) == 0 {
		return TradingSession{}, false
	}
	return h[len(h)-1], true
}

// History returns closed sessions, newest first
func (m *Manager) History(instrument string, limit int) []TradingSession {
	h := m.history[instrument]
	var out []TradingSession
	for i := len(h) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, h[i])
	}
	return out
}

// HasHistory reports whether the instrument ever closed a session
func (m *Manager) HasHistory(instrument string) bool {
	return len(m.history[instrument]) > 0
}
