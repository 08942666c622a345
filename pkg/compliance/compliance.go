// Package compliance provides investor eligibility gates. The exchange treats
// the gate as an external collaborator; these are the implementations a node
// can run with.
package compliance

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// AllowAll admits every trader for every active instrument
type AllowAll struct {
	mu       sync.RWMutex
	inactive map[string]bool
}

func NewAllowAll() *AllowAll {
	return &AllowAll{inactive: make(map[string]bool)}
}

func (a *AllowAll) IsEligible(_ common.Address, instrument string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return !a.inactive[instrument]
}

func (a *AllowAll) SetInstrumentStatus(instrument string, active bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if active {
		delete(a.inactive, instrument)
	} else {
		a.inactive[instrument] = true
	}
}

// Allowlist admits traders explicitly approved, either for one instrument or
// for all of them, and only while the instrument is active.
type Allowlist struct {
	mu          sync.RWMutex
	global      map[common.Address]bool
	perInstr    map[string]map[common.Address]bool
	instruments map[string]bool // known instruments and their status
	logger      *zap.SugaredLogger
}

func NewAllowlist(logger *zap.SugaredLogger) *Allowlist {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Allowlist{
		global:      make(map[common.Address]bool),
		perInstr:    make(map[string]map[common.Address]bool),
		instruments: make(map[string]bool),
		logger:      logger,
	}
}

// Approve admits trader; an empty instrument approves for every instrument
func (l *Allowlist) Approve(trader common.Address, instrument string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if instrument == "" {
		l.global[trader] = true
		return
	}
	m, ok := l.perInstr[instrument]
	if !ok {
		m = make(map[common.Address]bool)
		l.perInstr[instrument] = m
	}
	m[trader] = true
}

// Revoke withdraws an approval made with the same instrument argument
func (l *Allowlist) Revoke(trader common.Address, instrument string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if instrument == "" {
		delete(l.global, trader)
		return
	}
	delete(l.perInstr[instrument], trader)
}

func (l *Allowlist) IsEligible(trader common.Address, instrument string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if active, known := l.instruments[instrument]; !known || !active {
		return false
	}
	return l.global[trader] || l.perInstr[instrument][trader]
}

func (l *Allowlist) SetInstrumentStatus(instrument string, active bool) {
	l.mu.Lock()
	l.instruments[instrument] = active
	l.mu.Unlock()
	l.logger.Infow("compliance_instrument_status", "instrument", instrument, "active", active)
}
