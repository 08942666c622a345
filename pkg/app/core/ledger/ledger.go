// Package ledger is the asset-transfer primitive: per-account, per-asset
// balances split into available and locked (escrowed) amounts.
package ledger

import (
	"slices"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/edaix/pkg/app/core/apperr"
	"github.com/uhyunpark/edaix/pkg/app/core/safemath"
)

// Ledger manages all accounts in a thread-safe manner.
// Accounts are created lazily on first credit.
//
// Deposits keep each asset's total supply within int64. Every other
// operation moves value between balances, so no single balance, available
// plus locked, can overflow.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[common.Address]*Account
	supply   map[string]int64
	dirty    map[common.Address]struct{} // touched since last Drain
}

func New() *Ledger {
	return &Ledger{
		accounts: make(map[common.Address]*Account),
		supply:   make(map[string]int64),
		dirty:    make(map[common.Address]struct{}),
	}
}

func (l *Ledger) getLocked(addr common.Address) *Account {
	acc, ok := l.accounts[addr]
	if !ok {
		acc = NewAccount(addr)
		l.accounts[addr] = acc
	}
	return acc
}

func (l *Ledger) touch(addrs ...common.Address) {
	for _, a := range addrs {
		l.dirty[a] = struct{}{}
	}
}

// Deposit credits available balance (bridge inflow or genesis funding)
func (l *Ledger) Deposit(addr common.Address, asset string, amount int64) error {
	if amount <= 0 {
		return apperr.Validationf("deposit amount must be positive: %d", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	total, err := safemath.Add(l.supply[asset], amount)
	if err != nil {
		return apperr.Validationf("%s supply overflow: outstanding %d, deposit %d", asset, l.supply[asset], amount)
	}
	acc := l.getLocked(addr)
	b := acc.Balances[asset]
	b.Available += amount
	acc.Balances[asset] = b
	l.supply[asset] = total
	l.touch(addr)
	return nil
}

// Withdraw debits available balance
func (l *Ledger) Withdraw(addr common.Address, asset string, amount int64) error {
	if amount <= 0 {
		return apperr.Validationf("withdraw amount must be positive: %d", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.getLocked(addr)
	b := acc.Balances[asset]
	if b.Available < amount {
		return apperr.Statef("insufficient %s: have %d, need %d (locked: %d)", asset, b.Available, amount, b.Locked)
	}
	b.Available -= amount
	acc.Balances[asset] = b
	l.supply[asset] -= amount
	l.touch(addr)
	return nil
}

// Supply returns the outstanding amount of an asset across all accounts
func (l *Ledger) Supply(asset string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply[asset]
}

// Lock moves available balance into escrow
func (l *Ledger) Lock(addr common.Address, asset string, amount int64) error {
	if amount < 0 {
		return apperr.Validationf("lock amount cannot be negative: %d", amount)
	}
	if amount == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.getLocked(addr)
	b := acc.Balances[asset]
	if b.Available < amount {
		return apperr.Statef("insufficient %s to lock: have %d, need %d", asset, b.Available, amount)
	}
	b.Available -= amount
	b.Locked += amount
	acc.Balances[asset] = b
	l.touch(addr)
	return nil
}

// Unlock releases escrow back to available balance
func (l *Ledger) Unlock(addr common.Address, asset string, amount int64) error {
	if amount < 0 {
		return apperr.Validationf("unlock amount cannot be negative: %d", amount)
	}
	if amount == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.getLocked(addr)
	b := acc.Balances[asset]
	if b.Locked < amount {
		return apperr.Statef("cannot unlock more than locked: locked=%d, unlock=%d", b.Locked, amount)
	}
	b.Locked -= amount
	b.Available += amount
	acc.Balances[asset] = b
	l.touch(addr)
	return nil
}

// Transfer moves available balance between accounts
func (l *Ledger) Transfer(from, to common.Address, asset string, amount int64) error {
	return l.transfer(from, to, asset, amount, false)
}

// TransferLocked settles escrow: debits from's locked balance and credits
// to's available balance.
func (l *Ledger) TransferLocked(from, to common.Address, asset string, amount int64) error {
	return l.transfer(from, to, asset, amount, true)
}

func (l *Ledger) transfer(from, to common.Address, asset string, amount int64, locked bool) error {
	if amount < 0 {
		return apperr.Validationf("transfer amount cannot be negative: %d", amount)
	}
	if amount == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	src := l.getLocked(from)
	sb := src.Balances[asset]
	have := sb.Available
	if locked {
		have = sb.Locked
	}
	if have < amount {
		return apperr.Statef("insufficient %s for transfer from %s: have %d, need %d", asset, from.Hex(), have, amount)
	}
	dst := l.getLocked(to)
	db := dst.Balances[asset]
	if from != to {
		if _, err := safemath.Add(db.Available, amount); err != nil {
			return apperr.Validationf("%s balance overflow", asset)
		}
	}

	if locked {
		sb.Locked -= amount
	} else {
		sb.Available -= amount
	}
	src.Balances[asset] = sb
	// re-read in case from == to
	db = dst.Balances[asset]
	db.Available += amount
	dst.Balances[asset] = db
	l.touch(from, to)
	return nil
}

// Balance returns an account's balance of one asset
func (l *Ledger) Balance(addr common.Address, asset string) Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc, ok := l.accounts[addr]
	if !ok {
		return Balance{}
	}
	return acc.Balances[asset]
}

// Available returns the spendable balance of one asset
func (l *Ledger) Available(addr common.Address, asset string) int64 {
	return l.Balance(addr, asset).Available
}

// Account returns a snapshot of an account
func (l *Ledger) Account(addr common.Address) (Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc, ok := l.accounts[addr]
	if !ok {
		return Account{}, false
	}
	return acc.Clone(), true
}

// Accounts returns snapshots of every account, sorted by address
func (l *Ledger) Accounts() []Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Account, 0, len(l.accounts))
	for _, acc := range l.accounts {
		out = append(out, acc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Cmp(out[j].Address) < 0 })
	return out
}

// Nonce returns one above the highest nonce the address has used
func (l *Ledger) Nonce(addr common.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if acc, ok := l.accounts[addr]; ok {
		return acc.Nonce
	}
	return 0
}

// UseNonce consumes nonce unless it was already used or has fallen out of
// the account's NonceWindow.
func (l *Ledger) UseNonce(addr common.Address, nonce uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.getLocked(addr)
	i, found := slices.BinarySearch(acc.Used, nonce)
	if found {
		return apperr.Validationf("nonce %d already used by %s", nonce, addr.Hex())
	}
	if len(acc.Used) >= NonceWindow && i == 0 {
		return apperr.Validationf("nonce %d too low for %s: window starts at %d", nonce, addr.Hex(), acc.Used[0])
	}
	acc.Used = slices.Insert(acc.Used, i, nonce)
	if len(acc.Used) > NonceWindow {
		acc.Used = acc.Used[1:]
	}
	if nonce >= acc.Nonce {
		acc.Nonce = nonce + 1
	}
	l.touch(addr)
	return nil
}

// Drain returns snapshots of accounts modified since the previous call
func (l *Ledger) Drain() []Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Account, 0, len(l.dirty))
	for addr := range l.dirty {
		out = append(out, l.accounts[addr].Clone())
	}
	l.dirty = make(map[common.Address]struct{})
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Cmp(out[j].Address) < 0 })
	return out
}
