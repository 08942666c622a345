package ledger

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Balance of one asset held by an account
type Balance struct {
	Available int64 `json:"available"` // spendable
	Locked    int64 `json:"locked"`    // escrowed for open orders
}

// Total returns available + locked
func (b Balance) Total() int64 { return b.Available + b.Locked }

// NonceWindow is how many recent nonces an account remembers. A nonce is
// accepted once, and only if it is above the oldest remembered one when the
// window is full, so transactions may land out of submission order.
const NonceWindow = 20

// Account holds per-asset balances and the replay nonces of one address.
// Assets are keyed by name: the quote asset ("USDC") or an instrument id.
type Account struct {
	Address  common.Address     `json:"address"`
	Nonce    uint64             `json:"nonce"`                // one above the highest nonce used
	Used     []uint64           `json:"usedNonces,omitempty"` // ascending, at most NonceWindow
	Balances map[string]Balance `json:"balances"`
}

func NewAccount(addr common.Address) *Account {
	return &Account{
		Address:  addr,
		Balances: make(map[string]Balance),
	}
}

// Clone returns a deep copy
func (a *Account) Clone() Account {
	out := Account{
		Address:  a.Address,
		Nonce:    a.Nonce,
		Used:     append([]uint64(nil), a.Used...),
		Balances: make(map[string]Balance, len(a.Balances)),
	}
	for k, v := range a.Balances {
		out.Balances[k] = v
	}
	return out
}

// Assets returns the asset names with a non-zero balance, sorted
func (a *Account) Assets() []string {
	out := make([]string, 0, len(a.Balances))
	for k, v := range a.Balances {
		if v.Total() != 0 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Validate checks account invariants
func (a *Account) Validate() error {
	for asset, b := range a.Balances {
		if b.Available < 0 {
			return fmt.Errorf("negative available %s balance: %d", asset, b.Available)
		}
		if b.Locked < 0 {
			return fmt.Errorf("negative locked %s balance: %d", asset, b.Locked)
		}
	}
	return nil
}

// PoolAccount derives the custody address holding an instrument's pool reserves.
// keccak256("edai-pool:" || instrument), last 20 bytes.
func PoolAccount(instrument string) common.Address {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("edai-pool:"))
	h.Write([]byte(instrument))
	return common.BytesToAddress(h.Sum(nil)[12:])
}
