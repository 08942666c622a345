package mempool

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/uhyunpark/edaix/pkg/app/core/transaction"
)

// ErrFull is returned when the pool holds its maximum number of pending txs
var ErrFull = errors.New("mempool full")

// TxType classifies transactions into ordering buckets.
type TxType int

const (
	TxAdmin TxType = iota // pair, session, pool and funding administration
	TxCancel
	TxTrade // orders, swaps, liquidity, manual execution
)

func (t TxType) String() string {
	switch t {
	case TxAdmin:
		return "admin"
	case TxCancel:
		return "cancel"
	default:
		return "trade"
	}
}

// ClassifyRaw reads the action of a JSON envelope:
//
//	{"action": "start_session", ...} -> TxAdmin
//	{"action": "cancel_order", ...}  -> TxCancel
//
// Anything else, including malformed bytes, is TxTrade; it will be rejected
// when the block is applied.
func ClassifyRaw(b []byte) TxType {
	if len(b) == 0 || b[0] != '{' {
		return TxTrade
	}
	var env struct {
		Action transaction.Action `json:"action"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return TxTrade
	}
	switch {
	case env.Action.Admin():
		return TxAdmin
	case env.Action == transaction.ActionCancelOrder:
		return TxCancel
	default:
		return TxTrade
	}
}

// Mempool keeps three FIFO queues and drains them in bucket order:
// admin first so a session opened in a block is visible to that block's
// orders, then cancels so they take effect before new crossing orders.
type Mempool struct {
	mu         sync.Mutex
	maxPending int // 0 = unbounded
	admin      [][]byte
	cancel     [][]byte
	trade      [][]byte
}

func NewMempool(maxPending int) *Mempool {
	return &Mempool{maxPending: maxPending}
}

// PushRaw classifies and enqueues a copy of b
func (m *Mempool) PushRaw(b []byte) (TxType, error) {
	cp := append([]byte(nil), b...)
	typ := ClassifyRaw(b)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxPending > 0 && m.lenLocked() >= m.maxPending {
		return typ, ErrFull
	}
	switch typ {
	case TxAdmin:
		m.admin = append(m.admin, cp)
	case TxCancel:
		m.cancel = append(m.cancel, cp)
	default:
		m.trade = append(m.trade, cp)
	}
	return typ, nil
}

// SelectForProposal removes and returns up to maxBytes worth of txs in
// bucket order. A tx that does not fit stops its bucket; smaller txs in
// later buckets may still be taken.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64

	pull := func(q *[][]byte) {
		for len(*q) > 0 {
			tx := (*q)[0]
			n := int64(len(tx))
			if maxBytes > 0 && used+n > maxBytes {
				return
			}
			out = append(out, tx)
			used += n
			*q = (*q)[1:]
		}
	}

	pull(&m.admin)
	pull(&m.cancel)
	pull(&m.trade)

	return out
}

// Len returns total pending txs
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lenLocked()
}

func (m *Mempool) lenLocked() int {
	return len(m.admin) + len(m.cancel) + len(m.trade)
}
