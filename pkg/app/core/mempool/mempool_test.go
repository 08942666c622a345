package mempool

import (
	"errors"
	"testing"
)

func TestClassifyRaw(t *testing.T) {
	tests := []struct {
		name     string
		tx       string
		expected TxType
	}{
		{
			name:     "place order",
			tx:       `{"action":"place_order","payload":{"instrument":"EDAI-1"},"signature":"0x1234"}`,
			expected: TxTrade,
		},
		{
			name:     "cancel",
			tx:       `{"action":"cancel_order","payload":{"orderId":5},"signature":"0xabcd"}`,
			expected: TxCancel,
		},
		{
			name:     "start session",
			tx:       `{"action":"start_session","payload":{"instrument":"EDAI-1","openPrice":100}}`,
			expected: TxAdmin,
		},
		{
			name:     "swap",
			tx:       `{"action":"swap","payload":{}}`,
			expected: TxTrade,
		},
		{
			name:     "invalid JSON",
			tx:       `{"invalid": "json"`,
			expected: TxTrade,
		},
		{
			name:     "non-JSON",
			tx:       "UNKNOWN:foo",
			expected: TxTrade,
		},
		{
			name:     "empty transaction",
			tx:       "",
			expected: TxTrade,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyRaw([]byte(tt.tx))
			if got != tt.expected {
				t.Errorf("ClassifyRaw() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMempool_Ordering(t *testing.T) {
	m := NewMempool(0)

	order1 := `{"action":"place_order","payload":{"side":"buy"},"signature":"0x1111"}`
	order2 := `{"action":"swap","payload":{"in":5},"signature":"0x2222"}`
	cancel1 := `{"action":"cancel_order","payload":{"orderId":1},"signature":"0x4444"}`
	cancel2 := `{"action":"cancel_order","payload":{"orderId":2},"signature":"0x5555"}`
	start := `{"action":"start_session","payload":{"instrument":"EDAI-1","openPrice":100}}`

	for _, tx := range []string{order1, cancel1, order2, start, cancel2} {
		if _, err := m.PushRaw([]byte(tx)); err != nil {
			t.Fatalf("PushRaw: %v", err)
		}
	}

	txs := m.SelectForProposal(10000)
	if len(txs) != 5 {
		t.Fatalf("expected 5 txs, got %d", len(txs))
	}

	// admin, then cancels, then trades; FIFO within each bucket
	expectOrder := []string{start, cancel1, cancel2, order1, order2}
	for i, expected := range expectOrder {
		if string(txs[i]) != expected {
			t.Errorf("tx[%d] mismatch\ngot:  %q\nwant: %q", i, string(txs[i]), expected)
		}
	}
	if m.Len() != 0 {
		t.Errorf("mempool not drained: %d", m.Len())
	}
}

func TestMempool_MaxBytes(t *testing.T) {
	m := NewMempool(0)

	for _, tx := range []string{"N:1", "N:2", "N:3"} {
		_, _ = m.PushRaw([]byte(tx))
	}

	txs := m.SelectForProposal(6) // fits 2 of 3 bytes each
	if len(txs) != 2 {
		t.Errorf("expected 2 txs with maxBytes=6, got %d", len(txs))
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 tx remaining, got %d", m.Len())
	}
}

func TestMempool_Full(t *testing.T) {
	m := NewMempool(2)
	_, _ = m.PushRaw([]byte("a"))
	_, _ = m.PushRaw([]byte("b"))
	if _, err := m.PushRaw([]byte("c")); !errors.Is(err, ErrFull) {
		t.Fatalf("err = %v, want ErrFull", err)
	}
	m.SelectForProposal(0)
	if _, err := m.PushRaw([]byte("c")); err != nil {
		t.Errorf("push after drain: %v", err)
	}
}

func TestMempool_CopiesInput(t *testing.T) {
	m := NewMempool(0)
	b := []byte("abc")
	_, _ = m.PushRaw(b)
	b[0] = 'x'
	if got := string(m.SelectForProposal(0)[0]); got != "abc" {
		t.Errorf("stored tx aliased caller buffer: %q", got)
	}
}
