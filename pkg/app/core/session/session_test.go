package session

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/uhyunpark/edaix/pkg/app/core/apperr"
)

func TestSessionLifecycle(t *testing.T) {
	m := NewManager()
	if _, err := m.End("EDAI-1", 0, 1); !errors.Is(err, apperr.ErrState) {
		t.Fatalf("End without session err = %v", err)
	}
	if _, err := m.Start("EDAI-1", 0, 1); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("zero open price err = %v", err)
	}

	s, err := m.Start("EDAI-1", 100, 10)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.ID != 1 || !s.Active || s.StartTime != 10 {
		t.Errorf("session = %+v", s)
	}
	if _, err := m.Start("EDAI-1", 100, 11); !errors.Is(err, apperr.ErrState) {
		t.Errorf("double start err = %v", err)
	}

	_ = m.Record("EDAI-1", 104, 6)
	_ = m.Record("EDAI-1", 102, 4)

	closed, err := m.End("EDAI-1", 99, 20)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if closed.ClosePrice != 102 || closed.Volume != 10 || closed.TradeCount != 2 || closed.Active {
		t.Errorf("closed = %+v", closed)
	}
	if m.IsOpen("EDAI-1") {
		t.Error("session still open")
	}
	if err := m.Record("EDAI-1", 1, 1); !errors.Is(err, apperr.ErrState) {
		t.Errorf("record on closed err = %v", err)
	}

	// reopen
	s2, err := m.Start("EDAI-1", 102, 30)
	if err != nil || s2.ID != 2 {
		t.Fatalf("reopen = %+v, %v", s2, err)
	}
	if latest, _ := m.Latest("EDAI-1"); latest.ID != 2 {
		t.Errorf("latest = %d", latest.ID)
	}
}

func TestClosePriceFallback(t *testing.T) {
	tests := []struct {
		name  string
		trade int64
		spot  int64
		want  int64
	}{
		{"last trade wins", 107, 95, 107},
		{"pool spot without trades", 0, 95, 95},
		{"open price otherwise", 0, 0, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager()
			_, _ = m.Start("X", 100, 0)
			if tt.trade > 0 {
				_ = m.Record("X", tt.trade, 1)
			}
			s, err := m.End("X", tt.spot, 1)
			if err != nil {
				t.Fatalf("End: %v", err)
			}
			if s.ClosePrice != tt.want {
				t.Errorf("close = %d, want %d", s.ClosePrice, tt.want)
			}
		})
	}
}

func TestHistoryAndAttest(t *testing.T) {
	m := NewManager()
	for i := 0; i < 3; i++ {
		_, _ = m.Start("X", 100, int64(i))
		_, _ = m.End("X", 0, int64(i))
	}
	h := m.History("X", 2)
	if len(h) != 2 || h[0].ID != 3 || h[1].ID != 2 {
		t.Fatalf("history = %+v", h)
	}
	if err := m.Attest("X", 2, []byte{1, 2}); err != nil {
		t.Fatalf("Attest: %v", err)
	}
	if err := m.Attest("X", 9, nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("attest unknown err = %v", err)
	}
	if got := m.History("X", 0)[1].Attestation; !bytes.Equal(got, []byte{1, 2}) {
		t.Errorf("attestation = %x", got)
	}

	a, b := h[0], h[1]
	if bytes.Equal(a.Digest(), b.Digest()) || len(a.Digest()) != 32 {
		t.Error("digests should be distinct 32-byte hashes")
	}
}

func TestRecordVolumeSaturates(t *testing.T) {
	m := NewManager()
	if _, err := m.Start("EDAI-1", 100, 1); err != nil {
		t.Fatal(err)
	}
	_ = m.Record("EDAI-1", 100, math.MaxInt64-1)
	_ = m.Record("EDAI-1", 101, 5)
	s, _ := m.Current("EDAI-1")
	if s.Volume != math.MaxInt64 || s.TradeCount != 2 || s.LastPrice != 101 {
		t.Errorf("session = %+v", s)
	}
}
