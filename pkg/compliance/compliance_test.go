package compliance

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	alice = common.HexToAddress("0xa1")
	bob   = common.HexToAddress("0xb0")
)

func TestAllowAll(t *testing.T) {
	g := NewAllowAll()
	if !g.IsEligible(alice, "EDAI-1") {
		t.Fatal("allow-all rejected a trader")
	}
	g.SetInstrumentStatus("EDAI-1", false)
	if g.IsEligible(alice, "EDAI-1") {
		t.Error("inactive instrument still eligible")
	}
	g.SetInstrumentStatus("EDAI-1", true)
	if !g.IsEligible(alice, "EDAI-1") {
		t.Error("reactivated instrument not eligible")
	}
}

func TestAllowlist(t *testing.T) {
	l := NewAllowlist(nil)
	l.Approve(alice, "")
	l.Approve(bob, "EDAI-1")

	if l.IsEligible(alice, "EDAI-1") {
		t.Error("unknown instrument should be ineligible")
	}
	l.SetInstrumentStatus("EDAI-1", true)
	l.SetInstrumentStatus("EDAI-2", true)

	tests := []struct {
		who   common.Address
		instr string
		want  bool
	}{
		{alice, "EDAI-1", true},
		{alice, "EDAI-2", true},
		{bob, "EDAI-1", true},
		{bob, "EDAI-2", false},
	}
	for _, tt := range tests {
		if got := l.IsEligible(tt.who, tt.instr); got != tt.want {
			t.Errorf("IsEligible(%s, %s) = %v, want %v", tt.who.Hex(), tt.instr, got, tt.want)
		}
	}

	l.SetInstrumentStatus("EDAI-1", false)
	if l.IsEligible(alice, "EDAI-1") {
		t.Error("inactive instrument still eligible")
	}
	l.Revoke(alice, "")
	if l.IsEligible(alice, "EDAI-2") {
		t.Error("revoked trader still eligible")
	}
}
