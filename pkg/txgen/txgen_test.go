package txgen

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/edaix/pkg/abci"
	"github.com/uhyunpark/edaix/pkg/app/core/access"
	"github.com/uhyunpark/edaix/pkg/app/core/ledger"
	"github.com/uhyunpark/edaix/pkg/app/core/transaction"
	"github.com/uhyunpark/edaix/pkg/app/exchange"
	"github.com/uhyunpark/edaix/pkg/crypto"
	"github.com/uhyunpark/edaix/pkg/util"
)

func newApp(t *testing.T, admin *crypto.Signer) *exchange.App {
	t.Helper()
	clock := util.NewManualClock(time.UnixMilli(0))
	ctrl := exchange.NewController(exchange.Config{
		FeeBps: 30,
		Access: access.NewRegistry(admin.Address()),
		Ledger: ledger.New(),
		Clock:  clock,
	})
	return exchange.NewApp(exchange.AppConfig{
		Controller: ctrl,
		Clock:      clock,
		Verifier:   transaction.NewVerifier(crypto.DefaultDomain()),
	})
}

func TestGeneratedTrafficApplies(t *testing.T) {
	admin, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.NumAccounts = 4
	gen, err := NewGenerator(admin, cfg, 42, nil)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	app := newApp(t, admin)

	boot, err := gen.Bootstrap()
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if want := 2 + 2*cfg.NumAccounts + 1; len(boot) != want {
		t.Fatalf("bootstrap txs = %d, want %d", len(boot), want)
	}
	resp := app.FinalizeBlock(abci.RequestFinalizeBlock{Height: 1, Timestamp: 1_000, Txs: boot})
	for i, r := range resp.TxResults {
		if !r.OK() {
			t.Fatalf("bootstrap tx %d rejected: %s %s", i, r.Kind, r.Log)
		}
	}
	if _, err := app.Controller().GetPool(cfg.Instrument); err != nil {
		t.Fatalf("GetPool: %v", err)
	}

	batch, err := gen.NextBatch(100)
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	resp = app.FinalizeBlock(abci.RequestFinalizeBlock{Height: 2, Timestamp: 2_000, Txs: batch})
	ok := 0
	for i, r := range resp.TxResults {
		switch {
		case r.OK():
			ok++
		case r.Kind == "unauthorized" || r.Kind == "validation":
			t.Errorf("tx %d: %s %s", i, r.Kind, r.Log)
		}
	}
	if ok < len(batch)/2 {
		t.Errorf("only %d of %d generated txs applied", ok, len(batch))
	}
	if s, err := app.Controller().GetSession(cfg.Instrument); err != nil || s.Volume == 0 {
		t.Errorf("session = %+v, %v; want traded volume", s, err)
	}
}

func TestNewGeneratorRejectsConfig(t *testing.T) {
	admin, _ := crypto.GenerateKey()
	tests := []func(*Config){
		func(c *Config) { c.NumAccounts = 1 },
		func(c *Config) { c.Spread = c.MidPrice },
		func(c *Config) { c.MaxQty = 0 },
	}
	for i, mutate := range tests {
		cfg := DefaultConfig()
		mutate(&cfg)
		if _, err := NewGenerator(admin, cfg, 1, nil); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

type countingSubmitter struct {
	mu  sync.Mutex
	raw [][]byte
}

func (c *countingSubmitter) PushTx(raw []byte) (*transaction.SignedTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw = append(c.raw, raw)
	return transaction.ParseTransaction(raw)
}

func (c *countingSubmitter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.raw)
}

func TestFeedSubmitsBatches(t *testing.T) {
	admin, _ := crypto.GenerateKey()
	cfg := DefaultConfig()
	cfg.NumAccounts = 2
	gen, err := NewGenerator(admin, cfg, 7, func(common.Address) uint64 { return 5 })
	if err != nil {
		t.Fatal(err)
	}
	sub := &countingSubmitter{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Feed(ctx, gen, sub, FeederConfig{BatchSize: 3, Interval: 5 * time.Millisecond}, nil) }()

	boot := 2 + 2*cfg.NumAccounts + 1
	deadline := time.Now().Add(5 * time.Second)
	for sub.count() < boot+3 {
		if time.Now().After(deadline) {
			t.Fatalf("submitted %d txs", sub.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Feed: %v", err)
	}

	first, err := transaction.ParseTransaction(sub.raw[0])
	if err != nil {
		t.Fatal(err)
	}
	if first.Action != transaction.ActionCreatePair || first.Nonce != 5 {
		t.Errorf("first tx = %s nonce %d, want create_pair nonce 5", first.Action, first.Nonce)
	}
}
