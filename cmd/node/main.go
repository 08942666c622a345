package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"maps"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/uhyunpark/edaix/params"
	"github.com/uhyunpark/edaix/pkg/abci"
	"github.com/uhyunpark/edaix/pkg/api"
	"github.com/uhyunpark/edaix/pkg/app/core/access"
	"github.com/uhyunpark/edaix/pkg/app/core/ledger"
	"github.com/uhyunpark/edaix/pkg/app/core/mempool"
	"github.com/uhyunpark/edaix/pkg/app/core/transaction"
	"github.com/uhyunpark/edaix/pkg/app/exchange"
	"github.com/uhyunpark/edaix/pkg/compliance"
	"github.com/uhyunpark/edaix/pkg/crypto"
	"github.com/uhyunpark/edaix/pkg/p2p"
	"github.com/uhyunpark/edaix/pkg/storage"
	"github.com/uhyunpark/edaix/pkg/txgen"
	"github.com/uhyunpark/edaix/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Log.File != "" {
		logger, err = util.NewLoggerWithFile(cfg.Log.File, cfg.Log.Level)
	} else {
		logger, err = util.NewLogger(cfg.Log.Level)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if err := run(cfg, sugar); err != nil {
		sugar.Errorw("node_failed", "err", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg params.Config, sugar *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	store, err := openStore(cfg.Node.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	// ---- Exchange ----
	root, devRoot, err := rootAddress(cfg.Exchange.Root, sugar)
	if err != nil {
		return err
	}
	registry := access.NewRegistry(root)
	for _, op := range cfg.Exchange.Operators {
		if err := registry.Grant(root, op.Address, op.Caps); err != nil {
			return fmt.Errorf("grant %s: %w", op.Address.Hex(), err)
		}
		sugar.Infow("operator_granted", "address", op.Address.Hex(), "caps", op.Caps.String())
	}

	var attestor *crypto.Attestor
	if cfg.Exchange.AttestorSeed != "" {
		if attestor, err = crypto.NewAttestorFromSeed([]byte(cfg.Exchange.AttestorSeed)); err != nil {
			return err
		}
		pk, _ := attestor.PublicKey()
		sugar.Infow("attestor_ready", "public_key", fmt.Sprintf("0x%x", pk))
	}

	clock := util.NewManualClock(time.Unix(0, 0))
	ctrl := exchange.NewController(exchange.Config{
		FeeBps:   cfg.Exchange.PoolFeeBps,
		Access:   registry,
		Ledger:   ledger.New(),
		Gate:     complianceGate(cfg.Exchange, sugar),
		Journal:  store,
		Attestor: attestor,
		Clock:    clock,
		Logger:   sugar.Named("exchange"),
	})

	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(cfg.Node.ChainID)
	pool := mempool.NewMempool(cfg.Node.MempoolMax)
	app := exchange.NewApp(exchange.AppConfig{
		Controller: ctrl,
		Clock:      clock,
		Verifier:   transaction.NewVerifier(domain),
		Mempool:    pool,
		Store:      store,
		Logger:     sugar.Named("app"),
	})

	// ---- Replay ----
	// Sinks are installed afterwards so replayed trades are not rebroadcast
	blocks, err := store.LoadBlocks()
	if err != nil {
		return fmt.Errorf("load blocks: %w", err)
	}
	last, err := abci.Replay(app, blocks)
	if err != nil {
		return err
	}
	if err := verifyReplay(store, ctrl.Ledger(), last); err != nil {
		return err
	}
	sugar.Infow("replay_complete", "blocks", len(blocks), "height", last.Height, "app_hash", last.AppHash.Hex())

	producer := abci.NewProducer(app, util.RealClock{}, cfg.Node.BlockTime, last, sugar.Named("producer"))

	// ---- API Server ----
	apiServer := api.NewServer(api.Config{
		Controller:     ctrl,
		Submitter:      app,
		History:        store,
		Chain:          chainStatus{producer: producer, mempool: pool, app: app},
		AllowedOrigins: cfg.API.AllowedOrigins,
		Logger:         sugar.Named("api"),
	})
	hub := apiServer.Hub()
	sinks := exchange.MultiSink{hub}

	// ---- P2P market data ----
	if cfg.P2P.Listen != "" {
		gossip, err := p2p.NewGossipSink(ctx, p2p.Config{
			ListenAddr: cfg.P2P.Listen,
			Bootstrap:  cfg.P2P.Bootstrap,
			Logger:     sugar.Named("p2p"),
			OnTick: func(_ peer.ID, t p2p.TickWire) {
				hub.BroadcastToChannel(api.TickerChannel(t.Instrument), api.TickerUpdate{
					Type:       "ticker",
					Instrument: t.Instrument,
					Price:      t.Price,
					Volume:     t.Volume,
					Timestamp:  t.Timestamp,
				})
			},
		})
		if err != nil {
			return fmt.Errorf("p2p: %w", err)
		}
		defer gossip.Close()
		sugar.Infow("p2p_addresses", "addrs", gossip.Addrs())
		sinks = append(sinks, gossip)
	}
	ctrl.SetSink(sinks)

	sugar.Infow("node_starting",
		"chain_id", cfg.Node.ChainID,
		"block_time_ms", cfg.Node.BlockTime.Milliseconds(),
		"root", root.Hex(),
		"compliance", cfg.Exchange.ComplianceMode,
		"data_dir", cfg.Node.DataDir)

	errc := make(chan error, 2)
	go func() { errc <- apiServer.Start(ctx, cfg.API.Addr) }()
	go func() { errc <- producer.Run(ctx) }()

	// ---- Transaction Feeder (optional) ----
	// Enable with: ENABLE_TXGEN=true TXGEN_MODE=default|high
	if cfg.TxGen.Enabled {
		if err := startTxGen(ctx, cfg, devRoot, ctrl, app, sugar.Named("txgen")); err != nil {
			stop()
			<-errc
			<-errc
			return err
		}
	}

	// first failure stops the node; a signal stops both loops cleanly
	err = <-errc
	stop()
	if err2 := <-errc; err == nil || errors.Is(err, context.Canceled) {
		err = err2
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	sugar.Infow("node_stopped", "height", producer.Height())
	return err
}

func openStore(dataDir string) (storage.Store, error) {
	if dataDir == "" {
		return storage.NewMemStore(), nil
	}
	s, err := storage.NewPebbleStore(filepath.Join(dataDir, "db"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return s, nil
}

// verifyReplay checks the replayed ledger against the accounts persisted with
// each block. A mismatch means the store was written by a different build.
func verifyReplay(store storage.Store, l *ledger.Ledger, last abci.Block) error {
	stored, err := store.LastHeight()
	if err != nil {
		return fmt.Errorf("last height: %w", err)
	}
	if stored != last.Height {
		return fmt.Errorf("replay reached height %d, store is at %d", last.Height, stored)
	}
	for _, acc := range l.Accounts() {
		saved, ok, err := store.LoadAccount(acc.Address)
		if err != nil {
			return fmt.Errorf("load account %s: %w", acc.Address.Hex(), err)
		}
		if !ok && acc.Nonce == 0 && len(acc.Assets()) == 0 {
			continue // created by a rejected transfer, never committed
		}
		if !ok || saved.Nonce != acc.Nonce || !maps.Equal(saved.Balances, acc.Balances) {
			return fmt.Errorf("account %s diverges from stored state", acc.Address.Hex())
		}
	}
	return nil
}

// rootAddress parses the configured root or generates a throwaway devnet
// key, which is returned as well
func rootAddress(configured string, sugar *zap.SugaredLogger) (common.Address, *crypto.Signer, error) {
	if configured != "" {
		return common.HexToAddress(configured), nil, nil
	}
	signer, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, nil, err
	}
	sugar.Warnw("devnet_root_generated", "address", signer.Address().Hex())
	fmt.Fprintf(os.Stderr, "devnet root private key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	return signer.Address(), signer, nil
}

func startTxGen(ctx context.Context, cfg params.Config, devRoot *crypto.Signer, ctrl *exchange.Controller, app *exchange.App, sugar *zap.SugaredLogger) error {
	admin := devRoot
	if cfg.TxGen.AdminKey != "" {
		var err error
		if admin, err = crypto.FromPrivateKeyHex(cfg.TxGen.AdminKey); err != nil {
			return fmt.Errorf("txgen admin key: %w", err)
		}
	}
	genCfg := txgen.DefaultConfig()
	genCfg.ChainID = cfg.Node.ChainID
	feedCfg := txgen.DefaultFeederConfig()
	if cfg.TxGen.Mode == "high" {
		genCfg.NumAccounts = 200
		feedCfg = txgen.HighLoadConfig()
	}
	gen, err := txgen.NewGenerator(admin, genCfg, time.Now().UnixNano(), ctrl.Ledger().Nonce)
	if err != nil {
		return err
	}
	go func() {
		if err := txgen.Feed(ctx, gen, app, feedCfg, sugar); err != nil {
			sugar.Errorw("txgen_failed", "err", err)
		}
	}()
	return nil
}

func complianceGate(cfg params.Exchange, sugar *zap.SugaredLogger) exchange.ComplianceGate {
	if cfg.ComplianceMode != params.ComplianceAllowlist {
		return compliance.NewAllowAll()
	}
	gate := compliance.NewAllowlist(sugar.Named("compliance"))
	for _, addr := range cfg.Allowlist {
		gate.Approve(addr, "")
	}
	return gate
}

// chainStatus adapts the producer and mempool to api.Chain
type chainStatus struct {
	producer *abci.Producer
	mempool  *mempool.Mempool
	app      *exchange.App
}

func (c chainStatus) Height() int64    { return c.producer.Height() }
func (c chainStatus) MempoolSize() int { return c.mempool.Len() }
func (c chainStatus) Err() error       { return c.app.Err() }
