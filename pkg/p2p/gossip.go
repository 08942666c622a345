// Package p2p publishes market data ticks to peers over libp2p gossipsub
// and delivers the ticks other nodes publish.
package p2p

import (
	"context"
	"sync/atomic"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/edaix/pkg/app/exchange"
)

const (
	TopicMarketData = "edai/marketdata/1"
	outboundBuffer  = 1024
)

// GossipSink is an exchange.MarketDataSink backed by a gossipsub topic
type GossipSink struct {
	h     host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *zap.SugaredLogger

	out    chan TickWire
	seq    atomic.Uint64
	onTick func(from peer.ID, t TickWire)
}

var _ exchange.MarketDataSink = (*GossipSink)(nil)

type Config struct {
	ListenAddr string   // multiaddr, e.g. /ip4/0.0.0.0/tcp/9000
	Bootstrap  []string // multiaddrs with /p2p/<peer id>
	Logger     *zap.SugaredLogger
	// OnTick receives ticks published by other peers; optional
	OnTick func(from peer.ID, t TickWire)
}

// NewGossipSink starts a libp2p host, joins the market data topic and runs
// the publish and receive loops until ctx is cancelled.
func NewGossipSink(ctx context.Context, cfg Config) (*GossipSink, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}

	g := &GossipSink{
		h:      h,
		ps:     ps,
		log:    cfg.Logger,
		out:    make(chan TickWire, outboundBuffer),
		onTick: cfg.OnTick,
	}
	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}
	if g.topic, err = ps.Join(TopicMarketData); err != nil {
		h.Close()
		return nil, err
	}
	if g.sub, err = g.topic.Subscribe(); err != nil {
		h.Close()
		return nil, err
	}

	go g.publishLoop(ctx)
	go g.receiveLoop(ctx)

	cfg.Logger.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr, "topic", TopicMarketData)
	return g, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (g *GossipSink) Host() host.Host { return g.h }

// Addrs returns dialable multiaddrs including the peer id
func (g *GossipSink) Addrs() []string {
	var out []string
	for _, a := range g.h.Addrs() {
		out = append(out, a.String()+"/p2p/"+g.h.ID().String())
	}
	return out
}

func (g *GossipSink) Close() error { return g.h.Close() }

// Notify queues a tick for publication. It never blocks; ticks are dropped
// when the outbound queue is full.
func (g *GossipSink) Notify(instrument string, lastPrice, volumeDelta int64) {
	t := TickWire{
		Instrument: instrument,
		Price:      lastPrice,
		Volume:     volumeDelta,
		Seq:        g.seq.Add(1),
		Timestamp:  time.Now().UnixMilli(),
	}
	select {
	case g.out <- t:
	default:
		g.log.Warnw("gossip_tick_dropped", "instrument", instrument, "seq", t.Seq)
	}
}

func (g *GossipSink) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-g.out:
			data, err := encodeTick(t)
			if err != nil {
				g.log.Errorw("gossip_encode_failed", "instrument", t.Instrument, "err", err)
				continue
			}
			if err := g.topic.Publish(ctx, data); err != nil {
				g.log.Warnw("gossip_publish_failed", "instrument", t.Instrument, "seq", t.Seq, "err", err)
			}
		}
	}
}

func (g *GossipSink) receiveLoop(ctx context.Context) {
	for {
		msg, err := g.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == g.h.ID() {
			continue
		}
		t, err := decodeTick(msg.Data)
		if err != nil {
			g.log.Debugw("gossip_invalid_tick", "from", msg.ReceivedFrom.String(), "err", err)
			continue
		}
		if g.onTick != nil {
			g.onTick(msg.GetFrom(), t)
		}
	}
}
