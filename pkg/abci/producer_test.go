package abci

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/uhyunpark/edaix/pkg/util"
)

// counterApp hashes every applied tx into a running digest
type counterApp struct {
	pending [][]byte
	state   Hash
	commits []Block
	err     error
	haltAt  int64
}

func (a *counterApp) PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal {
	txs := a.pending
	a.pending = nil
	return ResponsePrepareProposal{Txs: txs}
}

func (a *counterApp) ProcessProposal(RequestProcessProposal) ResponseProcessProposal {
	return ResponseProcessProposal{Accept: true}
}

func (a *counterApp) FinalizeBlock(req RequestFinalizeBlock) ResponseFinalizeBlock {
	for _, tx := range req.Txs {
		a.state = sha256.Sum256(append(a.state[:], tx...))
	}
	return ResponseFinalizeBlock{TxResults: make([]TxResult, len(req.Txs)), AppHash: a.state}
}

func (a *counterApp) Commit(b Block) error {
	a.commits = append(a.commits, b)
	if a.haltAt > 0 && b.Height >= a.haltAt {
		a.err = errors.New("journal unavailable")
	}
	return nil
}

func (a *counterApp) Err() error { return a.err }

func TestStepProducesChainedBlocks(t *testing.T) {
	clock := util.NewManualClock(time.UnixMilli(1_700_000_000_000))
	app := &counterApp{}
	p := NewProducer(app, clock, time.Second, Block{}, nil)

	if _, ok, err := p.Step(); ok || err != nil {
		t.Fatalf("empty step = %v, %v", ok, err)
	}
	app.pending = [][]byte{[]byte("a"), []byte("b")}
	b1, ok, err := p.Step()
	if !ok || err != nil {
		t.Fatalf("Step: %v, %v", ok, err)
	}
	if b1.Height != 1 || b1.Time != 1_700_000_000_000 || b1.Parent != (Hash{}) || len(b1.Txs) != 2 {
		t.Errorf("block 1 = %+v", b1)
	}

	clock.Advance(time.Second)
	app.pending = [][]byte{[]byte("c")}
	b2, _, _ := p.Step()
	if b2.Height != 2 || b2.Parent != HashOfBlock(b1) {
		t.Errorf("block 2 = %+v", b2)
	}
	if b2.AppHash == b1.AppHash {
		t.Error("app hash did not change")
	}
	if p.Height() != 2 || len(app.commits) != 2 {
		t.Errorf("height %d, commits %d", p.Height(), len(app.commits))
	}
}

func TestHashOfBlockIgnoresAppHash(t *testing.T) {
	b := Block{Height: 3, Time: 9, Txs: [][]byte{[]byte("ab"), []byte("c")}}
	h := HashOfBlock(b)
	b.AppHash = Hash{1}
	if HashOfBlock(b) != h {
		t.Error("app hash changed the block hash")
	}
	b.Txs = [][]byte{[]byte("a"), []byte("bc")}
	if HashOfBlock(b) == h {
		t.Error("tx boundaries not committed")
	}
}

func TestReplay(t *testing.T) {
	clock := util.NewManualClock(time.UnixMilli(0))
	src := &counterApp{}
	p := NewProducer(src, clock, time.Second, Block{}, nil)
	for _, tx := range []string{"x", "y", "z"} {
		src.pending = [][]byte{[]byte(tx)}
		if _, _, err := p.Step(); err != nil {
			t.Fatal(err)
		}
	}

	last, err := Replay(&counterApp{}, src.commits)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if last.Height != 3 {
		t.Errorf("last height = %d", last.Height)
	}

	resumed := NewProducer(&counterApp{state: src.state}, clock, time.Second, last, nil)
	if resumed.Height() != 3 {
		t.Errorf("resumed height = %d", resumed.Height())
	}

	tampered := append([]Block(nil), src.commits...)
	tampered[1].AppHash = Hash{0xff}
	if _, err := Replay(&counterApp{}, tampered); err == nil {
		t.Error("replay accepted a wrong app hash")
	}
	if _, err := Replay(&counterApp{}, []Block{src.commits[0], src.commits[2]}); err == nil {
		t.Error("replay accepted a height gap")
	}
}

func TestRunStopsWhenAppHalts(t *testing.T) {
	clock := util.NewManualClock(time.UnixMilli(0))
	app := &counterApp{haltAt: 1, pending: [][]byte{[]byte("t")}}
	p := NewProducer(app, clock, time.Millisecond, Block{}, nil)

	err := p.Run(context.Background())
	if err == nil || !errors.Is(err, app.err) {
		t.Fatalf("Run = %v, want halt", err)
	}
	if p.Height() != 1 {
		t.Errorf("height = %d", p.Height())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewProducer(&counterApp{}, util.NewManualClock(time.UnixMilli(0)), time.Millisecond, Block{}, nil)
	if err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v", err)
	}
}
