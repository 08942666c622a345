// Package abci is the boundary between block production and the exchange
// application: proposal selection, deterministic block application, and the
// block records persisted for replay.
package abci

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

type Hash [32]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

// Hex is the 0x-prefixed form used in logs and the API
func (h Hash) Hex() string { return "0x" + h.String() }

// Block is a finalized batch of raw transactions. Time is unix millis and is
// the only clock the application sees while applying the block.
type Block struct {
	Height  int64
	Time    int64
	Parent  Hash
	Txs     [][]byte
	AppHash Hash // state after execution
}

// HashOfBlock commits to the block contents. AppHash is excluded: it is
// known only after execution and checked separately on replay.
func HashOfBlock(b Block) Hash {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(b.Height))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(b.Time))
	h.Write(buf[:])
	h.Write(b.Parent[:])
	for _, tx := range b.Txs {
		binary.BigEndian.PutUint64(buf[:], uint64(len(tx)))
		h.Write(buf[:])
		h.Write(tx)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

type RequestPrepareProposal struct{ Height, MaxTxBytes int64 }
type ResponsePrepareProposal struct{ Txs [][]byte }

type RequestProcessProposal struct {
	Height int64
	Txs    [][]byte
}
type ResponseProcessProposal struct{ Accept bool }

type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64 // unix millis
	Txs       [][]byte
}

// TxResult reports one transaction's outcome. Code 0 is success.
type TxResult struct {
	Code uint32 `json:"code"`
	Kind string `json:"kind,omitempty"`
	Log  string `json:"log,omitempty"`
}

func (r TxResult) OK() bool { return r.Code == 0 }

type ResponseFinalizeBlock struct {
	TxResults []TxResult
	AppHash   Hash
}

// Application executes blocks. FinalizeBlock must be deterministic in the
// request; Commit persists a finalized block. Err reports a fatal condition
// after which no further blocks may be produced.
type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	FinalizeBlock(RequestFinalizeBlock) ResponseFinalizeBlock
	Commit(Block) error
	Err() error
}
