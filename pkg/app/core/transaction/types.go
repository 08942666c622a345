package transaction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/edaix/pkg/app/core/market"
	"github.com/uhyunpark/edaix/pkg/crypto"
)

// Action names the operation a transaction requests
type Action string

const (
	ActionPlaceOrder      Action = "place_order"
	ActionCancelOrder     Action = "cancel_order"
	ActionExecuteTrade    Action = "execute_trade"
	ActionRunMatching     Action = "run_matching"
	ActionCreatePool      Action = "create_pool"
	ActionAddLiquidity    Action = "add_liquidity"
	ActionRemoveLiquidity Action = "remove_liquidity"
	ActionSwap            Action = "swap"
	ActionSetPoolActive   Action = "set_pool_active"
	ActionCreatePair      Action = "create_pair"
	ActionSetPairActive   Action = "set_pair_active"
	ActionStartSession    Action = "start_session"
	ActionEndSession      Action = "end_session"
	ActionDeposit         Action = "deposit"
	ActionWithdraw        Action = "withdraw"
	ActionGrant           Action = "grant_capability"
	ActionRevoke          Action = "revoke_capability"
)

// Admin reports whether the action reconfigures markets rather than trades
func (a Action) Admin() bool {
	switch a {
	case ActionCreatePair, ActionSetPairActive, ActionStartSession, ActionEndSession,
		ActionSetPoolActive, ActionDeposit, ActionGrant, ActionRevoke:
		return true
	}
	return false
}

// SignedTransaction is the envelope submitted to the mempool. The signature
// covers action, payload bytes, nonce and owner as EIP-712 typed data.
//
//	{
//	  "action": "place_order",
//	  "payload": {"instrument":"EDAI-1","side":"buy","qty":10,"price":105},
//	  "nonce": 0,
//	  "owner": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
//	  "signature": "0x..."
//	}
type SignedTransaction struct {
	Action    Action          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	Nonce     uint64          `json:"nonce"`
	Owner     string          `json:"owner"`
	Signature string          `json:"signature"`
}

type PlaceOrderPayload struct {
	Instrument string `json:"instrument"`
	Side       string `json:"side"` // "buy" or "sell"
	Qty        int64  `json:"qty"`
	Price      int64  `json:"price"`
}

type CancelOrderPayload struct {
	OrderID uint64 `json:"orderId"`
}

type ExecuteTradePayload struct {
	BuyOrderID  uint64 `json:"buyOrderId"`
	SellOrderID uint64 `json:"sellOrderId"`
}

type InstrumentPayload struct {
	Instrument string `json:"instrument"`
}

type LiquidityPayload struct {
	Instrument string `json:"instrument"`
	Asset      int64  `json:"asset"`
	Quote      int64  `json:"quote"`
}

type RemoveLiquidityPayload struct {
	Instrument string `json:"instrument"`
	Shares     int64  `json:"shares"`
}

type SwapPayload struct {
	Instrument string `json:"instrument"`
	Direction  string `json:"direction"` // "asset_to_quote" or "quote_to_asset"
	In         int64  `json:"in"`
	MinOut     int64  `json:"minOut"`
}

type SetActivePayload struct {
	Instrument string `json:"instrument"`
	Active     bool   `json:"active"`
}

type CreatePairPayload struct {
	Instrument string            `json:"instrument"`
	Params     market.PairParams `json:"params"`
}

type StartSessionPayload struct {
	Instrument string `json:"instrument"`
	OpenPrice  int64  `json:"openPrice"`
}

type DepositPayload struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  int64  `json:"amount"`
}

type WithdrawPayload struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

// CapabilityPayload names capabilities as "pair,session" or "all"
type CapabilityPayload struct {
	Account      string `json:"account"`
	Capabilities string `json:"capabilities"`
}

// Decode unmarshals the payload into the action's payload type
func (tx *SignedTransaction) Decode() (any, error) {
	var v any
	switch tx.Action {
	case ActionPlaceOrder:
		v = &PlaceOrderPayload{}
	case ActionCancelOrder:
		v = &CancelOrderPayload{}
	case ActionExecuteTrade:
		v = &ExecuteTradePayload{}
	case ActionRunMatching, ActionEndSession:
		v = &InstrumentPayload{}
	case ActionCreatePool, ActionAddLiquidity:
		v = &LiquidityPayload{}
	case ActionRemoveLiquidity:
		v = &RemoveLiquidityPayload{}
	case ActionSwap:
		v = &SwapPayload{}
	case ActionSetPoolActive, ActionSetPairActive:
		v = &SetActivePayload{}
	case ActionCreatePair:
		v = &CreatePairPayload{}
	case ActionStartSession:
		v = &StartSessionPayload{}
	case ActionDeposit:
		v = &DepositPayload{}
	case ActionWithdraw:
		v = &WithdrawPayload{}
	case ActionGrant, ActionRevoke:
		v = &CapabilityPayload{}
	default:
		return nil, fmt.Errorf("unknown action: %s", tx.Action)
	}
	dec := json.NewDecoder(bytes.NewReader(tx.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", tx.Action, err)
	}
	return v, nil
}

// Validate performs structural checks before signature verification
func (tx *SignedTransaction) Validate() error {
	if tx.Action == "" {
		return fmt.Errorf("missing action")
	}
	if len(tx.Payload) == 0 {
		return fmt.Errorf("missing payload")
	}
	if tx.Signature == "" {
		return fmt.Errorf("missing signature")
	}
	if !common.IsHexAddress(tx.Owner) {
		return fmt.Errorf("invalid owner address: %q", tx.Owner)
	}
	_, err := tx.Decode()
	return err
}

// OwnerAddress parses Owner
func (tx *SignedTransaction) OwnerAddress() common.Address {
	return common.HexToAddress(tx.Owner)
}

// ToEIP712 builds the typed message the signature covers
func (tx *SignedTransaction) ToEIP712() *crypto.ActionEIP712 {
	return &crypto.ActionEIP712{
		Action:  string(tx.Action),
		Payload: string(tx.Payload),
		Nonce:   new(big.Int).SetUint64(tx.Nonce),
		Owner:   tx.OwnerAddress(),
	}
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// ParseTransaction decodes and structurally validates raw bytes
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return &tx, nil
}

// New builds an unsigned transaction with a compact JSON payload
func New(action Action, payload any, nonce uint64, owner common.Address) (*SignedTransaction, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &SignedTransaction{
		Action:  action,
		Payload: body,
		Nonce:   nonce,
		Owner:   owner.Hex(),
	}, nil
}
