package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain is the EIP-712 domain separator input
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

func DefaultDomain() Domain {
	return Domain{
		Name:    "EDAIExchange",
		Version: "1",
		ChainID: big.NewInt(1337),
	}
}

// ActionEIP712 is the typed message every transaction signs. Payload carries
// the action's canonical JSON body verbatim, so one type covers every action.
type ActionEIP712 struct {
	Action  string
	Payload string
	Nonce   *big.Int
	Owner   common.Address
}

var actionTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Action": []apitypes.Type{
		{Name: "action", Type: "string"},
		{Name: "payload", Type: "string"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	},
}

// EIP712Signer hashes, signs and verifies actions under one domain
type EIP712Signer struct {
	domain Domain
}

func NewEIP712Signer(domain Domain) *EIP712Signer {
	if domain.ChainID == nil {
		domain.ChainID = big.NewInt(0)
	}
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() Domain { return e.domain }

func (e *EIP712Signer) typedData(a *ActionEIP712) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       actionTypes,
		PrimaryType: "Action",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"action":  a.Action,
			"payload": a.Payload,
			"nonce":   a.Nonce.String(),
			"owner":   a.Owner.Hex(),
		},
	}
}

// HashAction returns keccak256("\x19\x01" || domainSeparator || hashStruct(action))
func (e *EIP712Signer) HashAction(a *ActionEIP712) ([]byte, error) {
	if a.Nonce == nil {
		return nil, fmt.Errorf("missing nonce")
	}
	td := e.typedData(a)
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	messageHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}
	raw := make([]byte, 0, 66)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256(raw), nil
}

// SignAction signs an action with signer's key
func (e *EIP712Signer) SignAction(signer *Signer, a *ActionEIP712) ([]byte, error) {
	hash, err := e.HashAction(a)
	if err != nil {
		return nil, fmt.Errorf("failed to hash action: %w", err)
	}
	return signer.Sign(hash)
}

// RecoverActionSigner returns the address that signed the action
func (e *EIP712Signer) RecoverActionSigner(a *ActionEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashAction(a)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash action: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// VerifyActionSignature checks the signature was made by a.Owner
func (e *EIP712Signer) VerifyActionSignature(a *ActionEIP712, signature []byte) (bool, error) {
	addr, err := e.RecoverActionSigner(a, signature)
	if err != nil {
		return false, err
	}
	return addr == a.Owner, nil
}

// ActionToJSON renders the typed data for eth_signTypedData_v4 wallets
func (e *EIP712Signer) ActionToJSON(a *ActionEIP712) (string, error) {
	td := e.typedData(a)
	out, err := json.MarshalIndent(td, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(out), nil
}
