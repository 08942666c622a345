package transaction

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/edaix/pkg/crypto"
)

// Verifier checks transaction signatures under one EIP-712 domain
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

func NewVerifier(domain crypto.Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Verify returns the owner if the signature was produced by tx.Owner
func (v *Verifier) Verify(tx *SignedTransaction) (common.Address, error) {
	sig, err := decodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature: %w", err)
	}
	ok, err := v.eip712Signer.VerifyActionSignature(tx.ToEIP712(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("signature verification failed: %w", err)
	}
	if !ok {
		return common.Address{}, fmt.Errorf("signature does not match owner %s", tx.Owner)
	}
	return tx.OwnerAddress(), nil
}

// Sign fills tx.Signature using signer's key
func (v *Verifier) Sign(signer *crypto.Signer, tx *SignedTransaction) error {
	if signer.Address() != tx.OwnerAddress() {
		return fmt.Errorf("signer %s is not owner %s", signer.Address().Hex(), tx.Owner)
	}
	sig, err := v.eip712Signer.SignAction(signer, tx.ToEIP712())
	if err != nil {
		return err
	}
	tx.Signature = "0x" + hex.EncodeToString(sig)
	return nil
}

// decodeSignature decodes a hex signature with or without 0x prefix
func decodeSignature(sig string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}
	if len(b) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(b))
	}
	return b, nil
}
