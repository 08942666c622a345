package crypto

import (
	"fmt"

	bls "github.com/cloudflare/circl/sign/bls"
)

type scheme = bls.KeyG1SigG2

// Attestor signs closed session records with a BLS key so that any holder of
// the public key can check a snapshot was produced by this node.
type Attestor struct {
	sk *bls.PrivateKey[scheme]
	pk *bls.PublicKey[scheme]
}

// NewAttestorFromSeed derives a key deterministically; seed must be >= 32 bytes
func NewAttestorFromSeed(seed []byte) (*Attestor, error) {
	sk, err := bls.KeyGen[scheme](seed, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("bls keygen: %w", err)
	}
	return &Attestor{sk: sk, pk: sk.PublicKey()}, nil
}

// PublicKey returns the compressed public key
func (a *Attestor) PublicKey() ([]byte, error) {
	return a.pk.MarshalBinary()
}

func (a *Attestor) Attest(digest []byte) []byte {
	return bls.Sign(a.sk, digest)
}

// VerifyAttestation checks sig over digest against a marshalled public key
func VerifyAttestation(pubKey, digest, sig []byte) bool {
	pk := new(bls.PublicKey[scheme])
	if err := pk.UnmarshalBinary(pubKey); err != nil {
		return false
	}
	return bls.Verify(pk, digest, bls.Signature(sig))
}
