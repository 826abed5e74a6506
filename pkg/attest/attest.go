// Package attest supplies the signing and proof capabilities the kernel
// calls synchronously. The kernel treats signatures and proofs as opaque
// strings; implementations here are Ed25519 signatures, HKDF-derived member
// keys, a hash-based development prover and EdDSA JWT attestations.
package attest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
)

// Signer signs block and transaction digests.
type Signer interface {
	// Sign returns a hex signature over the digest.
	Sign(digest string) (string, error)
	// PublicKey returns the hex public key.
	PublicKey() string
}

// SignatureVerifier checks a hex signature against a hex public key.
type SignatureVerifier interface {
	Verify(publicKey, digest, signature string) error
}

// ProofVerifier checks that proof attests statement on behalf of subject.
type ProofVerifier interface {
	VerifyProof(subject, statement, proof string) error
}

// Ed25519Signer signs with an in-memory Ed25519 key.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewEd25519Signer generates a fresh key.
func NewEd25519Signer() (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{priv: priv, pub: pub}, nil
}

// NewEd25519SignerFromKey wraps an existing private key.
func NewEd25519SignerFromKey(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}
}

func (s *Ed25519Signer) Sign(digest string) (string, error) {
	return hex.EncodeToString(ed25519.Sign(s.priv, []byte(digest))), nil
}

func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pub)
}

// PrivateKey exposes the key for token signing.
func (s *Ed25519Signer) PrivateKey() ed25519.PrivateKey {
	return s.priv
}

// Ed25519Verifier verifies Ed25519 signatures.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(publicKey, digest, signature string) error {
	const op = "attest.verify"
	pub, err := hex.DecodeString(publicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return kerr.ErrInvalidPublicKey.With(op, "public key is not a %d byte hex key", ed25519.PublicKeySize)
	}
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return kerr.ErrInvalidProof.With(op, "signature is not hex")
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(digest), sig) {
		return kerr.ErrInvalidProof.With(op, "signature does not verify")
	}
	return nil
}
