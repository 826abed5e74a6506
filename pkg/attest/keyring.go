package attest

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keyringInfo = "mobius-member-kdf"

// Keyring derives a deterministic Ed25519 key per member from one master
// seed, so committee members in a test network or demo need no key files.
type Keyring struct {
	seed []byte
}

// NewKeyring creates a keyring over seed. The seed must not be empty.
func NewKeyring(seed []byte) (*Keyring, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("keyring seed must not be empty")
	}
	return &Keyring{seed: append([]byte(nil), seed...)}, nil
}

// Derive returns the signer for memberID using HKDF-SHA256 with the member
// id as info.
func (k *Keyring) Derive(memberID string) (*Ed25519Signer, error) {
	if memberID == "" {
		return nil, fmt.Errorf("memberID must not be empty")
	}
	r := hkdf.New(sha256.New, k.seed, []byte(keyringInfo), []byte(memberID))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return NewEd25519SignerFromKey(ed25519.NewKeyFromSeed(seed)), nil
}

// PublicKey returns the hex public key derived for memberID.
func (k *Keyring) PublicKey(memberID string) (string, error) {
	s, err := k.Derive(memberID)
	if err != nil {
		return "", err
	}
	return s.PublicKey(), nil
}
