package attest

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
)

func TestEd25519SignVerify(t *testing.T) {
	s, err := NewEd25519Signer()
	require.NoError(t, err)

	sig, err := s.Sign("digest")
	require.NoError(t, err)

	v := Ed25519Verifier{}
	require.NoError(t, v.Verify(s.PublicKey(), "digest", sig))
	assert.True(t, errors.Is(v.Verify(s.PublicKey(), "other", sig), kerr.ErrInvalidProof))
	assert.True(t, errors.Is(v.Verify("zz", "digest", sig), kerr.ErrInvalidPublicKey))
}

func TestKeyringIsDeterministic(t *testing.T) {
	k1, err := NewKeyring([]byte("seed"))
	require.NoError(t, err)
	k2, err := NewKeyring([]byte("seed"))
	require.NoError(t, err)

	a1, err := k1.PublicKey("citizen_000000")
	require.NoError(t, err)
	a2, err := k2.PublicKey("citizen_000000")
	require.NoError(t, err)
	b, err := k1.PublicKey("citizen_000001")
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)

	_, err = k1.Derive("")
	assert.Error(t, err)
	_, err = NewKeyring(nil)
	assert.Error(t, err)
}

func TestHashProver(t *testing.T) {
	p := HashProver{}
	proof := p.Prove("citizen_000000", "envelope")

	require.NoError(t, p.VerifyProof("citizen_000000", "envelope", proof))
	assert.True(t, errors.Is(p.VerifyProof("citizen_000001", "envelope", proof), kerr.ErrInvalidProof))
}

func TestTokenRoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	s, err := NewEd25519Signer()
	require.NoError(t, err)
	issuer := NewTokenIssuer(s, time.Hour).WithClock(clock)
	verifier := NewTokenVerifier(s.pub).WithClock(clock)

	tok, err := issuer.Issue("citizen_000000", "stmt-hash", "cycle_20250314")
	require.NoError(t, err)

	claims, err := verifier.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "cycle_20250314", claims.CycleID)

	require.NoError(t, verifier.VerifyProof("citizen_000000", "stmt-hash", tok))
	assert.True(t, errors.Is(verifier.VerifyProof("citizen_000000", "other", tok), kerr.ErrInvalidProof))
	assert.True(t, errors.Is(verifier.VerifyProof("citizen_000009", "stmt-hash", tok), kerr.ErrInvalidProof))

	late := NewTokenVerifier(s.pub).WithClock(func() time.Time { return now.Add(2 * time.Hour) })
	assert.True(t, errors.Is(late.VerifyProof("citizen_000000", "stmt-hash", tok), kerr.ErrInvalidProof))

	other, err := NewEd25519Signer()
	require.NoError(t, err)
	_, err = NewTokenVerifier(other.pub).WithClock(clock).Parse(tok)
	assert.Error(t, err)
}
