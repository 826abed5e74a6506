package attest

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
)

const tokenIssuer = "mobius/attest"

// AttestationClaims bind a statement digest to the identity that made it.
type AttestationClaims struct {
	jwt.RegisteredClaims
	Statement string `json:"stmt"`
	CycleID   string `json:"cycle_id,omitempty"`
}

// TokenIssuer issues EdDSA-signed attestation tokens.
type TokenIssuer struct {
	key   ed25519.PrivateKey
	ttl   time.Duration
	clock func() time.Time
}

// NewTokenIssuer creates an issuer signing with signer's key.
func NewTokenIssuer(signer *Ed25519Signer, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{key: signer.PrivateKey(), ttl: ttl, clock: time.Now}
}

// WithClock overrides clock for testing.
func (i *TokenIssuer) WithClock(clock func() time.Time) *TokenIssuer {
	i.clock = clock
	return i
}

// Issue returns a token attesting statement for subject.
func (i *TokenIssuer) Issue(subject, statement, cycleID string) (string, error) {
	now := i.clock().UTC()
	claims := AttestationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Statement: statement,
		CycleID:   cycleID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(i.key)
}

// TokenVerifier verifies attestation tokens and implements ProofVerifier
// with the token as the proof.
type TokenVerifier struct {
	pub   ed25519.PublicKey
	clock func() time.Time
}

// NewTokenVerifier trusts tokens signed by pub.
func NewTokenVerifier(pub ed25519.PublicKey) *TokenVerifier {
	return &TokenVerifier{pub: pub, clock: time.Now}
}

// WithClock overrides clock for testing.
func (v *TokenVerifier) WithClock(clock func() time.Time) *TokenVerifier {
	v.clock = clock
	return v
}

// Parse validates the token signature, issuer and expiry.
func (v *TokenVerifier) Parse(token string) (*AttestationClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &AttestationClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.pub, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(v.clock),
	)
	if err != nil {
		return nil, err
	}
	if claims, ok := parsed.Claims.(*AttestationClaims); ok && parsed.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenSignatureInvalid
}

func (v *TokenVerifier) VerifyProof(subject, statement, proof string) error {
	const op = "attest.verify_token"
	claims, err := v.Parse(proof)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return kerr.ErrInvalidProof.With(op, "attestation expired")
		}
		return kerr.ErrInvalidProof.With(op, "%v", err)
	}
	if claims.Subject != subject {
		return kerr.ErrInvalidProof.With(op, "token subject %q, expected %q", claims.Subject, subject)
	}
	if claims.Statement != statement {
		return kerr.ErrInvalidProof.With(op, "token attests a different statement")
	}
	return nil
}
