package attest

import (
	"crypto/subtle"

	"github.com/kaizencycle/Mobius-Systems/pkg/canonicalize"
	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
)

// HashProver is a development stand-in for a zero-knowledge prover. A proof
// is sha256("proof|" + subject + "|" + statement); it shows only that the
// caller knew both values.
type HashProver struct{}

// Prove returns the proof for statement by subject.
func (HashProver) Prove(subject, statement string) string {
	return canonicalize.HashParts("proof|", subject, "|", statement)
}

func (p HashProver) VerifyProof(subject, statement, proof string) error {
	want := p.Prove(subject, statement)
	if subtle.ConstantTimeCompare([]byte(want), []byte(proof)) != 1 {
		return kerr.ErrInvalidProof.With("attest.verify_proof", "proof does not match statement for %s", subject)
	}
	return nil
}

// AcceptAll accepts every proof.
type AcceptAll struct{}

func (AcceptAll) VerifyProof(string, string, string) error { return nil }

// AcceptAllSignatures accepts every signature.
type AcceptAllSignatures struct{}

func (AcceptAllSignatures) Verify(string, string, string) error { return nil }
