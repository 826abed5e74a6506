// Package kerr defines the classified error taxonomy shared by every kernel
// component.
//
// Every rejected operation returns a *Error carrying a Kind (the coarse class
// callers branch on) and a Code (the precise reason). errors.Is matches a
// kind-only sentinel against any error of that kind, and a coded sentinel
// against that exact code.
package kerr

import (
	"errors"
	"fmt"
)

// Kind is the coarse classification of a kernel error.
type Kind string

const (
	KindValidation          Kind = "VALIDATION"
	KindInsufficientFunds   Kind = "INSUFFICIENT_FUNDS"
	KindInsufficientStake   Kind = "INSUFFICIENT_STAKE"
	KindInsufficientDeposit Kind = "INSUFFICIENT_DEPOSIT"
	KindRateLimitExceeded   Kind = "RATE_LIMIT_EXCEEDED"
	KindChainBreak          Kind = "CHAIN_BREAK"
	KindHashMismatch        Kind = "HASH_MISMATCH"
	KindProposalNotActive   Kind = "PROPOSAL_NOT_ACTIVE"
	KindDuplicateVote       Kind = "DUPLICATE_VOTE"
	KindVotingWindowClosed  Kind = "VOTING_WINDOW_CLOSED"
	KindNotFound            Kind = "NOT_FOUND"
	KindConflict            Kind = "CONFLICT"
	KindInternal            Kind = "INTERNAL"
)

// Error is a classified kernel error.
type Error struct {
	Kind   Kind   `json:"kind"`
	Code   string `json:"code,omitempty"`
	Op     string `json:"op,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Code != "" {
		msg = e.Code
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is reports whether target is a sentinel matching e. A sentinel without a
// code matches any error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// With returns a copy of the sentinel annotated with the failing operation and
// a formatted detail.
func (e *Error) With(op, format string, args ...any) *Error {
	return &Error{
		Kind:   e.Kind,
		Code:   e.Code,
		Op:     op,
		Detail: fmt.Sprintf(format, args...),
	}
}

// KindOf classifies err. Errors outside the taxonomy are INTERNAL.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindInternal
}

// Internal wraps an unexpected failure.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Op: op, Detail: err.Error()}
}

func sentinel(k Kind, code string) *Error {
	return &Error{Kind: k, Code: code}
}
