package credit

import (
	"github.com/shopspring/decimal"

	"github.com/kaizencycle/Mobius-Systems/pkg/canonicalize"
)

// TxType is the closed set of ledger transaction kinds.
type TxType string

const (
	TxTransfer   TxType = "transfer"
	TxStake      TxType = "stake"
	TxUnstake    TxType = "unstake"
	TxBurn       TxType = "burn"
	TxAirdrop    TxType = "airdrop"
	TxEarnReward TxType = "earn_reward"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	switch t {
	case TxTransfer, TxStake, TxUnstake, TxBurn, TxAirdrop, TxEarnReward:
		return true
	}
	return false
}

// Transaction is an immutable ledger operation. Its ID is the content hash
// of every field except ID and Signature.
type Transaction struct {
	ID        string          `json:"id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	To        string          `json:"to,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	Nonce     uint64          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
	Memo      string          `json:"memo,omitempty"`
	Signature string          `json:"signature,omitempty"`
}

// NewTransaction builds a transaction and stamps its content id.
func NewTransaction(typ TxType, from, to string, amount, fee decimal.Decimal, nonce uint64, ts int64, memo string) Transaction {
	tx := Transaction{
		Type:      typ,
		From:      from,
		To:        to,
		Amount:    amount,
		Fee:       fee,
		Nonce:     nonce,
		Timestamp: ts,
		Memo:      canonicalize.Text(memo),
	}
	tx.ID = tx.ComputeID()
	return tx
}

// ComputeID returns the content hash of the transaction.
func (tx Transaction) ComputeID() string {
	return canonicalize.MustHash(struct {
		Type      TxType `json:"type"`
		From      string `json:"from"`
		To        string `json:"to"`
		Amount    string `json:"amount"`
		Fee       string `json:"fee"`
		Nonce     uint64 `json:"nonce"`
		Timestamp int64  `json:"timestamp"`
		Memo      string `json:"memo"`
	}{tx.Type, tx.From, tx.To, tx.Amount.String(), tx.Fee.String(), tx.Nonce, tx.Timestamp, tx.Memo})
}

// EarnTransaction credits a reward for attested civic activity.
type EarnTransaction struct {
	ID              string          `json:"id"`
	Recipient       string          `json:"recipient"`
	Amount          decimal.Decimal `json:"amount"`
	Multiplier      float64         `json:"multiplier"`
	Reason          string          `json:"reason"`
	CycleID         string          `json:"cycle_id"`
	AttestationHash string          `json:"attestation_hash,omitempty"`
	Proof           string          `json:"proof,omitempty"`
	Timestamp       int64           `json:"timestamp"`
	Signature       string          `json:"signature,omitempty"`
}

// NewEarnTransaction builds an earn transaction and stamps its content id.
func NewEarnTransaction(recipient string, amount decimal.Decimal, multiplier float64, reason, cycleID, attestationHash, proof string, ts int64) EarnTransaction {
	etx := EarnTransaction{
		Recipient:       recipient,
		Amount:          amount,
		Multiplier:      multiplier,
		Reason:          reason,
		CycleID:         cycleID,
		AttestationHash: attestationHash,
		Proof:           proof,
		Timestamp:       ts,
	}
	etx.ID = etx.ComputeID()
	return etx
}

// ComputeID returns the content hash of the earn transaction.
func (e EarnTransaction) ComputeID() string {
	return canonicalize.MustHash(struct {
		Recipient       string  `json:"recipient"`
		Amount          string  `json:"amount"`
		Multiplier      float64 `json:"multiplier"`
		Reason          string  `json:"reason"`
		CycleID         string  `json:"cycle_id"`
		AttestationHash string  `json:"attestation_hash"`
		Proof           string  `json:"proof"`
		Timestamp       int64   `json:"timestamp"`
	}{e.Recipient, e.Amount.String(), e.Multiplier, e.Reason, e.CycleID, e.AttestationHash, e.Proof, e.Timestamp})
}

// Credit is the amount actually credited: floor(amount * multiplier).
func (e EarnTransaction) Credit() decimal.Decimal {
	return mulFloor(e.Amount, e.Multiplier)
}
