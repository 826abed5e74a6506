package agora

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kaizencycle/Mobius-Systems/pkg/credit"
	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
	"github.com/kaizencycle/Mobius-Systems/pkg/policy"
)

// ProposalType is derived from the payload a proposal carries.
type ProposalType string

const (
	TypePolicyChange        ProposalType = "policy_change"
	TypeParameterUpdate     ProposalType = "parameter_update"
	TypeTreasurySpend       ProposalType = "treasury_spend"
	TypeProtocolUpgrade     ProposalType = "protocol_upgrade"
	TypeEmergencyPause      ProposalType = "emergency_pause"
	TypeCommunityInitiative ProposalType = "community_initiative"
)

// Status is a proposal's lifecycle phase.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPassed    Status = "passed"
	StatusRejected  Status = "rejected"
	StatusExecuted  Status = "executed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Choice is a vote option.
type Choice string

const (
	ChoiceYes     Choice = "yes"
	ChoiceNo      Choice = "no"
	ChoiceAbstain Choice = "abstain"
)

func (c Choice) valid() bool {
	return c == ChoiceYes || c == ChoiceNo || c == ChoiceAbstain
}

// Payload is what a proposal does when executed. The set of payloads is
// closed: only the types in this package implement it.
type Payload interface {
	Type() ProposalType
	validate(op string) error
}

// PolicyChange adopts a new minor policy version.
type PolicyChange struct {
	Update policy.Update `json:"update"`
}

// ParameterUpdate changes ledger economics.
type ParameterUpdate struct {
	Update credit.ParamUpdate `json:"update"`
}

// TreasurySpend transfers credits out of the treasury.
type TreasurySpend struct {
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason,omitempty"`
}

// ProtocolUpgrade adopts an explicit protocol version.
type ProtocolUpgrade struct {
	Version     string `json:"version"`
	UpgradeHash string `json:"upgrade_hash"`
}

// EmergencyPause halts user operations on the ledger for a number of
// epochs. Zero means one day's worth of epochs.
type EmergencyPause struct {
	Epochs uint64 `json:"epochs,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// CommunityInitiative records a non-binding community decision.
type CommunityInitiative struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

func (PolicyChange) Type() ProposalType        { return TypePolicyChange }
func (ParameterUpdate) Type() ProposalType     { return TypeParameterUpdate }
func (TreasurySpend) Type() ProposalType       { return TypeTreasurySpend }
func (ProtocolUpgrade) Type() ProposalType     { return TypeProtocolUpgrade }
func (EmergencyPause) Type() ProposalType      { return TypeEmergencyPause }
func (CommunityInitiative) Type() ProposalType { return TypeCommunityInitiative }

func (p PolicyChange) validate(op string) error {
	if p.Update.Empty() {
		return kerr.ErrInvalidProposal.With(op, "policy change is empty")
	}
	return nil
}

func (p ParameterUpdate) validate(op string) error {
	if p.Update.Empty() {
		return kerr.ErrInvalidProposal.With(op, "parameter update is empty")
	}
	return nil
}

func (p TreasurySpend) validate(op string) error {
	if strings.TrimSpace(p.Recipient) == "" {
		return kerr.ErrInvalidProposal.With(op, "treasury spend has no recipient")
	}
	if !p.Amount.IsPositive() {
		return kerr.ErrInvalidProposal.With(op, "treasury spend amount must be positive")
	}
	return nil
}

func (p ProtocolUpgrade) validate(op string) error {
	if p.Version == "" || p.UpgradeHash == "" {
		return kerr.ErrInvalidProposal.With(op, "protocol upgrade needs version and upgrade_hash")
	}
	return nil
}

func (EmergencyPause) validate(string) error { return nil }

func (p CommunityInitiative) validate(op string) error {
	if strings.TrimSpace(p.Kind) == "" || strings.TrimSpace(p.Description) == "" {
		return kerr.ErrInvalidProposal.With(op, "community initiative needs kind and description")
	}
	return nil
}

// Tally accumulates votes. Weights are snapshotted at cast time.
type Tally struct {
	Yes           int     `json:"yes"`
	No            int     `json:"no"`
	Abstain       int     `json:"abstain"`
	YesWeight     float64 `json:"yes_weight"`
	NoWeight      float64 `json:"no_weight"`
	AbstainWeight float64 `json:"abstain_weight"`
}

// Votes is the number of votes cast.
func (t Tally) Votes() int { return t.Yes + t.No + t.Abstain }

// Weight is the total weight cast.
func (t Tally) Weight() float64 { return t.YesWeight + t.NoWeight + t.AbstainWeight }

func (t *Tally) add(c Choice, w float64) {
	switch c {
	case ChoiceYes:
		t.Yes++
		t.YesWeight += w
	case ChoiceNo:
		t.No++
		t.NoWeight += w
	case ChoiceAbstain:
		t.Abstain++
		t.AbstainWeight += w
	}
}

// Proposal is a governance proposal.
type Proposal struct {
	ID                string          `json:"id"`
	Proposer          string          `json:"proposer"`
	Title             string          `json:"title"`
	Description       string          `json:"description,omitempty"`
	Type              ProposalType    `json:"type"`
	Payload           Payload         `json:"-"`
	CreatedAt         int64           `json:"created_at"`
	VotingStartsAt    int64           `json:"voting_starts_at"`
	VotingEndsAt      int64           `json:"voting_ends_at"`
	ExecutionDelay    int64           `json:"execution_delay"`
	ExecutionAt       int64           `json:"execution_at,omitempty"`
	DecidedAt         int64           `json:"decided_at,omitempty"`
	Status            Status          `json:"status"`
	QuorumThreshold   float64         `json:"quorum_threshold"`
	ApprovalThreshold float64         `json:"approval_threshold"`
	Tally             Tally           `json:"tally"`
	Participation     float64         `json:"participation,omitempty"`
	Approval          float64         `json:"approval,omitempty"`
	Deposit           decimal.Decimal `json:"deposit"`
	DepositTx         string          `json:"deposit_tx"`
	RefundTx          string          `json:"refund_tx,omitempty"`
	ExecutionID       string          `json:"execution_id,omitempty"`
	ExecutionError    string          `json:"execution_error,omitempty"`
}

type proposalJSON Proposal

// MarshalJSON writes the payload alongside its type.
func (p Proposal) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		proposalJSON
		Payload json.RawMessage `json:"payload"`
	}{proposalJSON(p), raw})
}

// UnmarshalJSON decodes the payload according to the proposal type.
func (p *Proposal) UnmarshalJSON(data []byte) error {
	var aux struct {
		proposalJSON
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	payload, err := decodePayload(aux.Type, aux.Payload)
	if err != nil {
		return err
	}
	*p = Proposal(aux.proposalJSON)
	p.Payload = payload
	return nil
}

func decodePayload(t ProposalType, raw json.RawMessage) (Payload, error) {
	switch t {
	case TypePolicyChange:
		return decodeAs[PolicyChange](t, raw)
	case TypeParameterUpdate:
		return decodeAs[ParameterUpdate](t, raw)
	case TypeTreasurySpend:
		return decodeAs[TreasurySpend](t, raw)
	case TypeProtocolUpgrade:
		return decodeAs[ProtocolUpgrade](t, raw)
	case TypeEmergencyPause:
		return decodeAs[EmergencyPause](t, raw)
	case TypeCommunityInitiative:
		return decodeAs[CommunityInitiative](t, raw)
	}
	return nil, kerr.ErrInvalidProposal.With("agora.decode", "unknown proposal type %q", t)
}

func decodeAs[T Payload](t ProposalType, raw json.RawMessage) (Payload, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return v, nil
}

// Vote is one voter's choice on one proposal.
type Vote struct {
	ID         string  `json:"id"`
	ProposalID string  `json:"proposal_id"`
	Voter      string  `json:"voter"`
	Choice     Choice  `json:"choice"`
	Weight     float64 `json:"weight"`
	Signature  string  `json:"signature,omitempty"`
	Timestamp  int64   `json:"timestamp"`
	Epoch      uint64  `json:"epoch"`
}

// ExecutionResult is the outcome of an execution attempt.
type ExecutionResult string

const (
	ResultSuccess ExecutionResult = "success"
	ResultFailed  ExecutionResult = "failed"
)

// Execution records one attempt to execute a passed proposal.
type Execution struct {
	ID         string          `json:"id"`
	ProposalID string          `json:"proposal_id"`
	Executor   string          `json:"executor"`
	ExecutedAt int64           `json:"executed_at"`
	Result     ExecutionResult `json:"result"`
	Message    string          `json:"message,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// VotingPower breaks down an address's governance weight.
type VotingPower struct {
	Address         string  `json:"address"`
	Staked          float64 `json:"staked"`
	Activity        float64 `json:"activity"`
	GovernancePower float64 `json:"governance_power"`
	QuadraticPower  float64 `json:"quadratic_power"`
}
