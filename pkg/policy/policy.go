// Package policy holds the versioned civic policy every block header commits
// to: rate limits, reward schedule, privacy flags, consensus and governance
// parameters.
package policy

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/kaizencycle/Mobius-Systems/pkg/canonicalize"
	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
)

// Rate limit keys.
const (
	LimitReflectionsPerDay  = "reflections_per_day"
	LimitAttestationsPerDay = "attestations_per_day"
	LimitVotesPerProposal   = "votes_per_proposal"
)

// Reward reasons. The reward schedule maps each to its multiplier.
const (
	RewardReflection         = "reflection"
	RewardAttestation        = "attestation"
	RewardVote               = "vote"
	RewardCycleParticipation = "cycle_participation"
)

// Privacy flag keys.
const (
	FlagDefaultPrivate    = "default_private"
	FlagAllowPublicOptIn  = "allow_public_opt_in"
	FlagZKProofsRequired  = "zk_proofs_required"
	FlagDataRetentionDays = "data_retention_days"
)

// Consensus parameters.
type Consensus struct {
	CommitteeSize        int    `yaml:"committee_size" json:"committee_size"`
	EpochDurationSeconds int64  `yaml:"epoch_duration_seconds" json:"epoch_duration_seconds"`
	BlockTimeSeconds     int64  `yaml:"block_time_seconds" json:"block_time_seconds"`
	FinalityBlocks       int    `yaml:"finality_blocks" json:"finality_blocks"`
	EligibilityExpr      string `yaml:"eligibility_expr,omitempty" json:"eligibility_expr,omitempty"`
	CommitteeQuorum      int    `yaml:"committee_quorum,omitempty" json:"committee_quorum,omitempty"`
}

// Governance parameters. Thresholds are fractions in [0,1]; durations are
// seconds.
type Governance struct {
	QuorumThreshold       float64 `yaml:"quorum_threshold" json:"quorum_threshold"`
	ApprovalThreshold     float64 `yaml:"approval_threshold" json:"approval_threshold"`
	EmergencyThreshold    float64 `yaml:"emergency_threshold" json:"emergency_threshold"`
	MinDepositCredits     int64   `yaml:"min_deposit_credits" json:"min_deposit_credits"`
	VotingDelaySeconds    int64   `yaml:"voting_delay_seconds" json:"voting_delay_seconds"`
	VotingPeriodSeconds   int64   `yaml:"voting_period_seconds" json:"voting_period_seconds"`
	ExecutionDelaySeconds int64   `yaml:"execution_delay_seconds" json:"execution_delay_seconds"`
}

// Policy is one immutable version of the civic policy.
type Policy struct {
	Version        string             `yaml:"version" json:"version"`
	RateLimits     map[string]int64   `yaml:"rate_limits" json:"rate_limits"`
	RewardSchedule map[string]float64 `yaml:"reward_schedule" json:"reward_schedule"`
	PrivacyFlags   map[string]int64   `yaml:"privacy_flags" json:"privacy_flags"`
	Consensus      Consensus          `yaml:"consensus" json:"consensus"`
	Governance     Governance         `yaml:"governance" json:"governance"`
	UpgradeHash    string             `yaml:"upgrade_hash,omitempty" json:"upgrade_hash,omitempty"`
}

// Genesis returns the genesis policy, version 0.1.0.
func Genesis() Policy {
	return Policy{
		Version: "0.1.0",
		RateLimits: map[string]int64{
			LimitReflectionsPerDay:  10,
			LimitAttestationsPerDay: 5,
			LimitVotesPerProposal:   1,
		},
		RewardSchedule: map[string]float64{
			RewardReflection:         1.0,
			RewardAttestation:        2.0,
			RewardVote:               0.5,
			RewardCycleParticipation: 3.0,
		},
		PrivacyFlags: map[string]int64{
			FlagDefaultPrivate:    1,
			FlagAllowPublicOptIn:  1,
			FlagZKProofsRequired:  0,
			FlagDataRetentionDays: 365,
		},
		Consensus: Consensus{
			CommitteeSize:        7,
			EpochDurationSeconds: 300,
			BlockTimeSeconds:     5,
			FinalityBlocks:       2,
			EligibilityExpr:      "staked > 0.0",
		},
		Governance: Governance{
			QuorumThreshold:       0.20,
			ApprovalThreshold:     0.50,
			EmergencyThreshold:    0.67,
			MinDepositCredits:     1000,
			VotingDelaySeconds:    24 * 3600,
			VotingPeriodSeconds:   7 * 24 * 3600,
			ExecutionDelaySeconds: 24 * 3600,
		},
	}
}

// Hash returns the canonical content hash of the policy.
func (p Policy) Hash() string {
	return canonicalize.MustHash(p)
}

// Flag reports whether a boolean privacy flag is set.
func (p Policy) Flag(name string) bool {
	return p.PrivacyFlags[name] != 0
}

// Limit returns the named rate limit and whether it is configured.
func (p Policy) Limit(name string) (int64, bool) {
	v, ok := p.RateLimits[name]
	return v, ok
}

// Multiplier returns the reward multiplier for reason.
func (p Policy) Multiplier(reason string) (float64, bool) {
	v, ok := p.RewardSchedule[reason]
	return v, ok
}

// UnbondingEpochs is 7 days expressed in epochs.
func (p Policy) UnbondingEpochs() uint64 {
	if p.Consensus.EpochDurationSeconds <= 0 {
		return 0
	}
	return uint64(7 * 24 * 3600 / p.Consensus.EpochDurationSeconds)
}

// Validate checks structural soundness.
func (p Policy) Validate() error {
	const op = "policy.validate"
	if _, err := semver.NewVersion(p.Version); err != nil {
		return kerr.ErrInvalidVersion.With(op, "version %q: %v", p.Version, err)
	}
	if p.Consensus.CommitteeSize <= 0 {
		return kerr.ErrInvalidPolicy.With(op, "committee_size must be positive")
	}
	if p.Consensus.EpochDurationSeconds <= 0 {
		return kerr.ErrInvalidPolicy.With(op, "epoch_duration_seconds must be positive")
	}
	for name, v := range p.RateLimits {
		if v < 0 {
			return kerr.ErrInvalidPolicy.With(op, "rate limit %s is negative", name)
		}
	}
	for reason, m := range p.RewardSchedule {
		if m < 0 {
			return kerr.ErrInvalidPolicy.With(op, "reward multiplier %s is negative", reason)
		}
	}
	g := p.Governance
	for name, v := range map[string]float64{
		"quorum_threshold":    g.QuorumThreshold,
		"approval_threshold":  g.ApprovalThreshold,
		"emergency_threshold": g.EmergencyThreshold,
	} {
		if v < 0 || v > 1 {
			return kerr.ErrInvalidPolicy.With(op, "%s %v outside [0,1]", name, v)
		}
	}
	if g.MinDepositCredits < 0 {
		return kerr.ErrInvalidPolicy.With(op, "min_deposit_credits is negative")
	}
	return nil
}

// clone deep-copies the maps so versions never alias.
func (p Policy) clone() Policy {
	c := p
	c.RateLimits = make(map[string]int64, len(p.RateLimits))
	for k, v := range p.RateLimits {
		c.RateLimits[k] = v
	}
	c.RewardSchedule = make(map[string]float64, len(p.RewardSchedule))
	for k, v := range p.RewardSchedule {
		c.RewardSchedule[k] = v
	}
	c.PrivacyFlags = make(map[string]int64, len(p.PrivacyFlags))
	for k, v := range p.PrivacyFlags {
		c.PrivacyFlags[k] = v
	}
	return c
}

func (p Policy) String() string {
	return fmt.Sprintf("policy %s (%s)", p.Version, p.Hash()[:12])
}
