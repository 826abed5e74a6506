package policy

import (
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
)

// Update is a partial policy change. Nil fields and empty maps are left
// untouched; map entries are merged key by key.
type Update struct {
	RateLimits            map[string]int64   `json:"rate_limits,omitempty"`
	RewardSchedule        map[string]float64 `json:"reward_schedule,omitempty"`
	PrivacyFlags          map[string]int64   `json:"privacy_flags,omitempty"`
	CommitteeSize         *int               `json:"committee_size,omitempty"`
	EligibilityExpr       *string            `json:"eligibility_expr,omitempty"`
	QuorumThreshold       *float64           `json:"quorum_threshold,omitempty"`
	ApprovalThreshold     *float64           `json:"approval_threshold,omitempty"`
	EmergencyThreshold    *float64           `json:"emergency_threshold,omitempty"`
	MinDepositCredits     *int64             `json:"min_deposit_credits,omitempty"`
	VotingPeriodSeconds   *int64             `json:"voting_period_seconds,omitempty"`
	ExecutionDelaySeconds *int64             `json:"execution_delay_seconds,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return len(u.RateLimits) == 0 && len(u.RewardSchedule) == 0 && len(u.PrivacyFlags) == 0 &&
		u.CommitteeSize == nil && u.EligibilityExpr == nil && u.QuorumThreshold == nil &&
		u.ApprovalThreshold == nil && u.EmergencyThreshold == nil && u.MinDepositCredits == nil &&
		u.VotingPeriodSeconds == nil && u.ExecutionDelaySeconds == nil
}

func (u Update) applyTo(p Policy) Policy {
	for k, v := range u.RateLimits {
		p.RateLimits[k] = v
	}
	for k, v := range u.RewardSchedule {
		p.RewardSchedule[k] = v
	}
	for k, v := range u.PrivacyFlags {
		p.PrivacyFlags[k] = v
	}
	if u.CommitteeSize != nil {
		p.Consensus.CommitteeSize = *u.CommitteeSize
	}
	if u.EligibilityExpr != nil {
		p.Consensus.EligibilityExpr = *u.EligibilityExpr
	}
	if u.QuorumThreshold != nil {
		p.Governance.QuorumThreshold = *u.QuorumThreshold
	}
	if u.ApprovalThreshold != nil {
		p.Governance.ApprovalThreshold = *u.ApprovalThreshold
	}
	if u.EmergencyThreshold != nil {
		p.Governance.EmergencyThreshold = *u.EmergencyThreshold
	}
	if u.MinDepositCredits != nil {
		p.Governance.MinDepositCredits = *u.MinDepositCredits
	}
	if u.VotingPeriodSeconds != nil {
		p.Governance.VotingPeriodSeconds = *u.VotingPeriodSeconds
	}
	if u.ExecutionDelaySeconds != nil {
		p.Governance.ExecutionDelaySeconds = *u.ExecutionDelaySeconds
	}
	return p
}

// Registry keeps every policy version ever adopted. The newest is current.
type Registry struct {
	mu       sync.RWMutex
	versions []Policy
}

// NewRegistry starts a registry at genesis.
func NewRegistry(genesis Policy) (*Registry, error) {
	if err := genesis.Validate(); err != nil {
		return nil, err
	}
	return &Registry{versions: []Policy{genesis.clone()}}, nil
}

// Current returns the active policy.
func (r *Registry) Current() Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.versions[len(r.versions)-1].clone()
}

// Get returns the policy with the given version.
func (r *Registry) Get(version string) (Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.versions {
		if p.Version == version {
			return p.clone(), true
		}
	}
	return Policy{}, false
}

// History returns all versions, oldest first.
func (r *Registry) History() []Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Policy, len(r.versions))
	for i, p := range r.versions {
		out[i] = p.clone()
	}
	return out
}

// Apply adopts a new minor version with the update merged in.
func (r *Registry) Apply(u Update) (Policy, error) {
	const op = "policy.apply"
	if u.Empty() {
		return Policy{}, kerr.ErrInvalidPolicy.With(op, "empty update")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.versions[len(r.versions)-1]
	v, err := semver.NewVersion(cur.Version)
	if err != nil {
		return Policy{}, kerr.ErrInvalidVersion.With(op, "current version %q: %v", cur.Version, err)
	}
	next := u.applyTo(cur.clone())
	next.Version = v.IncMinor().String()
	next.UpgradeHash = ""
	if err := next.Validate(); err != nil {
		return Policy{}, err
	}
	r.versions = append(r.versions, next)
	return next.clone(), nil
}

// Upgrade adopts an explicit protocol version, which must be strictly
// greater than the current one.
func (r *Registry) Upgrade(version, upgradeHash string) (Policy, error) {
	const op = "policy.upgrade"
	want, err := semver.NewVersion(version)
	if err != nil {
		return Policy{}, kerr.ErrInvalidVersion.With(op, "version %q: %v", version, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.versions[len(r.versions)-1]
	have, err := semver.NewVersion(cur.Version)
	if err != nil {
		return Policy{}, kerr.ErrInvalidVersion.With(op, "current version %q: %v", cur.Version, err)
	}
	if !want.GreaterThan(have) {
		return Policy{}, kerr.ErrInvalidVersion.With(op, "%s is not newer than %s", want, have)
	}
	next := cur.clone()
	next.Version = want.String()
	next.UpgradeHash = upgradeHash
	r.versions = append(r.versions, next)
	return next.clone(), nil
}

// Restore replaces the version history.
func (r *Registry) Restore(versions []Policy) error {
	if len(versions) == 0 {
		return kerr.ErrInvalidPolicy.With("policy.restore", "no versions")
	}
	for _, p := range versions {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions = make([]Policy, len(versions))
	for i, p := range versions {
		r.versions[i] = p.clone()
	}
	return nil
}
