package cycle

import (
	"context"
	"sort"
	"strconv"

	"github.com/kaizencycle/Mobius-Systems/pkg/canonicalize"
	"github.com/kaizencycle/Mobius-Systems/pkg/identity"
	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
	"github.com/kaizencycle/Mobius-Systems/pkg/policy"
)

// Fallback limits when neither the policy nor the identity names one.
const (
	defaultCitizenLimit   = 100
	defaultCompanionLimit = 10
)

// Visibility of a reflection.
type Visibility string

const (
	Private Visibility = "private"
	Public  Visibility = "public"
)

// Reflection is a privacy-preserving civic reflection. Only the hash of the
// encrypted envelope is held.
type Reflection struct {
	ID           string     `json:"ref_id"`
	CycleID      string     `json:"cycle_id"`
	EnvelopeHash string     `json:"envelope_hash"`
	Author       string     `json:"author"`
	Companion    string     `json:"companion,omitempty"`
	Visibility   Visibility `json:"visibility"`
	Tags         []string   `json:"tags,omitempty"`
	Proof        string     `json:"proof,omitempty"`
	Timestamp    int64      `json:"timestamp"`
}

// ReflectionRequest is the input to CreateReflection. An empty Visibility
// takes the policy default.
type ReflectionRequest struct {
	Author       string
	CycleID      string
	EnvelopeHash string
	Companion    string
	Visibility   Visibility
	Tags         []string
	Proof        string
}

func (m *Manager) limitFor(who identity.Identity, name string, p policy.Policy) int64 {
	if who.Kind == identity.KindCompanion {
		if v, ok := who.Limit(name); ok {
			return v
		}
		return defaultCompanionLimit
	}
	if v, ok := p.Limit(name); ok {
		return v
	}
	return defaultCitizenLimit
}

// consume charges one unit of the named limit for who in cycleID.
func (m *Manager) consume(ctx context.Context, op, cycleID string, who identity.Identity, name string) error {
	limit := m.limitFor(who, name, m.policies.Current())
	key := counterKey(cycleID, who.ID, name)
	used, err := m.counter.Get(ctx, key)
	if err != nil {
		return kerr.Internal(op, err)
	}
	if used >= limit {
		m.logger.Warn("rate limit exceeded",
			"identity", who.ID, "cycle_id", cycleID, "limit", name, "max", limit)
		return kerr.ErrRateLimit.With(op, "%s used %d of %d %s", who.ID, used, limit, name)
	}
	if _, err := m.counter.Incr(ctx, key); err != nil {
		return kerr.Internal(op, err)
	}
	return nil
}

func resolveVisibility(op string, v Visibility, p policy.Policy) (Visibility, error) {
	switch v {
	case "":
		if p.Flag(policy.FlagDefaultPrivate) {
			return Private, nil
		}
		return Public, nil
	case Private:
		return Private, nil
	case Public:
		if !p.Flag(policy.FlagAllowPublicOptIn) {
			return "", kerr.ErrInvalidVisibility.With(op, "policy does not allow public reflections")
		}
		return Public, nil
	}
	return "", kerr.ErrInvalidVisibility.With(op, "unknown visibility %q", v)
}

// CreateReflection records a reflection in an open cycle. The author's
// per-cycle reflection limit comes from the policy for citizens and from the
// companion's own limits for companions.
func (m *Manager) CreateReflection(ctx context.Context, req ReflectionRequest) (Reflection, error) {
	const op = "cycle.create_reflection"
	if req.EnvelopeHash == "" {
		return Reflection{}, kerr.ErrValidation.With(op, "empty envelope hash")
	}
	who, err := m.ids.Get(req.Author)
	if err != nil {
		return Reflection{}, err
	}
	if req.Companion != "" {
		c, err := m.ids.Get(req.Companion)
		if err != nil {
			return Reflection{}, err
		}
		if c.Kind != identity.KindCompanion {
			return Reflection{}, kerr.ErrValidation.With(op, "%s is not a companion", req.Companion)
		}
	}

	p := m.policies.Current()
	vis, err := resolveVisibility(op, req.Visibility, p)
	if err != nil {
		return Reflection{}, err
	}
	if req.Proof == "" && p.Flag(policy.FlagZKProofsRequired) {
		return Reflection{}, kerr.ErrInvalidProof.With(op, "policy requires a proof")
	}
	if req.Proof != "" && m.prover != nil {
		if err := m.prover.VerifyProof(req.Author, req.EnvelopeHash, req.Proof); err != nil {
			return Reflection{}, err
		}
	}

	m.mu.RLock()
	_, err = m.open(op, req.CycleID)
	m.mu.RUnlock()
	if err != nil {
		return Reflection{}, err
	}

	if m.throttle != nil && !m.throttle.Allow() {
		m.logger.Warn("reflection ingest throttled", "identity", who.ID)
		return Reflection{}, kerr.ErrThrottled.With(op, "reflection ingest is saturated")
	}
	if err := m.consume(ctx, op, req.CycleID, who, policy.LimitReflectionsPerDay); err != nil {
		return Reflection{}, err
	}

	tags := append([]string(nil), req.Tags...)
	sort.Strings(tags)

	m.mu.Lock()
	c, err := m.open(op, req.CycleID)
	if err != nil {
		m.mu.Unlock()
		return Reflection{}, err
	}
	m.refSeq++
	r := Reflection{
		ID:           "ref_" + canonicalize.HashParts(req.CycleID, "|", req.Author, "|", req.EnvelopeHash, "|", strconv.FormatInt(m.refSeq, 10))[:16],
		CycleID:      req.CycleID,
		EnvelopeHash: req.EnvelopeHash,
		Author:       req.Author,
		Companion:    req.Companion,
		Visibility:   vis,
		Tags:         tags,
		Proof:        req.Proof,
		Timestamp:    m.clock().Unix(),
	}
	m.reflections[req.CycleID] = append(m.reflections[req.CycleID], r)
	c.Counts.Reflections++
	m.mu.Unlock()

	if err := m.ids.RecordActivity(req.Author, 1.0); err != nil {
		return Reflection{}, err
	}
	return r, nil
}

// CheckAttestationLimit charges one attestation against identityID's
// per-cycle allowance.
func (m *Manager) CheckAttestationLimit(ctx context.Context, cycleID, identityID string) error {
	const op = "cycle.check_attestation_limit"
	who, err := m.ids.Get(identityID)
	if err != nil {
		return err
	}
	m.mu.RLock()
	_, ok := m.cycles[cycleID]
	m.mu.RUnlock()
	if !ok {
		return kerr.ErrUnknownCycle.With(op, "%q", cycleID)
	}
	return m.consume(ctx, op, cycleID, who, policy.LimitAttestationsPerDay)
}

// Reflections returns the reflections recorded in a cycle.
func (m *Manager) Reflections(cycleID string) []Reflection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Reflection(nil), m.reflections[cycleID]...)
}
