// Package committee selects the identities that co-sign blocks in an
// epoch. Selection is deterministic: the same registry, stakes, policy and
// epoch always yield the same ordered committee.
package committee

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/kaizencycle/Mobius-Systems/pkg/canonicalize"
	"github.com/kaizencycle/Mobius-Systems/pkg/credit"
	"github.com/kaizencycle/Mobius-Systems/pkg/identity"
	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
	"github.com/kaizencycle/Mobius-Systems/pkg/policy"
)

// ActivityWeight scales activity against whole staked credits when ranking.
const ActivityWeight = 100

// Member is a ranked candidate.
type Member struct {
	ID       string  `json:"id"`
	Staked   float64 `json:"staked"`
	Activity float64 `json:"activity"`
	Score    float64 `json:"score"`
}

// Identities lists registered identities.
type Identities interface {
	List(kind identity.Kind) []identity.Identity
}

// Stakes exposes ledger accounts.
type Stakes interface {
	Account(addr string) (credit.Account, bool)
}

// PolicySource yields the active policy.
type PolicySource interface {
	Current() policy.Policy
}

// Selector ranks and shuffles eligible citizens.
type Selector struct {
	ids      Identities
	stakes   Stakes
	policies PolicySource
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
	logger   *slog.Logger
}

// NewSelector builds a selector with a CEL environment exposing staked,
// activity and id to eligibility expressions.
func NewSelector(ids Identities, stakes Stakes, policies PolicySource) (*Selector, error) {
	env, err := cel.NewEnv(
		cel.Variable("staked", cel.DoubleType),
		cel.Variable("activity", cel.DoubleType),
		cel.Variable("id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Selector{
		ids:      ids,
		stakes:   stakes,
		policies: policies,
		env:      env,
		programs: make(map[string]cel.Program),
		logger:   slog.Default().With("component", "committee"),
	}, nil
}

// WithLogger sets the logger.
func (s *Selector) WithLogger(l *slog.Logger) *Selector {
	s.logger = l.With("component", "committee")
	return s
}

func (s *Selector) program(expr string) (cel.Program, error) {
	s.mu.RLock()
	prg, hit := s.programs[expr]
	s.mu.RUnlock()
	if hit {
		return prg, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prg, hit = s.programs[expr]; hit {
		return prg, nil
	}
	ast, issues := s.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, kerr.ErrInvalidPolicy.With("committee.eligibility", "compile %q: %v", expr, issues.Err())
	}
	prg, err := s.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, kerr.ErrInvalidPolicy.With("committee.eligibility", "program %q: %v", expr, err)
	}
	s.programs[expr] = prg
	return prg, nil
}

func (s *Selector) eligible(prg cel.Program, m Member) (bool, error) {
	if prg == nil {
		return true, nil
	}
	out, _, err := prg.Eval(map[string]any{
		"staked":   m.Staked,
		"activity": m.Activity,
		"id":       m.ID,
	})
	if err != nil {
		return false, kerr.ErrInvalidPolicy.With("committee.eligibility", "eval: %v", err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, kerr.ErrInvalidPolicy.With("committee.eligibility", "expression does not yield a bool")
	}
	return ok, nil
}

// Rank returns every eligible citizen (stake > 0 and the policy's
// eligibility expression) ordered by score, highest first, ties by id.
func (s *Selector) Rank() ([]Member, error) {
	p := s.policies.Current()
	var prg cel.Program
	if p.Consensus.EligibilityExpr != "" {
		var err error
		if prg, err = s.program(p.Consensus.EligibilityExpr); err != nil {
			return nil, err
		}
	}

	var out []Member
	for _, c := range s.ids.List(identity.KindCitizen) {
		acct, ok := s.stakes.Account(c.ID)
		if !ok || acct.Staked.Sign() <= 0 {
			continue
		}
		m := Member{ID: c.ID, Staked: credit.ToCredits(acct.Staked), Activity: c.Activity}
		m.Score = m.Staked + m.Activity*ActivityWeight
		ok, err := s.eligible(prg, m)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Select returns the committee for epoch: the top committee_size eligible
// citizens, permuted by a stream seeded from the epoch and policy hash.
// With fewer eligible citizens than seats it falls back to the first
// committee_size registered citizens.
func (s *Selector) Select(epoch uint64) ([]string, error) {
	p := s.policies.Current()
	size := p.Consensus.CommitteeSize

	ranked, err := s.Rank()
	if err != nil {
		return nil, err
	}
	if len(ranked) < size {
		var ids []string
		for _, c := range s.ids.List(identity.KindCitizen) {
			if len(ids) == size {
				break
			}
			ids = append(ids, c.ID)
		}
		s.logger.Warn("too few eligible citizens, using registration order",
			"epoch", epoch, "eligible", len(ranked), "committee_size", size)
		return ids, nil
	}

	committee := make([]string, size)
	for i := range committee {
		committee[i] = ranked[i].ID
	}
	shuffle(committee, Seed(epoch, p.Hash()))
	return committee, nil
}

// Seed is sha256(epoch ‖ policy hash) with the epoch big-endian encoded.
func Seed(epoch uint64, policyHash string) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], epoch)
	return []byte(canonicalize.HashParts(string(buf[:]), policyHash))
}
