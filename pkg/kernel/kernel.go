// Package kernel owns one instance of every state machine (identities,
// policies, credits, cycles, committee, chain and governance) and serialises
// writes across them. Readers share a read lock and never observe a block
// mid-application.
package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kaizencycle/Mobius-Systems/pkg/agora"
	"github.com/kaizencycle/Mobius-Systems/pkg/attest"
	"github.com/kaizencycle/Mobius-Systems/pkg/chain"
	"github.com/kaizencycle/Mobius-Systems/pkg/committee"
	"github.com/kaizencycle/Mobius-Systems/pkg/credit"
	"github.com/kaizencycle/Mobius-Systems/pkg/cycle"
	"github.com/kaizencycle/Mobius-Systems/pkg/identity"
	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
	"github.com/kaizencycle/Mobius-Systems/pkg/observability"
	"github.com/kaizencycle/Mobius-Systems/pkg/policy"
)

// Options configures a kernel. The zero value runs the genesis policy and
// default economics with in-memory collaborators.
type Options struct {
	Policy *policy.Policy
	Params *credit.Params

	// Allocations are minted at genesis, keyed by address.
	Allocations map[string]decimal.Decimal
	// CitizenGrant is minted to every newly registered citizen.
	CitizenGrant decimal.Decimal

	Counter         cycle.Counter
	ProofVerifier   attest.ProofVerifier
	CommitteeVerify attest.SignatureVerifier
	ThrottlePerSec  float64
	ThrottleBurst   int

	Metrics *observability.Metrics
	Clock   func() time.Time
	Logger  *slog.Logger
}

// CommitHook observes committed blocks. Hooks run after the kernel lock is
// released and may call back into the kernel.
type CommitHook func(chain.Block)

// components is one consistent object graph.
type components struct {
	ids       *identity.Registry
	policies  *policy.Registry
	ledger    *credit.Ledger
	cycles    *cycle.Manager
	committee *committee.Selector
	chain     *chain.Chain
	agora     *agora.Engine
}

// Kernel is the cycle ledger kernel.
type Kernel struct {
	mu sync.RWMutex
	c  *components

	opts    Options
	hooks   []CommitHook
	metrics *observability.Metrics
	clock   func() time.Time
	logger  *slog.Logger
}

// New builds a kernel and applies genesis allocations.
func New(opts Options) (*Kernel, error) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	k := &Kernel{
		opts:    opts,
		metrics: opts.Metrics,
		clock:   opts.Clock,
		logger:  opts.Logger.With("component", "kernel"),
	}
	c, err := k.build()
	if err != nil {
		return nil, err
	}
	for _, addr := range sortedKeys(opts.Allocations) {
		if err := c.ledger.Allocate(addr, opts.Allocations[addr], "genesis"); err != nil {
			return nil, fmt.Errorf("genesis allocation to %s: %w", addr, err)
		}
	}
	k.c = c
	p := c.policies.Current()
	k.logger.Info("kernel started", "policy_version", p.Version, "policy_hash", short(p.Hash()),
		"state_root", short(c.ledger.StateRoot()))
	return k, nil
}

func (k *Kernel) build() (*components, error) {
	o := k.opts
	genesis := policy.Genesis()
	if o.Policy != nil {
		genesis = *o.Policy
	}
	params := credit.DefaultParams()
	if o.Params != nil {
		params = *o.Params
	}

	policies, err := policy.NewRegistry(genesis)
	if err != nil {
		return nil, err
	}
	ledger, err := credit.New(params)
	if err != nil {
		return nil, err
	}
	ledger.WithClock(o.Clock).WithLogger(o.Logger)
	ids := identity.NewRegistry().WithClock(o.Clock).WithLogger(o.Logger)

	cycles := cycle.NewManager(ids, policies).WithClock(o.Clock).WithLogger(o.Logger)
	if o.Counter != nil {
		cycles.WithCounter(o.Counter)
	}
	if o.ProofVerifier != nil {
		cycles.WithProofVerifier(o.ProofVerifier)
	}
	if o.ThrottlePerSec > 0 {
		cycles.WithThrottle(o.ThrottlePerSec, max(o.ThrottleBurst, 1))
	}

	sel, err := committee.NewSelector(ids, ledger, policies)
	if err != nil {
		return nil, err
	}
	sel.WithLogger(o.Logger)

	ch := chain.New(ledger, cycles, ids, policies).
		WithClock(o.Clock).
		WithLogger(o.Logger).
		WithMetrics(o.Metrics)
	if o.CommitteeVerify != nil {
		ch.WithCommittee(o.CommitteeVerify, func(uint64) ([]string, error) {
			return sel.Select(ledger.Epoch())
		})
	}

	gov := agora.NewEngine(ledger, policies).WithClock(o.Clock).WithLogger(o.Logger)

	return &components{
		ids:       ids,
		policies:  policies,
		ledger:    ledger,
		cycles:    cycles,
		committee: sel,
		chain:     ch,
		agora:     gov,
	}, nil
}

// OnCommit registers a hook run after every committed block.
func (k *Kernel) OnCommit(h CommitHook) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.hooks = append(k.hooks, h)
}

// reject logs and counts a refused operation and returns err unchanged.
func (k *Kernel) reject(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := kerr.KindOf(err)
	if kind == kerr.KindInternal {
		k.logger.Error("operation failed", "op", op, "kind", kind, "error", err)
	} else {
		k.logger.Warn("operation rejected", "op", op, "kind", kind, "error", err)
	}
	k.metrics.Rejected(context.Background(), op, err)
	return err
}

// Status is a point-in-time summary of the kernel.
type Status struct {
	Height        uint64          `json:"height"`
	TipHash       string          `json:"tip_hash,omitempty"`
	Epoch         uint64          `json:"epoch"`
	Paused        bool            `json:"paused"`
	PolicyVersion string          `json:"policy_version"`
	PolicyHash    string          `json:"policy_hash"`
	StateRoot     string          `json:"state_root"`
	Supply        credit.Supply   `json:"supply"`
	Circulating   decimal.Decimal `json:"circulating"`
	Identities    int             `json:"identities"`
}

// Status summarises the kernel.
func (k *Kernel) Status() Status {
	k.mu.RLock()
	defer k.mu.RUnlock()
	c := k.c
	p := c.policies.Current()
	s := Status{
		Height:        c.chain.Height(),
		Epoch:         c.ledger.Epoch(),
		Paused:        c.ledger.Paused(),
		PolicyVersion: p.Version,
		PolicyHash:    p.Hash(),
		StateRoot:     c.ledger.StateRoot(),
		Supply:        c.ledger.Supply(),
		Identities:    c.ids.Len(),
	}
	s.Circulating = s.Supply.Circulating()
	if tip, ok := c.chain.Tip(); ok {
		s.TipHash = tip.Hash
	}
	return s
}

// Policy returns the active policy.
func (k *Kernel) Policy() policy.Policy {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.policies.Current()
}

// PolicyHistory returns every adopted policy version, oldest first.
func (k *Kernel) PolicyHistory() []policy.Policy {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.policies.History()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
