// Package chain assembles, validates and appends blocks. A block is applied
// on forks of the credit ledger and cycle manager and the forks are adopted
// only when every record in it succeeds, so a rejected block leaves no trace.
package chain

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kaizencycle/Mobius-Systems/pkg/attest"
	"github.com/kaizencycle/Mobius-Systems/pkg/credit"
	"github.com/kaizencycle/Mobius-Systems/pkg/cycle"
	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
	"github.com/kaizencycle/Mobius-Systems/pkg/observability"
	"github.com/kaizencycle/Mobius-Systems/pkg/policy"
)

// Identities is the registry view the chain needs.
type Identities interface {
	IsCitizen(id string) bool
	IsRegistered(id string) bool
	PublicKey(id string) (string, bool)
	RecordActivity(id string, delta float64) error
}

// PolicySource yields the active policy.
type PolicySource interface {
	Current() policy.Policy
}

// MembersFunc returns the committee allowed to sign the block at height.
type MembersFunc func(height uint64) ([]string, error)

// CommitHook is called after a block is appended.
type CommitHook func(b Block)

// Chain is the append-only block list and its mempool.
type Chain struct {
	mu     sync.RWMutex
	blocks []Block

	ledger   *credit.Ledger
	cycles   *cycle.Manager
	ids      Identities
	policies PolicySource

	verifier attest.SignatureVerifier
	members  MembersFunc

	pool    *mempool
	hooks   []CommitHook
	metrics *observability.Metrics
	clock   func() time.Time
	logger  *slog.Logger
}

// New creates an empty chain over the given state owners.
func New(ledger *credit.Ledger, cycles *cycle.Manager, ids Identities, policies PolicySource) *Chain {
	return &Chain{
		ledger:   ledger,
		cycles:   cycles,
		ids:      ids,
		policies: policies,
		pool:     newMempool(),
		clock:    time.Now,
		logger:   slog.Default().With("component", "chain"),
	}
}

// WithCommittee enables committee signature checks. Blocks must carry at
// least the policy's committee quorum of valid signatures from members.
func (c *Chain) WithCommittee(v attest.SignatureVerifier, members MembersFunc) *Chain {
	c.verifier = v
	c.members = members
	return c
}

// WithMetrics records block outcomes on m.
func (c *Chain) WithMetrics(m *observability.Metrics) *Chain {
	c.metrics = m
	return c
}

// WithClock overrides clock for testing.
func (c *Chain) WithClock(clock func() time.Time) *Chain {
	c.clock = clock
	return c
}

// WithLogger sets the logger.
func (c *Chain) WithLogger(l *slog.Logger) *Chain {
	c.logger = l.With("component", "chain")
	return c
}

// OnCommit registers a hook run after every appended block.
func (c *Chain) OnCommit(h CommitHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, h)
}

func (c *Chain) tipLocked() (string, uint64, int64) {
	if len(c.blocks) == 0 {
		return GenesisParent, 0, 0
	}
	tip := c.blocks[len(c.blocks)-1]
	return tip.Hash, tip.Header.Height + 1, tip.Header.Timestamp
}

// Propose assembles an unsigned block on top of the current tip. The state
// root commits to the ledger as it stands before the block.
func (c *Chain) Propose(proposer string, txs []credit.Transaction, earns []credit.EarnTransaction, cycles []cycle.Cycle) Block {
	c.mu.RLock()
	parent, height, _ := c.tipLocked()
	c.mu.RUnlock()

	p := c.policies.Current()
	b := Block{
		Header: Header{
			ParentHash:    parent,
			Height:        height,
			Timestamp:     c.clock().Unix(),
			Proposer:      proposer,
			StateRoot:     c.ledger.StateRoot(),
			TxRoot:        TxRoot(txs),
			EarnRoot:      EarnRoot(earns),
			CycleRoot:     CycleRoot(cycles),
			PolicyVersion: p.Version,
			PolicyHash:    p.Hash(),
		},
		Transactions: txs,
		Earns:        earns,
		Cycles:       cycles,
	}
	b = b.clone()
	b.Hash = b.Header.Hash()
	return b
}

// Sign attaches member's signature over the block hash.
func (c *Chain) Sign(b Block, member string, signer attest.Signer) (Block, error) {
	sig, err := signer.Sign(b.Hash)
	if err != nil {
		return Block{}, kerr.Internal("chain.sign", err)
	}
	b = b.clone()
	b.Header.CommitteeSigs = append(b.Header.CommitteeSigs, Signature{Member: member, Signature: sig})
	return b, nil
}

// Validate checks b against the tip and simulates it on forks of the
// current state. Nothing is mutated.
func (c *Chain) Validate(b Block) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, _, err := c.validateLocked(b)
	return err
}

// IsValid reports whether Validate accepts b.
func (c *Chain) IsValid(b Block) bool {
	return c.Validate(b) == nil
}

func (c *Chain) validateLocked(b Block) (*credit.Ledger, *cycle.Manager, error) {
	const op = "chain.validate"
	if err := checkStructure(op, b); err != nil {
		return nil, nil, err
	}

	parent, height, parentTS := c.tipLocked()
	if b.Header.ParentHash != parent {
		return nil, nil, kerr.ErrBrokenChain.With(op, "parent %s, tip is %s", short(b.Header.ParentHash), short(parent))
	}
	if b.Header.Height != height {
		return nil, nil, kerr.ErrBrokenChain.With(op, "height %d, expected %d", b.Header.Height, height)
	}
	if b.Header.Timestamp < parentTS {
		return nil, nil, kerr.ErrValidation.With(op, "timestamp %d precedes parent %d", b.Header.Timestamp, parentTS)
	}

	p := c.policies.Current()
	if b.Header.PolicyVersion != p.Version || b.Header.PolicyHash != p.Hash() {
		return nil, nil, kerr.ErrPolicyMismatch.With(op, "block policy %s, active %s", b.Header.PolicyVersion, p.Version)
	}
	if root := c.ledger.StateRoot(); b.Header.StateRoot != root {
		return nil, nil, kerr.ErrStateRoot.With(op, "state root %s, ledger is at %s", short(b.Header.StateRoot), short(root))
	}
	if !c.ids.IsCitizen(b.Header.Proposer) {
		return nil, nil, kerr.ErrInvalidProposer.With(op, "%q is not a citizen", b.Header.Proposer)
	}
	if err := c.checkCommittee(op, b, p); err != nil {
		return nil, nil, err
	}
	return c.simulate(op, b, p)
}

// checkStructure recomputes every digest the header commits to.
func checkStructure(op string, b Block) error {
	if h := b.Header.Hash(); b.Hash != h {
		return kerr.ErrBlockHash.With(op, "block hash %s, header hashes to %s", short(b.Hash), short(h))
	}
	for _, tx := range b.Transactions {
		if tx.ID != tx.ComputeID() {
			return kerr.ErrBlockHash.With(op, "transaction %s does not match its content", short(tx.ID))
		}
	}
	for _, e := range b.Earns {
		if e.ID != e.ComputeID() {
			return kerr.ErrBlockHash.With(op, "earn transaction %s does not match its content", short(e.ID))
		}
	}
	if TxRoot(b.Transactions) != b.Header.TxRoot {
		return kerr.ErrRootMismatch.With(op, "transaction root")
	}
	if EarnRoot(b.Earns) != b.Header.EarnRoot {
		return kerr.ErrRootMismatch.With(op, "earn root")
	}
	if CycleRoot(b.Cycles) != b.Header.CycleRoot {
		return kerr.ErrRootMismatch.With(op, "cycle root")
	}
	return nil
}

func (c *Chain) checkCommittee(op string, b Block, p policy.Policy) error {
	quorum := p.Consensus.CommitteeQuorum
	if c.verifier == nil || c.members == nil || quorum <= 0 {
		return nil
	}
	members, err := c.members(b.Header.Height)
	if err != nil {
		return err
	}
	allowed := make(map[string]bool, len(members))
	for _, m := range members {
		allowed[m] = true
	}
	signed := make(map[string]bool)
	for _, s := range b.Header.CommitteeSigs {
		if !allowed[s.Member] || signed[s.Member] {
			continue
		}
		pub, ok := c.ids.PublicKey(s.Member)
		if !ok {
			continue
		}
		if err := c.verifier.Verify(pub, b.Hash, s.Signature); err != nil {
			c.logger.Warn("committee signature rejected", "member", s.Member, "height", b.Header.Height, "error", err)
			continue
		}
		signed[s.Member] = true
	}
	if len(signed) < quorum {
		return kerr.ErrCommitteeQuorum.With(op, "%d valid signatures, quorum is %d", len(signed), quorum)
	}
	return nil
}

// simulate applies the block to forks: transactions, then cycle records,
// then earn transactions, which may reference cycles in the same block.
func (c *Chain) simulate(op string, b Block, p policy.Policy) (*credit.Ledger, *cycle.Manager, error) {
	ledger := c.ledger.Fork()
	cycles := c.cycles.Fork()

	for _, tx := range b.Transactions {
		if err := ledger.ApplyTransaction(tx); err != nil {
			return nil, nil, err
		}
	}
	for _, cy := range b.Cycles {
		if err := cycles.Validate(cy); err != nil {
			return nil, nil, err
		}
		if err := cycles.Commit(cy); err != nil {
			return nil, nil, err
		}
	}
	for _, e := range b.Earns {
		if err := checkEarn(op, e, p, cycles); err != nil {
			return nil, nil, err
		}
		if err := ledger.ApplyEarn(e); err != nil {
			return nil, nil, err
		}
	}
	return ledger, cycles, nil
}

func checkEarn(op string, e credit.EarnTransaction, p policy.Policy, cycles *cycle.Manager) error {
	mult, ok := p.Multiplier(e.Reason)
	if !ok {
		return kerr.ErrInvalidReason.With(op, "reason %q is not in the reward schedule", e.Reason)
	}
	if e.Multiplier != mult {
		return kerr.ErrValidation.With(op, "multiplier %v for %s, schedule says %v", e.Multiplier, e.Reason, mult)
	}
	if _, err := cycles.Get(e.CycleID); err != nil {
		return err
	}
	return nil
}

// Add validates b and applies it atomically. On error no state changes.
func (c *Chain) Add(ctx context.Context, b Block) error {
	ctx, span := c.metrics.StartSpan(ctx, "chain.add")
	start := time.Now()
	err := c.add(b)
	if err != nil {
		c.metrics.BlockRejected(ctx, err, time.Since(start))
		c.logger.Warn("block rejected", "height", b.Header.Height, "hash", short(b.Hash), "error", err)
	} else {
		c.metrics.BlockCommitted(ctx, b.Header.Height, b.Applied(), time.Since(start))
	}
	observability.EndSpan(span, err)
	return err
}

func (c *Chain) add(b Block) error {
	c.mu.Lock()
	ledger, cycles, err := c.validateLocked(b)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	for _, cy := range b.Cycles {
		if cy.Status == cycle.StatusSeal {
			if err := cycles.Anchor(cy.ID); err != nil {
				c.mu.Unlock()
				return err
			}
		}
	}

	c.ledger.Adopt(ledger)
	c.cycles.Adopt(cycles)
	for _, e := range b.Earns {
		if c.ids.IsRegistered(e.Recipient) {
			if err := c.ids.RecordActivity(e.Recipient, 1); err != nil {
				c.logger.Error("activity not recorded", "identity", e.Recipient, "error", err)
			}
		}
	}
	b = b.clone()
	c.blocks = append(c.blocks, b)
	c.pool.remove(b)
	hooks := append([]CommitHook(nil), c.hooks...)
	c.mu.Unlock()

	c.logger.Info("block committed",
		"height", b.Header.Height,
		"hash", short(b.Hash),
		"transactions", len(b.Transactions),
		"earns", len(b.Earns),
		"cycles", len(b.Cycles),
	)
	for _, h := range hooks {
		h(b.clone())
	}
	return nil
}

// Tip returns the newest block, if any.
func (c *Chain) Tip() (Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.blocks) == 0 {
		return Block{}, false
	}
	return c.blocks[len(c.blocks)-1].clone(), true
}

// Height is the number of committed blocks, which is also the height the
// next block must carry.
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint64(len(c.blocks))
}

// Block returns the block at height.
func (c *Chain) Block(height uint64) (Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if height >= uint64(len(c.blocks)) {
		return Block{}, kerr.ErrUnknownBlock.With("chain.block", "height %d, chain has %d blocks", height, len(c.blocks))
	}
	return c.blocks[height].clone(), nil
}

// Blocks returns every committed block in order.
func (c *Chain) Blocks() []Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Block, len(c.blocks))
	for i, b := range c.blocks {
		out[i] = b.clone()
	}
	return out
}

// VerifyChain re-checks every block's hash, roots and link to its parent.
func (c *Chain) VerifyChain() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return verifyBlocks(c.blocks)
}

func verifyBlocks(blocks []Block) error {
	const op = "chain.verify"
	parent := GenesisParent
	for i, b := range blocks {
		if err := checkStructure(op, b); err != nil {
			return err
		}
		if b.Header.ParentHash != parent || b.Header.Height != uint64(i) {
			return kerr.ErrBrokenChain.With(op, "block %d does not link to its parent", i)
		}
		parent = b.Hash
	}
	return nil
}

// Restore replaces the block list after verifying it. Ledger and cycle
// state are restored by their owners.
func (c *Chain) Restore(blocks []Block) error {
	if err := verifyBlocks(blocks); err != nil {
		return err
	}
	cp := make([]Block, len(blocks))
	for i, b := range blocks {
		cp[i] = b.clone()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = cp
	c.pool = newMempool()
	return nil
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
