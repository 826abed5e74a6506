package kernel

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/kaizencycle/Mobius-Systems/pkg/attest"
	"github.com/kaizencycle/Mobius-Systems/pkg/chain"
	"github.com/kaizencycle/Mobius-Systems/pkg/committee"
	"github.com/kaizencycle/Mobius-Systems/pkg/credit"
	"github.com/kaizencycle/Mobius-Systems/pkg/cycle"
)

// SelectCommittee returns the committee for epoch.
func (k *Kernel) SelectCommittee(epoch uint64) ([]string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.committee.Select(epoch)
}

// RankCandidates returns every eligible citizen by committee score.
func (k *Kernel) RankCandidates() ([]committee.Member, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.committee.Rank()
}

// ProposeBlock assembles an unsigned block from explicit records.
func (k *Kernel) ProposeBlock(proposer string, txs []credit.Transaction, earns []credit.EarnTransaction, cycles []cycle.Cycle) chain.Block {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.chain.Propose(proposer, txs, earns, cycles)
}

// ProposePending assembles a block from everything queued that still
// applies.
func (k *Kernel) ProposePending(proposer string) chain.Block {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.c.chain.ProposePending(proposer)
}

// SignBlock attaches member's committee signature.
func (k *Kernel) SignBlock(b chain.Block, member string, signer attest.Signer) (chain.Block, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.chain.Sign(b, member, signer)
}

// ValidateBlock reports why b could not be appended, or nil.
func (k *Kernel) ValidateBlock(b chain.Block) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.chain.Validate(b)
}

// IsValidBlock reports whether b would be accepted.
func (k *Kernel) IsValidBlock(b chain.Block) bool {
	return k.ValidateBlock(b) == nil
}

// AddBlock validates and applies b atomically, then runs commit hooks.
func (k *Kernel) AddBlock(ctx context.Context, b chain.Block) error {
	k.mu.Lock()
	err := k.c.chain.Add(ctx, b)
	hooks := append([]CommitHook(nil), k.hooks...)
	k.mu.Unlock()
	if err != nil {
		return k.reject("kernel.add_block", err)
	}
	for _, h := range hooks {
		h(b)
	}
	return nil
}

// SubmitTransaction queues a signed-off transaction for the next block.
func (k *Kernel) SubmitTransaction(tx credit.Transaction) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.reject("kernel.submit_transaction", k.c.chain.SubmitTransaction(tx))
}

// SubmitEarn queues an earn transaction for the next block.
func (k *Kernel) SubmitEarn(e credit.EarnTransaction) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.reject("kernel.submit_earn", k.c.chain.SubmitEarn(e))
}

// SubmitCycle queues a cycle record for the next block.
func (k *Kernel) SubmitCycle(c cycle.Cycle) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.c.chain.SubmitCycle(c)
}

// Prepare builds a transaction stamped with the sender's next pending
// nonce and the current fee, without applying or queueing it.
func (k *Kernel) Prepare(typ credit.TxType, from, to string, amount decimal.Decimal, memo string) credit.Transaction {
	k.mu.RLock()
	defer k.mu.RUnlock()
	fee := decimal.Zero
	if typ == credit.TxTransfer {
		fee = k.c.ledger.Fee(from, to, amount)
	}
	return credit.NewTransaction(typ, from, to, amount, fee, k.c.chain.PendingNonce(from), k.clock().Unix(), memo)
}

// Block returns the committed block at height.
func (k *Kernel) Block(height uint64) (chain.Block, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.chain.Block(height)
}

// Blocks returns the whole chain.
func (k *Kernel) Blocks() []chain.Block {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.chain.Blocks()
}

// Pending returns queue lengths for transactions, earns and cycles.
func (k *Kernel) Pending() (txs, earns, cycles int) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.chain.Pending()
}

// VerifyChain re-checks every committed block and its links.
func (k *Kernel) VerifyChain() error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.chain.VerifyChain()
}
