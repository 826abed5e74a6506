package chain

import (
	"github.com/kaizencycle/Mobius-Systems/pkg/credit"
	"github.com/kaizencycle/Mobius-Systems/pkg/cycle"
	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
)

// mempool holds records waiting for a block, in submission order.
type mempool struct {
	txs    []credit.Transaction
	earns  []credit.EarnTransaction
	cycles []cycle.Cycle
	seen   map[string]struct{}
}

func newMempool() *mempool {
	return &mempool{seen: make(map[string]struct{})}
}

func (p *mempool) remove(b Block) {
	drop := make(map[string]struct{}, b.Applied()+len(b.Cycles))
	for _, tx := range b.Transactions {
		drop[tx.ID] = struct{}{}
	}
	for _, e := range b.Earns {
		drop[e.ID] = struct{}{}
	}
	cycles := make(map[string]struct{}, len(b.Cycles))
	for _, cy := range b.Cycles {
		cycles[cy.ID] = struct{}{}
	}
	p.filter(func(id string) bool { _, ok := drop[id]; return !ok },
		func(id string) bool { _, ok := cycles[id]; return !ok })
}

func (p *mempool) filter(keepRecord, keepCycle func(id string) bool) {
	txs := p.txs[:0]
	for _, tx := range p.txs {
		if keepRecord(tx.ID) {
			txs = append(txs, tx)
		} else {
			delete(p.seen, tx.ID)
		}
	}
	p.txs = txs
	earns := p.earns[:0]
	for _, e := range p.earns {
		if keepRecord(e.ID) {
			earns = append(earns, e)
		} else {
			delete(p.seen, e.ID)
		}
	}
	p.earns = earns
	cycles := p.cycles[:0]
	for _, cy := range p.cycles {
		if keepCycle(cy.ID) {
			cycles = append(cycles, cy)
		}
	}
	p.cycles = cycles
}

// SubmitTransaction queues tx for the next proposed block.
func (c *Chain) SubmitTransaction(tx credit.Transaction) error {
	const op = "chain.submit_transaction"
	if tx.ID != tx.ComputeID() {
		return kerr.ErrInvalidTransaction.With(op, "id %s does not match content", short(tx.ID))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.pool.seen[tx.ID]; dup {
		return kerr.ErrDuplicateTransaction.With(op, "%s already pending", short(tx.ID))
	}
	c.pool.seen[tx.ID] = struct{}{}
	c.pool.txs = append(c.pool.txs, tx)
	return nil
}

// SubmitEarn queues an earn transaction for the next proposed block.
func (c *Chain) SubmitEarn(e credit.EarnTransaction) error {
	const op = "chain.submit_earn"
	if e.ID != e.ComputeID() {
		return kerr.ErrInvalidTransaction.With(op, "id %s does not match content", short(e.ID))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.pool.seen[e.ID]; dup {
		return kerr.ErrDuplicateTransaction.With(op, "%s already pending", short(e.ID))
	}
	c.pool.seen[e.ID] = struct{}{}
	c.pool.earns = append(c.pool.earns, e)
	return nil
}

// SubmitCycle queues a cycle record. A newer record for the same cycle
// replaces the pending one.
func (c *Chain) SubmitCycle(cy cycle.Cycle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, pending := range c.pool.cycles {
		if pending.ID == cy.ID {
			c.pool.cycles[i] = cy
			return
		}
	}
	c.pool.cycles = append(c.pool.cycles, cy)
}

// PendingNonce is the nonce the next queued transaction from addr must
// carry: the ledger nonce plus transactions from addr already pending.
func (c *Chain) PendingNonce(addr string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := c.ledger.Nonce(addr)
	for _, tx := range c.pool.txs {
		if tx.From == addr {
			n++
		}
	}
	return n
}

// Pending returns the number of queued transactions, earn transactions and
// cycle records.
func (c *Chain) Pending() (txs, earns, cycles int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pool.txs), len(c.pool.earns), len(c.pool.cycles)
}

// ProposePending assembles a block from the mempool. Records that no longer
// apply against current state are dropped from the pool and logged.
func (c *Chain) ProposePending(proposer string) Block {
	c.mu.Lock()
	p := c.policies.Current()
	ledger := c.ledger.Fork()
	cycles := c.cycles.Fork()

	var txs []credit.Transaction
	var earns []credit.EarnTransaction
	var cys []cycle.Cycle
	dropped := make(map[string]struct{})
	droppedCycles := make(map[string]struct{})

	for _, tx := range c.pool.txs {
		if err := ledger.ApplyTransaction(tx); err != nil {
			c.logger.Warn("pending transaction dropped", "id", short(tx.ID), "from", tx.From, "error", err)
			dropped[tx.ID] = struct{}{}
			continue
		}
		txs = append(txs, tx)
	}
	for _, cy := range c.pool.cycles {
		err := cycles.Validate(cy)
		if err == nil {
			err = cycles.Commit(cy)
		}
		if err != nil {
			c.logger.Warn("pending cycle dropped", "cycle_id", cy.ID, "error", err)
			droppedCycles[cy.ID] = struct{}{}
			continue
		}
		cys = append(cys, cy)
	}
	for _, e := range c.pool.earns {
		err := checkEarn("chain.propose_pending", e, p, cycles)
		if err == nil {
			err = ledger.ApplyEarn(e)
		}
		if err != nil {
			c.logger.Warn("pending earn dropped", "id", short(e.ID), "recipient", e.Recipient, "error", err)
			dropped[e.ID] = struct{}{}
			continue
		}
		earns = append(earns, e)
	}
	c.pool.filter(func(id string) bool { _, ok := dropped[id]; return !ok },
		func(id string) bool { _, ok := droppedCycles[id]; return !ok })
	c.mu.Unlock()

	return c.Propose(proposer, txs, earns, cys)
}
