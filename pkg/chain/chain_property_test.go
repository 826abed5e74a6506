//go:build property

package chain_test

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/kaizencycle/Mobius-Systems/pkg/chain"
	"github.com/kaizencycle/Mobius-Systems/pkg/credit"
	"github.com/kaizencycle/Mobius-Systems/pkg/cycle"
	"github.com/kaizencycle/Mobius-Systems/pkg/identity"
	"github.com/kaizencycle/Mobius-Systems/pkg/policy"
)

type blockPlan struct {
	Transfers []int64
	Tamper    int
}

func genPlan() gopter.Gen {
	return gopter.CombineGens(
		gen.SliceOfN(3, gen.Int64Range(0, 400)),
		gen.IntRange(0, 4),
	).Map(func(v []interface{}) blockPlan {
		return blockPlan{Transfers: v[0].([]int64), Tamper: v[1].(int)}
	})
}

// Property: whatever blocks are offered, the committed chain links every
// block to its predecessor with strictly increasing heights, and tampered
// blocks never get in.
func TestChainIntegrity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	now := func() time.Time { return time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC) }

	properties.Property("committed blocks form an unbroken chain", prop.ForAll(
		func(plans []blockPlan) bool {
			ids := identity.NewRegistry()
			pol, err := policy.NewRegistry(policy.Genesis())
			if err != nil {
				return false
			}
			l, err := credit.New(credit.DefaultParams())
			if err != nil {
				return false
			}
			l.WithClock(now)
			a, _ := ids.RegisterCitizen("aa")
			b, _ := ids.RegisterCitizen("bb")
			if err := l.Allocate(a, credit.Credits(500), "seed"); err != nil {
				return false
			}
			c := chain.New(l, cycle.NewManager(ids, pol), ids, pol).WithClock(now)

			committed := uint64(0)
			for _, plan := range plans {
				var txs []credit.Transaction
				nonce := l.Nonce(a)
				for _, amt := range plan.Transfers {
					if amt == 0 {
						continue
					}
					v := credit.Credits(amt)
					txs = append(txs, credit.NewTransaction(credit.TxTransfer, a, b, v, l.Fee(a, b, v), nonce, now().Unix(), ""))
					nonce++
				}
				blk := c.Propose(a, txs, nil, nil)
				tampered := plan.Tamper == 0
				if tampered {
					blk.Header.Proposer = b
				}
				before := l.StateRoot()
				err := c.Add(context.Background(), blk)
				switch {
				case tampered && err == nil:
					t.Log("tampered block accepted")
					return false
				case err != nil && l.StateRoot() != before:
					t.Log("rejected block changed state:", err)
					return false
				case err == nil:
					committed++
				}
			}
			if c.Height() != committed || c.VerifyChain() != nil {
				return false
			}
			parent := chain.GenesisParent
			for i, blk := range c.Blocks() {
				if blk.Header.Height != uint64(i) || blk.Header.ParentHash != parent {
					return false
				}
				parent = blk.Hash
			}
			return l.Reconcile() == nil
		},
		gen.SliceOfN(6, genPlan()),
	))

	properties.TestingRun(t)
}
