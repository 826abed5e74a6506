package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kaizencycle/Mobius-Systems/pkg/agora"
	"github.com/kaizencycle/Mobius-Systems/pkg/attest"
	"github.com/kaizencycle/Mobius-Systems/pkg/canonicalize"
	"github.com/kaizencycle/Mobius-Systems/pkg/chain"
	"github.com/kaizencycle/Mobius-Systems/pkg/credit"
	"github.com/kaizencycle/Mobius-Systems/pkg/cycle"
	"github.com/kaizencycle/Mobius-Systems/pkg/kernel"
	"github.com/kaizencycle/Mobius-Systems/pkg/policy"
	"github.com/kaizencycle/Mobius-Systems/pkg/store"
)

// simClock is a manually advanced clock so a demo spanning days of
// governance delays runs instantly.
type simClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *simClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type demoOptions struct {
	blocks      int
	epochs      int
	quorum      int
	snapshotOut string
}

type demoReport struct {
	Status    kernel.Status      `json:"status"`
	Citizens  []string           `json:"citizens"`
	Committee []string           `json:"committee"`
	Blocks    int                `json:"blocks"`
	Epochs    uint64             `json:"epochs"`
	Proposal  *agora.Proposal    `json:"proposal,omitempty"`
	Snapshot  store.SnapshotInfo `json:"snapshot"`
}

// runDemoCmd implements `mobius-kernel demo`.
//
// Exit codes:
//
//	0 = scenario completed
//	1 = scenario failed
//	2 = usage or setup error
func runDemoCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("demo", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		genesisPath string
		jsonOutput  bool
		opts        demoOptions
	)
	cmd.StringVar(&genesisPath, "genesis", "", "Genesis YAML file (default: MOBIUS_GENESIS_PATH or built-in)")
	cmd.IntVar(&opts.blocks, "blocks", 3, "Blocks to commit")
	cmd.IntVar(&opts.epochs, "epochs", 1, "Extra epochs to process after the vote")
	cmd.IntVar(&opts.quorum, "quorum", 2, "Committee signatures required per block (0 disables)")
	cmd.StringVar(&opts.snapshotOut, "snapshot-out", "", "Also write the final snapshot as JSON to this file")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the report as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if opts.blocks < 1 {
		_, _ = fmt.Fprintln(stderr, "Error: --blocks must be at least 1")
		return 2
	}

	ctx := context.Background()
	n, err := openNode(ctx, genesisPath, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer n.Close(ctx)

	rep, err := runDemo(ctx, n, opts)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: demo failed: %v\n", err)
		return 1
	}

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rep)
		return 0
	}
	s := rep.Status
	_, _ = fmt.Fprintf(stdout, "height:         %d\n", s.Height)
	_, _ = fmt.Fprintf(stdout, "tip:            %s\n", s.TipHash)
	_, _ = fmt.Fprintf(stdout, "epoch:          %d\n", s.Epoch)
	_, _ = fmt.Fprintf(stdout, "policy:         %s\n", s.PolicyVersion)
	_, _ = fmt.Fprintf(stdout, "state root:     %s\n", s.StateRoot)
	_, _ = fmt.Fprintf(stdout, "circulating:    %.4f credits\n", credit.ToCredits(s.Circulating))
	_, _ = fmt.Fprintf(stdout, "citizens:       %d\n", len(rep.Citizens))
	_, _ = fmt.Fprintf(stdout, "committee:      %d\n", len(rep.Committee))
	if rep.Proposal != nil {
		_, _ = fmt.Fprintf(stdout, "proposal:       %s %s\n", rep.Proposal.ID, rep.Proposal.Status)
	}
	_, _ = fmt.Fprintf(stdout, "snapshot:       %s\n", rep.Snapshot.ID)
	return 0
}

func runDemo(ctx context.Context, n *node, o demoOptions) (*demoReport, error) {
	clk := &simClock{now: time.Date(2025, 1, 1, 6, 0, 0, 0, time.UTC)}
	opts, err := n.kernelOptions()
	if err != nil {
		return nil, err
	}
	opts.Clock = clk.Now
	opts.ProofVerifier = attest.HashProver{}
	if q := min(o.quorum, opts.Policy.Consensus.CommitteeSize, 2); q > 0 {
		opts.Policy.Consensus.CommitteeQuorum = q
		opts.CommitteeVerify = attest.Ed25519Verifier{}
	}

	k, err := kernel.New(opts)
	if err != nil {
		return nil, err
	}
	k.OnCommit(func(b chain.Block) {
		if err := n.store.SaveBlock(ctx, b); err != nil {
			n.logger.Error("block store failed", "height", b.Header.Height, "error", err)
		}
	})
	if n.archive != nil {
		k.OnCommit(n.archive.Hook(ctx))
	}

	seed := n.cfg.Seed()
	if len(seed) == 0 {
		seed = []byte("mobius-demo")
	}
	ring, err := attest.NewKeyring(seed)
	if err != nil {
		return nil, err
	}
	signers := make(map[string]attest.Signer)
	var citizens []string
	for _, name := range []string{"ada", "grace", "linus"} {
		s, err := ring.Derive(name)
		if err != nil {
			return nil, err
		}
		id, err := k.RegisterCitizen(s.PublicKey())
		if err != nil {
			return nil, err
		}
		signers[id] = s
		citizens = append(citizens, id)
	}
	ada, grace, linus := citizens[0], citizens[1], citizens[2]

	// grace and linus stake half their grant and form the committee; ada
	// keeps the grant intact for a proposal deposit.
	for _, id := range []string{grace, linus} {
		half := k.Balance(id).Div(decimal.NewFromInt(2)).Floor()
		if _, err := k.Stake(id, half); err != nil {
			return nil, err
		}
	}

	date := clk.Now().Format(cycle.DateLayout)
	c, err := k.CreateCycle(ada, date)
	if err != nil {
		return nil, err
	}
	for _, id := range citizens {
		env := canonicalize.HashBytes([]byte(id + "|" + date))
		if _, err := k.CreateReflection(ctx, cycle.ReflectionRequest{
			Author:       id,
			CycleID:      c.ID,
			EnvelopeHash: env,
			Proof:        attest.HashProver{}.Prove(id, env),
		}); err != nil {
			return nil, err
		}
	}
	if _, err := k.Sweep(c.ID, grace, canonicalize.HashBytes([]byte("sweep|"+date))); err != nil {
		return nil, err
	}
	sealed, err := k.Seal(c.ID, ada)
	if err != nil {
		return nil, err
	}
	k.SubmitCycle(sealed)

	if err := k.SubmitTransaction(k.Prepare(credit.TxTransfer, grace, ada, credit.Credits(25), "coffee")); err != nil {
		return nil, err
	}
	if err := k.SubmitTransaction(k.Prepare(credit.TxTransfer, linus, grace, credit.Credits(10), "books")); err != nil {
		return nil, err
	}
	if mult, ok := k.Policy().Multiplier(policy.RewardCycleParticipation); ok {
		earn := credit.NewEarnTransaction(ada, credit.Credits(5), mult, policy.RewardCycleParticipation,
			sealed.ID, canonicalize.HashBytes([]byte("attest|"+sealed.ID)), "", clk.Now().Unix())
		if err := k.SubmitEarn(earn); err != nil {
			return nil, err
		}
	}

	rep := &demoReport{Citizens: citizens}
	commit := func() error {
		committee, err := k.SelectCommittee(k.Status().Epoch)
		if err != nil {
			return err
		}
		rep.Committee = committee
		if len(committee) == 0 {
			return fmt.Errorf("no eligible committee members")
		}
		b := k.ProposePending(committee[0])
		for _, m := range committee {
			if s, ok := signers[m]; ok {
				if b, err = k.SignBlock(b, m, s); err != nil {
					return err
				}
			}
		}
		if err := k.AddBlock(ctx, b); err != nil {
			return err
		}
		rep.Blocks++
		clk.Advance(time.Duration(k.Policy().Consensus.BlockTimeSeconds) * time.Second)
		return nil
	}

	if err := commit(); err != nil {
		return nil, err
	}
	for i := 1; i < o.blocks; i++ {
		if err := k.SubmitTransaction(k.Prepare(credit.TxTransfer, grace, linus, credit.Credits(1), fmt.Sprintf("round %d", i))); err != nil {
			return nil, err
		}
		if err := commit(); err != nil {
			return nil, err
		}
	}

	var epoch uint64
	nextEpoch := func(wait time.Duration) error {
		clk.Advance(wait)
		epoch++
		_, err := k.ProcessEpoch(epoch)
		return err
	}
	epochLen := time.Duration(k.Params().EpochDurationSeconds) * time.Second
	if err := nextEpoch(epochLen); err != nil {
		return nil, err
	}

	gov := k.Policy().Governance
	if k.Balance(ada).GreaterThanOrEqual(credit.Credits(gov.MinDepositCredits)) {
		p, err := runVote(k, ada, []string{grace, linus}, gov, nextEpoch)
		if err != nil {
			return nil, err
		}
		rep.Proposal = &p
	} else {
		n.logger.Info("skipping governance round, proposer cannot cover the deposit")
	}

	for i := 0; i < o.epochs; i++ {
		if err := nextEpoch(epochLen); err != nil {
			return nil, err
		}
	}
	rep.Epochs = epoch

	if err := k.VerifyChain(); err != nil {
		return nil, err
	}
	if err := k.Reconcile(); err != nil {
		return nil, err
	}

	snap := k.Export()
	if rep.Snapshot, err = n.store.SaveSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	if o.snapshotOut != "" {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(o.snapshotOut, data, 0o600); err != nil {
			return nil, fmt.Errorf("failed to write snapshot: %w", err)
		}
	}
	rep.Status = k.Status()
	return rep, nil
}

// runVote takes a treasury spend from draft through execution.
func runVote(k *kernel.Kernel, proposer string, voters []string, gov policy.Governance, nextEpoch func(time.Duration) error) (agora.Proposal, error) {
	p, err := k.CreateProposal(agora.CreateRequest{
		Proposer:    proposer,
		Title:       "Fund the community garden",
		Description: "Seeds, tools and water for the shared plot.",
		Payload:     agora.TreasurySpend{Recipient: proposer, Amount: credit.Credits(50), Reason: "garden"},
	})
	if err != nil {
		return agora.Proposal{}, err
	}
	if err := nextEpoch(time.Duration(gov.VotingDelaySeconds) * time.Second); err != nil {
		return agora.Proposal{}, err
	}
	for _, v := range voters {
		if _, err := k.CastVote(p.ID, v, agora.ChoiceYes, ""); err != nil {
			return agora.Proposal{}, err
		}
	}
	if p, err = k.GetProposal(p.ID); err != nil {
		return agora.Proposal{}, err
	}
	if p.Status == agora.StatusActive {
		if err := nextEpoch(time.Duration(gov.VotingPeriodSeconds) * time.Second); err != nil {
			return agora.Proposal{}, err
		}
		if p, err = k.GetProposal(p.ID); err != nil {
			return agora.Proposal{}, err
		}
	}
	if p.Status != agora.StatusPassed {
		return p, nil
	}
	if err := nextEpoch(time.Duration(gov.ExecutionDelaySeconds) * time.Second); err != nil {
		return agora.Proposal{}, err
	}
	if _, err := k.ExecuteProposal(p.ID, voters[0]); err != nil {
		return agora.Proposal{}, err
	}
	return k.GetProposal(p.ID)
}
