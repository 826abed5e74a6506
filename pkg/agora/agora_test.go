package agora

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaizencycle/Mobius-Systems/pkg/credit"
	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
	"github.com/kaizencycle/Mobius-Systems/pkg/policy"
)

const day = 24 * time.Hour

type fixture struct {
	now      time.Time
	ledger   *credit.Ledger
	policies *policy.Registry
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	l, err := credit.New(credit.DefaultParams())
	require.NoError(t, err)
	l.WithClock(clock)
	pol, err := policy.NewRegistry(policy.Genesis())
	require.NoError(t, err)
	f.ledger = l
	f.policies = pol
	f.engine = NewEngine(l, pol).WithClock(clock)
	require.NoError(t, l.Allocate("proposer", credit.Credits(2000), "test"))
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

// staker funds addr and stakes the given number of credits.
func (f *fixture) staker(t *testing.T, addr string, credits int64) {
	t.Helper()
	require.NoError(t, f.ledger.Allocate(addr, credit.Credits(credits), "test"))
	_, err := f.ledger.Stake(addr, credit.Credits(credits))
	require.NoError(t, err)
}

func (f *fixture) propose(t *testing.T, payload Payload) Proposal {
	t.Helper()
	p, err := f.engine.CreateProposal(CreateRequest{
		Proposer: "proposer",
		Title:    "fund the commons",
		Payload:  payload,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) open(t *testing.T, payload Payload) Proposal {
	t.Helper()
	p := f.propose(t, payload)
	f.advance(day)
	p, err := f.engine.ActivateProposal(p.ID)
	require.NoError(t, err)
	return p
}

func spend(recipient string, credits int64) TreasurySpend {
	return TreasurySpend{Recipient: recipient, Amount: credit.Credits(credits), Reason: "grant"}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name  string
		tally Tally
		total float64
		want  Outcome
	}{
		{"passes", Tally{Yes: 3, No: 2, YesWeight: 15, NoWeight: 10}, 100, Outcome{0.25, 0.6, true}},
		{"below quorum", Tally{Yes: 3, No: 2, YesWeight: 9, NoWeight: 6}, 100, Outcome{0.15, 0.6, false}},
		{"below quorum at full approval", Tally{Yes: 5, YesWeight: 15}, 100, Outcome{0.15, 1, false}},
		{"below approval", Tally{Yes: 2, No: 3, YesWeight: 10, NoWeight: 15}, 100, Outcome{0.25, 0.4, false}},
		{"abstain dilutes approval", Tally{Yes: 2, Abstain: 3, YesWeight: 10, AbstainWeight: 15}, 100, Outcome{0.25, 0.4, false}},
		{"approval counts heads not weight", Tally{Yes: 1, No: 3, YesWeight: 30, NoWeight: 10}, 100, Outcome{0.4, 0.25, false}},
		{"empty electorate", Tally{}, 0, Outcome{}},
		{"weightless votes", Tally{Yes: 2}, 100, Outcome{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.tally, tt.total, 0.20, 0.50)
			assert.InDelta(t, tt.want.Participation, got.Participation, 1e-9)
			assert.InDelta(t, tt.want.Approval, got.Approval, 1e-9)
			assert.Equal(t, tt.want.Passed, got.Passed)
		})
	}
}

func TestCreateProposal(t *testing.T) {
	f := newFixture(t)
	p := f.propose(t, spend("alice", 10))

	assert.Equal(t, "prop_000001", p.ID)
	assert.Equal(t, StatusDraft, p.Status)
	assert.Equal(t, TypeTreasurySpend, p.Type)
	assert.Equal(t, f.now.Unix()+86400, p.VotingStartsAt)
	assert.Equal(t, p.VotingStartsAt+7*86400, p.VotingEndsAt)
	assert.Equal(t, 0.20, p.QuorumThreshold)
	assert.Equal(t, 0.50, p.ApprovalThreshold)
	assert.NotEmpty(t, p.DepositTx)
	assert.True(t, f.ledger.Balance("proposer").Equal(credit.Credits(1000)), "deposit escrowed")

	second := f.propose(t, EmergencyPause{Reason: "incident"})
	assert.Equal(t, "prop_000002", second.ID)
	assert.Equal(t, 0.67, second.ApprovalThreshold)
	assert.True(t, f.ledger.Balance("proposer").IsZero())

	_, err := f.engine.CreateProposal(CreateRequest{Proposer: "proposer", Title: "t", Payload: spend("a", 1)})
	assert.ErrorIs(t, err, kerr.ErrDeposit)
	assert.ErrorIs(t, err, kerr.ErrInsufficientDeposit)
}

func TestCreateProposalValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]CreateRequest{
		"no payload":     {Proposer: "proposer", Title: "t"},
		"no title":       {Proposer: "proposer", Payload: spend("a", 1)},
		"zero spend":     {Proposer: "proposer", Title: "t", Payload: TreasurySpend{Recipient: "a"}},
		"empty policy":   {Proposer: "proposer", Title: "t", Payload: PolicyChange{}},
		"empty params":   {Proposer: "proposer", Title: "t", Payload: ParameterUpdate{}},
		"bare upgrade":   {Proposer: "proposer", Title: "t", Payload: ProtocolUpgrade{Version: "1.0.0"}},
		"bare community": {Proposer: "proposer", Title: "t", Payload: CommunityInitiative{Kind: "event"}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.engine.CreateProposal(req)
			assert.ErrorIs(t, err, kerr.ErrInvalidProposal)
		})
	}
	assert.True(t, f.ledger.Balance("proposer").Equal(credit.Credits(2000)), "no deposit taken")
}

func TestProposalPassesEarlyAndExecutes(t *testing.T) {
	f := newFixture(t)
	f.staker(t, "v1", 225)  // power 15
	f.staker(t, "v2", 100)  // power 10
	f.staker(t, "v3", 5625) // power 75
	require.InDelta(t, 100.0, f.ledger.TotalGovernancePower(), 1e-9)

	p := f.open(t, spend("v1", 50))
	require.Equal(t, StatusActive, p.Status)

	v, err := f.engine.CastVote(p.ID, "v1", ChoiceYes, "")
	require.NoError(t, err)
	assert.Equal(t, "vote_000001", v.ID)
	assert.InDelta(t, 15.0, v.Weight, 1e-9)
	p, _ = f.engine.GetProposal(p.ID)
	assert.Equal(t, StatusActive, p.Status, "15% participation is below quorum")

	_, err = f.engine.CastVote(p.ID, "v2", ChoiceNo, "")
	require.NoError(t, err)
	p, err = f.engine.GetProposal(p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPassed, p.Status)
	assert.InDelta(t, 0.25, p.Participation, 1e-9)
	assert.InDelta(t, 0.50, p.Approval, 1e-9)
	assert.Equal(t, 1, p.Tally.Yes)
	assert.Equal(t, 1, p.Tally.No)
	assert.NotEmpty(t, p.RefundTx)
	assert.True(t, f.ledger.Balance("proposer").Equal(credit.Credits(2000)), "deposit refunded on pass")
	assert.Equal(t, f.now.Unix()+86400, p.ExecutionAt)

	_, err = f.engine.CastVote(p.ID, "v3", ChoiceYes, "")
	assert.ErrorIs(t, err, kerr.ErrProposalNotActive)

	_, err = f.engine.ExecuteProposal(p.ID, "v3")
	assert.ErrorIs(t, err, kerr.ErrExecutionDelay)

	f.advance(day)
	ex, err := f.engine.ExecuteProposal(p.ID, "v3")
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, ex.Result)
	assert.True(t, f.ledger.Balance("v1").Equal(credit.Credits(50)))

	p, _ = f.engine.GetProposal(p.ID)
	assert.Equal(t, StatusExecuted, p.Status)
	assert.Equal(t, ex.ID, p.ExecutionID)
	assert.Len(t, f.engine.Executions(p.ID), 1)

	_, err = f.engine.ExecuteProposal(p.ID, "v3")
	assert.ErrorIs(t, err, kerr.ErrNotPassed)
	require.NoError(t, f.ledger.Reconcile())
}

func TestProposalRejectedBelowQuorum(t *testing.T) {
	f := newFixture(t)
	f.staker(t, "v1", 81)   // power 9
	f.staker(t, "v2", 36)   // power 6
	f.staker(t, "v3", 7225) // power 85

	p := f.open(t, spend("v1", 50))
	_, err := f.engine.CastVote(p.ID, "v1", ChoiceYes, "")
	require.NoError(t, err)
	_, err = f.engine.CastVote(p.ID, "v2", ChoiceNo, "")
	require.NoError(t, err)

	assert.Empty(t, f.engine.Tick(), "nothing to decide while the window is open")

	f.advance(8 * day)
	changed := f.engine.Tick()
	require.Len(t, changed, 1)
	assert.Equal(t, StatusRejected, changed[0].Status)
	assert.InDelta(t, 0.15, changed[0].Participation, 1e-9)
	assert.Empty(t, changed[0].RefundTx, "deposit kept on rejection")
	assert.True(t, f.ledger.Balance("proposer").Equal(credit.Credits(1000)))

	_, err = f.engine.ExecuteProposal(p.ID, "v3")
	assert.ErrorIs(t, err, kerr.ErrNotPassed)
}

func TestApprovalCountsVotersNotWeight(t *testing.T) {
	f := newFixture(t)
	f.staker(t, "whale", 1600) // power 40
	for _, v := range []string{"n1", "n2", "n3"} {
		f.staker(t, v, 100) // power 10
	}

	p := f.open(t, spend("whale", 50))
	for _, v := range []string{"n1", "n2", "n3"} {
		_, err := f.engine.CastVote(p.ID, v, ChoiceNo, "")
		require.NoError(t, err)
	}
	_, err := f.engine.CastVote(p.ID, "whale", ChoiceYes, "")
	require.NoError(t, err)
	p, _ = f.engine.GetProposal(p.ID)
	assert.Equal(t, StatusActive, p.Status, "4/7 of the weight is yes but 1 of 4 voters")

	f.advance(8 * day)
	changed := f.engine.Tick()
	require.Len(t, changed, 1)
	assert.Equal(t, StatusRejected, changed[0].Status)
	assert.InDelta(t, 1.0, changed[0].Participation, 1e-9)
	assert.InDelta(t, 0.25, changed[0].Approval, 1e-9)
}

// passWhilePaused passes a treasury spend while the ledger is paused until
// epoch 2, so the deposit refund cannot settle at decision time.
func passWhilePaused(t *testing.T, f *fixture) Proposal {
	t.Helper()
	f.staker(t, "v1", 400)
	p := f.open(t, spend("v1", 5))
	f.ledger.Pause(2)

	_, err := f.engine.CastVote(p.ID, "v1", ChoiceYes, "")
	require.NoError(t, err)
	p, err = f.engine.GetProposal(p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPassed, p.Status)
	assert.Empty(t, p.RefundTx)
	assert.True(t, f.ledger.Balance("proposer").Equal(credit.Credits(1000)), "deposit still escrowed")

	assert.Empty(t, f.engine.Tick(), "refund cannot settle while paused")
	for epoch := uint64(1); epoch <= 2; epoch++ {
		_, err := f.ledger.ProcessEpoch(epoch)
		require.NoError(t, err)
	}
	require.False(t, f.ledger.Paused())
	return p
}

func TestDeferredRefundSettlesOnTick(t *testing.T) {
	f := newFixture(t)
	p := passWhilePaused(t, f)

	changed := f.engine.Tick()
	require.Len(t, changed, 1)
	assert.Equal(t, p.ID, changed[0].ID)
	assert.NotEmpty(t, changed[0].RefundTx)
	assert.True(t, f.ledger.Balance("proposer").Equal(credit.Credits(2000)))

	assert.Empty(t, f.engine.Tick(), "refund settles once")
	require.NoError(t, f.ledger.Reconcile())
}

func TestDeferredRefundSettlesOnExecute(t *testing.T) {
	f := newFixture(t)
	p := passWhilePaused(t, f)

	f.advance(day)
	ex, err := f.engine.ExecuteProposal(p.ID, "v1")
	require.NoError(t, err)
	require.Equal(t, ResultSuccess, ex.Result, ex.Error)

	p, err = f.engine.GetProposal(p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, p.Status)
	assert.NotEmpty(t, p.RefundTx)
	assert.True(t, f.ledger.Balance("proposer").Equal(credit.Credits(2000)))
	assert.Empty(t, f.engine.Tick())
}

func TestVotingRules(t *testing.T) {
	f := newFixture(t)
	f.staker(t, "v1", 100)
	f.staker(t, "v2", 10000)

	p := f.propose(t, spend("v1", 1))
	_, err := f.engine.CastVote(p.ID, "v1", ChoiceYes, "")
	assert.ErrorIs(t, err, kerr.ErrNotActive, "drafts take no votes")

	_, err = f.engine.ActivateProposal(p.ID)
	assert.ErrorIs(t, err, kerr.ErrVotingNotOpen)

	_, err = f.engine.CastVote("prop_999999", "v1", ChoiceYes, "")
	assert.ErrorIs(t, err, kerr.ErrProposalNotFound)

	f.advance(day)
	_, err = f.engine.ActivateProposal(p.ID)
	require.NoError(t, err)
	_, err = f.engine.ActivateProposal(p.ID)
	assert.ErrorIs(t, err, kerr.ErrTransition)

	_, err = f.engine.CastVote(p.ID, "v1", Choice("maybe"), "")
	assert.ErrorIs(t, err, kerr.ErrValidation)

	_, err = f.engine.CastVote(p.ID, "v1", ChoiceAbstain, "sig")
	require.NoError(t, err)
	_, err = f.engine.CastVote(p.ID, "v1", ChoiceYes, "")
	assert.ErrorIs(t, err, kerr.ErrDuplicateVote)

	f.advance(8 * day)
	_, err = f.engine.CastVote(p.ID, "v2", ChoiceYes, "")
	assert.ErrorIs(t, err, kerr.ErrVotingWindowClosed)

	votes := f.engine.Votes(p.ID)
	require.Len(t, votes, 1)
	assert.Equal(t, "sig", votes[0].Signature)
}

func TestTickActivatesAndExpiresDrafts(t *testing.T) {
	f := newFixture(t)
	early := f.propose(t, CommunityInitiative{Kind: "event", Description: "harvest festival"})
	f.advance(day)
	changed := f.engine.Tick()
	require.Len(t, changed, 1)
	assert.Equal(t, early.ID, changed[0].ID)
	assert.Equal(t, StatusActive, changed[0].Status)

	require.NoError(t, f.ledger.Allocate("proposer", credit.Credits(1000), "test"))
	late := f.propose(t, CommunityInitiative{Kind: "event", Description: "winter market"})
	f.advance(10 * day)
	f.engine.Tick()

	got, err := f.engine.GetProposal(late.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
	got, _ = f.engine.GetProposal(early.ID)
	assert.Equal(t, StatusRejected, got.Status, "no votes cast")
}

func TestCancelRefundsDeposit(t *testing.T) {
	f := newFixture(t)
	p := f.propose(t, spend("v1", 1))

	_, err := f.engine.CancelProposal(p.ID, "someone")
	assert.ErrorIs(t, err, kerr.ErrValidation)

	p, err = f.engine.CancelProposal(p.ID, "proposer")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, p.Status)
	assert.True(t, f.ledger.Balance("proposer").Equal(credit.Credits(2000)))

	_, err = f.engine.CancelProposal(p.ID, "proposer")
	assert.ErrorIs(t, err, kerr.ErrTransition)
}

func TestFailedExecutionKeepsProposalPassed(t *testing.T) {
	f := newFixture(t)
	f.staker(t, "v1", 400)

	p := f.open(t, ProtocolUpgrade{Version: "0.0.9", UpgradeHash: "abc"})
	_, err := f.engine.CastVote(p.ID, "v1", ChoiceYes, "")
	require.NoError(t, err)
	f.advance(day)

	ex, err := f.engine.ExecuteProposal(p.ID, "v1")
	require.NoError(t, err)
	assert.Equal(t, ResultFailed, ex.Result)
	assert.NotEmpty(t, ex.Error)

	p, _ = f.engine.GetProposal(p.ID)
	assert.Equal(t, StatusPassed, p.Status)
	assert.NotEmpty(t, p.ExecutionError)
	assert.Equal(t, "0.1.0", f.policies.Current().Version)
}

func TestExecutePayloads(t *testing.T) {
	rate := 0.02
	quorum := 0.3
	tests := []struct {
		name    string
		payload Payload
		check   func(t *testing.T, f *fixture)
	}{
		{"policy change", PolicyChange{Update: policy.Update{QuorumThreshold: &quorum}}, func(t *testing.T, f *fixture) {
			assert.Equal(t, "0.2.0", f.policies.Current().Version)
			assert.Equal(t, 0.3, f.policies.Current().Governance.QuorumThreshold)
		}},
		{"parameter update", ParameterUpdate{Update: credit.ParamUpdate{InflationRate: &rate}}, func(t *testing.T, f *fixture) {
			assert.Equal(t, 0.02, f.ledger.Params().InflationRate)
		}},
		{"protocol upgrade", ProtocolUpgrade{Version: "1.0.0", UpgradeHash: "cafe"}, func(t *testing.T, f *fixture) {
			assert.Equal(t, "1.0.0", f.policies.Current().Version)
			assert.Equal(t, "cafe", f.policies.Current().UpgradeHash)
		}},
		{"emergency pause", EmergencyPause{Reason: "incident"}, func(t *testing.T, f *fixture) {
			assert.True(t, f.ledger.Paused())
		}},
		{"community initiative", CommunityInitiative{Kind: "event", Description: "cleanup"}, func(t *testing.T, f *fixture) {}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.staker(t, "v1", 400)
			p := f.open(t, tt.payload)
			_, err := f.engine.CastVote(p.ID, "v1", ChoiceYes, "")
			require.NoError(t, err)
			f.advance(day)
			ex, err := f.engine.ExecuteProposal(p.ID, "v1")
			require.NoError(t, err)
			require.Equal(t, ResultSuccess, ex.Result, ex.Error)
			assert.NotEmpty(t, ex.Message)
			tt.check(t, f)
		})
	}
}

func TestListProposals(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.Allocate("proposer", credit.Credits(3000), "test"))
	for i := 0; i < 4; i++ {
		f.propose(t, spend("v1", int64(i+1)))
		f.advance(time.Minute)
	}
	f.propose(t, EmergencyPause{})

	all := f.engine.ListProposals(Filter{})
	require.Len(t, all, 5)
	assert.Equal(t, "prop_000005", all[0].ID, "newest first")

	spends := f.engine.ListProposals(Filter{Type: TypeTreasurySpend, Limit: 2, Offset: 1})
	require.Len(t, spends, 2)
	assert.Equal(t, "prop_000003", spends[0].ID)
	assert.Equal(t, "prop_000002", spends[1].ID)

	assert.Empty(t, f.engine.ListProposals(Filter{Status: StatusPassed}))
	assert.Empty(t, f.engine.ListProposals(Filter{Offset: 10}))
	assert.Len(t, f.engine.ListProposals(Filter{Proposer: "proposer"}), 5)
}

func TestProposalJSON(t *testing.T) {
	f := newFixture(t)
	p := f.propose(t, spend("v1", 7))

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"payload":{"recipient":"v1"`)

	var got Proposal
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, p.ID, got.ID)
	require.IsType(t, TreasurySpend{}, got.Payload)
	assert.True(t, got.Payload.(TreasurySpend).Amount.Equal(credit.Credits(7)))

	err = json.Unmarshal([]byte(`{"id":"x","type":"bogus","payload":{}}`), &got)
	assert.ErrorIs(t, err, kerr.ErrInvalidProposal)
}

func TestStateRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.staker(t, "v1", 400)
	p := f.open(t, spend("v1", 5))
	_, err := f.engine.CastVote(p.ID, "v1", ChoiceYes, "")
	require.NoError(t, err)

	data, err := json.Marshal(f.engine.State())
	require.NoError(t, err)
	var s State
	require.NoError(t, json.Unmarshal(data, &s))

	restored := NewEngine(f.ledger, f.policies).WithClock(func() time.Time { return f.now })
	require.NoError(t, restored.Restore(s))
	got, err := restored.GetProposal(p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPassed, got.Status)
	assert.Len(t, restored.Votes(p.ID), 1)

	require.NoError(t, f.ledger.Allocate("proposer", credit.Credits(1000), "test"))
	next, err := restored.CreateProposal(CreateRequest{Proposer: "proposer", Title: "again", Payload: EmergencyPause{}})
	require.NoError(t, err)
	assert.Equal(t, "prop_000002", next.ID)

	s.Votes = append(s.Votes, Vote{ID: "vote_x", ProposalID: "prop_404"})
	assert.ErrorIs(t, restored.Restore(s), kerr.ErrProposalNotFound)
}

func TestVotingPower(t *testing.T) {
	f := newFixture(t)
	f.staker(t, "v1", 400)
	vp := f.engine.VotingPower("v1")
	assert.InDelta(t, 400.0, vp.Staked, 1e-9)
	assert.InDelta(t, 20.0, vp.QuadraticPower, 1e-9)
	assert.InDelta(t, 400.0, vp.GovernancePower, 1e-9)
	assert.Zero(t, f.engine.VotingPower("nobody").QuadraticPower)
}
