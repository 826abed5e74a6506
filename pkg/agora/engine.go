// Package agora is the governance engine: proposals, stake-weighted votes,
// quorum and approval evaluation, and dispatch of passed proposals against
// the ledger and policy registry.
//
// Lifecycle:
//
//	draft ──window opens──▶ active ──▶ passed ──delay──▶ executed
//	  │                        └──────▶ rejected
//	  ├──▶ cancelled (proposer, refund)
//	  └──▶ expired   (window closed before activation)
package agora

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kaizencycle/Mobius-Systems/pkg/credit"
	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
	"github.com/kaizencycle/Mobius-Systems/pkg/policy"
)

// Ledger is the credit ledger view governance needs.
type Ledger interface {
	Balance(addr string) decimal.Decimal
	Account(addr string) (credit.Account, bool)
	Transfer(from, to string, amount decimal.Decimal, memo string) (credit.Transaction, error)
	GovernancePower(addr string) float64
	TotalGovernancePower() float64
	Epoch() uint64
	Pause(untilEpoch uint64)
	UpdateParams(u credit.ParamUpdate) (credit.Params, error)
}

// Policies is the policy registry view governance needs.
type Policies interface {
	Current() policy.Policy
	Apply(u policy.Update) (policy.Policy, error)
	Upgrade(version, upgradeHash string) (policy.Policy, error)
}

// CreateRequest describes a new proposal. Zero durations take the policy
// defaults.
type CreateRequest struct {
	Proposer              string
	Title                 string
	Description           string
	Payload               Payload
	VotingPeriodSeconds   int64
	ExecutionDelaySeconds int64
}

// Filter selects proposals for List. Zero fields match everything; Limit
// defaults to 50.
type Filter struct {
	Status   Status
	Proposer string
	Type     ProposalType
	Limit    int
	Offset   int
}

// Engine owns proposals, votes and executions.
type Engine struct {
	mu         sync.RWMutex
	proposals  map[string]*Proposal
	votes      map[string][]Vote
	executions map[string][]Execution
	propSeq    int
	voteSeq    int

	ledger   Ledger
	policies Policies
	clock    func() time.Time
	logger   *slog.Logger
}

// NewEngine creates an engine over the ledger and policy registry.
func NewEngine(ledger Ledger, policies Policies) *Engine {
	return &Engine{
		proposals:  make(map[string]*Proposal),
		votes:      make(map[string][]Vote),
		executions: make(map[string][]Execution),
		ledger:     ledger,
		policies:   policies,
		clock:      time.Now,
		logger:     slog.Default().With("component", "agora"),
	}
}

// WithClock overrides clock for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// WithLogger sets the logger.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	e.logger = l.With("component", "agora")
	return e
}

func (e *Engine) get(op, id string) (*Proposal, error) {
	p, ok := e.proposals[id]
	if !ok {
		return nil, kerr.ErrProposalNotFound.With(op, "%q", id)
	}
	return p, nil
}

// CreateProposal escrows the minimum deposit into the treasury and records
// a draft proposal.
func (e *Engine) CreateProposal(req CreateRequest) (Proposal, error) {
	const op = "agora.create_proposal"
	if req.Payload == nil {
		return Proposal{}, kerr.ErrInvalidProposal.With(op, "missing payload")
	}
	if req.Title == "" {
		return Proposal{}, kerr.ErrInvalidProposal.With(op, "missing title")
	}
	if req.VotingPeriodSeconds < 0 || req.ExecutionDelaySeconds < 0 {
		return Proposal{}, kerr.ErrInvalidProposal.With(op, "negative duration")
	}
	if err := req.Payload.validate(op); err != nil {
		return Proposal{}, err
	}

	g := e.policies.Current().Governance
	deposit := credit.Credits(g.MinDepositCredits)

	e.mu.Lock()
	defer e.mu.Unlock()

	if bal := e.ledger.Balance(req.Proposer); bal.LessThan(deposit) {
		return Proposal{}, kerr.ErrDeposit.With(op, "%s holds %s, deposit is %s", req.Proposer, bal, deposit)
	}
	e.propSeq++
	id := fmt.Sprintf("prop_%06d", e.propSeq)

	var depositTx string
	if deposit.IsPositive() {
		tx, err := e.ledger.Transfer(req.Proposer, credit.Treasury, deposit, "deposit "+id)
		if err != nil {
			e.propSeq--
			return Proposal{}, err
		}
		depositTx = tx.ID
	}

	period := req.VotingPeriodSeconds
	if period == 0 {
		period = g.VotingPeriodSeconds
	}
	delay := req.ExecutionDelaySeconds
	if delay == 0 {
		delay = g.ExecutionDelaySeconds
	}
	approval := g.ApprovalThreshold
	if req.Payload.Type() == TypeEmergencyPause {
		approval = g.EmergencyThreshold
	}

	now := e.clock().Unix()
	p := &Proposal{
		ID:                id,
		Proposer:          req.Proposer,
		Title:             req.Title,
		Description:       req.Description,
		Type:              req.Payload.Type(),
		Payload:           req.Payload,
		CreatedAt:         now,
		VotingStartsAt:    now + g.VotingDelaySeconds,
		VotingEndsAt:      now + g.VotingDelaySeconds + period,
		ExecutionDelay:    delay,
		Status:            StatusDraft,
		QuorumThreshold:   g.QuorumThreshold,
		ApprovalThreshold: approval,
		Deposit:           deposit,
		DepositTx:         depositTx,
	}
	e.proposals[id] = p
	e.logger.Info("proposal created", "proposal_id", id, "type", p.Type, "proposer", p.Proposer)
	return *p, nil
}

// ActivateProposal opens voting on a draft once its window has started.
func (e *Engine) ActivateProposal(id string) (Proposal, error) {
	const op = "agora.activate_proposal"
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.get(op, id)
	if err != nil {
		return Proposal{}, err
	}
	if p.Status != StatusDraft {
		return Proposal{}, kerr.ErrTransition.With(op, "%s is %s", id, p.Status)
	}
	now := e.clock().Unix()
	if now < p.VotingStartsAt {
		return Proposal{}, kerr.ErrVotingNotOpen.With(op, "%s opens at %d", id, p.VotingStartsAt)
	}
	if now > p.VotingEndsAt {
		p.Status = StatusExpired
		return Proposal{}, kerr.ErrWindowClosed.With(op, "%s closed at %d", id, p.VotingEndsAt)
	}
	p.Status = StatusActive
	e.logger.Info("proposal activated", "proposal_id", id)
	return *p, nil
}

// CancelProposal withdraws a draft and refunds its deposit.
func (e *Engine) CancelProposal(id, requester string) (Proposal, error) {
	const op = "agora.cancel_proposal"
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.get(op, id)
	if err != nil {
		return Proposal{}, err
	}
	if requester != p.Proposer {
		return Proposal{}, kerr.ErrValidation.With(op, "only the proposer may cancel %s", id)
	}
	if p.Status != StatusDraft {
		return Proposal{}, kerr.ErrTransition.With(op, "%s is %s", id, p.Status)
	}
	if err := e.refund(p); err != nil {
		return Proposal{}, err
	}
	p.Status = StatusCancelled
	e.logger.Info("proposal cancelled", "proposal_id", id)
	return *p, nil
}

func (e *Engine) refund(p *Proposal) error {
	if !p.Deposit.IsPositive() || p.RefundTx != "" {
		return nil
	}
	tx, err := e.ledger.Transfer(credit.Treasury, p.Proposer, p.Deposit, "refund "+p.ID)
	if err != nil {
		return err
	}
	p.RefundTx = tx.ID
	return nil
}

// retryRefund settles the deposit of a passed proposal whose refund failed
// when it was decided, e.g. while the ledger was paused. It reports whether
// the refund went through.
func (e *Engine) retryRefund(p *Proposal) bool {
	if !p.Deposit.IsPositive() || p.RefundTx != "" {
		return false
	}
	if err := e.refund(p); err != nil {
		e.logger.Warn("deposit refund still pending", "proposal_id", p.ID, "error", err)
		return false
	}
	e.logger.Info("deposit refunded", "proposal_id", p.ID, "tx_id", p.RefundTx)
	return true
}

// CastVote records voter's choice with their current governance power as
// weight. A proposal that meets quorum and approval passes immediately.
func (e *Engine) CastVote(id, voter string, choice Choice, signature string) (Vote, error) {
	const op = "agora.cast_vote"
	if !choice.valid() {
		return Vote{}, kerr.ErrValidation.With(op, "unknown choice %q", choice)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.get(op, id)
	if err != nil {
		return Vote{}, err
	}
	if p.Status != StatusActive {
		return Vote{}, kerr.ErrNotActive.With(op, "%s is %s", id, p.Status)
	}
	now := e.clock().Unix()
	if now < p.VotingStartsAt || now > p.VotingEndsAt {
		return Vote{}, kerr.ErrWindowClosed.With(op, "%s votes between %d and %d", id, p.VotingStartsAt, p.VotingEndsAt)
	}
	for _, v := range e.votes[id] {
		if v.Voter == voter {
			return Vote{}, kerr.ErrVoteExists.With(op, "%s already voted on %s", voter, id)
		}
	}

	e.voteSeq++
	v := Vote{
		ID:         fmt.Sprintf("vote_%06d", e.voteSeq),
		ProposalID: id,
		Voter:      voter,
		Choice:     choice,
		Weight:     e.ledger.GovernancePower(voter),
		Signature:  signature,
		Timestamp:  now,
		Epoch:      e.ledger.Epoch(),
	}
	e.votes[id] = append(e.votes[id], v)
	p.Tally.add(choice, v.Weight)

	if out := Evaluate(p.Tally, e.ledger.TotalGovernancePower(), p.QuorumThreshold, p.ApprovalThreshold); out.Passed {
		e.decide(p, out, now)
	}
	return v, nil
}

// decide moves an active proposal to passed or rejected.
func (e *Engine) decide(p *Proposal, out Outcome, now int64) {
	p.Participation = out.Participation
	p.Approval = out.Approval
	p.DecidedAt = now
	if !out.Passed {
		p.Status = StatusRejected
		e.logger.Info("proposal rejected", "proposal_id", p.ID,
			"participation", out.Participation, "approval", out.Approval)
		return
	}
	p.Status = StatusPassed
	p.ExecutionAt = now + p.ExecutionDelay
	if err := e.refund(p); err != nil {
		e.logger.Warn("deposit refund deferred", "proposal_id", p.ID, "error", err)
	}
	e.logger.Info("proposal passed", "proposal_id", p.ID,
		"participation", out.Participation, "approval", out.Approval, "execution_at", p.ExecutionAt)
}

// Finalize decides an active proposal whose window has closed. Before the
// window closes it only applies the early-pass rule.
func (e *Engine) Finalize(id string) (Proposal, error) {
	const op = "agora.finalize"
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.get(op, id)
	if err != nil {
		return Proposal{}, err
	}
	if p.Status != StatusActive {
		return Proposal{}, kerr.ErrNotActive.With(op, "%s is %s", id, p.Status)
	}
	e.finalize(p, e.clock().Unix())
	return *p, nil
}

func (e *Engine) finalize(p *Proposal, now int64) bool {
	out := Evaluate(p.Tally, e.ledger.TotalGovernancePower(), p.QuorumThreshold, p.ApprovalThreshold)
	if now > p.VotingEndsAt || out.Passed {
		e.decide(p, out, now)
		return true
	}
	return false
}

// Tick advances every proposal whose timing has moved on: drafts whose
// window opened are activated, drafts whose window closed expire, active
// proposals past their window are decided and pending deposit refunds are
// retried. It returns the proposals that changed.
func (e *Engine) Tick() []Proposal {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock().Unix()
	var changed []Proposal
	for _, id := range e.sortedIDs() {
		p := e.proposals[id]
		switch p.Status {
		case StatusDraft:
			switch {
			case now > p.VotingEndsAt:
				p.Status = StatusExpired
				e.logger.Info("proposal expired", "proposal_id", id)
			case now >= p.VotingStartsAt:
				p.Status = StatusActive
				e.logger.Info("proposal activated", "proposal_id", id)
			default:
				continue
			}
		case StatusActive:
			if !e.finalize(p, now) {
				continue
			}
		case StatusPassed, StatusExecuted:
			if !e.retryRefund(p) {
				continue
			}
		default:
			continue
		}
		changed = append(changed, *p)
	}
	return changed
}

// ExecuteProposal runs a passed proposal's payload. Payload failures are
// recorded as a failed execution and leave the proposal passed so it can
// be retried; the returned error is reserved for proposals that may not be
// executed at all.
func (e *Engine) ExecuteProposal(id, executor string) (Execution, error) {
	const op = "agora.execute_proposal"
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.get(op, id)
	if err != nil {
		return Execution{}, err
	}
	if p.Status != StatusPassed {
		return Execution{}, kerr.ErrNotPassed.With(op, "%s is %s", id, p.Status)
	}
	now := e.clock().Unix()
	if now < p.ExecutionAt {
		return Execution{}, kerr.ErrExecutionDelay.With(op, "%s executes from %d", id, p.ExecutionAt)
	}
	e.retryRefund(p)

	ex := Execution{
		ID:         uuid.NewString(),
		ProposalID: id,
		Executor:   executor,
		ExecutedAt: now,
	}
	msg, err := e.execute(p.Payload)
	if err != nil {
		ex.Result = ResultFailed
		ex.Error = err.Error()
		p.ExecutionError = err.Error()
		e.logger.Warn("proposal execution failed", "proposal_id", id, "error", err)
	} else {
		ex.Result = ResultSuccess
		ex.Message = msg
		p.Status = StatusExecuted
		p.ExecutionID = ex.ID
		p.ExecutionError = ""
		e.logger.Info("proposal executed", "proposal_id", id, "result", msg)
	}
	e.executions[id] = append(e.executions[id], ex)
	return ex, nil
}

func (e *Engine) execute(payload Payload) (string, error) {
	switch pl := payload.(type) {
	case PolicyChange:
		p, err := e.policies.Apply(pl.Update)
		if err != nil {
			return "", err
		}
		return "policy " + p.Version + " adopted", nil
	case ParameterUpdate:
		if _, err := e.ledger.UpdateParams(pl.Update); err != nil {
			return "", err
		}
		return "ledger parameters updated", nil
	case TreasurySpend:
		reason := pl.Reason
		if reason == "" {
			reason = "treasury spend"
		}
		tx, err := e.ledger.Transfer(credit.Treasury, pl.Recipient, pl.Amount, reason)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%g credits to %s (tx %s)", credit.ToCredits(pl.Amount), pl.Recipient, short(tx.ID)), nil
	case ProtocolUpgrade:
		p, err := e.policies.Upgrade(pl.Version, pl.UpgradeHash)
		if err != nil {
			return "", err
		}
		return "protocol upgraded to " + p.Version, nil
	case EmergencyPause:
		epochs := pl.Epochs
		if epochs == 0 {
			epochs = dayInEpochs(e.policies.Current())
		}
		until := e.ledger.Epoch() + epochs
		e.ledger.Pause(until)
		return fmt.Sprintf("ledger paused until epoch %d", until), nil
	case CommunityInitiative:
		return fmt.Sprintf("community initiative %q recorded", pl.Kind), nil
	}
	return "", kerr.ErrInvalidProposal.With("agora.execute", "unsupported payload %T", payload)
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func dayInEpochs(p policy.Policy) uint64 {
	if p.Consensus.EpochDurationSeconds <= 0 {
		return 1
	}
	return uint64(24 * 3600 / p.Consensus.EpochDurationSeconds)
}

// GetProposal returns the proposal.
func (e *Engine) GetProposal(id string) (Proposal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, err := e.get("agora.get_proposal", id)
	if err != nil {
		return Proposal{}, err
	}
	return *p, nil
}

// ListProposals returns matching proposals, newest first.
func (e *Engine) ListProposals(f Filter) []Proposal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Proposal
	for _, p := range e.proposals {
		if (f.Status == "" || p.Status == f.Status) &&
			(f.Proposer == "" || p.Proposer == f.Proposer) &&
			(f.Type == "" || p.Type == f.Type) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if f.Offset >= len(out) {
		return nil
	}
	out = out[max(f.Offset, 0):]
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Votes returns the votes cast on a proposal in order.
func (e *Engine) Votes(id string) []Vote {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Vote(nil), e.votes[id]...)
}

// Executions returns every execution attempt for a proposal.
func (e *Engine) Executions(id string) []Execution {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Execution(nil), e.executions[id]...)
}

// VotingPower breaks down addr's current governance weight.
func (e *Engine) VotingPower(addr string) VotingPower {
	vp := VotingPower{Address: addr}
	a, ok := e.ledger.Account(addr)
	if !ok {
		return vp
	}
	vp.Staked = credit.ToCredits(a.Staked)
	vp.Activity = a.Activity
	vp.QuadraticPower = a.GovernancePower
	vp.GovernancePower = a.GovernancePower * a.GovernancePower
	return vp
}

func (e *Engine) sortedIDs() []string {
	ids := make([]string, 0, len(e.proposals))
	for id := range e.proposals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
