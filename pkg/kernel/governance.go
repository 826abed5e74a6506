package kernel

import (
	"context"

	"github.com/kaizencycle/Mobius-Systems/pkg/agora"
)

// CreateProposal escrows the deposit and records a draft proposal.
func (k *Kernel) CreateProposal(req agora.CreateRequest) (agora.Proposal, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, err := k.c.agora.CreateProposal(req)
	return p, k.reject("kernel.create_proposal", err)
}

// ActivateProposal opens voting on a draft.
func (k *Kernel) ActivateProposal(id string) (agora.Proposal, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, err := k.c.agora.ActivateProposal(id)
	return p, k.reject("kernel.activate_proposal", err)
}

// CancelProposal withdraws a draft and refunds the deposit.
func (k *Kernel) CancelProposal(id, requester string) (agora.Proposal, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, err := k.c.agora.CancelProposal(id, requester)
	return p, k.reject("kernel.cancel_proposal", err)
}

// CastVote records a weighted vote.
func (k *Kernel) CastVote(id, voter string, choice agora.Choice, signature string) (agora.Vote, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, err := k.c.agora.CastVote(id, voter, choice, signature)
	if err != nil {
		return agora.Vote{}, k.reject("kernel.cast_vote", err)
	}
	k.metrics.VoteCast(context.Background(), string(choice))
	return v, nil
}

// FinalizeProposal decides an active proposal whose window has closed.
func (k *Kernel) FinalizeProposal(id string) (agora.Proposal, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, err := k.c.agora.Finalize(id)
	return p, k.reject("kernel.finalize_proposal", err)
}

// ExecuteProposal runs a passed proposal. Payload failures come back as a
// failed execution, not an error.
func (k *Kernel) ExecuteProposal(id, executor string) (agora.Execution, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	ex, err := k.c.agora.ExecuteProposal(id, executor)
	return ex, k.reject("kernel.execute_proposal", err)
}

// GetProposal returns a proposal.
func (k *Kernel) GetProposal(id string) (agora.Proposal, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.agora.GetProposal(id)
}

// ListProposals returns matching proposals, newest first.
func (k *Kernel) ListProposals(f agora.Filter) []agora.Proposal {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.agora.ListProposals(f)
}

// Votes returns the votes cast on a proposal.
func (k *Kernel) Votes(id string) []agora.Vote {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.agora.Votes(id)
}

// Executions returns every execution attempt for a proposal.
func (k *Kernel) Executions(id string) []agora.Execution {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.agora.Executions(id)
}

// VotingPower breaks down addr's governance weight.
func (k *Kernel) VotingPower(addr string) agora.VotingPower {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.agora.VotingPower(addr)
}
