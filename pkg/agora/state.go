package agora

import (
	"sort"

	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
)

// State is the serialisable governance state.
type State struct {
	Proposals   []Proposal  `json:"proposals"`
	Votes       []Vote      `json:"votes"`
	Executions  []Execution `json:"executions"`
	ProposalSeq int         `json:"proposal_seq"`
	VoteSeq     int         `json:"vote_seq"`
}

// State exports proposals, votes and executions in id order.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := State{ProposalSeq: e.propSeq, VoteSeq: e.voteSeq}
	for _, id := range e.sortedIDs() {
		s.Proposals = append(s.Proposals, *e.proposals[id])
		s.Votes = append(s.Votes, e.votes[id]...)
		s.Executions = append(s.Executions, e.executions[id]...)
	}
	return s
}

// Restore replaces the engine's contents with s.
func (e *Engine) Restore(s State) error {
	const op = "agora.restore"
	proposals := make(map[string]*Proposal, len(s.Proposals))
	for i := range s.Proposals {
		p := s.Proposals[i]
		if p.Payload == nil {
			return kerr.ErrInvalidProposal.With(op, "%s has no payload", p.ID)
		}
		proposals[p.ID] = &p
	}
	votes := make(map[string][]Vote)
	for _, v := range s.Votes {
		if _, ok := proposals[v.ProposalID]; !ok {
			return kerr.ErrProposalNotFound.With(op, "vote %s references %s", v.ID, v.ProposalID)
		}
		votes[v.ProposalID] = append(votes[v.ProposalID], v)
	}
	executions := make(map[string][]Execution)
	for _, ex := range s.Executions {
		if _, ok := proposals[ex.ProposalID]; !ok {
			return kerr.ErrProposalNotFound.With(op, "execution %s references %s", ex.ID, ex.ProposalID)
		}
		executions[ex.ProposalID] = append(executions[ex.ProposalID], ex)
	}
	for id := range votes {
		sort.SliceStable(votes[id], func(i, j int) bool { return votes[id][i].ID < votes[id][j].ID })
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.proposals = proposals
	e.votes = votes
	e.executions = executions
	e.propSeq = max(s.ProposalSeq, len(proposals))
	e.voteSeq = max(s.VoteSeq, len(s.Votes))
	return nil
}
