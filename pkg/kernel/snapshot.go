package kernel

import (
	"github.com/kaizencycle/Mobius-Systems/pkg/agora"
	"github.com/kaizencycle/Mobius-Systems/pkg/canonicalize"
	"github.com/kaizencycle/Mobius-Systems/pkg/chain"
	"github.com/kaizencycle/Mobius-Systems/pkg/credit"
	"github.com/kaizencycle/Mobius-Systems/pkg/cycle"
	"github.com/kaizencycle/Mobius-Systems/pkg/identity"
	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
	"github.com/kaizencycle/Mobius-Systems/pkg/policy"
)

// Snapshot is the complete kernel state, as handed to a persistence
// collaborator.
type Snapshot struct {
	Height     uint64          `json:"height"`
	StateRoot  string          `json:"state_root"`
	Policies   []policy.Policy `json:"policies"`
	Identities identity.State  `json:"identities"`
	Ledger     credit.State    `json:"ledger"`
	Cycles     cycle.State     `json:"cycles"`
	Agora      agora.State     `json:"agora"`
	Blocks     []chain.Block   `json:"blocks"`
}

// Hash is the canonical content hash of the snapshot.
func (s Snapshot) Hash() (string, error) {
	return canonicalize.Hash(s)
}

// Export captures a consistent snapshot.
func (k *Kernel) Export() Snapshot {
	k.mu.RLock()
	defer k.mu.RUnlock()
	c := k.c
	return Snapshot{
		Height:     c.chain.Height(),
		StateRoot:  c.ledger.StateRoot(),
		Policies:   c.policies.History(),
		Identities: c.ids.State(),
		Ledger:     c.ledger.State(),
		Cycles:     c.cycles.State(),
		Agora:      c.agora.State(),
		Blocks:     c.chain.Blocks(),
	}
}

// Import replaces the kernel's state with s. The snapshot is restored into
// a fresh set of components which replaces the current one only when every
// part restores cleanly; the ledger's state root must match the snapshot.
func (k *Kernel) Import(s Snapshot) error {
	const op = "kernel.import"
	c, err := k.build()
	if err != nil {
		return err
	}
	if err := c.policies.Restore(s.Policies); err != nil {
		return k.reject(op, err)
	}
	c.ids.Restore(s.Identities)
	if err := c.ledger.Restore(s.Ledger); err != nil {
		return k.reject(op, err)
	}
	if root := c.ledger.StateRoot(); s.StateRoot != "" && root != s.StateRoot {
		return k.reject(op, kerr.ErrStateRoot.With(op, "snapshot %s, restored %s", s.StateRoot, root))
	}
	if err := c.cycles.Restore(s.Cycles); err != nil {
		return k.reject(op, err)
	}
	if err := c.agora.Restore(s.Agora); err != nil {
		return k.reject(op, err)
	}
	if err := c.chain.Restore(s.Blocks); err != nil {
		return k.reject(op, err)
	}
	if h := c.chain.Height(); h != s.Height {
		return k.reject(op, kerr.ErrBrokenChain.With(op, "snapshot height %d, restored %d blocks", s.Height, h))
	}

	k.mu.Lock()
	k.c = c
	k.mu.Unlock()
	k.logger.Info("snapshot imported", "height", s.Height, "state_root", short(s.StateRoot))
	return nil
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
