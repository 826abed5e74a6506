package kernel

import (
	"context"

	"github.com/kaizencycle/Mobius-Systems/pkg/cycle"
	"github.com/kaizencycle/Mobius-Systems/pkg/identity"
)

// RegisterCitizen registers a citizen and mints the configured citizen
// grant to it.
func (k *Kernel) RegisterCitizen(publicKey string) (string, error) {
	const op = "kernel.register_citizen"
	k.mu.Lock()
	defer k.mu.Unlock()
	id, err := k.c.ids.RegisterCitizen(publicKey)
	if err != nil {
		return "", k.reject(op, err)
	}
	if k.opts.CitizenGrant.IsPositive() {
		if err := k.c.ledger.Allocate(id, k.opts.CitizenGrant, "citizen grant"); err != nil {
			return "", k.reject(op, err)
		}
	}
	return id, nil
}

// RegisterCompanion registers a companion owned by a citizen.
func (k *Kernel) RegisterCompanion(publicKey, owner string, capabilities []string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	id, err := k.c.ids.RegisterCompanion(publicKey, owner, capabilities)
	if err != nil {
		return "", k.reject("kernel.register_companion", err)
	}
	return id, nil
}

// Identity returns a registered identity.
func (k *Kernel) Identity(id string) (identity.Identity, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.ids.Get(id)
}

// Identities lists identities of kind, or all identities when kind is
// empty.
func (k *Kernel) Identities(kind identity.Kind) []identity.Identity {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.ids.List(kind)
}

// CreateCycle opens the cycle for date.
func (k *Kernel) CreateCycle(proposer, date string) (cycle.Cycle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	c, err := k.c.cycles.CreateCycle(proposer, date)
	return c, k.reject("kernel.create_cycle", err)
}

// Sweep adds a sweep digest to an open cycle.
func (k *Kernel) Sweep(cycleID, sweeper, digest string) (cycle.Cycle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	c, err := k.c.cycles.Sweep(cycleID, sweeper, digest)
	return c, k.reject("kernel.sweep", err)
}

// Seal closes a cycle for inclusion in a block.
func (k *Kernel) Seal(cycleID, sealer string) (cycle.Cycle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	c, err := k.c.cycles.Seal(cycleID, sealer)
	return c, k.reject("kernel.seal", err)
}

// Cycle returns a cycle by id.
func (k *Kernel) Cycle(id string) (cycle.Cycle, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.cycles.Get(id)
}

// Cycles lists every cycle by date.
func (k *Kernel) Cycles() []cycle.Cycle {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.cycles.List()
}

// CreateReflection records a rate-limited reflection in an open cycle.
func (k *Kernel) CreateReflection(ctx context.Context, req cycle.ReflectionRequest) (cycle.Reflection, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	r, err := k.c.cycles.CreateReflection(ctx, req)
	return r, k.reject("kernel.create_reflection", err)
}

// CheckAttestationLimit consumes one attestation from identityID's
// allowance in the cycle.
func (k *Kernel) CheckAttestationLimit(ctx context.Context, cycleID, identityID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.reject("kernel.check_attestation_limit", k.c.cycles.CheckAttestationLimit(ctx, cycleID, identityID))
}

// Reflections lists the reflections recorded in a cycle.
func (k *Kernel) Reflections(cycleID string) []cycle.Reflection {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.cycles.Reflections(cycleID)
}
