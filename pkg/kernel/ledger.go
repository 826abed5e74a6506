package kernel

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/kaizencycle/Mobius-Systems/pkg/agora"
	"github.com/kaizencycle/Mobius-Systems/pkg/credit"
	"github.com/kaizencycle/Mobius-Systems/pkg/identity"
	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
)

// Transfer moves amount plus fee from one account to another.
func (k *Kernel) Transfer(from, to string, amount decimal.Decimal, memo string) (credit.Transaction, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	tx, err := k.c.ledger.Transfer(from, to, amount, memo)
	return tx, k.reject("kernel.transfer", err)
}

// Stake locks amount of addr's balance as stake.
func (k *Kernel) Stake(addr string, amount decimal.Decimal) (credit.Transaction, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	tx, err := k.c.ledger.Stake(addr, amount)
	return tx, k.reject("kernel.stake", err)
}

// Unstake starts unbonding amount of addr's stake.
func (k *Kernel) Unstake(addr string, amount decimal.Decimal) (credit.Transaction, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	tx, err := k.c.ledger.Unstake(addr, amount)
	return tx, k.reject("kernel.unstake", err)
}

// Burn destroys amount of addr's balance.
func (k *Kernel) Burn(addr string, amount decimal.Decimal, reason string) (credit.Transaction, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	tx, err := k.c.ledger.Burn(addr, amount, reason)
	return tx, k.reject("kernel.burn", err)
}

// Airdrop pays amount from the treasury to every recipient, all or none.
func (k *Kernel) Airdrop(recipients []string, amount decimal.Decimal, reason string) ([]credit.Transaction, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	txs, err := k.c.ledger.Airdrop(recipients, amount, reason)
	return txs, k.reject("kernel.airdrop", err)
}

// GrantVesting locks amount from one account into a vesting schedule for a
// beneficiary.
func (k *Kernel) GrantVesting(from, beneficiary string, amount decimal.Decimal, cliffEpochs, durationEpochs uint64) (credit.VestingSchedule, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, err := k.c.ledger.GrantVesting(from, beneficiary, amount, cliffEpochs, durationEpochs)
	return v, k.reject("kernel.grant_vesting", err)
}

// EarnReward credits floor(amount*multiplier) from the civic pool. A zero
// multiplier takes the policy's reward schedule for reason. Registered
// recipients also gain identity activity.
func (k *Kernel) EarnReward(recipient string, amount decimal.Decimal, reason, cycleID string, multiplier float64) (credit.EarnTransaction, error) {
	const op = "kernel.earn_reward"
	k.mu.Lock()
	defer k.mu.Unlock()
	if multiplier == 0 {
		m, ok := k.c.policies.Current().Multiplier(reason)
		if !ok {
			return credit.EarnTransaction{}, k.reject(op, kerr.ErrInvalidReason.With(op, "%q is not in the reward schedule", reason))
		}
		multiplier = m
	}
	e, err := k.c.ledger.EarnReward(recipient, amount, reason, cycleID, multiplier)
	if err != nil {
		return credit.EarnTransaction{}, k.reject(op, err)
	}
	if k.c.ids.IsRegistered(recipient) {
		if err := k.c.ids.RecordActivity(recipient, 1); err != nil {
			k.logger.Warn("activity not recorded", "identity", recipient, "error", err)
		}
	}
	return e, nil
}

// Allocate mints amount to addr outside genesis, for registration grants.
func (k *Kernel) Allocate(addr string, amount decimal.Decimal, reason string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.reject("kernel.allocate", k.c.ledger.Allocate(addr, amount, reason))
}

// EpochResult reports what ProcessEpoch did.
type EpochResult struct {
	Ledger    credit.EpochReport `json:"ledger"`
	Proposals []agora.Proposal   `json:"proposals,omitempty"`
}

// ProcessEpoch runs the ledger's epoch transition, decays identity activity
// and advances proposal lifecycles. Each epoch may be processed once.
func (k *Kernel) ProcessEpoch(epoch uint64) (EpochResult, error) {
	const op = "kernel.process_epoch"
	k.mu.Lock()
	defer k.mu.Unlock()
	report, err := k.c.ledger.ProcessEpoch(epoch)
	if err != nil {
		return EpochResult{}, k.reject(op, err)
	}
	k.c.ids.DecayActivity(identity.ActivityDecay)
	res := EpochResult{Ledger: report, Proposals: k.c.agora.Tick()}
	k.metrics.EpochProcessed(context.Background())
	k.logger.Info("epoch processed", "epoch", epoch,
		"inflation", report.Inflation.String(),
		"staking_rewards", report.StakingRewards.String(),
		"proposals_changed", len(res.Proposals))
	return res, nil
}

// Balance returns addr's spendable balance.
func (k *Kernel) Balance(addr string) decimal.Decimal {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.ledger.Balance(addr)
}

// Account returns addr's ledger account.
func (k *Kernel) Account(addr string) (credit.Account, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	a, ok := k.c.ledger.Account(addr)
	if !ok {
		return credit.Account{}, kerr.ErrUnknownAccount.With("kernel.account", "%q", addr)
	}
	return a, nil
}

// Nonce returns the nonce addr's next transaction must carry.
func (k *Kernel) Nonce(addr string) uint64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.chain.PendingNonce(addr)
}

// Fee returns the fee a transfer of amount between from and to pays.
func (k *Kernel) Fee(from, to string, amount decimal.Decimal) decimal.Decimal {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.ledger.Fee(from, to, amount)
}

// Params returns the ledger's current economic parameters.
func (k *Kernel) Params() credit.Params {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.ledger.Params()
}

// Reconcile checks that account holdings match circulating supply.
func (k *Kernel) Reconcile() error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.c.ledger.Reconcile()
}
