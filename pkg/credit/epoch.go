package credit

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
)

// VestingSchedule releases Total linearly over DurationEpochs once
// CliffEpochs have elapsed since StartEpoch.
type VestingSchedule struct {
	ID             string          `json:"id"`
	Beneficiary    string          `json:"beneficiary"`
	Total          decimal.Decimal `json:"total"`
	Released       decimal.Decimal `json:"released"`
	StartEpoch     uint64          `json:"start_epoch"`
	CliffEpochs    uint64          `json:"cliff_epochs"`
	DurationEpochs uint64          `json:"duration_epochs"`
}

// vestedAt returns the cumulative amount vested at epoch.
func (v VestingSchedule) vestedAt(epoch uint64) decimal.Decimal {
	if epoch < v.StartEpoch {
		return decimal.Zero
	}
	elapsed := epoch - v.StartEpoch
	if elapsed < v.CliffEpochs {
		return decimal.Zero
	}
	if v.DurationEpochs == 0 || elapsed >= v.DurationEpochs {
		return v.Total
	}
	return floorDiv(v.Total.Mul(decimal.NewFromInt(int64(elapsed))), decimal.NewFromInt(int64(v.DurationEpochs)))
}

// EpochReport summarises what ProcessEpoch did.
type EpochReport struct {
	Epoch           uint64          `json:"epoch"`
	Inflation       decimal.Decimal `json:"inflation"`
	StakingRewards  decimal.Decimal `json:"staking_rewards"`
	Unlocked        decimal.Decimal `json:"unlocked"`
	VestingReleased decimal.Decimal `json:"vesting_released"`
}

// GrantVesting moves amount out of from's balance into a vesting schedule
// for beneficiary, starting at the current epoch.
func (l *Ledger) GrantVesting(from, beneficiary string, amount decimal.Decimal, cliffEpochs, durationEpochs uint64) (VestingSchedule, error) {
	const op = "credit.grant_vesting"
	if err := validAmount(op, amount); err != nil {
		return VestingSchedule{}, err
	}
	if beneficiary == "" {
		return VestingSchedule{}, kerr.ErrValidation.With(op, "empty beneficiary")
	}
	if durationEpochs > 0 && cliffEpochs > durationEpochs {
		return VestingSchedule{}, kerr.ErrValidation.With(op, "cliff %d exceeds duration %d", cliffEpochs, durationEpochs)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if bal := l.peek(from).Balance; bal.LessThan(amount) {
		return VestingSchedule{}, kerr.ErrFunds.With(op, "%s holds %s, grant needs %s", from, bal, amount)
	}
	v := VestingSchedule{
		ID:             fmt.Sprintf("vest_%06d", len(l.vesting)),
		Beneficiary:    beneficiary,
		Total:          amount,
		Released:       decimal.Zero,
		StartEpoch:     l.epoch,
		CliffEpochs:    cliffEpochs,
		DurationEpochs: durationEpochs,
	}
	src := l.account(from)
	src.Balance = src.Balance.Sub(amount)
	dst := l.account(beneficiary)
	dst.Vesting = dst.Vesting.Add(amount)
	l.vesting = append(l.vesting, v)

	l.record("vesting_grant", from, map[string]any{
		"id":          v.ID,
		"beneficiary": beneficiary,
		"amount":      amount.String(),
	})
	return v, l.reconcileLocked(op)
}

// VestingSchedules returns every schedule.
func (l *Ledger) VestingSchedules() []VestingSchedule {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]VestingSchedule(nil), l.vesting...)
}

// DistributeStakingRewards pro-rates min(StakingPoolPerEpoch, pool balance)
// across stakers by stake, rounding each share down. It returns the total
// paid, which is zero when nobody stakes.
func (l *Ledger) DistributeStakingRewards() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	paid := l.distributeStakingLocked()
	if err := l.reconcileLocked("credit.distribute_staking_rewards"); err != nil {
		l.logger.Error("staking distribution unbalanced", "error", err)
	}
	return paid
}

func (l *Ledger) distributeStakingLocked() decimal.Decimal {
	pool := decimal.Min(l.params.StakingPoolPerEpoch, l.peek(StakingPool).Balance)
	if pool.Sign() <= 0 {
		return decimal.Zero
	}

	addrs := l.sortedAddresses()
	total := decimal.Zero
	for _, addr := range addrs {
		total = total.Add(l.accounts[addr].Staked)
	}
	if total.Sign() <= 0 {
		return decimal.Zero
	}

	paid := decimal.Zero
	for _, addr := range addrs {
		a := l.accounts[addr]
		if a.Staked.Sign() <= 0 {
			continue
		}
		reward := floorDiv(a.Staked.Mul(pool), total)
		if reward.Sign() <= 0 {
			continue
		}
		a.Balance = a.Balance.Add(reward)
		a.RewardsEarned = a.RewardsEarned.Add(reward)
		paid = paid.Add(reward)
	}
	sp := l.account(StakingPool)
	sp.Balance = sp.Balance.Sub(paid)
	return paid
}

// ProcessEpoch advances the ledger to epoch. In order it mints inflation
// into the treasury, distributes staking rewards, releases matured
// unstaking and vested funds, and decays activity. Epochs must strictly
// increase; re-processing an epoch is rejected.
func (l *Ledger) ProcessEpoch(epoch uint64) (EpochReport, error) {
	const op = "credit.process_epoch"

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.epochSeen && epoch <= l.epoch {
		return EpochReport{}, kerr.ErrEpochProcessed.With(op, "epoch %d, last processed %d", epoch, l.epoch)
	}

	report := EpochReport{
		Epoch:           epoch,
		Inflation:       decimal.Zero,
		Unlocked:        decimal.Zero,
		VestingReleased: decimal.Zero,
	}

	inflation := floorDiv(
		mulFloor(l.supply.Circulating(), l.params.InflationRate),
		decimal.NewFromInt(l.params.EpochsPerYear()),
	)
	if inflation.Sign() > 0 {
		t := l.account(Treasury)
		t.Balance = t.Balance.Add(inflation)
		l.supply.Minted = l.supply.Minted.Add(inflation)
		report.Inflation = inflation
	}

	report.StakingRewards = l.distributeStakingLocked()

	for _, addr := range l.sortedAddresses() {
		a := l.accounts[addr]
		if a.Unstaking.Sign() > 0 && epoch >= a.UnlockEpoch {
			a.Balance = a.Balance.Add(a.Unstaking)
			report.Unlocked = report.Unlocked.Add(a.Unstaking)
			a.Unstaking = decimal.Zero
			a.UnlockEpoch = 0
		}
	}

	for i := range l.vesting {
		v := &l.vesting[i]
		release := v.vestedAt(epoch).Sub(v.Released)
		if release.Sign() <= 0 {
			continue
		}
		b := l.account(v.Beneficiary)
		b.Vesting = b.Vesting.Sub(release)
		b.Balance = b.Balance.Add(release)
		v.Released = v.Released.Add(release)
		report.VestingReleased = report.VestingReleased.Add(release)
	}

	for _, a := range l.accounts {
		a.Activity *= l.params.ActivityDecay
		a.GovernancePower = l.governancePower(a)
	}

	l.epoch = epoch
	l.epochSeen = true
	if l.pausedUntil != 0 && l.pausedUntil <= epoch {
		l.pausedUntil = 0
		l.logger.Info("ledger unpaused", "epoch", epoch)
	}

	l.record("epoch", "", map[string]any{
		"epoch":            epoch,
		"inflation":        report.Inflation.String(),
		"staking_rewards":  report.StakingRewards.String(),
		"unlocked":         report.Unlocked.String(),
		"vesting_released": report.VestingReleased.String(),
	})
	l.logger.Info("epoch processed",
		"epoch", epoch,
		"inflation", report.Inflation.String(),
		"staking_rewards", report.StakingRewards.String(),
	)
	return report, l.reconcileLocked(op)
}
