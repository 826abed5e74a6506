package credit

import (
	"github.com/shopspring/decimal"

	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
)

// Params are the economic parameters of the ledger. Governance may change
// them through ParamUpdate.
type Params struct {
	GenesisSupply        decimal.Decimal `yaml:"-" json:"genesis_supply"`
	InflationRate        float64         `yaml:"inflation_rate" json:"inflation_rate"`
	StakingPoolPerEpoch  decimal.Decimal `yaml:"-" json:"staking_pool_per_epoch"`
	FeeDivisor           int64           `yaml:"fee_divisor" json:"fee_divisor"`
	FeeCap               decimal.Decimal `yaml:"-" json:"fee_cap"`
	UnbondingEpochs      uint64          `yaml:"unbonding_epochs" json:"unbonding_epochs"`
	EpochDurationSeconds int64           `yaml:"epoch_duration_seconds" json:"epoch_duration_seconds"`
	ActivityDecay        float64         `yaml:"activity_decay" json:"activity_decay"`
	ActivityWeight       float64         `yaml:"activity_weight" json:"activity_weight"`
}

// DefaultParams returns the genesis economics: one million credits, 5%
// annual inflation, 300 second epochs and a seven day unbonding period.
func DefaultParams() Params {
	return Params{
		GenesisSupply:        Credits(1_000_000),
		InflationRate:        0.05,
		StakingPoolPerEpoch:  Credits(100),
		FeeDivisor:           1000,
		FeeCap:               Units(1000),
		UnbondingEpochs:      7 * 24 * 3600 / 300,
		EpochDurationSeconds: 300,
		ActivityDecay:        0.99,
		ActivityWeight:       100,
	}
}

// EpochsPerYear is the number of epochs inflation is spread over.
func (p Params) EpochsPerYear() int64 {
	if p.EpochDurationSeconds <= 0 {
		return 1
	}
	return 365 * 24 * 3600 / p.EpochDurationSeconds
}

// Validate checks parameter bounds.
func (p Params) Validate() error {
	const op = "credit.params"
	switch {
	case p.GenesisSupply.IsNegative():
		return kerr.ErrValidation.With(op, "genesis supply is negative")
	case p.InflationRate < 0 || p.InflationRate > 1:
		return kerr.ErrValidation.With(op, "inflation rate %v outside [0,1]", p.InflationRate)
	case p.StakingPoolPerEpoch.IsNegative():
		return kerr.ErrValidation.With(op, "staking pool per epoch is negative")
	case p.FeeDivisor <= 0:
		return kerr.ErrValidation.With(op, "fee divisor must be positive")
	case p.FeeCap.IsNegative():
		return kerr.ErrValidation.With(op, "fee cap is negative")
	case p.EpochDurationSeconds <= 0:
		return kerr.ErrValidation.With(op, "epoch duration must be positive")
	case p.ActivityDecay < 0 || p.ActivityDecay > 1:
		return kerr.ErrValidation.With(op, "activity decay %v outside [0,1]", p.ActivityDecay)
	case p.ActivityWeight < 0:
		return kerr.ErrValidation.With(op, "activity weight is negative")
	}
	return nil
}

// ParamUpdate is a partial change to Params; nil fields are untouched.
type ParamUpdate struct {
	InflationRate       *float64         `json:"inflation_rate,omitempty"`
	StakingPoolPerEpoch *decimal.Decimal `json:"staking_pool_per_epoch,omitempty"`
	FeeCap              *decimal.Decimal `json:"fee_cap,omitempty"`
	UnbondingEpochs     *uint64          `json:"unbonding_epochs,omitempty"`
	ActivityWeight      *float64         `json:"activity_weight,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u ParamUpdate) Empty() bool {
	return u.InflationRate == nil && u.StakingPoolPerEpoch == nil && u.FeeCap == nil &&
		u.UnbondingEpochs == nil && u.ActivityWeight == nil
}

func (u ParamUpdate) applyTo(p Params) Params {
	if u.InflationRate != nil {
		p.InflationRate = *u.InflationRate
	}
	if u.StakingPoolPerEpoch != nil {
		p.StakingPoolPerEpoch = *u.StakingPoolPerEpoch
	}
	if u.FeeCap != nil {
		p.FeeCap = *u.FeeCap
	}
	if u.UnbondingEpochs != nil {
		p.UnbondingEpochs = *u.UnbondingEpochs
	}
	if u.ActivityWeight != nil {
		p.ActivityWeight = *u.ActivityWeight
	}
	return p
}

// UpdateParams validates and adopts a parameter change.
func (l *Ledger) UpdateParams(u ParamUpdate) (Params, error) {
	if u.Empty() {
		return Params{}, kerr.ErrValidation.With("credit.update_params", "empty update")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	next := u.applyTo(l.params)
	if err := next.Validate(); err != nil {
		return Params{}, err
	}
	l.params = next
	l.record("params", "governance", map[string]any{
		"inflation_rate":         next.InflationRate,
		"staking_pool_per_epoch": next.StakingPoolPerEpoch.String(),
		"fee_cap":                next.FeeCap.String(),
		"unbonding_epochs":       next.UnbondingEpochs,
		"activity_weight":        next.ActivityWeight,
	})
	l.logger.Info("parameters updated", "inflation_rate", next.InflationRate, "fee_cap", next.FeeCap.String())
	return next, nil
}
