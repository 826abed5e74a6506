package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/kaizencycle/Mobius-Systems/pkg/credit"
	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
	"github.com/kaizencycle/Mobius-Systems/pkg/policy"
)

const genesisSchemaURL = "https://mobius.schemas.local/genesis.schema.json"

//go:embed genesis.schema.json
var genesisSchema string

// Economics is the YAML form of credit.Params. Amounts are decimal credit
// strings; the fee cap is in base units.
type Economics struct {
	GenesisSupply        string  `yaml:"genesis_supply"`
	InflationRate        float64 `yaml:"inflation_rate"`
	StakingPoolPerEpoch  string  `yaml:"staking_pool_per_epoch"`
	FeeDivisor           int64   `yaml:"fee_divisor"`
	FeeCapUnits          int64   `yaml:"fee_cap_units"`
	UnbondingEpochs      uint64  `yaml:"unbonding_epochs"`
	EpochDurationSeconds int64   `yaml:"epoch_duration_seconds"`
	ActivityDecay        float64 `yaml:"activity_decay"`
	ActivityWeight       float64 `yaml:"activity_weight"`
}

// Allocation mints Credits to Address at genesis.
type Allocation struct {
	Address string `yaml:"address"`
	Credits string `yaml:"credits"`
}

// Genesis is the on-disk description of a fresh network.
type Genesis struct {
	Policy       policy.Policy `yaml:"policy"`
	Economics    Economics     `yaml:"economics"`
	CitizenGrant string        `yaml:"citizen_grant,omitempty"`
	Allocations  []Allocation  `yaml:"allocations,omitempty"`
}

func compileGenesisSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(genesisSchemaURL, strings.NewReader(genesisSchema)); err != nil {
		return nil, fmt.Errorf("genesis schema load failed: %w", err)
	}
	s, err := c.Compile(genesisSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("genesis schema compile failed: %w", err)
	}
	return s, nil
}

// ParseGenesis validates data against the genesis schema and decodes it.
// Semantic checks on the resulting policy and economics run afterwards.
func ParseGenesis(data []byte) (*Genesis, error) {
	const op = "config.genesis"
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, kerr.ErrValidation.With(op, "parse yaml: %v", err)
	}
	// Round-trip through JSON so the validator sees JSON-typed values.
	js, err := json.Marshal(raw)
	if err != nil {
		return nil, kerr.ErrValidation.With(op, "genesis is not JSON-representable: %v", err)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(js))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, kerr.ErrValidation.With(op, "%v", err)
	}
	schema, err := compileGenesisSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, kerr.ErrValidation.With(op, "schema: %v", err)
	}

	var g Genesis
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, kerr.ErrValidation.With(op, "decode: %v", err)
	}
	if err := g.Policy.Validate(); err != nil {
		return nil, err
	}
	p, err := g.Params()
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if _, err := g.AllocationMap(); err != nil {
		return nil, err
	}
	return &g, nil
}

// LoadGenesis reads and parses a genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read genesis file: %w", err)
	}
	g, err := ParseGenesis(data)
	if err != nil {
		return nil, fmt.Errorf("genesis %s: %w", path, err)
	}
	return g, nil
}

// DefaultGenesis is the built-in network: genesis policy, default economics
// and a 1000 credit citizen grant.
func DefaultGenesis() *Genesis {
	p := credit.DefaultParams()
	return &Genesis{
		Policy: policy.Genesis(),
		Economics: Economics{
			GenesisSupply:        p.GenesisSupply.Shift(-credit.Decimals).String(),
			InflationRate:        p.InflationRate,
			StakingPoolPerEpoch:  p.StakingPoolPerEpoch.Shift(-credit.Decimals).String(),
			FeeDivisor:           p.FeeDivisor,
			FeeCapUnits:          p.FeeCap.IntPart(),
			UnbondingEpochs:      p.UnbondingEpochs,
			EpochDurationSeconds: p.EpochDurationSeconds,
			ActivityDecay:        p.ActivityDecay,
			ActivityWeight:       p.ActivityWeight,
		},
		CitizenGrant: "1000",
	}
}

// Params converts the economics section into ledger parameters.
func (g *Genesis) Params() (credit.Params, error) {
	e := g.Economics
	supply, err := parseCredits("economics.genesis_supply", e.GenesisSupply)
	if err != nil {
		return credit.Params{}, err
	}
	pool, err := parseCredits("economics.staking_pool_per_epoch", e.StakingPoolPerEpoch)
	if err != nil {
		return credit.Params{}, err
	}
	return credit.Params{
		GenesisSupply:        supply,
		InflationRate:        e.InflationRate,
		StakingPoolPerEpoch:  pool,
		FeeDivisor:           e.FeeDivisor,
		FeeCap:               credit.Units(e.FeeCapUnits),
		UnbondingEpochs:      e.UnbondingEpochs,
		EpochDurationSeconds: e.EpochDurationSeconds,
		ActivityDecay:        e.ActivityDecay,
		ActivityWeight:       e.ActivityWeight,
	}, nil
}

// Grant is the citizen registration grant in base units.
func (g *Genesis) Grant() (decimal.Decimal, error) {
	return parseCredits("citizen_grant", g.CitizenGrant)
}

// AllocationMap returns allocations in base units keyed by address.
// Repeated addresses are summed.
func (g *Genesis) AllocationMap() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(g.Allocations))
	for i, a := range g.Allocations {
		amt, err := parseCredits(fmt.Sprintf("allocations[%d]", i), a.Credits)
		if err != nil {
			return nil, err
		}
		if a.Address == "" {
			return nil, kerr.ErrValidation.With("config.genesis", "allocations[%d]: empty address", i)
		}
		out[a.Address] = out[a.Address].Add(amt)
	}
	return out, nil
}

func parseCredits(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, kerr.ErrValidation.With("config.genesis", "%s: %v", field, err)
	}
	if d.IsNegative() {
		return decimal.Zero, kerr.ErrValidation.With("config.genesis", "%s: negative amount", field)
	}
	return d.Shift(credit.Decimals), nil
}
