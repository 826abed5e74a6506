// Package credit is the civic credit ledger: accounts, transfers, staking,
// reward emission and epoch processing.
//
// Amounts are decimal.Decimal values holding whole base units (18 decimal
// places per credit). After every mutating operation the ledger reconciles
//
//	Σ(balance + staked + unstaking + vesting) == genesis + minted − burned
//
// and refuses to continue silently if the books do not balance.
package credit

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kaizencycle/Mobius-Systems/pkg/canonicalize"
	"github.com/kaizencycle/Mobius-Systems/pkg/journal"
	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
	"github.com/kaizencycle/Mobius-Systems/pkg/merkle"
)

// System accounts seeded at genesis.
const (
	Treasury      = "treasury"
	CommunityPool = "community_pool"
	StakingPool   = "staking_pool"
	CivicPool     = "civic_pool"
)

// SystemAccounts lists the genesis system accounts.
var SystemAccounts = []string{Treasury, CommunityPool, StakingPool, CivicPool}

// Account is one ledger account.
type Account struct {
	Address         string          `json:"address"`
	Nonce           uint64          `json:"nonce"`
	Balance         decimal.Decimal `json:"balance"`
	Vesting         decimal.Decimal `json:"vesting"`
	Staked          decimal.Decimal `json:"staked"`
	Unstaking       decimal.Decimal `json:"unstaking"`
	UnlockEpoch     uint64          `json:"unlock_epoch,omitempty"`
	Activity        float64         `json:"activity"`
	GovernancePower float64         `json:"governance_power"`
	RewardsEarned   decimal.Decimal `json:"rewards_earned"`
}

// Total is the account's share of circulating supply.
func (a Account) Total() decimal.Decimal {
	return a.Balance.Add(a.Staked).Add(a.Unstaking).Add(a.Vesting)
}

// Supply tracks issuance.
type Supply struct {
	Genesis decimal.Decimal `json:"genesis"`
	Minted  decimal.Decimal `json:"minted"`
	Burned  decimal.Decimal `json:"burned"`
}

// Circulating is genesis + minted − burned.
func (s Supply) Circulating() decimal.Decimal {
	return s.Genesis.Add(s.Minted).Sub(s.Burned)
}

// Ledger owns every account. All methods are safe for concurrent use; block
// application serialises through Fork and Adopt.
type Ledger struct {
	mu          sync.RWMutex
	params      Params
	accounts    map[string]*Account
	vesting     []VestingSchedule
	supply      Supply
	txs         []Transaction
	earns       []EarnTransaction
	applied     map[string]struct{}
	epoch       uint64
	epochSeen   bool
	pausedUntil uint64
	journal     *journal.Journal
	clock       func() time.Time
	logger      *slog.Logger
}

// New creates a ledger and distributes the genesis supply across the
// system accounts (treasury 30%, community 20%, staking pool 10%, civic
// rewards the remainder).
func New(params Params) (*Ledger, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	l := &Ledger{
		params:   params,
		accounts: make(map[string]*Account),
		applied:  make(map[string]struct{}),
		supply: Supply{
			Genesis: params.GenesisSupply,
			Minted:  decimal.Zero,
			Burned:  decimal.Zero,
		},
		journal: journal.New("credit"),
		clock:   time.Now,
		logger:  slog.Default().With("component", "credit"),
	}

	s := params.GenesisSupply
	treasury := floorDiv(s.Mul(decimal.NewFromInt(30)), decimal.NewFromInt(100))
	community := floorDiv(s.Mul(decimal.NewFromInt(20)), decimal.NewFromInt(100))
	staking := floorDiv(s.Mul(decimal.NewFromInt(10)), decimal.NewFromInt(100))
	civic := s.Sub(treasury).Sub(community).Sub(staking)
	for addr, amt := range map[string]decimal.Decimal{
		Treasury:      treasury,
		CommunityPool: community,
		StakingPool:   staking,
		CivicPool:     civic,
	} {
		l.account(addr).Balance = amt
	}
	if err := l.reconcileLocked("credit.genesis"); err != nil {
		return nil, err
	}
	return l, nil
}

// WithClock overrides clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	l.journal.WithClock(clock)
	return l
}

// WithLogger sets the logger.
func (l *Ledger) WithLogger(lg *slog.Logger) *Ledger {
	l.logger = lg.With("component", "credit")
	return l
}

// account returns the account for addr, creating it if absent. Caller holds
// the write lock.
func (l *Ledger) account(addr string) *Account {
	a, ok := l.accounts[addr]
	if !ok {
		a = &Account{
			Address:       addr,
			Balance:       decimal.Zero,
			Vesting:       decimal.Zero,
			Staked:        decimal.Zero,
			Unstaking:     decimal.Zero,
			RewardsEarned: decimal.Zero,
		}
		l.accounts[addr] = a
	}
	return a
}

// peek returns the account or a zero account without creating it.
func (l *Ledger) peek(addr string) Account {
	if a, ok := l.accounts[addr]; ok {
		return *a
	}
	return Account{Address: addr, Balance: decimal.Zero, Vesting: decimal.Zero, Staked: decimal.Zero, Unstaking: decimal.Zero, RewardsEarned: decimal.Zero}
}

func (l *Ledger) now() int64 {
	return l.clock().Unix()
}

// Params returns the active economic parameters.
func (l *Ledger) Params() Params {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.params
}

// Epoch returns the last processed epoch.
func (l *Ledger) Epoch() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.epoch
}

// Supply returns the issuance counters.
func (l *Ledger) Supply() Supply {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply
}

// Account returns a copy of the account at addr.
func (l *Ledger) Account(addr string) (Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.accounts[addr]
	if !ok {
		return Account{}, false
	}
	c := *a
	c.GovernancePower = l.governancePower(a)
	return c, true
}

// Balance returns the spendable balance of addr (zero if unknown).
func (l *Ledger) Balance(addr string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.peek(addr).Balance
}

// Nonce returns the next expected nonce for addr.
func (l *Ledger) Nonce(addr string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.peek(addr).Nonce
}

// Accounts returns copies of all accounts sorted by address.
func (l *Ledger) Accounts() []Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Account, 0, len(l.accounts))
	for _, addr := range l.sortedAddresses() {
		a := *l.accounts[addr]
		a.GovernancePower = l.governancePower(&a)
		out = append(out, a)
	}
	return out
}

// Transactions returns the applied transaction history.
func (l *Ledger) Transactions() []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Transaction(nil), l.txs...)
}

// EarnTransactions returns the applied earn history.
func (l *Ledger) EarnTransactions() []EarnTransaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]EarnTransaction(nil), l.earns...)
}

// Journal exposes the hash-chained record of applied operations.
func (l *Ledger) Journal() *journal.Journal {
	return l.journal
}

func (l *Ledger) sortedAddresses() []string {
	addrs := make([]string, 0, len(l.accounts))
	for addr := range l.accounts {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// Fee returns the gas fee charged on a transfer of amount between from and
// to: min(amount/1000, FeeCap). Transfers to or from the treasury are exempt.
func (l *Ledger) Fee(from, to string, amount decimal.Decimal) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fee(from, to, amount)
}

func (l *Ledger) fee(from, to string, amount decimal.Decimal) decimal.Decimal {
	if from == Treasury || to == Treasury {
		return decimal.Zero
	}
	return decimal.Min(floorDiv(amount, decimal.NewFromInt(l.params.FeeDivisor)), l.params.FeeCap)
}

// GovernancePower returns sqrt(staked + min(activity*k, staked*0.5)) with
// staked measured in whole credits. Unknown addresses have zero power.
func (l *Ledger) GovernancePower(addr string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.accounts[addr]
	if !ok {
		return 0
	}
	return l.governancePower(a)
}

// TotalGovernancePower sums governance power over every account.
func (l *Ledger) TotalGovernancePower() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := 0.0
	for _, addr := range l.sortedAddresses() {
		total += l.governancePower(l.accounts[addr])
	}
	return total
}

func (l *Ledger) governancePower(a *Account) float64 {
	staked := ToCredits(a.Staked)
	bonus := math.Min(a.Activity*l.params.ActivityWeight, staked*0.5)
	if staked+bonus <= 0 {
		return 0
	}
	return math.Sqrt(staked + bonus)
}

// StateRoot commits to every account's nonce and holdings.
func (l *Ledger) StateRoot() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	leaves := make([]string, 0, len(l.accounts))
	for _, addr := range l.sortedAddresses() {
		a := l.accounts[addr]
		leaves = append(leaves, canonicalize.MustHash(struct {
			Address     string `json:"address"`
			Nonce       uint64 `json:"nonce"`
			Balance     string `json:"balance"`
			Staked      string `json:"staked"`
			Unstaking   string `json:"unstaking"`
			Vesting     string `json:"vesting"`
			UnlockEpoch uint64 `json:"unlock_epoch"`
		}{a.Address, a.Nonce, a.Balance.String(), a.Staked.String(), a.Unstaking.String(), a.Vesting.String(), a.UnlockEpoch}))
	}
	return merkle.Root(leaves)
}

// Reconcile verifies conservation and non-negativity.
func (l *Ledger) Reconcile() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reconcileLocked("credit.reconcile")
}

func (l *Ledger) reconcileLocked(op string) error {
	sum := decimal.Zero
	for _, addr := range l.sortedAddresses() {
		a := l.accounts[addr]
		if a.Balance.IsNegative() || a.Staked.IsNegative() || a.Unstaking.IsNegative() || a.Vesting.IsNegative() {
			return kerr.ErrConservation.With(op, "account %s has a negative holding", addr)
		}
		sum = sum.Add(a.Total())
	}
	if circ := l.supply.Circulating(); !sum.Equal(circ) {
		l.logger.Error("conservation violated", "op", op, "accounts", sum.String(), "circulating", circ.String())
		return kerr.ErrConservation.With(op, "accounts hold %s, circulating supply is %s", sum, circ)
	}
	return nil
}

// Pause rejects user operations until the given epoch has been processed.
func (l *Ledger) Pause(untilEpoch uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if untilEpoch > l.pausedUntil {
		l.pausedUntil = untilEpoch
	}
	l.logger.Warn("ledger paused", "until_epoch", l.pausedUntil)
}

// Paused reports whether user operations are currently rejected.
func (l *Ledger) Paused() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.paused()
}

func (l *Ledger) paused() bool {
	return l.pausedUntil > l.epoch
}

func (l *Ledger) record(entryType, author string, data map[string]any) {
	if _, err := l.journal.Append(entryType, author, data); err != nil {
		l.logger.Error("journal append failed", "type", entryType, "error", err)
	}
}
