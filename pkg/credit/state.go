package credit

import (
	"github.com/kaizencycle/Mobius-Systems/pkg/journal"
)

// State is the serialisable ledger contents.
type State struct {
	Params       Params            `json:"params"`
	Accounts     []Account         `json:"accounts"`
	Vesting      []VestingSchedule `json:"vesting"`
	Supply       Supply            `json:"supply"`
	Transactions []Transaction     `json:"transactions"`
	Earns        []EarnTransaction `json:"earns"`
	Epoch        uint64            `json:"epoch"`
	EpochSeen    bool              `json:"epoch_seen"`
	PausedUntil  uint64            `json:"paused_until"`
	Journal      []journal.Entry   `json:"journal"`
}

// State exports the ledger.
func (l *Ledger) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := State{
		Params:       l.params,
		Vesting:      append([]VestingSchedule(nil), l.vesting...),
		Supply:       l.supply,
		Transactions: append([]Transaction(nil), l.txs...),
		Earns:        append([]EarnTransaction(nil), l.earns...),
		Epoch:        l.epoch,
		EpochSeen:    l.epochSeen,
		PausedUntil:  l.pausedUntil,
		Journal:      l.journal.Entries(),
	}
	for _, addr := range l.sortedAddresses() {
		s.Accounts = append(s.Accounts, *l.accounts[addr])
	}
	return s
}

// Restore replaces the ledger contents with s after checking it balances.
func (l *Ledger) Restore(s State) error {
	if err := s.Params.Validate(); err != nil {
		return err
	}
	next := &Ledger{
		params:      s.Params,
		accounts:    make(map[string]*Account, len(s.Accounts)),
		vesting:     append([]VestingSchedule(nil), s.Vesting...),
		supply:      s.Supply,
		txs:         append([]Transaction(nil), s.Transactions...),
		earns:       append([]EarnTransaction(nil), s.Earns...),
		applied:     make(map[string]struct{}, len(s.Transactions)+len(s.Earns)),
		epoch:       s.Epoch,
		epochSeen:   s.EpochSeen,
		pausedUntil: s.PausedUntil,
		journal:     journal.New("credit"),
		logger:      l.logger,
	}
	for i := range s.Accounts {
		a := s.Accounts[i]
		next.accounts[a.Address] = &a
	}
	for _, tx := range s.Transactions {
		next.applied[tx.ID] = struct{}{}
	}
	for _, e := range s.Earns {
		next.applied[e.ID] = struct{}{}
	}
	if err := next.journal.Restore(s.Journal); err != nil {
		return err
	}
	if err := next.reconcileLocked("credit.restore"); err != nil {
		return err
	}
	l.Adopt(next)
	return nil
}

// Fork returns an independent copy of the ledger. Operations on the fork
// never affect the original until it is adopted.
func (l *Ledger) Fork() *Ledger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	f := &Ledger{
		params:      l.params,
		accounts:    make(map[string]*Account, len(l.accounts)),
		vesting:     append([]VestingSchedule(nil), l.vesting...),
		supply:      l.supply,
		txs:         append([]Transaction(nil), l.txs...),
		earns:       append([]EarnTransaction(nil), l.earns...),
		applied:     make(map[string]struct{}, len(l.applied)),
		epoch:       l.epoch,
		epochSeen:   l.epochSeen,
		pausedUntil: l.pausedUntil,
		journal:     l.journal.Clone(),
		clock:       l.clock,
		logger:      l.logger,
	}
	for addr, a := range l.accounts {
		c := *a
		f.accounts[addr] = &c
	}
	for id := range l.applied {
		f.applied[id] = struct{}{}
	}
	return f
}

// Adopt replaces the ledger's state with the fork's. The fork must not be
// used afterwards.
func (l *Ledger) Adopt(f *Ledger) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.params = f.params
	l.accounts = f.accounts
	l.vesting = f.vesting
	l.supply = f.supply
	l.txs = f.txs
	l.earns = f.earns
	l.applied = f.applied
	l.epoch = f.epoch
	l.epochSeen = f.epochSeen
	l.pausedUntil = f.pausedUntil
	if err := l.journal.Restore(f.journal.Entries()); err != nil {
		l.logger.Error("journal adoption failed", "error", err)
	}
}
