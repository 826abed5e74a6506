package credit

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
)

// ApplyTransaction validates and applies tx. It is the single path through
// which transfers, staking, burns and airdrops mutate balances, whether
// they arrive directly or inside a block.
func (l *Ledger) ApplyTransaction(tx Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applyLocked(tx)
}

func (l *Ledger) applyLocked(tx Transaction) error {
	op := "credit." + string(tx.Type)
	if err := l.checkLocked(op, tx); err != nil {
		return err
	}

	from := l.account(tx.From)
	switch tx.Type {
	case TxTransfer:
		from.Balance = from.Balance.Sub(tx.Amount).Sub(tx.Fee)
		to := l.account(tx.To)
		to.Balance = to.Balance.Add(tx.Amount)
		if tx.Fee.Sign() > 0 {
			t := l.account(Treasury)
			t.Balance = t.Balance.Add(tx.Fee)
		}
	case TxStake:
		from.Balance = from.Balance.Sub(tx.Amount)
		from.Staked = from.Staked.Add(tx.Amount)
	case TxUnstake:
		from.Staked = from.Staked.Sub(tx.Amount)
		from.Unstaking = from.Unstaking.Add(tx.Amount)
		from.UnlockEpoch = l.epoch + l.params.UnbondingEpochs
	case TxBurn:
		from.Balance = from.Balance.Sub(tx.Amount)
		l.supply.Burned = l.supply.Burned.Add(tx.Amount)
	case TxAirdrop:
		from.Balance = from.Balance.Sub(tx.Amount)
		to := l.account(tx.To)
		to.Balance = to.Balance.Add(tx.Amount)
	}
	from.Nonce++
	l.applied[tx.ID] = struct{}{}
	l.txs = append(l.txs, tx)

	l.record(string(tx.Type), tx.From, map[string]any{
		"id":     tx.ID,
		"to":     tx.To,
		"amount": tx.Amount.String(),
		"fee":    tx.Fee.String(),
		"nonce":  tx.Nonce,
	})
	return l.reconcileLocked(op)
}

// checkLocked validates tx against current state without mutating it.
func (l *Ledger) checkLocked(op string, tx Transaction) error {
	if !tx.Type.Valid() || tx.Type == TxEarnReward {
		return kerr.ErrInvalidTransaction.With(op, "type %q cannot be applied as a transaction", tx.Type)
	}
	if tx.ID != tx.ComputeID() {
		return kerr.ErrInvalidTransaction.With(op, "id %s does not match content", tx.ID)
	}
	if _, dup := l.applied[tx.ID]; dup {
		return kerr.ErrDuplicateTransaction.With(op, "%s already applied", tx.ID)
	}
	if err := validAmount(op, tx.Amount); err != nil {
		return err
	}
	if tx.From == "" {
		return kerr.ErrInvalidTransaction.With(op, "missing sender")
	}
	if tx.Type != TxAirdrop && l.paused() {
		return kerr.ErrPaused.With(op, "ledger paused until epoch %d", l.pausedUntil)
	}

	from := l.peek(tx.From)
	if tx.Nonce != from.Nonce {
		return kerr.ErrNonceMismatch.With(op, "%s expected nonce %d, got %d", tx.From, from.Nonce, tx.Nonce)
	}
	wantFee := decimal.Zero
	if tx.Type == TxTransfer {
		wantFee = l.fee(tx.From, tx.To, tx.Amount)
	}
	if !tx.Fee.Equal(wantFee) {
		return kerr.ErrFeeMismatch.With(op, "fee %s, expected %s", tx.Fee, wantFee)
	}

	switch tx.Type {
	case TxTransfer, TxAirdrop:
		if tx.To == "" || tx.To == tx.From {
			return kerr.ErrInvalidTransaction.With(op, "invalid recipient %q", tx.To)
		}
		if tx.Type == TxAirdrop && tx.From != Treasury {
			return kerr.ErrInvalidTransaction.With(op, "airdrops are funded by the treasury")
		}
		if need := tx.Amount.Add(tx.Fee); from.Balance.LessThan(need) {
			return kerr.ErrFunds.With(op, "%s holds %s, needs %s", tx.From, from.Balance, need)
		}
	case TxStake, TxBurn:
		if from.Balance.LessThan(tx.Amount) {
			return kerr.ErrFunds.With(op, "%s holds %s, needs %s", tx.From, from.Balance, tx.Amount)
		}
	case TxUnstake:
		if from.Staked.LessThan(tx.Amount) {
			return kerr.ErrStake.With(op, "%s has %s staked, needs %s", tx.From, from.Staked, tx.Amount)
		}
	}
	return nil
}

func (l *Ledger) build(typ TxType, from, to string, amount decimal.Decimal, memo string) Transaction {
	fee := decimal.Zero
	if typ == TxTransfer {
		fee = l.fee(from, to, amount)
	}
	return NewTransaction(typ, from, to, amount, fee, l.peek(from).Nonce, l.now(), memo)
}

func (l *Ledger) submit(typ TxType, from, to string, amount decimal.Decimal, memo string) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx := l.build(typ, from, to, amount, memo)
	if err := l.applyLocked(tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// Prepare builds an unsigned transaction stamped with the sender's next
// nonce and the current fee, without applying it.
func (l *Ledger) Prepare(typ TxType, from, to string, amount decimal.Decimal, memo string) Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.build(typ, from, to, amount, memo)
}

// Transfer moves amount from one account to another, charging the gas fee
// to the sender. The recipient is created if absent.
func (l *Ledger) Transfer(from, to string, amount decimal.Decimal, memo string) (Transaction, error) {
	return l.submit(TxTransfer, from, to, amount, memo)
}

// Stake moves amount from balance into stake.
func (l *Ledger) Stake(addr string, amount decimal.Decimal) (Transaction, error) {
	return l.submit(TxStake, addr, "", amount, "")
}

// Unstake moves amount from stake into the unbonding queue. It becomes
// spendable once the unbonding period has elapsed; a further unstake resets
// the unlock epoch for the whole queue.
func (l *Ledger) Unstake(addr string, amount decimal.Decimal) (Transaction, error) {
	return l.submit(TxUnstake, addr, "", amount, "")
}

// Burn destroys amount from addr's balance, reducing supply.
func (l *Ledger) Burn(addr string, amount decimal.Decimal, reason string) (Transaction, error) {
	return l.submit(TxBurn, addr, "", amount, reason)
}

// Airdrop pays amount to every recipient from the treasury. Either every
// payment is made or none is.
func (l *Ledger) Airdrop(recipients []string, amount decimal.Decimal, reason string) ([]Transaction, error) {
	const op = "credit.airdrop"
	if len(recipients) == 0 {
		return nil, kerr.ErrValidation.With(op, "no recipients")
	}
	if err := validAmount(op, amount); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	total := amount.Mul(decimal.NewFromInt(int64(len(recipients))))
	if bal := l.peek(Treasury).Balance; bal.LessThan(total) {
		return nil, kerr.ErrFunds.With(op, "treasury holds %s, airdrop needs %s", bal, total)
	}
	for _, r := range recipients {
		if r == "" || r == Treasury {
			return nil, kerr.ErrInvalidTransaction.With(op, "invalid recipient %q", r)
		}
	}

	out := make([]Transaction, 0, len(recipients))
	for _, r := range recipients {
		tx := l.build(TxAirdrop, Treasury, r, amount, reason)
		if err := l.applyLocked(tx); err != nil {
			return out, err
		}
		out = append(out, tx)
	}
	return out, nil
}

// Allocate mints amount into addr as a registration or genesis grant. The
// mint is tracked in supply.
func (l *Ledger) Allocate(addr string, amount decimal.Decimal, reason string) error {
	const op = "credit.allocate"
	if addr == "" {
		return kerr.ErrValidation.With(op, "empty address")
	}
	if amount.IsZero() {
		l.mu.Lock()
		l.account(addr)
		l.mu.Unlock()
		return nil
	}
	if err := validAmount(op, amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.account(addr)
	a.Balance = a.Balance.Add(amount)
	l.supply.Minted = l.supply.Minted.Add(amount)
	l.record("allocate", addr, map[string]any{"amount": amount.String(), "reason": reason})
	return l.reconcileLocked(op)
}

// ApplyEarn credits an earn transaction from the civic reward pool and adds
// one unit of activity to the recipient.
func (l *Ledger) ApplyEarn(e EarnTransaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applyEarnLocked(e)
}

func (l *Ledger) checkEarnLocked(op string, e EarnTransaction) error {
	if e.ID != e.ComputeID() {
		return kerr.ErrInvalidTransaction.With(op, "id %s does not match content", e.ID)
	}
	if _, dup := l.applied[e.ID]; dup {
		return kerr.ErrDuplicateTransaction.With(op, "%s already applied", e.ID)
	}
	if e.Recipient == "" {
		return kerr.ErrInvalidTransaction.With(op, "missing recipient")
	}
	if e.Reason == "" {
		return kerr.ErrInvalidReason.With(op, "missing reason")
	}
	if err := validAmount(op, e.Amount); err != nil {
		return err
	}
	if e.Multiplier < 0 {
		return kerr.ErrInvalidAmount.With(op, "negative multiplier %v", e.Multiplier)
	}
	if credit, pool := e.Credit(), l.peek(CivicPool).Balance; pool.LessThan(credit) {
		return kerr.ErrFunds.With(op, "civic pool holds %s, reward needs %s", pool, credit)
	}
	return nil
}

func (l *Ledger) applyEarnLocked(e EarnTransaction) error {
	const op = "credit.earn_reward"
	if err := l.checkEarnLocked(op, e); err != nil {
		return err
	}
	credit := e.Credit()
	pool := l.account(CivicPool)
	pool.Balance = pool.Balance.Sub(credit)
	r := l.account(e.Recipient)
	r.Balance = r.Balance.Add(credit)
	r.RewardsEarned = r.RewardsEarned.Add(credit)
	r.Activity += 1.0
	l.applied[e.ID] = struct{}{}
	l.earns = append(l.earns, e)

	l.record(string(TxEarnReward), e.Recipient, map[string]any{
		"id":       e.ID,
		"credit":   credit.String(),
		"reason":   e.Reason,
		"cycle_id": e.CycleID,
	})
	return l.reconcileLocked(op)
}

// EarnReward builds and applies an earn transaction crediting
// floor(amount*multiplier) to recipient. Direct rewards carry a ledger
// sequence in place of an attestation hash so repeated identical rewards
// stay distinct.
func (l *Ledger) EarnReward(recipient string, amount decimal.Decimal, reason, cycleID string, multiplier float64) (EarnTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	seq := fmt.Sprintf("ledger:%d", len(l.earns))
	e := NewEarnTransaction(recipient, amount, multiplier, reason, cycleID, seq, "", l.now())
	if err := l.applyEarnLocked(e); err != nil {
		return EarnTransaction{}, err
	}
	return e, nil
}
