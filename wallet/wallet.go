// Package wallet defines the caregiver wallet aggregate.
//
// A wallet is a cached projection of the caregiver's ledger: it is only ever
// mutated by applying ledger-entry deltas, and it can always be rebuilt by
// replaying the ledger in order. Every mutation is guarded by optimistic
// concurrency on the Version counter.
package wallet

import (
	"errors"
	"fmt"

	"github.com/xolani/carepay/id"
	"github.com/xolani/carepay/types"
)

// Sentinel errors for the wallet mutation contract.
var (
	// ErrVersionConflict means the stored wallet version advanced past the
	// version the caller read. Re-read and retry.
	ErrVersionConflict = errors.New("wallet: version conflict")

	// ErrInsufficientFunds means a debit would push a balance bucket below
	// zero. Balances are never clamped.
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
)

// Wallet holds the current balance buckets for one caregiver.
//
// Invariant: TotalEarned == Withdrawable + Pending + Withdrawn + Deducted,
// and every bucket is non-negative.
type Wallet struct {
	types.Entity
	ID          id.WalletID `json:"id"`
	CaregiverID string      `json:"caregiver_id"`
	Currency    string      `json:"currency"`

	TotalEarned  types.Money `json:"total_earned"`
	Withdrawable types.Money `json:"withdrawable_balance"`
	Pending      types.Money `json:"pending_balance"`
	Withdrawn    types.Money `json:"total_withdrawn"`
	// Deducted accumulates refunds, dispute-hold debits and negative
	// adjustments so the earnings identity stays checkable from the
	// wallet row alone.
	Deducted types.Money `json:"total_deducted"`

	// Version is incremented by the store on every successful update and
	// is the optimistic-concurrency token for all mutations.
	Version int64 `json:"version"`
}

// New creates an empty wallet for a caregiver.
func New(caregiverID, currency string) *Wallet {
	return &Wallet{
		Entity:       types.NewEntity(),
		ID:           id.NewWalletID(),
		CaregiverID:  caregiverID,
		Currency:     currency,
		TotalEarned:  types.Zero(currency),
		Withdrawable: types.Zero(currency),
		Pending:      types.Zero(currency),
		Withdrawn:    types.Zero(currency),
		Deducted:     types.Zero(currency),
	}
}

// Delta is a signed movement across the wallet's balance buckets, expressed
// in the smallest currency unit. A single Delta is applied atomically, so a
// pending→withdrawable move is one Delta with both legs.
type Delta struct {
	Earned       int64
	Withdrawable int64
	Pending      int64
	Withdrawn    int64
	Deducted     int64
}

// Credit moves a new earning into the wallet. Released credits land in the
// withdrawable bucket, held credits in pending.
func Credit(amount int64, released bool) Delta {
	d := Delta{Earned: amount}
	if released {
		d.Withdrawable = amount
	} else {
		d.Pending = amount
	}
	return d
}

// Release moves held funds from pending to withdrawable.
func Release(amount int64) Delta {
	return Delta{Pending: -amount, Withdrawable: amount}
}

// Withdraw moves funds from withdrawable to the withdrawn total.
func Withdraw(amount int64) Delta {
	return Delta{Withdrawable: -amount, Withdrawn: amount}
}

// Deduct removes released funds from the wallet (refunds, dispute-hold
// debits) into the deducted total.
func Deduct(amount int64) Delta {
	return Delta{Withdrawable: -amount, Deducted: amount}
}

// Adjust applies a signed manual correction against the withdrawable bucket.
// Positive adjustments count as earnings; negative ones as deductions.
func Adjust(amount int64) Delta {
	if amount >= 0 {
		return Delta{Earned: amount, Withdrawable: amount}
	}
	return Delta{Withdrawable: amount, Deducted: -amount}
}

// Apply mutates the wallet's balances by the delta. It fails with
// ErrInsufficientFunds if any bucket would go negative, leaving the wallet
// untouched. Version is not changed here; the store bumps it on a
// successful compare-and-swap.
func (w *Wallet) Apply(d Delta) error {
	earned := w.TotalEarned.Amount + d.Earned
	withdrawable := w.Withdrawable.Amount + d.Withdrawable
	pending := w.Pending.Amount + d.Pending
	withdrawn := w.Withdrawn.Amount + d.Withdrawn
	deducted := w.Deducted.Amount + d.Deducted

	if withdrawable < 0 || pending < 0 || earned < 0 || withdrawn < 0 || deducted < 0 {
		return ErrInsufficientFunds
	}

	w.TotalEarned.Amount = earned
	w.Withdrawable.Amount = withdrawable
	w.Pending.Amount = pending
	w.Withdrawn.Amount = withdrawn
	w.Deducted.Amount = deducted
	w.Touch()

	return nil
}

// CheckInvariant verifies the earnings identity. A violation means the
// projection has diverged from the ledger and must never be silently
// repaired.
func (w *Wallet) CheckInvariant() error {
	sum := w.Withdrawable.Amount + w.Pending.Amount + w.Withdrawn.Amount + w.Deducted.Amount
	if w.TotalEarned.Amount != sum {
		return fmt.Errorf("wallet %s: total earned %d != bucket sum %d",
			w.CaregiverID, w.TotalEarned.Amount, sum)
	}
	return nil
}

// Clone returns a deep copy. Stores hand out clones so callers cannot
// mutate the stored projection without going through the CAS update.
func (w *Wallet) Clone() *Wallet {
	c := *w
	return &c
}
