package carepay

import (
	"context"
	"errors"
	"fmt"

	"github.com/xolani/carepay/id"
	"github.com/xolani/carepay/ledger"
	"github.com/xolani/carepay/types"
	"github.com/xolani/carepay/wallet"
)

// maxCASRetries bounds how many times an append re-reads the wallet after a
// version conflict before giving up.
const maxCASRetries = 5

// Append writes a ledger entry and applies it to the caregiver's wallet
// projection atomically: both succeed or both fail. It returns the balance
// snapshot (withdrawable + pending) after the entry was applied.
//
// Append never decides how much to credit or debit; callers do. It only
// guarantees validity, idempotency by gateway reference, and atomicity.
func (e *Engine) Append(ctx context.Context, entry *ledger.Entry) (types.Money, error) {
	w, err := e.appendEntry(ctx, entry)
	if err != nil {
		return types.Zero(e.currency), err
	}
	return w.Withdrawable.Add(w.Pending), nil
}

func (e *Engine) appendEntry(ctx context.Context, entry *ledger.Entry) (*wallet.Wallet, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	// Idempotency: a gateway transaction reference maps to at most one
	// entry. The store enforces this too; checking first keeps the common
	// replay case cheap and side-effect free.
	if entry.GatewayRef != "" {
		if existing, err := e.store.GetEntryByGatewayRef(ctx, entry.GatewayRef); err == nil && existing != nil {
			return nil, ErrDuplicateTransaction
		}
	}

	for attempt := 0; attempt < maxCASRetries; attempt++ {
		w, err := e.getOrCreateWallet(ctx, entry.CaregiverID)
		if err != nil {
			return nil, err
		}

		delta, err := deltaFor(entry)
		if err != nil {
			return nil, err
		}

		readVersion := w.Version
		if err := w.Apply(delta); err != nil {
			return nil, err
		}

		if entry.ID.IsNil() {
			entry.ID = id.NewLedgerEntryID()
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = e.now().UTC()
		}
		entry.BalanceAfter = w.Withdrawable.Add(w.Pending)

		err = e.store.ApplyEntry(ctx, entry, w, readVersion)
		if errors.Is(err, wallet.ErrVersionConflict) {
			continue // lost the race; re-read and re-apply
		}
		if err != nil {
			return nil, err
		}

		e.logger.Debug("ledger entry applied",
			"caregiver_id", entry.CaregiverID,
			"type", entry.Type,
			"amount", entry.Amount.Amount,
			"balance_after", entry.BalanceAfter.Amount,
		)
		return w, nil
	}

	return nil, ErrEntryConflict
}

// deltaFor maps a ledger entry onto a wallet bucket movement. The mapping is
// the single place entry semantics touch balances.
func deltaFor(entry *ledger.Entry) (wallet.Delta, error) {
	a := entry.Amount.Amount

	switch entry.Type {
	case ledger.TypeOrderReceived:
		if a <= 0 {
			return wallet.Delta{}, fmt.Errorf("%w: order credit must be positive", ledger.ErrInvalidEntry)
		}
		// A release reason on the credit means the release policy let it
		// land withdrawable immediately; otherwise it is held pending.
		return wallet.Credit(a, entry.ReleaseReason != ""), nil

	case ledger.TypeFundsReleased:
		if a <= 0 {
			return wallet.Delta{}, fmt.Errorf("%w: release amount must be positive", ledger.ErrInvalidEntry)
		}
		return wallet.Release(a), nil

	case ledger.TypeWithdrawalCompleted:
		if a >= 0 {
			return wallet.Delta{}, fmt.Errorf("%w: withdrawal must be a debit", ledger.ErrInvalidEntry)
		}
		return wallet.Withdraw(-a), nil

	case ledger.TypeRefund, ledger.TypeDisputeHold:
		if a >= 0 {
			return wallet.Delta{}, fmt.Errorf("%w: %s must be a debit", ledger.ErrInvalidEntry, entry.Type)
		}
		return wallet.Deduct(-a), nil

	case ledger.TypeAdjustment:
		return wallet.Adjust(a), nil

	default:
		return wallet.Delta{}, ledger.ErrInvalidEntry
	}
}

// Reconstruct replays every ledger entry for a caregiver in creation order
// and verifies the result against the live wallet projection. A mismatch is
// a data-integrity fault: it is reported, never repaired.
func (e *Engine) Reconstruct(ctx context.Context, caregiverID string) (*wallet.Wallet, error) {
	live, err := e.store.GetWallet(ctx, caregiverID)
	if err != nil {
		return nil, err
	}

	entries, err := e.store.ReplayEntries(ctx, caregiverID)
	if err != nil {
		return nil, err
	}

	rebuilt := wallet.New(caregiverID, live.Currency)
	for _, entry := range entries {
		delta, err := deltaFor(entry)
		if err != nil {
			return nil, err
		}
		if err := rebuilt.Apply(delta); err != nil {
			return nil, &IntegrityError{
				CaregiverID: caregiverID,
				Detail:      fmt.Sprintf("replay of entry %s failed: %v", entry.ID, err),
			}
		}
	}

	if mismatch := diffWallets(live, rebuilt); mismatch != "" {
		ie := &IntegrityError{CaregiverID: caregiverID, Detail: mismatch}
		e.logger.Error("ledger replay mismatch", "caregiver_id", caregiverID, "detail", mismatch)
		e.plugins.EmitIntegrityFault(ctx, caregiverID, mismatch)
		return nil, ie
	}

	if err := rebuilt.CheckInvariant(); err != nil {
		return nil, &IntegrityError{CaregiverID: caregiverID, Detail: err.Error()}
	}

	return rebuilt, nil
}

func diffWallets(live, rebuilt *wallet.Wallet) string {
	switch {
	case live.TotalEarned.Amount != rebuilt.TotalEarned.Amount:
		return fmt.Sprintf("total earned: live %d, replay %d", live.TotalEarned.Amount, rebuilt.TotalEarned.Amount)
	case live.Withdrawable.Amount != rebuilt.Withdrawable.Amount:
		return fmt.Sprintf("withdrawable: live %d, replay %d", live.Withdrawable.Amount, rebuilt.Withdrawable.Amount)
	case live.Pending.Amount != rebuilt.Pending.Amount:
		return fmt.Sprintf("pending: live %d, replay %d", live.Pending.Amount, rebuilt.Pending.Amount)
	case live.Withdrawn.Amount != rebuilt.Withdrawn.Amount:
		return fmt.Sprintf("withdrawn: live %d, replay %d", live.Withdrawn.Amount, rebuilt.Withdrawn.Amount)
	case live.Deducted.Amount != rebuilt.Deducted.Amount:
		return fmt.Sprintf("deducted: live %d, replay %d", live.Deducted.Amount, rebuilt.Deducted.Amount)
	}
	return ""
}

// RecordAdjustment appends a signed manual correction entry. Corrections are
// the only sanctioned way to fix past mistakes; existing entries are never
// edited.
func (e *Engine) RecordAdjustment(ctx context.Context, caregiverID string, amount types.Money, description string) (*ledger.Entry, error) {
	if caregiverID == "" || amount.IsZero() {
		return nil, ErrInvalidInput
	}

	entry := &ledger.Entry{
		CaregiverID: caregiverID,
		Type:        ledger.TypeAdjustment,
		Amount:      amount,
		Description: description,
	}
	if _, err := e.appendEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
