package carepay

import (
	"context"
	"fmt"

	"github.com/xolani/carepay/id"
	"github.com/xolani/carepay/ledger"
	"github.com/xolani/carepay/types"
	"github.com/xolani/carepay/withdrawal"
)

// RequestWithdrawal opens a payout request against the caregiver's
// withdrawable balance. The wallet is not debited here; funds only leave at
// completion. The request is validated against the balance at request time,
// so concurrent requests can over-subscribe the balance and lose at
// completion instead.
func (e *Engine) RequestWithdrawal(ctx context.Context, caregiverID string, amount types.Money) (*withdrawal.Request, error) {
	if caregiverID == "" || !amount.IsPositive() {
		return nil, ErrInvalidInput
	}

	w, err := e.store.GetWallet(ctx, caregiverID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(w.Withdrawable) {
		return nil, fmt.Errorf("%w: requested %s, withdrawable %s",
			ErrInsufficientFunds, amount, w.Withdrawable)
	}

	fee := types.Money{
		Amount:   amount.Amount * e.withdrawalFeeBps / 10000,
		Currency: amount.Currency,
	}
	req := withdrawal.New(caregiverID, amount, fee)
	if err := e.store.CreateWithdrawal(ctx, req); err != nil {
		return nil, err
	}

	e.logger.Info("withdrawal requested",
		"withdrawal_id", req.ID,
		"caregiver_id", caregiverID,
		"amount", amount.Amount,
		"fee", fee.Amount,
	)
	return req, nil
}

// VerifyWithdrawal marks a pending request as verified by an admin.
func (e *Engine) VerifyWithdrawal(ctx context.Context, wdID id.WithdrawalID, adminID, notes string) error {
	req, err := e.store.GetWithdrawal(ctx, wdID)
	if err != nil {
		return err
	}
	if err := req.Transition(withdrawal.StatusVerified); err != nil {
		return err
	}

	now := e.now().UTC()
	req.VerifiedBy = adminID
	req.VerifiedAt = &now
	if notes != "" {
		req.AdminNotes = notes
	}
	return e.store.UpdateWithdrawal(ctx, req)
}

// CompleteWithdrawal settles a verified request: the ledger debit is written
// first, so when concurrent completions race over the same balance the
// losers fail deterministically with ErrInsufficientFunds and their requests
// stay verified.
func (e *Engine) CompleteWithdrawal(ctx context.Context, wdID id.WithdrawalID, adminID string) (*ledger.Entry, error) {
	req, err := e.store.GetWithdrawal(ctx, wdID)
	if err != nil {
		return nil, err
	}
	if !withdrawal.CanTransition(req.Status, withdrawal.StatusCompleted) {
		return nil, fmt.Errorf("%w: %s → %s", withdrawal.ErrInvalidTransition, req.Status, withdrawal.StatusCompleted)
	}

	entry := &ledger.Entry{
		CaregiverID: req.CaregiverID,
		Type:        ledger.TypeWithdrawalCompleted,
		Amount:      req.AmountRequested.Negate(),
		Description: fmt.Sprintf("withdrawal %s completed", req.ID),
	}
	if _, err := e.appendEntry(ctx, entry); err != nil {
		return nil, err
	}

	if err := req.Transition(withdrawal.StatusCompleted); err != nil {
		return nil, err
	}
	now := e.now().UTC()
	req.CompletedBy = adminID
	req.CompletedAt = &now
	if err := e.store.UpdateWithdrawal(ctx, req); err != nil {
		return nil, err
	}

	e.plugins.EmitWithdrawalCompleted(ctx, req)
	e.logger.Info("withdrawal completed",
		"withdrawal_id", req.ID,
		"caregiver_id", req.CaregiverID,
		"amount", req.AmountRequested.Amount,
	)
	return entry, nil
}

// RejectWithdrawal declines a pending or verified request. No wallet
// mutation: funds were never moved.
func (e *Engine) RejectWithdrawal(ctx context.Context, wdID id.WithdrawalID, adminID, reason string) error {
	req, err := e.store.GetWithdrawal(ctx, wdID)
	if err != nil {
		return err
	}
	if err := req.Transition(withdrawal.StatusRejected); err != nil {
		return err
	}

	now := e.now().UTC()
	req.RejectedBy = adminID
	req.RejectedAt = &now
	if reason != "" {
		req.AdminNotes = reason
	}
	if err := e.store.UpdateWithdrawal(ctx, req); err != nil {
		return err
	}

	e.logger.Info("withdrawal rejected", "withdrawal_id", req.ID, "admin", adminID)
	return nil
}
