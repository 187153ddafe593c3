package carepay

import (
	"context"

	"github.com/xolani/carepay/billing"
	"github.com/xolani/carepay/id"
	"github.com/xolani/carepay/ledger"
	"github.com/xolani/carepay/subscription"
	"github.com/xolani/carepay/types"
	"github.com/xolani/carepay/wallet"
	"github.com/xolani/carepay/withdrawal"
)

// GetWallet returns the caregiver's wallet projection.
func (e *Engine) GetWallet(ctx context.Context, caregiverID string) (*wallet.Wallet, error) {
	if caregiverID == "" {
		return nil, ErrInvalidInput
	}
	return e.store.GetWallet(ctx, caregiverID)
}

// WalletSummary is the caregiver-facing view of a wallet.
type WalletSummary struct {
	CaregiverID  string      `json:"caregiver_id"`
	TotalEarned  types.Money `json:"total_earned"`
	Withdrawable types.Money `json:"withdrawable"`
	Pending      types.Money `json:"pending"`
	Withdrawn    types.Money `json:"withdrawn"`
	Deducted     types.Money `json:"deducted"`
}

// GetWalletSummary returns the caregiver's balances in one shot.
func (e *Engine) GetWalletSummary(ctx context.Context, caregiverID string) (*WalletSummary, error) {
	w, err := e.GetWallet(ctx, caregiverID)
	if err != nil {
		return nil, err
	}
	return &WalletSummary{
		CaregiverID:  w.CaregiverID,
		TotalEarned:  w.TotalEarned,
		Withdrawable: w.Withdrawable,
		Pending:      w.Pending,
		Withdrawn:    w.Withdrawn,
		Deducted:     w.Deducted,
	}, nil
}

// ListLedgerEntries returns the caregiver's transaction history, newest
// first.
func (e *Engine) ListLedgerEntries(ctx context.Context, caregiverID string, opts ledger.ListOpts) ([]*ledger.Entry, error) {
	if caregiverID == "" {
		return nil, ErrInvalidInput
	}
	return e.store.ListEntries(ctx, caregiverID, opts)
}

// GetSubscription returns one subscription by ID.
func (e *Engine) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	return e.store.GetSubscription(ctx, subID)
}

// ListClientSubscriptions returns a client's subscriptions.
func (e *Engine) ListClientSubscriptions(ctx context.Context, clientID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	if clientID == "" {
		return nil, ErrInvalidInput
	}
	return e.store.ListSubscriptionsByClient(ctx, clientID, opts)
}

// ListCaregiverSubscriptions returns a caregiver's subscriptions.
func (e *Engine) ListCaregiverSubscriptions(ctx context.Context, caregiverID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	if caregiverID == "" {
		return nil, ErrInvalidInput
	}
	return e.store.ListSubscriptionsByCaregiver(ctx, caregiverID, opts)
}

// ListBillingRecords returns billing receipts matching the filter.
func (e *Engine) ListBillingRecords(ctx context.Context, opts billing.ListOpts) ([]*billing.Record, error) {
	return e.store.ListBillingRecords(ctx, opts)
}

// GetWithdrawal returns one withdrawal request by ID.
func (e *Engine) GetWithdrawal(ctx context.Context, wdID id.WithdrawalID) (*withdrawal.Request, error) {
	return e.store.GetWithdrawal(ctx, wdID)
}

// ListWithdrawals returns a caregiver's withdrawal requests.
func (e *Engine) ListWithdrawals(ctx context.Context, caregiverID string, opts withdrawal.ListOpts) ([]*withdrawal.Request, error) {
	if caregiverID == "" {
		return nil, ErrInvalidInput
	}
	return e.store.ListWithdrawals(ctx, caregiverID, opts)
}
