// Package store defines the unified storage interface for carepay.
package store

import (
	"context"
	"time"

	"github.com/xolani/carepay/billing"
	"github.com/xolani/carepay/id"
	"github.com/xolani/carepay/ledger"
	"github.com/xolani/carepay/release"
	"github.com/xolani/carepay/subscription"
	"github.com/xolani/carepay/wallet"
	"github.com/xolani/carepay/withdrawal"
)

// Store is the unified storage interface for all carepay entities. Instead
// of embedding sub-interfaces, all methods are declared explicitly to avoid
// naming conflicts.
//
// Contract notes:
//   - UpdateWallet and ApplyEntry must fail with wallet.ErrVersionConflict
//     when expectedVersion no longer matches the stored row, and must bump
//     the stored version by exactly one on success.
//   - ApplyEntry must write the ledger entry and the wallet projection
//     atomically: both succeed or both fail.
//   - AppendEntry and ApplyEntry must reject a duplicate non-empty
//     GatewayRef so a replayed gateway event cannot double-credit.
//   - ClaimForCharge must atomically move a subscription from the given
//     status into Charging, so only one rollover attempt can be in flight
//     per subscription.
type Store interface {
	// Wallet methods
	CreateWallet(ctx context.Context, w *wallet.Wallet) error
	GetWallet(ctx context.Context, caregiverID string) (*wallet.Wallet, error)
	UpdateWallet(ctx context.Context, w *wallet.Wallet, expectedVersion int64) error

	// Ledger methods
	ApplyEntry(ctx context.Context, e *ledger.Entry, w *wallet.Wallet, expectedVersion int64) error
	ListEntries(ctx context.Context, caregiverID string, opts ledger.ListOpts) ([]*ledger.Entry, error)
	ReplayEntries(ctx context.Context, caregiverID string) ([]*ledger.Entry, error)
	GetEntryByGatewayRef(ctx context.Context, ref string) (*ledger.Entry, error)

	// Release hold methods
	CreateHold(ctx context.Context, h *release.Hold) error
	GetHold(ctx context.Context, orderID string) (*release.Hold, error)
	UpdateHold(ctx context.Context, h *release.Hold) error
	ListDueHolds(ctx context.Context, now time.Time) ([]*release.Hold, error)

	// Subscription methods
	CreateSubscription(ctx context.Context, s *subscription.Subscription) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error)
	UpdateSubscription(ctx context.Context, s *subscription.Subscription) error
	ClaimForCharge(ctx context.Context, subID id.SubscriptionID, from subscription.Status) (*subscription.Subscription, error)
	ListDueSubscriptions(ctx context.Context, now time.Time) ([]*subscription.Subscription, error)
	ListStuckCharging(ctx context.Context, before time.Time) ([]*subscription.Subscription, error)
	ListSubscriptionsByClient(ctx context.Context, clientID string, opts subscription.ListOpts) ([]*subscription.Subscription, error)
	ListSubscriptionsByCaregiver(ctx context.Context, caregiverID string, opts subscription.ListOpts) ([]*subscription.Subscription, error)

	// Billing record methods
	CreateBillingRecord(ctx context.Context, r *billing.Record) error
	GetBillingRecordByRef(ctx context.Context, gatewayRef string) (*billing.Record, error)
	ListBillingRecords(ctx context.Context, opts billing.ListOpts) ([]*billing.Record, error)

	// Withdrawal methods
	CreateWithdrawal(ctx context.Context, r *withdrawal.Request) error
	GetWithdrawal(ctx context.Context, wdID id.WithdrawalID) (*withdrawal.Request, error)
	UpdateWithdrawal(ctx context.Context, r *withdrawal.Request) error
	ListWithdrawals(ctx context.Context, caregiverID string, opts withdrawal.ListOpts) ([]*withdrawal.Request, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
