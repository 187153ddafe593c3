// Package plugin provides an extensible plugin system for carepay.
// Plugins can hook into financial lifecycle events to extend functionality
// (notifications, audit trails, analytics) without touching the engine.
package plugin

import (
	"context"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Ledger / wallet hooks
// ──────────────────────────────────────────────────

// OnWalletCredited is called after a credit entry is applied to a wallet.
type OnWalletCredited interface {
	Plugin
	OnWalletCredited(ctx context.Context, entry interface{}) error
}

// OnFundsReleased is called when pending funds become withdrawable.
type OnFundsReleased interface {
	Plugin
	OnFundsReleased(ctx context.Context, entry interface{}) error
}

// OnIntegrityFault is called when a ledger replay does not match the live
// wallet projection. This is a halt-and-alert signal, never auto-repaired.
type OnIntegrityFault interface {
	Plugin
	OnIntegrityFault(ctx context.Context, caregiverID string, detail string) error
}

// ──────────────────────────────────────────────────
// Billing hooks
// ──────────────────────────────────────────────────

// OnChargeSucceeded is called after a successful subscription charge.
type OnChargeSucceeded interface {
	Plugin
	OnChargeSucceeded(ctx context.Context, sub interface{}, record interface{}) error
}

// OnChargeFailed is called after a failed subscription charge attempt.
type OnChargeFailed interface {
	Plugin
	OnChargeFailed(ctx context.Context, sub interface{}, attempt int, cause error) error
}

// OnSubscriptionSuspended is called when a subscription exhausts its retry
// budget and service delivery stops.
type OnSubscriptionSuspended interface {
	Plugin
	OnSubscriptionSuspended(ctx context.Context, sub interface{}) error
}

// OnSubscriptionTerminated is called on immediate termination.
type OnSubscriptionTerminated interface {
	Plugin
	OnSubscriptionTerminated(ctx context.Context, sub interface{}, refunded interface{}) error
}

// ──────────────────────────────────────────────────
// Withdrawal hooks
// ──────────────────────────────────────────────────

// OnWithdrawalCompleted is called after a withdrawal debit lands.
type OnWithdrawalCompleted interface {
	Plugin
	OnWithdrawalCompleted(ctx context.Context, request interface{}) error
}
