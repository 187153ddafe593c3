// Package ledger defines the append-only financial event log.
//
// Entries are immutable: they are never edited or deleted, and corrections
// are recorded as new Adjustment entries. Replaying a caregiver's entries in
// creation order must reproduce the wallet projection exactly.
package ledger

import (
	"errors"
	"time"

	"github.com/xolani/carepay/id"
	"github.com/xolani/carepay/types"
)

// ErrInvalidEntry means an entry is missing required fields or carries a
// zero amount.
var ErrInvalidEntry = errors.New("ledger: invalid entry")

// Type classifies a ledger entry.
type Type string

const (
	TypeOrderReceived       Type = "order_received"
	TypeFundsReleased       Type = "funds_released"
	TypeWithdrawalCompleted Type = "withdrawal_completed"
	TypeRefund              Type = "refund"
	TypeDisputeHold         Type = "dispute_hold"
	TypeAdjustment          Type = "adjustment"
)

// ReleaseReason records why funds became withdrawable.
type ReleaseReason string

const (
	ReasonClientApproved      ReleaseReason = "client_approved"
	ReasonAutoReleased        ReleaseReason = "auto_released"
	ReasonRecurringPayment    ReleaseReason = "recurring_payment"
	ReasonInitialSubscription ReleaseReason = "initial_subscription"
)

// Entry is one immutable signed financial event tied to a caregiver.
// Positive amounts are credits, negative amounts are debits.
type Entry struct {
	ID          id.LedgerEntryID `json:"id"`
	CaregiverID string           `json:"caregiver_id"`
	Type        Type             `json:"type"`
	Amount      types.Money      `json:"amount"`

	// Optional links back to the originating aggregate.
	OrderID        string            `json:"order_id,omitempty"`
	ContractID     string            `json:"contract_id,omitempty"`
	SubscriptionID id.SubscriptionID `json:"subscription_id,omitempty"`
	BillingCycle   int               `json:"billing_cycle,omitempty"`

	// GatewayRef is the gateway transaction reference for entries created
	// from a gateway event. It is the idempotency key: the same reference
	// can never produce two entries.
	GatewayRef string `json:"gateway_ref,omitempty"`

	Description   string        `json:"description,omitempty"`
	ReleaseReason ReleaseReason `json:"release_reason,omitempty"`

	// BalanceAfter snapshots withdrawable + pending after this entry was
	// applied, for fast history display.
	BalanceAfter types.Money `json:"balance_after"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the fields required of every entry before it may be
// appended. FundsReleased entries are pending→withdrawable transfers and
// carry the moved amount as a positive value.
func (e *Entry) Validate() error {
	if e.CaregiverID == "" {
		return ErrInvalidEntry
	}
	if e.Amount.IsZero() {
		return ErrInvalidEntry
	}
	switch e.Type {
	case TypeOrderReceived, TypeFundsReleased, TypeWithdrawalCompleted,
		TypeRefund, TypeDisputeHold, TypeAdjustment:
	default:
		return ErrInvalidEntry
	}
	return nil
}

// IsCredit reports whether this entry adds money to the wallet.
func (e *Entry) IsCredit() bool { return e.Amount.IsPositive() }

// ListOpts controls ledger history pagination. Results are always
// newest-first.
type ListOpts struct {
	Limit  int
	Offset int
}
