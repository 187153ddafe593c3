// Package gateway defines the seam to the external payment gateway.
//
// The gateway itself is an external service: it performs charges and refunds
// and answers status queries. Every charge attempt carries a unique
// reference so a retried call cannot double-charge.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xolani/carepay/types"
)

// Gateway is implemented by payment gateway adapters.
type Gateway interface {
	// Charge performs an off-session charge against a stored payment
	// token. The request reference is the idempotency key: submitting the
	// same reference twice must not charge twice.
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)

	// Refund returns money to the client for a prior transaction.
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)

	// VerifyTransaction returns the authoritative status of a reference.
	// Used by the crash-recovery pass to reconcile in-flight charges.
	VerifyTransaction(ctx context.Context, reference string) (*TransactionStatus, error)
}

// NewReference generates a unique transaction reference for one charge or
// refund attempt.
func NewReference() string {
	return "txn_" + uuid.NewString()
}

// ChargeRequest is one idempotent charge attempt.
type ChargeRequest struct {
	Reference string
	Token     string // stored payment token for off-session charging
	Amount    types.Money
	ClientID  string
	Narration string
}

// ChargeResult is the gateway's answer to a successful charge.
type ChargeResult struct {
	Reference string
	Amount    types.Money
	// Token is a reusable payment token the gateway may rotate on charge.
	Token     string
	ChargedAt time.Time
}

// RefundRequest asks the gateway to return money for a prior transaction.
type RefundRequest struct {
	Reference         string // new reference for this refund
	OriginalReference string // transaction being refunded
	Amount            types.Money
	Narration         string
}

// RefundResult is the gateway's answer to a successful refund.
type RefundResult struct {
	Reference  string
	Amount     types.Money
	RefundedAt time.Time
}

// TxState is the gateway-side state of a transaction.
type TxState string

const (
	TxSuccess  TxState = "success"
	TxFailed   TxState = "failed"
	TxPending  TxState = "pending"
	TxNotFound TxState = "not_found"
)

// TransactionStatus is the authoritative answer from VerifyTransaction.
type TransactionStatus struct {
	Reference string
	State     TxState
	Amount    types.Money
}

// Error is a typed gateway failure. Transient errors drive retry with
// backoff in the billing machine; permanent ones (declined card, invalid
// token) count against the subscription's retry budget immediately.
type Error struct {
	Code      string
	Message   string
	Transient bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway: %s: %s", e.Code, e.Message)
}

// IsTransient reports whether err is a gateway error worth retrying.
func IsTransient(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Transient
}
