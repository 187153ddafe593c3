package carepay

import (
	"errors"
	"fmt"

	"github.com/xolani/carepay/gateway"
	"github.com/xolani/carepay/subscription"
	"github.com/xolani/carepay/wallet"
	"github.com/xolani/carepay/withdrawal"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("carepay: not found")
	ErrAlreadyExists = errors.New("carepay: already exists")
	ErrInvalidInput  = errors.New("carepay: invalid input")

	// Wallet errors
	ErrWalletNotFound = errors.New("carepay: wallet not found")

	// Ledger errors
	ErrDuplicateTransaction = errors.New("carepay: duplicate gateway transaction")
	ErrEntryConflict        = errors.New("carepay: entry could not be applied after retries")

	// Release errors
	ErrHoldNotFound   = errors.New("carepay: release hold not found")
	ErrHoldReleased   = errors.New("carepay: funds already released")
	ErrOrderDisputed  = errors.New("carepay: order has an open dispute")
	ErrNoOpenDispute  = errors.New("carepay: order has no open dispute")
	ErrAlreadyCredit  = errors.New("carepay: order already credited")
	ErrNoPaymentToken = errors.New("carepay: subscription has no payment token")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("carepay: subscription not found")
	ErrChargeInFlight       = errors.New("carepay: charge already in flight")

	// Withdrawal errors
	ErrWithdrawalNotFound = errors.New("carepay: withdrawal request not found")
)

// Re-exported contract errors so callers only need this package.
var (
	// ErrVersionConflict: retry with a fresh read.
	ErrVersionConflict = wallet.ErrVersionConflict
	// ErrInsufficientFunds: terminal, surfaced to the caller.
	ErrInsufficientFunds = wallet.ErrInsufficientFunds
)

// IntegrityError reports a ledger replay that does not match the live
// wallet projection. It is never silently repaired: the caller must halt
// and alert.
type IntegrityError struct {
	CaregiverID string
	Detail      string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("carepay: data integrity fault for caregiver %s: %s", e.CaregiverID, e.Detail)
}

// IsNotFound returns true if the error is any not-found variant.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrWithdrawalNotFound) ||
		errors.Is(err, ErrHoldNotFound)
}

// IsInvalidTransition returns true for rejected state-machine transitions.
// No mutation has occurred when this is returned.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, subscription.ErrInvalidTransition) ||
		errors.Is(err, withdrawal.ErrInvalidTransition)
}

// IsRetryable returns true if the error is temporary and the operation can
// be retried (with a fresh read for version conflicts, with backoff for
// gateway faults).
func IsRetryable(err error) bool {
	return errors.Is(err, wallet.ErrVersionConflict) ||
		errors.Is(err, ErrChargeInFlight) ||
		gateway.IsTransient(err)
}

// IsIntegrityFault returns true for ledger/projection mismatches.
func IsIntegrityFault(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
