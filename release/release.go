// Package release decides when earned funds become withdrawable.
package release

import (
	"time"

	"github.com/xolani/carepay/ledger"
	"github.com/xolani/carepay/types"
)

// DefaultHoldWindow is how long a one-time order credit stays pending
// before the sweep auto-releases it.
const DefaultHoldWindow = 7 * 24 * time.Hour

// Credit carries the facts the policy needs about an incoming ledger credit.
type Credit struct {
	// Recurring is true for subscription charges (initial or renewal).
	Recurring bool
	// FirstCycle distinguishes the initial subscription charge from renewals.
	FirstCycle bool
	// ClientApproved is true when the client explicitly approved the order.
	ClientApproved bool
	// Disputed is true when the order has an unresolved dispute hold.
	Disputed bool
}

// Decision is the policy outcome for one credit.
type Decision struct {
	// Immediate means the funds land directly in the withdrawable balance.
	Immediate bool
	// Reason is set when Immediate is true.
	Reason ledger.ReleaseReason
}

// Decide applies the release rules in order; the first match wins.
//
//  1. Unresolved dispute → funds stay pending until the hold clears.
//  2. Recurring subscription charge → release immediately (the gateway
//     charge itself is the trust signal).
//  3. Client explicitly approved → release immediately.
//  4. Otherwise → hold pending; the sweep auto-releases after the hold
//     window unless a dispute is raised first.
func Decide(c Credit) Decision {
	switch {
	case c.Disputed:
		return Decision{}
	case c.Recurring && c.FirstCycle:
		return Decision{Immediate: true, Reason: ledger.ReasonInitialSubscription}
	case c.Recurring:
		return Decision{Immediate: true, Reason: ledger.ReasonRecurringPayment}
	case c.ClientApproved:
		return Decision{Immediate: true, Reason: ledger.ReasonClientApproved}
	default:
		return Decision{}
	}
}

// Hold is one pending credit awaiting release. Holds form the queryable
// "due set" the auto-release sweep operates on; they are bookkeeping for the
// sweep, not financial records; the ledger stays the source of truth.
type Hold struct {
	types.Entity
	OrderID      string      `json:"order_id"`
	CaregiverID  string      `json:"caregiver_id"`
	Amount       types.Money `json:"amount"`
	HeldAt       time.Time   `json:"held_at"`
	ReleaseAfter time.Time   `json:"release_after"`
	Disputed     bool        `json:"disputed"`
	Released     bool        `json:"released"`
}

// NewHold creates a hold for a pending order credit.
func NewHold(orderID, caregiverID string, amount types.Money, now time.Time, window time.Duration) *Hold {
	return &Hold{
		Entity:       types.NewEntity(),
		OrderID:      orderID,
		CaregiverID:  caregiverID,
		Amount:       amount,
		HeldAt:       now,
		ReleaseAfter: now.Add(window),
	}
}

// Due reports whether the sweep should release this hold now.
func (h *Hold) Due(now time.Time) bool {
	return !h.Released && !h.Disputed && !now.Before(h.ReleaseAfter)
}
