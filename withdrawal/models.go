// Package withdrawal defines caregiver payout requests and their
// admin-driven status flow.
package withdrawal

import (
	"errors"
	"fmt"
	"time"

	"github.com/xolani/carepay/id"
	"github.com/xolani/carepay/types"
)

// ErrInvalidTransition means a requested status change is not allowed.
var ErrInvalidTransition = errors.New("withdrawal: invalid status transition")

// Status is the withdrawal request lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusVerified  Status = "verified"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

// transitions: Pending → Verified → Completed, or Pending → Rejected.
// The wallet is only debited at Completed; rejection performs no wallet
// mutation.
var transitions = map[Status][]Status{
	StatusPending:  {StatusVerified, StatusRejected},
	StatusVerified: {StatusCompleted, StatusRejected},
}

// CanTransition reports whether from→to is an allowed status change.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Request is one caregiver payout request.
type Request struct {
	types.Entity
	ID          id.WithdrawalID `json:"id"`
	CaregiverID string          `json:"caregiver_id"`

	AmountRequested types.Money `json:"amount_requested"`
	ServiceCharge   types.Money `json:"service_charge"`
	FinalAmount     types.Money `json:"final_amount"`

	Status Status `json:"status"`

	// Admin audit fields.
	VerifiedBy  string     `json:"verified_by,omitempty"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	CompletedBy string     `json:"completed_by,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RejectedBy  string     `json:"rejected_by,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`
	AdminNotes  string     `json:"admin_notes,omitempty"`
}

// New creates a pending withdrawal request. The service charge is deducted
// from the requested amount to give the final payout.
func New(caregiverID string, requested, serviceCharge types.Money) *Request {
	return &Request{
		Entity:          types.NewEntity(),
		ID:              id.NewWithdrawalID(),
		CaregiverID:     caregiverID,
		AmountRequested: requested,
		ServiceCharge:   serviceCharge,
		FinalAmount:     requested.Subtract(serviceCharge),
		Status:          StatusPending,
	}
}

// Transition moves the request to a new status, enforcing the allowed flow.
func (r *Request) Transition(to Status) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	r.Touch()
	return nil
}

// ListOpts filters withdrawal listings.
type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
