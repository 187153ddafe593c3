// Package subscription defines the recurring service agreement and its
// billing lifecycle state machine.
package subscription

import (
	"errors"
	"fmt"
	"time"

	"github.com/xolani/carepay/id"
	"github.com/xolani/carepay/types"
)

// ErrInvalidTransition means a requested status change is not in the
// transition table. The subscription is not mutated.
var ErrInvalidTransition = errors.New("subscription: invalid status transition")

// Status is the subscription lifecycle state.
type Status string

const (
	StatusActive     Status = "active"
	StatusCharging   Status = "charging" // transient: a gateway call is in flight
	StatusPastDue    Status = "past_due"
	StatusSuspended  Status = "suspended"
	StatusPaused     Status = "paused"
	StatusCancelled  Status = "cancelled"
	StatusTerminated Status = "terminated"
	StatusExpired    Status = "expired"
)

// transitions is the explicit allow-list. Anything absent is rejected at the
// boundary rather than left to ad-hoc conditionals. Cancelled, Terminated and
// Expired are terminal.
var transitions = map[Status][]Status{
	StatusActive:    {StatusCharging, StatusPaused, StatusCancelled, StatusTerminated, StatusExpired},
	StatusCharging:  {StatusActive, StatusPastDue, StatusSuspended, StatusTerminated},
	StatusPastDue:   {StatusCharging, StatusSuspended, StatusCancelled, StatusTerminated, StatusExpired},
	StatusSuspended: {StatusCharging, StatusCancelled, StatusTerminated, StatusExpired},
	StatusPaused:    {StatusActive, StatusCancelled, StatusTerminated},
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

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusTerminated || s == StatusExpired
}

// Cycle is the recurring billing period length.
type Cycle string

const (
	CycleWeekly  Cycle = "weekly"
	CycleMonthly Cycle = "monthly"
)

// Next returns the end of a period starting at t.
func (c Cycle) Next(t time.Time) time.Time {
	if c == CycleWeekly {
		return t.AddDate(0, 0, 7)
	}
	return t.AddDate(0, 1, 0)
}

// PlanChange records a requested upgrade or downgrade. Changes only take
// effect at the next rollover; the current period is never re-priced.
type PlanChange struct {
	RequestedAt  time.Time   `json:"requested_at"`
	NewAmount    types.Money `json:"new_amount"`
	NewFrequency int         `json:"new_frequency_per_week"`
	AppliedAt    *time.Time  `json:"applied_at,omitempty"`
}

// PaymentAttempt records one gateway charge attempt against this
// subscription, successful or not.
type PaymentAttempt struct {
	ID        id.PaymentAttemptID `json:"id"`
	Reference string              `json:"reference"`
	Amount    types.Money         `json:"amount"`
	At        time.Time           `json:"at"`
	Succeeded bool                `json:"succeeded"`
	Error     string              `json:"error,omitempty"`
}

// Subscription is one recurring service agreement between a client and a
// caregiver.
type Subscription struct {
	types.Entity
	ID          id.SubscriptionID `json:"id"`
	ClientID    string            `json:"client_id"`
	CaregiverID string            `json:"caregiver_id"`
	OrderID     string            `json:"order_id,omitempty"`
	ContractID  string            `json:"contract_id,omitempty"`

	// Plan
	BillingCycle     Cycle       `json:"billing_cycle"`
	FrequencyPerWeek int         `json:"frequency_per_week"`
	RecurringAmount  types.Money `json:"recurring_amount"`
	OrderFee         types.Money `json:"order_fee"`
	ServiceCharge    types.Money `json:"service_charge"`
	GatewayFees      types.Money `json:"gateway_fees"`

	// EndDate bounds a fixed-term agreement: once it passes, the sweep
	// expires the subscription instead of charging another cycle. Nil means
	// the subscription renews until cancelled.
	EndDate *time.Time `json:"end_date,omitempty"`

	Status               Status    `json:"status"`
	CurrentPeriodStart   time.Time `json:"current_period_start"`
	CurrentPeriodEnd     time.Time `json:"current_period_end"`
	NextChargeDate       time.Time `json:"next_charge_date"`
	BillingCyclesDone    int       `json:"billing_cycles_completed"`
	FailedChargeAttempts int       `json:"failed_charge_attempts"`
	MaxRetryAttempts     int       `json:"max_retry_attempts"`

	// NextRetryAt schedules the next past-due retry; persisted so the
	// rollover sweep stays restart-safe.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	// Charging guard bookkeeping for crash recovery.
	ChargingSince *time.Time `json:"charging_since,omitempty"`
	ChargeRef     string     `json:"charge_ref,omitempty"`

	// Cancellation
	CancelAtPeriodEnd       bool       `json:"cancel_at_period_end"`
	CancellationRequestedAt *time.Time `json:"cancellation_requested_at,omitempty"`
	EndedAt                 *time.Time `json:"ended_at,omitempty"`

	// PaymentToken is the gateway token usable for off-session charges.
	PaymentToken string `json:"payment_token,omitempty"`

	PlanChanges     []PlanChange     `json:"plan_changes,omitempty"`
	PaymentAttempts []PaymentAttempt `json:"payment_attempts,omitempty"`
}

// Transition moves the subscription to a new status, enforcing the
// transition table.
func (s *Subscription) Transition(to Status) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	s.Touch()
	return nil
}

// AdvancePeriod rolls the subscription into its next billing period after a
// successful charge: the new period starts where the old one ended, the
// retry budget resets, and any pending plan change takes effect.
func (s *Subscription) AdvancePeriod(now time.Time) {
	if pc := s.PendingPlanChange(); pc != nil {
		s.RecurringAmount = pc.NewAmount
		if pc.NewFrequency > 0 {
			s.FrequencyPerWeek = pc.NewFrequency
		}
		applied := now
		pc.AppliedAt = &applied
	}

	s.CurrentPeriodStart = s.CurrentPeriodEnd
	s.CurrentPeriodEnd = s.BillingCycle.Next(s.CurrentPeriodStart)
	s.NextChargeDate = s.CurrentPeriodEnd
	s.BillingCyclesDone++
	s.FailedChargeAttempts = 0
	s.NextRetryAt = nil
	s.ChargingSince = nil
	s.ChargeRef = ""
	s.Touch()
}

// StartFreshPeriod begins a brand-new billing period at t. Used on resume:
// the old period's remaining days are not carried over.
func (s *Subscription) StartFreshPeriod(t time.Time) {
	s.CurrentPeriodStart = t
	s.CurrentPeriodEnd = s.BillingCycle.Next(t)
	s.NextChargeDate = s.CurrentPeriodEnd
	s.Touch()
}

// PendingPlanChange returns the most recent unapplied plan change, if any.
func (s *Subscription) PendingPlanChange() *PlanChange {
	for i := len(s.PlanChanges) - 1; i >= 0; i-- {
		if s.PlanChanges[i].AppliedAt == nil {
			return &s.PlanChanges[i]
		}
	}
	return nil
}

// PeriodDays returns the whole-day length of the current billing period,
// never less than 1.
func (s *Subscription) PeriodDays() int64 {
	days := int64(s.CurrentPeriodEnd.Sub(s.CurrentPeriodStart).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

// RemainingDays returns the whole days left in the current period at now,
// clamped to [0, PeriodDays].
func (s *Subscription) RemainingDays(now time.Time) int64 {
	if now.After(s.CurrentPeriodEnd) {
		return 0
	}
	days := int64(s.CurrentPeriodEnd.Sub(now).Hours() / 24)
	if days < 0 {
		return 0
	}
	if max := s.PeriodDays(); days > max {
		return max
	}
	return days
}

// ListOpts filters subscription listings.
type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
