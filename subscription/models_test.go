package subscription_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xolani/carepay/id"
	"github.com/xolani/carepay/subscription"
	"github.com/xolani/carepay/types"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from subscription.Status
		to   subscription.Status
		want bool
	}{
		{subscription.StatusActive, subscription.StatusCharging, true},
		{subscription.StatusActive, subscription.StatusPaused, true},
		{subscription.StatusActive, subscription.StatusCancelled, true},
		{subscription.StatusActive, subscription.StatusTerminated, true},
		{subscription.StatusActive, subscription.StatusExpired, true},
		{subscription.StatusActive, subscription.StatusSuspended, false},
		{subscription.StatusCharging, subscription.StatusActive, true},
		{subscription.StatusCharging, subscription.StatusPastDue, true},
		{subscription.StatusCharging, subscription.StatusSuspended, true},
		{subscription.StatusCharging, subscription.StatusPaused, false},
		{subscription.StatusPastDue, subscription.StatusCharging, true},
		{subscription.StatusPastDue, subscription.StatusSuspended, true},
		{subscription.StatusPastDue, subscription.StatusExpired, true},
		{subscription.StatusPastDue, subscription.StatusActive, false},
		{subscription.StatusSuspended, subscription.StatusCharging, true},
		{subscription.StatusSuspended, subscription.StatusTerminated, true},
		{subscription.StatusSuspended, subscription.StatusCancelled, true},
		{subscription.StatusSuspended, subscription.StatusExpired, true},
		{subscription.StatusSuspended, subscription.StatusActive, false},
		{subscription.StatusPaused, subscription.StatusActive, true},
		{subscription.StatusPaused, subscription.StatusCancelled, true},
		{subscription.StatusPaused, subscription.StatusCharging, false},

		// Terminal states admit nothing.
		{subscription.StatusCancelled, subscription.StatusActive, false},
		{subscription.StatusTerminated, subscription.StatusActive, false},
		{subscription.StatusExpired, subscription.StatusActive, false},
	}

	for _, tt := range tests {
		if got := subscription.CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	terminal := []subscription.Status{
		subscription.StatusCancelled,
		subscription.StatusTerminated,
		subscription.StatusExpired,
	}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}

	live := []subscription.Status{
		subscription.StatusActive,
		subscription.StatusCharging,
		subscription.StatusPastDue,
		subscription.StatusSuspended,
		subscription.StatusPaused,
	}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestTransition(t *testing.T) {
	sub := &subscription.Subscription{Status: subscription.StatusActive}

	if err := sub.Transition(subscription.StatusCharging); err != nil {
		t.Fatalf("Transition(Charging): %v", err)
	}
	if sub.Status != subscription.StatusCharging {
		t.Errorf("Status = %s, want charging", sub.Status)
	}

	err := sub.Transition(subscription.StatusPaused)
	if !errors.Is(err, subscription.ErrInvalidTransition) {
		t.Fatalf("Transition(Paused) = %v, want ErrInvalidTransition", err)
	}
	if sub.Status != subscription.StatusCharging {
		t.Errorf("status mutated after rejected transition: %s", sub.Status)
	}
}

func TestCycleNext(t *testing.T) {
	start := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

	if got := subscription.CycleWeekly.Next(start); !got.Equal(start.AddDate(0, 0, 7)) {
		t.Errorf("weekly Next = %v", got)
	}
	if got := subscription.CycleMonthly.Next(start); !got.Equal(start.AddDate(0, 1, 0)) {
		t.Errorf("monthly Next = %v", got)
	}

	// Month-end normalization follows time.AddDate.
	jan31 := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	mar3 := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	if got := subscription.CycleMonthly.Next(jan31); !got.Equal(mar3) {
		t.Errorf("month-end Next = %v, want %v", got, mar3)
	}
}

func newTestSubscription(start time.Time) *subscription.Subscription {
	return &subscription.Subscription{
		Entity:             types.NewEntity(),
		ID:                 id.NewSubscriptionID(),
		ClientID:           "client-1",
		CaregiverID:        "caregiver-1",
		BillingCycle:       subscription.CycleMonthly,
		RecurringAmount:    types.NGN(3000000),
		Status:             subscription.StatusActive,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   subscription.CycleMonthly.Next(start),
		NextChargeDate:     subscription.CycleMonthly.Next(start),
		BillingCyclesDone:  1,
	}
}

func TestAdvancePeriod(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sub := newTestSubscription(start)
	sub.FailedChargeAttempts = 2
	retry := start.Add(6 * time.Hour)
	sub.NextRetryAt = &retry
	sub.ChargeRef = "ref-1"
	charging := start
	sub.ChargingSince = &charging

	oldEnd := sub.CurrentPeriodEnd
	now := oldEnd.Add(time.Hour)
	sub.AdvancePeriod(now)

	if !sub.CurrentPeriodStart.Equal(oldEnd) {
		t.Errorf("CurrentPeriodStart = %v, want %v", sub.CurrentPeriodStart, oldEnd)
	}
	if want := subscription.CycleMonthly.Next(oldEnd); !sub.CurrentPeriodEnd.Equal(want) {
		t.Errorf("CurrentPeriodEnd = %v, want %v", sub.CurrentPeriodEnd, want)
	}
	if !sub.NextChargeDate.Equal(sub.CurrentPeriodEnd) {
		t.Errorf("NextChargeDate = %v, want %v", sub.NextChargeDate, sub.CurrentPeriodEnd)
	}
	if sub.BillingCyclesDone != 2 {
		t.Errorf("BillingCyclesDone = %d, want 2", sub.BillingCyclesDone)
	}
	if sub.FailedChargeAttempts != 0 || sub.NextRetryAt != nil {
		t.Error("retry budget not reset on rollover")
	}
	if sub.ChargingSince != nil || sub.ChargeRef != "" {
		t.Error("charging bookkeeping not cleared on rollover")
	}
}

func TestAdvancePeriodAppliesPlanChange(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sub := newTestSubscription(start)
	sub.PlanChanges = append(sub.PlanChanges, subscription.PlanChange{
		RequestedAt:  start.AddDate(0, 0, 10),
		NewAmount:    types.NGN(4500000),
		NewFrequency: 3,
	})

	// The change is pending until the rollover.
	if pc := sub.PendingPlanChange(); pc == nil {
		t.Fatal("expected pending plan change")
	}
	if !sub.RecurringAmount.Equal(types.NGN(3000000)) {
		t.Error("current period re-priced before rollover")
	}

	now := sub.CurrentPeriodEnd
	sub.AdvancePeriod(now)

	if !sub.RecurringAmount.Equal(types.NGN(4500000)) {
		t.Errorf("RecurringAmount = %s, want %s", sub.RecurringAmount, types.NGN(4500000))
	}
	if sub.FrequencyPerWeek != 3 {
		t.Errorf("FrequencyPerWeek = %d, want 3", sub.FrequencyPerWeek)
	}
	if sub.PendingPlanChange() != nil {
		t.Error("plan change still pending after rollover")
	}
	if sub.PlanChanges[0].AppliedAt == nil {
		t.Error("AppliedAt not stamped")
	}
}

func TestPendingPlanChangeReturnsLatest(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sub := newTestSubscription(start)

	applied := start
	sub.PlanChanges = []subscription.PlanChange{
		{RequestedAt: start, NewAmount: types.NGN(100), AppliedAt: &applied},
		{RequestedAt: start.AddDate(0, 0, 1), NewAmount: types.NGN(200)},
		{RequestedAt: start.AddDate(0, 0, 2), NewAmount: types.NGN(300)},
	}

	pc := sub.PendingPlanChange()
	if pc == nil {
		t.Fatal("expected pending plan change")
	}
	if !pc.NewAmount.Equal(types.NGN(300)) {
		t.Errorf("pending change amount = %s, want most recent", pc.NewAmount)
	}
}

func TestStartFreshPeriod(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sub := newTestSubscription(start)

	resume := start.AddDate(0, 0, 45)
	sub.StartFreshPeriod(resume)

	if !sub.CurrentPeriodStart.Equal(resume) {
		t.Errorf("CurrentPeriodStart = %v, want %v", sub.CurrentPeriodStart, resume)
	}
	if want := subscription.CycleMonthly.Next(resume); !sub.CurrentPeriodEnd.Equal(want) {
		t.Errorf("CurrentPeriodEnd = %v, want %v", sub.CurrentPeriodEnd, want)
	}
	if !sub.NextChargeDate.Equal(sub.CurrentPeriodEnd) {
		t.Errorf("NextChargeDate = %v", sub.NextChargeDate)
	}
}

func TestPeriodDays(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sub := newTestSubscription(start)

	if got := sub.PeriodDays(); got != 31 {
		t.Errorf("PeriodDays = %d, want 31", got)
	}

	sub.BillingCycle = subscription.CycleWeekly
	sub.CurrentPeriodEnd = start.AddDate(0, 0, 7)
	if got := sub.PeriodDays(); got != 7 {
		t.Errorf("weekly PeriodDays = %d, want 7", got)
	}

	// Degenerate period still counts as one day.
	sub.CurrentPeriodEnd = start
	if got := sub.PeriodDays(); got != 1 {
		t.Errorf("zero-length PeriodDays = %d, want 1", got)
	}
}

func TestRemainingDays(t *testing.T) {
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	sub := newTestSubscription(start)
	sub.CurrentPeriodEnd = start.AddDate(0, 0, 30)

	tests := []struct {
		name string
		now  time.Time
		want int64
	}{
		{"period start", start, 30},
		{"day 10", start.AddDate(0, 0, 10), 20},
		{"last day", start.AddDate(0, 0, 29), 1},
		{"period end", sub.CurrentPeriodEnd, 0},
		{"after end", sub.CurrentPeriodEnd.AddDate(0, 0, 5), 0},
		{"before start clamps to period length", start.AddDate(0, 0, -10), 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sub.RemainingDays(tt.now); got != tt.want {
				t.Errorf("RemainingDays(%v) = %d, want %d", tt.now, got, tt.want)
			}
		})
	}
}
