package carepay_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xolani/carepay"
	"github.com/xolani/carepay/billing"
	"github.com/xolani/carepay/gateway"
	"github.com/xolani/carepay/ledger"
	"github.com/xolani/carepay/subscription"
	"github.com/xolani/carepay/types"
)

// declined is a permanent gateway failure: it must count against the retry
// budget immediately, without in-attempt backoff.
var declined = &gateway.Error{Code: "card_declined", Message: "card was declined", Transient: false}

func startTestSubscription(t *testing.T, e *carepay.Engine, ref string) *subscription.Subscription {
	t.Helper()

	sub := &subscription.Subscription{
		ClientID:        "cl-1",
		CaregiverID:     "cg-1",
		OrderID:         "order-1",
		BillingCycle:    subscription.CycleMonthly,
		RecurringAmount: types.NGN(3000000), // ₦30,000/month
		PaymentToken:    "tok_1",
	}
	if err := e.StartSubscription(context.Background(), sub, ref); err != nil {
		t.Fatalf("StartSubscription: %v", err)
	}
	return sub
}

func TestStartSubscription(t *testing.T) {
	e, _, _, clock := newTestEngine()
	ctx := context.Background()

	sub := startTestSubscription(t, e, "txn_init")

	if sub.Status != subscription.StatusActive {
		t.Errorf("Status = %s, want active", sub.Status)
	}
	if sub.BillingCyclesDone != 1 {
		t.Errorf("BillingCyclesDone = %d, want 1", sub.BillingCyclesDone)
	}
	now := clock.Now()
	if !sub.CurrentPeriodStart.Equal(now) {
		t.Errorf("CurrentPeriodStart = %v, want %v", sub.CurrentPeriodStart, now)
	}
	if want := now.AddDate(0, 1, 0); !sub.NextChargeDate.Equal(want) {
		t.Errorf("NextChargeDate = %v, want %v", sub.NextChargeDate, want)
	}

	// The initial charge is credited and released immediately.
	w, err := e.GetWallet(ctx, "cg-1")
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if w.Withdrawable.Amount != 3000000 {
		t.Errorf("Withdrawable = %d, want 3000000", w.Withdrawable.Amount)
	}

	entries, _ := e.ListLedgerEntries(ctx, "cg-1", ledger.ListOpts{})
	if len(entries) != 1 {
		t.Fatalf("entry count = %d, want 1", len(entries))
	}
	if entries[0].ReleaseReason != ledger.ReasonInitialSubscription || entries[0].BillingCycle != 1 {
		t.Errorf("entry = %s cycle %d, want initial_subscription cycle 1",
			entries[0].ReleaseReason, entries[0].BillingCycle)
	}

	records, err := e.ListBillingRecords(ctx, billing.ListOpts{SubscriptionID: sub.ID})
	if err != nil {
		t.Fatalf("ListBillingRecords: %v", err)
	}
	if len(records) != 1 || records[0].CycleNumber != 1 {
		t.Fatalf("records = %d, want one cycle-1 record", len(records))
	}
	if records[0].GatewayRef != "txn_init" {
		t.Errorf("record ref = %q", records[0].GatewayRef)
	}

	// Replaying the activation event must not double-credit.
	dup := &subscription.Subscription{
		ClientID:        "cl-1",
		CaregiverID:     "cg-1",
		RecurringAmount: types.NGN(3000000),
	}
	if err := e.StartSubscription(ctx, dup, "txn_init"); !errors.Is(err, carepay.ErrDuplicateTransaction) {
		t.Errorf("replay = %v, want ErrDuplicateTransaction", err)
	}
}

func TestRenewalCharge(t *testing.T) {
	e, _, gw, clock := newTestEngine()
	ctx := context.Background()

	sub := startTestSubscription(t, e, "txn_init")
	gw.nextToken = "tok_rotated"

	clock.Advance(30 * 24 * time.Hour) // 2026-04-01 + 1 month
	if err := e.RunBillingSweep(ctx); err != nil {
		t.Fatalf("RunBillingSweep: %v", err)
	}

	if gw.chargeCount() != 1 {
		t.Fatalf("charge count = %d, want 1", gw.chargeCount())
	}
	if got := gw.lastCharge(); got.Token != "tok_1" || got.Amount.Amount != 3000000 {
		t.Errorf("charge request = %+v", got)
	}

	got, err := e.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if got.Status != subscription.StatusActive {
		t.Errorf("Status = %s, want active", got.Status)
	}
	if got.BillingCyclesDone != 2 {
		t.Errorf("BillingCyclesDone = %d, want 2", got.BillingCyclesDone)
	}
	if got.PaymentToken != "tok_rotated" {
		t.Errorf("PaymentToken = %q, want gateway-rotated token", got.PaymentToken)
	}
	if !got.CurrentPeriodStart.Equal(sub.CurrentPeriodEnd) {
		t.Errorf("new period start = %v, want old end %v", got.CurrentPeriodStart, sub.CurrentPeriodEnd)
	}

	// Renewal credits release immediately.
	w, _ := e.GetWallet(ctx, "cg-1")
	if w.Withdrawable.Amount != 6000000 {
		t.Errorf("Withdrawable = %d, want 6000000", w.Withdrawable.Amount)
	}

	records, _ := e.ListBillingRecords(ctx, billing.ListOpts{SubscriptionID: sub.ID})
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}

	if _, err := e.Reconstruct(ctx, "cg-1"); err != nil {
		t.Errorf("Reconstruct: %v", err)
	}
}

func TestRenewalWithoutToken(t *testing.T) {
	e, _, gw, clock := newTestEngine()
	ctx := context.Background()

	sub := &subscription.Subscription{
		ClientID:        "cl-1",
		CaregiverID:     "cg-1",
		RecurringAmount: types.NGN(3000000),
	}
	if err := e.StartSubscription(ctx, sub, "txn_init"); err != nil {
		t.Fatalf("StartSubscription: %v", err)
	}

	clock.Advance(31 * 24 * time.Hour)
	if err := e.RunBillingSweep(ctx); err != nil {
		t.Fatalf("RunBillingSweep: %v", err)
	}

	// No token means no gateway call; the subscription is left as-is.
	if gw.chargeCount() != 0 {
		t.Errorf("charge count = %d, want 0", gw.chargeCount())
	}
	got, _ := e.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusActive {
		t.Errorf("Status = %s, want active", got.Status)
	}
}

func TestRetryThenRecover(t *testing.T) {
	e, _, gw, clock := newTestEngine()
	ctx := context.Background()

	sub := startTestSubscription(t, e, "txn_init")
	gw.failWith(declined)

	// First renewal attempt fails: past due, retry in 6h.
	clock.Advance(30 * 24 * time.Hour)
	if err := e.RunBillingSweep(ctx); err != nil {
		t.Fatalf("sweep 1: %v", err)
	}

	got, _ := e.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusPastDue {
		t.Fatalf("Status = %s, want past_due", got.Status)
	}
	if got.FailedChargeAttempts != 1 {
		t.Errorf("FailedChargeAttempts = %d, want 1", got.FailedChargeAttempts)
	}
	if got.NextRetryAt == nil || !got.NextRetryAt.Equal(clock.Now().Add(6*time.Hour)) {
		t.Errorf("NextRetryAt = %v, want now+6h", got.NextRetryAt)
	}

	// Not due before the retry slot.
	clock.Advance(3 * time.Hour)
	if err := e.RunBillingSweep(ctx); err != nil {
		t.Fatalf("early sweep: %v", err)
	}
	if gw.chargeCount() != 1 {
		t.Fatalf("charge count = %d after early sweep, want 1", gw.chargeCount())
	}

	// Second failure doubles the delay.
	clock.Advance(3 * time.Hour)
	if err := e.RunBillingSweep(ctx); err != nil {
		t.Fatalf("sweep 2: %v", err)
	}
	got, _ = e.GetSubscription(ctx, sub.ID)
	if got.FailedChargeAttempts != 2 {
		t.Fatalf("FailedChargeAttempts = %d, want 2", got.FailedChargeAttempts)
	}
	if got.NextRetryAt == nil || !got.NextRetryAt.Equal(clock.Now().Add(12*time.Hour)) {
		t.Errorf("NextRetryAt = %v, want now+12h", got.NextRetryAt)
	}

	// Third attempt succeeds: retry budget resets, back to active.
	gw.succeed()
	clock.Advance(12 * time.Hour)
	if err := e.RunBillingSweep(ctx); err != nil {
		t.Fatalf("sweep 3: %v", err)
	}

	got, _ = e.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusActive {
		t.Errorf("Status = %s, want active", got.Status)
	}
	if got.FailedChargeAttempts != 0 || got.NextRetryAt != nil {
		t.Errorf("retry budget not reset: attempts=%d retry=%v", got.FailedChargeAttempts, got.NextRetryAt)
	}
	if got.BillingCyclesDone != 2 {
		t.Errorf("BillingCyclesDone = %d, want 2", got.BillingCyclesDone)
	}

	// 1 success + 2 failures + 1 success.
	if len(got.PaymentAttempts) != 4 {
		t.Errorf("payment attempts = %d, want 4", len(got.PaymentAttempts))
	}
}

func TestSuspension(t *testing.T) {
	e, _, gw, clock := newTestEngine()
	ctx := context.Background()

	sub := startTestSubscription(t, e, "txn_init")
	gw.failWith(declined)

	clock.Advance(30 * 24 * time.Hour)
	if err := e.RunBillingSweep(ctx); err != nil { // attempt 1 → past due
		t.Fatalf("sweep 1: %v", err)
	}
	clock.Advance(6 * time.Hour)
	if err := e.RunBillingSweep(ctx); err != nil { // attempt 2 → past due
		t.Fatalf("sweep 2: %v", err)
	}
	clock.Advance(12 * time.Hour)
	if err := e.RunBillingSweep(ctx); err != nil { // attempt 3 → suspended
		t.Fatalf("sweep 3: %v", err)
	}

	got, _ := e.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusSuspended {
		t.Fatalf("Status = %s, want suspended", got.Status)
	}
	if got.NextRetryAt != nil {
		t.Errorf("NextRetryAt = %v, want nil after suspension", got.NextRetryAt)
	}

	// Nothing is retried while suspended, no matter how long passes.
	calls := gw.chargeCount()
	clock.Advance(90 * 24 * time.Hour)
	if err := e.RunBillingSweep(ctx); err != nil {
		t.Fatalf("idle sweep: %v", err)
	}
	if gw.chargeCount() != calls {
		t.Fatalf("charge count grew while suspended")
	}

	// A new payment method schedules an immediate retry with a fresh
	// budget, and the next sweep brings the subscription back.
	gw.succeed()
	if err := e.UpdatePaymentMethod(ctx, sub.ID, "tok_2"); err != nil {
		t.Fatalf("UpdatePaymentMethod: %v", err)
	}
	got, _ = e.GetSubscription(ctx, sub.ID)
	if got.FailedChargeAttempts != 0 || got.NextRetryAt == nil {
		t.Fatalf("payment method update: attempts=%d retry=%v", got.FailedChargeAttempts, got.NextRetryAt)
	}

	if err := e.RunBillingSweep(ctx); err != nil {
		t.Fatalf("recovery sweep: %v", err)
	}
	got, _ = e.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusActive {
		t.Errorf("Status = %s, want active after recovery", got.Status)
	}
	if got.PaymentToken != "tok_2" {
		t.Errorf("PaymentToken = %q, want tok_2", got.PaymentToken)
	}
}

func TestCancelAtPeriodEnd(t *testing.T) {
	e, _, gw, clock := newTestEngine()
	ctx := context.Background()

	sub := startTestSubscription(t, e, "txn_init")

	if err := e.CancelSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("CancelSubscription: %v", err)
	}

	got, _ := e.GetSubscription(ctx, sub.ID)
	if !got.CancelAtPeriodEnd || got.CancellationRequestedAt == nil {
		t.Fatalf("cancellation marker not set: %+v", got)
	}
	// Service continues until the period ends.
	if got.Status != subscription.StatusActive {
		t.Errorf("Status = %s, want active until period end", got.Status)
	}

	clock.Advance(30 * 24 * time.Hour)
	if err := e.RunBillingSweep(ctx); err != nil {
		t.Fatalf("RunBillingSweep: %v", err)
	}

	got, _ = e.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusCancelled {
		t.Errorf("Status = %s, want cancelled", got.Status)
	}
	if got.EndedAt == nil {
		t.Error("EndedAt not set")
	}
	if gw.chargeCount() != 0 {
		t.Errorf("charge count = %d, cancellation must not charge", gw.chargeCount())
	}

	// Terminal: no further lifecycle operations.
	if err := e.CancelSubscription(ctx, sub.ID); !carepay.IsInvalidTransition(err) {
		t.Errorf("cancel after cancelled = %v, want invalid transition", err)
	}
}

func TestCancelSuspendedSubscription(t *testing.T) {
	e, _, gw, clock := newTestEngine()
	ctx := context.Background()

	sub := startTestSubscription(t, e, "txn_init")
	gw.failWith(declined)

	clock.Advance(30 * 24 * time.Hour)
	for i, step := range []time.Duration{0, 6 * time.Hour, 12 * time.Hour} {
		clock.Advance(step)
		if err := e.RunBillingSweep(ctx); err != nil {
			t.Fatalf("sweep %d: %v", i+1, err)
		}
	}
	got, _ := e.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusSuspended {
		t.Fatalf("Status = %s, want suspended", got.Status)
	}

	// A suspended subscription has no retry scheduled and no period left to
	// run out, so cancellation takes effect immediately.
	if err := e.CancelSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("CancelSubscription: %v", err)
	}
	got, _ = e.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusCancelled {
		t.Errorf("Status = %s, want cancelled immediately", got.Status)
	}
	if got.EndedAt == nil || got.CancellationRequestedAt == nil {
		t.Errorf("cancellation bookkeeping not set: ended=%v requested=%v", got.EndedAt, got.CancellationRequestedAt)
	}
}

func TestCancelPausedSubscription(t *testing.T) {
	e, _, _, _ := newTestEngine()
	ctx := context.Background()

	sub := startTestSubscription(t, e, "txn_init")
	if err := e.PauseSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("PauseSubscription: %v", err)
	}

	// Paused subscriptions never come up in the billing sweep, so the
	// cancellation cannot wait for a rollover.
	if err := e.CancelSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("CancelSubscription: %v", err)
	}
	got, _ := e.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusCancelled {
		t.Errorf("Status = %s, want cancelled immediately", got.Status)
	}
	if got.EndedAt == nil {
		t.Error("EndedAt not set")
	}
}

func TestSubscriptionExpiry(t *testing.T) {
	e, _, gw, clock := newTestEngine()
	ctx := context.Background()

	// Fixed one-month term: the end date coincides with the first period end.
	end := clock.Now().AddDate(0, 1, 0)
	sub := &subscription.Subscription{
		ClientID:        "cl-1",
		CaregiverID:     "cg-1",
		BillingCycle:    subscription.CycleMonthly,
		RecurringAmount: types.NGN(3000000),
		PaymentToken:    "tok_1",
		EndDate:         &end,
	}
	if err := e.StartSubscription(ctx, sub, "txn_init"); err != nil {
		t.Fatalf("StartSubscription: %v", err)
	}

	clock.Advance(30 * 24 * time.Hour)
	if err := e.RunBillingSweep(ctx); err != nil {
		t.Fatalf("RunBillingSweep: %v", err)
	}

	got, _ := e.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusExpired {
		t.Errorf("Status = %s, want expired at term end", got.Status)
	}
	if got.EndedAt == nil {
		t.Error("EndedAt not set")
	}
	if gw.chargeCount() != 0 {
		t.Errorf("charge count = %d, an expired term must not charge", gw.chargeCount())
	}
	if got.BillingCyclesDone != 1 {
		t.Errorf("BillingCyclesDone = %d, want 1", got.BillingCyclesDone)
	}
}

func TestReactivateSubscription(t *testing.T) {
	e, _, gw, clock := newTestEngine()
	ctx := context.Background()

	sub := startTestSubscription(t, e, "txn_init")

	if err := e.ReactivateSubscription(ctx, sub.ID); !carepay.IsInvalidTransition(err) {
		t.Fatalf("reactivate without cancellation = %v, want invalid transition", err)
	}

	if err := e.CancelSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("CancelSubscription: %v", err)
	}
	if err := e.ReactivateSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("ReactivateSubscription: %v", err)
	}

	// Billing continues as if the cancellation never happened.
	clock.Advance(30 * 24 * time.Hour)
	if err := e.RunBillingSweep(ctx); err != nil {
		t.Fatalf("RunBillingSweep: %v", err)
	}
	got, _ := e.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusActive || got.BillingCyclesDone != 2 {
		t.Errorf("status=%s cycles=%d, want active/2", got.Status, got.BillingCyclesDone)
	}
	if gw.chargeCount() != 1 {
		t.Errorf("charge count = %d, want 1", gw.chargeCount())
	}
}

func TestTerminateWithRefund(t *testing.T) {
	e, _, gw, clock := newTestEngine()
	ctx := context.Background()

	// April: 30-day period, ₦30,000 paid up front.
	sub := startTestSubscription(t, e, "txn_init")

	// Day 10 of 30: 20 unused days → ₦20,000 refund.
	clock.Advance(10 * 24 * time.Hour)

	entry, err := e.TerminateSubscription(ctx, sub.ID, true)
	if err != nil {
		t.Fatalf("TerminateSubscription: %v", err)
	}
	if entry == nil {
		t.Fatal("expected refund entry")
	}
	if entry.Type != ledger.TypeRefund || entry.Amount.Amount != -2000000 {
		t.Errorf("refund entry = %s/%d, want refund/-2000000", entry.Type, entry.Amount.Amount)
	}

	if len(gw.refunds) != 1 {
		t.Fatalf("refund calls = %d, want 1", len(gw.refunds))
	}
	if gw.refunds[0].OriginalReference != "txn_init" {
		t.Errorf("refunded against %q, want txn_init", gw.refunds[0].OriginalReference)
	}
	if gw.refunds[0].Amount.Amount != 2000000 {
		t.Errorf("refund amount = %d, want 2000000", gw.refunds[0].Amount.Amount)
	}

	got, _ := e.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusTerminated {
		t.Errorf("Status = %s, want terminated", got.Status)
	}
	if got.EndedAt == nil {
		t.Error("EndedAt not set")
	}

	w, _ := e.GetWallet(ctx, "cg-1")
	if w.Withdrawable.Amount != 1000000 {
		t.Errorf("Withdrawable = %d, want 1000000", w.Withdrawable.Amount)
	}
	if w.Deducted.Amount != 2000000 {
		t.Errorf("Deducted = %d, want 2000000", w.Deducted.Amount)
	}

	if _, err := e.Reconstruct(ctx, "cg-1"); err != nil {
		t.Errorf("Reconstruct: %v", err)
	}
}

func TestTerminateWithoutRefund(t *testing.T) {
	e, _, gw, clock := newTestEngine()
	ctx := context.Background()

	sub := startTestSubscription(t, e, "txn_init")
	clock.Advance(10 * 24 * time.Hour)

	entry, err := e.TerminateSubscription(ctx, sub.ID, false)
	if err != nil {
		t.Fatalf("TerminateSubscription: %v", err)
	}
	if entry != nil {
		t.Errorf("unexpected refund entry: %+v", entry)
	}
	if len(gw.refunds) != 0 {
		t.Errorf("refund calls = %d, want 0", len(gw.refunds))
	}

	w, _ := e.GetWallet(ctx, "cg-1")
	if w.Withdrawable.Amount != 3000000 {
		t.Errorf("Withdrawable = %d, want untouched", w.Withdrawable.Amount)
	}
}

func TestTerminateAtPeriodEndNoRefund(t *testing.T) {
	e, _, gw, clock := newTestEngine()
	ctx := context.Background()

	sub := startTestSubscription(t, e, "txn_init")

	// Zero days remaining → zero refund; no gateway call at all.
	clock.Advance(30 * 24 * time.Hour)
	entry, err := e.TerminateSubscription(ctx, sub.ID, true)
	if err != nil {
		t.Fatalf("TerminateSubscription: %v", err)
	}
	if entry != nil {
		t.Errorf("unexpected refund entry for exhausted period")
	}
	if len(gw.refunds) != 0 {
		t.Errorf("refund calls = %d, want 0", len(gw.refunds))
	}
}

func TestPauseResume(t *testing.T) {
	e, _, gw, clock := newTestEngine()
	ctx := context.Background()

	sub := startTestSubscription(t, e, "txn_init")

	if err := e.PauseSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("PauseSubscription: %v", err)
	}

	// A paused subscription is never swept.
	clock.Advance(60 * 24 * time.Hour)
	if err := e.RunBillingSweep(ctx); err != nil {
		t.Fatalf("RunBillingSweep: %v", err)
	}
	if gw.chargeCount() != 0 {
		t.Fatalf("charge count = %d while paused, want 0", gw.chargeCount())
	}

	if err := e.ResumeSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("ResumeSubscription: %v", err)
	}

	got, _ := e.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusActive {
		t.Errorf("Status = %s, want active", got.Status)
	}
	// Resume starts a fresh period; the old period's days are gone.
	if !got.CurrentPeriodStart.Equal(clock.Now()) {
		t.Errorf("CurrentPeriodStart = %v, want resume time %v", got.CurrentPeriodStart, clock.Now())
	}
	if want := clock.Now().AddDate(0, 1, 0); !got.NextChargeDate.Equal(want) {
		t.Errorf("NextChargeDate = %v, want %v", got.NextChargeDate, want)
	}
}

func TestChangePlanAppliesAtRollover(t *testing.T) {
	e, _, gw, clock := newTestEngine()
	ctx := context.Background()

	sub := startTestSubscription(t, e, "txn_init")

	if err := e.ChangePlan(ctx, sub.ID, types.NGN(4500000), 0); err != nil {
		t.Fatalf("ChangePlan: %v", err)
	}

	// The current period is never re-priced.
	got, _ := e.GetSubscription(ctx, sub.ID)
	if !got.RecurringAmount.Equal(types.NGN(3000000)) {
		t.Fatalf("RecurringAmount = %s, want unchanged until rollover", got.RecurringAmount)
	}

	clock.Advance(30 * 24 * time.Hour)
	if err := e.RunBillingSweep(ctx); err != nil {
		t.Fatalf("RunBillingSweep: %v", err)
	}

	// The rollover charge is at the new price.
	if got := gw.lastCharge(); got.Amount.Amount != 4500000 {
		t.Errorf("charged %d, want 4500000", got.Amount.Amount)
	}

	got, _ = e.GetSubscription(ctx, sub.ID)
	if !got.RecurringAmount.Equal(types.NGN(4500000)) {
		t.Errorf("RecurringAmount = %s after rollover, want new price", got.RecurringAmount)
	}
	if got.PendingPlanChange() != nil {
		t.Error("plan change still pending after rollover")
	}

	if err := e.ChangePlan(ctx, sub.ID, types.NGN(-1), 0); !errors.Is(err, carepay.ErrInvalidInput) {
		t.Errorf("negative plan amount = %v, want ErrInvalidInput", err)
	}
}

func TestClaimForChargeGuard(t *testing.T) {
	e, st, _, _ := newTestEngine()
	ctx := context.Background()

	sub := startTestSubscription(t, e, "txn_init")

	// First claim wins the charging slot.
	if _, err := st.ClaimForCharge(ctx, sub.ID, subscription.StatusActive); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	// A concurrent sweep that read the same due set loses its claim.
	if _, err := st.ClaimForCharge(ctx, sub.ID, subscription.StatusActive); !errors.Is(err, carepay.ErrChargeInFlight) {
		t.Fatalf("second claim = %v, want ErrChargeInFlight", err)
	}
}

func TestRecoverCharging(t *testing.T) {
	tests := []struct {
		name       string
		chargeRef  string
		verify     gateway.TxState
		wantStatus subscription.Status
		wantCycles int
	}{
		{
			name:       "gateway confirms success",
			chargeRef:  "txn_stuck",
			verify:     gateway.TxSuccess,
			wantStatus: subscription.StatusActive,
			wantCycles: 2,
		},
		{
			name:       "gateway reports failure",
			chargeRef:  "txn_stuck",
			verify:     gateway.TxFailed,
			wantStatus: subscription.StatusPastDue,
			wantCycles: 1,
		},
		{
			name:       "reference unknown to gateway",
			chargeRef:  "txn_stuck",
			verify:     gateway.TxNotFound,
			wantStatus: subscription.StatusPastDue,
			wantCycles: 1,
		},
		{
			name:       "crashed before submission",
			chargeRef:  "",
			wantStatus: subscription.StatusPastDue,
			wantCycles: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, st, gw, clock := newTestEngine()
			ctx := context.Background()

			sub := startTestSubscription(t, e, "txn_init")

			// Simulate a crash mid-charge: claimed an hour ago, with the
			// reference persisted (or not) before the gateway call.
			stuck, err := st.ClaimForCharge(ctx, sub.ID, subscription.StatusActive)
			if err != nil {
				t.Fatalf("ClaimForCharge: %v", err)
			}
			since := clock.Now().Add(-time.Hour)
			stuck.ChargingSince = &since
			stuck.ChargeRef = tt.chargeRef
			if err := st.UpdateSubscription(ctx, stuck); err != nil {
				t.Fatalf("UpdateSubscription: %v", err)
			}
			if tt.chargeRef != "" {
				gw.verify[tt.chargeRef] = tt.verify
			}

			if err := e.RecoverCharging(ctx); err != nil {
				t.Fatalf("RecoverCharging: %v", err)
			}

			got, _ := e.GetSubscription(ctx, sub.ID)
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", got.Status, tt.wantStatus)
			}
			if got.BillingCyclesDone != tt.wantCycles {
				t.Errorf("BillingCyclesDone = %d, want %d", got.BillingCyclesDone, tt.wantCycles)
			}

			w, _ := e.GetWallet(ctx, "cg-1")
			if tt.verify == gateway.TxSuccess {
				if w.Withdrawable.Amount != 6000000 {
					t.Errorf("Withdrawable = %d, want renewal credited", w.Withdrawable.Amount)
				}
			} else if w.Withdrawable.Amount != 3000000 {
				t.Errorf("Withdrawable = %d, want no credit", w.Withdrawable.Amount)
			}
		})
	}
}

func TestRecoverChargingPending(t *testing.T) {
	e, st, gw, clock := newTestEngine()
	ctx := context.Background()

	sub := startTestSubscription(t, e, "txn_init")

	stuck, err := st.ClaimForCharge(ctx, sub.ID, subscription.StatusActive)
	if err != nil {
		t.Fatalf("ClaimForCharge: %v", err)
	}
	since := clock.Now().Add(-time.Hour)
	stuck.ChargingSince = &since
	stuck.ChargeRef = "txn_stuck"
	if err := st.UpdateSubscription(ctx, stuck); err != nil {
		t.Fatalf("UpdateSubscription: %v", err)
	}
	gw.verify["txn_stuck"] = gateway.TxPending

	// A still-pending gateway transaction is left alone for the next pass.
	if err := e.RecoverCharging(ctx); err != nil {
		t.Fatalf("RecoverCharging: %v", err)
	}
	got, _ := e.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusCharging {
		t.Errorf("Status = %s, want still charging", got.Status)
	}

	// Once the gateway settles, the next pass finalizes.
	gw.verify["txn_stuck"] = gateway.TxSuccess
	if err := e.RecoverCharging(ctx); err != nil {
		t.Fatalf("second RecoverCharging: %v", err)
	}
	got, _ = e.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusActive || got.BillingCyclesDone != 2 {
		t.Errorf("status=%s cycles=%d, want active/2", got.Status, got.BillingCyclesDone)
	}
}

func TestListSubscriptions(t *testing.T) {
	e, _, _, _ := newTestEngine()
	ctx := context.Background()

	sub := startTestSubscription(t, e, "txn_init")

	byClient, err := e.ListClientSubscriptions(ctx, "cl-1", subscription.ListOpts{})
	if err != nil {
		t.Fatalf("ListClientSubscriptions: %v", err)
	}
	if len(byClient) != 1 || byClient[0].ID.String() != sub.ID.String() {
		t.Errorf("by client = %d results", len(byClient))
	}

	byCaregiver, err := e.ListCaregiverSubscriptions(ctx, "cg-1", subscription.ListOpts{Status: subscription.StatusActive})
	if err != nil {
		t.Fatalf("ListCaregiverSubscriptions: %v", err)
	}
	if len(byCaregiver) != 1 {
		t.Errorf("by caregiver = %d results", len(byCaregiver))
	}

	none, err := e.ListClientSubscriptions(ctx, "cl-1", subscription.ListOpts{Status: subscription.StatusPaused})
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("paused filter = %d results, want 0", len(none))
	}
}

var _ gateway.Gateway = (*fakeGateway)(nil)
