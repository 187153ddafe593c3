package carepay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/xolani/carepay/billing"
	"github.com/xolani/carepay/gateway"
	"github.com/xolani/carepay/id"
	"github.com/xolani/carepay/ledger"
	"github.com/xolani/carepay/subscription"
	"github.com/xolani/carepay/types"
)

// StartSubscription activates a subscription after its first payment
// succeeded at the gateway. It opens the first billing period, credits the
// caregiver with reason InitialSubscription, and writes the cycle-1 billing
// record. Replaying the same gateway reference is rejected.
func (e *Engine) StartSubscription(ctx context.Context, sub *subscription.Subscription, gatewayRef string) error {
	if sub.ClientID == "" || sub.CaregiverID == "" || gatewayRef == "" || !sub.RecurringAmount.IsPositive() {
		return ErrInvalidInput
	}
	if existing, err := e.store.GetEntryByGatewayRef(ctx, gatewayRef); err == nil && existing != nil {
		return ErrDuplicateTransaction
	}

	now := e.now().UTC()

	if sub.ID.IsNil() {
		sub.ID = id.NewSubscriptionID()
	}
	sub.Entity.CreatedAt = now
	sub.Entity.UpdatedAt = now
	if sub.BillingCycle == "" {
		sub.BillingCycle = subscription.CycleMonthly
	}
	if sub.MaxRetryAttempts == 0 {
		sub.MaxRetryAttempts = e.maxRetryAttempts
	}
	sub.Status = subscription.StatusActive
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = sub.BillingCycle.Next(now)
	sub.NextChargeDate = sub.CurrentPeriodEnd
	sub.BillingCyclesDone = 1
	sub.FailedChargeAttempts = 0
	sub.PaymentAttempts = append(sub.PaymentAttempts, subscription.PaymentAttempt{
		ID:        id.NewPaymentAttemptID(),
		Reference: gatewayRef,
		Amount:    sub.RecurringAmount,
		At:        now,
		Succeeded: true,
	})

	if err := e.store.CreateSubscription(ctx, sub); err != nil {
		return err
	}

	entry := &ledger.Entry{
		CaregiverID:    sub.CaregiverID,
		Type:           ledger.TypeOrderReceived,
		Amount:         sub.RecurringAmount,
		OrderID:        sub.OrderID,
		ContractID:     sub.ContractID,
		SubscriptionID: sub.ID,
		BillingCycle:   1,
		GatewayRef:     gatewayRef,
		ReleaseReason:  ledger.ReasonInitialSubscription,
		Description:    "initial subscription payment",
	}
	if _, err := e.appendEntry(ctx, entry); err != nil {
		return err
	}

	record := billing.NewRecord(sub.ClientID, sub.CaregiverID, 1,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.NextChargeDate,
		billing.Breakdown{
			AmountPaid:    sub.RecurringAmount,
			OrderFee:      sub.OrderFee,
			ServiceCharge: sub.ServiceCharge,
			GatewayFees:   sub.GatewayFees,
		}, gatewayRef)
	record.OrderID = sub.OrderID
	record.ContractID = sub.ContractID
	record.SubscriptionID = sub.ID
	if err := e.store.CreateBillingRecord(ctx, record); err != nil {
		return err
	}

	e.plugins.EmitWalletCredited(ctx, entry)
	e.logger.Info("subscription started",
		"subscription_id", sub.ID,
		"caregiver_id", sub.CaregiverID,
		"amount", sub.RecurringAmount.Amount,
	)
	return nil
}

// RunBillingSweep processes every subscription whose charge is due: active
// subscriptions at period end, and past-due or suspended ones whose retry
// time has arrived. Pending cancellations are finalized instead of charged.
func (e *Engine) RunBillingSweep(ctx context.Context) error {
	now := e.now().UTC()

	due, err := e.store.ListDueSubscriptions(ctx, now)
	if err != nil {
		return err
	}

	for _, sub := range due {
		if sub.CancelAtPeriodEnd && !now.Before(sub.CurrentPeriodEnd) {
			if err := e.finalizeCancellation(ctx, sub, now); err != nil {
				e.logger.Error("cancellation rollover failed", "subscription_id", sub.ID, "error", err)
			}
			continue
		}

		if sub.EndDate != nil && !now.Before(*sub.EndDate) {
			if err := e.finalizeExpiry(ctx, sub, now); err != nil {
				e.logger.Error("expiry rollover failed", "subscription_id", sub.ID, "error", err)
			}
			continue
		}

		if err := e.chargeSubscription(ctx, sub); err != nil {
			if errors.Is(err, ErrChargeInFlight) {
				continue // another sweep holds the charging claim
			}
			e.logger.Error("subscription charge failed", "subscription_id", sub.ID, "error", err)
		}
	}
	return nil
}

// finalizeCancellation transitions a subscription to Cancelled, either at
// the end of its final paid period or immediately when no period remains.
// No further charge is attempted.
func (e *Engine) finalizeCancellation(ctx context.Context, sub *subscription.Subscription, now time.Time) error {
	if err := sub.Transition(subscription.StatusCancelled); err != nil {
		return err
	}
	sub.EndedAt = &now
	sub.NextRetryAt = nil
	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		return err
	}
	e.logger.Info("subscription cancelled", "subscription_id", sub.ID)
	return nil
}

// finalizeExpiry ends a fixed-term subscription whose end date has passed.
// The term simply ran out: no charge, no refund.
func (e *Engine) finalizeExpiry(ctx context.Context, sub *subscription.Subscription, now time.Time) error {
	if err := sub.Transition(subscription.StatusExpired); err != nil {
		return err
	}
	sub.EndedAt = &now
	sub.NextRetryAt = nil
	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		return err
	}
	e.logger.Info("subscription expired at term end", "subscription_id", sub.ID)
	return nil
}

// chargeAmount is the amount the next cycle will be charged: a pending plan
// change applies to the new period, never to the one already paid.
func chargeAmount(sub *subscription.Subscription) types.Money {
	if pc := sub.PendingPlanChange(); pc != nil {
		return pc.NewAmount
	}
	return sub.RecurringAmount
}

// chargeSubscription runs one rollover charge for a due subscription.
// The store's ClaimForCharge moves it into the transient Charging state so a
// concurrent sweep cannot start a second gateway call for the same
// subscription.
func (e *Engine) chargeSubscription(ctx context.Context, sub *subscription.Subscription) error {
	if sub.PaymentToken == "" {
		return ErrNoPaymentToken
	}

	claimed, err := e.store.ClaimForCharge(ctx, sub.ID, sub.Status)
	if err != nil {
		return err
	}

	amount := chargeAmount(claimed)
	ref := gateway.NewReference()

	// Persist the reference before the gateway call so the recovery pass
	// can reconcile if we crash mid-charge.
	claimed.ChargeRef = ref
	if err := e.store.UpdateSubscription(ctx, claimed); err != nil {
		return err
	}

	result, err := e.chargeWithBackoff(ctx, gateway.ChargeRequest{
		Reference: ref,
		Token:     claimed.PaymentToken,
		Amount:    amount,
		ClientID:  claimed.ClientID,
		Narration: fmt.Sprintf("subscription cycle %d", claimed.BillingCyclesDone+1),
	})
	if err != nil {
		return e.failCharge(ctx, claimed, ref, amount, err)
	}

	if result.Token != "" {
		claimed.PaymentToken = result.Token
	}
	return e.finalizeCycle(ctx, claimed, ref, amount)
}

// chargeWithBackoff retries a single charge attempt on transient gateway
// faults only, under the same reference so a retry cannot double-charge.
func (e *Engine) chargeWithBackoff(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	return backoff.Retry(ctx, func() (*gateway.ChargeResult, error) {
		res, err := e.gateway.Charge(ctx, req)
		if err != nil && !gateway.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return res, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
}

// finalizeCycle commits a successful charge: ledger credit, billing record,
// period advance, retry budget reset, back to Active. The ledger credit and
// the billing record are idempotent by reference, so replays from the
// recovery pass converge on the same state.
func (e *Engine) finalizeCycle(ctx context.Context, sub *subscription.Subscription, ref string, amount types.Money) error {
	now := e.now().UTC()

	entry := &ledger.Entry{
		CaregiverID:    sub.CaregiverID,
		Type:           ledger.TypeOrderReceived,
		Amount:         amount,
		OrderID:        sub.OrderID,
		ContractID:     sub.ContractID,
		SubscriptionID: sub.ID,
		BillingCycle:   sub.BillingCyclesDone + 1,
		GatewayRef:     ref,
		ReleaseReason:  ledger.ReasonRecurringPayment,
		Description:    fmt.Sprintf("subscription cycle %d payment", sub.BillingCyclesDone+1),
	}
	if _, err := e.appendEntry(ctx, entry); err != nil && !errors.Is(err, ErrDuplicateTransaction) {
		return err
	}

	sub.PaymentAttempts = append(sub.PaymentAttempts, subscription.PaymentAttempt{
		ID:        id.NewPaymentAttemptID(),
		Reference: ref,
		Amount:    amount,
		At:        now,
		Succeeded: true,
	})
	sub.AdvancePeriod(now)

	record := billing.NewRecord(sub.ClientID, sub.CaregiverID, sub.BillingCyclesDone,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.NextChargeDate,
		billing.Breakdown{
			AmountPaid:    amount,
			OrderFee:      sub.OrderFee,
			ServiceCharge: sub.ServiceCharge,
			GatewayFees:   sub.GatewayFees,
		}, ref)
	record.OrderID = sub.OrderID
	record.ContractID = sub.ContractID
	record.SubscriptionID = sub.ID
	if _, err := e.store.GetBillingRecordByRef(ctx, ref); err != nil {
		if err := e.store.CreateBillingRecord(ctx, record); err != nil {
			return err
		}
	}

	if err := sub.Transition(subscription.StatusActive); err != nil {
		return err
	}
	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		return err
	}

	e.plugins.EmitChargeSucceeded(ctx, sub, record)
	e.logger.Info("subscription cycle charged",
		"subscription_id", sub.ID,
		"cycle", sub.BillingCyclesDone,
		"amount", amount.Amount,
	)
	return nil
}

// failCharge drives the failure side of the machine: below the retry budget
// the subscription goes PastDue with a doubling retry delay; at the budget
// it is Suspended and nothing more is scheduled until the client updates the
// payment method.
func (e *Engine) failCharge(ctx context.Context, sub *subscription.Subscription, ref string, amount types.Money, cause error) error {
	now := e.now().UTC()

	sub.PaymentAttempts = append(sub.PaymentAttempts, subscription.PaymentAttempt{
		ID:        id.NewPaymentAttemptID(),
		Reference: ref,
		Amount:    amount,
		At:        now,
		Succeeded: false,
		Error:     cause.Error(),
	})
	sub.FailedChargeAttempts++
	sub.ChargingSince = nil
	sub.ChargeRef = ""

	if sub.FailedChargeAttempts < sub.MaxRetryAttempts {
		if err := sub.Transition(subscription.StatusPastDue); err != nil {
			return err
		}
		delay := e.retryBase << (sub.FailedChargeAttempts - 1)
		retryAt := now.Add(delay)
		sub.NextRetryAt = &retryAt

		if err := e.store.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		e.plugins.EmitChargeFailed(ctx, sub, sub.FailedChargeAttempts, cause)
		e.logger.Warn("subscription charge failed, retry scheduled",
			"subscription_id", sub.ID,
			"attempt", sub.FailedChargeAttempts,
			"retry_at", retryAt,
			"error", cause,
		)
		return nil
	}

	if err := sub.Transition(subscription.StatusSuspended); err != nil {
		return err
	}
	sub.NextRetryAt = nil

	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		return err
	}
	e.plugins.EmitChargeFailed(ctx, sub, sub.FailedChargeAttempts, cause)
	e.plugins.EmitSubscriptionSuspended(ctx, sub)
	e.logger.Warn("subscription suspended after exhausting retries",
		"subscription_id", sub.ID,
		"attempts", sub.FailedChargeAttempts,
	)
	return nil
}

// CancelSubscription requests cancellation. For an active subscription,
// service and billing continue through the current period and the sweep
// finalizes the cancellation once the period ends. Suspended and paused
// subscriptions are cancelled immediately.
func (e *Engine) CancelSubscription(ctx context.Context, subID id.SubscriptionID) error {
	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if sub.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", subscription.ErrInvalidTransition, subID, sub.Status)
	}

	now := e.now().UTC()
	sub.CancelAtPeriodEnd = true
	sub.CancellationRequestedAt = &now

	// Suspended and paused subscriptions are outside the sweep's due set,
	// so there is no rollover left to finalize them. Service already
	// stopped for both, so the cancellation takes effect now.
	if sub.Status == subscription.StatusSuspended || sub.Status == subscription.StatusPaused {
		return e.finalizeCancellation(ctx, sub, now)
	}

	sub.Touch()
	return e.store.UpdateSubscription(ctx, sub)
}

// ReactivateSubscription clears a pending cancellation before the period
// ends.
func (e *Engine) ReactivateSubscription(ctx context.Context, subID id.SubscriptionID) error {
	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if sub.Status.Terminal() || !sub.CancelAtPeriodEnd {
		return fmt.Errorf("%w: %s has no pending cancellation", subscription.ErrInvalidTransition, subID)
	}

	sub.CancelAtPeriodEnd = false
	sub.CancellationRequestedAt = nil
	sub.Touch()
	return e.store.UpdateSubscription(ctx, sub)
}

// TerminateSubscription ends a subscription immediately, regardless of
// period. With refund enabled it issues a pro-rated gateway refund for the
// unused days and records the matching ledger debit.
func (e *Engine) TerminateSubscription(ctx context.Context, subID id.SubscriptionID, withRefund bool) (*ledger.Entry, error) {
	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	if sub.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", subscription.ErrInvalidTransition, subID, sub.Status)
	}

	now := e.now().UTC()
	var refundEntry *ledger.Entry

	if withRefund {
		refund := sub.RecurringAmount.ProRate(sub.RemainingDays(now), sub.PeriodDays())
		if refund.IsPositive() {
			ref := gateway.NewReference()
			if _, err := e.gateway.Refund(ctx, gateway.RefundRequest{
				Reference:         ref,
				OriginalReference: lastSuccessfulRef(sub),
				Amount:            refund,
				Narration:         "pro-rated refund on termination",
			}); err != nil {
				return nil, err
			}

			refundEntry = &ledger.Entry{
				CaregiverID:    sub.CaregiverID,
				Type:           ledger.TypeRefund,
				Amount:         refund.Negate(),
				SubscriptionID: sub.ID,
				GatewayRef:     ref,
				Description:    "pro-rated refund on termination",
			}
			if _, err := e.appendEntry(ctx, refundEntry); err != nil {
				return nil, err
			}
		}
	}

	if err := sub.Transition(subscription.StatusTerminated); err != nil {
		return nil, err
	}
	sub.EndedAt = &now
	sub.NextRetryAt = nil
	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	e.plugins.EmitSubscriptionTerminated(ctx, sub, refundEntry)
	e.logger.Info("subscription terminated", "subscription_id", sub.ID, "refunded", refundEntry != nil)
	return refundEntry, nil
}

// lastSuccessfulRef finds the gateway reference of the most recent
// successful charge, for refunds against it.
func lastSuccessfulRef(sub *subscription.Subscription) string {
	for i := len(sub.PaymentAttempts) - 1; i >= 0; i-- {
		if sub.PaymentAttempts[i].Succeeded {
			return sub.PaymentAttempts[i].Reference
		}
	}
	return ""
}

// PauseSubscription suspends scheduling without penalty.
func (e *Engine) PauseSubscription(ctx context.Context, subID id.SubscriptionID) error {
	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if err := sub.Transition(subscription.StatusPaused); err != nil {
		return err
	}
	sub.NextRetryAt = nil
	return e.store.UpdateSubscription(ctx, sub)
}

// ResumeSubscription resumes a paused subscription with a fresh billing
// period starting now; the old period's remaining days are not carried over.
func (e *Engine) ResumeSubscription(ctx context.Context, subID id.SubscriptionID) error {
	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if err := sub.Transition(subscription.StatusActive); err != nil {
		return err
	}
	sub.StartFreshPeriod(e.now().UTC())
	return e.store.UpdateSubscription(ctx, sub)
}

// ChangePlan records an upgrade or downgrade. The change is history until
// the next rollover; the current period is never re-priced.
func (e *Engine) ChangePlan(ctx context.Context, subID id.SubscriptionID, newAmount types.Money, newFrequency int) error {
	if !newAmount.IsPositive() {
		return ErrInvalidInput
	}

	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if sub.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", subscription.ErrInvalidTransition, subID, sub.Status)
	}

	sub.PlanChanges = append(sub.PlanChanges, subscription.PlanChange{
		RequestedAt:  e.now().UTC(),
		NewAmount:    newAmount,
		NewFrequency: newFrequency,
	})
	sub.Touch()
	return e.store.UpdateSubscription(ctx, sub)
}

// UpdatePaymentMethod stores a new payment token. A suspended subscription
// gets a fresh retry budget and an immediate retry slot, so the next sweep
// attempts to bring it back.
func (e *Engine) UpdatePaymentMethod(ctx context.Context, subID id.SubscriptionID, token string) error {
	if token == "" {
		return ErrInvalidInput
	}

	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if sub.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", subscription.ErrInvalidTransition, subID, sub.Status)
	}

	sub.PaymentToken = token
	if sub.Status == subscription.StatusSuspended {
		sub.FailedChargeAttempts = 0
		now := e.now().UTC()
		sub.NextRetryAt = &now
	}
	sub.Touch()
	return e.store.UpdateSubscription(ctx, sub)
}

// RecoverCharging reconciles subscriptions stuck in the transient Charging
// state beyond the charge timeout (e.g. after a crash mid-charge) by asking
// the gateway for the authoritative outcome of the recorded reference.
func (e *Engine) RecoverCharging(ctx context.Context) error {
	cutoff := e.now().UTC().Add(-e.chargeTimeout)

	stuck, err := e.store.ListStuckCharging(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, sub := range stuck {
		if sub.ChargeRef == "" {
			// No reference was persisted, so no gateway call can have
			// been made with one; treat as a failed attempt.
			if err := e.failCharge(ctx, sub, "", chargeAmount(sub), errors.New("charge interrupted before submission")); err != nil {
				e.logger.Error("charging recovery failed", "subscription_id", sub.ID, "error", err)
			}
			continue
		}

		status, err := e.gateway.VerifyTransaction(ctx, sub.ChargeRef)
		if err != nil {
			e.logger.Error("charging recovery: verify failed", "subscription_id", sub.ID, "error", err)
			continue // try again next pass
		}

		switch status.State {
		case gateway.TxSuccess:
			if err := e.finalizeCycle(ctx, sub, sub.ChargeRef, chargeAmount(sub)); err != nil {
				e.logger.Error("charging recovery: finalize failed", "subscription_id", sub.ID, "error", err)
			}
		case gateway.TxFailed, gateway.TxNotFound:
			if err := e.failCharge(ctx, sub, sub.ChargeRef, chargeAmount(sub), errors.New("charge failed at gateway")); err != nil {
				e.logger.Error("charging recovery: fail path failed", "subscription_id", sub.ID, "error", err)
			}
		case gateway.TxPending:
			// Still in flight at the gateway; leave for the next pass.
		}
	}
	return nil
}
