package carepay

import (
	"context"
	"fmt"

	"github.com/xolani/carepay/ledger"
	"github.com/xolani/carepay/release"
	"github.com/xolani/carepay/types"
)

// OrderPayment is an order/payment-success event consumed from the order
// collaborator after the gateway confirms a one-time charge.
type OrderPayment struct {
	OrderID     string
	ContractID  string
	CaregiverID string
	ClientID    string
	Amount      types.Money
	// GatewayRef is the gateway transaction ID; it makes ingestion
	// idempotent.
	GatewayRef string
	// ClientApproved is set when the client approved the order up front.
	ClientApproved bool
}

// RecordOrderPayment credits a one-time order payment to the caregiver's
// wallet. The release policy decides whether the funds are immediately
// withdrawable or held pending; held credits get a hold row so the sweep can
// auto-release them after the hold window.
//
// Replaying the same gateway reference returns ErrDuplicateTransaction and
// performs no mutation.
func (e *Engine) RecordOrderPayment(ctx context.Context, p OrderPayment) (*ledger.Entry, error) {
	if p.OrderID == "" || p.CaregiverID == "" || p.GatewayRef == "" || !p.Amount.IsPositive() {
		return nil, ErrInvalidInput
	}

	if existing, err := e.store.GetEntryByGatewayRef(ctx, p.GatewayRef); err == nil && existing != nil {
		return nil, ErrDuplicateTransaction
	}
	// Every order credit leaves a hold row behind, so an existing one means
	// this order was already paid under a different reference.
	if _, err := e.store.GetHold(ctx, p.OrderID); err == nil {
		return nil, ErrAlreadyCredit
	}

	decision := release.Decide(release.Credit{ClientApproved: p.ClientApproved})

	entry := &ledger.Entry{
		CaregiverID:   p.CaregiverID,
		Type:          ledger.TypeOrderReceived,
		Amount:        p.Amount,
		OrderID:       p.OrderID,
		ContractID:    p.ContractID,
		GatewayRef:    p.GatewayRef,
		ReleaseReason: decision.Reason,
		Description:   fmt.Sprintf("payment for order %s", p.OrderID),
	}

	if _, err := e.appendEntry(ctx, entry); err != nil {
		return nil, err
	}

	// The hold row is written for immediately-released credits too, already
	// marked released: it keeps the order creditable exactly once and gives
	// a later dispute the released-funds record to debit against.
	hold := release.NewHold(p.OrderID, p.CaregiverID, p.Amount, e.now().UTC(), e.holdWindow)
	hold.Released = decision.Immediate
	if err := e.store.CreateHold(ctx, hold); err != nil {
		return nil, err
	}

	e.plugins.EmitWalletCredited(ctx, entry)
	e.logger.Info("order payment credited",
		"order_id", p.OrderID,
		"caregiver_id", p.CaregiverID,
		"amount", p.Amount.Amount,
		"released", decision.Immediate,
	)

	return entry, nil
}

// ApproveOrder handles a client approval event: held funds for the order are
// released to the withdrawable balance immediately.
func (e *Engine) ApproveOrder(ctx context.Context, orderID string) (*ledger.Entry, error) {
	hold, err := e.store.GetHold(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if hold.Released {
		return nil, ErrHoldReleased
	}
	if hold.Disputed {
		return nil, ErrOrderDisputed
	}

	return e.releaseHold(ctx, hold, ledger.ReasonClientApproved)
}

// RaiseDispute handles a dispute-raised event for an order.
//
// If the funds are still held, they simply stay pending until the dispute
// clears. If auto-release already happened, no automatic clawback occurs:
// a DisputeHold debit entry is appended against the withdrawable balance,
// and any shortfall is left to a manual adjustment. That asymmetry is a
// deliberate business-policy choice.
func (e *Engine) RaiseDispute(ctx context.Context, orderID string) error {
	hold, err := e.store.GetHold(ctx, orderID)
	if err != nil {
		return err
	}
	if hold.Disputed {
		return ErrOrderDisputed
	}

	if !hold.Released {
		hold.Disputed = true
		hold.Touch()
		return e.store.UpdateHold(ctx, hold)
	}

	entry := &ledger.Entry{
		CaregiverID: hold.CaregiverID,
		Type:        ledger.TypeDisputeHold,
		Amount:      hold.Amount.Negate(),
		OrderID:     orderID,
		Description: fmt.Sprintf("dispute raised on order %s after release", orderID),
	}
	if _, err := e.appendEntry(ctx, entry); err != nil {
		return err
	}

	hold.Disputed = true
	hold.Touch()
	return e.store.UpdateHold(ctx, hold)
}

// ClearDispute handles a dispute-cleared event. Funds held past their
// release window are released immediately; otherwise they wait for the
// sweep as usual.
func (e *Engine) ClearDispute(ctx context.Context, orderID string) error {
	hold, err := e.store.GetHold(ctx, orderID)
	if err != nil {
		return err
	}
	if !hold.Disputed {
		return ErrNoOpenDispute
	}

	hold.Disputed = false
	hold.Touch()
	if err := e.store.UpdateHold(ctx, hold); err != nil {
		return err
	}

	if hold.Due(e.now().UTC()) {
		_, err = e.releaseHold(ctx, hold, ledger.ReasonAutoReleased)
		return err
	}
	return nil
}

// RunReleaseSweep releases every pending hold past its window with no open
// dispute. It is run periodically by the release worker and can be invoked
// directly by an external scheduler.
func (e *Engine) RunReleaseSweep(ctx context.Context) error {
	due, err := e.store.ListDueHolds(ctx, e.now().UTC())
	if err != nil {
		return err
	}

	for _, hold := range due {
		if _, err := e.releaseHold(ctx, hold, ledger.ReasonAutoReleased); err != nil {
			e.logger.Error("auto-release failed",
				"order_id", hold.OrderID,
				"caregiver_id", hold.CaregiverID,
				"error", err,
			)
			continue
		}
	}

	if len(due) > 0 {
		e.logger.Info("release sweep completed", "released", len(due))
	}
	return nil
}

// releaseHold moves one hold's funds from pending to withdrawable and marks
// the hold released.
func (e *Engine) releaseHold(ctx context.Context, hold *release.Hold, reason ledger.ReleaseReason) (*ledger.Entry, error) {
	entry := &ledger.Entry{
		CaregiverID:   hold.CaregiverID,
		Type:          ledger.TypeFundsReleased,
		Amount:        hold.Amount,
		OrderID:       hold.OrderID,
		ReleaseReason: reason,
		Description:   fmt.Sprintf("funds released for order %s", hold.OrderID),
	}
	if _, err := e.appendEntry(ctx, entry); err != nil {
		return nil, err
	}

	hold.Released = true
	hold.Touch()
	if err := e.store.UpdateHold(ctx, hold); err != nil {
		return nil, err
	}

	e.plugins.EmitFundsReleased(ctx, entry)
	return entry, nil
}
