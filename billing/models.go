// Package billing defines the immutable per-cycle billing record.
package billing

import (
	"time"

	"github.com/xolani/carepay/id"
	"github.com/xolani/carepay/types"
)

// Record is the receipt for one successful charge (initial or renewal).
// One record per charge; never mutated after creation. Corrections require a
// new record or a ledger adjustment.
type Record struct {
	ID             id.BillingRecordID `json:"id"`
	OrderID        string             `json:"order_id,omitempty"`
	ContractID     string             `json:"contract_id,omitempty"`
	SubscriptionID id.SubscriptionID  `json:"subscription_id,omitempty"`
	ClientID       string             `json:"client_id"`
	CaregiverID    string             `json:"caregiver_id"`
	CycleNumber    int                `json:"cycle_number"`

	// Covered period.
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	NextChargeDate time.Time `json:"next_charge_date,omitempty"`

	// Financial breakdown.
	AmountPaid    types.Money `json:"amount_paid"`
	OrderFee      types.Money `json:"order_fee"`
	ServiceCharge types.Money `json:"service_charge"`
	GatewayFees   types.Money `json:"gateway_fees"`

	// GatewayRef ties the record to the gateway transaction that paid it.
	GatewayRef string `json:"gateway_ref"`

	CreatedAt time.Time `json:"created_at"`
}

// Breakdown is the price split for one charge.
type Breakdown struct {
	AmountPaid    types.Money
	OrderFee      types.Money
	ServiceCharge types.Money
	GatewayFees   types.Money
}

// NewRecord builds the receipt for a successful charge. Pure: it only
// assembles the inputs, it never recomputes past records.
func NewRecord(clientID, caregiverID string, cycle int, periodStart, periodEnd, nextCharge time.Time, b Breakdown, gatewayRef string) *Record {
	return &Record{
		ID:             id.NewBillingRecordID(),
		ClientID:       clientID,
		CaregiverID:    caregiverID,
		CycleNumber:    cycle,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		NextChargeDate: nextCharge,
		AmountPaid:     b.AmountPaid,
		OrderFee:       b.OrderFee,
		ServiceCharge:  b.ServiceCharge,
		GatewayFees:    b.GatewayFees,
		GatewayRef:     gatewayRef,
		CreatedAt:      time.Now().UTC(),
	}
}

// ListOpts filters billing record listings. Zero-valued fields are ignored;
// set fields are ANDed together.
type ListOpts struct {
	OrderID        string
	SubscriptionID id.SubscriptionID
	ClientID       string
	CaregiverID    string
	Limit          int
	Offset         int
}
